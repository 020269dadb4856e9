package learner

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/mca-router/internal/model"
	"github.com/sells-group/mca-router/internal/store"
	"github.com/sells-group/mca-router/pkg/anthropic"
)

// mockAnthropicClient implements anthropic.Client for testing.
type mockAnthropicClient struct {
	mock.Mock
}

func (m *mockAnthropicClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.MessageResponse), args.Error(1)
}

func textResponse(text string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{Content: []anthropic.ContentBlock{{Type: "text", Text: text}}}
}

// scriptedClassifier returns a fixed classification per lender and records
// each request.
type scriptedClassifier struct {
	mu       sync.Mutex
	byLender map[string]Classification
	requests []ClassifyRequest
}

func (s *scriptedClassifier) Classify(_ context.Context, req ClassifyRequest) Classification {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if c, ok := s.byLender[req.Lender]; ok {
		return c
	}
	return Classification{Kind: ClassificationSuccess, Suggestion: Suggestion{ShouldCreateRule: false}}
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "learner.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func strPtr(s string) *string { return &s }

func createDecline(t *testing.T, st *store.SQLiteStore, lender, reason string) *model.SubmissionRecord {
	t.Helper()
	rec := &model.SubmissionRecord{
		RequestID:     "req-1",
		LenderName:    lender,
		LenderEmail:   "deals@lender.test",
		Status:        model.SubmissionDeclined,
		DeclineReason: strPtr(reason),
		RawResponse:   strPtr("Thanks for the submission. " + reason),
		Deal: model.DealCriteria{
			Industry:       "Trucking",
			State:          "NY",
			MonthlyRevenue: model.Float(38000),
			FICO:           model.Float(590),
		},
	}
	require.NoError(t, st.CreateSubmission(context.Background(), rec))
	return rec
}

func industryBlock(confidence float64) Classification {
	return Classification{Kind: ClassificationSuccess, Suggestion: Suggestion{
		ShouldCreateRule: true,
		RuleType:         "industry_block",
		Industry:         strPtr(" Trucking "),
		Explanation:      "Lender does not fund trucking.",
		Confidence:       confidence,
	}}
}

// markFailingStore fails MarkRuleAnalyzed and delegates everything else.
type markFailingStore struct {
	*store.SQLiteStore
	err error
}

func (s markFailingStore) MarkRuleAnalyzed(context.Context, string) error {
	return s.err
}

// cancellingClassifier cancels the run while classifying.
type cancellingClassifier struct {
	cancel context.CancelFunc
	result Classification
}

func (c cancellingClassifier) Classify(context.Context, ClassifyRequest) Classification {
	c.cancel()
	return c.result
}
