package submission

import (
	"context"
	"fmt"
	"sync"

	"github.com/sells-group/mca-router/internal/model"
	"github.com/sells-group/mca-router/internal/store"
	"github.com/sells-group/mca-router/pkg/mailer"
)

// memStore is an in-memory Store.
type memStore struct {
	mu          sync.Mutex
	requests    map[string]*model.FundingRequest
	submissions map[string]*model.SubmissionRecord
	lenders     []model.Lender
	createErr   map[string]error
	listCalls   int
	seq         int
}

func newMemStore() *memStore {
	return &memStore{
		requests:    map[string]*model.FundingRequest{},
		submissions: map[string]*model.SubmissionRecord{},
		createErr:   map[string]error{},
	}
}

func (m *memStore) GetRequest(_ context.Context, id string) (*model.FundingRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memStore) CreateSubmission(_ context.Context, rec *model.SubmissionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.createErr[rec.LenderName]; err != nil {
		return err
	}
	m.seq++
	rec.ID = fmt.Sprintf("sub-%d", m.seq)
	cp := *rec
	m.submissions[rec.ID] = &cp
	return nil
}

func (m *memStore) GetSubmission(_ context.Context, id string) (*model.SubmissionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.submissions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *memStore) UpdateSubmissionStatus(_ context.Context, id string, status model.SubmissionStatus, errMsg *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.submissions[id]
	if !ok {
		return store.ErrNotFound
	}
	if !rec.Status.CanTransition(status) {
		return store.ErrInvalidTransition
	}
	rec.Status = status
	rec.ErrorMessage = errMsg
	return nil
}

func (m *memStore) ListLenders(_ context.Context) ([]model.Lender, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	return append([]model.Lender(nil), m.lenders...), nil
}

func (m *memStore) byLender(name string) *model.SubmissionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.submissions {
		if rec.LenderName == name {
			cp := *rec
			return &cp
		}
	}
	return nil
}

// fixedRanker returns predictions in a preset order.
type fixedRanker struct {
	order []string
	err   error
}

func (r fixedRanker) PredictAll(_ context.Context, lenders []string, _ model.DealCriteria) ([]model.Prediction, error) {
	if r.err != nil {
		return nil, r.err
	}
	out := make([]model.Prediction, 0, len(lenders))
	for i, name := range r.order {
		rate := 90 - i*10
		out = append(out, model.Prediction{Lender: name, SuccessRate: &rate, Confidence: model.ConfidenceLow})
	}
	return out, nil
}

// memDocs serves documents from a map.
type memDocs struct {
	mu    sync.Mutex
	docs  map[string]model.Document
	calls [][]string
	err   error
}

func (d *memDocs) FetchAll(_ context.Context, ids []string) ([]model.Document, []string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, ids)
	if d.err != nil {
		return nil, nil, d.err
	}
	var found []model.Document
	var missing []string
	for _, id := range ids {
		if doc, ok := d.docs[id]; ok {
			found = append(found, doc)
		} else {
			missing = append(missing, id)
		}
	}
	return found, missing, nil
}

// recordingTransport records messages and fails for listed recipients.
type recordingTransport struct {
	mu     sync.Mutex
	sent   []mailer.Message
	failTo map[string]error
}

func (t *recordingTransport) Send(_ context.Context, msg mailer.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.failTo[msg.To[0]]; err != nil {
		return err
	}
	t.sent = append(t.sent, msg)
	return nil
}

func (t *recordingTransport) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sent)
}

// stateRecorder records state updates.
type stateRecorder struct {
	mu     sync.Mutex
	states map[string][]model.RequestState
	err    error
}

func (s *stateRecorder) UpdateState(_ context.Context, requestID string, state model.RequestState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.states == nil {
		s.states = map[string][]model.RequestState{}
	}
	s.states[requestID] = append(s.states[requestID], state)
	return s.err
}

// cancellingTransport accepts every message and then cancels the caller.
type cancellingTransport struct {
	cancel context.CancelFunc
}

func (t cancellingTransport) Send(context.Context, mailer.Message) error {
	t.cancel()
	return nil
}

// inspectingTransport records the stored status of each recipient's
// submission at the moment the message is handed off.
type inspectingTransport struct {
	store *store.SQLiteStore
	mu    sync.Mutex
	seen  map[string]model.SubmissionStatus
}

func (t *inspectingTransport) Send(ctx context.Context, msg mailer.Message) error {
	recs, err := t.store.ListSubmissions(ctx, store.SubmissionFilter{RequestID: "req-1"})
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.seen == nil {
		t.seen = map[string]model.SubmissionStatus{}
	}
	for _, rec := range recs {
		if rec.LenderEmail == msg.To[0] {
			t.seen[rec.LenderEmail] = rec.Status
		}
	}
	return nil
}
