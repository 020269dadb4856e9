package predictor

import (
	"context"
	"sync"

	"github.com/sells-group/mca-router/internal/model"
)

// staticProfiles implements ProfileSource with a fixed map.
type staticProfiles struct {
	profiles Profiles
	err      error
}

func (s staticProfiles) Get(_ context.Context) (Profiles, error) {
	return s.profiles, s.err
}

// mockOutcomes implements OutcomeSource for testing.
type mockOutcomes struct {
	mu      sync.Mutex
	records []model.SubmissionRecord
	err     error
	calls   int
}

func (m *mockOutcomes) ListOutcomes(_ context.Context) ([]model.SubmissionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return append([]model.SubmissionRecord(nil), m.records...), nil
}

func (m *mockOutcomes) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func outcome(lender string, status model.SubmissionStatus, deal model.DealCriteria) model.SubmissionRecord {
	return model.SubmissionRecord{LenderName: lender, Status: status, Deal: deal}
}
