package store

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/sells-group/mca-router/internal/model"
)

var (
	// ErrNotFound is returned when a row addressed by id does not exist.
	ErrNotFound = eris.New("store: not found")
	// ErrInvalidTransition is returned when a status update would move a
	// submission backwards.
	ErrInvalidTransition = eris.New("store: invalid status transition")
)

// SubmissionFilter specifies criteria for listing submissions.
type SubmissionFilter struct {
	RequestID  string                   `json:"request_id,omitempty"`
	LenderName string                   `json:"lender_name,omitempty"`
	Statuses   []model.SubmissionStatus `json:"statuses,omitempty"`
	Unanalyzed bool                     `json:"unanalyzed,omitempty"`
	Limit      int                      `json:"limit,omitempty"`
}

// RuleFilter specifies criteria for listing rules.
type RuleFilter struct {
	LenderName string           `json:"lender_name,omitempty"`
	RuleType   model.RuleType   `json:"rule_type,omitempty"`
	Source     model.RuleSource `json:"source,omitempty"`
	Active     *bool            `json:"active,omitempty"`
}

// Store defines the persistence interface for submissions, funding
// requests, the lender directory and lender rules.
type Store interface {
	// Submissions
	CreateSubmission(ctx context.Context, rec *model.SubmissionRecord) error
	GetSubmission(ctx context.Context, id string) (*model.SubmissionRecord, error)
	ListSubmissions(ctx context.Context, filter SubmissionFilter) ([]model.SubmissionRecord, error)
	UpdateSubmissionStatus(ctx context.Context, id string, status model.SubmissionStatus, errMsg *string) error
	RecordResponse(ctx context.Context, id string, resp model.LenderResponse) error
	ListOutcomes(ctx context.Context) ([]model.SubmissionRecord, error)
	ListUnanalyzedDeclines(ctx context.Context, limit int) ([]model.SubmissionRecord, error)
	MarkRuleAnalyzed(ctx context.Context, id string) error

	// Funding requests
	UpsertRequest(ctx context.Context, req *model.FundingRequest) error
	GetRequest(ctx context.Context, id string) (*model.FundingRequest, error)
	UpdateRequestState(ctx context.Context, id string, state model.RequestState) error

	// Lender directory
	UpsertLenders(ctx context.Context, lenders []model.Lender) (int64, error)
	ListLenders(ctx context.Context) ([]model.Lender, error)

	// Rules
	CreateRule(ctx context.Context, rule *model.SuggestedRule) error
	GetRule(ctx context.Context, id string) (*model.SuggestedRule, error)
	ListRules(ctx context.Context, filter RuleFilter) ([]model.SuggestedRule, error)
	ApproveRule(ctx context.Context, id string) error
	DeleteRule(ctx context.Context, id string) (bool, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

func outcomeFilter() SubmissionFilter {
	return SubmissionFilter{Statuses: model.OutcomeStatuses()}
}

func unanalyzedDeclineFilter(limit int) SubmissionFilter {
	return SubmissionFilter{
		Statuses:   []model.SubmissionStatus{model.SubmissionDeclined},
		Unanalyzed: true,
		Limit:      limit,
	}
}

func validateResponse(resp model.LenderResponse) error {
	switch resp.Status {
	case model.SubmissionOffer, model.SubmissionDeclined, model.SubmissionFunded:
		return nil
	default:
		return eris.Errorf("store: %s is not a lender response status", resp.Status)
	}
}

func statusArgs(statuses []model.SubmissionStatus) []any {
	out := make([]any, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func marshalJSON(v any, what string) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, eris.Wrapf(err, "store: marshal %s", what)
	}
	return b, nil
}

func unmarshalJSON(data []byte, v any, what string) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return eris.Wrapf(err, "store: unmarshal %s", what)
	}
	return nil
}

func marshalOffer(offer *model.OfferTerms) (*string, error) {
	if offer == nil {
		return nil, nil
	}
	b, err := marshalJSON(offer, "offer")
	if err != nil {
		return nil, err
	}
	s := string(b)
	return &s, nil
}

func unmarshalOffer(data *string) (*model.OfferTerms, error) {
	if data == nil {
		return nil, nil
	}
	var offer model.OfferTerms
	if err := unmarshalJSON([]byte(*data), &offer, "offer"); err != nil {
		return nil, err
	}
	return &offer, nil
}
