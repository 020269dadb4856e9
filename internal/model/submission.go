package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// SubmissionStatus is the delivery/outcome state of a submission to one lender.
type SubmissionStatus string

const (
	SubmissionPending  SubmissionStatus = "PENDING"
	SubmissionSent     SubmissionStatus = "SENT"
	SubmissionFailed   SubmissionStatus = "FAILED"
	SubmissionOffer    SubmissionStatus = "OFFER"
	SubmissionDeclined SubmissionStatus = "DECLINED"
	SubmissionFunded   SubmissionStatus = "FUNDED"
)

// AllSubmissionStatuses returns every known status in rank order.
func AllSubmissionStatuses() []SubmissionStatus {
	return []SubmissionStatus{
		SubmissionPending,
		SubmissionFailed,
		SubmissionSent,
		SubmissionOffer,
		SubmissionDeclined,
		SubmissionFunded,
	}
}

// statusRank orders statuses along the submission lifecycle. OFFER and
// DECLINED share a rank: one terminal answer never replaces the other.
var statusRank = map[SubmissionStatus]int{
	SubmissionPending:  0,
	SubmissionFailed:   1,
	SubmissionSent:     2,
	SubmissionOffer:    3,
	SubmissionDeclined: 3,
	SubmissionFunded:   4,
}

// Valid reports whether s is a known status.
func (s SubmissionStatus) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// CanTransition reports whether a record in status s may move to next.
// Transitions only move forward; re-recording the same status is allowed.
func (s SubmissionStatus) CanTransition(next SubmissionStatus) bool {
	from, ok := statusRank[s]
	if !ok {
		return false
	}
	to, ok := statusRank[next]
	if !ok {
		return false
	}
	return s == next || to > from
}

// TransitionSources returns every status that may legally move to next.
func TransitionSources(next SubmissionStatus) []SubmissionStatus {
	var out []SubmissionStatus
	for _, s := range AllSubmissionStatuses() {
		if s.CanTransition(next) {
			out = append(out, s)
		}
	}
	return out
}

// IsApproved reports whether the status counts as an approval for profiling.
func (s SubmissionStatus) IsApproved() bool {
	return s == SubmissionOffer || s == SubmissionFunded
}

// IsDeclined reports whether the status counts as a decline.
func (s SubmissionStatus) IsDeclined() bool {
	return s == SubmissionDeclined
}

// OutcomeStatuses is the terminal set used to build lender profiles.
func OutcomeStatuses() []SubmissionStatus {
	return []SubmissionStatus{SubmissionOffer, SubmissionFunded, SubmissionDeclined}
}

// OfferTerms are the funding terms a lender returned with an offer.
type OfferTerms struct {
	Amount   decimal.Decimal `json:"amount"`
	Factor   decimal.Decimal `json:"factor"`
	TermDays int             `json:"term_days"`
}

// SubmissionRecord is one delivery of a funding request to one lender.
type SubmissionRecord struct {
	ID            string           `json:"id"`
	RequestID     string           `json:"request_id"`
	LenderName    string           `json:"lender_name"`
	LenderEmail   string           `json:"lender_email"`
	Status        SubmissionStatus `json:"status"`
	DeclineReason *string          `json:"decline_reason,omitempty"`
	RawResponse   *string          `json:"raw_response,omitempty"`
	Offer         *OfferTerms      `json:"offer,omitempty"`
	Deal          DealCriteria     `json:"deal"`
	DocumentIDs   []string         `json:"document_ids,omitempty"`
	ErrorMessage  *string          `json:"error_message,omitempty"`
	RuleAnalyzed  bool             `json:"rule_analyzed"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
	SentAt        *time.Time       `json:"sent_at,omitempty"`
}

// LenderResponse is an observed lender reply recorded against a submission.
type LenderResponse struct {
	Status        SubmissionStatus `json:"status"`
	DeclineReason *string          `json:"decline_reason,omitempty"`
	RawResponse   *string          `json:"raw_response,omitempty"`
	Offer         *OfferTerms      `json:"offer,omitempty"`
}
