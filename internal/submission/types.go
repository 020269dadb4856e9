package submission

import "github.com/sells-group/mca-router/internal/model"

// Candidate is a lender selected for a batch. Email is optional; a missing
// or invalid address is resolved from the lender directory.
type Candidate struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// Message is the content sent to every lender in a batch.
type Message struct {
	Subject string `json:"subject"`
	HTML    string `json:"html,omitempty"`
	Text    string `json:"text,omitempty"`
}

// BatchRequest describes one fan-out of a funding request.
type BatchRequest struct {
	RequestID   string      `json:"request_id"`
	Lenders     []Candidate `json:"lenders"`
	DocumentIDs []string    `json:"document_ids,omitempty"`
	Message     Message     `json:"message"`
}

// LenderResult is the outcome of delivering to one lender. Error is empty on
// success.
type LenderResult struct {
	Lender           string            `json:"lender"`
	Email            string            `json:"email,omitempty"`
	SubmissionID     string            `json:"submission_id,omitempty"`
	Prediction       *model.Prediction `json:"prediction,omitempty"`
	MissingDocuments []string          `json:"missing_documents,omitempty"`
	Error            string            `json:"error,omitempty"`
}

// BatchResult summarizes a batch. Successful and Failed are in ranked order.
type BatchResult struct {
	RequestID        string         `json:"request_id"`
	Successful       []LenderResult `json:"successful"`
	Failed           []LenderResult `json:"failed"`
	Total            int            `json:"total"`
	MissingDocuments []string       `json:"missing_documents,omitempty"`
	StateError       string         `json:"state_error,omitempty"`
}

type rankedCandidate struct {
	Candidate
	Prediction *model.Prediction
}
