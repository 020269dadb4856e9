package model

import "time"

// Lender is a capital provider in the lender directory.
type Lender struct {
	ID        string    `json:"id" yaml:"id"`
	Name      string    `json:"name" yaml:"name"`
	Email     string    `json:"email" yaml:"email"`
	CC        []string  `json:"cc,omitempty" yaml:"cc"`
	CreatedAt time.Time `json:"created_at" yaml:"-"`
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// Document is an attachment resolved from the document store.
type Document struct {
	ID          string `json:"id"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"-"`
}

// ConfidenceTier grades how much history backs a prediction.
type ConfidenceTier string

const (
	ConfidenceNone   ConfidenceTier = "none"
	ConfidenceLow    ConfidenceTier = "low"
	ConfidenceMedium ConfidenceTier = "medium"
	ConfidenceHigh   ConfidenceTier = "high"
)

// Prediction is the predicted acceptance likelihood for one lender.
// SuccessRate is nil when there is not enough history to score.
type Prediction struct {
	Lender      string         `json:"lender"`
	SuccessRate *int           `json:"success_rate"`
	Confidence  ConfidenceTier `json:"confidence"`
	DataPoints  int            `json:"data_points"`
	Factors     []string       `json:"factors"`
	Reason      string         `json:"reason,omitempty"`
}
