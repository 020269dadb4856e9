package model

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// DealCriteria holds the request covariates used for scoring and rule
// learning. Nil numeric fields mean the value is unknown.
type DealCriteria struct {
	Industry          string   `json:"industry,omitempty" yaml:"industry"`
	State             string   `json:"state,omitempty" yaml:"state"`
	MonthlyRevenue    *float64 `json:"monthly_revenue,omitempty" yaml:"monthly_revenue"`
	FICO              *float64 `json:"fico,omitempty" yaml:"fico"`
	TimeInBusiness    *float64 `json:"time_in_business_months,omitempty" yaml:"time_in_business_months"`
	DailyWithhold     *float64 `json:"daily_withhold,omitempty" yaml:"daily_withhold"`
	ExistingPositions *float64 `json:"existing_positions,omitempty" yaml:"existing_positions"`
}

// RequestState is the milestone of a funding request in the deal pipeline.
type RequestState string

const (
	RequestStateNew       RequestState = "NEW"
	RequestStateSubmitted RequestState = "SUBMITTED"
	RequestStateOffered   RequestState = "OFFERED"
	RequestStateFunded    RequestState = "FUNDED"
)

// FundingRequest is the deal being shopped to lenders.
type FundingRequest struct {
	ID                string       `json:"id"`
	BusinessName      string       `json:"business_name"`
	ExternalID        string       `json:"external_id,omitempty"`
	BusinessStartDate string       `json:"business_start_date,omitempty"`
	Criteria          DealCriteria `json:"criteria"`
	State             RequestState `json:"state"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

const startDateLayout = "2006-01-02"

// MonthsInBusiness derives whole months between the business start date and
// now. Empty, unparseable, or future dates are errors.
func MonthsInBusiness(startDate string, now time.Time) (float64, error) {
	startDate = strings.TrimSpace(startDate)
	if startDate == "" {
		return 0, eris.New("model: empty business start date")
	}
	start, err := time.Parse(startDateLayout, startDate)
	if err != nil {
		return 0, eris.Wrapf(err, "model: parse business start date %q", startDate)
	}
	if start.After(now) {
		return 0, eris.Errorf("model: business start date %s is in the future", startDate)
	}
	months := (now.Year()-start.Year())*12 + int(now.Month()) - int(start.Month())
	if now.Day() < start.Day() {
		months--
	}
	if months < 0 {
		months = 0
	}
	return float64(months), nil
}

// Float returns a pointer to v. Handy for building criteria literals.
func Float(v float64) *float64 {
	return &v
}
