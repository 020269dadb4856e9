// Package predictor ranks lenders by predicted acceptance likelihood using
// aggregated historical outcomes.
package predictor

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/mca-router/internal/matcher"
	"github.com/sells-group/mca-router/internal/model"
)

// ErrMissingLender is returned when a prediction is requested without a lender name.
var ErrMissingLender = eris.New("predictor: lender name is required")

// NoDataReason is attached to predictions that could not be scored.
const NoDataReason = "Not enough historical data"

const (
	// DefaultMinSamples is the minimum profile total needed to score.
	DefaultMinSamples = 3
	// minBucketSamples is the minimum industry/state bucket size to blend.
	minBucketSamples = 2

	matchBonus       = 0.05
	declinedPenalty  = 0.10
	mediumConfidence = 10
	highConfidence   = 25
)

// ProfileSource provides the current profile map.
type ProfileSource interface {
	Get(ctx context.Context) (Profiles, error)
}

// Predictor scores lenders against a deal.
type Predictor struct {
	profiles   ProfileSource
	minSamples int
}

// New creates a Predictor. A non-positive minSamples uses DefaultMinSamples.
func New(profiles ProfileSource, minSamples int) *Predictor {
	if minSamples <= 0 {
		minSamples = DefaultMinSamples
	}
	return &Predictor{profiles: profiles, minSamples: minSamples}
}

// Predict scores a single lender.
func (p *Predictor) Predict(ctx context.Context, lenderName string, criteria model.DealCriteria) (*model.Prediction, error) {
	if strings.TrimSpace(lenderName) == "" {
		return nil, ErrMissingLender
	}
	profiles, err := p.profiles.Get(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "predictor: get profiles")
	}
	pred := p.score(profiles, lenderName, criteria)
	return &pred, nil
}

// PredictAll scores every lender and sorts descending by success rate.
// Unscored lenders sort below every scored one; ties keep input order.
func (p *Predictor) PredictAll(ctx context.Context, lenders []string, criteria model.DealCriteria) ([]model.Prediction, error) {
	profiles, err := p.profiles.Get(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "predictor: get profiles")
	}

	out := make([]model.Prediction, len(lenders))
	for i, name := range lenders {
		if strings.TrimSpace(name) == "" {
			zap.L().Warn("predictor: skipping unnamed lender", zap.Int("index", i))
			out[i] = noData(name, 0)
			continue
		}
		out[i] = p.score(profiles, name, criteria)
	}

	SortPredictions(out)
	return out, nil
}

// SortPredictions stable-sorts predictions descending by success rate with
// nil rates last.
func SortPredictions(preds []model.Prediction) {
	sort.SliceStable(preds, func(i, j int) bool {
		a, b := preds[i].SuccessRate, preds[j].SuccessRate
		if a == nil {
			return false
		}
		if b == nil {
			return true
		}
		return *a > *b
	})
}

func noData(lender string, dataPoints int) model.Prediction {
	return model.Prediction{
		Lender:     lender,
		Confidence: model.ConfidenceNone,
		DataPoints: dataPoints,
		Factors:    []string{},
		Reason:     NoDataReason,
	}
}

// ConfidenceFor grades confidence from the number of historical outcomes.
func ConfidenceFor(total int) model.ConfidenceTier {
	switch {
	case total >= highConfidence:
		return model.ConfidenceHigh
	case total >= mediumConfidence:
		return model.ConfidenceMedium
	default:
		return model.ConfidenceLow
	}
}

func (p *Predictor) score(profiles Profiles, lenderName string, c model.DealCriteria) model.Prediction {
	key, ok := matcher.Find(profiles.Keys(), lenderName)
	if !ok {
		return noData(lenderName, 0)
	}
	prof := profiles[key]
	if prof.Total < p.minSamples {
		return noData(lenderName, prof.Total)
	}

	score := float64(prof.Approved) / float64(prof.Total)
	factors := []string{fmt.Sprintf("Overall approval rate: %.0f%% (%d/%d)", score*100, prof.Approved, prof.Total)}

	if ind := model.NormalizeIndustry(&c.Industry); ind != nil {
		if b, ok := prof.Industries[*ind]; ok && b.Total >= minBucketSamples {
			score = (score + b.Rate()) / 2
			factors = append(factors, fmt.Sprintf("Industry %s approval rate: %.0f%% (%d/%d)", *ind, b.Rate()*100, b.Approved, b.Total))
		}
	}
	if st := model.NormalizeState(&c.State); st != nil {
		if b, ok := prof.States[*st]; ok && b.Total >= minBucketSamples {
			score = (score + b.Rate()) / 2
			factors = append(factors, fmt.Sprintf("State %s approval rate: %.0f%% (%d/%d)", *st, b.Rate()*100, b.Approved, b.Total))
		}
	}

	adjustments := []struct {
		label         string
		value         *float64
		approved      *float64
		declined      *float64
		lowerIsBetter bool
	}{
		{"Revenue", c.MonthlyRevenue, prof.ApprovedMean.Revenue, prof.DeclinedMean.Revenue, false},
		{"FICO", c.FICO, prof.ApprovedMean.FICO, prof.DeclinedMean.FICO, false},
		{"Time in business", c.TimeInBusiness, prof.ApprovedMean.TimeInBusiness, prof.DeclinedMean.TimeInBusiness, false},
		{"Daily withhold", c.DailyWithhold, prof.ApprovedMean.DailyWithhold, prof.DeclinedMean.DailyWithhold, true},
		{"Existing positions", c.ExistingPositions, prof.ApprovedMean.Positions, prof.DeclinedMean.Positions, true},
	}
	for _, a := range adjustments {
		delta, factor := adjust(a.label, a.value, a.approved, a.declined, a.lowerIsBetter)
		if factor != "" {
			score += delta
			factors = append(factors, factor)
		}
	}

	score = math.Max(0, math.Min(1, score))
	rate := int(math.Round(score * 100))

	return model.Prediction{
		Lender:      lenderName,
		SuccessRate: &rate,
		Confidence:  ConfidenceFor(prof.Total),
		DataPoints:  prof.Total,
		Factors:     factors,
	}
}

// adjust applies at most one of the bonus or penalty for a covariate. The
// bonus fires when the value is at least as good as the approved mean; the
// penalty when it is at least as bad as the declined mean.
func adjust(label string, value, approvedMean, declinedMean *float64, lowerIsBetter bool) (float64, string) {
	if value == nil {
		return 0, ""
	}
	v := *value
	atLeastAsGood := func(ref float64) bool {
		if lowerIsBetter {
			return v <= ref
		}
		return v >= ref
	}

	if approvedMean != nil && atLeastAsGood(*approvedMean) {
		return matchBonus, fmt.Sprintf("%s %.0f meets approved average %.0f (+5)", label, v, *approvedMean)
	}
	if declinedMean != nil {
		worse := v <= *declinedMean
		if lowerIsBetter {
			worse = v >= *declinedMean
		}
		if worse {
			return -declinedPenalty, fmt.Sprintf("%s %.0f at or beyond declined average %.0f (-10)", label, v, *declinedMean)
		}
	}
	return 0, ""
}
