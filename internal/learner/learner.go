// Package learner turns observed lender declines into suggested eligibility
// rules and manages their approval.
package learner

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/mca-router/internal/matcher"
	"github.com/sells-group/mca-router/internal/model"
	"github.com/sells-group/mca-router/internal/store"
)

// ErrNotDeclined is returned when a single-record analysis targets a
// submission that is not DECLINED.
var ErrNotDeclined = eris.New("learner: submission is not declined")

// Outcome is the terminal state of analyzing one decline.
type Outcome string

const (
	OutcomeRuleCreated    Outcome = "RULE_CREATED"
	OutcomeNoRule         Outcome = "NO_RULE"
	OutcomeAnalysisFailed Outcome = "ANALYSIS_FAILED"
)

const (
	// DefaultBatchSize is the number of declines analyzed per run.
	DefaultBatchSize = 10
	// DefaultMinConfidence gates rule creation.
	DefaultMinConfidence = 0.7
	// DefaultExcerptChars bounds the response excerpt sent to the classifier.
	DefaultExcerptChars = 1500
)

// Store is the persistence the learner needs.
type Store interface {
	ListUnanalyzedDeclines(ctx context.Context, limit int) ([]model.SubmissionRecord, error)
	GetSubmission(ctx context.Context, id string) (*model.SubmissionRecord, error)
	MarkRuleAnalyzed(ctx context.Context, id string) error
	ListRules(ctx context.Context, filter store.RuleFilter) ([]model.SuggestedRule, error)
	CreateRule(ctx context.Context, rule *model.SuggestedRule) error
}

// Config tunes a Learner. Zero values use the defaults.
type Config struct {
	BatchSize     int
	MinConfidence float64
	ExcerptChars  int
}

// RecordResult is the analysis outcome for one submission.
type RecordResult struct {
	SubmissionID string  `json:"submission_id"`
	Lender       string  `json:"lender"`
	Outcome      Outcome `json:"outcome"`
	RuleID       string  `json:"rule_id,omitempty"`
	Reason       string  `json:"reason,omitempty"`
	// MarkError is set when the record could not be marked analyzed and
	// will be picked up again by the next run.
	MarkError string `json:"mark_error,omitempty"`
}

// BatchReport summarizes one analysis run.
type BatchReport struct {
	Analyzed     int            `json:"analyzed"`
	RulesCreated int            `json:"rules_created"`
	NoRule       int            `json:"no_rule"`
	Failed       int            `json:"failed"`
	MarkFailed   int            `json:"mark_failed"`
	Results      []RecordResult `json:"results"`
}

func (r *BatchReport) add(res RecordResult) {
	r.Analyzed++
	switch res.Outcome {
	case OutcomeRuleCreated:
		r.RulesCreated++
	case OutcomeNoRule:
		r.NoRule++
	case OutcomeAnalysisFailed:
		r.Failed++
	}
	if res.MarkError != "" {
		r.MarkFailed++
	}
	r.Results = append(r.Results, res)
}

// Learner analyzes declines. Runs are serialized so concurrent scans cannot
// both pass the duplicate check for the same rule.
type Learner struct {
	store      Store
	classifier Classifier
	cfg        Config
	mu         sync.Mutex
}

// New creates a Learner.
func New(s Store, classifier Classifier, cfg Config) *Learner {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = DefaultMinConfidence
	}
	if cfg.ExcerptChars <= 0 {
		cfg.ExcerptChars = DefaultExcerptChars
	}
	return &Learner{store: s, classifier: classifier, cfg: cfg}
}

// AnalyzeDeclines analyzes the oldest unanalyzed declines, up to the batch
// size. Only the initial listing can fail the run.
func (l *Learner) AnalyzeDeclines(ctx context.Context) (*BatchReport, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	recs, err := l.store.ListUnanalyzedDeclines(ctx, l.cfg.BatchSize)
	if err != nil {
		return nil, eris.Wrap(err, "learner: list unanalyzed declines")
	}

	report := &BatchReport{Results: []RecordResult{}}
	for i := range recs {
		if ctx.Err() != nil {
			break
		}
		report.add(l.analyze(ctx, &recs[i]))
	}

	if report.Analyzed > 0 {
		zap.L().Info("learner: decline analysis complete",
			zap.Int("analyzed", report.Analyzed),
			zap.Int("rules_created", report.RulesCreated),
			zap.Int("no_rule", report.NoRule),
			zap.Int("failed", report.Failed),
			zap.Int("mark_failed", report.MarkFailed),
		)
	}
	return report, nil
}

// AnalyzeDeclineByID analyzes one DECLINED submission, even if it was
// analyzed before.
func (l *Learner) AnalyzeDeclineByID(ctx context.Context, id string) (*RecordResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, err := l.store.GetSubmission(ctx, id)
	if err != nil {
		return nil, eris.Wrapf(err, "learner: load submission %s", id)
	}
	if rec.Status != model.SubmissionDeclined {
		return nil, eris.Wrapf(ErrNotDeclined, "learner: submission %s is %s", id, rec.Status)
	}
	res := l.analyze(ctx, rec)
	return &res, nil
}

// analyze runs one record through classify, gate and dedup. The record is
// marked analyzed whatever the outcome.
func (l *Learner) analyze(ctx context.Context, rec *model.SubmissionRecord) RecordResult {
	log := zap.L().With(zap.String("submission_id", rec.ID), zap.String("lender", rec.LenderName))

	res := l.evaluate(ctx, rec)
	res.SubmissionID = rec.ID
	res.Lender = rec.LenderName

	// A rule may already exist for this record, so the mark is written even
	// if ctx was cancelled during classification.
	if err := l.store.MarkRuleAnalyzed(context.WithoutCancel(ctx), rec.ID); err != nil {
		log.Error("learner: mark analyzed failed", zap.Error(err))
		res.MarkError = eris.Wrap(err, "learner: mark analyzed").Error()
	}

	switch res.Outcome {
	case OutcomeAnalysisFailed:
		log.Warn("learner: analysis failed", zap.String("reason", res.Reason))
	case OutcomeRuleCreated:
		log.Info("learner: rule suggested", zap.String("rule_id", res.RuleID))
	default:
		log.Debug("learner: no rule", zap.String("reason", res.Reason))
	}
	return res
}

func (l *Learner) evaluate(ctx context.Context, rec *model.SubmissionRecord) RecordResult {
	c := l.classifier.Classify(ctx, ClassifyRequest{
		Lender:        rec.LenderName,
		DeclineReason: deref(rec.DeclineReason),
		Excerpt:       excerpt(deref(rec.RawResponse), l.cfg.ExcerptChars),
		Deal:          rec.Deal,
	})
	if c.Kind != ClassificationSuccess {
		reason := c.Kind.String()
		if c.Err != nil {
			reason += ": " + c.Err.Error()
		}
		return RecordResult{Outcome: OutcomeAnalysisFailed, Reason: reason}
	}

	s := c.Suggestion
	if !s.ShouldCreateRule {
		return RecordResult{Outcome: OutcomeNoRule, Reason: "no rule suggested"}
	}
	if s.Confidence < l.cfg.MinConfidence {
		return RecordResult{Outcome: OutcomeNoRule, Reason: "below confidence threshold"}
	}

	conf := s.Confidence
	srcID := rec.ID
	rule := &model.SuggestedRule{
		LenderName:         rec.LenderName,
		RuleType:           model.ParseRuleType(s.RuleType),
		Industry:           model.NormalizeIndustry(s.Industry),
		State:              model.NormalizeState(s.State),
		ConditionField:     s.ConditionField,
		ConditionOperator:  s.ConditionOperator,
		ConditionValue:     s.ConditionValue,
		Explanation:        s.Explanation,
		Source:             model.RuleSourceAISuggested,
		IsActive:           false,
		Confidence:         &conf,
		SourceSubmissionID: &srcID,
	}

	dup, err := l.isDuplicate(ctx, rule)
	if err != nil {
		return RecordResult{Outcome: OutcomeAnalysisFailed, Reason: err.Error()}
	}
	if dup {
		return RecordResult{Outcome: OutcomeNoRule, Reason: "duplicate"}
	}

	if err := l.store.CreateRule(ctx, rule); err != nil {
		return RecordResult{Outcome: OutcomeAnalysisFailed, Reason: eris.Wrap(err, "learner: create rule").Error()}
	}
	return RecordResult{Outcome: OutcomeRuleCreated, RuleID: rule.ID}
}

// isDuplicate reports whether a rule with the same type, lender and scope
// already exists, whatever its source or state.
func (l *Learner) isDuplicate(ctx context.Context, rule *model.SuggestedRule) (bool, error) {
	existing, err := l.store.ListRules(ctx, store.RuleFilter{RuleType: rule.RuleType})
	if err != nil {
		return false, eris.Wrap(err, "learner: list rules")
	}
	for _, r := range existing {
		if !matcher.Match(r.LenderName, rule.LenderName) {
			continue
		}
		if model.SameScope(model.NormalizeIndustry(r.Industry), rule.Industry) &&
			model.SameScope(model.NormalizeState(r.State), rule.State) {
			return true, nil
		}
	}
	return false, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// excerpt truncates s to at most n runes.
func excerpt(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
