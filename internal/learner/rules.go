package learner

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/mca-router/internal/model"
	"github.com/sells-group/mca-router/internal/store"
)

// ErrInvalidRule is returned when a manual rule is missing required fields.
var ErrInvalidRule = eris.New("learner: invalid rule")

// RuleStore is the persistence the rule workflow needs.
type RuleStore interface {
	CreateRule(ctx context.Context, rule *model.SuggestedRule) error
	GetRule(ctx context.Context, id string) (*model.SuggestedRule, error)
	ListRules(ctx context.Context, filter store.RuleFilter) ([]model.SuggestedRule, error)
	ApproveRule(ctx context.Context, id string) error
	DeleteRule(ctx context.Context, id string) (bool, error)
}

// Rules is the operator workflow over lender rules.
type Rules struct {
	store RuleStore
}

// NewRules creates the rule workflow.
func NewRules(s RuleStore) *Rules {
	return &Rules{store: s}
}

// Suggested lists AI-suggested rules awaiting review.
func (r *Rules) Suggested(ctx context.Context) ([]model.SuggestedRule, error) {
	inactive := false
	return r.List(ctx, store.RuleFilter{Source: model.RuleSourceAISuggested, Active: &inactive})
}

// List returns rules matching filter.
func (r *Rules) List(ctx context.Context, filter store.RuleFilter) ([]model.SuggestedRule, error) {
	rules, err := r.store.ListRules(ctx, filter)
	if err != nil {
		return nil, eris.Wrap(err, "learner: list rules")
	}
	return rules, nil
}

// Create stores an operator-authored rule. Manual rules are active
// immediately.
func (r *Rules) Create(ctx context.Context, rule model.SuggestedRule) (*model.SuggestedRule, error) {
	rule.LenderName = strings.TrimSpace(rule.LenderName)
	if rule.LenderName == "" {
		return nil, eris.Wrap(ErrInvalidRule, "learner: lender name is required")
	}
	if rule.RuleType == "" {
		return nil, eris.Wrap(ErrInvalidRule, "learner: rule type is required")
	}
	rule.RuleType = model.ParseRuleType(string(rule.RuleType))
	rule.Industry = model.NormalizeIndustry(rule.Industry)
	rule.State = model.NormalizeState(rule.State)
	rule.ID = ""
	rule.Source = model.RuleSourceManual
	rule.IsActive = true
	rule.SourceSubmissionID = nil

	if err := r.store.CreateRule(ctx, &rule); err != nil {
		return nil, eris.Wrap(err, "learner: create rule")
	}
	return &rule, nil
}

// Approve activates a rule. Approving an active rule is a no-op.
func (r *Rules) Approve(ctx context.Context, id string) (*model.SuggestedRule, error) {
	if err := r.store.ApproveRule(ctx, id); err != nil {
		return nil, eris.Wrapf(err, "learner: approve rule %s", id)
	}
	rule, err := r.store.GetRule(ctx, id)
	if err != nil {
		return nil, eris.Wrapf(err, "learner: load rule %s", id)
	}
	zap.L().Info("learner: rule approved", zap.String("rule_id", id), zap.String("lender", rule.LenderName))
	return rule, nil
}

// Reject deletes a rule. Rejecting an unknown id is a no-op and reports
// false.
func (r *Rules) Reject(ctx context.Context, id string) (bool, error) {
	deleted, err := r.store.DeleteRule(ctx, id)
	if err != nil {
		return false, eris.Wrapf(err, "learner: reject rule %s", id)
	}
	return deleted, nil
}
