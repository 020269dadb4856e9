package model

import (
	"strings"
	"time"
)

// RuleType classifies what a lender eligibility rule restricts.
type RuleType string

const (
	RuleIndustryBlock       RuleType = "industry_block"
	RuleStateBlock          RuleType = "state_block"
	RuleMinimumRequirement  RuleType = "minimum_requirement"
	RulePositionRestriction RuleType = "position_restriction"
	RuleOther               RuleType = "other"
)

// ParseRuleType maps free text to a known rule type, falling back to other.
func ParseRuleType(s string) RuleType {
	switch rt := RuleType(strings.ToLower(strings.TrimSpace(s))); rt {
	case RuleIndustryBlock, RuleStateBlock, RuleMinimumRequirement, RulePositionRestriction:
		return rt
	default:
		return RuleOther
	}
}

// RuleSource records who authored a rule.
type RuleSource string

const (
	RuleSourceManual      RuleSource = "manual"
	RuleSourceAISuggested RuleSource = "ai_suggested"
	RuleSourceAIApplied   RuleSource = "ai_applied"
)

// SuggestedRule is a lender eligibility rule. AI-suggested rules stay
// inactive until an operator approves them.
type SuggestedRule struct {
	ID                 string     `json:"id"`
	LenderName         string     `json:"lender_name"`
	RuleType           RuleType   `json:"rule_type"`
	Industry           *string    `json:"industry,omitempty"`
	State              *string    `json:"state,omitempty"`
	ConditionField     *string    `json:"condition_field,omitempty"`
	ConditionOperator  *string    `json:"condition_operator,omitempty"`
	ConditionValue     *string    `json:"condition_value,omitempty"`
	Explanation        string     `json:"explanation"`
	Source             RuleSource `json:"source"`
	IsActive           bool       `json:"is_active"`
	Confidence         *float64   `json:"confidence,omitempty"`
	SourceSubmissionID *string    `json:"source_submission_id,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// NormalizeIndustry trims and lowercases an optional industry scope.
// Blank values collapse to nil.
func NormalizeIndustry(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.ToLower(strings.TrimSpace(*s))
	if v == "" {
		return nil
	}
	return &v
}

// NormalizeState trims and uppercases an optional state scope.
// Blank values collapse to nil.
func NormalizeState(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.ToUpper(strings.TrimSpace(*s))
	if v == "" {
		return nil
	}
	return &v
}

// SameScope reports whether two optional scope values are equal, treating
// two nils as equal.
func SameScope(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
