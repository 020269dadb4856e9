package learner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/mca-router/internal/model"
	"github.com/sells-group/mca-router/internal/resilience"
	"github.com/sells-group/mca-router/pkg/anthropic"
)

// ClassificationKind tags the outcome of a classification call.
type ClassificationKind int

const (
	// ClassificationSuccess carries a parsed Suggestion.
	ClassificationSuccess ClassificationKind = iota
	// ClassificationParseFailure means the model answered with unusable output.
	ClassificationParseFailure
	// ClassificationTransportFailure means the model could not be reached.
	ClassificationTransportFailure
)

func (k ClassificationKind) String() string {
	switch k {
	case ClassificationSuccess:
		return "success"
	case ClassificationParseFailure:
		return "parse_failure"
	case ClassificationTransportFailure:
		return "transport_failure"
	default:
		return "unknown"
	}
}

// Suggestion is the model's proposed rule for one decline.
type Suggestion struct {
	ShouldCreateRule  bool    `json:"should_create_rule"`
	RuleType          string  `json:"rule_type"`
	Industry          *string `json:"industry"`
	State             *string `json:"state"`
	ConditionField    *string `json:"condition_field"`
	ConditionOperator *string `json:"condition_operator"`
	ConditionValue    *string `json:"condition_value"`
	Explanation       string  `json:"explanation"`
	Confidence        float64 `json:"confidence"`
}

// Classification is the tagged result of Classify. Suggestion is only set
// for ClassificationSuccess; Err is set otherwise.
type Classification struct {
	Kind       ClassificationKind
	Suggestion Suggestion
	Err        error
}

// ClassifyRequest is the decline context sent to the classifier.
type ClassifyRequest struct {
	Lender        string
	DeclineReason string
	Excerpt       string
	Deal          model.DealCriteria
}

// Classifier turns a decline into a rule suggestion.
type Classifier interface {
	Classify(ctx context.Context, req ClassifyRequest) Classification
}

const classifySystemPrompt = `You analyze merchant cash advance lender decline responses and decide whether the decline reveals a reusable eligibility rule for that lender.

Rule types:
- industry_block: the lender does not fund the merchant's industry
- state_block: the lender does not fund merchants in the state
- minimum_requirement: the deal missed a minimum (revenue, FICO, time in business)
- position_restriction: the lender limits existing positions or stacking
- other: a rule that fits none of the above

Only suggest a rule when the decline states a general policy, not a one-off judgment about this merchant.

Respond with a valid JSON object and nothing else:
{"should_create_rule": <bool>, "rule_type": "<type>", "industry": <string|null>, "state": <two-letter code|null>, "condition_field": <string|null>, "condition_operator": <">="|"<="|"="|null>, "condition_value": <string|null>, "explanation": "<one sentence>", "confidence": <0.0-1.0>}`

const classifyUserPrompt = `Lender: %s
Decline reason: %s

Deal:
- Industry: %s
- State: %s
- Monthly revenue: %s
- FICO: %s
- Time in business (months): %s

Lender response excerpt:
%s`

// AnthropicClassifier classifies declines with a Claude model behind a
// circuit breaker.
type AnthropicClassifier struct {
	client    anthropic.Client
	breaker   *resilience.CircuitBreaker
	model     string
	maxTokens int64
}

// NewAnthropicClassifier creates a classifier. A nil breaker gets the
// default configuration.
func NewAnthropicClassifier(client anthropic.Client, breaker *resilience.CircuitBreaker, model string, maxTokens int64) *AnthropicClassifier {
	if breaker == nil {
		cfg := resilience.DefaultCircuitBreakerConfig()
		cfg.OnStateChange = resilience.StateLogger("anthropic")
		breaker = resilience.NewCircuitBreaker(cfg)
	}
	if maxTokens <= 0 {
		maxTokens = 512
	}
	return &AnthropicClassifier{client: client, breaker: breaker, model: model, maxTokens: maxTokens}
}

// Classify implements Classifier.
func (c *AnthropicClassifier) Classify(ctx context.Context, req ClassifyRequest) Classification {
	resp, err := resilience.ExecuteVal(ctx, c.breaker, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return c.client.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     c.model,
			MaxTokens: c.maxTokens,
			System:    anthropic.BuildCachedSystemBlocks(classifySystemPrompt, "1h"),
			Messages:  []anthropic.Message{{Role: "user", Content: buildUserPrompt(req)}},
		})
	})
	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return Classification{Kind: ClassificationTransportFailure, Err: eris.Wrap(err, "learner: classifier unavailable")}
		}
		return Classification{Kind: ClassificationTransportFailure, Err: eris.Wrap(err, "learner: classify")}
	}
	resp.Usage.LogCost(c.model, "decline_classify")

	return parseClassification(anthropic.ExtractText(resp))
}

func parseClassification(text string) Classification {
	text = anthropic.CleanJSON(text)
	if text == "" {
		return Classification{Kind: ClassificationParseFailure, Err: eris.New("learner: empty classifier response")}
	}

	var s Suggestion
	if err := json.Unmarshal([]byte(text), &s); err != nil {
		return Classification{Kind: ClassificationParseFailure, Err: eris.Wrap(err, "learner: parse classifier response")}
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		return Classification{Kind: ClassificationParseFailure, Err: eris.Errorf("learner: confidence %v out of range", s.Confidence)}
	}
	return Classification{Kind: ClassificationSuccess, Suggestion: s}
}

func buildUserPrompt(req ClassifyRequest) string {
	return fmt.Sprintf(classifyUserPrompt,
		orUnknown(req.Lender),
		orUnknown(req.DeclineReason),
		orUnknown(req.Deal.Industry),
		orUnknown(req.Deal.State),
		formatNum(req.Deal.MonthlyRevenue),
		formatNum(req.Deal.FICO),
		formatNum(req.Deal.TimeInBusiness),
		orUnknown(req.Excerpt),
	)
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "unknown"
	}
	return s
}

func formatNum(v *float64) string {
	if v == nil {
		return "unknown"
	}
	return fmt.Sprintf("%.0f", *v)
}
