package learner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/mca-router/internal/model"
	"github.com/sells-group/mca-router/internal/resilience"
	"github.com/sells-group/mca-router/pkg/anthropic"
)

func TestAnthropicClassifier_Success(t *testing.T) {
	client := &mockAnthropicClient{}
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return req.Model == "claude-haiku-4-5-20251001" &&
			len(req.System) == 1 && req.System[0].CacheControl != nil &&
			len(req.Messages) == 1 && req.Messages[0].Role == "user"
	})).Return(textResponse("```json\n{\"should_create_rule\": true, \"rule_type\": \"state_block\", \"state\": \"ca\", \"industry\": null, \"explanation\": \"No CA deals.\", \"confidence\": 0.82}\n```"), nil)

	c := NewAnthropicClassifier(client, nil, "claude-haiku-4-5-20251001", 0)
	got := c.Classify(context.Background(), ClassifyRequest{
		Lender:        "Apex",
		DeclineReason: "We no longer fund California",
		Deal:          model.DealCriteria{State: "CA", FICO: model.Float(700)},
	})

	require.Equal(t, ClassificationSuccess, got.Kind)
	assert.True(t, got.Suggestion.ShouldCreateRule)
	assert.Equal(t, "state_block", got.Suggestion.RuleType)
	require.NotNil(t, got.Suggestion.State)
	assert.Equal(t, "ca", *got.Suggestion.State)
	assert.Nil(t, got.Suggestion.Industry)
	assert.InDelta(t, 0.82, got.Suggestion.Confidence, 1e-9)
	client.AssertExpectations(t)
}

func TestAnthropicClassifier_ParseFailure(t *testing.T) {
	client := &mockAnthropicClient{}
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(textResponse("I cannot tell from this response."), nil)

	got := NewAnthropicClassifier(client, nil, "m", 0).Classify(context.Background(), ClassifyRequest{Lender: "Apex"})
	assert.Equal(t, ClassificationParseFailure, got.Kind)
	assert.Error(t, got.Err)
}

func TestAnthropicClassifier_TransportFailureOpensCircuit(t *testing.T) {
	client := &mockAnthropicClient{}
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, errors.New("overloaded"))

	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{FailureThreshold: 2, ResetTimeout: time.Hour})
	c := NewAnthropicClassifier(client, breaker, "m", 0)

	for range 2 {
		got := c.Classify(context.Background(), ClassifyRequest{Lender: "Apex"})
		assert.Equal(t, ClassificationTransportFailure, got.Kind)
	}
	assert.Equal(t, resilience.CircuitOpen, breaker.State())

	got := c.Classify(context.Background(), ClassifyRequest{Lender: "Apex"})
	assert.Equal(t, ClassificationTransportFailure, got.Kind)
	assert.ErrorIs(t, got.Err, resilience.ErrCircuitOpen)
	client.AssertNumberOfCalls(t, "CreateMessage", 2)
}

func TestParseClassification(t *testing.T) {
	tests := []struct {
		name string
		text string
		want ClassificationKind
	}{
		{"plain json", `{"should_create_rule": false, "confidence": 0.1}`, ClassificationSuccess},
		{"prose wrapped", `Here you go: {"should_create_rule": true, "rule_type": "other", "confidence": 0.7} done`, ClassificationSuccess},
		{"empty", "", ClassificationParseFailure},
		{"not json", "{not json}", ClassificationParseFailure},
		{"confidence out of range", `{"should_create_rule": true, "confidence": 7}`, ClassificationParseFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseClassification(tt.text).Kind)
		})
	}
}

func TestBuildUserPrompt(t *testing.T) {
	p := buildUserPrompt(ClassifyRequest{
		Lender:  "Apex",
		Excerpt: "No trucking.",
		Deal:    model.DealCriteria{Industry: "trucking", MonthlyRevenue: model.Float(42000.4)},
	})
	assert.Contains(t, p, "Lender: Apex")
	assert.Contains(t, p, "Decline reason: unknown")
	assert.Contains(t, p, "Monthly revenue: 42000")
	assert.Contains(t, p, "FICO: unknown")
	assert.Contains(t, p, "No trucking.")
}

func TestClassificationKind_String(t *testing.T) {
	assert.Equal(t, "success", ClassificationSuccess.String())
	assert.Equal(t, "parse_failure", ClassificationParseFailure.String())
	assert.Equal(t, "transport_failure", ClassificationTransportFailure.String())
	assert.Equal(t, "unknown", ClassificationKind(9).String())
}
