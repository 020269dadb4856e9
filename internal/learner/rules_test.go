package learner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/mca-router/internal/model"
	"github.com/sells-group/mca-router/internal/store"
)

func TestRules_Workflow(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	createDecline(t, st, "Apex", "No trucking")

	cls := &scriptedClassifier{byLender: map[string]Classification{"Apex": industryBlock(0.9)}}
	_, err := New(st, cls, Config{}).AnalyzeDeclines(ctx)
	require.NoError(t, err)

	rules := NewRules(st)
	suggested, err := rules.Suggested(ctx)
	require.NoError(t, err)
	require.Len(t, suggested, 1)
	id := suggested[0].ID

	approved, err := rules.Approve(ctx, id)
	require.NoError(t, err)
	assert.True(t, approved.IsActive)
	assert.Equal(t, model.RuleSourceAIApplied, approved.Source)

	again, err := rules.Approve(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.RuleSourceAIApplied, again.Source)

	suggested, err = rules.Suggested(ctx)
	require.NoError(t, err)
	assert.Empty(t, suggested)

	_, err = rules.Approve(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	deleted, err := rules.Reject(ctx, id)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = rules.Reject(ctx, id)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestRules_Create(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	rules := NewRules(st)

	rule, err := rules.Create(ctx, model.SuggestedRule{
		LenderName:  " Beacon Capital ",
		RuleType:    model.RuleStateBlock,
		State:       strPtr(" nv "),
		Explanation: "No Nevada deals",
		Source:      model.RuleSourceAISuggested,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, rule.ID)
	assert.Equal(t, "Beacon Capital", rule.LenderName)
	assert.Equal(t, model.RuleSourceManual, rule.Source)
	assert.True(t, rule.IsActive)
	assert.Equal(t, "NV", *rule.State)

	active := true
	list, err := rules.List(ctx, store.RuleFilter{LenderName: "beacon capital", Active: &active})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = rules.Create(ctx, model.SuggestedRule{RuleType: model.RuleOther})
	assert.ErrorIs(t, err, ErrInvalidRule)

	_, err = rules.Create(ctx, model.SuggestedRule{LenderName: "Apex"})
	assert.ErrorIs(t, err, ErrInvalidRule)
}
