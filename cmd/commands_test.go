package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/mca-router/internal/model"
	"github.com/sells-group/mca-router/internal/store"
	"github.com/sells-group/mca-router/internal/submission"
)

// cliEnv points config loading at a fresh sqlite database in a temp dir.
func cliEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck

	dsn := filepath.Join(dir, "cli.db")
	t.Setenv("MCA_STORE_DRIVER", "sqlite")
	t.Setenv("MCA_STORE_DATABASE_URL", dsn)
	t.Setenv("MCA_LOG_LEVEL", "error")
	return dsn
}

func execute(t *testing.T, args ...string) error {
	t.Helper()
	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

func openStore(t *testing.T, dsn string) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func TestLendersImportAndRequestsPut(t *testing.T) {
	dsn := cliEnv(t)

	file := filepath.Join(t.TempDir(), "lenders.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
lenders:
  - name: Apex Funding
    email: subs@apex.test
    cc: [ops@apex.test]
  - name: Beacon Capital
    email: deals@beacon.test
`), 0o644))

	require.NoError(t, execute(t, "lenders", "import", file))
	require.NoError(t, execute(t, "requests", "put", "req-1",
		"--business", "Joe's Diner", "--start-date", "2020-01-15", "--industry", "restaurant", "--fico", "640"))

	st := openStore(t, dsn)
	ctx := context.Background()

	lenders, err := st.ListLenders(ctx)
	require.NoError(t, err)
	assert.Len(t, lenders, 2)

	req, err := st.GetRequest(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, "Joe's Diner", req.BusinessName)
	assert.Equal(t, model.RequestStateNew, req.State)
	assert.Equal(t, "restaurant", req.Criteria.Industry)
	require.NotNil(t, req.Criteria.FICO)
	assert.InDelta(t, 640, *req.Criteria.FICO, 0.001)
	assert.Nil(t, req.Criteria.MonthlyRevenue)
}

func TestSubmissionsRespond(t *testing.T) {
	dsn := cliEnv(t)
	st := openStore(t, dsn)
	ctx := context.Background()

	rec := &model.SubmissionRecord{RequestID: "req-1", LenderName: "Apex", Status: model.SubmissionSent}
	require.NoError(t, st.CreateSubmission(ctx, rec))

	require.NoError(t, execute(t, "submissions", "respond", rec.ID, "--status", "declined", "--reason", "No restaurants"))

	got, err := st.GetSubmission(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SubmissionDeclined, got.Status)
	require.NotNil(t, got.DeclineReason)
	assert.Equal(t, "No restaurants", *got.DeclineReason)

	require.NoError(t, execute(t, "rules", "list"))
}

func TestCriteriaFromFlags(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	addCriteriaFlags(fs)
	require.NoError(t, fs.Parse([]string{"--industry", "trucking", "--revenue", "42000", "--tib", "0"}))

	c, err := criteriaFromFlags(fs)
	require.NoError(t, err)
	assert.Equal(t, "trucking", c.Industry)
	require.NotNil(t, c.MonthlyRevenue)
	assert.InDelta(t, 42000, *c.MonthlyRevenue, 0.001)
	require.NotNil(t, c.TimeInBusiness, "explicit zero is a known value")
	assert.Nil(t, c.FICO)
}

func TestResponseFromFlags(t *testing.T) {
	newFS := func(args ...string) *pflag.FlagSet {
		fs := pflag.NewFlagSet("respond", pflag.ContinueOnError)
		addResponseFlags(fs)
		require.NoError(t, fs.Parse(args))
		return fs
	}

	resp, err := responseFromFlags(newFS("--status", "offer", "--amount", "25000", "--factor", "1.35", "--term-days", "120"))
	require.NoError(t, err)
	assert.Equal(t, model.SubmissionOffer, resp.Status)
	require.NotNil(t, resp.Offer)
	assert.Equal(t, "25000", resp.Offer.Amount.String())
	assert.Equal(t, "1.35", resp.Offer.Factor.String())
	assert.Equal(t, 120, resp.Offer.TermDays)

	_, err = responseFromFlags(newFS("--status", "sent"))
	assert.Error(t, err)

	_, err = responseFromFlags(newFS("--status", "OFFER", "--amount", "lots"))
	assert.Error(t, err)
}

func TestParseCandidates(t *testing.T) {
	got := parseCandidates([]string{"Apex Funding", " Beacon = deals@beacon.test "})
	assert.Equal(t, []submission.Candidate{
		{Name: "Apex Funding"},
		{Name: "Beacon", Email: "deals@beacon.test"},
	}, got)
}

func TestFormatPredictions(t *testing.T) {
	rate := 80
	var buf bytes.Buffer
	formatPredictions(&buf, []model.Prediction{
		{Lender: "Apex", SuccessRate: &rate, Confidence: model.ConfidenceMedium, DataPoints: 12, Factors: []string{"strong in retail"}},
		{Lender: "Nobody", Confidence: model.ConfidenceNone, Reason: "no history"},
	})
	out := buf.String()
	assert.Contains(t, out, "RANK")
	assert.Contains(t, out, "80%")
	assert.Contains(t, out, "strong in retail")
	assert.Contains(t, out, "no history")
}

func TestFormatBatchResult(t *testing.T) {
	var buf bytes.Buffer
	formatBatchResult(&buf, &submission.BatchResult{
		RequestID:        "req-1",
		Successful:       []submission.LenderResult{{Lender: "Apex", Email: "a@apex.test", SubmissionID: "s1"}},
		Failed:           []submission.LenderResult{{Lender: "Ghost", Error: "no valid email address for lender Ghost"}},
		Total:            2,
		MissingDocuments: []string{"req-1/missing.pdf"},
	})
	out := buf.String()
	assert.Contains(t, out, "1 sent, 1 failed of 2")
	assert.Contains(t, out, "req-1/missing.pdf")
	assert.Contains(t, out, "no valid email address for lender Ghost")
}

func TestRuleScopeAndFormat(t *testing.T) {
	industry, state := "trucking", "ca"
	field, op, val := "fico", "<", "600"

	assert.Equal(t, "trucking/ca", ruleScope(model.SuggestedRule{Industry: &industry, State: &state}))
	assert.Equal(t, "ca", ruleScope(model.SuggestedRule{State: &state}))
	assert.Equal(t, "fico < 600", ruleScope(model.SuggestedRule{ConditionField: &field, ConditionOperator: &op, ConditionValue: &val}))
	assert.Equal(t, "-", ruleScope(model.SuggestedRule{}))

	conf := 0.82
	var buf bytes.Buffer
	formatRules(&buf, []model.SuggestedRule{{ID: "r1", LenderName: "Apex", RuleType: "industry_block", Industry: &industry, Confidence: &conf}})
	assert.Contains(t, buf.String(), "0.82")
	assert.Contains(t, buf.String(), "trucking")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}
