package report

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/mca-router/internal/model"
)

func intPtr(v int) *int { return &v }

func samplePredictions() []model.Prediction {
	return []model.Prediction{
		{Lender: "Apex", SuccessRate: intPtr(72), Confidence: model.ConfidenceMedium, DataPoints: 14,
			Factors: []string{"Base approval rate 64%", "Industry trucking 80%"}},
		{Lender: "Beacon", Confidence: model.ConfidenceNone, DataPoints: 1, Factors: []string{}, Reason: "Not enough historical data"},
	}
}

func sheetRows(t *testing.T, f *xlsx.File, name string) [][]string {
	t.Helper()
	sheet, ok := f.Sheet[name]
	require.True(t, ok, "sheet %s", name)
	var out [][]string
	for _, row := range sheet.Rows {
		cells := make([]string, len(row.Cells))
		for i, c := range row.Cells {
			cells[i] = c.String()
		}
		out = append(out, cells)
	}
	return out
}

func TestSavePredictions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ranked.xlsx")
	meta := Meta{
		RequestID:   "req-1",
		Criteria:    model.DealCriteria{Industry: "trucking", State: "TX", FICO: model.Float(640)},
		GeneratedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, SavePredictions(path, samplePredictions(), meta))

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)

	rows := sheetRows(t, f, PredictionSheet)
	require.Len(t, rows, 3)
	assert.Equal(t, predictionHeader, rows[0])
	assert.Equal(t, []string{"1", "Apex", "72", "medium", "14", "Base approval rate 64%; Industry trucking 80%"}, rows[1][:6])
	assert.Equal(t, "Beacon", rows[2][1])
	assert.Equal(t, "", rows[2][2])
	assert.Equal(t, "Not enough historical data", rows[2][6])

	deal := sheetRows(t, f, "Deal")
	assert.Equal(t, []string{"Request", "req-1"}, deal[0])
	assert.Equal(t, []string{"Generated", "2026-03-01T12:00:00Z"}, deal[1])
	assert.Equal(t, []string{"FICO", "640"}, deal[5])
}

func TestWritePredictions(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WritePredictions(&buf, samplePredictions(), Meta{RequestID: "req-1"}))

	f, err := xlsx.OpenBinary(buf.Bytes())
	require.NoError(t, err)
	assert.Len(t, sheetRows(t, f, PredictionSheet), 3)
}
