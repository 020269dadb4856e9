// Package report exports ranked lender predictions as spreadsheets.
package report

import (
	"io"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/mca-router/internal/model"
)

// PredictionSheet is the name of the ranked predictions sheet.
const PredictionSheet = "Predictions"

var predictionHeader = []string{"Rank", "Lender", "Success Rate (%)", "Confidence", "Data Points", "Factors", "Reason"}

// Meta describes the deal a prediction report was produced for.
type Meta struct {
	RequestID   string
	Criteria    model.DealCriteria
	GeneratedAt time.Time
}

// WritePredictions writes preds in the given order to w as an xlsx
// workbook with a predictions sheet and a deal sheet.
func WritePredictions(w io.Writer, preds []model.Prediction, meta Meta) error {
	f, err := buildWorkbook(preds, meta)
	if err != nil {
		return err
	}
	if err := f.Write(w); err != nil {
		return eris.Wrap(err, "report: write workbook")
	}
	return nil
}

// SavePredictions writes the workbook to path.
func SavePredictions(path string, preds []model.Prediction, meta Meta) error {
	f, err := buildWorkbook(preds, meta)
	if err != nil {
		return err
	}
	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "report: save %s", path)
	}
	return nil
}

func buildWorkbook(preds []model.Prediction, meta Meta) (*xlsx.File, error) {
	f := xlsx.NewFile()

	sheet, err := f.AddSheet(PredictionSheet)
	if err != nil {
		return nil, eris.Wrap(err, "report: add predictions sheet")
	}
	addStringRow(sheet, predictionHeader...)
	for i, p := range preds {
		row := sheet.AddRow()
		row.AddCell().SetInt(i + 1)
		row.AddCell().SetString(p.Lender)
		rate := row.AddCell()
		if p.SuccessRate != nil {
			rate.SetInt(*p.SuccessRate)
		} else {
			rate.SetString("")
		}
		row.AddCell().SetString(string(p.Confidence))
		row.AddCell().SetInt(p.DataPoints)
		row.AddCell().SetString(strings.Join(p.Factors, "; "))
		row.AddCell().SetString(p.Reason)
	}

	deal, err := f.AddSheet("Deal")
	if err != nil {
		return nil, eris.Wrap(err, "report: add deal sheet")
	}
	generated := meta.GeneratedAt
	if generated.IsZero() {
		generated = time.Now()
	}
	c := meta.Criteria
	addStringRow(deal, "Request", meta.RequestID)
	addStringRow(deal, "Generated", generated.UTC().Format(time.RFC3339))
	addStringRow(deal, "Industry", c.Industry)
	addStringRow(deal, "State", c.State)
	addFloatRow(deal, "Monthly Revenue", c.MonthlyRevenue)
	addFloatRow(deal, "FICO", c.FICO)
	addFloatRow(deal, "Time in Business (months)", c.TimeInBusiness)
	addFloatRow(deal, "Daily Withhold", c.DailyWithhold)
	addFloatRow(deal, "Existing Positions", c.ExistingPositions)

	return f, nil
}

func addStringRow(sheet *xlsx.Sheet, values ...string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

func addFloatRow(sheet *xlsx.Sheet, label string, v *float64) {
	row := sheet.AddRow()
	row.AddCell().SetString(label)
	cell := row.AddCell()
	if v != nil {
		cell.SetFloat(*v)
	} else {
		cell.SetString("")
	}
}
