package utils

import (
	"bytes"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/haomingcsy/bestfoodwhere-sub001/internal/models"
)

const (
	changesSheet = "Changes"
	costsSheet   = "Costs"
	infoSheet    = "Info"

	timeLayout = "2006-01-02 15:04:05"
)

// ChangeReport is everything rendered into the change report workbook.
type ChangeReport struct {
	GeneratedAt time.Time
	Since       time.Time
	Changes     []models.ChangeHistory
	Costs       []models.CostBreakdown
	Pending     int
	Critical    int
}

func (r ChangeReport) TotalCost() float64 {
	var total float64
	for _, c := range r.Costs {
		total += c.Cost
	}
	return total
}

// BuildChangeReport renders the workbook into memory.
func BuildChangeReport(report ChangeReport) (*bytes.Buffer, error) {
	f, err := newChangeWorkbook(report)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf, nil
}

// SaveChangeReport writes the workbook to filepath.
func SaveChangeReport(filepath string, report ChangeReport) error {
	f, err := newChangeWorkbook(report)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.SaveAs(filepath); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	return nil
}

func newChangeWorkbook(report ChangeReport) (*excelize.File, error) {
	f := excelize.NewFile()

	if _, err := f.NewSheet(changesSheet); err != nil {
		f.Close()
		return nil, err
	}
	if err := writeChanges(f, report.Changes); err != nil {
		f.Close()
		return nil, err
	}
	if err := writeCosts(f, report.Costs); err != nil {
		f.Close()
		return nil, err
	}
	if err := createInfoSheet(f, report); err != nil {
		f.Close()
		return nil, err
	}

	// excelize always starts with Sheet1
	if err := f.DeleteSheet("Sheet1"); err != nil {
		f.Close()
		return nil, err
	}
	if index, err := f.GetSheetIndex(changesSheet); err == nil {
		f.SetActiveSheet(index)
	}
	return f, nil
}

func writeChanges(f *excelize.File, changes []models.ChangeHistory) error {
	headers := []string{"Detected At", "Entity Type", "Entity", "Field", "Old Value", "New Value", "Change Type", "Source", "Confidence", "Verified"}
	if err := writeHeaders(f, changesSheet, headers); err != nil {
		return err
	}

	confidenceStyle := getNumberStyle(f, "0.000")
	for i, c := range changes {
		row := i + 2
		name := c.EntityName
		if name == "" {
			name = c.EntityID
		}
		values := []interface{}{
			c.DetectedAt.Format(timeLayout),
			string(c.EntityType),
			name,
			c.FieldName,
			derefOr(c.OldValue, ""),
			derefOr(c.NewValue, ""),
			string(c.ChangeType),
			c.Source,
			c.Confidence,
			c.Verified,
		}
		cell, _ := excelize.CoordinatesToCellName(1, row)
		if err := f.SetSheetRow(changesSheet, cell, &values); err != nil {
			return err
		}
		f.SetCellStyle(changesSheet, fmt.Sprintf("I%d", row), fmt.Sprintf("I%d", row), confidenceStyle)
	}

	setColumnWidths(f, changesSheet, len(headers), 22)
	f.SetColWidth(changesSheet, "E", "F", 40)

	if len(changes) == 0 {
		return nil
	}
	last := len(changes) + 1

	// Low confidence in red, auto-apply range in green.
	lowRule := []excelize.ConditionalFormatOptions{
		{
			Type:     "cell",
			Criteria: "<",
			Value:    "0.5",
			Format:   getConditionalFormatStyle(f, "#FFCCCC"),
		},
	}
	if err := f.SetConditionalFormat(changesSheet, fmt.Sprintf("I2:I%d", last), lowRule); err != nil {
		return err
	}
	highRule := []excelize.ConditionalFormatOptions{
		{
			Type:     "cell",
			Criteria: ">=",
			Value:    "0.85",
			Format:   getConditionalFormatStyle(f, "#CCFFCC"),
		},
	}
	if err := f.SetConditionalFormat(changesSheet, fmt.Sprintf("I2:I%d", last), highRule); err != nil {
		return err
	}

	closureRule := []excelize.ConditionalFormatOptions{
		{
			Type:     "cell",
			Criteria: "==",
			Value:    fmt.Sprintf("\"%s\"", models.ChangeClosure),
			Format:   getConditionalFormatStyle(f, "#FFE0B2"),
		},
	}
	return f.SetConditionalFormat(changesSheet, fmt.Sprintf("G2:G%d", last), closureRule)
}

func writeCosts(f *excelize.File, costs []models.CostBreakdown) error {
	if _, err := f.NewSheet(costsSheet); err != nil {
		return err
	}
	headers := []string{"API", "Operation", "Calls", "Failures", "Cost (USD)"}
	if err := writeHeaders(f, costsSheet, headers); err != nil {
		return err
	}

	costStyle := getNumberStyle(f, "0.0000")
	var total float64
	for i, c := range costs {
		row := i + 2
		values := []interface{}{c.APIName, string(c.Operation), c.Calls, c.Failures, c.Cost}
		cell, _ := excelize.CoordinatesToCellName(1, row)
		if err := f.SetSheetRow(costsSheet, cell, &values); err != nil {
			return err
		}
		f.SetCellStyle(costsSheet, fmt.Sprintf("E%d", row), fmt.Sprintf("E%d", row), costStyle)
		total += c.Cost
	}

	totalRow := len(costs) + 2
	f.SetCellValue(costsSheet, fmt.Sprintf("A%d", totalRow), "Total")
	f.SetCellValue(costsSheet, fmt.Sprintf("E%d", totalRow), total)
	f.SetCellStyle(costsSheet, fmt.Sprintf("E%d", totalRow), fmt.Sprintf("E%d", totalRow), costStyle)

	setColumnWidths(f, costsSheet, len(headers), 20)

	if len(costs) > 1 {
		return createCostChart(f, len(costs))
	}
	return nil
}

func createCostChart(f *excelize.File, rows int) error {
	chart := &excelize.Chart{
		Type: excelize.Col,
		Series: []excelize.ChartSeries{
			{
				Name:       "Cost",
				Categories: fmt.Sprintf("%s!$B$2:$B$%d", costsSheet, rows+1),
				Values:     fmt.Sprintf("%s!$E$2:$E$%d", costsSheet, rows+1),
			},
		},
		Title: []excelize.RichTextRun{
			{
				Text: "Cost by Operation",
			},
		},
		XAxis: excelize.ChartAxis{
			MajorGridLines: true,
		},
		YAxis: excelize.ChartAxis{
			MajorGridLines: true,
		},
		Dimension: excelize.ChartDimension{
			Width:  600,
			Height: 400,
		},
	}
	return f.AddChart(costsSheet, "G2", chart)
}

func createInfoSheet(f *excelize.File, report ChangeReport) error {
	if _, err := f.NewSheet(infoSheet); err != nil {
		return err
	}

	rows := [][2]interface{}{
		{"Report Generated", report.GeneratedAt.Format(timeLayout)},
		{"Window Start", report.Since.Format(timeLayout)},
		{"Changes Detected", len(report.Changes)},
		{"Closures", countChangeType(report.Changes, models.ChangeClosure)},
		{"Pending Verification", report.Pending},
		{"Critical Pending", report.Critical},
		{"Total API Cost (USD)", fmt.Sprintf("%.4f", report.TotalCost())},
	}
	for i, kv := range rows {
		f.SetCellValue(infoSheet, fmt.Sprintf("A%d", i+1), kv[0])
		f.SetCellValue(infoSheet, fmt.Sprintf("B%d", i+1), kv[1])
	}
	f.SetColWidth(infoSheet, "A", "B", 28)
	return nil
}

func writeHeaders(f *excelize.File, sheet string, headers []string) error {
	style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheet, cell, header)
	}
	last, _ := excelize.CoordinatesToCellName(len(headers), 1)
	return f.SetCellStyle(sheet, "A1", last, style)
}

func setColumnWidths(f *excelize.File, sheet string, columns int, width float64) {
	for i := 1; i <= columns; i++ {
		colName, _ := excelize.ColumnNumberToName(i)
		f.SetColWidth(sheet, colName, colName, width)
	}
}

func countChangeType(changes []models.ChangeHistory, t models.ChangeType) int {
	n := 0
	for _, c := range changes {
		if c.ChangeType == t {
			n++
		}
	}
	return n
}

func derefOr(s *string, fallback string) string {
	if s == nil {
		return fallback
	}
	return *s
}

func getNumberStyle(f *excelize.File, format string) int {
	style, err := f.NewStyle(&excelize.Style{
		CustomNumFmt: &format,
	})
	if err != nil {
		return 0
	}
	return style
}

// getConditionalFormatStyle returns a fill style usable in conditional formats.
func getConditionalFormatStyle(f *excelize.File, color string) *int {
	style, err := f.NewConditionalStyle(&excelize.Style{
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{color},
			Pattern: 1,
		},
	})
	if err != nil {
		return nil
	}
	return &style
}
