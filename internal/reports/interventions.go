// Package reports renders intervention histories for post-incident review.
package reports

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	"cellguard/internal/safety"
)

// BuildInterventionsPDF renders a minimal PDF for an intervention history.
func BuildInterventionsPDF(cell string, events []safety.InterventionEvent, generatedAt time.Time) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Intervention Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Cell: %s", cell))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", generatedAt.Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Events: %d", len(events)))
	pdf.Ln(8)

	// Events table
	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(50, 6, "Time", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "From", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "To", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Rule", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Action", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, e := range events {
		pdf.CellFormat(50, 6, e.Timestamp.Format(time.RFC3339), "1", 0, "C", false, 0, "")
		pdf.CellFormat(30, 6, string(e.From), "1", 0, "C", false, 0, "")
		pdf.CellFormat(30, 6, string(e.To), "1", 0, "C", false, 0, "")
		pdf.CellFormat(30, 6, e.TriggeringRuleID, "1", 0, "C", false, 0, "")
		pdf.CellFormat(30, 6, e.ActionRequested, "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildInterventionsXLSX renders a minimal XLSX for an intervention history.
func BuildInterventionsXLSX(cell string, events []safety.InterventionEvent, generatedAt time.Time) ([]byte, error) {
	f := excelize.NewFile()
	summarySheet := "summary"
	eventsSheet := "events"
	f.SetSheetName("Sheet1", summarySheet)
	f.NewSheet(eventsSheet)

	_ = f.SetCellValue(summarySheet, "A1", "Intervention Report")
	_ = f.SetCellValue(summarySheet, "A3", "Cell")
	_ = f.SetCellValue(summarySheet, "B3", cell)
	_ = f.SetCellValue(summarySheet, "A4", "Generated")
	_ = f.SetCellValue(summarySheet, "B4", generatedAt.Format(time.RFC3339))
	_ = f.SetCellValue(summarySheet, "A5", "Events")
	_ = f.SetCellValue(summarySheet, "B5", len(events))

	_ = f.SetCellValue(eventsSheet, "A1", "Time")
	_ = f.SetCellValue(eventsSheet, "B1", "From")
	_ = f.SetCellValue(eventsSheet, "C1", "To")
	_ = f.SetCellValue(eventsSheet, "D1", "Rule")
	_ = f.SetCellValue(eventsSheet, "E1", "Action")
	for i, e := range events {
		row := i + 2
		_ = f.SetCellValue(eventsSheet, fmt.Sprintf("A%d", row), e.Timestamp.Format(time.RFC3339))
		_ = f.SetCellValue(eventsSheet, fmt.Sprintf("B%d", row), string(e.From))
		_ = f.SetCellValue(eventsSheet, fmt.Sprintf("C%d", row), string(e.To))
		_ = f.SetCellValue(eventsSheet, fmt.Sprintf("D%d", row), e.TriggeringRuleID)
		_ = f.SetCellValue(eventsSheet, fmt.Sprintf("E%d", row), e.ActionRequested)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
