package query

import (
	"context"
	"fmt"
	"sort"

	"github.com/xuri/excelize/v2"
)

// ══════════════════════════════════════════════════════════════════════════════
// EXPORT POINTS SUMMARY QUERY
// The points table as an XLSX workbook: one row per student, three columns
// per module, then the special categories and the total.
// ══════════════════════════════════════════════════════════════════════════════

// SummarySheet is the name of the exported worksheet.
const SummarySheet = "Points"

// ExportSummaryResult is the rendered workbook.
type ExportSummaryResult struct {
	Filename string
	Content  []byte
	Rows     int
}

// ExportSummaryHandler renders GetPointsSummaryHandler output as XLSX.
type ExportSummaryHandler struct {
	summary *GetPointsSummaryHandler
}

// NewExportSummaryHandler creates a new ExportSummaryHandler.
func NewExportSummaryHandler(summary *GetPointsSummaryHandler) *ExportSummaryHandler {
	return &ExportSummaryHandler{summary: summary}
}

// Handle executes the query. Teachers only.
func (h *ExportSummaryHandler) Handle(ctx context.Context, q GetPointsSummaryQuery) (*ExportSummaryResult, error) {
	if err := q.Session.RequireTeacher(); err != nil {
		return nil, err
	}
	res, err := h.summary.Handle(ctx, q)
	if err != nil {
		return nil, err
	}

	content, err := RenderSummaryXLSX(res.Data)
	if err != nil {
		return nil, err
	}
	subject := q.SubjectID
	if subject == "" {
		subject = q.Session.SubjectID
	}
	return &ExportSummaryResult{
		Filename: fmt.Sprintf("points-%s-%s.xlsx", subject, res.GeneratedAt.Format("20060102")),
		Content:  content,
		Rows:     len(res.Data),
	}, nil
}

// RenderSummaryXLSX writes summaries into a single-sheet workbook. Module
// columns are the union of every summary's slots, in slot order.
func RenderSummaryXLSX(data []PointsSummaryDTO) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SummarySheet); err != nil {
		return nil, fmt.Errorf("xlsx: rename sheet: %w", err)
	}

	columns := unionColumns(data)
	specials := SpecialCategoryNames()

	header := []any{"Student ID", "Name"}
	for _, m := range columns {
		title := m.Title
		if title == "" {
			title = m.ModuleID
		}
		header = append(header, title+" creation", title+" validation", title+" reparation")
	}
	for _, s := range specials {
		header = append(header, s)
	}
	header = append(header, "Total")

	if err := f.SetSheetRow(SummarySheet, "A1", &header); err != nil {
		return nil, fmt.Errorf("xlsx: header: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("xlsx: style: %w", err)
	}
	if err := f.SetRowStyle(SummarySheet, 1, 1, bold); err != nil {
		return nil, fmt.Errorf("xlsx: header style: %w", err)
	}

	for i, s := range data {
		row := []any{s.User.ID, s.User.DisplayName}
		for _, col := range columns {
			m := findColumn(s.Breakdown.Modules, col.ModuleID)
			row = append(row, m.Creation, m.Validation, m.Reparation)
		}
		for _, c := range specials {
			row = append(row, s.Breakdown.Special[c])
		}
		row = append(row, s.Points.TotalPoints)

		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(SummarySheet, cell, &row); err != nil {
			return nil, fmt.Errorf("xlsx: row %d: %w", i+2, err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx: write: %w", err)
	}
	return buf.Bytes(), nil
}

func findColumn(modules []ModuleColumnDTO, id string) ModuleColumnDTO {
	for _, m := range modules {
		if m.ModuleID == id {
			return m
		}
	}
	return ModuleColumnDTO{ModuleID: id}
}

func unionColumns(data []PointsSummaryDTO) []ModuleColumnDTO {
	seen := make(map[string]bool)
	var out []ModuleColumnDTO
	for _, s := range data {
		for _, m := range s.Breakdown.Modules {
			if !seen[m.ModuleID] {
				seen[m.ModuleID] = true
				out = append(out, ModuleColumnDTO{Slot: m.Slot, ModuleID: m.ModuleID, Title: m.Title})
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Slot < out[j].Slot })
	return out
}
