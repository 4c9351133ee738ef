// Package report turns a validated reconciliation result into an
// exportable document. The document is a fixed set of tables: a summary
// that is always present, plus matched-pair and unmatched tables that
// are included only when they have rows.
//
// Supported output formats:
//   - Console: human-readable tabular output for terminal display
//   - XLSX: a workbook with one sheet per table
package report

import (
	"fmt"
	"time"

	"receipt-reconciliation-service/internal/models"
	"receipt-reconciliation-service/pkg/logger"
)

// Table names used as sheet titles and console section headers
const (
	TableSummary            = "Summary"
	TableMatched            = "Matched"
	TableUnmatchedMovements = "Unmatched Movements"
	TableUnmatchedReceipts  = "Unmatched Receipts"
)

// placeholder fills cells whose index no longer resolves to a record,
// which can happen when a result outlives the session data it indexed.
const placeholder = "(unavailable)"

// Table is one rectangular section of the report
type Table struct {
	Name    string     `json:"name"`
	Headers []string   `json:"headers"`
	Rows    [][]string `json:"rows"`
}

// Report is the complete exportable document. Tables are ordered:
// summary first, then matched pairs, then the two unmatched tables.
// Only the summary is guaranteed to be present.
type Report struct {
	GeneratedAt time.Time `json:"generatedAt"`
	Tables      []Table   `json:"tables"`
}

// ReportBuilder assembles reports from reconciliation results
type ReportBuilder struct {
	logger logger.Logger
}

// NewReportBuilder creates a new ReportBuilder
func NewReportBuilder() *ReportBuilder {
	return &ReportBuilder{
		logger: logger.GetGlobalLogger().WithComponent("report_builder"),
	}
}

// Build assembles the report document. movements and receipts are the
// session data the result's indices refer to; receipts is the usable
// set in matching index order. Matched rows with a dangling index keep
// the row and fill the missing side with placeholders; unmatched rows
// with a dangling index are skipped entirely.
func (rb *ReportBuilder) Build(movements []models.Movement, receipts []*models.Receipt, result *models.MatchResult, stats models.Stats) *Report {
	report := &Report{
		GeneratedAt: time.Now(),
	}

	report.Tables = append(report.Tables, rb.buildSummary(result, stats))

	if matched := rb.buildMatched(movements, receipts, result); len(matched.Rows) > 0 {
		report.Tables = append(report.Tables, matched)
	}
	if unmatched := rb.buildUnmatchedMovements(movements, result); len(unmatched.Rows) > 0 {
		report.Tables = append(report.Tables, unmatched)
	}
	if unmatched := rb.buildUnmatchedReceipts(receipts, result); len(unmatched.Rows) > 0 {
		report.Tables = append(report.Tables, unmatched)
	}

	rb.logger.WithField("tables", len(report.Tables)).Debug("Built report")
	return report
}

func (rb *ReportBuilder) buildSummary(result *models.MatchResult, stats models.Stats) Table {
	table := Table{
		Name:    TableSummary,
		Headers: []string{"Metric", "Value"},
		Rows: [][]string{
			{"Total movements", fmt.Sprintf("%d", stats.TotalMovements)},
			{"Matched", fmt.Sprintf("%d", stats.MatchedCount)},
			{"Match percentage", fmt.Sprintf("%d%%", stats.Percentage)},
			{"Unmatched movements", fmt.Sprintf("%d", len(result.UnmatchedMovements))},
			{"Unmatched receipts", fmt.Sprintf("%d", len(result.UnmatchedReceipts))},
		},
	}

	if result.Narrative != "" {
		table.Rows = append(table.Rows, []string{"Narrative", result.Narrative})
	}

	return table
}

func (rb *ReportBuilder) buildMatched(movements []models.Movement, receipts []*models.Receipt, result *models.MatchResult) Table {
	table := Table{
		Name: TableMatched,
		Headers: []string{
			"Movement Date", "Movement Amount", "Movement Concept",
			"Receipt File", "Receipt Amount", "Receipt Merchant",
			"Score", "Reason",
		},
	}

	for _, entry := range result.Matches {
		row := make([]string, 8)

		if entry.MovementIndex >= 0 && entry.MovementIndex < len(movements) {
			m := movements[entry.MovementIndex]
			row[0] = m.DisplayDate()
			row[1] = m.Amount.String()
			row[2] = m.Concept
		} else {
			row[0], row[1], row[2] = placeholder, placeholder, placeholder
		}

		if entry.ReceiptIndex >= 0 && entry.ReceiptIndex < len(receipts) {
			r := receipts[entry.ReceiptIndex]
			row[3] = r.Name
			if r.Annotation != nil {
				if r.Annotation.Amount != nil {
					row[4] = r.Annotation.Amount.String()
				}
				row[5] = r.Annotation.Merchant
			}
		} else {
			row[3], row[4], row[5] = placeholder, placeholder, placeholder
		}

		row[6] = fmt.Sprintf("%d", entry.Score)
		row[7] = entry.Reason

		table.Rows = append(table.Rows, row)
	}

	return table
}

func (rb *ReportBuilder) buildUnmatchedMovements(movements []models.Movement, result *models.MatchResult) Table {
	table := Table{
		Name:    TableUnmatchedMovements,
		Headers: []string{"Date", "Amount", "Concept"},
	}

	for _, idx := range result.UnmatchedMovements {
		if idx < 0 || idx >= len(movements) {
			rb.logger.WithField("index", idx).Warn("Skipping unresolvable movement index")
			continue
		}
		m := movements[idx]
		table.Rows = append(table.Rows, []string{m.DisplayDate(), m.Amount.String(), m.Concept})
	}

	return table
}

func (rb *ReportBuilder) buildUnmatchedReceipts(receipts []*models.Receipt, result *models.MatchResult) Table {
	table := Table{
		Name:    TableUnmatchedReceipts,
		Headers: []string{"File", "Amount", "Merchant", "Date"},
	}

	for _, idx := range result.UnmatchedReceipts {
		if idx < 0 || idx >= len(receipts) {
			rb.logger.WithField("index", idx).Warn("Skipping unresolvable receipt index")
			continue
		}
		r := receipts[idx]
		row := []string{r.Name, "", "", ""}
		if r.Annotation != nil {
			if r.Annotation.Amount != nil {
				row[1] = r.Annotation.Amount.String()
			}
			row[2] = r.Annotation.Merchant
			row[3] = r.Annotation.Date
		}
		table.Rows = append(table.Rows, row)
	}

	return table
}
