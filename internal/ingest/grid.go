// Package ingest turns raw spreadsheet files into a normalized tabular
// form: an immutable 2-D cell grid, loaded from .xlsx, .xls or .csv, and
// a header/data split produced by a header-detection heuristic.
//
// Real-world bank exports often prepend a title or logo row, blank
// spacer rows, or metadata before the actual column headers. The
// ingestor scans the leading rows for the first plausible header row
// instead of assuming row 0, and synthesizes placeholder labels for
// columns whose header cell is missing, so every column is always
// addressable by the column mapper.
//
// No type coercion happens here; cells stay strings. Turning cells into
// typed movement records is the mapping package's job.
package ingest

import (
	"strconv"
	"strings"

	"receipt-reconciliation-service/pkg/errors"
	"receipt-reconciliation-service/pkg/logger"
)

// Grid is a raw 2-D grid of cell values as loaded from a spreadsheet.
// It is the source of truth for ingestion and is never mutated.
type Grid [][]string

// Table is the ingestor's output: one header per column and the data
// rows that follow the detected header row.
type Table struct {
	Headers []string
	Rows    [][]string
}

// IngestorConfig holds configuration for the tabular ingestor
type IngestorConfig struct {
	// HeaderScanRows bounds the header-row search window
	HeaderScanRows int
	// MinHeaderCells is the minimum number of textual cells a row needs
	// to qualify as a header row
	MinHeaderCells int
}

// DefaultIngestorConfig returns a configuration with sensible defaults
func DefaultIngestorConfig() *IngestorConfig {
	return &IngestorConfig{
		HeaderScanRows: 10,
		MinHeaderCells: 2,
	}
}

// Validate validates the ingestor configuration
func (c *IngestorConfig) Validate() error {
	if c.HeaderScanRows <= 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "header_scan_rows", nil)
	}
	if c.MinHeaderCells <= 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "min_header_cells", nil)
	}
	return nil
}

// TabularIngestor parses a raw cell grid into a header row and data rows
type TabularIngestor struct {
	config *IngestorConfig
	logger logger.Logger
}

// NewTabularIngestor creates a new TabularIngestor with the given configuration
func NewTabularIngestor(config *IngestorConfig) (*TabularIngestor, error) {
	if config == nil {
		config = DefaultIngestorConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &TabularIngestor{
		config: config,
		logger: logger.GetGlobalLogger().WithComponent("ingestor"),
	}, nil
}

// Ingest splits the grid into headers and data rows. The header row is
// the first row within the scan window containing at least two non-empty
// textual (non-numeric) cells; if none qualifies, row 0 is used. Rows
// where every cell is empty are excluded from the data.
func (ti *TabularIngestor) Ingest(grid Grid) (*Table, error) {
	if len(grid) == 0 {
		return nil, errors.ParseError(errors.CodeEmptyGrid, "cell grid", nil)
	}

	headerRow := ti.detectHeaderRow(grid)
	width := maxRowWidth(grid)
	headers := ti.synthesizeHeaders(grid[headerRow], width)

	var rows [][]string
	for i := headerRow + 1; i < len(grid); i++ {
		if isEmptyRow(grid[i]) {
			continue
		}
		rows = append(rows, grid[i])
	}

	ti.logger.WithFields(logger.Fields{
		"header_row": headerRow,
		"columns":    width,
		"data_rows":  len(rows),
	}).Debug("Ingested cell grid")

	return &Table{Headers: headers, Rows: rows}, nil
}

// detectHeaderRow scans the leading rows for the first plausible header
// row and falls back to row 0.
func (ti *TabularIngestor) detectHeaderRow(grid Grid) int {
	limit := ti.config.HeaderScanRows
	if limit > len(grid) {
		limit = len(grid)
	}

	for i := 0; i < limit; i++ {
		textCells := 0
		for _, cell := range grid[i] {
			trimmed := strings.TrimSpace(cell)
			if trimmed == "" {
				continue
			}
			if isNumericCell(trimmed) {
				continue
			}
			textCells++
		}
		if textCells >= ti.config.MinHeaderCells {
			return i
		}
	}

	return 0
}

// synthesizeHeaders produces one label per column up to the grid's
// maximum width, falling back to the column's letter position when the
// header cell is empty or absent.
func (ti *TabularIngestor) synthesizeHeaders(headerRow []string, width int) []string {
	headers := make([]string, width)
	for i := 0; i < width; i++ {
		var value string
		if i < len(headerRow) {
			value = strings.TrimSpace(headerRow[i])
		}
		if value == "" {
			value = "Column " + ColumnLabel(i)
		}
		headers[i] = value
	}
	return headers
}

// ColumnLabel converts a 0-based column index to its spreadsheet letter
// form: A, B, ..., Z, AA, AB, ...
func ColumnLabel(index int) string {
	label := ""
	for index >= 0 {
		label = string(rune('A'+index%26)) + label
		index = index/26 - 1
	}
	return label
}

// isNumericCell reports whether a trimmed cell parses as a number. A
// comma decimal separator counts as numeric so European amount columns
// do not masquerade as header text.
func isNumericCell(s string) bool {
	normalized := strings.ReplaceAll(s, ",", ".")
	_, err := strconv.ParseFloat(normalized, 64)
	return err == nil
}

func isEmptyRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func maxRowWidth(grid Grid) int {
	width := 0
	for _, row := range grid {
		if len(row) > width {
			width = len(row)
		}
	}
	return width
}
