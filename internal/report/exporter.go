package report

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"receipt-reconciliation-service/pkg/errors"
	"receipt-reconciliation-service/pkg/logger"

	"github.com/xuri/excelize/v2"
)

// OutputFormat represents the supported report output formats
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatXLSX    OutputFormat = "xlsx"
)

// IsValid checks if the output format is supported
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatXLSX:
		return true
	default:
		return false
	}
}

// ExporterConfig holds configuration options for report export
type ExporterConfig struct {
	Format OutputFormat `json:"format"`

	// Console formatting
	TableMaxWidth int `json:"table_max_width"`
}

// DefaultExporterConfig returns a default exporter configuration
func DefaultExporterConfig() *ExporterConfig {
	return &ExporterConfig{
		Format:        FormatConsole,
		TableMaxWidth: 120,
	}
}

// Validate validates the exporter configuration
func (c *ExporterConfig) Validate() error {
	if !c.Format.IsValid() {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "format", nil)
	}
	if c.TableMaxWidth < 50 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "table_max_width", nil)
	}
	return nil
}

// ReportExporter renders a report document to its output format
type ReportExporter struct {
	config *ExporterConfig
	logger logger.Logger
}

// NewReportExporter creates a new ReportExporter with the given configuration
func NewReportExporter(config *ExporterConfig) (*ReportExporter, error) {
	if config == nil {
		config = DefaultExporterConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &ReportExporter{
		config: config,
		logger: logger.GetGlobalLogger().WithComponent("report_exporter"),
	}, nil
}

// Export writes the report to the writer in the configured format
func (re *ReportExporter) Export(report *Report, writer io.Writer) error {
	switch re.config.Format {
	case FormatXLSX:
		return re.exportXLSX(report, writer)
	case FormatConsole:
		return re.exportConsole(report, writer)
	default:
		return errors.ConfigurationError(errors.CodeInvalidConfig, "format", nil)
	}
}

// exportXLSX writes a workbook with one sheet per table. The summary
// table always becomes the first sheet.
func (re *ReportExporter) exportXLSX(report *Report, writer io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	for i, table := range report.Tables {
		sheet := table.Name
		if i == 0 {
			// Rename the default sheet instead of adding a new one
			if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
				return errors.InternalError(errors.CodeUnexpectedError, "workbook assembly", err)
			}
		} else {
			if _, err := f.NewSheet(sheet); err != nil {
				return errors.InternalError(errors.CodeUnexpectedError, "workbook assembly", err)
			}
		}

		if err := re.writeSheet(f, sheet, table); err != nil {
			return err
		}
	}

	if _, err := f.WriteTo(writer); err != nil {
		return errors.FileError(errors.CodeFilePermission, "report output", err)
	}

	re.logger.WithField("sheets", len(report.Tables)).Info("Exported workbook")
	return nil
}

func (re *ReportExporter) writeSheet(f *excelize.File, sheet string, table Table) error {
	for col, header := range table.Headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return errors.InternalError(errors.CodeUnexpectedError, "workbook assembly", err)
		}
		if err := f.SetCellValue(sheet, cell, header); err != nil {
			return errors.InternalError(errors.CodeUnexpectedError, "workbook assembly", err)
		}
	}

	for rowIdx, row := range table.Rows {
		for col, value := range row {
			cell, err := excelize.CoordinatesToCellName(col+1, rowIdx+2)
			if err != nil {
				return errors.InternalError(errors.CodeUnexpectedError, "workbook assembly", err)
			}
			if err := f.SetCellValue(sheet, cell, value); err != nil {
				return errors.InternalError(errors.CodeUnexpectedError, "workbook assembly", err)
			}
		}
	}

	return nil
}

// exportConsole renders the tables as aligned text sections
func (re *ReportExporter) exportConsole(report *Report, writer io.Writer) error {
	for i, table := range report.Tables {
		if i > 0 {
			fmt.Fprintln(writer)
		}

		fmt.Fprintf(writer, "=== %s ===\n", table.Name)
		re.printTable(writer, table)
	}
	return nil
}

func (re *ReportExporter) printTable(writer io.Writer, table Table) {
	widths := re.columnWidths(table)

	re.printRow(writer, table.Headers, widths)
	re.printRow(writer, separatorRow(widths), widths)
	for _, row := range table.Rows {
		re.printRow(writer, row, widths)
	}
}

// columnWidths measures cells in runes, not bytes, so accented text
// does not skew the layout.
func (re *ReportExporter) columnWidths(table Table) []int {
	widths := make([]int, len(table.Headers))
	for i, h := range table.Headers {
		widths[i] = utf8.RuneCountInString(h)
	}
	for _, row := range table.Rows {
		for i, cell := range row {
			if n := utf8.RuneCountInString(cell); i < len(widths) && n > widths[i] {
				widths[i] = n
			}
		}
	}

	// Clamp columns so a long narrative cannot blow up the layout
	max := re.config.TableMaxWidth / len(widths)
	for i := range widths {
		if widths[i] > max {
			widths[i] = max
		}
	}
	return widths
}

func (re *ReportExporter) printRow(writer io.Writer, cells []string, widths []int) {
	parts := make([]string, len(widths))
	for i := range widths {
		var cell string
		if i < len(cells) {
			cell = cells[i]
		}
		runes := []rune(cell)
		if len(runes) > widths[i] {
			cell = string(runes[:widths[i]-3]) + "..."
			runes = []rune(cell)
		}
		parts[i] = cell + strings.Repeat(" ", widths[i]-len(runes))
	}
	fmt.Fprintln(writer, strings.TrimRight(strings.Join(parts, "  "), " "))
}

func separatorRow(widths []int) []string {
	row := make([]string, len(widths))
	for i, w := range widths {
		row[i] = strings.Repeat("-", w)
	}
	return row
}
