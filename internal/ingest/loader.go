package ingest

import (
	"bytes"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"receipt-reconciliation-service/pkg/errors"
	"receipt-reconciliation-service/pkg/logger"

	"github.com/shakinm/xlsReader/xls"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

// LoaderConfig holds configuration for grid loading
type LoaderConfig struct {
	// CSVDelimiter is used for .csv sources; 0 means auto-detect
	// between comma and semicolon on the first line
	CSVDelimiter rune
}

// DefaultLoaderConfig returns a configuration with sensible defaults
func DefaultLoaderConfig() *LoaderConfig {
	return &LoaderConfig{
		CSVDelimiter: 0,
	}
}

// GridLoader reads spreadsheet files into the raw cell grid
type GridLoader struct {
	config *LoaderConfig
	logger logger.Logger
}

// NewGridLoader creates a new GridLoader with the given configuration
func NewGridLoader(config *LoaderConfig) *GridLoader {
	if config == nil {
		config = DefaultLoaderConfig()
	}

	return &GridLoader{
		config: config,
		logger: logger.GetGlobalLogger().WithComponent("grid_loader"),
	}
}

// LoadFile reads the file at path into a Grid, dispatching on extension
func (gl *GridLoader) LoadFile(path string) (Grid, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.FileError(errors.CodeFileNotFound, path, err)
		}
		if os.IsPermission(err) {
			return nil, errors.FileError(errors.CodeFilePermission, path, err)
		}
		return nil, errors.FileError(errors.CodeFileCorrupted, path, err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	gl.logger.WithFields(logger.Fields{
		"file_path": path,
		"extension": ext,
		"bytes":     len(data),
	}).Debug("Loading grid")

	switch ext {
	case ".xlsx":
		return gl.loadXLSX(data, path)
	case ".xls":
		return gl.loadXLS(data, path)
	case ".csv":
		return gl.loadCSV(data, path)
	default:
		return nil, errors.ParseError(errors.CodeUnsupportedFormat, path, nil)
	}
}

// loadXLSX reads the first sheet of an xlsx workbook
func (gl *GridLoader) loadXLSX(data []byte, path string) (Grid, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.ParseError(errors.CodeInvalidFormat, path, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.ParseError(errors.CodeEmptyGrid, path, nil)
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, errors.ParseError(errors.CodeInvalidFormat, path, err)
	}

	return Grid(rows), nil
}

// loadXLS reads the first sheet of a legacy xls workbook, falling back
// to the xlsx reader when the payload is actually an xlsx renamed .xls.
func (gl *GridLoader) loadXLS(data []byte, path string) (Grid, error) {
	workbook, err := xls.OpenReader(bytes.NewReader(data))
	if err != nil {
		if _, xlsxErr := excelize.OpenReader(bytes.NewReader(data)); xlsxErr == nil {
			gl.logger.WithField("file_path", path).Debug("Treating .xls payload as xlsx")
			return gl.loadXLSX(data, path)
		}
		return nil, errors.ParseError(errors.CodeInvalidFormat, path, err)
	}

	sheets := workbook.GetSheets()
	if len(sheets) == 0 {
		return nil, errors.ParseError(errors.CodeEmptyGrid, path, nil)
	}

	var grid Grid
	for _, row := range sheets[0].GetRows() {
		var cells []string
		for _, cell := range row.GetCols() {
			cells = append(cells, cell.GetString())
		}
		grid = append(grid, cells)
	}

	return grid, nil
}

// loadCSV reads a CSV export. Files that are not valid UTF-8 are decoded
// as Latin-1 first, which covers the common European bank exports.
func (gl *GridLoader) loadCSV(data []byte, path string) (Grid, error) {
	if !utf8.Valid(data) {
		gl.logger.WithField("file_path", path).Debug("CSV is not UTF-8, decoding as Latin-1")
		decoded, _, err := transform.Bytes(charmap.ISO8859_1.NewDecoder(), data)
		if err != nil {
			return nil, errors.ParseError(errors.CodeInvalidFormat, path, err)
		}
		data = decoded
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = gl.csvDelimiter(data)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	var grid Grid
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.ParseError(errors.CodeInvalidFormat, path, err)
		}
		grid = append(grid, record)
	}

	return grid, nil
}

// csvDelimiter picks the configured delimiter, or auto-detects between
// semicolon and comma by counting occurrences on the first line.
func (gl *GridLoader) csvDelimiter(data []byte) rune {
	if gl.config.CSVDelimiter != 0 {
		return gl.config.CSVDelimiter
	}

	firstLine := string(data)
	if idx := strings.IndexByte(firstLine, '\n'); idx >= 0 {
		firstLine = firstLine[:idx]
	}

	if strings.Count(firstLine, ";") > strings.Count(firstLine, ",") {
		return ';'
	}
	return ','
}
