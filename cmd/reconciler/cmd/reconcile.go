package cmd

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"time"

	"receipt-reconciliation-service/cmd/reconciler/config"
	"receipt-reconciliation-service/internal/ingest"
	"receipt-reconciliation-service/internal/intake"
	"receipt-reconciliation-service/internal/mapping"
	"receipt-reconciliation-service/internal/reconcile"
	"receipt-reconciliation-service/internal/report"
	"receipt-reconciliation-service/internal/services"
	"receipt-reconciliation-service/pkg/errors"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flags for the reconcile command
var (
	statementFile string
	receiptsDir   string
	annotatorURL  string
	matcherURL    string
	outputFormat  string
	outputFile    string
	csvDelimiter  string
	timeout       time.Duration

	// Manual column overrides; -1 keeps the detected assignment
	dateColumn    int
	amountColumn  int
	conceptColumn int
)

// reconcileCmd represents the reconcile command
var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Reconcile statement movements with receipt files",
	Long: `Reconcile reads a bank statement spreadsheet, annotates every receipt
file in the receipts directory through the annotation service, asks the
matching service to pair movements with receipts, and writes a report.

This command requires:
- A statement file (.xlsx, .xls or .csv)
- A directory of receipt files (images or PDFs)

Examples:
  # Basic reconciliation with console output
  reconciler reconcile --statement-file statement.xlsx --receipts-dir ./receipts

  # Workbook output
  reconciler reconcile -s statement.csv -r ./receipts \
    --output-format xlsx --output-file report.xlsx

  # Manual column selection when header detection misfires
  reconciler reconcile -s statement.csv -r ./receipts \
    --amount-column 2 --date-column 0

  # Custom service endpoints
  reconciler reconcile -s statement.xlsx -r ./receipts \
    --annotator-url http://annotator:8080 --matcher-url http://matcher:8081`,

	PreRunE: validateReconcileFlags,
	RunE:    runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)

	// Required flags
	reconcileCmd.Flags().StringVarP(&statementFile, "statement-file", "s", "", "path to statement spreadsheet (required)")
	reconcileCmd.Flags().StringVarP(&receiptsDir, "receipts-dir", "r", "", "directory containing receipt files (required)")

	// Service endpoints
	reconcileCmd.Flags().StringVar(&annotatorURL, "annotator-url", "http://localhost:8080", "annotation service base URL")
	reconcileCmd.Flags().StringVar(&matcherURL, "matcher-url", "http://localhost:8081", "matching service base URL")
	reconcileCmd.Flags().DurationVar(&timeout, "timeout", 60*time.Second, "per-request timeout for service calls")

	// Output flags
	reconcileCmd.Flags().StringVarP(&outputFormat, "output-format", "f", "console", "output format: console, xlsx")
	reconcileCmd.Flags().StringVarP(&outputFile, "output-file", "o", "", "output file path (default: stdout)")

	// Ingestion flags
	reconcileCmd.Flags().StringVar(&csvDelimiter, "csv-delimiter", "", "CSV delimiter (default: auto-detect)")
	reconcileCmd.Flags().IntVar(&dateColumn, "date-column", -1, "0-based date column override")
	reconcileCmd.Flags().IntVar(&amountColumn, "amount-column", -1, "0-based amount column override")
	reconcileCmd.Flags().IntVar(&conceptColumn, "concept-column", -1, "0-based concept column override")

	// Mark required flags
	reconcileCmd.MarkFlagRequired("statement-file")
	reconcileCmd.MarkFlagRequired("receipts-dir")

	// Bind flags to viper
	viper.BindPFlag("statement-file", reconcileCmd.Flags().Lookup("statement-file"))
	viper.BindPFlag("receipts-dir", reconcileCmd.Flags().Lookup("receipts-dir"))
	viper.BindPFlag("annotator-url", reconcileCmd.Flags().Lookup("annotator-url"))
	viper.BindPFlag("matcher-url", reconcileCmd.Flags().Lookup("matcher-url"))
	viper.BindPFlag("timeout", reconcileCmd.Flags().Lookup("timeout"))
	viper.BindPFlag("output-format", reconcileCmd.Flags().Lookup("output-format"))
	viper.BindPFlag("output-file", reconcileCmd.Flags().Lookup("output-file"))
	viper.BindPFlag("csv-delimiter", reconcileCmd.Flags().Lookup("csv-delimiter"))
}

func validateReconcileFlags(cmd *cobra.Command, args []string) error {
	// Get values from viper (allows override from config file)
	statementFile = viper.GetString("statement-file")
	receiptsDir = viper.GetString("receipts-dir")
	annotatorURL = viper.GetString("annotator-url")
	matcherURL = viper.GetString("matcher-url")
	timeout = viper.GetDuration("timeout")
	outputFormat = viper.GetString("output-format")
	outputFile = viper.GetString("output-file")
	csvDelimiter = viper.GetString("csv-delimiter")

	// Validate required flags
	if statementFile == "" {
		return fmt.Errorf("statement-file is required")
	}
	if receiptsDir == "" {
		return fmt.Errorf("receipts-dir is required")
	}

	if err := validateFileExists(statementFile, "statement file"); err != nil {
		return err
	}
	if err := validateDirExists(receiptsDir, "receipts directory"); err != nil {
		return err
	}

	// Validate output format
	if !report.OutputFormat(outputFormat).IsValid() {
		return fmt.Errorf("invalid output format '%s'. Valid formats: console, xlsx", outputFormat)
	}

	// Validate endpoints
	for name, endpoint := range map[string]string{"annotator-url": annotatorURL, "matcher-url": matcherURL} {
		parsed, err := url.Parse(endpoint)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("invalid %s '%s': expected an absolute URL", name, endpoint)
		}
	}

	if timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}

	if len(csvDelimiter) > 1 {
		return fmt.Errorf("csv-delimiter must be a single character")
	}

	// Validate output file directory exists if specified
	if outputFile != "" {
		dir := filepath.Dir(outputFile)
		if dir != "." {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				return fmt.Errorf("output directory does not exist: %s", dir)
			}
		}
	}

	return nil
}

func validateFileExists(filePath, description string) error {
	if filePath == "" {
		return fmt.Errorf("%s path cannot be empty", description)
	}

	info, err := os.Stat(filePath)
	if os.IsNotExist(err) {
		return fmt.Errorf("%s does not exist: %s", description, filePath)
	}
	if err != nil {
		return fmt.Errorf("error accessing %s: %w", description, err)
	}

	if info.IsDir() {
		return fmt.Errorf("%s is a directory, expected a file: %s", description, filePath)
	}

	// Check if file is readable
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("%s is not readable: %w", description, err)
	}
	file.Close()

	return nil
}

func validateDirExists(dirPath, description string) error {
	info, err := os.Stat(dirPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("%s does not exist: %s", description, dirPath)
	}
	if err != nil {
		return fmt.Errorf("error accessing %s: %w", description, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory: %s", description, dirPath)
	}
	return nil
}

func runReconcile(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if viper.GetBool("verbose") {
		fmt.Fprintf(os.Stderr, "Starting reconciliation...\n")
		fmt.Fprintf(os.Stderr, "Statement file: %s\n", statementFile)
		fmt.Fprintf(os.Stderr, "Receipts directory: %s\n", receiptsDir)
		fmt.Fprintf(os.Stderr, "Output format: %s\n", outputFormat)
		if outputFile != "" {
			fmt.Fprintf(os.Stderr, "Output file: %s\n", outputFile)
		}
	}

	// Load and ingest the statement
	loader := ingest.NewGridLoader(config.CreateLoaderConfig(csvDelimiter))
	grid, err := loader.LoadFile(statementFile)
	if err != nil {
		return err
	}

	ingestor, err := ingest.NewTabularIngestor(config.CreateIngestorConfig())
	if err != nil {
		return err
	}
	table, err := ingestor.Ingest(grid)
	if err != nil {
		return err
	}

	// Map columns to roles
	mapper := mapping.NewColumnMapper(config.CreateMapperConfig())
	roles := config.ApplyMappingOverrides(mapper.DetectRoles(table.Headers), dateColumn, amountColumn, conceptColumn)
	movements, err := mapper.ApplyMapping(table, roles)
	if err != nil {
		return err
	}

	if viper.GetBool("verbose") {
		fmt.Fprintf(os.Stderr, "Loaded %d movements from %d data rows\n", len(movements), len(table.Rows))
	}

	// Build the collaborating services and session
	annotator, err := services.NewAnnotatorClient(config.CreateAnnotatorClientConfig(annotatorURL, timeout))
	if err != nil {
		return err
	}
	matcher, err := services.NewMatcherClient(config.CreateMatcherClientConfig(matcherURL, timeout))
	if err != nil {
		return err
	}

	previews, err := intake.NewPreviewStore()
	if err != nil {
		return err
	}
	defer previews.Close()

	pipeline, err := intake.NewReceiptIntakePipeline(nil, annotator, previews)
	if err != nil {
		return err
	}
	aggregator, err := reconcile.NewReconciliationAggregator(matcher)
	if err != nil {
		return err
	}

	session := reconcile.NewSession(pipeline, aggregator)
	session.SetMovements(movements)

	// Submit and annotate receipts
	files, err := collectReceiptFiles(receiptsDir)
	if err != nil {
		return err
	}
	if _, err := session.SubmitReceipts(files); err != nil {
		return err
	}
	if err := session.AnnotateReceipts(ctx); err != nil {
		return err
	}
	if summary := pipeline.FailureSummary(); summary.Total > 0 {
		fmt.Fprintf(os.Stderr, "Warning: %s\n", summary.Error())
		if summary.HasCategory(errors.CategoryTransport) {
			fmt.Fprintf(os.Stderr, "Affected receipts are reported as errored; check the annotation service and re-run.\n")
		}
	}

	// Reconcile
	result, stats, err := session.Reconcile(ctx)
	if err != nil {
		return err
	}

	// Build and export the report
	builder := report.NewReportBuilder()
	doc := builder.Build(session.Movements(), session.UsableReceipts(), result, stats)

	exporter, err := report.NewReportExporter(config.CreateExporterConfig(outputFormat))
	if err != nil {
		return err
	}

	// Determine output destination
	var output *os.File
	if outputFile != "" {
		output, err = os.Create(outputFile)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer output.Close()
	} else {
		output = os.Stdout
	}

	if err := exporter.Export(doc, output); err != nil {
		return err
	}

	// Show completion message
	if viper.GetBool("verbose") {
		fmt.Fprintf(os.Stderr, "\nReconciliation completed successfully.\n")
		fmt.Fprintf(os.Stderr, "Matched %d of %d movements (%d%%).\n",
			stats.MatchedCount, stats.TotalMovements, stats.Percentage)
		fmt.Fprintf(os.Stderr, "%d unmatched movements, %d unmatched receipts.\n",
			len(result.UnmatchedMovements), len(result.UnmatchedReceipts))
	}

	return nil
}

// collectReceiptFiles reads every supported receipt file in the
// directory, in name order. Unsupported files are skipped here so a
// stray .DS_Store or notes.txt cannot reject the whole batch.
func collectReceiptFiles(dir string) ([]intake.IntakeFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read receipts directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if intake.DetectMediaType(entry.Name()) == "" {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	files := make([]intake.IntakeFile, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read receipt %s: %w", path, err)
		}
		files = append(files, intake.IntakeFile{Name: name, Data: data})
	}

	if len(files) == 0 {
		return nil, fmt.Errorf("no receipt files found in %s", dir)
	}

	return files, nil
}
