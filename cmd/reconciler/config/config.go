// Package config assembles component configurations from CLI input.
package config

import (
	"time"

	"receipt-reconciliation-service/internal/ingest"
	"receipt-reconciliation-service/internal/mapping"
	"receipt-reconciliation-service/internal/report"
	"receipt-reconciliation-service/internal/services"
)

// CreateLoaderConfig creates a grid loader configuration. An empty
// delimiter keeps auto-detection enabled.
func CreateLoaderConfig(delimiter string) *ingest.LoaderConfig {
	config := ingest.DefaultLoaderConfig()
	if delimiter != "" {
		config.CSVDelimiter = rune(delimiter[0])
	}
	return config
}

// CreateIngestorConfig creates a tabular ingestor configuration
func CreateIngestorConfig() *ingest.IngestorConfig {
	return ingest.DefaultIngestorConfig()
}

// CreateMapperConfig creates a column mapper configuration
func CreateMapperConfig() *mapping.MapperConfig {
	return mapping.DefaultMapperConfig()
}

// ApplyMappingOverrides replaces detected role assignments with the
// explicitly requested columns. A negative override leaves the detected
// assignment in place.
func ApplyMappingOverrides(detected mapping.Mapping, dateCol, amountCol, conceptCol int) mapping.Mapping {
	if dateCol >= 0 {
		detected.DateColumn = dateCol
	}
	if amountCol >= 0 {
		detected.AmountColumn = amountCol
	}
	if conceptCol >= 0 {
		detected.ConceptColumn = conceptCol
	}
	return detected
}

// CreateAnnotatorClientConfig creates the annotation service client configuration
func CreateAnnotatorClientConfig(baseURL string, timeout time.Duration) *services.ClientConfig {
	config := services.DefaultClientConfig(baseURL)
	if timeout > 0 {
		config.Timeout = timeout
	}
	return config
}

// CreateMatcherClientConfig creates the matching service client configuration
func CreateMatcherClientConfig(baseURL string, timeout time.Duration) *services.ClientConfig {
	config := services.DefaultClientConfig(baseURL)
	if timeout > 0 {
		config.Timeout = timeout
	}
	return config
}

// CreateExporterConfig creates a report exporter configuration
func CreateExporterConfig(format string) *report.ExporterConfig {
	config := report.DefaultExporterConfig()
	config.Format = report.OutputFormat(format)
	return config
}
