package config

import (
	"testing"
	"time"

	"receipt-reconciliation-service/internal/mapping"
	"receipt-reconciliation-service/internal/report"
)

func TestCreateLoaderConfig(t *testing.T) {
	auto := CreateLoaderConfig("")
	if auto.CSVDelimiter != 0 {
		t.Errorf("Expected auto-detection, got %q", auto.CSVDelimiter)
	}

	semicolon := CreateLoaderConfig(";")
	if semicolon.CSVDelimiter != ';' {
		t.Errorf("Expected semicolon delimiter, got %q", semicolon.CSVDelimiter)
	}
}

func TestApplyMappingOverrides(t *testing.T) {
	detected := mapping.Mapping{DateColumn: 0, AmountColumn: 1, ConceptColumn: 2}

	// Negative overrides keep the detected assignment.
	unchanged := ApplyMappingOverrides(detected, -1, -1, -1)
	if unchanged != detected {
		t.Errorf("Expected detected mapping to be kept, got %+v", unchanged)
	}

	overridden := ApplyMappingOverrides(detected, 3, -1, 4)
	if overridden.DateColumn != 3 || overridden.AmountColumn != 1 || overridden.ConceptColumn != 4 {
		t.Errorf("Unexpected override result: %+v", overridden)
	}
}

func TestCreateClientConfigs(t *testing.T) {
	annotator := CreateAnnotatorClientConfig("http://localhost:8080", 30*time.Second)
	if annotator.BaseURL != "http://localhost:8080" || annotator.Timeout != 30*time.Second {
		t.Errorf("Unexpected annotator config: %+v", annotator)
	}

	// Zero timeout keeps the default.
	matcher := CreateMatcherClientConfig("http://localhost:8081", 0)
	if matcher.Timeout <= 0 {
		t.Errorf("Expected default timeout, got %v", matcher.Timeout)
	}
}

func TestCreateExporterConfig(t *testing.T) {
	config := CreateExporterConfig("xlsx")
	if config.Format != report.FormatXLSX {
		t.Errorf("Expected xlsx format, got %s", config.Format)
	}
	if err := config.Validate(); err != nil {
		t.Errorf("Expected valid config: %v", err)
	}

	invalid := CreateExporterConfig("yaml")
	if err := invalid.Validate(); err == nil {
		t.Error("Expected validation error for unsupported format")
	}
}
