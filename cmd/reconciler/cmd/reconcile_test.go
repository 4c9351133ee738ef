package cmd

import (
	"os"
	"path/filepath"
	"testing"
)

func TestValidateFileExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "statement.csv")
	if err := os.WriteFile(path, []byte("Date,Amount\n"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := validateFileExists(path, "statement file"); err != nil {
		t.Errorf("Expected existing file to validate: %v", err)
	}

	if err := validateFileExists(filepath.Join(dir, "missing.csv"), "statement file"); err == nil {
		t.Error("Expected error for missing file")
	}

	if err := validateFileExists(dir, "statement file"); err == nil {
		t.Error("Expected error for directory path")
	}

	if err := validateFileExists("", "statement file"); err == nil {
		t.Error("Expected error for empty path")
	}
}

func TestValidateDirExists(t *testing.T) {
	dir := t.TempDir()

	if err := validateDirExists(dir, "receipts directory"); err != nil {
		t.Errorf("Expected existing directory to validate: %v", err)
	}

	if err := validateDirExists(filepath.Join(dir, "missing"), "receipts directory"); err == nil {
		t.Error("Expected error for missing directory")
	}

	file := filepath.Join(dir, "file.txt")
	if err := os.WriteFile(file, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := validateDirExists(file, "receipts directory"); err == nil {
		t.Error("Expected error for file path")
	}
}

func TestCollectReceiptFiles(t *testing.T) {
	dir := t.TempDir()
	for name, content := range map[string]string{
		"b.jpg":     "jpeg",
		"a.pdf":     "pdf",
		"notes.txt": "skip me",
		".DS_Store": "skip me too",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "subdir"), 0755); err != nil {
		t.Fatal(err)
	}

	files, err := collectReceiptFiles(dir)
	if err != nil {
		t.Fatalf("collectReceiptFiles failed: %v", err)
	}

	if len(files) != 2 {
		t.Fatalf("Expected 2 receipt files, got %d", len(files))
	}
	// Name order for a stable receipt index space
	if files[0].Name != "a.pdf" || files[1].Name != "b.jpg" {
		t.Errorf("Expected sorted supported files, got %s, %s", files[0].Name, files[1].Name)
	}
	if string(files[1].Data) != "jpeg" {
		t.Errorf("Expected file contents to be read, got %q", files[1].Data)
	}
}

func TestCollectReceiptFilesEmptyDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := collectReceiptFiles(dir); err == nil {
		t.Error("Expected error when no supported receipt files exist")
	}
}
