package intake

import (
	"os"
	"path/filepath"
	"sync"

	"receipt-reconciliation-service/pkg/errors"
	"receipt-reconciliation-service/pkg/logger"
)

// PreviewStore materializes receipt images as temporary files so they
// can be opened by external viewers while the session is alive. Handles
// are keyed by receipt ID and releasing one is idempotent: releasing an
// already-released or unknown handle is a no-op.
type PreviewStore struct {
	dir    string
	logger logger.Logger

	mu    sync.Mutex
	paths map[string]string
}

// NewPreviewStore creates a store backed by a fresh temporary directory
func NewPreviewStore() (*PreviewStore, error) {
	dir, err := os.MkdirTemp("", "receipt-previews-")
	if err != nil {
		return nil, errors.FileError(errors.CodeFilePermission, "preview directory", err)
	}

	return &PreviewStore{
		dir:    dir,
		logger: logger.GetGlobalLogger().WithComponent("preview_store"),
		paths:  make(map[string]string),
	}, nil
}

// Add writes the payload to a preview file for the receipt and returns
// its path. Adding twice for the same receipt replaces the old handle.
func (ps *PreviewStore) Add(receiptID, name string, data []byte) (string, error) {
	path := filepath.Join(ps.dir, receiptID+filepath.Ext(name))
	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", errors.FileError(errors.CodeFilePermission, path, err)
	}

	ps.mu.Lock()
	old, existed := ps.paths[receiptID]
	ps.paths[receiptID] = path
	ps.mu.Unlock()

	if existed && old != path {
		os.Remove(old)
	}

	return path, nil
}

// Path returns the preview path for the receipt, or "" when none exists
func (ps *PreviewStore) Path(receiptID string) string {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.paths[receiptID]
}

// Release removes the preview handle for the receipt. Safe to call more
// than once.
func (ps *PreviewStore) Release(receiptID string) {
	ps.mu.Lock()
	path, ok := ps.paths[receiptID]
	delete(ps.paths, receiptID)
	ps.mu.Unlock()

	if !ok {
		return
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		ps.logger.WithError(err).WithField("path", path).Warn("Failed to remove preview file")
	}
}

// ReleaseAll removes every preview handle and the backing directory
func (ps *PreviewStore) ReleaseAll() {
	ps.mu.Lock()
	paths := ps.paths
	ps.paths = make(map[string]string)
	ps.mu.Unlock()

	for _, path := range paths {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			ps.logger.WithError(err).WithField("path", path).Warn("Failed to remove preview file")
		}
	}
}

// Close releases all handles and deletes the temporary directory
func (ps *PreviewStore) Close() {
	ps.ReleaseAll()
	if err := os.RemoveAll(ps.dir); err != nil {
		ps.logger.WithError(err).WithField("dir", ps.dir).Warn("Failed to remove preview directory")
	}
}
