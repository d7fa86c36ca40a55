package quarantine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/mikey/phish-gateway/internal/core"
	"go.uber.org/zap"
)

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// FileStore keeps quarantined messages as individual files under a directory
type FileStore struct {
	dir    string
	logger *zap.Logger
}

// NewFileStore creates a file-backed quarantine, creating dir if needed
func NewFileStore(dir string, logger *zap.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create quarantine directory: %w", err)
	}
	logger.Info("File quarantine initialized", zap.String("path", dir))
	return &FileStore{dir: dir, logger: logger}, nil
}

func (s *FileStore) path(caseID string) (string, error) {
	name := unsafeName.ReplaceAllString(caseID, "_")
	if name == "" || name == "." || name == ".." {
		return "", fmt.Errorf("invalid case id %q", caseID)
	}
	return filepath.Join(s.dir, name+".eml"), nil
}

// Store writes the message atomically via a temp file and rename
func (s *FileStore) Store(ctx context.Context, caseID string, raw []byte) error {
	path, err := s.path(caseID)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, ".incoming-*")
	if err != nil {
		return fmt.Errorf("failed to create quarantine file: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write quarantine file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to sync quarantine file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close quarantine file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to commit quarantine file: %w", err)
	}

	s.logger.Debug("Message quarantined", zap.String("case_id", caseID), zap.String("path", path))
	return nil
}

// Retrieve returns the quarantined message or core.ErrNotFound
func (s *FileStore) Retrieve(ctx context.Context, caseID string) ([]byte, error) {
	path, err := s.path(caseID)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read quarantine file: %w", err)
	}
	return raw, nil
}

// Delete removes a quarantined message; deleting a missing one is not an error
func (s *FileStore) Delete(ctx context.Context, caseID string) error {
	path, err := s.path(caseID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete quarantine file: %w", err)
	}
	return nil
}
