package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Local stores artifacts as plain files under dir/namespace/name.
// Writes go to a temp file in the same directory and become visible
// atomically via rename.
type Local struct {
	dir    string
	logger *slog.Logger
}

// NewLocal creates a directory-backed artifact store rooted at dir.
func NewLocal(dir string, logger *slog.Logger) *Local {
	if logger == nil {
		logger = slog.Default()
	}
	return &Local{
		dir:    dir,
		logger: logger.With("component", "storage-local"),
	}
}

// Put writes the artifact via temp file + rename.
func (l *Local) Put(ctx context.Context, namespace, name string, r io.Reader) error {
	if err := validateKey(namespace, name); err != nil {
		return err
	}
	nsDir := filepath.Join(l.dir, namespace)
	if err := os.MkdirAll(nsDir, 0o700); err != nil {
		return fmt.Errorf("creating namespace directory: %w", err)
	}

	tmp, err := os.CreateTemp(nsDir, ".put-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing artifact: %w", err)
	}

	final := filepath.Join(nsDir, name)
	if err := os.Rename(tmpPath, final); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("publishing artifact: %w", err)
	}

	l.logger.Debug("artifact stored", "namespace", namespace, "name", name)
	return nil
}

// Get reads the artifact bytes, or returns ErrNotFound.
func (l *Local) Get(ctx context.Context, namespace, name string) ([]byte, error) {
	if err := validateKey(namespace, name); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(l.dir, namespace, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading artifact: %w", err)
	}
	return data, nil
}

// List returns sorted artifact names in the namespace.
func (l *Local) List(ctx context.Context, namespace string) ([]string, error) {
	if err := validateKey(namespace, "-"); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(l.dir, namespace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading namespace directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// validateKey rejects keys that would escape the store directory.
func validateKey(namespace, name string) error {
	for _, part := range []string{namespace, name} {
		if part == "" || part == "." || part == ".." ||
			strings.ContainsAny(part, `/\`) {
			return fmt.Errorf("invalid artifact key %q/%q", namespace, name)
		}
	}
	return nil
}

var _ Backend = (*Local)(nil)
