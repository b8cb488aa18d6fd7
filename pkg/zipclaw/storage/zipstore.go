package storage

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// ZipStore keeps each namespace's artifacts inside a single zip container
// file (<dir>/<namespace>.zip). Put rewrites the container to a temp file
// and renames it into place, so a crashed write never corrupts the store.
//
// Rewriting the whole container on every Put is O(total size); fine for
// the small archives this bot handles.
type ZipStore struct {
	dir    string
	logger *slog.Logger
	mu     sync.Mutex
}

// NewZipStore creates a zip-container artifact store rooted at dir.
func NewZipStore(dir string, logger *slog.Logger) *ZipStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &ZipStore{
		dir:    dir,
		logger: logger.With("component", "storage-zip"),
	}
}

func (z *ZipStore) containerPath(namespace string) string {
	return filepath.Join(z.dir, namespace+".zip")
}

// Put replaces or adds the named artifact inside the namespace container.
func (z *ZipStore) Put(ctx context.Context, namespace, name string, r io.Reader) error {
	if err := validateKey(namespace, name); err != nil {
		return err
	}

	z.mu.Lock()
	defer z.mu.Unlock()

	if err := os.MkdirAll(z.dir, 0o700); err != nil {
		return fmt.Errorf("creating store directory: %w", err)
	}

	// Read the existing container, if any. Entries other than the one
	// being replaced are carried over unchanged.
	existing := map[string][]byte{}
	var order []string
	if rc, err := zip.OpenReader(z.containerPath(namespace)); err == nil {
		for _, f := range rc.File {
			if f.Name == name {
				continue
			}
			fr, err := f.Open()
			if err != nil {
				rc.Close()
				return fmt.Errorf("reading container entry %s: %w", f.Name, err)
			}
			data, err := io.ReadAll(fr)
			fr.Close()
			if err != nil {
				rc.Close()
				return fmt.Errorf("reading container entry %s: %w", f.Name, err)
			}
			existing[f.Name] = data
			order = append(order, f.Name)
		}
		rc.Close()
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("opening container: %w", err)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("reading artifact: %w", err)
	}
	existing[name] = data
	order = append(order, name)

	tmp, err := os.CreateTemp(z.dir, ".container-*")
	if err != nil {
		return fmt.Errorf("creating temp container: %w", err)
	}
	tmpPath := tmp.Name()

	zw := zip.NewWriter(tmp)
	for _, entryName := range order {
		w, err := zw.Create(entryName)
		if err == nil {
			_, err = w.Write(existing[entryName])
		}
		if err != nil {
			zw.Close()
			tmp.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("writing container entry %s: %w", entryName, err)
		}
	}
	if err := zw.Close(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("finalizing container: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing container: %w", err)
	}

	if err := os.Rename(tmpPath, z.containerPath(namespace)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("publishing container: %w", err)
	}

	z.logger.Debug("artifact stored", "namespace", namespace, "name", name,
		"entries", len(existing))
	return nil
}

// Get returns the named artifact from the namespace container.
func (z *ZipStore) Get(ctx context.Context, namespace, name string) ([]byte, error) {
	if err := validateKey(namespace, name); err != nil {
		return nil, err
	}

	z.mu.Lock()
	defer z.mu.Unlock()

	rc, err := zip.OpenReader(z.containerPath(namespace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("opening container: %w", err)
	}
	defer rc.Close()

	for _, f := range rc.File {
		if f.Name != name {
			continue
		}
		fr, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("opening artifact: %w", err)
		}
		defer fr.Close()
		data, err := io.ReadAll(fr)
		if err != nil {
			return nil, fmt.Errorf("reading artifact: %w", err)
		}
		return data, nil
	}
	return nil, ErrNotFound
}

// List returns sorted artifact names in the namespace container.
func (z *ZipStore) List(ctx context.Context, namespace string) ([]string, error) {
	if err := validateKey(namespace, "-"); err != nil {
		return nil, err
	}

	z.mu.Lock()
	defer z.mu.Unlock()

	rc, err := zip.OpenReader(z.containerPath(namespace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening container: %w", err)
	}
	defer rc.Close()

	names := make([]string, 0, len(rc.File))
	for _, f := range rc.File {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	return names, nil
}

var _ Backend = (*ZipStore)(nil)
