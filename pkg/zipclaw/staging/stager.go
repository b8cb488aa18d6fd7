// Package staging accepts inbound file blobs and parks them in a scratch
// directory until they are bundled into an archive. A staged file is fully
// written before it becomes visible to callers; partially copied data
// never leaks into a session.
package staging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxFileSize caps a single staged file at 50MB.
const DefaultMaxFileSize = 50 * 1024 * 1024

// ErrTooLarge is returned when an inbound file exceeds the size limit.
var ErrTooLarge = errors.New("file exceeds size limit")

// StagedFile references a fully written scratch copy of an uploaded file.
type StagedFile struct {
	// DisplayName is the user-facing name, used as the archive entry name.
	DisplayName string

	// Path is the scratch location holding the bytes.
	Path string

	// Size is the staged size in bytes.
	Size int64
}

// Stager copies inbound byte sources into a scratch directory.
type Stager struct {
	dir     string
	maxSize int64
	logger  *slog.Logger
}

// New creates a Stager writing to dir. maxSize <= 0 uses the default.
func New(dir string, maxSize int64, logger *slog.Logger) *Stager {
	if logger == nil {
		logger = slog.Default()
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}
	return &Stager{
		dir:     dir,
		maxSize: maxSize,
		logger:  logger.With("component", "stager"),
	}
}

// Dir returns the scratch directory root.
func (s *Stager) Dir() string { return s.dir }

// Stage copies r into an exclusively-owned scratch file and returns its
// handle. The copy goes to a temp name and is renamed into place, so a
// returned StagedFile always references complete data. On any error no
// scratch file is left behind.
func (s *Stager) Stage(ctx context.Context, displayName string, r io.Reader) (StagedFile, error) {
	if err := ctx.Err(); err != nil {
		return StagedFile{}, err
	}
	displayName = sanitizeName(displayName)
	if displayName == "" {
		displayName = "file"
	}

	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return StagedFile{}, fmt.Errorf("creating scratch directory: %w", err)
	}

	id := uuid.New().String()
	tmpPath := filepath.Join(s.dir, id+".partial")
	finalPath := filepath.Join(s.dir, id)

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return StagedFile{}, fmt.Errorf("creating scratch file: %w", err)
	}

	n, err := io.Copy(f, io.LimitReader(r, s.maxSize+1))
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return StagedFile{}, fmt.Errorf("copying %s: %w", displayName, err)
	}
	if n > s.maxSize {
		f.Close()
		os.Remove(tmpPath)
		return StagedFile{}, fmt.Errorf("staging %s: %w", displayName, ErrTooLarge)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return StagedFile{}, fmt.Errorf("closing scratch file: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return StagedFile{}, fmt.Errorf("finalizing scratch file: %w", err)
	}

	s.logger.Debug("file staged", "name", displayName, "size", n)

	return StagedFile{
		DisplayName: displayName,
		Path:        finalPath,
		Size:        n,
	}, nil
}

// Discard removes the scratch files backing the given handles.
// Missing files are ignored.
func (s *Stager) Discard(files []StagedFile) {
	for _, f := range files {
		if err := os.Remove(f.Path); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("failed to remove scratch file",
				"path", f.Path, "error", err)
		}
	}
}

// SweepOlderThan removes scratch files (including leftover partials) whose
// modification time is before the cutoff. Returns the number removed.
// Keep the cutoff comfortably beyond the session TTL so in-flight uploads
// are never swept.
func (s *Stager) SweepOlderThan(cutoff time.Time) int {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0
	}

	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err == nil {
			removed++
		}
	}
	if removed > 0 {
		s.logger.Info("scratch files swept", "removed", removed)
	}
	return removed
}

// sanitizeName strips path components and control characters from a
// user-supplied file name.
func sanitizeName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	if name == "." || name == ".." || name == "/" {
		return ""
	}

	var b strings.Builder
	for _, r := range name {
		if r >= 32 && r != 127 {
			b.WriteRune(r)
		}
	}
	out := b.String()
	if len(out) > 255 {
		// Keep the extension through the truncation unless the
		// extension itself fills the limit.
		ext := filepath.Ext(out)
		if len(ext) >= 255 {
			out = out[:255]
		} else {
			out = out[:255-len(ext)] + ext
		}
	}
	return out
}
