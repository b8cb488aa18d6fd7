// Package archive bundles staged files into a single zip artifact.
// Entries are written in staging order, so the same upload sequence
// always produces the same archive layout.
package archive

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/jholhewres/zipclaw/pkg/zipclaw/staging"
)

// RequiredSuffix is the archive name suffix accepted by the assembler.
const RequiredSuffix = ".zip"

// InvalidNameError reports an archive name that fails the naming rules.
// The user can correct the name and retry.
type InvalidNameError struct {
	Name   string
	Reason string
}

func (e *InvalidNameError) Error() string {
	return fmt.Sprintf("invalid archive name %q: %s", e.Name, e.Reason)
}

// ValidateName checks an archive name against the naming rules:
// non-empty, no path separators, no leading dot, must end in ".zip".
// Dot-prefixed names are refused because the stores treat them as
// internal files and hide them from listings.
func ValidateName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return &InvalidNameError{Name: name, Reason: "name is empty"}
	case strings.ContainsAny(name, `/\`):
		return &InvalidNameError{Name: name, Reason: "name must not contain path separators"}
	case strings.HasPrefix(name, "."):
		return &InvalidNameError{Name: name, Reason: "name must not start with a dot"}
	case !strings.HasSuffix(strings.ToLower(name), RequiredSuffix):
		return &InvalidNameError{Name: name, Reason: "name must end in " + RequiredSuffix}
	}
	return nil
}

// Assembler turns an ordered set of staged files into a zip artifact.
type Assembler struct {
	stager *staging.Stager
	logger *slog.Logger
}

// New creates an Assembler. Assembled artifacts are written to the
// stager's scratch directory; the stager also provides staged-file
// cleanup after a successful assembly.
func New(stager *staging.Stager, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{
		stager: stager,
		logger: logger.With("component", "assembler"),
	}
}

// Assemble writes the staged files into a zip named archiveName and
// returns the path of the produced artifact in scratch space. The caller
// owns the returned file and removes it once the backend has accepted it.
//
// Entries appear in staging order. When several staged files share a
// display name, the last one wins: the name appears once, at the position
// of its last occurrence, carrying the last staged content.
//
// On success every staged scratch file is deleted. On failure the staged
// files are left intact for retry and no partial artifact remains.
func (a *Assembler) Assemble(ctx context.Context, files []staging.StagedFile, archiveName string) (string, error) {
	if err := ValidateName(archiveName); err != nil {
		return "", err
	}
	if len(files) == 0 {
		return "", fmt.Errorf("nothing to assemble")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	outPath := filepath.Join(a.stager.Dir(), "assembly-"+uuid.New().String()+RequiredSuffix)
	out, err := os.OpenFile(outPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", fmt.Errorf("creating archive: %w", err)
	}

	fail := func(err error) (string, error) {
		out.Close()
		os.Remove(outPath)
		return "", err
	}

	zw := zip.NewWriter(out)
	for _, f := range dedupeLastWins(files) {
		w, err := zw.Create(f.DisplayName)
		if err != nil {
			return fail(fmt.Errorf("adding entry %s: %w", f.DisplayName, err))
		}
		src, err := os.Open(f.Path)
		if err != nil {
			return fail(fmt.Errorf("opening staged file %s: %w", f.DisplayName, err))
		}
		_, err = io.Copy(w, src)
		src.Close()
		if err != nil {
			return fail(fmt.Errorf("writing entry %s: %w", f.DisplayName, err))
		}
	}
	if err := zw.Close(); err != nil {
		return fail(fmt.Errorf("finalizing archive: %w", err))
	}
	if err := out.Close(); err != nil {
		os.Remove(outPath)
		return "", fmt.Errorf("closing archive: %w", err)
	}

	// Assembly succeeded; the staged scratch files are now consumed.
	a.stager.Discard(files)

	a.logger.Info("archive assembled",
		"name", archiveName,
		"files", len(files),
	)
	return outPath, nil
}

// dedupeLastWins keeps one entry per display name, preserving the order of
// each name's last occurrence.
func dedupeLastWins(files []staging.StagedFile) []staging.StagedFile {
	last := make(map[string]int, len(files))
	for i, f := range files {
		last[f.DisplayName] = i
	}
	out := make([]staging.StagedFile, 0, len(last))
	for i, f := range files {
		if last[f.DisplayName] == i {
			out = append(out, f)
		}
	}
	return out
}
