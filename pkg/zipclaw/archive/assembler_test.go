package archive

import (
	"archive/zip"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/jholhewres/zipclaw/pkg/zipclaw/staging"
)

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid", "2025-01-01.zip", false},
		{"valid uppercase suffix", "backup.ZIP", false},
		{"missing suffix", "notes", true},
		{"empty", "", true},
		{"whitespace only", "   ", true},
		{"just the suffix", ".zip", true},
		{"leading dot", ".notes.zip", true},
		{"forward slash", "a/b.zip", true},
		{"backslash", `a\b.zip`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.input)
			if tt.wantErr && err == nil {
				t.Errorf("ValidateName(%q) = nil, want error", tt.input)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("ValidateName(%q) = %v, want nil", tt.input, err)
			}
			if err != nil {
				var nameErr *InvalidNameError
				if !errors.As(err, &nameErr) {
					t.Errorf("expected InvalidNameError, got %T", err)
				}
			}
		})
	}
}

func stage(t *testing.T, s *staging.Stager, name, content string) staging.StagedFile {
	t.Helper()
	f, err := s.Stage(context.Background(), name, strings.NewReader(content))
	if err != nil {
		t.Fatalf("staging %s: %v", name, err)
	}
	return f
}

func readZip(t *testing.T, path string) map[string]string {
	t.Helper()
	zr, err := zip.OpenReader(path)
	if err != nil {
		t.Fatalf("opening %s: %v", path, err)
	}
	defer zr.Close()

	out := make(map[string]string)
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("opening entry %s: %v", f.Name, err)
		}
		data, _ := io.ReadAll(rc)
		rc.Close()
		out[f.Name] = string(data)
	}
	return out
}

func TestAssemblePreservesOrder(t *testing.T) {
	stager := staging.New(t.TempDir(), 0, nil)
	a := New(stager, nil)

	files := []staging.StagedFile{
		stage(t, stager, "a.txt", "alpha"),
		stage(t, stager, "b.txt", "bravo"),
		stage(t, stager, "c.txt", "charlie"),
	}

	path, err := a.Assemble(context.Background(), files, "out.zip")
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	defer os.Remove(path)

	zr, err := zip.OpenReader(path)
	if err != nil {
		t.Fatalf("opening artifact: %v", err)
	}
	defer zr.Close()

	want := []string{"a.txt", "b.txt", "c.txt"}
	if len(zr.File) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(zr.File))
	}
	for i, f := range zr.File {
		if f.Name != want[i] {
			t.Errorf("entry %d: expected %s, got %s", i, want[i], f.Name)
		}
	}

	// Staged scratch files were consumed.
	for _, f := range files {
		if _, err := os.Stat(f.Path); !os.IsNotExist(err) {
			t.Errorf("staged file %s survived a successful assembly", f.Path)
		}
	}
}

func TestAssembleDuplicateNamesLastWins(t *testing.T) {
	stager := staging.New(t.TempDir(), 0, nil)
	a := New(stager, nil)

	files := []staging.StagedFile{
		stage(t, stager, "a.txt", "first"),
		stage(t, stager, "b.txt", "bravo"),
		stage(t, stager, "a.txt", "second"),
	}

	path, err := a.Assemble(context.Background(), files, "out.zip")
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	defer os.Remove(path)

	zr, err := zip.OpenReader(path)
	if err != nil {
		t.Fatalf("opening artifact: %v", err)
	}
	defer zr.Close()

	if len(zr.File) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(zr.File))
	}
	if zr.File[0].Name != "b.txt" || zr.File[1].Name != "a.txt" {
		t.Fatalf("entry order: %s, %s", zr.File[0].Name, zr.File[1].Name)
	}

	entries := readZip(t, path)
	if entries["a.txt"] != "second" {
		t.Errorf("expected last staged content, got %q", entries["a.txt"])
	}
}

func TestAssembleInvalidName(t *testing.T) {
	stager := staging.New(t.TempDir(), 0, nil)
	a := New(stager, nil)

	f := stage(t, stager, "a.txt", "alpha")

	_, err := a.Assemble(context.Background(), []staging.StagedFile{f}, "no-suffix")
	var nameErr *InvalidNameError
	if !errors.As(err, &nameErr) {
		t.Fatalf("expected InvalidNameError, got %v", err)
	}

	// The staged file must survive a rejected name.
	if _, statErr := os.Stat(f.Path); statErr != nil {
		t.Errorf("staged file lost on name rejection: %v", statErr)
	}
}

func TestAssembleEmptyBatch(t *testing.T) {
	stager := staging.New(t.TempDir(), 0, nil)
	a := New(stager, nil)

	if _, err := a.Assemble(context.Background(), nil, "out.zip"); err == nil {
		t.Fatal("expected error for empty batch")
	}
}

func TestAssembleMissingStagedFileKeepsRest(t *testing.T) {
	stager := staging.New(t.TempDir(), 0, nil)
	a := New(stager, nil)

	good := stage(t, stager, "good.txt", "data")
	bad := staging.StagedFile{DisplayName: "gone.txt", Path: "/nonexistent/gone"}

	_, err := a.Assemble(context.Background(), []staging.StagedFile{good, bad}, "out.zip")
	if err == nil {
		t.Fatal("expected error for missing staged file")
	}

	// Intact staged files survive a failed assembly, and no partial
	// artifact is left in scratch.
	if _, statErr := os.Stat(good.Path); statErr != nil {
		t.Errorf("intact staged file lost: %v", statErr)
	}
	entries, _ := os.ReadDir(stager.Dir())
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "assembly-") {
			t.Errorf("partial artifact left behind: %s", e.Name())
		}
	}
}
