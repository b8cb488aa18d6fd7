package bot

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/jholhewres/zipclaw/pkg/zipclaw/archive"
	"github.com/jholhewres/zipclaw/pkg/zipclaw/config"
	"github.com/jholhewres/zipclaw/pkg/zipclaw/session"
	"github.com/jholhewres/zipclaw/pkg/zipclaw/staging"
	"github.com/jholhewres/zipclaw/pkg/zipclaw/storage"
)

// memBackend is an in-memory storage.Backend with injectable failures.
type memBackend struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
	getErr  error
	listErr error
}

func newMemBackend() *memBackend {
	return &memBackend{objects: make(map[string][]byte)}
}

func (m *memBackend) key(namespace, name string) string { return namespace + "/" + name }

func (m *memBackend) Put(_ context.Context, namespace, name string, r io.Reader) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.objects[m.key(namespace, name)] = data
	return nil
}

func (m *memBackend) Get(_ context.Context, namespace, name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	data, ok := m.objects[m.key(namespace, name)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return data, nil
}

func (m *memBackend) List(_ context.Context, namespace string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var names []string
	for k := range m.objects {
		if strings.HasPrefix(k, namespace+"/") {
			names = append(names, strings.TrimPrefix(k, namespace+"/"))
		}
	}
	return names, nil
}

func newTestController(t *testing.T) (*Controller, *memBackend) {
	t.Helper()

	cfg := config.Default()
	cfg.Auth.Password = "EKMOB"
	cfg.Categories = []string{"documents"}
	cfg.ScratchDir = t.TempDir()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	stager := staging.New(cfg.ScratchDir, cfg.MaxFileSize, logger)
	sessions := session.NewStore(logger)
	assembler := archive.New(stager, logger)
	backend := newMemBackend()

	return NewController(cfg, sessions, stager, assembler, backend, nil, logger), backend
}

// say sends text and returns the concatenated reply text.
func say(t *testing.T, c *Controller, user, text string) string {
	t.Helper()
	replies := c.HandleText(context.Background(), user, text)
	var b strings.Builder
	for _, r := range replies {
		b.WriteString(r.Text)
		b.WriteString("\n")
	}
	return b.String()
}

func sendFile(t *testing.T, c *Controller, user, name, content string) string {
	t.Helper()
	replies := c.HandleFile(context.Background(), user, name, strings.NewReader(content))
	var b strings.Builder
	for _, r := range replies {
		b.WriteString(r.Text)
		b.WriteString("\n")
	}
	return b.String()
}

func authorize(t *testing.T, c *Controller, user string) {
	t.Helper()
	say(t, c, user, "/start")
	if out := say(t, c, user, "EKMOB"); !strings.Contains(out, "accepted") {
		t.Fatalf("password not accepted: %q", out)
	}
}

func TestUploadFlow(t *testing.T) {
	c, backend := newTestController(t)
	user := "telegram:42"

	authorize(t, c, user)

	if out := say(t, c, user, "1"); !strings.Contains(out, "Send your files") {
		t.Fatalf("upload selection: %q", out)
	}

	if out := sendFile(t, c, user, "a.txt", "alpha"); !strings.Contains(out, "1 staged") {
		t.Fatalf("first file: %q", out)
	}
	if out := sendFile(t, c, user, "b.txt", "bravo"); !strings.Contains(out, "2 staged") {
		t.Fatalf("second file: %q", out)
	}

	if out := say(t, c, user, "done"); !strings.Contains(out, "archive be called") {
		t.Fatalf("done: %q", out)
	}
	if out := say(t, c, user, "2025-01-01.zip"); !strings.Contains(out, "stored") {
		t.Fatalf("naming: %q", out)
	}

	data, err := backend.Get(context.Background(), "documents", "2025-01-01.zip")
	if err != nil {
		t.Fatalf("archive missing from backend: %v", err)
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("stored artifact is not a zip: %v", err)
	}
	if len(zr.File) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(zr.File))
	}
	// Entries preserve staging order.
	wantNames := []string{"a.txt", "b.txt"}
	wantBody := []string{"alpha", "bravo"}
	for i, f := range zr.File {
		if f.Name != wantNames[i] {
			t.Errorf("entry %d: expected %s, got %s", i, wantNames[i], f.Name)
		}
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("opening entry: %v", err)
		}
		body, _ := io.ReadAll(rc)
		rc.Close()
		if string(body) != wantBody[i] {
			t.Errorf("entry %d: expected body %q, got %q", i, wantBody[i], body)
		}
	}
}

func TestInvalidArchiveNameKeepsStagedFiles(t *testing.T) {
	c, backend := newTestController(t)
	user := "telegram:42"

	authorize(t, c, user)
	say(t, c, user, "upload")
	sendFile(t, c, user, "a.txt", "alpha")
	say(t, c, user, "done")

	if out := say(t, c, user, "notes"); !strings.Contains(out, "won't work") {
		t.Fatalf("expected rejection, got %q", out)
	}

	// Still in the naming step: a valid name completes without re-upload.
	if out := say(t, c, user, "notes.zip"); !strings.Contains(out, "stored") {
		t.Fatalf("retry with valid name: %q", out)
	}
	if _, err := backend.Get(context.Background(), "documents", "notes.zip"); err != nil {
		t.Fatalf("archive missing: %v", err)
	}
}

func TestDownloadFlow(t *testing.T) {
	c, backend := newTestController(t)
	user := "telegram:42"

	backend.Put(context.Background(), "documents", "report.zip", strings.NewReader("zipbytes"))

	authorize(t, c, user)
	if out := say(t, c, user, "download"); !strings.Contains(out, "report.zip") {
		t.Fatalf("target listing: %q", out)
	}

	// Unknown target keeps the selection open.
	if out := say(t, c, user, "nope.zip"); !strings.Contains(out, "No archive named") {
		t.Fatalf("unknown target: %q", out)
	}

	replies := c.HandleText(context.Background(), user, "report.zip")
	var doc *Reply
	for i := range replies {
		if replies[i].Document != nil {
			doc = &replies[i]
		}
	}
	if doc == nil {
		t.Fatal("expected a document reply")
	}
	if doc.Document.Filename != "report.zip" {
		t.Errorf("filename: got %s", doc.Document.Filename)
	}
	if string(doc.Document.Data) != "zipbytes" {
		t.Errorf("payload mismatch")
	}
}

func TestDownloadWithEmptyStore(t *testing.T) {
	c, _ := newTestController(t)
	user := "telegram:42"

	authorize(t, c, user)
	if out := say(t, c, user, "download"); !strings.Contains(out, "No archives stored yet") {
		t.Fatalf("expected empty-store notice, got %q", out)
	}
	// Back at the menu.
	if out := say(t, c, user, "list"); !strings.Contains(out, "No archives stored yet") {
		t.Fatalf("expected menu to work, got %q", out)
	}
}

func TestAuthGate(t *testing.T) {
	c, _ := newTestController(t)
	user := "telegram:42"

	say(t, c, user, "/start")

	if out := sendFile(t, c, user, "a.txt", "alpha"); !strings.Contains(out, "password") {
		t.Fatalf("file before auth: %q", out)
	}
	if out := say(t, c, user, "wrong"); !strings.Contains(out, "Wrong password") {
		t.Fatalf("wrong password: %q", out)
	}
	if out := say(t, c, user, "EKMOB"); !strings.Contains(out, "accepted") {
		t.Fatalf("correct password: %q", out)
	}
}

func TestPasswordLockout(t *testing.T) {
	c, _ := newTestController(t)
	user := "telegram:42"

	say(t, c, user, "/start")
	for i := 0; i < 4; i++ {
		if out := say(t, c, user, "wrong"); !strings.Contains(out, "Wrong password") {
			t.Fatalf("attempt %d: %q", i, out)
		}
	}
	if out := say(t, c, user, "wrong"); !strings.Contains(out, "Locked") {
		t.Fatalf("expected lockout on 5th attempt: %q", out)
	}
	// Even the right password bounces while locked.
	if out := say(t, c, user, "EKMOB"); !strings.Contains(out, "Too many attempts") {
		t.Fatalf("expected locked reply: %q", out)
	}
}

func TestDoneWithoutFiles(t *testing.T) {
	c, _ := newTestController(t)
	user := "telegram:42"

	authorize(t, c, user)
	say(t, c, user, "upload")
	if out := say(t, c, user, "done"); !strings.Contains(out, "No files staged") {
		t.Fatalf("expected boundary message: %q", out)
	}
	// Still collecting files.
	if out := sendFile(t, c, user, "a.txt", "alpha"); !strings.Contains(out, "1 staged") {
		t.Fatalf("expected staging to continue: %q", out)
	}
}

func TestFileOutsideUploadState(t *testing.T) {
	c, _ := newTestController(t)
	user := "telegram:42"

	authorize(t, c, user)
	if out := sendFile(t, c, user, "a.txt", "alpha"); !strings.Contains(out, "menu") {
		t.Fatalf("expected menu hint: %q", out)
	}
}

func TestDuplicateDisplayNameLastWins(t *testing.T) {
	c, backend := newTestController(t)
	user := "telegram:42"

	authorize(t, c, user)
	say(t, c, user, "upload")
	sendFile(t, c, user, "a.txt", "first")
	sendFile(t, c, user, "b.txt", "bravo")
	sendFile(t, c, user, "a.txt", "second")
	say(t, c, user, "done")
	say(t, c, user, "dup.zip")

	data, err := backend.Get(context.Background(), "documents", "dup.zip")
	if err != nil {
		t.Fatalf("archive missing: %v", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("not a zip: %v", err)
	}
	if len(zr.File) != 2 {
		t.Fatalf("expected 2 entries after dedupe, got %d", len(zr.File))
	}
	// The duplicate keeps the position and content of its last upload.
	if zr.File[0].Name != "b.txt" || zr.File[1].Name != "a.txt" {
		t.Fatalf("entry order: %s, %s", zr.File[0].Name, zr.File[1].Name)
	}
	rc, _ := zr.File[1].Open()
	body, _ := io.ReadAll(rc)
	rc.Close()
	if string(body) != "second" {
		t.Errorf("expected last upload to win, got %q", body)
	}
}

func TestPutFailureKeepsArtifactForRetry(t *testing.T) {
	c, backend := newTestController(t)
	user := "telegram:42"

	authorize(t, c, user)
	say(t, c, user, "upload")
	sendFile(t, c, user, "a.txt", "alpha")
	say(t, c, user, "done")

	backend.putErr = errors.New("backend down")
	if out := say(t, c, user, "first.zip"); !strings.Contains(out, "failed") {
		t.Fatalf("expected failure notice: %q", out)
	}

	backend.putErr = nil
	if out := say(t, c, user, "second.zip"); !strings.Contains(out, "stored") {
		t.Fatalf("retry: %q", out)
	}
	if _, err := backend.Get(context.Background(), "documents", "second.zip"); err != nil {
		t.Fatalf("archive missing after retry: %v", err)
	}
}

func TestBackAfterPutFailureRemovesArtifact(t *testing.T) {
	c, backend := newTestController(t)
	user := "telegram:42"

	authorize(t, c, user)
	say(t, c, user, "upload")
	sendFile(t, c, user, "a.txt", "alpha")
	say(t, c, user, "done")

	backend.putErr = errors.New("backend down")
	say(t, c, user, "first.zip")

	if out := say(t, c, user, "back"); !strings.Contains(out, "cancelled") {
		t.Fatalf("cancel: %q", out)
	}

	// The assembled zip retained for retry is cleaned up with the flow.
	entries, err := os.ReadDir(c.cfg.ScratchDir)
	if err != nil {
		t.Fatalf("reading scratch dir: %v", err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "assembly-") {
			t.Errorf("assembled artifact left in scratch: %s", e.Name())
		}
	}
}

func TestBackCancelsUpload(t *testing.T) {
	c, _ := newTestController(t)
	user := "telegram:42"

	authorize(t, c, user)
	say(t, c, user, "upload")
	sendFile(t, c, user, "a.txt", "alpha")
	if out := say(t, c, user, "back"); !strings.Contains(out, "cancelled") {
		t.Fatalf("cancel: %q", out)
	}
	// The staged batch is gone: a new upload starts from zero.
	say(t, c, user, "upload")
	if out := sendFile(t, c, user, "b.txt", "bravo"); !strings.Contains(out, "1 staged") {
		t.Fatalf("expected fresh batch: %q", out)
	}
}

func TestCategorySelection(t *testing.T) {
	c, backend := newTestController(t)
	c.cfg.Categories = []string{"documents", "photos"}
	user := "telegram:42"

	authorize(t, c, user)
	if out := say(t, c, user, "upload"); !strings.Contains(out, "category") {
		t.Fatalf("expected category prompt: %q", out)
	}
	if out := say(t, c, user, "Photos"); !strings.Contains(out, "Send your files") {
		t.Fatalf("case-insensitive category match: %q", out)
	}
	sendFile(t, c, user, "p.jpg", "pixels")
	say(t, c, user, "done")
	say(t, c, user, "album.zip")

	if _, err := backend.Get(context.Background(), "photos", "album.zip"); err != nil {
		t.Fatalf("archive missing under photos: %v", err)
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	c, _ := newTestController(t)

	authorize(t, c, "telegram:1")
	say(t, c, "telegram:1", "upload")
	sendFile(t, c, "telegram:1", "a.txt", "alpha")

	// A second user starts fresh and unauthenticated.
	if out := say(t, c, "telegram:2", "/start"); !strings.Contains(out, "password") {
		t.Fatalf("second user should need to authenticate: %q", out)
	}
	if out := sendFile(t, c, "telegram:2", "x.txt", "x"); !strings.Contains(out, "password") {
		t.Fatalf("second user file gated: %q", out)
	}

	// First user's batch is unaffected.
	if out := sendFile(t, c, "telegram:1", "b.txt", "bravo"); !strings.Contains(out, "2 staged") {
		t.Fatalf("first user's batch lost: %q", out)
	}
}

func TestConcurrentUploaders(t *testing.T) {
	c, backend := newTestController(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			user := fmt.Sprintf("telegram:%d", n)
			say(t, c, user, "/start")
			say(t, c, user, "EKMOB")
			say(t, c, user, "upload")
			sendFile(t, c, user, "data.txt", fmt.Sprintf("payload-%d", n))
			say(t, c, user, "done")
			say(t, c, user, fmt.Sprintf("user-%d.zip", n))
		}(i)
	}
	wg.Wait()

	names, err := backend.List(context.Background(), "documents")
	if err != nil {
		t.Fatalf("listing: %v", err)
	}
	if len(names) != 8 {
		t.Fatalf("expected 8 archives, got %d: %v", len(names), names)
	}
}

func TestStartResetsFlow(t *testing.T) {
	c, _ := newTestController(t)
	user := "telegram:42"

	authorize(t, c, user)
	say(t, c, user, "upload")
	sendFile(t, c, user, "a.txt", "alpha")

	if out := say(t, c, user, "/start"); !strings.Contains(out, "What would you like") {
		t.Fatalf("restart while authorized: %q", out)
	}
	// Pending batch was discarded with the reset.
	say(t, c, user, "upload")
	if out := say(t, c, user, "done"); !strings.Contains(out, "No files staged") {
		t.Fatalf("expected empty batch after restart: %q", out)
	}
}
