// Package session holds the per-user conversation state for ZipClaw.
// One Session exists per user identity; the Store linearizes all
// mutations for a given user while users never block each other.
package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jholhewres/zipclaw/pkg/zipclaw/staging"
)

// State is the conversation state of a session.
type State int

const (
	// StateUnauthenticated waits for the shared secret.
	StateUnauthenticated State = iota

	// StateMainMenu waits for a menu selection.
	StateMainMenu

	// StateAwaitingCategory waits for a document category choice.
	StateAwaitingCategory

	// StateAwaitingFiles accepts file uploads until "done".
	StateAwaitingFiles

	// StateAwaitingArchiveName waits for the archive name.
	StateAwaitingArchiveName

	// StateAwaitingTarget waits for the name of an archive to retrieve.
	StateAwaitingTarget
)

// String returns the state name for logs.
func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateMainMenu:
		return "main_menu"
	case StateAwaitingCategory:
		return "awaiting_category"
	case StateAwaitingFiles:
		return "awaiting_files"
	case StateAwaitingArchiveName:
		return "awaiting_archive_name"
	case StateAwaitingTarget:
		return "awaiting_target"
	default:
		return "unknown"
	}
}

// Intent records which flow a category choice belongs to.
type Intent int

const (
	IntentNone Intent = iota
	IntentUpload
	IntentDownload
)

// Session is the per-user record. Fields are only touched through
// Store.Mutate, which holds the per-session lock.
type Session struct {
	UserID     string
	State      State
	Authorized bool

	// Intent is the pending flow while in StateAwaitingCategory.
	Intent Intent

	// Category is the selected artifact namespace.
	Category string

	// Pending holds staged files in upload order.
	Pending []staging.StagedFile

	// AssembledPath retains an assembled artifact whose backend put
	// failed, so a retried name does not require re-uploading.
	AssembledPath string

	// Attempts counts consecutive failed password attempts.
	Attempts int

	// LockedUntil blocks password attempts until this instant.
	LockedUntil time.Time

	CreatedAt    time.Time
	LastActiveAt time.Time
}

// ResetFlow clears the in-flight flow state, keeping authorization.
// Scratch files are NOT released here; the caller takes ownership of the
// returned slice (staged files plus any assembled-but-unstored artifact)
// and must discard them.
func (s *Session) ResetFlow() []staging.StagedFile {
	orphans := s.Pending
	if s.AssembledPath != "" {
		orphans = append(orphans, staging.StagedFile{Path: s.AssembledPath})
	}
	s.State = StateMainMenu
	if !s.Authorized {
		s.State = StateUnauthenticated
	}
	s.Intent = IntentNone
	s.Category = ""
	s.Pending = nil
	s.AssembledPath = ""
	return orphans
}

type entry struct {
	mu      sync.Mutex
	session *Session
}

// Store is a concurrency-safe session registry. Sessions are created
// lazily on first access and live until swept.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	logger  *slog.Logger
}

// NewStore creates an empty session store.
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		entries: make(map[string]*entry),
		logger:  logger.With("component", "sessions"),
	}
}

// getOrCreate returns the entry for userID, creating it if needed.
func (st *Store) getOrCreate(userID string) *entry {
	st.mu.RLock()
	e, ok := st.entries[userID]
	st.mu.RUnlock()
	if ok {
		return e
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if e, ok := st.entries[userID]; ok {
		return e
	}

	now := time.Now()
	e = &entry{session: &Session{
		UserID:       userID,
		State:        StateUnauthenticated,
		CreatedAt:    now,
		LastActiveAt: now,
	}}
	st.entries[userID] = e
	st.logger.Debug("session created", "user", userID)
	return e
}

// Mutate runs fn with exclusive access to the user's session. All session
// reads and writes go through here; fn must not perform blocking I/O, so
// the lock is never held across storage calls.
func (st *Store) Mutate(userID string, fn func(*Session)) {
	e := st.getOrCreate(userID)
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.session)
	e.session.LastActiveAt = time.Now()
}

// Reset clears the user's flow state and returns any orphaned staged
// files for the caller to discard.
func (st *Store) Reset(userID string) []staging.StagedFile {
	var orphans []staging.StagedFile
	st.Mutate(userID, func(s *Session) {
		orphans = s.ResetFlow()
	})
	return orphans
}

// Count returns the number of live sessions.
func (st *Store) Count() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.entries)
}

// Sweep removes sessions inactive for longer than ttl and returns the
// staged files they still owned, so the caller can release the scratch
// space. Run periodically.
func (st *Store) Sweep(ttl time.Duration) []staging.StagedFile {
	cutoff := time.Now().Add(-ttl)

	st.mu.Lock()
	var stale []*entry
	for id, e := range st.entries {
		e.mu.Lock()
		expired := e.session.LastActiveAt.Before(cutoff)
		e.mu.Unlock()
		if expired {
			stale = append(stale, e)
			delete(st.entries, id)
		}
	}
	remaining := len(st.entries)
	st.mu.Unlock()

	var orphans []staging.StagedFile
	for _, e := range stale {
		e.mu.Lock()
		orphans = append(orphans, e.session.Pending...)
		if e.session.AssembledPath != "" {
			orphans = append(orphans, staging.StagedFile{Path: e.session.AssembledPath})
			e.session.AssembledPath = ""
		}
		e.session.Pending = nil
		e.mu.Unlock()
	}

	if len(stale) > 0 {
		st.logger.Info("stale sessions swept",
			"swept", len(stale),
			"remaining", remaining,
			"orphaned_files", len(orphans),
		)
	}
	return orphans
}
