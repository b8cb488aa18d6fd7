// controller.go implements the conversation state machine. Each inbound
// event is interpreted against the user's session state; the transition
// decision happens under the session lock, while staging, assembly, and
// backend I/O run outside it with a recheck-commit afterwards.
package bot

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/jholhewres/zipclaw/pkg/zipclaw/archive"
	"github.com/jholhewres/zipclaw/pkg/zipclaw/channels"
	"github.com/jholhewres/zipclaw/pkg/zipclaw/config"
	"github.com/jholhewres/zipclaw/pkg/zipclaw/history"
	"github.com/jholhewres/zipclaw/pkg/zipclaw/session"
	"github.com/jholhewres/zipclaw/pkg/zipclaw/staging"
	"github.com/jholhewres/zipclaw/pkg/zipclaw/storage"
)

// Controller drives the per-user conversation flow.
type Controller struct {
	cfg       *config.Config
	sessions  *session.Store
	stager    *staging.Stager
	assembler *archive.Assembler
	backend   storage.Backend
	history   *history.Store // nil when history is disabled
	logger    *slog.Logger
}

// NewController wires the conversation controller.
func NewController(cfg *config.Config, sessions *session.Store, stager *staging.Stager,
	assembler *archive.Assembler, backend storage.Backend, hist *history.Store,
	logger *slog.Logger) *Controller {

	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		cfg:       cfg,
		sessions:  sessions,
		stager:    stager,
		assembler: assembler,
		backend:   backend,
		history:   hist,
		logger:    logger.With("component", "controller"),
	}
}

// Sessions exposes the session store for maintenance sweeps.
func (c *Controller) Sessions() *session.Store { return c.sessions }

// Stager exposes the stager for maintenance sweeps.
func (c *Controller) Stager() *staging.Stager { return c.stager }

// actionKind enumerates the side effects a transition can request.
type actionKind int

const (
	actNone actionKind = iota
	actDiscard
	actListAll
	actListTargets
	actAssemble
	actPutAssembled
	actGet
)

// action is the side-effect request computed under the session lock and
// executed outside it.
type action struct {
	kind     actionKind
	files    []staging.StagedFile
	category string
	name     string
	path     string
}

// HandleText processes a text event for the user and returns the replies.
func (c *Controller) HandleText(ctx context.Context, userID, text string) []Reply {
	text = strings.TrimSpace(text)

	var (
		replies []Reply
		act     action
	)
	c.sessions.Mutate(userID, func(s *session.Session) {
		replies, act = c.transition(s, text)
	})

	if act.kind == actNone {
		return replies
	}
	return append(replies, c.perform(ctx, userID, act)...)
}

// HandleFile processes a file event. The scratch copy happens outside the
// session lock; the session state is rechecked before the staged file
// becomes part of the batch.
func (c *Controller) HandleFile(ctx context.Context, userID, displayName string, r io.Reader) []Reply {
	var (
		precondition error
		rejection    string
	)
	c.sessions.Mutate(userID, func(s *session.Session) {
		switch {
		case !s.Authorized:
			precondition = fmt.Errorf("%w: not authorized", ErrPrecondition)
			rejection = "Enter the password first."
		case s.State != session.StateAwaitingFiles:
			precondition = fmt.Errorf("%w: state %s", ErrPrecondition, s.State)
			rejection = "Pick \"" + labelUpload + "\" in the menu before sending files."
		}
	})
	if precondition != nil {
		c.logger.Debug("file rejected", "user", userID, "error", precondition)
		return []Reply{textReply(rejection)}
	}

	staged, err := c.stager.Stage(ctx, displayName, r)
	if err != nil {
		c.logger.Warn("staging failed", "user", userID, "name", displayName, "error", err)
		if errors.Is(err, staging.ErrTooLarge) {
			return []Reply{textReply("That file is too large.")}
		}
		return []Reply{textReply("Couldn't store the file, please send it again.")}
	}

	var (
		count    int
		accepted bool
	)
	c.sessions.Mutate(userID, func(s *session.Session) {
		if s.Authorized && s.State == session.StateAwaitingFiles {
			s.Pending = append(s.Pending, staged)
			count = len(s.Pending)
			accepted = true
		}
	})
	if !accepted {
		// The session moved on while the copy was running.
		c.stager.Discard([]staging.StagedFile{staged})
		return []Reply{textReply("Pick \"" + labelUpload + "\" in the menu before sending files.")}
	}

	return []Reply{textReply(fmt.Sprintf("Got %s (%d staged). Send more files, or \"done\" to continue.", staged.DisplayName, count))}
}

// transition is the pure state-machine step. It may only touch the
// session and must not block; side effects are returned as an action.
func (c *Controller) transition(s *session.Session, text string) ([]Reply, action) {
	if text == "/start" {
		orphans := s.ResetFlow()
		act := action{}
		if len(orphans) > 0 {
			act = action{kind: actDiscard, files: orphans}
		}
		if !s.Authorized {
			return []Reply{textReply("Welcome to " + c.cfg.Name + "! Enter the password:")}, act
		}
		return []Reply{menuReply("What would you like to do?")}, act
	}

	switch s.State {
	case session.StateUnauthenticated:
		return c.transitionAuth(s, text)

	case session.StateMainMenu:
		return c.transitionMenu(s, text)

	case session.StateAwaitingCategory:
		return c.transitionCategory(s, text)

	case session.StateAwaitingFiles:
		return c.transitionFiles(s, text)

	case session.StateAwaitingArchiveName:
		return c.transitionArchiveName(s, text)

	case session.StateAwaitingTarget:
		if isBack(text) {
			s.State = session.StateMainMenu
			s.Category = ""
			return []Reply{menuReply("Back to the menu.")}, action{}
		}
		return nil, action{kind: actGet, category: s.Category, name: text}

	default:
		return []Reply{menuReply("What would you like to do?")}, action{}
	}
}

func (c *Controller) transitionAuth(s *session.Session, text string) ([]Reply, action) {
	now := time.Now()
	if now.Before(s.LockedUntil) {
		wait := time.Until(s.LockedUntil).Round(time.Second)
		return []Reply{textReply(fmt.Sprintf("Too many attempts. Try again in %s.", wait))}, action{}
	}

	if c.checkSecret(text) {
		s.Authorized = true
		s.Attempts = 0
		s.State = session.StateMainMenu
		c.logger.Info("user authorized", "user", s.UserID)
		return []Reply{menuReply("Password accepted ✅")}, action{}
	}

	s.Attempts++
	if c.cfg.Auth.MaxAttempts > 0 && s.Attempts >= c.cfg.Auth.MaxAttempts {
		s.LockedUntil = now.Add(c.cfg.Auth.Lockout.Std())
		s.Attempts = 0
		c.logger.Warn("password lockout", "user", s.UserID)
		return []Reply{textReply(fmt.Sprintf("Too many wrong attempts. Locked for %s.", c.cfg.Auth.Lockout.Std()))}, action{}
	}
	return []Reply{textReply("❌ Wrong password. Try again.")}, action{}
}

func (c *Controller) transitionMenu(s *session.Session, text string) ([]Reply, action) {
	switch matchMenu(text) {
	case choiceUpload:
		if len(c.cfg.Categories) > 1 {
			s.State = session.StateAwaitingCategory
			s.Intent = session.IntentUpload
			return []Reply{{
				Text:     "Pick a category:",
				Keyboard: categoryKeyboard(c.cfg.Categories),
			}}, action{}
		}
		s.Category = c.cfg.Categories[0]
		s.State = session.StateAwaitingFiles
		return []Reply{{
			Text:           "Send your files as documents. Say \"done\" when finished.",
			RemoveKeyboard: true,
		}}, action{}

	case choiceDownload:
		if len(c.cfg.Categories) > 1 {
			s.State = session.StateAwaitingCategory
			s.Intent = session.IntentDownload
			return []Reply{{
				Text:     "Pick a category:",
				Keyboard: categoryKeyboard(c.cfg.Categories),
			}}, action{}
		}
		s.Category = c.cfg.Categories[0]
		s.State = session.StateAwaitingTarget
		return nil, action{kind: actListTargets, category: s.Category}

	case choiceList:
		return nil, action{kind: actListAll}

	default:
		return []Reply{menuReply("What would you like to do?")}, action{}
	}
}

func (c *Controller) transitionCategory(s *session.Session, text string) ([]Reply, action) {
	if isBack(text) {
		s.State = session.StateMainMenu
		s.Intent = session.IntentNone
		return []Reply{menuReply("Back to the menu.")}, action{}
	}

	for _, cat := range c.cfg.Categories {
		if strings.EqualFold(strings.TrimSpace(text), cat) {
			s.Category = cat
			if s.Intent == session.IntentDownload {
				s.Intent = session.IntentNone
				s.State = session.StateAwaitingTarget
				return nil, action{kind: actListTargets, category: cat}
			}
			s.Intent = session.IntentNone
			s.State = session.StateAwaitingFiles
			return []Reply{{
				Text:           "Send your files as documents. Say \"done\" when finished.",
				RemoveKeyboard: true,
			}}, action{}
		}
	}

	return []Reply{{
		Text:     "Unknown category. Pick one of the buttons:",
		Keyboard: categoryKeyboard(c.cfg.Categories),
	}}, action{}
}

func (c *Controller) transitionFiles(s *session.Session, text string) ([]Reply, action) {
	switch {
	case isDone(text):
		if len(s.Pending) == 0 {
			return []Reply{textReply("No files staged yet. Send at least one file first.")}, action{}
		}
		s.State = session.StateAwaitingArchiveName
		return []Reply{textReply(fmt.Sprintf("%d file(s) staged. What should the archive be called? (must end in %s)", len(s.Pending), archive.RequiredSuffix))}, action{}

	case isBack(text):
		orphans := s.ResetFlow()
		return []Reply{menuReply("Upload cancelled.")}, action{kind: actDiscard, files: orphans}

	default:
		return []Reply{textReply("Send files as documents, or say \"done\" to finish, \"back\" to cancel.")}, action{}
	}
}

func (c *Controller) transitionArchiveName(s *session.Session, text string) ([]Reply, action) {
	if isBack(text) {
		orphans := s.ResetFlow()
		return []Reply{menuReply("Upload cancelled.")}, action{kind: actDiscard, files: orphans}
	}

	if err := archive.ValidateName(text); err != nil {
		var nameErr *archive.InvalidNameError
		if errors.As(err, &nameErr) {
			return []Reply{textReply("That name won't work: " + nameErr.Reason + ". Try another one.")}, action{}
		}
		return []Reply{textReply("That name won't work. Try another one.")}, action{}
	}

	// A previously assembled archive whose store failed is retried
	// under the new name without re-uploading.
	if s.AssembledPath != "" {
		return nil, action{kind: actPutAssembled, path: s.AssembledPath, name: text, category: s.Category}
	}

	files := make([]staging.StagedFile, len(s.Pending))
	copy(files, s.Pending)
	return nil, action{kind: actAssemble, files: files, name: text, category: s.Category}
}

// perform executes the requested side effect and commits the resulting
// state via a second mutate. The session lock is never held across I/O.
func (c *Controller) perform(ctx context.Context, userID string, act action) []Reply {
	switch act.kind {
	case actDiscard:
		c.stager.Discard(act.files)
		return nil

	case actListAll:
		return c.performListAll(ctx)

	case actListTargets:
		return c.performListTargets(ctx, userID, act.category)

	case actAssemble:
		return c.performAssemble(ctx, userID, act)

	case actPutAssembled:
		return c.performPut(ctx, userID, act.path, act.category, act.name, len(act.files))

	case actGet:
		return c.performGet(ctx, userID, act.category, act.name)
	}
	return nil
}

func (c *Controller) performListAll(ctx context.Context) []Reply {
	var b strings.Builder
	for _, cat := range c.cfg.Categories {
		names, err := c.backend.List(ctx, cat)
		if err != nil {
			c.logger.Error("listing failed", "category", cat, "error", err)
			return []Reply{menuReply("Couldn't reach the archive store, try again later.")}
		}
		if len(names) == 0 {
			continue
		}
		if len(c.cfg.Categories) > 1 {
			fmt.Fprintf(&b, "%s:\n", cat)
		}
		b.WriteString(formatNames(names))
		b.WriteString("\n")
	}
	if b.Len() == 0 {
		return []Reply{menuReply("No archives stored yet.")}
	}
	return []Reply{menuReply(strings.TrimRight(b.String(), "\n"))}
}

func (c *Controller) performListTargets(ctx context.Context, userID, category string) []Reply {
	names, err := c.backend.List(ctx, category)
	if err != nil {
		c.logger.Error("listing failed", "category", category, "error", err)
		c.sessions.Mutate(userID, func(s *session.Session) {
			s.State = session.StateMainMenu
			s.Category = ""
		})
		return []Reply{menuReply("Couldn't reach the archive store, try again later.")}
	}
	if len(names) == 0 {
		c.sessions.Mutate(userID, func(s *session.Session) {
			s.State = session.StateMainMenu
			s.Category = ""
		})
		return []Reply{menuReply("No archives stored yet.")}
	}
	return []Reply{{
		Text:           "Available archives:\n" + formatNames(names) + "\n\nSend a name to download it, or \"back\".",
		RemoveKeyboard: true,
	}}
}

func (c *Controller) performAssemble(ctx context.Context, userID string, act action) []Reply {
	path, err := c.assembler.Assemble(ctx, act.files, act.name)
	if err != nil {
		var nameErr *archive.InvalidNameError
		if errors.As(err, &nameErr) {
			return []Reply{textReply("That name won't work: " + nameErr.Reason + ". Try another one.")}
		}
		// Staged files are retained by the assembler on failure; the
		// session is still in the naming-wait state for retry.
		c.logger.Error("assembly failed", "user", userID, "error", err)
		return []Reply{textReply("Couldn't build the archive. Your files are safe, send the name again to retry.")}
	}

	// The staged files were consumed; make the session reflect that
	// before attempting the store, so a put failure retries from the
	// assembled artifact instead of the (now deleted) scratch files.
	c.sessions.Mutate(userID, func(s *session.Session) {
		s.Pending = nil
		s.AssembledPath = path
	})

	return c.performPut(ctx, userID, path, act.category, act.name, len(act.files))
}

func (c *Controller) performPut(ctx context.Context, userID, path, category, name string, fileCount int) []Reply {
	f, err := os.Open(path)
	if err != nil {
		c.logger.Error("opening assembled archive failed", "user", userID, "error", err)
		return []Reply{textReply("Couldn't read the assembled archive. Send the name again to retry.")}
	}
	info, _ := f.Stat()

	err = c.backend.Put(ctx, category, name, f)
	f.Close()
	if err != nil {
		c.logger.Error("backend put failed", "user", userID, "name", name, "error", err)
		return []Reply{textReply("Storing the archive failed. Your archive is kept locally, send a name to retry.")}
	}

	os.Remove(path)
	c.sessions.Mutate(userID, func(s *session.Session) {
		s.ResetFlow()
	})

	var size int64
	if info != nil {
		size = info.Size()
	}
	c.record(history.Entry{
		UserID:    userID,
		Action:    history.ActionUpload,
		Namespace: category,
		Name:      name,
		Files:     fileCount,
		Size:      size,
	})

	c.logger.Info("archive stored",
		"user", userID,
		"namespace", category,
		"name", name,
		"files", fileCount,
	)
	return []Reply{menuReply(fmt.Sprintf("✅ Archive %s stored.", name))}
}

func (c *Controller) performGet(ctx context.Context, userID, category, name string) []Reply {
	data, err := c.backend.Get(ctx, category, name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return []Reply{textReply(fmt.Sprintf("No archive named %q. Send another name, or \"back\".", name))}
		}
		c.logger.Error("backend get failed", "user", userID, "name", name, "error", err)
		return []Reply{textReply("Couldn't fetch the archive, try again.")}
	}

	c.sessions.Mutate(userID, func(s *session.Session) {
		s.ResetFlow()
	})

	c.record(history.Entry{
		UserID:    userID,
		Action:    history.ActionDownload,
		Namespace: category,
		Name:      name,
		Size:      int64(len(data)),
	})

	return []Reply{
		{Document: &channels.Document{
			Filename: name,
			Data:     data,
			Caption:  name,
		}},
		menuReply("Here you go. Anything else?"),
	}
}

// checkSecret compares the submitted secret against the configured
// password (constant time) or bcrypt hash.
func (c *Controller) checkSecret(text string) bool {
	if h := c.cfg.Auth.PasswordHash; h != "" {
		return bcrypt.CompareHashAndPassword([]byte(h), []byte(text)) == nil
	}
	if c.cfg.Auth.Password == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(c.cfg.Auth.Password), []byte(text)) == 1
}

// record writes a history entry, best effort.
func (c *Controller) record(e history.Entry) {
	if c.history == nil {
		return
	}
	if err := c.history.Record(e); err != nil {
		c.logger.Warn("history record failed", "error", err)
	}
}
