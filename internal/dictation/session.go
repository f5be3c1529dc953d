package dictation

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/agalue/ada-voice-agent/internal/logging"
)

var (
	// ErrNotDictating is returned by Save and Cancel when no session is open.
	ErrNotDictating = errors.New("not in dictation mode")
	// ErrEmpty is returned by Save when nothing was dictated.
	ErrEmpty = errors.New("no dictation content to save")
	// ErrWrite wraps file system failures while saving.
	ErrWrite = errors.New("error saving file")
)

// DefaultDir is where dictations are written when no directory is configured.
const DefaultDir = "dictations"

// Session accumulates dictated text for one participant. The zero value is
// not usable; create sessions with NewSession.
type Session struct {
	dir string
	log *zap.SugaredLogger

	mu     sync.Mutex
	active bool
	text   string
}

// NewSession creates an inactive session that saves files under dir.
func NewSession(dir string, log *zap.SugaredLogger) *Session {
	if dir == "" {
		dir = DefaultDir
	}
	return &Session{dir: dir, log: logging.OrNop(log)}
}

// Dir returns the output directory.
func (s *Session) Dir() string { return s.dir }

// Active reports whether a dictation is open.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Text returns the text accumulated so far.
func (s *Session) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text
}

// Start opens a new dictation, discarding any text from a previous one.
func (s *Session) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = true
	s.text = ""
	s.log.Info("📝 Started dictation mode")
}

// Append adds text to the open dictation, space-joined onto prior content.
// It is a no-op when no dictation is open.
func (s *Session) Append(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return
	}
	if s.text == "" {
		s.text = text
	} else {
		s.text += " " + text
	}
	s.log.Debugw("Added to dictation", "text", text, "chars", len(s.text))
}

// Save writes the trimmed text to filename inside the output directory and
// closes the session. It returns the written path. On failure the session
// stays open so the user can retry or cancel.
func (s *Session) Save(filename string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return "", ErrNotDictating
	}
	content := strings.TrimSpace(s.text)
	if content == "" {
		return "", ErrEmpty
	}
	if filename == "" {
		filename = DefaultFilename
	}
	if strings.ContainsAny(filename, `/\`) {
		return "", fmt.Errorf("%w: invalid file name %q", ErrWrite, filename)
	}

	path := filepath.Join(s.dir, filename)
	if err := saveFileAtomic(path, []byte(content), 0o644); err != nil {
		s.log.Errorw("❌ Error saving dictation", "path", path, "error", err)
		return "", fmt.Errorf("%w: %v", ErrWrite, err)
	}
	s.active = false
	s.text = ""
	s.log.Infow("💾 Saved dictation", "path", path, "chars", len(content))
	return path, nil
}

// Cancel discards the text and closes the session.
func (s *Session) Cancel() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return ErrNotDictating
	}
	s.active = false
	s.text = ""
	s.log.Info("🗑️  Cancelled dictation mode")
	return nil
}

// Apply executes a routed action and returns the reply to speak. Append is
// silent and returns an empty reply. Converse actions are not handled here
// and return handled=false.
func (s *Session) Apply(a Action) (reply string, handled bool) {
	switch a.Kind {
	case Start:
		s.Start()
		return "Dictation started. I'm listening.", true
	case Append:
		s.Append(a.Text)
		return "", true
	case Save:
		path, err := s.Save(a.Filename)
		if err != nil {
			return failureReply(err), true
		}
		return fmt.Sprintf("Dictation saved as %s.", filepath.Base(path)), true
	case Cancel:
		if err := s.Cancel(); err != nil {
			return failureReply(err), true
		}
		return "Dictation cancelled.", true
	default:
		return "", false
	}
}

func failureReply(err error) string {
	switch {
	case errors.Is(err, ErrNotDictating):
		return "I'm not taking dictation right now."
	case errors.Is(err, ErrEmpty):
		return "There's nothing to save yet."
	default:
		return "Sorry, I couldn't save the dictation."
	}
}

// saveFileAtomic writes data next to path and renames it into place, creating
// the directory when needed.
func saveFileAtomic(path string, data []byte, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
