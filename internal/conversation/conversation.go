// Package conversation keeps the ordered message history of one participant
// and turns user text into assistant replies through a Responder.
package conversation

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/agalue/ada-voice-agent/internal/logging"
)

// Role tags a message in the history.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one history entry.
type Message struct {
	Role Role
	Text string
}

// DefaultSystemPrompt seeds every new history.
const DefaultSystemPrompt = "You are Ada, a helpful AI assistant. " +
	"Keep responses brief and conversational. " +
	"Limit responses to 2-3 sentences maximum."

// Apology is returned to the user when the responder fails.
const Apology = "I'm sorry, I had trouble processing that."

// ErrEmptyReply is reported when a responder returns only whitespace.
var ErrEmptyReply = errors.New("empty reply")

// Responder generates the next assistant message from the full history.
type Responder interface {
	Generate(ctx context.Context, history []Message) (string, error)
}

// ResponderFunc adapts a function to Responder.
type ResponderFunc func(ctx context.Context, history []Message) (string, error)

// Generate calls f.
func (f ResponderFunc) Generate(ctx context.Context, history []Message) (string, error) {
	return f(ctx, history)
}

// Options tunes a Session.
type Options struct {
	SystemPrompt string
	// MaxHistory keeps only the last N user/assistant messages besides the
	// system prompt. Zero keeps everything.
	MaxHistory int
}

// Session owns one conversation. Converse calls are serialized.
type Session struct {
	responder Responder
	opts      Options
	log       *zap.SugaredLogger

	mu      sync.Mutex
	history []Message
}

// NewSession creates a session seeded with the system prompt.
func NewSession(r Responder, opts Options, log *zap.SugaredLogger) *Session {
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = DefaultSystemPrompt
	}
	return &Session{
		responder: r,
		opts:      opts,
		log:       logging.OrNop(log),
		history:   []Message{{Role: RoleSystem, Text: opts.SystemPrompt}},
	}
}

// History returns a copy of the messages so far.
func (s *Session) History() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.history...)
}

// Converse appends the user text, asks the responder for a reply and appends
// it. When the responder fails the apology is returned along with the error
// and no assistant message is recorded.
func (s *Session) Converse(ctx context.Context, text string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append(s.history, Message{Role: RoleUser, Text: text})
	s.trim()
	s.log.Debugw("Sending conversation to LLM", "messages", len(s.history))

	reply, err := s.responder.Generate(ctx, append([]Message(nil), s.history...))
	if err == nil && strings.TrimSpace(reply) == "" {
		err = ErrEmptyReply
	}
	if err != nil {
		s.log.Errorw("❌ LLM error", "error", err)
		return Apology, err
	}

	reply = strings.TrimSpace(reply)
	s.history = append(s.history, Message{Role: RoleAssistant, Text: reply})
	s.trim()
	return reply, nil
}

// trim enforces MaxHistory, always keeping the system prompt.
func (s *Session) trim() {
	limit := s.opts.MaxHistory
	if limit <= 0 || len(s.history)-1 <= limit {
		return
	}
	drop := len(s.history) - 1 - limit
	s.history = append(s.history[:1], s.history[1+drop:]...)
}
