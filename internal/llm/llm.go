// Package llm implements conversation responders backed by a local language
// model, either through the native Ollama API or an OpenAI-compatible
// endpoint.
package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/agalue/ada-voice-agent/internal/conversation"
)

// Backends.
const (
	BackendOllama = "ollama"
	BackendOpenAI = "openai"
)

// Config selects and tunes the responder.
type Config struct {
	Backend     string // ollama or openai
	Host        string // base URL, e.g. http://localhost:11434
	Model       string
	APIKey      string // openai backend only; Ollama ignores it
	Temperature float64
	MaxTokens   int // limits reply length for voice output
	ContextSize int // ollama num_ctx
}

// Responder is a conversation.Responder that can verify its backend.
type Responder interface {
	conversation.Responder
	HealthCheck(ctx context.Context) error
}

// New builds the responder for cfg.Backend.
func New(cfg Config, log *zap.SugaredLogger) (Responder, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", BackendOllama:
		return NewOllama(cfg, log)
	case BackendOpenAI:
		return NewOpenAI(cfg, log)
	default:
		return nil, fmt.Errorf("unknown llm backend %q (use %s or %s)", cfg.Backend, BackendOllama, BackendOpenAI)
	}
}

// httpClient keeps connections to the local model warm between turns.
func httpClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}
