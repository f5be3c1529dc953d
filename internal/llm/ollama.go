package llm

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
	"go.uber.org/zap"

	"github.com/agalue/ada-voice-agent/internal/conversation"
	"github.com/agalue/ada-voice-agent/internal/logging"
)

// Ollama talks to the native Ollama chat API.
type Ollama struct {
	client  *api.Client
	model   string
	options map[string]any
	log     *zap.SugaredLogger
}

// NewOllama creates an Ollama responder.
func NewOllama(cfg Config, log *zap.SugaredLogger) (*Ollama, error) {
	u, err := url.Parse(strings.TrimSuffix(cfg.Host, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid host URL: %w", err)
	}
	opts := map[string]any{"temperature": cfg.Temperature}
	if cfg.MaxTokens > 0 {
		opts["num_predict"] = cfg.MaxTokens
	}
	if cfg.ContextSize > 0 {
		opts["num_ctx"] = cfg.ContextSize
	}
	return &Ollama{
		client:  api.NewClient(u, httpClient()),
		model:   cfg.Model,
		options: opts,
		log:     logging.OrNop(log),
	}, nil
}

// Generate sends the whole history and returns the reply.
func (o *Ollama) Generate(ctx context.Context, history []conversation.Message) (string, error) {
	messages := make([]api.Message, 0, len(history))
	for _, m := range history {
		messages = append(messages, api.Message{Role: string(m.Role), Content: m.Text})
	}

	stream := false
	start := time.Now()
	var reply strings.Builder
	err := o.client.Chat(ctx, &api.ChatRequest{
		Model:    o.model,
		Messages: messages,
		Stream:   &stream,
		Options:  o.options,
	}, func(resp api.ChatResponse) error {
		reply.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("chat request failed: %w", err)
	}
	o.log.Debugw("LLM reply received", "model", o.model, "elapsed", time.Since(start).Round(time.Millisecond))
	return strings.TrimSpace(reply.String()), nil
}

// HealthCheck verifies the Ollama server is reachable.
func (o *Ollama) HealthCheck(ctx context.Context) error {
	if err := o.client.Heartbeat(ctx); err != nil {
		return fmt.Errorf("cannot reach Ollama: %w", err)
	}
	return nil
}
