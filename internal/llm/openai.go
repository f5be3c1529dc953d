package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"go.uber.org/zap"

	"github.com/agalue/ada-voice-agent/internal/conversation"
	"github.com/agalue/ada-voice-agent/internal/logging"
)

// OpenAI talks to an OpenAI-compatible chat completions endpoint, such as
// Ollama's /v1. The reply is streamed and accumulated.
type OpenAI struct {
	client openai.Client
	cfg    Config
	log    *zap.SugaredLogger
}

// NewOpenAI creates an OpenAI-compatible responder. Host is the API base URL
// including the version segment, e.g. http://localhost:11434/v1.
func NewOpenAI(cfg Config, log *zap.SugaredLogger) (*OpenAI, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("openai backend needs a base URL")
	}
	key := cfg.APIKey
	if key == "" {
		key = "ollama"
	}
	client := openai.NewClient(
		option.WithBaseURL(strings.TrimSuffix(cfg.Host, "/")+"/"),
		option.WithAPIKey(key),
		option.WithHTTPClient(httpClient()),
		option.WithMaxRetries(1),
	)
	return &OpenAI{client: client, cfg: cfg, log: logging.OrNop(log)}, nil
}

// Generate streams a completion for the history and returns the full text.
func (o *OpenAI) Generate(ctx context.Context, history []conversation.Message) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(o.cfg.Model),
		Messages:    buildMessages(history),
		Temperature: openai.Float(o.cfg.Temperature),
	}
	if o.cfg.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(o.cfg.MaxTokens))
	}

	start := time.Now()
	stream := o.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	acc := openai.ChatCompletionAccumulator{}
	chunks := 0
	for stream.Next() {
		acc.AddChunk(stream.Current())
		chunks++
	}
	if err := stream.Err(); err != nil {
		return "", fmt.Errorf("chat completion stream: %w", err)
	}
	if len(acc.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	o.log.Debugw("LLM reply received", "model", o.cfg.Model, "chunks", chunks, "elapsed", time.Since(start).Round(time.Millisecond))
	return strings.TrimSpace(acc.Choices[0].Message.Content), nil
}

// HealthCheck lists the models to verify the endpoint answers.
func (o *OpenAI) HealthCheck(ctx context.Context) error {
	if _, err := o.client.Models.List(ctx); err != nil {
		return fmt.Errorf("cannot reach %s: %w", o.cfg.Host, err)
	}
	return nil
}

func buildMessages(history []conversation.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case conversation.RoleSystem:
			out = append(out, openai.SystemMessage(m.Text))
		case conversation.RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Text))
		default:
			out = append(out, openai.UserMessage(m.Text))
		}
	}
	return out
}
