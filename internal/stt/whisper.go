// Package stt transcribes utterances with Whisper through sherpa-onnx.
package stt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agalue/ada-voice-agent/internal/logging"
	"github.com/agalue/ada-voice-agent/internal/sherpa"
)

// SampleRate is the only rate Whisper accepts.
const SampleRate = 16000

// ErrEmptyTranscript is returned when decoding produced no text.
var ErrEmptyTranscript = errors.New("empty transcript")

// Config holds the Whisper model files and runtime settings.
type Config struct {
	Encoder  string
	Decoder  string
	Tokens   string
	Language string // "en", "es", ... or "auto" to detect
	Provider string // cpu, cuda or coreml
	Threads  int
	Debug    bool
}

// Whisper is an offline recognizer. A recognizer instance is not safe for
// concurrent decoding, so calls are serialized.
type Whisper struct {
	language string
	log      *zap.SugaredLogger

	mu         sync.Mutex
	recognizer *sherpa.OfflineRecognizer
}

// NewWhisper loads the model. A failure here is fatal to the caller.
func NewWhisper(cfg Config, log *zap.SugaredLogger) (*Whisper, error) {
	rc := &sherpa.OfflineRecognizerConfig{}
	rc.ModelConfig.Whisper.Encoder = cfg.Encoder
	rc.ModelConfig.Whisper.Decoder = cfg.Decoder
	// An empty language makes Whisper detect it.
	language := cfg.Language
	if strings.EqualFold(language, "auto") {
		language = ""
	}
	rc.ModelConfig.Whisper.Language = language
	rc.ModelConfig.Whisper.Task = "transcribe"
	rc.ModelConfig.Whisper.TailPaddings = -1
	rc.ModelConfig.Tokens = cfg.Tokens
	rc.ModelConfig.NumThreads = cfg.Threads
	rc.ModelConfig.Provider = cfg.Provider
	rc.DecodingMethod = "greedy_search"
	if cfg.Debug {
		rc.ModelConfig.Debug = 1
	}

	recognizer := sherpa.NewOfflineRecognizer(rc)
	if recognizer == nil {
		return nil, fmt.Errorf("failed to create whisper recognizer (encoder %s)", cfg.Encoder)
	}
	return &Whisper{
		language:   cfg.Language,
		log:        logging.OrNop(log),
		recognizer: recognizer,
	}, nil
}

type result struct {
	text, lang string
}

// Transcribe decodes 16 kHz float samples. Decoding runs on its own
// goroutine so ctx can abandon a stuck call; the recognizer stays busy until
// that call returns.
func (w *Whisper) Transcribe(ctx context.Context, samples []float32, sampleRate int) (string, string, error) {
	if sampleRate != SampleRate {
		return "", "", fmt.Errorf("whisper needs %d Hz audio, got %d", SampleRate, sampleRate)
	}
	if len(samples) == 0 {
		return "", "", ErrEmptyTranscript
	}

	done := make(chan result, 1)
	go func() { done <- w.decode(samples) }()

	select {
	case <-ctx.Done():
		return "", "", fmt.Errorf("transcribe: %w", ctx.Err())
	case r := <-done:
		if r.text == "" {
			return "", r.lang, ErrEmptyTranscript
		}
		return r.text, r.lang, nil
	}
}

func (w *Whisper) decode(samples []float32) result {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.recognizer == nil {
		return result{}
	}

	start := time.Now()
	stream := sherpa.NewOfflineStream(w.recognizer)
	if stream == nil {
		w.log.Error("❌ Failed to create offline stream")
		return result{}
	}
	defer sherpa.DeleteOfflineStream(stream)

	stream.AcceptWaveform(SampleRate, samples)
	w.recognizer.Decode(stream)
	res := stream.GetResult()

	lang := strings.Trim(res.Lang, "<|>")
	if lang == "" {
		lang = w.language
	}
	w.log.Debugw("Whisper decode finished",
		"audio", time.Duration(len(samples))*time.Second/SampleRate,
		"elapsed", time.Since(start).Round(time.Millisecond))
	return result{text: strings.TrimSpace(res.Text), lang: lang}
}

// Close releases the recognizer.
func (w *Whisper) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.recognizer != nil {
		sherpa.DeleteOfflineRecognizer(w.recognizer)
		w.recognizer = nil
	}
}
