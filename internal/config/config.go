// Package config holds the agent configuration. Values come from defaults,
// an optional YAML file, command-line flags and, for secrets, the environment
// (a .env file is loaded when present).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/agalue/ada-voice-agent/internal/conversation"
	"github.com/agalue/ada-voice-agent/internal/gate"
	"github.com/agalue/ada-voice-agent/internal/llm"
	"github.com/agalue/ada-voice-agent/internal/pipeline"
	"github.com/agalue/ada-voice-agent/internal/sherpa"
	"github.com/agalue/ada-voice-agent/internal/stt"
	"github.com/agalue/ada-voice-agent/internal/tts"
	"github.com/agalue/ada-voice-agent/internal/turn"
)

// Environment variables read for secrets.
const (
	EnvTokenSecret = "ADA_TOKEN_SECRET"
	EnvOpenAIKey   = "OPENAI_API_KEY"
)

const defaultVoice = "af_bella"

// Config holds all agent settings.
type Config struct {
	// Logging
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
	Verbose  bool   `yaml:"verbose"` // model debug output

	// Models
	ModelDir       string `yaml:"model_dir"`
	WhisperEncoder string `yaml:"whisper_encoder"`
	WhisperDecoder string `yaml:"whisper_decoder"`
	WhisperTokens  string `yaml:"whisper_tokens"`
	TTSModel       string `yaml:"tts_model"`
	TTSVoices      string `yaml:"tts_voices"`
	TTSTokens      string `yaml:"tts_tokens"`
	TTSData        string `yaml:"tts_data"`
	TTSLexicon     string `yaml:"tts_lexicon"`
	TTSLanguage    string `yaml:"tts_language"`

	// Hardware acceleration, "auto" picks per platform
	Provider    string `yaml:"provider"`
	STTProvider string `yaml:"stt_provider"`
	TTSProvider string `yaml:"tts_provider"`
	NumThreads  int    `yaml:"num_threads"` // 0 = derive from CPU count
	STTThreads  int    `yaml:"stt_threads"`
	TTSThreads  int    `yaml:"tts_threads"`

	// Speech
	STTLanguage  string  `yaml:"stt_language"`
	TTSVoice     string  `yaml:"tts_voice"`
	TTSSpeakerID int     `yaml:"tts_speaker_id"` // -1 = from the voice table
	TTSSpeed     float32 `yaml:"tts_speed"`

	// LLM
	LLMBackend   string  `yaml:"llm_backend"` // ollama or openai
	LLMURL       string  `yaml:"llm_url"`
	LLMModel     string  `yaml:"llm_model"`
	LLMAPIKey    string  `yaml:"-"`
	SystemPrompt string  `yaml:"system_prompt"`
	MaxHistory   int     `yaml:"max_history"` // messages kept besides the prompt, 0 = all
	Temperature  float64 `yaml:"temperature"`
	MaxTokens    int     `yaml:"max_tokens"`
	ContextSize  int     `yaml:"context_size"`

	// Turn detection
	SpeechThreshold     int `yaml:"speech_threshold"`
	MinSpeechFrames     int `yaml:"min_speech_frames"`
	MaxSilenceFrames    int `yaml:"max_silence_frames"`
	PreRollFrames       int `yaml:"pre_roll_frames"`
	MinUtteranceSamples int `yaml:"min_utterance_samples"`
	MinTranscriptChars  int `yaml:"min_transcript_chars"`

	// Speaking gate
	BufferFactor        float64       `yaml:"buffer_factor"`
	MinWait             time.Duration `yaml:"min_wait"`
	PostPlaybackDelayMs int           `yaml:"post_playback_delay_ms"`

	// Timeouts on the external engines
	STTTimeout time.Duration `yaml:"stt_timeout"`
	LLMTimeout time.Duration `yaml:"llm_timeout"`
	TTSTimeout time.Duration `yaml:"tts_timeout"`

	// Agent
	Greeting     string `yaml:"greeting"`
	DictationDir string `yaml:"dictation_dir"`
	QueueSize    int    `yaml:"queue_size"`
	StatsEvery   int    `yaml:"stats_every"`

	// WebRTC room server
	Listen      string        `yaml:"listen"`
	Room        string        `yaml:"room"`
	TokenSecret string        `yaml:"-"`
	TokenTTL    time.Duration `yaml:"token_ttl"`
	ICEServers  []string      `yaml:"ice_servers"`

	// Local audio devices
	SampleRate    int    `yaml:"sample_rate"`   // capture rate
	PlaybackRate  int    `yaml:"playback_rate"` // speaker rate
	FrameMs       int    `yaml:"frame_ms"`
	AudioBufferMs uint32 `yaml:"audio_buffer_ms"` // 0 = 100ms, good for Bluetooth
}

// DefaultConfig returns the tuned defaults.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	th := turn.DefaultThresholds()
	g := gate.DefaultOptions()
	p := pipeline.DefaultOptions()

	return &Config{
		LogLevel: "info",

		ModelDir: filepath.Join(homeDir, ".voice-assistant", "models"),
		Provider: "auto",

		STTLanguage:  "en",
		TTSVoice:     defaultVoice,
		TTSSpeakerID: -1,
		TTSSpeed:     0.93,

		LLMBackend: llm.BackendOllama,
		LLMURL:     "http://localhost:11434",
		LLMModel:   "llama3.2:3b",
		SystemPrompt: conversation.DefaultSystemPrompt +
			" Your replies are read aloud, so never use markdown, lists, code or special characters.",
		Temperature: 0.7,
		MaxTokens:   150,
		ContextSize: 2048,

		SpeechThreshold:     th.SpeechThreshold,
		MinSpeechFrames:     th.MinSpeechFrames,
		MaxSilenceFrames:    th.MaxSilenceFrames,
		PreRollFrames:       th.PreRollFrames,
		MinUtteranceSamples: th.MinUtteranceSamples,
		MinTranscriptChars:  p.MinTranscriptChars,

		BufferFactor:        g.BufferFactor,
		MinWait:             g.MinWait,
		PostPlaybackDelayMs: int(g.SettleMargin / time.Millisecond),

		STTTimeout: p.STTTimeout,
		LLMTimeout: p.LLMTimeout,
		TTSTimeout: g.SynthTimeout,

		Greeting:     p.Greeting,
		DictationDir: p.DictationDir,
		QueueSize:    p.QueueSize,
		StatsEvery:   p.StatsEvery,

		Listen:     ":8080",
		Room:       "ada-room",
		TokenTTL:   24 * time.Hour,
		ICEServers: []string{"stun:stun.l.google.com:19302"},

		SampleRate:   16000,
		PlaybackRate: tts.SampleRate,
		FrameMs:      20,
	}
}

// Load builds the configuration. Flags registered with BindFlags and changed
// on the command line win over the YAML file at path. Secrets are read from
// the environment after loading .env from the working directory.
func Load(cfg *Config, path string, fs *pflag.FlagSet) error {
	changed := snapshotFlags(fs)

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse config %s: %w", path, err)
		}
		for _, f := range changed {
			if err := f.restore(); err != nil {
				return fmt.Errorf("reapply flag --%s: %w", f.flag.Name, err)
			}
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	if v := os.Getenv(EnvTokenSecret); v != "" {
		cfg.TokenSecret = v
	}
	if v := os.Getenv(EnvOpenAIKey); v != "" && cfg.LLMAPIKey == "" {
		cfg.LLMAPIKey = v
	}

	cfg.finalize()
	return cfg.Validate()
}

// flagValue is a command-line value to put back after the file is read.
type flagValue struct {
	flag  *pflag.Flag
	value string
	slice []string
}

func snapshotFlags(fs *pflag.FlagSet) []flagValue {
	var out []flagValue
	if fs == nil {
		return out
	}
	fs.Visit(func(f *pflag.Flag) {
		v := flagValue{flag: f, value: f.Value.String()}
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			v.slice = sv.GetSlice()
		}
		out = append(out, v)
	})
	return out
}

// restore sets the flag back. Slice flags append on Set, so they are
// replaced instead.
func (v flagValue) restore() error {
	if sv, ok := v.flag.Value.(pflag.SliceValue); ok {
		return sv.Replace(v.slice)
	}
	return v.flag.Value.Set(v.value)
}

// finalize fills in derived values: providers, thread counts, model paths and
// the voice settings.
func (c *Config) finalize() {
	c.normalizeThreadCounts()

	if c.WhisperEncoder == "" {
		c.WhisperEncoder = filepath.Join(c.ModelDir, "whisper", "whisper-small-encoder.int8.onnx")
	}
	if c.WhisperDecoder == "" {
		c.WhisperDecoder = filepath.Join(c.ModelDir, "whisper", "whisper-small-decoder.int8.onnx")
	}
	if c.WhisperTokens == "" {
		c.WhisperTokens = filepath.Join(c.ModelDir, "whisper", "whisper-small-tokens.txt")
	}

	ttsDir := filepath.Join(c.ModelDir, "tts", "kokoro-multi-lang-v1_0")
	if c.TTSModel == "" {
		c.TTSModel = filepath.Join(ttsDir, "model.onnx")
	}
	if c.TTSVoices == "" {
		c.TTSVoices = filepath.Join(ttsDir, "voices.bin")
	}
	if c.TTSTokens == "" {
		c.TTSTokens = filepath.Join(ttsDir, "tokens.txt")
	}
	if c.TTSData == "" {
		c.TTSData = filepath.Join(ttsDir, "espeak-ng-data")
	}

	if v, ok := LookupVoice(c.TTSVoice); ok {
		if c.TTSSpeakerID < 0 {
			c.TTSSpeakerID = v.SpeakerID
		}
		if c.TTSLexicon == "" {
			c.TTSLexicon = v.Lexicon(ttsDir)
		}
		if c.TTSLanguage == "" {
			c.TTSLanguage = v.Lang()
		}
	}

	if c.LLMBackend == llm.BackendOpenAI && !strings.HasSuffix(strings.TrimSuffix(c.LLMURL, "/"), "/v1") {
		c.LLMURL = strings.TrimSuffix(c.LLMURL, "/") + "/v1"
	}
}

// normalizeThreadCounts uses a third of the cores per model so that Whisper
// and Kokoro can run side by side on small boards.
func (c *Config) normalizeThreadCounts() {
	if c.NumThreads <= 0 {
		c.NumThreads = max(1, runtime.NumCPU()/3)
	}
	if c.STTThreads <= 0 {
		c.STTThreads = c.NumThreads
	}
	if c.TTSThreads <= 0 {
		c.TTSThreads = c.NumThreads
	}
}

// Validate checks values that do not depend on the model files.
func (c *Config) Validate() error {
	var errs []error
	if _, ok := LookupVoice(c.TTSVoice); !ok {
		errs = append(errs, fmt.Errorf("unknown voice %q", c.TTSVoice))
	}
	if c.TTSSpeed <= 0 {
		errs = append(errs, fmt.Errorf("tts speed must be positive, got %v", c.TTSSpeed))
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		errs = append(errs, fmt.Errorf("temperature must be within 0.0-2.0, got %v", c.Temperature))
	}
	if c.SampleRate <= 0 || c.PlaybackRate <= 0 || c.FrameMs <= 0 {
		errs = append(errs, errors.New("sample rate, playback rate and frame size must be positive"))
	}
	if c.BufferFactor <= 0 {
		errs = append(errs, fmt.Errorf("buffer factor must be positive, got %v", c.BufferFactor))
	}
	if c.PostPlaybackDelayMs < 0 {
		errs = append(errs, fmt.Errorf("post playback delay must be >= 0, got %d", c.PostPlaybackDelayMs))
	}
	for _, p := range []string{c.Provider, c.STTProvider, c.TTSProvider} {
		if p == "" {
			continue
		}
		if _, err := sherpa.ResolveProvider(p); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.Thresholds().Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.PipelineOptions().Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// CheckModels verifies the model files exist. It is only needed by commands
// that load the speech engines.
func (c *Config) CheckModels() error {
	required := []string{
		c.WhisperEncoder, c.WhisperDecoder, c.WhisperTokens,
		c.TTSModel, c.TTSVoices, c.TTSTokens,
	}
	for _, path := range required {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("required file not found: %s (download the models into %s)", path, c.ModelDir)
		}
	}
	return nil
}

// Thresholds returns the turn detector settings.
func (c *Config) Thresholds() turn.Thresholds {
	return turn.Thresholds{
		SpeechThreshold:     c.SpeechThreshold,
		MinSpeechFrames:     c.MinSpeechFrames,
		MaxSilenceFrames:    c.MaxSilenceFrames,
		PreRollFrames:       c.PreRollFrames,
		MinUtteranceSamples: c.MinUtteranceSamples,
	}
}

// GateOptions returns the speaking gate settings.
func (c *Config) GateOptions() gate.Options {
	return gate.Options{
		BufferFactor: c.BufferFactor,
		MinWait:      c.MinWait,
		SettleMargin: time.Duration(c.PostPlaybackDelayMs) * time.Millisecond,
		SynthTimeout: c.TTSTimeout,
	}
}

// PipelineOptions returns the agent settings.
func (c *Config) PipelineOptions() pipeline.Options {
	o := pipeline.DefaultOptions()
	o.Thresholds = c.Thresholds()
	o.Gate = c.GateOptions()
	o.Conversation = conversation.Options{SystemPrompt: c.SystemPrompt, MaxHistory: c.MaxHistory}
	o.DictationDir = c.DictationDir
	o.TranscriberRate = stt.SampleRate
	o.MinTranscriptChars = c.MinTranscriptChars
	o.STTTimeout = c.STTTimeout
	o.LLMTimeout = c.LLMTimeout
	o.Greeting = c.Greeting
	o.QueueSize = c.QueueSize
	o.StatsEvery = c.StatsEvery
	return o
}

// WhisperConfig returns the recognizer settings.
func (c *Config) WhisperConfig() (stt.Config, error) {
	provider, err := sherpa.ResolveProvider(firstNonEmpty(c.STTProvider, c.Provider))
	if err != nil {
		return stt.Config{}, err
	}
	return stt.Config{
		Encoder:  c.WhisperEncoder,
		Decoder:  c.WhisperDecoder,
		Tokens:   c.WhisperTokens,
		Language: c.STTLanguage,
		Provider: provider,
		Threads:  c.STTThreads,
		Debug:    c.Verbose,
	}, nil
}

// KokoroConfig returns the synthesizer settings.
func (c *Config) KokoroConfig() (tts.Config, error) {
	provider, err := sherpa.ResolveProvider(firstNonEmpty(c.TTSProvider, c.Provider))
	if err != nil {
		return tts.Config{}, err
	}
	return tts.Config{
		Model:     c.TTSModel,
		Voices:    c.TTSVoices,
		Tokens:    c.TTSTokens,
		DataDir:   c.TTSData,
		Lexicon:   c.TTSLexicon,
		Language:  c.TTSLanguage,
		SpeakerID: c.TTSSpeakerID,
		Speed:     c.TTSSpeed,
		Provider:  provider,
		Threads:   c.TTSThreads,
		Debug:     c.Verbose,
	}, nil
}

// LLMConfig returns the responder settings.
func (c *Config) LLMConfig() llm.Config {
	return llm.Config{
		Backend:     c.LLMBackend,
		Host:        c.LLMURL,
		Model:       c.LLMModel,
		APIKey:      c.LLMAPIKey,
		Temperature: c.Temperature,
		MaxTokens:   c.MaxTokens,
		ContextSize: c.ContextSize,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
