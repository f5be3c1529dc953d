package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agalue/ada-voice-agent/internal/llm"
)

func newFlags(cfg *Config) *pflag.FlagSet {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(fs, cfg)
	BindServerFlags(fs, cfg)
	BindDeviceFlags(fs, cfg)
	return fs
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.finalize()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 200, cfg.SpeechThreshold)
	assert.Equal(t, 20, cfg.MinSpeechFrames)
	assert.Equal(t, 40, cfg.MaxSilenceFrames)
	assert.Equal(t, 50, cfg.PreRollFrames)
	assert.Equal(t, 8000, cfg.MinUtteranceSamples)
	assert.Equal(t, 3, cfg.MinTranscriptChars)
	assert.Equal(t, "af_bella", cfg.TTSVoice)
	assert.Equal(t, Voices["af_bella"].SpeakerID, cfg.TTSSpeakerID)
	assert.Contains(t, cfg.TTSLexicon, "lexicon-us-en.txt")
	assert.Empty(t, cfg.TTSLanguage)
	assert.Positive(t, cfg.STTThreads)
}

func TestLoadFileThenFlags(t *testing.T) {
	t.Chdir(t.TempDir())
	path := writeFile(t, "ada.yaml", `
llm_model: qwen2.5:3b
speech_threshold: 300
tts_voice: bf_emma
stt_timeout: 10s
greeting: ""
ice_servers: ["stun:file"]
`)

	cfg := DefaultConfig()
	fs := newFlags(cfg)
	require.NoError(t, fs.Parse([]string{"--speech-threshold=450", "--ice-server=stun:a", "--ice-server=stun:b"}))
	require.NoError(t, Load(cfg, path, fs))

	assert.Equal(t, "qwen2.5:3b", cfg.LLMModel)
	assert.Equal(t, 450, cfg.SpeechThreshold, "flag wins over file")
	assert.Equal(t, "bf_emma", cfg.TTSVoice)
	assert.Equal(t, Voices["bf_emma"].SpeakerID, cfg.TTSSpeakerID)
	assert.Contains(t, cfg.TTSLexicon, "lexicon-gb-en.txt")
	assert.Equal(t, 10*time.Second, cfg.STTTimeout)
	assert.Empty(t, cfg.Greeting)
	assert.Equal(t, []string{"stun:a", "stun:b"}, cfg.ICEServers)
}

func TestLoadReadsSecretsFromEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	require.NoError(t, os.WriteFile(".env", []byte("ADA_TOKEN_SECRET=from-dotenv\n"), 0o600))
	t.Setenv(EnvOpenAIKey, "sk-test")
	t.Cleanup(func() { os.Unsetenv(EnvTokenSecret) })

	cfg := DefaultConfig()
	require.NoError(t, Load(cfg, "", nil))
	assert.Equal(t, "from-dotenv", cfg.TokenSecret)
	assert.Equal(t, "sk-test", cfg.LLMAPIKey)
}

func TestLoadErrors(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg := DefaultConfig()
	assert.Error(t, Load(cfg, "missing.yaml", nil))

	cfg = DefaultConfig()
	assert.Error(t, Load(cfg, writeFile(t, "bad.yaml", "speech_threshold: [1"), nil))

	cfg = DefaultConfig()
	assert.ErrorContains(t, Load(cfg, writeFile(t, "voice.yaml", "tts_voice: nobody"), nil), "unknown voice")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"temperature", func(c *Config) { c.Temperature = 3 }},
		{"speed", func(c *Config) { c.TTSSpeed = 0 }},
		{"buffer factor", func(c *Config) { c.BufferFactor = 0 }},
		{"settle", func(c *Config) { c.PostPlaybackDelayMs = -1 }},
		{"thresholds", func(c *Config) { c.MaxSilenceFrames = 0 }},
		{"provider", func(c *Config) { c.STTProvider = "tpu" }},
		{"queue", func(c *Config) { c.QueueSize = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestOpenAIBackendAddsV1(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LLMBackend = llm.BackendOpenAI
	cfg.finalize()
	assert.Equal(t, "http://localhost:11434/v1", cfg.LLMURL)

	cfg.finalize()
	assert.Equal(t, "http://localhost:11434/v1", cfg.LLMURL)
}

func TestConverters(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PostPlaybackDelayMs = 250
	cfg.MaxHistory = 6
	cfg.finalize()

	g := cfg.GateOptions()
	assert.Equal(t, 250*time.Millisecond, g.SettleMargin)
	assert.Equal(t, cfg.TTSTimeout, g.SynthTimeout)

	p := cfg.PipelineOptions()
	require.NoError(t, p.Validate())
	assert.Equal(t, 16000, p.TranscriberRate)
	assert.Equal(t, 6, p.Conversation.MaxHistory)
	assert.Equal(t, cfg.SystemPrompt, p.Conversation.SystemPrompt)

	w, err := cfg.WhisperConfig()
	require.NoError(t, err)
	assert.NotEmpty(t, w.Provider)
	assert.Equal(t, cfg.WhisperEncoder, w.Encoder)

	k, err := cfg.KokoroConfig()
	require.NoError(t, err)
	assert.Equal(t, cfg.TTSSpeakerID, k.SpeakerID)

	l := cfg.LLMConfig()
	assert.Equal(t, cfg.LLMModel, l.Model)
}

func TestCheckModels(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ModelDir = t.TempDir()
	cfg.finalize()
	assert.ErrorContains(t, cfg.CheckModels(), "required file not found")
}

func TestLookupVoice(t *testing.T) {
	v, ok := LookupVoice(" AF_Bella ")
	require.True(t, ok)
	assert.Equal(t, "af_bella", v.Name)
	assert.Equal(t, 0, Voices["af_alloy"].SpeakerID)

	es, ok := LookupVoice("ef_dora")
	require.True(t, ok)
	assert.Equal(t, "es", es.Lang())
	assert.Empty(t, es.Lexicon("/m"))

	_, ok = LookupVoice("nobody")
	assert.False(t, ok)
}

func TestWriteVoices(t *testing.T) {
	var sb strings.Builder
	WriteVoices(&sb)
	assert.Contains(t, sb.String(), "af_bella")
	assert.Contains(t, sb.String(), "Default: af_bella")

	sb.Reset()
	require.NoError(t, WriteVoiceInfo(&sb, "bm_george"))
	assert.Contains(t, sb.String(), "British English")
	assert.Error(t, WriteVoiceInfo(&sb, "nobody"))
}
