package config

import (
	"github.com/spf13/pflag"
)

// BindFlags registers the command-line flags on fs, writing into cfg. Flag
// defaults are the current values of cfg, so call it on DefaultConfig().
func BindFlags(fs *pflag.FlagSet, cfg *Config) {
	// Logging
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error")
	fs.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "Also write logs to this file")
	fs.BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "Enable model debug output")

	// Models
	fs.StringVar(&cfg.ModelDir, "model-dir", cfg.ModelDir, "Directory containing the Whisper and Kokoro models")
	fs.StringVar(&cfg.Provider, "provider", cfg.Provider, "Execution provider for both models: auto, cpu, cuda, coreml")
	fs.StringVar(&cfg.STTProvider, "stt-provider", cfg.STTProvider, "Execution provider for STT (overrides --provider)")
	fs.StringVar(&cfg.TTSProvider, "tts-provider", cfg.TTSProvider, "Execution provider for TTS (overrides --provider)")
	fs.IntVar(&cfg.NumThreads, "threads", cfg.NumThreads, "Threads per model (0 = auto)")
	fs.IntVar(&cfg.STTThreads, "stt-threads", cfg.STTThreads, "Threads for STT (0 = --threads)")
	fs.IntVar(&cfg.TTSThreads, "tts-threads", cfg.TTSThreads, "Threads for TTS (0 = --threads)")

	// Speech
	fs.StringVar(&cfg.STTLanguage, "stt-language", cfg.STTLanguage, "Whisper language code (empty = auto-detect)")
	fs.StringVar(&cfg.TTSVoice, "tts-voice", cfg.TTSVoice, "Kokoro voice name, see 'assistant voices'")
	fs.Float32Var(&cfg.TTSSpeed, "tts-speed", cfg.TTSSpeed, "Speech speed (1.0 = normal)")

	// LLM
	fs.StringVar(&cfg.LLMBackend, "llm-backend", cfg.LLMBackend, "LLM API: ollama or openai (any OpenAI-compatible server)")
	fs.StringVar(&cfg.LLMURL, "llm-url", cfg.LLMURL, "LLM server URL")
	fs.StringVar(&cfg.LLMModel, "llm-model", cfg.LLMModel, "LLM model name")
	fs.StringVar(&cfg.SystemPrompt, "system-prompt", cfg.SystemPrompt, "System prompt for the conversation")
	fs.IntVar(&cfg.MaxHistory, "max-history", cfg.MaxHistory, "Messages kept in the conversation (0 = all)")
	fs.Float64Var(&cfg.Temperature, "temperature", cfg.Temperature, "LLM temperature (0.0-2.0)")
	fs.IntVar(&cfg.MaxTokens, "max-tokens", cfg.MaxTokens, "Maximum tokens per reply")

	// Turn detection
	fs.IntVar(&cfg.SpeechThreshold, "speech-threshold", cfg.SpeechThreshold, "RMS level above which a frame counts as speech")
	fs.IntVar(&cfg.MinSpeechFrames, "min-speech-frames", cfg.MinSpeechFrames, "Speech frames needed to start recording")
	fs.IntVar(&cfg.MaxSilenceFrames, "max-silence-frames", cfg.MaxSilenceFrames, "Silence frames that end an utterance")
	fs.IntVar(&cfg.PreRollFrames, "pre-roll-frames", cfg.PreRollFrames, "Frames kept before the speech start")

	// Speaking gate
	fs.Float64Var(&cfg.BufferFactor, "buffer-factor", cfg.BufferFactor, "Multiplier on reply duration before listening again")
	fs.IntVar(&cfg.PostPlaybackDelayMs, "post-playback-delay", cfg.PostPlaybackDelayMs, "Delay in ms after playback before listening again")

	// Agent
	fs.StringVar(&cfg.Greeting, "greeting", cfg.Greeting, "Spoken when a participant joins (empty disables it)")
	fs.StringVar(&cfg.DictationDir, "dictation-dir", cfg.DictationDir, "Directory for saved dictations")
}

// BindServerFlags registers the WebRTC room server flags.
func BindServerFlags(fs *pflag.FlagSet, cfg *Config) {
	fs.StringVar(&cfg.Listen, "listen", cfg.Listen, "HTTP listen address")
	fs.StringVar(&cfg.Room, "room", cfg.Room, "Room name participants join")
	fs.StringSliceVar(&cfg.ICEServers, "ice-server", cfg.ICEServers, "STUN/TURN server URLs")
	fs.DurationVar(&cfg.TokenTTL, "token-ttl", cfg.TokenTTL, "Lifetime of minted join tokens")
}

// BindDeviceFlags registers the local audio device flags.
func BindDeviceFlags(fs *pflag.FlagSet, cfg *Config) {
	fs.IntVar(&cfg.SampleRate, "sample-rate", cfg.SampleRate, "Microphone sample rate")
	fs.IntVar(&cfg.FrameMs, "frame-ms", cfg.FrameMs, "Capture frame size in ms")
	fs.Uint32Var(&cfg.AudioBufferMs, "audio-buffer-ms", cfg.AudioBufferMs, "Playback buffer in ms (0 = 100ms, good for Bluetooth)")
}
