package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/agalue/ada-voice-agent/internal/config"
	"github.com/agalue/ada-voice-agent/internal/llm"
	"github.com/agalue/ada-voice-agent/internal/logging"
	"github.com/agalue/ada-voice-agent/internal/pipeline"
	"github.com/agalue/ada-voice-agent/internal/stt"
	"github.com/agalue/ada-voice-agent/internal/tts"
)

// shutdownTimeout bounds how long we wait for in-flight work on exit.
const shutdownTimeout = 5 * time.Second

type app struct {
	cfg        *config.Config
	configPath string
	log        *zap.SugaredLogger
}

func newRootCommand() *cobra.Command {
	a := &app{cfg: config.DefaultConfig()}

	root := &cobra.Command{
		Use:          "assistant",
		Short:        "Ada, a local voice assistant",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "YAML configuration file")
	config.BindFlags(root.PersistentFlags(), a.cfg)

	root.AddCommand(
		newServeCommand(a),
		newLocalCommand(a),
		newTokenCommand(a),
		newVoicesCommand(),
	)
	return root
}

// setup loads the configuration and builds the logger.
func (a *app) setup(cmd *cobra.Command) error {
	if err := config.Load(a.cfg, a.configPath, cmd.Flags()); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	log, err := logging.Init(a.cfg.LogLevel, a.cfg.LogFile)
	if err != nil {
		return err
	}
	a.log = log
	return nil
}

// engines are the speech and language models shared by every participant.
type engines struct {
	stt *stt.Whisper
	tts *tts.Kokoro
	llm llm.Responder
}

// loadEngines verifies the LLM and loads the models. Any failure is fatal.
func (a *app) loadEngines(ctx context.Context) (*engines, error) {
	cfg := a.cfg
	if err := cfg.CheckModels(); err != nil {
		return nil, err
	}

	responder, err := llm.New(cfg.LLMConfig(), a.log)
	if err != nil {
		return nil, fmt.Errorf("create LLM client: %w", err)
	}
	a.log.Infow("🔗 Checking LLM connection", "backend", cfg.LLMBackend, "url", cfg.LLMURL)
	hctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := responder.HealthCheck(hctx); err != nil {
		return nil, fmt.Errorf("LLM connection failed: %w", err)
	}
	a.log.Infow("✅ LLM connected", "model", cfg.LLMModel)

	whisperCfg, err := cfg.WhisperConfig()
	if err != nil {
		return nil, err
	}
	a.log.Infow("🧠 Loading speech recognition model", "provider", whisperCfg.Provider, "threads", whisperCfg.Threads)
	recognizer, err := stt.NewWhisper(whisperCfg, a.log)
	if err != nil {
		return nil, fmt.Errorf("create STT recognizer: %w", err)
	}

	kokoroCfg, err := cfg.KokoroConfig()
	if err != nil {
		recognizer.Close()
		return nil, err
	}
	a.log.Infow("🔊 Loading text-to-speech model", "voice", cfg.TTSVoice, "speaker", kokoroCfg.SpeakerID, "provider", kokoroCfg.Provider)
	synthesizer, err := tts.NewKokoro(kokoroCfg, a.log)
	if err != nil {
		recognizer.Close()
		return nil, fmt.Errorf("create TTS synthesizer: %w", err)
	}
	a.log.Info("✅ Speech models ready")

	return &engines{stt: recognizer, tts: synthesizer, llm: responder}, nil
}

func (e *engines) Close() {
	e.stt.Close()
	e.tts.Close()
}

func (a *app) newAgent(e *engines) (*pipeline.Agent, error) {
	return pipeline.NewAgent(pipeline.Deps{
		Transcriber: e.stt,
		Responder:   e.llm,
		Synthesizer: e.tts,
	}, a.cfg.PipelineOptions(), a.log)
}

// watchEvents logs agent events that are not already reported by the
// pipeline itself.
func (a *app) watchEvents(ctx context.Context, agent *pipeline.Agent) {
	events, cancel := agent.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			log := a.log.With("participant", ev.Participant)
			switch ev.Kind {
			case pipeline.StateChanged:
				log.Debugw("State changed", "state", ev.State)
			case pipeline.DictationUpdated:
				if ev.Text == "" {
					log.Info("📝 Dictation closed")
				} else {
					log.Infow("📝 Dictation", "text", ev.Text)
				}
			case pipeline.DictationSaved:
				log.Infow("💾 Dictation saved", "path", ev.Path)
			}
		}
	}
}
