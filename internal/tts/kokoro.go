// Package tts synthesizes replies with Kokoro through sherpa-onnx.
package tts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agalue/ada-voice-agent/internal/audio"
	"github.com/agalue/ada-voice-agent/internal/logging"
	"github.com/agalue/ada-voice-agent/internal/sherpa"
)

// SampleRate is the Kokoro output rate.
const SampleRate = 24000

// sentenceGap is the silence inserted between synthesized sentences.
const sentenceGap = 120 * time.Millisecond

// ErrEmptyText is returned when there is nothing to say.
var ErrEmptyText = errors.New("empty text")

// Config holds the Kokoro model files and voice settings.
type Config struct {
	Model     string // model.onnx
	Voices    string // voices.bin
	Tokens    string // tokens.txt
	DataDir   string // espeak-ng-data
	Lexicon   string // optional, comma separated for multi-lingual voices
	Language  string // espeak code for multi-lingual models, e.g. "en-us"
	SpeakerID int
	Speed     float32
	Provider  string
	Threads   int
	Debug     bool
}

// Kokoro is a text-to-speech engine. The engine is not safe for concurrent
// use, so generation is serialized across sessions.
type Kokoro struct {
	speakerID int
	speed     float32
	log       *zap.SugaredLogger

	mu  sync.Mutex
	tts *sherpa.OfflineTts
}

// NewKokoro loads the model. A failure here is fatal to the caller.
func NewKokoro(cfg Config, log *zap.SugaredLogger) (*Kokoro, error) {
	if cfg.Speed <= 0 {
		cfg.Speed = 1
	}
	tc := &sherpa.OfflineTtsConfig{}
	tc.Model.Kokoro.Model = cfg.Model
	tc.Model.Kokoro.Voices = cfg.Voices
	tc.Model.Kokoro.Tokens = cfg.Tokens
	tc.Model.Kokoro.DataDir = cfg.DataDir
	tc.Model.Kokoro.Lexicon = cfg.Lexicon
	tc.Model.Kokoro.Lang = cfg.Language
	tc.Model.Kokoro.LengthScale = 1.0 / cfg.Speed
	tc.Model.NumThreads = cfg.Threads
	tc.Model.Provider = cfg.Provider
	tc.MaxNumSentences = 1 // Kokoro only supports 1
	if cfg.Debug {
		tc.Model.Debug = 1
	}

	tts := sherpa.NewOfflineTts(tc)
	if tts == nil {
		return nil, fmt.Errorf("failed to create kokoro synthesizer (model %s)", cfg.Model)
	}
	return &Kokoro{
		speakerID: cfg.SpeakerID,
		speed:     cfg.Speed,
		log:       logging.OrNop(log),
		tts:       tts,
	}, nil
}

// Synthesize speaks text sentence by sentence and joins the results into a
// single mono clip. Cancelling ctx abandons the sentence being generated;
// the engine stays busy until that call returns.
func (k *Kokoro) Synthesize(ctx context.Context, text string) (audio.Clip, error) {
	clip, err := synthesizeSentences(ctx, SplitSentences(CleanText(text)), k.generate)
	if err != nil {
		return audio.Clip{}, err
	}
	k.log.Debugw("🎵 Generated speech", "samples", len(clip.Samples), "duration", clip.Duration().Round(time.Millisecond))
	return clip, nil
}

func (k *Kokoro) generate(sentence string) ([]float32, int) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.tts == nil {
		return nil, 0
	}
	out := k.tts.Generate(sentence, k.speakerID, k.speed)
	if out == nil {
		return nil, 0
	}
	return out.Samples, int(out.SampleRate)
}

// Close releases the engine.
func (k *Kokoro) Close() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.tts != nil {
		sherpa.DeleteOfflineTts(k.tts)
		k.tts = nil
	}
}

type generated struct {
	samples []float32
	rate    int
}

// synthesizeSentences runs gen on each sentence and concatenates the output
// with a short gap. Sentences that produce no audio are skipped.
func synthesizeSentences(ctx context.Context, sentences []string, gen func(string) ([]float32, int)) (audio.Clip, error) {
	if len(sentences) == 0 {
		return audio.Clip{}, ErrEmptyText
	}
	clip := audio.Clip{Channels: 1}
	for _, sentence := range sentences {
		if err := ctx.Err(); err != nil {
			return audio.Clip{}, fmt.Errorf("synthesize: %w", err)
		}
		done := make(chan generated, 1)
		go func() {
			samples, rate := gen(sentence)
			done <- generated{samples, rate}
		}()
		var g generated
		select {
		case <-ctx.Done():
			return audio.Clip{}, fmt.Errorf("synthesize: %w", ctx.Err())
		case g = <-done:
		}
		samples, rate := g.samples, g.rate
		if len(samples) == 0 || rate <= 0 {
			continue
		}
		if clip.SampleRate == 0 {
			clip.SampleRate = rate
		} else if rate != clip.SampleRate {
			samples = audio.Resample(samples, rate, clip.SampleRate)
		}
		if len(clip.Samples) > 0 {
			gap := clip.SampleRate * int(sentenceGap/time.Millisecond) / 1000
			clip.Samples = append(clip.Samples, make([]float32, gap)...)
		}
		clip.Samples = append(clip.Samples, samples...)
	}
	if len(clip.Samples) == 0 {
		return audio.Clip{}, errors.New("speech generation failed for all sentences")
	}
	return clip, nil
}

// SplitSentences splits text on sentence punctuation and newlines.
func SplitSentences(text string) []string {
	var sentences []string
	var current strings.Builder
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			sentences = append(sentences, s)
		}
		current.Reset()
	}
	for _, c := range text {
		current.WriteRune(c)
		if c == '.' || c == '!' || c == '?' || c == '\n' {
			flush()
		}
	}
	flush()
	return sentences
}

// CleanText strips markdown markers that LLMs like to emit and that Kokoro
// would otherwise read aloud.
func CleanText(text string) string {
	r := strings.NewReplacer("**", "", "__", "", "`", "", "#", "", "*", "")
	return strings.TrimSpace(r.Replace(text))
}
