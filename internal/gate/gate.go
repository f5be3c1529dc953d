// Package gate implements the speaking-state lock that keeps the assistant
// from hearing itself.
//
// Speak raises the lock before synthesis starts, publishes the audio, waits
// for the estimated playback time plus a settle margin, and only then lowers
// it. The turn detector samples Speaking on every frame and stays idle while
// it is true.
package gate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/agalue/ada-voice-agent/internal/audio"
	"github.com/agalue/ada-voice-agent/internal/logging"
)

// ErrNoAudio is returned when the synthesizer produced no samples.
var ErrNoAudio = errors.New("synthesizer returned no audio")

// Synthesizer turns text into speech.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (audio.Clip, error)
}

// Publisher sends audio to the listener.
type Publisher interface {
	PublishAudio(ctx context.Context, f audio.Frame) error
	OutputSampleRate() int
}

// Options tunes the playback wait.
type Options struct {
	BufferFactor float64       // multiplier on the playback duration
	MinWait      time.Duration // lower bound of the playback wait
	SettleMargin time.Duration // extra hold after playback for the echo tail
	SynthTimeout time.Duration // bound on a single synthesis call, 0 = none
}

// DefaultOptions returns the values used for voice-triggered replies.
func DefaultOptions() Options {
	return Options{
		BufferFactor: 1.2,
		MinWait:      500 * time.Millisecond,
		SettleMargin: 300 * time.Millisecond,
		SynthTimeout: 30 * time.Second,
	}
}

// Gate owns the speaking lock for one output. Speak may be called from
// several goroutines; calls are serialized.
type Gate struct {
	synth Synthesizer
	pub   Publisher
	opts  Options
	log   *zap.SugaredLogger

	speaking atomic.Bool
	slot     chan struct{}
	onChange func(bool)
	sleep    func(ctx context.Context, d time.Duration) error
}

// New creates a gate. onChange, when set, is called whenever the lock flips.
func New(synth Synthesizer, pub Publisher, opts Options, onChange func(bool), log *zap.SugaredLogger) *Gate {
	if opts.BufferFactor <= 0 {
		opts.BufferFactor = 1
	}
	return &Gate{
		synth:    synth,
		pub:      pub,
		opts:     opts,
		log:      logging.OrNop(log),
		slot:     make(chan struct{}, 1),
		onChange: onChange,
		sleep:    sleepCtx,
	}
}

// Speaking reports whether the lock is held.
func (g *Gate) Speaking() bool { return g.speaking.Load() }

// PlaybackWait returns how long the lock stays held after publishing audio of
// duration d, settle margin included.
func (g *Gate) PlaybackWait(d time.Duration) time.Duration {
	wait := time.Duration(math.Round(float64(d) * g.opts.BufferFactor))
	return max(wait, g.opts.MinWait) + g.opts.SettleMargin
}

// Speak synthesizes text, publishes it and holds the lock until playback is
// expected to be over. Errors are returned for logging only; the lock is
// always released. A cancelled ctx abandons the wait immediately.
func (g *Gate) Speak(ctx context.Context, text string) error {
	select {
	case g.slot <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-g.slot }()

	g.set(true)
	defer g.set(false)

	clip, err := g.synthesize(ctx, text)
	if err != nil {
		g.log.Errorw("❌ TTS error", "error", err)
		_ = g.sleep(ctx, g.opts.MinWait)
		return err
	}

	frame := clip.ToFrame(g.pub.OutputSampleRate())
	duration := frame.Duration()
	g.log.Infow("🔊 Speaking", "chars", len(text), "duration", duration.Round(time.Millisecond))

	if err := g.pub.PublishAudio(ctx, frame); err != nil {
		g.log.Errorw("❌ Failed to publish audio", "error", err)
		_ = g.sleep(ctx, g.opts.MinWait)
		return fmt.Errorf("publish audio: %w", err)
	}

	if err := g.sleep(ctx, g.PlaybackWait(duration)); err != nil {
		g.log.Debugw("Playback wait aborted", "error", err)
		return err
	}
	return nil
}

func (g *Gate) synthesize(ctx context.Context, text string) (audio.Clip, error) {
	if g.opts.SynthTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.opts.SynthTimeout)
		defer cancel()
	}
	clip, err := g.synth.Synthesize(ctx, text)
	if err != nil {
		return audio.Clip{}, fmt.Errorf("synthesize: %w", err)
	}
	if len(clip.Samples) == 0 || clip.SampleRate <= 0 {
		return audio.Clip{}, ErrNoAudio
	}
	return clip, nil
}

func (g *Gate) set(v bool) {
	if g.speaking.Swap(v) == v {
		return
	}
	if g.onChange != nil {
		g.onChange(v)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
