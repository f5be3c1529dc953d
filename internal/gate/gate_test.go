package gate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agalue/ada-voice-agent/internal/audio"
)

type fakeSynth struct {
	clip  audio.Clip
	err   error
	calls atomic.Int32
	g     **Gate
	seen  []bool // lock state observed during synthesis
}

func (s *fakeSynth) Synthesize(ctx context.Context, text string) (audio.Clip, error) {
	s.calls.Add(1)
	if s.g != nil && *s.g != nil {
		s.seen = append(s.seen, (*s.g).Speaking())
	}
	return s.clip, s.err
}

type fakePublisher struct {
	mu     sync.Mutex
	rate   int
	frames []audio.Frame
	err    error
}

func (p *fakePublisher) PublishAudio(_ context.Context, f audio.Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames = append(p.frames, f)
	return p.err
}

func (p *fakePublisher) OutputSampleRate() int { return p.rate }

// recordSleeps replaces the wait with a recorder so tests run instantly.
func recordSleeps(g *Gate) *[]time.Duration {
	var waits []time.Duration
	g.sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return ctx.Err()
	}
	return &waits
}

func oneSecondClip() audio.Clip {
	return audio.Clip{Samples: make([]float32, 24000), SampleRate: 24000, Channels: 1}
}

func TestSpeakPublishesAndWaits(t *testing.T) {
	var g *Gate
	synth := &fakeSynth{clip: oneSecondClip(), g: &g}
	pub := &fakePublisher{rate: 48000}
	var changes []bool
	g = New(synth, pub, DefaultOptions(), func(v bool) { changes = append(changes, v) }, nil)
	waits := recordSleeps(g)

	require.NoError(t, g.Speak(context.Background(), "hello"))

	assert.Equal(t, []bool{true}, synth.seen, "lock is held before synthesis")
	require.Len(t, pub.frames, 1)
	assert.Equal(t, 48000, pub.frames[0].SampleRate)
	assert.Len(t, pub.frames[0].Samples, 48000)
	assert.Equal(t, []time.Duration{1200*time.Millisecond + 300*time.Millisecond}, *waits)
	assert.Equal(t, []bool{true, false}, changes)
	assert.False(t, g.Speaking())
}

func TestPlaybackWait(t *testing.T) {
	g := New(nil, nil, DefaultOptions(), nil, nil)
	assert.Equal(t, 800*time.Millisecond, g.PlaybackWait(100*time.Millisecond), "short clips use the minimum wait")
	assert.Equal(t, 2700*time.Millisecond, g.PlaybackWait(2*time.Second))
}

func TestSpeakSynthFailureReleasesLock(t *testing.T) {
	boom := errors.New("model crashed")
	synth := &fakeSynth{err: boom}
	pub := &fakePublisher{rate: 48000}
	g := New(synth, pub, DefaultOptions(), nil, nil)
	waits := recordSleeps(g)

	err := g.Speak(context.Background(), "hello")
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, pub.frames, "nothing is published when synthesis fails")
	assert.Equal(t, []time.Duration{500 * time.Millisecond}, *waits)
	assert.False(t, g.Speaking())
}

func TestSpeakEmptyAudio(t *testing.T) {
	synth := &fakeSynth{clip: audio.Clip{SampleRate: 24000, Channels: 1}}
	pub := &fakePublisher{rate: 48000}
	g := New(synth, pub, DefaultOptions(), nil, nil)
	recordSleeps(g)

	assert.ErrorIs(t, g.Speak(context.Background(), "hello"), ErrNoAudio)
	assert.Empty(t, pub.frames)
	assert.False(t, g.Speaking())
}

func TestSpeakPublishFailure(t *testing.T) {
	synth := &fakeSynth{clip: oneSecondClip()}
	pub := &fakePublisher{rate: 48000, err: errors.New("track closed")}
	g := New(synth, pub, DefaultOptions(), nil, nil)
	recordSleeps(g)

	assert.Error(t, g.Speak(context.Background(), "hello"))
	assert.False(t, g.Speaking())
}

func TestSpeakCancelReleasesImmediately(t *testing.T) {
	synth := &fakeSynth{clip: oneSecondClip()}
	pub := &fakePublisher{rate: 16000}
	opts := DefaultOptions()
	opts.SettleMargin = time.Hour
	g := New(synth, pub, opts, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- g.Speak(ctx, "hello") }()

	require.Eventually(t, g.Speaking, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("speak did not return after cancel")
	}
	assert.False(t, g.Speaking())
}

func TestSpeakSerializesCallers(t *testing.T) {
	synth := &fakeSynth{clip: oneSecondClip()}
	pub := &fakePublisher{rate: 24000}
	opts := DefaultOptions()
	opts.MinWait = 20 * time.Millisecond
	opts.SettleMargin = 0
	opts.BufferFactor = 0.01
	g := New(synth, pub, opts, nil, nil)

	var active, peak atomic.Int32
	inner := g.sleep
	g.sleep = func(ctx context.Context, d time.Duration) error {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		defer active.Add(-1)
		return inner(ctx, d)
	}

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, g.Speak(context.Background(), "hi"))
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, peak.Load())
	assert.EqualValues(t, 4, synth.calls.Load())
	assert.False(t, g.Speaking())
}
