package turn

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agalue/ada-voice-agent/internal/audio"
)

const frameSamples = 320 // 20ms at 16kHz

func testThresholds() Thresholds {
	return Thresholds{
		SpeechThreshold:     500,
		MinSpeechFrames:     10,
		MaxSilenceFrames:    30,
		PreRollFrames:       50,
		MinUtteranceSamples: 8000,
	}
}

// frames builds one frame per level whose RMS equals that level.
func frames(levels ...int) []audio.Frame {
	out := make([]audio.Frame, len(levels))
	for i, lvl := range levels {
		s := make([]int16, frameSamples)
		for j := range s {
			s[j] = int16(lvl)
		}
		out[i] = audio.NewFrame(s, 16000)
	}
	return out
}

func repeat(level, n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = level
	}
	return out
}

func concat(parts ...[]int) []int {
	var out []int
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// run feeds frames and collects every produced utterance.
func run(d *Detector, in []audio.Frame, locked bool) []*Utterance {
	var got []*Utterance
	for _, f := range in {
		if r := d.Process(f, f.Level(), locked); r.Utterance != nil {
			got = append(got, r.Utterance)
		}
	}
	return got
}

func TestDetectorScenario(t *testing.T) {
	d := NewDetector(testThresholds(), nil)
	in := frames(concat(repeat(50, 5), repeat(800, 15), repeat(50, 35))...)

	var (
		got     []*Utterance
		startAt = -1
		endAt   = -1
	)
	for i, f := range in {
		r := d.Process(f, f.Level(), false)
		if r.Started {
			startAt = i
		}
		if r.Utterance != nil {
			got = append(got, r.Utterance)
			endAt = i
		}
	}

	require.Len(t, got, 1)
	assert.Equal(t, 14, startAt, "recording starts on the 10th loud frame")
	assert.Equal(t, 49, endAt, "recording stops on the 30th quiet frame after speech")

	u := got[0]
	require.Len(t, u.Frames, 51)
	assert.Same(t, &in[0].Samples[0], &u.Frames[0].Samples[0], "pre-roll keeps the frames before speech")
	assert.Same(t, &in[14].Samples[0], &u.Frames[14].Samples[0], "pre-roll ends with the confirming frame")
	assert.Same(t, &in[14].Samples[0], &u.Frames[15].Samples[0], "confirming frame is appended after the pre-roll")
	assert.Same(t, &in[49].Samples[0], &u.Frames[50].Samples[0])
	assert.Equal(t, 16000, u.SampleRate)
	assert.NotEmpty(t, u.ID)
	assert.Len(t, u.Samples(), 51*frameSamples)
	assert.Equal(t, Idle, d.State())
}

func TestDetectorNeverRecordsSilence(t *testing.T) {
	th := testThresholds()
	rng := rand.New(rand.NewPCG(1, 2))
	levels := make([]int, 2000)
	for i := range levels {
		levels[i] = rng.IntN(th.SpeechThreshold + 1) // at or below threshold
	}

	d := NewDetector(th, nil)
	for _, f := range frames(levels...) {
		r := d.Process(f, f.Level(), false)
		assert.False(t, r.Started)
		assert.Nil(t, r.Utterance)
	}
	assert.Equal(t, Idle, d.State())
	assert.False(t, d.Recording())
}

func TestDetectorLockedNeverLeavesIdle(t *testing.T) {
	d := NewDetector(testThresholds(), nil)
	for _, f := range frames(repeat(2000, 200)...) {
		r := d.Process(f, f.Level(), true)
		assert.False(t, r.Started)
		assert.Nil(t, r.Utterance)
		assert.Equal(t, Idle, d.State())
	}
	speech, silence := d.Counters()
	assert.Zero(t, speech)
	assert.Zero(t, silence)
	assert.Zero(t, d.preRoll.Len(), "pre-roll is not fed while locked")
}

func TestDetectorLockDiscardsRecording(t *testing.T) {
	d := NewDetector(testThresholds(), nil)
	run(d, frames(repeat(800, 12)...), false)
	require.True(t, d.Recording())
	assert.Equal(t, Speaking, d.State())

	r := d.Process(frames(800)[0], 800, true)
	assert.True(t, r.Dropped)
	assert.Nil(t, r.Utterance)
	assert.False(t, d.Recording())
	assert.Equal(t, Idle, d.State())

	// Speech must be confirmed again from scratch once unlocked.
	got := run(d, frames(concat(repeat(800, 9), repeat(50, 30))...), false)
	assert.Empty(t, got)
}

func TestDetectorTrailingSilenceState(t *testing.T) {
	d := NewDetector(testThresholds(), nil)
	run(d, frames(repeat(800, 10)...), false)
	assert.Equal(t, Speaking, d.State())

	run(d, frames(50, 50), false)
	assert.Equal(t, TrailingSilence, d.State())

	run(d, frames(800), false)
	assert.Equal(t, Speaking, d.State())
	_, silence := d.Counters()
	assert.Zero(t, silence, "speech resets the silence counter")
}

func TestDetectorDropsShortUtterances(t *testing.T) {
	th := testThresholds()
	th.PreRollFrames = 1
	th.MinUtteranceSamples = 100 * frameSamples
	d := NewDetector(th, nil)

	var dropped bool
	for _, f := range frames(concat(repeat(800, 10), repeat(50, 30))...) {
		r := d.Process(f, f.Level(), false)
		assert.Nil(t, r.Utterance)
		dropped = dropped || r.Dropped
	}
	assert.True(t, dropped)
	assert.Equal(t, Idle, d.State())
}

func TestDetectorMinimumLengthIsExclusive(t *testing.T) {
	// One pre-roll frame, the confirming frame, then thirty silent frames.
	turn := frames(concat(repeat(800, 10), repeat(50, 30))...)
	const utteranceSamples = 32 * frameSamples

	tests := []struct {
		name string
		min  int
		kept bool
	}{
		{"exactly minimum", utteranceSamples, false},
		{"one sample over", utteranceSamples - 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			th := testThresholds()
			th.PreRollFrames = 1
			th.MinUtteranceSamples = tt.min
			got := run(NewDetector(th, nil), turn, false)
			if !tt.kept {
				assert.Empty(t, got)
				return
			}
			require.Len(t, got, 1)
			assert.Equal(t, utteranceSamples, got[0].SampleCount())
		})
	}
}

func TestDetectorSpeechCountAccumulatesAcrossGaps(t *testing.T) {
	d := NewDetector(testThresholds(), nil)
	// Five loud, a short pause, five loud: the tenth loud frame starts recording.
	in := frames(concat(repeat(800, 5), repeat(50, 3), repeat(800, 5))...)
	var started bool
	for _, f := range in {
		started = d.Process(f, f.Level(), false).Started || started
	}
	assert.True(t, started)
}

func TestDetectorProducesSuccessiveUtterances(t *testing.T) {
	d := NewDetector(testThresholds(), nil)
	turn := concat(repeat(800, 20), repeat(50, 30))
	got := run(d, frames(concat(turn, turn)...), false)
	assert.Len(t, got, 2)
	assert.NotEqual(t, got[0].ID, got[1].ID)
}

func TestThresholdsValidate(t *testing.T) {
	assert.NoError(t, DefaultThresholds().Validate())

	bad := DefaultThresholds()
	bad.MinSpeechFrames = 0
	assert.Error(t, bad.Validate())

	bad = DefaultThresholds()
	bad.MaxSilenceFrames = 0
	assert.Error(t, bad.Validate())
}

func TestPreRollEvictsOldest(t *testing.T) {
	p := NewPreRoll(3)
	in := frames(1, 2, 3, 4, 5)
	for _, f := range in {
		p.Push(f)
	}
	got := p.Frames()
	require.Len(t, got, 3)
	assert.Same(t, &in[2].Samples[0], &got[0].Samples[0])
	assert.Same(t, &in[4].Samples[0], &got[2].Samples[0])
	assert.Equal(t, 3, p.Len())
	assert.Equal(t, 3, p.Cap())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "speaking", Speaking.String())
	assert.Equal(t, "trailing-silence", TrailingSilence.String())
}
