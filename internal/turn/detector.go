// Package turn decides where user utterances start and end in a continuous
// stream of audio frames.
//
// The detector is a small state machine over per-frame RMS levels. Speech is
// confirmed after MinSpeechFrames loud frames, at which point recording starts
// with the pre-roll so the onset is kept. Recording ends after
// MaxSilenceFrames consecutive quiet frames. While the assistant is speaking
// the detector is held in Idle so its own voice never opens a turn.
package turn

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agalue/ada-voice-agent/internal/audio"
	"github.com/agalue/ada-voice-agent/internal/logging"
)

// State is the detector state.
type State int

const (
	// Idle means no recording is in progress.
	Idle State = iota
	// Speaking means a recording is in progress and the last frame was loud.
	Speaking
	// TrailingSilence means a recording is in progress and quiet frames are
	// being counted toward the end of the utterance.
	TrailingSilence
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Speaking:
		return "speaking"
	case TrailingSilence:
		return "trailing-silence"
	default:
		return "unknown"
	}
}

// Thresholds tunes the detector. Frame counts assume roughly 20ms frames.
type Thresholds struct {
	SpeechThreshold     int // RMS above which a frame counts as speech
	MinSpeechFrames     int // loud frames needed to start recording
	MaxSilenceFrames    int // consecutive quiet frames that end a recording
	PreRollFrames       int // frames kept before speech is confirmed
	MinUtteranceSamples int // utterances up to this length are dropped as false triggers
}

// DefaultThresholds returns the values the agent was tuned with:
// 0.4s of speech to start, 0.8s of silence to stop, 1s of pre-roll.
func DefaultThresholds() Thresholds {
	return Thresholds{
		SpeechThreshold:     200,
		MinSpeechFrames:     20,
		MaxSilenceFrames:    40,
		PreRollFrames:       50,
		MinUtteranceSamples: 8000,
	}
}

// Validate checks that every threshold is usable.
func (t Thresholds) Validate() error {
	switch {
	case t.SpeechThreshold < 0:
		return fmt.Errorf("speech threshold must be >= 0, got %d", t.SpeechThreshold)
	case t.MinSpeechFrames < 1:
		return fmt.Errorf("min speech frames must be >= 1, got %d", t.MinSpeechFrames)
	case t.MaxSilenceFrames < 1:
		return fmt.Errorf("max silence frames must be >= 1, got %d", t.MaxSilenceFrames)
	case t.PreRollFrames < 1:
		return fmt.Errorf("pre-roll frames must be >= 1, got %d", t.PreRollFrames)
	case t.MinUtteranceSamples < 0:
		return fmt.Errorf("min utterance samples must be >= 0, got %d", t.MinUtteranceSamples)
	}
	return nil
}

// Result reports what a single tick did.
type Result struct {
	// Utterance is set when a recording finished and is long enough to
	// transcribe.
	Utterance *Utterance
	// Started is true on the tick a recording began.
	Started bool
	// Dropped is true when a recording ended without producing an utterance,
	// either because it was too short or because the speaking lock cut it off.
	Dropped bool
}

// Detector is the turn-taking state machine. It is not safe for concurrent
// use; one goroutine feeds it frames in arrival order.
type Detector struct {
	th  Thresholds
	log *zap.SugaredLogger

	preRoll      *PreRoll
	state        State
	speechCount  int
	silenceCount int
	current      *Utterance
}

// NewDetector creates a detector in the Idle state.
func NewDetector(th Thresholds, log *zap.SugaredLogger) *Detector {
	return &Detector{
		th:      th,
		log:     logging.OrNop(log),
		preRoll: NewPreRoll(th.PreRollFrames),
	}
}

// State returns the current state.
func (d *Detector) State() State { return d.state }

// Recording reports whether an utterance is being captured.
func (d *Detector) Recording() bool { return d.current != nil }

// Counters returns the speech and silence frame counters.
func (d *Detector) Counters() (speech, silence int) { return d.speechCount, d.silenceCount }

// Process advances the state machine by one frame. level is the frame RMS
// and locked is the speaking-lock state sampled for this tick.
func (d *Detector) Process(f audio.Frame, level int, locked bool) Result {
	if locked {
		return d.suppress()
	}

	d.preRoll.Push(f)

	if level > d.th.SpeechThreshold {
		d.speechCount++
		d.silenceCount = 0

		if d.current == nil {
			if d.speechCount >= d.th.MinSpeechFrames {
				d.begin(f)
				return Result{Started: true}
			}
			return Result{}
		}
		d.current.append(f)
		d.state = Speaking
		return Result{}
	}

	d.silenceCount++
	if d.current == nil {
		return Result{}
	}
	d.current.append(f)
	d.state = TrailingSilence
	if d.silenceCount >= d.th.MaxSilenceFrames {
		return d.finish()
	}
	return Result{}
}

// begin starts a recording seeded with the pre-roll, followed by the frame
// that confirmed speech. That frame is also the last one in the pre-roll, so
// it appears twice.
func (d *Detector) begin(f audio.Frame) {
	d.current = &Utterance{
		ID:         uuid.NewString(),
		Frames:     d.preRoll.Frames(),
		SampleRate: f.SampleRate,
		StartedAt:  time.Now(),
	}
	preRoll := len(d.current.Frames)
	d.current.append(f)
	d.state = Speaking
	d.log.Infow("🔴 Recording started", "utterance", d.current.ID, "pre_roll_frames", preRoll)
}

// finish closes the recording and decides whether it is worth transcribing.
func (d *Detector) finish() Result {
	u := d.current
	d.current = nil
	d.state = Idle
	d.speechCount = 0
	d.silenceCount = 0

	n := u.SampleCount()
	if n <= d.th.MinUtteranceSamples {
		d.log.Debugw("Utterance too short, dropping", "utterance", u.ID, "samples", n)
		return Result{Dropped: true}
	}
	d.log.Infow("⏹️  Recording stopped", "utterance", u.ID, "samples", n, "duration", u.Duration().Round(time.Millisecond))
	return Result{Utterance: u}
}

// suppress handles a tick while the assistant is speaking: counters reset and
// any open recording is discarded. The pre-roll is left untouched.
func (d *Detector) suppress() Result {
	d.speechCount = 0
	d.silenceCount = 0
	if d.current == nil {
		return Result{}
	}
	d.log.Infow("Recording discarded, assistant started speaking", "utterance", d.current.ID)
	d.current = nil
	d.state = Idle
	return Result{Dropped: true}
}
