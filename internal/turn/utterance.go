package turn

import (
	"time"

	"github.com/agalue/ada-voice-agent/internal/audio"
)

// Utterance is one span of detected speech, from confirmation (including the
// pre-roll) to the end of trailing silence.
type Utterance struct {
	ID         string // correlation id used in logs
	Frames     []audio.Frame
	SampleRate int
	StartedAt  time.Time
}

// Samples concatenates the frames into a single mono buffer.
func (u *Utterance) Samples() []int16 {
	n := 0
	for _, f := range u.Frames {
		n += len(f.Samples)
	}
	out := make([]int16, 0, n)
	for _, f := range u.Frames {
		out = append(out, audio.Downmix(f.Samples, f.Channels)...)
	}
	return out
}

// SampleCount returns the total number of samples across frames.
func (u *Utterance) SampleCount() int {
	n := 0
	for _, f := range u.Frames {
		n += len(f.Samples)
	}
	return n
}

// Duration returns the captured audio length.
func (u *Utterance) Duration() time.Duration {
	var d time.Duration
	for _, f := range u.Frames {
		d += f.Duration()
	}
	return d
}

func (u *Utterance) append(f audio.Frame) {
	u.Frames = append(u.Frames, f)
}
