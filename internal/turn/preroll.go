package turn

import "github.com/agalue/ada-voice-agent/internal/audio"

// PreRoll is a fixed-capacity FIFO of the most recent frames. It is written
// on every ungated tick so that the start of an utterance is not clipped by
// the frames spent confirming speech.
type PreRoll struct {
	frames []audio.Frame
	start  int
	size   int
}

// NewPreRoll creates a ring holding up to capacity frames.
func NewPreRoll(capacity int) *PreRoll {
	if capacity < 1 {
		capacity = 1
	}
	return &PreRoll{frames: make([]audio.Frame, capacity)}
}

// Push appends a frame, evicting the oldest when full.
func (p *PreRoll) Push(f audio.Frame) {
	c := len(p.frames)
	if p.size < c {
		p.frames[(p.start+p.size)%c] = f
		p.size++
		return
	}
	p.frames[p.start] = f
	p.start = (p.start + 1) % c
}

// Len returns the number of buffered frames.
func (p *PreRoll) Len() int { return p.size }

// Cap returns the ring capacity.
func (p *PreRoll) Cap() int { return len(p.frames) }

// Frames returns the buffered frames oldest first.
func (p *PreRoll) Frames() []audio.Frame {
	out := make([]audio.Frame, p.size)
	for i := range out {
		out[i] = p.frames[(p.start+i)%len(p.frames)]
	}
	return out
}
