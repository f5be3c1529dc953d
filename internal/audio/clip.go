package audio

import "time"

// Clip is synthesized speech as float32 samples in [-1, 1].
type Clip struct {
	Samples    []float32
	SampleRate int
	Channels   int
}

// Duration returns the playback length of the clip.
func (c Clip) Duration() time.Duration {
	return SamplesDuration(len(c.Samples), c.SampleRate, c.Channels)
}

// Mono averages interleaved channels into one.
func (c Clip) Mono() []float32 {
	ch := c.Channels
	if ch <= 1 {
		return c.Samples
	}
	out := make([]float32, len(c.Samples)/ch)
	for i := range out {
		var sum float32
		for j := range ch {
			sum += c.Samples[i*ch+j]
		}
		out[i] = sum / float32(ch)
	}
	return out
}

// ToFrame converts the clip into a single mono int16 frame at rate.
func (c Clip) ToFrame(rate int) Frame {
	samples := c.Mono()
	if rate > 0 && rate != c.SampleRate {
		samples = Resample(samples, c.SampleRate, rate)
	} else {
		rate = c.SampleRate
	}
	return NewFrame(Float32ToInt16(samples), rate)
}

// Split cuts f into frames of frameMs milliseconds. The last frame may be
// shorter.
func Split(f Frame, frameMs int) []Frame {
	n := f.SampleRate * f.channels() * frameMs / 1000
	if n <= 0 || len(f.Samples) <= n {
		return []Frame{f}
	}
	out := make([]Frame, 0, (len(f.Samples)+n-1)/n)
	for start := 0; start < len(f.Samples); start += n {
		end := min(start+n, len(f.Samples))
		out = append(out, Frame{Samples: f.Samples[start:end], SampleRate: f.SampleRate, Channels: f.Channels})
	}
	return out
}
