// Package audio holds the PCM frame model, the level meter, sample format
// conversion, resampling and the local capture/playback devices.
package audio

import (
	"math"
	"time"
)

// Frame is a fixed-duration block of signed 16-bit PCM samples.
// Samples are interleaved when Channels > 1.
type Frame struct {
	Samples    []int16
	SampleRate int
	Channels   int
}

// NewFrame creates a mono frame.
func NewFrame(samples []int16, sampleRate int) Frame {
	return Frame{Samples: samples, SampleRate: sampleRate, Channels: 1}
}

// channels returns the channel count, treating zero as mono.
func (f Frame) channels() int {
	if f.Channels <= 0 {
		return 1
	}
	return f.Channels
}

// Duration returns the playback length of the frame.
func (f Frame) Duration() time.Duration {
	return SamplesDuration(len(f.Samples), f.SampleRate, f.channels())
}

// Level returns the RMS loudness of the frame.
func (f Frame) Level() int {
	return Level(f.Samples)
}

// SamplesDuration converts an interleaved sample count to wall time.
func SamplesDuration(samples, sampleRate, channels int) time.Duration {
	if sampleRate <= 0 || samples <= 0 {
		return 0
	}
	if channels <= 0 {
		channels = 1
	}
	return time.Duration(samples) * time.Second / time.Duration(sampleRate*channels)
}

// Level computes round(sqrt(mean(sample^2))) over the samples.
// An empty slice has level 0.
func Level(samples []int16) int {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return int(math.Round(math.Sqrt(sum / float64(len(samples)))))
}
