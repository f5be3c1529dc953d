package rtc

import (
	"fmt"
	"time"

	"github.com/hraban/opus"

	"github.com/agalue/ada-voice-agent/internal/audio"
)

const (
	// SampleRate is the opus clock rate used in both directions.
	SampleRate = 48000

	frameDuration = 20 * time.Millisecond
	frameSamples  = SampleRate / 50
	// maxDecodeSamples fits the longest opus packet (120ms).
	maxDecodeSamples = SampleRate * 120 / 1000
	maxPacketBytes   = 4000
)

// encoder turns 20ms mono frames into opus packets.
type encoder struct {
	enc *opus.Encoder
	buf []byte
	pcm []int16
}

func newEncoder() (*encoder, error) {
	enc, err := opus.NewEncoder(SampleRate, 1, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("create opus encoder: %w", err)
	}
	return &encoder{enc: enc, buf: make([]byte, maxPacketBytes), pcm: make([]int16, frameSamples)}, nil
}

// encode pads short chunks with silence and returns a packet the caller owns.
func (e *encoder) encode(chunk []int16) ([]byte, error) {
	pcm := chunk
	if len(chunk) != frameSamples {
		clear(e.pcm)
		copy(e.pcm, chunk)
		pcm = e.pcm
	}
	n, err := e.enc.Encode(pcm, e.buf)
	if err != nil {
		return nil, fmt.Errorf("opus encode: %w", err)
	}
	return append([]byte(nil), e.buf[:n]...), nil
}

// decoder turns opus packets into mono frames.
type decoder struct {
	dec *opus.Decoder
	pcm []int16
}

func newDecoder() (*decoder, error) {
	dec, err := opus.NewDecoder(SampleRate, 1)
	if err != nil {
		return nil, fmt.Errorf("create opus decoder: %w", err)
	}
	return &decoder{dec: dec, pcm: make([]int16, maxDecodeSamples)}, nil
}

// decode returns a new frame for each packet, since the agent keeps frames.
func (d *decoder) decode(packet []byte) (audio.Frame, error) {
	n, err := d.dec.Decode(packet, d.pcm)
	if err != nil {
		return audio.Frame{}, fmt.Errorf("opus decode: %w", err)
	}
	samples := make([]int16, n)
	copy(samples, d.pcm[:n])
	return audio.NewFrame(samples, SampleRate), nil
}

// chunks converts f to mono at SampleRate and cuts it into 20ms chunks.
func chunks(f audio.Frame) [][]int16 {
	if f.Channels > 1 {
		f = audio.NewFrame(audio.Downmix(f.Samples, f.Channels), f.SampleRate)
	}
	f = audio.ResampleFrame(f, SampleRate)
	parts := audio.Split(f, int(frameDuration/time.Millisecond))
	out := make([][]int16, 0, len(parts))
	for _, p := range parts {
		if len(p.Samples) > 0 {
			out = append(out, p.Samples)
		}
	}
	return out
}
