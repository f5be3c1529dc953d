package audio

import (
	"encoding/binary"
	"math"
)

// Int16ToFloat32 converts PCM samples to the [-1, 1) float range expected by
// the speech models.
func Int16ToFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768.0
	}
	return out
}

// Float32ToInt16 converts float samples to PCM, clipping out-of-range values.
func Float32ToInt16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		v := math.Round(float64(s) * 32767.0)
		if v > math.MaxInt16 {
			v = math.MaxInt16
		} else if v < math.MinInt16 {
			v = math.MinInt16
		}
		out[i] = int16(v)
	}
	return out
}

// DecodeS16LE reads little-endian 16-bit PCM bytes into dst and returns the
// number of samples written.
func DecodeS16LE(dst []int16, data []byte) int {
	n := min(len(dst), len(data)/2)
	for i := range n {
		dst[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return n
}

// EncodeS16LE writes samples as little-endian 16-bit PCM into dst, which
// must hold at least 2*len(samples) bytes.
func EncodeS16LE(dst []byte, samples []int16) {
	for i, s := range samples {
		binary.LittleEndian.PutUint16(dst[i*2:], uint16(s))
	}
}

// Downmix averages interleaved channels into mono.
func Downmix(samples []int16, channels int) []int16 {
	if channels <= 1 {
		return samples
	}
	n := len(samples) / channels
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		var sum int32
		for c := 0; c < channels; c++ {
			sum += int32(samples[i*channels+c])
		}
		out[i] = int16(sum / int32(channels))
	}
	return out
}
