package audio

// Resampler converts a mono stream between sample rates with linear
// interpolation. It keeps the last input sample so consecutive chunks join
// without a click. Linear interpolation is adequate for upsampling speech;
// use PolyphaseResampler when going down in rate.
type Resampler struct {
	ratio      float64 // toRate / fromRate
	lastSample float32
}

// NewResampler creates a linear resampler from fromRate to toRate Hz.
func NewResampler(fromRate, toRate int) *Resampler {
	return &Resampler{ratio: float64(toRate) / float64(fromRate)}
}

// Resample converts one chunk. The output holds int(len(input)*ratio)
// samples, so the chunk duration is preserved to within one sample.
func (r *Resampler) Resample(input []float32) []float32 {
	if r.ratio == 1.0 || len(input) == 0 {
		return input
	}
	out := interpolate(input, r.ratio, r.lastSample)
	r.lastSample = input[len(input)-1]
	return out
}

// interpolate is the shared linear interpolation kernel. prev stands in for
// any source position before the chunk start.
func interpolate(input []float32, ratio float64, prev float32) []float32 {
	n := len(input)
	out := make([]float32, int(float64(n)*ratio))
	for i := range out {
		pos := float64(i) / ratio
		idx := int(pos)
		frac := float32(pos - float64(idx))

		a := prev
		if idx < n {
			a = input[idx]
		}
		b := a
		if idx+1 < n {
			b = input[idx+1]
		} else if idx < n {
			b = input[n-1]
		}
		out[i] = a + (b-a)*frac
	}
	return out
}

// Resample converts a complete buffer between rates, choosing the polyphase
// filter for downsampling (anti-aliasing) and linear interpolation for
// upsampling.
func Resample(input []float32, fromRate, toRate int) []float32 {
	if fromRate == toRate || fromRate <= 0 || toRate <= 0 {
		return input
	}
	if toRate < fromRate {
		return NewPolyphaseResampler(fromRate, toRate).Resample(input)
	}
	return NewResampler(fromRate, toRate).Resample(input)
}

// ResampleFrame converts a mono PCM frame to toRate.
func ResampleFrame(f Frame, toRate int) Frame {
	if f.SampleRate == toRate {
		return f
	}
	samples := Downmix(f.Samples, f.channels())
	out := Float32ToInt16(Resample(Int16ToFloat32(samples), f.SampleRate, toRate))
	return Frame{Samples: out, SampleRate: toRate, Channels: 1}
}
