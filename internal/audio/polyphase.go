package audio

import "math"

// polyphaseTaps is the FIR length of the anti-aliasing filter.
const polyphaseTaps = 64

// PolyphaseResampler downsamples with a windowed-sinc low-pass filter so that
// content above the target Nyquist frequency does not fold back into the
// speech band (for example 48 kHz transport audio going to 16 kHz Whisper).
// Upsampling falls back to linear interpolation.
type PolyphaseResampler struct {
	ratio      float64
	filter     []float32 // normalized low-pass coefficients
	history    []float32 // tail of the previous chunk
	lastSample float32
}

// NewPolyphaseResampler designs a 64-tap Hamming-windowed sinc filter with
// its cutoff at the lower of the two Nyquist frequencies.
func NewPolyphaseResampler(fromRate, toRate int) *PolyphaseResampler {
	ratio := float64(toRate) / float64(fromRate)
	cutoff := 0.5
	if ratio < 1.0 {
		cutoff = ratio * 0.5
	}

	filter := make([]float32, polyphaseTaps)
	var sum float32
	for i := range filter {
		n := float64(i) - float64(polyphaseTaps-1)/2.0
		var c float64
		if n == 0 {
			c = 2.0 * cutoff
		} else {
			sinc := math.Sin(2.0*math.Pi*cutoff*n) / (math.Pi * n)
			window := 0.54 - 0.46*math.Cos(2.0*math.Pi*float64(i)/float64(polyphaseTaps-1))
			c = sinc * window
		}
		filter[i] = float32(c)
		sum += filter[i]
	}
	for i := range filter {
		filter[i] /= sum
	}

	return &PolyphaseResampler{
		ratio:   ratio,
		filter:  filter,
		history: make([]float32, polyphaseTaps),
	}
}

// Resample converts one chunk, carrying filter state into the next call.
func (r *PolyphaseResampler) Resample(input []float32) []float32 {
	if r.ratio == 1.0 || len(input) == 0 {
		return input
	}
	if r.ratio > 1.0 {
		out := interpolate(input, r.ratio, r.lastSample)
		r.lastSample = input[len(input)-1]
		return out
	}
	return r.downsample(input)
}

func (r *PolyphaseResampler) downsample(input []float32) []float32 {
	n := len(input)
	out := make([]float32, int(float64(n)*r.ratio))

	combined := make([]float32, 0, len(r.history)+n)
	combined = append(combined, r.history...)
	combined = append(combined, input...)

	half := polyphaseTaps / 2
	for i := range out {
		center := int(float64(i)/r.ratio) + len(r.history)
		var acc float32
		for j, c := range r.filter {
			idx := center - half + j
			if idx >= 0 && idx < len(combined) {
				acc += combined[idx] * c
			}
		}
		out[i] = acc
	}

	if n >= polyphaseTaps {
		copy(r.history, input[n-polyphaseTaps:])
	} else {
		copy(r.history, r.history[n:])
		copy(r.history[polyphaseTaps-n:], input)
	}
	return out
}
