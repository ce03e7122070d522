// Package dsp holds the sample-domain primitives the capture pipeline runs
// on every frame: channel downmix, level measurement, noise suppression,
// rate conversion and int16 quantization.
package dsp

import "math"

// DownmixMono averages interleaved multi-channel samples into dst and
// returns it. dst is reused when large enough. channels <= 1 copies as-is.
func DownmixMono(dst, src []float32, channels int) []float32 {
	if channels <= 1 {
		if cap(dst) < len(src) {
			dst = make([]float32, len(src))
		}
		dst = dst[:len(src)]
		copy(dst, src)
		return dst
	}
	n := len(src) / channels
	if cap(dst) < n {
		dst = make([]float32, n)
	}
	dst = dst[:n]
	inv := float32(1) / float32(channels)
	for i := 0; i < n; i++ {
		var sum float32
		base := i * channels
		for c := 0; c < channels; c++ {
			sum += src[base+c]
		}
		dst[i] = sum * inv
	}
	return dst
}

// RMS returns the root-mean-square level of samples, 0 for an empty slice.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Energy returns the mean square of samples, 0 for an empty slice.
func Energy(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return sum / float64(len(samples))
}

// Peak returns the largest absolute sample value.
func Peak(samples []float32) float32 {
	var peak float32
	for _, s := range samples {
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
		}
	}
	return peak
}

// QuantizeInt16 converts float samples to 16-bit PCM, clamping to [-1, 1]
// before scaling. dst is reused when large enough.
func QuantizeInt16(dst []int16, src []float32) []int16 {
	if cap(dst) < len(src) {
		dst = make([]int16, len(src))
	}
	dst = dst[:len(src)]
	for i, s := range src {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		dst[i] = int16(s * 32767)
	}
	return dst
}
