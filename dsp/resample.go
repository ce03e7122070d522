package dsp

import (
	"fmt"
	"math"
)

// Quality selects the interpolation kernel of a Resampler. Higher
// quality costs more per sample.
type Quality int

const (
	// QualityLow is linear interpolation.
	QualityLow Quality = iota
	// QualityMedium is a 16-tap windowed-sinc kernel.
	QualityMedium
	// QualityHigh is a 64-tap windowed-sinc kernel.
	QualityHigh
)

func (q Quality) String() string {
	switch q {
	case QualityLow:
		return "low"
	case QualityMedium:
		return "medium"
	case QualityHigh:
		return "high"
	}
	return fmt.Sprintf("quality(%d)", int(q))
}

func ParseQuality(s string) (Quality, error) {
	switch s {
	case "low":
		return QualityLow, nil
	case "medium":
		return QualityMedium, nil
	case "high":
		return QualityHigh, nil
	}
	return QualityLow, fmt.Errorf("unknown resample quality %q", s)
}

func (q Quality) taps() int {
	switch q {
	case QualityMedium:
		return 16
	case QualityHigh:
		return 64
	}
	return 2
}

// Resampler converts a float32 stream from one rate to another. It is a
// streaming converter: filter history and the fractional read position
// carry across Process calls, so consecutive blocks join without seams.
//
// Each call returns within one sample of len(in)*to/from outputs; the
// remainder is carried into the next call. A change in block length
// resets the stream state, which matches a capture device renegotiating
// its period size. Not safe for concurrent use.
type Resampler struct {
	from    int
	to      int
	quality Quality

	step   float64 // input samples consumed per output sample
	frac   float64 // position of the next output inside the pending block
	taps   int
	cutoff float64

	hist      []float32
	work      []float32
	out       []float32
	coeffs    []float64
	blockSize int
}

func NewResampler(from, to int, quality Quality) (*Resampler, error) {
	if from <= 0 || to <= 0 {
		return nil, fmt.Errorf("invalid resample rates %d -> %d", from, to)
	}
	r := &Resampler{
		from:    from,
		to:      to,
		quality: quality,
		step:    float64(from) / float64(to),
		taps:    quality.taps(),
	}
	r.cutoff = 1.0
	if to < from {
		// Pull the passband below Nyquist of the target rate with a
		// small guard band against aliasing.
		r.cutoff = float64(to) / float64(from) * 0.92
	}
	r.hist = make([]float32, r.taps)
	r.coeffs = make([]float64, r.taps)
	return r, nil
}

func (r *Resampler) From() int { return r.from }
func (r *Resampler) To() int   { return r.to }

// Reset drops filter history and the fractional position.
func (r *Resampler) Reset() {
	for i := range r.hist {
		r.hist[i] = 0
	}
	r.frac = 0
	r.blockSize = 0
}

// Process converts one block. The returned slice is owned by the
// Resampler and valid until the next call; when from == to it aliases in.
func (r *Resampler) Process(in []float32) []float32 {
	if r.from == r.to {
		return in
	}
	if len(in) == 0 {
		return r.out[:0]
	}
	if r.blockSize != 0 && len(in) != r.blockSize {
		r.Reset()
	}
	r.blockSize = len(in)

	histLen := len(r.hist)
	need := histLen + len(in)
	if cap(r.work) < need {
		r.work = make([]float32, need)
	}
	r.work = r.work[:need]
	copy(r.work, r.hist)
	copy(r.work[histLen:], in)

	outCap := int(float64(len(in))/r.step) + 2
	if cap(r.out) < outCap {
		r.out = make([]float32, outCap)
	}
	r.out = r.out[:0]

	half := r.taps / 2
	pos := r.frac
	for pos < float64(len(in)) {
		var v float32
		if r.quality == QualityLow {
			// The filter reads one sample behind the stream head, so
			// history always covers the left neighbour.
			idx := histLen + int(pos) - 1
			f := float32(pos - math.Floor(pos))
			v = r.work[idx]*(1-f) + r.work[idx+1]*f
		} else {
			v = r.sincInterpolate(histLen, pos, half)
		}
		r.out = append(r.out, v)
		pos += r.step
	}
	r.frac = pos - float64(len(in))

	copy(r.hist, r.work[len(r.work)-histLen:])
	return r.out
}

func (r *Resampler) sincInterpolate(histLen int, pos float64, half int) float32 {
	// The window trails the stream head by half a kernel, so every tap
	// falls inside history + current block.
	base := histLen + int(pos) - r.taps + 1
	f := pos - math.Floor(pos)

	var sum float64
	for j := 0; j < r.taps; j++ {
		// Tap offset from the interpolation point, in input samples.
		t := float64(j-half+1) - f
		r.coeffs[j] = kernel(t*r.cutoff, float64(j)+1-f, float64(r.taps))
		sum += r.coeffs[j]
	}
	if sum == 0 {
		return 0
	}

	var acc float64
	for j := 0; j < r.taps; j++ {
		acc += r.coeffs[j] * float64(r.work[base+j])
	}
	return float32(acc / sum)
}

// kernel is a Blackman-windowed sinc. x is the sinc argument already
// scaled by the cutoff, n the tap position inside the window of width w.
func kernel(x, n, w float64) float64 {
	var s float64
	if x == 0 {
		s = 1
	} else {
		px := math.Pi * x
		s = math.Sin(px) / px
	}
	u := n / w
	win := 0.42 - 0.5*math.Cos(2*math.Pi*u) + 0.08*math.Cos(4*math.Pi*u)
	return s * win
}
