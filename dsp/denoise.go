package dsp

import "errors"

const (
	// DenoiseFrameSize is the only frame length ProcessFrame accepts,
	// 10ms of audio at DenoiseSampleRate.
	DenoiseFrameSize = 480

	// DenoiseSampleRate is the capture rate the suppressor is tuned for.
	// Pipelines running at any other rate must bypass it.
	DenoiseSampleRate = 48000
)

var ErrFrameSize = errors.New("dsp: frame must be exactly 480 samples")

const (
	dcPole        = 0.995
	floorRise     = 0.008
	floorDecay    = 0.6
	gainFloor     = 0.15
	vadSmoothing  = 0.3
	vadKnee       = 4.0
	energyEpsilon = 1e-10

	// activityFloor is the absolute frame energy below which a frame is
	// never scored as voice, whatever the floor ratio says. Keeps faint
	// steady room noise from drifting the score up.
	activityFloor = 2e-6
)

// Denoiser is a lightweight spectral-floor suppressor. It removes DC,
// tracks the noise floor of the incoming stream and applies a soft gain
// derived from the frame's signal-to-floor ratio. Alongside the cleaned
// frame it reports a smoothed voice-activity score in [0, 1].
//
// State carries across frames, so one Denoiser serves one stream.
// Not safe for concurrent use.
type Denoiser struct {
	primed   bool
	lastIn   float64
	lastOut  float64
	floor    float64
	vadScore float64
}

func NewDenoiser() *Denoiser {
	return &Denoiser{}
}

// Reset clears all adaptive state, as if the stream just started.
func (d *Denoiser) Reset() {
	*d = Denoiser{}
}

// ProcessFrame filters in into out and returns the frame's voice-activity
// score. out and in must both hold exactly DenoiseFrameSize samples; in
// may alias out.
func (d *Denoiser) ProcessFrame(out, in []float32) (float32, error) {
	if len(in) != DenoiseFrameSize || len(out) != DenoiseFrameSize {
		return 0, ErrFrameSize
	}

	// DC removal, one-pole high-pass.
	var energy float64
	for i, s := range in {
		x := float64(s)
		y := x - d.lastIn + dcPole*d.lastOut
		d.lastIn = x
		d.lastOut = y
		out[i] = float32(y)
		energy += y * y
	}
	energy /= DenoiseFrameSize

	if !d.primed {
		d.floor = energy
		d.primed = true
	} else if energy < d.floor {
		// Fast adaptation downward keeps the floor at the quietest
		// recent frames.
		d.floor += (energy - d.floor) * floorDecay
	} else {
		d.floor += (energy - d.floor) * floorRise
	}

	snr := energy / (d.floor + energyEpsilon)

	gain := 1.0
	if snr < vadKnee {
		gain = snr / vadKnee
		if gain < gainFloor {
			gain = gainFloor
		}
	}
	g := float32(gain)
	for i := range out {
		out[i] *= g
	}

	// Instantaneous activity from the signal-to-floor ratio, then smoothed
	// so single noisy frames do not flip the score.
	inst := snr / (snr + vadKnee)
	if energy < activityFloor {
		inst = 0
	}
	d.vadScore += (inst - d.vadScore) * vadSmoothing
	if d.vadScore < 0 {
		d.vadScore = 0
	} else if d.vadScore > 1 {
		d.vadScore = 1
	}
	return float32(d.vadScore), nil
}
