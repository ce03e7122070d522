// Package pipeline wires microphone capture through denoising,
// resampling and silence gating into the transcriber stream, under a
// single controller that owns every stage of one recording session.
package pipeline

import (
	"time"

	"dikta/transcriber"
)

// GateConfig carries the tunable batching and silence policy. All
// values come from configuration; the gate itself has no hardcoded
// thresholds.
type GateConfig struct {
	SampleRate      int           // rate of the quantized samples offered
	BatchWindow     time.Duration // audio accumulated per outbound batch
	VADThreshold    float32       // voice activity below this counts toward silence
	EnergyThreshold float64       // mean square energy below this counts toward silence
	SilenceChunks   int           // consecutive silent offers before suppression
	CommitAfter     time.Duration // suppressed silence before a commit is sent
}

// Gate accumulates quantized samples into fixed-duration batches and
// withholds sustained silence from the network. A chunk is silent only
// when both the voice-activity score and the energy fall below their
// thresholds; with no activity score available callers pass 0 and the
// energy test decides alone.
//
// Once SilenceChunks consecutive offers are silent the gate stops
// accepting samples until voice returns. Any spoken tail still in the
// accumulator is released at that point, and after CommitAfter of
// suppressed silence a single commit batch asks the service to
// finalize the utterance.
type Gate struct {
	windowSamples int
	commitSamples int
	vadThreshold  float32
	energyLimit   float64
	silenceChunks int

	buf        []int16
	bufVoiced  bool
	quiet      int
	suppressed int  // samples discarded since suppression began
	voicedSent bool // voiced audio emitted since the last commit
	committed  bool
}

func NewGate(cfg GateConfig) *Gate {
	window := int(time.Duration(cfg.SampleRate) * cfg.BatchWindow / time.Second)
	if window < 1 {
		window = 1
	}
	commit := int(time.Duration(cfg.SampleRate) * cfg.CommitAfter / time.Second)
	chunks := cfg.SilenceChunks
	if chunks < 1 {
		chunks = 1
	}
	return &Gate{
		windowSamples: window,
		commitSamples: commit,
		vadThreshold:  cfg.VADThreshold,
		energyLimit:   cfg.EnergyThreshold,
		silenceChunks: chunks,
		buf:           make([]int16, 0, window*2),
	}
}

// Offer hands the gate one quantized chunk plus its voice-activity
// score. It returns a batch when a full window has accumulated, when
// suppression begins with spoken audio still pending, or when enough
// suppressed silence has passed to warrant a commit. Otherwise nil.
func (g *Gate) Offer(samples []int16, vad float32) *transcriber.Batch {
	if len(samples) == 0 {
		return nil
	}

	if vad < g.vadThreshold && chunkEnergy(samples) < g.energyLimit {
		g.quiet++
		switch {
		case g.quiet == g.silenceChunks:
			g.suppressed = len(samples)
			if g.bufVoiced {
				return g.take()
			}
			// Nothing spoken is pending; drop the stale quiet lead-in.
			g.buf = g.buf[:0]
			return nil
		case g.quiet > g.silenceChunks:
			g.suppressed += len(samples)
			if g.voicedSent && !g.committed && g.suppressed >= g.commitSamples {
				g.committed = true
				g.voicedSent = false
				return &transcriber.Batch{Commit: true}
			}
			return nil
		}
		// A short pause: keep accepting so trailing syllables survive.
	} else {
		g.quiet = 0
		g.bufVoiced = true
	}

	g.suppressed = 0
	g.committed = false
	g.buf = append(g.buf, samples...)
	if len(g.buf) >= g.windowSamples {
		return g.take()
	}
	return nil
}

// Flush returns whatever the accumulator holds, or nil when empty.
// Called on session teardown so a trailing partial window is not lost.
func (g *Gate) Flush() *transcriber.Batch {
	if len(g.buf) == 0 {
		return nil
	}
	return g.take()
}

// Suppressed reports whether the gate is currently discarding offers.
func (g *Gate) Suppressed() bool {
	return g.quiet >= g.silenceChunks
}

// Pending returns the number of samples accumulated but not yet
// emitted.
func (g *Gate) Pending() int {
	return len(g.buf)
}

func (g *Gate) take() *transcriber.Batch {
	pcm := append([]int16(nil), g.buf...)
	g.buf = g.buf[:0]
	if g.bufVoiced {
		g.voicedSent = true
		g.bufVoiced = false
	}
	return &transcriber.Batch{PCM: pcm}
}

func chunkEnergy(samples []int16) float64 {
	var sum float64
	for _, s := range samples {
		n := float64(s) / 32768.0
		sum += n * n
	}
	return sum / float64(len(samples))
}
