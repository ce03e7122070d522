package dsp

import (
	"errors"
	"math"
	"testing"
)

func toneFrame(amp float64, phase *float64) []float32 {
	out := make([]float32, DenoiseFrameSize)
	for i := range out {
		out[i] = float32(amp * math.Sin(*phase))
		*phase += 2 * math.Pi * 220 / DenoiseSampleRate
	}
	return out
}

func TestDenoiseRejectsWrongFrameSize(t *testing.T) {
	d := NewDenoiser()
	buf := make([]float32, 256)
	if _, err := d.ProcessFrame(buf, buf); !errors.Is(err, ErrFrameSize) {
		t.Fatalf("expected ErrFrameSize, got %v", err)
	}
	out := make([]float32, DenoiseFrameSize)
	if _, err := d.ProcessFrame(out[:100], out); !errors.Is(err, ErrFrameSize) {
		t.Fatalf("expected ErrFrameSize for short output, got %v", err)
	}
}

func TestDenoiseSilenceScoresZero(t *testing.T) {
	d := NewDenoiser()
	frame := make([]float32, DenoiseFrameSize)
	out := make([]float32, DenoiseFrameSize)
	var last float32
	for i := 0; i < 30; i++ {
		vad, err := d.ProcessFrame(out, frame)
		if err != nil {
			t.Fatal(err)
		}
		last = vad
	}
	if last > 0.01 {
		t.Errorf("silence scored %v, want ~0", last)
	}
}

func TestDenoiseSpeechScoresAboveNoise(t *testing.T) {
	d := NewDenoiser()
	out := make([]float32, DenoiseFrameSize)
	var phase float64

	// Quiet hiss first so the floor settles low.
	var noiseScore float32
	for i := 0; i < 20; i++ {
		v, err := d.ProcessFrame(out, toneFrame(0.0005, &phase))
		if err != nil {
			t.Fatal(err)
		}
		noiseScore = v
	}

	var speechScore float32
	for i := 0; i < 20; i++ {
		v, err := d.ProcessFrame(out, toneFrame(0.5, &phase))
		if err != nil {
			t.Fatal(err)
		}
		speechScore = v
	}

	if noiseScore > 0.05 {
		t.Errorf("background hiss scored %v, want below 0.05", noiseScore)
	}
	if speechScore < 0.5 {
		t.Errorf("loud tone scored %v, want above 0.5", speechScore)
	}
	if speechScore <= noiseScore {
		t.Errorf("speech score %v not above noise score %v", speechScore, noiseScore)
	}
}

func TestDenoiseScoreStaysInRange(t *testing.T) {
	d := NewDenoiser()
	out := make([]float32, DenoiseFrameSize)
	var phase float64
	for i := 0; i < 100; i++ {
		amp := 0.0
		if i%3 == 0 {
			amp = 0.9
		}
		vad, err := d.ProcessFrame(out, toneFrame(amp, &phase))
		if err != nil {
			t.Fatal(err)
		}
		if vad < 0 || vad > 1 {
			t.Fatalf("score %v out of range at frame %d", vad, i)
		}
	}
}

func TestDenoiseRemovesDCOffset(t *testing.T) {
	d := NewDenoiser()
	in := make([]float32, DenoiseFrameSize)
	out := make([]float32, DenoiseFrameSize)
	for i := range in {
		in[i] = 0.25
	}
	// Run several frames so the high-pass settles.
	for i := 0; i < 20; i++ {
		if _, err := d.ProcessFrame(out, in); err != nil {
			t.Fatal(err)
		}
	}
	var mean float64
	for _, s := range out {
		mean += float64(s)
	}
	mean /= DenoiseFrameSize
	if math.Abs(mean) > 0.01 {
		t.Errorf("DC offset survived: mean %v", mean)
	}
}

func TestDenoiseReset(t *testing.T) {
	d := NewDenoiser()
	out := make([]float32, DenoiseFrameSize)
	var phase float64
	for i := 0; i < 10; i++ {
		if _, err := d.ProcessFrame(out, toneFrame(0.5, &phase)); err != nil {
			t.Fatal(err)
		}
	}
	d.Reset()
	vad, err := d.ProcessFrame(out, make([]float32, DenoiseFrameSize))
	if err != nil {
		t.Fatal(err)
	}
	if vad != 0 {
		t.Errorf("score after reset on silence = %v, want 0", vad)
	}
}
