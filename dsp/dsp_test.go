package dsp

import (
	"math"
	"testing"
)

func TestQuantizeInt16Clamps(t *testing.T) {
	src := []float32{0, 0.5, -0.5, 1, -1, 1.7, -2.3}
	got := QuantizeInt16(nil, src)
	want := []int16{0, 16383, -16383, 32767, -32767, 32767, -32767}
	if len(got) != len(want) {
		t.Fatalf("length %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestQuantizeInt16ReusesBuffer(t *testing.T) {
	dst := make([]int16, 8)
	src := []float32{0.1, 0.2}
	got := QuantizeInt16(dst, src)
	if len(got) != 2 {
		t.Fatalf("length %d, want 2", len(got))
	}
	if &got[0] != &dst[0] {
		t.Error("expected dst to be reused")
	}
}

func TestDownmixMono(t *testing.T) {
	stereo := []float32{1, 0, 0.5, 0.5, -1, 1}
	got := DownmixMono(nil, stereo, 2)
	want := []float32{0.5, 0.5, 0}
	if len(got) != len(want) {
		t.Fatalf("length %d, want %d", len(got), len(want))
	}
	for i := range want {
		if math.Abs(float64(got[i]-want[i])) > 1e-6 {
			t.Errorf("sample %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestDownmixMonoSingleChannelCopies(t *testing.T) {
	src := []float32{0.1, 0.2, 0.3}
	got := DownmixMono(nil, src, 1)
	if len(got) != 3 {
		t.Fatalf("length %d, want 3", len(got))
	}
	src[0] = 9
	if got[0] != 0.1 {
		t.Error("downmix must copy, not alias")
	}
}

func TestLevels(t *testing.T) {
	samples := make([]float32, 1000)
	for i := range samples {
		samples[i] = float32(math.Sin(2 * math.Pi * float64(i) / 100))
	}
	rms := RMS(samples)
	if math.Abs(rms-1/math.Sqrt2) > 0.01 {
		t.Errorf("sine RMS = %v, want ~0.707", rms)
	}
	if Energy(samples) < 0.45 || Energy(samples) > 0.55 {
		t.Errorf("sine energy = %v, want ~0.5", Energy(samples))
	}
	if p := Peak(samples); p < 0.99 || p > 1.0 {
		t.Errorf("sine peak = %v, want ~1", p)
	}
	if RMS(nil) != 0 || Energy(nil) != 0 || Peak(nil) != 0 {
		t.Error("empty input must measure zero")
	}
}
