package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	if err := validate(Default()); err != nil {
		t.Fatalf("default config does not validate: %v", err)
	}
}

func TestLoadMissingPath(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Device.SampleRate != 48000 {
		t.Errorf("expected default sample rate 48000, got %d", cfg.Device.SampleRate)
	}
	if cfg.Audio.TargetRate != 16000 {
		t.Errorf("expected default target rate 16000, got %d", cfg.Audio.TargetRate)
	}
	if cfg.Gate.SilenceChunks != 6 {
		t.Errorf("expected default silence chunks 6, got %d", cfg.Gate.SilenceChunks)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
device:
  name: "USB Mic"
  sample_rate: 44100
audio:
  resample_quality: high
transcribe:
  language: de
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Device.Name != "USB Mic" {
		t.Errorf("device name = %q", cfg.Device.Name)
	}
	if cfg.Device.SampleRate != 44100 {
		t.Errorf("sample rate = %d", cfg.Device.SampleRate)
	}
	if cfg.Audio.ResampleQuality != "high" {
		t.Errorf("resample quality = %q", cfg.Audio.ResampleQuality)
	}
	if cfg.Transcribe.Language != "de" {
		t.Errorf("language = %q", cfg.Transcribe.Language)
	}
	// untouched fields keep defaults
	if cfg.Gate.BatchWindowMS != 500 {
		t.Errorf("batch window = %d", cfg.Gate.BatchWindowMS)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DIKTA_DEVICE", "pipewire")
	t.Setenv("DIKTA_VAD_THRESHOLD", "0.2")
	t.Setenv("DIKTA_MAX_RETRIES", "5")
	t.Setenv("DIKTA_DENOISE", "false")
	t.Setenv("ELEVENLABS_API_KEY", "elkey")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Device.Name != "pipewire" {
		t.Errorf("device name = %q", cfg.Device.Name)
	}
	if cfg.Gate.VADThreshold != 0.2 {
		t.Errorf("vad threshold = %v", cfg.Gate.VADThreshold)
	}
	if cfg.Transcribe.MaxRetries != 5 {
		t.Errorf("max retries = %d", cfg.Transcribe.MaxRetries)
	}
	if cfg.Audio.Denoise {
		t.Error("denoise should be off")
	}
	if cfg.Transcribe.APIKey != "elkey" {
		t.Errorf("api key = %q", cfg.Transcribe.APIKey)
	}
}

func TestAPIKeyPrecedence(t *testing.T) {
	t.Setenv("ELEVENLABS_API_KEY", "elkey")
	t.Setenv("DIKTA_API_KEY", "diktakey")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Transcribe.APIKey != "diktakey" {
		t.Errorf("expected DIKTA_API_KEY to win, got %q", cfg.Transcribe.APIKey)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero sample rate", func(c *Config) { c.Device.SampleRate = 0 }},
		{"bad quality", func(c *Config) { c.Audio.ResampleQuality = "ultra" }},
		{"vad above one", func(c *Config) { c.Gate.VADThreshold = 1.5 }},
		{"negative energy", func(c *Config) { c.Gate.EnergyThreshold = -1 }},
		{"commit below window", func(c *Config) { c.Gate.CommitAfterMS = 100 }},
		{"empty endpoint", func(c *Config) { c.Transcribe.Endpoint = "" }},
		{"negative retries", func(c *Config) { c.Transcribe.MaxRetries = -1 }},
		{"bad delivery mode", func(c *Config) { c.Delivery.Mode = "telepathy" }},
		{"dump without path", func(c *Config) { c.Dump.Enabled = true; c.Dump.Path = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			if err := validate(cfg); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
