package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type DeviceConfig struct {
	Name       string `yaml:"name"`
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
}

type AudioConfig struct {
	Denoise         bool   `yaml:"denoise"`
	ResampleQuality string `yaml:"resample_quality"`
	TargetRate      int    `yaml:"target_rate"`
	QueueFrames     int    `yaml:"queue_frames"`
	FrameCapacity   int    `yaml:"frame_capacity"`
}

type GateConfig struct {
	BatchWindowMS   int     `yaml:"batch_window_ms"`
	VADThreshold    float64 `yaml:"vad_threshold"`
	EnergyThreshold float64 `yaml:"energy_threshold"`
	SilenceChunks   int     `yaml:"silence_chunks"`
	CommitAfterMS   int     `yaml:"commit_after_ms"`
}

type TranscribeConfig struct {
	APIKey        string `yaml:"api_key"`
	Endpoint      string `yaml:"endpoint"`
	ModelID       string `yaml:"model_id"`
	Language      string `yaml:"language"`
	DialTimeoutMS int    `yaml:"dial_timeout_ms"`
	MaxRetries    int    `yaml:"max_retries"`
	RetryDelayMS  int    `yaml:"retry_delay_ms"`
}

type DeliveryConfig struct {
	Mode     string `yaml:"mode"` // type, clipboard, off
	MaxChars int    `yaml:"max_chars"`
}

type DumpConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type Config struct {
	Device     DeviceConfig     `yaml:"device"`
	Audio      AudioConfig      `yaml:"audio"`
	Gate       GateConfig       `yaml:"gate"`
	Transcribe TranscribeConfig `yaml:"transcribe"`
	Delivery   DeliveryConfig   `yaml:"delivery"`
	Dump       DumpConfig       `yaml:"dump"`
}

func Default() Config {
	return Config{
		Device: DeviceConfig{
			Name:       "",
			SampleRate: 48000,
			Channels:   1,
		},
		Audio: AudioConfig{
			Denoise:         true,
			ResampleQuality: "medium",
			TargetRate:      16000,
			QueueFrames:     200,
			FrameCapacity:   2048,
		},
		Gate: GateConfig{
			BatchWindowMS:   500,
			VADThreshold:    0.05,
			EnergyThreshold: 0.00005,
			SilenceChunks:   6,
			CommitAfterMS:   2000,
		},
		Transcribe: TranscribeConfig{
			Endpoint:      "wss://api.elevenlabs.io/v1/speech-to-text/realtime",
			ModelID:       "scribe_v2_realtime",
			Language:      "en",
			DialTimeoutMS: 5000,
			MaxRetries:    3,
			RetryDelayMS:  2000,
		},
		Delivery: DeliveryConfig{
			Mode:     "type",
			MaxChars: 5000,
		},
		Dump: DumpConfig{
			Enabled: false,
			Path:    "",
		},
	}
}

// DefaultPath returns the conventional config file location, or "" if the
// home directory cannot be resolved.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	xdgConfig := os.Getenv("XDG_CONFIG_HOME")
	if xdgConfig == "" {
		xdgConfig = filepath.Join(home, ".config")
	}
	return filepath.Join(xdgConfig, "dikta", "config.yaml")
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.Device.Name, "DIKTA_DEVICE")
	overrideInt(&cfg.Device.SampleRate, "DIKTA_DEVICE_SAMPLE_RATE")
	overrideInt(&cfg.Device.Channels, "DIKTA_DEVICE_CHANNELS")
	overrideBool(&cfg.Audio.Denoise, "DIKTA_DENOISE")
	overrideString(&cfg.Audio.ResampleQuality, "DIKTA_RESAMPLE_QUALITY")
	overrideInt(&cfg.Audio.TargetRate, "DIKTA_TARGET_RATE")
	overrideInt(&cfg.Gate.BatchWindowMS, "DIKTA_BATCH_WINDOW_MS")
	overrideFloat(&cfg.Gate.VADThreshold, "DIKTA_VAD_THRESHOLD")
	overrideFloat(&cfg.Gate.EnergyThreshold, "DIKTA_ENERGY_THRESHOLD")
	overrideInt(&cfg.Gate.SilenceChunks, "DIKTA_SILENCE_CHUNKS")
	overrideInt(&cfg.Gate.CommitAfterMS, "DIKTA_COMMIT_AFTER_MS")
	overrideString(&cfg.Transcribe.APIKey, "ELEVENLABS_API_KEY")
	overrideString(&cfg.Transcribe.APIKey, "DIKTA_API_KEY")
	overrideString(&cfg.Transcribe.Endpoint, "DIKTA_ENDPOINT")
	overrideString(&cfg.Transcribe.ModelID, "DIKTA_MODEL_ID")
	overrideString(&cfg.Transcribe.Language, "DIKTA_LANGUAGE")
	overrideInt(&cfg.Transcribe.DialTimeoutMS, "DIKTA_DIAL_TIMEOUT_MS")
	overrideInt(&cfg.Transcribe.MaxRetries, "DIKTA_MAX_RETRIES")
	overrideInt(&cfg.Transcribe.RetryDelayMS, "DIKTA_RETRY_DELAY_MS")
	overrideString(&cfg.Delivery.Mode, "DIKTA_DELIVERY_MODE")
	overrideInt(&cfg.Delivery.MaxChars, "DIKTA_DELIVERY_MAX_CHARS")
	overrideBool(&cfg.Dump.Enabled, "DIKTA_DUMP")
	overrideString(&cfg.Dump.Path, "DIKTA_DUMP_PATH")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.Device.SampleRate <= 0 {
		return errors.New("device.sample_rate must be positive")
	}
	if cfg.Device.Channels <= 0 {
		return errors.New("device.channels must be positive")
	}
	switch cfg.Audio.ResampleQuality {
	case "low", "medium", "high":
		// ok
	default:
		return errors.New("audio.resample_quality must be one of low|medium|high")
	}
	if cfg.Audio.TargetRate <= 0 {
		return errors.New("audio.target_rate must be positive")
	}
	if cfg.Audio.QueueFrames <= 0 {
		return errors.New("audio.queue_frames must be positive")
	}
	if cfg.Audio.FrameCapacity <= 0 {
		return errors.New("audio.frame_capacity must be positive")
	}
	if cfg.Gate.BatchWindowMS <= 0 {
		return errors.New("gate.batch_window_ms must be positive")
	}
	if cfg.Gate.VADThreshold < 0 || cfg.Gate.VADThreshold > 1 {
		return errors.New("gate.vad_threshold must be between 0 and 1")
	}
	if cfg.Gate.EnergyThreshold < 0 {
		return errors.New("gate.energy_threshold must be >= 0")
	}
	if cfg.Gate.SilenceChunks <= 0 {
		return errors.New("gate.silence_chunks must be positive")
	}
	if cfg.Gate.CommitAfterMS < cfg.Gate.BatchWindowMS {
		return errors.New("gate.commit_after_ms must be >= batch_window_ms")
	}
	if cfg.Transcribe.Endpoint == "" {
		return errors.New("transcribe.endpoint must not be empty")
	}
	if cfg.Transcribe.ModelID == "" {
		return errors.New("transcribe.model_id must not be empty")
	}
	if cfg.Transcribe.DialTimeoutMS <= 0 {
		return errors.New("transcribe.dial_timeout_ms must be positive")
	}
	if cfg.Transcribe.MaxRetries < 0 {
		return errors.New("transcribe.max_retries must be >= 0")
	}
	if cfg.Transcribe.RetryDelayMS <= 0 {
		return errors.New("transcribe.retry_delay_ms must be positive")
	}
	switch cfg.Delivery.Mode {
	case "type", "clipboard", "off":
		// ok
	default:
		return errors.New("delivery.mode must be one of type|clipboard|off")
	}
	if cfg.Delivery.MaxChars <= 0 {
		return errors.New("delivery.max_chars must be positive")
	}
	if cfg.Dump.Enabled && cfg.Dump.Path == "" {
		return errors.New("dump.path must be set when dump is enabled")
	}
	return nil
}
