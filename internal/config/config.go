package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"socialgarden/internal/domain"
)

const defaultMaxMediaBytes = 18 * 1024 * 1024

// Config stores runtime configuration.
type Config struct {
	// File is the YAML file that was overlaid, empty when none was found.
	File     string
	Gemini   GeminiConfig
	Capture  CaptureConfig
	Analysis AnalysisConfig
	Log      LogConfig
	Events   EventsConfig
	Profile  domain.UserProfile
}

type GeminiConfig struct {
	APIKey     string
	APIBaseURL string
	Model      string
}

type CaptureConfig struct {
	RecorderCommand string
	AudioFormat     string
	AudioDevice     string
	DisplayFormat   string
	// Display is empty when display capture is unavailable.
	Display         string
	FrameRate       int
	ProbeMicrophone bool
}

type AnalysisConfig struct {
	MaxMediaBytes int
}

type LogConfig struct {
	Level       string
	Development bool
}

type EventsConfig struct {
	// ListenAddr of the websocket event hub; empty disables it.
	ListenAddr string
}

// fileConfig mirrors config.yaml. Pointers distinguish unset booleans.
type fileConfig struct {
	Gemini struct {
		APIKey     string `yaml:"apiKey"`
		APIBaseURL string `yaml:"apiBaseURL"`
		Model      string `yaml:"model"`
	} `yaml:"gemini"`
	Capture struct {
		Command         string `yaml:"command"`
		AudioFormat     string `yaml:"audioFormat"`
		AudioDevice     string `yaml:"audioDevice"`
		DisplayFormat   string `yaml:"displayFormat"`
		Display         string `yaml:"display"`
		FrameRate       int    `yaml:"frameRate"`
		ProbeMicrophone *bool  `yaml:"probeMicrophone"`
	} `yaml:"capture"`
	Analysis struct {
		MaxMediaBytes int `yaml:"maxMediaBytes"`
	} `yaml:"analysis"`
	Log struct {
		Level       string `yaml:"level"`
		Development *bool  `yaml:"development"`
	} `yaml:"log"`
	Events struct {
		Listen string `yaml:"listen"`
	} `yaml:"events"`
	Profile domain.UserProfile `yaml:"profile"`
}

// Load resolves configuration from the optional YAML file, then environment
// variables, then defaults. Environment variables win over the file.
func Load() (Config, error) {
	path, explicit, err := configPath()
	if err != nil {
		return Config{}, err
	}
	file, found, err := readFile(path)
	if err != nil {
		return Config{}, err
	}
	if explicit && !found {
		return Config{}, fmt.Errorf("config file %s does not exist", path)
	}

	cfg := Config{
		Gemini: GeminiConfig{
			APIKey:     firstNonEmpty(os.Getenv("GEMINI_API_KEY"), os.Getenv("API_KEY"), file.Gemini.APIKey),
			APIBaseURL: envOrDefault("GEMINI_API_BASE", file.Gemini.APIBaseURL),
			Model:      envOrDefault("GEMINI_MODEL", firstNonEmpty(file.Gemini.Model, "gemini-2.5-flash")),
		},
		Capture: CaptureConfig{
			RecorderCommand: envOrDefault("GARDEN_FFMPEG_COMMAND", firstNonEmpty(file.Capture.Command, "ffmpeg")),
			AudioFormat:     envOrDefault("GARDEN_AUDIO_INPUT_FORMAT", firstNonEmpty(file.Capture.AudioFormat, "pulse")),
			AudioDevice:     envOrDefault("GARDEN_AUDIO_INPUT_DEVICE", firstNonEmpty(file.Capture.AudioDevice, "default")),
			DisplayFormat:   envOrDefault("GARDEN_DISPLAY_INPUT_FORMAT", firstNonEmpty(file.Capture.DisplayFormat, "x11grab")),
			Display: firstNonEmpty(
				os.Getenv("GARDEN_DISPLAY"),
				file.Capture.Display,
				os.Getenv("DISPLAY"),
			),
			FrameRate:       envOrDefaultInt("GARDEN_FRAME_RATE", orInt(file.Capture.FrameRate, 30)),
			ProbeMicrophone: envOrDefaultBool("GARDEN_PROBE_MICROPHONE", orBool(file.Capture.ProbeMicrophone, true)),
		},
		Analysis: AnalysisConfig{
			MaxMediaBytes: envOrDefaultInt("GARDEN_MAX_MEDIA_BYTES", orInt(file.Analysis.MaxMediaBytes, defaultMaxMediaBytes)),
		},
		Log: LogConfig{
			Level:       strings.ToLower(envOrDefault("GARDEN_LOG_LEVEL", firstNonEmpty(file.Log.Level, "info"))),
			Development: envOrDefaultBool("GARDEN_LOG_DEVELOPMENT", orBool(file.Log.Development, false)),
		},
		Events: EventsConfig{
			ListenAddr: envOrDefault("GARDEN_EVENTS_ADDR", file.Events.Listen),
		},
		Profile: file.Profile,
	}
	if pseudonym := strings.TrimSpace(os.Getenv("GARDEN_PSEUDONYM")); pseudonym != "" {
		cfg.Profile.Pseudonym = pseudonym
	}
	if found {
		cfg.File = path
	}

	if cfg.Capture.FrameRate <= 0 {
		cfg.Capture.FrameRate = 30
	}
	if cfg.Analysis.MaxMediaBytes <= 0 {
		cfg.Analysis.MaxMediaBytes = defaultMaxMediaBytes
	}

	return cfg, nil
}

func configPath() (string, bool, error) {
	if path := strings.TrimSpace(os.Getenv("GARDEN_CONFIG_FILE")); path != "" {
		return path, true, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", false, errors.New("could not determine home directory")
	}
	return filepath.Join(home, ".config", "socialgarden", "config.yaml"), false, nil
}

func readFile(path string) (fileConfig, bool, error) {
	var file fileConfig
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return file, false, nil
	}
	if err != nil {
		return file, false, fmt.Errorf("read config %s: %w", path, err)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return file, false, fmt.Errorf("parse config %s: %w", path, err)
	}
	return file, true, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func orInt(value int, fallback int) int {
	if value > 0 {
		return value
	}
	return fallback
}

func orBool(value *bool, fallback bool) bool {
	if value == nil {
		return fallback
	}
	return *value
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
