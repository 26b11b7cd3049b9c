// Package config loads viva settings. Later layers override earlier ones:
// built-in defaults, a YAML file, a .env file, then the process
// environment. Command-line flags are applied by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const DefaultFile = "viva.yaml"

type Config struct {
	Language  string    `yaml:"language"`
	DataDir   string    `yaml:"data_dir"`
	LogDir    string    `yaml:"log_dir"`
	Timing    Timing    `yaml:"timing"`
	Segmenter Segmenter `yaml:"segmenter"`
	Responder Responder `yaml:"responder"`
	TTS       TTS       `yaml:"tts"`
	Backend   Backend   `yaml:"backend"`
	Recording Recording `yaml:"recording"`
	Questions Questions `yaml:"questions"`
	Server    Server    `yaml:"server"`

	OpenAIKey   string `yaml:"-"`
	GeminiKey   string `yaml:"-"`
	DeepgramKey string `yaml:"-"`
}

type Timing struct {
	StartThrottle    time.Duration `yaml:"start_throttle"`
	BackoffBase      time.Duration `yaml:"backoff_base"`
	BackoffMax       time.Duration `yaml:"backoff_max"`
	MaxStartAttempts int           `yaml:"max_start_attempts"`
	RestartDelay     time.Duration `yaml:"restart_delay"`
	Watchdog         time.Duration `yaml:"watchdog"`
	TurnPoll         time.Duration `yaml:"turn_poll"`
}

type Segmenter struct {
	Debounce time.Duration `yaml:"debounce"`
	Silence  time.Duration `yaml:"silence"`
	MinChars int           `yaml:"min_chars"`
}

type Responder struct {
	// Provider is one of backend, openai, gemini, mock.
	Provider           string   `yaml:"provider"`
	Model              string   `yaml:"model"`
	Temperature        float64  `yaml:"temperature"`
	MaxTokens          int      `yaml:"max_tokens"`
	SystemPrompt       string   `yaml:"system_prompt"`
	MinTokens          int      `yaml:"min_tokens"`
	ContextWindow      int      `yaml:"context_window"`
	AdvancePhrases     []string `yaml:"advance_phrases"`
	AdvanceAfterCoding bool     `yaml:"advance_after_coding"`
}

type TTS struct {
	Enabled bool    `yaml:"enabled"`
	Voice   string  `yaml:"voice"`
	Speed   float64 `yaml:"speed"`
	Model   string  `yaml:"model"`
}

type Backend struct {
	URL          string        `yaml:"url"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

type Recording struct {
	Enabled            bool          `yaml:"enabled"`
	Dir                string        `yaml:"dir"`
	ChunkInterval      time.Duration `yaml:"chunk_interval"`
	VideoBitsPerSecond int           `yaml:"video_bits_per_second"`
	AudioBitsPerSecond int           `yaml:"audio_bits_per_second"`
	Camera             string        `yaml:"camera"`
	TranscribeOnEnd    bool          `yaml:"transcribe_on_end"`
}

type Questions struct {
	Main        []string      `yaml:"main"`
	Coding      []string      `yaml:"coding"`
	CodingAfter int           `yaml:"coding_after"`
	RevealDelay time.Duration `yaml:"reveal_delay"`
	Transition  string        `yaml:"transition"`
	Closing     string        `yaml:"closing"`
}

type Server struct {
	Addr    string `yaml:"addr"`
	BaseURL string `yaml:"base_url"`
}

var providers = map[string]bool{"backend": true, "openai": true, "gemini": true, "mock": true}

// Load reads path (if it exists) over Defaults, then .env and the
// environment. An empty path tries DefaultFile.
func Load(path string) (Config, error) {
	cfg := Defaults()

	explicit := path != ""
	if path == "" {
		path = DefaultFile
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return cfg, fmt.Errorf("read config: %w", err)
	}

	// .env is optional; existing environment wins.
	_ = godotenv.Load()

	applyEnv(&cfg)
	return cfg, cfg.Validate()
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("VIVA_BACKEND_URL"); v != "" {
		cfg.Backend.URL = v
	}
	if v := os.Getenv("VIVA_RECORDINGS_DIR"); v != "" {
		cfg.Recording.Dir = v
	}
	if v := os.Getenv("VIVA_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("VIVA_PROVIDER"); v != "" {
		cfg.Responder.Provider = v
	}
	if v := os.Getenv("VIVA_LANGUAGE"); v != "" {
		cfg.Language = v
	}
	if v := os.Getenv("VIVA_TTS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.TTS.Enabled = b
		}
	}
	cfg.OpenAIKey = os.Getenv("OPENAI_API_KEY")
	cfg.GeminiKey = os.Getenv("GEMINI_API_KEY")
	cfg.DeepgramKey = os.Getenv("DEEPGRAM_API_KEY")
}

func (c Config) Validate() error {
	if !providers[c.Responder.Provider] {
		return fmt.Errorf("unknown responder provider %q", c.Responder.Provider)
	}
	if len(c.Questions.Main) == 0 {
		return errors.New("question list is empty")
	}
	if c.Segmenter.MinChars < 0 || c.Responder.MinTokens < 0 {
		return errors.New("utterance thresholds must not be negative")
	}
	if c.Responder.ContextWindow <= 0 {
		return errors.New("context_window must be positive")
	}
	if c.Backend.MaxAttempts < 1 {
		return errors.New("backend.max_attempts must be at least 1")
	}
	for name, d := range map[string]time.Duration{
		"segmenter.debounce":       c.Segmenter.Debounce,
		"segmenter.silence":        c.Segmenter.Silence,
		"timing.start_throttle":    c.Timing.StartThrottle,
		"timing.backoff_base":      c.Timing.BackoffBase,
		"timing.backoff_max":       c.Timing.BackoffMax,
		"timing.restart_delay":     c.Timing.RestartDelay,
		"timing.watchdog":          c.Timing.Watchdog,
		"timing.turn_poll":         c.Timing.TurnPoll,
		"backend.timeout":          c.Backend.Timeout,
		"recording.chunk_interval": c.Recording.ChunkInterval,
		"questions.reveal_delay":   c.Questions.RevealDelay,
	} {
		if d < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	if c.Timing.Watchdog == 0 || c.Timing.TurnPoll == 0 || c.Recording.ChunkInterval == 0 {
		return errors.New("poll intervals must be non-zero")
	}
	return nil
}
