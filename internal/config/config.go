package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/forPelevin/clipper/internal/ports/adapters/openrouter"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Toolchain  ToolchainConfig  `yaml:"toolchain"`
	LLM        LLMConfig        `yaml:"llm"`
	Detect     DetectConfig     `yaml:"detect"`
	Transcribe TranscribeConfig `yaml:"transcribe"`
	Scoring    ScoringConfig    `yaml:"scoring"`
	Render     RenderConfig     `yaml:"render"`
	Publish    PublishConfig    `yaml:"publish"`
	Jobs       JobsConfig       `yaml:"jobs"`
	Server     ServerConfig     `yaml:"server"`
}

// ToolchainConfig holds explicit binary locations. Empty means PATH lookup.
type ToolchainConfig struct {
	FFmpeg       string `yaml:"ffmpeg"`
	FFprobe      string `yaml:"ffprobe"`
	WhisperBin   string `yaml:"whisper_bin"`
	WhisperModel string `yaml:"whisper_model"`
}

type LLMConfig struct {
	APIKey       string        `yaml:"-"`
	Model        string        `yaml:"model"`
	BaseURL      string        `yaml:"base_url"`
	AllowedHosts []string      `yaml:"allowed_hosts"`
	Timeout      time.Duration `yaml:"timeout"`
}

type DetectConfig struct {
	// SceneBackend is "ffmpeg" or "gocv".
	SceneBackend   string  `yaml:"scene_backend"`
	SceneThreshold float64 `yaml:"scene_threshold"`
	SampleFPS      float64 `yaml:"sample_fps"`
	NoiseDB        float64 `yaml:"noise_db"`
	MinSilenceSec  float64 `yaml:"min_silence_sec"`
	MergeWindowSec float64 `yaml:"merge_window_sec"`
}

type TranscribeConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Backoff     time.Duration `yaml:"backoff"`
}

type ScoringConfig struct {
	Weights            Weights  `yaml:"weights"`
	Lexicon            []string `yaml:"lexicon"`
	CountNumbers       bool     `yaml:"count_numbers"`
	CountQuestions     bool     `yaml:"count_questions"`
	SalienceSaturation float64  `yaml:"salience_saturation"`
	AlignToleranceSec  float64  `yaml:"align_tolerance_sec"`
	PauseSec           float64  `yaml:"pause_sec"`
	RerankFactor       int      `yaml:"rerank_factor"`
}

type Weights struct {
	Salience  float64 `yaml:"salience"`
	Alignment float64 `yaml:"alignment"`
	Pacing    float64 `yaml:"pacing"`
}

type Preset struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

type RenderConfig struct {
	Presets              map[string]Preset `yaml:"presets"`
	Concurrency          int               `yaml:"concurrency"`
	MaxAttempts          int               `yaml:"max_attempts"`
	Backoff              time.Duration     `yaml:"backoff"`
	DurationToleranceSec float64           `yaml:"duration_tolerance_sec"`
	VideoPreset          string            `yaml:"video_preset"`
	CRF                  int               `yaml:"crf"`
	ThumbnailLongSide    int               `yaml:"thumbnail_long_side"`
}

type PublishConfig struct {
	// Backend is "filesystem" or "drive".
	Backend     string        `yaml:"backend"`
	Root        string        `yaml:"root"`
	Drive       DriveConfig   `yaml:"drive"`
	MaxAttempts int           `yaml:"max_attempts"`
	Backoff     time.Duration `yaml:"backoff"`
	Concurrency int           `yaml:"concurrency"`
}

type DriveConfig struct {
	CredentialsFile string `yaml:"credentials_file"`
	FolderID        string `yaml:"folder_id"`
}

type JobsConfig struct {
	Workers     int    `yaml:"workers"`
	QueueSize   int    `yaml:"queue_size"`
	WorkDir     string `yaml:"work_dir"`
	SourceRoot  string `yaml:"source_root"`
	KeepWorkDir bool   `yaml:"keep_work_dir"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

func Default() Config {
	return Config{
		LLM: LLMConfig{
			Model:   "z-ai/glm-4.5-air:free",
			BaseURL: "https://openrouter.ai",
			Timeout: 90 * time.Second,
		},
		Detect: DetectConfig{
			SceneBackend:   "ffmpeg",
			SceneThreshold: 0.4,
			SampleFPS:      2,
			NoiseDB:        -30,
			MinSilenceSec:  0.5,
			MergeWindowSec: 0.1,
		},
		Transcribe: TranscribeConfig{
			MaxAttempts: 2,
			Backoff:     2 * time.Second,
		},
		Scoring: ScoringConfig{
			Weights: Weights{Salience: 0.6, Alignment: 0.25, Pacing: 0.15},
			Lexicon: []string{
				"important", "key", "secret", "mistake", "never", "always",
				"here is why", "remember", "how to", "first", "second", "third",
				"do this", "step",
			},
			CountNumbers:       true,
			CountQuestions:     true,
			SalienceSaturation: 0.08,
			AlignToleranceSec:  0.5,
			PauseSec:           0.7,
			RerankFactor:       3,
		},
		Render: RenderConfig{
			Presets: map[string]Preset{
				"9:16": {Width: 1080, Height: 1920},
				"1:1":  {Width: 1080, Height: 1080},
				"16:9": {Width: 1920, Height: 1080},
				"4:5":  {Width: 1080, Height: 1350},
			},
			Concurrency:          2,
			MaxAttempts:          3,
			Backoff:              time.Second,
			DurationToleranceSec: 1.0,
			VideoPreset:          "veryfast",
			CRF:                  18,
			ThumbnailLongSide:    720,
		},
		Publish: PublishConfig{
			Backend:     "filesystem",
			Root:        "out",
			MaxAttempts: 4,
			Backoff:     500 * time.Millisecond,
			Concurrency: 4,
		},
		Jobs: JobsConfig{
			Workers:   2,
			QueueSize: 64,
			WorkDir:   ".cache/jobs",
		},
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
	}
}

// Load layers the YAML file at path (optional) over Default and applies
// environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	cfg.ApplyEnv(os.Getenv)
	return cfg, nil
}

// Save writes cfg as YAML. Secrets are never written.
func Save(cfg Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func (c *Config) ApplyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&c.LLM.APIKey, "OPENROUTER_API_KEY")
	set(&c.LLM.Model, "OPENROUTER_MODEL")
	set(&c.LLM.BaseURL, "OPENROUTER_BASE_URL")
	if v := strings.TrimSpace(getenv("OPENROUTER_ALLOWED_HOSTS")); v != "" {
		c.LLM.AllowedHosts = strings.Split(v, ",")
	}
	set(&c.Toolchain.FFmpeg, "CLIPPER_FFMPEG")
	set(&c.Toolchain.FFprobe, "CLIPPER_FFPROBE")
	set(&c.Toolchain.WhisperBin, "CLIPPER_WHISPER_BIN")
	set(&c.Toolchain.WhisperModel, "CLIPPER_WHISPER_MODEL")
	set(&c.Publish.Drive.CredentialsFile, "GOOGLE_APPLICATION_CREDENTIALS")
}

// HasPreset reports whether aspect can be rendered.
func (c Config) HasPreset(aspect string) bool {
	_, ok := c.Render.Presets[aspect]
	return ok
}

func (c Config) Validate() error {
	var errs []error
	if c.Scoring.Weights.Salience < 0 || c.Scoring.Weights.Alignment < 0 || c.Scoring.Weights.Pacing < 0 {
		errs = append(errs, errors.New("scoring weights must be >= 0"))
	}
	if c.Scoring.Weights.Salience+c.Scoring.Weights.Alignment == 0 {
		errs = append(errs, errors.New("scoring weights: salience and alignment cannot both be 0"))
	}
	if c.Scoring.SalienceSaturation <= 0 {
		errs = append(errs, errors.New("scoring.salience_saturation must be > 0"))
	}
	if c.Scoring.RerankFactor <= 0 {
		errs = append(errs, errors.New("scoring.rerank_factor must be > 0"))
	}
	if len(c.Render.Presets) == 0 {
		errs = append(errs, errors.New("render.presets is empty"))
	}
	for name, p := range c.Render.Presets {
		if p.Width <= 0 || p.Height <= 0 || p.Width%2 != 0 || p.Height%2 != 0 {
			errs = append(errs, fmt.Errorf("render preset %q: width and height must be positive and even", name))
		}
	}
	if c.Render.Concurrency <= 0 {
		errs = append(errs, errors.New("render.concurrency must be > 0"))
	}
	if c.Render.MaxAttempts <= 0 || c.Transcribe.MaxAttempts <= 0 || c.Publish.MaxAttempts <= 0 {
		errs = append(errs, errors.New("max_attempts must be > 0"))
	}
	if c.Render.DurationToleranceSec <= 0 {
		errs = append(errs, errors.New("render.duration_tolerance_sec must be > 0"))
	}
	if c.Jobs.Workers <= 0 || c.Jobs.QueueSize <= 0 {
		errs = append(errs, errors.New("jobs.workers and jobs.queue_size must be > 0"))
	}
	switch c.Detect.SceneBackend {
	case "ffmpeg", "gocv":
	default:
		errs = append(errs, fmt.Errorf("detect.scene_backend %q: want ffmpeg or gocv", c.Detect.SceneBackend))
	}
	switch c.Publish.Backend {
	case "filesystem":
		if c.Publish.Root == "" {
			errs = append(errs, errors.New("publish.root is required for the filesystem backend"))
		}
	case "drive":
		if c.Publish.Drive.CredentialsFile == "" || c.Publish.Drive.FolderID == "" {
			errs = append(errs, errors.New("publish.drive needs credentials_file and folder_id"))
		}
	default:
		errs = append(errs, fmt.Errorf("publish.backend %q: want filesystem or drive", c.Publish.Backend))
	}
	if c.LLM.APIKey != "" {
		if err := openrouter.ValidateBaseURL(c.LLM.BaseURL, c.LLM.AllowedHosts); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
