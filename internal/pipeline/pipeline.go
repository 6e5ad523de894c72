// Package pipeline wires configuration to adapters, the orchestrator and the
// job manager.
package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/forPelevin/clipper/internal/config"
	"github.com/forPelevin/clipper/internal/domain/highlights"
	"github.com/forPelevin/clipper/internal/jobs"
	"github.com/forPelevin/clipper/internal/metrics"
	"github.com/forPelevin/clipper/internal/ports"
	"github.com/forPelevin/clipper/internal/ports/adapters/cvscene"
	"github.com/forPelevin/clipper/internal/ports/adapters/ffmpeg"
	"github.com/forPelevin/clipper/internal/ports/adapters/fsstore"
	"github.com/forPelevin/clipper/internal/ports/adapters/gdrive"
	"github.com/forPelevin/clipper/internal/ports/adapters/openrouter"
	"github.com/forPelevin/clipper/internal/ports/adapters/whispercpp"
	"github.com/forPelevin/clipper/internal/server"
	"github.com/forPelevin/clipper/internal/toolchain"
	"github.com/forPelevin/clipper/internal/usecase"
)

// App is a fully wired clipper instance.
type App struct {
	Config    config.Config
	Toolchain toolchain.Toolchain
	Jobs      *jobs.Manager
	Store     ports.ObjectStore
	Metrics   *metrics.Metrics
	Log       zerolog.Logger
}

type Option func(*options)

type options struct {
	locator *toolchain.Locator
	store   ports.ObjectStore
	text    ports.TextGenerator
	metrics *metrics.Metrics
}

// WithLocator replaces the PATH-based toolchain locator.
func WithLocator(l *toolchain.Locator) Option {
	return func(o *options) { o.locator = l }
}

// WithStore bypasses the configured publish backend.
func WithStore(s ports.ObjectStore) Option {
	return func(o *options) { o.store = s }
}

func WithTextGenerator(t ports.TextGenerator) Option {
	return func(o *options) { o.text = t }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// Build validates cfg, locates the toolchain and assembles the app. Nothing
// is started; call App.Jobs.Start.
func Build(ctx context.Context, cfg config.Config, log zerolog.Logger, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.locator == nil {
		o.locator = toolchain.NewLocator()
	}
	if o.metrics == nil {
		o.metrics = metrics.New()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	tc, err := o.locator.Locate(ctx, toolchain.Paths{
		FFmpeg:       cfg.Toolchain.FFmpeg,
		FFprobe:      cfg.Toolchain.FFprobe,
		Whisper:      cfg.Toolchain.WhisperBin,
		WhisperModel: cfg.Toolchain.WhisperModel,
	})
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("ffmpeg", tc.FFmpeg).
		Str("ffprobe", tc.FFprobe).
		Bool("whisper", tc.Whisper != "").
		Msg("toolchain located")

	video := ffmpeg.New(tc.FFmpeg, tc.FFprobe,
		ffmpeg.WithLogger(log.With().Str("component", "ffmpeg").Logger()),
		ffmpeg.WithEncoding(cfg.Render.VideoPreset, cfg.Render.CRF),
	)

	workDir, err := filepath.Abs(cfg.Jobs.WorkDir)
	if err != nil {
		return nil, fmt.Errorf("resolve work dir: %w", err)
	}

	var scenes ports.SceneDetector = video
	if cfg.Detect.SceneBackend == "gocv" {
		if cvscene.Available() {
			scenes = cvscene.New(video, cfg.Detect.SampleFPS, workDir)
		} else {
			log.Warn().Msg("gocv scene backend requested but not built in; using ffmpeg")
		}
	}

	var asr ports.ASR
	if tc.Whisper != "" {
		asr = whispercpp.New(tc.Whisper, tc.WhisperModel)
	} else {
		log.Warn().Msg("whisper.cpp not found; jobs run without transcripts")
	}

	text := o.text
	if text == nil && cfg.LLM.APIKey != "" {
		text = openrouter.New(cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.BaseURL, openrouter.WithTimeout(cfg.LLM.Timeout))
	}
	if text == nil {
		log.Warn().Msg("no OPENROUTER_API_KEY; ranking and titles use heuristics")
	}

	store := o.store
	if store == nil {
		store, err = newStore(ctx, cfg.Publish)
		if err != nil {
			return nil, err
		}
	}

	scorer, err := highlights.NewScorer(highlights.ScorerConfig{
		Weights: highlights.Weights{
			Salience:  cfg.Scoring.Weights.Salience,
			Alignment: cfg.Scoring.Weights.Alignment,
			Pacing:    cfg.Scoring.Weights.Pacing,
		},
		Lexicon:           cfg.Scoring.Lexicon,
		CountNumbers:      cfg.Scoring.CountNumbers,
		CountQuestions:    cfg.Scoring.CountQuestions,
		Saturation:        cfg.Scoring.SalienceSaturation,
		AlignToleranceSec: cfg.Scoring.AlignToleranceSec,
		PauseSec:          cfg.Scoring.PauseSec,
	})
	if err != nil {
		return nil, fmt.Errorf("scorer: %w", err)
	}

	uc := usecase.New(usecase.Deps{
		Sources:    fsstore.NewSources(cfg.Jobs.SourceRoot),
		Prober:     video,
		Scenes:     scenes,
		Silence:    video,
		Video:      video,
		ASR:        asr,
		Text:       text,
		Store:      store,
		Scorer:     scorer,
		RenderPool: semaphore.NewWeighted(int64(cfg.Render.Concurrency)),
		Metrics:    o.metrics,
		Log:        log.With().Str("component", "usecase").Logger(),
	}, Settings(cfg, workDir))

	mgr := jobs.NewManager(uc, jobs.Options{
		Workers:     cfg.Jobs.Workers,
		QueueSize:   cfg.Jobs.QueueSize,
		KnownAspect: cfg.HasPreset,
		Log:         log,
		Metrics:     o.metrics,
	})

	return &App{
		Config:    cfg,
		Toolchain: tc,
		Jobs:      mgr,
		Store:     store,
		Metrics:   o.metrics,
		Log:       log,
	}, nil
}

// Settings maps cfg onto orchestrator settings.
func Settings(cfg config.Config, workDir string) usecase.Settings {
	frames := make(map[string]usecase.Frame, len(cfg.Render.Presets))
	for name, p := range cfg.Render.Presets {
		frames[name] = usecase.Frame{Width: p.Width, Height: p.Height}
	}
	return usecase.Settings{
		WorkDir:              workDir,
		KeepWorkDir:          cfg.Jobs.KeepWorkDir,
		SceneThreshold:       cfg.Detect.SceneThreshold,
		NoiseDB:              cfg.Detect.NoiseDB,
		MinSilenceSec:        cfg.Detect.MinSilenceSec,
		MergeWindowSec:       cfg.Detect.MergeWindowSec,
		Transcribe:           usecase.Retry{MaxAttempts: cfg.Transcribe.MaxAttempts, Backoff: cfg.Transcribe.Backoff},
		RerankFactor:         cfg.Scoring.RerankFactor,
		Frames:               frames,
		Render:               usecase.Retry{MaxAttempts: cfg.Render.MaxAttempts, Backoff: cfg.Render.Backoff},
		DurationToleranceSec: cfg.Render.DurationToleranceSec,
		ThumbnailLongSide:    cfg.Render.ThumbnailLongSide,
		Publish:              usecase.Retry{MaxAttempts: cfg.Publish.MaxAttempts, Backoff: cfg.Publish.Backoff},
		PublishConcurrency:   cfg.Publish.Concurrency,
	}
}

func newStore(ctx context.Context, cfg config.PublishConfig) (ports.ObjectStore, error) {
	switch cfg.Backend {
	case "drive":
		s, err := gdrive.New(ctx, cfg.Drive.CredentialsFile, cfg.Drive.FolderID)
		if err != nil {
			return nil, fmt.Errorf("drive store: %w", err)
		}
		return s, nil
	default:
		s, err := fsstore.New(cfg.Root)
		if err != nil {
			return nil, fmt.Errorf("filesystem store: %w", err)
		}
		return s, nil
	}
}

// Handler returns the HTTP API for a.
func (a *App) Handler() http.Handler {
	return server.New(a.Jobs, a.Store, server.Options{
		Metrics: a.Metrics.Handler(),
		Log:     a.Log,
	})
}

// ensure adapters implement ports
var (
	_ ports.Prober          = (*ffmpeg.Adapter)(nil)
	_ ports.SceneDetector   = (*ffmpeg.Adapter)(nil)
	_ ports.SilenceDetector = (*ffmpeg.Adapter)(nil)
	_ ports.VideoTool       = (*ffmpeg.Adapter)(nil)
	_ ports.SceneDetector   = (*cvscene.Detector)(nil)
	_ ports.ASR             = (*whispercpp.Adapter)(nil)
	_ ports.TextGenerator   = (*openrouter.Adapter)(nil)
	_ ports.ObjectStore     = (*fsstore.Store)(nil)
	_ ports.ObjectStore     = (*gdrive.Store)(nil)
	_ ports.SourceReader    = (*fsstore.Sources)(nil)
	_ jobs.Runner           = (*usecase.Usecase)(nil)
)
