package usecase

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/forPelevin/clipper/internal/domain/boundaries"
	"github.com/forPelevin/clipper/internal/domain/chunking"
	"github.com/forPelevin/clipper/internal/domain/highlights"
	"github.com/forPelevin/clipper/internal/metrics"
	"github.com/forPelevin/clipper/internal/ports"
	"github.com/forPelevin/clipper/internal/types"
)

type Deps struct {
	Sources ports.SourceReader
	Prober  ports.Prober
	Scenes  ports.SceneDetector
	Silence ports.SilenceDetector
	Video   ports.VideoTool
	// ASR may be nil when no speech-to-text backend is installed.
	ASR ports.ASR
	// Text may be nil; ranking and metadata then use their fallbacks.
	Text   ports.TextGenerator
	Store  ports.ObjectStore
	Scorer *highlights.Scorer
	// RenderPool bounds concurrent encodes across every job sharing it.
	RenderPool *semaphore.Weighted
	Metrics    *metrics.Metrics
	Log        zerolog.Logger
}

// Frame is an output frame size.
type Frame struct {
	Width  int
	Height int
}

type Retry struct {
	MaxAttempts int
	Backoff     time.Duration
}

type Settings struct {
	WorkDir     string
	KeepWorkDir bool

	SceneThreshold float64
	NoiseDB        float64
	MinSilenceSec  float64
	MergeWindowSec float64

	Transcribe Retry

	RerankFactor int

	Frames               map[string]Frame
	Render               Retry
	DurationToleranceSec float64
	ThumbnailLongSide    int

	Publish            Retry
	PublishConcurrency int
}

type Usecase struct {
	d Deps
	s Settings
}

func New(d Deps, s Settings) *Usecase {
	if d.RenderPool == nil {
		d.RenderPool = semaphore.NewWeighted(1)
	}
	if s.PublishConcurrency <= 0 {
		s.PublishConcurrency = 1
	}
	return &Usecase{d: d, s: s}
}

// Run drives one job from probing to done. A returned error means the job
// failed; degradations and per-output failures are reported through rep and
// do not fail the job while at least one output becomes Ready.
func (u *Usecase) Run(ctx context.Context, rep ports.Reporter, jobID string, spec types.JobSpec) error {
	log := u.d.Log.With().Str("job_id", jobID).Logger()

	workDir := filepath.Join(u.s.WorkDir, jobID)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return fmt.Errorf("create work dir: %w", err)
	}
	if !u.s.KeepWorkDir {
		defer func() {
			if err := os.RemoveAll(workDir); err != nil {
				log.Warn().Err(err).Msg("remove work dir")
			}
		}()
	}

	j := &run{u: u, rep: rep, log: log, jobID: jobID, spec: spec, workDir: workDir}
	return j.execute(ctx)
}

// run is the state of one job execution.
type run struct {
	u       *Usecase
	rep     ports.Reporter
	log     zerolog.Logger
	jobID   string
	spec    types.JobSpec
	workDir string

	source string
	media  types.SourceMedia
}

func (r *run) execute(ctx context.Context) error {
	if err := r.enter(types.JobProbing); err != nil {
		return err
	}
	if err := r.probe(ctx); err != nil {
		return err
	}

	if err := r.enter(types.JobDetecting); err != nil {
		return err
	}
	an := r.analyze(ctx)
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := r.enter(types.JobChunking); err != nil {
		return err
	}
	chunks := r.chunk(an)

	if err := r.enter(types.JobScoring); err != nil {
		return err
	}
	selected, err := r.score(ctx, chunks, an)
	if err != nil {
		return err
	}
	if len(selected) == 0 {
		r.log.Info().Msg("no chunk fits the duration bounds")
		return r.enter(types.JobDone)
	}

	if err := r.enter(types.JobRendering); err != nil {
		return err
	}
	meta := r.generateMetadata(ctx, selected)
	rendered := r.renderAll(ctx, selected)
	titles := meta.wait()
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(rendered) == 0 {
		return types.NewStageError(string(types.JobRendering), fmt.Errorf("%w: every output failed", types.ErrRenderFailed))
	}

	if err := r.enter(types.JobPublishing); err != nil {
		return err
	}
	ready := r.publishAll(ctx, rendered, titles)
	if err := ctx.Err(); err != nil {
		return err
	}
	if ready == 0 {
		return types.NewStageError(string(types.JobPublishing), fmt.Errorf("%w: no output was published", types.ErrPublishFailed))
	}
	return r.enter(types.JobDone)
}

func (r *run) enter(status types.JobStatus) error {
	if err := r.rep.Transition(status); err != nil {
		return err
	}
	r.log.Info().Str("status", string(status)).Msg("stage")
	return nil
}

func (r *run) probe(ctx context.Context) error {
	start := time.Now()
	defer func() { r.u.d.Metrics.ObserveStage(string(types.JobProbing), time.Since(start)) }()

	unreadable := func(err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return types.NewStageError(string(types.JobProbing), fmt.Errorf("%w: %v", types.ErrSourceUnreadable, err))
	}
	src, err := r.u.d.Sources.Resolve(ctx, r.spec.SourceRef, r.workDir)
	if err != nil {
		return unreadable(err)
	}
	media, err := r.u.d.Prober.Probe(ctx, src)
	if err != nil {
		return unreadable(err)
	}
	if media.DurationSec <= 0 {
		return unreadable(errors.New("source has no duration"))
	}
	media.Location = r.spec.SourceRef
	r.source, r.media = src, media
	r.rep.SetSource(media)
	r.log.Info().
		Float64("duration_sec", media.DurationSec).
		Float64("fps", media.FrameRate).
		Bool("audio", media.HasAudio).
		Msg("probed")
	return nil
}

func (r *run) chunk(an analysis) []types.Chunk {
	start := time.Now()
	defer func() { r.u.d.Metrics.ObserveStage(string(types.JobChunking), time.Since(start)) }()

	p := chunking.Params{MinSec: r.spec.MinClipSec, MaxSec: r.spec.MaxClipSec, DurationSec: r.media.DurationSec}
	var (
		words  []types.Word
		chunks []types.Chunk
	)
	if !an.transcript.Empty() {
		words = chunking.Words(an.transcript)
		chunks = chunking.Build(words, boundaries.Timestamps(an.boundaries), p)
	}
	if len(chunks) == 0 {
		chunks = chunking.Tile(p)
	}
	r.log.Info().Int("chunks", len(chunks)).Int("words", len(words)).Bool("tiled", len(words) == 0).Msg("chunked")
	return chunks
}

func (r *run) score(ctx context.Context, chunks []types.Chunk, an analysis) ([]types.ScoredChunk, error) {
	start := time.Now()
	defer func() { r.u.d.Metrics.ObserveStage(string(types.JobScoring), time.Since(start)) }()

	scored := r.u.d.Scorer.ScoreAll(chunks, boundaries.SceneCuts(an.boundaries), an.silences)
	var gen highlights.Completer
	if r.u.d.Text != nil {
		gen = r.u.d.Text
	}
	selected, err := highlights.Rerank(ctx, gen, scored, r.spec.MaxClips, r.u.s.RerankFactor)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if err != nil && len(scored) > 0 {
		r.degrade("rerank", err)
	}
	return selected, nil
}

func (r *run) degrade(kind string, err error) {
	r.log.Warn().Err(err).Str("kind", kind).Msg("degraded")
	r.u.d.Metrics.Degraded(kind)
	r.rep.Degrade(err.Error())
}
