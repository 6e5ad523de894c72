package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/forPelevin/clipper/internal/domain/subtitles"
	"github.com/forPelevin/clipper/internal/domain/thumbnail"
	"github.com/forPelevin/clipper/internal/types"
)

// unit is one (selected chunk x aspect ratio) output.
type unit struct {
	index  int
	rank   int
	chunk  types.ScoredChunk
	aspect string
	frame  Frame
}

// rendered is a unit whose encode passed the duration check.
type rendered struct {
	unit
	media       string
	captions    string
	thumbnail   string
	durationSec float64
}

func (r *run) units(selected []types.ScoredChunk) []unit {
	var out []unit
	for i, sc := range selected {
		for _, aspect := range r.spec.AspectRatios {
			out = append(out, unit{
				index:  len(out),
				rank:   i,
				chunk:  sc,
				aspect: aspect,
				frame:  r.u.s.Frames[aspect],
			})
		}
	}
	return out
}

// renderAll fans out every unit and returns the ones that rendered, in
// index order. Failed units are reported as Failed outputs.
func (r *run) renderAll(ctx context.Context, selected []types.ScoredChunk) []rendered {
	start := time.Now()
	defer func() { r.u.d.Metrics.ObserveStage(string(types.JobRendering), time.Since(start)) }()

	units := r.units(selected)
	for _, un := range units {
		r.rep.PutOutput(r.output(un, types.Pending{}))
	}

	var (
		mu  sync.Mutex
		out []rendered
		g   errgroup.Group
	)
	for _, un := range units {
		g.Go(func() error {
			res, err := r.renderUnit(ctx, un)
			if err != nil {
				reason := err.Error()
				if ctx.Err() != nil {
					reason = "canceled"
				}
				r.log.Error().Err(err).Int("index", un.index).Str("aspect", un.aspect).Msg("render failed")
				r.rep.PutOutput(r.output(un, types.Failed{Stage: "render", Reason: reason}))
				return nil
			}
			mu.Lock()
			out = append(out, res)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	sort.Slice(out, func(i, j int) bool { return out[i].index < out[j].index })
	return out
}

func (r *run) output(un unit, status types.OutputStatus) types.RenderedOutput {
	return types.RenderedOutput{
		Index:       un.index,
		Chunk:       un.chunk.Chunk,
		AspectRatio: un.aspect,
		Status:      status,
	}
}

// renderUnit encodes one output, retrying in isolation. Each attempt holds
// one slot of the shared render pool.
func (r *run) renderUnit(ctx context.Context, un unit) (rendered, error) {
	if un.frame.Width <= 0 || un.frame.Height <= 0 {
		return rendered{}, fmt.Errorf("%w: no frame preset for aspect %q", types.ErrRenderFailed, un.aspect)
	}
	dir := filepath.Join(r.workDir, "outputs", fmt.Sprintf("%03d", un.index))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return rendered{}, err
	}
	res := rendered{unit: un, media: filepath.Join(dir, "clip.mp4")}

	c := un.chunk
	st := subtitles.StyleFor(un.frame.Width, un.frame.Height)
	if ass, ok := subtitles.RenderKaraokeASS(c.Words, c.StartSec, c.EndSec, st); ok {
		res.captions = filepath.Join(dir, "captions.ass")
		if err := os.WriteFile(res.captions, []byte(ass), 0o644); err != nil {
			return rendered{}, err
		}
	}

	req := types.RenderRequest{
		Input:         r.source,
		StartSec:      c.StartSec,
		EndSec:        c.EndSec,
		Width:         un.frame.Width,
		Height:        un.frame.Height,
		SubtitlesPath: res.captions,
		HasAudio:      r.media.HasAudio,
		Output:        res.media,
	}
	err := retry(ctx, r.u.s.Render, func(attempt int) error {
		if err := r.u.d.RenderPool.Acquire(ctx, 1); err != nil {
			return err
		}
		release := r.u.d.Metrics.RenderSlot()
		defer func() {
			release()
			r.u.d.RenderPool.Release(1)
		}()

		d, err := r.encode(ctx, req)
		r.u.d.Metrics.RenderAttempt(un.aspect, err)
		if err != nil {
			r.log.Warn().Err(err).Int("index", un.index).Int("attempt", attempt).Msg("render attempt failed")
			return err
		}
		res.durationSec = d
		if thumb, err := r.thumbnail(ctx, un, res.media, dir); err != nil {
			r.log.Warn().Err(err).Int("index", un.index).Msg("thumbnail skipped")
		} else {
			res.thumbnail = thumb
		}
		return nil
	})
	if err != nil {
		return rendered{}, err
	}
	return res, nil
}

// encode renders req and checks the result's duration against the
// requested one.
func (r *run) encode(ctx context.Context, req types.RenderRequest) (float64, error) {
	if err := r.u.d.Video.RenderClip(ctx, req); err != nil {
		return 0, fmt.Errorf("%w: %v", types.ErrRenderFailed, err)
	}
	got, err := r.u.d.Prober.Probe(ctx, req.Output)
	if err != nil {
		return 0, fmt.Errorf("%w: probe output: %v", types.ErrRenderFailed, err)
	}
	want := req.EndSec - req.StartSec
	if drift := math.Abs(got.DurationSec - want); drift > r.u.s.DurationToleranceSec {
		return 0, fmt.Errorf("%w: duration %.3fs, requested %.3fs", types.ErrRenderFailed, got.DurationSec, want)
	}
	return got.DurationSec, nil
}

func (r *run) thumbnail(ctx context.Context, un unit, media, dir string) (string, error) {
	w, h := thumbnail.Size(un.frame.Width, un.frame.Height, r.u.s.ThumbnailLongSide)
	if w == 0 {
		return "", errors.New("thumbnails disabled")
	}
	frame := filepath.Join(dir, "frame.jpg")
	if err := r.u.d.Video.ExtractFrame(ctx, media, un.chunk.DurationSec()/2, frame); err != nil {
		return "", err
	}
	out := filepath.Join(dir, "thumbnail.jpg")
	if err := thumbnail.ComposeFile(frame, out, w, h); err != nil {
		return "", err
	}
	return out, nil
}
