package usecase

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/forPelevin/clipper/internal/domain/boundaries"
	"github.com/forPelevin/clipper/internal/types"
)

type analysis struct {
	boundaries []types.BoundaryCandidate
	silences   []types.SilenceInterval
	transcript types.Transcript
}

// analyze runs scene detection, silence detection and transcription
// concurrently. Every failure here degrades the job instead of failing it.
func (r *run) analyze(ctx context.Context) analysis {
	start := time.Now()
	var (
		scenes   []float64
		silences []types.SilenceInterval
		tr       types.Transcript
	)

	var transcribe errgroup.Group
	transcribe.Go(func() error {
		tr = r.transcribe(ctx)
		return nil
	})

	var detect errgroup.Group
	detect.Go(func() error {
		var err error
		scenes, err = r.u.d.Scenes.DetectScenes(ctx, r.source, r.u.s.SceneThreshold)
		if err != nil && ctx.Err() == nil {
			r.log.Warn().Err(err).Msg("scene detection failed")
			scenes = nil
		}
		return nil
	})
	if r.media.HasAudio {
		detect.Go(func() error {
			var err error
			silences, err = r.u.d.Silence.DetectSilence(ctx, r.source, r.u.s.NoiseDB, r.u.s.MinSilenceSec)
			if err != nil && ctx.Err() == nil {
				r.log.Warn().Err(err).Msg("silence detection failed")
				silences = nil
			}
			return nil
		})
	}
	_ = detect.Wait()
	r.u.d.Metrics.ObserveStage(string(types.JobDetecting), time.Since(start))

	trDone := make(chan struct{})
	go func() {
		_ = transcribe.Wait()
		close(trDone)
	}()
	select {
	case <-trDone:
	default:
		if ctx.Err() == nil {
			if err := r.enter(types.JobTranscribing); err != nil {
				r.log.Error().Err(err).Msg("enter transcribing")
			}
		}
		<-trDone
		r.u.d.Metrics.ObserveStage(string(types.JobTranscribing), time.Since(start))
	}

	merged := boundaries.Merge(scenes, silences, r.media.DurationSec, r.u.s.MergeWindowSec)
	r.log.Info().
		Int("scene_cuts", len(scenes)).
		Int("silences", len(silences)).
		Int("boundaries", len(merged)).
		Int("segments", len(tr.Segments)).
		Msg("analyzed")
	return analysis{boundaries: merged, silences: silences, transcript: tr}
}

// transcribe returns an empty transcript when speech-to-text is unavailable
// and records the degradation.
func (r *run) transcribe(ctx context.Context) types.Transcript {
	if !r.media.HasAudio {
		r.degrade("transcription", fmt.Errorf("%w: source has no audio track", types.ErrTranscriptionUnavailable))
		return types.Transcript{}
	}
	if r.u.d.ASR == nil {
		r.degrade("transcription", fmt.Errorf("%w: no speech-to-text backend configured", types.ErrTranscriptionUnavailable))
		return types.Transcript{}
	}

	dir := filepath.Join(r.workDir, "asr")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		r.degrade("transcription", fmt.Errorf("%w: %v", types.ErrTranscriptionUnavailable, err))
		return types.Transcript{}
	}
	wav := filepath.Join(dir, "audio.wav")

	var tr types.Transcript
	extracted := false
	err := retry(ctx, r.u.s.Transcribe, func(attempt int) error {
		if !extracted {
			if err := r.u.d.Video.ExtractAudioMono16k(ctx, r.source, wav); err != nil {
				return err
			}
			extracted = true
		}
		out, err := r.u.d.ASR.Transcribe(ctx, wav, dir)
		if err != nil {
			r.log.Warn().Err(err).Int("attempt", attempt).Msg("transcription attempt failed")
			return err
		}
		tr = out
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return types.Transcript{}
		}
		r.degrade("transcription", fmt.Errorf("%w: %v", types.ErrTranscriptionUnavailable, err))
		return types.Transcript{}
	}
	return tr
}
