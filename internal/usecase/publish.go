package usecase

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"
	"unicode"

	"golang.org/x/sync/errgroup"

	"github.com/forPelevin/clipper/internal/domain/metadata"
	"github.com/forPelevin/clipper/internal/types"
)

// publishAll uploads every rendered unit and reports it Ready or Failed.
// It returns the number of Ready outputs.
func (r *run) publishAll(ctx context.Context, units []rendered, meta []metadata.Meta) int {
	start := time.Now()
	defer func() { r.u.d.Metrics.ObserveStage(string(types.JobPublishing), time.Since(start)) }()

	var ready atomic.Int32
	var g errgroup.Group
	g.SetLimit(r.u.s.PublishConcurrency)
	for _, un := range units {
		var m metadata.Meta
		if un.rank < len(meta) {
			m = meta[un.rank]
		}
		g.Go(func() error {
			out := r.output(un.unit, nil)
			out.Title, out.ThumbnailText = m.Title, m.ThumbnailText

			details, err := r.publishUnit(ctx, un)
			r.u.d.Metrics.Published(err)
			if err != nil {
				reason := err.Error()
				if ctx.Err() != nil {
					reason = "canceled"
				}
				r.log.Error().Err(err).Int("index", un.index).Msg("publish failed")
				out.Status = types.Failed{Stage: "publish", Reason: reason}
				r.rep.PutOutput(out)
				return nil
			}
			out.Status = details
			r.rep.PutOutput(out)
			ready.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	return int(ready.Load())
}

func (r *run) publishUnit(ctx context.Context, un rendered) (types.Ready, error) {
	fi, err := os.Stat(un.media)
	if err != nil {
		return types.Ready{}, fmt.Errorf("%w: %v", types.ErrPublishFailed, err)
	}
	base := r.objectKeyBase(un.unit)
	details := types.Ready{Bytes: fi.Size(), DurationSec: un.durationSec}

	details.MediaRef, err = r.upload(ctx, un.media, base+".mp4", "video/mp4")
	if err != nil {
		return types.Ready{}, err
	}
	if un.captions != "" {
		details.CaptionRef, err = r.upload(ctx, un.captions, base+".ass", "text/x-ssa")
		if err != nil {
			return types.Ready{}, err
		}
	}
	if un.thumbnail != "" {
		ref, err := r.upload(ctx, un.thumbnail, base+".jpg", "image/jpeg")
		if err != nil {
			if ctx.Err() != nil {
				return types.Ready{}, err
			}
			r.log.Warn().Err(err).Int("index", un.index).Msg("thumbnail upload failed")
		}
		details.ThumbnailRef = ref
	}
	return details, nil
}

// upload puts one file, retrying with backoff.
func (r *run) upload(ctx context.Context, path, key, contentType string) (string, error) {
	var ref string
	err := retry(ctx, r.u.s.Publish, func(attempt int) error {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		ref, err = r.u.d.Store.Put(ctx, key, f, contentType)
		if err != nil {
			r.log.Warn().Err(err).Str("key", key).Int("attempt", attempt).Msg("upload attempt failed")
		}
		return err
	})
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", types.ErrPublishFailed, key, err)
	}
	return ref, nil
}

// objectKeyBase is jobs/<job>/<source>-<index>-<aspect>, without extension.
func (r *run) objectKeyBase(un unit) string {
	name := strings.TrimSuffix(filepath.Base(r.spec.SourceRef), filepath.Ext(r.spec.SourceRef))
	name = normalizePathSegment(name)
	if name == "" {
		name = "source"
	}
	aspect := normalizePathSegment(strings.ReplaceAll(un.aspect, ":", "x"))
	return fmt.Sprintf("jobs/%s/%s-%03d-%s", normalizePathSegment(r.jobID), name, un.index, aspect)
}

func normalizePathSegment(s string) string {
	var b strings.Builder
	prevDash := false
	for _, c := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case unicode.IsLetter(c), unicode.IsDigit(c):
			b.WriteRune(c)
			prevDash = false
		default:
			if !prevDash {
				b.WriteByte('-')
				prevDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}
