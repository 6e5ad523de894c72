package ffmpeg

import (
	"context"
	"fmt"
	"strconv"

	"github.com/forPelevin/clipper/internal/types"
	ffmpeggo "github.com/u2takey/ffmpeg-go"
)

// RenderClip cuts [StartSec, EndSec] from the input, fills the target frame
// (scale up, center crop) and burns the ASS captions when given.
func (a *Adapter) RenderClip(ctx context.Context, req types.RenderRequest) error {
	args, err := a.renderArgs(req)
	if err != nil {
		return err
	}
	b, err := a.exec(ctx, a.ffmpeg, args...)
	if err != nil {
		return fmt.Errorf("ffmpeg render clip: %w\n%s", err, tail(b, 4000))
	}
	return nil
}

func (a *Adapter) renderArgs(req types.RenderRequest) ([]string, error) {
	if req.EndSec <= req.StartSec {
		return nil, fmt.Errorf("ffmpeg render clip: empty range %.3f..%.3f", req.StartSec, req.EndSec)
	}
	if req.Width <= 0 || req.Height <= 0 {
		return nil, fmt.Errorf("ffmpeg render clip: invalid frame %dx%d", req.Width, req.Height)
	}
	w, h := strconv.Itoa(req.Width), strconv.Itoa(req.Height)

	// Input seeking resets timestamps to zero, so clip-local caption times
	// line up with the output.
	in := ffmpeggo.Input(req.Input, ffmpeggo.KwArgs{
		"ss": fmtSeconds(req.StartSec),
		"t":  fmtSeconds(req.EndSec - req.StartSec),
	})
	video := in.Video().
		Filter("scale", ffmpeggo.Args{w, h}, ffmpeggo.KwArgs{"force_original_aspect_ratio": "increase"}).
		Filter("crop", ffmpeggo.Args{w, h}).
		Filter("setsar", ffmpeggo.Args{"1"})
	if req.SubtitlesPath != "" {
		video = video.Filter("subtitles", ffmpeggo.Args{req.SubtitlesPath})
	}

	kw := ffmpeggo.KwArgs{
		"c:v":      "libx264",
		"preset":   a.videoPreset,
		"crf":      strconv.Itoa(a.crf),
		"pix_fmt":  "yuv420p",
		"movflags": "+faststart",
	}
	var out *ffmpeggo.Stream
	if req.HasAudio {
		kw["c:a"] = "aac"
		kw["b:a"] = "192k"
		out = ffmpeggo.Output([]*ffmpeggo.Stream{video, in.Audio()}, req.Output, kw)
	} else {
		out = video.Output(req.Output, kw)
	}
	return out.OverWriteOutput().GetArgs(), nil
}
