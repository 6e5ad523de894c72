package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/forPelevin/clipper/internal/types"
)

// probeResult matches the subset of ffprobe JSON output we read.
type probeResult struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType    string `json:"codec_type"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		RFrameRate   string `json:"r_frame_rate"`
		AvgFrameRate string `json:"avg_frame_rate"`
		Duration     string `json:"duration"`
	} `json:"streams"`
}

func (a *Adapter) Probe(ctx context.Context, path string) (types.SourceMedia, error) {
	if path == "" {
		return types.SourceMedia{}, fmt.Errorf("ffprobe: path is required")
	}
	b, err := a.exec(ctx, a.ffprobe,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	if err != nil {
		return types.SourceMedia{}, fmt.Errorf("ffprobe: %w\n%s", err, string(b))
	}
	return parseProbe(path, b)
}

func parseProbe(path string, b []byte) (types.SourceMedia, error) {
	var pr probeResult
	if err := json.Unmarshal(b, &pr); err != nil {
		return types.SourceMedia{}, fmt.Errorf("parse ffprobe output: %w", err)
	}
	sm := types.SourceMedia{Location: path}
	sm.DurationSec, _ = strconv.ParseFloat(strings.TrimSpace(pr.Format.Duration), 64)

	hasVideo := false
	for _, s := range pr.Streams {
		switch s.CodecType {
		case "video":
			if hasVideo {
				continue
			}
			hasVideo = true
			sm.Width, sm.Height = s.Width, s.Height
			sm.FrameRate = parseFrameRate(s.AvgFrameRate)
			if sm.FrameRate == 0 {
				sm.FrameRate = parseFrameRate(s.RFrameRate)
			}
			if sm.DurationSec == 0 {
				sm.DurationSec, _ = strconv.ParseFloat(s.Duration, 64)
			}
		case "audio":
			sm.HasAudio = true
		}
	}
	if !hasVideo {
		return types.SourceMedia{}, fmt.Errorf("ffprobe: %s has no video stream", path)
	}
	if sm.DurationSec <= 0 {
		return types.SourceMedia{}, fmt.Errorf("ffprobe: %s has no usable duration", path)
	}
	return sm, nil
}

// parseFrameRate turns "30000/1001" or "25" into frames per second.
func parseFrameRate(s string) float64 {
	num, den, ok := strings.Cut(strings.TrimSpace(s), "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !ok {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}
