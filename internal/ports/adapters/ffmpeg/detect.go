package ffmpeg

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/forPelevin/clipper/internal/types"
)

// DetectScenes returns timestamps where the frame-to-frame scene score
// exceeds threshold.
func (a *Adapter) DetectScenes(ctx context.Context, path string, threshold float64) ([]float64, error) {
	b, err := a.exec(ctx, a.ffmpeg,
		"-hide_banner",
		"-i", path,
		"-an",
		"-vf", fmt.Sprintf("select='gt(scene,%f)',showinfo", threshold),
		"-f", "null",
		"-",
	)
	if err != nil && !tolerableNullOutput(ctx, b) {
		return nil, fmt.Errorf("ffmpeg scene detection: %w\n%s", err, tail(b, 2000))
	}
	return parseSceneOutput(string(b)), nil
}

// DetectSilence returns spans where audio stays below noiseDB for at least
// minSec.
func (a *Adapter) DetectSilence(ctx context.Context, path string, noiseDB, minSec float64) ([]types.SilenceInterval, error) {
	b, err := a.exec(ctx, a.ffmpeg,
		"-hide_banner",
		"-i", path,
		"-vn",
		"-af", fmt.Sprintf("silencedetect=noise=%.2fdB:d=%.3f", noiseDB, minSec),
		"-f", "null",
		"-",
	)
	if err != nil && !tolerableNullOutput(ctx, b) {
		return nil, fmt.Errorf("ffmpeg silence detection: %w\n%s", err, tail(b, 2000))
	}
	return parseSilenceOutput(string(b)), nil
}

// A null-muxer run with nothing selected exits non-zero on some builds.
func tolerableNullOutput(ctx context.Context, out []byte) bool {
	if ctx.Err() != nil {
		return false
	}
	s := string(out)
	return strings.Contains(s, "Conversion failed") ||
		strings.Contains(s, "Invalid return value") ||
		strings.Contains(s, "Output file is empty")
}

func parseSceneOutput(output string) []float64 {
	var scenes []float64
	for _, line := range strings.Split(output, "\n") {
		_, rest, ok := strings.Cut(line, "pts_time:")
		if !ok {
			continue
		}
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			continue
		}
		if sec, err := strconv.ParseFloat(fields[0], 64); err == nil {
			scenes = append(scenes, sec)
		}
	}
	sort.Float64s(scenes)
	return scenes
}

func parseSilenceOutput(output string) []types.SilenceInterval {
	var out []types.SilenceInterval
	var start float64
	open := false
	for _, line := range strings.Split(output, "\n") {
		if _, rest, ok := strings.Cut(line, "silence_start:"); ok {
			fields := strings.Fields(rest)
			if len(fields) > 0 {
				if v, err := strconv.ParseFloat(fields[0], 64); err == nil {
					start = max(v, 0)
					open = true
				}
			}
			continue
		}
		if _, rest, ok := strings.Cut(line, "silence_end:"); ok && open {
			fields := strings.Fields(rest)
			if len(fields) == 0 {
				continue
			}
			end, err := strconv.ParseFloat(fields[0], 64)
			if err != nil {
				continue
			}
			out = append(out, types.SilenceInterval{StartSec: start, EndSec: end})
			open = false
		}
	}
	return out
}

func tail(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[len(b)-n:])
}
