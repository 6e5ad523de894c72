package ffmpeg

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// SampleFrames writes small JPEG frames at a fixed rate into outDir and
// returns their paths in presentation order. Frame i sits at i/fps seconds.
func (a *Adapter) SampleFrames(ctx context.Context, in string, fps float64, width, height int, outDir string) ([]string, error) {
	if fps <= 0 {
		return nil, fmt.Errorf("invalid sample rate %v", fps)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, err
	}
	b, err := a.exec(ctx, a.ffmpeg,
		"-y",
		"-hide_banner",
		"-i", in,
		"-an",
		"-vf", fmt.Sprintf("fps=%g,scale=%d:%d", fps, width, height),
		"-q:v", "5",
		filepath.Join(outDir, "f%06d.jpg"),
	)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg sample frames: %w\n%s", err, tail(b, 2000))
	}
	frames, err := filepath.Glob(filepath.Join(outDir, "f*.jpg"))
	if err != nil {
		return nil, err
	}
	sort.Strings(frames)
	return frames, nil
}
