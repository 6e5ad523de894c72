// Package cvscene detects hard cuts by differencing sampled frames with
// OpenCV. The OpenCV part only builds with the gocv tag; without it the
// detector reports itself unavailable and callers fall back to ffmpeg.
package cvscene

import (
	"context"
	"errors"
	"os"
	"path/filepath"
)

var ErrUnavailable = errors.New("cvscene: built without gocv support")

// FrameSampler extracts downscaled frames at a fixed rate.
type FrameSampler interface {
	SampleFrames(ctx context.Context, in string, fps float64, width, height int, outDir string) ([]string, error)
}

type Detector struct {
	frames  FrameSampler
	fps     float64
	workDir string
	diff    func(a, b string) (float64, error)
}

// New returns a detector sampling at fps frames per second. Frames are
// written under workDir and removed afterwards.
func New(frames FrameSampler, fps float64, workDir string) *Detector {
	if fps <= 0 {
		fps = 2
	}
	return &Detector{frames: frames, fps: fps, workDir: workDir, diff: frameDiff}
}

// DetectScenes returns the timestamps of frames whose mean absolute
// difference from the previous frame, scaled to [0,1], exceeds threshold.
func (d *Detector) DetectScenes(ctx context.Context, path string, threshold float64) ([]float64, error) {
	if !Available() {
		return nil, ErrUnavailable
	}
	dir, err := os.MkdirTemp(d.workDir, "frames-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	frames, err := d.frames.SampleFrames(ctx, path, d.fps, 160, 90, filepath.Join(dir, "f"))
	if err != nil {
		return nil, err
	}
	scores := make([]float64, 0, len(frames))
	for i := 1; i < len(frames); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s, err := d.diff(frames[i-1], frames[i])
		if err != nil {
			return nil, err
		}
		scores = append(scores, s)
	}
	return cuts(scores, d.fps, threshold), nil
}

// cuts maps the score between frames i and i+1 to the timestamp of frame
// i+1.
func cuts(scores []float64, fps, threshold float64) []float64 {
	var out []float64
	for i, s := range scores {
		if s > threshold {
			out = append(out, float64(i+1)/fps)
		}
	}
	return out
}
