package ports

import (
	"context"
	"io"
	"time"

	"github.com/forPelevin/clipper/internal/types"
)

// SourceReader resolves a source reference to a locally readable file.
type SourceReader interface {
	Resolve(ctx context.Context, ref, workDir string) (string, error)
}

type Prober interface {
	Probe(ctx context.Context, path string) (types.SourceMedia, error)
}

type SceneDetector interface {
	DetectScenes(ctx context.Context, path string, threshold float64) ([]float64, error)
}

type SilenceDetector interface {
	DetectSilence(ctx context.Context, path string, noiseDB, minSec float64) ([]types.SilenceInterval, error)
}

type VideoTool interface {
	ExtractAudioMono16k(ctx context.Context, inMP4, outWav string) error
	RenderClip(ctx context.Context, req types.RenderRequest) error
	ExtractFrame(ctx context.Context, inMP4 string, atSec float64, outJPG string) error
}

type ASR interface {
	Transcribe(ctx context.Context, wavPath, cacheDir string) (types.Transcript, error)
}

// TextGenerator returns the JSON object the model produced for the prompt.
type TextGenerator interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, contentType string) (string, error)
	SignedURL(ctx context.Context, ref string, ttl time.Duration) (string, error)
}

// Reporter receives a job's progress. Implementations must be safe for
// concurrent use: outputs are reported from render and publish workers.
type Reporter interface {
	Transition(status types.JobStatus) error
	SetSource(media types.SourceMedia)
	// Degrade records a non-fatal problem against the job.
	Degrade(note string)
	// PutOutput adds an output or replaces the one with the same Index.
	PutOutput(o types.RenderedOutput)
}
