package ffmpeg

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"

	"github.com/rs/zerolog"
)

// Runner executes a binary and returns its combined output.
type Runner interface {
	CombinedOutput(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) CombinedOutput(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

type Adapter struct {
	ffmpeg  string
	ffprobe string
	run     Runner
	log     zerolog.Logger

	videoPreset string
	crf         int
}

type Option func(*Adapter)

func WithRunner(r Runner) Option {
	return func(a *Adapter) { a.run = r }
}

func WithLogger(l zerolog.Logger) Option {
	return func(a *Adapter) { a.log = l.With().Str("component", "ffmpeg").Logger() }
}

// WithEncoding sets the libx264 preset and CRF used for renders.
func WithEncoding(preset string, crf int) Option {
	return func(a *Adapter) {
		if preset != "" {
			a.videoPreset = preset
		}
		if crf > 0 {
			a.crf = crf
		}
	}
}

// New expects binaries already resolved by the toolchain locator.
func New(ffmpegPath, ffprobePath string, opts ...Option) *Adapter {
	a := &Adapter{
		ffmpeg:      ffmpegPath,
		ffprobe:     ffprobePath,
		run:         execRunner{},
		log:         zerolog.Nop(),
		videoPreset: "veryfast",
		crf:         18,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Adapter) ExtractAudioMono16k(ctx context.Context, inMP4, outWav string) error {
	b, err := a.exec(ctx, a.ffmpeg,
		"-y",
		"-i", inMP4,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-f", "wav",
		outWav,
	)
	if err != nil {
		return fmt.Errorf("ffmpeg extract audio: %w\n%s", err, string(b))
	}
	return nil
}

// ExtractFrame writes a single high quality JPEG frame taken at atSec.
func (a *Adapter) ExtractFrame(ctx context.Context, inMP4 string, atSec float64, outJPG string) error {
	b, err := a.exec(ctx, a.ffmpeg,
		"-y",
		"-ss", fmtSeconds(atSec),
		"-i", inMP4,
		"-frames:v", "1",
		"-q:v", "2",
		outJPG,
	)
	if err != nil {
		return fmt.Errorf("ffmpeg extract frame: %w\n%s", err, string(b))
	}
	return nil
}

func (a *Adapter) exec(ctx context.Context, bin string, args ...string) ([]byte, error) {
	a.log.Debug().Str("cmd", bin).Strs("args", args).Msg("exec")
	b, err := a.run.CombinedOutput(ctx, bin, args...)
	if err != nil && ctx.Err() != nil {
		return b, ctx.Err()
	}
	return b, err
}

func fmtSeconds(sec float64) string {
	if sec < 0 {
		sec = 0
	}
	return strconv.FormatFloat(sec, 'f', 3, 64)
}
