package toolchain

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

var (
	// ErrEncoderNotFound is returned at startup when ffmpeg or ffprobe cannot
	// be resolved to a working binary.
	ErrEncoderNotFound = errors.New("no usable media encoder found")
)

// Toolchain is the set of resolved binaries. Whisper is empty when speech to
// text is not installed.
type Toolchain struct {
	FFmpeg       string
	FFprobe      string
	Whisper      string
	WhisperModel string
}

// Paths are explicit binary locations; empty entries are looked up on PATH.
type Paths struct {
	FFmpeg       string
	FFprobe      string
	Whisper      string
	WhisperModel string
}

// Locator resolves the toolchain once at process start.
type Locator struct {
	lookPath func(string) (string, error)
	verify   func(ctx context.Context, bin string) error
	stat     func(string) (os.FileInfo, error)
}

type Option func(*Locator)

func WithLookPath(fn func(string) (string, error)) Option {
	return func(l *Locator) { l.lookPath = fn }
}

// WithVerifier replaces the `-version` probe run against each encoder binary.
func WithVerifier(fn func(ctx context.Context, bin string) error) Option {
	return func(l *Locator) { l.verify = fn }
}

func WithStat(fn func(string) (os.FileInfo, error)) Option {
	return func(l *Locator) { l.stat = fn }
}

func NewLocator(opts ...Option) *Locator {
	l := &Locator{
		lookPath: exec.LookPath,
		verify:   runVersion,
		stat:     os.Stat,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Locate resolves ffmpeg and ffprobe (required) and whisper.cpp (optional).
// Whisper also needs its model file; without one it is reported absent.
func (l *Locator) Locate(ctx context.Context, p Paths) (Toolchain, error) {
	var tc Toolchain
	var err error

	tc.FFmpeg, err = l.resolve(p.FFmpeg, "ffmpeg")
	if err != nil {
		return Toolchain{}, fmt.Errorf("%w: %v", ErrEncoderNotFound, err)
	}
	if err := l.verify(ctx, tc.FFmpeg); err != nil {
		return Toolchain{}, fmt.Errorf("%w: %v", ErrEncoderNotFound, err)
	}
	tc.FFprobe, err = l.resolve(p.FFprobe, "ffprobe")
	if err != nil {
		return Toolchain{}, fmt.Errorf("%w: %v", ErrEncoderNotFound, err)
	}
	if err := l.verify(ctx, tc.FFprobe); err != nil {
		return Toolchain{}, fmt.Errorf("%w: %v", ErrEncoderNotFound, err)
	}

	if w, err := l.resolve(p.Whisper, "whisper-cli"); err == nil && p.WhisperModel != "" {
		if _, serr := l.stat(p.WhisperModel); serr == nil {
			tc.Whisper = w
			tc.WhisperModel = p.WhisperModel
		}
	}
	return tc, nil
}

// resolve uses the explicit path when given, PATH lookup of name otherwise.
func (l *Locator) resolve(explicit, name string) (string, error) {
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		if strings.ContainsRune(explicit, os.PathSeparator) {
			fi, err := l.stat(explicit)
			if err != nil {
				return "", fmt.Errorf("%s at %s: %w", name, explicit, err)
			}
			if fi.IsDir() {
				return "", fmt.Errorf("%s at %s is a directory", name, explicit)
			}
			return explicit, nil
		}
		name = explicit
	}
	p, err := l.lookPath(name)
	if err != nil {
		return "", fmt.Errorf("%s not found in PATH: %w", name, err)
	}
	return p, nil
}

func runVersion(ctx context.Context, bin string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	b, err := exec.CommandContext(ctx, bin, "-version").CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s -version: %w\n%s", bin, err, string(b))
	}
	return nil
}
