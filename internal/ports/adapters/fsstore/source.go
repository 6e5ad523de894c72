package fsstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Sources resolves source references to local files. With a root set, refs
// are keys under it; otherwise refs are plain or file:// paths.
type Sources struct {
	root string
}

func NewSources(root string) *Sources {
	return &Sources{root: root}
}

func (s *Sources) Resolve(ctx context.Context, ref, workDir string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p := strings.TrimPrefix(strings.TrimSpace(ref), "file://")
	if p == "" {
		return "", fmt.Errorf("source ref is empty")
	}
	if s.root != "" {
		var err error
		p, err = within(s.root, p)
		if err != nil {
			return "", err
		}
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("resolve source %q: %w", ref, err)
	}
	fi, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("stat source: %w", err)
	}
	if !fi.Mode().IsRegular() {
		return "", fmt.Errorf("source %q is not a regular file", ref)
	}
	return abs, nil
}
