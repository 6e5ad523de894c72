package fsstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const refScheme = "fs://"

var ErrInvalidKey = errors.New("invalid key: path traversal detected")

// Store is an object store rooted at a local directory.
type Store struct {
	baseDir string
}

func New(baseDir string) (*Store, error) {
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve base directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &Store{baseDir: abs}, nil
}

// Put copies r to key and returns an fs:// reference. The object becomes
// visible only once fully written.
func (s *Store) Put(ctx context.Context, key string, r io.Reader, contentType string) (string, error) {
	path, err := within(s.baseDir, key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create object dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".put-*")
	if err != nil {
		return "", fmt.Errorf("create temp object: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, contextReader{ctx: ctx, r: r}); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write object %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close object %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("commit object %s: %w", key, err)
	}
	return refScheme + filepath.ToSlash(key), nil
}

// SignedURL returns a file:// URL. Local files carry no expiry, so ttl is
// not enforced.
func (s *Store) SignedURL(ctx context.Context, ref string, ttl time.Duration) (string, error) {
	key, ok := strings.CutPrefix(ref, refScheme)
	if !ok {
		return "", fmt.Errorf("not a filesystem ref: %q", ref)
	}
	path, err := within(s.baseDir, key)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("object %s: %w", key, err)
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(path)}).String(), nil
}

func within(base, key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("invalid key: empty")
	}
	path := filepath.Join(base, filepath.FromSlash(key))
	rel, err := filepath.Rel(base, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrInvalidKey
	}
	return path, nil
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
