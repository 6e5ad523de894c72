package cvscene

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

type fakeSampler struct {
	n int
}

func (f fakeSampler) SampleFrames(_ context.Context, _ string, _ float64, _, _ int, outDir string) ([]string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, err
	}
	var out []string
	for i := 0; i < f.n; i++ {
		p := filepath.Join(outDir, string(rune('a'+i))+".jpg")
		if err := os.WriteFile(p, []byte{byte(i)}, 0o644); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func TestCuts(t *testing.T) {
	got := cuts([]float64{0.01, 0.6, 0.02, 0.41, 0.4}, 2, 0.4)
	want := []float64{1, 2}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("cuts = %v, want %v", got, want)
	}
}

func TestDetectScenes_WithStubbedDiff(t *testing.T) {
	if !Available() {
		t.Skip("built without gocv")
	}
	d := New(fakeSampler{n: 4}, 2, t.TempDir())
	scores := map[string]float64{"a.jpg>b.jpg": 0.1, "b.jpg>c.jpg": 0.9, "c.jpg>d.jpg": 0.2}
	d.diff = func(a, b string) (float64, error) {
		return scores[filepath.Base(a)+">"+filepath.Base(b)], nil
	}
	got, err := d.DetectScenes(context.Background(), "in.mp4", 0.4)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if !reflect.DeepEqual(got, []float64{1}) {
		t.Fatalf("got %v", got)
	}
}

func TestDetectScenes_Unavailable(t *testing.T) {
	if Available() {
		t.Skip("built with gocv")
	}
	d := New(fakeSampler{n: 2}, 2, t.TempDir())
	if _, err := d.DetectScenes(context.Background(), "in.mp4", 0.4); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
