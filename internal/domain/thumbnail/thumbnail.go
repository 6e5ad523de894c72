// Package thumbnail turns a grabbed video frame into a cover image shaped
// like the clip it belongs to.
package thumbnail

import (
	"fmt"
	"io"
	"math"
	"os"

	"github.com/disintegration/imaging"
)

// Size returns the thumbnail dimensions for a width x height output with the
// long side scaled to longSide. Both results are even and at least 2.
func Size(width, height, longSide int) (int, int) {
	if width <= 0 || height <= 0 || longSide <= 0 {
		return 0, 0
	}
	long := max(width, height)
	scale := float64(longSide) / float64(long)
	even := func(v int) int {
		n := int(math.Round(float64(v)*scale/2)) * 2
		return max(n, 2)
	}
	return even(width), even(height)
}

// Compose center-crops src to fill w x h and writes it as JPEG.
func Compose(src io.Reader, dst io.Writer, w, h int) error {
	if w <= 0 || h <= 0 {
		return fmt.Errorf("invalid thumbnail size %dx%d", w, h)
	}
	img, err := imaging.Decode(src, imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}
	out := imaging.Fill(img, w, h, imaging.Center, imaging.Lanczos)
	if err := imaging.Encode(dst, out, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return fmt.Errorf("encode thumbnail: %w", err)
	}
	return nil
}

// ComposeFile is Compose over files.
func ComposeFile(srcPath, dstPath string, w, h int) error {
	in, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("open frame: %w", err)
	}
	defer in.Close()
	out, err := os.Create(dstPath)
	if err != nil {
		return fmt.Errorf("create thumbnail: %w", err)
	}
	if err := Compose(in, out, w, h); err != nil {
		out.Close()
		os.Remove(dstPath)
		return err
	}
	return out.Close()
}
