//go:build gocv

package cvscene

import (
	"fmt"

	"gocv.io/x/gocv"
)

func Available() bool { return true }

func frameDiff(a, b string) (float64, error) {
	m1 := gocv.IMRead(a, gocv.IMReadGrayScale)
	defer m1.Close()
	m2 := gocv.IMRead(b, gocv.IMReadGrayScale)
	defer m2.Close()
	if m1.Empty() || m2.Empty() {
		return 0, fmt.Errorf("cvscene: unreadable frame %s or %s", a, b)
	}
	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(m1, m2, &diff)
	return diff.Mean().Val1 / 255, nil
}
