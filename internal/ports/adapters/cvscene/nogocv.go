//go:build !gocv

package cvscene

func Available() bool { return false }

func frameDiff(_, _ string) (float64, error) { return 0, ErrUnavailable }
