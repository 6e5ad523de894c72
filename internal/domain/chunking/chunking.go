// Package chunking cuts a transcript into duration-bounded, non-overlapping
// candidate segments.
package chunking

import (
	"math"
	"sort"
	"strings"

	"github.com/forPelevin/clipper/internal/types"
)

type Params struct {
	MinSec      float64
	MaxSec      float64
	DurationSec float64
}

// Words flattens the transcript into ordered, non-overlapping timed words.
// A segment without word timings contributes one word spanning the segment.
func Words(tr types.Transcript) []types.Word {
	var out []types.Word
	for _, s := range tr.Segments {
		if len(s.Words) == 0 {
			if text := strings.TrimSpace(s.Text); text != "" && s.End > s.Start {
				out = append(out, types.Word{Start: s.Start, End: s.End, Word: text})
			}
			continue
		}
		for _, w := range s.Words {
			text := strings.TrimSpace(w.Word)
			if text == "" || w.End <= w.Start {
				continue
			}
			out = append(out, types.Word{Start: w.Start, End: w.End, Word: text})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })

	// ASR word timings occasionally overlap by a few milliseconds.
	norm := out[:0]
	for _, w := range out {
		if n := len(norm); n > 0 && w.Start < norm[n-1].End {
			w.Start = norm[n-1].End
		}
		if w.End <= w.Start {
			continue
		}
		norm = append(norm, w)
	}
	return norm
}

// Build walks words in order. A chunk opens at its first word, closes at the
// first boundary inside [start+min, start+max] that does not split a word,
// and otherwise at the latest word edge in that window. Boundaries must be
// sorted.
func Build(words []types.Word, boundaries []float64, p Params) []types.Chunk {
	if p.MinSec <= 0 || p.MaxSec < p.MinSec {
		return nil
	}
	var out []types.Chunk
	i := 0
	for i < len(words) {
		start := words[i].Start
		if p.DurationSec-start < p.MinSec {
			break
		}
		lo := start + p.MinSec
		hi := min(start+p.MaxSec, p.DurationSec)

		end, ok := firstBoundary(words[i:], boundaries, lo, hi)
		if !ok {
			end = lastWordEdge(words[i:], lo, hi)
		}

		chunk := types.Chunk{ID: len(out), StartSec: start, EndSec: end}
		var parts []string
		j := i
		for ; j < len(words) && words[j].Start < end; j++ {
			if words[j].End <= end {
				chunk.Words = append(chunk.Words, words[j])
				parts = append(parts, words[j].Word)
			}
		}
		chunk.Text = strings.Join(parts, " ")
		out = append(out, chunk)
		i = j
	}
	return out
}

func firstBoundary(words []types.Word, boundaries []float64, lo, hi float64) (float64, bool) {
	k := sort.SearchFloat64s(boundaries, lo)
	for ; k < len(boundaries) && boundaries[k] <= hi; k++ {
		if !splitsWord(words, boundaries[k]) {
			return boundaries[k], true
		}
	}
	return 0, false
}

func splitsWord(words []types.Word, t float64) bool {
	for _, w := range words {
		if w.Start >= t {
			return false
		}
		if t < w.End {
			return true
		}
	}
	return false
}

// lastWordEdge returns the latest word start or end inside [lo, hi], or hi
// when the window holds none.
func lastWordEdge(words []types.Word, lo, hi float64) float64 {
	best := hi
	found := false
	for _, w := range words {
		if w.Start > hi {
			break
		}
		for _, e := range [2]float64{w.Start, w.End} {
			if e >= lo && e <= hi {
				best, found = e, true
			}
		}
	}
	if !found {
		return hi
	}
	return best
}

// Tile covers [0, durationSec] with equal back-to-back windows as close to
// (min+max)/2 as the bounds allow. It is used when no transcript is
// available.
func Tile(p Params) []types.Chunk {
	d := p.DurationSec
	if p.MinSec <= 0 || p.MaxSec < p.MinSec || d < p.MinSec {
		return nil
	}
	target := (p.MinSec + p.MaxSec) / 2
	lo := int(math.Ceil(d / p.MaxSec))
	hi := int(math.Floor(d / p.MinSec))

	var n int
	var width float64
	if lo <= hi {
		n = min(max(int(math.Round(d/target)), lo), hi)
		width = d / float64(n)
	} else {
		n = int(math.Floor(d / target))
		width = target
	}

	out := make([]types.Chunk, 0, n)
	for k := 0; k < n; k++ {
		end := float64(k+1) * width
		if k == n-1 && lo <= hi {
			end = d
		}
		out = append(out, types.Chunk{ID: k, StartSec: float64(k) * width, EndSec: end})
	}
	return out
}
