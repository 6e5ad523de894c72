// Package boundaries fuses scene cuts and silence spans into one ordered
// list of candidate cut points.
package boundaries

import (
	"sort"

	"github.com/forPelevin/clipper/internal/types"
)

// Merge returns deduplicated, time-ordered candidates strictly inside
// (0, durationSec). Candidates closer than window to the first member of
// their cluster collapse into one; a scene cut wins over silence edges.
func Merge(scenes []float64, silences []types.SilenceInterval, durationSec, window float64) []types.BoundaryCandidate {
	all := make([]types.BoundaryCandidate, 0, len(scenes)+2*len(silences))
	for _, ts := range scenes {
		all = append(all, types.BoundaryCandidate{TimestampSec: ts, Kind: types.BoundarySceneCut})
	}
	for _, s := range silences {
		all = append(all,
			types.BoundaryCandidate{TimestampSec: s.StartSec, Kind: types.BoundarySilenceStart},
			types.BoundaryCandidate{TimestampSec: s.EndSec, Kind: types.BoundarySilenceEnd},
		)
	}

	in := all[:0]
	for _, c := range all {
		if c.TimestampSec > 0 && c.TimestampSec < durationSec {
			in = append(in, c)
		}
	}
	sort.SliceStable(in, func(i, j int) bool {
		if in[i].TimestampSec != in[j].TimestampSec {
			return in[i].TimestampSec < in[j].TimestampSec
		}
		return priority(in[i].Kind) > priority(in[j].Kind)
	})

	var out []types.BoundaryCandidate
	clusterStart := 0.0
	for _, c := range in {
		if n := len(out); n > 0 && c.TimestampSec-clusterStart < window {
			if priority(c.Kind) > priority(out[n-1].Kind) {
				out[n-1] = c
			}
			continue
		}
		clusterStart = c.TimestampSec
		out = append(out, c)
	}
	return out
}

// Timestamps flattens candidates to their times.
func Timestamps(cs []types.BoundaryCandidate) []float64 {
	out := make([]float64, len(cs))
	for i, c := range cs {
		out[i] = c.TimestampSec
	}
	return out
}

// SceneCuts returns only the scene-cut times.
func SceneCuts(cs []types.BoundaryCandidate) []float64 {
	var out []float64
	for _, c := range cs {
		if c.Kind == types.BoundarySceneCut {
			out = append(out, c.TimestampSec)
		}
	}
	return out
}

func priority(k types.BoundaryKind) int {
	switch k {
	case types.BoundarySceneCut:
		return 2
	case types.BoundarySilenceEnd:
		return 1
	default:
		return 0
	}
}
