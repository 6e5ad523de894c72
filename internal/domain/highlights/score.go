package highlights

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/forPelevin/clipper/internal/types"
)

var reNum = regexp.MustCompile(`\b\d+(?:[\.,]\d+)?\b`)

type Weights struct {
	Salience  float64
	Alignment float64
	Pacing    float64
}

type ScorerConfig struct {
	Weights Weights
	// Lexicon terms match case-insensitively on word boundaries; spaces
	// inside a term match any run of whitespace.
	Lexicon        []string
	CountNumbers   bool
	CountQuestions bool
	// Saturation is the hits-per-word density that maps to salience 1.
	Saturation        float64
	AlignToleranceSec float64
	PauseSec          float64
}

// Scorer rates chunks with a weighted sum of [0,1] sub-scores:
// score = ws*salience + wa*alignment - wp*pacing.
type Scorer struct {
	cfg     ScorerConfig
	lexicon *regexp.Regexp
}

func NewScorer(cfg ScorerConfig) (*Scorer, error) {
	if cfg.Saturation <= 0 {
		return nil, fmt.Errorf("salience saturation must be > 0, got %v", cfg.Saturation)
	}
	s := &Scorer{cfg: cfg}
	var alts []string
	for _, term := range cfg.Lexicon {
		fields := strings.Fields(strings.ToLower(term))
		if len(fields) == 0 {
			continue
		}
		for i, f := range fields {
			fields[i] = regexp.QuoteMeta(f)
		}
		alts = append(alts, strings.Join(fields, `\s+`))
	}
	if len(alts) > 0 {
		re, err := regexp.Compile(`(?i)\b(?:` + strings.Join(alts, "|") + `)\b`)
		if err != nil {
			return nil, fmt.Errorf("compile lexicon: %w", err)
		}
		s.lexicon = re
	}
	return s, nil
}

func (s *Scorer) Score(c types.Chunk, sceneCuts []float64, silences []types.SilenceInterval) types.ScoredChunk {
	sub := types.SubScores{
		Salience:  s.salience(c),
		Alignment: s.alignment(c, sceneCuts),
		Pacing:    s.pacing(c, silences),
	}
	w := s.cfg.Weights
	return types.ScoredChunk{
		Chunk:     c,
		SubScores: sub,
		Score:     w.Salience*sub.Salience + w.Alignment*sub.Alignment - w.Pacing*sub.Pacing,
	}
}

// ScoreAll returns chunks ordered best first. Ties keep timeline order.
func (s *Scorer) ScoreAll(chunks []types.Chunk, sceneCuts []float64, silences []types.SilenceInterval) []types.ScoredChunk {
	out := make([]types.ScoredChunk, len(chunks))
	for i, c := range chunks {
		out[i] = s.Score(c, sceneCuts, silences)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].StartSec < out[j].StartSec
	})
	return out
}

func (s *Scorer) salience(c types.Chunk) float64 {
	t := strings.TrimSpace(c.Text)
	if t == "" {
		return 0
	}
	words := len(strings.Fields(t))
	hits := 0
	if s.lexicon != nil {
		hits += len(s.lexicon.FindAllStringIndex(t, -1))
	}
	if s.cfg.CountNumbers {
		hits += len(reNum.FindAllStringIndex(t, -1))
	}
	if s.cfg.CountQuestions {
		hits += strings.Count(t, "?")
	}
	return clamp(float64(hits)/float64(words)/s.cfg.Saturation, 0, 1)
}

// alignment is the share of the two edges that sit on a scene cut.
func (s *Scorer) alignment(c types.Chunk, sceneCuts []float64) float64 {
	var v float64
	for _, edge := range [2]float64{c.StartSec, c.EndSec} {
		for _, cut := range sceneCuts {
			if abs(cut-edge) <= s.cfg.AlignToleranceSec {
				v += 0.5
				break
			}
		}
	}
	return v
}

// pacing is the share of the chunk spent in interior pauses longer than
// PauseSec. Word gaps are used when present, detected silence otherwise.
func (s *Scorer) pacing(c types.Chunk, silences []types.SilenceInterval) float64 {
	d := c.DurationSec()
	if d <= 0 {
		return 0
	}
	var idle float64
	if len(c.Words) > 1 {
		for i := 1; i < len(c.Words); i++ {
			if gap := c.Words[i].Start - c.Words[i-1].End; gap > s.cfg.PauseSec {
				idle += gap
			}
		}
	} else {
		for _, si := range silences {
			lo, hi := max(si.StartSec, c.StartSec), min(si.EndSec, c.EndSec)
			if hi-lo > s.cfg.PauseSec {
				idle += hi - lo
			}
		}
	}
	return clamp(idle/d, 0, 1)
}

func clamp(x, a, b float64) float64 {
	if x < a {
		return a
	}
	if x > b {
		return b
	}
	return x
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
