package highlights

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/forPelevin/clipper/internal/types"
)

// Completer returns the JSON object a text model produced for a prompt.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

const rerankSystem = "You select the best moments of a long video for short-form social clips. " +
	"Return strictly valid JSON (no markdown, no code fences) shaped as " +
	`{"picks":[{"id":<candidate id>,"hook":"<one line opener, max 100 chars>"}]}. ` +
	"Pick at most maxClips candidates, best first, using only ids from the list. " +
	"Prefer moments that open strongly and end on a complete thought."

type promptCandidate struct {
	ID       int     `json:"id"`
	StartSec float64 `json:"start_sec"`
	EndSec   float64 `json:"end_sec"`
	Text     string  `json:"text"`
	Score    float64 `json:"score"`
}

// rerankReply mirrors the expected model output. Pointer fields tell a
// missing field apart from a zero value.
type rerankReply struct {
	Picks []*struct {
		ID   *int    `json:"id"`
		Hook *string `json:"hook"`
	} `json:"picks"`
}

// Rerank picks at most maxClips chunks from scored, which must be ordered
// best first. The top factor*maxClips candidates go to gen; ids it returns
// that were not sent, repeat, or are missing are discarded. When gen is
// nil, fails, or yields fewer valid ids than the selection needs, the
// heuristic order is used and the returned error wraps
// types.ErrRerankUnavailable. The selection is valid in every case.
func Rerank(ctx context.Context, gen Completer, scored []types.ScoredChunk, maxClips, factor int) ([]types.ScoredChunk, error) {
	if maxClips <= 0 || len(scored) == 0 {
		return nil, nil
	}
	if factor <= 0 {
		factor = 1
	}
	k := min(factor*maxClips, len(scored))
	top := scored[:k]
	want := min(maxClips, k)

	if gen == nil {
		return heuristic(top, want), fmt.Errorf("%w: no text generator configured", types.ErrRerankUnavailable)
	}

	picks, err := askModel(ctx, gen, top, maxClips)
	if err != nil {
		return heuristic(top, want), fmt.Errorf("%w: %v", types.ErrRerankUnavailable, err)
	}
	if len(picks) < want {
		return heuristic(top, want), fmt.Errorf("%w: too few valid ids (%d of %d)", types.ErrRerankUnavailable, len(picks), want)
	}

	byID := make(map[int]types.ScoredChunk, len(top))
	for _, sc := range top {
		byID[sc.ID] = sc
	}
	out := make([]types.ScoredChunk, want)
	for i, p := range picks[:want] {
		sc := byID[p.id]
		sc.Hook = p.hook
		sc.Rank = i + 1
		out[i] = sc
	}
	return out, nil
}

type pick struct {
	id   int
	hook string
}

func askModel(ctx context.Context, gen Completer, top []types.ScoredChunk, maxClips int) ([]pick, error) {
	cands := make([]promptCandidate, len(top))
	for i, sc := range top {
		cands[i] = promptCandidate{
			ID:       sc.ID,
			StartSec: sc.StartSec,
			EndSec:   sc.EndSec,
			Text:     truncateRunes(sc.Text, 600),
			Score:    sc.Score,
		}
	}
	pb, err := json.Marshal(map[string]any{"maxClips": maxClips, "candidates": cands})
	if err != nil {
		return nil, fmt.Errorf("marshal prompt: %w", err)
	}
	raw, err := gen.Complete(ctx, rerankSystem, "Candidates JSON:\n"+string(pb))
	if err != nil {
		return nil, err
	}
	return parseRerank(raw, top)
}

// parseRerank keeps the picks whose id was sent, in reply order, without
// repeats.
func parseRerank(raw string, sent []types.ScoredChunk) ([]pick, error) {
	var reply rerankReply
	if err := json.Unmarshal([]byte(raw), &reply); err != nil {
		return nil, fmt.Errorf("decode rerank reply: %w", err)
	}
	if reply.Picks == nil {
		return nil, errors.New("rerank reply has no picks field")
	}
	known := make(map[int]bool, len(sent))
	for _, sc := range sent {
		known[sc.ID] = true
	}
	seen := map[int]bool{}
	var out []pick
	for _, p := range reply.Picks {
		if p == nil || p.ID == nil {
			continue
		}
		id := *p.ID
		if !known[id] || seen[id] {
			continue
		}
		seen[id] = true
		var hook string
		if p.Hook != nil {
			hook = truncateRunes(strings.TrimSpace(*p.Hook), 100)
		}
		out = append(out, pick{id: id, hook: hook})
	}
	return out, nil
}

func heuristic(top []types.ScoredChunk, n int) []types.ScoredChunk {
	out := make([]types.ScoredChunk, n)
	copy(out, top[:n])
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
