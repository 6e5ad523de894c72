// Package metadata writes a title and thumbnail text for each selected clip.
package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/forPelevin/clipper/internal/types"
)

const (
	MaxTitleRunes     = 60
	MaxThumbnailRunes = 24
)

type Meta struct {
	Title         string `json:"title"`
	ThumbnailText string `json:"thumbnail_text"`
}

// Completer returns the JSON object a text model produced for a prompt.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

const systemPrompt = "You write packaging for short-form social video clips. " +
	"Return strictly valid JSON (no markdown, no code fences) shaped as " +
	`{"title":"<max 60 chars>","thumbnail_text":"<max 24 chars, punchy, no hashtags>"}. ` +
	"Write in the language of the transcript."

type reply struct {
	Title         *string `json:"title"`
	ThumbnailText *string `json:"thumbnail_text"`
}

type Generator struct {
	gen Completer
}

// New returns a generator. A nil gen always produces the fallback.
func New(gen Completer) *Generator {
	return &Generator{gen: gen}
}

// Generate always returns usable metadata. A non-nil error explains why the
// fallback was used instead of the model's answer.
func (g *Generator) Generate(ctx context.Context, sc types.ScoredChunk, n int) (Meta, error) {
	if g.gen == nil {
		return Fallback(sc.Text, n), errors.New("no text generator configured")
	}
	user := fmt.Sprintf("Clip transcript:\n%s", truncateRunes(sc.Text, 1500))
	if sc.Hook != "" {
		user += "\n\nSuggested hook: " + sc.Hook
	}
	raw, err := g.gen.Complete(ctx, systemPrompt, user)
	if err != nil {
		return Fallback(sc.Text, n), err
	}
	m, err := parse(raw)
	if err != nil {
		return Fallback(sc.Text, n), err
	}
	return m, nil
}

func parse(raw string) (Meta, error) {
	var r reply
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return Meta{}, fmt.Errorf("decode metadata reply: %w", err)
	}
	if r.Title == nil || strings.TrimSpace(*r.Title) == "" {
		return Meta{}, errors.New("metadata reply has no title")
	}
	m := Meta{Title: Shorten(*r.Title, MaxTitleRunes)}
	if r.ThumbnailText != nil {
		m.ThumbnailText = Shorten(*r.ThumbnailText, MaxThumbnailRunes)
	}
	return m, nil
}

// Fallback titles the clip with its first sentence, or "Clip n" when the
// clip has no transcript. Thumbnail text stays empty.
func Fallback(text string, n int) Meta {
	title := Shorten(firstSentence(text), MaxTitleRunes)
	if title == "" {
		title = fmt.Sprintf("Clip %d", n)
	}
	return Meta{Title: title}
}

func firstSentence(text string) string {
	t := strings.Join(strings.Fields(text), " ")
	r := []rune(t)
	for i, c := range r {
		if c != '.' && c != '!' && c != '?' {
			continue
		}
		if i == len(r)-1 || r[i+1] == ' ' {
			return string(r[:i+1])
		}
	}
	return t
}

// Shorten collapses whitespace and cuts s to at most n runes, preferring the
// last word boundary in the second half of the budget.
func Shorten(s string, n int) string {
	t := strings.Join(strings.Fields(s), " ")
	r := []rune(t)
	if len(r) <= n {
		return t
	}
	cut := n
	for i := n; i > n/2; i-- {
		if r[i] == ' ' {
			cut = i
			break
		}
	}
	return strings.TrimRightFunc(string(r[:cut]), func(c rune) bool {
		return unicode.IsSpace(c) || strings.ContainsRune(",;:-", c)
	})
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
