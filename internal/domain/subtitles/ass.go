package subtitles

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/forPelevin/clipper/internal/types"
)

// Style sizes the caption track for one output frame.
type Style struct {
	PlayResX int
	PlayResY int
	FontSize int
	Outline  int
	MarginH  int
	MarginV  int
	// Line budgets.
	MaxChars int
	MaxWords int
}

// StyleFor scales the base 1080p style to a width x height frame. Portrait
// frames get shorter lines and captions lifted clear of the platform UI.
func StyleFor(width, height int) Style {
	scale := float64(min(width, height)) / 1080
	px := func(v float64) int { return max(1, int(math.Round(v*scale))) }
	st := Style{
		PlayResX: width,
		PlayResY: height,
		FontSize: px(78),
		Outline:  px(6),
		MarginH:  px(80),
		MarginV:  px(85),
		MaxChars: 42,
		MaxWords: 9,
	}
	switch {
	case height > width:
		st.MaxChars, st.MaxWords = 24, 6
		st.MarginV = int(math.Round(float64(height) * 0.18))
	case height == width:
		st.MaxChars, st.MaxWords = 30, 7
	}
	return st
}

// RenderKaraokeASS builds an ASS document for the clip [start, end] from
// timed words, with per-word karaoke highlighting. It reports false when no
// word falls inside the clip.
func RenderKaraokeASS(words []types.Word, start, end float64, st Style) (string, bool) {
	ws := collectWords(words, dur(start), dur(end))
	if len(ws) == 0 {
		return "", false
	}
	return renderASSKaraoke(packWords(ws, st.MaxChars, st.MaxWords), st), true
}

type wword struct {
	Start time.Duration
	End   time.Duration
	Text  string
}

type line struct {
	Start time.Duration
	End   time.Duration
	Words []wword
}

func collectWords(words []types.Word, start, end time.Duration) []wword {
	var out []wword
	for _, w := range words {
		ws := dur(w.Start)
		we := dur(w.End)
		if we <= start || ws >= end {
			continue
		}
		text := strings.TrimSpace(w.Word)
		if text == "" {
			continue
		}
		ws = max(ws, start)
		we = min(we, end)
		// Cue times are clip-local: each render burns its own file.
		out = append(out, wword{Start: ws - start, End: we - start, Text: sanitizeASS(text)})
	}
	return out
}

func packWords(words []wword, charBudget, wordBudget int) []line {
	var out []line
	cur := line{Start: words[0].Start}
	curLen := 0
	for i, w := range words {
		wl := len([]rune(w.Text))
		nextLen := curLen
		if curLen > 0 {
			nextLen++
		}
		nextLen += wl
		if len(cur.Words) > 0 && (len(cur.Words) >= wordBudget || nextLen > charBudget) {
			cur.End = cur.Words[len(cur.Words)-1].End
			out = append(out, cur)
			cur = line{Start: w.Start}
			curLen = 0
		}
		cur.Words = append(cur.Words, w)
		if curLen > 0 {
			curLen++
		}
		curLen += wl
		if i == len(words)-1 {
			cur.End = w.End
			out = append(out, cur)
		}
	}
	return out
}

func renderASSKaraoke(lines []line, st Style) string {
	var b strings.Builder
	b.WriteString(assHeader(st))
	b.WriteString("\n[Events]\n")
	b.WriteString("Format: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text\n")
	for _, ln := range lines {
		b.WriteString("Dialogue: 0,")
		b.WriteString(assTime(ln.Start))
		b.WriteString(",")
		b.WriteString(assTime(ln.End))
		b.WriteString(",Clip,,0,0,0,,")
		for i, w := range ln.Words {
			durCS := max(int((w.End-w.Start)/(10*time.Millisecond)), 1)
			if i > 0 {
				b.WriteString(" ")
			}
			fmt.Fprintf(&b, "{\\k%d}%s", durCS, w.Text)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func assHeader(st Style) string {
	return fmt.Sprintf(strings.TrimSpace(`
[Script Info]
ScriptType: v4.00+
PlayResX: %d
PlayResY: %d
ScaledBorderAndShadow: yes

[V4+ Styles]
Format: Name, Fontname, Fontsize, PrimaryColour, SecondaryColour, OutlineColour, BackColour, Bold, Italic, Underline, StrikeOut, ScaleX, ScaleY, Spacing, Angle, BorderStyle, Outline, Shadow, Alignment, MarginL, MarginR, MarginV, Encoding
Style: Clip, Inter, %d, &H00FFFFFF, &H00FFD200, &H00000000, &H64000000, 1,0,0,0,100,100,0,0,1,%d,2,2, %d,%d,%d,1
`), st.PlayResX, st.PlayResY, st.FontSize, st.Outline, st.MarginH, st.MarginH, st.MarginV)
}

func assTime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	hs := int(d / time.Hour)
	d -= time.Duration(hs) * time.Hour
	ms := int(d / time.Minute)
	d -= time.Duration(ms) * time.Minute
	s := int(d / time.Second)
	d -= time.Duration(s) * time.Second
	cs := int(d / (10 * time.Millisecond))
	return fmt.Sprintf("%d:%02d:%02d.%02d", hs, ms, s, cs)
}

func sanitizeASS(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "{", "(")
	s = strings.ReplaceAll(s, "}", ")")
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.TrimSpace(s)
}

func dur(sec float64) time.Duration { return time.Duration(math.Round(sec * float64(time.Second))) }
