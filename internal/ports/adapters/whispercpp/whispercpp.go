package whispercpp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/forPelevin/clipper/internal/types"
)

type Adapter struct {
	bin   string
	model string
}

func New(binPath, modelPath string) *Adapter {
	return &Adapter{bin: binPath, model: modelPath}
}

func (a *Adapter) Transcribe(ctx context.Context, wavPath, cacheDir string) (types.Transcript, error) {
	if a.bin == "" || a.model == "" {
		return types.Transcript{}, fmt.Errorf("whisper.cpp is not configured")
	}
	outPrefix := filepath.Join(cacheDir, "whisper")
	args := []string{
		"-m", a.model,
		"-f", wavPath,
		"-ojf",
		"-of", outPrefix,
	}
	cmd := exec.CommandContext(ctx, a.bin, args...)
	b, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return types.Transcript{}, ctx.Err()
		}
		return types.Transcript{}, fmt.Errorf("whisper.cpp failed: %w\n%s", err, string(b))
	}

	jb, err := os.ReadFile(outPrefix + ".json")
	if err != nil {
		return types.Transcript{}, fmt.Errorf("read whisper output: %w", err)
	}
	return parseOutput(jb)
}

type offsets struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
}

// output covers both the whisper.cpp full JSON layout and the plain
// segments layout some builds and wrappers emit.
type output struct {
	Transcription []struct {
		Offsets offsets `json:"offsets"`
		Text    string  `json:"text"`
		Tokens  []struct {
			Text    string  `json:"text"`
			Offsets offsets `json:"offsets"`
		} `json:"tokens"`
	} `json:"transcription"`
	Segments []types.Segment `json:"segments"`
}

func parseOutput(b []byte) (types.Transcript, error) {
	var raw output
	if err := json.Unmarshal(b, &raw); err != nil {
		return types.Transcript{}, fmt.Errorf("parse whisper output: %w", err)
	}

	var tr types.Transcript
	if len(raw.Transcription) == 0 {
		tr.Segments = raw.Segments
	}
	for _, s := range raw.Transcription {
		seg := types.Segment{
			Start: ms(s.Offsets.From),
			End:   ms(s.Offsets.To),
			Text:  s.Text,
		}
		for _, tok := range s.Tokens {
			if strings.HasPrefix(tok.Text, "[_") || strings.TrimSpace(tok.Text) == "" {
				continue
			}
			st, en := ms(tok.Offsets.From), ms(tok.Offsets.To)
			// A leading space marks the start of a new word; anything else
			// continues the previous one.
			if n := len(seg.Words); n > 0 && !strings.HasPrefix(tok.Text, " ") {
				seg.Words[n-1].Word += tok.Text
				seg.Words[n-1].End = max(seg.Words[n-1].End, en)
				continue
			}
			seg.Words = append(seg.Words, types.Word{Start: st, End: en, Word: tok.Text})
		}
		tr.Segments = append(tr.Segments, seg)
	}

	for i := range tr.Segments {
		tr.Segments[i].Text = strings.TrimSpace(tr.Segments[i].Text)
		for j := range tr.Segments[i].Words {
			tr.Segments[i].Words[j].Word = strings.TrimSpace(tr.Segments[i].Words[j].Word)
		}
	}
	return tr, nil
}

func ms(v int64) float64 { return float64(v) / 1000 }
