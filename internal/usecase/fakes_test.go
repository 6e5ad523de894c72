package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/forPelevin/clipper/internal/domain/highlights"
	"github.com/forPelevin/clipper/internal/types"
)

type fakeSources struct {
	err error
}

func (f fakeSources) Resolve(_ context.Context, ref, _ string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return ref, nil
}

// fakeMedia stands in for ffmpeg: probing, detection, rendering and frame
// grabs. Rendered outputs are probed at their requested duration plus
// drift[aspect width x height].
type fakeMedia struct {
	source   types.SourceMedia
	probeErr error
	scenes   []float64
	silences []types.SilenceInterval

	renderErr  map[string]error
	drift      map[string]float64
	blockOnCtx bool

	mu        sync.Mutex
	durations map[string]float64
	renders   map[string]int
	active    int
	maxActive int
}

func frameKey(w, h int) string { return fmt.Sprintf("%dx%d", w, h) }

func (f *fakeMedia) Probe(_ context.Context, path string) (types.SourceMedia, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d, ok := f.durations[path]; ok {
		return types.SourceMedia{Location: path, DurationSec: d, HasAudio: true}, nil
	}
	if f.probeErr != nil {
		return types.SourceMedia{}, f.probeErr
	}
	return f.source, nil
}

func (f *fakeMedia) DetectScenes(context.Context, string, float64) ([]float64, error) {
	return f.scenes, nil
}

func (f *fakeMedia) DetectSilence(context.Context, string, float64, float64) ([]types.SilenceInterval, error) {
	return f.silences, nil
}

func (f *fakeMedia) ExtractAudioMono16k(_ context.Context, _, outWav string) error {
	return os.WriteFile(outWav, []byte("RIFF"), 0o644)
}

func (f *fakeMedia) RenderClip(ctx context.Context, req types.RenderRequest) error {
	key := frameKey(req.Width, req.Height)
	f.mu.Lock()
	f.active++
	f.maxActive = max(f.maxActive, f.active)
	if f.renders == nil {
		f.renders = map[string]int{}
	}
	f.renders[key]++
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	if f.blockOnCtx {
		<-ctx.Done()
		return ctx.Err()
	}
	time.Sleep(time.Millisecond)
	if err := f.renderErr[key]; err != nil {
		return err
	}
	if err := os.WriteFile(req.Output, []byte("mp4 "+key), 0o644); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.durations == nil {
		f.durations = map[string]float64{}
	}
	f.durations[req.Output] = req.EndSec - req.StartSec + f.drift[key]
	return nil
}

func (f *fakeMedia) ExtractFrame(_ context.Context, _ string, _ float64, outJPG string) error {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 64, 36)), nil); err != nil {
		return err
	}
	return os.WriteFile(outJPG, buf.Bytes(), 0o644)
}

func (f *fakeMedia) renderCount(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.renders[key]
}

type fakeASR struct {
	tr    types.Transcript
	err   error
	wait  <-chan struct{}
	mu    sync.Mutex
	calls int
}

func (f *fakeASR) Transcribe(ctx context.Context, _, _ string) (types.Transcript, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.wait != nil {
		select {
		case <-f.wait:
		case <-ctx.Done():
			return types.Transcript{}, ctx.Err()
		}
	}
	return f.tr, f.err
}

// fakeText answers rerank prompts with rerankReply and metadata prompts
// with a fixed title.
type fakeText struct {
	rerankReply string
	err         error
}

func (f fakeText) Complete(_ context.Context, system, _ string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if strings.Contains(system, "best moments") {
		return f.rerankReply, nil
	}
	return `{"title":"A generated title","thumbnail_text":"WATCH THIS"}`, nil
}

type memStore struct {
	mu      sync.Mutex
	objects map[string]string
	failKey string
	puts    int
}

func (m *memStore) Put(_ context.Context, key string, r io.Reader, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts++
	if m.failKey != "" && strings.Contains(key, m.failKey) {
		return "", errors.New("503 slow down")
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	if m.objects == nil {
		m.objects = map[string]string{}
	}
	m.objects[key] = string(b)
	return "mem://" + key, nil
}

func (m *memStore) SignedURL(_ context.Context, ref string, _ time.Duration) (string, error) {
	return "https://example.invalid/" + strings.TrimPrefix(ref, "mem://"), nil
}

type recorder struct {
	mu           sync.Mutex
	statuses     []types.JobStatus
	notes        []string
	source       types.SourceMedia
	outputs      map[int]types.RenderedOutput
	onTransition func(types.JobStatus)
}

func (r *recorder) Transition(s types.JobStatus) error {
	r.mu.Lock()
	r.statuses = append(r.statuses, s)
	hook := r.onTransition
	r.mu.Unlock()
	if hook != nil {
		hook(s)
	}
	return nil
}

func (r *recorder) SetSource(m types.SourceMedia) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.source = m
}

func (r *recorder) Degrade(note string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, note)
}

func (r *recorder) PutOutput(o types.RenderedOutput) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outputs == nil {
		r.outputs = map[int]types.RenderedOutput{}
	}
	if prev, ok := r.outputs[o.Index]; ok && prev.State() == types.StateReady {
		panic(fmt.Sprintf("output %d rewritten after Ready", o.Index))
	}
	r.outputs[o.Index] = o
}

func (r *recorder) last() types.JobStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.statuses) == 0 {
		return ""
	}
	return r.statuses[len(r.statuses)-1]
}

func (r *recorder) has(s types.JobStatus) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range r.statuses {
		if v == s {
			return true
		}
	}
	return false
}

func (r *recorder) byState(s types.OutputState) []types.RenderedOutput {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []types.RenderedOutput
	for i := 0; i < len(r.outputs); i++ {
		if o, ok := r.outputs[i]; ok && o.State() == s {
			out = append(out, o)
		}
	}
	return out
}

func (r *recorder) notesContain(sub string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range r.notes {
		if strings.Contains(n, sub) {
			return true
		}
	}
	return false
}

// speech returns a transcript of 0.4s words every 0.5s over durationSec,
// one segment per ten seconds.
func speech(durationSec float64) types.Transcript {
	vocab := []string{"here", "is", "why", "step", "3", "matters", "so", "much", "today", "really"}
	var tr types.Transcript
	var seg types.Segment
	for k := 0; float64(k)*0.5+0.4 <= durationSec; k++ {
		s := float64(k) * 0.5
		if k%20 == 0 && k > 0 {
			tr.Segments = append(tr.Segments, seg)
			seg = types.Segment{}
		}
		if len(seg.Words) == 0 {
			seg.Start = s
		}
		w := types.Word{Start: s, End: s + 0.4, Word: vocab[k%len(vocab)]}
		seg.Words = append(seg.Words, w)
		seg.End = w.End
		seg.Text = strings.TrimSpace(seg.Text + " " + w.Word)
	}
	if len(seg.Words) > 0 {
		tr.Segments = append(tr.Segments, seg)
	}
	return tr
}

type fixture struct {
	media *fakeMedia
	asr   *fakeASR
	text  *fakeText
	store *memStore
	pool  *semaphore.Weighted
}

func newFixture(durationSec float64) *fixture {
	return &fixture{
		media: &fakeMedia{
			source:   types.SourceMedia{DurationSec: durationSec, FrameRate: 30, HasAudio: true, Width: 1920, Height: 1080},
			scenes:   []float64{22.0, 61.3, 100.7},
			silences: []types.SilenceInterval{{StartSec: 44.1, EndSec: 44.9}},
		},
		asr:   &fakeASR{tr: speech(durationSec)},
		text:  &fakeText{rerankReply: `{"picks":[{"id":1,"hook":"Here is why"},{"id":0,"hook":"Step 3"}]}`},
		store: &memStore{},
		pool:  semaphore.NewWeighted(2),
	}
}

func (f *fixture) usecase(t *testing.T) *Usecase {
	t.Helper()
	scorer, err := highlights.NewScorer(highlights.ScorerConfig{
		Weights:           highlights.Weights{Salience: 0.6, Alignment: 0.25, Pacing: 0.15},
		Lexicon:           []string{"here is why", "step"},
		CountNumbers:      true,
		Saturation:        0.08,
		AlignToleranceSec: 0.5,
		PauseSec:          0.7,
	})
	if err != nil {
		t.Fatalf("scorer: %v", err)
	}
	d := Deps{
		Sources:    fakeSources{},
		Prober:     f.media,
		Scenes:     f.media,
		Silence:    f.media,
		Video:      f.media,
		Store:      f.store,
		Scorer:     scorer,
		RenderPool: f.pool,
		Log:        zerolog.Nop(),
	}
	if f.asr != nil {
		d.ASR = f.asr
	}
	if f.text != nil {
		d.Text = f.text
	}
	return New(d, Settings{
		WorkDir:        t.TempDir(),
		SceneThreshold: 0.4,
		NoiseDB:        -30,
		MinSilenceSec:  0.5,
		MergeWindowSec: 0.1,
		Transcribe:     Retry{MaxAttempts: 2},
		RerankFactor:   3,
		Frames: map[string]Frame{
			"9:16": {Width: 1080, Height: 1920},
			"1:1":  {Width: 1080, Height: 1080},
		},
		Render:               Retry{MaxAttempts: 2},
		DurationToleranceSec: 1.0,
		ThumbnailLongSide:    320,
		Publish:              Retry{MaxAttempts: 2},
		PublishConcurrency:   2,
	})
}

func spec125() types.JobSpec {
	return types.JobSpec{
		SourceRef:    "talk.mp4",
		MinClipSec:   20,
		MaxClipSec:   40,
		MaxClips:     2,
		AspectRatios: []string{"9:16", "1:1"},
	}
}
