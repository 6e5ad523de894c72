package usecase

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/forPelevin/clipper/internal/types"
)

func TestRun_EndToEnd(t *testing.T) {
	f := newFixture(125)
	rec := &recorder{}
	if err := f.usecase(t).Run(context.Background(), rec, "job-1", spec125()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if rec.last() != types.JobDone {
		t.Fatalf("final status = %s", rec.last())
	}
	want := []types.JobStatus{types.JobProbing, types.JobDetecting, types.JobChunking, types.JobScoring, types.JobRendering, types.JobPublishing, types.JobDone}
	for _, s := range want {
		if !rec.has(s) {
			t.Fatalf("status %s never entered: %v", s, rec.statuses)
		}
	}
	if len(rec.outputs) == 0 || len(rec.outputs) > 4 {
		t.Fatalf("expected 1..4 outputs, got %d", len(rec.outputs))
	}
	ready := rec.byState(types.StateReady)
	if len(ready) != len(rec.outputs) {
		t.Fatalf("expected every output ready, got %d of %d", len(ready), len(rec.outputs))
	}
	for _, o := range ready {
		d := o.Status.(types.Ready)
		if d.DurationSec < 19 || d.DurationSec > 41 {
			t.Fatalf("output %d duration %v outside [19, 41]", o.Index, d.DurationSec)
		}
		if d.MediaRef == "" || d.CaptionRef == "" || d.ThumbnailRef == "" || d.Bytes == 0 {
			t.Fatalf("output %d incomplete: %+v", o.Index, d)
		}
		if o.Title != "A generated title" || o.ThumbnailText != "WATCH THIS" {
			t.Fatalf("output %d metadata: %q %q", o.Index, o.Title, o.ThumbnailText)
		}
	}
	if rec.source.DurationSec != 125 || rec.source.Location != "talk.mp4" {
		t.Fatalf("source not reported: %+v", rec.source)
	}
	if _, ok := f.store.objects["jobs/job-1/talk-000-9x16.mp4"]; !ok {
		t.Fatalf("missing object, have %v", keys(f.store.objects))
	}
	if len(rec.notes) != 0 {
		t.Fatalf("unexpected degradations: %v", rec.notes)
	}
}

func TestRun_RerankOrderDrivesOutputs(t *testing.T) {
	f := newFixture(125)
	rec := &recorder{}
	if err := f.usecase(t).Run(context.Background(), rec, "job-1", spec125()); err != nil {
		t.Fatalf("run: %v", err)
	}
	// The model picked chunk 1 first.
	if rec.outputs[0].Chunk.ID != 1 || rec.outputs[2].Chunk.ID != 0 {
		t.Fatalf("unexpected order: %d %d", rec.outputs[0].Chunk.ID, rec.outputs[2].Chunk.ID)
	}
	if rec.outputs[0].AspectRatio != "9:16" || rec.outputs[1].AspectRatio != "1:1" {
		t.Fatalf("unexpected aspects: %s %s", rec.outputs[0].AspectRatio, rec.outputs[1].AspectRatio)
	}
}

func TestRun_FailedAspectDoesNotBlockOthers(t *testing.T) {
	f := newFixture(125)
	f.media.renderErr = map[string]error{frameKey(1080, 1080): errors.New("encoder crashed")}
	rec := &recorder{}
	if err := f.usecase(t).Run(context.Background(), rec, "job-1", spec125()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if rec.last() != types.JobDone {
		t.Fatalf("final status = %s", rec.last())
	}
	failed := rec.byState(types.StateFailed)
	ready := rec.byState(types.StateReady)
	if len(failed) != 2 || len(ready) != 2 {
		t.Fatalf("expected 2 failed and 2 ready, got %d and %d", len(failed), len(ready))
	}
	for _, o := range failed {
		if o.AspectRatio != "1:1" || o.Status.(types.Failed).Stage != "render" {
			t.Fatalf("unexpected failure: %+v", o)
		}
	}
	// Two units, two attempts each.
	if got := f.media.renderCount(frameKey(1080, 1080)); got != 4 {
		t.Fatalf("expected 4 render attempts for 1:1, got %d", got)
	}
}

func TestRun_DurationDriftRejected(t *testing.T) {
	f := newFixture(125)
	f.media.drift = map[string]float64{frameKey(1080, 1920): 1.5, frameKey(1080, 1080): -0.9}
	rec := &recorder{}
	if err := f.usecase(t).Run(context.Background(), rec, "job-1", spec125()); err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, o := range rec.byState(types.StateFailed) {
		if o.AspectRatio != "9:16" || !strings.Contains(o.Status.(types.Failed).Reason, "duration") {
			t.Fatalf("unexpected failure: %+v", o)
		}
	}
	if n := len(rec.byState(types.StateReady)); n != 2 {
		t.Fatalf("expected the 1:1 outputs within tolerance, got %d ready", n)
	}
}

func TestRun_AllRendersFail(t *testing.T) {
	f := newFixture(125)
	boom := errors.New("no encoder")
	f.media.renderErr = map[string]error{frameKey(1080, 1080): boom, frameKey(1080, 1920): boom}
	rec := &recorder{}
	err := f.usecase(t).Run(context.Background(), rec, "job-1", spec125())
	if !errors.Is(err, types.ErrRenderFailed) {
		t.Fatalf("expected render failure, got %v", err)
	}
	var se *types.StageError
	if !errors.As(err, &se) || se.Stage != "rendering" {
		t.Fatalf("expected rendering stage error, got %v", err)
	}
	if n := len(rec.byState(types.StateFailed)); n != 4 {
		t.Fatalf("expected 4 failed outputs, got %d", n)
	}
}

func TestRun_TranscriptionUnavailable(t *testing.T) {
	f := newFixture(125)
	f.asr.err = errors.New("model file missing")
	f.asr.tr = types.Transcript{}
	rec := &recorder{}
	if err := f.usecase(t).Run(context.Background(), rec, "job-1", spec125()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if rec.last() != types.JobDone {
		t.Fatalf("final status = %s", rec.last())
	}
	if !rec.notesContain("transcription unavailable") {
		t.Fatalf("degradation not recorded: %v", rec.notes)
	}
	if f.asr.calls != 2 {
		t.Fatalf("expected 2 transcription attempts, got %d", f.asr.calls)
	}
	for _, o := range rec.byState(types.StateReady) {
		if o.Status.(types.Ready).CaptionRef != "" {
			t.Fatalf("degraded output should carry no captions: %+v", o)
		}
	}
	if n := len(rec.byState(types.StateReady)); n != 4 {
		t.Fatalf("expected 4 ready outputs from fixed windows, got %d", n)
	}
}

func TestRun_SpeechlessTranscriptTiles(t *testing.T) {
	f := newFixture(125)
	f.asr.tr = types.Transcript{Segments: []types.Segment{{Start: 4, End: 4, Text: "[BLANK_AUDIO]"}}}
	rec := &recorder{}
	if err := f.usecase(t).Run(context.Background(), rec, "job-1", spec125()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if rec.last() != types.JobDone || len(rec.notes) != 0 {
		t.Fatalf("status %s notes %v", rec.last(), rec.notes)
	}
	ready := rec.byState(types.StateReady)
	if len(ready) != 4 {
		t.Fatalf("expected 4 ready outputs from fixed windows, got %d", len(ready))
	}
	for _, o := range ready {
		if o.Status.(types.Ready).CaptionRef != "" {
			t.Fatalf("tiled output should carry no captions: %+v", o)
		}
	}
}

func TestRun_NoASRBackend(t *testing.T) {
	f := newFixture(125)
	f.asr = nil
	rec := &recorder{}
	if err := f.usecase(t).Run(context.Background(), rec, "job-1", spec125()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !rec.notesContain("no speech-to-text backend") {
		t.Fatalf("degradation not recorded: %v", rec.notes)
	}
}

func TestRun_RerankUnavailable(t *testing.T) {
	f := newFixture(125)
	f.text = &fakeText{err: errors.New("429 rate limited")}
	rec := &recorder{}
	if err := f.usecase(t).Run(context.Background(), rec, "job-1", spec125()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !rec.notesContain("rerank unavailable") {
		t.Fatalf("degradation not recorded: %v", rec.notes)
	}
	ready := rec.byState(types.StateReady)
	if len(ready) != 4 {
		t.Fatalf("expected 4 ready outputs, got %d", len(ready))
	}
	if ready[0].Title == "" || ready[0].ThumbnailText != "" {
		t.Fatalf("expected fallback metadata, got %q %q", ready[0].Title, ready[0].ThumbnailText)
	}
}

func TestRun_RerankShortReplyDegrades(t *testing.T) {
	f := newFixture(125)
	f.text = &fakeText{rerankReply: `{"picks":[{"id":1,"hook":"Here is why"},{"id":77}]}`}
	rec := &recorder{}
	if err := f.usecase(t).Run(context.Background(), rec, "job-1", spec125()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !rec.notesContain("rerank unavailable") || !rec.notesContain("too few valid ids") {
		t.Fatalf("short reply not recorded: %v", rec.notes)
	}
	if ready := rec.byState(types.StateReady); len(ready) != 4 {
		t.Fatalf("expected 4 ready outputs, got %d", len(ready))
	}
}

func TestRun_SourceUnreadable(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(f *fixture, uc *Usecase)
	}{
		{"resolve fails", func(_ *fixture, uc *Usecase) { uc.d.Sources = fakeSources{err: errors.New("no such file")} }},
		{"probe fails", func(f *fixture, _ *Usecase) { f.media.probeErr = errors.New("moov atom not found") }},
		{"zero duration", func(f *fixture, _ *Usecase) { f.media.source.DurationSec = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(125)
			uc := f.usecase(t)
			tt.mutate(f, uc)
			rec := &recorder{}
			err := uc.Run(context.Background(), rec, "job-1", spec125())
			if !errors.Is(err, types.ErrSourceUnreadable) {
				t.Fatalf("expected source unreadable, got %v", err)
			}
			if rec.has(types.JobDetecting) || len(rec.outputs) != 0 {
				t.Fatalf("job should stop at probing: %v", rec.statuses)
			}
		})
	}
}

func TestRun_ShortSourceIsDoneWithoutOutputs(t *testing.T) {
	f := newFixture(12)
	rec := &recorder{}
	if err := f.usecase(t).Run(context.Background(), rec, "job-1", spec125()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if rec.last() != types.JobDone || len(rec.outputs) != 0 {
		t.Fatalf("status %s, outputs %d", rec.last(), len(rec.outputs))
	}
}

func TestRun_PublishFailureMarksOneOutput(t *testing.T) {
	f := newFixture(125)
	f.store.failKey = "-001-"
	rec := &recorder{}
	if err := f.usecase(t).Run(context.Background(), rec, "job-1", spec125()); err != nil {
		t.Fatalf("run: %v", err)
	}
	failed := rec.byState(types.StateFailed)
	if len(failed) != 1 || failed[0].Index != 1 || failed[0].Status.(types.Failed).Stage != "publish" {
		t.Fatalf("unexpected failures: %+v", failed)
	}
	if rec.last() != types.JobDone {
		t.Fatalf("final status = %s", rec.last())
	}
}

func TestRun_EnteredTranscribingWhileASRRuns(t *testing.T) {
	f := newFixture(125)
	release := make(chan struct{})
	f.asr.wait = release
	rec := &recorder{onTransition: func(s types.JobStatus) {
		if s == types.JobTranscribing {
			close(release)
		}
	}}
	if err := f.usecase(t).Run(context.Background(), rec, "job-1", spec125()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !rec.has(types.JobTranscribing) {
		t.Fatalf("transcribing never entered: %v", rec.statuses)
	}
}

func TestRun_CancelReachesRenders(t *testing.T) {
	f := newFixture(125)
	f.media.blockOnCtx = true
	ctx, cancel := context.WithCancel(context.Background())
	rec := &recorder{onTransition: func(s types.JobStatus) {
		if s == types.JobRendering {
			go func() {
				time.Sleep(20 * time.Millisecond)
				cancel()
			}()
		}
	}}
	uc := f.usecase(t)
	err := uc.Run(ctx, rec, "job-1", spec125())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	for i := 0; i < len(rec.outputs); i++ {
		o := rec.outputs[i]
		if o.State() != types.StateFailed || o.Status.(types.Failed).Reason != "canceled" {
			t.Fatalf("output %d not canceled: %+v", i, o)
		}
	}
	entries, _ := os.ReadDir(uc.s.WorkDir)
	if len(entries) != 0 {
		t.Fatalf("work dir not cleaned: %v", entries)
	}
}

func TestRun_RenderPoolBoundsConcurrency(t *testing.T) {
	f := newFixture(125)
	f.pool = semaphore.NewWeighted(1)
	rec := &recorder{}
	if err := f.usecase(t).Run(context.Background(), rec, "job-1", spec125()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if f.media.maxActive != 1 {
		t.Fatalf("expected at most 1 concurrent render, saw %d", f.media.maxActive)
	}
}

func TestRun_KeepWorkDir(t *testing.T) {
	f := newFixture(125)
	uc := f.usecase(t)
	uc.s.KeepWorkDir = true
	if err := uc.Run(context.Background(), &recorder{}, "job-9", spec125()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, err := os.Stat(filepath.Join(uc.s.WorkDir, "job-9", "outputs", "000", "clip.mp4")); err != nil {
		t.Fatalf("expected kept artifacts: %v", err)
	}
}

func TestRetry(t *testing.T) {
	calls := 0
	err := retry(context.Background(), Retry{MaxAttempts: 3, Backoff: time.Millisecond}, func(int) error {
		calls++
		if calls < 3 {
			return errors.New("flaky")
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}

	calls = 0
	err = retry(context.Background(), Retry{MaxAttempts: 2}, func(int) error {
		calls++
		return errors.New("down")
	})
	if err == nil || err.Error() != "down" || calls != 2 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = retry(ctx, Retry{MaxAttempts: 5, Backoff: time.Hour}, func(int) error { return errors.New("x") })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
}

func TestObjectKeyBase(t *testing.T) {
	r := &run{jobID: "7f3c", spec: types.JobSpec{SourceRef: "/media/My Talk (final).MP4"}}
	got := r.objectKeyBase(unit{index: 3, aspect: "9:16"})
	if got != "jobs/7f3c/my-talk-final-003-9x16" {
		t.Fatalf("objectKeyBase = %q", got)
	}
}

func keys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
