package types

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestJobSpecValidate(t *testing.T) {
	known := func(a string) bool { return a == "9:16" || a == "1:1" }
	base := JobSpec{SourceRef: "in.mp4", MinClipSec: 20, MaxClipSec: 40, MaxClips: 2, AspectRatios: []string{"9:16", "1:1"}}

	tests := []struct {
		name    string
		mutate  func(*JobSpec)
		wantErr bool
	}{
		{"valid", func(*JobSpec) {}, false},
		{"equal bounds", func(s *JobSpec) { s.MinClipSec = 30; s.MaxClipSec = 30 }, false},
		{"min above max", func(s *JobSpec) { s.MinClipSec = 50 }, true},
		{"no source", func(s *JobSpec) { s.SourceRef = " " }, true},
		{"zero clips", func(s *JobSpec) { s.MaxClips = 0 }, true},
		{"no aspects", func(s *JobSpec) { s.AspectRatios = nil }, true},
		{"unknown aspect", func(s *JobSpec) { s.AspectRatios = []string{"3:2"} }, true},
		{"duplicate aspect", func(s *JobSpec) { s.AspectRatios = []string{"1:1", "1:1"} }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := base
			s.AspectRatios = append([]string(nil), base.AspectRatios...)
			tt.mutate(&s)
			err := s.Validate(known)
			if tt.wantErr {
				if !errors.Is(err, ErrConstraintViolation) {
					t.Fatalf("expected constraint violation, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestRenderedOutputJSON(t *testing.T) {
	tests := []struct {
		name      string
		status    OutputStatus
		wantState string
		wantSub   string
	}{
		{"pending", nil, "pending", ""},
		{"ready", Ready{MediaRef: "file:///x.mp4", DurationSec: 30}, "ready", `"media_ref":"file:///x.mp4"`},
		{"failed", Failed{Stage: "render", Reason: "drift"}, "failed", `"failure":{"stage":"render","reason":"drift"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := RenderedOutput{Index: 1, AspectRatio: "9:16", Status: tt.status}
			b, err := json.Marshal(o)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			var m map[string]any
			if err := json.Unmarshal(b, &m); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if m["state"] != tt.wantState {
				t.Fatalf("state = %v, want %s", m["state"], tt.wantState)
			}
			if tt.wantSub != "" && !strings.Contains(string(b), tt.wantSub) {
				t.Fatalf("expected %s in %s", tt.wantSub, b)
			}
			if o.Terminal() != (tt.wantState != "pending") {
				t.Fatalf("unexpected Terminal() for %s", tt.wantState)
			}
		})
	}
}

func TestStageErrorUnwrap(t *testing.T) {
	err := NewStageError("probe", ErrSourceUnreadable)
	if !errors.Is(err, ErrSourceUnreadable) {
		t.Fatalf("expected errors.Is to see through StageError")
	}
	if NewStageError("probe", nil) != nil {
		t.Fatalf("expected nil for nil error")
	}
}

func TestTranscriptEmpty(t *testing.T) {
	tests := []struct {
		name string
		tr   Transcript
		want bool
	}{
		{"no segments", Transcript{}, true},
		{"zero length segment", Transcript{Segments: []Segment{{Start: 3, End: 3, Text: "hm"}}}, true},
		{"speech", Transcript{Segments: []Segment{{Start: 0, End: 0}, {Start: 1, End: 2.5, Text: "hi"}}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.tr.Empty(); got != tt.want {
				t.Fatalf("Empty() = %v, want %v", got, tt.want)
			}
		})
	}
}
