package types

import (
	"fmt"
	"strings"
	"time"
)

type JobStatus string

const (
	JobQueued       JobStatus = "queued"
	JobProbing      JobStatus = "probing"
	JobDetecting    JobStatus = "detecting"
	JobTranscribing JobStatus = "transcribing"
	JobChunking     JobStatus = "chunking"
	JobScoring      JobStatus = "scoring"
	JobRendering    JobStatus = "rendering"
	JobPublishing   JobStatus = "publishing"
	JobDone         JobStatus = "done"
	JobFailed       JobStatus = "failed"
)

func (s JobStatus) Terminal() bool {
	return s == JobDone || s == JobFailed
}

// JobSpec is the submission payload.
type JobSpec struct {
	SourceRef    string   `json:"source_ref"`
	MinClipSec   float64  `json:"min_clip_sec"`
	MaxClipSec   float64  `json:"max_clip_sec"`
	MaxClips     int      `json:"max_clips"`
	AspectRatios []string `json:"aspect_ratios"`
}

// Validate checks the spec against itself and the set of renderable aspect
// ratios. Every failure wraps ErrConstraintViolation.
func (s JobSpec) Validate(knownAspects func(string) bool) error {
	var problems []string
	if strings.TrimSpace(s.SourceRef) == "" {
		problems = append(problems, "source_ref is empty")
	}
	if s.MinClipSec <= 0 {
		problems = append(problems, "min_clip_sec must be > 0")
	}
	if s.MaxClipSec <= 0 {
		problems = append(problems, "max_clip_sec must be > 0")
	}
	if s.MinClipSec > s.MaxClipSec {
		problems = append(problems, "min_clip_sec must be <= max_clip_sec")
	}
	if s.MaxClips <= 0 {
		problems = append(problems, "max_clips must be > 0")
	}
	if len(s.AspectRatios) == 0 {
		problems = append(problems, "aspect_ratios is empty")
	}
	seen := map[string]bool{}
	for _, a := range s.AspectRatios {
		if seen[a] {
			problems = append(problems, fmt.Sprintf("duplicate aspect ratio %q", a))
			continue
		}
		seen[a] = true
		if knownAspects != nil && !knownAspects(a) {
			problems = append(problems, fmt.Sprintf("unsupported aspect ratio %q", a))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrConstraintViolation, strings.Join(problems, "; "))
	}
	return nil
}

// JobSnapshot is a point-in-time copy of a job handed to pollers.
type JobSnapshot struct {
	ID        string           `json:"id"`
	Spec      JobSpec          `json:"spec"`
	Status    JobStatus        `json:"status"`
	Error     string           `json:"error,omitempty"`
	Source    *SourceMedia     `json:"source,omitempty"`
	Outputs   []RenderedOutput `json:"outputs"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// ReadyOutputs returns the outputs that reached Ready.
func (s JobSnapshot) ReadyOutputs() []RenderedOutput {
	var out []RenderedOutput
	for _, o := range s.Outputs {
		if o.State() == StateReady {
			out = append(out, o)
		}
	}
	return out
}
