package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/forPelevin/clipper/internal/types"
)

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrQueueFull         = errors.New("job queue is full")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrJobFinished       = errors.New("job already finished")
	ErrShuttingDown      = errors.New("manager is shutting down")
)

// Job is the mutable record of one submission. It implements
// ports.Reporter for the pipeline run that owns it.
type Job struct {
	mu      sync.RWMutex
	id      string
	spec    types.JobSpec
	status  types.JobStatus
	notes   []string
	fatal   string
	source  *types.SourceMedia
	outputs []types.RenderedOutput
	created time.Time
	updated time.Time
	cancel  context.CancelFunc
	now     func() time.Time
}

func newJob(id string, spec types.JobSpec, now func() time.Time) *Job {
	t := now()
	return &Job{id: id, spec: spec, status: types.JobQueued, created: t, updated: t, now: now}
}

func (j *Job) ID() string { return j.id }

func (j *Job) Transition(status types.JobStatus) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if status == j.status {
		return nil
	}
	if !isValidTransition(j.status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.status, status)
	}
	j.status = status
	j.updated = j.now()
	return nil
}

func (j *Job) SetSource(media types.SourceMedia) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.source = &media
	j.updated = j.now()
}

func (j *Job) Degrade(note string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.notes = append(j.notes, note)
	j.updated = j.now()
}

// PutOutput appends or replaces by index. An output that already reached
// Ready or Failed is never overwritten.
func (j *Job) PutOutput(o types.RenderedOutput) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for len(j.outputs) <= o.Index {
		j.outputs = append(j.outputs, types.RenderedOutput{Index: len(j.outputs), Status: types.Pending{}})
	}
	if j.outputs[o.Index].Terminal() {
		return
	}
	j.outputs[o.Index] = o
	j.updated = j.now()
}

// Fail moves the job to failed and records err. A finished job is left
// untouched.
func (j *Job) Fail(err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.Terminal() {
		return
	}
	j.status = types.JobFailed
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		j.fatal = "canceled"
	default:
		j.fatal = err.Error()
	}
	for i, o := range j.outputs {
		if !o.Terminal() {
			o.Status = types.Failed{Stage: "job", Reason: "job failed before this output finished"}
			j.outputs[i] = o
		}
	}
	j.updated = j.now()
}

func (j *Job) Snapshot() types.JobSnapshot {
	j.mu.RLock()
	defer j.mu.RUnlock()
	s := types.JobSnapshot{
		ID:        j.id,
		Spec:      j.spec,
		Status:    j.status,
		Outputs:   append([]types.RenderedOutput(nil), j.outputs...),
		CreatedAt: j.created,
		UpdatedAt: j.updated,
	}
	if j.source != nil {
		src := *j.source
		s.Source = &src
	}
	msgs := append([]string(nil), j.notes...)
	if j.fatal != "" {
		msgs = append(msgs, j.fatal)
	}
	s.Error = strings.Join(msgs, "; ")
	return s
}

func (j *Job) setCancel(cancel context.CancelFunc) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.cancel = cancel
}

// requestCancel stops a running job or fails a queued one.
func (j *Job) requestCancel() error {
	j.mu.Lock()
	status, cancel := j.status, j.cancel
	j.mu.Unlock()
	switch {
	case status.Terminal():
		return ErrJobFinished
	case cancel != nil:
		cancel()
		return nil
	default:
		j.Fail(context.Canceled)
		return nil
	}
}

func (j *Job) terminal() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status.Terminal()
}

// isValidTransition enforces the job state machine edges. failed is
// reachable from every non-terminal state.
func isValidTransition(from, to types.JobStatus) bool {
	if to == types.JobFailed {
		return !from.Terminal()
	}
	switch from {
	case types.JobQueued:
		return to == types.JobProbing
	case types.JobProbing:
		return to == types.JobDetecting
	case types.JobDetecting:
		return to == types.JobTranscribing || to == types.JobChunking
	case types.JobTranscribing:
		return to == types.JobChunking
	case types.JobChunking:
		return to == types.JobScoring
	case types.JobScoring:
		return to == types.JobRendering || to == types.JobDone
	case types.JobRendering:
		return to == types.JobPublishing
	case types.JobPublishing:
		return to == types.JobDone
	default:
		return false
	}
}
