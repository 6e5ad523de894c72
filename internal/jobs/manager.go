package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/forPelevin/clipper/internal/metrics"
	"github.com/forPelevin/clipper/internal/ports"
	"github.com/forPelevin/clipper/internal/types"
)

// Runner executes one job to completion, reporting through rep.
type Runner interface {
	Run(ctx context.Context, rep ports.Reporter, jobID string, spec types.JobSpec) error
}

type Options struct {
	Workers   int
	QueueSize int
	// KnownAspect reports whether an aspect ratio can be rendered.
	KnownAspect func(string) bool
	Log         zerolog.Logger
	Metrics     *metrics.Metrics
	Now         func() time.Time
	NewID       func() string
}

// Manager accepts submissions, queues them on a channel and runs them on a
// fixed pool of workers. Jobs are kept in memory for polling.
type Manager struct {
	runner Runner
	opts   Options
	log    zerolog.Logger

	queue chan *Job

	mu   sync.RWMutex
	jobs map[string]*Job

	baseCtx   context.Context
	stopRuns  context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once
	closeOnce sync.Once
	closed    bool
	closeMu   sync.RWMutex
}

func NewManager(runner Runner, opts Options) *Manager {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 16
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		runner:   runner,
		opts:     opts,
		log:      opts.Log.With().Str("component", "jobs").Logger(),
		queue:    make(chan *Job, opts.QueueSize),
		jobs:     map[string]*Job{},
		baseCtx:  ctx,
		stopRuns: cancel,
	}
}

// Start launches the workers. Calling it more than once has no effect.
func (m *Manager) Start() {
	m.startOnce.Do(func() {
		for i := 0; i < m.opts.Workers; i++ {
			m.wg.Add(1)
			go m.worker(i)
		}
		m.log.Info().Int("workers", m.opts.Workers).Int("queue", m.opts.QueueSize).Msg("job workers started")
	})
}

// Submit registers a job and queues it. A spec that violates its
// constraints is recorded as failed and the returned error wraps
// types.ErrConstraintViolation; the snapshot is valid in that case too.
func (m *Manager) Submit(spec types.JobSpec) (types.JobSnapshot, error) {
	m.closeMu.RLock()
	defer m.closeMu.RUnlock()
	if m.closed {
		return types.JobSnapshot{}, ErrShuttingDown
	}

	job := newJob(m.opts.NewID(), spec, m.opts.Now)
	if err := spec.Validate(m.opts.KnownAspect); err != nil {
		job.Fail(err)
		m.put(job)
		m.opts.Metrics.JobFinished(string(types.JobFailed))
		m.log.Warn().Err(err).Str("job_id", job.ID()).Msg("job rejected")
		return job.Snapshot(), err
	}

	select {
	case m.queue <- job:
	default:
		return types.JobSnapshot{}, ErrQueueFull
	}
	m.put(job)
	m.opts.Metrics.SetQueueDepth(len(m.queue))
	m.log.Info().Str("job_id", job.ID()).Str("source", spec.SourceRef).Msg("job queued")
	return job.Snapshot(), nil
}

func (m *Manager) Get(id string) (types.JobSnapshot, error) {
	job, ok := m.job(id)
	if !ok {
		return types.JobSnapshot{}, ErrJobNotFound
	}
	return job.Snapshot(), nil
}

// Cancel fails a queued job at once; a running job is canceled and fails
// when its pipeline returns.
func (m *Manager) Cancel(id string) error {
	job, ok := m.job(id)
	if !ok {
		return ErrJobNotFound
	}
	if err := job.requestCancel(); err != nil {
		return err
	}
	m.log.Info().Str("job_id", id).Msg("cancel requested")
	return nil
}

// Shutdown stops accepting jobs and waits for queued and running ones. When
// ctx expires first, running jobs are canceled and Shutdown still waits for
// them to unwind.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.closeOnce.Do(func() {
		m.closeMu.Lock()
		m.closed = true
		close(m.queue)
		m.closeMu.Unlock()
	})
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.stopRuns()
		return nil
	case <-ctx.Done():
		m.stopRuns()
		<-done
		return ctx.Err()
	}
}

func (m *Manager) worker(n int) {
	defer m.wg.Done()
	log := m.log.With().Int("worker", n).Logger()
	for job := range m.queue {
		m.opts.Metrics.SetQueueDepth(len(m.queue))
		if job.terminal() {
			continue
		}
		m.run(log, job)
	}
}

func (m *Manager) run(log zerolog.Logger, job *Job) {
	ctx, cancel := context.WithCancel(m.baseCtx)
	defer cancel()
	job.setCancel(cancel)

	start := m.opts.Now()
	err := m.runner.Run(ctx, job, job.ID(), job.spec)
	if err == nil && !job.terminal() {
		err = errors.New("pipeline returned before the job finished")
	}
	if err != nil {
		job.Fail(err)
	}

	snap := job.Snapshot()
	m.opts.Metrics.JobFinished(string(snap.Status))
	ev := log.Info()
	if snap.Status == types.JobFailed {
		ev = log.Error().Str("error", snap.Error)
	}
	ev.Str("job_id", snap.ID).
		Str("status", string(snap.Status)).
		Int("ready", len(snap.ReadyOutputs())).
		Int("outputs", len(snap.Outputs)).
		Dur("took", m.opts.Now().Sub(start)).
		Msg("job finished")
}

func (m *Manager) put(job *Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID()] = job
}

func (m *Manager) job(id string) (*Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	return j, ok
}
