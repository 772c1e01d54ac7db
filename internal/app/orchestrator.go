package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/raysh454/zapctl/internal/history"
	"github.com/raysh454/zapctl/internal/logging"
	"github.com/raysh454/zapctl/internal/scan"
)

var ErrJobNotFound = errors.New("job not found")

type JobEventType string

const (
	JobEventStatus   JobEventType = "status"
	JobEventProgress JobEventType = "progress"
	JobEventResult   JobEventType = "result"
)

type JobEvent struct {
	JobID string       `json:"job_id"`
	Type  JobEventType `json:"type"`

	// For status changes
	Status JobStatus `json:"status,omitempty"`
	Error  string    `json:"error,omitempty"`

	// For progress
	Phase   scan.Phase `json:"phase,omitempty"`
	Percent int        `json:"percent,omitempty"`
	ScanID  string     `json:"scan_id,omitempty"`
}

type JobStatus string

const (
	JobPending  JobStatus = "pending"
	JobRunning  JobStatus = "running"
	JobDone     JobStatus = "done"
	JobFailed   JobStatus = "failed"
	JobCanceled JobStatus = "canceled"
)

// Finished reports whether the job reached a terminal status.
func (s JobStatus) Finished() bool {
	return s == JobDone || s == JobFailed || s == JobCanceled
}

type Job struct {
	ID        string        `json:"id"`
	Target    string        `json:"target"`
	Status    JobStatus     `json:"status"`
	Error     string        `json:"error,omitempty"`
	Phase     scan.Phase    `json:"phase,omitempty"`
	Percent   int           `json:"percent"`
	StartedAt time.Time     `json:"started_at"`
	EndedAt   time.Time     `json:"ended_at,omitempty"`
	Events    chan JobEvent `json:"-"`

	// Set once the job is done.
	Result *scan.Result `json:"result,omitempty"`
}

// Orchestrator runs scans as background jobs against one scanner and
// records finished runs in history.
type Orchestrator struct {
	cfg     *Config
	scanner scan.Scanner
	store   *history.Store
	logger  logging.Logger

	wg sync.WaitGroup

	jobsMu     sync.Mutex
	jobs       map[string]*Job
	jobCancels map[string]context.CancelFunc
	closed     bool
}

// NewOrchestrator ties together config, scanner, history and logger. store
// may be nil to keep runs in memory only.
func NewOrchestrator(cfg *Config, scanner scan.Scanner, store *history.Store, logger logging.Logger) *Orchestrator {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Orchestrator{
		cfg:        cfg,
		scanner:    scanner,
		store:      store,
		logger:     logger.With(logging.Field{Key: "component", Value: "orchestrator"}),
		jobs:       make(map[string]*Job),
		jobCancels: make(map[string]context.CancelFunc),
	}
}

func (o *Orchestrator) emitJobEvent(jobID string, ev JobEvent) {
	o.jobsMu.Lock()
	job, ok := o.jobs[jobID]
	o.jobsMu.Unlock()
	if !ok || job == nil || job.Events == nil {
		return
	}

	// Non-blocking send; drop if buffer is full.
	select {
	case job.Events <- ev:
	default:
	}
}

func (o *Orchestrator) updateJob(jobID string, fn func(j *Job)) {
	o.jobsMu.Lock()
	defer o.jobsMu.Unlock()
	if j, ok := o.jobs[jobID]; ok {
		fn(j)
	}
}

// StartScan validates target and starts a run in the background. The run
// outlives ctx; use CancelJob or Close to stop it.
func (o *Orchestrator) StartScan(ctx context.Context, target string) (*Job, error) {
	if o == nil || o.scanner == nil {
		return nil, errors.New("StartScan: orchestrator has no scanner")
	}
	if err := scan.ValidateTarget(target); err != nil {
		return nil, err
	}

	jobID := uuid.New().String()
	job := &Job{
		ID:        jobID,
		Target:    target,
		Status:    JobPending,
		StartedAt: time.Now().UTC(),
		Events:    make(chan JobEvent, 16),
	}

	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	o.jobsMu.Lock()
	if o.closed {
		o.jobsMu.Unlock()
		cancel()
		return nil, errors.New("StartScan: orchestrator closed")
	}
	o.jobs[jobID] = job
	o.jobCancels[jobID] = cancel
	snapshot := *job
	o.wg.Add(1)
	o.jobsMu.Unlock()

	o.emitJobEvent(jobID, JobEvent{JobID: jobID, Type: JobEventStatus, Status: JobPending})

	go o.runJob(jobCtx, jobID, target)

	o.logger.Info("scan job started",
		logging.Field{Key: "job_id", Value: jobID},
		logging.Field{Key: "target", Value: target})
	return &snapshot, nil
}

func (o *Orchestrator) runJob(ctx context.Context, jobID, target string) {
	defer o.wg.Done()
	defer func() {
		o.jobsMu.Lock()
		cancel := o.jobCancels[jobID]
		delete(o.jobCancels, jobID)
		j := o.jobs[jobID]
		if j != nil {
			j.EndedAt = time.Now().UTC()
		}
		o.jobsMu.Unlock()
		if cancel != nil {
			cancel()
		}

		// Close events channel so websocket loop can terminate cleanly
		if j != nil && j.Events != nil {
			close(j.Events)
		}
		o.scheduleEviction(jobID)
	}()

	o.updateJob(jobID, func(j *Job) { j.Status = JobRunning })
	o.emitJobEvent(jobID, JobEvent{JobID: jobID, Type: JobEventStatus, Status: JobRunning})

	opts := o.cfg.ScanOptions()
	opts.Quiet = true
	runner := scan.NewRunner(o.scanner, opts, nil, o.logger)

	res, err := runner.Run(ctx, target, func(ev scan.Event) {
		o.updateJob(jobID, func(j *Job) {
			j.Phase = ev.Phase
			j.Percent = ev.Percent
		})
		o.emitJobEvent(jobID, JobEvent{
			JobID:   jobID,
			Type:    JobEventProgress,
			Phase:   ev.Phase,
			Percent: ev.Percent,
			ScanID:  ev.ScanID,
		})
	})

	status := JobDone
	errMsg := ""
	switch {
	case err != nil && ctx.Err() != nil:
		status = JobCanceled
		errMsg = ctx.Err().Error()
	case err != nil:
		status = JobFailed
		errMsg = err.Error()
	}

	o.updateJob(jobID, func(j *Job) {
		j.Status = status
		j.Error = errMsg
		if status == JobDone {
			j.Result = res
		}
	})

	if o.store != nil {
		saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if _, serr := RecordRun(saveCtx, o.store, jobID, target, res, err, history.Status(status)); serr != nil {
			o.logger.Warn("failed to save run to history",
				logging.Field{Key: "job_id", Value: jobID},
				logging.Field{Key: "error", Value: serr.Error()})
		}
		cancel()
	}

	evType := JobEventStatus
	if status == JobDone {
		evType = JobEventResult
	}
	o.emitJobEvent(jobID, JobEvent{JobID: jobID, Type: evType, Status: status, Error: errMsg})

	o.logger.Info("scan job finished",
		logging.Field{Key: "job_id", Value: jobID},
		logging.Field{Key: "status", Value: string(status)})
}

func (o *Orchestrator) scheduleEviction(jobID string) {
	if o.cfg.JobRetentionTime <= 0 {
		return
	}
	time.AfterFunc(o.cfg.JobRetentionTime, func() {
		o.jobsMu.Lock()
		defer o.jobsMu.Unlock()
		delete(o.jobs, jobID)
	})
}

// GetJob returns a snapshot of the job. The snapshot shares the job's
// Events channel.
func (o *Orchestrator) GetJob(jobID string) (*Job, error) {
	o.jobsMu.Lock()
	defer o.jobsMu.Unlock()
	j, ok := o.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	snapshot := *j
	return &snapshot, nil
}

// ListJobs returns snapshots of all known jobs, newest first.
func (o *Orchestrator) ListJobs() []*Job {
	o.jobsMu.Lock()
	jobs := make([]*Job, 0, len(o.jobs))
	for _, j := range o.jobs {
		snapshot := *j
		jobs = append(jobs, &snapshot)
	}
	o.jobsMu.Unlock()

	sort.Slice(jobs, func(i, k int) bool {
		if jobs[i].StartedAt.Equal(jobs[k].StartedAt) {
			return jobs[i].ID < jobs[k].ID
		}
		return jobs[i].StartedAt.After(jobs[k].StartedAt)
	})
	return jobs
}

// CancelJob stops a running job. Canceling a finished job is a no-op.
func (o *Orchestrator) CancelJob(jobID string) error {
	o.jobsMu.Lock()
	_, known := o.jobs[jobID]
	cancel := o.jobCancels[jobID]
	o.jobsMu.Unlock()

	if !known {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if cancel != nil {
		cancel()
		o.logger.Info("scan job cancel requested", logging.Field{Key: "job_id", Value: jobID})
	}
	return nil
}

// Close cancels every running job and waits for them to finish recording.
func (o *Orchestrator) Close() error {
	if o == nil {
		return nil
	}
	o.jobsMu.Lock()
	o.closed = true
	cancels := make([]context.CancelFunc, 0, len(o.jobCancels))
	for _, c := range o.jobCancels {
		cancels = append(cancels, c)
	}
	o.jobsMu.Unlock()

	for _, c := range cancels {
		c()
	}
	o.wg.Wait()
	return nil
}

// RecordRun stores the outcome of a run under id. res may be nil or partial
// when runErr is set.
func RecordRun(ctx context.Context, store *history.Store, id, target string, res *scan.Result, runErr error, status history.Status) (*history.Run, error) {
	run := &history.Run{ID: id, Target: target, Status: status}
	if res != nil {
		run.SpiderID = res.SpiderID
		run.AscanID = res.AscanID
		run.Hosts = res.Hosts
		run.Alerts = res.Alerts
		run.StartedAt = res.StartedAt
		run.EndedAt = res.EndedAt
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.EndedAt.IsZero() {
		run.EndedAt = time.Now().UTC()
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}
	if err := store.SaveRun(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}
