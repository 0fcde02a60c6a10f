package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/raphaelgruber/catalogbridge/internal/llm"
	"github.com/raphaelgruber/catalogbridge/internal/models"
)

// DefaultConcurrency is the number of products processed in parallel when
// none is configured.
const DefaultConcurrency = 4

// JobStatus represents the state of a batch job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Processor publishes one product. *Pipeline implements it.
type Processor interface {
	Process(ctx context.Context, draft models.ProductDraft, targets []models.Target) (models.ProductOutcome, error)
}

// JobStore persists jobs and their product outcomes. *db.Client implements it.
type JobStore interface {
	CreatePublishJob(ctx context.Context, id, name string, sources, targets []string) error
	UpdateJobProgress(ctx context.Context, id string, progress int) error
	UpdateJobStatus(ctx context.Context, id, status string) error
	CompleteJob(ctx context.Context, id string, result map[string]any) error
	FailJob(ctx context.Context, id, message string) error
	GetIncompleteJobs(ctx context.Context) ([]models.PublishJob, error)
	ProcessedSources(ctx context.Context, jobID string) ([]string, error)
	SaveOutcome(ctx context.Context, jobID, sourcePath string, o models.ProductOutcome) error
}

// TargetCount counts products per final state on one target.
type TargetCount struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// BatchResult summarizes a finished batch.
type BatchResult struct {
	Processed int                    `json:"processed"`
	Succeeded int                    `json:"succeeded"`
	Partial   int                    `json:"partial"`
	Failed    int                    `json:"failed"`
	PerTarget map[string]TargetCount `json:"per_target"`
	// Errors lists sources that could not be read or decoded.
	Errors   []string                `json:"errors,omitempty"`
	Outcomes []models.ProductOutcome `json:"-"`
}

func newBatchResult() *BatchResult {
	return &BatchResult{PerTarget: make(map[string]TargetCount)}
}

func (r *BatchResult) add(o models.ProductOutcome) {
	r.Processed++
	switch o.Status() {
	case models.OutcomeSucceeded:
		r.Succeeded++
	case models.OutcomePartial:
		r.Partial++
	default:
		r.Failed++
	}
	for _, a := range o.Attempts {
		key := a.Target.String()
		tc := r.PerTarget[key]
		if a.State == models.StateSucceeded {
			tc.Succeeded++
		} else {
			tc.Failed++
		}
		r.PerTarget[key] = tc
	}
	r.Outcomes = append(r.Outcomes, o)
}

// Map is the persisted form of the summary.
func (r *BatchResult) Map() map[string]any {
	perTarget := make(map[string]any, len(r.PerTarget))
	for k, v := range r.PerTarget {
		perTarget[k] = map[string]any{"succeeded": v.Succeeded, "failed": v.Failed}
	}
	return map[string]any{
		"processed":  r.Processed,
		"succeeded":  r.Succeeded,
		"partial":    r.Partial,
		"failed":     r.Failed,
		"per_target": perTarget,
		"errors":     slices.Clone(r.Errors),
	}
}

// Job is a batch of product records published to the same targets.
type Job struct {
	ID          string
	Status      JobStatus
	Name        string
	Sources     []string
	Targets     []models.Target
	Progress    int
	Total       int
	Result      *BatchResult
	Error       string
	StartedAt   time.Time
	CompletedAt *time.Time

	mu                 sync.RWMutex
	lastProgressUpdate time.Time // for debouncing DB writes
}

// Snapshot returns a thread-safe copy of job state.
func (j *Job) Snapshot() Job {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return Job{
		ID:          j.ID,
		Status:      j.Status,
		Name:        j.Name,
		Sources:     j.Sources,
		Targets:     j.Targets,
		Progress:    j.Progress,
		Total:       j.Total,
		Result:      j.Result,
		Error:       j.Error,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}
}

// Done reports whether the job reached a final status.
func (j *Job) Done() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// JobOptions configures a JobManager.
type JobOptions struct {
	Concurrency int
	// ProductTimeout bounds one product's pipeline run. Zero means no bound.
	ProductTimeout time.Duration
	Logger         *slog.Logger
}

// JobManager runs batch jobs and tracks them in memory, persisting state to
// the store when one is configured.
type JobManager struct {
	jobs           map[string]*Job
	mu             sync.RWMutex
	processor      Processor
	store          JobStore
	concurrency    int
	productTimeout time.Duration
	logger         *slog.Logger
}

// NewJobManager creates a job manager. store may be nil.
func NewJobManager(p Processor, store JobStore, opts JobOptions) *JobManager {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &JobManager{
		jobs:           make(map[string]*Job),
		processor:      p,
		store:          store,
		concurrency:    opts.Concurrency,
		productTimeout: opts.ProductTimeout,
		logger:         opts.Logger,
	}
}

// Concurrency returns the configured worker count.
func (m *JobManager) Concurrency() int {
	return m.concurrency
}

// CreateJob creates a new pending job with persistence.
func (m *JobManager) CreateJob(ctx context.Context, name string, sources []string, targets []models.Target) (*Job, error) {
	if len(sources) == 0 {
		return nil, errors.New("create job: no sources")
	}
	if len(targets) == 0 {
		return nil, errors.New("create job: no targets")
	}

	job := &Job{
		ID:        uuid.New().String()[:8], // short id for convenience
		Status:    JobStatusPending,
		Name:      name,
		Sources:   slices.Clone(sources),
		Targets:   slices.Clone(targets),
		Total:     len(sources),
		StartedAt: time.Now(),
	}

	if m.store != nil {
		if err := m.store.CreatePublishJob(ctx, job.ID, name, job.Sources, targetKeys(targets)); err != nil {
			return nil, fmt.Errorf("create job: %w", err)
		}
	}

	m.RegisterJob(job)
	m.logger.Info("job created", "job_id", job.ID, "name", name, "products", len(sources), "targets", len(targets))
	return job, nil
}

// RegisterJob adds an existing job to the in-memory map (for resume).
func (m *JobManager) RegisterJob(job *Job) {
	m.mu.Lock()
	m.jobs[job.ID] = job
	m.mu.Unlock()
}

// GetJob retrieves a job by ID.
func (m *JobManager) GetJob(id string) *Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.jobs[id]
}

// ListJobs returns all jobs, most recent first.
func (m *JobManager) ListJobs() []*Job {
	m.mu.RLock()
	jobs := slices.Collect(maps.Values(m.jobs))
	m.mu.RUnlock()

	slices.SortFunc(jobs, func(a, b *Job) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	return jobs
}

// UpdateProgress updates job progress with debounced DB persistence.
func (m *JobManager) UpdateProgress(ctx context.Context, job *Job, current int) {
	job.mu.Lock()
	job.Progress = current
	total := job.Total
	if job.Status == JobStatusPending {
		job.Status = JobStatusRunning
	}

	// Persist every 5 seconds, every 10 products, and at the end.
	shouldPersist := m.store != nil && (time.Since(job.lastProgressUpdate) > 5*time.Second ||
		current%10 == 0 || current == total)
	if shouldPersist {
		job.lastProgressUpdate = time.Now()
	}
	job.mu.Unlock()

	if shouldPersist {
		if err := m.store.UpdateJobProgress(ctx, job.ID, current); err != nil {
			m.logger.Warn("failed to persist job progress", "job_id", job.ID, "error", err)
		}
	}
}

// SetRunning marks the job running.
func (m *JobManager) SetRunning(ctx context.Context, job *Job) {
	job.mu.Lock()
	job.Status = JobStatusRunning
	job.mu.Unlock()

	if m.store != nil {
		if err := m.store.UpdateJobStatus(ctx, job.ID, string(JobStatusRunning)); err != nil {
			m.logger.Warn("failed to set job running", "job_id", job.ID, "error", err)
		}
	}
}

// Complete marks the job completed with result.
func (m *JobManager) Complete(ctx context.Context, job *Job, result *BatchResult) {
	job.mu.Lock()
	job.Status = JobStatusCompleted
	job.Result = result
	job.Progress = job.Total
	now := time.Now()
	job.CompletedAt = &now
	job.mu.Unlock()

	if m.store != nil {
		if err := m.store.CompleteJob(ctx, job.ID, result.Map()); err != nil {
			m.logger.Warn("failed to persist job completion", "job_id", job.ID, "error", err)
		}
	}

	m.logger.Info("job completed",
		"job_id", job.ID,
		"succeeded", result.Succeeded,
		"partial", result.Partial,
		"failed", result.Failed,
		"errors", len(result.Errors))
}

// Fail marks the job failed. A partial result is kept for reporting.
func (m *JobManager) Fail(ctx context.Context, job *Job, result *BatchResult, err error) {
	job.mu.Lock()
	job.Status = JobStatusFailed
	job.Result = result
	job.Error = err.Error()
	now := time.Now()
	job.CompletedAt = &now
	job.mu.Unlock()

	if m.store != nil {
		if dbErr := m.store.FailJob(ctx, job.ID, err.Error()); dbErr != nil {
			m.logger.Warn("failed to persist job failure", "job_id", job.ID, "error", dbErr)
		}
	}

	m.logger.Error("job failed", "job_id", job.ID, "error", err)
}

// Execute runs job over sources, which default to all of the job's sources,
// and records the final status. It blocks until the batch is done.
func (m *JobManager) Execute(ctx context.Context, job *Job, sources []string) (*BatchResult, error) {
	if sources == nil {
		sources = job.Sources
	}
	m.SetRunning(ctx, job)

	result, err := m.process(ctx, job, sources)
	if err != nil {
		m.Fail(context.WithoutCancel(ctx), job, result, err)
		return result, err
	}
	m.Complete(context.WithoutCancel(ctx), job, result)
	return result, nil
}

// Start creates a job and runs it in the background.
func (m *JobManager) Start(ctx context.Context, name string, sources []string, targets []models.Target) (*Job, error) {
	job, err := m.CreateJob(ctx, name, sources, targets)
	if err != nil {
		return nil, err
	}
	m.background(job, job.Sources)
	return job, nil
}

func (m *JobManager) background(job *Job, sources []string) {
	go func() {
		bgCtx := context.Background()
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error("job goroutine panicked", "job_id", job.ID, "panic", r)
				m.Fail(bgCtx, job, nil, fmt.Errorf("internal panic: %v", r))
			}
		}()
		_, _ = m.Execute(bgCtx, job, sources)
	}()
}

// process is the worker pool. Each product runs under its own context; a
// fatal provider error cancels the remaining products and is returned.
func (m *JobManager) process(ctx context.Context, job *Job, sources []string) (*BatchResult, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	startProgress := job.Total - len(sources)
	m.logger.Info("starting batch", "job_id", job.ID, "products", len(sources), "total", job.Total, "concurrency", m.concurrency)

	var (
		processed atomic.Int32
		resultMu  sync.Mutex
		result    = newBatchResult()
		fatalOnce sync.Once
		fatalErr  error
	)

	work := make(chan string, len(sources))
	var wg sync.WaitGroup

	for i := 0; i < m.concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for path := range work {
				if runCtx.Err() != nil {
					return
				}

				outcome, err := m.processOne(runCtx, job, path)
				if err != nil && !errors.Is(err, llm.ErrFatalAPI) {
					m.logger.Warn("skipping product", "worker", workerID, "source", filepath.Base(path), "error", err)
					resultMu.Lock()
					result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", path, err))
					resultMu.Unlock()
				} else {
					resultMu.Lock()
					result.add(outcome)
					resultMu.Unlock()
				}
				if errors.Is(err, llm.ErrFatalAPI) {
					fatalOnce.Do(func() {
						fatalErr = err
						cancel()
					})
				}

				current := startProgress + int(processed.Add(1))
				m.UpdateProgress(ctx, job, current)
			}
		}(i)
	}

	for _, path := range sources {
		work <- path
	}
	close(work)
	wg.Wait()

	m.logger.Info("batch processing complete",
		"job_id", job.ID,
		"processed", result.Processed,
		"errors", len(result.Errors))

	if fatalErr != nil {
		return result, fmt.Errorf("batch stopped: %w", fatalErr)
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, nil
}

// processOne publishes one source file. A returned error without an outcome
// means the source could not be read.
func (m *JobManager) processOne(ctx context.Context, job *Job, path string) (models.ProductOutcome, error) {
	draft, err := ReadDraft(path)
	if err != nil {
		return models.ProductOutcome{}, err
	}

	pctx, cancel := ctx, context.CancelFunc(func() {})
	if m.productTimeout > 0 {
		pctx, cancel = context.WithTimeout(ctx, m.productTimeout)
	}
	defer cancel()

	outcome, err := m.processor.Process(pctx, draft, job.Targets)
	if m.store != nil {
		if serr := m.store.SaveOutcome(context.WithoutCancel(ctx), job.ID, path, outcome); serr != nil {
			m.logger.Warn("failed to persist outcome", "job_id", job.ID, "source_id", draft.SourceID, "error", serr)
		}
	}
	return outcome, err
}

// ResumeIncompleteJobs resumes jobs a previous process left pending or
// running. Products that already have a stored outcome are skipped.
func (m *JobManager) ResumeIncompleteJobs(ctx context.Context) error {
	if m.store == nil {
		return nil
	}

	incomplete, err := m.store.GetIncompleteJobs(ctx)
	if err != nil {
		return err
	}
	if len(incomplete) == 0 {
		m.logger.Info("no incomplete jobs to resume")
		return nil
	}
	m.logger.Info("found incomplete jobs", "count", len(incomplete))

	for _, dbJob := range incomplete {
		jobID, err := models.RecordIDString(dbJob.ID)
		if err != nil {
			m.logger.Warn("failed to get job ID", "error", err)
			continue
		}

		targets, err := models.ParseTargets(dbJob.Targets)
		if err != nil {
			m.logger.Warn("stored job has invalid targets", "job_id", jobID, "error", err)
			if ferr := m.store.FailJob(ctx, jobID, err.Error()); ferr != nil {
				m.logger.Warn("failed to persist job failure", "job_id", jobID, "error", ferr)
			}
			continue
		}

		done, err := m.store.ProcessedSources(ctx, jobID)
		if err != nil {
			m.logger.Warn("failed to check processed sources", "job_id", jobID, "error", err)
			continue
		}
		processedSet := make(map[string]bool, len(done))
		for _, p := range done {
			processedSet[p] = true
		}
		pending := make([]string, 0, len(dbJob.Sources))
		for _, s := range dbJob.Sources {
			if !processedSet[s] {
				pending = append(pending, s)
			}
		}

		m.logger.Info("resuming job",
			"job_id", jobID,
			"total", len(dbJob.Sources),
			"processed", len(dbJob.Sources)-len(pending),
			"pending", len(pending))

		if len(pending) == 0 {
			if err := m.store.CompleteJob(ctx, jobID, map[string]any{
				"processed": len(dbJob.Sources),
				"resumed":   true,
			}); err != nil {
				m.logger.Warn("failed to mark resumed job complete", "job_id", jobID, "error", err)
			}
			continue
		}

		var name string
		if dbJob.Name != nil {
			name = *dbJob.Name
		}
		job := &Job{
			ID:        jobID,
			Status:    JobStatusRunning,
			Name:      name,
			Sources:   dbJob.Sources,
			Targets:   targets,
			Progress:  len(dbJob.Sources) - len(pending),
			Total:     len(dbJob.Sources),
			StartedAt: dbJob.StartedAt,
		}
		m.RegisterJob(job)
		m.background(job, pending)
	}
	return nil
}

// ReadDraft loads and validates one product record file.
func ReadDraft(path string) (models.ProductDraft, error) {
	f, err := os.Open(path)
	if err != nil {
		return models.ProductDraft{}, fmt.Errorf("read product: %w", err)
	}
	defer f.Close()

	rec, err := models.DecodeSourceRecord(f)
	if err != nil {
		return models.ProductDraft{}, err
	}
	return rec.Draft(), nil
}

func targetKeys(targets []models.Target) []string {
	keys := make([]string, len(targets))
	for i, t := range targets {
		keys[i] = t.String()
	}
	return keys
}
