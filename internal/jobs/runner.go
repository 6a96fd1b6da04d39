package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"rtm/internal/config"
	rtmerrors "rtm/internal/errors"
	"rtm/internal/metrics"
	"rtm/internal/model"
)

// Runner executes queued commit jobs on a pool of workers.
type Runner struct {
	store     *Store
	committer Committer
	logger    *slog.Logger
	metrics   *metrics.Collectors

	queue       chan *Job
	queueSize   int
	workerCount int

	// Control channels
	done     chan struct{}
	stopOnce sync.Once
	cancel   map[string]context.CancelFunc

	mu sync.RWMutex
	wg sync.WaitGroup

	processedCount atomic.Int64
	failedCount    atomic.Int64

	// How often the store is scanned for jobs that did not fit the queue
	recoveryInterval time.Duration
}

// RunnerConfig contains configuration for the job runner.
type RunnerConfig struct {
	QueueSize        int
	WorkerCount      int
	RecoveryInterval time.Duration
}

// DefaultRunnerConfig returns the default runner configuration.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		QueueSize:        100,
		WorkerCount:      4,
		RecoveryInterval: 30 * time.Second,
	}
}

// RunnerConfigFrom reads the runner settings of a configuration.
func RunnerConfigFrom(cfg config.JobsConfig) RunnerConfig {
	return RunnerConfig{
		QueueSize:        cfg.QueueSize,
		WorkerCount:      cfg.Workers,
		RecoveryInterval: time.Duration(cfg.RecoveryIntervalMs) * time.Millisecond,
	}
}

// NewRunner creates a new job runner. collectors may be nil.
func NewRunner(store *Store, committer Committer, logger *slog.Logger, collectors *metrics.Collectors, cfg RunnerConfig) *Runner {
	defaults := DefaultRunnerConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaults.QueueSize
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = defaults.WorkerCount
	}
	if cfg.RecoveryInterval <= 0 {
		cfg.RecoveryInterval = defaults.RecoveryInterval
	}

	return &Runner{
		store:            store,
		committer:        committer,
		logger:           logger,
		metrics:          collectors,
		queue:            make(chan *Job, cfg.QueueSize),
		queueSize:        cfg.QueueSize,
		workerCount:      cfg.WorkerCount,
		done:             make(chan struct{}),
		cancel:           make(map[string]context.CancelFunc),
		recoveryInterval: cfg.RecoveryInterval,
	}
}

// Start requeues jobs orphaned by a previous process and begins processing.
func (r *Runner) Start(ctx context.Context) error {
	r.logger.Info("Starting job runner",
		"workers", r.workerCount,
		"queue_size", r.queueSize,
		"recovery_interval", r.recoveryInterval.String(),
	)

	orphaned, err := r.store.RequeueOrphaned(ctx)
	if err != nil {
		return err
	}
	if orphaned > 0 {
		r.logger.Warn("Requeued interrupted jobs", "count", orphaned)
	}

	for i := 0; i < r.workerCount; i++ {
		r.wg.Add(1)
		go r.worker(i)
	}

	r.wg.Add(1)
	go r.recoveryLoop()

	r.recoverPendingJobs()
	return nil
}

// recoveryLoop periodically enqueues persisted jobs that did not fit the
// queue when they were submitted.
func (r *Runner) recoveryLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.recoveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.recoverPendingJobs()
		case <-r.done:
			r.logger.Debug("Recovery loop stopping")
			return
		}
	}
}

func (r *Runner) recoverPendingJobs() {
	pending, err := r.store.GetPendingJobs(context.Background())
	if err != nil {
		r.logger.Warn("Failed to recover pending jobs", "error", err.Error())
		return
	}
	if len(pending) == 0 {
		return
	}

	recovered := 0
enqueue:
	for _, job := range pending {
		select {
		case r.queue <- job:
			recovered++
		default:
			// Queue still full, will retry on next interval
			break enqueue
		}
	}
	r.metrics.SetQueueDepth(len(r.queue))

	if recovered > 0 {
		r.logger.Info("Recovered pending jobs",
			"recovered", recovered,
			"remaining", len(pending)-recovered,
		)
	}
}

// Stop gracefully shuts down the runner. Running commits are cancelled and
// roll back; their jobs stay cancelled.
func (r *Runner) Stop(timeout time.Duration) error {
	r.logger.Info("Stopping job runner")

	r.stopOnce.Do(func() { close(r.done) })

	r.mu.Lock()
	for id, cancel := range r.cancel {
		r.logger.Debug("Cancelling running job", "job_id", id)
		cancel()
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("Job runner stopped cleanly")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("job runner shutdown timed out after %v", timeout)
	}
}

// Submit persists a job and queues it.
func (r *Runner) Submit(ctx context.Context, job *Job) error {
	if err := r.store.CreateJob(ctx, job); err != nil {
		return fmt.Errorf("failed to persist job: %w", err)
	}

	select {
	case r.queue <- job:
		r.metrics.SetQueueDepth(len(r.queue))
		r.logger.Debug("Job queued", "job_id", job.ID, "version_id", job.VersionID)
		return nil
	case <-time.After(100 * time.Millisecond):
		// Queue is full, job remains in database and will be picked up later
		r.logger.Warn("Job queue full, job will be processed later", "job_id", job.ID)
		return nil
	case <-r.done:
		return fmt.Errorf("runner is shutting down")
	}
}

// Cancel attempts to cancel a job. A running commit is interrupted and
// rolled back.
func (r *Runner) Cancel(ctx context.Context, jobID string) error {
	job, err := r.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return rtmerrors.Newf(rtmerrors.InvalidArgument, "job not found: %s", jobID)
	}
	if !job.CanCancel() {
		return rtmerrors.Newf(rtmerrors.InvalidArgument, "job cannot be cancelled in state: %s", job.Status)
	}

	r.mu.Lock()
	if cancel, ok := r.cancel[jobID]; ok {
		cancel()
	}
	r.mu.Unlock()

	job.MarkCancelled()
	return r.store.UpdateJob(ctx, job)
}

// GetJob retrieves a job by ID.
func (r *Runner) GetJob(ctx context.Context, jobID string) (*Job, error) {
	return r.store.GetJob(ctx, jobID)
}

// ListJobs lists jobs with filters.
func (r *Runner) ListJobs(ctx context.Context, opts ListJobsOptions) (*ListJobsResponse, error) {
	return r.store.ListJobs(ctx, opts)
}

// Wait polls until the job reaches a terminal state or ctx ends.
func (r *Runner) Wait(ctx context.Context, jobID string, interval time.Duration) (*Job, error) {
	return r.store.Wait(ctx, jobID, interval)
}

// worker processes jobs from the queue.
func (r *Runner) worker(id int) {
	defer r.wg.Done()

	r.logger.Debug("Job worker started", "worker_id", id)

	for {
		select {
		case job, ok := <-r.queue:
			if !ok {
				return
			}
			r.metrics.SetQueueDepth(len(r.queue))
			r.processJob(job)

		case <-r.done:
			r.logger.Debug("Job worker stopping", "worker_id", id)
			return
		}
	}
}

// processJob executes a single job.
func (r *Runner) processJob(job *Job) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	claimed, err := r.store.Claim(ctx, job)
	if err != nil {
		r.logger.Error("Failed to claim job", "job_id", job.ID, "error", err.Error())
		return
	}
	if !claimed {
		r.logger.Debug("Job no longer queued, skipping", "job_id", job.ID)
		return
	}

	r.mu.Lock()
	r.cancel[job.ID] = cancel
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.cancel, job.ID)
		r.mu.Unlock()
	}()

	r.logger.Info("Processing job", "job_id", job.ID, "version_id", job.VersionID, "attempt", job.Attempts)

	startTime := time.Now()
	result, err := r.commit(ctx, job)
	duration := time.Since(startTime)

	switch {
	case err == nil:
		job.MarkCompleted(result)
		r.processedCount.Add(1)
		r.logger.Info("Job completed",
			"job_id", job.ID,
			"accepted", len(result.Accepted),
			"rejected", len(result.Errors),
			"duration", duration.String(),
		)
	case errors.Is(ctx.Err(), context.Canceled):
		job.MarkCancelled()
		r.logger.Info("Job cancelled", "job_id", job.ID, "duration", duration.String())
	default:
		// A rejected all-or-nothing commit still reports what was wrong.
		if !rtmerrors.Is(err, rtmerrors.CommitRejected) {
			result = nil
		}
		job.MarkFailed(err, result)
		r.failedCount.Add(1)
		r.logger.Error("Job failed",
			"job_id", job.ID,
			"code", string(rtmerrors.CodeOf(err)),
			"error", err.Error(),
			"duration", duration.String(),
		)
	}
	r.metrics.JobFinished(string(job.Status))

	if err := r.store.UpdateJob(context.Background(), job); err != nil {
		r.logger.Error("Failed to save job final state", "job_id", job.ID, "error", err.Error())
	}
}

// commit runs the job's request, turning a panic into INTERNAL_ERROR so the
// job is marked failed and the worker keeps running.
func (r *Runner) commit(ctx context.Context, job *Job) (result *model.CommitResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("Panic recovered",
				"job_id", job.ID,
				"error", fmt.Sprintf("%v", p),
				"stack", string(debug.Stack()),
			)
			result = nil
			err = rtmerrors.Newf(rtmerrors.InternalError, "commit panicked: %v", p)
		}
	}()
	return r.committer.Commit(ctx, job.Request)
}

// Stats returns runner statistics.
func (r *Runner) Stats() map[string]interface{} {
	r.mu.RLock()
	runningCount := len(r.cancel)
	r.mu.RUnlock()

	return map[string]interface{}{
		"queueLength":    len(r.queue),
		"queueCapacity":  r.queueSize,
		"runningJobs":    runningCount,
		"processedTotal": r.processedCount.Load(),
		"failedTotal":    r.failedCount.Load(),
		"workerCount":    r.workerCount,
	}
}

// QueueLength returns the current queue length.
func (r *Runner) QueueLength() int {
	return len(r.queue)
}

// IsRunning returns true if the runner is active.
func (r *Runner) IsRunning() bool {
	select {
	case <-r.done:
		return false
	default:
		return true
	}
}
