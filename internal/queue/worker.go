package queue

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shirou/gopsutil/v3/cpu"

	"github.com/R3E-Network/realtime-resource-server/infrastructure/logging"
)

// WorkerPoolConfig configures Worker.
type WorkerPoolConfig struct {
	// Concurrency bounds how many job functions run at once. Zero selects
	// the number of available cores (spec.md §4.3 default).
	Concurrency int
	// PollInterval is how often an idle worker checks for newly visible jobs.
	PollInterval time.Duration
	// ReapInterval schedules the lease-expiry sweep (cron-driven).
	ReapInterval time.Duration
}

// DefaultConcurrency returns the number of cores to default a worker pool
// to, via gopsutil (falling back to runtime.NumCPU on read failure).
func DefaultConcurrency() int {
	if counts, err := cpu.Counts(true); err == nil && counts > 0 {
		return counts
	}
	return runtime.NumCPU()
}

// Worker pulls jobs from a Queue and executes them on a bounded pool.
type Worker struct {
	queue  *Queue
	logger *logging.Logger
	cfg    WorkerPoolConfig

	sem  chan struct{}
	stop chan struct{}
	cron *cron.Cron
}

// NewWorker constructs a Worker bound to q.
func NewWorker(q *Queue, logger *logging.Logger, cfg WorkerPoolConfig) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = 30 * time.Second
	}
	return &Worker{
		queue:  q,
		logger: logger,
		cfg:    cfg,
		sem:    make(chan struct{}, cfg.Concurrency),
		stop:   make(chan struct{}),
	}
}

// Start begins polling for dispatchable jobs and scheduling the lease reaper.
// It returns immediately; call Stop to shut down.
func (w *Worker) Start(ctx context.Context) {
	w.cron = cron.New()
	spec := fmt.Sprintf("@every %s", w.cfg.ReapInterval)
	w.cron.AddFunc(spec, func() { w.reapExpiredLeases(ctx) })
	w.cron.Start()

	go w.pollLoop(ctx)
}

// Stop halts polling and the lease reaper.
func (w *Worker) Stop() {
	close(w.stop)
	if w.cron != nil {
		w.cron.Stop()
	}
}

func (w *Worker) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.dispatchReady(ctx)
		}
	}
}

// dispatchReady claims every currently-visible pending job it can get a
// free pool slot for.
func (w *Worker) dispatchReady(ctx context.Context) {
	for {
		select {
		case w.sem <- struct{}{}:
		default:
			return // pool is saturated
		}

		job, claimed := w.claimNext(ctx)
		if !claimed {
			<-w.sem
			return
		}

		go func() {
			defer func() { <-w.sem }()
			w.run(ctx, job)
		}()
	}
}

// claimNext finds the oldest visible job and atomically claims it by
// removing it from the pending sorted set. Multiple worker processes race
// here; ZRemClaim's removed-count reports which one wins.
func (w *Worker) claimNext(ctx context.Context) (*Job, bool) {
	now := time.Now().UTC()
	candidates, err := w.queue.store.ZRangeByScore(ctx, pendingKey, "-inf", strconv.FormatInt(now.Unix(), 10), 10)
	if err != nil || len(candidates) == 0 {
		return nil, false
	}

	for _, jobID := range candidates {
		claimed, err := w.queue.store.ZRemClaim(ctx, pendingKey, jobID)
		if err != nil || !claimed {
			continue
		}

		job, ok, err := w.queue.loadJob(ctx, jobID)
		if err != nil || !ok {
			continue
		}

		job.Status = StatusInFlight
		w.queue.saveJob(ctx, job)
		leaseExpiry := time.Now().Add(w.queue.leaseDuration)
		w.queue.store.ZAdd(ctx, leasedKey, float64(leaseExpiry.Unix()), job.ID)
		return job, true
	}
	return nil, false
}

func (w *Worker) run(ctx context.Context, job *Job) {
	fn, ok := w.queue.registry[job.Function]
	if !ok {
		job.LastError = fmt.Sprintf("no handler registered for function %q", job.Function)
		w.finishDead(ctx, job)
		return
	}

	start := time.Now()
	publish := func(subject string, payload interface{}) { w.queue.Publish(ctx, subject, payload) }

	err := fn(ctx, job, publish)
	w.queue.store.ZRem(ctx, leasedKey, job.ID)

	if err == nil {
		job.Status = StatusSucceeded
		w.queue.saveJob(ctx, job)
		if w.queue.metrics != nil {
			w.queue.metrics.RecordJobCompleted(job.Function, "succeeded", time.Since(start))
		}
		return
	}

	job.LastError = err.Error()
	if job.Attempt+1 > job.MaxRetries+1 {
		w.finishDead(ctx, job)
		if w.queue.metrics != nil {
			w.queue.metrics.RecordJobCompleted(job.Function, "dead", time.Since(start))
		}
		return
	}

	job.Attempt++
	job.Status = StatusRetryScheduled
	base := w.queue.baseBackoff
	if job.BaseBackoff > 0 {
		base = job.BaseBackoff
	}
	backoff := w.queue.backoffFrom(base, job.Attempt-1)
	job.ScheduledTime = time.Now().Add(backoff)
	w.queue.saveJob(ctx, job)
	w.queue.store.ZAdd(ctx, pendingKey, float64(job.ScheduledTime.Unix()), job.ID)

	if w.queue.metrics != nil {
		w.queue.metrics.RecordJobCompleted(job.Function, "retry_scheduled", time.Since(start))
	}
	if w.logger != nil {
		w.logger.WithContext(ctx).WithFields(map[string]interface{}{
			"subsystem": "queue",
			"job_id":    job.ID,
			"function":  job.Function,
			"attempt":   job.Attempt,
			"error":     job.LastError,
		}).Warn("job attempt failed, retry scheduled")
	}
}

func (w *Worker) finishDead(ctx context.Context, job *Job) {
	job.Status = StatusDead
	w.queue.saveJob(ctx, job)
	if w.logger != nil {
		w.logger.WithContext(ctx).WithFields(map[string]interface{}{
			"subsystem": "queue",
			"job_id":    job.ID,
			"function":  job.Function,
			"error":     job.LastError,
		}).Error("job exhausted retries, moved to dead")
	}
}

// reapExpiredLeases returns jobs whose worker lease expired without
// completion back to the pending set for another attempt.
func (w *Worker) reapExpiredLeases(ctx context.Context) {
	now := time.Now().UTC()
	expired, err := w.queue.store.ZRangeByScore(ctx, leasedKey, "-inf", strconv.FormatInt(now.Unix(), 10), 100)
	if err != nil || len(expired) == 0 {
		return
	}
	for _, jobID := range expired {
		claimed, err := w.queue.store.ZRemClaim(ctx, leasedKey, jobID)
		if err != nil || !claimed {
			continue
		}
		w.queue.store.ZAdd(ctx, pendingKey, float64(now.Unix()), jobID)
		if w.logger != nil {
			w.logger.WithContext(ctx).WithFields(map[string]interface{}{
				"subsystem": "queue",
				"job_id":    jobID,
			}).Warn("worker lease expired, job returned to queue")
		}
	}
}
