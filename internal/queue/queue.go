// Package queue implements the durable background job queue: submission,
// FIFO-subject-to-delay dispatch, worker leasing and exponential-backoff
// retry (spec.md §4.3). State lives entirely in the shared store so any
// number of worker processes can consume it concurrently.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/R3E-Network/realtime-resource-server/infrastructure/errors"
	"github.com/R3E-Network/realtime-resource-server/infrastructure/logging"
	"github.com/R3E-Network/realtime-resource-server/infrastructure/metrics"
	"github.com/R3E-Network/realtime-resource-server/infrastructure/store"
	"github.com/R3E-Network/realtime-resource-server/internal/ids"
)

// Status is a job's lifecycle state.
type Status string

const (
	StatusQueued         Status = "queued"
	StatusInFlight       Status = "in_flight"
	StatusSucceeded      Status = "succeeded"
	StatusFailed         Status = "failed"
	StatusRetryScheduled Status = "retry_scheduled"
	StatusDead           Status = "dead"
)

const (
	pendingKey = "queue:pending"
	leasedKey  = "queue:leased"
	jobKeyFmt  = "queue:job:%s"
	idemKeyFmt = "queue:idempotency:%s"

	defaultMaxRetries      = 5
	defaultBaseBackoff     = 1 * time.Second
	defaultBackoffCeiling  = time.Hour
	defaultLeaseDuration   = 60 * time.Second
	defaultIdempotencyTTL  = 10 * time.Minute
)

// Job is one unit of queued work.
type Job struct {
	ID            string          `json:"id"`
	Function      string          `json:"function"`
	Args          json.RawMessage `json:"args"`
	Status        Status          `json:"status"`
	Attempt       int             `json:"attempt"`
	MaxRetries    int             `json:"max_retries"`
	EnqueueTime   time.Time       `json:"enqueue_time"`
	ScheduledTime time.Time       `json:"scheduled_time"`
	Key           string          `json:"key,omitempty"`
	LastError     string          `json:"last_error,omitempty"`
	// BaseBackoff overrides the queue's default backoff base for this job's
	// retries (e.g. a webhook subscription's own base_backoff_seconds).
	// Zero means "use the queue's configured default".
	BaseBackoff time.Duration `json:"base_backoff,omitempty"`
}

// Func is a registered job implementation. publish forwards a JSON-encoded
// progress message to subject (typically "task_notifications:<entity_id>").
type Func func(ctx context.Context, job *Job, publish func(subject string, payload interface{})) error

// EnqueueOptions configures a single Enqueue call.
type EnqueueOptions struct {
	Delay      time.Duration
	Deadline   *time.Time
	Key        string
	MaxRetries int
	// BaseBackoff, when set, overrides the queue's default backoff base for
	// this job's retries. See Job.BaseBackoff.
	BaseBackoff time.Duration
}

// Queue is the durable, store-backed job queue.
type Queue struct {
	store          *store.Store
	logger         *logging.Logger
	metrics        *metrics.Metrics
	baseBackoff    time.Duration
	backoffCeiling time.Duration
	leaseDuration  time.Duration

	registry map[string]Func
}

// Config configures a Queue.
type Config struct {
	Store          *store.Store
	Logger         *logging.Logger
	Metrics        *metrics.Metrics
	BaseBackoff    time.Duration
	BackoffCeiling time.Duration
	LeaseDuration  time.Duration
}

// New constructs a Queue.
func New(cfg Config) *Queue {
	base := cfg.BaseBackoff
	if base <= 0 {
		base = defaultBaseBackoff
	}
	ceiling := cfg.BackoffCeiling
	if ceiling <= 0 {
		ceiling = defaultBackoffCeiling
	}
	lease := cfg.LeaseDuration
	if lease <= 0 {
		lease = defaultLeaseDuration
	}
	return &Queue{
		store:          cfg.Store,
		logger:         cfg.Logger,
		metrics:        cfg.Metrics,
		baseBackoff:    base,
		backoffCeiling: ceiling,
		leaseDuration:  lease,
		registry:       make(map[string]Func),
	}
}

// Register binds a job function implementation to a name. Built-in job
// families and webhook delivery are registered this way at startup rather
// than the queue importing their packages directly, avoiding an import
// cycle with internal/webhook.
func (q *Queue) Register(name string, fn Func) {
	q.registry[name] = fn
}

// Enqueue submits a job for later dispatch, returning its opaque job id.
// A non-empty Key enforces idempotency: a second Enqueue with the same key
// returns the original job id unchanged for as long as the key's entry
// lives, which is defaultIdempotencyTTL (10 minutes), or until Deadline when
// one is set. The entry is not tied to the job's state: it outlives a job
// that finishes early and can expire while the job is still queued.
func (q *Queue) Enqueue(ctx context.Context, function string, args interface{}, opts EnqueueOptions) (string, error) {
	encodedArgs, err := json.Marshal(args)
	if err != nil {
		return "", errors.Internal("failed to encode job args", err)
	}

	if opts.Key != "" {
		idemKey := fmt.Sprintf(idemKeyFmt, opts.Key)
		if existing, ok, err := q.store.Get(ctx, idemKey); err == nil && ok {
			return existing, nil
		}
	}

	now := time.Now().UTC()
	scheduled := now
	if opts.Delay > 0 {
		scheduled = now.Add(opts.Delay)
	}

	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	job := &Job{
		ID:            ids.NewJobID(),
		Function:      function,
		Args:          encodedArgs,
		Status:        StatusQueued,
		Attempt:       1,
		MaxRetries:    maxRetries,
		EnqueueTime:   now,
		ScheduledTime: scheduled,
		Key:           opts.Key,
		BaseBackoff:   opts.BaseBackoff,
	}

	if err := q.saveJob(ctx, job); err != nil {
		return "", err
	}
	if err := q.store.ZAdd(ctx, pendingKey, float64(scheduled.Unix()), job.ID); err != nil {
		return "", errors.UpstreamTransient("enqueue", err)
	}

	if opts.Key != "" {
		idemKey := fmt.Sprintf(idemKeyFmt, opts.Key)
		ttl := defaultIdempotencyTTL
		if opts.Deadline != nil {
			if d := time.Until(*opts.Deadline); d > 0 {
				ttl = d
			}
		}
		_, _ = q.store.SetNX(ctx, idemKey, job.ID, ttl)
	}

	if q.metrics != nil {
		q.metrics.RecordJobEnqueued(function)
	}
	return job.ID, nil
}

// Status returns the current state of one job.
func (q *Queue) Status(ctx context.Context, jobID string) (*Job, bool, error) {
	return q.loadJob(ctx, jobID)
}

// Publish forwards a JSON-encoded progress message through the shared
// store's pub/sub facility, per spec.md §4.3 and the uniform-JSON-encoding
// design note in spec.md §9.
func (q *Queue) Publish(ctx context.Context, subject string, payload interface{}) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		if q.logger != nil {
			q.logger.LogWebhookFailure(ctx, subject, err)
		}
		return
	}
	if err := q.store.Publish(ctx, subject, encoded); err != nil && q.logger != nil {
		q.logger.WithContext(ctx).WithFields(map[string]interface{}{
			"subsystem": "queue",
			"subject":   subject,
			"error":     err.Error(),
		}).Warn("progress publish failed")
	}
}

// Depth returns the current number of jobs awaiting dispatch, used to feed
// the queue_depth gauge.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	return q.store.ZCount(ctx, pendingKey, "-inf", "+inf")
}

// ReportDepth publishes the current pending-job count to metrics. Intended
// to be called on a periodic ticker by cmd/server.
func (q *Queue) ReportDepth(ctx context.Context) {
	if q.metrics == nil {
		return
	}
	depth, err := q.Depth(ctx)
	if err != nil {
		return
	}
	q.metrics.SetQueueDepth("default", int(depth))
}

func (q *Queue) saveJob(ctx context.Context, job *Job) error {
	encoded, err := json.Marshal(job)
	if err != nil {
		return errors.Internal("failed to encode job record", err)
	}
	key := fmt.Sprintf(jobKeyFmt, job.ID)
	if err := q.store.Set(ctx, key, string(encoded), 0); err != nil {
		return errors.UpstreamTransient("save_job", err)
	}
	return nil
}

func (q *Queue) loadJob(ctx context.Context, jobID string) (*Job, bool, error) {
	key := fmt.Sprintf(jobKeyFmt, jobID)
	raw, ok, err := q.store.Get(ctx, key)
	if err != nil {
		return nil, false, errors.UpstreamTransient("load_job", err)
	}
	if !ok {
		return nil, false, nil
	}
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, false, errors.Internal("failed to decode job record", err)
	}
	return &job, true, nil
}

// nextBackoff computes the queue's default base*2^(attempt-1), capped at the
// configured ceiling.
func (q *Queue) nextBackoff(attempt int) time.Duration {
	return q.backoffFrom(q.baseBackoff, attempt)
}

// NextBackoff computes base*2^(attempt-1), capped at the queue's configured
// ceiling, using the caller-supplied base rather than the queue's default.
// Exposed so a job family that reschedules with its own backoff base (e.g.
// webhook deliveries, per subscription) can derive the exact duration the
// queue will use when it reschedules the job, instead of approximating it
// independently and risking the two values drifting apart.
func (q *Queue) NextBackoff(base time.Duration, attempt int) time.Duration {
	return q.backoffFrom(base, attempt)
}

func (q *Queue) backoffFrom(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	backoff := base
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if backoff >= q.backoffCeiling {
			return q.backoffCeiling
		}
	}
	if backoff > q.backoffCeiling {
		return q.backoffCeiling
	}
	return backoff
}

