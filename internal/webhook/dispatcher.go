package webhook

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/R3E-Network/realtime-resource-server/infrastructure/cache"
	svcerrors "github.com/R3E-Network/realtime-resource-server/infrastructure/errors"
	"github.com/R3E-Network/realtime-resource-server/infrastructure/logging"
	"github.com/R3E-Network/realtime-resource-server/infrastructure/metrics"
	"github.com/R3E-Network/realtime-resource-server/internal/ids"
	"github.com/R3E-Network/realtime-resource-server/internal/queue"
)

// activeSubsCacheTTL bounds how stale the active-subscription lookup in
// TriggerEvent may be. Short enough that a new subscription starts receiving
// events within a couple of seconds of being created.
const activeSubsCacheTTL = 2 * time.Second

// DeliverFuncName is the queue function name the dispatcher registers for
// the "webhook delivery is a job like any other" requirement in spec.md §4.3.
const DeliverFuncName = "webhook.deliver"

// Enqueuer is the subset of internal/queue.Queue the dispatcher needs.
// Delivery runs as an ordinary job; the dispatcher registers its own
// handler rather than queue importing this package, avoiding a cycle.
type Enqueuer interface {
	Register(name string, fn queue.Func)
	Enqueue(ctx context.Context, function string, args interface{}, opts queue.EnqueueOptions) (string, error)
	NextBackoff(base time.Duration, attempt int) time.Duration
}

// Config wires a Dispatcher's dependencies.
type Config struct {
	DB      *sqlx.DB
	Queue   Enqueuer
	Logger  *logging.Logger
	Metrics *metrics.Metrics
	Source  string
}

// Dispatcher is the webhook subsystem's entry point: subscription
// management, event matching, and the registered delivery job.
type Dispatcher struct {
	repo      *repository
	queue     Enqueuer
	logger    *logging.Logger
	metrics   *metrics.Metrics
	source    string
	audit     *auditLogger
	client    *deliveryClient
	subsCache *cache.TTLCache
}

// New constructs a Dispatcher and registers its delivery job handler on cfg.Queue.
func New(cfg Config) *Dispatcher {
	source := cfg.Source
	if source == "" {
		source = "realtime-resource-server"
	}
	d := &Dispatcher{
		repo:      newRepository(cfg.DB),
		queue:     cfg.Queue,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		source:    source,
		audit:     newAuditLogger(nil),
		client:    newDeliveryClient(),
		subsCache: cache.NewTTLCache(activeSubsCacheTTL),
	}
	d.queue.Register(DeliverFuncName, d.deliverJob)
	return d
}

// CreateSubscription validates and persists a new webhook subscription.
func (d *Dispatcher) CreateSubscription(ctx context.Context, input SubscriptionInput) (*Subscription, error) {
	if input.URL == "" {
		return nil, svcerrors.InvalidInput("url", "required")
	}
	if len(input.Events) == 0 {
		return nil, svcerrors.InvalidInput("events", "at least one event is required")
	}
	for _, evt := range input.Events {
		if !IsCataloged(evt) {
			return nil, svcerrors.InvalidInput("events", "unknown event name: "+evt)
		}
	}
	if input.Secret == "" {
		return nil, svcerrors.InvalidInput("secret", "required")
	}

	now := time.Now().UTC()
	sub := &Subscription{
		ID:                 ids.NewSubscriptionID(),
		URL:                input.URL,
		Events:             input.Events,
		Filter:             input.Filter,
		Secret:             input.Secret,
		Headers:            input.Headers,
		Active:             true,
		MaxRetries:         defaultMaxRetries,
		BaseBackoffSeconds: defaultBaseBackoffSeconds,
		TimeoutSeconds:     defaultTimeoutSeconds,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	applyOptionalFields(sub, input)

	if err := d.repo.create(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// GetSubscription fetches one subscription by id.
func (d *Dispatcher) GetSubscription(ctx context.Context, id string) (*Subscription, error) {
	return d.repo.getByID(ctx, id)
}

// ListSubscriptions returns a page of subscriptions ordered newest first.
func (d *Dispatcher) ListSubscriptions(ctx context.Context, limit, offset int) ([]Subscription, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	return d.repo.list(ctx, limit, offset)
}

// UpdateSubscription applies a partial edit to an existing subscription.
func (d *Dispatcher) UpdateSubscription(ctx context.Context, id string, input SubscriptionInput) (*Subscription, error) {
	sub, err := d.repo.getByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if input.URL != "" {
		sub.URL = input.URL
	}
	if input.Events != nil {
		for _, evt := range input.Events {
			if !IsCataloged(evt) {
				return nil, svcerrors.InvalidInput("events", "unknown event name: "+evt)
			}
		}
		sub.Events = input.Events
	}
	if input.Filter != nil {
		sub.Filter = input.Filter
	}
	if input.Secret != "" {
		sub.Secret = input.Secret
	}
	if input.Headers != nil {
		sub.Headers = input.Headers
	}
	applyOptionalFields(sub, input)
	sub.UpdatedAt = time.Now().UTC()

	if err := d.repo.update(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

func applyOptionalFields(sub *Subscription, input SubscriptionInput) {
	if input.Active != nil {
		sub.Active = *input.Active
	}
	if input.MaxRetries != nil {
		sub.MaxRetries = *input.MaxRetries
	}
	if input.BaseBackoffSeconds != nil {
		sub.BaseBackoffSeconds = *input.BaseBackoffSeconds
	}
	if input.TimeoutSeconds != nil {
		sub.TimeoutSeconds = *input.TimeoutSeconds
	}
}

// DeleteSubscription removes a subscription. Delivery history referencing it
// is retained (weak reference, spec.md §3).
func (d *Dispatcher) DeleteSubscription(ctx context.Context, id string) (bool, error) {
	return d.repo.delete(ctx, id)
}

// ListDeliveries returns delivery history for one subscription.
func (d *Dispatcher) ListDeliveries(ctx context.Context, subscriptionID string, limit, offset int) ([]Delivery, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	return d.repo.listDeliveries(ctx, subscriptionID, limit, offset)
}

// ListAllDeliveries returns delivery history across every subscription.
func (d *Dispatcher) ListAllDeliveries(ctx context.Context, limit, offset int) ([]Delivery, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	return d.repo.listAllDeliveries(ctx, limit, offset)
}

// SubscriptionStats is the aggregate counters view of GET
// /webhooks/subscriptions/{id}/stats.
type SubscriptionStats struct {
	SubscriptionID       string     `json:"subscription_id"`
	TotalDeliveries      int64      `json:"total_deliveries"`
	SuccessfulDeliveries int64      `json:"successful_deliveries"`
	FailedDeliveries     int64      `json:"failed_deliveries"`
	LastDeliveryAt       *time.Time `json:"last_delivery_at"`
	LastSuccessAt        *time.Time `json:"last_success_at"`
	LastFailureAt        *time.Time `json:"last_failure_at"`
}

// Stats reports the aggregate delivery counters for one subscription.
func (d *Dispatcher) Stats(ctx context.Context, subscriptionID string) (*SubscriptionStats, error) {
	sub, err := d.repo.getByID(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	return &SubscriptionStats{
		SubscriptionID:       sub.ID,
		TotalDeliveries:      sub.TotalDeliveries,
		SuccessfulDeliveries: sub.SuccessfulDeliveries,
		FailedDeliveries:     sub.FailedDeliveries,
		LastDeliveryAt:       sub.LastDeliveryAt,
		LastSuccessAt:        sub.LastSuccessAt,
		LastFailureAt:        sub.LastFailureAt,
	}, nil
}

// deliverJobArgs is the payload enqueued per surviving subscription.
type deliverJobArgs struct {
	SubscriptionID string          `json:"subscription_id"`
	Payload        json.RawMessage `json:"payload"`
	EventType      string          `json:"event_type"`
}

// TriggerEvent fans an in-process domain event out to every active
// subscription whose event set and filter match, per spec.md §4.4. It
// satisfies internal/resource.EventTrigger; failures to enqueue are logged,
// never propagated, matching the engine's "fan-out failure is non-fatal"
// invariant.
func (d *Dispatcher) TriggerEvent(ctx context.Context, eventName string, data interface{}) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		if d.logger != nil {
			d.logger.LogWebhookFailure(ctx, "", err)
		}
		return
	}

	subs, err := d.activeSubscriptions(ctx, eventName)
	if err != nil {
		if d.logger != nil {
			d.logger.LogWebhookFailure(ctx, "", err)
		}
		return
	}

	payload := Payload{
		EventType: eventName,
		EventID:   ids.NewEventID(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Source:    d.source,
		Version:   "1.0",
		Data:      json.RawMessage(dataJSON),
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		if d.logger != nil {
			d.logger.LogWebhookFailure(ctx, "", err)
		}
		return
	}

	for _, sub := range subs {
		if !matchesFilter(dataJSON, sub.Filter) {
			continue
		}
		args := deliverJobArgs{SubscriptionID: sub.ID, Payload: payloadJSON, EventType: eventName}
		opts := queue.EnqueueOptions{MaxRetries: sub.MaxRetries}
		if sub.BaseBackoffSeconds > 0 {
			opts.BaseBackoff = time.Duration(sub.BaseBackoffSeconds) * time.Second
		}
		if _, err := d.queue.Enqueue(ctx, DeliverFuncName, args, opts); err != nil {
			if d.logger != nil {
				d.logger.LogWebhookFailure(ctx, sub.ID, err)
			}
		}
	}
}

// activeSubscriptions looks up the subscriptions active for eventName,
// serving from subsCache when a lookup happened within activeSubsCacheTTL.
// Hot events (resource mutations under load) would otherwise issue one
// "active subscriptions for X" query per fan-out, per spec.md §4.4.
func (d *Dispatcher) activeSubscriptions(ctx context.Context, eventName string) ([]Subscription, error) {
	if cached, ok := d.subsCache.Get(ctx, eventName); ok {
		return cached.([]Subscription), nil
	}
	subs, err := d.repo.listActive(ctx, eventName)
	if err != nil {
		return nil, err
	}
	d.subsCache.Set(ctx, eventName, subs)
	return subs, nil
}

// Test performs a synchronous single-shot delivery of a test.ping payload
// without creating a durable subscription, per spec.md §4.4.
func (d *Dispatcher) Test(ctx context.Context, url string, headers map[string]string, timeout time.Duration) TestResult {
	payload := Payload{
		EventType: TestPingEvent,
		EventID:   ids.NewEventID(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Source:    d.source,
		Version:   "1.0",
		Data:      map[string]interface{}{"ping": true},
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return TestResult{Success: false, ErrorMessage: err.Error()}
	}

	attempt := d.client.send(ctx, deliveryRequest{
		URL:       url,
		Payload:   payloadJSON,
		EventType: TestPingEvent,
		EventID:   payload.EventID,
		Secret:    "test-ping-no-subscription-secret",
		Headers:   headers,
		Timeout:   timeout,
	})

	result := TestResult{
		Success:    attempt.success,
		DurationMS: attempt.durationMS,
	}
	if attempt.statusCode != 0 {
		result.StatusCode = attempt.statusCode
	}
	if attempt.responseBody != "" {
		result.ResponseBody = attempt.responseBody
	}
	if attempt.err != nil {
		result.ErrorMessage = attempt.err.Error()
	}
	return result
}
