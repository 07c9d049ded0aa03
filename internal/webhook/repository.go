package webhook

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	svcerrors "github.com/R3E-Network/realtime-resource-server/infrastructure/errors"
)

// repository persists subscriptions and delivery records in Postgres.
type repository struct {
	db *sqlx.DB
}

func newRepository(db *sqlx.DB) *repository {
	return &repository{db: db}
}

type subscriptionRow struct {
	ID                   string         `db:"id"`
	URL                  string         `db:"url"`
	Events               pq.StringArray `db:"events"`
	Filter               []byte         `db:"filter"`
	Secret               string         `db:"secret"`
	Headers              []byte         `db:"headers"`
	Active               bool           `db:"active"`
	MaxRetries           int            `db:"max_retries"`
	BaseBackoffSeconds   int            `db:"base_backoff_seconds"`
	TimeoutSeconds       int            `db:"timeout_seconds"`
	TotalDeliveries      int64          `db:"total_deliveries"`
	SuccessfulDeliveries int64          `db:"successful_deliveries"`
	FailedDeliveries     int64          `db:"failed_deliveries"`
	LastDeliveryAt       *time.Time     `db:"last_delivery_at"`
	LastSuccessAt        *time.Time     `db:"last_success_at"`
	LastFailureAt        *time.Time     `db:"last_failure_at"`
	CreatedAt            time.Time      `db:"created_at"`
	UpdatedAt            time.Time      `db:"updated_at"`
}

func (r subscriptionRow) toSubscription() (Subscription, error) {
	filter := make(map[string]string)
	if len(r.Filter) > 0 {
		if err := json.Unmarshal(r.Filter, &filter); err != nil {
			return Subscription{}, err
		}
	}
	headers := make(map[string]string)
	if len(r.Headers) > 0 {
		if err := json.Unmarshal(r.Headers, &headers); err != nil {
			return Subscription{}, err
		}
	}
	return Subscription{
		ID:                   r.ID,
		URL:                  r.URL,
		Events:               []string(r.Events),
		Filter:               filter,
		Secret:               r.Secret,
		Headers:              headers,
		Active:               r.Active,
		MaxRetries:           r.MaxRetries,
		BaseBackoffSeconds:   r.BaseBackoffSeconds,
		TimeoutSeconds:       r.TimeoutSeconds,
		TotalDeliveries:      r.TotalDeliveries,
		SuccessfulDeliveries: r.SuccessfulDeliveries,
		FailedDeliveries:     r.FailedDeliveries,
		LastDeliveryAt:       r.LastDeliveryAt,
		LastSuccessAt:        r.LastSuccessAt,
		LastFailureAt:        r.LastFailureAt,
		CreatedAt:            r.CreatedAt,
		UpdatedAt:            r.UpdatedAt,
	}, nil
}

func (r *repository) create(ctx context.Context, s *Subscription) error {
	filterJSON, err := json.Marshal(s.Filter)
	if err != nil {
		return svcerrors.Internal("failed to encode subscription filter", err)
	}
	headersJSON, err := json.Marshal(s.Headers)
	if err != nil {
		return svcerrors.Internal("failed to encode subscription headers", err)
	}

	const query = `
		INSERT INTO webhook_subscriptions
			(id, url, events, filter, secret, headers, active, max_retries, base_backoff_seconds, timeout_seconds, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = r.db.ExecContext(ctx, query,
		s.ID, s.URL, pq.Array(s.Events), filterJSON, s.Secret, headersJSON, s.Active,
		s.MaxRetries, s.BaseBackoffSeconds, s.TimeoutSeconds, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return svcerrors.UpstreamTransient("webhook_subscription_create", err)
	}
	return nil
}

func (r *repository) getByID(ctx context.Context, id string) (*Subscription, error) {
	const query = `
		SELECT id, url, events, filter, secret, headers, active, max_retries, base_backoff_seconds,
		       timeout_seconds, total_deliveries, successful_deliveries, failed_deliveries,
		       last_delivery_at, last_success_at, last_failure_at, created_at, updated_at
		FROM webhook_subscriptions WHERE id = $1
	`
	var row subscriptionRow
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrSubscriptionNotFound
		}
		return nil, svcerrors.UpstreamTransient("webhook_subscription_get", err)
	}
	sub, err := row.toSubscription()
	if err != nil {
		return nil, svcerrors.Internal("failed to decode subscription", err)
	}
	return &sub, nil
}

func (r *repository) listActive(ctx context.Context, eventName string) ([]Subscription, error) {
	const query = `
		SELECT id, url, events, filter, secret, headers, active, max_retries, base_backoff_seconds,
		       timeout_seconds, total_deliveries, successful_deliveries, failed_deliveries,
		       last_delivery_at, last_success_at, last_failure_at, created_at, updated_at
		FROM webhook_subscriptions
		WHERE active = true AND $1 = ANY(events)
	`
	var rows []subscriptionRow
	if err := r.db.SelectContext(ctx, &rows, query, eventName); err != nil {
		return nil, svcerrors.UpstreamTransient("webhook_subscription_list_active", err)
	}
	subs := make([]Subscription, 0, len(rows))
	for _, row := range rows {
		sub, err := row.toSubscription()
		if err != nil {
			return nil, svcerrors.Internal("failed to decode subscription", err)
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

func (r *repository) list(ctx context.Context, limit, offset int) ([]Subscription, error) {
	const query = `
		SELECT id, url, events, filter, secret, headers, active, max_retries, base_backoff_seconds,
		       timeout_seconds, total_deliveries, successful_deliveries, failed_deliveries,
		       last_delivery_at, last_success_at, last_failure_at, created_at, updated_at
		FROM webhook_subscriptions ORDER BY created_at DESC LIMIT $1 OFFSET $2
	`
	var rows []subscriptionRow
	if err := r.db.SelectContext(ctx, &rows, query, limit, offset); err != nil {
		return nil, svcerrors.UpstreamTransient("webhook_subscription_list", err)
	}
	subs := make([]Subscription, 0, len(rows))
	for _, row := range rows {
		sub, err := row.toSubscription()
		if err != nil {
			return nil, svcerrors.Internal("failed to decode subscription", err)
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

func (r *repository) update(ctx context.Context, s *Subscription) error {
	filterJSON, err := json.Marshal(s.Filter)
	if err != nil {
		return svcerrors.Internal("failed to encode subscription filter", err)
	}
	headersJSON, err := json.Marshal(s.Headers)
	if err != nil {
		return svcerrors.Internal("failed to encode subscription headers", err)
	}

	const query = `
		UPDATE webhook_subscriptions
		SET url = $2, events = $3, filter = $4, secret = $5, headers = $6, active = $7,
		    max_retries = $8, base_backoff_seconds = $9, timeout_seconds = $10, updated_at = $11
		WHERE id = $1
	`
	result, err := r.db.ExecContext(ctx, query,
		s.ID, s.URL, pq.Array(s.Events), filterJSON, s.Secret, headersJSON, s.Active,
		s.MaxRetries, s.BaseBackoffSeconds, s.TimeoutSeconds, s.UpdatedAt,
	)
	if err != nil {
		return svcerrors.UpstreamTransient("webhook_subscription_update", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return svcerrors.UpstreamTransient("webhook_subscription_update", err)
	}
	if rows == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

func (r *repository) delete(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM webhook_subscriptions WHERE id = $1`, id)
	if err != nil {
		return false, svcerrors.UpstreamTransient("webhook_subscription_delete", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, svcerrors.UpstreamTransient("webhook_subscription_delete", err)
	}
	return rows > 0, nil
}

// recordDelivery inserts the delivery attempt and updates the subscription's
// aggregate counters in the same transaction, per spec.md §4.4's "update
// transactionally with the record insert".
func (r *repository) recordDelivery(ctx context.Context, d *Delivery) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return svcerrors.UpstreamTransient("webhook_delivery_record", err)
	}
	defer tx.Rollback()

	const insertQuery = `
		INSERT INTO webhook_deliveries
			(id, subscription_id, event, payload, method, url, response_status, response_body,
			 duration_ms, attempt, success, will_retry, next_retry_at, terminal, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	_, err = tx.ExecContext(ctx, insertQuery,
		d.ID, d.SubscriptionID, d.Event, d.Payload, d.Method, d.URL, d.ResponseStatus, d.ResponseBody,
		d.DurationMS, d.Attempt, d.Success, d.WillRetry, d.NextRetryAt, d.Terminal, d.Error, d.CreatedAt,
	)
	if err != nil {
		return svcerrors.UpstreamTransient("webhook_delivery_record", err)
	}

	if d.SubscriptionID != nil {
		var updateQuery string
		if d.Success {
			updateQuery = `
				UPDATE webhook_subscriptions
				SET total_deliveries = total_deliveries + 1,
				    successful_deliveries = successful_deliveries + 1,
				    last_delivery_at = $2, last_success_at = $2
				WHERE id = $1
			`
		} else {
			updateQuery = `
				UPDATE webhook_subscriptions
				SET total_deliveries = total_deliveries + 1,
				    failed_deliveries = failed_deliveries + 1,
				    last_delivery_at = $2, last_failure_at = $2
				WHERE id = $1
			`
		}
		if _, err := tx.ExecContext(ctx, updateQuery, *d.SubscriptionID, d.CreatedAt); err != nil {
			return svcerrors.UpstreamTransient("webhook_subscription_counters", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return svcerrors.UpstreamTransient("webhook_delivery_record", err)
	}
	return nil
}

func (r *repository) listDeliveries(ctx context.Context, subscriptionID string, limit, offset int) ([]Delivery, error) {
	const query = `
		SELECT id, subscription_id, event, payload, method, url, response_status, response_body,
		       duration_ms, attempt, success, will_retry, next_retry_at, terminal, error, created_at
		FROM webhook_deliveries WHERE subscription_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`
	var deliveries []Delivery
	if err := r.db.SelectContext(ctx, &deliveries, query, subscriptionID, limit, offset); err != nil {
		return nil, svcerrors.UpstreamTransient("webhook_delivery_list", err)
	}
	return deliveries, nil
}

// listAllDeliveries returns delivery history across every subscription,
// newest first, backing the unscoped delivery-history listing spec.md §4.4
// exposes alongside the per-subscription one.
func (r *repository) listAllDeliveries(ctx context.Context, limit, offset int) ([]Delivery, error) {
	const query = `
		SELECT id, subscription_id, event, payload, method, url, response_status, response_body,
		       duration_ms, attempt, success, will_retry, next_retry_at, terminal, error, created_at
		FROM webhook_deliveries
		ORDER BY created_at DESC LIMIT $1 OFFSET $2
	`
	var deliveries []Delivery
	if err := r.db.SelectContext(ctx, &deliveries, query, limit, offset); err != nil {
		return nil, svcerrors.UpstreamTransient("webhook_delivery_list_all", err)
	}
	return deliveries, nil
}
