// Package webhook turns in-process domain events into externally visible
// HTTP POST deliveries with a durable, HMAC-signed audit trail (spec.md
// §4.4). Delivery itself runs as an ordinary job on internal/queue; this
// package owns subscription persistence, event matching, signing, and the
// delivery state machine's bookkeeping.
package webhook

import (
	"errors"
	"time"
)

// Catalog is the fixed namespace of event name prefixes new subscriptions
// may subscribe to. Nothing loads it from configuration: adding a prefix
// means editing this list.
var Catalog = []string{
	"user.", "entity.", "task.", "media.", "email.", "role.", "permissions.",
	"test.ping",
}

// TestPingEvent is the synthetic event name used by the one-shot Test operation.
const TestPingEvent = "test.ping"

// IsCataloged reports whether eventName falls under a registered catalog
// prefix (or matches the exact test event name).
func IsCataloged(eventName string) bool {
	if eventName == TestPingEvent {
		return true
	}
	for _, prefix := range Catalog {
		if prefix == TestPingEvent {
			continue
		}
		if len(eventName) >= len(prefix) && eventName[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

// ErrSubscriptionNotFound is returned when an id has no matching subscription.
var ErrSubscriptionNotFound = errors.New("webhook subscription not found")

// Subscription is a registered webhook endpoint.
type Subscription struct {
	ID                   string            `json:"id" db:"id"`
	URL                  string            `json:"url" db:"url"`
	Events               []string          `json:"events" db:"events"`
	Filter               map[string]string `json:"filter" db:"-"`
	Secret               string            `json:"-" db:"secret"`
	Headers              map[string]string `json:"headers" db:"-"`
	Active               bool              `json:"active" db:"active"`
	MaxRetries           int               `json:"max_retries" db:"max_retries"`
	BaseBackoffSeconds   int               `json:"base_backoff_seconds" db:"base_backoff_seconds"`
	TimeoutSeconds       int               `json:"timeout_seconds" db:"timeout_seconds"`
	TotalDeliveries      int64             `json:"total_deliveries" db:"total_deliveries"`
	SuccessfulDeliveries int64             `json:"successful_deliveries" db:"successful_deliveries"`
	FailedDeliveries     int64             `json:"failed_deliveries" db:"failed_deliveries"`
	LastDeliveryAt       *time.Time        `json:"last_delivery_at" db:"last_delivery_at"`
	LastSuccessAt        *time.Time        `json:"last_success_at" db:"last_success_at"`
	LastFailureAt        *time.Time        `json:"last_failure_at" db:"last_failure_at"`
	CreatedAt            time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time         `json:"updated_at" db:"updated_at"`
}

// SubscriptionInput is the accepted shape for creating/editing a subscription.
type SubscriptionInput struct {
	URL                string            `json:"url"`
	Events             []string          `json:"events"`
	Filter             map[string]string `json:"filter,omitempty"`
	Secret             string            `json:"secret"`
	Headers            map[string]string `json:"headers,omitempty"`
	Active             *bool             `json:"active,omitempty"`
	MaxRetries         *int              `json:"max_retries,omitempty"`
	BaseBackoffSeconds *int              `json:"base_backoff_seconds,omitempty"`
	TimeoutSeconds     *int              `json:"timeout_seconds,omitempty"`
}

// Delivery is one immutable attempt record.
type Delivery struct {
	ID             string     `json:"id" db:"id"`
	SubscriptionID *string    `json:"subscription_id" db:"subscription_id"`
	Event          string     `json:"event" db:"event"`
	Payload        []byte     `json:"-" db:"payload"`
	Method         string     `json:"method" db:"method"`
	URL            string     `json:"url" db:"url"`
	ResponseStatus *int       `json:"response_status" db:"response_status"`
	ResponseBody   *string    `json:"response_body" db:"response_body"`
	DurationMS     int        `json:"duration_ms" db:"duration_ms"`
	Attempt        int        `json:"attempt" db:"attempt"`
	Success        bool       `json:"success" db:"success"`
	WillRetry      bool       `json:"will_retry" db:"will_retry"`
	NextRetryAt    *time.Time `json:"next_retry_at" db:"next_retry_at"`
	Terminal       bool       `json:"terminal" db:"terminal"`
	Error          *string    `json:"error" db:"error"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
}

// Payload is the canonical delivery body, spec.md §4.4.
type Payload struct {
	EventType string      `json:"event_type"`
	EventID   string      `json:"event_id"`
	Timestamp string      `json:"timestamp"`
	Source    string      `json:"source"`
	Version   string      `json:"version"`
	Data      interface{} `json:"data"`
}

// TestResult is the response shape of the one-shot Test operation.
type TestResult struct {
	Success      bool   `json:"success"`
	StatusCode   int    `json:"status_code,omitempty"`
	ResponseBody string `json:"response_body,omitempty"`
	DurationMS   int64  `json:"duration_ms"`
	ErrorMessage string `json:"error_message,omitempty"`
}

const defaultMaxRetries = 5
const defaultBaseBackoffSeconds = 1
const defaultTimeoutSeconds = 10
