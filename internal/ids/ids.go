// Package ids generates the opaque identifiers handed out for jobs, webhook
// subscriptions and webhook deliveries.
package ids

import "github.com/google/uuid"

// New returns a new random identifier. Callers treat the result as opaque.
func New() string {
	return uuid.New().String()
}

// NewJobID returns a new job identifier.
func NewJobID() string {
	return "job_" + uuid.New().String()
}

// NewSubscriptionID returns a new webhook subscription identifier.
func NewSubscriptionID() string {
	return "sub_" + uuid.New().String()
}

// NewDeliveryID returns a new webhook delivery identifier.
func NewDeliveryID() string {
	return "del_" + uuid.New().String()
}

// NewEventID returns a new webhook event identifier, attached to the
// triggering domain event rather than any one subscription's delivery.
func NewEventID() string {
	return "evt_" + uuid.New().String()
}
