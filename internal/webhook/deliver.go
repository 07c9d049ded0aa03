package webhook

import (
	"context"
	"encoding/json"
	"time"

	svcerrors "github.com/R3E-Network/realtime-resource-server/infrastructure/errors"
	"github.com/R3E-Network/realtime-resource-server/internal/ids"
	"github.com/R3E-Network/realtime-resource-server/internal/queue"
)

// deliverJob is the registered internal/queue.Func for DeliverFuncName. It
// performs one HTTP attempt, appends an immutable delivery record, and
// decides — by its return value — whether the queue itself should schedule
// a retry: a transient failure returns an error (queue reschedules with
// exponential backoff); a non-retryable outcome (4xx, or retries exhausted)
// returns nil, since this job function has already recorded the terminal
// state and there is nothing further for the queue to do.
func (d *Dispatcher) deliverJob(ctx context.Context, job *queue.Job, publish func(subject string, payload interface{})) error {
	var args deliverJobArgs
	if err := json.Unmarshal(job.Args, &args); err != nil {
		return svcerrors.Internal("failed to decode webhook delivery job args", err)
	}

	sub, err := d.repo.getByID(ctx, args.SubscriptionID)
	if err != nil {
		if err == ErrSubscriptionNotFound {
			if d.logger != nil {
				d.logger.LogWebhookFailure(ctx, args.SubscriptionID, err)
			}
			return nil
		}
		return err
	}

	timeout := time.Duration(sub.TimeoutSeconds) * time.Second
	attempt := d.client.send(ctx, deliveryRequest{
		URL:       sub.URL,
		Payload:   args.Payload,
		EventType: args.EventType,
		EventID:   ids.NewEventID(),
		Secret:    sub.Secret,
		Headers:   sub.Headers,
		Timeout:   timeout,
	})

	willRetry := !attempt.success && attempt.retryable && job.Attempt <= sub.MaxRetries
	terminal := !willRetry

	subID := sub.ID
	record := &Delivery{
		ID:             ids.NewDeliveryID(),
		SubscriptionID: &subID,
		Event:          args.EventType,
		Payload:        args.Payload,
		Method:         "POST",
		URL:            sub.URL,
		DurationMS:     int(attempt.durationMS),
		Attempt:        job.Attempt,
		Success:        attempt.success,
		WillRetry:      willRetry,
		Terminal:       terminal,
		CreatedAt:      time.Now().UTC(),
	}
	if attempt.statusCode != 0 {
		status := attempt.statusCode
		record.ResponseStatus = &status
	}
	if attempt.responseBody != "" {
		body := attempt.responseBody
		record.ResponseBody = &body
	}
	if attempt.err != nil {
		errMsg := attempt.err.Error()
		record.Error = &errMsg
	}
	if willRetry {
		next := time.Now().Add(d.queue.NextBackoff(subscriptionBackoffBase(sub), job.Attempt))
		record.NextRetryAt = &next
	}

	if err := d.repo.recordDelivery(ctx, record); err != nil {
		if d.logger != nil {
			d.logger.LogWebhookFailure(ctx, sub.ID, err)
		}
	}
	d.audit.recordAttempt(record)
	if d.metrics != nil {
		status := "failed"
		if attempt.success {
			status = "succeeded"
		}
		d.metrics.RecordWebhookDelivery(args.EventType, status, time.Duration(attempt.durationMS)*time.Millisecond)
	}

	if willRetry {
		return attempt.err
	}
	if !attempt.success {
		// Terminal failure (4xx or retries exhausted): queue treats the job as
		// done; the failure itself is durably recorded above.
		return nil
	}
	return nil
}

// subscriptionBackoffBase mirrors the fallback applied when the job is
// enqueued (see Dispatcher.TriggerEvent), so the base used to preview
// next_retry_at here always matches the base the queue actually scheduled
// the retry with.
func subscriptionBackoffBase(sub *Subscription) time.Duration {
	base := time.Duration(sub.BaseBackoffSeconds) * time.Second
	if base <= 0 {
		base = time.Second
	}
	return base
}
