package channel

import (
	"context"
	"encoding/json"

	"github.com/R3E-Network/realtime-resource-server/infrastructure/store"
)

// taskNotificationPattern is the pub/sub pattern the fabric subscribes to,
// per spec.md §4.3: "the channel fabric subscribes to task_notifications:*
// and forwards each message as a task_notification frame on the relevant
// kind's channel."
const taskNotificationPattern = "task_notifications:*"

// notificationEnvelope is the minimal shape every job's progress payload
// carries (internal/queue/jobs.go's notify helpers): a "kind" field naming
// the channel to forward to. Payloads without one are dropped with a
// warning — there is no channel to route them to.
type notificationEnvelope struct {
	Kind string `json:"kind"`
}

// RunTaskNotificationForwarder subscribes to task_notifications:* on s and
// forwards every message to its named kind's channel as a
// task_notification frame, until ctx is cancelled. Intended to be run in
// its own goroutine by cmd/server.
func (f *Fabric) RunTaskNotificationForwarder(ctx context.Context, s *store.Store) {
	sub := s.PSubscribe(ctx, taskNotificationPattern)
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Channel():
			if !ok {
				return
			}
			f.forwardNotification(ctx, msg.Payload)
		}
	}
}

func (f *Fabric) forwardNotification(ctx context.Context, rawPayload string) {
	var env notificationEnvelope
	if err := json.Unmarshal([]byte(rawPayload), &env); err != nil || env.Kind == "" {
		if f.logger != nil {
			f.logger.WithContext(ctx).WithFields(map[string]interface{}{
				"subsystem": "channel",
			}).Warn("task notification missing routable kind, dropped")
		}
		return
	}

	var data interface{}
	if err := json.Unmarshal([]byte(rawPayload), &data); err != nil {
		return
	}
	f.ForwardTaskNotification(ctx, env.Kind, data)
}
