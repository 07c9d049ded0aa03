package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/R3E-Network/realtime-resource-server/internal/mail"
	"github.com/R3E-Network/realtime-resource-server/internal/media"
)

// Built-in job function names (spec.md §4.3's "no special path" families).
const (
	FuncMediaThumbnail = "media.thumbnail"
	FuncMediaOptimize  = "media.optimize"
	FuncEmailSend      = "email.send"
	FuncEmailBulkSend  = "email.bulk_send"
)

// MediaThumbnailArgs is the payload for FuncMediaThumbnail /
// FuncMediaOptimize jobs.
type MediaThumbnailArgs struct {
	MediaID   int64  `json:"media_id"`
	SourceKey string `json:"source_key"`
}

// EmailSendArgs is the payload for FuncEmailSend.
type EmailSendArgs struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// EmailBulkSendArgs is the payload for FuncEmailBulkSend.
type EmailBulkSendArgs struct {
	Recipients []string `json:"recipients"`
	Subject    string   `json:"subject"`
	Body       string   `json:"body"`
	// RatePerSecond bounds how many sends happen per second, per spec.md's
	// "rate-limited bulk-email send" job family.
	RatePerSecond int `json:"rate_per_second"`
}

// RegisterBuiltins wires the media-processing and email job families into
// q. store is the object-store collaborator for media jobs; sender is the
// SMTP collaborator for email jobs (both non-goal thin interfaces, see
// internal/media and internal/mail).
func RegisterBuiltins(q *Queue, store media.Store, sender mail.Sender) {
	q.Register(FuncMediaThumbnail, mediaJob(store, "thumbnail"))
	q.Register(FuncMediaOptimize, mediaJob(store, "optimize"))
	q.Register(FuncEmailSend, emailSendJob(sender))
	q.Register(FuncEmailBulkSend, emailBulkSendJob(sender))
}

func mediaJob(store media.Store, operation string) Func {
	return func(ctx context.Context, job *Job, publish func(subject string, payload interface{})) error {
		var args MediaThumbnailArgs
		if err := json.Unmarshal(job.Args, &args); err != nil {
			return err
		}
		subject := fmt.Sprintf("task_notifications:%d", args.MediaID)
		notify := func(stage string, pct int) {
			publish(subject, map[string]interface{}{
				"kind":     "media",
				"media_id": args.MediaID,
				"job_id":   job.ID,
				"stage":    stage,
				"progress": pct,
			})
		}

		notify("started", 0)
		data, err := store.Get(ctx, args.SourceKey)
		if err != nil {
			return err
		}
		notify("processing", 50)

		derivedKey := fmt.Sprintf("%s/%s/%d", operation, args.SourceKey, args.MediaID)
		if _, err := store.Put(ctx, derivedKey, data, "application/octet-stream"); err != nil {
			return err
		}
		notify("finished", 100)
		return nil
	}
}

func emailSendJob(sender mail.Sender) Func {
	return func(ctx context.Context, job *Job, publish func(subject string, payload interface{})) error {
		var args EmailSendArgs
		if err := json.Unmarshal(job.Args, &args); err != nil {
			return err
		}
		return sender.Send(ctx, mail.Message{To: args.To, Subject: args.Subject, Body: args.Body})
	}
}

func emailBulkSendJob(sender mail.Sender) Func {
	return func(ctx context.Context, job *Job, publish func(subject string, payload interface{})) error {
		var args EmailBulkSendArgs
		if err := json.Unmarshal(job.Args, &args); err != nil {
			return err
		}

		rate := args.RatePerSecond
		if rate <= 0 {
			rate = 10
		}
		interval := time.Second / time.Duration(rate)

		var lastErr error
		for i, recipient := range args.Recipients {
			if i > 0 {
				time.Sleep(interval)
			}
			if err := sender.Send(ctx, mail.Message{To: recipient, Subject: args.Subject, Body: args.Body}); err != nil {
				lastErr = err
				continue
			}
			publish(fmt.Sprintf("task_notifications:bulk_email:%s", job.ID), map[string]interface{}{
				"kind":      "email",
				"job_id":    job.ID,
				"recipient": recipient,
				"index":     i + 1,
				"total":     len(args.Recipients),
			})
		}
		return lastErr
	}
}
