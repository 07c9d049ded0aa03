package webhook

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// auditLogger is a dedicated structured log for delivery attempts, kept
// separate from the logrus-based application logger (infrastructure/logging)
// so delivery history can be shipped or retained under its own policy.
type auditLogger struct {
	log zerolog.Logger
}

func newAuditLogger(w io.Writer) *auditLogger {
	if w == nil {
		w = os.Stdout
	}
	return &auditLogger{log: zerolog.New(w).With().Timestamp().Str("subsystem", "webhook_delivery").Logger()}
}

func (a *auditLogger) recordAttempt(d *Delivery) {
	var event *zerolog.Event
	if d.Success {
		event = a.log.Info()
	} else {
		event = a.log.Warn()
	}

	event = event.
		Str("delivery_id", d.ID).
		Str("event", d.Event).
		Str("url", d.URL).
		Int("attempt", d.Attempt).
		Bool("success", d.Success).
		Bool("will_retry", d.WillRetry).
		Int("duration_ms", d.DurationMS)
	if d.ResponseStatus != nil {
		event = event.Int("response_status", *d.ResponseStatus)
	}
	if d.Error != nil {
		event = event.Str("error", *d.Error)
	}
	event.Msg("webhook delivery attempt")
}
