package webhook

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/R3E-Network/realtime-resource-server/infrastructure/httputil"
)

// deliveryRequest is everything one HTTP delivery attempt needs.
type deliveryRequest struct {
	URL       string
	Payload   []byte
	EventType string
	EventID   string
	Secret    string
	Headers   map[string]string
	Timeout   time.Duration
}

// deliveryAttempt is the outcome of one HTTP delivery attempt.
type deliveryAttempt struct {
	success      bool
	retryable    bool
	statusCode   int
	responseBody string
	durationMS   int64
	err          error
}

const maxResponseBodyBytes = 4096

// deliveryClient performs signed outbound webhook POSTs.
type deliveryClient struct {
	defaults httputil.ClientDefaults
}

func newDeliveryClient() *deliveryClient {
	return &deliveryClient{defaults: httputil.DefaultClientDefaults()}
}

func (c *deliveryClient) send(ctx context.Context, req deliveryRequest) deliveryAttempt {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.defaults.Timeout
	}

	client, err := httputil.NewClient(httputil.ClientConfig{Timeout: timeout}, c.defaults)
	if err != nil {
		return deliveryAttempt{success: false, retryable: true, err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(req.Payload))
	if err != nil {
		return deliveryAttempt{success: false, retryable: false, err: err}
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Webhook-Event", req.EventType)
	httpReq.Header.Set("X-Webhook-Delivery", req.EventID)
	httpReq.Header.Set("X-Webhook-Signature", "sha256="+sign(req.Payload, req.Secret))
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}

	start := time.Now()
	resp, err := client.Do(httpReq)
	duration := time.Since(start)
	if err != nil {
		return deliveryAttempt{success: false, retryable: true, durationMS: duration.Milliseconds(), err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))

	attempt := deliveryAttempt{
		statusCode:   resp.StatusCode,
		responseBody: string(body),
		durationMS:   duration.Milliseconds(),
	}
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		attempt.success = true
	case resp.StatusCode >= 500:
		attempt.retryable = true
	default:
		// 4xx: the receiver rejected the payload outright, no retry.
		attempt.retryable = false
	}
	return attempt
}
