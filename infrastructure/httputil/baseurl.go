package httputil

import (
	"fmt"
	"net/url"
	"strings"
)

// BaseURLOptions configures NormalizeBaseURL.
type BaseURLOptions struct {
	// RequireHTTPS rejects plain-http target URLs. NormalizeWebhookTargetURL
	// leaves it unset.
	RequireHTTPS bool
}

// NormalizeBaseURL normalizes and validates a base URL used as a webhook
// delivery target or outbound service call.
//
// It trims whitespace, removes trailing slashes, validates scheme/host, and
// disallows embedded user info, query strings and fragments.
func NormalizeBaseURL(raw string, opts BaseURLOptions) (string, *url.URL, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(raw), "/")
	if baseURL == "" {
		return "", nil, fmt.Errorf("base URL is required")
	}

	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", nil, fmt.Errorf("base URL must be a valid URL")
	}
	if parsed.User != nil {
		return "", nil, fmt.Errorf("base URL must not include user info")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", nil, fmt.Errorf("base URL scheme must be http or https")
	}
	if parsed.RawQuery != "" || parsed.Fragment != "" {
		return "", nil, fmt.Errorf("base URL must not include query or fragment")
	}
	if opts.RequireHTTPS && parsed.Scheme != "https" {
		return "", nil, fmt.Errorf("base URL must use https")
	}

	return baseURL, parsed, nil
}

// NormalizeWebhookTargetURL normalizes a webhook target URL. It does not
// require https, since local and staging deployments commonly target
// plain-http test receivers. internal/webhook does not call it: subscription
// URLs are stored as given, and CreateSubscription checks only that the URL
// is non-empty.
func NormalizeWebhookTargetURL(raw string) (string, *url.URL, error) {
	return NormalizeBaseURL(raw, BaseURLOptions{})
}
