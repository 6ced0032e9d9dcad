package types

import (
	"fmt"
	"net/url"
	"time"
)

// RequestKind selects the Accept profile used for a fetch.
type RequestKind string

const (
	KindPage RequestKind = "page"
	KindFeed RequestKind = "feed"
)

// Request represents a single outbound GET.
type Request struct {
	// URL is the target URL to fetch.
	URL *url.URL

	// Kind picks the Accept header profile.
	Kind RequestKind

	// MaxRetries is the number of retries after the first attempt.
	// Negative means use the fetcher default.
	MaxRetries int

	// Timeout overrides the per-attempt timeout. Zero means use the default.
	Timeout time.Duration
}

// NewRequest creates a page Request with fetcher defaults.
func NewRequest(rawURL string) (*Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL %q: %w", rawURL, err)
	}

	return &Request{
		URL:        u,
		Kind:       KindPage,
		MaxRetries: -1,
	}, nil
}

// NewFeedRequest creates a feed Request with fetcher defaults.
func NewFeedRequest(rawURL string) (*Request, error) {
	req, err := NewRequest(rawURL)
	if err != nil {
		return nil, err
	}
	req.Kind = KindFeed
	return req, nil
}

// URLString returns the string representation of the request URL.
func (r *Request) URLString() string {
	if r.URL == nil {
		return ""
	}
	return r.URL.String()
}

// Domain returns the hostname of the request URL.
func (r *Request) Domain() string {
	if r.URL == nil {
		return ""
	}
	return r.URL.Hostname()
}
