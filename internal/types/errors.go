package types

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common failure modes.
var (
	ErrBrowserUnavailable = errors.New("browser renderer unavailable")
	ErrEmptyResponse      = errors.New("empty response body")
	ErrInvalidURL         = errors.New("invalid URL")
	ErrNoArticles         = errors.New("no articles found")
	ErrSiteDeadline       = errors.New("site deadline exceeded")
)

// ValidationError is returned when the URL guard refuses a URL.
// It is never retried.
type ValidationError struct {
	URL    string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("url rejected %s (%s): %v", e.URL, e.Reason, e.Err)
	}
	return fmt.Sprintf("url rejected %s (%s)", e.URL, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// NetworkError wraps the last transport failure after the retry budget ran out.
type NetworkError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error for %s after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// HTTPError is a terminal non-success status (>= 400).
type HTTPError struct {
	URL        string
	StatusCode int
	RetryAfter time.Duration // populated from Retry-After on 429/503
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http error for %s: status %d", e.URL, e.StatusCode)
}

// Blocked reports whether the status suggests bot protection rather than a missing page.
func (e *HTTPError) Blocked() bool {
	return e.StatusCode == 403 || e.StatusCode == 429
}

// ParseError wraps errors that occur while parsing a feed or page.
type ParseError struct {
	URL    string
	Format string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error for %s (format=%s): %v", e.URL, e.Format, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// InvariantError marks a programming-level violation, such as an article without a link.
type InvariantError struct {
	Site   string
	Link   string
	Reason string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("invariant violated for site %q (link=%q): %s", e.Site, e.Link, e.Reason)
}

// StorageError wraps errors that occur during snapshot export.
type StorageError struct {
	Backend string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error (%s): %v", e.Backend, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// PipelineError wraps errors that occur in the article pipeline.
type PipelineError struct {
	Stage string
	Link  string
	Err   error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("pipeline error at stage %q (link=%q): %v", e.Stage, e.Link, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// Failure kinds reported in SiteFailure.Kind.
const (
	KindValidation         = "validation"
	KindNetwork            = "network"
	KindHTTP               = "http"
	KindParse              = "parse"
	KindBrowserUnavailable = "browser_unavailable"
	KindPanic              = "panic"
	KindDeadline           = "deadline"
	KindInvariant          = "invariant"
	KindUnknown            = "unknown"
)

// ClassifyError maps an error onto one of the failure kinds.
func ClassifyError(err error) string {
	var (
		valErr *ValidationError
		netErr *NetworkError
		httpEr *HTTPError
		prsErr *ParseError
		invErr *InvariantError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &valErr):
		return KindValidation
	case errors.As(err, &httpEr):
		return KindHTTP
	case errors.As(err, &netErr):
		return KindNetwork
	case errors.As(err, &prsErr):
		return KindParse
	case errors.As(err, &invErr):
		return KindInvariant
	case errors.Is(err, ErrBrowserUnavailable):
		return KindBrowserUnavailable
	case errors.Is(err, ErrSiteDeadline), errors.Is(err, context.DeadlineExceeded):
		return KindDeadline
	default:
		return KindUnknown
	}
}
