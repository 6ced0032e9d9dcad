package fetcher

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// Backoff computes exponential retry delays with jitter.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter time.Duration
}

// Delay returns the wait before retry number n (0-based).
func (b Backoff) Delay(n int) time.Duration {
	base := b.Base
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	maxDelay := b.Max
	if maxDelay < base {
		maxDelay = base
	}

	delay := base
	for i := 0; i < n && delay < maxDelay; i++ {
		delay *= 2
	}
	if b.Jitter > 0 {
		delay += time.Duration(rand.Int63n(int64(b.Jitter)))
	}
	if delay > maxDelay {
		delay = maxDelay
	}
	return delay
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// bodyReadError marks a failure while streaming the response body.
type bodyReadError struct{ err error }

func (e *bodyReadError) Error() string { return "read body: " + e.err.Error() }
func (e *bodyReadError) Unwrap() error { return e.err }

// shouldRetry decides whether a failed attempt is worth repeating. parent is
// the caller's context; an expired attempt deadline is retryable only while
// the parent is still alive.
func shouldRetry(parent context.Context, err error) bool {
	if err == nil || parent.Err() != nil {
		return false
	}
	if isTLSError(err) {
		return false
	}
	var readErr *bodyReadError
	if errors.As(err, &readErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return isRetryableError(err)
}

// isRetryableError checks if a network error warrants a retry.
// Covers timeouts, connection resets, unexpected EOF, and connection refused.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	return false
}

func isTLSError(err error) bool {
	var (
		unknownAuth x509.UnknownAuthorityError
		hostErr     x509.HostnameError
		certInvalid x509.CertificateInvalidError
		verifyErr   *tls.CertificateVerificationError
		headerErr   tls.RecordHeaderError
	)
	return errors.As(err, &unknownAuth) ||
		errors.As(err, &hostErr) ||
		errors.As(err, &certInvalid) ||
		errors.As(err, &verifyErr) ||
		errors.As(err, &headerErr)
}

// parseRetryAfter parses the Retry-After header value.
// Supports both integer seconds and HTTP-date formats. Zero means absent.
func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		if secs < 0 {
			return 0
		}
		if secs > 120 {
			secs = 120 // cap at 2 minutes
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		d := time.Until(t)
		if d < 0 {
			return 0
		}
		if d > 2*time.Minute {
			return 2 * time.Minute
		}
		return d
	}
	return 0
}
