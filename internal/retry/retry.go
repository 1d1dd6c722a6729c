// Package retry classifies fetch errors as retryable or terminal and
// computes the backoff delay between attempts.
package retry

import (
	"context"
	"errors"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ishaanstalk/newscrawler/internal/config"
)

// Kind classifies why an attempt failed.
type Kind string

const (
	KindConnectionReset      Kind = "connection-reset"
	KindBrokenPipe           Kind = "broken-pipe"
	KindTimeout              Kind = "timeout"
	KindDNSTemporary         Kind = "dns-temporary"
	KindConnectionRefused    Kind = "connection-refused"
	KindNetworkUnreachable   Kind = "network-unreachable"
	KindHostUnreachable      Kind = "host-unreachable"
	KindDNSNotFound          Kind = "dns-not-found"
	KindHTTPStatus           Kind = "http-status"
	KindTerminal             Kind = "terminal"
)

// retryableHTTPStatus is the fixed set of HTTP status codes worth retrying.
var retryableHTTPStatus = map[int]bool{
	408: true, 429: true, 500: true, 502: true, 503: true, 504: true,
}

// Context carries the retry state threaded through a single fetch call
// chain.
type Context struct {
	AttemptIndex int // 0 on first attempt
	MaxAttempts  int
}

// Retryable reports whether the context chain has budget left for another
// attempt.
func (c Context) Retryable() bool {
	return c.AttemptIndex < c.MaxAttempts
}

// Next returns the context for the following attempt.
func (c Context) Next() Context {
	return Context{AttemptIndex: c.AttemptIndex + 1, MaxAttempts: c.MaxAttempts}
}

// ClassifyNetworkError maps a network-layer error to a retry Kind, or
// KindTerminal if it shouldn't be retried.
func ClassifyNetworkError(err error) Kind {
	if err == nil {
		return KindTerminal
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindTerminal
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return KindBrokenPipe
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsNotFound {
			return KindDNSNotFound
		}
		if dnsErr.IsTemporary || dnsErr.Timeout() {
			return KindDNSTemporary
		}
	}

	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return KindTimeout
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		switch {
		case errors.Is(opErr.Err, syscall.ECONNRESET):
			return KindConnectionReset
		case errors.Is(opErr.Err, syscall.EPIPE):
			return KindBrokenPipe
		case errors.Is(opErr.Err, syscall.ECONNREFUSED):
			return KindConnectionRefused
		case errors.Is(opErr.Err, syscall.ENETUNREACH):
			return KindNetworkUnreachable
		case errors.Is(opErr.Err, syscall.EHOSTUNREACH):
			return KindHostUnreachable
		}
	}

	return KindTerminal
}

// IsRetryableKind reports whether a network-error Kind warrants a retry.
func IsRetryableKind(k Kind) bool {
	switch k {
	case KindConnectionReset, KindBrokenPipe, KindTimeout, KindDNSTemporary,
		KindConnectionRefused, KindNetworkUnreachable, KindHostUnreachable, KindDNSNotFound:
		return true
	default:
		return false
	}
}

// IsRetryableStatus reports whether an HTTP status code warrants a retry.
func IsRetryableStatus(status int) bool {
	return retryableHTTPStatus[status]
}

// ComputeDelay implements the backoff delay policy: a
// usable Retry-After is clamped into [baseDelayMs, maxDelayMs]; otherwise
// exponential backoff base*2^attemptIndex, clamped, plus uniform jitter
// in [0, base*jitterRatio].
func ComputeDelay(cfg config.RetryConfig, attemptIndex int, retryAfterMs int64) time.Duration {
	base := cfg.BaseDelayMs
	maxDelay := cfg.MaxDelayMs

	var delay time.Duration
	if retryAfterMs > 0 {
		delay = time.Duration(retryAfterMs) * time.Millisecond
		if delay < base {
			delay = base
		}
		if delay > maxDelay {
			delay = maxDelay
		}
	} else {
		mult := math.Pow(2, float64(attemptIndex))
		delay = time.Duration(float64(base) * mult)
		if delay > maxDelay {
			delay = maxDelay
		}
	}

	if cfg.JitterRatio > 0 {
		jitterSpan := float64(base) * cfg.JitterRatio
		delay += time.Duration(rand.Float64() * jitterSpan)
	}

	return delay
}

// ParseRetryAfter parses an HTTP Retry-After header into milliseconds.
// Returns 0 if the header is absent or unparseable.
func ParseRetryAfter(header string) int64 {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		if secs < 0 {
			return 0
		}
		return int64(secs) * 1000
	}
	if t, err := http.ParseTime(header); err == nil {
		d := time.Until(t)
		if d < 0 {
			return 0
		}
		return d.Milliseconds()
	}
	return 0
}
