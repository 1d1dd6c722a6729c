package retry

import (
	"errors"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/ishaanstalk/newscrawler/internal/config"
)

func TestClassifyNetworkErrorConnectionReset(t *testing.T) {
	err := &net.OpError{Op: "read", Err: syscall.ECONNRESET}
	if k := ClassifyNetworkError(err); k != KindConnectionReset {
		t.Errorf("expected connection-reset, got %s", k)
	}
	if !IsRetryableKind(ClassifyNetworkError(err)) {
		t.Error("connection-reset should be retryable")
	}
}

func TestClassifyNetworkErrorConnectionRefused(t *testing.T) {
	err := &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}
	if k := ClassifyNetworkError(err); k != KindConnectionRefused {
		t.Errorf("expected connection-refused, got %s", k)
	}
}

func TestClassifyNetworkErrorDNSNotFound(t *testing.T) {
	err := &net.DNSError{IsNotFound: true}
	if k := ClassifyNetworkError(err); k != KindDNSNotFound {
		t.Errorf("expected dns-not-found, got %s", k)
	}
}

func TestClassifyNetworkErrorUnknownIsTerminal(t *testing.T) {
	err := errors.New("some unclassified error")
	if k := ClassifyNetworkError(err); k != KindTerminal {
		t.Errorf("expected terminal, got %s", k)
	}
	if IsRetryableKind(KindTerminal) {
		t.Error("terminal should not be retryable")
	}
}

func TestIsRetryableStatus(t *testing.T) {
	retryable := []int{408, 429, 500, 502, 503, 504}
	for _, s := range retryable {
		if !IsRetryableStatus(s) {
			t.Errorf("expected %d to be retryable", s)
		}
	}
	nonRetryable := []int{200, 301, 400, 401, 403, 404, 410}
	for _, s := range nonRetryable {
		if IsRetryableStatus(s) {
			t.Errorf("expected %d to not be retryable", s)
		}
	}
}

func TestContextRetryBound(t *testing.T) {
	// attempts <= maxAttempts + 1
	cfg := Context{AttemptIndex: 0, MaxAttempts: 3}
	attempts := 1
	for cfg.Retryable() {
		cfg = cfg.Next()
		attempts++
	}
	if attempts > cfg.MaxAttempts+1 {
		t.Errorf("expected at most maxAttempts+1 = %d attempts, got %d", cfg.MaxAttempts+1, attempts)
	}
}

func TestComputeDelayUsesRetryAfterClamped(t *testing.T) {
	rc := config.RetryConfig{
		MaxAttempts: 3,
		BaseDelayMs: 500 * time.Millisecond,
		MaxDelayMs:  10 * time.Second,
		JitterRatio: 0,
	}

	// Retry-After below base is clamped up to base.
	d := ComputeDelay(rc, 0, 100)
	if d != rc.BaseDelayMs {
		t.Errorf("expected clamp up to base, got %v", d)
	}

	// Retry-After above max is clamped down to max.
	d = ComputeDelay(rc, 0, 60_000)
	if d != rc.MaxDelayMs {
		t.Errorf("expected clamp down to max, got %v", d)
	}

	// Retry-After within bounds passes through.
	d = ComputeDelay(rc, 0, 2000)
	if d != 2*time.Second {
		t.Errorf("expected 2s, got %v", d)
	}
}

func TestComputeDelayExponentialBackoffWithoutRetryAfter(t *testing.T) {
	rc := config.RetryConfig{
		MaxAttempts: 5,
		BaseDelayMs: 100 * time.Millisecond,
		MaxDelayMs:  10 * time.Second,
		JitterRatio: 0,
	}

	d0 := ComputeDelay(rc, 0, 0)
	d1 := ComputeDelay(rc, 1, 0)
	d2 := ComputeDelay(rc, 2, 0)

	if d0 != 100*time.Millisecond {
		t.Errorf("attempt 0: expected 100ms, got %v", d0)
	}
	if d1 != 200*time.Millisecond {
		t.Errorf("attempt 1: expected 200ms, got %v", d1)
	}
	if d2 != 400*time.Millisecond {
		t.Errorf("attempt 2: expected 400ms, got %v", d2)
	}
}

func TestComputeDelayClampsExponentialToMax(t *testing.T) {
	rc := config.RetryConfig{
		MaxAttempts: 10,
		BaseDelayMs: 1 * time.Second,
		MaxDelayMs:  5 * time.Second,
		JitterRatio: 0,
	}
	d := ComputeDelay(rc, 10, 0)
	if d != rc.MaxDelayMs {
		t.Errorf("expected clamp to max_delay_ms, got %v", d)
	}
}

func TestComputeDelayAddsJitterWithinBounds(t *testing.T) {
	rc := config.RetryConfig{
		MaxAttempts: 3,
		BaseDelayMs: 100 * time.Millisecond,
		MaxDelayMs:  10 * time.Second,
		JitterRatio: 0.2,
	}
	for i := 0; i < 20; i++ {
		d := ComputeDelay(rc, 0, 0)
		if d < rc.BaseDelayMs || d > rc.BaseDelayMs+time.Duration(float64(rc.BaseDelayMs)*rc.JitterRatio) {
			t.Fatalf("jittered delay %v out of expected bounds", d)
		}
	}
}

func TestParseRetryAfterSeconds(t *testing.T) {
	if got := ParseRetryAfter("5"); got != 5000 {
		t.Errorf("expected 5000ms, got %d", got)
	}
}

func TestParseRetryAfterAbsent(t *testing.T) {
	if got := ParseRetryAfter(""); got != 0 {
		t.Errorf("expected 0 for absent header, got %d", got)
	}
}

func TestParseRetryAfterHTTPDate(t *testing.T) {
	future := time.Now().Add(30 * time.Second).UTC().Format(httpTimeFormat)
	got := ParseRetryAfter(future)
	if got <= 0 || got > 31_000 {
		t.Errorf("expected ~30000ms, got %d", got)
	}
}

const httpTimeFormat = "Mon, 02 Jan 2006 15:04:05 GMT"
