package headless

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/ishaanstalk/newscrawler/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeBrowser struct {
	closed   bool
	pageErr  error
	pageCall int
}

func (f *fakeBrowser) Page(proto.TargetCreateTarget) (*rod.Page, error) {
	f.pageCall++
	if f.pageErr != nil {
		return nil, f.pageErr
	}
	return &rod.Page{}, nil
}
func (f *fakeBrowser) Close() error { f.closed = true; return nil }

func testHeadlessConfig() config.HeadlessConfig {
	return config.HeadlessConfig{
		Enabled:               false, // keep stealth.Page out of the fake path
		MaxBrowsers:           2,
		MaxPagesPerBrowser:    2,
		MaxSessionAgeMs:       0,
		HealthCheckIntervalMs: time.Minute,
		MaxConsecutiveErrors:  3,
		DegradedCooldownMs:    50 * time.Millisecond,
		RecycleAfterPages:     0,
	}
}

func newFakePool(t *testing.T, cfg config.HeadlessConfig) (*Pool, []*fakeBrowser) {
	t.Helper()
	var fakes []*fakeBrowser
	launch := func() (string, error) { return "fake", nil }
	connect := func(controlURL string) (browserHandle, error) {
		fb := &fakeBrowser{}
		fakes = append(fakes, fb)
		return fb, nil
	}
	p, err := newWithFuncs(cfg, testLogger(), launch, connect)
	if err != nil {
		t.Fatalf("newWithFuncs: %v", err)
	}
	return p, fakes
}

func TestAcquireReturnsLeaseFromNonDegradedInstance(t *testing.T) {
	p, _ := newFakePool(t, testHeadlessConfig())
	lease, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if lease.Page == nil {
		t.Fatal("expected a non-nil page")
	}
	p.release(lease.inst, false)
}

func TestAcquireRespectsPerInstancePageCap(t *testing.T) {
	cfg := testHeadlessConfig()
	cfg.MaxBrowsers = 1
	cfg.MaxPagesPerBrowser = 1
	p, _ := newFakePool(t, cfg)

	lease1, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(ctx)
	if err == nil {
		t.Fatal("expected second acquire to block until context deadline since only 1 slot exists")
	}

	p.release(lease1.inst, false)
}

func TestRecordErrorTripsDegradedAfterMaxConsecutiveErrors(t *testing.T) {
	p, _ := newFakePool(t, testHeadlessConfig())
	inst := p.instances[0]

	for i := 0; i < p.cfg.MaxConsecutiveErrors-1; i++ {
		p.recordError(inst)
		if inst.isDegraded(time.Now()) {
			t.Fatalf("should not be degraded after %d errors", i+1)
		}
	}
	p.recordError(inst)
	if !inst.isDegraded(time.Now()) {
		t.Fatal("expected instance to be degraded after max consecutive errors")
	}
}

func TestRecordSuccessResetsConsecutiveErrors(t *testing.T) {
	p, _ := newFakePool(t, testHeadlessConfig())
	inst := p.instances[0]
	p.recordError(inst)
	p.recordError(inst)
	p.recordSuccess(inst)
	inst.mu.Lock()
	errs := inst.consecutiveErrors
	inst.mu.Unlock()
	if errs != 0 {
		t.Errorf("expected consecutive errors reset to 0, got %d", errs)
	}
}

func TestPickInstanceSkipsDegradedInstance(t *testing.T) {
	p, _ := newFakePool(t, testHeadlessConfig())
	degraded := p.instances[0]
	degraded.mu.Lock()
	degraded.degradedUntil = time.Now().Add(time.Hour)
	degraded.mu.Unlock()

	inst, ok := p.pickInstance()
	if !ok {
		t.Fatal("expected to find a healthy instance")
	}
	if inst == degraded {
		t.Fatal("should not have picked the degraded instance")
	}
}

func TestShouldRecycleOnPageQuota(t *testing.T) {
	cfg := testHeadlessConfig()
	cfg.RecycleAfterPages = 3
	p, _ := newFakePool(t, cfg)
	inst := p.instances[0]
	inst.pagesServed = 3
	if !p.shouldRecycle(inst) {
		t.Error("expected recycle once page quota reached")
	}
}

func TestShouldRecycleOnSessionAge(t *testing.T) {
	cfg := testHeadlessConfig()
	cfg.MaxSessionAgeMs = 10 * time.Millisecond
	p, _ := newFakePool(t, cfg)
	inst := p.instances[0]
	inst.createdAt = time.Now().Add(-time.Second)
	if !p.shouldRecycle(inst) {
		t.Error("expected recycle once session age exceeded")
	}
}

func TestReleaseRecyclesAndReplacesInstance(t *testing.T) {
	cfg := testHeadlessConfig()
	cfg.RecycleAfterPages = 1
	p, fakes := newFakePool(t, cfg)
	old := p.instances[0]

	lease, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	p.release(lease.inst, false)

	if p.instances[0] == old {
		t.Error("expected instance to have been replaced after recycling")
	}
	if !fakes[0].closed {
		t.Error("expected old browser to be closed after recycling")
	}
}

func TestHealthCheckClearsDegradedInstanceOnSuccessfulProbe(t *testing.T) {
	p, _ := newFakePool(t, testHeadlessConfig())
	inst := p.instances[0]
	inst.mu.Lock()
	inst.degradedUntil = time.Now().Add(-time.Millisecond) // cooldown already elapsed
	inst.mu.Unlock()

	p.HealthCheck(context.Background())

	inst.mu.Lock()
	defer inst.mu.Unlock()
	if !inst.degradedUntil.IsZero() {
		t.Error("expected degradedUntil to be cleared after a successful health probe")
	}
}

func TestClosePropagatesToAllInstances(t *testing.T) {
	p, fakes := newFakePool(t, testHeadlessConfig())
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	for i, fb := range fakes {
		if !fb.closed {
			t.Errorf("instance %d not closed", i)
		}
	}
}
