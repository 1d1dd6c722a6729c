package telemetry

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestSSEHandlerStreamsPublishedEvents(t *testing.T) {
	bus := New(testTelemetryConfig(), "job-1", testLogger())
	srv := NewServer(0, bus, testLogger())

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/events", nil)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("connecting to SSE endpoint: %v", err)
	}
	defer resp.Body.Close()

	if resp.Header.Get("Content-Type") != "text/event-stream" {
		t.Fatalf("expected text/event-stream, got %q", resp.Header.Get("Content-Type"))
	}

	// Give the handler a moment to register its subscription before we
	// publish, since Subscribe() happens inside the handler goroutine.
	time.Sleep(50 * time.Millisecond)
	bus.Publish(Event{Type: TypeCrawlStarted})

	reader := bufio.NewReader(resp.Body)
	found := false
	for i := 0; i < 10; i++ {
		line, err := reader.ReadString('\n')
		if err != nil {
			break
		}
		if strings.Contains(line, `"type":"crawl:started"`) {
			found = true
			break
		}
	}
	if !found {
		t.Fatal("did not observe crawl:started event in SSE stream")
	}
}

func TestSSEHistoryEndpointReturnsBoundedRing(t *testing.T) {
	bus := New(testTelemetryConfig(), "job-1", testLogger())
	bus.Publish(Event{Type: TypeCrawlStarted})
	bus.Publish(Event{Type: TypeCrawlCompleted})

	srv := NewServer(0, bus, testLogger())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/events/history")
	if err != nil {
		t.Fatalf("GET /events/history: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Content-Type") != "application/json" {
		t.Fatalf("expected application/json, got %q", resp.Header.Get("Content-Type"))
	}
}
