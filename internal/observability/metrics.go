// Package observability serves crawl counters in Prometheus text
// exposition format over net/http, from a snapshot of whatever counters
// the caller hands it.
package observability

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"
)

// StatsSource is the subset of internal/engine.Stats this package needs:
// a point-in-time snapshot keyed the same way internal/telemetry's
// crawl:progress event data is shaped, so the same map feeds both.
type StatsSource interface {
	Snapshot() map[string]any
}

// Metrics serves a crawl's live Stats as Prometheus counters/gauges.
type Metrics struct {
	stats  StatsSource
	logger *slog.Logger
}

// NewMetrics creates a Metrics exporter over an engine's Stats.
func NewMetrics(stats StatsSource, logger *slog.Logger) *Metrics {
	return &Metrics{stats: stats, logger: logger.With("component", "metrics")}
}

// gaugeNames are reported as Prometheus gauges; everything else in the
// snapshot is reported as a counter. elapsed is a duration string, not a
// number, and is skipped entirely.
var gaugeNames = map[string]bool{"activeWorkers": true}

// ServeHTTP serves metrics in Prometheus text exposition format.
func (m *Metrics) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	snap := m.stats.Snapshot()
	keys := make([]string, 0, len(snap))
	for k := range snap {
		if k == "elapsed" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		name := "newscrawler_" + toSnakeCase(k)
		kind := "counter"
		if gaugeNames[k] {
			kind = "gauge"
		}
		fmt.Fprintf(w, "# TYPE %s %s\n", name, kind)
		fmt.Fprintf(w, "%s %v\n", name, snap[k])
	}
}

// StartServer starts the metrics HTTP server as a background goroutine.
func (m *Metrics) StartServer(port int, path string) error {
	mux := http.NewServeMux()
	mux.Handle(path, m)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})

	addr := fmt.Sprintf(":%d", port)
	m.logger.Info("metrics server starting", "addr", addr, "path", path)

	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			m.logger.Error("metrics server error", "error", err)
		}
	}()

	return nil
}

// toSnakeCase converts a camelCase stats key (e.g. "urlsVisited") to
// snake_case ("urls_visited") for Prometheus naming conventions.
func toSnakeCase(s string) string {
	out := make([]byte, 0, len(s)+4)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			out = append(out, '_', c+('a'-'A'))
			continue
		}
		out = append(out, c)
	}
	return string(out)
}
