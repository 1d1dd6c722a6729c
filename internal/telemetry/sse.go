package telemetry

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// Server exposes a Bus over Server-Sent Events.
type Server struct {
	mux    *http.ServeMux
	port   int
	bus    *Bus
	logger *slog.Logger
}

// NewServer builds an SSE server for bus, listening on port.
func NewServer(port int, bus *Bus, logger *slog.Logger) *Server {
	s := &Server{
		mux:    http.NewServeMux(),
		port:   port,
		bus:    bus,
		logger: logger.With("component", "telemetry_server"),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/events", s.handleEvents)
	s.mux.HandleFunc("/events/history", s.handleHistory)
}

// Start begins serving in a background goroutine.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.logger.Info("telemetry SSE server starting", "addr", addr)

	go func() {
		if err := http.ListenAndServe(addr, s.mux); err != nil {
			s.logger.Error("telemetry SSE server error", "error", err)
		}
	}()
	return nil
}

// Handler returns the underlying mux, for tests that want to exercise
// routes via httptest without binding a real port.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch, unsubscribe := s.bus.Subscribe()
	defer unsubscribe()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				s.logger.Warn("dropping unmarshalable telemetry event", "error", err, "type", ev.Type)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(s.bus.History())
}
