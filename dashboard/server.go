// Package dashboard provides a read-only HTTP statistics surface for the
// follow engine.
//
// It exposes:
//   - GET /api/stats           – point-in-time snapshot of follow outcomes (JSON)
//   - GET /api/metrics/stream  – SSE stream of the same snapshot (1s ticks)
//   - GET /api/logs/stream     – SSE stream of log entries
//   - GET /metrics             – raw Prometheus exposition format
//
// This surface is scoped to statistics only: no config hot-reload, no proxy
// upload, no cluster control. Operators change settings through the
// settings row directly, not through this HTTP surface.
package dashboard

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/firasghr/followfleet/follow"
	"github.com/firasghr/followfleet/metrics"
)

// outcomeKinds is every follow.Kind the stats surface reports, in a stable
// order so JSON output doesn't jitter between requests.
var outcomeKinds = []string{
	string(follow.KindOK),
	string(follow.KindRateLimited),
	string(follow.KindNotFound),
	string(follow.KindSuspended),
	string(follow.KindUnauthorized),
	string(follow.KindAPIError),
	string(follow.KindTransportError),
}

// StatsSnapshot is the JSON payload pushed to dashboard clients.
type StatsSnapshot struct {
	Timestamp  int64              `json:"timestamp"`
	UptimeSecs float64            `json:"uptime_seconds"`
	ByOutcome  map[string]float64 `json:"by_outcome"`
}

// LogEntry is a structured log line streamed to the dashboard.
type LogEntry struct {
	Timestamp int64  `json:"ts"`
	Level     string `json:"level"`
	Message   string `json:"message"`
}

const maxLogs = 10_000

// Server serves the read-only statistics surface.
type Server struct {
	metrics *metrics.Metrics

	logMu    sync.Mutex
	logs     []LogEntry
	logSubs  map[chan LogEntry]struct{}
	logSubMu sync.Mutex

	statsSubs  map[chan StatsSnapshot]struct{}
	statsSubMu sync.Mutex

	mux *http.ServeMux
}

// New creates a Server backed by m. Call ListenAndServe to start accepting
// connections.
func New(m *metrics.Metrics) *Server {
	s := &Server{
		metrics:   m,
		logs:      make([]LogEntry, 0, 512),
		logSubs:   make(map[chan LogEntry]struct{}),
		statsSubs: make(map[chan StatsSnapshot]struct{}),
		mux:       http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// AddLog appends a structured log entry to the ring buffer and fans it out to
// every active SSE /api/logs/stream subscriber.
func (s *Server) AddLog(level, message string) {
	entry := LogEntry{
		Timestamp: time.Now().UnixMilli(),
		Level:     level,
		Message:   message,
	}

	s.logMu.Lock()
	s.logs = append(s.logs, entry)
	if len(s.logs) > maxLogs {
		s.logs = s.logs[len(s.logs)-maxLogs:]
	}
	s.logMu.Unlock()

	s.logSubMu.Lock()
	for ch := range s.logSubs {
		select {
		case ch <- entry:
		default:
			// Slow subscriber – drop rather than block.
		}
	}
	s.logSubMu.Unlock()
}

// ListenAndServe starts the HTTP server on addr (e.g. ":8080") and blocks
// until the process exits. It also starts the background goroutine that
// ticks stats to SSE subscribers every second.
func (s *Server) ListenAndServe(addr string) error {
	go s.statsTicker()
	log.Printf("dashboard: listening on %s", addr)
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // disabled – SSE/log streams are unbounded
		IdleTimeout:  120 * time.Second,
	}
	return srv.ListenAndServe()
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/api/stats", s.withCORS(s.handleStats))
	s.mux.HandleFunc("/api/metrics/stream", s.withCORS(s.handleStatsStream))
	s.mux.HandleFunc("/api/logs/stream", s.withCORS(s.handleLogsStream))
	s.mux.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))
}

func (s *Server) withCORS(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

func (s *Server) snapshot() StatsSnapshot {
	snap := s.metrics.Snapshot(outcomeKinds)
	return StatsSnapshot{
		Timestamp:  time.Now().UnixMilli(),
		UptimeSecs: snap.Uptime.Seconds(),
		ByOutcome:  snap.ByOutcome,
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.snapshot()); err != nil {
		log.Printf("dashboard: encode stats: %v", err)
	}
}

func (s *Server) statsTicker() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for range ticker.C {
		snap := s.snapshot()
		s.statsSubMu.Lock()
		for ch := range s.statsSubs {
			select {
			case ch <- snap:
			default:
			}
		}
		s.statsSubMu.Unlock()
	}
}

func (s *Server) handleStatsStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := make(chan StatsSnapshot, 16)
	s.statsSubMu.Lock()
	s.statsSubs[ch] = struct{}{}
	s.statsSubMu.Unlock()

	defer func() {
		s.statsSubMu.Lock()
		delete(s.statsSubs, ch)
		s.statsSubMu.Unlock()
	}()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-ch:
			if err := sseWrite(w, snap); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) handleLogsStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	s.logMu.Lock()
	history := make([]LogEntry, len(s.logs))
	copy(history, s.logs)
	s.logMu.Unlock()

	for _, entry := range history {
		if err := sseWrite(w, entry); err != nil {
			return
		}
	}
	flusher.Flush()

	ch := make(chan LogEntry, 256)
	s.logSubMu.Lock()
	s.logSubs[ch] = struct{}{}
	s.logSubMu.Unlock()

	defer func() {
		s.logSubMu.Lock()
		delete(s.logSubs, ch)
		s.logSubMu.Unlock()
	}()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case entry := <-ch:
			if err := sseWrite(w, entry); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func sseWrite(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
