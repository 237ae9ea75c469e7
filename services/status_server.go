// Package services exposes the relay's status over HTTP.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/EasterCompany/dex-tts-service/system"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// StatusServer provides HTTP status endpoints for this service
type StatusServer struct {
	startTime     time.Time
	addr          string
	version       string
	healthChecker *HealthChecker
	gatherer      prometheus.Gatherer

	mu        sync.RWMutex
	reporters map[string]func() any
	server    *http.Server
}

// NewStatusServer creates a status server listening on addr. gatherer may be
// nil, in which case /metrics is not served.
func NewStatusServer(addr, version string, healthChecker *HealthChecker, gatherer prometheus.Gatherer) *StatusServer {
	return &StatusServer{
		startTime:     time.Now(),
		addr:          addr,
		version:       version,
		healthChecker: healthChecker,
		gatherer:      gatherer,
		reporters:     make(map[string]func() any),
	}
}

// AddReporter adds a named section to /status, computed on each request.
func (ss *StatusServer) AddReporter(name string, fn func() any) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	ss.reporters[name] = fn
}

// Handler returns the status routes.
func (ss *StatusServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", ss.handleStatus)
	mux.HandleFunc("/health", ss.handleHealth)
	if ss.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(ss.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// Start listens on the configured address and serves in the background.
func (ss *StatusServer) Start() error {
	ln, err := net.Listen("tcp", ss.addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: ss.Handler(), ReadHeaderTimeout: 5 * time.Second}
	ss.mu.Lock()
	ss.server = srv
	ss.mu.Unlock()

	log.Info().Str("component", "status").Str("addr", ln.Addr().String()).Msg("Status server listening")
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("component", "status").Msg("Status server error")
		}
	}()
	return nil
}

// Shutdown stops the server if it was started.
func (ss *StatusServer) Shutdown(ctx context.Context) error {
	ss.mu.RLock()
	srv := ss.server
	ss.mu.RUnlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (ss *StatusServer) handleStatus(w http.ResponseWriter, _ *http.Request) {
	state := "operational"
	var dependencies map[string]*DependencyStatus
	if ss.healthChecker != nil {
		dependencies = ss.healthChecker.GetAll()
		if len(ss.healthChecker.Failing()) > 0 {
			state = "degraded"
		}
	}

	host, err := system.Snapshot()
	if err != nil {
		log.Debug().Err(err).Str("component", "status").Msg("Host stats incomplete")
	}

	ss.mu.RLock()
	metrics := make(map[string]any, len(ss.reporters))
	for name, fn := range ss.reporters {
		metrics[name] = fn()
	}
	ss.mu.RUnlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"service":      "dex-tts-service",
		"status":       state,
		"version":      ss.version,
		"uptime":       time.Since(ss.startTime).Round(time.Second).String(),
		"timestamp":    time.Now().Format(time.RFC3339),
		"host":         host,
		"metrics":      metrics,
		"dependencies": dependencies,
	})
}

// handleHealth answers 503 while any dependency check is failing.
func (ss *StatusServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	var failing []string
	if ss.healthChecker != nil {
		failing = ss.healthChecker.Failing()
	}
	if len(failing) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":  "degraded",
			"failing": failing,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Str("component", "status").Msg("Error encoding response")
	}
}
