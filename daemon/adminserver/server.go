// Package adminserver exposes the daemon's own health, Prometheus metrics,
// and virtio channel state over a small HTTP API, separate from the
// metrics transports the publication loop feeds.
package adminserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vhostmd/vhostmd-go/daemon/domain"
	"github.com/vhostmd/vhostmd-go/daemon/logger"
	"github.com/vhostmd/vhostmd-go/daemon/metricsobs"
	"github.com/vhostmd/vhostmd-go/daemon/transport/virtio"
)

// Server is the admin HTTP listener: /healthz, /metrics, /debug/channels,
// and /debug/tick.
type Server struct {
	rctx   *domain.Context
	virtio *virtio.Server
	addr   string

	router     *mux.Router
	httpServer *http.Server

	mu       sync.RWMutex
	lastTick domain.TickCompleted
}

// NewServer builds an admin server bound to addr (e.g. ":8080"). virtioSrv
// may be nil when the virtio transport is not enabled.
func NewServer(rctx *domain.Context, virtioSrv *virtio.Server, addr string) *Server {
	s := &Server{
		rctx:   rctx,
		virtio: virtioSrv,
		addr:   addr,
		router: mux.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(loggingMiddleware)
	s.router.Use(recoveryMiddleware)

	s.router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.HandlerFor(metricsobs.Registry(), promhttp.HandlerOpts{})).Methods(http.MethodGet)
	s.router.HandleFunc("/debug/channels", s.handleDebugChannels).Methods(http.MethodGet)
	s.router.HandleFunc("/debug/tick", s.handleDebugTick).Methods(http.MethodGet)
}

// WatchTicks subscribes to Context.Bus's TickCompleted events and caches
// the most recent one for /debug/tick, until ctx is canceled.
func (s *Server) WatchTicks(ctx context.Context) {
	sub := s.rctx.Bus.SubTopics(domain.TickTopic)
	defer s.rctx.Bus.Unsub(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub:
			if !ok {
				return
			}
			if evt, ok := msg.(domain.TickCompleted); ok {
				s.mu.Lock()
				s.lastTick = evt
				s.mu.Unlock()
			}
		}
	}
}

// ListenAndServe starts the HTTP listener and blocks until it stops.
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	logger.Info("admin server listening on %s", s.addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("admin server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "ok")
}

type channelsResponse struct {
	Status          int32 `json:"status"`
	ChannelCount    int   `json:"channel_count"`
	ConnectionCount int   `json:"connection_count"`
	Enabled         bool  `json:"enabled"`
}

func (s *Server) handleDebugChannels(w http.ResponseWriter, r *http.Request) {
	resp := channelsResponse{Enabled: s.virtio != nil}
	if s.virtio != nil {
		resp.Status = s.virtio.Status()
		resp.ChannelCount = s.virtio.ChannelCount()
		resp.ConnectionCount = s.virtio.ConnectionCount()
	}
	writeJSON(w, resp)
}

func (s *Server) handleDebugTick(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	tick := s.lastTick
	s.mu.RUnlock()
	writeJSON(w, tick)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("admin server: encoding response: %v", err)
	}
}
