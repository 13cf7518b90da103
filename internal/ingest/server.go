// Package ingest exposes the telemetry Repository over plain HTTP: three OTLP ingest
// endpoints, a dashboard WebSocket upgrade, and a health check. It deliberately avoids a
// web framework — every route is a stdlib http.HandlerFunc — since the repository's
// query surface is a handful of routes, not an API product.
package ingest

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"google.golang.org/protobuf/proto"

	logspb "go.opentelemetry.io/proto/otlp/logs/v1"
	metricspb "go.opentelemetry.io/proto/otlp/metrics/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"

	"brokle-telemetry/internal/telemetry"
	"brokle-telemetry/pkg/realtime"
	"brokle-telemetry/pkg/ulid"
	"brokle-telemetry/pkg/websocket"
)

// Server wires a *telemetry.Repository and a *realtime.Broadcaster to net/http routes.
type Server struct {
	repo        *telemetry.Repository
	broadcaster *realtime.Broadcaster
	logger      *slog.Logger
}

// New builds a Server. Call Handler to obtain the http.Handler to serve.
func New(repo *telemetry.Repository, broadcaster *realtime.Broadcaster, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{repo: repo, broadcaster: broadcaster, logger: logger}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/v1/logs", s.handleLogs)
	mux.HandleFunc("/v1/traces", s.handleTraces)
	mux.HandleFunc("/v1/metrics", s.handleMetrics)
	mux.HandleFunc("/ws", s.handleWebSocket)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	var data logspb.LogsData
	if !s.decodeBody(w, r, &data) {
		return
	}
	addCtx, err := s.repo.AddLogs(r.Context(), &data)
	s.writeAddResult(w, addCtx, err)
}

func (s *Server) handleTraces(w http.ResponseWriter, r *http.Request) {
	var data tracepb.TracesData
	if !s.decodeBody(w, r, &data) {
		return
	}
	addCtx, err := s.repo.AddTraces(r.Context(), &data)
	s.writeAddResult(w, addCtx, err)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	var data metricspb.MetricsData
	if !s.decodeBody(w, r, &data) {
		return
	}
	addCtx, err := s.repo.AddMetrics(r.Context(), &data)
	s.writeAddResult(w, addCtx, err)
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, msg proto.Message) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	defer r.Body.Close()
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return false
	}
	if err := proto.Unmarshal(raw, msg); err != nil {
		http.Error(w, "invalid OTLP payload: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) writeAddResult(w http.ResponseWriter, addCtx *telemetry.AddContext, err error) {
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]int{"rejected": addCtx.FailureCount})
}

// handleWebSocket upgrades to a dashboard push connection and, for every subscribe frame
// it reads, subscribes it to the named channel. An unsubscribe frame removes the
// connection from the broadcaster altogether, whatever channel the frame names.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sub, err := websocket.NewSubscriber(ulid.New().String(), w, r)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer sub.Close()

	err = sub.ReadSubscribeRequests(
		func(channel, resourceKey string) {
			var filter *realtime.EventFilter
			if resourceKey != "" {
				filter = &realtime.EventFilter{ResourceKey: resourceKey}
			}
			if _, err := s.broadcaster.Subscribe(sub, channel, filter); err != nil {
				s.logger.Warn("websocket subscribe failed", "channel", channel, "error", err)
			}
		},
		func(channel, _ string) {
			_ = s.broadcaster.Unsubscribe(sub.ID())
		},
	)
	if err != nil {
		s.logger.Debug("websocket connection closed", "error", err)
	}
}

// ShutdownTimeout bounds how long Server-dependent callers should wait for in-flight
// requests to drain during graceful shutdown.
const ShutdownTimeout = 10 * time.Second
