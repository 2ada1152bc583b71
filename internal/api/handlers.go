package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/nerrad567/influx-north/internal/forwarder"
	"github.com/nerrad567/influx-north/internal/ingest"
	"github.com/nerrad567/influx-north/internal/north"
)

// HealthResponse is the body of GET /api/v1/health.
type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version,omitempty"`
	Failed  map[string]string `json:"failed,omitempty"`
}

// StatusResponse is the body of GET /api/v1/status.
type StatusResponse struct {
	Version       string          `json:"version,omitempty"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Forwarder     ForwarderReport `json:"forwarder"`
	North         north.Status    `json:"north"`
	Ingest        *ingest.Stats   `json:"ingest,omitempty"`
}

// Failure classes reported for the forwarder's last error.
const (
	FailureConnect  = "connect"
	FailureDelivery = "delivery"
)

// ForwarderReport describes the forwarder's connection.
type ForwarderReport struct {
	State        string          `json:"state"`
	Stats        forwarder.Stats `json:"stats"`
	LastError    string          `json:"last_error,omitempty"`
	FailureClass string          `json:"failure_class,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	resp := HealthResponse{Status: "ok", Version: s.version}
	for _, name := range names {
		if err := s.checks[name].HealthCheck(ctx); err != nil {
			if resp.Failed == nil {
				resp.Failed = make(map[string]string)
			}
			resp.Failed[name] = err.Error()
		}
	}

	if len(resp.Failed) > 0 {
		resp.Status = "unhealthy"
		s.logger.Warn("health check failed", "failed", resp.Failed)
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp, err := s.buildStatus(r.Context())
	if err != nil {
		s.logger.Error("reading north status", "error", err)
		writeInternalError(w, "status unavailable")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) buildStatus(ctx context.Context) (StatusResponse, error) {
	northStatus, err := s.north.Status(ctx)
	if err != nil {
		return StatusResponse{}, err
	}

	resp := StatusResponse{
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Forwarder: ForwarderReport{
			State: s.forwarder.State().String(),
			Stats: s.forwarder.Stats(),
		},
		North: northStatus,
	}
	if err := s.forwarder.LastError(); err != nil {
		resp.Forwarder.LastError = err.Error()
		resp.Forwarder.FailureClass = FailureDelivery
		if forwarder.IsConnectError(err) {
			resp.Forwarder.FailureClass = FailureConnect
		}
	}
	if s.ingest != nil {
		stats := s.ingest.Stats()
		resp.Ingest = &stats
	}
	return resp, nil
}
