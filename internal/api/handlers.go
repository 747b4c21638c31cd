package api

import (
	"encoding/json"
	"net/http"

	"github.com/saveenergy/linkspeed/internal/logging"
	"github.com/saveenergy/linkspeed/internal/metrics"
)

type VersionResponse struct {
	Version    string `json:"version"`
	ServerName string `json:"server_name"`
}

func (r *Router) HealthCheck(w http.ResponseWriter, req *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}

func (r *Router) GetVersion(w http.ResponseWriter, req *http.Request) {
	version := r.version
	if version == "" {
		version = "dev"
	}
	respondJSON(w, VersionResponse{Version: version, ServerName: r.serverName}, http.StatusOK)
}

// StatsResponse is the transfer totals plus the transfers in flight.
type StatsResponse struct {
	metrics.Snapshot
	ActiveTransfers int64 `json:"active_transfers"`
}

func (r *Router) GetStats(w http.ResponseWriter, req *http.Request) {
	respondJSON(w, StatsResponse{
		Snapshot:        r.probe.Stats().Snapshot(),
		ActiveTransfers: r.probe.Active(),
	}, http.StatusOK)
}

func respondJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logging.Warn("JSON response encode failed", logging.Err(err))
	}
}
