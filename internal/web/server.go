// Package web frames the tool surface over the two supported
// transports: HTTP (POST /v1/tools/{name}) and newline-delimited JSON
// on stdio. Framing stays thin; every decision lives in the control
// service.
package web

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"appwritectl/internal/metrics"
	"appwritectl/internal/service"
)

const toolPathPrefix = "/v1/tools/"

// Server exposes the control service over HTTP.
type Server struct {
	Service *service.Service
}

// Handler returns the full HTTP mux: tool dispatch, health probes, and
// Prometheus metrics, wrapped in the request-metrics middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc(toolPathPrefix, s.handleTool)
	return metrics.Middleware(mux)
}

func (s *Server) handleTool(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	tool := strings.TrimPrefix(r.URL.Path, toolPathPrefix)
	if tool == "" || strings.Contains(tool, "/") {
		http.NotFound(w, r)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	resp := s.Service.Dispatch(r.Context(), tool, body)
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("write json response", "error", err)
	}
}
