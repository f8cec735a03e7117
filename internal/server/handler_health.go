package server

import (
	"net/http"
	"runtime"
	"time"
)

type healthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	Uptime    string `json:"uptime"`
	Policy    string `json:"policy"`
	Cores     int    `json:"cores"`
	Clock     uint64 `json:"clock"`
	Trace     string `json:"trace"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	traceState := "disabled"
	if s.store != nil {
		traceState = "recording"
	}
	respondOK(w, reqID, healthResponse{
		Status:    "healthy",
		Version:   version,
		GoVersion: runtime.Version(),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Policy:    s.sim.Stats().Policy,
		Cores:     s.sim.Scheduler().NumCores(),
		Clock:     s.sim.Clock(),
		Trace:     traceState,
	})
}

type endpointInfo struct {
	Method      string `json:"method"`
	Path        string `json:"path"`
	Description string `json:"description"`
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	respondOK(w, reqID, map[string]any{
		"name":    "runq monitor API",
		"version": version,
		"endpoints": []endpointInfo{
			{"GET", "/api/v1/health", "monitor health and simulation identity"},
			{"GET", "/api/v1/state", "scheduler snapshot with the simulation clock"},
			{"GET", "/api/v1/stats", "simulation statistics"},
			{"GET", "/api/v1/threads", "per-thread accounting"},
			{"GET", "/api/v1/cores", "all core snapshots"},
			{"GET", "/api/v1/cores/{id}", "one core's queue, running and idle threads"},
			{"GET", "/api/v1/trace/runs", "recorded runs"},
			{"GET", "/api/v1/trace/runs/{id}", "one recorded run"},
			{"DELETE", "/api/v1/trace/runs/{id}", "delete a recorded run and its events"},
			{"GET", "/api/v1/trace/runs/{id}/events", "a run's events, filterable"},
			{"GET", "/api/v1/sse/events", "live scheduler event stream"},
		},
	})
}
