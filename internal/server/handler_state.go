package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/me/runq/internal/sim"
	"github.com/me/runq/pkg/sched"
)

type stateResponse struct {
	Clock   uint64               `json:"clock"`
	Policy  string               `json:"policy"`
	Quantum uint32               `json:"quantum"`
	Cores   []sched.CoreSnapshot `json:"cores"`
}

// handleState returns the full scheduler snapshot stamped with the
// simulation clock. The snapshot is consistent per core, not across
// cores; the simulation may be mid-tick.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	scheduler := s.sim.Scheduler()
	respondOK(w, reqID, stateResponse{
		Clock:   s.sim.Clock(),
		Policy:  s.sim.Stats().Policy,
		Quantum: scheduler.Quantum(),
		Cores:   scheduler.Snapshot(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	respondOK(w, reqID, s.sim.Stats())
}

func (s *Server) handleListThreads(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	threads := s.sim.Stats().Threads
	if threads == nil {
		threads = []sim.ThreadStats{}
	}
	respondOK(w, reqID, threads)
}

func (s *Server) handleListCores(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	respondOK(w, reqID, s.sim.Scheduler().Snapshot())
}

func (s *Server) handleGetCore(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	idStr := chi.URLParam(r, "id")

	id, err := strconv.Atoi(idStr)
	if err != nil || id < 0 || id >= s.sim.Scheduler().NumCores() {
		respondError(w, reqID, http.StatusNotFound, newNotFoundError("core", idStr))
		return
	}
	respondOK(w, reqID, s.sim.Scheduler().SnapshotCore(sched.CoreID(id)))
}
