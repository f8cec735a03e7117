package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/me/runq/internal/trace"
)

// requireStore rejects trace requests when no store is configured.
func (s *Server) requireStore(w http.ResponseWriter, reqID string) bool {
	if s.store == nil {
		respondError(w, reqID, http.StatusServiceUnavailable,
			newUnavailableError("trace store not configured"))
		return false
	}
	return true
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	if !s.requireStore(w, reqID) {
		return
	}

	runs, err := s.store.Runs(r.Context())
	if err != nil {
		s.logger.Error("list runs", "error", err, "request_id", reqID)
		respondError(w, reqID, http.StatusInternalServerError, newInternalError(err.Error()))
		return
	}
	if runs == nil {
		runs = []trace.RunInfo{}
	}
	respondOK(w, reqID, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	if !s.requireStore(w, reqID) {
		return
	}
	id := chi.URLParam(r, "id")

	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		s.logger.Error("get run", "id", id, "error", err, "request_id", reqID)
		respondError(w, reqID, http.StatusInternalServerError, newInternalError(err.Error()))
		return
	}
	if run == nil {
		respondError(w, reqID, http.StatusNotFound, newNotFoundError("run", id))
		return
	}
	respondOK(w, reqID, run)
}

func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	if !s.requireStore(w, reqID) {
		return
	}
	id := chi.URLParam(r, "id")

	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError, newInternalError(err.Error()))
		return
	}
	if run == nil {
		respondError(w, reqID, http.StatusNotFound, newNotFoundError("run", id))
		return
	}
	if err := s.store.DeleteRun(r.Context(), id); err != nil {
		s.logger.Error("delete run", "id", id, "error", err, "request_id", reqID)
		respondError(w, reqID, http.StatusInternalServerError, newInternalError(err.Error()))
		return
	}
	s.logger.Info("run deleted", "id", id, "request_id", reqID)
	respondOK(w, reqID, map[string]string{"id": id, "deleted": "true"})
}

// eventFilterFromQuery parses the filter query parameters of an event
// listing: core, thread, kind, after_seq, limit.
func eventFilterFromQuery(r *http.Request) (trace.Filter, *apiError) {
	f := trace.DefaultFilter()
	q := r.URL.Query()

	if v := q.Get("core"); v != "" {
		core, err := strconv.ParseInt(v, 10, 32)
		if err != nil || core < 0 {
			return f, newValidationError("core must be a non-negative integer")
		}
		f.Core = int32(core)
	}
	if v := q.Get("thread"); v != "" {
		thread, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return f, newValidationError("thread must be a non-negative integer")
		}
		f.Thread = thread
	}
	if v := q.Get("kind"); v != "" {
		f.Kind = v
	}
	if v := q.Get("after_seq"); v != "" {
		seq, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return f, newValidationError("after_seq must be a non-negative integer")
		}
		f.AfterSeq = seq
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 {
			return f, newValidationError("limit must be a positive integer")
		}
		f.Limit = limit
	}
	return f, nil
}

func (s *Server) handleListRunEvents(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	if !s.requireStore(w, reqID) {
		return
	}
	id := chi.URLParam(r, "id")

	filter, apiErr := eventFilterFromQuery(r)
	if apiErr != nil {
		respondError(w, reqID, http.StatusBadRequest, apiErr)
		return
	}

	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError, newInternalError(err.Error()))
		return
	}
	if run == nil {
		respondError(w, reqID, http.StatusNotFound, newNotFoundError("run", id))
		return
	}

	events, err := s.store.Events(r.Context(), id, filter)
	if err != nil {
		s.logger.Error("list events", "id", id, "error", err, "request_id", reqID)
		respondError(w, reqID, http.StatusInternalServerError, newInternalError(err.Error()))
		return
	}
	if events == nil {
		events = []trace.Record{}
	}
	respondOK(w, reqID, events)
}
