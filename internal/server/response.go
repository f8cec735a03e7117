package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// errorCode is a structured API error code.
type errorCode string

const (
	errValidation  errorCode = "VALIDATION_ERROR"
	errNotFound    errorCode = "NOT_FOUND"
	errUnavailable errorCode = "UNAVAILABLE"
	errInternal    errorCode = "INTERNAL_ERROR"
)

// apiError is a structured error returned by the monitor API.
type apiError struct {
	Code    errorCode `json:"code"`
	Message string    `json:"message"`
}

func newNotFoundError(resource, id string) *apiError {
	return &apiError{Code: errNotFound, Message: fmt.Sprintf("%s '%s' not found", resource, id)}
}

func newValidationError(msg string) *apiError {
	return &apiError{Code: errValidation, Message: msg}
}

func newUnavailableError(msg string) *apiError {
	return &apiError{Code: errUnavailable, Message: msg}
}

func newInternalError(msg string) *apiError {
	return &apiError{Code: errInternal, Message: msg}
}

// responseEnvelope is the standard API response envelope.
type responseEnvelope struct {
	Status    string    `json:"status"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
	Error     *apiError `json:"error"`
}

// requestID generates a unique request identifier.
func requestID() string {
	return "req_" + uuid.New().String()[:8]
}

// respondOK writes a success response with the standard envelope.
func respondOK(w http.ResponseWriter, reqID string, data any) {
	respondJSON(w, http.StatusOK, reqID, data, nil)
}

// respondError writes an error response with the standard envelope.
func respondError(w http.ResponseWriter, reqID string, status int, apiErr *apiError) {
	respondJSON(w, status, reqID, nil, apiErr)
}

func respondJSON(w http.ResponseWriter, status int, reqID string, data any, apiErr *apiError) {
	resp := responseEnvelope{
		RequestID: reqID,
		Timestamp: time.Now().UTC(),
		Data:      data,
		Error:     apiErr,
	}
	if apiErr != nil {
		resp.Status = "error"
	} else {
		resp.Status = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}
