package api

import (
	"encoding/json"
	"net/http"
	"time"

	"igcollector/pkg/errors"
)

// errorResponse is the JSON body of every failed request
type errorResponse struct {
	Error     string      `json:"error"`
	Code      errors.Code `json:"code,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// infoResponse is the JSON body of the root endpoint
type infoResponse struct {
	Service   string   `json:"service"`
	Version   string   `json:"version"`
	Endpoints []string `json:"endpoints"`
}

// cleanupResponse reports how many temp files a sweep removed
type cleanupResponse struct {
	RemovedFiles int       `json:"removed_files"`
	Timestamp    time.Time `json:"timestamp"`
}

// accountResponse acknowledges an account mutation
type accountResponse struct {
	Username string `json:"username"`
	Message  string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code errors.Code, message string) {
	writeJSON(w, status, errorResponse{
		Error:     message,
		Code:      code,
		RequestID: requestIDFrom(r),
		Timestamp: time.Now(),
	})
}

// statusForCode maps a run failure code to its HTTP status
func statusForCode(code errors.Code) int {
	switch code {
	case errors.CodeTargetUnavailable:
		return http.StatusNotFound
	case errors.CodeRateLimited:
		return http.StatusTooManyRequests
	case errors.CodeNoIdentityAvailable, errors.CodeSessionUnavailable, errors.CodeReauthRequired:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
