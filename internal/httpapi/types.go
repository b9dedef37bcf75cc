package httpapi

import (
	"encoding/json"
	"net/http"
	"time"
)

// ErrorResponse is the JSON body of every gate rejection.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is the body of the health endpoint.
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// StatusResponse is the body of the status endpoint.
type StatusResponse struct {
	Version     string    `json:"version"`
	Uptime      string    `json:"uptime"`
	LegacyAuth  bool      `json:"legacy_auth_enabled"`
	AuditEvents int64     `json:"audit_events_dropped"`
	Timestamp   time.Time `json:"timestamp"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError writes a JSON error body.
func writeError(w http.ResponseWriter, statusCode int, errText, message string) {
	writeJSON(w, statusCode, ErrorResponse{Error: errText, Message: message})
}
