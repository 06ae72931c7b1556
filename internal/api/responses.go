package api

import (
	"encoding/json"
	"net/http"
)

// APIResponse is the JSON envelope of every response.
type APIResponse struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	writeEnvelope(w, status, "ok", data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeEnvelope(w, status, message, nil)
}

// writeErrorData reports a failure that still carries a payload, e.g. the
// failed document of an ingestion.
func writeErrorData(w http.ResponseWriter, status int, message string, data interface{}) {
	writeEnvelope(w, status, message, data)
}

func writeEnvelope(w http.ResponseWriter, status int, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(&APIResponse{
		Code:    status,
		Message: message,
		Data:    data,
	})
}
