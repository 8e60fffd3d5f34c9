package server

import (
	"encoding/json"
	"net/http"
)

// envelope is the body of every response: data on success, error otherwise.
type envelope struct {
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

func writeEnvelope(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func success(w http.ResponseWriter, status int, data any) {
	writeEnvelope(w, status, envelope{Data: data})
}

func failure(w http.ResponseWriter, status int, message string) {
	writeEnvelope(w, status, envelope{Error: message})
}
