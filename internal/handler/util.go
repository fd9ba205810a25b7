package handler

import (
	"encoding/json"
	"net/http"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response with a user-safe reply.
func writeError(w http.ResponseWriter, status int, message, reply string) {
	writeJSON(w, status, map[string]string{
		"error":    message,
		"response": reply,
	})
}
