package utils

import (
	"encoding/json"
	"net/http"
)

// JSONError replies with status and an {"error": message} body so every
// handler reports failures in the same shape.
func JSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// JSONWrite encodes v onto w. A zero status leaves the implicit 200 in
// place; anything else is written before the body.
func JSONWrite(w http.ResponseWriter, status int, v interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
	}
	return json.NewEncoder(w).Encode(v)
}
