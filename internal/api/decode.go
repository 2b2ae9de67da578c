package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

// decodeJSON decodes an optional request body into dst. An empty body leaves
// dst untouched. On failure the error response is written and false
// returned.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil {
		return true
	}
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]any{"error": "request body too large"})
		return false
	}
	writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
	return false
}
