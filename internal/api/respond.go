package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/kalambet/circled/internal/posts"
	"github.com/kalambet/circled/internal/roster"
	"github.com/kalambet/circled/internal/scheduler"
)

const maxRequestBodySize = 1 << 20 // 1MB

// maxSyncBodySize bounds POST /posts/sync, which carries whole post lists.
const maxSyncBodySize = 10 << 20 // 10MB

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func decodeBody(w http.ResponseWriter, r *http.Request, limit int64, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

// domainError maps package sentinels onto HTTP statuses.
func domainError(w http.ResponseWriter, err error, what string) {
	switch {
	case errors.Is(err, posts.ErrNotFound), errors.Is(err, roster.ErrUnknownActor):
		httpError(w, http.StatusNotFound, "not_found", "%s: %v", what, err)
	case errors.Is(err, scheduler.ErrInvalidJob):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%s: %v", what, err)
	case errors.Is(err, posts.ErrSerialization):
		httpError(w, http.StatusConflict, "storage_error", "%s: %v", what, err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "%s: %v", what, err)
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
