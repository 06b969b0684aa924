package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"
)

const maxBodyBytes = 1 << 20

var errBadBody = errors.New("invalid request body")

type errorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	// RetryAfter is in whole seconds.
	RetryAfter int64 `json:"retryAfter,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Message: message})
}

// writeRetry answers 429 with Retry-After rounded up to whole seconds.
func writeRetry(w http.ResponseWriter, message string, after time.Duration) {
	secs := retrySeconds(after)
	w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	writeJSON(w, http.StatusTooManyRequests, errorResponse{Message: message, RetryAfter: secs})
}

func retrySeconds(d time.Duration) int64 {
	if d <= 0 {
		return 1
	}
	secs := int64(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	return secs
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return errBadBody
	}
	return nil
}
