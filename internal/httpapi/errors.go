package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"lorad/internal/manager"
	"lorad/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// statusFor maps well-known manager errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case manager.IsInvalidInput(err):
		return http.StatusBadRequest
	case manager.IsNotInitialized(err):
		return http.StatusConflict
	case manager.IsNativeFailure(err):
		return http.StatusBadGateway
	}
	if he, ok := err.(HTTPError); ok {
		return he.StatusCode()
	}
	return http.StatusInternalServerError
}

// writeJSONError writes a consistent JSON error payload. Messages carry an
// "ERROR: " prefix for parity with the native log surface.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	if !strings.HasPrefix(msg, "ERROR: ") {
		msg = "ERROR: " + msg
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}

// writeManagerError maps err to a status and writes the JSON payload.
func writeManagerError(w http.ResponseWriter, err error) {
	writeJSONError(w, statusFor(err), err.Error())
}
