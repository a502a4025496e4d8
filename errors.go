package main

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
)

// Error kinds returned by the service layer. Handlers translate them to HTTP
// statuses; anything unrecognized is reported as an internal error.
var (
	errUnauthenticated   = errors.New("unauthenticated")
	errForbidden         = errors.New("forbidden")
	errNotFound          = errors.New("not found")
	errConflict          = errors.New("already exists")
	errInvalidCredential = errors.New("invalid credential")
	errMalformed         = errors.New("malformed request")
)

// APIError represents a structured API error response
type APIError struct {
	Code    string `json:"error_code"`
	Message string `json:"error_message"`
	Details string `json:"details,omitempty"`
}

// writeError writes a structured error response
func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(APIError{
		Code:    code,
		Message: message,
	})
}

// writeServiceError maps a service error kind to its HTTP response. Denials
// and failed lookups use fixed messages so a response never reveals whether
// the target exists.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errUnauthenticated):
		w.Header().Set("WWW-Authenticate", "Bearer")
		writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "Invalid or missing credentials")
	case errors.Is(err, errForbidden):
		writeError(w, http.StatusForbidden, "FORBIDDEN", "Not enough permissions")
	case errors.Is(err, errNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Resource not found")
	case errors.Is(err, errConflict):
		writeError(w, http.StatusBadRequest, "EMAIL_TAKEN", "Email already registered")
	case errors.Is(err, errInvalidCredential):
		writeError(w, http.StatusBadRequest, "INVALID_PASSWORD", "Old password is incorrect")
	case errors.Is(err, errMalformed):
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
	default:
		log.Printf("internal error: %v", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
	}
}
