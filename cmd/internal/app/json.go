package app

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"lightlink/cmd/identity"
)

const maxAPIBodyBytes = 64 << 10

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error apiError `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: apiError{Code: code, Message: msg}})
}

// writeDomainError maps an identity.OpError kind to its HTTP status.
func writeDomainError(w http.ResponseWriter, err error) {
	status, code := http.StatusInternalServerError, "internal"
	switch {
	case identity.IsInvalidInput(err):
		status, code = http.StatusBadRequest, "invalid_input"
	case identity.IsUnauthenticated(err):
		status, code = http.StatusUnauthorized, "unauthenticated"
	case identity.IsForbidden(err):
		status, code = http.StatusForbidden, "forbidden"
	case identity.IsNotFound(err):
		status, code = http.StatusNotFound, "not_found"
	case identity.IsConflict(err):
		status, code = http.StatusConflict, "conflict"
	}

	msg := identity.PublicMessage(err)
	if msg == "" || status == http.StatusInternalServerError {
		msg = http.StatusText(status)
	}
	writeError(w, status, code, msg)
}

// decodeJSON reads one JSON value. Unknown fields are tolerated: browser push
// subscriptions carry fields the server does not keep.
func decodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, dst any) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	defer func() { _ = r.Body.Close() }()

	body := http.MaxBytesReader(w, r.Body, maxBytes)
	dec := json.NewDecoder(body)
	if err := dec.Decode(dst); err != nil {
		return err
	}
	// Ensure there is no extra data after the first JSON value.
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("extra data after JSON object")
	}
	return nil
}
