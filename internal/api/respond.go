// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LAN Connect Contributors

package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/lanconnect/lanconnect/internal/auth"
	"github.com/lanconnect/lanconnect/internal/payment"
	"github.com/lanconnect/lanconnect/pkg/errutil"
)

// Client-facing messages.
const (
	msgInternal      = "Internal server error"
	msgUnauthorized  = "Not authorized to access this route"
	msgNotFound      = "Route not found"
	msgTooLarge      = "Request body too large"
	msgRateLimited   = "Too many requests from this IP, please try again later."
	msgUserNotFound  = "User not found"
	msgEmailNotFound = "No user found with that email"
)

type errorBody struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type successBody struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // client went away
}

func writeData(w http.ResponseWriter, code int, data any) {
	writeJSON(w, code, successBody{Status: "success", Data: data})
}

func writeMessage(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, successBody{Status: "success", Message: message})
}

func writeErrorMessage(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, errorBody{Status: "error", Message: message})
}

// errorStatus maps a service error to its HTTP status and client message.
func errorStatus(err error) (int, string) {
	var (
		reqErr    *requestError
		tooLarge  *http.MaxBytesError
		authInput *auth.InputError
		payInput  *payment.InputError
	)
	switch {
	case errors.As(err, &reqErr):
		return http.StatusBadRequest, reqErr.message
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, msgTooLarge
	case errors.Is(err, auth.ErrUpstreamUnavailable), errors.Is(err, payment.ErrUpstreamUnavailable):
		return http.StatusInternalServerError, msgInternal
	case errors.As(err, &authInput):
		return http.StatusBadRequest, authInput.Message
	case errors.As(err, &payInput):
		return http.StatusBadRequest, payInput.Message
	case errors.Is(err, auth.ErrDuplicateEmail):
		return http.StatusBadRequest, "User already exists with this email"
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized, "Invalid credentials"
	case errors.Is(err, auth.ErrInvalidRefreshToken):
		return http.StatusUnauthorized, "Invalid or expired refresh token"
	case errors.Is(err, auth.ErrInvalidOrExpiredToken):
		return http.StatusBadRequest, "Invalid or expired reset token"
	case errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized, msgUnauthorized
	case errors.Is(err, auth.ErrNotFound):
		return http.StatusNotFound, msgUserNotFound
	case errors.Is(err, payment.ErrNotFound):
		return http.StatusNotFound, "Payment not found"
	case errors.Is(err, payment.ErrProviderDisabled):
		return http.StatusServiceUnavailable, "Payment provider not configured"
	case errors.Is(err, payment.ErrInvalidSignature):
		return http.StatusBadRequest, "Invalid webhook signature"
	default:
		return http.StatusInternalServerError, msgInternal
	}
}

// writeError answers with the mapped status. Server-side failures are
// logged in full; clients only see the generic message.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	code, message := errorStatus(err)
	if code >= http.StatusInternalServerError {
		errutil.LogErrorContext(r.Context(), logger, "request failed", err,
			"method", r.Method,
			"path", r.URL.Path)
	} else {
		logger.DebugContext(r.Context(), "request rejected",
			"method", r.Method,
			"path", r.URL.Path,
			"status", code,
			"reason", err.Error())
	}
	writeErrorMessage(w, code, message)
}

// readBody reads the whole request body. An empty body reads as {}.
func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return []byte("{}"), nil
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, tooLarge
		}
		return nil, &requestError{message: "Invalid request body"}
	}
	if len(body) == 0 {
		return []byte("{}"), nil
	}
	return body, nil
}

// decode validates the request body against the named schema and decodes it
// into dst.
func (s *Server) decode(r *http.Request, schema string, dst any) error {
	body, err := readBody(r)
	if err != nil {
		return err
	}
	if err := s.validator.Validate(schema, body); err != nil {
		return err
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return &requestError{message: "Invalid request body"}
	}
	return nil
}
