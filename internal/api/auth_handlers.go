// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LAN Connect Contributors

package api

import (
	"errors"
	"net/http"

	"github.com/lanconnect/lanconnect/internal/auth"
)

// RegisterRequest is the body of POST /auth/register.
type RegisterRequest struct {
	Name     string `json:"name" jsonschema:"maxLength=100"`
	Email    string `json:"email" jsonschema:"maxLength=254"`
	Password string `json:"password" jsonschema:"maxLength=1024"`
	Phone    string `json:"phone,omitempty" jsonschema:"maxLength=32"`
}

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email" jsonschema:"maxLength=254"`
	Password string `json:"password" jsonschema:"maxLength=1024"`
}

// RefreshRequest is the body of POST /auth/refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// ForgotPasswordRequest is the body of POST /auth/forgot-password.
type ForgotPasswordRequest struct {
	Email string `json:"email" jsonschema:"maxLength=254"`
}

// ResetPasswordRequest is the body of POST /auth/reset-password/{token}.
type ResetPasswordRequest struct {
	Password string `json:"password" jsonschema:"maxLength=1024"`
}

type sessionData struct {
	User         auth.Profile `json:"user"`
	Token        string       `json:"token"`
	RefreshToken string       `json:"refreshToken"`
}

func newSessionData(res *auth.AuthResult) sessionData {
	return sessionData{
		User:         res.User,
		Token:        res.AccessToken.Value,
		RefreshToken: res.RefreshToken.Value,
	}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := s.decode(r, "register", &req); err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	res, err := s.auth.Register(r.Context(), auth.RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
		Phone:    req.Phone,
	})
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeData(w, http.StatusCreated, newSessionData(res))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := s.decode(r, "login", &req); err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	res, err := s.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeData(w, http.StatusOK, newSessionData(res))
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.auth.Logout(r.Context(), principal(r)); err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeMessage(w, http.StatusOK, "Logged out successfully")
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := s.decode(r, "refresh", &req); err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	tok, err := s.auth.RefreshAccessToken(r.Context(), req.RefreshToken)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"token": tok.Value})
}

func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if err := s.decode(r, "forgot-password", &req); err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	err := s.auth.ForgotPassword(r.Context(), req.Email)
	switch {
	case errors.Is(err, auth.ErrNotFound):
		writeErrorMessage(w, http.StatusNotFound, msgEmailNotFound)
	case err != nil:
		writeError(w, r, s.logger, err)
	default:
		writeMessage(w, http.StatusOK, "Password reset email sent")
	}
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := s.decode(r, "reset-password", &req); err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	if err := s.auth.ResetPassword(r.Context(), r.PathValue("token"), req.Password); err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeMessage(w, http.StatusOK, "Password reset successful")
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	profile, err := s.auth.GetCurrentUser(r.Context(), principal(r).UserID)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"user": profile})
}
