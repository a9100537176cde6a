// Copyright (C) 2026, Civora Project. All rights reserved.
// See the file LICENSE for licensing terms.

// Package httpapi is the egress surface (§6.2): vote submission, the
// receipt public key, receipt verification, and aggregated results. The
// envelope and sentinel-error shape follows the teacher's api/response.go,
// except that Error carries a string machine code (§7) rather than a bare
// int status; the routes and their wiring are new.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Response is the envelope every endpoint responds with.
type Response struct {
	Success bool        `json:"success"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
}

// Error is a typed, machine-readable API error (§7).
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewError builds an Error.
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WriteJSON writes v as status with the JSON content type.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

// WriteError writes a typed error response.
func WriteError(w http.ResponseWriter, status int, code, message string) error {
	return WriteJSON(w, status, Response{
		Success: false,
		Error:   &Error{Code: code, Message: message},
	})
}

// WriteSuccess writes a 200 success response.
func WriteSuccess(w http.ResponseWriter, result interface{}) error {
	return WriteJSON(w, http.StatusOK, Response{Success: true, Result: result})
}

var (
	ErrNotFound            = errors.New("not found")
	ErrBadRequest          = errors.New("bad request")
	ErrInternalServerError = errors.New("internal server error")
	ErrUnauthorized        = errors.New("unauthorized")
)

// HTTPError is an error carrying its own status code.
type HTTPError struct {
	Status  int
	Message string
}

func (e HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
}

func NewHTTPError(status int, message string) HTTPError {
	return HTTPError{Status: status, Message: message}
}
