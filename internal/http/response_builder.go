// Package http is the JSON transport over the ledger engine.
//
// This file implements a small builder for JSON responses and the mapping
// from the ledger error taxonomy to HTTP status codes.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"despesas/internal/log"
)

// JSONResponseBuilder provides a fluent API for building JSON responses.
type JSONResponseBuilder struct {
	statusCode int
	headers    map[string]string
	data       any
}

// NewJSONResponse creates a new response builder with default 200 status.
func NewJSONResponse() *JSONResponseBuilder {
	return &JSONResponseBuilder{
		statusCode: http.StatusOK,
		headers:    make(map[string]string),
	}
}

func (b *JSONResponseBuilder) Status(code int) *JSONResponseBuilder {
	b.statusCode = code
	return b
}

func (b *JSONResponseBuilder) Header(name, value string) *JSONResponseBuilder {
	b.headers[name] = value
	return b
}

// Data sets the value encoded as the response body.
func (b *JSONResponseBuilder) Data(v any) *JSONResponseBuilder {
	b.data = v
	return b
}

// Write sends the built response. A 204 or a nil body writes no content.
func (b *JSONResponseBuilder) Write(w http.ResponseWriter) {
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}
	if b.statusCode == http.StatusNoContent || b.data == nil {
		w.WriteHeader(b.statusCode)
		return
	}
	body, err := json.Marshal(b.data)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"failed to encode response","type":"internal_error"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(b.statusCode)
	_, _ = w.Write(append(body, '\n'))
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error string `json:"error"`
	Type  string `json:"type"`
}

// ErrorResponse creates an error response with the given status and message.
func ErrorResponse(statusCode int, errType, message string) *JSONResponseBuilder {
	return NewJSONResponse().Status(statusCode).Data(errorBody{Error: message, Type: errType})
}

// StatusFor maps err to the status the transport answers with.
func StatusFor(err error) int {
	if errors.Is(err, errMalformedBody) {
		return http.StatusBadRequest
	}
	switch log.ErrorType(err) {
	case log.ErrorTypeValidation:
		return http.StatusUnprocessableEntity
	case log.ErrorTypeNotFound, log.ErrorTypeUnavailable:
		return http.StatusNotFound
	case log.ErrorTypeConflict:
		return http.StatusConflict
	case log.ErrorTypeTransient, log.ErrorTypeTimeout:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// FromError builds the response for err. Internal errors are logged and
// answered with a generic message so store details never leak.
func FromError(ctx context.Context, err error) *JSONResponseBuilder {
	status := StatusFor(err)
	errType := log.ErrorType(err)
	if status == http.StatusBadRequest {
		errType = "bad_request"
	}
	msg := err.Error()
	if status >= 500 {
		log.FromContext(ctx).ErrorContext(ctx, "Request failed", log.FieldError, err, log.FieldErrorType, errType)
		msg = http.StatusText(status)
	}
	b := ErrorResponse(status, errType, msg)
	if status == http.StatusServiceUnavailable {
		b.Header("Retry-After", "1")
	}
	return b
}

// writeError is a shorthand for FromError(...).Write(w).
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	FromError(r.Context(), err).Write(w)
}

// writeJSON is a shorthand for a 200 JSON response.
func writeJSON(w http.ResponseWriter, v any) {
	NewJSONResponse().Data(v).Write(w)
}
