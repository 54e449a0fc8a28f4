// Package http provides HTTP server and handler implementations.
//
// This file implements a small builder for JSON responses so handlers share
// one way of setting status, headers and body.

package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"salesrecord/internal/core"
	applog "salesrecord/internal/log"
)

// JSONResponseBuilder provides a fluent API for building JSON responses.
type JSONResponseBuilder struct {
	statusCode int
	headers    map[string]string
	body       any
}

// NewJSONResponse creates a new response builder with default 200 status.
func NewJSONResponse() *JSONResponseBuilder {
	return &JSONResponseBuilder{
		statusCode: http.StatusOK,
		headers:    make(map[string]string),
	}
}

// Status sets the HTTP status code for the response.
func (b *JSONResponseBuilder) Status(code int) *JSONResponseBuilder {
	b.statusCode = code
	return b
}

// Header adds a custom header to the response.
func (b *JSONResponseBuilder) Header(name, value string) *JSONResponseBuilder {
	b.headers[name] = value
	return b
}

// Body sets the value encoded as the response body.
func (b *JSONResponseBuilder) Body(v any) *JSONResponseBuilder {
	b.body = v
	return b
}

// Write sends the built response.
func (b *JSONResponseBuilder) Write(w http.ResponseWriter) {
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}
	if b.body == nil {
		w.WriteHeader(b.statusCode)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(b.statusCode)
	_ = json.NewEncoder(w).Encode(b.body)
}

// errorBody is the payload of every error response.
type errorBody struct {
	Error  string            `json:"error"`
	Fields []core.FieldError `json:"fields,omitempty"`
}

// ErrorResponse creates a JSON error response.
func ErrorResponse(statusCode int, message string) *JSONResponseBuilder {
	return NewJSONResponse().Status(statusCode).Body(errorBody{Error: message})
}

// BadRequestError creates a 400 Bad Request error response.
func BadRequestError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusBadRequest, message)
}

// NotFoundError creates a 404 Not Found error response.
func NotFoundError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusNotFound, message)
}

// ValidationErrorResponse creates a 422 listing every rejected field.
func ValidationErrorResponse(verr *core.ValidationError) *JSONResponseBuilder {
	return NewJSONResponse().
		Status(http.StatusUnprocessableEntity).
		Body(errorBody{Error: "Please fill in all required fields correctly.", Fields: verr.Fields})
}

// InternalServerError creates a 500 Internal Server Error response.
func InternalServerError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusInternalServerError, message)
}

// writeMutationError maps service errors to responses: validation problems
// are 422, store failures 500. Store failures are logged here, once.
func writeMutationError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var verr *core.ValidationError
	if errors.As(err, &verr) {
		ValidationErrorResponse(verr).Write(w)
		return
	}

	var perr *core.PersistenceError
	id := ""
	if errors.As(err, &perr) {
		id = perr.ID
	}
	applog.LogError(r.Context(), "Sales record mutation failed", err, op,
		applog.NewFields().WithRecordID(id))
	InternalServerError("Could not save the sales record. Please try again.").Write(w)
}
