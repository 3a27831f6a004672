package domain

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/openbridge/difyproxy/internal/dify"
	"github.com/openbridge/difyproxy/internal/openai"
)

// Error types surfaced in the OpenAI error envelope.
const (
	ErrorTypeInvalidRequest = "invalid_request_error"
	ErrorTypeUpstream       = "upstream_error"
)

// APIError is an error with an HTTP status and an OpenAI error type. Every
// failure the proxy reports to a client is one of these.
type APIError struct {
	Status  int
	Type    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Envelope returns the wire representation of the error.
func (e *APIError) Envelope() openai.ErrorResponse {
	return openai.ErrorResponse{
		Error: openai.ErrorDetail{
			Message: e.Message,
			Type:    e.Type,
			Code:    e.Status,
		},
	}
}

// NewInvalidRequest builds a 400 invalid_request_error.
func NewInvalidRequest(message string) *APIError {
	return &APIError{
		Status:  http.StatusBadRequest,
		Type:    ErrorTypeInvalidRequest,
		Message: message,
	}
}

// NewMissingCredential builds the 401 returned when no API key is available.
func NewMissingCredential() *APIError {
	return &APIError{
		Status:  http.StatusUnauthorized,
		Type:    ErrorTypeInvalidRequest,
		Message: "missing Authorization header: expected 'Bearer <dify-api-key>'",
	}
}

// NewUpstreamError builds an upstream_error with an explicit status.
func NewUpstreamError(status int, message string) *APIError {
	return &APIError{
		Status:  status,
		Type:    ErrorTypeUpstream,
		Message: message,
	}
}

// FromUpstream maps a Dify client failure to an APIError. Dify HTTP errors
// keep their status; transport failures become 502.
func FromUpstream(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var statusErr *dify.StatusError
	if errors.As(err, &statusErr) {
		return NewUpstreamError(statusErr.Status, fmt.Sprintf("Dify API error: %s", statusErr.API.Message))
	}

	return NewUpstreamError(http.StatusBadGateway, fmt.Sprintf("upstream request failed: %v", err))
}
