// Package errors implements the error taxonomy from spec section 7:
// ProtocolError, LimitError, AuthError, NotFound, AdapterError, and
// OperationalError, plus the generic HTTP error codes the control plane
// needs for app CRUD.
//
// AppError carries both an HTTP status (for the control plane) and a wire
// message (for the pusher:error frame sent over WebSocket), since the two
// surfaces share this one taxonomy.
package errors

import (
	"fmt"
	"net/http"
)

// AppError is a classified error with HTTP and wire-protocol context.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    string `json:"details,omitempty"`
	StatusCode int    `json:"-"`
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s - %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// WireMessage renders the error for a pusher:error frame's "message" field.
func (e *AppError) WireMessage() string {
	return e.Message
}

// ErrorResponse is the JSON body returned by the HTTP control plane.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// Error codes, per spec section 7's taxonomy.
const (
	ErrCodeProtocol    = "PROTOCOL_ERROR"
	ErrCodeLimit       = "LIMIT_ERROR"
	ErrCodeAuth        = "AUTH_ERROR"
	ErrCodeNotFound    = "NOT_FOUND"
	ErrCodeAdapter     = "ADAPTER_ERROR"
	ErrCodeOperational = "OPERATIONAL_ERROR"

	ErrCodeBadRequest     = "BAD_REQUEST"
	ErrCodeConflict       = "CONFLICT"
	ErrCodeValidation     = "VALIDATION_FAILED"
	ErrCodeInternalServer = "INTERNAL_SERVER_ERROR"
)

// New creates an AppError with the HTTP status derived from code.
func New(code, message string) *AppError {
	return &AppError{Code: code, Message: message, StatusCode: statusForCode(code)}
}

// NewWithDetails creates an AppError carrying extra debugging context.
func NewWithDetails(code, message, details string) *AppError {
	return &AppError{Code: code, Message: message, Details: details, StatusCode: statusForCode(code)}
}

// Wrap attaches an underlying error's message as Details.
func Wrap(code, message string, err error) *AppError {
	details := ""
	if err != nil {
		details = err.Error()
	}
	return NewWithDetails(code, message, details)
}

func statusForCode(code string) int {
	switch code {
	case ErrCodeBadRequest, ErrCodeValidation, ErrCodeProtocol:
		return http.StatusBadRequest
	case ErrCodeAuth:
		return http.StatusUnauthorized
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeConflict:
		return http.StatusConflict
	case ErrCodeLimit:
		return http.StatusTooManyRequests
	case ErrCodeOperational:
		return http.StatusBadRequest
	case ErrCodeAdapter:
		return http.StatusMultiStatus
	case ErrCodeInternalServer:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// ToResponse converts an AppError to its HTTP JSON body.
func (e *AppError) ToResponse() ErrorResponse {
	return ErrorResponse{Error: e.Code, Message: e.Message, Code: e.Code, Details: e.Details}
}

// Convenience constructors.

func Protocol(message string) *AppError { return New(ErrCodeProtocol, message) }

func Limit(message string) *AppError { return New(ErrCodeLimit, message) }

func Auth(message string) *AppError { return New(ErrCodeAuth, message) }

func NotFound(resource string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource))
}

func Adapter(name string, err error) *AppError {
	return Wrap(ErrCodeAdapter, fmt.Sprintf("%s adapter delivery failed", name), err)
}

func Operational(message string) *AppError { return New(ErrCodeOperational, message) }

func BadRequest(message string) *AppError { return New(ErrCodeBadRequest, message) }

func Conflict(message string) *AppError { return New(ErrCodeConflict, message) }

func ValidationFailed(message string) *AppError { return New(ErrCodeValidation, message) }

func InternalServer(message string) *AppError { return New(ErrCodeInternalServer, message) }
