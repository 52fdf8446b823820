package webhook

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	ErrorInvalidPayload   = "invalid_payload"
	ErrorMissingField     = "missing_field"
	ErrorInvalidSignature = "invalid_signature"
	ErrorRelayFailed      = "relay_failed"
)

// Error represents a stable, categorized webhook failure.
type Error struct {
	Category string
	Detail   string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Detail == "" {
		return e.Category
	}

	return fmt.Sprintf("%s: %s", e.Category, e.Detail)
}

// NewError creates a categorized webhook error.
func NewError(category string, detail string) error {
	return &Error{Category: category, Detail: detail}
}

// CategoryFromError returns the stable category for an error when available.
func CategoryFromError(err error) string {
	if err == nil {
		return ""
	}

	var categorized *Error
	if errors.As(err, &categorized) {
		return categorized.Category
	}

	return ErrorRelayFailed
}

// StatusFromError maps a webhook failure to the HTTP status returned to the sender.
func StatusFromError(err error) int {
	switch CategoryFromError(err) {
	case "":
		return http.StatusOK
	case ErrorInvalidPayload, ErrorMissingField:
		return http.StatusBadRequest
	case ErrorInvalidSignature:
		return http.StatusUnauthorized
	default:
		return http.StatusBadGateway
	}
}

// detailFromError returns the user-facing part of a webhook failure.
func detailFromError(err error) string {
	var categorized *Error
	if errors.As(err, &categorized) && categorized.Detail != "" {
		return categorized.Detail
	}
	return err.Error()
}
