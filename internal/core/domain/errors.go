// Package domain contains the core business entities for the payment service.
package domain

import (
	"errors"
	"fmt"
)

// Domain errors - represent business rule violations.
var (
	// ErrValidation is returned for malformed requests and notifications.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when a referenced order does not exist.
	ErrNotFound = errors.New("order not found")

	// ErrPersistence is returned on store constraint violations or connectivity failures.
	ErrPersistence = errors.New("persistence error")

	// ErrPaymentGatewayError is returned when Mercado Pago fails.
	ErrPaymentGatewayError = errors.New("payment gateway error")

	// ErrGatewayTransient matches gateway failures that may succeed on retry.
	ErrGatewayTransient = errors.New("transient payment gateway error")

	// ErrGatewayPermanent matches gateway failures that will not succeed with the same input.
	ErrGatewayPermanent = errors.New("permanent payment gateway error")

	// ErrNotifyFailed is returned when a status change cannot be delivered to the backend.
	ErrNotifyFailed = errors.New("status notification failed")

	// ErrWebhookValidationFailed is returned when x-signature is invalid.
	ErrWebhookValidationFailed = errors.New("webhook signature validation failed")
)

// ServiceError wraps errors with additional context.
type ServiceError struct {
	Err     error
	Message string
	Code    string
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Err.Error()
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// NewServiceError creates a new ServiceError.
func NewServiceError(err error, message, code string) *ServiceError {
	return &ServiceError{Err: err, Message: message, Code: code}
}

// GatewayErrorKind tells callers whether a gateway failure is worth retrying.
type GatewayErrorKind int

const (
	GatewayTransient GatewayErrorKind = iota
	GatewayPermanent
)

func (k GatewayErrorKind) String() string {
	if k == GatewayPermanent {
		return "permanent"
	}
	return "transient"
}

// GatewayError is returned by every PaymentGateway operation.
type GatewayError struct {
	Kind       GatewayErrorKind
	Op         string
	StatusCode int
	Err        error
}

func (e *GatewayError) Error() string {
	msg := fmt.Sprintf("%s %s gateway error", e.Op, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match both the generic gateway sentinel and the kind sentinel.
func (e *GatewayError) Is(target error) bool {
	switch target {
	case ErrPaymentGatewayError:
		return true
	case ErrGatewayTransient:
		return e.Kind == GatewayTransient
	case ErrGatewayPermanent:
		return e.Kind == GatewayPermanent
	}
	return false
}

// Transient reports whether the whole operation may be retried.
func (e *GatewayError) Transient() bool {
	return e.Kind == GatewayTransient
}

// NewGatewayError creates a GatewayError for operation op.
func NewGatewayError(kind GatewayErrorKind, op string, statusCode int, err error) *GatewayError {
	return &GatewayError{Kind: kind, Op: op, StatusCode: statusCode, Err: err}
}
