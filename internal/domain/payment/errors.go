package payment

import (
	"fmt"

	"github.com/go-faster/errors"
)

var (
	// ErrUnauthorized is returned when the caller lacks the admin capability.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotFound is returned when a referenced order, payment, gateway
	// record or course does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidState is returned when the current state forbids the
	// requested transition, e.g. refunding a free or fully refunded payment.
	ErrInvalidState = errors.New("invalid state")
	// ErrValidation is returned for malformed input such as a bad refund
	// amount or missing virtual-account fields.
	ErrValidation = errors.New("validation failed")
	// ErrGateway matches every *GatewayError.
	ErrGateway = errors.New("gateway error")
)

// GatewayError is a failed or non-success call to the payment gateway. The
// gateway's own code and message are kept for operators.
type GatewayError struct {
	Status  int
	Code    string
	Message string
	Err     error
}

func (e *GatewayError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gateway: %s: %s", e.Code, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("gateway: %s: %v", e.Message, e.Err)
	}
	return "gateway: " + e.Message
}

func (e *GatewayError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrGateway) match any GatewayError.
func (e *GatewayError) Is(target error) bool { return target == ErrGateway }

// NotFound wraps ErrNotFound with the missing entity and key.
func NotFound(entity string, key any) error {
	return errors.Wrapf(ErrNotFound, "%s %v", entity, key)
}

// Invalid wraps ErrValidation with a description.
func Invalid(format string, args ...any) error {
	return errors.Wrapf(ErrValidation, format, args...)
}
