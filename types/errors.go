package types

import (
	"errors"
	"fmt"
)

// ErrorCategory separates the failure families a caller must be able to tell apart.
type ErrorCategory string

const (
	CategoryStructural  ErrorCategory = "structural"
	CategoryBusiness    ErrorCategory = "business"
	CategoryUpstream    ErrorCategory = "upstream"
	CategoryCorrelation ErrorCategory = "correlation"
	CategoryProtocol    ErrorCategory = "protocol"
	CategoryPartial     ErrorCategory = "partial"
	CategoryInternal    ErrorCategory = "internal"
)

// SwitchError is the error type returned across package boundaries.
type SwitchError struct {
	Code     string        `json:"code"`
	Message  string        `json:"message"`
	Category ErrorCategory `json:"category"`
	Data     interface{}   `json:"data,omitempty"`
	Err      error         `json:"-"`
}

func (e *SwitchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *SwitchError) Unwrap() error {
	return e.Err
}

// Switch error codes.
const (
	ErrMalformedMessage    = "MALFORMED_MESSAGE"
	ErrSchemaViolation     = "SCHEMA_VIOLATION"
	ErrUnsupportedMessage  = "UNSUPPORTED_MESSAGE"
	ErrDuplicateMessage    = "DUPLICATE_MESSAGE"
	ErrUpstreamUnreachable = "UPSTREAM_UNREACHABLE"
	ErrCorrelationMiss     = "CORRELATION_MISS"
	ErrProtocolError       = "PROTOCOL_ERROR"
	ErrConfigError         = "CONFIG_ERROR"
	ErrInternal            = "INTERNAL_ERROR"
)

// Business error codes returned by bank and directory collaborators.
const (
	ErrInsufficientBalance = "INSUFFICIENT_BALANCE"
	ErrMinAmountViolation  = "MIN_AMOUNT_VIOLATION"
	ErrMinAmountNotMet     = "MIN_AMOUNT_NOT_MET"
	ErrPayerNotFound       = "PAYER_NOT_FOUND"
	ErrPayeeNotFound       = "PAYEE_NOT_FOUND"
	ErrAddressNotFound     = "ADDRESS_NOT_FOUND"
	ErrCodeBlocked         = "CODE_BLOCKED"
	ErrInvalidPurpose      = "INVALID_PURPOSE"
	ErrMissingPIN          = "MISSING_PIN"
	ErrInvalidPIN          = "INVALID_PIN"
	ErrInvalidAmount       = "INVALID_AMOUNT"
)

// NewError builds a SwitchError and derives its category from code.
func NewError(code, message string) *SwitchError {
	return &SwitchError{Code: code, Message: message, Category: categoryFor(code)}
}

// WrapError builds a SwitchError around err.
func WrapError(code, message string, err error) *SwitchError {
	return &SwitchError{Code: code, Message: message, Category: categoryFor(code), Err: err}
}

func categoryFor(code string) ErrorCategory {
	switch code {
	case ErrMalformedMessage, ErrSchemaViolation, ErrUnsupportedMessage, ErrDuplicateMessage:
		return CategoryStructural
	case ErrUpstreamUnreachable:
		return CategoryUpstream
	case ErrCorrelationMiss:
		return CategoryCorrelation
	case ErrProtocolError:
		return CategoryProtocol
	case ErrConfigError, ErrInternal:
		return CategoryInternal
	default:
		return CategoryBusiness
	}
}

// AsSwitchError unwraps err into a *SwitchError.
func AsSwitchError(err error) (*SwitchError, bool) {
	var se *SwitchError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// IsCode reports whether err carries the given switch error code.
func IsCode(err error, code string) bool {
	se, ok := AsSwitchError(err)
	return ok && se.Code == code
}

// CategoryOf returns the category of err, or CategoryInternal for foreign errors.
func CategoryOf(err error) ErrorCategory {
	if se, ok := AsSwitchError(err); ok {
		return se.Category
	}
	return CategoryInternal
}
