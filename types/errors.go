package types

import (
	"errors"
	"fmt"
)

// ErrorCategory groups engine failures by how the caller must react
type ErrorCategory string

const (
	CategoryValidation       ErrorCategory = "VALIDATION"
	CategoryInsufficientData ErrorCategory = "INSUFFICIENT_DATA"
	CategoryCalculation      ErrorCategory = "CALCULATION"
	CategoryBrokerRejection  ErrorCategory = "BROKER_REJECTION"
)

var (
	// ErrRestricted is a soft block, not a failure. Exits still go through.
	ErrRestricted = errors.New("trading restricted")
	// ErrBrokerUnavailable aborts the current cycle; it is retried next tick
	ErrBrokerUnavailable = errors.New("broker unavailable")
	// ErrAccountHalted is returned when the account guard withholds entries
	ErrAccountHalted = errors.New("account halted")
)

// ValidationError is a bad or incomplete risk configuration. The strategy is disabled.
type ValidationError struct {
	Strategy string
	Field    string
	Reason   string
}

func (e *ValidationError) Error() string {
	if e.Strategy == "" {
		return fmt.Sprintf("[%s] %s: %s", CategoryValidation, e.Field, e.Reason)
	}
	return fmt.Sprintf("[%s:%s] %s: %s", CategoryValidation, e.Strategy, e.Field, e.Reason)
}

// NewValidationError creates a validation error for a config field
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// InsufficientDataError means a required market value was missing or non-positive
type InsufficientDataError struct {
	Symbol string
	Field  string
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("[%s] %s missing or non-positive for %s", CategoryInsufficientData, e.Field, e.Symbol)
}

// CalculationError is an arithmetic failure inside a calculator
type CalculationError struct {
	Op     string
	Reason string
}

func (e *CalculationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", CategoryCalculation, e.Op, e.Reason)
}

// BrokerRejectionError wraps a failed order, modify, close or cancel call
type BrokerRejectionError struct {
	Op         string
	Symbol     string
	Ticket     int64
	Underlying error
}

func (e *BrokerRejectionError) Error() string {
	if e.Ticket != 0 {
		return fmt.Sprintf("[%s] %s %s ticket=%d: %v", CategoryBrokerRejection, e.Op, e.Symbol, e.Ticket, e.Underlying)
	}
	return fmt.Sprintf("[%s] %s %s: %v", CategoryBrokerRejection, e.Op, e.Symbol, e.Underlying)
}

func (e *BrokerRejectionError) Unwrap() error { return e.Underlying }

// Rejection wraps err as a broker rejection
func Rejection(op, symbol string, ticket int64, err error) *BrokerRejectionError {
	return &BrokerRejectionError{Op: op, Symbol: symbol, Ticket: ticket, Underlying: err}
}

// Category classifies err for logs and metrics. Unknown errors return "".
func Category(err error) ErrorCategory {
	var (
		ve *ValidationError
		ie *InsufficientDataError
		ce *CalculationError
		be *BrokerRejectionError
	)
	switch {
	case errors.As(err, &ve):
		return CategoryValidation
	case errors.As(err, &ie):
		return CategoryInsufficientData
	case errors.As(err, &ce):
		return CategoryCalculation
	case errors.As(err, &be):
		return CategoryBrokerRejection
	}
	return ""
}
