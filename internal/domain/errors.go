package domain

import (
	"errors"
	"fmt"
)

// ErrorCode is a machine-readable error code surfaced to callers.
type ErrorCode string

const (
	ErrorCodeEmptyCart           ErrorCode = "EMPTY_CART"
	ErrorCodeProductNotFound     ErrorCode = "PRODUCT_NOT_FOUND"
	ErrorCodeDiscoveryFailed     ErrorCode = "DISCOVERY_FAILED"
	ErrorCodeInvalidState        ErrorCode = "INVALID_STATE"
	ErrorCodeStateMismatch       ErrorCode = "STATE_MISMATCH"
	ErrorCodeProviderAuth        ErrorCode = "PROVIDER_AUTH"
	ErrorCodeTokenExchange       ErrorCode = "TOKEN_EXCHANGE"
	ErrorCodeMissingCardToken    ErrorCode = "MISSING_CARD_TOKEN"
	ErrorCodeMissingWalletTokens ErrorCode = "MISSING_WALLET_TOKENS"
	ErrorCodePaymentNetwork      ErrorCode = "PAYMENT_NETWORK"
	ErrorCodePaymentDeclined     ErrorCode = "PAYMENT_DECLINED"
	ErrorCodeInvalidTransition   ErrorCode = "INVALID_TRANSITION"
	ErrorCodeTerminalOffline     ErrorCode = "TERMINAL_OFFLINE"
	ErrorCodeTerminalNotFound    ErrorCode = "TERMINAL_NOT_FOUND"

	ErrorCodeOrderNotFound     ErrorCode = "ORDER_NOT_FOUND"
	ErrorCodePaymentNotFound   ErrorCode = "PAYMENT_NOT_FOUND"
	ErrorCodeOrderConflict     ErrorCode = "ORDER_CONFLICT"
	ErrorCodeWalletUnavailable ErrorCode = "WALLET_UNAVAILABLE"
	ErrorCodeAuthRequired      ErrorCode = "AUTH_REQUIRED"
	ErrorCodeValidationFailed  ErrorCode = "VALIDATION_FAILED"
	ErrorCodeInternal          ErrorCode = "INTERNAL_ERROR"
)

// DomainError is a structured error carrying a code, a human-readable message
// and optional details safe to return to clients.
type DomainError struct {
	Err     error
	Details map[string]any
	Code    ErrorCode
	Message string
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a DomainError with the same code, so
// errors.Is(err, ErrEmptyCart) matches any empty-cart error.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithDetail adds a detail field to the error. Call it only on errors built
// with NewDomainError or WrapError, never on the package-level sentinels.
func (e *DomainError) WithDetail(key string, value any) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func NewDomainError(code ErrorCode, message string) *DomainError {
	return &DomainError{Code: code, Message: message}
}

func WrapError(code ErrorCode, message string, err error) *DomainError {
	return &DomainError{Code: code, Message: message, Err: err}
}

// GetErrorCode extracts the code of the outermost DomainError in err's chain.
func GetErrorCode(err error) ErrorCode {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// IsDomainError reports whether err carries the given code.
func IsDomainError(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}

// ErrorDetails returns the details of the outermost DomainError, if any.
func ErrorDetails(err error) map[string]any {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Details
	}
	return nil
}

var (
	ErrEmptyCart           = NewDomainError(ErrorCodeEmptyCart, "cart is empty")
	ErrProductNotFound     = NewDomainError(ErrorCodeProductNotFound, "product not found")
	ErrDiscovery           = NewDomainError(ErrorCodeDiscoveryFailed, "identity provider discovery failed")
	ErrInvalidState        = NewDomainError(ErrorCodeInvalidState, "no checkout in progress for this session")
	ErrStateMismatch       = NewDomainError(ErrorCodeStateMismatch, "state mismatch")
	ErrProviderAuth        = NewDomainError(ErrorCodeProviderAuth, "identity provider denied authorization")
	ErrTokenExchange       = NewDomainError(ErrorCodeTokenExchange, "authorization code exchange failed")
	ErrMissingCardToken    = NewDomainError(ErrorCodeMissingCardToken, "card token missing from access token")
	ErrMissingWalletTokens = NewDomainError(ErrorCodeMissingWalletTokens, "wallet tokens missing from access token")
	ErrPaymentNetwork      = NewDomainError(ErrorCodePaymentNetwork, "payment network error")
	ErrPaymentDeclined     = NewDomainError(ErrorCodePaymentDeclined, "payment declined")
	ErrInvalidTransition   = NewDomainError(ErrorCodeInvalidTransition, "invalid status transition")
	ErrTerminalOffline     = NewDomainError(ErrorCodeTerminalOffline, "terminal is offline")
	ErrTerminalNotFound    = NewDomainError(ErrorCodeTerminalNotFound, "terminal not found")

	ErrOrderNotFound     = NewDomainError(ErrorCodeOrderNotFound, "order not found")
	ErrPaymentNotFound   = NewDomainError(ErrorCodePaymentNotFound, "terminal payment not found")
	ErrOrderConflict     = NewDomainError(ErrorCodeOrderConflict, "record was modified concurrently")
	ErrWalletUnavailable = NewDomainError(ErrorCodeWalletUnavailable, "wallet payments are not enabled")
	ErrAuthRequired      = NewDomainError(ErrorCodeAuthRequired, "sign in required")
	ErrValidation        = NewDomainError(ErrorCodeValidationFailed, "validation failed")
)

// InvalidTransitionError identifies the current and requested status of a
// rejected transition. It unwraps to ErrInvalidTransition.
type InvalidTransitionError struct {
	Entity string
	ID     string
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("%s %s: cannot transition from %s to %s", e.Entity, e.ID, e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error {
	return ErrInvalidTransition
}
