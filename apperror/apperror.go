// Package apperror defines the failure taxonomy shared by the core
// services. Every service returns *Error values so the outer protocol can
// pick a status code without inspecting storage details.
package apperror

import (
	"errors"
	"net/http"
)

// Kind classifies a failure.
type Kind string

const (
	NotFound           Kind = "NOT_FOUND"
	Forbidden          Kind = "FORBIDDEN"
	Unauthorized       Kind = "UNAUTHORIZED"
	Conflict           Kind = "CONFLICT"
	OutOfStock         Kind = "OUT_OF_STOCK"
	InsufficientStock  Kind = "INSUFFICIENT_STOCK"
	InvalidInput       Kind = "INVALID_INPUT"
	TransactionFailure Kind = "TRANSACTION_FAILURE"
	Unexpected         Kind = "INTERNAL_ERROR"
)

// Error is a typed failure with a message that is safe to show to callers.
// The wrapped cause is for logs only.
type Error struct {
	Kind      Kind
	Message   string
	ProductID string
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return string(e.Kind) + ": " + e.Message + ": " + e.Err.Error()
	}
	return string(e.Kind) + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Status returns the HTTP-equivalent status code for the failure kind.
func (e *Error) Status() int {
	switch e.Kind {
	case NotFound:
		return http.StatusNotFound
	case Forbidden:
		return http.StatusForbidden
	case Unauthorized:
		return http.StatusUnauthorized
	case Conflict, OutOfStock, InsufficientStock:
		return http.StatusConflict
	case InvalidInput:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// New returns an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap returns an *Error of the given kind carrying err as its cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Stock returns an inventory failure naming the offending product.
func Stock(kind Kind, productID string) *Error {
	msg := "not enough stock"
	if kind == OutOfStock {
		msg = "product is out of stock"
	}
	return &Error{Kind: kind, Message: msg, ProductID: productID}
}

// Internal hides err behind a generic message.
func Internal(err error) *Error {
	return &Error{Kind: Unexpected, Message: "something went wrong, please try again", Err: err}
}

// From converts any error into an *Error. Errors that are not already typed
// become Unexpected.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal(err)
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
