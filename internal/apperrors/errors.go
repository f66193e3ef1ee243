package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinels for errors.Is checks across layers.
var (
	ErrValidation        = errors.New("validation error")
	ErrNotFound          = errors.New("not found")
	ErrPriceMismatch     = errors.New("price mismatch")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrSignatureInvalid  = errors.New("signature invalid")
	ErrConflict          = errors.New("conflict")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrFatal             = errors.New("fatal")
)

// Error is returned to callers of the order workflow. Details only carry
// data about the offending field or product.
type Error struct {
	Code    string         `json:"code"`
	Message string         `json:"error"`
	Status  int            `json:"-"`
	Details map[string]any `json:"details,omitempty"`
	Err     error          `json:"-"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) With(key string, value any) *Error {
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	e.Details[key] = value
	return e
}

func Validation(message string) *Error {
	return &Error{Code: "VALIDATION_ERROR", Message: message, Status: http.StatusBadRequest, Err: ErrValidation}
}

func NotFound(resource, id string) *Error {
	return (&Error{
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s not found", resource),
		Status:  http.StatusNotFound,
		Err:     ErrNotFound,
	}).With("id", id)
}

func PriceMismatch(productID, name, currentPrice string) *Error {
	return (&Error{
		Code:    "PRICE_MISMATCH",
		Message: fmt.Sprintf("price of %q has changed, refresh the cart", name),
		Status:  http.StatusConflict,
		Err:     ErrPriceMismatch,
	}).With("productId", productID).With("currentPrice", currentPrice)
}

func InsufficientStock(productID, name string, available, requested int) *Error {
	return (&Error{
		Code:    "INSUFFICIENT_STOCK",
		Message: fmt.Sprintf("not enough stock for %q", name),
		Status:  http.StatusConflict,
		Err:     ErrInsufficientStock,
	}).With("productId", productID).With("available", available).With("requested", requested)
}

func Forbidden(message string) *Error {
	return &Error{Code: "FORBIDDEN", Message: message, Status: http.StatusForbidden, Err: ErrForbidden}
}

func InvalidTransition(from, to string) *Error {
	return (&Error{
		Code:    "INVALID_TRANSITION",
		Message: fmt.Sprintf("cannot move order from %q to %q", from, to),
		Status:  http.StatusConflict,
		Err:     ErrInvalidTransition,
	}).With("from", from).With("to", to)
}

// InvalidState rejects an operation the order's current state does not allow.
func InvalidState(message string) *Error {
	return &Error{Code: "INVALID_TRANSITION", Message: message, Status: http.StatusConflict, Err: ErrInvalidTransition}
}

func SignatureInvalid(err error) *Error {
	return &Error{
		Code:    "SIGNATURE_INVALID",
		Message: "webhook signature verification failed",
		Status:  http.StatusBadRequest,
		Err:     errors.Join(ErrSignatureInvalid, err),
	}
}

func Conflict(err error) *Error {
	return &Error{
		Code:    "CONFLICT",
		Message: "the resource is busy, retry the request",
		Status:  http.StatusConflict,
		Err:     errors.Join(ErrConflict, err),
	}
}

func Unauthorized(message string) *Error {
	return &Error{Code: "UNAUTHORIZED", Message: message, Status: http.StatusUnauthorized, Err: ErrUnauthorized}
}

func Fatal(err error) *Error {
	return &Error{
		Code:    "FATAL",
		Message: "service unavailable",
		Status:  http.StatusServiceUnavailable,
		Err:     errors.Join(ErrFatal, err),
	}
}

// HTTPStatus maps any error to a response status; unknown errors are 500.
func HTTPStatus(err error) int {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrSignatureInvalid):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrPriceMismatch), errors.Is(err, ErrInsufficientStock),
		errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrFatal):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether the caller may resubmit the same request unchanged.
func Retryable(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrFatal)
}
