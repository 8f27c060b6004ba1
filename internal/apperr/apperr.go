// Package apperr defines the error taxonomy surfaced to callers. Validation
// and business-rule failures keep their code; anything unclassified is
// wrapped to Internal at the operation boundary so driver details never
// leak out.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeUnauthorized        Code = "UNAUTHORIZED"
	CodeBadRequest          Code = "BAD_REQUEST"
	CodeNotFound            Code = "NOT_FOUND"
	CodeConflict            Code = "CONFLICT"
	CodePaymentTimeout      Code = "PAYMENT_TIMEOUT"
	CodePaymentRejected     Code = "PAYMENT_REJECTED"
	CodeOrderPendingPayment Code = "ORDER_PENDING_PAYMENT"
	CodeAlreadyRefunded     Code = "ALREADY_REFUNDED"
	CodeBalanceNotEnough    Code = "BALANCE_NOT_ENOUGH"
	CodeInternal            Code = "INTERNAL_SERVER_ERROR"
)

type Error struct {
	Code    Code     `json:"code"`
	Message string   `json:"message"`
	Args    []string `json:"args,omitempty"`
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

func New(code Code, message string, args ...string) *Error {
	return &Error{Code: code, Message: message, Args: args}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// Internal hides the underlying error from callers while keeping it in the
// chain for logging.
func Internal(cause error) *Error {
	return &Error{Code: CodeInternal, Message: "internal server error", cause: cause}
}

func CodeOf(err error) Code {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

func Is(err error, code Code) bool {
	return CodeOf(err) == code
}

func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeBadRequest, CodeOrderPendingPayment, CodeBalanceNotEnough:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict, CodeAlreadyRefunded:
		return http.StatusConflict
	case CodePaymentTimeout:
		return http.StatusGatewayTimeout
	case CodePaymentRejected:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
