// Package api issues governed HTTP requests against the brokerage REST API.
// It classifies provider failures into a small typed error taxonomy and
// retries transient rate limit rejections with bounded backoff.
package api

import (
	"errors"
	"fmt"
	"time"
)

// Provider error codes carried in JSON error bodies.
const (
	CodeAuthFailed        = 1000
	CodeInvalidEndpoint   = 1001
	CodeMalformedArgument = 1002
	CodeRateLimited       = 1006
	CodeInvalidJSON       = 1010
	CodeConnectionFailed  = 1011
	CodeInvalidToken      = 1017
	CodeUnexpected        = 1021
)

// APIError is the common shape of a classified provider failure: the
// provider's numeric code, its message, and the HTTP status it arrived with.
type APIError struct {
	Code       int
	Message    string
	StatusCode int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d (http %d): %s", e.Code, e.StatusCode, e.Message)
}

// AuthError indicates the access token was rejected or expired. Callers
// should refresh credentials before retrying; the executor never retries
// these automatically.
type AuthError struct {
	APIError
}

func NewAuthError(code int, message string, statusCode int) *AuthError {
	return &AuthError{APIError{Code: code, Message: message, StatusCode: statusCode}}
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed: %s", e.APIError.Error())
}

// Unwrap exposes the embedded APIError for errors.As chains.
func (e *AuthError) Unwrap() error { return &e.APIError }

// GeneralError is a non-auth, non-order provider rejection: bad arguments,
// unknown endpoints, malformed responses.
type GeneralError struct {
	APIError
}

func NewGeneralError(code int, message string, statusCode int) *GeneralError {
	return &GeneralError{APIError{Code: code, Message: message, StatusCode: statusCode}}
}

func (e *GeneralError) Error() string {
	return fmt.Sprintf("request failed: %s", e.APIError.Error())
}

func (e *GeneralError) Unwrap() error { return &e.APIError }

// RateLimitError is returned only after the executor has exhausted its retry
// budget against sustained 429 responses. RetryAfter carries the server's
// last advertised wait, when present.
type RateLimitError struct {
	APIError
	RetryAfter time.Duration
}

func NewRateLimitError(message string, retryAfter time.Duration) *RateLimitError {
	return &RateLimitError{
		APIError:   APIError{Code: CodeRateLimited, Message: message, StatusCode: 429},
		RetryAfter: retryAfter,
	}
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited after retries (retry after %s): %s", e.RetryAfter, e.Message)
	}
	return fmt.Sprintf("rate limited after retries: %s", e.Message)
}

func (e *RateLimitError) Unwrap() error { return &e.APIError }

// OrderError is a rejection of an order endpoint call. The provider returns
// these with an orderId and the order records involved, even on HTTP 2xx.
type OrderError struct {
	APIError
	OrderID int64
	Orders  []OrderRecord
}

// OrderRecord is the raw order object echoed back inside an order rejection.
type OrderRecord struct {
	ID            int64  `json:"id"`
	Symbol        string `json:"symbol"`
	State         string `json:"state"`
	RejectionText string `json:"rejectionReason"`
}

func NewOrderError(code int, message string, statusCode int, orderID int64, orders []OrderRecord) *OrderError {
	return &OrderError{
		APIError: APIError{Code: code, Message: message, StatusCode: statusCode},
		OrderID:  orderID,
		Orders:   orders,
	}
}

func (e *OrderError) Error() string {
	return fmt.Sprintf("order %d rejected: %s", e.OrderID, e.APIError.Error())
}

func (e *OrderError) Unwrap() error { return &e.APIError }

// IsAuthError reports whether err is (or wraps) an authentication failure.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsRateLimitError reports whether err is (or wraps) an exhausted-retries
// rate limit failure.
func IsRateLimitError(err error) bool {
	var re *RateLimitError
	return errors.As(err, &re)
}
