package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Sternrassler/nepse-collector/pkg/transport"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")
)

// ErrorClass represents a classification of a failed attempt.
type ErrorClass string

const (
	// ErrorClassNetwork represents transport failures and timeouts.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassParse represents a successful status with a body that is not JSON.
	ErrorClassParse ErrorClass = "parse"

	// ErrorClassAuth represents 401/403; the session token is refreshed
	// before the next attempt.
	ErrorClassAuth ErrorClass = "auth"

	// ErrorClassRateLimit represents 429 responses.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassClient represents other 4xx responses.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx responses.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassLogical represents a body that reports an error regardless
	// of the HTTP status.
	ErrorClassLogical ErrorClass = "logical"
)

// TransientRequestError is one classified failed attempt.
type TransientRequestError struct {
	StatusCode int
	ErrorClass ErrorClass
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *TransientRequestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s error (status %d): %s: %v",
			e.ErrorClass, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("%s error (status %d): %s",
		e.ErrorClass, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *TransientRequestError) Unwrap() error {
	return e.Err
}

// DataShapeError reports a response whose structure violates what the
// caller relies on, such as a page without a data array.
type DataShapeError struct {
	Source string
	Reason string
}

// Error implements the error interface.
func (e *DataShapeError) Error() string {
	return fmt.Sprintf("unexpected data shape from %s: %s", e.Source, e.Reason)
}

// shouldRetry determines if an error should be retried based on its
// classification. Every failure class is retried; an empty class is success.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassNetwork, ErrorClassParse, ErrorClassAuth, ErrorClassRateLimit,
		ErrorClassClient, ErrorClassServer, ErrorClassLogical:
		return true
	default:
		return false
	}
}

// Classify categorizes the outcome of one attempt. It returns an empty class
// for a usable response.
func Classify(resp *transport.Response, err error) ErrorClass {
	if err != nil || resp == nil {
		return ErrorClassNetwork
	}

	switch code := resp.StatusCode; {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ErrorClassAuth
	case code == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case code >= 400 && code < 500:
		return ErrorClassClient
	case code >= 500:
		return ErrorClassServer
	}

	if hasLogicalError(resp.Body) {
		return ErrorClassLogical
	}
	if code := resp.StatusCode; code >= 200 && code < 300 && !resp.IsJSON() {
		return ErrorClassParse
	}
	return ""
}

// hasLogicalError reports whether a JSON object body signals failure through
// a status of "error" or a truthy error field.
func hasLogicalError(body any) bool {
	obj, ok := body.(map[string]any)
	if !ok {
		return false
	}
	if s, ok := obj["status"].(string); ok && (s == "error" || s == "ERROR") {
		return true
	}
	return truthy(obj["error"])
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case json.Number:
		f, err := x.Float64()
		return err != nil || f != 0
	case float64:
		return x != 0
	default:
		return true
	}
}

func statusMessage(resp *transport.Response, class ErrorClass) string {
	if class == ErrorClassNetwork || resp == nil {
		return "request failed"
	}
	if class == ErrorClassLogical {
		if obj, ok := resp.Object(); ok {
			for _, key := range []string{"message", "error"} {
				if s, ok := obj[key].(string); ok && s != "" {
					return s
				}
			}
		}
		return "response reports an error"
	}
	if class == ErrorClassParse {
		return "response is not JSON"
	}
	text := strings.TrimSpace(http.StatusText(resp.StatusCode))
	if text == "" {
		return fmt.Sprintf("status %d", resp.StatusCode)
	}
	return text
}
