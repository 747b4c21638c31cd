package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

const (
	ErrCodeHTTPStatus    = "HTTP_STATUS"
	ErrCodeInvalidConfig = "INVALID_CONFIG"
	ErrCodeTimeout       = "TIMEOUT"
	ErrCodeCancelled     = "CANCELLED"
)

// HTTPError reports a request that completed with a non-2xx status.
type HTTPError struct {
	StatusCode int
	StatusText string
	Method     string
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d - %s", e.StatusCode, e.StatusText)
}

func (e *HTTPError) Code() string { return ErrCodeHTTPStatus }

// NewHTTPError builds an HTTPError from a response status line such as
// "503 Service Unavailable". The text falls back to the standard reason
// phrase when the status line carries none.
func NewHTTPError(method, url string, statusCode int, status string) *HTTPError {
	text := strings.TrimSpace(strings.TrimPrefix(status, strconv.Itoa(statusCode)))
	if text == "" {
		text = defaultStatusText(statusCode)
	}
	return &HTTPError{
		StatusCode: statusCode,
		StatusText: text,
		Method:     method,
		URL:        url,
	}
}

type ConfigError struct {
	Message string
	Cause   error
}

func (e *ConfigError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", ErrCodeInvalidConfig, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", ErrCodeInvalidConfig, e.Message)
}

func (e *ConfigError) Unwrap() error { return e.Cause }

func (e *ConfigError) Code() string { return ErrCodeInvalidConfig }

func ErrInvalidConfig(msg string) *ConfigError {
	return &ConfigError{Message: msg}
}

// IsHTTPStatus reports whether err wraps an HTTPError with the given status.
func IsHTTPStatus(err error, statusCode int) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode == statusCode
}

func IsInvalidConfig(err error) bool {
	var cfgErr *ConfigError
	return errors.As(err, &cfgErr)
}

func IsContextError(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// Code returns a stable machine-readable code for err, or "" when err
// carries none.
func Code(err error) string {
	var coded interface{ Code() string }
	if errors.As(err, &coded) {
		return coded.Code()
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ErrCodeTimeout
	case errors.Is(err, context.Canceled):
		return ErrCodeCancelled
	}
	return ""
}

func defaultStatusText(code int) string {
	if text := http.StatusText(code); text != "" {
		return text
	}
	return "Unknown Status"
}
