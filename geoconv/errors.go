// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package geoconv

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrDisabled is returned when a provider without an API key is asked to run.
var ErrDisabled = errors.New("provider disabled: no api key configured")

// ConversionError is a failure of one conversion cycle.
type ConversionError struct {
	Type     ErrorType
	Platform Platform
	Message  string
	Err      error
}

// ErrorType classifies conversion failures.
type ErrorType int

const (
	// ErrorTypeUnknown unclassified failure.
	ErrorTypeUnknown ErrorType = iota
	// ErrorTypeFetch the store could not return unconverted positions.
	ErrorTypeFetch
	// ErrorTypeRequest the request could not be built or the transport failed.
	ErrorTypeRequest
	// ErrorTypeProvider the provider answered with a non-success status.
	ErrorTypeProvider
	// ErrorTypeParse the response did not have the expected shape.
	ErrorTypeParse
	// ErrorTypeStorageWrite a converted position could not be stored.
	ErrorTypeStorageWrite
)

func (t ErrorType) String() string {
	switch t {
	case ErrorTypeFetch:
		return "fetch"
	case ErrorTypeRequest:
		return "request"
	case ErrorTypeProvider:
		return "provider"
	case ErrorTypeParse:
		return "parse"
	case ErrorTypeStorageWrite:
		return "storage_write"
	default:
		return "unknown"
	}
}

func (e *ConversionError) Error() string {
	prefix := string(e.Platform)
	if prefix == "" {
		prefix = "geoconv"
	}

	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Err)
	}

	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}

// ErrorTypeOf returns the type of a conversion error, or ErrorTypeUnknown.
func ErrorTypeOf(err error) ErrorType {
	var convErr *ConversionError
	if errors.As(err, &convErr) {
		return convErr.Type
	}

	return ErrorTypeUnknown
}

// IsProviderError reports whether the provider rejected the request.
func IsProviderError(err error) bool {
	return ErrorTypeOf(err) == ErrorTypeProvider
}

// IsParseError reports whether the provider response could not be decoded.
func IsParseError(err error) bool {
	return ErrorTypeOf(err) == ErrorTypeParse
}

func providerError(platform Platform, message string) *ConversionError {
	if message == "" {
		message = "Unknown error."
	}

	return &ConversionError{Type: ErrorTypeProvider, Platform: platform, Message: message}
}

func parseError(platform Platform, err error) *ConversionError {
	return &ConversionError{
		Type:     ErrorTypeParse,
		Platform: platform,
		Message:  "failed to parse converted position result",
		Err:      err,
	}
}

// ClassifyHTTPStatus turns a non-2xx HTTP status into a request error.
func ClassifyHTTPStatus(platform Platform, statusCode int) *ConversionError {
	var message string

	switch statusCode {
	case http.StatusTooManyRequests:
		message = "rate limited by provider"
	case http.StatusForbidden, http.StatusUnauthorized:
		message = "access denied or quota exceeded"
	case http.StatusBadRequest:
		message = "invalid request"
	case http.StatusNotFound:
		message = "endpoint not found"
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		message = fmt.Sprintf("service unavailable (status %d)", statusCode)
	default:
		message = fmt.Sprintf("HTTP error %d", statusCode)
	}

	return &ConversionError{Type: ErrorTypeRequest, Platform: platform, Message: message}
}
