package types

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Error code constants. Typed errors below report one of these through Code().
const (
	// Configuration (fatal)
	ErrCodeConfigLoad      ErrorCode = "config_load_failed"
	ErrCodeNotFoundProduct ErrorCode = "not_found_product"
	ErrCodeWrongPassphrase ErrorCode = "credentials_wrong_passphrase"
	ErrCodeMissingAccount  ErrorCode = "credentials_missing_account"
	ErrCodeInvalidRequest  ErrorCode = "validation_invalid_request"

	// Per-task (recoverable)
	ErrCodeTransferFailed      ErrorCode = "transfer_failed"
	ErrCodeUpstreamUnavailable ErrorCode = "upstream_unavailable"
	ErrCodeUpstreamRateLimited ErrorCode = "upstream_rate_limited"
	ErrCodeUpstreamNotFound    ErrorCode = "upstream_not_found"
	ErrCodeConversionFailed    ErrorCode = "conversion_failed"

	ErrCodeInternalUnexpected ErrorCode = "internal_unexpected_error"
)

// Fatal reports whether an error with this code aborts the whole run.
// Configuration, lookup and credential failures are fatal; transfer and
// conversion failures only fail the task they occurred in.
func (c ErrorCode) Fatal() bool {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "config_"),
		strings.HasPrefix(s, "not_found_"),
		strings.HasPrefix(s, "credentials_"),
		strings.HasPrefix(s, "validation_"):
		return true
	default:
		return false
	}
}

// AppError is the generic coded error used where no dedicated type exists.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetails returns a copy of the error with the provided details merged in.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: merged,
	}
}

// NewAppError creates a new AppError with the given code, message, and optional
// underlying error.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// ConfigLoadError is returned when the product registry or the credential
// files are missing or malformed.
type ConfigLoadError struct {
	Path   string
	Reason string
	Err    error
}

func (e *ConfigLoadError) Error() string {
	msg := fmt.Sprintf("%s: loading %s: %s", ErrCodeConfigLoad, e.Path, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigLoadError) Unwrap() error { return e.Err }
func (e *ConfigLoadError) Code() ErrorCode { return ErrCodeConfigLoad }

// NotFoundError names the first segment of a registry key that does not exist.
// Available lists the keys that do exist at that level, sorted.
type NotFoundError struct {
	Segment   string // product, version, parameter, resolution or variable
	Value     string
	Available []string
}

func (e *NotFoundError) Error() string {
	msg := fmt.Sprintf("%s: %s %q not found", ErrCodeNotFoundProduct, e.Segment, e.Value)
	if len(e.Available) > 0 {
		msg += fmt.Sprintf(" (available: %s)", strings.Join(e.Available, ", "))
	}
	return msg
}

func (e *NotFoundError) Code() ErrorCode { return ErrCodeNotFoundProduct }

// WrongPassphraseError is returned when the key derived from the passphrase
// does not match the stored key, or the secret blob fails authentication.
type WrongPassphraseError struct {
	KeyFile string
}

func (e *WrongPassphraseError) Error() string {
	if e.KeyFile == "" {
		return fmt.Sprintf("%s: passphrase does not unlock the credential store", ErrCodeWrongPassphrase)
	}
	return fmt.Sprintf("%s: passphrase does not match key file %s", ErrCodeWrongPassphrase, e.KeyFile)
}

func (e *WrongPassphraseError) Code() ErrorCode { return ErrCodeWrongPassphrase }

// MissingAccountError is returned when a product references an account that is
// absent from the decrypted credential store.
type MissingAccountError struct {
	Account string
}

func (e *MissingAccountError) Error() string {
	return fmt.Sprintf("%s: account %q is not in the credential store", ErrCodeMissingAccount, e.Account)
}

func (e *MissingAccountError) Code() ErrorCode { return ErrCodeMissingAccount }

// TransferError is the terminal error of a remote fetch. Err holds the cause
// of the last attempt.
type TransferError struct {
	URL      string
	Attempts int
	Reason   ErrorCode
	Err      error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("%s: %s after %d attempt(s): %v", ErrCodeTransferFailed, e.URL, e.Attempts, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// Code returns the specific upstream reason when known, otherwise transfer_failed.
func (e *TransferError) Code() ErrorCode {
	if e.Reason != "" {
		return e.Reason
	}
	return ErrCodeTransferFailed
}

// ConversionError is returned when decoding, clipping or writing a raster fails.
type ConversionError struct {
	Path   string
	Reason string
	Err    error
}

func (e *ConversionError) Error() string {
	msg := fmt.Sprintf("%s: %s: %s", ErrCodeConversionFailed, e.Path, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConversionError) Unwrap() error { return e.Err }
func (e *ConversionError) Code() ErrorCode { return ErrCodeConversionFailed }

// coder is implemented by every typed error in this package.
type coder interface {
	Code() ErrorCode
}

// CodeOf extracts the ErrorCode from the first coded error in err's chain.
// Unknown errors map to internal_unexpected_error.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	var c coder
	if errors.As(err, &c) {
		return c.Code()
	}
	return ErrCodeInternalUnexpected
}

// IsFatal reports whether err must abort the run rather than a single task.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return CodeOf(err).Fatal()
}
