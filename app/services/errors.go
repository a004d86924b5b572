package services

import (
	"errors"
	"fmt"
	"strings"
)

// Common registration errors
var (
	// ErrHashGenerationFailed is returned when the fingerprint for a registry
	// record cannot be computed.
	ErrHashGenerationFailed = errors.New("hash generation failed")

	// ErrChainBroken is returned when chain verification finds a record whose
	// previous-hash link does not match its predecessor.
	ErrChainBroken = errors.New("registry chain broken")

	// ErrConnectionFailed is returned when the AEAT endpoint cannot be reached
	// or the request times out.
	ErrConnectionFailed = errors.New("connection to AEAT failed")

	// ErrAuthenticationFailed is returned when AEAT refuses the client
	// certificate or the credentials are otherwise invalid.
	ErrAuthenticationFailed = errors.New("AEAT authentication failed")

	// ErrRegistryRejected is returned when AEAT processed the submission and
	// rejected the registry record.
	ErrRegistryRejected = errors.New("registry rejected by AEAT")

	// ErrSigningFailed is returned when the XML document cannot be signed with
	// the configured certificate.
	ErrSigningFailed = errors.New("XML signing failed")

	// ErrValidationFailed is returned when an invoice does not satisfy the
	// registration requirements.
	ErrValidationFailed = errors.New("invoice validation failed")

	// ErrInvalidConfiguration is returned when the application configuration
	// is missing or inconsistent.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrAlreadyRegistered is returned when the invoice already has a registry record.
	ErrAlreadyRegistered = errors.New("invoice already registered")

	// ErrRegistryNotFound is returned when no registry record exists for an invoice.
	ErrRegistryNotFound = errors.New("registry record not found")

	// ErrMaxAttemptsReached is returned when a registry record exhausted its retry budget.
	ErrMaxAttemptsReached = errors.New("maximum submission attempts reached")
)

// RegistrationError wraps errors with additional context about registration failures.
type RegistrationError struct {
	// Op is the operation that failed (e.g., "Register", "SubmitToAeat").
	Op string

	// Err is the underlying error.
	Err error

	// Details provides additional context about the failure.
	Details string

	// RegistryNumber identifies the registry record involved (if available).
	RegistryNumber string
}

// Error implements the error interface.
func (e *RegistrationError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("verifactu: %s failed: %s: %v", e.Op, e.Details, e.Err)
	}
	if e.RegistryNumber != "" {
		return fmt.Sprintf("verifactu: %s failed (registry: %s): %v", e.Op, e.RegistryNumber, e.Err)
	}
	return fmt.Sprintf("verifactu: %s failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *RegistrationError) Unwrap() error {
	return e.Err
}

// Is implements error matching for Go 1.13+ error handling.
func (e *RegistrationError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewRegistrationError creates a new RegistrationError with the specified operation and underlying error.
func NewRegistrationError(op string, err error, details string) *RegistrationError {
	return &RegistrationError{
		Op:      op,
		Err:     err,
		Details: details,
	}
}

// WrapRegistrationError wraps an error as a RegistrationError if it isn't already one.
func WrapRegistrationError(op string, err error, details string) error {
	if err == nil {
		return nil
	}

	var regErr *RegistrationError
	if errors.As(err, &regErr) {
		return err // Already wrapped
	}

	return NewRegistrationError(op, err, details)
}

// ValidationError represents errors in invoice data validation.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s (value: %v)", e.Field, e.Message, e.Value)
}

// Unwrap links every validation error to ErrValidationFailed.
func (e *ValidationError) Unwrap() error {
	return ErrValidationFailed
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// RejectionError carries the per-field errors AEAT returned for a rejected
// registry record. Retryable distinguishes transient rejections from
// permanent ones.
type RejectionError struct {
	Code        string
	Message     string
	FieldErrors map[string]string
	Retryable   bool
}

// Error implements the error interface.
func (e *RejectionError) Error() string {
	if len(e.FieldErrors) == 0 {
		return fmt.Sprintf("AEAT rejected registry (code %s): %s", e.Code, e.Message)
	}

	fields := make([]string, 0, len(e.FieldErrors))
	for field, msg := range e.FieldErrors {
		fields = append(fields, fmt.Sprintf("%s: %s", field, msg))
	}
	return fmt.Sprintf("AEAT rejected registry (code %s): %s [%s]", e.Code, e.Message, strings.Join(fields, "; "))
}

// Unwrap links every rejection to ErrRegistryRejected.
func (e *RejectionError) Unwrap() error {
	return ErrRegistryRejected
}

// ChainError reports a broken link found during chain verification.
type ChainError struct {
	RegistryNumber string
	Sequence       uint64
	Expected       string
	Found          string
	Reason         string
}

// Error implements the error interface.
func (e *ChainError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("chain broken at %s (sequence %d): %s", e.RegistryNumber, e.Sequence, e.Reason)
	}
	return fmt.Sprintf("chain broken at %s (sequence %d): expected previous hash %s, found %s",
		e.RegistryNumber, e.Sequence, e.Expected, e.Found)
}

// Unwrap links every chain error to ErrChainBroken.
func (e *ChainError) Unwrap() error {
	return ErrChainBroken
}
