// internal/errors/errors.go
package errors

import (
	"errors"
	"fmt"
)

// ErrorType classifies an AppError.
type ErrorType string

const (
	ErrorTypeValidation    ErrorType = "validation_error"
	ErrorTypeNotFound      ErrorType = "not_found"
	ErrorTypeError         ErrorType = "processing_error"
	ErrorTypeConflict      ErrorType = "conflict"
	ErrorTypeConfiguration ErrorType = "configuration_error" // broken story content
	ErrorTypeIO            ErrorType = "io_error"            // environment faults while loading
)

// Sentinel causes. AppErrors wrap one of these so callers can use errors.Is.
var (
	ErrUnknownConnective  = errors.New("unknown connective")
	ErrUnknownPage        = errors.New("unknown page id")
	ErrUnknownCategory    = errors.New("unknown page category")
	ErrUnknownPlacement   = errors.New("unknown paragraph placement")
	ErrUnknownElement     = errors.New("invalid page segment element")
	ErrInvalidBook        = errors.New("invalid story book")
	ErrMissingNoun        = errors.New("noun not found for action")
	ErrNotStarted         = errors.New("story has not been started")
	ErrTransitionPending  = errors.New("page transition pending")
	ErrActionInactive     = errors.New("action already used on this page")
	ErrNothingPending     = errors.New("no page transition pending")
	ErrNoNextPage         = errors.New("current page has no next page")
	ErrNoStory            = errors.New("no story provided")
	ErrInvalidStoryString = errors.New("story data is not a valid story JSON string")
	ErrInvalidJSON        = errors.New("invalid JSON story data")
	ErrInvalidURL         = errors.New("story URL is not valid")
	ErrURLLoadingDisabled = errors.New("loading stories from URLs is disabled")
	ErrFetchFailed        = errors.New("could not fetch story file")
	ErrHTTPStatus         = errors.New("HTTP error")
	ErrSessionNotFound    = errors.New("session not found")
	ErrBookNotFound       = errors.New("book not found")
)

// AppError is the error value returned across package boundaries.
type AppError struct {
	Type    ErrorType
	Message string
	Err     error
	Code    string
}

// Error implements error.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap exposes the cause.
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError creates a new AppError.
func NewAppError(errType ErrorType, message string, originalError error) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Err:     originalError,
		Code:    generateErrorCode(errType),
	}
}

func NewValidationError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeValidation, message, originalError)
}

func NewNotFoundError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeNotFound, message, originalError)
}

func NewProcessingError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeError, message, originalError)
}

func NewConflictError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeConflict, message, originalError)
}

// NewConfigurationError reports story content that can never work as authored.
func NewConfigurationError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeConfiguration, message, originalError)
}

// NewIOError reports a failed load attempt. The host may retry.
func NewIOError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeIO, message, originalError)
}

// TypeOf returns the ErrorType of err, or "" when err is not an AppError.
func TypeOf(err error) ErrorType {
	var appError *AppError
	if errors.As(err, &appError) {
		return appError.Type
	}
	return ""
}

func IsValidationError(err error) bool {
	return TypeOf(err) == ErrorTypeValidation
}

func IsNotFoundError(err error) bool {
	return TypeOf(err) == ErrorTypeNotFound
}

func IsConflictError(err error) bool {
	return TypeOf(err) == ErrorTypeConflict
}

func IsConfigurationError(err error) bool {
	return TypeOf(err) == ErrorTypeConfiguration
}

func IsIOError(err error) bool {
	return TypeOf(err) == ErrorTypeIO
}

// Is and As re-export the standard helpers so callers need a single import.
func Is(err, target error) bool { return errors.Is(err, target) }

func As(err error, target any) bool { return errors.As(err, target) }

func generateErrorCode(errType ErrorType) string {
	switch errType {
	case ErrorTypeValidation:
		return "VALIDATION_ERROR"
	case ErrorTypeNotFound:
		return "NOT_FOUND"
	case ErrorTypeError:
		return "PROCESSING_ERROR"
	case ErrorTypeConflict:
		return "CONFLICT"
	case ErrorTypeConfiguration:
		return "STORY_CONFIGURATION_ERROR"
	case ErrorTypeIO:
		return "STORY_LOAD_ERROR"
	default:
		return "UNKNOWN_ERROR"
	}
}

// WrapError prefixes err with message, keeping the original type if err is already an AppError.
func WrapError(err error, message string, errType ErrorType) error {
	if err == nil {
		return nil
	}

	var appError *AppError
	if errors.As(err, &appError) {
		return &AppError{
			Type:    appError.Type,
			Message: fmt.Sprintf("%s: %s", message, appError.Message),
			Err:     appError,
			Code:    appError.Code,
		}
	}

	return NewAppError(errType, message, err)
}
