package errors

import (
	stderrors "errors"
	"fmt"
)

// AppError is a coded error used across the diagnosis pipeline. The reasoning
// core never returns these to its caller; they surface from loaders, providers
// and parsers and are downgraded to warnings by the orchestrator.
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Error codes
const (
	CodeDataGap         = "DATA_GAP"
	CodeProviderFailure = "PROVIDER_FAILURE"
	CodeBudgetExceeded  = "BUDGET_EXCEEDED"
	CodeNonTermination  = "NON_TERMINATION"
	CodeMalformedInput  = "MALFORMED_INPUT"
	CodeConfigInvalid   = "CONFIG_INVALID"
	CodeKnowledge       = "KNOWLEDGE_INVALID"
	CodeInternal        = "INTERNAL_ERROR"
)

// New creates a new AppError
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new AppError with a formatted message
func Newf(code, format string, args ...any) *AppError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps an error with additional context, keeping the code of a wrapped AppError.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return &AppError{
			Code:    appErr.Code,
			Message: message,
			Cause:   err,
		}
	}
	return &AppError{
		Code:    CodeInternal,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an error with formatted additional context
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return Wrap(err, fmt.Sprintf(format, args...))
}

// WithCode attaches an error code to an existing error
func WithCode(code string, err error) error {
	if err == nil {
		return nil
	}
	return &AppError{
		Code:    code,
		Message: err.Error(),
		Cause:   err,
	}
}

// GetCode returns the outermost error code, or "UNKNOWN" for plain errors.
func GetCode(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return "UNKNOWN"
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code string) bool {
	for err != nil {
		if appErr, ok := err.(*AppError); ok && appErr.Code == code {
			return true
		}
		err = stderrors.Unwrap(err)
	}
	return false
}

func DataGap(format string, args ...any) *AppError {
	return Newf(CodeDataGap, format, args...)
}

func MalformedInput(format string, args ...any) *AppError {
	return Newf(CodeMalformedInput, format, args...)
}

func ProviderFailure(err error, format string, args ...any) *AppError {
	return &AppError{
		Code:    CodeProviderFailure,
		Message: fmt.Sprintf(format, args...),
		Cause:   err,
	}
}

func ConfigInvalid(format string, args ...any) *AppError {
	return Newf(CodeConfigInvalid, format, args...)
}

func KnowledgeInvalid(format string, args ...any) *AppError {
	return Newf(CodeKnowledge, format, args...)
}
