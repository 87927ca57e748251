// Package errors provides structured error types for the tablevc system.
// All errors include a category, code, message, and cause for consistent
// handling across components, plus the control-flow conditions
// (ThreadTerminated, PromisedValueNotReady) that must never reach a user
// as a failure.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCategory classifies errors by failure kind.
type ErrorCategory string

const (
	// ErrCategoryStructural marks invariant violations in stored data:
	// malformed schemas, undecodable legends or feature blobs. Fatal,
	// never recoverable.
	ErrCategoryStructural ErrorCategory = "STRUCTURAL"
	ErrCategoryNotFound   ErrorCategory = "NOT_FOUND"
	ErrCategoryInvalidOp  ErrorCategory = "INVALID_OPERATION"
	ErrCategoryUsage      ErrorCategory = "USAGE"
	ErrCategoryPatch      ErrorCategory = "PATCH"
	ErrCategoryCrs        ErrorCategory = "CRS"
	ErrCategoryInternal   ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Structural codes
	CodeInvalidSchema      = "INVALID_SCHEMA"
	CodeCorruptLegend      = "CORRUPT_LEGEND"
	CodeCorruptFeature     = "CORRUPT_FEATURE"
	CodePathDecode         = "PATH_DECODE"
	CodeCorruptionDetected = "CORRUPTION_DETECTED"

	// NotFound codes
	CodeCommitNotFound  = "COMMIT_NOT_FOUND"
	CodeObjectNotFound  = "OBJECT_NOT_FOUND"
	CodeDatasetNotFound = "DATASET_NOT_FOUND"

	// InvalidOperation codes
	CodeNoCommonAncestor = "NO_COMMON_ANCESTOR"
	CodeWorkingCopyStale = "WORKING_COPY_STALE"
	CodeMultipleCrs      = "MULTIPLE_CRS"

	// Usage codes
	CodeBadCommitSpec = "BAD_COMMIT_SPEC"
	CodeBadFilter     = "BAD_FILTER"

	// Patch codes
	CodePatchDoesNotApply = "PATCH_DOES_NOT_APPLY"

	// CRS codes
	CodeTransformFailed = "TRANSFORM_FAILED"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
	CodeNotWritten = "DIFF_NOT_WRITTEN"
)

// Error is the structured error type used throughout the system.
type Error struct {
	Category ErrorCategory
	Code     string
	Message  string
	Hint     string
	Cause    error
}

// Error returns a formatted error string.
func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s:%s] %s", e.Category, e.Code, e.Message)
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	if e.Hint != "" {
		fmt.Fprintf(&b, " (%s)", e.Hint)
	}
	return b.String()
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new Error.
func New(category ErrorCategory, code, message string) *Error {
	return &Error{Category: category, Code: code, Message: message}
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *Error {
	return &Error{Category: category, Code: code, Message: message, Cause: cause}
}

// WithHint returns a copy of the error carrying an actionable hint, shown in
// parentheses after the message.
func (e *Error) WithHint(hint string) *Error {
	cp := *e
	cp.Hint = hint
	return &cp
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a tablevc Error.
func GetCategory(err error) ErrorCategory {
	var te *Error
	if errors.As(err, &te) {
		return te.Category
	}
	return ""
}

// ExitCode maps an error chain to the process exit code for CLI commands.
// NotFound and usage errors get distinct codes so scripts can tell them
// apart; everything else is a generic failure.
func ExitCode(err error) int {
	var pd *PatchDoesNotApplyError
	if errors.As(err, &pd) {
		return 5
	}
	switch GetCategory(err) {
	case ErrCategoryUsage:
		return 2
	case ErrCategoryNotFound:
		return 3
	case ErrCategoryInvalidOp:
		return 4
	case ErrCategoryPatch:
		return 5
	default:
		return 1
	}
}

// Convenience constructors for common errors.

func NewStructuralError(code, message string) *Error {
	return New(ErrCategoryStructural, code, message)
}

func NewNotFound(code, message string) *Error {
	return New(ErrCategoryNotFound, code, message)
}

func NewInvalidOperation(code, message string) *Error {
	return New(ErrCategoryInvalidOp, code, message)
}

func NewUsageError(code, message string) *Error {
	return New(ErrCategoryUsage, code, message)
}

func NewCrsError(message string, cause error) *Error {
	return Wrap(ErrCategoryCrs, CodeTransformFailed, message, cause)
}

func NewInternalError(message string, cause error) *Error {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
