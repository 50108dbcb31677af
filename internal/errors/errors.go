package errors

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	Is     = errors.Is
	As     = errors.As
	New    = errors.New
	Join   = errors.Join
	Unwrap = errors.Unwrap
)

type ErrorCategory string

const (
	CategoryConflict   ErrorCategory = "CONFLICT"   // Remote entry of the wrong kind or content
	CategoryTransient  ErrorCategory = "TRANSIENT"  // Backend hiccups, worth a resync and retry
	CategoryResolution ErrorCategory = "RESOLUTION" // Destination cannot be resolved
	CategoryDedup      ErrorCategory = "DEDUP"      // Job token already held
	CategoryIO         ErrorCategory = "IO"         // Local file system issues
	CategoryContext    ErrorCategory = "CONTEXT"    // Context cancellation
)

// UploadError represents an error that occurred while mirroring local content to the drive
type UploadError struct {
	Err       error         // Original error
	Category  ErrorCategory // General category
	Retryable bool          // Whether a resync and retry is recommended
	Timestamp time.Time     // When the error occurred
	Resource  string        // Local or remote path being processed
}

// Error implements the error interface
func (e *UploadError) Error() string {
	return fmt.Sprintf("[%s] %s: %v", e.Category, e.Resource, e.Err)
}

// Unwrap provides the underlying cause for error unwrapping (compatible with errors.As)
func (e *UploadError) Unwrap() error {
	return e.Err
}

// Common sentinel errors
var (
	ErrIsFolder      = New("exists but is a folder")
	ErrIsFile        = New("exists but is a file")
	ErrInvalidHash   = New("invalid hash")
	ErrHashMismatch  = New("hash mismatch")
	ErrTrashed       = New("should not be trashed")
	ErrRetryExceeded = New("retry limit exceeded")
)

func newUploadError(err error, category ErrorCategory, resource string, retryable bool) *UploadError {
	return &UploadError{
		Err:       err,
		Category:  category,
		Retryable: retryable,
		Timestamp: time.Now(),
		Resource:  resource,
	}
}

// NewConflictError creates a fatal naming/content conflict error
func NewConflictError(err error, resource string) *UploadError {
	return newUploadError(err, CategoryConflict, resource, false)
}

// NewTransientError creates a retryable backend error
func NewTransientError(err error, resource string) *UploadError {
	return newUploadError(err, CategoryTransient, resource, true)
}

// NewResolutionError creates an error for a destination that cannot be resolved
func NewResolutionError(err error, resource string) *UploadError {
	return newUploadError(err, CategoryResolution, resource, false)
}

// NewDedupError creates an error for a rejected duplicate job
func NewDedupError(err error, resource string) *UploadError {
	return newUploadError(err, CategoryDedup, resource, false)
}

// NewIOError creates an I/O related error
func NewIOError(err error, resource string) *UploadError {
	return newUploadError(err, CategoryIO, resource, false)
}

// NewContextError creates a context cancellation error
func NewContextError(err error, resource string) *UploadError {
	return newUploadError(err, CategoryContext, resource, false)
}

// IsRetryable determines if an error should be retried.
// Context errors are never retryable, whatever wraps them.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if Is(err, context.Canceled) || Is(err, context.DeadlineExceeded) {
		return false
	}

	var uploadErr *UploadError
	if As(err, &uploadErr) {
		return uploadErr.Retryable
	}

	return false
}

// IsConflict determines if the error is a fatal conflict
func IsConflict(err error) bool {
	return hasCategory(err, CategoryConflict)
}

// IsDedup determines if the error is a dedup rejection
func IsDedup(err error) bool {
	return hasCategory(err, CategoryDedup)
}

// IsResolution determines if the error is a destination resolution failure
func IsResolution(err error) bool {
	return hasCategory(err, CategoryResolution)
}

// CategoryOf extracts the category of an error if available
func CategoryOf(err error) (ErrorCategory, bool) {
	var uploadErr *UploadError
	if As(err, &uploadErr) {
		return uploadErr.Category, true
	}
	return "", false
}

func hasCategory(err error, category ErrorCategory) bool {
	var uploadErr *UploadError
	return As(err, &uploadErr) && uploadErr.Category == category
}
