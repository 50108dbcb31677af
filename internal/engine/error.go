package engine

import (
	"context"

	"github.com/NamanBalaji/duld/internal/common"
	"github.com/NamanBalaji/duld/internal/errors"
)

var (
	// ErrEngineNotRunning is returned when an operation requires the engine to be running
	ErrEngineNotRunning = errors.New("engine is not running")

	// ErrShutdownTimeout is returned when tasks outlive the shutdown timeout
	ErrShutdownTimeout = errors.New("shutdown timed out, some tasks may not have completed")

	// ErrTaskPanicked wraps the value recovered from a panicking task
	ErrTaskPanicked = errors.New("task panicked")

	// ErrDuplicateJob rejects a job whose token is already queued or running
	ErrDuplicateJob = errors.New("job is already queued or running")

	errInterrupted = errors.New("interrupted by restart")
)

// statusFor maps the result of a job to its final status
func statusFor(err error) common.Status {
	switch {
	case err == nil:
		return common.StatusCompleted
	case errors.IsDedup(err):
		return common.StatusRejected
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return common.StatusCancelled
	default:
		return common.StatusFailed
	}
}
