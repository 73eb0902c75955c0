package interfaces

import (
	"context"
	"errors"
)

// Task lifecycle errors surfaced to the HTTP layer.
var (
	// ErrUnknownTask means the requested task name is not registered.
	ErrUnknownTask = errors.New("unknown task")

	// ErrDuplicateTask means a periodic task with the same identifier is
	// already running.
	ErrDuplicateTask = errors.New("task already running")
)

// TaskService manages named background tasks.
type TaskService interface {
	// Add starts the named task. Periodic tasks are deduplicated by
	// identifier; adding a running periodic task fails with
	// ErrDuplicateTask.
	Add(ctx context.Context, name string) error

	// Reset cancels the named task if running and starts it again.
	Reset(ctx context.Context, name string) error

	// Remove cancels the named task. Removing a task that is not
	// running only fails when the name itself is unknown.
	Remove(ctx context.Context, name string) error

	// Stop cancels every running task and waits for them to finish.
	Stop()
}
