package workerpool

import (
	"context"
	"time"
)

// Task represents a unit of work that can be executed by a worker.
// A submitted Task is executed exactly once, by exactly one worker.
type Task interface {
	// Execute runs the task with the given context.
	// The returned error is reported to hooks, logs and metrics; it never
	// reaches the submitter.
	Execute(ctx context.Context) error
}

// TaskFunc is a function type that implements the Task interface.
type TaskFunc func(ctx context.Context) error

// Execute implements the Task interface for TaskFunc.
func (f TaskFunc) Execute(ctx context.Context) error {
	return f(ctx)
}

// Func adapts a plain closure into a Task.
func Func(fn func()) Task {
	return TaskFunc(func(context.Context) error {
		fn()
		return nil
	})
}

// item is a Task as stored in the shared queue.
type item struct {
	task     Task
	enqueued time.Time
}
