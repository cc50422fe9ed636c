/*
Package workerpool provides a fixed-size worker pool fed by a shared FIFO queue.

A pool starts a fixed number of worker goroutines when it is created. Every
worker blocks on the same queue, takes the oldest task, runs it, and goes back
to the queue. Submit only appends to the queue, so it never waits for a worker
to become free.

Basic usage:

	pool, err := workerpool.New(4)
	if err != nil {
		return err
	}
	defer pool.Close()

	err = pool.Submit(workerpool.Func(func() {
		// Do work
	}))

Task Interface:

	type Task interface {
		Execute(ctx context.Context) error
	}

TaskFunc adapts a function with that signature, Func adapts a plain func().
A task's error is not returned to the submitter; it is logged, counted and
passed to Config.OnTaskComplete.

Ordering:

Tasks leave the queue in submission order. With more than one worker,
completion order is unspecified. With a single worker, tasks complete in
submission order.

Teardown:

Shutdown closes the queue. Workers keep draining it until it is empty and
then stop; the channel returned by Shutdown closes once all of them have
stopped. Close does the same and blocks. Nothing is cancelled: a task that
never returns keeps teardown waiting forever.

Failures:

A panicking task is recovered, logged with its stack and counted. It is never
retried. What happens to the worker that ran it depends on
Config.FailurePolicy:

  - FailureRespawn (default): the worker goroutine is replaced, capacity is kept.
  - FailureRetire: the worker stops for good, capacity drops by one. Once the
    last worker has retired Submit fails with errors.ErrNoWorkers.

Metrics:

NewWithMetrics records submissions, queue wait, execution time, failures,
panics, respawns and worker gauges in a metrics.Registry.

Thread Safety:

All pool operations are safe for concurrent use from multiple goroutines.
*/
package workerpool
