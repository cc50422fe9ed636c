/*
Package scheduling groups task execution primitives.

  - workerpool: fixed worker pool fed by one shared FIFO queue

Worker Pool:

	pool, err := workerpool.New(4)
	if err != nil {
		return err
	}
	defer pool.Close()

	task := workerpool.TaskFunc(func(ctx context.Context) error {
		// Do work
		return nil
	})
	if err := pool.Submit(task); err != nil {
		return err
	}

Submit never waits for a worker. Close stops intake, runs everything still
queued and waits for the workers to exit.
*/
package scheduling
