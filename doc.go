/*
Package hellopool is a small TCP server that hands every accepted connection
to a fixed-size worker pool.

Task Scheduling (pkg/scheduling):
  - workerpool: fixed set of workers sharing one FIFO queue

Admission (pkg/ratelimit):
  - bucket: in-process token bucket
  - distributed: connection budget shared through Redis

Server (internal/server):
  - accept loop, per-connection task, 429/503 refusals, periodic stats

Example usage:

	import "github.com/vnykmshr/hellopool/pkg/scheduling/workerpool"

	pool, err := workerpool.New(4)
	if err != nil {
		return err
	}
	defer pool.Close()

	_ = pool.Submit(workerpool.Func(func() {
		// Do work
	}))

The hellopool command (cmd/hellopool) wires these together with a
configuration file, structured logging and a Prometheus endpoint.
*/
package hellopool
