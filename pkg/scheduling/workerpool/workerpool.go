package workerpool

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	hperrors "github.com/vnykmshr/hellopool/pkg/common/errors"
)

// Submit adds a task to the tail of the shared queue and returns without
// waiting for it to start. It never blocks on worker availability.
//
// Submit fails with errors.ErrClosed once Shutdown has been called, with
// errors.ErrCapacityExceeded when a bounded queue is full, and with
// errors.ErrNoWorkers when every worker has retired.
func (p *Pool) Submit(task Task) error {
	if task == nil {
		return ErrNilTask
	}

	if p.closing.Load() {
		return fmt.Errorf("cannot submit task: worker pool has been shut down: %w", hperrors.ErrClosed)
	}

	if p.live.Load() == 0 {
		return fmt.Errorf("cannot submit task: %w", hperrors.ErrNoWorkers)
	}

	if err := p.queue.push(item{task: task, enqueued: time.Now()}); err != nil {
		if errors.Is(err, hperrors.ErrClosed) {
			return fmt.Errorf("cannot submit task: worker pool has been shut down: %w", err)
		}
		return fmt.Errorf("cannot submit task: queue is full: %w", err)
	}

	p.totalSubmitted.Add(1)
	p.instr.submitted(p)
	return nil
}

// Shutdown initiates teardown: no new tasks are accepted, every task already
// queued is still executed, and the returned channel closes once all workers
// have stopped. Shutdown never cancels a running task, so a task that never
// returns keeps the channel open. Calling Shutdown again returns the same
// channel.
func (p *Pool) Shutdown() <-chan struct{} {
	p.shutdownOnce.Do(func() {
		p.closing.Store(true)
		p.queue.close()

		go func() {
			p.workerWg.Wait()

			// Only reachable with FailureRetire after the last worker retired.
			if n := p.queue.len(); n > 0 {
				p.stranded.Store(int64(n))
				p.logger.Warn("worker pool stopped with unexecuted tasks",
					slog.Int("stranded", n),
				)
			}

			p.instr.refresh(p)
			p.logger.Debug("worker pool shut down",
				slog.Int64("completed", p.totalCompleted.Load()),
				slog.Int64("failed", p.totalFailed.Load()),
			)
			close(p.done)
		}()
	})

	return p.done
}

// Close shuts the pool down and blocks until every worker has stopped.
// It reports an error wrapping errors.ErrNoWorkers if queued tasks were left
// behind because all workers had retired.
func (p *Pool) Close() error {
	<-p.Shutdown()
	if n := p.stranded.Load(); n > 0 {
		return fmt.Errorf("%d queued tasks were not executed: %w", n, hperrors.ErrNoWorkers)
	}
	return nil
}
