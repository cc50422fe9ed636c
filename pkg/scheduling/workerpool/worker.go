package workerpool

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"
)

// WorkerState defines the state of a worker
type WorkerState int32

const (
	// WorkerIdle is blocked on the shared queue
	WorkerIdle WorkerState = iota
	// WorkerExecuting is running a task
	WorkerExecuting
	// WorkerStopped has left its loop for good
	WorkerStopped
)

// String returns the string representation of WorkerState
func (s WorkerState) String() string {
	switch s {
	case WorkerIdle:
		return "idle"
	case WorkerExecuting:
		return "executing"
	case WorkerStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// worker is one slot of the pool. Its id is fixed at construction; the
// goroutine behind it may be replaced under FailureRespawn.
type worker struct {
	id    int
	pool  *Pool
	state atomic.Int32
}

// WorkerStates returns the current state of every worker, indexed by id.
func (p *Pool) WorkerStates() []WorkerState {
	states := make([]WorkerState, len(p.workers))
	for i, w := range p.workers {
		states[i] = WorkerState(w.state.Load())
	}
	return states
}

// run is the main loop for a worker.
func (w *worker) run() {
	p := w.pool
	defer p.workerWg.Done()

	if p.config.OnWorkerStart != nil {
		p.config.OnWorkerStart(w.id)
	}
	defer func() {
		if p.config.OnWorkerStop != nil {
			p.config.OnWorkerStop(w.id)
		}
	}()

	for {
		it, ok := p.queue.pop()
		if !ok {
			w.stop()
			return
		}

		if !w.execute(it) {
			continue
		}

		switch p.config.FailurePolicy {
		case FailureRetire:
			w.stop()
			live := p.live.Load()
			p.logger.Warn("worker retired after task panic",
				slog.Int("worker", w.id),
				slog.Int("live_workers", int(live)),
			)
			if live == 0 {
				p.logger.Error("all workers retired; queued tasks will not run",
					slog.Int("queued", p.queue.len()),
				)
			}
			p.instr.refresh(p)
		default:
			// The counter is still held by this goroutine, so the Add
			// cannot race a concurrent Wait reaching zero.
			p.workerWg.Add(1)
			p.totalRespawned.Add(1)
			p.instr.respawned(p)
			p.logger.Warn("respawning worker after task panic", slog.Int("worker", w.id))
			go w.run()
		}
		return
	}
}

func (w *worker) stop() {
	w.state.Store(int32(WorkerStopped))
	w.pool.live.Add(-1)
}

// execute runs one task and reports whether it panicked.
func (w *worker) execute(it item) (panicked bool) {
	p := w.pool
	start := time.Now()
	var err error

	w.state.Store(int32(WorkerExecuting))
	p.active.Add(1)
	p.logger.Debug("worker got a task; executing", slog.Int("worker", w.id))

	// Registered before OnTaskStart so a panicking hook is handled like a
	// panicking task.
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			err = fmt.Errorf("task panicked: %v", r)
			p.totalPanicked.Add(1)
			p.logger.Error("task panicked",
				slog.Int("worker", w.id),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			if p.config.PanicHandler != nil {
				p.config.PanicHandler(it.task, r)
			}
		} else if err != nil {
			p.logger.Debug("task failed", slog.Int("worker", w.id), slog.Any("error", err))
		}

		p.active.Add(-1)
		w.state.Store(int32(WorkerIdle))

		if err != nil {
			p.totalFailed.Add(1)
		}
		p.totalCompleted.Add(1)

		result := Result{
			Task:      it.task,
			Error:     err,
			Panicked:  panicked,
			QueueWait: start.Sub(it.enqueued),
			Duration:  time.Since(start),
			WorkerID:  w.id,
		}
		p.instr.finished(p, result)

		if p.config.OnTaskComplete != nil {
			p.config.OnTaskComplete(w.id, result)
		}
	}()

	if p.config.OnTaskStart != nil {
		p.config.OnTaskStart(w.id, it.task)
	}

	ctx := context.Background()
	if p.config.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.TaskTimeout)
		defer cancel()
	}

	err = it.task.Execute(ctx)
	return false
}
