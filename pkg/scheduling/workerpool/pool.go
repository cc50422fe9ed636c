package workerpool

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vnykmshr/hellopool/pkg/common/validation"
)

// ErrNilTask is returned by Submit when the task is nil.
var ErrNilTask = errors.New("workerpool: task cannot be nil")

// FailurePolicy decides what happens to a worker whose task panicked.
type FailurePolicy int

const (
	// FailureRespawn replaces the worker goroutine with a fresh one carrying
	// the same id, so the pool keeps its full concurrency.
	FailureRespawn FailurePolicy = iota

	// FailureRetire stops the worker for good. Every panic permanently
	// reduces the pool's concurrency by one.
	FailureRetire
)

// String returns the string representation of FailurePolicy
func (f FailurePolicy) String() string {
	switch f {
	case FailureRespawn:
		return "respawn"
	case FailureRetire:
		return "retire"
	default:
		return "unknown"
	}
}

// ParseFailurePolicy maps "respawn" or "retire" to a FailurePolicy.
func ParseFailurePolicy(s string) (FailurePolicy, bool) {
	switch s {
	case "respawn", "":
		return FailureRespawn, true
	case "retire":
		return FailureRetire, true
	default:
		return FailureRespawn, false
	}
}

// Result describes one finished task execution.
type Result struct {
	// Task is the original task that was executed
	Task Task

	// Error is the task's returned error, or a description of its panic
	Error error

	// Panicked reports whether the task aborted with a panic
	Panicked bool

	// QueueWait is how long the task waited in the queue
	QueueWait time.Duration

	// Duration is how long the task took to execute
	Duration time.Duration

	// WorkerID identifies which worker executed the task
	WorkerID int
}

// Stats is a point-in-time snapshot of a pool.
type Stats struct {
	Size      int
	Live      int
	Active    int
	Queued    int
	Submitted int64
	Completed int64
	Failed    int64
	Panicked  int64
	Respawned int64
}

// Config holds configuration options for creating a worker pool.
type Config struct {
	// WorkerCount is the number of workers in the pool.
	// Must be greater than 0.
	WorkerCount int

	// QueueSize bounds the number of queued tasks. Submit fails with
	// errors.ErrCapacityExceeded once the bound is reached.
	// Zero means unbounded.
	QueueSize int

	// TaskTimeout is the default timeout for individual task execution.
	// Zero means no timeout.
	TaskTimeout time.Duration

	// FailurePolicy selects respawn (default) or retire for workers whose
	// task panicked.
	FailurePolicy FailurePolicy

	// Name labels log lines and metrics. Defaults to "default".
	Name string

	// Logger receives pool diagnostics. Defaults to slog.Default().
	Logger *slog.Logger

	// PanicHandler is called with the recovered value when a task panics.
	PanicHandler func(task Task, recovered interface{})

	// OnWorkerStart is called when a worker goroutine starts, including
	// replacements started by FailureRespawn.
	OnWorkerStart func(workerID int)

	// OnWorkerStop is called when a worker goroutine exits.
	OnWorkerStop func(workerID int)

	// OnTaskStart is called before a task begins execution.
	OnTaskStart func(workerID int, task Task)

	// OnTaskComplete is called after a task completes (success or failure).
	OnTaskComplete func(workerID int, result Result)
}

// Pool owns a fixed set of workers and the producer side of their shared
// queue. Submit hands tasks to the queue; Shutdown closes it, lets the
// workers drain what is left and waits for all of them to stop.
type Pool struct {
	config Config
	logger *slog.Logger
	instr  *instrumentation

	queue   *queue
	workers []*worker

	workerWg     sync.WaitGroup
	shutdownOnce sync.Once
	done         chan struct{}
	closing      atomic.Bool
	stranded     atomic.Int64

	live           atomic.Int32
	active         atomic.Int32
	totalSubmitted atomic.Int64
	totalCompleted atomic.Int64
	totalFailed    atomic.Int64
	totalPanicked  atomic.Int64
	totalRespawned atomic.Int64
}

// New creates a new worker pool with the specified number of workers and an
// unbounded queue.
func New(workerCount int) (*Pool, error) {
	return NewWithConfig(Config{WorkerCount: workerCount})
}

// NewWithConfig creates a new worker pool with the specified configuration.
// An invalid configuration is reported before any worker is started.
func NewWithConfig(config Config) (*Pool, error) {
	return newPool(config, nil)
}

func newPool(config Config, instr *instrumentation) (*Pool, error) {
	if err := validation.ValidatePositive("workerpool", "WorkerCount", config.WorkerCount); err != nil {
		return nil, err
	}
	if err := validation.ValidateNonNegative("workerpool", "QueueSize", config.QueueSize); err != nil {
		return nil, err
	}
	if config.Name == "" {
		config.Name = "default"
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	p := &Pool{
		config: config,
		logger: logger.With(slog.String("pool", config.Name)),
		instr:  instr,
		queue:  newQueue(config.QueueSize),
		done:   make(chan struct{}),
	}

	p.workers = make([]*worker, config.WorkerCount)
	p.live.Store(int32(config.WorkerCount))
	for i := range p.workers {
		p.workers[i] = &worker{id: i, pool: p}
		p.workerWg.Add(1)
		go p.workers[i].run()
	}

	p.logger.Debug("worker pool started",
		slog.Int("workers", config.WorkerCount),
		slog.Int("queue_size", config.QueueSize),
		slog.String("failure_policy", config.FailurePolicy.String()),
	)
	p.instr.refresh(p)

	return p, nil
}

// Size returns the number of workers the pool was created with.
func (p *Pool) Size() int {
	return p.config.WorkerCount
}

// Name returns the pool's name.
func (p *Pool) Name() string {
	return p.config.Name
}

// LiveWorkers returns the number of workers that have not stopped.
func (p *Pool) LiveWorkers() int {
	return int(p.live.Load())
}

// ActiveWorkers returns the number of workers currently executing tasks.
func (p *Pool) ActiveWorkers() int {
	return int(p.active.Load())
}

// QueueSize returns the current number of queued tasks waiting for execution.
func (p *Pool) QueueSize() int {
	return p.queue.len()
}

// TotalSubmitted returns the total number of tasks accepted by Submit.
func (p *Pool) TotalSubmitted() int64 {
	return p.totalSubmitted.Load()
}

// TotalCompleted returns the total number of tasks that finished executing,
// successfully or not.
func (p *Pool) TotalCompleted() int64 {
	return p.totalCompleted.Load()
}

// TotalFailed returns the number of tasks that returned an error or panicked.
func (p *Pool) TotalFailed() int64 {
	return p.totalFailed.Load()
}

// Stats returns a snapshot of the pool's counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Size:      p.config.WorkerCount,
		Live:      p.LiveWorkers(),
		Active:    p.ActiveWorkers(),
		Queued:    p.QueueSize(),
		Submitted: p.totalSubmitted.Load(),
		Completed: p.totalCompleted.Load(),
		Failed:    p.totalFailed.Load(),
		Panicked:  p.totalPanicked.Load(),
		Respawned: p.totalRespawned.Load(),
	}
}
