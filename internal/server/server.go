package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/semaphore"

	hperrors "github.com/vnykmshr/hellopool/pkg/common/errors"
	"github.com/vnykmshr/hellopool/pkg/metrics"
	"github.com/vnykmshr/hellopool/pkg/scheduling/workerpool"
)

const (
	// DefaultAddr is the address ListenAndServe binds when Config.Addr is empty.
	DefaultAddr = "127.0.0.1:7878"

	// DefaultStatsSchedule is the cron spec of the periodic stats report.
	DefaultStatsSchedule = "@every 30s"

	// DefaultMaxPending bounds connections handled outside the pool.
	DefaultMaxPending = 64

	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second

	// refuseWriteTimeout bounds the unread answer written when every
	// pending slot is taken.
	refuseWriteTimeout = 100 * time.Millisecond
)

// ErrAlreadyServing is returned when Serve is called on a running Server.
var ErrAlreadyServing = errors.New("server: already serving")

// Config configures a Server.
type Config struct {
	// Addr is the TCP address for ListenAndServe. Defaults to DefaultAddr.
	Addr string

	// Name labels log lines and metrics. Defaults to "hellopool".
	Name string

	// ReadTimeout bounds reading the request. Defaults to 5s.
	ReadTimeout time.Duration

	// WriteTimeout bounds writing the response. Defaults to 5s.
	WriteTimeout time.Duration

	// StatsSchedule is a cron spec for logging pool stats. Empty disables
	// the report.
	StatsSchedule string

	// Admitter, if set, is consulted for every accepted connection. It runs
	// off the accept loop, so a slow Admitter delays only the connection it
	// is deciding on.
	Admitter Admitter

	// MaxPending bounds the goroutines serving connections that are not in
	// the pool: admission checks and refused connections whose request is
	// read before answering. Beyond it, connections are answered at once
	// without reading. Defaults to DefaultMaxPending.
	MaxPending int

	// Metrics receives connection and response counters. Nil disables them.
	Metrics *metrics.Registry

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns the configuration used by the hellopool command.
func DefaultConfig() Config {
	return Config{
		Addr:          DefaultAddr,
		Name:          "hellopool",
		ReadTimeout:   5 * time.Second,
		WriteTimeout:  5 * time.Second,
		StatsSchedule: DefaultStatsSchedule,
		MaxPending:    DefaultMaxPending,
	}
}

// Server dispatches accepted connections to a worker pool. The server owns
// the pool: it closes it when Serve returns.
type Server struct {
	config   Config
	pool     *workerpool.Pool
	logger   *slog.Logger
	reporter *cron.Cron
	serving  atomic.Bool

	// pending holds one slot per goroutine in background.
	pending    *semaphore.Weighted
	background sync.WaitGroup
}

// New creates a Server that feeds pool.
func New(pool *workerpool.Pool, config Config) (*Server, error) {
	if pool == nil {
		return nil, hperrors.NewValidationError("server", "pool", nil, "pool is required")
	}

	defaults := DefaultConfig()
	if config.Addr == "" {
		config.Addr = defaults.Addr
	}
	if config.Name == "" {
		config.Name = defaults.Name
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = defaults.ReadTimeout
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if config.MaxPending <= 0 {
		config.MaxPending = defaults.MaxPending
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	s := &Server{
		config:  config,
		pool:    pool,
		logger:  config.Logger.With(slog.String("server", config.Name)),
		pending: semaphore.NewWeighted(int64(config.MaxPending)),
	}

	if config.StatsSchedule != "" {
		reporter, err := newStatsReporter(config.StatsSchedule, s.reportStats)
		if err != nil {
			return nil, hperrors.NewValidationError("server", "StatsSchedule", config.StatsSchedule, err.Error()).
				WithHint(`use a cron spec such as "@every 30s"`)
		}
		s.reporter = reporter
	}

	return s, nil
}

// Pool returns the pool connections are dispatched to.
func (s *Server) Pool() *workerpool.Pool {
	return s.pool
}

// ListenAndServe binds Config.Addr and calls Serve. The pool is closed
// even when binding fails.
func (s *Server) ListenAndServe(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.config.Addr)
	if err != nil {
		_ = s.pool.Close()
		return hperrors.NewOperationError("server", "listen", err).WithContext(s.config.Addr)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then closes ln,
// tears down the pool (queued connections are still served) and returns.
// The returned error is nil unless the listener failed on its own or the
// pool left connections unserved.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if !s.serving.CompareAndSwap(false, true) {
		return ErrAlreadyServing
	}

	s.logger.Info("listening", slog.String("addr", ln.Addr().String()))

	stopListener := context.AfterFunc(ctx, func() {
		_ = ln.Close()
	})
	defer stopListener()

	if s.reporter != nil {
		s.reporter.Start()
	}

	acceptErr := s.acceptLoop(ctx, ln)
	s.background.Wait()

	if s.reporter != nil {
		<-s.reporter.Stop().Done()
	}

	s.logger.Info("draining worker pool", slog.Int("queued", s.pool.QueueSize()))
	closeErr := s.pool.Close()
	s.reportStats()

	return errors.Join(acceptErr, closeErr)
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) error {
	var delay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("server: listener closed: %w", err)
			}

			delay = nextBackoff(delay)
			s.logger.Warn("accept failed; retrying",
				slog.Any("error", err),
				slog.Duration("retry_in", delay),
			)

			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return nil
			}
		}

		delay = 0
		s.dispatch(ctx, conn)
	}
}

// nextBackoff doubles the previous delay within [minAcceptBackoff, maxAcceptBackoff].
func nextBackoff(prev time.Duration) time.Duration {
	if prev == 0 {
		return minAcceptBackoff
	}
	return min(prev*2, maxAcceptBackoff)
}

// dispatch turns conn into a task. Without an Admitter the task is
// submitted right away; otherwise admission runs on a pending slot.
func (s *Server) dispatch(ctx context.Context, conn net.Conn) {
	task := &connTask{
		conn:     conn,
		server:   s,
		id:       uuid.NewString(),
		accepted: time.Now(),
	}
	s.recordAccepted()

	if s.config.Admitter == nil {
		if err := s.pool.Submit(task); err != nil {
			s.refuse(ctx, task, statusServiceUnavailable, submitFailureReason(err), err)
		}
		return
	}

	if !s.pending.TryAcquire(1) {
		s.refuseNow(task, statusServiceUnavailable, "overloaded", nil)
		return
	}
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		defer s.pending.Release(1)
		s.admit(ctx, task)
	}()
}

// admit runs on a pending slot.
func (s *Server) admit(ctx context.Context, task *connTask) {
	if !s.config.Admitter.Admit(ctx) {
		s.answerRefused(ctx, task, statusTooManyRequests, "rate_limited", nil)
		return
	}
	if err := s.pool.Submit(task); err != nil {
		s.answerRefused(ctx, task, statusServiceUnavailable, submitFailureReason(err), err)
	}
}

func submitFailureReason(err error) string {
	switch {
	case errors.Is(err, hperrors.ErrCapacityExceeded):
		return "queue_full"
	case errors.Is(err, hperrors.ErrClosed):
		return "closed"
	case errors.Is(err, hperrors.ErrNoWorkers):
		return "no_workers"
	default:
		return "unavailable"
	}
}

// refuse answers task from the accept loop: on a pending slot when one is
// free, immediately otherwise.
func (s *Server) refuse(ctx context.Context, task *connTask, status, reason string, cause error) {
	if !s.pending.TryAcquire(1) {
		s.refuseNow(task, status, reason, cause)
		return
	}
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		defer s.pending.Release(1)
		s.answerRefused(ctx, task, status, reason, cause)
	}()
}

// answerRefused consumes the request and answers it with status. Reading
// first keeps the close from resetting the connection under the client.
// Cancelling ctx cuts the read short.
func (s *Server) answerRefused(ctx context.Context, task *connTask, status, reason string, cause error) {
	defer task.conn.Close()

	s.recordRejected(reason)
	task.logger().Warn("connection rejected",
		slog.String("reason", reason),
		slog.Any("error", cause),
	)

	_ = task.conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	stop := context.AfterFunc(ctx, func() {
		_ = task.conn.SetReadDeadline(time.Now())
	})
	reader := bufio.NewReaderSize(task.conn, maxRequestLine)
	if _, err := readRequestLine(reader); err == nil {
		discardHeaders(reader)
	}
	stop()

	_ = task.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	if err := writeResponse(task.conn, status, []byte(reason+"\n")); err != nil {
		task.logger().Debug("could not answer rejected connection", slog.Any("error", err))
		return
	}
	s.recordResponse(status)
}

// refuseNow answers without reading the request. It runs on the accept loop,
// so the write is bounded by refuseWriteTimeout.
func (s *Server) refuseNow(task *connTask, status, reason string, cause error) {
	defer task.conn.Close()

	s.recordRejected(reason)
	task.logger().Warn("connection refused without reading",
		slog.String("reason", reason),
		slog.Any("error", cause),
	)

	_ = task.conn.SetWriteDeadline(time.Now().Add(refuseWriteTimeout))
	if err := writeResponse(task.conn, status, []byte(reason+"\n")); err != nil {
		return
	}
	s.recordResponse(status)
}
