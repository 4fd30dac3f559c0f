package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Job outcomes reported to QueueConfig.OnOutcome.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeRetried   = "retried"
	OutcomeFailed    = "failed"
	OutcomeDropped   = "dropped"
)

const maxBackoff = time.Minute

var (
	// ErrQueueFull is returned when the buffer cannot take another job.
	ErrQueueFull = errors.New("queue full")
	// ErrNotRunning is returned by Enqueue before Start or after Stop.
	ErrNotRunning = errors.New("queue not running")
)

// Job is one unit of background work.
type Job struct {
	ID       string
	Type     string
	Payload  interface{}
	Attempt  int
	Enqueued time.Time
}

// Handler processes a job.
type Handler func(context.Context, Job) error

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks a handler error as not worth retrying, e.g. a malformed payload.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

// QueueConfig configures worker pool behaviour.
type QueueConfig struct {
	Workers    int
	BufferSize int
	MaxRetries int
	// RetryDelay is the first backoff step; later attempts double it up to a minute.
	RetryDelay time.Duration
	Logger     *zap.Logger
	// OnOutcome, when set, is invoked once per handler run with the queue name and outcome.
	OnOutcome func(queue, outcome string)
}

func (cfg QueueConfig) withDefaults() QueueConfig {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = cfg.Workers * 64
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.OnOutcome == nil {
		cfg.OnOutcome = func(string, string) {}
	}
	return cfg
}

// Queue is an in-process worker pool with bounded buffering and delayed retries.
type Queue struct {
	name    string
	handler Handler
	cfg     QueueConfig
	log     *zap.Logger
	jobs    chan Job

	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewQueue builds a queue that feeds handler.
func NewQueue(name string, handler Handler, cfg QueueConfig) *Queue {
	cfg = cfg.withDefaults()
	return &Queue{
		name:    name,
		handler: handler,
		cfg:     cfg,
		log:     cfg.Logger.With(zap.String("queue", name)),
		jobs:    make(chan Job, cfg.BufferSize),
	}
}

// Name returns the queue name used in logs and metrics.
func (q *Queue) Name() string {
	return q.name
}

// Start launches the workers. Later calls are no-ops until Stop.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.group != nil {
		return
	}
	q.ctx, q.cancel = context.WithCancel(ctx)
	q.group, _ = errgroup.WithContext(q.ctx)
	runCtx := q.ctx
	for i := 0; i < q.cfg.Workers; i++ {
		q.group.Go(func() error { return q.work(runCtx) })
	}
	q.log.Info("queue started", zap.Int("workers", q.cfg.Workers))
}

// Stop cancels the workers and waits for in-flight jobs to return.
func (q *Queue) Stop() {
	q.mu.Lock()
	group, cancel := q.group, q.cancel
	q.group = nil
	q.mu.Unlock()
	if group == nil {
		return
	}
	cancel()
	_ = group.Wait()
	q.log.Info("queue stopped", zap.Int("abandoned", len(q.jobs)))
}

// Enqueue hands a job to the pool without blocking. A full buffer yields ErrQueueFull.
func (q *Queue) Enqueue(job Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.group == nil || q.ctx.Err() != nil {
		return fmt.Errorf("queue %s: %w", q.name, ErrNotRunning)
	}
	if job.Enqueued.IsZero() {
		job.Enqueued = time.Now().UTC()
	}
	select {
	case q.jobs <- job:
		return nil
	default:
		q.cfg.OnOutcome(q.name, OutcomeDropped)
		return fmt.Errorf("queue %s: %w", q.name, ErrQueueFull)
	}
}

// work and everything it calls use the context of the run that started it,
// so goroutines left from a stopped run never see a later Start.
func (q *Queue) work(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case job := <-q.jobs:
			q.process(ctx, job)
		}
	}
}

func (q *Queue) process(ctx context.Context, job Job) {
	err := q.invoke(ctx, job)
	if err == nil {
		q.cfg.OnOutcome(q.name, OutcomeSucceeded)
		return
	}

	job.Attempt++
	fields := []zap.Field{zap.String("job_id", job.ID), zap.String("type", job.Type), zap.Int("attempt", job.Attempt), zap.Error(err)}
	if IsPermanent(err) || job.Attempt > q.cfg.MaxRetries {
		q.cfg.OnOutcome(q.name, OutcomeFailed)
		q.log.Error("job failed", fields...)
		return
	}
	q.cfg.OnOutcome(q.name, OutcomeRetried)
	q.log.Warn("job failed, retrying", fields...)
	go q.retryAfter(ctx, job, q.backoff(job.Attempt))
}

func (q *Queue) invoke(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return q.handler(ctx, job)
}

func (q *Queue) backoff(attempt int) time.Duration {
	d := q.cfg.RetryDelay << (attempt - 1)
	if d <= 0 || d > maxBackoff {
		return maxBackoff
	}
	return d
}

func (q *Queue) retryAfter(ctx context.Context, job Job, delay time.Duration) {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
		if err := q.Enqueue(job); err != nil {
			q.log.Error("failed to requeue job", zap.String("job_id", job.ID), zap.Error(err))
		}
	}
}
