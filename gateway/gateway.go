// Package gateway serializes every outbound call to the upstream platform through one
// admission policy. A single Gateway is built at startup and shared by all watchers,
// the user directory and caption downloads, so the aggregate request rate stays bounded
// no matter how many tasks are pending.
//
// Admission is FIFO in submission order. A task starts only when both hold:
//   - at least MinSpacing has passed since the previous task started, and
//   - fewer than MaxConcurrent tasks are running.
//
// The scheduler itself never fails a task; Schedule returns the task's own error, the
// caller's context error when the caller gave up before admission, or ErrClosed.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/onnwee/space-tender/telemetry"
)

// ErrClosed is returned for tasks submitted to, or still queued in, a closed Gateway.
var ErrClosed = errors.New("gateway closed")

// Task is one outbound call. It receives the submitter's context.
type Task func(ctx context.Context) error

// Config controls admission.
type Config struct {
	// MinSpacing is the minimum gap between two task starts. Zero disables spacing.
	MinSpacing time.Duration
	// MaxConcurrent caps running tasks. Values < 1 mean 1 (strict serialization).
	MaxConcurrent int64
}

// DefaultConfig matches the upstream's tolerance observed in production: one call at a time,
// at most one per second.
func DefaultConfig() Config {
	return Config{MinSpacing: time.Second, MaxConcurrent: 1}
}

type job struct {
	ctx      context.Context
	task     Task
	result   chan error
	enqueued time.Time
}

// Gateway is safe for concurrent use.
type Gateway struct {
	cfg     Config
	limiter *rate.Limiter
	sem     *semaphore.Weighted

	mu        sync.Mutex
	queue     []*job
	closed    bool
	submitted uint64
	wake      chan struct{}

	runCtx  context.Context
	stop    context.CancelFunc
	running sync.WaitGroup
	done    chan struct{}
}

// New starts a Gateway's dispatcher. Call Close at shutdown.
func New(cfg Config) *Gateway {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	limit := rate.Inf
	if cfg.MinSpacing > 0 {
		limit = rate.Every(cfg.MinSpacing)
	}
	runCtx, stop := context.WithCancel(context.Background())
	g := &Gateway{
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
		sem:     semaphore.NewWeighted(cfg.MaxConcurrent),
		wake:    make(chan struct{}, 1),
		runCtx:  runCtx,
		stop:    stop,
		done:    make(chan struct{}),
	}
	go g.dispatch()
	slog.Info("gateway started", slog.Duration("min_spacing", cfg.MinSpacing), slog.Int64("max_concurrent", cfg.MaxConcurrent), slog.String("component", "gateway"))
	return g
}

// Schedule queues task and blocks until it has run (returning its error) or was dropped.
func (g *Gateway) Schedule(ctx context.Context, task Task) error {
	j := &job{ctx: ctx, task: task, result: make(chan error, 1), enqueued: time.Now()}
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return ErrClosed
	}
	g.queue = append(g.queue, j)
	g.submitted++
	depth := len(g.queue)
	g.mu.Unlock()
	telemetry.SetQueueDepth(depth)

	select {
	case g.wake <- struct{}{}:
	default:
	}
	return <-j.result
}

// Do schedules fn on g and returns its value.
func Do[T any](ctx context.Context, g *Gateway, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := g.Schedule(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		out = v
		return err
	})
	return out, err
}

// Stats is a point-in-time view of the gateway for status reporting.
type Stats struct {
	Submitted     uint64        `json:"submitted"`
	Pending       int           `json:"pending"`
	MinSpacing    time.Duration `json:"min_spacing"`
	MaxConcurrent int64         `json:"max_concurrent"`
}

// Stats returns counters for status reporting.
func (g *Gateway) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Stats{Submitted: g.submitted, Pending: len(g.queue), MinSpacing: g.cfg.MinSpacing, MaxConcurrent: g.cfg.MaxConcurrent}
}

// Pending returns the number of queued tasks the dispatcher has not picked up yet.
func (g *Gateway) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.queue)
}

// Close stops admission, fails every queued task with ErrClosed and waits for running tasks.
func (g *Gateway) Close() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		<-g.done
		return
	}
	g.closed = true
	g.mu.Unlock()
	g.stop()
	<-g.done
	g.running.Wait()
}

// next pops the head of the queue, blocking until one is available or the gateway closes.
func (g *Gateway) next() *job {
	for {
		g.mu.Lock()
		if g.closed {
			g.mu.Unlock()
			return nil
		}
		if len(g.queue) > 0 {
			j := g.queue[0]
			g.queue[0] = nil
			g.queue = g.queue[1:]
			depth := len(g.queue)
			g.mu.Unlock()
			telemetry.SetQueueDepth(depth)
			return j
		}
		g.mu.Unlock()
		select {
		case <-g.wake:
		case <-g.runCtx.Done():
		}
	}
}

func (g *Gateway) dispatch() {
	defer close(g.done)
	defer g.drain()
	for {
		j := g.next()
		if j == nil {
			return
		}
		if err := j.ctx.Err(); err != nil {
			j.result <- err
			continue
		}
		if err := g.admit(j); err != nil {
			j.result <- err
			continue
		}
		telemetry.Observe(telemetry.GatewayWait, time.Since(j.enqueued))
		telemetry.Inc(telemetry.GatewayTasks)
		g.running.Add(1)
		go g.run(j)
	}
}

// admit waits for a concurrency slot and then for the spacing window, in that order, so a
// task blocked on a slot does not spend its spacing window while it waits.
func (g *Gateway) admit(j *job) error {
	ctx, cancel := context.WithCancel(j.ctx)
	defer cancel()
	unhook := context.AfterFunc(g.runCtx, cancel)
	defer unhook()

	if err := g.sem.Acquire(ctx, 1); err != nil {
		return g.admitErr(j, err)
	}
	if err := g.limiter.Wait(ctx); err != nil {
		g.sem.Release(1)
		return g.admitErr(j, err)
	}
	return nil
}

func (g *Gateway) admitErr(j *job, err error) error {
	if g.runCtx.Err() != nil {
		return ErrClosed
	}
	if ctxErr := j.ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	// rate.Limiter refuses early when the caller's deadline would pass before admission.
	return err
}

func (g *Gateway) run(j *job) {
	defer g.running.Done()
	defer g.sem.Release(1)
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("gateway task panic: %v", r)
			}
		}()
		return j.task(j.ctx)
	}()
	if err != nil {
		telemetry.Inc(telemetry.GatewayTaskErrors)
	}
	j.result <- err
}

// drain fails whatever is still queued once the dispatcher exits.
func (g *Gateway) drain() {
	g.mu.Lock()
	pending := g.queue
	g.queue = nil
	g.mu.Unlock()
	for _, j := range pending {
		j.result <- ErrClosed
	}
	telemetry.SetQueueDepth(0)
}
