// Package collective ships finished session traces to collective memory
// without slowing down the browse loop.
package collective

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/hdr-browser/api/schemas"
)

const (
	defaultQueueSize   = 64
	defaultSendTimeout = 10 * time.Second
)

// ErrClosed is returned by Close when the dispatcher was already closed.
var ErrClosed = errors.New("collective: dispatcher closed")

// Sink delivers one trace. HTTPSink and store.Store implement it.
type Sink interface {
	Send(ctx context.Context, trace schemas.Trace) error
}

// Dispatcher queues traces and hands them to its sinks from a single worker
// goroutine. Report never blocks; when the queue is full the trace is dropped.
type Dispatcher struct {
	sinks       []Sink
	logger      *zap.Logger
	sendTimeout time.Duration

	queue chan schemas.Trace
	stop  chan struct{}
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithQueueSize sets the queue capacity.
func WithQueueSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queue = make(chan schemas.Trace, n)
		}
	}
}

// WithSendTimeout bounds every Sink.Send call.
func WithSendTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.sendTimeout = timeout
		}
	}
}

// NewDispatcher starts the worker goroutine. Call Close to stop it.
func NewDispatcher(logger *zap.Logger, sinks []Sink, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		sinks:       sinks,
		logger:      logger.Named("collective"),
		sendTimeout: defaultSendTimeout,
		queue:       make(chan schemas.Trace, defaultQueueSize),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	go d.run()
	return d
}

// Report enqueues a trace. It implements agentbrowser.Reporter.
func (d *Dispatcher) Report(trace schemas.Trace) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.logger.Warn("Dispatcher closed, dropping trace.", zap.String("trace_id", trace.ID))
		return
	}
	select {
	case d.queue <- trace:
	default:
		d.logger.Warn("Collective memory queue full, dropping trace.",
			zap.String("trace_id", trace.ID),
			zap.Int("capacity", cap(d.queue)))
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for {
		select {
		case trace := <-d.queue:
			d.deliver(trace)
		case <-d.stop:
			d.drain()
			return
		}
	}
}

// drain delivers whatever is still queued once Close was called.
func (d *Dispatcher) drain() {
	count := 0
	for {
		select {
		case trace := <-d.queue:
			d.deliver(trace)
			count++
		default:
			d.logger.Debug("Queue drained.", zap.Int("count", count))
			return
		}
	}
}

func (d *Dispatcher) deliver(trace schemas.Trace) {
	for _, sink := range d.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), d.sendTimeout)
		err := sink.Send(ctx, trace)
		cancel()
		if err != nil {
			d.logger.Error("Failed to deliver trace.", zap.String("trace_id", trace.ID), zap.Error(err))
			continue
		}
		d.logger.Debug("Trace delivered.", zap.String("trace_id", trace.ID), zap.Int("steps", len(trace.Steps)))
	}
}

// Close stops accepting traces and waits for the queue to drain. When ctx
// ends first the remaining traces are abandoned and ctx.Err is returned.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	d.closed = true
	close(d.stop)
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		d.logger.Warn("Gave up draining collective memory queue.", zap.Int("pending", len(d.queue)))
		return ctx.Err()
	}
}
