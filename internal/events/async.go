package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultQueueSize    = 256
	defaultDrainTimeout = 10 * time.Second
)

// ErrQueueFull is reported when an Async sink has no room for another event.
var ErrQueueFull = errors.New("event queue is full")

// ErrSinkClosed is reported for events emitted after Close.
var ErrSinkClosed = errors.New("event sink is closed")

// Async hands events to a background sender so slow delivery never blocks the
// emitter. Close drains the queue for at most the drain timeout and then
// abandons what is left.
type Async struct {
	logger       *zap.Logger
	next         Sink
	queue        chan Event
	drainTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	closed bool
}

// NewAsync starts the sender for next. A non-positive size uses the default queue size.
func NewAsync(next Sink, size int, logger *zap.Logger) *Async {
	if size <= 0 {
		size = defaultQueueSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	a := &Async{
		logger:       logger.Named("events_async"),
		next:         next,
		queue:        make(chan Event, size),
		drainTimeout: defaultDrainTimeout,
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
	}
	go a.run()
	return a
}

// Emit enqueues ev without waiting for delivery.
func (a *Async) Emit(_ context.Context, ev Event) Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return Result{Err: ErrSinkClosed}
	}
	select {
	case a.queue <- ev:
		return Result{Queued: true}
	default:
		return Result{Err: ErrQueueFull}
	}
}

func (a *Async) run() {
	defer close(a.done)
	dropped := 0
	for ev := range a.queue {
		if a.ctx.Err() != nil {
			dropped++
			continue
		}
		if res := a.next.Emit(a.ctx, ev); !res.OK() {
			a.logger.Debug("Event was not delivered.", zap.String("event_type", ev.Type), zap.Error(res.Err))
		}
	}
	if dropped > 0 {
		a.logger.Warn("Dropped queued events on shutdown.", zap.Int("dropped", dropped))
	}
}

// Close stops accepting events, waits for the queue to drain and closes the
// wrapped sink.
func (a *Async) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()

	timer := time.NewTimer(a.drainTimeout)
	defer timer.Stop()
	select {
	case <-a.done:
	case <-timer.C:
		a.logger.Warn("Event queue did not drain in time, abandoning the rest.", zap.Duration("timeout", a.drainTimeout))
		a.cancel()
		<-a.done
	}
	a.cancel()
	return a.next.Close()
}
