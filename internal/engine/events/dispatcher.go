package events

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Listener receives engine messages. It always runs on the dispatcher
// goroutine, one message at a time.
type Listener func(msg any)

type envelope struct {
	msg       any
	delivered chan struct{}
}

type subscription struct {
	id uint64
	fn Listener
}

// Dispatcher drains an unbounded queue of messages and hands each one to every
// subscribed listener in subscription order. Publish never blocks, so it is
// safe to call with locks held.
type Dispatcher struct {
	mu      sync.Mutex
	pending []envelope
	closed  bool
	wake    chan struct{}
	done    chan struct{}

	subMu  sync.RWMutex
	subs   []subscription
	nextID uint64

	logger *zap.Logger
}

// NewDispatcher starts the delivery goroutine
func NewDispatcher(logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		logger: logger.With(zap.String("component", "dispatcher")),
	}
	go d.run()
	return d
}

// Subscribe registers l and returns a function removing it
func (d *Dispatcher) Subscribe(l Listener) func() {
	d.subMu.Lock()
	d.nextID++
	id := d.nextID
	d.subs = append(d.subs, subscription{id: id, fn: l})
	d.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.subMu.Lock()
			defer d.subMu.Unlock()
			for i, s := range d.subs {
				if s.id == id {
					d.subs = append(d.subs[:i:i], d.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Publish queues msg for asynchronous delivery
func (d *Dispatcher) Publish(msg any) {
	d.enqueue(envelope{msg: msg})
}

// PublishSync queues msg and waits until every listener has returned from it.
// It must not be called from a listener.
func (d *Dispatcher) PublishSync(ctx context.Context, msg any) error {
	env := envelope{msg: msg, delivered: make(chan struct{})}
	d.enqueue(env)
	select {
	case <-env.delivered:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) enqueue(env envelope) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		if env.delivered != nil {
			close(env.delivered)
		}
		return
	}
	d.pending = append(d.pending, env)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Close delivers everything already queued, then stops the goroutine
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		<-d.done
		return
	}
	d.closed = true
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
	<-d.done
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for {
		d.mu.Lock()
		batch := d.pending
		d.pending = nil
		closed := d.closed
		d.mu.Unlock()

		for _, env := range batch {
			d.deliver(env)
		}

		if len(batch) == 0 {
			if closed {
				return
			}
			<-d.wake
		}
	}
}

func (d *Dispatcher) deliver(env envelope) {
	if env.delivered != nil {
		defer close(env.delivered)
	}

	d.subMu.RLock()
	subs := make([]subscription, len(d.subs))
	copy(subs, d.subs)
	d.subMu.RUnlock()

	for _, s := range subs {
		d.call(s.fn, env.msg)
	}
}

func (d *Dispatcher) call(fn Listener, msg any) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("listener panicked", zap.Any("panic", r))
		}
	}()
	fn(msg)
}
