package docstore

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// dispatcher runs subscription callbacks one at a time on its own goroutine.
// The queue is unbounded so callbacks may subscribe or mutate without
// blocking themselves.
type dispatcher struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []func()
	pending int
	closed  bool
	logger  *zap.Logger
}

func newDispatcher(logger *zap.Logger) *dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &dispatcher{logger: logger}
	d.cond = sync.NewCond(&d.mu)
	go d.run()
	return d
}

func (d *dispatcher) enqueue(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.queue = append(d.queue, fn)
	d.pending++
	d.cond.Broadcast()
}

func (d *dispatcher) run() {
	for {
		d.mu.Lock()
		for len(d.queue) == 0 && !d.closed {
			d.cond.Wait()
		}
		if len(d.queue) == 0 {
			d.mu.Unlock()
			return
		}
		fn := d.queue[0]
		d.queue[0] = nil
		d.queue = d.queue[1:]
		d.mu.Unlock()

		d.call(fn)

		d.mu.Lock()
		d.pending--
		d.cond.Broadcast()
		d.mu.Unlock()
	}
}

func (d *dispatcher) call(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("docstore callback panicked", zap.Any("panic", r))
		}
	}()
	fn()
}

// wait blocks until every queued callback, including ones queued by
// callbacks while waiting, has run. Must not be called from a callback.
func (d *dispatcher) wait() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for d.pending > 0 {
		d.cond.Wait()
	}
}

func (d *dispatcher) close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.pending -= len(d.queue)
	d.queue = nil
	d.cond.Broadcast()
}

type subscription struct {
	active  atomic.Bool
	onError func(error)
}

func newSubscription(onError func(error)) *subscription {
	s := &subscription{onError: onError}
	s.active.Store(true)
	return s
}

func (s *subscription) cancel() { s.active.Store(false) }

func (s *subscription) alive() bool { return s.active.Load() }

func (d *dispatcher) deliverError(sub *subscription, err error) {
	d.enqueue(func() {
		if sub.alive() && sub.onError != nil {
			sub.onError(err)
		}
	})
}
