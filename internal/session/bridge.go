package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/confesso/core/internal/permission"
	"github.com/confesso/core/internal/pkg/geo"
)

const defaultPromptTimeout = time.Minute

var ErrClosed = errors.New("session closed")

// waiters pairs requests sent to the client with their replies.
type waiters[T any] struct {
	mu    sync.Mutex
	chans map[string]chan T
	order []string
}

func (w *waiters[T]) add(id string) chan T {
	ch := make(chan T, 1)
	w.mu.Lock()
	if w.chans == nil {
		w.chans = make(map[string]chan T)
	}
	w.chans[id] = ch
	w.order = append(w.order, id)
	w.mu.Unlock()
	return ch
}

func (w *waiters[T]) remove(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.removeLocked(id)
}

func (w *waiters[T]) removeLocked(id string) {
	delete(w.chans, id)
	for i, v := range w.order {
		if v == id {
			w.order = append(w.order[:i], w.order[i+1:]...)
			break
		}
	}
}

// resolve hands v to the request id, or to the oldest pending request when
// id is empty. It reports whether anyone was waiting.
func (w *waiters[T]) resolve(id string, v T) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if id == "" && len(w.order) > 0 {
		id = w.order[0]
	}
	ch, ok := w.chans[id]
	if !ok {
		return false
	}
	w.removeLocked(id)
	ch <- v
	return true
}

type positionReply struct {
	coord geo.Coordinate
	err   error
}

// Bridge implements the device permission and location services by asking
// the connected client and waiting for its reply.
type Bridge struct {
	emit    Emitter
	timeout time.Duration

	permissions waiters[permission.Status]
	positions   waiters[positionReply]

	closeOnce sync.Once
	done      chan struct{}
}

func NewBridge(emit Emitter, timeout time.Duration) *Bridge {
	if timeout <= 0 {
		timeout = defaultPromptTimeout
	}
	return &Bridge{emit: emit, timeout: timeout, done: make(chan struct{})}
}

func (b *Bridge) PermissionStatus(ctx context.Context) (permission.Status, error) {
	return b.askPermission(ctx, false)
}

func (b *Bridge) RequestPermission(ctx context.Context) (permission.Status, error) {
	return b.askPermission(ctx, true)
}

func (b *Bridge) OpenSettings(ctx context.Context) error {
	select {
	case <-b.done:
		return ErrClosed
	default:
	}
	b.emit(EventOpenSettings, nil)
	return nil
}

func (b *Bridge) CurrentPosition(ctx context.Context) (geo.Coordinate, error) {
	id := uuid.NewString()
	ch := b.positions.add(id)
	defer b.positions.remove(id)

	reply, err := wait(ctx, b, ch, func() {
		b.emit(EventLocationRequest, locationRequestPayload{RequestID: id})
	})
	if err != nil {
		return geo.Coordinate{}, fmt.Errorf("location reply: %w", err)
	}
	return reply.coord, reply.err
}

// ResolvePermission delivers a PERMISSION_STATUS reply.
func (b *Bridge) ResolvePermission(requestID string, st permission.Status) bool {
	return b.permissions.resolve(requestID, st)
}

// ResolvePosition delivers a LOCATION or LOCATION_ERROR reply.
func (b *Bridge) ResolvePosition(requestID string, c geo.Coordinate, err error) bool {
	return b.positions.resolve(requestID, positionReply{coord: c, err: err})
}

// Close fails every pending and future request.
func (b *Bridge) Close() {
	b.closeOnce.Do(func() { close(b.done) })
}

func (b *Bridge) askPermission(ctx context.Context, prompt bool) (permission.Status, error) {
	id := uuid.NewString()
	ch := b.permissions.add(id)
	defer b.permissions.remove(id)

	st, err := wait(ctx, b, ch, func() {
		b.emit(EventPermissionRequest, permissionRequestPayload{RequestID: id, Prompt: prompt})
	})
	if err != nil {
		return permission.Status{}, fmt.Errorf("permission reply: %w", err)
	}
	return st, nil
}

func wait[T any](ctx context.Context, b *Bridge, ch chan T, send func()) (T, error) {
	var zero T
	select {
	case <-b.done:
		return zero, ErrClosed
	default:
	}
	send()

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	select {
	case v := <-ch:
		return v, nil
	case <-b.done:
		return zero, ErrClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
