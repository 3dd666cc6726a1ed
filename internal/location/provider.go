// Package location acquires the user's position once per request.
package location

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/confesso/core/internal/pkg/geo"
)

const DefaultTimeout = 15 * time.Second

var (
	ErrPermissionDenied = errors.New("location permission denied")
	ErrUnavailable      = errors.New("location unavailable")
)

// Message is the user-facing text for a location error.
func Message(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPermissionDenied):
		return "Permissão de localização negada"
	default:
		return "Erro ao obter localização"
	}
}

// Authorizer grants access to the location service.
type Authorizer interface {
	Authorize(ctx context.Context) (bool, error)
}

// Reader reads the current device position.
type Reader interface {
	CurrentPosition(ctx context.Context) (geo.Coordinate, error)
}

type State struct {
	Location *geo.Coordinate `json:"location"`
	Err      error           `json:"-"`
	Error    string          `json:"error,omitempty"`
	Loading  bool            `json:"loading"`
}

// Provider holds the last acquired position. Retries are up to the caller.
type Provider struct {
	auth    Authorizer
	reader  Reader
	timeout time.Duration
	logger  *zap.Logger

	mu        sync.Mutex
	state     State
	gen       uint64
	listeners []func(State)
}

func NewProvider(auth Authorizer, reader Reader, timeout time.Duration, logger *zap.Logger) *Provider {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Provider{auth: auth, reader: reader, timeout: timeout, logger: logger.Named("location")}
}

// OnChange registers fn for every state change. Listeners run on the
// goroutine calling Acquire.
func (p *Provider) OnChange(fn func(State)) {
	p.mu.Lock()
	p.listeners = append(p.listeners, fn)
	p.mu.Unlock()
}

func (p *Provider) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Acquire asks for the permission and reads the position once. Failures
// end up in the returned state, never as a separate error. When calls
// overlap only the latest one settles the state; an earlier call finishing
// afterwards returns the current state unchanged.
func (p *Provider) Acquire(ctx context.Context) State {
	var gen uint64
	p.set(0, func(s *State) {
		p.gen++
		gen = p.gen
		s.Loading = true
	})

	ok, err := p.auth.Authorize(ctx)
	if err != nil || !ok {
		if err != nil {
			p.logger.Warn("location permission check failed", zap.Error(err))
		}
		return p.fail(gen, ErrPermissionDenied)
	}

	readCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	pos, err := p.reader.CurrentPosition(readCtx)
	if err == nil && !pos.Valid() {
		err = fmt.Errorf("invalid position %s", pos)
	}
	if err != nil {
		p.logger.Warn("read position failed", zap.Error(err))
		return p.fail(gen, fmt.Errorf("%w: %v", ErrUnavailable, err))
	}

	return p.set(gen, func(s *State) {
		s.Location = &pos
		s.Err = nil
		s.Error = ""
		s.Loading = false
	})
}

// Refresh re-runs Acquire, typically after the user changed the permission
// in the system settings.
func (p *Provider) Refresh(ctx context.Context) State {
	return p.Acquire(ctx)
}

func (p *Provider) fail(gen uint64, err error) State {
	return p.set(gen, func(s *State) {
		s.Location = nil
		s.Err = err
		s.Error = Message(err)
		s.Loading = false
	})
}

// set applies mutate and notifies listeners. A non-zero gen from a call
// that is no longer the latest leaves the state alone.
func (p *Provider) set(gen uint64, mutate func(*State)) State {
	p.mu.Lock()
	if gen != 0 && gen != p.gen {
		st := p.state
		p.mu.Unlock()
		p.logger.Debug("dropping superseded location result", zap.Uint64("gen", gen))
		return st
	}
	mutate(&p.state)
	st := p.state
	fns := make([]func(State), len(p.listeners))
	copy(fns, p.listeners)
	p.mu.Unlock()
	for _, fn := range fns {
		fn(st)
	}
	return st
}
