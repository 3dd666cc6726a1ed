// Package permission models the location permission prompt as an explicit
// state machine.
package permission

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var ErrInFlight = errors.New("permission request already in flight")

const (
	DefaultRetryDelay    = time.Second
	DefaultMaxRetryDelay = 30 * time.Second
)

type State int

const (
	Unknown State = iota
	Checking
	Granted
	DeniedRetryable
	DeniedForever
)

func (s State) String() string {
	switch s {
	case Checking:
		return "checking"
	case Granted:
		return "granted"
	case DeniedRetryable:
		return "denied-retryable"
	case DeniedForever:
		return "denied-forever"
	default:
		return "unknown"
	}
}

// Denied reports whether s is one of the denied states.
func (s State) Denied() bool { return s == DeniedRetryable || s == DeniedForever }

// Status is what the platform reports about the permission.
type Status struct {
	Granted     bool `json:"granted"`
	CanAskAgain bool `json:"canAskAgain"`
}

// Platform is the device permission service.
type Platform interface {
	PermissionStatus(ctx context.Context) (Status, error)
	RequestPermission(ctx context.Context) (Status, error)
	OpenSettings(ctx context.Context) error
}

// Snapshot is the observable state of a Gate.
type Snapshot struct {
	State   State  `json:"-"`
	Name    string `json:"state"`
	Loading bool   `json:"loading"`
	// ShowModal is true in both denied states. The modal offers a retry
	// button when retryable and a settings link otherwise.
	ShowModal bool   `json:"showModal"`
	Error     string `json:"error,omitempty"`
}

// Gate drives the permission prompt. A platform failure is treated as a
// retryable denial.
type Gate struct {
	platform Platform
	logger   *zap.Logger

	retryDelay    time.Duration
	maxRetryDelay time.Duration

	mu        sync.Mutex
	state     State
	loading   bool
	prompting bool
	wake      chan struct{}
	err       error
	listeners map[int]func(Snapshot)
	nextID    int
}

type Option func(*Gate)

// WithRetryDelay sets the pause before the first automatic re-prompt. The
// pause doubles after each denial up to max.
func WithRetryDelay(first, max time.Duration) Option {
	return func(g *Gate) {
		if first > 0 {
			g.retryDelay = first
		}
		if max >= g.retryDelay {
			g.maxRetryDelay = max
		} else {
			g.maxRetryDelay = g.retryDelay
		}
	}
}

func NewGate(platform Platform, logger *zap.Logger, opts ...Option) *Gate {
	g := &Gate{
		platform:      platform,
		logger:        logger.Named("permission"),
		retryDelay:    DefaultRetryDelay,
		maxRetryDelay: DefaultMaxRetryDelay,
		wake:          make(chan struct{}, 1),
		listeners:     make(map[int]func(Snapshot)),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// OnChange registers fn for every state change and returns a function
// removing it.
func (g *Gate) OnChange(fn func(Snapshot)) func() {
	g.mu.Lock()
	id := g.nextID
	g.nextID++
	g.listeners[id] = fn
	g.mu.Unlock()
	return func() {
		g.mu.Lock()
		delete(g.listeners, id)
		g.mu.Unlock()
	}
}

func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

func (g *Gate) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.snapshotLocked()
}

func (g *Gate) snapshotLocked() Snapshot {
	s := Snapshot{
		State:     g.state,
		Name:      g.state.String(),
		Loading:   g.loading,
		ShowModal: g.state.Denied(),
	}
	if g.err != nil {
		s.Error = g.err.Error()
	}
	return s
}

// Check queries the current status. While the permission stays
// DeniedRetryable it keeps prompting, pausing between attempts, until it is
// granted, denied for good or ctx is done. Only one prompt loop runs per
// gate; a Check issued while one is active returns after the status query.
func (g *Gate) Check(ctx context.Context) (State, error) {
	if !g.begin(Checking) {
		return g.State(), ErrInFlight
	}
	status, err := g.platform.PermissionStatus(ctx)
	st := g.finish(status, err)
	if st != DeniedRetryable {
		return st, err
	}

	g.mu.Lock()
	if g.prompting {
		g.mu.Unlock()
		return st, err
	}
	g.prompting = true
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		g.prompting = false
		g.mu.Unlock()
	}()
	return g.prompt(ctx)
}

func (g *Gate) prompt(ctx context.Context) (State, error) {
	select {
	case <-g.wake:
	default:
	}
	delay := g.retryDelay
	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return g.State(), err
		}
		started, done := g.beginRetry()
		if done {
			return g.State(), nil
		}
		if started {
			attempt++
			g.logger.Debug("permission denied but can ask again, prompting", zap.Int("attempt", attempt))
			status, err := g.platform.RequestPermission(ctx)
			if st := g.finish(status, err); st != DeniedRetryable {
				return st, err
			}
		}

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return g.State(), ctx.Err()
		case <-g.wake:
			t.Stop()
		case <-t.C:
		}
		if delay *= 2; delay > g.maxRetryDelay {
			delay = g.maxRetryDelay
		}
	}
}

// Request asks the platform for the permission. It is the explicit retry
// behind the modal button.
func (g *Gate) Request(ctx context.Context) (State, error) {
	if !g.begin(g.State()) {
		return g.State(), ErrInFlight
	}
	status, err := g.platform.RequestPermission(ctx)
	return g.finish(status, err), err
}

// OpenSettings sends the user to the system settings, the only way out of
// DeniedForever. The state is refreshed by a later Check.
func (g *Gate) OpenSettings(ctx context.Context) error {
	if err := g.platform.OpenSettings(ctx); err != nil {
		g.logger.Warn("open settings failed", zap.Error(err))
		return err
	}
	return nil
}

// begin marks a platform call in flight, moving to next. It reports false
// when another call is already running.
func (g *Gate) begin(next State) bool {
	g.mu.Lock()
	if g.loading {
		g.mu.Unlock()
		return false
	}
	g.loading = true
	g.state = next
	snap, fns := g.snapshotLocked(), g.listenersLocked()
	g.mu.Unlock()
	notify(fns, snap)
	return true
}

// beginRetry starts the next automatic request. It reports done once the
// state has left DeniedRetryable, and neither flag while another call is
// in flight.
func (g *Gate) beginRetry() (started, done bool) {
	g.mu.Lock()
	if g.loading {
		g.mu.Unlock()
		return false, false
	}
	if g.state != DeniedRetryable {
		g.mu.Unlock()
		return false, true
	}
	g.loading = true
	snap, fns := g.snapshotLocked(), g.listenersLocked()
	g.mu.Unlock()
	notify(fns, snap)
	return true, false
}

func (g *Gate) finish(status Status, err error) State {
	g.mu.Lock()
	g.loading = false
	g.err = err
	switch {
	case err != nil:
		g.logger.Warn("permission call failed", zap.Error(err))
		g.state = DeniedRetryable
	case status.Granted:
		g.state = Granted
	case status.CanAskAgain:
		g.state = DeniedRetryable
	default:
		g.state = DeniedForever
	}
	st := g.state
	snap, fns := g.snapshotLocked(), g.listenersLocked()
	g.mu.Unlock()
	if st != DeniedRetryable {
		select {
		case g.wake <- struct{}{}:
		default:
		}
	}
	notify(fns, snap)
	return st
}

func (g *Gate) listenersLocked() []func(Snapshot) {
	fns := make([]func(Snapshot), 0, len(g.listeners))
	for _, fn := range g.listeners {
		fns = append(fns, fn)
	}
	return fns
}

func notify(fns []func(Snapshot), s Snapshot) {
	for _, fn := range fns {
		fn(s)
	}
}

// Authorize reports whether the permission is granted, requesting it when
// it is not.
func (g *Gate) Authorize(ctx context.Context) (bool, error) {
	if g.State() == Granted {
		return true, nil
	}
	st, err := g.Request(ctx)
	return st == Granted, err
}
