// Package session runs the live nearby-secrets feed of one connected
// client. It wires the permission gate, the location provider, the saved
// radius and the region filter into a feed, and forwards every change to
// the client.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/confesso/core/internal/docstore"
	"github.com/confesso/core/internal/feed"
	"github.com/confesso/core/internal/geocode"
	"github.com/confesso/core/internal/location"
	"github.com/confesso/core/internal/modules/comment"
	"github.com/confesso/core/internal/permission"
	"github.com/confesso/core/internal/pkg/geo"
	"github.com/confesso/core/internal/preference"
	"github.com/confesso/core/internal/region"
)

const defaultGeocodeTimeout = 10 * time.Second

var ErrUnknownMessage = errors.New("unknown message type")

// Deps are the services shared by every session.
type Deps struct {
	Store           docstore.Store
	Radius          *preference.Radius
	Directory       region.Directory
	Geocoder        geocode.Geocoder
	Logger          *zap.Logger
	LocationTimeout time.Duration
	GeocodeTimeout  time.Duration
	PromptTimeout   time.Duration
	RetryDelay      time.Duration
	MaxRetryDelay   time.Duration
	MinRadiusKm     int
	MaxRadiusKm     int
}

type Session struct {
	deviceID string
	deps     Deps
	emit     Emitter
	logger   *zap.Logger

	bridge   *Bridge
	gate     *permission.Gate
	provider *location.Provider
	filter   *region.Filter
	feed     *feed.Feed
	comments *comment.Listener

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu           sync.Mutex
	started      bool
	closed       bool
	lastDetected *geo.Coordinate
	removeGate   func()
	radiusSeq    uint64

	// radiusMu orders applying a radius against bumping radiusSeq.
	radiusMu sync.Mutex
	saveMu   sync.Mutex
}

// New builds a session for deviceID. Nothing runs until Start.
func New(deviceID string, deps Deps, emit Emitter) *Session {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.MinRadiusKm <= 0 || deps.MaxRadiusKm < deps.MinRadiusKm {
		deps.MinRadiusKm, deps.MaxRadiusKm = feed.MinRadiusKm, feed.MaxRadiusKm
	}
	if deps.GeocodeTimeout <= 0 {
		deps.GeocodeTimeout = defaultGeocodeTimeout
	}
	logger := deps.Logger.Named("session").With(zap.String("device", deviceID))

	s := &Session{
		deviceID: deviceID,
		deps:     deps,
		emit:     emit,
		logger:   logger,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.bridge = NewBridge(emit, deps.PromptTimeout)
	s.gate = permission.NewGate(s.bridge, logger, permission.WithRetryDelay(deps.RetryDelay, deps.MaxRetryDelay))
	s.provider = location.NewProvider(s.gate, s.bridge, deps.LocationTimeout, logger)
	s.filter = region.NewFilter(deps.Directory)
	s.feed = feed.New(deps.Store, logger, feed.WithRadiusBounds(deps.MinRadiusKm, deps.MaxRadiusKm))
	s.comments = comment.NewListener(deps.Store, logger, func(u comment.Update) {
		s.emit(EventCommentsUpdate, u)
	})
	return s
}

func (s *Session) DeviceID() string { return s.deviceID }

// Start opens the feed, loads the saved radius and begins the permission
// check. It is a no-op after the first call.
func (s *Session) Start() {
	s.mu.Lock()
	if s.started || s.closed {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	s.feed.OnChange(func(items []feed.Item, st feed.State) {
		s.emit(EventFeedUpdate, FeedUpdate{Items: items, State: st})
	})
	s.removeGate = s.gate.OnChange(func(snap permission.Snapshot) {
		s.feed.SetPermission(snap.State == permission.Granted)
		s.emit(EventPermissionState, snap)
	})
	s.provider.OnChange(s.onLocation)
	s.feed.Start()

	s.mu.Lock()
	seq := s.radiusSeq
	s.mu.Unlock()
	s.async(func(ctx context.Context) { s.loadRadius(ctx, seq) })
	s.async(s.checkAndLocate)
}

// loadRadius applies the saved radius unless the client picked one after
// seq was taken.
func (s *Session) loadRadius(ctx context.Context, seq uint64) {
	km := s.deps.Radius.Load(ctx, s.deviceID)

	s.radiusMu.Lock()
	s.mu.Lock()
	chosen := s.radiusSeq != seq
	s.mu.Unlock()
	if chosen {
		s.radiusMu.Unlock()
		s.logger.Debug("radius chosen before the saved one loaded", zap.Int("saved", km))
		return
	}
	if err := s.feed.SetRadius(km); err != nil {
		s.logger.Warn("saved radius rejected, using default", zap.Int("km", km), zap.Error(err))
		_ = s.feed.SetRadius(s.deps.Radius.Default())
	}
	s.radiusMu.Unlock()
	s.emitFilter()
}

// Close cancels every subscription and pending device request and waits
// for background work to finish.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	remove := s.removeGate
	s.mu.Unlock()

	s.cancel()
	s.bridge.Close()
	s.wg.Wait()
	if remove != nil {
		remove()
	}
	s.comments.Deselect()
	s.feed.Close()
}

func (s *Session) Feed() *feed.Feed                { return s.feed }
func (s *Session) Permission() permission.Snapshot { return s.gate.Snapshot() }
func (s *Session) Location() location.State        { return s.provider.State() }
func (s *Session) Filter() region.State            { return s.filter.State() }
func (s *Session) SelectedSecret() string          { return s.comments.Selected() }

// Handle applies one client message. Errors are also reported to the
// client as SESSION_ERROR.
func (s *Session) Handle(msgType string, payload json.RawMessage) error {
	err := s.handle(strings.ToUpper(strings.TrimSpace(msgType)), payload)
	if err != nil {
		s.emit(EventError, ErrorPayload{Type: msgType, Message: err.Error()})
	}
	return err
}

func (s *Session) handle(msgType string, payload json.RawMessage) error {
	switch msgType {
	case MsgPermissionStatus:
		var p permissionStatusPayload
		if err := decode(payload, &p); err != nil {
			return err
		}
		if !s.bridge.ResolvePermission(p.RequestID, permission.Status{Granted: p.Granted, CanAskAgain: p.CanAskAgain}) {
			s.logger.Debug("unsolicited permission status", zap.String("request", p.RequestID))
		}
		return nil

	case MsgLocation:
		var p locationPayload
		if err := decode(payload, &p); err != nil {
			return err
		}
		if p.Latitude == nil || p.Longitude == nil {
			return fmt.Errorf("%s: latitude and longitude are required", msgType)
		}
		s.bridge.ResolvePosition(p.RequestID, geo.Coordinate{Latitude: *p.Latitude, Longitude: *p.Longitude}, nil)
		return nil

	case MsgLocationError:
		var p locationErrorPayload
		if err := decode(payload, &p); err != nil {
			return err
		}
		msg := strings.TrimSpace(p.Message)
		if msg == "" {
			msg = "device could not read the position"
		}
		s.bridge.ResolvePosition(p.RequestID, geo.Coordinate{}, errors.New(msg))
		return nil

	case MsgCheckPermission:
		s.async(s.checkAndLocate)
		return nil

	case MsgRetryPermission:
		s.async(func(ctx context.Context) {
			st, err := s.gate.Request(ctx)
			if err == nil && st == permission.Granted {
				s.provider.Acquire(ctx)
			}
		})
		return nil

	case MsgGoToSettings:
		return s.gate.OpenSettings(s.ctx)

	case MsgRefreshLocation:
		s.async(func(ctx context.Context) { s.provider.Refresh(ctx) })
		return nil

	case MsgSetRadius:
		var p radiusPayload
		if err := decode(payload, &p); err != nil {
			return err
		}
		return s.SetRadius(p.Km)

	case MsgSelectEstado:
		var p estadoPayload
		if err := decode(payload, &p); err != nil {
			return err
		}
		if err := s.filter.SelectEstado(p.Estado); err != nil {
			return err
		}
		s.applyRegion()
		return nil

	case MsgSelectMunicipio:
		var p municipioPayload
		if err := decode(payload, &p); err != nil {
			return err
		}
		if err := s.filter.SelectMunicipio(p.Municipio); err != nil {
			return err
		}
		s.applyRegion()
		return nil

	case MsgClearFilters:
		return s.ClearFilters()

	case MsgSetSort:
		var p sortPayload
		if err := decode(payload, &p); err != nil {
			return err
		}
		return s.feed.SetSort(feed.SortKey(p.Sort))

	case MsgSelectSecret:
		var p selectSecretPayload
		if err := decode(payload, &p); err != nil {
			return err
		}
		id := strings.TrimSpace(p.ID)
		if id == "" {
			return fmt.Errorf("%s: id is required", msgType)
		}
		key, err := feed.ParseCommentSortKey(p.Sort)
		if err != nil {
			return err
		}
		s.comments.Select(id, key)
		return nil

	case MsgSetCommentSort:
		var p sortPayload
		if err := decode(payload, &p); err != nil {
			return err
		}
		key, err := feed.ParseCommentSortKey(p.Sort)
		if err != nil {
			return err
		}
		s.comments.SetSort(key)
		return nil

	case MsgDeselectSecret:
		s.comments.Deselect()
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnknownMessage, msgType)
}

// SetRadius applies km to the feed and saves it for the device.
func (s *Session) SetRadius(km int) error {
	seq, err := s.applyRadius(km)
	if err != nil {
		return err
	}
	s.emitFilter()
	s.persistRadius(km, seq)
	return nil
}

// ClearFilters restores the detected region and the default radius.
func (s *Session) ClearFilters() error {
	s.filter.Clear()
	s.feed.SetRegion(s.filter.Selection())
	return s.SetRadius(s.deps.Radius.Default())
}

func (s *Session) applyRadius(km int) (uint64, error) {
	s.radiusMu.Lock()
	defer s.radiusMu.Unlock()
	if err := s.feed.SetRadius(km); err != nil {
		return 0, err
	}
	s.mu.Lock()
	s.radiusSeq++
	seq := s.radiusSeq
	s.mu.Unlock()
	return seq, nil
}

// persistRadius saves km in the background. Saves are serialized and a
// save overtaken by a newer one is skipped.
func (s *Session) persistRadius(km int, seq uint64) {
	s.async(func(ctx context.Context) {
		s.saveMu.Lock()
		defer s.saveMu.Unlock()
		s.mu.Lock()
		stale := seq != s.radiusSeq
		s.mu.Unlock()
		if stale {
			return
		}
		// A radius chosen right before disconnecting is still saved.
		if err := s.deps.Radius.Save(context.WithoutCancel(ctx), s.deviceID, km); err != nil {
			s.logger.Warn("save radius failed", zap.Int("km", km), zap.Error(err))
		}
	})
}

func (s *Session) applyRegion() {
	s.feed.SetRegion(s.filter.Selection())
	s.emitFilter()
}

func (s *Session) emitFilter() {
	s.emit(EventFilterState, FilterUpdate{
		Region:      s.filter.State(),
		RadiusKm:    s.feed.Criteria().RadiusKm,
		MinRadiusKm: s.deps.MinRadiusKm,
		MaxRadiusKm: s.deps.MaxRadiusKm,
	})
}

func (s *Session) checkAndLocate(ctx context.Context) {
	st, err := s.gate.Check(ctx)
	if err != nil {
		s.logger.Debug("permission check failed", zap.Error(err))
	}
	if st == permission.Granted {
		s.provider.Acquire(ctx)
	}
}

func (s *Session) onLocation(st location.State) {
	s.feed.SetUserLocation(st.Location)
	s.emit(EventLocationState, st)
	if st.Location == nil {
		return
	}

	loc := *st.Location
	s.mu.Lock()
	same := s.lastDetected != nil && *s.lastDetected == loc
	if !same {
		s.lastDetected = &loc
	}
	s.mu.Unlock()
	if !same {
		s.async(func(ctx context.Context) { s.detectRegion(ctx, loc) })
	}
}

// detectRegion stamps the region of the user's position as the filter's
// original selection.
func (s *Session) detectRegion(ctx context.Context, loc geo.Coordinate) {
	ctx, cancel := context.WithTimeout(ctx, s.deps.GeocodeTimeout)
	defer cancel()
	place, err := s.deps.Geocoder.Reverse(ctx, loc)
	if err != nil {
		s.logger.Warn("detect region failed", zap.Stringer("location", loc), zap.Error(err))
		s.mu.Lock()
		if s.lastDetected != nil && *s.lastDetected == loc {
			s.lastDetected = nil
		}
		s.mu.Unlock()
		return
	}
	s.filter.SetDetected(place.Region, place.City)
	s.applyRegion()
}

// async runs fn in the background bound to the session lifetime.
func (s *Session) async(fn func(ctx context.Context)) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	go func() {
		defer s.wg.Done()
		fn(s.ctx)
	}()
}

func decode(payload json.RawMessage, v interface{}) error {
	if len(payload) == 0 || string(payload) == "null" {
		return nil
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	return nil
}
