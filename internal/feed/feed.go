package feed

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/confesso/core/internal/docstore"
	"github.com/confesso/core/internal/models"
	"github.com/confesso/core/internal/pkg/geo"
	"github.com/confesso/core/internal/region"
)

const (
	DefaultRadiusKm = 10
	MinRadiusKm     = 1
	MaxRadiusKm     = 50
)

var ErrInvalidRadius = errors.New("radius out of range")

// State describes the feed besides its items.
type State struct {
	Loading       bool   `json:"loading"`
	Err           error  `json:"-"`
	Error         string `json:"error,omitempty"`
	Granted       bool   `json:"granted"`
	RadiusReady   bool   `json:"radiusReady"`
	LocationKnown bool   `json:"locationKnown"`
	RadiusKm      int    `json:"radiusKm"`
	Sort          string `json:"sort"`
	Override      bool   `json:"override"`
}

// Observer receives every new feed output. It runs on the store's callback
// goroutine or on the goroutine of the setter that caused the change, and
// must not call back into the Feed synchronously.
type Observer func(items []Item, st State)

type Option func(*Feed)

// WithRadiusBounds overrides the accepted radius range.
func WithRadiusBounds(min, max int) Option {
	return func(f *Feed) {
		if min > 0 && max >= min {
			f.minRadius, f.maxRadius = min, max
		}
	}
}

// WithCollection overrides the secrets collection path.
func WithCollection(path string) Option {
	return func(f *Feed) {
		if path != "" {
			f.collection = path
		}
	}
}

type versioned struct {
	value int
	seq   uint64
}

// Feed is the live nearby-secrets feed of one viewer. It holds one query
// subscription on the secrets collection, plus a like subscription and a
// comment-count subscription for every visible secret.
type Feed struct {
	store      docstore.Store
	logger     *zap.Logger
	collection string
	minRadius  int
	maxRadius  int
	subs       *Registry

	mu        sync.Mutex
	started   bool
	closed    bool
	criteria  Criteria
	sortKey   SortKey
	secrets   []models.Secret
	received  bool
	querySeq  uint64
	queryGen  uint64
	likes     map[string]versioned
	comments  map[string]versioned
	watching  map[string]uint64
	watchGen  uint64
	items     []Item
	err       error
	rev       uint64
	observers map[int]Observer
	nextObs   int

	notifyMu sync.Mutex
	notified uint64
}

const querySubKey = "query"

func likesKey(id string) string    { return "likes:" + id }
func commentsKey(id string) string { return "comments:" + id }

func New(store docstore.Store, logger *zap.Logger, opts ...Option) *Feed {
	f := &Feed{
		store:      store,
		logger:     logger.Named("feed"),
		collection: models.CollectionSecrets,
		minRadius:  MinRadiusKm,
		maxRadius:  MaxRadiusKm,
		subs:       NewRegistry(),
		sortKey:    SortRecent,
		likes:      make(map[string]versioned),
		comments:   make(map[string]versioned),
		watching:   make(map[string]uint64),
		observers:  make(map[int]Observer),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// OnChange registers fn and returns a function removing it.
func (f *Feed) OnChange(fn Observer) func() {
	f.mu.Lock()
	id := f.nextObs
	f.nextObs++
	f.observers[id] = fn
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.observers, id)
		f.mu.Unlock()
	}
}

// Start opens the secrets query. Calling it again is a no-op.
func (f *Feed) Start() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.started || f.closed {
		return
	}
	f.started = true
	f.subscribeQueryLocked()
}

// Refresh re-opens the secrets query, keeping the current items until the
// new query delivers.
func (f *Feed) Refresh() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.started || f.closed {
		return
	}
	f.subscribeQueryLocked()
}

func (f *Feed) subscribeQueryLocked() {
	f.queryGen++
	gen := f.queryGen
	q := docstore.Query{Collection: f.collection, OrderBy: "createdAt", Direction: docstore.Descending}
	f.subs.Add(querySubKey, f.store.Subscribe(q, f.onQuery(gen), f.onQueryError(gen)))
}

// Close cancels every subscription. The feed keeps its last items.
func (f *Feed) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	f.subs.TeardownAll()
	f.watching = make(map[string]uint64)
	f.observers = make(map[int]Observer)
	f.mu.Unlock()
}

func (f *Feed) SetPermission(granted bool) {
	f.update(func() bool {
		if f.criteria.Granted == granted {
			return false
		}
		f.criteria.Granted = granted
		return true
	})
}

// SetUserLocation sets the viewer's position; nil means unknown.
func (f *Feed) SetUserLocation(c *geo.Coordinate) {
	var loc *geo.Coordinate
	if c != nil && c.Valid() {
		cp := *c
		loc = &cp
	}
	f.update(func() bool {
		f.criteria.User = loc
		return true
	})
}

func (f *Feed) SetRadius(km int) error {
	if km < f.minRadius || km > f.maxRadius {
		return fmt.Errorf("%w: %d km not in [%d, %d]", ErrInvalidRadius, km, f.minRadius, f.maxRadius)
	}
	f.update(func() bool {
		if f.criteria.RadiusKm == km {
			return false
		}
		f.criteria.RadiusKm = km
		return true
	})
	return nil
}

func (f *Feed) SetRegion(sel region.Selection) {
	f.update(func() bool {
		if f.criteria.Region == sel {
			return false
		}
		f.criteria.Region = sel
		return true
	})
}

func (f *Feed) SetSort(key SortKey) error {
	key, err := ParseSortKey(string(key))
	if err != nil {
		return err
	}
	f.update(func() bool {
		if f.sortKey == key {
			return false
		}
		f.sortKey = key
		return true
	})
	return nil
}

// Items returns the current feed. The slice must not be modified.
func (f *Feed) Items() []Item {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.items
}

func (f *Feed) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stateLocked()
}

// Criteria returns the inputs currently applied.
func (f *Feed) Criteria() Criteria {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.criteria
}

func (f *Feed) stateLocked() State {
	st := State{
		Loading:       (!f.received && f.err == nil) || !f.criteria.RadiusReady(),
		Err:           f.err,
		Granted:       f.criteria.Granted,
		RadiusReady:   f.criteria.RadiusReady(),
		LocationKnown: f.criteria.User != nil,
		RadiusKm:      f.criteria.RadiusKm,
		Sort:          string(f.sortKey),
		Override:      f.criteria.Region.Override,
	}
	if f.err != nil {
		st.Error = f.err.Error()
	}
	return st
}

// update applies mutate under the lock and, when it reports a change,
// recomputes and publishes the feed.
func (f *Feed) update(mutate func() bool) {
	f.mu.Lock()
	if f.closed || !mutate() {
		f.mu.Unlock()
		return
	}
	f.recomputeLocked()
	c := f.changeLocked()
	f.mu.Unlock()
	f.emit(c)
}

func (f *Feed) onQuery(gen uint64) func(docstore.Snapshot) {
	return func(snap docstore.Snapshot) {
		secrets := make([]models.Secret, 0, snap.Size())
		for _, d := range snap.Docs {
			var s models.Secret
			if err := d.Decode(&s); err != nil {
				f.logger.Warn("skip undecodable secret", zap.String("id", d.ID), zap.Error(err))
				continue
			}
			s.ID = d.ID
			secrets = append(secrets, s)
		}

		f.mu.Lock()
		if f.closed || gen != f.queryGen || snap.Seq < f.querySeq {
			f.mu.Unlock()
			return
		}
		f.querySeq = snap.Seq
		f.secrets = secrets
		f.received = true
		f.err = nil

		likes := make(map[string]versioned, len(secrets))
		for _, s := range secrets {
			v := versioned{value: s.LikeCount(), seq: snap.Seq}
			if cur, ok := f.likes[s.ID]; ok && cur.seq > snap.Seq {
				v = cur
			}
			likes[s.ID] = v
		}
		f.likes = likes

		f.recomputeLocked()
		c := f.changeLocked()
		f.mu.Unlock()
		f.emit(c)
	}
}

func (f *Feed) onQueryError(gen uint64) func(error) {
	return func(err error) {
		f.mu.Lock()
		if f.closed || gen != f.queryGen {
			f.mu.Unlock()
			return
		}
		f.logger.Warn("secrets query failed, keeping last items",
			zap.Int("items", len(f.items)), zap.Error(err))
		f.err = err
		c := f.changeLocked()
		f.mu.Unlock()
		f.emit(c)
	}
}

func (f *Feed) onLikes(id string, gen uint64) func(docstore.DocSnapshot) {
	return func(snap docstore.DocSnapshot) {
		if !snap.Exists {
			// The query snapshot drops deleted secrets.
			return
		}
		var s models.Secret
		if err := snap.Decode(&s); err != nil {
			f.logger.Warn("decode secret likes", zap.String("id", id), zap.Error(err))
			return
		}
		f.apply(id, gen, snap.Seq, s.LikeCount(), counterLikes)
	}
}

func (f *Feed) onComments(id string, gen uint64) func(docstore.Snapshot) {
	return func(snap docstore.Snapshot) {
		f.apply(id, gen, snap.Seq, snap.Size(), counterComments)
	}
}

type counter int

const (
	counterLikes counter = iota
	counterComments
)

// apply records a counter value for id unless the watch has been replaced
// or a later snapshot was already applied.
func (f *Feed) apply(id string, gen, seq uint64, value int, which counter) {
	f.mu.Lock()
	if f.closed || f.watching[id] != gen {
		f.mu.Unlock()
		return
	}
	into := f.likes
	if which == counterComments {
		into = f.comments
	}
	if cur, ok := into[id]; ok && seq < cur.seq {
		f.mu.Unlock()
		return
	}
	into[id] = versioned{value: value, seq: seq}
	f.recomputeLocked()
	c := f.changeLocked()
	f.mu.Unlock()
	f.emit(c)
}

func (f *Feed) onWatchError(id, kind string) func(error) {
	return func(err error) {
		f.logger.Warn("secret subscription failed",
			zap.String("id", id), zap.String("kind", kind), zap.Error(err))
	}
}

func (f *Feed) recomputeLocked() {
	var items []Item
	if f.received && f.criteria.RadiusReady() {
		secrets := make([]models.Secret, len(f.secrets))
		for i, s := range f.secrets {
			if v, ok := f.likes[s.ID]; ok {
				s.Likes = v.value
			}
			secrets[i] = s
		}
		counts := make(Counts, len(f.comments))
		for id, v := range f.comments {
			counts[id] = v.value
		}
		items = Compose(secrets, counts, f.criteria, f.sortKey)
	}
	f.syncWatchesLocked(items)
	f.items = items
}

// syncWatchesLocked makes the per-secret subscriptions match the visible
// set, tearing down departed secrets before watching new ones.
func (f *Feed) syncWatchesLocked(items []Item) {
	visible := make(map[string]struct{}, len(items))
	for _, it := range items {
		visible[it.ID] = struct{}{}
	}
	for id := range f.watching {
		if _, ok := visible[id]; !ok {
			f.unwatchLocked(id)
		}
	}
	if !f.started || f.closed {
		return
	}
	for _, it := range items {
		if _, ok := f.watching[it.ID]; !ok {
			f.watchLocked(it.ID)
		}
	}
}

func (f *Feed) watchLocked(id string) {
	f.watchGen++
	gen := f.watchGen
	f.watching[id] = gen
	f.subs.Add(likesKey(id), f.store.SubscribeDoc(f.collection, id, f.onLikes(id, gen), f.onWatchError(id, "likes")))
	f.subs.Add(commentsKey(id), f.store.Subscribe(
		docstore.Query{Collection: docstore.Path(f.collection, id, models.CollectionComments)},
		f.onComments(id, gen), f.onWatchError(id, "comments")))
}

func (f *Feed) unwatchLocked(id string) {
	f.subs.Teardown(likesKey(id))
	f.subs.Teardown(commentsKey(id))
	delete(f.watching, id)
	delete(f.comments, id)
}

// Watching returns the ids of secrets with live counter subscriptions.
func (f *Feed) Watching() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.watching))
	for id := range f.watching {
		ids = append(ids, id)
	}
	return ids
}

type change struct {
	rev       uint64
	items     []Item
	state     State
	observers []Observer
}

func (f *Feed) changeLocked() change {
	f.rev++
	obs := make([]Observer, 0, len(f.observers))
	for _, fn := range f.observers {
		obs = append(obs, fn)
	}
	return change{rev: f.rev, items: f.items, state: f.stateLocked(), observers: obs}
}

// emit delivers c unless a later change was already delivered.
func (f *Feed) emit(c change) {
	f.notifyMu.Lock()
	defer f.notifyMu.Unlock()
	if c.rev <= f.notified {
		return
	}
	f.notified = c.rev
	for _, fn := range c.observers {
		fn(c.items, c.state)
	}
}
