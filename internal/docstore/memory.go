package docstore

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
)

// Memory is an in-process Store. It is used by tests and by the server when
// no MongoDB is configured.
type Memory struct {
	mu          sync.Mutex
	collections map[string]map[string]bson.D
	querySubs   map[string]map[*memQuerySub]struct{}
	docSubs     map[docKey]map[*memDocSub]struct{}
	seq         uint64
	writeErr    error
	closed      bool
	d           *dispatcher
}

type docKey struct {
	collection string
	id         string
}

type memQuerySub struct {
	*subscription
	q      Query
	onNext func(Snapshot)
}

type memDocSub struct {
	*subscription
	onNext func(DocSnapshot)
}

// NewMemory creates an empty in-process store.
func NewMemory(logger *zap.Logger) *Memory {
	return &Memory{
		collections: make(map[string]map[string]bson.D),
		querySubs:   make(map[string]map[*memQuerySub]struct{}),
		docSubs:     make(map[docKey]map[*memDocSub]struct{}),
		d:           newDispatcher(logger),
	}
}

func canonical(path string) (string, error) {
	parent, name, err := splitPath(path)
	if err != nil {
		return "", err
	}
	if parent == "" {
		return name, nil
	}
	return parent + "/" + name, nil
}

func (m *Memory) Subscribe(q Query, onNext func(Snapshot), onError func(error)) Unsubscribe {
	sub := &memQuerySub{subscription: newSubscription(onError), onNext: onNext}
	path, err := canonical(q.Collection)
	if err != nil {
		m.d.deliverError(sub.subscription, err)
		return sub.cancel
	}
	q.Collection = path
	sub.q = q

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return sub.cancel
	}
	if m.querySubs[path] == nil {
		m.querySubs[path] = make(map[*memQuerySub]struct{})
	}
	m.querySubs[path][sub] = struct{}{}
	m.deliverQueryLocked(sub)
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			sub.cancel()
			m.mu.Lock()
			delete(m.querySubs[path], sub)
			m.mu.Unlock()
		})
	}
}

func (m *Memory) SubscribeDoc(collection, id string, onNext func(DocSnapshot), onError func(error)) Unsubscribe {
	sub := &memDocSub{subscription: newSubscription(onError), onNext: onNext}
	path, err := canonical(collection)
	if err != nil {
		m.d.deliverError(sub.subscription, err)
		return sub.cancel
	}
	key := docKey{collection: path, id: id}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return sub.cancel
	}
	if m.docSubs[key] == nil {
		m.docSubs[key] = make(map[*memDocSub]struct{})
	}
	m.docSubs[key][sub] = struct{}{}
	m.deliverDocLocked(sub, key)
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			sub.cancel()
			m.mu.Lock()
			delete(m.docSubs[key], sub)
			if len(m.docSubs[key]) == 0 {
				delete(m.docSubs, key)
			}
			m.mu.Unlock()
		})
	}
}

func (m *Memory) Get(ctx context.Context, q Query) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	path, err := canonical(q.Collection)
	if err != nil {
		return Snapshot{}, err
	}
	q.Collection = path

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Snapshot{}, ErrClosed
	}
	return m.snapshotLocked(q)
}

// Fetch reads one document. A missing document is not an error.
func (m *Memory) Fetch(ctx context.Context, collection, id string) (DocSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return DocSnapshot{}, err
	}
	path, err := canonical(collection)
	if err != nil {
		return DocSnapshot{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return DocSnapshot{}, ErrClosed
	}
	snap := DocSnapshot{Seq: m.seq, ID: id}
	if fields, ok := m.collections[path][id]; ok {
		raw, err := bson.Marshal(fields)
		if err != nil {
			return DocSnapshot{}, err
		}
		snap.Exists = true
		snap.Raw = raw
	}
	return snap, nil
}

func (m *Memory) Add(ctx context.Context, collection string, doc interface{}) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path, err := canonical(collection)
	if err != nil {
		return "", err
	}
	id := uuid.New().String()
	fields, err := withID(doc, id)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.writableLocked(); err != nil {
		return "", err
	}
	if m.collections[path] == nil {
		m.collections[path] = make(map[string]bson.D)
	}
	m.collections[path][id] = fields
	m.notifyLocked(path, id)
	return id, nil
}

func (m *Memory) Update(ctx context.Context, collection, id string, u Update) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := canonical(collection)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.writableLocked(); err != nil {
		return err
	}
	fields, ok := m.collections[path][id]
	if !ok {
		return ErrNotFound
	}

	next := make(bson.D, len(fields))
	copy(next, fields)
	for key, value := range u.Set {
		if key == "_id" {
			continue
		}
		next = setField(next, key, value)
	}
	for key, delta := range u.Inc {
		next = setField(next, key, addNumeric(lookupField(next, key), delta))
	}
	m.collections[path][id] = next
	m.notifyLocked(path, id)
	return nil
}

func (m *Memory) Delete(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := canonical(collection)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.writableLocked(); err != nil {
		return err
	}
	if _, ok := m.collections[path][id]; !ok {
		return ErrNotFound
	}
	delete(m.collections[path], id)
	m.notifyLocked(path, id)
	return nil
}

// SetWriteError makes every following write fail with err until it is reset
// with nil.
func (m *Memory) SetWriteError(err error) {
	m.mu.Lock()
	m.writeErr = err
	m.mu.Unlock()
}

// InjectError delivers err to every live subscription under collection, as a
// transport failure would.
func (m *Memory) InjectError(collection string, err error) {
	path, perr := canonical(collection)
	if perr != nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for sub := range m.querySubs[path] {
		m.d.deliverError(sub.subscription, err)
	}
	for key, subs := range m.docSubs {
		if key.collection != path {
			continue
		}
		for sub := range subs {
			m.d.deliverError(sub.subscription, err)
		}
	}
}

// Subscriptions returns the number of live query and document subscriptions.
func (m *Memory) Subscriptions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, subs := range m.querySubs {
		n += len(subs)
	}
	for _, subs := range m.docSubs {
		n += len(subs)
	}
	return n
}

// Sync waits until every pending notification has been delivered.
func (m *Memory) Sync() { m.d.wait() }

// Close drops all subscriptions and stops the dispatcher.
func (m *Memory) Close() {
	m.mu.Lock()
	m.closed = true
	for _, subs := range m.querySubs {
		for sub := range subs {
			sub.cancel()
		}
	}
	for _, subs := range m.docSubs {
		for sub := range subs {
			sub.cancel()
		}
	}
	m.querySubs = map[string]map[*memQuerySub]struct{}{}
	m.docSubs = map[docKey]map[*memDocSub]struct{}{}
	m.mu.Unlock()
	m.d.close()
}

func (m *Memory) writableLocked() error {
	if m.closed {
		return ErrClosed
	}
	return m.writeErr
}

func (m *Memory) notifyLocked(path, id string) {
	m.seq++
	for sub := range m.querySubs[path] {
		m.deliverQueryLocked(sub)
	}
	key := docKey{collection: path, id: id}
	for sub := range m.docSubs[key] {
		m.deliverDocLocked(sub, key)
	}
}

func (m *Memory) deliverQueryLocked(sub *memQuerySub) {
	snap, err := m.snapshotLocked(sub.q)
	if err != nil {
		m.d.deliverError(sub.subscription, err)
		return
	}
	m.d.enqueue(func() {
		if sub.alive() {
			sub.onNext(snap)
		}
	})
}

func (m *Memory) deliverDocLocked(sub *memDocSub, key docKey) {
	snap := DocSnapshot{Seq: m.seq, ID: key.id}
	if fields, ok := m.collections[key.collection][key.id]; ok {
		raw, err := bson.Marshal(fields)
		if err != nil {
			m.d.deliverError(sub.subscription, err)
			return
		}
		snap.Exists = true
		snap.Raw = raw
	}
	m.d.enqueue(func() {
		if sub.alive() {
			sub.onNext(snap)
		}
	})
}

func (m *Memory) snapshotLocked(q Query) (Snapshot, error) {
	coll := m.collections[q.Collection]
	docs := make([]Document, 0, len(coll))
	for id, fields := range coll {
		raw, err := bson.Marshal(fields)
		if err != nil {
			return Snapshot{}, err
		}
		docs = append(docs, Document{ID: id, Raw: raw})
	}
	sortDocuments(docs, q)
	return Snapshot{Seq: m.seq, Docs: docs}, nil
}

func sortDocuments(docs []Document, q Query) {
	sort.SliceStable(docs, func(i, j int) bool {
		if q.OrderBy != "" {
			c := compareValues(docs[i].Raw.Lookup(q.OrderBy), docs[j].Raw.Lookup(q.OrderBy))
			if c != 0 {
				if q.Direction == Descending {
					return c > 0
				}
				return c < 0
			}
		}
		return docs[i].ID < docs[j].ID
	})
}

func lookupField(fields bson.D, key string) interface{} {
	for _, f := range fields {
		if f.Key == key {
			return f.Value
		}
	}
	return nil
}

func setField(fields bson.D, key string, value interface{}) bson.D {
	for i, f := range fields {
		if f.Key == key {
			fields[i].Value = value
			return fields
		}
	}
	return append(fields, bson.E{Key: key, Value: value})
}
