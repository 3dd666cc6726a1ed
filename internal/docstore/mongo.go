package docstore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// ParentField links a subcollection document to its parent document path.
const ParentField = "_parent"

// Mongo is a Store backed by MongoDB. Live queries are built from change
// streams, so the deployment must be a replica set.
//
// A subcollection "posts/<id>/comments" is stored in the "comments" MongoDB
// collection, scoped by ParentField.
type Mongo struct {
	db     *mongo.Database
	logger *zap.Logger
	d      *dispatcher
	seq    atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMongo creates a store over db.
func NewMongo(db *mongo.Database, logger *zap.Logger) *Mongo {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Mongo{
		db:     db,
		logger: logger,
		d:      newDispatcher(logger),
		ctx:    ctx,
		cancel: cancel,
	}
}

type scope struct {
	coll   *mongo.Collection
	parent string
}

func (m *Mongo) resolve(path string) (scope, error) {
	parent, name, err := splitPath(path)
	if err != nil {
		return scope{}, err
	}
	return scope{coll: m.db.Collection(name), parent: parent}, nil
}

func (s scope) filter(extra bson.M) bson.M {
	f := bson.M{}
	if s.parent != "" {
		f[ParentField] = s.parent
	}
	for k, v := range extra {
		f[k] = v
	}
	return f
}

// watchPipeline matches change events of this scope. Delete events carry no
// document body, so they always pass and only cost a re-read.
func (s scope) watchPipeline(id string) mongo.Pipeline {
	var match bson.M
	switch {
	case id != "":
		match = bson.M{"documentKey._id": id}
	case s.parent != "":
		match = bson.M{"$or": bson.A{
			bson.M{"fullDocument." + ParentField: s.parent},
			bson.M{"operationType": "delete"},
		}}
	default:
		return mongo.Pipeline{}
	}
	return mongo.Pipeline{bson.D{{Key: "$match", Value: match}}}
}

func (m *Mongo) Subscribe(q Query, onNext func(Snapshot), onError func(error)) Unsubscribe {
	sub := newSubscription(onError)
	sc, err := m.resolve(q.Collection)
	if err != nil {
		m.d.deliverError(sub, err)
		return sub.cancel
	}

	ctx, cancel := context.WithCancel(m.ctx)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.watch(ctx, sc, "", sub, func() error {
			snap, err := m.read(ctx, sc, q)
			if err != nil {
				return err
			}
			m.d.enqueue(func() {
				if sub.alive() {
					onNext(snap)
				}
			})
			return nil
		})
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			sub.cancel()
			cancel()
		})
	}
}

func (m *Mongo) SubscribeDoc(collection, id string, onNext func(DocSnapshot), onError func(error)) Unsubscribe {
	sub := newSubscription(onError)
	sc, err := m.resolve(collection)
	if err != nil {
		m.d.deliverError(sub, err)
		return sub.cancel
	}

	ctx, cancel := context.WithCancel(m.ctx)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.watch(ctx, sc, id, sub, func() error {
			snap, err := m.readDoc(ctx, sc, id)
			if err != nil {
				return err
			}
			m.d.enqueue(func() {
				if sub.alive() {
					onNext(snap)
				}
			})
			return nil
		})
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			sub.cancel()
			cancel()
		})
	}
}

// watch opens the change stream before the first read so no change between
// the read and the stream start is lost, then re-reads on every event.
func (m *Mongo) watch(ctx context.Context, sc scope, id string, sub *subscription, emit func() error) {
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
	stream, err := sc.coll.Watch(ctx, sc.watchPipeline(id), opts)
	if err != nil {
		m.fail(ctx, sc, sub, err)
		return
	}
	defer stream.Close(context.Background())

	if err := emit(); err != nil {
		m.fail(ctx, sc, sub, err)
		return
	}
	for stream.Next(ctx) {
		if err := emit(); err != nil {
			m.fail(ctx, sc, sub, err)
			return
		}
	}
	if err := stream.Err(); err != nil {
		m.fail(ctx, sc, sub, err)
	}
}

func (m *Mongo) fail(ctx context.Context, sc scope, sub *subscription, err error) {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return
	}
	m.logger.Warn("docstore live query failed",
		zap.String("collection", sc.coll.Name()),
		zap.String("parent", sc.parent),
		zap.Error(err))
	m.d.deliverError(sub, err)
}

func (m *Mongo) read(ctx context.Context, sc scope, q Query) (Snapshot, error) {
	findOpts := options.Find()
	sortSpec := bson.D{}
	if q.OrderBy != "" {
		dir := 1
		if q.Direction == Descending {
			dir = -1
		}
		sortSpec = append(sortSpec, bson.E{Key: q.OrderBy, Value: dir})
	}
	sortSpec = append(sortSpec, bson.E{Key: "_id", Value: 1})
	findOpts.SetSort(sortSpec)

	cur, err := sc.coll.Find(ctx, sc.filter(nil), findOpts)
	if err != nil {
		return Snapshot{}, err
	}
	defer cur.Close(ctx)

	docs := make([]Document, 0)
	for cur.Next(ctx) {
		raw := make(bson.Raw, len(cur.Current))
		copy(raw, cur.Current)
		id, _ := raw.Lookup("_id").StringValueOK()
		docs = append(docs, Document{ID: id, Raw: raw})
	}
	if err := cur.Err(); err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Seq: m.seq.Add(1), Docs: docs}, nil
}

func (m *Mongo) readDoc(ctx context.Context, sc scope, id string) (DocSnapshot, error) {
	raw, err := sc.coll.FindOne(ctx, sc.filter(bson.M{"_id": id})).Raw()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return DocSnapshot{Seq: m.seq.Add(1), ID: id}, nil
	}
	if err != nil {
		return DocSnapshot{}, err
	}
	return DocSnapshot{Seq: m.seq.Add(1), ID: id, Exists: true, Raw: raw}, nil
}

func (m *Mongo) Get(ctx context.Context, q Query) (Snapshot, error) {
	sc, err := m.resolve(q.Collection)
	if err != nil {
		return Snapshot{}, err
	}
	return m.read(ctx, sc, q)
}

func (m *Mongo) Fetch(ctx context.Context, collection, id string) (DocSnapshot, error) {
	sc, err := m.resolve(collection)
	if err != nil {
		return DocSnapshot{}, err
	}
	return m.readDoc(ctx, sc, id)
}

func (m *Mongo) Add(ctx context.Context, collection string, doc interface{}) (string, error) {
	sc, err := m.resolve(collection)
	if err != nil {
		return "", err
	}
	id := uuid.New().String()
	fields, err := withID(doc, id)
	if err != nil {
		return "", err
	}
	if sc.parent != "" {
		fields = append(fields, bson.E{Key: ParentField, Value: sc.parent})
	}
	if _, err := sc.coll.InsertOne(ctx, fields); err != nil {
		return "", err
	}
	return id, nil
}

func (m *Mongo) Update(ctx context.Context, collection, id string, u Update) error {
	sc, err := m.resolve(collection)
	if err != nil {
		return err
	}
	ops := bson.M{}
	if len(u.Set) > 0 {
		set := bson.M{}
		for k, v := range u.Set {
			if k == "_id" || k == ParentField {
				continue
			}
			set[k] = v
		}
		if len(set) > 0 {
			ops["$set"] = set
		}
	}
	if len(u.Inc) > 0 {
		ops["$inc"] = u.Inc
	}
	if len(ops) == 0 {
		return nil
	}
	res, err := sc.coll.UpdateOne(ctx, sc.filter(bson.M{"_id": id}), ops)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (m *Mongo) Delete(ctx context.Context, collection, id string) error {
	sc, err := m.resolve(collection)
	if err != nil {
		return err
	}
	res, err := sc.coll.DeleteOne(ctx, sc.filter(bson.M{"_id": id}))
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// Close cancels every live query and waits for their goroutines.
func (m *Mongo) Close() {
	m.cancel()
	m.wg.Wait()
	m.d.close()
}
