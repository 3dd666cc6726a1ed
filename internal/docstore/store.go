// Package docstore defines the reactive document store the feed pipeline is
// built on, together with an in-process implementation and a MongoDB one.
//
// Collection paths are slash separated ("posts", "posts/<id>/comments").
// Subscriptions push the full current result set on every change, and all
// callbacks are delivered asynchronously on the store's dispatcher goroutine,
// in order per subscription.
package docstore

import (
	"context"
	"errors"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

var (
	ErrNotFound    = errors.New("document not found")
	ErrClosed      = errors.New("document store closed")
	ErrInvalidPath = errors.New("invalid collection path")
)

// Direction is the sort direction of an ordered query.
type Direction int

const (
	Ascending Direction = iota
	Descending
)

// Query selects every document of a collection, optionally ordered by a field.
type Query struct {
	Collection string
	OrderBy    string
	Direction  Direction
}

// Document is one stored document. Raw always carries the "_id" field.
type Document struct {
	ID  string
	Raw bson.Raw
}

// Decode unmarshals the document into v.
func (d Document) Decode(v interface{}) error {
	return bson.Unmarshal(d.Raw, v)
}

// Snapshot is the full result set of a query at one point in time.
// Seq increases monotonically across the whole store.
type Snapshot struct {
	Seq  uint64
	Docs []Document
}

// Size is the cardinality of the result set.
func (s Snapshot) Size() int { return len(s.Docs) }

// DocSnapshot is the state of a single document at one point in time.
type DocSnapshot struct {
	Seq    uint64
	ID     string
	Exists bool
	Raw    bson.Raw
}

// Decode unmarshals the document into v. It fails with ErrNotFound when the
// document does not exist.
func (d DocSnapshot) Decode(v interface{}) error {
	if !d.Exists {
		return ErrNotFound
	}
	return bson.Unmarshal(d.Raw, v)
}

// Update is a partial document write. Inc deltas are applied atomically by
// the store, never as read-modify-write on the client.
type Update struct {
	Set bson.M
	Inc bson.M
}

// Unsubscribe cancels a subscription. Calling it more than once is safe.
type Unsubscribe func()

// Store is the contract consumed by the feed and the mutators.
type Store interface {
	Subscribe(q Query, onNext func(Snapshot), onError func(error)) Unsubscribe
	SubscribeDoc(collection, id string, onNext func(DocSnapshot), onError func(error)) Unsubscribe
	Get(ctx context.Context, q Query) (Snapshot, error)
	Fetch(ctx context.Context, collection, id string) (DocSnapshot, error)
	Add(ctx context.Context, collection string, doc interface{}) (string, error)
	Update(ctx context.Context, collection, id string, u Update) error
	Delete(ctx context.Context, collection, id string) error
}

// Path joins path segments into a collection path.
func Path(segments ...string) string {
	return strings.Join(segments, "/")
}

// splitPath splits "posts/<id>/comments" into ("posts/<id>", "comments").
// Top-level collections have an empty parent.
func splitPath(path string) (parent, name string, err error) {
	path = strings.Trim(strings.TrimSpace(path), "/")
	if path == "" {
		return "", "", ErrInvalidPath
	}
	parts := strings.Split(path, "/")
	if len(parts)%2 == 0 {
		return "", "", ErrInvalidPath
	}
	for _, p := range parts {
		if p == "" {
			return "", "", ErrInvalidPath
		}
	}
	return strings.Join(parts[:len(parts)-1], "/"), parts[len(parts)-1], nil
}

// withID marshals doc and forces its "_id" field to id.
func withID(doc interface{}, id string) (bson.D, error) {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var fields bson.D
	if err := bson.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	out := make(bson.D, 0, len(fields)+1)
	out = append(out, bson.E{Key: "_id", Value: id})
	for _, f := range fields {
		if f.Key == "_id" {
			continue
		}
		out = append(out, f)
	}
	return out, nil
}
