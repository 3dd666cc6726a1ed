package models

import (
	"time"

	"github.com/google/uuid"
)

// Collection names in the document store.
const (
	CollectionSecrets  = "posts"
	CollectionComments = "comments"
	CollectionReports  = "reports"
)

// Base carries the identity and creation time shared by every document.
type Base struct {
	ID        string    `json:"id"        bson:"_id,omitempty"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
}

// Stamp fills a missing creation time with now (UTC, millisecond precision
// to survive a round trip through BSON).
func (b *Base) Stamp(now time.Time) {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now.UTC().Truncate(time.Millisecond)
	}
}

// NewID returns a random document id.
func NewID() string {
	return uuid.NewString()
}
