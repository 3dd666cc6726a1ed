package comment

import (
	"sync"

	"go.uber.org/zap"

	"github.com/confesso/core/internal/docstore"
	"github.com/confesso/core/internal/feed"
	"github.com/confesso/core/internal/models"
)

// Update is one delivery of the selected secret's comments.
type Update struct {
	SecretID string              `json:"secretId"`
	Sort     feed.CommentSortKey `json:"sort"`
	Comments []models.Comment    `json:"comments"`
	Error    string              `json:"error,omitempty"`
}

// Listener follows the comments of the currently selected secret. Selecting
// another secret replaces the subscription; the old one is cancelled first.
type Listener struct {
	store    docstore.Store
	logger   *zap.Logger
	onChange func(Update)

	mu       sync.Mutex
	secretID string
	sort     feed.CommentSortKey
	comments []models.Comment
	gen      uint64
	cancel   docstore.Unsubscribe
	rev      uint64

	notifyMu sync.Mutex
	notified uint64
}

func NewListener(store docstore.Store, logger *zap.Logger, onChange func(Update)) *Listener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Listener{
		store:    store,
		logger:   logger.Named("comments"),
		onChange: onChange,
		sort:     feed.CommentsRecent,
	}
}

// Select starts following secretID. Selecting the current secret only
// changes the order.
func (l *Listener) Select(secretID string, key feed.CommentSortKey) {
	l.mu.Lock()
	if secretID == l.secretID && l.cancel != nil {
		l.mu.Unlock()
		l.SetSort(key)
		return
	}
	l.stopLocked()
	l.secretID = secretID
	l.sort = key
	l.gen++
	gen := l.gen
	l.cancel = l.store.Subscribe(docstore.Query{
		Collection: models.CommentsPath(secretID),
		OrderBy:    "createdAt",
		Direction:  docstore.Descending,
	}, l.onSnapshot(gen), l.onError(gen))
	l.mu.Unlock()
}

// SetSort re-sorts the current comments.
func (l *Listener) SetSort(key feed.CommentSortKey) {
	l.mu.Lock()
	if key == l.sort {
		l.mu.Unlock()
		return
	}
	l.sort = key
	if l.cancel == nil {
		l.mu.Unlock()
		return
	}
	sorted := make([]models.Comment, len(l.comments))
	copy(sorted, l.comments)
	feed.OrderComments(sorted, key)
	l.comments = sorted
	u, rev := l.updateLocked("")
	l.mu.Unlock()
	l.emit(u, rev)
}

// Deselect cancels the subscription.
func (l *Listener) Deselect() {
	l.mu.Lock()
	l.stopLocked()
	l.mu.Unlock()
}

// Selected returns the followed secret id, empty when nothing is selected.
func (l *Listener) Selected() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel == nil {
		return ""
	}
	return l.secretID
}

// Comments returns the last delivered comments in the current order.
func (l *Listener) Comments() []models.Comment {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.Comment, len(l.comments))
	copy(out, l.comments)
	return out
}

func (l *Listener) stopLocked() {
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	l.gen++
	l.secretID = ""
	l.comments = nil
}

func (l *Listener) onSnapshot(gen uint64) func(docstore.Snapshot) {
	return func(snap docstore.Snapshot) {
		comments := decodeComments(snap, l.logger)
		l.mu.Lock()
		if gen != l.gen {
			l.mu.Unlock()
			return
		}
		feed.OrderComments(comments, l.sort)
		l.comments = comments
		u, rev := l.updateLocked("")
		l.mu.Unlock()
		l.emit(u, rev)
	}
}

func (l *Listener) onError(gen uint64) func(error) {
	return func(err error) {
		l.mu.Lock()
		if gen != l.gen {
			l.mu.Unlock()
			return
		}
		l.logger.Warn("comment listener failed", zap.String("secret", l.secretID), zap.Error(err))
		u, rev := l.updateLocked(err.Error())
		l.mu.Unlock()
		l.emit(u, rev)
	}
}

func (l *Listener) updateLocked(errMsg string) (Update, uint64) {
	l.rev++
	comments := make([]models.Comment, len(l.comments))
	copy(comments, l.comments)
	return Update{SecretID: l.secretID, Sort: l.sort, Comments: comments, Error: errMsg}, l.rev
}

func (l *Listener) emit(u Update, rev uint64) {
	if l.onChange == nil {
		return
	}
	l.notifyMu.Lock()
	defer l.notifyMu.Unlock()
	if rev <= l.notified {
		return
	}
	l.notified = rev
	l.onChange(u)
}
