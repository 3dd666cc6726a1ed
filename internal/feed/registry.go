package feed

import (
	"sort"
	"sync"

	"github.com/confesso/core/internal/docstore"
)

// Registry owns live subscriptions by key, so that each can be torn down
// exactly once and none is duplicated.
type Registry struct {
	mu   sync.Mutex
	subs map[string]docstore.Unsubscribe
}

func NewRegistry() *Registry {
	return &Registry{subs: make(map[string]docstore.Unsubscribe)}
}

// Add registers cancel under key, cancelling whatever was registered there.
func (r *Registry) Add(key string, cancel docstore.Unsubscribe) {
	r.mu.Lock()
	old := r.subs[key]
	r.subs[key] = cancel
	r.mu.Unlock()
	if old != nil {
		old()
	}
}

func (r *Registry) Has(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.subs[key]
	return ok
}

// Teardown cancels and forgets the subscription under key.
func (r *Registry) Teardown(key string) bool {
	r.mu.Lock()
	cancel, ok := r.subs[key]
	delete(r.subs, key)
	r.mu.Unlock()
	if ok && cancel != nil {
		cancel()
	}
	return ok
}

// TeardownAll cancels every registered subscription.
func (r *Registry) TeardownAll() {
	r.mu.Lock()
	subs := r.subs
	r.subs = make(map[string]docstore.Unsubscribe)
	r.mu.Unlock()
	for _, cancel := range subs {
		if cancel != nil {
			cancel()
		}
	}
}

func (r *Registry) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.subs))
	for k := range r.subs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}
