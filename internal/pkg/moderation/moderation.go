// Package moderation rejects text containing blocked words.
package moderation

import (
	"errors"
	"strings"

	"github.com/confesso/core/internal/region"
)

var ErrBlocked = errors.New("text contains blocked words")

// Filter matches blocked words as substrings, ignoring case and accents.
// A nil or empty Filter accepts everything.
type Filter struct {
	words []string
}

func New(words []string) *Filter {
	f := &Filter{}
	seen := make(map[string]struct{}, len(words))
	for _, w := range words {
		folded := region.Fold(w)
		if folded == "" {
			continue
		}
		if _, dup := seen[folded]; dup {
			continue
		}
		seen[folded] = struct{}{}
		f.words = append(f.words, folded)
	}
	return f
}

// Contains reports whether text contains any blocked word.
func (f *Filter) Contains(text string) bool {
	if f == nil || len(f.words) == 0 || text == "" {
		return false
	}
	folded := region.Fold(text)
	for _, w := range f.words {
		if strings.Contains(folded, w) {
			return true
		}
	}
	return false
}

// Check returns ErrBlocked when text contains a blocked word.
func (f *Filter) Check(text string) error {
	if f.Contains(text) {
		return ErrBlocked
	}
	return nil
}
