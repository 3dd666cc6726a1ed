package feed

import (
	"fmt"
	"sort"
	"strings"

	"github.com/confesso/core/internal/models"
)

// SortKey selects the feed order.
type SortKey string

const (
	SortRecent   SortKey = "recent"
	SortLikes    SortKey = "likes"
	SortComments SortKey = "comments"
)

// ParseSortKey validates a client supplied sort key.
func ParseSortKey(s string) (SortKey, error) {
	switch k := SortKey(strings.ToLower(strings.TrimSpace(s))); k {
	case SortRecent, SortLikes, SortComments:
		return k, nil
	case "":
		return SortRecent, nil
	default:
		return "", fmt.Errorf("unknown sort key %q", s)
	}
}

// Sort orders items in place, descending by key. Ties fall back to the most
// recent first and then to the id, so the order is deterministic.
func Sort(items []Item, key SortKey) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		switch key {
		case SortLikes:
			if a.LikeCount() != b.LikeCount() {
				return a.LikeCount() > b.LikeCount()
			}
		case SortComments:
			if a.CommentsCount != b.CommentsCount {
				return a.CommentsCount > b.CommentsCount
			}
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// CommentSortKey selects the order of a secret's comments.
type CommentSortKey string

const (
	CommentsRecent CommentSortKey = "recent"
	CommentsLikes  CommentSortKey = "likes"
)

func ParseCommentSortKey(s string) (CommentSortKey, error) {
	switch k := CommentSortKey(strings.ToLower(strings.TrimSpace(s))); k {
	case CommentsRecent, CommentsLikes:
		return k, nil
	case "":
		return CommentsRecent, nil
	default:
		return "", fmt.Errorf("unknown comment sort key %q", s)
	}
}

// OrderComments orders comments in place, descending by key.
func OrderComments(comments []models.Comment, key CommentSortKey) {
	sort.SliceStable(comments, func(i, j int) bool {
		a, b := comments[i], comments[j]
		if key == CommentsLikes && a.Likes != b.Likes {
			return a.Likes > b.Likes
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}
