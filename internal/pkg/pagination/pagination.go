package pagination

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/confesso/core/internal/pkg/response"
)

const (
	DefaultPage = 1
	DefaultSize = 20
	MaxSize     = 100
)

// Query holds parsed pagination parameters.
type Query struct {
	Page int
	Size int
}

// FromContext extracts and validates pagination params from the request.
func FromContext(c *gin.Context) Query {
	return Normalize(
		parseIntOr(c.DefaultQuery("page", "1"), DefaultPage),
		parseIntOr(c.DefaultQuery("size", strconv.Itoa(DefaultSize)), DefaultSize),
	)
}

// Normalize clamps page and size to valid values.
func Normalize(page, size int) Query {
	if page < 1 {
		page = DefaultPage
	}
	if size < 1 {
		size = DefaultSize
	}
	if size > MaxSize {
		size = MaxSize
	}
	return Query{Page: page, Size: size}
}

// Slice returns the requested page of items with its pagination metadata.
func Slice[T any](items []T, q Query) ([]T, response.Pagination) {
	total := len(items)
	totalPage := (total + q.Size - 1) / q.Size

	start := (q.Page - 1) * q.Size
	if start > total {
		start = total
	}
	end := start + q.Size
	if end > total {
		end = total
	}

	return items[start:end], response.Pagination{
		Total:       int64(total),
		CurrentPage: q.Page,
		TotalPage:   totalPage,
		Size:        q.Size,
		HasNextPage: q.Page < totalPage,
	}
}

func parseIntOr(s string, def int) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
