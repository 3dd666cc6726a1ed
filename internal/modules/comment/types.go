package comment

import "errors"

var (
	ErrEmptyText      = errors.New("comment text is empty")
	ErrTextTooLong    = errors.New("comment text is too long")
	ErrSecretNotFound = errors.New("secret not found")
	ErrNotFound       = errors.New("comment not found")
)

type CreateCommentDTO struct {
	Text string `json:"text"`
}
