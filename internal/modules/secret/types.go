package secret

import (
	"errors"

	"github.com/confesso/core/internal/models"
	"github.com/confesso/core/internal/pkg/geo"
)

// Admin gateway events.
const (
	EventSecretCreate = "SECRET_CREATE"
	EventSecretDelete = "SECRET_DELETE"
)

var (
	ErrEmptyText        = errors.New("secret text is empty")
	ErrTextTooLong      = errors.New("secret text is too long")
	ErrLocationRequired = errors.New("secret location is required")
	ErrNotFound         = errors.New("secret not found")
)

type CreateSecretDTO struct {
	Text     string          `json:"text"`
	Location *geo.Coordinate `json:"location"`
}

// Stats are the admin dashboard totals.
type Stats struct {
	Secrets  int `json:"secrets"`
	Comments int `json:"comments"`
	Likes    int `json:"likes"`
}

type deletedPayload struct {
	ID string `json:"id"`
}

// Publisher receives admin events. The gateway hub implements it.
type Publisher interface {
	BroadcastAdmin(event string, payload interface{})
}

func totalLikes(secrets []models.Secret) int {
	n := 0
	for _, s := range secrets {
		n += s.LikeCount()
	}
	return n
}
