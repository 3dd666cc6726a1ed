package models

import (
	"github.com/confesso/core/internal/pkg/geo"
)

// MaxSecretLength is the maximum secret length in characters.
const MaxSecretLength = 600

// Secret is an anonymous confession.
type Secret struct {
	Base      `bson:",inline"`
	Text      string          `json:"text"                bson:"text"`
	Likes     int             `json:"likes"               bson:"likes"`
	Location  *geo.Coordinate `json:"location,omitempty"  bson:"location,omitempty"`
	Estado    string          `json:"estado,omitempty"    bson:"estado,omitempty"`
	Municipio string          `json:"municipio,omitempty" bson:"municipio,omitempty"`
}

// LikeCount is the like counter clamped at zero.
func (s Secret) LikeCount() int {
	if s.Likes < 0 {
		return 0
	}
	return s.Likes
}

// HasLocation reports whether the secret can be placed on the map.
func (s Secret) HasLocation() bool {
	return s.Location != nil && s.Location.Valid()
}
