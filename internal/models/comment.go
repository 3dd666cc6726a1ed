package models

import "github.com/confesso/core/internal/docstore"

// Comment is a reply to a secret, stored in the secret's comments
// subcollection.
type Comment struct {
	Base  `bson:",inline"`
	Text  string `json:"text"  bson:"text"`
	Likes int    `json:"likes" bson:"likes"`
}

// CommentsPath is the subcollection path holding the comments of a secret.
func CommentsPath(secretID string) string {
	return docstore.Path(CollectionSecrets, secretID, CollectionComments)
}
