package models

// Report flags a secret for moderation.
type Report struct {
	Base     `bson:",inline"`
	SecretID string `json:"secretId"           bson:"secretId"`
	Reason   string `json:"reason"             bson:"reason"`
	DeviceID string `json:"deviceId,omitempty" bson:"deviceId,omitempty"`
}
