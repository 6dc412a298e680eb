// Package model defines the persisted entities of the release-distribution
// metadata store. All timestamps are Unix milliseconds so they round-trip
// exactly through the canonical JSON serialization.
package model

// Account is a registered user of the service. Email is the natural
// external key; ID is internal and stable.
type Account struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	Name        string `json:"name,omitempty"`
	CreatedTime int64  `json:"createdTime"`

	// AccessKeyID points at one of the account's access keys for legacy
	// single-key flows. It may be empty and may lag behind key removal.
	AccessKeyID string `json:"accessKeyId,omitempty"`
}
