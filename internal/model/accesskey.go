package model

// AccessKey is an API bearer credential held by an account. Name is the
// secret material itself and doubles as the storage key; it is unique
// system-wide. Expires is Unix milliseconds; zero means the key never
// expires.
type AccessKey struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	AccountID    string `json:"accountId"`
	FriendlyName string `json:"friendlyName,omitempty"`
	Description  string `json:"description,omitempty"`
	CreatedBy    string `json:"createdBy,omitempty"`
	CreatedTime  int64  `json:"createdTime"`
	Expires      int64  `json:"expires,omitempty"`
}

// ExpiredAt reports whether the key is past its expiry at the given Unix
// millisecond timestamp.
func (k *AccessKey) ExpiredAt(nowMillis int64) bool {
	return k.Expires > 0 && nowMillis >= k.Expires
}
