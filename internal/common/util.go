package common

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// MakeRandHexString generates a random hexadecimal string from size random
// bytes. The resulting string is twice as long as size, since each byte
// expands to two hex characters. Deployment keys and access-key secrets are
// produced this way.
func MakeRandHexString(size int) (string, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// NowMillis returns the current wall-clock time as Unix milliseconds, the
// timestamp representation used by every stored record.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
