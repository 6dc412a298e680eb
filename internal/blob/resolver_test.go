package blob

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveKey(t *testing.T) {
	key := ResolveKey("Foo", "Production", "abc123")
	assert.Equal(t, "apps/Foo/Production/abc123", key)

	// same inputs, same key
	assert.Equal(t, key, ResolveKey("Foo", "Production", "abc123"))
}

func TestResolveKey_SanitizesSeparators(t *testing.T) {
	key := ResolveKey("Foo/../Bar", "Prod\\uction", "../../etc")
	assert.NotContains(t, key[len("apps/"):], "..")
	assert.Equal(t, "apps/Foo___Bar/Prod_uction/____etc", key)
}

func TestResolveURL_Unsigned(t *testing.T) {
	r := NewResolver("https://cdn.example.com/", "", time.Hour)

	url, err := r.ResolveURL("apps/Foo/Production/abc", false)
	require.NoError(t, err)
	assert.Equal(t, "/storage/apps/Foo/Production/abc", url)

	url, err = r.ResolveURL("apps/Foo/Production/abc", true)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/storage/apps/Foo/Production/abc", url)
}

func TestResolveURL_SignedRoundTrip(t *testing.T) {
	r := NewResolver("https://cdn.example.com", "download-secret", time.Hour)

	url, err := r.ResolveURL("apps/Foo/Production/abc", false)
	require.NoError(t, err)
	require.Contains(t, url, "?token=")

	token := url[len("/storage/apps/Foo/Production/abc?token="):]
	key, err := r.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, "apps/Foo/Production/abc", key)
}

func TestVerifyToken_Expired(t *testing.T) {
	r := NewResolver("https://cdn.example.com", "download-secret", time.Minute)

	issued := time.Now()
	r.now = func() time.Time { return issued }
	url, err := r.ResolveURL("apps/Foo/Production/abc", false)
	require.NoError(t, err)
	token := url[len("/storage/apps/Foo/Production/abc?token="):]

	r.now = func() time.Time { return issued.Add(2 * time.Minute) }
	_, err = r.VerifyToken(token)
	assert.Error(t, err)
}

func TestVerifyToken_WrongSecret(t *testing.T) {
	signer := NewResolver("", "secret-a", time.Hour)
	verifier := NewResolver("", "secret-b", time.Hour)

	url, err := signer.ResolveURL("apps/Foo/Production/abc", false)
	require.NoError(t, err)
	token := url[len("/storage/apps/Foo/Production/abc?token="):]

	_, err = verifier.VerifyToken(token)
	assert.Error(t, err)
}
