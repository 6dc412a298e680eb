// Package blob derives storage keys and download URLs for released
// bundles. It only addresses blobs; the byte transfer itself belongs to
// the object-store collaborator behind the Store interface.
package blob

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ResolveKey derives the stable storage key for a bundle from the app
// name, deployment name and blob id. The mapping is pure and
// deterministic; path separators in names are flattened so a crafted name
// cannot escape its prefix.
func ResolveKey(appName, deploymentName, blobID string) string {
	return fmt.Sprintf("apps/%s/%s/%s", sanitize(appName), sanitize(deploymentName), sanitize(blobID))
}

func sanitize(segment string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", "..", "_")
	return r.Replace(segment)
}

// Resolver turns storage keys into client-facing download URLs. When a
// signing secret is configured, each URL carries an HS256 token binding
// the key and an expiry, so the download endpoint can reject guessed or
// stale links.
type Resolver struct {
	host     string
	secret   []byte
	validity time.Duration
	now      func() time.Time
}

// NewResolver builds a Resolver. An empty secret disables URL signing.
func NewResolver(host, secret string, validity time.Duration) *Resolver {
	var key []byte
	if secret != "" {
		key = []byte(secret)
	}
	return &Resolver{
		host:     strings.TrimRight(host, "/"),
		secret:   key,
		validity: validity,
		now:      time.Now,
	}
}

// ResolveURL renders a download URL for a storage key. withHost prefixes
// the configured host, producing an absolute URL; otherwise the path is
// relative, for callers that serve from the same origin.
func (r *Resolver) ResolveURL(storageKey string, withHost bool) (string, error) {
	path := "/storage/" + storageKey

	if r.secret != nil {
		token, err := r.signKey(storageKey)
		if err != nil {
			return "", fmt.Errorf("sign download url: %w", err)
		}
		path += "?token=" + token
	}

	if withHost {
		return r.host + path, nil
	}
	return path, nil
}

func (r *Resolver) signKey(storageKey string) (string, error) {
	now := r.now()
	claims := jwt.MapClaims{
		"key": storageKey,
		"iat": now.Unix(),
		"exp": now.Add(r.validity).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(r.secret)
}

// VerifyToken checks a download token and returns the storage key it was
// bound to. Used by the download endpoint before streaming bytes.
func (r *Resolver) VerifyToken(token string) (string, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return r.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithTimeFunc(r.now))
	if err != nil {
		return "", err
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("unexpected claims type")
	}
	key, _ := claims["key"].(string)
	if key == "" {
		return "", fmt.Errorf("token has no storage key")
	}
	return key, nil
}
