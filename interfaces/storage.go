package interfaces

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"
)

var (
	// ErrKeyNotFound is returned when no share of the requested server key is stored.
	ErrKeyNotFound = errors.New("server key not found")

	// ErrKeyAlreadyExists is returned when a share for the server key is already stored.
	ErrKeyAlreadyExists = errors.New("server key already exists")

	// ErrDocumentKeyExists is returned when a document key is already attached to the server key.
	ErrDocumentKeyExists = errors.New("document key already stored")

	// ErrDocumentKeyNotFound is returned when no document key is attached to the server key.
	ErrDocumentKeyNotFound = errors.New("document key not found")

	// ErrBackendUnavailable is returned when a storage backend cannot be reached.
	ErrBackendUnavailable = errors.New("storage backend unavailable")

	// ErrInvalidLocationURI is returned for malformed or unsupported backend URIs.
	ErrInvalidLocationURI = errors.New("invalid storage location URI")
)

// BackendSchemes lists the URI schemes a BackendLocation may use.
var BackendSchemes = []string{"memory", "file", "s3", "vault", "ipfs"}

// BackendLocation is a parsed storage backend URI of the form
// scheme://[user[:secret]@]host[:port][/path][?params].
type BackendLocation struct {
	Scheme string
	Host   string
	Path   string

	raw    string
	user   *url.Userinfo
	params url.Values
}

// ParseBackendLocation parses uri, rejecting schemes outside BackendSchemes.
func ParseBackendLocation(uri string) (BackendLocation, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return BackendLocation{}, fmt.Errorf("%w: %v", ErrInvalidLocationURI, err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if !slices.Contains(BackendSchemes, scheme) {
		return BackendLocation{}, fmt.Errorf("%w: unsupported storage scheme %q", ErrInvalidLocationURI, parsed.Scheme)
	}

	return BackendLocation{
		Scheme: scheme,
		Host:   parsed.Host,
		Path:   parsed.Path,
		raw:    uri,
		user:   parsed.User,
		params: parsed.Query(),
	}, nil
}

func (loc BackendLocation) String() string {
	return loc.raw
}

// Credentials returns the user info embedded in the URI, empty when absent.
func (loc BackendLocation) Credentials() (user, secret string) {
	if loc.user == nil {
		return "", ""
	}
	secret, _ = loc.user.Password()
	return loc.user.Username(), secret
}

// Param returns the query parameter name, or def when it is not set.
func (loc BackendLocation) Param(name, def string) string {
	if v := loc.params.Get(name); v != "" {
		return v
	}
	return def
}

// Flag reports whether the query parameter name is set to a true value.
func (loc BackendLocation) Flag(name string) bool {
	switch strings.ToLower(loc.params.Get(name)) {
	case "true", "1", "yes":
		return true
	default:
		return false
	}
}

// Duration parses the query parameter name as a time.Duration, def when unset.
func (loc BackendLocation) Duration(name string, def time.Duration) (time.Duration, error) {
	raw := loc.params.Get(name)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: parameter %s: %v", ErrInvalidLocationURI, name, err)
	}
	return d, nil
}

// BlobBackend stores opaque blobs under a server key id.
type BlobBackend interface {
	// Fetch retrieves the blob, ErrKeyNotFound if absent.
	Fetch(ctx context.Context, id ServerKeyID) ([]byte, error)

	// Store saves the blob, overwriting any previous value.
	Store(ctx context.Context, id ServerKeyID, data []byte) error

	// Delete removes the blob, ErrKeyNotFound if absent.
	Delete(ctx context.Context, id ServerKeyID) error

	Available(ctx context.Context) bool

	// Name identifies the backend in logs.
	Name() string

	// LocationURI returns the URI the backend was created from, secrets masked.
	LocationURI() string
}

// KeyStorage persists this node's key shares.
type KeyStorage interface {
	Get(ctx context.Context, id ServerKeyID) (*KeyShare, error)
	// Insert stores a new share, ErrKeyAlreadyExists if one is present.
	Insert(ctx context.Context, share *KeyShare) error
	// Update replaces a stored share, ErrKeyNotFound if none is present.
	Update(ctx context.Context, share *KeyShare) error
	Remove(ctx context.Context, id ServerKeyID) error
	Contains(ctx context.Context, id ServerKeyID) (bool, error)
}
