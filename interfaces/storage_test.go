package interfaces

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBackendLocation(t *testing.T) {
	loc, err := ParseBackendLocation("S3://AKID:secret@bucket/prefix?region=eu-west-1&tls=yes&timeout=5s")
	require.NoError(t, err)

	assert.Equal(t, "s3", loc.Scheme)
	assert.Equal(t, "bucket", loc.Host)
	assert.Equal(t, "/prefix", loc.Path)

	user, secret := loc.Credentials()
	assert.Equal(t, "AKID", user)
	assert.Equal(t, "secret", secret)

	assert.Equal(t, "eu-west-1", loc.Param("region", "us-east-1"))
	assert.Equal(t, "fallback", loc.Param("endpoint", "fallback"))
	assert.True(t, loc.Flag("tls"))
	assert.False(t, loc.Flag("missing"))

	d, err := loc.Duration("timeout", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, d)

	d, err = loc.Duration("missing", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, d)
}

func TestParseBackendLocationErrors(t *testing.T) {
	_, err := ParseBackendLocation("github://owner/repo")
	assert.ErrorIs(t, err, ErrInvalidLocationURI)

	_, err = ParseBackendLocation("file://%zz")
	assert.ErrorIs(t, err, ErrInvalidLocationURI)

	loc, err := ParseBackendLocation("ipfs://localhost?timeout=soon")
	require.NoError(t, err)
	_, err = loc.Duration("timeout", time.Second)
	assert.ErrorIs(t, err, ErrInvalidLocationURI)

	user, secret := loc.Credentials()
	assert.Empty(t, user)
	assert.Empty(t, secret)
}
