package cache

import (
	"crypto/rand"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proxywhirl/proxywhirl/internal/core/domain"
)

func TestCodec_SealOpenRoundTrip(t *testing.T) {
	codec, err := NewCodec("a-passphrase-key", "")
	require.NoError(t, err)

	cred := domain.NewCredential("alice", "s3cr3t!pass")
	sealed, err := codec.Seal(cred)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(sealed, "v1:"), "sealed blob should be versioned")
	assert.NotContains(t, sealed, "alice")
	assert.NotContains(t, sealed, "s3cr3t!pass")

	opened, err := codec.Open(sealed)
	require.NoError(t, err)
	require.NotNil(t, opened)
	assert.Equal(t, "alice", opened.Username())
	assert.Equal(t, "s3cr3t!pass", opened.Password())
}

func TestCodec_SealIsNonDeterministic(t *testing.T) {
	codec, err := NewCodec("a-passphrase-key", "")
	require.NoError(t, err)

	cred := domain.NewCredential("bob", "hunter2")
	first, err := codec.Seal(cred)
	require.NoError(t, err)
	second, err := codec.Seal(cred)
	require.NoError(t, err)

	assert.NotEqual(t, first, second, "fresh nonce per seal")
}

func TestCodec_Base64Key(t *testing.T) {
	raw := make([]byte, 32)
	_, err := rand.Read(raw)
	require.NoError(t, err)

	codec, err := NewCodec(base64.StdEncoding.EncodeToString(raw), "")
	require.NoError(t, err)

	sealed, err := codec.Seal(domain.NewCredential("u", "p"))
	require.NoError(t, err)
	opened, err := codec.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "p", opened.Password())
}

func TestCodec_KeyRotation(t *testing.T) {
	oldCodec, err := NewCodec("old-key", "")
	require.NoError(t, err)
	sealed, err := oldCodec.Seal(domain.NewCredential("carol", "rotating"))
	require.NoError(t, err)

	// New key alone cannot open the old blob.
	newOnly, err := NewCodec("new-key", "")
	require.NoError(t, err)
	_, err = newOnly.Open(sealed)
	require.Error(t, err)

	// With the old key as previous, the blob opens and a re-seal uses the
	// new key.
	rotated, err := NewCodec("new-key", "old-key")
	require.NoError(t, err)
	opened, err := rotated.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "carol", opened.Username())

	resealed, err := rotated.Seal(opened)
	require.NoError(t, err)
	_, err = newOnly.Open(resealed)
	assert.NoError(t, err, "re-sealed blob must open with the current key alone")
}

func TestCodec_NilCodec(t *testing.T) {
	var codec *Codec

	sealed, err := codec.Seal(nil)
	require.NoError(t, err)
	assert.Empty(t, sealed)

	_, err = codec.Seal(domain.NewCredential("u", "p"))
	assert.ErrorIs(t, err, errNoKey)

	opened, err := codec.Open("")
	require.NoError(t, err)
	assert.Nil(t, opened)
}

func TestCodec_RejectsGarbage(t *testing.T) {
	codec, err := NewCodec("some-key", "")
	require.NoError(t, err)

	_, err = codec.Open("not-a-sealed-blob")
	assert.Error(t, err)
	_, err = codec.Open("v1:%%%not-base64%%%")
	assert.Error(t, err)
	_, err = codec.Open("v1:" + base64.RawURLEncoding.EncodeToString([]byte("short")))
	assert.Error(t, err)
}

func TestNewCodecFromEnv(t *testing.T) {
	t.Setenv(EnvCacheKey, "")
	codec, err := NewCodecFromEnv()
	require.NoError(t, err)
	assert.Nil(t, codec, "no key means no codec, not an error")

	t.Setenv(EnvCacheKey, "env-key")
	t.Setenv(EnvCacheKeyPrevious, "prior-key")
	codec, err = NewCodecFromEnv()
	require.NoError(t, err)
	require.NotNil(t, codec)
	assert.NotNil(t, codec.previous)
}
