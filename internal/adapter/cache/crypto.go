package cache

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/proxywhirl/proxywhirl/internal/core/domain"
)

// Credential sealing keys come from the environment, never from config
// files. The previous key keeps old sealed blobs readable during a
// rotation; sealing always uses the current key.
const (
	EnvCacheKey         = "PROXYWHIRL_CACHE_KEY"
	EnvCacheKeyPrevious = "PROXYWHIRL_CACHE_KEY_PREVIOUS"

	sealPrefix = "v1:"
)

var errNoKey = errors.New("cache: no sealing key configured")

// Codec seals credentials for the persistent tiers with an AEAD. A nil
// Codec is valid and means "no key": sealing reports errNoKey and the
// manager strips credentials before anything leaves the process.
type Codec struct {
	current  aead
	previous aead
}

type aead interface {
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	NonceSize() int
}

// sealedCredential is the plaintext layout inside a sealed blob.
type sealedCredential struct {
	Username string `json:"u"`
	Password string `json:"p"`
}

// NewCodecFromEnv builds a codec from the environment. Returns nil with
// no error when no key is set; that disables persistent credentials
// rather than failing startup.
func NewCodecFromEnv() (*Codec, error) {
	key := os.Getenv(EnvCacheKey)
	if key == "" {
		return nil, nil
	}
	return NewCodec(key, os.Getenv(EnvCacheKeyPrevious))
}

// NewCodec accepts keys either as base64 of exactly 32 bytes or as a
// passphrase, which is stretched to 32 bytes with SHA-256.
func NewCodec(key, previousKey string) (*Codec, error) {
	current, err := newAEAD(key)
	if err != nil {
		return nil, fmt.Errorf("cache key: %w", err)
	}

	codec := &Codec{current: current}
	if previousKey != "" {
		previous, err := newAEAD(previousKey)
		if err != nil {
			return nil, fmt.Errorf("previous cache key: %w", err)
		}
		codec.previous = previous
	}
	return codec, nil
}

func newAEAD(key string) (aead, error) {
	material := keyMaterial(key)
	a, err := chacha20poly1305.NewX(material)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func keyMaterial(key string) []byte {
	if decoded, err := base64.StdEncoding.DecodeString(key); err == nil && len(decoded) == chacha20poly1305.KeySize {
		return decoded
	}
	if decoded, err := base64.RawURLEncoding.DecodeString(key); err == nil && len(decoded) == chacha20poly1305.KeySize {
		return decoded
	}
	sum := sha256.Sum256([]byte(key))
	return sum[:]
}

// Seal encrypts a credential into a text blob safe for JSONL and SQL
// storage. Empty result for a nil credential.
func (c *Codec) Seal(cred *domain.Credential) (string, error) {
	if cred == nil {
		return "", nil
	}
	if c == nil {
		return "", errNoKey
	}

	plaintext, err := json.Marshal(sealedCredential{
		Username: cred.Username(),
		Password: cred.Password(),
	})
	if err != nil {
		return "", err
	}

	nonce := make([]byte, c.current.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	sealed := c.current.Seal(nonce, nonce, plaintext, nil)
	return sealPrefix + base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Open decrypts a sealed blob, trying the current key first and the
// previous key during rotation. Empty input yields a nil credential.
func (c *Codec) Open(sealed string) (*domain.Credential, error) {
	if sealed == "" {
		return nil, nil
	}
	if c == nil {
		return nil, errNoKey
	}

	encoded, ok := strings.CutPrefix(sealed, sealPrefix)
	if !ok {
		return nil, fmt.Errorf("cache: unrecognised sealed credential format")
	}
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("cache: sealed credential is not valid base64: %w", err)
	}
	if len(raw) < c.current.NonceSize() {
		return nil, fmt.Errorf("cache: sealed credential too short")
	}

	nonce, ciphertext := raw[:c.current.NonceSize()], raw[c.current.NonceSize():]

	plaintext, err := c.current.Open(nil, nonce, ciphertext, nil)
	if err != nil && c.previous != nil {
		plaintext, err = c.previous.Open(nil, nonce, ciphertext, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("cache: cannot open sealed credential: %w", err)
	}

	var cred sealedCredential
	if err := json.Unmarshal(plaintext, &cred); err != nil {
		return nil, err
	}
	return domain.NewCredential(cred.Username, cred.Password), nil
}
