package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"

	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"
)

// ErrAuthentication reports an AEAD tag that failed to verify: the
// token was tampered with or corrupted. Callers must treat the field
// as unreadable, not retry.
var ErrAuthentication = errors.New("ciphertext authentication failed")

const KeySize = chacha20poly1305.KeySize

// Cipher encrypts short text fields with XChaCha20-Poly1305. The
// scheme is not nonce-misuse-resistant: repeating a nonce under the
// same key breaks both confidentiality and authenticity. Safety rests
// on the 24-byte nonce drawn fresh per call from crypto/rand, which
// makes a repeat negligible at any realistic volume. One Cipher is
// built at startup from the configured key and shared read-only by
// all callers.
//
// No associated data is bound; each field authenticates alone, with
// no cross-field binding. Known limitation.
type Cipher struct {
	aead cipher.AEAD
}

func New(key []byte) (*Cipher, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, errors.Wrap(err, "create aead")
	}
	return &Cipher{aead: aead}, nil
}

// NewFromBase64 builds a Cipher from a base64-encoded 32-byte key,
// the form keys take in configuration.
func NewFromBase64(encoded string) (*Cipher, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, errors.Wrap(err, "decode key")
	}
	if len(key) != KeySize {
		return nil, errors.Errorf("key must be %d bytes, got %d", KeySize, len(key))
	}
	return New(key)
}

// Encrypt returns base64(nonce || ciphertext+tag), safe to store as text.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", errors.Wrap(err, "read nonce")
	}
	token := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(token), nil
}

// Decrypt splits the leading nonce off the decoded token and opens the
// remainder. Tag failures come back as ErrAuthentication.
func (c *Cipher) Decrypt(token string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return "", errors.Wrap(err, "decode token")
	}
	nonceSize := c.aead.NonceSize()
	if len(raw) < nonceSize {
		return "", errors.Wrap(ErrAuthentication, "token shorter than nonce")
	}
	nonce, ciphertext := raw[:nonceSize], raw[nonceSize:]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrAuthentication
	}
	return string(plaintext), nil
}
