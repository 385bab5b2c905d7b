// Package crypto implements authenticated encryption of message bodies:
// AES-256-GCM under a key derived from the master secret with
// PBKDF2-HMAC-SHA256. Each call samples a fresh salt and nonce, so two
// encryptions of the same plaintext never produce the same ciphertext.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// NonceSize is 96 bits, the GCM standard nonce length.
	NonceSize = 12
	// KeySize selects AES-256.
	KeySize = 32
	// SaltSize is the per-message key-derivation salt length.
	SaltSize = 16
	// TagSize is the GCM authentication tag length.
	TagSize = 16
	// Iterations is the PBKDF2 work factor.
	Iterations = 100_000
)

// ErrAuthFailed is returned when GCM authentication fails on decrypt.
var ErrAuthFailed = errors.New("crypto: message authentication failed")

// ErrMalformed is returned when an input is not decodable ciphertext.
var ErrMalformed = errors.New("crypto: malformed ciphertext input")

// Sealed is the output of Encrypt. All fields are base64 (std encoding).
// Ciphertext carries the key-derivation salt in its first SaltSize bytes.
type Sealed struct {
	Ciphertext string `json:"ciphertext"`
	Nonce      string `json:"nonce"`
	Tag        string `json:"tag"`
}

// EncodeSealed serializes a triple into the single-string form carried
// through the queue.
func EncodeSealed(s *Sealed) (string, error) {
	blob, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("crypto: encode sealed: %w", err)
	}
	return string(blob), nil
}

// DecodeSealed parses the single-string form back into a triple.
func DecodeSealed(blob string) (*Sealed, error) {
	var s Sealed
	if err := json.Unmarshal([]byte(blob), &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return &s, nil
}

// Engine derives per-message keys from a master secret and runs AES-256-GCM.
type Engine struct {
	masterKey []byte
	logger    *slog.Logger
}

// NewEngine creates an Engine bound to the given master secret.
func NewEngine(masterKey string) (*Engine, error) {
	if masterKey == "" {
		return nil, errors.New("crypto: master key must not be empty")
	}
	return &Engine{
		masterKey: []byte(masterKey),
		logger:    slog.Default().With("component", "crypto"),
	}, nil
}

// deriveKey runs PBKDF2-HMAC-SHA256 over the master secret and salt.
func (e *Engine) deriveKey(salt []byte) []byte {
	return pbkdf2.Key(e.masterKey, salt, Iterations, KeySize, sha256.New)
}

// Encrypt seals plaintext under a freshly derived key.
func (e *Engine) Encrypt(plaintext []byte) (*Sealed, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("crypto: sample salt: %w", err)
	}
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("crypto: sample nonce: %w", err)
	}

	gcm, err := e.newGCM(salt)
	if err != nil {
		return nil, err
	}

	sealed := gcm.Seal(nil, nonce, plaintext, nil)

	// GCM appends the tag; the wire format keeps it separate and
	// prepends the salt to the ciphertext bytes instead.
	ct := sealed[:len(sealed)-TagSize]
	tag := sealed[len(sealed)-TagSize:]

	return &Sealed{
		Ciphertext: base64.StdEncoding.EncodeToString(append(salt, ct...)),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Tag:        base64.StdEncoding.EncodeToString(tag),
	}, nil
}

// Decrypt opens a Sealed triple. The salt is recovered from the first
// SaltSize bytes of the decoded ciphertext. Any authentication failure
// surfaces as ErrAuthFailed.
func (e *Engine) Decrypt(ciphertextB64, nonceB64, tagB64 string) ([]byte, error) {
	saltedCT, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return nil, fmt.Errorf("%w: ciphertext: %v", ErrMalformed, err)
	}
	nonce, err := base64.StdEncoding.DecodeString(nonceB64)
	if err != nil {
		return nil, fmt.Errorf("%w: nonce: %v", ErrMalformed, err)
	}
	tag, err := base64.StdEncoding.DecodeString(tagB64)
	if err != nil {
		return nil, fmt.Errorf("%w: tag: %v", ErrMalformed, err)
	}
	if len(saltedCT) < SaltSize || len(nonce) != NonceSize {
		return nil, fmt.Errorf("%w: short input", ErrMalformed)
	}

	salt := saltedCT[:SaltSize]
	ct := saltedCT[SaltSize:]

	gcm, err := e.newGCM(salt)
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, nonce, append(ct, tag...), nil)
	if err != nil {
		e.logger.Warn("decryption failed authentication")
		return nil, ErrAuthFailed
	}
	return plaintext, nil
}

// Verify attempts a decrypt and reports whether authentication succeeded.
func (e *Engine) Verify(ciphertextB64, nonceB64, tagB64 string) bool {
	_, err := e.Decrypt(ciphertextB64, nonceB64, tagB64)
	return err == nil
}

func (e *Engine) newGCM(salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(e.deriveKey(salt))
	if err != nil {
		return nil, fmt.Errorf("crypto: aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: gcm: %w", err)
	}
	return gcm, nil
}
