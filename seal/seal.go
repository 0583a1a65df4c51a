// Package seal encrypts snapshot documents with a passphrase before they
// leave the machine. Keys are derived with argon2id; content is sealed with
// XChaCha20-Poly1305.
package seal

import (
	"bytes"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	version   = 1
	saltLen   = 16
	kdfTime   = 1
	kdfMemory = 64 * 1024
	kdfLanes  = 4
)

// ErrWrongPassphrase is returned when authentication of sealed content fails.
var ErrWrongPassphrase = errors.New("seal: wrong passphrase or corrupted content")

// ErrNotSealed is returned by Open for content that is not a sealed envelope.
var ErrNotSealed = errors.New("seal: content is not sealed")

type envelope struct {
	Sealed int    `json:"sealed"`
	KDF    string `json:"kdf"`
	Salt   []byte `json:"salt"`
	Nonce  []byte `json:"nonce"`
	Data   []byte `json:"data"`
}

// Box seals and opens content with one passphrase.
type Box struct {
	passphrase []byte
}

// New creates a Box. An empty passphrase is rejected.
func New(passphrase string) (*Box, error) {
	if passphrase == "" {
		return nil, errors.New("seal: empty passphrase")
	}
	return &Box{passphrase: []byte(passphrase)}, nil
}

// Seal encrypts plaintext into a JSON envelope.
func (b *Box) Seal(plaintext []byte) ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("seal: salt: %w", err)
	}
	aead, err := chacha20poly1305.NewX(b.key(salt))
	if err != nil {
		return nil, fmt.Errorf("seal: cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("seal: nonce: %w", err)
	}
	return json.Marshal(envelope{
		Sealed: version,
		KDF:    "argon2id",
		Salt:   salt,
		Nonce:  nonce,
		Data:   aead.Seal(nil, nonce, plaintext, nil),
	})
}

// Open decrypts an envelope produced by Seal.
func (b *Box) Open(sealed []byte) ([]byte, error) {
	if !IsSealed(sealed) {
		return nil, ErrNotSealed
	}
	var env envelope
	if err := json.Unmarshal(sealed, &env); err != nil {
		return nil, fmt.Errorf("seal: decode envelope: %w", err)
	}
	if env.Sealed != version || env.KDF != "argon2id" {
		return nil, fmt.Errorf("seal: unsupported envelope v%d/%s", env.Sealed, env.KDF)
	}
	aead, err := chacha20poly1305.NewX(b.key(env.Salt))
	if err != nil {
		return nil, fmt.Errorf("seal: cipher: %w", err)
	}
	if len(env.Nonce) != aead.NonceSize() {
		return nil, ErrWrongPassphrase
	}
	plain, err := aead.Open(nil, env.Nonce, env.Data, nil)
	if err != nil {
		return nil, ErrWrongPassphrase
	}
	return plain, nil
}

func (b *Box) key(salt []byte) []byte {
	return argon2.IDKey(b.passphrase, salt, kdfTime, kdfMemory, kdfLanes, chacha20poly1305.KeySize)
}

// IsSealed reports whether content looks like a sealed envelope. Plain
// snapshots are JSON arrays, envelopes are JSON objects.
func IsSealed(content []byte) bool {
	trimmed := bytes.TrimSpace(content)
	return len(trimmed) > 0 && trimmed[0] == '{' && bytes.Contains(trimmed, []byte(`"sealed"`))
}
