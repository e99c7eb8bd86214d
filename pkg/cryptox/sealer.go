package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/hkdf"
)

// sealerInfo binds derived keys to this use. Changing it invalidates every
// sealed value, so it is versioned.
const sealerInfo = "sessionkit/keychain/v1"

var (
	ErrEmptyMasterKey     = errors.New("cryptox: empty master key")
	ErrCiphertextTooShort = errors.New("cryptox: ciphertext too short")
)

// Sealer encrypts small values with AES-256-GCM.
// The output format is: [12-byte nonce][encrypted data][16-byte auth tag]
//
// The AES key is derived from a master secret with HKDF-SHA256 and kept in a
// memguard enclave; it is only decrypted into locked memory for the duration
// of a single Seal or Open.
type Sealer struct {
	key *memguard.Enclave
}

// NewSealer derives a sealing key from master. salt may be nil.
func NewSealer(master, salt []byte) (*Sealer, error) {
	if len(master) == 0 {
		return nil, ErrEmptyMasterKey
	}

	derived := make([]byte, 32)
	kdf := hkdf.New(sha256.New, master, salt, []byte(sealerInfo))
	if _, err := io.ReadFull(kdf, derived); err != nil {
		return nil, fmt.Errorf("failed to derive sealing key: %w", err)
	}

	// NewEnclave wipes derived once it has been copied in.
	return &Sealer{key: memguard.NewEnclave(derived)}, nil
}

// LoadMasterKey reads master key material from path if set, otherwise uses
// value. Surrounding whitespace in the file is ignored so keys written with
// a trailing newline still match.
func LoadMasterKey(path, value string) ([]byte, error) {
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read master key file: %w", err)
		}
		trimmed := strings.TrimSpace(string(data))
		if trimmed == "" {
			return nil, ErrEmptyMasterKey
		}
		return []byte(trimmed), nil
	}

	if value == "" {
		return nil, ErrEmptyMasterKey
	}
	return []byte(value), nil
}

// Seal encrypts plaintext. aad is authenticated but not encrypted; callers
// pass the storage location so a sealed value cannot be replayed under a
// different name.
func (s *Sealer) Seal(plaintext, aad []byte) ([]byte, error) {
	gcm, release, err := s.gcm()
	if err != nil {
		return nil, err
	}
	defer release()

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	// gcm.Seal appends the ciphertext and auth tag to nonce
	return gcm.Seal(nonce, nonce, plaintext, aad), nil
}

// Open decrypts data produced by Seal with the same aad.
func (s *Sealer) Open(sealed, aad []byte) ([]byte, error) {
	gcm, release, err := s.gcm()
	if err != nil {
		return nil, err
	}
	defer release()

	nonceSize := gcm.NonceSize()
	if len(sealed) < nonceSize {
		return nil, ErrCiphertextTooShort
	}

	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("decryption failed: %w", err)
	}

	return plaintext, nil
}

func (s *Sealer) gcm() (cipher.AEAD, func(), error) {
	buf, err := s.key.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open sealing key: %w", err)
	}

	block, err := aes.NewCipher(buf.Bytes())
	if err != nil {
		buf.Destroy()
		return nil, nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		buf.Destroy()
		return nil, nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return gcm, buf.Destroy, nil
}
