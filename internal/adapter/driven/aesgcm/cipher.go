// Package aesgcm seals vault values with AES-256-GCM using per-owner keys
// derived from a single master key.
package aesgcm

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/crypto/hkdf"

	"github.com/ericfisherdev/keyfetch/internal/domain/model"
	"github.com/ericfisherdev/keyfetch/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.Cipher = (*Cipher)(nil)

// KeySize is the required master key length in bytes.
const KeySize = 32

const (
	defaultCacheSize = 256
	infoPrefix       = "keyfetch/vault/v1/"
)

// Cipher implements driven.Cipher. Each owner gets an AES-256 key derived
// with HKDF-SHA256 from the master key, and the owner id is bound as GCM
// additional data.
type Cipher struct {
	master []byte
	aeads  *lru.Cache[string, cipher.AEAD]
}

// New creates a Cipher. A nil master key yields a Cipher whose operations
// all return driven.ErrEncryptionKeyNotSet.
func New(master []byte) (*Cipher, error) {
	if master != nil && len(master) != KeySize {
		return nil, fmt.Errorf("master key must be %d bytes, got %d", KeySize, len(master))
	}

	cache, err := lru.New[string, cipher.AEAD](defaultCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create key cache: %w", err)
	}
	return &Cipher{master: master, aeads: cache}, nil
}

// ParseKey decodes a master key given as 64 hex characters or as standard
// base64 of 32 bytes. An empty string returns nil, nil.
func ParseKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	if len(s) == hex.EncodedLen(KeySize) {
		if key, err := hex.DecodeString(s); err == nil {
			return key, nil
		}
	}
	if key, err := base64.StdEncoding.DecodeString(s); err == nil && len(key) == KeySize {
		return key, nil
	}
	return nil, errors.New("secret key must be 64 hex characters or base64 of 32 bytes")
}

// GenerateKey returns a fresh random master key, hex encoded.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return hex.EncodeToString(key), nil
}

// Seal encrypts plaintext for ownerID with a fresh random nonce.
func (c *Cipher) Seal(ownerID string, plaintext []byte) (model.EncryptedValue, error) {
	gcm, err := c.aead(ownerID)
	if err != nil {
		return model.EncryptedValue{}, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return model.EncryptedValue{}, fmt.Errorf("generate nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, plaintext, []byte(ownerID))
	split := len(sealed) - gcm.Overhead()
	return model.EncryptedValue{
		Nonce:      nonce,
		Ciphertext: sealed[:split],
		Tag:        sealed[split:],
	}, nil
}

// Open decrypts a value sealed for ownerID.
func (c *Cipher) Open(ownerID string, value model.EncryptedValue) ([]byte, error) {
	gcm, err := c.aead(ownerID)
	if err != nil {
		return nil, err
	}

	if len(value.Nonce) != gcm.NonceSize() || len(value.Tag) != gcm.Overhead() {
		return nil, fmt.Errorf("malformed sealed value: %w", model.ErrDecryption)
	}

	sealed := make([]byte, 0, len(value.Ciphertext)+len(value.Tag))
	sealed = append(sealed, value.Ciphertext...)
	sealed = append(sealed, value.Tag...)

	plaintext, err := gcm.Open(nil, value.Nonce, sealed, []byte(ownerID))
	if err != nil {
		return nil, fmt.Errorf("open sealed value: %w", model.ErrDecryption)
	}
	return plaintext, nil
}

func (c *Cipher) aead(ownerID string) (cipher.AEAD, error) {
	if c.master == nil {
		return nil, driven.ErrEncryptionKeyNotSet
	}
	if gcm, ok := c.aeads.Get(ownerID); ok {
		return gcm, nil
	}

	key := make([]byte, KeySize)
	kdf := hkdf.New(sha256.New, c.master, nil, []byte(infoPrefix+ownerID))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("derive owner key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	c.aeads.Add(ownerID, gcm)
	return gcm, nil
}
