// Package encryption seals recoverable PII before it is stored.
package encryption

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/elskow/boardguard/internal/apperr"
	"github.com/elskow/boardguard/internal/config"
)

var (
	ErrEncryptionFailed = errors.New("encryption failed")
	ErrDecryptionFailed = errors.New("decryption failed")
)

// Encryptor is the contract ban records use for PII at rest.
type Encryptor interface {
	Encrypt(plaintext string) ([]byte, error)
	Decrypt(ciphertext []byte) (string, error)
}

// Box is XChaCha20-Poly1305 with the random nonce prepended to the ciphertext.
type Box struct {
	aead cipher.AEAD
}

func NewBox(cfg *config.EncryptionConfig) (*Box, error) {
	key, err := hex.DecodeString(cfg.Key)
	if err != nil || len(key) != chacha20poly1305.KeySize {
		return nil, apperr.Configuration("encryption key must be 32 bytes of hex")
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, apperr.Configuration("encryption key rejected: " + err.Error())
	}
	return &Box{aead: aead}, nil
}

func (b *Box) Encrypt(plaintext string) ([]byte, error) {
	nonce := make([]byte, b.aead.NonceSize(), b.aead.NonceSize()+len(plaintext)+b.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	return b.aead.Seal(nonce, nonce, []byte(plaintext), nil), nil
}

func (b *Box) Decrypt(ciphertext []byte) (string, error) {
	if len(ciphertext) < b.aead.NonceSize()+b.aead.Overhead() {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecryptionFailed)
	}
	nonce, sealed := ciphertext[:b.aead.NonceSize()], ciphertext[b.aead.NonceSize():]
	plain, err := b.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return string(plain), nil
}
