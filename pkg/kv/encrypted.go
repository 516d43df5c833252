package kv

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
)

// KeySize is the required AES-256 key length
const KeySize = 32

// ErrCorrupt is returned when a stored value cannot be decrypted
var ErrCorrupt = errors.New("kv: stored value is corrupt")

// Encrypted wraps a Store and encrypts every value with AES-256-CBC.
// Each write uses a fresh random IV; the stored form is
// base64(iv || ciphertext) with PKCS#7 padding.
type Encrypted struct {
	inner Store
	block cipher.Block
}

// NewEncrypted wraps inner with a 32-byte key
func NewEncrypted(inner Store, key []byte) (*Encrypted, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return &Encrypted{inner: inner, block: block}, nil
}

func (e *Encrypted) Get(ctx context.Context, key string) (string, error) {
	stored, err := e.inner.Get(ctx, key)
	if err != nil {
		return "", err
	}
	plain, err := e.decrypt(stored)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt %s: %w", key, err)
	}
	return plain, nil
}

func (e *Encrypted) Set(ctx context.Context, key, value string) error {
	sealed, err := e.encrypt(value)
	if err != nil {
		return fmt.Errorf("failed to encrypt %s: %w", key, err)
	}
	return e.inner.Set(ctx, key, sealed)
}

func (e *Encrypted) Del(ctx context.Context, key string) error {
	return e.inner.Del(ctx, key)
}

func (e *Encrypted) encrypt(plain string) (string, error) {
	padded := pad([]byte(plain), aes.BlockSize)

	out := make([]byte, aes.BlockSize+len(padded))
	iv := out[:aes.BlockSize]
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("failed to generate iv: %w", err)
	}

	cipher.NewCBCEncrypter(e.block, iv).CryptBlocks(out[aes.BlockSize:], padded)
	return base64.StdEncoding.EncodeToString(out), nil
}

func (e *Encrypted) decrypt(stored string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(stored)
	if err != nil {
		return "", ErrCorrupt
	}
	if len(raw) < 2*aes.BlockSize || len(raw)%aes.BlockSize != 0 {
		return "", ErrCorrupt
	}

	iv, body := raw[:aes.BlockSize], raw[aes.BlockSize:]
	plain := make([]byte, len(body))
	cipher.NewCBCDecrypter(e.block, iv).CryptBlocks(plain, body)

	unpadded, err := unpad(plain, aes.BlockSize)
	if err != nil {
		return "", err
	}
	return string(unpadded), nil
}

func pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(b []byte, size int) ([]byte, error) {
	if len(b) == 0 {
		return nil, ErrCorrupt
	}
	n := int(b[len(b)-1])
	if n == 0 || n > size || n > len(b) {
		return nil, ErrCorrupt
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, ErrCorrupt
		}
	}
	return b[:len(b)-n], nil
}
