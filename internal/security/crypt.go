// Package security seals Shopify access tokens before they are written to
// DynamoDB.
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

var (
	ErrKeySize    = errors.New("token key must decode to 32 bytes")
	ErrCiphertext = errors.New("malformed sealed token")
)

// TokenCipher is AES-256-GCM keyed from TOKEN_ENC_KEY_B64. The shop domain is
// bound as additional data, so a token copied onto another shop's record does
// not open.
type TokenCipher struct {
	aead cipher.AEAD
}

func NewTokenCipher(keyB64 string) (*TokenCipher, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(keyB64))
	if err != nil {
		return nil, fmt.Errorf("decode token key: %w", err)
	}
	if len(key) != 32 {
		return nil, ErrKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &TokenCipher{aead: aead}, nil
}

// Seal returns base64url(nonce|ciphertext).
func (c *TokenCipher) Seal(shop, token string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	out := c.aead.Seal(nonce, nonce, []byte(token), []byte(shop))
	return base64.RawURLEncoding.EncodeToString(out), nil
}

func (c *TokenCipher) Open(shop, sealed string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(sealed))
	if err != nil {
		return "", ErrCiphertext
	}
	ns := c.aead.NonceSize()
	if len(raw) <= ns {
		return "", ErrCiphertext
	}
	pt, err := c.aead.Open(nil, raw[:ns], raw[ns:], []byte(shop))
	if err != nil {
		return "", fmt.Errorf("open token for %s: %w", shop, err)
	}
	return string(pt), nil
}
