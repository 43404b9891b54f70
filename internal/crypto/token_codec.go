// Package crypto provides encryption utilities for the collaboration service.
package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// ErrTokenDecode is returned for every decode failure. Callers must treat all
// failures identically; the underlying cause is logged server-side only, never
// surfaced, so malformed input cannot be used to probe the encryption scheme.
var ErrTokenDecode = errors.New("token decode failed")

// TokenPayload is the session descriptor carried inside a collaboration token.
type TokenPayload struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	CreatedAt int64  `json:"created_at"`
}

// TokenCodec encrypts and decrypts collaboration tokens using AES-256-CBC.
// The raw token is IV (16 bytes) followed by the ciphertext, base64 encoded
// for transport in JSON frames.
type TokenCodec struct {
	key []byte
}

// NewTokenCodec creates a codec from raw key bytes.
func NewTokenCodec(key []byte) (*TokenCodec, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("token key must be 32 bytes, got %d", len(key))
	}
	return &TokenCodec{key: key}, nil
}

// NewTokenCodecFromHex creates a codec from a hex-encoded 32-byte key.
func NewTokenCodecFromHex(hexKey string) (*TokenCodec, error) {
	key, err := hex.DecodeString(strings.TrimSpace(hexKey))
	if err != nil {
		return nil, fmt.Errorf("token key must be hex-encoded: %w", err)
	}
	return NewTokenCodec(key)
}

// Generate builds a token for the given session and user. A fresh random IV
// is used for every call, so tokens are never repeated even for identical
// inputs.
func (c *TokenCodec) Generate(sessionID, userID string) (string, error) {
	payload := TokenPayload{
		SessionID: sessionID,
		UserID:    userID,
		CreatedAt: time.Now().Unix(),
	}

	plaintext, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to serialize token payload: %w", err)
	}

	return c.encryptJSON(plaintext)
}

// encryptJSON encrypts an already-serialized payload into token form.
func (c *TokenCodec) encryptJSON(plaintext []byte) (string, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("failed to generate IV: %w", err)
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	return base64.StdEncoding.EncodeToString(append(iv, ciphertext...)), nil
}

// Decode recovers the payload from a token. Any malformed input (bad base64,
// wrong key, corrupt padding, invalid JSON, missing fields) yields
// ErrTokenDecode.
func (c *TokenCodec) Decode(token string) (*TokenPayload, error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, ErrTokenDecode
	}
	if len(raw) < aes.BlockSize*2 || len(raw)%aes.BlockSize != 0 {
		return nil, ErrTokenDecode
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, ErrTokenDecode
	}

	iv, ciphertext := raw[:aes.BlockSize], raw[aes.BlockSize:]
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	plaintext, err = pkcs7Unpad(plaintext, aes.BlockSize)
	if err != nil {
		return nil, ErrTokenDecode
	}

	var payload TokenPayload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return nil, ErrTokenDecode
	}
	if payload.SessionID == "" || payload.UserID == "" {
		return nil, ErrTokenDecode
	}

	return &payload, nil
}

// pkcs7Pad appends PKCS#7 padding up to the block size.
func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(n)}, n)...)
}

// pkcs7Unpad removes and validates PKCS#7 padding.
func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, errors.New("invalid padded length")
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, errors.New("invalid padding")
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, errors.New("invalid padding")
		}
	}
	return data[:len(data)-n], nil
}
