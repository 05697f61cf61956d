package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	apperrors "plural-api/internal/shared/errors"

	"golang.org/x/crypto/hkdf"
)

const chatKeyInfo = "plural-api chat messages v1"

// ChatCipher encrypts chat message bodies with AES-256-GCM. Ciphertext and
// nonce travel as hex strings.
type ChatCipher struct {
	aead cipher.AEAD
}

// NewChatCipher derives the message key from secret.
func NewChatCipher(secret string) (*ChatCipher, error) {
	if secret == "" {
		return nil, errors.New("chat encryption secret cannot be empty")
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(chatKeyInfo)), key); err != nil {
		return nil, fmt.Errorf("derive chat key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &ChatCipher{aead: aead}, nil
}

// Encrypt returns hex ciphertext and hex iv for plaintext.
func (c *ChatCipher) Encrypt(plaintext string) (string, string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", "", err
	}
	sealed := c.aead.Seal(nil, nonce, []byte(plaintext), nil)
	return hex.EncodeToString(sealed), hex.EncodeToString(nonce), nil
}

// Decrypt implements repository.Decryptor.
func (c *ChatCipher) Decrypt(ciphertext, iv string) (string, error) {
	sealed, err := hex.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperrors.ErrInvalidCiphertext, err)
	}
	nonce, err := hex.DecodeString(iv)
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperrors.ErrInvalidCiphertext, err)
	}
	if len(nonce) != c.aead.NonceSize() {
		return "", fmt.Errorf("%w: iv must be %d bytes", apperrors.ErrInvalidCiphertext, c.aead.NonceSize())
	}

	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperrors.ErrInvalidCiphertext, err)
	}
	return string(plaintext), nil
}
