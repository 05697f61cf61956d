package security

import (
	"testing"

	apperrors "plural-api/internal/shared/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatCipher_RoundTrip(t *testing.T) {
	c, err := NewChatCipher("chat-secret")
	require.NoError(t, err)

	ciphertext, iv, err := c.Encrypt("hello system")
	require.NoError(t, err)
	assert.NotContains(t, ciphertext, "hello")

	plaintext, err := c.Decrypt(ciphertext, iv)
	require.NoError(t, err)
	assert.Equal(t, "hello system", plaintext)
}

func TestChatCipher_DistinctNonces(t *testing.T) {
	c, err := NewChatCipher("chat-secret")
	require.NoError(t, err)

	_, iv1, err := c.Encrypt("same")
	require.NoError(t, err)
	_, iv2, err := c.Encrypt("same")
	require.NoError(t, err)
	assert.NotEqual(t, iv1, iv2)
}

func TestChatCipher_KeyIsDerivedFromSecret(t *testing.T) {
	a, err := NewChatCipher("secret-a")
	require.NoError(t, err)
	b, err := NewChatCipher("secret-b")
	require.NoError(t, err)

	ciphertext, iv, err := a.Encrypt("private")
	require.NoError(t, err)

	_, err = b.Decrypt(ciphertext, iv)
	assert.ErrorIs(t, err, apperrors.ErrInvalidCiphertext)
}

func TestChatCipher_DecryptRejectsMalformedInput(t *testing.T) {
	c, err := NewChatCipher("chat-secret")
	require.NoError(t, err)
	ciphertext, iv, err := c.Encrypt("x")
	require.NoError(t, err)

	tampered := "00" + ciphertext[2:]
	if tampered == ciphertext {
		tampered = "ff" + ciphertext[2:]
	}

	tests := []struct {
		name       string
		ciphertext string
		iv         string
	}{
		{"ciphertext not hex", "zz", iv},
		{"iv not hex", ciphertext, "zz"},
		{"iv wrong length", ciphertext, "abcd"},
		{"tampered", tampered, iv},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Decrypt(tt.ciphertext, tt.iv)
			assert.ErrorIs(t, err, apperrors.ErrInvalidCiphertext)
		})
	}
}

func TestNewChatCipher_RequiresSecret(t *testing.T) {
	_, err := NewChatCipher("")
	assert.Error(t, err)
}
