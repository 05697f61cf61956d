package security

import (
	"context"
	"testing"
	"time"

	apperrors "plural-api/internal/shared/errors"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key"

func signToken(t *testing.T, method jwt.SigningMethod, key interface{}, claims jwt.Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func TestNewJWTAuthenticator_RequiresSecret(t *testing.T) {
	_, err := NewJWTAuthenticator("", "")
	assert.Error(t, err)
}

func TestJWTAuthenticator_Authenticate(t *testing.T) {
	auth, err := NewJWTAuthenticator(testSecret, "")
	require.NoError(t, err)
	ctx := context.Background()
	future := jwt.NewNumericDate(time.Now().Add(time.Hour))

	tests := []struct {
		name    string
		token   string
		userID  string
		wantErr error
	}{
		{
			name:   "uid claim",
			token:  signToken(t, jwt.SigningMethodHS256, []byte(testSecret), &Claims{UserID: "A", RegisteredClaims: jwt.RegisteredClaims{Subject: "ignored", ExpiresAt: future}}),
			userID: "A",
		},
		{
			name:   "subject fallback",
			token:  signToken(t, jwt.SigningMethodHS256, []byte(testSecret), &Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "B", ExpiresAt: future}}),
			userID: "B",
		},
		{
			name:    "no user",
			token:   signToken(t, jwt.SigningMethodHS256, []byte(testSecret), &Claims{RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: future}}),
			wantErr: apperrors.ErrInvalidToken,
		},
		{
			name:    "expired",
			token:   signToken(t, jwt.SigningMethodHS256, []byte(testSecret), &Claims{UserID: "A", RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute))}}),
			wantErr: apperrors.ErrTokenExpired,
		},
		{
			name:    "wrong key",
			token:   signToken(t, jwt.SigningMethodHS256, []byte("other"), &Claims{UserID: "A"}),
			wantErr: apperrors.ErrInvalidToken,
		},
		{
			name:    "wrong algorithm",
			token:   signToken(t, jwt.SigningMethodHS512, []byte(testSecret), &Claims{UserID: "A"}),
			wantErr: apperrors.ErrInvalidToken,
		},
		{name: "empty", token: "", wantErr: apperrors.ErrInvalidToken},
		{name: "garbage", token: "not.a.jwt", wantErr: apperrors.ErrInvalidToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			uid, err := auth.Authenticate(ctx, tt.token)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.True(t, apperrors.IsAuthentication(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.userID, uid)
		})
	}
}

func TestJWTAuthenticator_Issuer(t *testing.T) {
	auth, err := NewJWTAuthenticator(testSecret, "plural")
	require.NoError(t, err)

	good := signToken(t, jwt.SigningMethodHS256, []byte(testSecret), &Claims{UserID: "A", RegisteredClaims: jwt.RegisteredClaims{Issuer: "plural"}})
	bad := signToken(t, jwt.SigningMethodHS256, []byte(testSecret), &Claims{UserID: "A", RegisteredClaims: jwt.RegisteredClaims{Issuer: "someone-else"}})

	uid, err := auth.Authenticate(context.Background(), good)
	require.NoError(t, err)
	assert.Equal(t, "A", uid)

	_, err = auth.Authenticate(context.Background(), bad)
	assert.ErrorIs(t, err, apperrors.ErrInvalidToken)
}
