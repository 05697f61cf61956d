package security

import (
	"context"
	"errors"

	apperrors "plural-api/internal/shared/errors"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the token claims a socket client presents.
type Claims struct {
	UserID string `json:"uid,omitempty"`
	jwt.RegisteredClaims
}

// JWTAuthenticator validates HS256 tokens and resolves the user they belong to.
type JWTAuthenticator struct {
	secretKey []byte
	issuer    string
}

// NewJWTAuthenticator creates a JWTAuthenticator. An empty issuer disables the
// issuer check.
func NewJWTAuthenticator(secretKey, issuer string) (*JWTAuthenticator, error) {
	if secretKey == "" {
		return nil, errors.New("jwt secret key cannot be empty")
	}
	return &JWTAuthenticator{secretKey: []byte(secretKey), issuer: issuer}, nil
}

// Authenticate returns the user id carried by token. The uid claim wins over sub.
func (a *JWTAuthenticator) Authenticate(ctx context.Context, tokenString string) (string, error) {
	if tokenString == "" {
		return "", apperrors.ErrInvalidToken
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return a.secretKey, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", apperrors.ErrTokenExpired
		}
		return "", apperrors.ErrInvalidToken
	}
	if !token.Valid {
		return "", apperrors.ErrInvalidToken
	}

	if claims.UserID != "" {
		return claims.UserID, nil
	}
	if claims.Subject != "" {
		return claims.Subject, nil
	}
	return "", apperrors.ErrInvalidToken
}
