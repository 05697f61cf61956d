package utils

import (
	"context"
	"errors"

	"plural-api/internal/shared/contextkeys"
)

// Common context errors
var (
	ErrUserIDNotFound        = errors.New("userID not found in context")
	ErrUserIDNotString       = errors.New("userID in context is not a string")
	ErrConnectionIDNotFound  = errors.New("connectionID not found in context")
	ErrConnectionIDNotString = errors.New("connectionID in context is not a string")
	ErrCollectionNotFound    = errors.New("collection not found in context")
	ErrCollectionNotString   = errors.New("collection in context is not a string")
)

func stringValue(ctx context.Context, key interface{}, missing, notString error) (string, error) {
	val := ctx.Value(key)
	if val == nil {
		return "", missing
	}
	s, ok := val.(string)
	if !ok {
		return "", notString
	}
	return s, nil
}

// GetUserIDFromContext retrieves the user ID from the context.
func GetUserIDFromContext(ctx context.Context) (string, error) {
	return stringValue(ctx, contextkeys.UserIDKey, ErrUserIDNotFound, ErrUserIDNotString)
}

// GetConnectionIDFromContext retrieves the realtime connection ID from the context.
func GetConnectionIDFromContext(ctx context.Context) (string, error) {
	return stringValue(ctx, contextkeys.ConnectionIDKey, ErrConnectionIDNotFound, ErrConnectionIDNotString)
}

// GetCollectionFromContext retrieves the collection from the context.
func GetCollectionFromContext(ctx context.Context) (string, error) {
	return stringValue(ctx, contextkeys.CollectionKey, ErrCollectionNotFound, ErrCollectionNotString)
}

// WithUserID returns a context carrying userID.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, contextkeys.UserIDKey, userID)
}

// WithConnectionID returns a context carrying the connection id.
func WithConnectionID(ctx context.Context, connectionID string) context.Context {
	return context.WithValue(ctx, contextkeys.ConnectionIDKey, connectionID)
}

// WithCollection returns a context carrying the collection name.
func WithCollection(ctx context.Context, collection string) context.Context {
	return context.WithValue(ctx, contextkeys.CollectionKey, collection)
}

// WithComponent returns a context carrying the component name.
func WithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, contextkeys.ComponentKey, component)
}

// GetUserIDOrDefault returns the user ID or def when absent.
func GetUserIDOrDefault(ctx context.Context, def string) string {
	if v, err := GetUserIDFromContext(ctx); err == nil && v != "" {
		return v
	}
	return def
}

// HasUserID reports whether the context carries a non-empty user ID.
func HasUserID(ctx context.Context) bool {
	v, err := GetUserIDFromContext(ctx)
	return err == nil && v != ""
}
