package repository

import (
	"context"

	"plural-api/internal/socket/domain/model"
)

// DocumentStore re-reads documents by id. Implementations return an error
// satisfying errors.IsNotFound when the document does not exist.
type DocumentStore interface {
	FindOne(ctx context.Context, collection, id string) (model.Document, error)
}

// FriendStore reads friendship records. Friendship returns (nil, nil) when
// owner does not share with viewer.
type FriendStore interface {
	Friendship(ctx context.Context, ownerID, viewerID string) (*model.Friendship, error)
	Friends(ctx context.Context, ownerID string) ([]model.Friendship, error)
}

// ChangeStream is an open change subscription on one collection. It matches
// the iteration surface of *mongo.ChangeStream.
type ChangeStream interface {
	Next(ctx context.Context) bool
	Decode(val interface{}) error
	Err() error
	Close(ctx context.Context) error
}

// ChangeFeed opens change subscriptions per collection.
type ChangeFeed interface {
	Watch(ctx context.Context, collection string) (ChangeStream, error)
}

// Authenticator resolves a client-supplied token to a user id.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (string, error)
}

// Decryptor turns stored ciphertext back into plaintext.
type Decryptor interface {
	Decrypt(ciphertext, iv string) (string, error)
}

// Relay fans direct pushes out to every server instance.
type Relay interface {
	Publish(ctx context.Context, envelope model.RelayEnvelope) error
	// Subscribe blocks, invoking handler for every envelope, until ctx is done.
	Subscribe(ctx context.Context, handler func(context.Context, model.RelayEnvelope)) error
	Close() error
}
