package mongodb

import (
	"context"
	"errors"
	"fmt"

	apperrors "plural-api/internal/shared/errors"
	"plural-api/internal/shared/logger"
	"plural-api/internal/socket/domain/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// FriendsCollection stores one record per direction of a friendship.
const FriendsCollection = "friends"

// FriendStore reads friendship records.
type FriendStore struct {
	db     DatabaseProvider
	logger logger.Logger
}

// NewFriendStore creates a FriendStore.
func NewFriendStore(db DatabaseProvider, log logger.Logger) *FriendStore {
	return &FriendStore{db: db, logger: log}
}

// Friendship returns the settings owner grants viewer, or nil when they are
// not friends.
func (s *FriendStore) Friendship(ctx context.Context, ownerID, viewerID string) (*model.Friendship, error) {
	var f model.Friendship
	err := s.db.Collection(FriendsCollection).
		FindOne(ctx, bson.M{"uid": ownerID, "frienduid": viewerID}).
		Decode(&f)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, apperrors.NewInfrastructureError("find friendship").
			WithCause(err).
			WithCode("FRIEND_READ").
			WithComponent("mongodb")
	}
	return &f, nil
}

// Friends lists every friendship owner has granted.
func (s *FriendStore) Friends(ctx context.Context, ownerID string) ([]model.Friendship, error) {
	cur, err := s.db.Collection(FriendsCollection).Find(ctx, bson.M{"uid": ownerID})
	if err != nil {
		return nil, apperrors.NewInfrastructureError("list friends").
			WithCause(err).
			WithCode("FRIEND_READ").
			WithComponent("mongodb")
	}
	defer cur.Close(ctx)

	var out []model.Friendship
	for cur.Next(ctx) {
		var f model.Friendship
		if err := cur.Decode(&f); err != nil {
			return nil, fmt.Errorf("decode friendship: %w", err)
		}
		out = append(out, f)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("iterate friends: %w", err)
	}
	return out, nil
}
