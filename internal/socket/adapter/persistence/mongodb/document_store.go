package mongodb

import (
	"context"
	"errors"
	"fmt"

	apperrors "plural-api/internal/shared/errors"
	"plural-api/internal/shared/logger"
	"plural-api/internal/socket/domain/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// DocumentStore re-reads changed documents from MongoDB.
type DocumentStore struct {
	db     DatabaseProvider
	logger logger.Logger
}

// NewDocumentStore creates a DocumentStore.
func NewDocumentStore(db DatabaseProvider, log logger.Logger) *DocumentStore {
	return &DocumentStore{db: db, logger: log}
}

// FindOne loads the document with the given wire id. Ids that are valid
// ObjectID hex strings are matched as ObjectIDs.
func (s *DocumentStore) FindOne(ctx context.Context, collection, id string) (model.Document, error) {
	var doc bson.M
	err := s.db.Collection(collection).FindOne(ctx, bson.M{"_id": ParseID(id)}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperrors.NewNotFoundError(fmt.Sprintf("%s/%s", collection, id)).WithCause(err)
		}
		s.logger.Error("Failed to load document",
			zap.String("collection", collection),
			zap.String("id", id),
			zap.Error(err))
		return nil, apperrors.NewInfrastructureError(fmt.Sprintf("find %s/%s", collection, id)).
			WithCause(err).
			WithCode("DOCUMENT_READ").
			WithComponent("mongodb")
	}
	return model.Document(doc), nil
}

// ParseID converts a wire id into the stored _id representation.
func ParseID(id string) interface{} {
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		return oid
	}
	return id
}
