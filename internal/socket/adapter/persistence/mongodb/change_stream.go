package mongodb

import (
	"context"
	"fmt"

	"plural-api/internal/shared/logger"
	"plural-api/internal/socket/domain/repository"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// ChangeFeed opens MongoDB change streams. Update notifications carry the
// post-image of the document.
type ChangeFeed struct {
	db     DatabaseProvider
	logger logger.Logger
}

// NewChangeFeed creates a ChangeFeed.
func NewChangeFeed(db DatabaseProvider, log logger.Logger) *ChangeFeed {
	return &ChangeFeed{db: db, logger: log}
}

// Watch subscribes to every change on collection.
func (f *ChangeFeed) Watch(ctx context.Context, collection string) (repository.ChangeStream, error) {
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)

	stream, err := f.db.Collection(collection).Watch(ctx, mongo.Pipeline{}, opts)
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", collection, err)
	}

	f.logger.Debug("Change stream opened", zap.String("collection", collection))
	return stream, nil
}
