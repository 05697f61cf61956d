package mongodb

import (
	"context"

	"plural-api/internal/socket/domain/repository"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// CollectionInterface is the subset of *mongo.Collection the socket adapters use.
type CollectionInterface interface {
	FindOne(ctx context.Context, filter interface{}) SingleResultInterface
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (CursorInterface, error)
	Watch(ctx context.Context, pipeline interface{}, opts ...*options.ChangeStreamOptions) (repository.ChangeStream, error)
}

type SingleResultInterface interface {
	Decode(v interface{}) error
}

type CursorInterface interface {
	Next(ctx context.Context) bool
	Decode(val interface{}) error
	Close(ctx context.Context) error
	Err() error
}

// DatabaseProvider hands out collections by name.
type DatabaseProvider interface {
	Collection(name string) CollectionInterface
}

// MongoDatabaseAdapter makes *mongo.Database a DatabaseProvider.
type MongoDatabaseAdapter struct {
	db *mongo.Database
}

func NewMongoDatabaseAdapter(db *mongo.Database) *MongoDatabaseAdapter {
	return &MongoDatabaseAdapter{db: db}
}

func (m *MongoDatabaseAdapter) Collection(name string) CollectionInterface {
	return NewMongoCollectionAdapter(m.db.Collection(name))
}

// Adapter to make *mongo.Collection compatible with CollectionInterface for production code

type MongoCollectionAdapter struct {
	col *mongo.Collection
}

func NewMongoCollectionAdapter(col *mongo.Collection) *MongoCollectionAdapter {
	return &MongoCollectionAdapter{col: col}
}

func (m *MongoCollectionAdapter) FindOne(ctx context.Context, filter interface{}) SingleResultInterface {
	return m.col.FindOne(ctx, filter)
}

func (m *MongoCollectionAdapter) Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (CursorInterface, error) {
	cur, err := m.col.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	return cur, nil
}

func (m *MongoCollectionAdapter) Watch(ctx context.Context, pipeline interface{}, opts ...*options.ChangeStreamOptions) (repository.ChangeStream, error) {
	cs, err := m.col.Watch(ctx, pipeline, opts...)
	if err != nil {
		return nil, err
	}
	return cs, nil
}
