package mongodb

import (
	"context"

	"plural-api/internal/socket/domain/repository"

	"github.com/stretchr/testify/mock"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type mockDatabase struct {
	mock.Mock
}

func (m *mockDatabase) Collection(name string) CollectionInterface {
	args := m.Called(name)
	return args.Get(0).(CollectionInterface)
}

type mockCollection struct {
	mock.Mock
}

func (m *mockCollection) FindOne(ctx context.Context, filter interface{}) SingleResultInterface {
	args := m.Called(ctx, filter)
	return args.Get(0).(SingleResultInterface)
}

func (m *mockCollection) Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (CursorInterface, error) {
	args := m.Called(ctx, filter)
	cur, _ := args.Get(0).(CursorInterface)
	return cur, args.Error(1)
}

func (m *mockCollection) Watch(ctx context.Context, pipeline interface{}, opts ...*options.ChangeStreamOptions) (repository.ChangeStream, error) {
	args := m.Called(ctx, pipeline, opts)
	cs, _ := args.Get(0).(repository.ChangeStream)
	return cs, args.Error(1)
}

// singleResult builds a driver SingleResult from an in-memory document, or a
// result that fails with err.
func singleResult(doc interface{}, err error) SingleResultInterface {
	if err != nil {
		return errResult{err: err}
	}
	return mongo.NewSingleResultFromDocument(doc, nil, nil)
}

type errResult struct {
	err error
}

func (r errResult) Decode(interface{}) error { return r.err }

func cursorOf(docs ...interface{}) CursorInterface {
	cur, err := mongo.NewCursorFromDocuments(docs, nil, nil)
	if err != nil {
		panic(err)
	}
	return cur
}
