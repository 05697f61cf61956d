package usecase_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	apperrors "plural-api/internal/shared/errors"
	"plural-api/internal/shared/logger"
	"plural-api/internal/socket/domain/model"
	"plural-api/internal/socket/usecase"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type DispatcherSuite struct {
	suite.Suite

	ctx      context.Context
	registry *usecase.ConnectionRegistry
	store    *memoryDocumentStore
	metrics  *recordingMetrics
	redact   *usecase.RedactionRegistry
}

func TestDispatcherSuite(t *testing.T) {
	suite.Run(t, new(DispatcherSuite))
}

func (s *DispatcherSuite) SetupTest() {
	s.ctx = context.Background()
	s.registry = usecase.NewConnectionRegistry()
	s.store = newMemoryDocumentStore()
	s.metrics = newRecordingMetrics()
	s.redact = usecase.NewRedactionRegistry()
	s.redact.Register(usecase.ChatMessagesCollection, usecase.NewChatMessageRedactor(reverseDecryptor{}))
}

func (s *DispatcherSuite) TearDownTest() {
	s.registry.Close()
}

func (s *DispatcherSuite) dispatcher(opts ...usecase.DispatcherOption) *usecase.Dispatcher {
	opts = append([]usecase.DispatcherOption{
		usecase.WithMetrics(s.metrics),
		usecase.WithRedaction(s.redact),
	}, opts...)
	return usecase.NewDispatcher(s.registry, s.store, logger.NewNopLogger(), opts...)
}

func (s *DispatcherSuite) connect(uid string) *fakeTransport {
	tr := newFakeTransport()
	id := s.registry.Register(usecase.NewConnection(tr))
	s.Require().NoError(s.registry.Bind(id, uid))
	return tr
}

func (s *DispatcherSuite) TestUpdateReachesEveryConnectionOfOwner() {
	conn1 := s.connect("A")
	conn2 := s.connect("A")
	s.store.Put("members", "m1", model.Document{"_id": "m1", "uid": "A", "name": "y", "lastOperationTime": 42})

	event := model.ChangeEvent{
		DocumentID: "m1",
		Collection: "members",
		Operation:  model.OperationUpdated,
		OwnerID:    "A",
		Snapshot:   model.Document{"_id": "m1", "uid": "A", "name": "x"},
	}
	s.Require().NoError(s.dispatcher().Dispatch(s.ctx, event))

	expected := map[string]interface{}{
		"msg":    "update",
		"target": "members",
		"results": []interface{}{
			map[string]interface{}{
				"operationType": "update",
				"id":            "m1",
				"content":       map[string]interface{}{"uid": "A", "name": "y"},
			},
		},
	}
	for _, tr := range []*fakeTransport{conn1, conn2} {
		frames := tr.Frames()
		s.Require().Len(frames, 1)
		s.Equal(expected, frames[0])
	}
}

func (s *DispatcherSuite) TestCreatedUsesInsertOperation() {
	conn := s.connect("A")
	s.store.Put("notes", "n1", model.Document{"_id": "n1", "uid": "A", "title": "t"})

	err := s.dispatcher().Dispatch(s.ctx, model.ChangeEvent{
		DocumentID: "n1", Collection: "notes", Operation: model.OperationCreated, OwnerID: "A",
	})
	s.Require().NoError(err)

	frames := conn.Frames()
	s.Require().Len(frames, 1)
	result := frames[0]["results"].([]interface{})[0].(map[string]interface{})
	s.Equal("insert", result["operationType"])
}

func (s *DispatcherSuite) TestOtherUsersReceiveNothing() {
	owner := s.connect("A")
	stranger := s.connect("B")
	s.store.Put("members", "m1", model.Document{"_id": "m1", "uid": "A"})

	s.Require().NoError(s.dispatcher().Dispatch(s.ctx, model.ChangeEvent{
		DocumentID: "m1", Collection: "members", Operation: model.OperationUpdated, OwnerID: "A",
	}))

	s.Len(owner.Frames(), 1)
	s.Empty(stranger.Frames())
}

func (s *DispatcherSuite) TestDeleteCarriesEmptyContent() {
	conn := s.connect("A")
	docs := new(MockDocumentStore)
	d := usecase.NewDispatcher(s.registry, docs, logger.NewNopLogger())

	err := d.Dispatch(s.ctx, model.ChangeEvent{
		DocumentID: "m1",
		Collection: "members",
		Operation:  model.OperationDeleted,
		OwnerID:    "A",
		Snapshot:   model.Document{"_id": "m1", "uid": "A", "name": "secret"},
	})
	s.Require().NoError(err)

	frames := conn.Frames()
	s.Require().Len(frames, 1)
	result := frames[0]["results"].([]interface{})[0].(map[string]interface{})
	s.Equal("delete", result["operationType"])
	s.Equal("m1", result["id"])
	s.Equal(map[string]interface{}{}, result["content"])
	docs.AssertNotCalled(s.T(), "FindOne", mock.Anything, mock.Anything, mock.Anything)
}

func (s *DispatcherSuite) TestVanishedDocumentIsDropped() {
	conn := s.connect("A")

	err := s.dispatcher().Dispatch(s.ctx, model.ChangeEvent{
		DocumentID: "gone", Collection: "members", Operation: model.OperationUpdated, OwnerID: "A",
	})
	s.ErrorIs(err, apperrors.ErrDocumentNotFound)
	s.Empty(conn.Frames())
	s.Equal(1, s.metrics.Dropped(usecase.DropNotFound))
}

func (s *DispatcherSuite) TestFetchErrorIsDropped() {
	conn := s.connect("A")
	docs := new(MockDocumentStore)
	docs.On("FindOne", mock.Anything, "members", "m1").Return(nil, errors.New("server selection timeout"))
	d := usecase.NewDispatcher(s.registry, docs, logger.NewNopLogger(), usecase.WithMetrics(s.metrics))

	err := d.Dispatch(s.ctx, model.ChangeEvent{
		DocumentID: "m1", Collection: "members", Operation: model.OperationUpdated, OwnerID: "A",
	})
	s.Error(err)
	s.Empty(conn.Frames())
	s.Equal(1, s.metrics.Dropped(usecase.DropFetchError))
	docs.AssertExpectations(s.T())
}

func (s *DispatcherSuite) TestNoConnectionsSkipsFetch() {
	docs := new(MockDocumentStore)
	d := usecase.NewDispatcher(s.registry, docs, logger.NewNopLogger())

	err := d.Dispatch(s.ctx, model.ChangeEvent{
		DocumentID: "m1", Collection: "members", Operation: model.OperationUpdated, OwnerID: "A",
	})
	s.NoError(err)
	docs.AssertNotCalled(s.T(), "FindOne", mock.Anything, mock.Anything, mock.Anything)
}

func (s *DispatcherSuite) TestChatMessagesAreDecrypted() {
	conn := s.connect("A")
	s.store.Put(usecase.ChatMessagesCollection, "c1", model.Document{
		"_id": "c1", "uid": "A", "channel": "ch1", "message": "olleh", "iv": "00ff",
	})

	s.Require().NoError(s.dispatcher().Dispatch(s.ctx, model.ChangeEvent{
		DocumentID: "c1", Collection: usecase.ChatMessagesCollection, Operation: model.OperationUpdated, OwnerID: "A",
	}))

	frames := conn.Frames()
	s.Require().Len(frames, 1)
	content := frames[0]["results"].([]interface{})[0].(map[string]interface{})["content"].(map[string]interface{})
	s.Equal("hello", content["message"])
	s.NotContains(content, "iv")
	s.Equal("ch1", content["channel"])
}

func (s *DispatcherSuite) TestRedactionFailureDropsEvent() {
	conn := s.connect("A")
	s.store.Put(usecase.ChatMessagesCollection, "c1", model.Document{"_id": "c1", "uid": "A", "message": "x"})

	err := s.dispatcher().Dispatch(s.ctx, model.ChangeEvent{
		DocumentID: "c1", Collection: usecase.ChatMessagesCollection, Operation: model.OperationCreated, OwnerID: "A",
	})
	s.ErrorIs(err, apperrors.ErrRedactionFailed)
	s.Empty(conn.Frames())
	s.Equal(1, s.metrics.Dropped(usecase.DropRedaction))
}

func (s *DispatcherSuite) TestFailingConnectionDoesNotAffectOthers() {
	broken := newFakeTransport()
	broken.failErr = errBrokenPipe
	brokenID := s.registry.Register(usecase.NewConnection(broken))
	s.Require().NoError(s.registry.Bind(brokenID, "A"))
	healthy := s.connect("A")

	s.store.Put("members", "m1", model.Document{"_id": "m1", "uid": "A"})
	s.Require().NoError(s.dispatcher().Dispatch(s.ctx, model.ChangeEvent{
		DocumentID: "m1", Collection: "members", Operation: model.OperationUpdated, OwnerID: "A",
	}))

	s.Len(healthy.Frames(), 1)
	s.True(broken.IsClosed())
	_, stillRegistered := s.registry.Get(brokenID)
	s.False(stillRegistered)
	s.Equal(1, s.metrics.Failed(model.MessageUpdate))
	s.Len(s.registry.ConnectionsForUser("A"), 1)
}

func (s *DispatcherSuite) TestConcurrentDispatchHasNoHeadOfLineBlocking() {
	conn := s.connect("A")
	stall := make(chan struct{})
	s.store.delay["members"] = stall
	s.store.Put("members", "m1", model.Document{"_id": "m1", "uid": "A"})
	s.store.Put("notes", "n1", model.Document{"_id": "n1", "uid": "A"})

	d := s.dispatcher()
	var wg sync.WaitGroup
	for _, ev := range []model.ChangeEvent{
		{DocumentID: "m1", Collection: "members", Operation: model.OperationUpdated, OwnerID: "A"},
		{DocumentID: "n1", Collection: "notes", Operation: model.OperationUpdated, OwnerID: "A"},
	} {
		wg.Add(1)
		go func(ev model.ChangeEvent) {
			defer wg.Done()
			s.NoError(d.Dispatch(s.ctx, ev))
		}(ev)
	}

	frames := waitForFrames(s.T(), conn, 1)
	s.Equal("notes", frames[0]["target"])

	close(stall)
	wg.Wait()

	frames = conn.Frames()
	s.Require().Len(frames, 2)
	s.Equal("members", frames[1]["target"])
}

func (s *DispatcherSuite) TestNotifyWithoutConnectionsIsNoop() {
	s.NoError(s.dispatcher().Notify(s.ctx, "nobody", "Title", "Body"))
}

func (s *DispatcherSuite) TestNotify() {
	conn := s.connect("A")
	s.Require().NoError(s.dispatcher().Notify(s.ctx, "A", "Front change", "Alex is fronting"))

	frames := conn.Frames()
	s.Require().Len(frames, 1)
	s.Equal(map[string]interface{}{
		"msg": "notification", "title": "Front change", "message": "Alex is fronting",
	}, frames[0])
}

func (s *DispatcherSuite) TestDispatchCustomEvent() {
	conn := s.connect("A")
	err := s.dispatcher().DispatchCustomEvent(s.ctx, model.CustomEvent{
		UserID: "A",
		Type:   "friendRequest",
		Data:   map[string]interface{}{"from": "B"},
	})
	s.Require().NoError(err)

	frames := conn.Frames()
	s.Require().Len(frames, 1)
	s.Equal(map[string]interface{}{"msg": "friendRequest", "data": map[string]interface{}{"from": "B"}}, frames[0])
}

func (s *DispatcherSuite) TestDispatchCustomEventRequiresType() {
	err := s.dispatcher().DispatchCustomEvent(s.ctx, model.CustomEvent{UserID: "A"})
	s.Error(err)
}

func (s *DispatcherSuite) TestRelayedPushIsDeliveredLocallyOnce() {
	conn := s.connect("A")
	relay := newFakeRelay(nil)
	d := s.dispatcher(usecase.WithRelay(relay))

	s.Require().NoError(d.Notify(s.ctx, "A", "t", "m"))
	s.Len(conn.Frames(), 1, "local delivery does not wait for the relay echo")

	envelopes := relay.Published()
	s.Require().Len(envelopes, 1)
	s.Equal(d.Origin(), envelopes[0].Origin)
	s.Equal("A", envelopes[0].UserID)

	// The echo of our own envelope is ignored.
	d.HandleRelayed(s.ctx, envelopes[0])
	d.Wait()
	s.Len(conn.Frames(), 1)
}

func (s *DispatcherSuite) TestRelayedFromPeerIsDelivered() {
	conn := s.connect("A")
	d := s.dispatcher(usecase.WithRelay(newFakeRelay(nil)))

	d.HandleRelayed(s.ctx, model.RelayEnvelope{
		Origin:  "peer",
		UserID:  "A",
		Kind:    model.MessageNotification,
		Payload: []byte(`{"msg":"notification","title":"t","message":"m"}`),
	})
	d.Wait()

	frames := conn.Frames()
	s.Require().Len(frames, 1)
	s.Equal("notification", frames[0]["msg"])
}

func (s *DispatcherSuite) TestLocalDeliveryWithoutLocalSubscription() {
	// Peers are subscribed so publishing succeeds, but nothing echoes back here.
	conn := s.connect("A")
	relay := newFakeRelay(nil)
	d := s.dispatcher(usecase.WithRelay(relay))

	s.Require().NoError(d.DispatchCustomEvent(s.ctx, model.CustomEvent{UserID: "A", Type: "sync"}))

	s.Len(relay.Published(), 1)
	s.Len(conn.Frames(), 1)
}

func (s *DispatcherSuite) TestRelayedStalledSocketDoesNotBlockOthers() {
	stalled := newFakeTransport()
	stalled.block = make(chan struct{})
	stalledID := s.registry.Register(usecase.NewConnection(stalled))
	s.Require().NoError(s.registry.Bind(stalledID, "A"))
	other := s.connect("B")

	d := s.dispatcher(usecase.WithRelay(newFakeRelay(nil)))
	payload := []byte(`{"msg":"notification","title":"t","message":"m"}`)

	done := make(chan struct{})
	go func() {
		d.HandleRelayed(s.ctx, model.RelayEnvelope{Origin: "peer", UserID: "A", Kind: model.MessageNotification, Payload: payload})
		d.HandleRelayed(s.ctx, model.RelayEnvelope{Origin: "peer", UserID: "B", Kind: model.MessageNotification, Payload: payload})
		close(done)
	}()

	s.Eventually(func() bool { return len(other.Frames()) == 1 }, defaultWait, tick)
	<-done
	s.Empty(stalled.Frames())

	close(stalled.block)
	d.Wait()
	s.Len(stalled.Frames(), 1)
}

func (s *DispatcherSuite) TestClosedConnectionIsNotCountedAsFailure() {
	tr := s.connect("A")
	conn := s.registry.ConnectionsForUser("A")[0]
	s.Require().NoError(conn.Close())

	s.Require().NoError(s.dispatcher().Notify(s.ctx, "A", "t", "m"))

	s.Empty(tr.Frames())
	s.Zero(s.metrics.Failed(model.MessageNotification))
	s.Zero(s.registry.Count())
}

func (s *DispatcherSuite) TestRelayFailureFallsBackToLocal() {
	conn := s.connect("A")
	d := s.dispatcher(usecase.WithRelay(newFakeRelay(errors.New("redis down"))))

	s.Require().NoError(d.Notify(s.ctx, "A", "t", "m"))
	s.Len(conn.Frames(), 1)
}

// fakeRelay records published envelopes.
type fakeRelay struct {
	mu        sync.Mutex
	published []model.RelayEnvelope
	err       error
}

func newFakeRelay(err error) *fakeRelay {
	return &fakeRelay{err: err}
}

func (r *fakeRelay) Publish(_ context.Context, envelope model.RelayEnvelope) error {
	if r.err != nil {
		return r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published = append(r.published, envelope)
	return nil
}

func (r *fakeRelay) Subscribe(ctx context.Context, _ func(context.Context, model.RelayEnvelope)) error {
	<-ctx.Done()
	return nil
}

func (r *fakeRelay) Close() error { return nil }

func (r *fakeRelay) Published() []model.RelayEnvelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.RelayEnvelope(nil), r.published...)
}

func TestDispatcher_SendTimeoutIsolated(t *testing.T) {
	registry := usecase.NewConnectionRegistry()
	defer registry.Close()

	stuck := newFakeTransport()
	stuck.block = make(chan struct{})
	stuckID := registry.Register(usecase.NewConnection(stuck))
	require.NoError(t, registry.Bind(stuckID, "A"))

	fast := newFakeTransport()
	fastID := registry.Register(usecase.NewConnection(fast))
	require.NoError(t, registry.Bind(fastID, "A"))

	d := usecase.NewDispatcher(registry, newMemoryDocumentStore(), logger.NewNopLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, d.Notify(ctx, "A", "t", "m"))

	assert.Len(t, fast.Frames(), 1)
	assert.True(t, stuck.IsClosed())
	_, ok := registry.Get(stuckID)
	assert.False(t, ok)
}
