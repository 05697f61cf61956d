package usecase_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	apperrors "plural-api/internal/shared/errors"
	"plural-api/internal/socket/domain/model"
	"plural-api/internal/socket/domain/repository"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var errBrokenPipe = errors.New("broken pipe")

const (
	defaultWait = 2 * time.Second
	tick        = 5 * time.Millisecond
)

// fakeTransport records written frames.
type fakeTransport struct {
	mu      sync.Mutex
	frames  [][]byte
	closed  bool
	failErr error
	block   chan struct{}
	started chan struct{}
	written chan struct{}

	writesAfterClose int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{written: make(chan struct{}, 64)}
}

func (t *fakeTransport) WriteText(ctx context.Context, data []byte) error {
	t.mu.Lock()
	if t.closed {
		t.writesAfterClose++
	}
	t.mu.Unlock()

	if t.started != nil {
		select {
		case t.started <- struct{}{}:
		default:
		}
	}
	if t.block != nil {
		select {
		case <-t.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	t.mu.Lock()
	if t.failErr != nil {
		t.mu.Unlock()
		return t.failErr
	}
	t.frames = append(t.frames, append([]byte(nil), data...))
	t.mu.Unlock()

	select {
	case t.written <- struct{}{}:
	default:
	}
	return nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *fakeTransport) WritesAfterClose() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.writesAfterClose
}

func (t *fakeTransport) Frames() []map[string]interface{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]map[string]interface{}, 0, len(t.frames))
	for _, f := range t.frames {
		var m map[string]interface{}
		if err := json.Unmarshal(f, &m); err == nil {
			out = append(out, m)
		}
	}
	return out
}

func (t *fakeTransport) IsClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func waitForFrames(t *testing.T, tr *fakeTransport, n int) []map[string]interface{} {
	t.Helper()
	require.Eventually(t, func() bool { return len(tr.Frames()) >= n }, defaultWait, tick)
	return tr.Frames()
}

// MockDocumentStore is a testify mock of repository.DocumentStore.
type MockDocumentStore struct {
	mock.Mock
}

func (m *MockDocumentStore) FindOne(ctx context.Context, collection, id string) (model.Document, error) {
	args := m.Called(ctx, collection, id)
	doc, _ := args.Get(0).(model.Document)
	return doc, args.Error(1)
}

// memoryDocumentStore serves documents from a map, optionally delaying one collection.
type memoryDocumentStore struct {
	mu    sync.Mutex
	docs  map[string]model.Document
	delay map[string]chan struct{}
}

func newMemoryDocumentStore() *memoryDocumentStore {
	return &memoryDocumentStore{docs: map[string]model.Document{}, delay: map[string]chan struct{}{}}
}

func (s *memoryDocumentStore) Put(collection, id string, doc model.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[collection+"/"+id] = doc
}

func (s *memoryDocumentStore) FindOne(ctx context.Context, collection, id string) (model.Document, error) {
	s.mu.Lock()
	gate := s.delay[collection]
	doc, ok := s.docs[collection+"/"+id]
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if !ok {
		return nil, apperrors.NewNotFoundError(collection + "/" + id)
	}
	return doc.Clone(), nil
}

// MockFriendStore is a testify mock of repository.FriendStore.
type MockFriendStore struct {
	mock.Mock
}

func (m *MockFriendStore) Friendship(ctx context.Context, ownerID, viewerID string) (*model.Friendship, error) {
	args := m.Called(ctx, ownerID, viewerID)
	f, _ := args.Get(0).(*model.Friendship)
	return f, args.Error(1)
}

func (m *MockFriendStore) Friends(ctx context.Context, ownerID string) ([]model.Friendship, error) {
	args := m.Called(ctx, ownerID)
	f, _ := args.Get(0).([]model.Friendship)
	return f, args.Error(1)
}

// reverseDecryptor "decrypts" by reversing the ciphertext.
type reverseDecryptor struct {
	err error
}

func (d reverseDecryptor) Decrypt(ciphertext, iv string) (string, error) {
	if d.err != nil {
		return "", d.err
	}
	r := []rune(ciphertext)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return string(r), nil
}

// fakeStream replays raw changes and then ends.
type fakeStream struct {
	mu      sync.Mutex
	changes []model.RawChange
	pos     int
	err     error
	closed  bool
	hold    bool
}

func (s *fakeStream) Next(ctx context.Context) bool {
	s.mu.Lock()
	if s.pos < len(s.changes) {
		s.pos++
		s.mu.Unlock()
		return true
	}
	hold := s.hold
	s.mu.Unlock()

	if hold {
		<-ctx.Done()
	}
	return false
}

func (s *fakeStream) Decode(val interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := val.(*model.RawChange)
	if !ok {
		return errors.New("unexpected decode target")
	}
	*raw = s.changes[s.pos-1]
	return nil
}

func (s *fakeStream) Err() error { return s.err }

func (s *fakeStream) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// fakeFeed hands out prepared streams per collection.
type fakeFeed struct {
	streams map[string]*fakeStream
}

func (f *fakeFeed) Watch(_ context.Context, collection string) (repository.ChangeStream, error) {
	s, ok := f.streams[collection]
	if !ok {
		return nil, errors.New("collection not watchable")
	}
	return s, nil
}

// recordingMetrics counts metric calls.
type recordingMetrics struct {
	mu      sync.Mutex
	sent    map[string]int
	failed  map[string]int
	dropped map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{sent: map[string]int{}, failed: map[string]int{}, dropped: map[string]int{}}
}

func (m *recordingMetrics) MessageSent(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent[kind]++
}

func (m *recordingMetrics) SendFailed(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed[kind]++
}

func (m *recordingMetrics) EventDropped(_, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropped[reason]++
}

func (m *recordingMetrics) Dropped(reason string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped[reason]
}

func (m *recordingMetrics) Failed(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failed[kind]
}
