package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	apperrors "plural-api/internal/shared/errors"
	"plural-api/internal/socket/domain/model"
)

// Transport is the write side of one realtime session. Implementations need
// not be safe for concurrent writes; Connection serialises them.
type Transport interface {
	WriteText(ctx context.Context, data []byte) error
	Close() error
}

// Connection is one realtime session.
type Connection struct {
	id        string
	transport Transport

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error

	mu     sync.RWMutex
	userID string
	closed bool
}

// NewConnection wraps a transport. The id is assigned on registration.
func NewConnection(transport Transport) *Connection {
	return &Connection{transport: transport}
}

// ID returns the registry-assigned identifier.
func (c *Connection) ID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.id
}

// UserID returns the bound user, or "" while anonymous.
func (c *Connection) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

// IsAuthenticated reports whether a user is bound.
func (c *Connection) IsAuthenticated() bool {
	return c.UserID() != ""
}

// Authenticate binds the connection to userID. It succeeds at most once.
func (c *Connection) Authenticate(userID string) error {
	if userID == "" {
		return apperrors.NewAuthenticationError("empty user id")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return apperrors.ErrConnectionClosed
	}
	if c.userID != "" {
		return apperrors.ErrAlreadyAuthenticated
	}
	c.userID = userID
	return nil
}

// Send encodes msg as JSON and writes it.
func (c *Connection) Send(ctx context.Context, msg model.OutboundMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s message: %w", msg.Kind(), err)
	}
	return c.SendRaw(ctx, data)
}

// SendRaw writes a pre-encoded frame. A failed write closes the connection.
func (c *Connection) SendRaw(ctx context.Context, data []byte) error {
	if c.isClosed() {
		return apperrors.ErrConnectionClosed
	}

	c.writeMu.Lock()
	if c.isClosed() {
		c.writeMu.Unlock()
		return apperrors.ErrConnectionClosed
	}
	err := c.transport.WriteText(ctx, data)
	c.writeMu.Unlock()

	if err != nil {
		_ = c.Close()
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Close marks the connection closed, waits for any in-flight write and then
// closes the transport. Every call, concurrent or repeated, returns only once
// the transport is closed; the transport is never touched afterwards.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		c.writeMu.Lock()
		c.closeErr = c.transport.Close()
		c.writeMu.Unlock()
	})
	return c.closeErr
}

func (c *Connection) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

func (c *Connection) setID(id string) {
	c.mu.Lock()
	c.id = id
	c.mu.Unlock()
}
