package usecase

import (
	"sync"

	apperrors "plural-api/internal/shared/errors"

	"github.com/google/uuid"
)

// ConnectionRegistry tracks live connections by id with a secondary index by
// user. One mutex makes Register, Bind, Unregister and lookups linearizable.
type ConnectionRegistry struct {
	mu     sync.RWMutex
	byID   map[string]*Connection
	byUser map[string]map[string]*Connection
	newID  func() string
}

// NewConnectionRegistry creates an empty registry.
func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		byID:   make(map[string]*Connection),
		byUser: make(map[string]map[string]*Connection),
		newID:  uuid.NewString,
	}
}

// Register inserts conn and returns its generated id. An already
// authenticated connection is indexed under its user immediately.
func (r *ConnectionRegistry) Register(conn *Connection) string {
	id := r.newID()
	conn.setID(id)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.byID[id] = conn
	if uid := conn.UserID(); uid != "" {
		r.indexLocked(uid, id, conn)
	}
	return id
}

// Bind authenticates the registered connection id as userID and indexes it.
// Unknown ids return ErrConnectionClosed.
func (r *ConnectionRegistry) Bind(id, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.byID[id]
	if !ok {
		return apperrors.ErrConnectionClosed
	}
	if err := conn.Authenticate(userID); err != nil {
		return err
	}
	r.indexLocked(userID, id, conn)
	return nil
}

// Unregister removes id. Removing an absent id is a no-op.
func (r *ConnectionRegistry) Unregister(id string) *Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.byID[id]
	if !ok {
		return nil
	}
	delete(r.byID, id)

	if uid := conn.UserID(); uid != "" {
		if set, ok := r.byUser[uid]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(r.byUser, uid)
			}
		}
	}
	return conn
}

// Get returns the connection registered under id.
func (r *ConnectionRegistry) Get(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.byID[id]
	return conn, ok
}

// ConnectionsForUser returns a snapshot of the user's live connections.
func (r *ConnectionRegistry) ConnectionsForUser(userID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.byUser[userID]
	if len(set) == 0 {
		return nil
	}
	out := make([]*Connection, 0, len(set))
	for _, conn := range set {
		out = append(out, conn)
	}
	return out
}

// Count returns the number of registered connections.
func (r *ConnectionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Close closes and removes every connection.
func (r *ConnectionRegistry) Close() {
	r.mu.Lock()
	conns := make([]*Connection, 0, len(r.byID))
	for _, conn := range r.byID {
		conns = append(conns, conn)
	}
	r.byID = make(map[string]*Connection)
	r.byUser = make(map[string]map[string]*Connection)
	r.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
}

func (r *ConnectionRegistry) indexLocked(userID, id string, conn *Connection) {
	set, ok := r.byUser[userID]
	if !ok {
		set = make(map[string]*Connection)
		r.byUser[userID] = set
	}
	set[id] = conn
}
