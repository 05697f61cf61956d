package contextkeys

// contextKey is an unexported type to prevent collisions with context keys defined in
// other packages.
type contextKey string

// String makes contextKey satisfy the Stringer interface to assist with debugging.
func (c contextKey) String() string {
	return "plural-api context key " + string(c)
}

const (
	// UserIDKey carries the authenticated user identity.
	UserIDKey = contextKey("userID")
	// ConnectionIDKey carries the realtime connection identifier.
	ConnectionIDKey = contextKey("connectionID")
	// CollectionKey carries the collection an event belongs to.
	CollectionKey = contextKey("collection")
	// RequestIDKey carries a request correlation id.
	RequestIDKey = contextKey("requestID")
	// ComponentKey carries the component name for logging.
	ComponentKey = contextKey("component")
)
