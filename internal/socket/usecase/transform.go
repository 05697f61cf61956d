package usecase

import (
	"fmt"

	"plural-api/internal/socket/domain/model"
)

// ClientTransform reshapes a stored document for the wire. It returns the
// document id and the client-visible content.
type ClientTransform func(doc model.Document, viewerID string) (string, model.Document)

// serverOnlyFields never leave the server.
var serverOnlyFields = []string{"_id", "lastOperationTime"}

// DefaultClientTransform strips server-internal fields and lifts _id out of
// the content.
func DefaultClientTransform(doc model.Document, _ string) (string, model.Document) {
	id := NormalizeID(doc["_id"])
	content := doc.Clone()
	for _, field := range serverOnlyFields {
		delete(content, field)
	}
	return id, content
}

// NormalizeID renders a store-native id as an opaque string.
func NormalizeID(v interface{}) string {
	switch id := v.(type) {
	case nil:
		return ""
	case string:
		return id
	case interface{ Hex() string }:
		return id.Hex()
	case fmt.Stringer:
		return id.String()
	default:
		return fmt.Sprint(id)
	}
}
