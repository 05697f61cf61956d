package model

import "fmt"

// OperationKind is the kind of mutation a change event describes.
type OperationKind int

const (
	// OperationCreated signifies a new document was inserted.
	OperationCreated OperationKind = iota
	// OperationUpdated signifies an existing document was modified or replaced.
	OperationUpdated
	// OperationDeleted signifies a document was removed.
	OperationDeleted
)

// Wire names of the operation kinds as sent in update results.
const (
	WireInsert = "insert"
	WireUpdate = "update"
	WireDelete = "delete"
)

// ParseOperationKind maps a change stream operationType to an OperationKind.
// Unknown types are treated as inserts.
func ParseOperationKind(operationType string) OperationKind {
	switch operationType {
	case "update", "replace":
		return OperationUpdated
	case "delete":
		return OperationDeleted
	default:
		return OperationCreated
	}
}

// String returns the wire name of the operation.
func (k OperationKind) String() string {
	switch k {
	case OperationUpdated:
		return WireUpdate
	case OperationDeleted:
		return WireDelete
	default:
		return WireInsert
	}
}

// Document is a schemaless stored document.
type Document map[string]interface{}

// UID returns the owning user id of the document, or "" when absent.
func (d Document) UID() string {
	uid, _ := d["uid"].(string)
	return uid
}

// Bool returns the boolean value at key, false when absent or not a bool.
func (d Document) Bool(key string) bool {
	v, _ := d[key].(bool)
	return v
}

// Clone returns a shallow copy of the document.
func (d Document) Clone() Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// ChangeEvent is the store-agnostic representation of a single document mutation.
type ChangeEvent struct {
	DocumentID string
	Collection string
	Operation  OperationKind
	OwnerID    string

	// Snapshot is the document body carried by the change notification. It is
	// only used for recipient resolution; delivered content is always re-fetched.
	Snapshot Document
}

func (e ChangeEvent) String() string {
	return fmt.Sprintf("%s %s/%s owner=%s", e.Operation, e.Collection, e.DocumentID, e.OwnerID)
}

// CustomEvent is an out-of-band signal pushed to a user's connections.
type CustomEvent struct {
	UserID string      `json:"uid"`
	Type   string      `json:"type"`
	Data   interface{} `json:"data"`
}

// Friendship is one direction of a friend relation: Owner shares with Friend.
type Friendship struct {
	UID        string `bson:"uid" json:"uid"`
	FriendUID  string `bson:"frienduid" json:"frienduid"`
	Trusted    bool   `bson:"trusted" json:"trusted"`
	SeeMembers bool   `bson:"seeMembers" json:"seeMembers"`
	SeeFront   bool   `bson:"seeFront" json:"seeFront"`
}

// AsMap exposes the friendship settings to rule evaluation.
func (f Friendship) AsMap() map[string]interface{} {
	return map[string]interface{}{
		"uid":        f.UID,
		"frienduid":  f.FriendUID,
		"trusted":    f.Trusted,
		"seeMembers": f.SeeMembers,
		"seeFront":   f.SeeFront,
	}
}
