package model

import "encoding/json"

// Message kinds
const (
	MessageNotification = "notification"
	MessageUpdate       = "update"
)

// OutboundMessage is a frame pushed to a realtime connection.
type OutboundMessage interface {
	// Kind is the value of the "msg" discriminator.
	Kind() string
}

// NotificationMessage is a user-facing notification.
type NotificationMessage struct {
	Title   string
	Message string
}

func (NotificationMessage) Kind() string { return MessageNotification }

// MarshalJSON implements json.Marshaler.
func (m NotificationMessage) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Msg     string `json:"msg"`
		Title   string `json:"title"`
		Message string `json:"message"`
	}{MessageNotification, m.Title, m.Message})
}

// ChangeResult is one entry of an update message.
type ChangeResult struct {
	OperationType string   `json:"operationType"`
	ID            string   `json:"id"`
	Content       Document `json:"content"`
}

// NewDeleteResult builds a delete result. Deletions never carry content.
func NewDeleteResult(id string) ChangeResult {
	return ChangeResult{OperationType: WireDelete, ID: id, Content: Document{}}
}

// NewContentResult builds an insert or update result.
func NewContentResult(op OperationKind, id string, content Document) ChangeResult {
	if op == OperationDeleted {
		return NewDeleteResult(id)
	}
	if content == nil {
		content = Document{}
	}
	return ChangeResult{OperationType: op.String(), ID: id, Content: content}
}

// UpdateMessage carries change results for one collection. Results is a list
// so that several changes can be coalesced into one frame.
type UpdateMessage struct {
	Target  string
	Results []ChangeResult
}

func (UpdateMessage) Kind() string { return MessageUpdate }

// MarshalJSON implements json.Marshaler.
func (m UpdateMessage) MarshalJSON() ([]byte, error) {
	results := m.Results
	if results == nil {
		results = []ChangeResult{}
	}
	return json.Marshal(struct {
		Msg     string         `json:"msg"`
		Target  string         `json:"target"`
		Results []ChangeResult `json:"results"`
	}{MessageUpdate, m.Target, results})
}

// CustomMessage carries a caller-defined type tag and opaque payload.
type CustomMessage struct {
	Type string
	Data interface{}
}

func (m CustomMessage) Kind() string { return m.Type }

// MarshalJSON implements json.Marshaler.
func (m CustomMessage) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Msg  string      `json:"msg"`
		Data interface{} `json:"data"`
	}{m.Type, m.Data})
}

// RelayEnvelope carries a pre-encoded frame for one user between server instances.
type RelayEnvelope struct {
	Origin  string          `json:"origin"`
	UserID  string          `json:"uid"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}
