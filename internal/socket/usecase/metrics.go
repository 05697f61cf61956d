package usecase

// Drop reasons reported to Metrics.
const (
	DropUnresolvable = "unresolvable"
	DropNotFound     = "not_found"
	DropRedaction    = "redaction"
	DropFetchError   = "fetch_error"
)

// Metrics receives dispatch counters.
type Metrics interface {
	MessageSent(kind string)
	SendFailed(kind string)
	EventDropped(collection, reason string)
}

type nopMetrics struct{}

func (nopMetrics) MessageSent(string)          {}
func (nopMetrics) SendFailed(string)           {}
func (nopMetrics) EventDropped(string, string) {}
