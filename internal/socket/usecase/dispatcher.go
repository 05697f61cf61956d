package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	apperrors "plural-api/internal/shared/errors"
	"plural-api/internal/shared/logger"
	"plural-api/internal/socket/domain/model"
	"plural-api/internal/socket/domain/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// DefaultRelayConcurrency bounds relayed envelopes delivered at once.
const DefaultRelayConcurrency = 64

// Dispatcher turns change events and direct pushes into frames on the live
// connections of their recipients.
type Dispatcher struct {
	registry  *ConnectionRegistry
	documents repository.DocumentStore
	resolver  RecipientResolver
	transform ClientTransform
	redaction *RedactionRegistry
	relay     repository.Relay
	metrics   Metrics
	log       logger.Logger
	origin    string

	relayed     *semaphore.Weighted
	relayedWait sync.WaitGroup
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithRecipientResolver replaces the owner-only resolver.
func WithRecipientResolver(r RecipientResolver) DispatcherOption {
	return func(d *Dispatcher) { d.resolver = r }
}

// WithClientTransform replaces DefaultClientTransform.
func WithClientTransform(t ClientTransform) DispatcherOption {
	return func(d *Dispatcher) { d.transform = t }
}

// WithRedaction sets the redaction hooks applied before delivery.
func WithRedaction(r *RedactionRegistry) DispatcherOption {
	return func(d *Dispatcher) { d.redaction = r }
}

// WithRelay publishes direct pushes to every server instance through relay.
func WithRelay(relay repository.Relay) DispatcherOption {
	return func(d *Dispatcher) { d.relay = relay }
}

// WithRelayConcurrency bounds how many relayed envelopes are delivered at once.
func WithRelayConcurrency(n int64) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.relayed = semaphore.NewWeighted(n)
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

// NewDispatcher creates a Dispatcher delivering to the owner only unless a
// resolver option says otherwise.
func NewDispatcher(registry *ConnectionRegistry, documents repository.DocumentStore, log logger.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		registry:  registry,
		documents: documents,
		resolver:  OwnerOnlyResolver{},
		transform: DefaultClientTransform,
		redaction: NewRedactionRegistry(),
		metrics:   nopMetrics{},
		log:       log,
		origin:    uuid.NewString(),
		relayed:   semaphore.NewWeighted(DefaultRelayConcurrency),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Origin identifies this instance on the relay.
func (d *Dispatcher) Origin() string {
	return d.origin
}

// Dispatch delivers one change event. Events whose document can no longer be
// read or redacted are dropped; the returned error says why.
func (d *Dispatcher) Dispatch(ctx context.Context, event model.ChangeEvent) error {
	recipients, err := d.resolver.Resolve(ctx, event)
	if err != nil {
		// A partial list still reaches whoever was resolved.
		d.log.Warn("Recipient resolution incomplete",
			zap.String("event", event.String()),
			zap.Error(err))
	}
	if len(recipients) == 0 {
		return nil
	}

	targets := d.connectionsFor(recipients)
	if len(targets) == 0 {
		return nil
	}

	result, err := d.resolveResult(ctx, event)
	if err != nil {
		return err
	}

	msg := model.UpdateMessage{Target: event.Collection, Results: []model.ChangeResult{result}}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode update for %s: %w", event, err)
	}

	d.deliver(ctx, targets, msg.Kind(), data)
	return nil
}

func (d *Dispatcher) resolveResult(ctx context.Context, event model.ChangeEvent) (model.ChangeResult, error) {
	if event.Operation == model.OperationDeleted {
		return model.NewDeleteResult(event.DocumentID), nil
	}

	doc, err := d.documents.FindOne(ctx, event.Collection, event.DocumentID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			d.metrics.EventDropped(event.Collection, DropNotFound)
			d.log.Debug("Dropping change for vanished document", zap.String("event", event.String()))
			return model.ChangeResult{}, fmt.Errorf("%w: %s", apperrors.ErrDocumentNotFound, event)
		}
		d.metrics.EventDropped(event.Collection, DropFetchError)
		d.log.Error("Failed to fetch changed document", zap.String("event", event.String()), zap.Error(err))
		return model.ChangeResult{}, fmt.Errorf("fetch %s: %w", event, err)
	}

	id, content := d.transform(doc, event.OwnerID)
	if id == "" {
		id = event.DocumentID
	}

	if err := d.redaction.Apply(ctx, event.Collection, content); err != nil {
		d.metrics.EventDropped(event.Collection, DropRedaction)
		d.log.Error("Failed to redact document", zap.String("event", event.String()), zap.Error(err))
		return model.ChangeResult{}, err
	}

	return model.NewContentResult(event.Operation, id, content), nil
}

// Notify pushes a notification to every connection of userID.
//
// Local connections are written before Notify returns, each write bounded by
// the transport write timeout; a stalled socket delays the caller by at most
// that timeout. Callers that must not wait run it in their own goroutine.
func (d *Dispatcher) Notify(ctx context.Context, userID, title, message string) error {
	return d.push(ctx, userID, model.NotificationMessage{Title: title, Message: message})
}

// DispatchCustomEvent pushes an out-of-band event to every connection of its
// user. It blocks like Notify.
func (d *Dispatcher) DispatchCustomEvent(ctx context.Context, event model.CustomEvent) error {
	if event.Type == "" {
		return apperrors.NewValidationError("custom event type is required").WithDetail("field", "type")
	}
	return d.push(ctx, event.UserID, model.CustomMessage{Type: event.Type, Data: event.Data})
}

// push publishes msg to peer instances, when a relay is set, and delivers it
// to local connections. Local delivery never depends on the relay.
func (d *Dispatcher) push(ctx context.Context, userID string, msg model.OutboundMessage) error {
	if userID == "" {
		return apperrors.NewValidationError("user id is required").WithDetail("field", "uid")
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s message: %w", msg.Kind(), err)
	}

	if d.relay != nil {
		envelope := model.RelayEnvelope{Origin: d.origin, UserID: userID, Kind: msg.Kind(), Payload: data}
		if err := d.relay.Publish(ctx, envelope); err != nil {
			d.log.Debug("Relay publish failed",
				zap.String("user_id", userID),
				zap.String("kind", msg.Kind()),
				zap.Error(err))
		}
	}

	d.deliver(ctx, d.registry.ConnectionsForUser(userID), msg.Kind(), data)
	return nil
}

// HandleRelayed delivers a frame published by another instance to local
// connections. Envelopes from this instance were already delivered by push.
// Delivery runs in the background so one stalled socket does not hold back the
// relay subscription; Wait blocks until it has finished.
func (d *Dispatcher) HandleRelayed(ctx context.Context, envelope model.RelayEnvelope) {
	if envelope.Origin == d.origin || envelope.UserID == "" || len(envelope.Payload) == 0 {
		return
	}
	targets := d.registry.ConnectionsForUser(envelope.UserID)
	if len(targets) == 0 {
		return
	}

	if err := d.relayed.Acquire(ctx, 1); err != nil {
		return
	}
	d.relayedWait.Add(1)
	go func() {
		defer d.relayedWait.Done()
		defer d.relayed.Release(1)
		d.deliver(ctx, targets, envelope.Kind, envelope.Payload)
	}()
}

// Wait blocks until background relayed deliveries have finished.
func (d *Dispatcher) Wait() {
	d.relayedWait.Wait()
}

func (d *Dispatcher) connectionsFor(userIDs []string) []*Connection {
	var out []*Connection
	for _, uid := range userIDs {
		out = append(out, d.registry.ConnectionsForUser(uid)...)
	}
	return out
}

// deliver writes data to every target concurrently. A failing connection is
// closed and unregistered without affecting the others.
func (d *Dispatcher) deliver(ctx context.Context, targets []*Connection, kind string, data []byte) {
	if len(targets) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, conn := range targets {
		wg.Add(1)
		go func(conn *Connection) {
			defer wg.Done()

			if err := conn.SendRaw(ctx, data); err != nil {
				d.registry.Unregister(conn.ID())
				if apperrors.IsConnectionClosed(err) {
					// Closed between lookup and write; teardown is already under way.
					d.log.Debug("Skipping closed connection",
						zap.String("connection_id", conn.ID()),
						zap.String("kind", kind))
					return
				}
				d.metrics.SendFailed(kind)
				d.log.Warn("Failed to deliver message",
					zap.String("connection_id", conn.ID()),
					zap.String("user_id", conn.UserID()),
					zap.String("kind", kind),
					zap.Error(err))
				_ = conn.Close()
				return
			}
			d.metrics.MessageSent(kind)
		}(conn)
	}
	wg.Wait()
}
