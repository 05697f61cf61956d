package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"plural-api/internal/shared/logger"
	"plural-api/internal/shared/utils"
	"plural-api/internal/socket/domain/model"
	"plural-api/internal/socket/domain/repository"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// EventDispatcher consumes normalised change events.
type EventDispatcher interface {
	Dispatch(ctx context.Context, event model.ChangeEvent) error
}

// ChangeFeedAdapter turns raw change stream notifications into change events
// and hands them to the dispatcher. Each watched collection runs its own loop;
// events are dispatched concurrently up to maxInFlight so that one slow fetch
// does not hold back later events.
type ChangeFeedAdapter struct {
	feed        repository.ChangeFeed
	dispatcher  EventDispatcher
	collections []string
	inFlight    *semaphore.Weighted
	metrics     Metrics
	log         logger.Logger

	wg sync.WaitGroup
}

// NewChangeFeedAdapter creates an adapter watching collections.
func NewChangeFeedAdapter(feed repository.ChangeFeed, dispatcher EventDispatcher, collections []string, maxInFlight int64, metrics Metrics, log logger.Logger) *ChangeFeedAdapter {
	if maxInFlight <= 0 {
		maxInFlight = 1
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &ChangeFeedAdapter{
		feed:        feed,
		dispatcher:  dispatcher,
		collections: collections,
		inFlight:    semaphore.NewWeighted(maxInFlight),
		metrics:     metrics,
		log:         log,
	}
}

// Normalize maps a raw notification to a change event. It reports false when
// the notification carries no document or no owner.
func Normalize(raw model.RawChange) (model.ChangeEvent, bool) {
	if raw.FullDocument == nil {
		return model.ChangeEvent{}, false
	}
	doc := model.Document(raw.FullDocument)

	owner := doc.UID()
	if owner == "" {
		return model.ChangeEvent{}, false
	}

	id := NormalizeID(doc["_id"])
	if id == "" && raw.DocumentKey != nil {
		id = NormalizeID(raw.DocumentKey["_id"])
	}
	if id == "" {
		return model.ChangeEvent{}, false
	}

	return model.ChangeEvent{
		DocumentID: id,
		Collection: raw.Namespace.Coll,
		Operation:  model.ParseOperationKind(raw.OperationType),
		OwnerID:    owner,
		Snapshot:   doc,
	}, true
}

// Start opens one subscription per watched collection and runs them in the
// background until ctx is cancelled. Collections that fail to open are logged
// and skipped.
func (a *ChangeFeedAdapter) Start(ctx context.Context) error {
	opened := 0
	for _, collection := range a.collections {
		stream, err := a.feed.Watch(ctx, collection)
		if err != nil {
			a.log.Error("Failed to open change stream", zap.String("collection", collection), zap.Error(err))
			continue
		}
		opened++

		a.wg.Add(1)
		go func(collection string, stream repository.ChangeStream) {
			defer a.wg.Done()
			a.Run(ctx, collection, stream)
		}(collection, stream)
	}

	if opened == 0 && len(a.collections) > 0 {
		return fmt.Errorf("no change stream could be opened for %d collections", len(a.collections))
	}
	a.log.Info("Change feed started", zap.Int("collections", opened))
	return nil
}

// Wait blocks until every collection loop and in-flight dispatch has finished.
func (a *ChangeFeedAdapter) Wait() {
	a.wg.Wait()
}

// Run consumes stream until it ends or ctx is cancelled, then closes it.
func (a *ChangeFeedAdapter) Run(ctx context.Context, collection string, stream repository.ChangeStream) {
	ctx = utils.WithCollection(ctx, collection)
	log := a.log.WithContext(ctx)

	defer func() {
		if err := stream.Close(context.Background()); err != nil {
			log.Debug("Closing change stream failed", zap.Error(err))
		}
	}()

	for stream.Next(ctx) {
		var raw model.RawChange
		if err := stream.Decode(&raw); err != nil {
			log.Warn("Undecodable change notification", zap.Error(err))
			continue
		}
		if raw.Namespace.Coll == "" {
			raw.Namespace.Coll = collection
		}

		event, ok := Normalize(raw)
		if !ok {
			a.metrics.EventDropped(collection, DropUnresolvable)
			log.Debug("Dropping unresolvable change", zap.String("operation", raw.OperationType))
			continue
		}

		if err := a.inFlight.Acquire(ctx, 1); err != nil {
			break
		}
		a.wg.Add(1)
		go func(event model.ChangeEvent) {
			defer a.wg.Done()
			defer a.inFlight.Release(1)

			if err := a.dispatcher.Dispatch(ctx, event); err != nil {
				log.Debug("Change not delivered", zap.String("event", event.String()), zap.Error(err))
			}
		}(event)
	}

	if err := stream.Err(); err != nil && !errors.Is(err, context.Canceled) && ctx.Err() == nil {
		log.Error("Change stream ended", zap.Error(err))
		return
	}
	log.Info("Change stream stopped")
}
