package socket

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	apperrors "plural-api/internal/shared/errors"
	"plural-api/internal/shared/eventbus"
	"plural-api/internal/shared/logger"
	httpadapter "plural-api/internal/socket/adapter/http"
	"plural-api/internal/socket/adapter/metrics"
	redispersistence "plural-api/internal/socket/adapter/persistence"
	mongodbpersistence "plural-api/internal/socket/adapter/persistence/mongodb"
	"plural-api/internal/socket/adapter/security"
	"plural-api/internal/socket/config"
	"plural-api/internal/socket/domain/model"
	"plural-api/internal/socket/domain/repository"
	"plural-api/internal/socket/usecase"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

var errChatSecretMissing = errors.New("chat encryption secret not configured")

// Relay resubscription backoff.
var (
	relayRetryMin = 500 * time.Millisecond
	relayRetryMax = 30 * time.Second
)

var lifecycleEvents = []string{
	eventbus.EventTypeSocketConnected,
	eventbus.EventTypeSocketAuthenticated,
	eventbus.EventTypeSocketClosed,
}

// Dependencies are the collaborators the socket module talks to. Decryptor
// and Relay are optional.
type Dependencies struct {
	Documents     repository.DocumentStore
	Friends       repository.FriendStore
	Feed          repository.ChangeFeed
	Authenticator repository.Authenticator
	Decryptor     repository.Decryptor
	Relay         repository.Relay
}

// SocketModule is the realtime socket service: connection registry, change
// feed, dispatcher and websocket endpoint.
type SocketModule struct {
	Config     *config.Config
	Registry   *usecase.ConnectionRegistry
	Dispatcher *usecase.Dispatcher
	AccessGate *usecase.AccessGate
	ChangeFeed *usecase.ChangeFeedAdapter
	Metrics    *metrics.PrometheusMetrics
	EventBus   *eventbus.EventBus
	Relay      repository.Relay
	Logger     logger.Logger

	wsHandler *httpadapter.WebSocketHandler

	mu      sync.Mutex
	cancel  context.CancelFunc
	workers sync.WaitGroup
	started bool
}

// NewSocketModule creates the module backed by MongoDB and, when the relay
// is enabled, Redis.
func NewSocketModule(cfg *config.Config, log logger.Logger, db *mongo.Database, redisClient *redis.Client) (*SocketModule, error) {
	log.Info("Initializing Socket Module...")

	database := mongodbpersistence.NewMongoDatabaseAdapter(db)

	authenticator, err := security.NewJWTAuthenticator(cfg.Security.JWTSecretKey, cfg.Security.JWTIssuer)
	if err != nil {
		return nil, fmt.Errorf("failed to create authenticator: %w", err)
	}

	deps := Dependencies{
		Documents:     mongodbpersistence.NewDocumentStore(database, log),
		Friends:       mongodbpersistence.NewFriendStore(database, log),
		Feed:          mongodbpersistence.NewChangeFeed(database, log),
		Authenticator: authenticator,
	}

	if cfg.Security.ChatEncryptionSecret != "" {
		chatCipher, err := security.NewChatCipher(cfg.Security.ChatEncryptionSecret)
		if err != nil {
			return nil, fmt.Errorf("failed to create chat cipher: %w", err)
		}
		deps.Decryptor = chatCipher
	}

	if cfg.Redis.Enabled && redisClient != nil {
		deps.Relay = redispersistence.NewRedisRelay(redisClient, cfg.Redis.Channel, log)
		log.Info("Redis relay enabled", zap.String("channel", cfg.Redis.Channel))
	}

	return NewSocketModuleWithDependencies(cfg, log, deps)
}

// NewSocketModuleWithDependencies wires the module from explicit collaborators.
func NewSocketModuleWithDependencies(cfg *config.Config, log logger.Logger, deps Dependencies) (*SocketModule, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if deps.Documents == nil || deps.Friends == nil || deps.Authenticator == nil {
		return nil, errors.New("document store, friend store and authenticator are required")
	}

	registry := usecase.NewConnectionRegistry()
	promMetrics := metrics.NewPrometheusMetrics(registry.Count)
	bus := eventbus.NewEventBusWithConfig(log, eventbus.BusConfig{
		MaxRetries: 2,
		RetryDelay: 50 * time.Millisecond,
	})

	gate, err := usecase.NewAccessGate(deps.Friends, cfg.Socket.FriendReadCollections, cfg.Socket.VisibilityRule, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create access gate: %w", err)
	}

	redaction := usecase.NewRedactionRegistry()
	if deps.Decryptor != nil {
		redaction.Register(usecase.ChatMessagesCollection, usecase.NewChatMessageRedactor(deps.Decryptor))
	} else {
		log.Warn("CHAT_ENCRYPTION_SECRET not set, chat message changes will not be delivered")
		redaction.Register(usecase.ChatMessagesCollection, func(context.Context, model.Document) error {
			return errChatSecretMissing
		})
	}

	opts := []usecase.DispatcherOption{
		usecase.WithRedaction(redaction),
		usecase.WithMetrics(promMetrics),
		usecase.WithRelayConcurrency(cfg.Socket.MaxInFlight),
	}
	if cfg.Socket.FriendFanout {
		opts = append(opts, usecase.WithRecipientResolver(usecase.NewFriendFanoutResolver(deps.Friends, gate, log)))
		log.Warn("Friend fan-out enabled")
	}
	if deps.Relay != nil {
		opts = append(opts, usecase.WithRelay(deps.Relay))
	}
	dispatcher := usecase.NewDispatcher(registry, deps.Documents, log, opts...)

	var feed *usecase.ChangeFeedAdapter
	if deps.Feed != nil {
		feed = usecase.NewChangeFeedAdapter(deps.Feed, dispatcher, cfg.Socket.Collections, cfg.Socket.MaxInFlight, promMetrics, log)
	}

	m := &SocketModule{
		Config:     cfg,
		Registry:   registry,
		Dispatcher: dispatcher,
		AccessGate: gate,
		ChangeFeed: feed,
		Metrics:    promMetrics,
		EventBus:   bus,
		Relay:      deps.Relay,
		Logger:     log,
		wsHandler: httpadapter.NewWebSocketHandler(registry, deps.Authenticator, bus, httpadapter.HandlerConfig{
			Path:         cfg.Socket.Path,
			AuthTimeout:  cfg.Socket.AuthTimeout,
			WriteTimeout: cfg.Socket.WriteTimeout,
		}, log),
	}
	m.subscribeLifecycle()

	log.Info("Socket Module initialized successfully.")
	return m, nil
}

func (m *SocketModule) subscribeLifecycle() {
	count := func(_ context.Context, event eventbus.Event) error {
		m.Metrics.Lifecycle(event.Type())
		return nil
	}
	for _, eventType := range lifecycleEvents {
		m.EventBus.Subscribe(eventType, count)
	}
}

// RegisterRoutes registers the socket endpoint and the metrics endpoint.
func (m *SocketModule) RegisterRoutes(router fiber.Router) {
	m.wsHandler.RegisterRoutes(router)
	router.Get("/metrics", adaptor.HTTPHandler(m.Metrics.Handler()))
	m.Logger.Info("Socket routes registered", zap.String("path", m.Config.Socket.Path))
}

// StartRealtimeServices starts the relay subscription and, when SOCKETEMIT is
// set, the change feed. It may be called once.
func (m *SocketModule) StartRealtimeServices(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return errors.New("realtime services already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.started = true

	if m.Relay != nil {
		m.workers.Add(1)
		go func() {
			defer m.workers.Done()
			m.runRelay(ctx)
		}()
	}

	if !m.Config.Socket.EmitChanges || m.ChangeFeed == nil {
		m.Logger.Info("Change feed disabled, set SOCKETEMIT=true to emit document changes")
		return nil
	}
	if err := m.ChangeFeed.Start(ctx); err != nil {
		return fmt.Errorf("failed to start change feed: %w", err)
	}
	return nil
}

// runRelay keeps the relay subscription alive until ctx is done, backing off
// between attempts.
func (m *SocketModule) runRelay(ctx context.Context) {
	delay := relayRetryMin
	for {
		started := time.Now()
		err := m.Relay.Subscribe(ctx, m.Dispatcher.HandleRelayed)
		if ctx.Err() != nil {
			return
		}
		if time.Since(started) > relayRetryMax {
			delay = relayRetryMin
		}
		m.Logger.Warn("Relay subscription ended, retrying",
			zap.Duration("delay", delay),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		if delay *= 2; delay > relayRetryMax {
			delay = relayRetryMax
		}
	}
}

// Notify pushes a notification to every live connection of userID.
func (m *SocketModule) Notify(ctx context.Context, userID, title, message string) error {
	return m.Dispatcher.Notify(ctx, userID, title, message)
}

// DispatchCustomEvent pushes an out-of-band event to the user's connections.
func (m *SocketModule) DispatchCustomEvent(ctx context.Context, event model.CustomEvent) error {
	return m.Dispatcher.DispatchCustomEvent(ctx, event)
}

// DispatchDelete tells the owner's connections that a document was removed.
// Change streams carry no document body for deletions, so the owner is not
// known to the feed; whoever deletes a document calls this instead.
func (m *SocketModule) DispatchDelete(ctx context.Context, userID, collection, documentID string) error {
	switch {
	case userID == "":
		return apperrors.NewValidationError("user id is required").WithDetail("field", "uid")
	case collection == "":
		return apperrors.NewValidationError("collection is required").WithDetail("field", "collection")
	case documentID == "":
		return apperrors.NewValidationError("document id is required").WithDetail("field", "id")
	}
	return m.Dispatcher.Dispatch(ctx, model.ChangeEvent{
		DocumentID: documentID,
		Collection: collection,
		Operation:  model.OperationDeleted,
		OwnerID:    userID,
	})
}

// Health reports module status.
func (m *SocketModule) Health() map[string]interface{} {
	m.mu.Lock()
	started := m.started
	m.mu.Unlock()

	return map[string]interface{}{
		"sockets":      m.Registry.Count(),
		"emit_changes": m.Config.Socket.EmitChanges,
		"relay":        m.Relay != nil,
		"started":      started,
	}
}

// Stop cancels background work, waits for it and closes every socket.
func (m *SocketModule) Stop() error {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if m.ChangeFeed != nil {
		m.ChangeFeed.Wait()
	}
	m.workers.Wait()
	m.Dispatcher.Wait()
	for _, eventType := range lifecycleEvents {
		m.EventBus.Unsubscribe(eventType)
	}
	m.Registry.Close()

	m.Logger.Info("Socket Module stopped.")
	return nil
}
