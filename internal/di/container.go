package di

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"plural-api/internal/shared/logger"
	"plural-api/internal/socket"
	"plural-api/internal/socket/config"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

// Container represents a dependency injection container with lifecycle management
type Container struct {
	mu        sync.RWMutex
	services  map[reflect.Type]interface{}
	factories map[reflect.Type]func() (interface{}, error)
	// Module instances
	SocketModule *socket.SocketModule
	// Connections
	MongoDB     *mongo.Database
	RedisClient *redis.Client
	// Configuration
	Config *config.Config
	// Logger
	Logger logger.Logger
}

// NewContainer creates a new DI container
func NewContainer(log logger.Logger) *Container {
	return &Container{
		services:  make(map[reflect.Type]interface{}),
		factories: make(map[reflect.Type]func() (interface{}, error)),
		Logger:    log,
	}
}

// InitializeSocket initializes the socket module. redisClient may be nil.
func (c *Container) InitializeSocket(cfg *config.Config, mongoDB *mongo.Database, redisClient *redis.Client) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if mongoDB == nil {
		return fmt.Errorf("MongoDB must be initialized before socket module")
	}
	if c.Logger == nil {
		c.Logger = logger.NewLogger()
	}

	c.Config = cfg
	c.MongoDB = mongoDB
	c.RedisClient = redisClient

	socketModule, err := socket.NewSocketModule(cfg, c.Logger, mongoDB, redisClient)
	if err != nil {
		return fmt.Errorf("failed to create socket module: %w", err)
	}

	c.SocketModule = socketModule
	return nil
}

// SetSocketModule installs an already built module.
func (c *Container) SetSocketModule(m *socket.SocketModule) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.SocketModule = m
}

// Register registers a service instance
func (c *Container) Register(service interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	serviceType := reflect.TypeOf(service)
	if serviceType.Kind() == reflect.Ptr {
		serviceType = serviceType.Elem()
	}

	c.services[serviceType] = service
	return nil
}

// RegisterFactory registers a factory function for a service
func (c *Container) RegisterFactory(serviceType reflect.Type, factory func() (interface{}, error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.factories[serviceType] = factory
	return nil
}

// Resolve resolves a service by type
func (c *Container) Resolve(serviceType reflect.Type) (interface{}, error) {
	c.mu.RLock()

	if service, exists := c.services[serviceType]; exists {
		c.mu.RUnlock()
		return service, nil
	}

	if factory, exists := c.factories[serviceType]; exists {
		c.mu.RUnlock()

		service, err := factory()
		if err != nil {
			return nil, fmt.Errorf("failed to create service: %w", err)
		}

		c.mu.Lock()
		c.services[serviceType] = service
		c.mu.Unlock()

		return service, nil
	}

	c.mu.RUnlock()
	return nil, fmt.Errorf("service of type %v not registered", serviceType)
}

// GetService is a generic helper for resolving services
func GetService[T any](c *Container) (T, error) {
	var zero T
	serviceType := reflect.TypeOf((*T)(nil)).Elem()
	if serviceType.Kind() == reflect.Ptr {
		serviceType = serviceType.Elem()
	}

	service, err := c.Resolve(serviceType)
	if err != nil {
		return zero, err
	}

	if typedService, ok := service.(T); ok {
		return typedService, nil
	}

	return zero, fmt.Errorf("service is not of expected type %T", zero)
}

// GetSocketModule returns the socket module instance
func (c *Container) GetSocketModule() *socket.SocketModule {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.SocketModule
}

// HealthCheck pings the backing stores
func (c *Container) HealthCheck(ctx context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.MongoDB != nil {
		if err := c.MongoDB.Client().Ping(ctx, nil); err != nil {
			return fmt.Errorf("MongoDB health check failed: %w", err)
		}
	}

	if c.RedisClient != nil {
		if err := c.RedisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("Redis health check failed: %w", err)
		}
	}

	return nil
}

// Cleanup stops modules and cleans up registered services
func (c *Container) Cleanup(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error

	if c.SocketModule != nil {
		if err := c.SocketModule.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop socket module: %w", err))
		}
		c.SocketModule = nil
	}

	if c.RedisClient != nil {
		if err := c.RedisClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close Redis client: %w", err))
		}
		c.RedisClient = nil
	}

	for _, service := range c.services {
		if cleaner, ok := service.(interface{ Cleanup(context.Context) error }); ok {
			if err := cleaner.Cleanup(ctx); err != nil {
				errs = append(errs, fmt.Errorf("failed to cleanup service: %w", err))
			}
		}
	}

	c.services = make(map[reflect.Type]interface{})
	c.factories = make(map[reflect.Type]func() (interface{}, error))

	if len(errs) > 0 {
		return fmt.Errorf("cleanup errors: %v", errs)
	}

	return nil
}

// Close gracefully shuts down all services in the container with timeout
func (c *Container) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.Cleanup(ctx); err != nil {
		if c.Logger != nil {
			c.Logger.Warnf("cleanup errors occurred: %v", err)
		}
		return err
	}

	if c.Logger != nil {
		c.Logger.Info("DI Container resources closed.")
	}
	return nil
}
