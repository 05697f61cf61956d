package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v6"
)

// DefaultVisibilityRule grants a friend read access unless the document is
// private, in which case only trusted friends see it and only when the
// document does not opt out of trusted sharing.
const DefaultVisibilityRule = `!(has(document.private) && document.private == true) || ` +
	`(has(friend.trusted) && friend.trusted == true && !(has(document.preventTrusted) && document.preventTrusted == true))`

// ServerConfig holds HTTP listener configuration.
type ServerConfig struct {
	Host string `env:"SERVER_HOST" envDefault:"0.0.0.0"`
	Port string `env:"PORT" envDefault:"3000"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%s", s.Host, s.Port)
}

// MongoConfig holds document store configuration.
type MongoConfig struct {
	URI          string `env:"MONGODB_URI"`
	DatabaseName string `env:"DATABASE_NAME" envDefault:"plural"`
}

// SocketConfig holds configuration of the realtime socket layer.
type SocketConfig struct {
	// Path is the websocket endpoint.
	Path string `env:"SOCKET_PATH" envDefault:"/v1/socket"`

	// EmitChanges controls whether change feed subscriptions are opened.
	// When false the socket still accepts connections and direct pushes.
	EmitChanges bool `env:"SOCKETEMIT" envDefault:"false"`

	// Collections are the watched collections.
	Collections []string `env:"SOCKET_COLLECTIONS" envSeparator:"," envDefault:"members,frontStatuses,notes,polls,automatedReminders,repeatedReminders,frontHistory,comments,groups,channels,channelCategories,chatMessages,boardMessages,customFields,privacyBuckets"`

	// AuthTimeout closes connections that have not authenticated in time.
	AuthTimeout time.Duration `env:"SOCKET_AUTH_TIMEOUT" envDefault:"10s"`

	// WriteTimeout bounds a single frame write.
	WriteTimeout time.Duration `env:"SOCKET_WRITE_TIMEOUT" envDefault:"10s"`

	// MaxInFlight bounds concurrently processed change events.
	MaxInFlight int64 `env:"SOCKET_MAX_INFLIGHT" envDefault:"256"`

	// FriendFanout enables delivering changes to the owner's friends.
	FriendFanout bool `env:"SOCKET_FRIEND_FANOUT" envDefault:"false"`

	// FriendReadCollections are collections friends may read.
	FriendReadCollections []string `env:"FRIEND_READ_COLLECTIONS" envSeparator:"," envDefault:"members,frontStatuses,groups,customFields,frontHistory"`

	// VisibilityRule is the CEL expression deciding friend visibility.
	VisibilityRule string `env:"VISIBILITY_RULE"`
}

// SecurityConfig holds token and encryption secrets.
type SecurityConfig struct {
	JWTSecretKey         string `env:"JWT_SECRET_KEY"`
	JWTIssuer            string `env:"JWT_ISSUER"`
	ChatEncryptionSecret string `env:"CHAT_ENCRYPTION_SECRET"`
}

// RedisConfig holds configuration of the cross-instance relay.
type RedisConfig struct {
	Enabled         bool   `env:"REDIS_RELAY_ENABLED" envDefault:"false"`
	Host            string `env:"REDIS_HOST" envDefault:"localhost"`
	Port            string `env:"REDIS_PORT" envDefault:"6379"`
	Password        string `env:"REDIS_PASSWORD"`
	Database        int    `env:"REDIS_DB" envDefault:"0"`
	MaxRetries      int    `env:"REDIS_MAX_RETRIES" envDefault:"3"`
	PoolSize        int    `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns    int    `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	EnableTLS       bool   `env:"REDIS_TLS" envDefault:"false"`
	ConnMaxIdleTime string `env:"REDIS_CONN_MAX_IDLE_TIME" envDefault:"30m"`
	ConnMaxLifetime string `env:"REDIS_CONN_MAX_LIFETIME" envDefault:"1h"`
	Channel         string `env:"REDIS_RELAY_CHANNEL" envDefault:"plural:socket:relay"`
}

// GetAddr returns host:port of the Redis server.
func (r RedisConfig) GetAddr() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}

// Config is the complete service configuration.
type Config struct {
	Server   ServerConfig
	Mongo    MongoConfig
	Socket   SocketConfig
	Security SecurityConfig
	Redis    RedisConfig
}

// LoadConfig loads configuration from environment variables and applies defaults.
func LoadConfig() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to load configuration from environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks required values and fills fallbacks.
func (c *Config) Validate() error {
	if c.Mongo.URI == "" {
		return errors.New("MONGODB_URI environment variable is not set")
	}
	if c.Security.JWTSecretKey == "" {
		return errors.New("JWT_SECRET_KEY environment variable is not set")
	}
	if c.Socket.Path == "" {
		c.Socket.Path = "/v1/socket"
	}
	if c.Socket.AuthTimeout <= 0 {
		c.Socket.AuthTimeout = 10 * time.Second
	}
	if c.Socket.WriteTimeout <= 0 {
		c.Socket.WriteTimeout = 10 * time.Second
	}
	if c.Socket.MaxInFlight <= 0 {
		c.Socket.MaxInFlight = 256
	}
	if c.Socket.VisibilityRule == "" {
		c.Socket.VisibilityRule = DefaultVisibilityRule
	}
	return nil
}

// DefaultConfig returns a Config with default values for local development.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: "3000"},
		Mongo: MongoConfig{
			URI:          "mongodb://localhost:27017",
			DatabaseName: "plural",
		},
		Socket: SocketConfig{
			Path:         "/v1/socket",
			EmitChanges:  false,
			Collections:  DefaultCollections(),
			AuthTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			MaxInFlight:  256,
			FriendReadCollections: []string{
				"members", "frontStatuses", "groups", "customFields", "frontHistory",
			},
			VisibilityRule: DefaultVisibilityRule,
		},
		Redis: RedisConfig{
			Host:            "localhost",
			Port:            "6379",
			MaxRetries:      3,
			PoolSize:        10,
			MinIdleConns:    2,
			ConnMaxIdleTime: "30m",
			ConnMaxLifetime: "1h",
			Channel:         "plural:socket:relay",
		},
	}
}

// DefaultCollections returns the collections watched for changes by default.
func DefaultCollections() []string {
	return []string{
		"members", "frontStatuses", "notes", "polls", "automatedReminders",
		"repeatedReminders", "frontHistory", "comments", "groups", "channels",
		"channelCategories", "chatMessages", "boardMessages", "customFields",
		"privacyBuckets",
	}
}
