package broker

import (
	"time"

	"github.com/pion/logging"

	"github.com/justirc/justirc-go/observability"
)

// Config controls a broker Server. Any zero field falls back to the
// DefaultConfig value for that field.
type Config struct {
	// Host and Port form the TCP listen address for ListenAndServe.
	Host string
	Port int

	// ServerName identifies the broker in logs; Description is returned
	// in registration acks.
	ServerName  string
	Description string

	// DataDir holds channels.json, user_profiles.json, accounts.json, the
	// offline queue spill files and the IP filter lists.
	DataDir string

	// EnableAuthentication turns on the account layer. With
	// RequireAuthentication also set, nicknames without an account are
	// rejected at registration.
	EnableAuthentication  bool
	RequireAuthentication bool

	// EnableIPWhitelist denies any address not on the allow list.
	EnableIPWhitelist bool

	// ConnectionTimeout is the idle threshold after which a registered
	// session is evicted by the maintenance sweep.
	ConnectionTimeout time.Duration

	// ReadTimeout bounds each frame read. An unregistered session that
	// stays silent past it is dropped.
	ReadTimeout time.Duration

	// MaxMessageSize bounds one serialized envelope in bytes.
	MaxMessageSize int

	// MaxConnections caps concurrently accepted sockets.
	MaxConnections int

	// MaxQueuedPerUser caps each recipient's offline message queue.
	MaxQueuedPerUser int

	// ConnRateMax and ConnRateWindow bound connection attempts per source
	// IP. Zero keeps the ratelimit package defaults. Load tools raise
	// them; repeated violations still earn a temp ban.
	ConnRateMax    int
	ConnRateWindow time.Duration

	// CleanupInterval paces the maintenance loop.
	CleanupInterval time.Duration

	// AllowedOrigins is the websocket origin allow list. Empty admits
	// same-host origins and clients that send no Origin header.
	AllowedOrigins []string

	// LoggerFactory provides component loggers; nil uses the default.
	LoggerFactory logging.LoggerFactory

	// Observer receives broker events; nil uses the no-op observer.
	Observer observability.BrokerObserver
}

// DefaultConfig returns the standard broker configuration.
func DefaultConfig() Config {
	return Config{
		Host:              "0.0.0.0",
		Port:              6667,
		ServerName:        "JustIRC",
		Description:       "Welcome to JustIRC!",
		DataDir:           "server_data",
		ConnectionTimeout: 300 * time.Second,
		ReadTimeout:       60 * time.Second,
		MaxMessageSize:    64 * 1024,
		MaxConnections:    1000,
		MaxQueuedPerUser:  1000,
		CleanupInterval:   60 * time.Second,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Host == "" {
		c.Host = def.Host
	}
	if c.Port <= 0 {
		c.Port = def.Port
	}
	if c.ServerName == "" {
		c.ServerName = def.ServerName
	}
	if c.Description == "" {
		c.Description = def.Description
	}
	if c.DataDir == "" {
		c.DataDir = def.DataDir
	}
	if c.ConnectionTimeout <= 0 {
		c.ConnectionTimeout = def.ConnectionTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = def.ReadTimeout
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = def.MaxMessageSize
	}
	if c.MaxConnections <= 0 {
		c.MaxConnections = def.MaxConnections
	}
	if c.MaxQueuedPerUser <= 0 {
		c.MaxQueuedPerUser = def.MaxQueuedPerUser
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = def.CleanupInterval
	}
	if c.LoggerFactory == nil {
		c.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	if c.Observer == nil {
		c.Observer = observability.NoopBrokerObserver
	}
	return c
}
