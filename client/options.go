package client

import (
	"context"
	"crypto/ecdh"
	"errors"
	"net"
	"time"

	"github.com/pion/logging"

	"github.com/justirc/justirc-go/crypto/e2ee"
	"github.com/justirc/justirc-go/internal/defaults"
	"github.com/justirc/justirc-go/transfer"
)

// Option configures dialing, identity, and event delivery.
//
// Omit an option to use the library default. For timeouts, a value of 0
// disables the timeout.
type Option func(*options) error

type options struct {
	identity     *ecdh.PrivateKey
	identityPath string
	policy       e2ee.Policy

	password     string
	sessionToken string

	credentials func(CredentialRequest) (string, error)
	acceptFile  func(fromNickname string, meta transfer.Metadata) bool
	stateDir    string

	connectTimeout time.Duration
	writeTimeout   time.Duration
	eventBuffer    int

	dialer        func(ctx context.Context, addr string) (net.Conn, error)
	loggerFactory logging.LoggerFactory
}

func defaultOptions() options {
	return options{
		connectTimeout: defaults.ConnectTimeout,
		writeTimeout:   30 * time.Second,
		eventBuffer:    128,
	}
}

func applyOptions(opts []Option) (options, error) {
	cfg := defaultOptions()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return options{}, err
		}
	}
	return cfg, nil
}

// WithIdentity supplies the long-term X25519 identity key. Without one (or
// WithIdentityFile) a fresh identity is generated per session.
func WithIdentity(priv *ecdh.PrivateKey) Option {
	return func(cfg *options) error {
		if priv == nil {
			return errors.New("nil identity key")
		}
		cfg.identity = priv
		return nil
	}
}

// WithIdentityFile loads the identity key from a JSON key file at dial
// time, as written by justirc-keygen.
func WithIdentityFile(path string) Option {
	return func(cfg *options) error {
		if path == "" {
			return errors.New("empty identity file path")
		}
		cfg.identityPath = path
		return nil
	}
}

// WithKeyPolicy overrides the pairwise key rotation policy.
func WithKeyPolicy(p e2ee.Policy) Option {
	return func(cfg *options) error {
		cfg.policy = p
		return nil
	}
}

// WithPassword supplies the account password sent with registration. It is
// required when the nickname is registered on a broker that enforces
// authentication.
func WithPassword(password string) Option {
	return func(cfg *options) error {
		cfg.password = password
		return nil
	}
}

// WithSessionToken resumes an authenticated session from a previous
// connection's token.
func WithSessionToken(token string) Option {
	return func(cfg *options) error {
		cfg.sessionToken = token
		return nil
	}
}

// WithCredentials installs the callback answering role password prompts.
// Without one, prompts the broker sends outside a Join call surface as
// CredentialEvent and must be answered via RespondCredential. The callback
// runs on the connection's reader and should return promptly.
func WithCredentials(fn func(CredentialRequest) (string, error)) Option {
	return func(cfg *options) error {
		cfg.credentials = fn
		return nil
	}
}

// WithFileAccept decides incoming file offers. The default accepts every
// offer.
func WithFileAccept(fn func(fromNickname string, meta transfer.Metadata) bool) Option {
	return func(cfg *options) error {
		cfg.acceptFile = fn
		return nil
	}
}

// WithStateDir enables file-transfer resume state under dir.
func WithStateDir(dir string) Option {
	return func(cfg *options) error {
		cfg.stateDir = dir
		return nil
	}
}

// WithConnectTimeout bounds the TCP connect plus registration handshake.
func WithConnectTimeout(d time.Duration) Option {
	return func(cfg *options) error {
		if d < 0 {
			return errors.New("negative connect timeout")
		}
		cfg.connectTimeout = d
		return nil
	}
}

// WithWriteTimeout bounds each frame write.
func WithWriteTimeout(d time.Duration) Option {
	return func(cfg *options) error {
		if d < 0 {
			return errors.New("negative write timeout")
		}
		cfg.writeTimeout = d
		return nil
	}
}

// WithEventBuffer sets the event channel capacity. A full buffer blocks the
// reader, which in turn backpressures the socket.
func WithEventBuffer(n int) Option {
	return func(cfg *options) error {
		if n < 1 {
			return errors.New("event buffer must be at least 1")
		}
		cfg.eventBuffer = n
		return nil
	}
}

// WithDialer overrides the transport dialer, e.g. to add TLS or connect
// through a proxy.
func WithDialer(fn func(ctx context.Context, addr string) (net.Conn, error)) Option {
	return func(cfg *options) error {
		if fn == nil {
			return errors.New("nil dialer")
		}
		cfg.dialer = fn
		return nil
	}
}

// WithLoggerFactory overrides the component logger factory.
func WithLoggerFactory(f logging.LoggerFactory) Option {
	return func(cfg *options) error {
		cfg.loggerFactory = f
		return nil
	}
}
