// Package config holds every knob the server constructor recognises, with
// overlays from SOCKEON_* environment variables and an optional YAML file.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/xentixar/sockeon-go/api"
	"github.com/xentixar/sockeon-go/httpwire"
	"github.com/xentixar/sockeon-go/logging"
	"github.com/xentixar/sockeon-go/ratelimit"
)

// Config is consumed by server.New. A nil *Config means Default() and a nil
// Logger means logging.Standard(Debug); every other field is used as
// given, zero values included.
type Config struct {
	Host  string
	Port  int
	Debug bool

	// ClientHost/ClientPort are what external publishers and generated
	// client snippets connect to, which may differ from the bind address
	// behind NAT or a proxy.
	ClientHost string
	ClientPort int

	// AllowedOrigins gates the WebSocket handshake; ["*"] disables the
	// check.
	AllowedOrigins []string
	CORS           *httpwire.CORSPolicy

	Logger logging.Logger

	RateLimit ratelimit.Config

	// AuthKey, when set, requires every WebSocket upgrade to carry it as
	// the "key" query parameter.
	AuthKey string

	// QueueFile is the out-of-process broadcast queue; empty disables the
	// reader entirely.
	QueueFile         string
	QueuePollInterval time.Duration

	// BroadcastSalt signs queue records; TokenExpiration bounds the age of
	// externally minted connection tokens.
	BroadcastSalt   string
	TokenExpiration time.Duration

	TrustProxy     bool
	TrustedProxies []string

	// TLSWrap, when set, wraps every accepted connection in an
	// already-configured TLS layer; certificate loading never happens in
	// the core.
	TLSWrap func(api.NetConn) api.NetConn

	// Event loop tuning.
	ReadChunk          int
	HighWaterMark      int
	HTTPRequestTimeout time.Duration
	HandshakeTimeout   time.Duration
	IdlePingInterval   time.Duration
	MaxUnansweredPings int
	ShutdownTimeout    time.Duration

	// ExperimentalKeepAlive honours Connection: keep-alive on HTTP
	// requests instead of closing after one response. Off by default.
	ExperimentalKeepAlive bool
}

// DefaultQueueFile is the platform temp-dir queue location.
func DefaultQueueFile() string {
	return filepath.Join(os.TempDir(), "sockeon.queue")
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		Host:               "0.0.0.0",
		Port:               6001,
		AllowedOrigins:     []string{"*"},
		Logger:             logging.Standard(false),
		RateLimit:          ratelimit.DefaultConfig(),
		QueueFile:          DefaultQueueFile(),
		QueuePollInterval:  time.Second,
		TokenExpiration:    5 * time.Minute,
		ReadChunk:          8192,
		HighWaterMark:      4 * 1024 * 1024,
		HTTPRequestTimeout: 30 * time.Second,
		HandshakeTimeout:   10 * time.Second,
		IdlePingInterval:   5 * time.Minute,
		MaxUnansweredPings: 2,
		ShutdownTimeout:    30 * time.Second,
	}
}

// FromEnv overlays the SOCKEON_* environment variables on Default.
func FromEnv() *Config {
	cfg := Default()
	if v := os.Getenv("SOCKEON_SERVER_HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("SOCKEON_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Port = port
		}
	}
	if v := os.Getenv("SOCKEON_CLIENT_HOST"); v != "" {
		cfg.ClientHost = v
	}
	if v := os.Getenv("SOCKEON_CLIENT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.ClientPort = port
		}
	}
	if v := os.Getenv("SOCKEON_BROADCAST_SALT"); v != "" {
		cfg.BroadcastSalt = v
	}
	if v := os.Getenv("SOCKEON_TOKEN_EXPIRATION"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.TokenExpiration = time.Duration(secs) * time.Second
		}
	}
	return cfg
}
