package natsclient

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/c360/stagegraph/errors"
	"github.com/c360/stagegraph/metric"
)

// ClientOption configures a Client in NewClient. An option returning an error
// makes NewClient fail with an invalid-config error.
type ClientOption func(*Client) error

// TLSFiles names the PEM files for a TLS connection. CertFile and KeyFile go
// together; CAFile alone verifies the server without a client certificate.
type TLSFiles struct {
	CertFile string
	KeyFile  string
	CAFile   string
}

func (f TLSFiles) validate() error {
	if (f.CertFile == "") != (f.KeyFile == "") {
		return fmt.Errorf("%w: client certificate and key must be set together", errors.ErrInvalidConfig)
	}
	return nil
}

// Reconnection and liveness.

// WithMaxReconnects caps reconnect attempts after a lost connection. -1 retries forever.
func WithMaxReconnects(max int) ClientOption {
	return func(c *Client) error {
		c.maxReconnects = max
		return nil
	}
}

// WithReconnectWait is the pause between reconnect attempts.
func WithReconnectWait(d time.Duration) ClientOption {
	return func(c *Client) error {
		c.reconnectWait = d
		return nil
	}
}

// WithPingInterval is how often the server is pinged on an idle connection.
func WithPingInterval(d time.Duration) ClientOption {
	return func(c *Client) error {
		c.pingInterval = d
		return nil
	}
}

// WithHealthInterval is how often the health monitor checks the connection.
func WithHealthInterval(d time.Duration) ClientOption {
	return func(c *Client) error {
		c.healthInterval = d
		return nil
	}
}

// WithTimeout bounds a single dial.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		c.timeout = d
		return nil
	}
}

// WithDrainTimeout bounds Close. A shorter context deadline passed to Close wins.
func WithDrainTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("%w: drain timeout must be positive, got %v", errors.ErrInvalidConfig, d)
		}
		c.drainTimeout = d
		return nil
	}
}

// WithCircuitBreakerThreshold sets how many consecutive failed connects open
// the circuit. Values below 1 keep the default of 5.
func WithCircuitBreakerThreshold(threshold int32) ClientOption {
	return func(c *Client) error {
		if threshold < 1 {
			threshold = 5
		}
		c.circuitThreshold = threshold
		return nil
	}
}

// WithMaxBackoff caps the circuit breaker backoff. Values under a second mean a minute.
func WithMaxBackoff(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d < time.Second {
			d = time.Minute
		}
		c.maxBackoff = d
		return nil
	}
}

// Callbacks. Each runs on its own goroutine.

// WithDisconnectCallback is called with the cause whenever the connection drops.
func WithDisconnectCallback(fn func(error)) ClientOption {
	return func(c *Client) error {
		c.onDisconnect = fn
		return nil
	}
}

// WithReconnectCallback is called after a dropped connection is restored.
func WithReconnectCallback(fn func()) ClientOption {
	return func(c *Client) error {
		c.onReconnect = fn
		return nil
	}
}

// WithHealthChangeCallback is called with the new state on every health transition.
func WithHealthChangeCallback(fn func(healthy bool)) ClientOption {
	return func(c *Client) error {
		c.onHealthChange = fn
		return nil
	}
}

// Authentication and transport security.

// WithCredentials authenticates with a user and password.
func WithCredentials(username, password string) ClientOption {
	return func(c *Client) error {
		c.username = username
		c.password = password
		return nil
	}
}

// WithToken authenticates with a token.
func WithToken(token string) ClientOption {
	return func(c *Client) error {
		c.token = token
		return nil
	}
}

// WithTLS requires a TLS connection. Empty files fall back to the system
// roots and no client certificate.
func WithTLS(files TLSFiles) ClientOption {
	return func(c *Client) error {
		if err := files.validate(); err != nil {
			return err
		}
		c.tls = &files
		return nil
	}
}

// Identification and observability.

// WithName is the connection name the server reports in monitoring.
func WithName(name string) ClientOption {
	return func(c *Client) error {
		c.clientName = name
		return nil
	}
}

// WithCompression turns on websocket compression.
func WithCompression(enabled bool) ClientOption {
	return func(c *Client) error {
		c.compression = enabled
		return nil
	}
}

// WithLogger sets the client logger. nil keeps slog.Default().
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) error {
		if logger != nil {
			c.logger = logger
		}
		return nil
	}
}

// WithMetrics registers message, error and connection-status metrics with
// registry. A nil registry disables them.
func WithMetrics(registry *metric.MetricsRegistry) ClientOption {
	return func(c *Client) error {
		if registry == nil {
			return nil
		}
		metrics, err := newClientMetrics(registry)
		if err != nil {
			return err
		}
		c.metrics = metrics
		return nil
	}
}
