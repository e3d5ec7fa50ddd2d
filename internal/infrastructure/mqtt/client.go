package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/kreso975/homebridge-http-sensors-switches/internal/infrastructure/config"
)

// Client is one accessory's MQTT session.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Message handlers run on paho goroutines.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTSessionConfig

	connected bool
	connMu    sync.RWMutex

	onConnect    func()
	onDisconnect func(err error)
	callbackMu   sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex

	startOnce sync.Once
	closeOnce sync.Once
}

// Logger is the subset of logging.Logger the session needs.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MessageHandler is the callback signature for received messages.
//
// Handlers are invoked on paho goroutines and should not block.
// A returned error is logged and otherwise ignored.
type MessageHandler func(topic string, payload []byte) error

// New builds a session for the given settings without connecting.
//
// Call Start to begin connecting. Returns ErrInvalidConfig if the broker
// address or client ID is missing.
func New(cfg config.MQTTSessionConfig) (*Client, error) {
	if err := validateSession(cfg); err != nil {
		return nil, err
	}

	c := &Client{
		cfg:    cfg,
		logger: noopLogger{},
	}

	opts := buildClientOptions(cfg)
	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.handleConnect()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleConnectionLost(err)
	})
	opts.SetReconnectingHandler(func(_ pahomqtt.Client, _ *pahomqtt.ClientOptions) {
		c.handleReconnecting()
	})

	c.client = pahomqtt.NewClient(opts)
	return c, nil
}

// Start begins connecting in the background and returns immediately.
//
// paho keeps retrying on the reconnect period until a connection is made or
// Close is called. Calling Start more than once has no effect.
func (c *Client) Start() {
	c.startOnce.Do(func() {
		c.getLogger().Info("mqtt connecting",
			"broker", brokerURL(c.cfg),
			"client_id", c.cfg.ClientID,
		)
		token := c.client.Connect()
		go func() {
			<-token.Done()
			if err := token.Error(); err != nil {
				c.getLogger().Error("mqtt connect failed",
					"client_id", c.cfg.ClientID,
					"error", err,
				)
			}
		}()
	})
}

// handleConnect runs on every successful connect and reconnect.
func (c *Client) handleConnect() {
	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	c.getLogger().Info("mqtt connected", "client_id", c.cfg.ClientID)

	if c.cfg.AvailabilityTopic != "" {
		token := c.client.Publish(c.cfg.AvailabilityTopic, 1, true, AvailabilityOnline)
		go func() {
			if !token.WaitTimeout(defaultPublishTimeout) || token.Error() != nil {
				c.getLogger().Warn("mqtt availability publish failed",
					"topic", c.cfg.AvailabilityTopic,
					"error", token.Error(),
				)
			}
		}()
	}

	c.callbackMu.RLock()
	callback := c.onConnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback()
	}
}

// handleConnectionLost is the "offline" event.
func (c *Client) handleConnectionLost(err error) {
	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	c.getLogger().Warn("mqtt offline", "client_id", c.cfg.ClientID, "error", err)

	c.callbackMu.RLock()
	callback := c.onDisconnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(err)
	}
}

func (c *Client) handleReconnecting() {
	c.getLogger().Info("mqtt reconnecting", "client_id", c.cfg.ClientID)
}

// Close publishes a graceful offline status when connected, then ends the session.
// It is safe to call more than once.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}

	c.closeOnce.Do(func() {
		if c.cfg.AvailabilityTopic != "" && c.IsConnected() {
			token := c.client.Publish(c.cfg.AvailabilityTopic, 1, true, AvailabilityOffline)
			token.WaitTimeout(defaultPublishTimeout)
		}

		c.client.Disconnect(defaultDisconnectQuiesce)

		c.connMu.Lock()
		c.connected = false
		c.connMu.Unlock()

		c.getLogger().Info("mqtt session closed", "client_id", c.cfg.ClientID)
	})

	return nil
}

// HealthCheck reports ErrNotConnected while the session is offline.
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	return nil
}

// IsConnected returns the current connection state.
func (c *Client) IsConnected() bool {
	if c.client == nil {
		return false
	}
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && c.client.IsConnected()
}

// ClientID returns the session's client identifier.
func (c *Client) ClientID() string {
	return c.cfg.ClientID
}

// SetOnConnect sets a callback invoked on initial connect and on every reconnect.
func (c *Client) SetOnConnect(callback func()) {
	c.callbackMu.Lock()
	c.onConnect = callback
	c.callbackMu.Unlock()
}

// SetOnDisconnect sets a callback invoked when the connection is lost.
// Subscriptions are gone at that point because the session is clean.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.callbackMu.Lock()
	c.onDisconnect = callback
	c.callbackMu.Unlock()
}

// SetLogger sets the logger used for lifecycle events and handler errors.
func (c *Client) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// wrapHandler wraps a MessageHandler with panic recovery and error logging.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		c.dispatch(handler, msg.Topic(), msg.Payload())
	}
}

func (c *Client) dispatch(handler MessageHandler, topic string, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			c.getLogger().Error("mqtt handler panic recovered",
				"topic", topic,
				"panic", r,
			)
		}
	}()

	start := time.Now()
	if err := handler(topic, payload); err != nil {
		c.getLogger().Warn("mqtt handler returned error",
			"topic", topic,
			"error", err,
			"duration", time.Since(start),
		)
	}
}
