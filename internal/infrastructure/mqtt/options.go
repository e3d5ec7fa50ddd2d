package mqtt

import (
	"crypto/tls"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/kreso975/homebridge-http-sensors-switches/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultConnectTimeout bounds a single connection attempt.
	defaultConnectTimeout = 10 * time.Second

	// defaultPublishTimeout is the maximum time to wait for publish acknowledgment.
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 250 // milliseconds

	// defaultKeepAlive applies when the session leaves keepalive unset.
	defaultKeepAlive = 10 * time.Second

	// defaultReconnectPeriod applies when the session leaves the period unset.
	defaultReconnectPeriod = 5 * time.Second

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// Availability payloads published to the session's availability topic.
const (
	AvailabilityOnline  = "online"
	AvailabilityOffline = "offline"
)

// brokerURL returns tcp:// or ssl:// for the session's broker.
func brokerURL(cfg config.MQTTSessionConfig) string {
	scheme := "tcp"
	if cfg.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, cfg.Host, cfg.Port)
}

// buildClientOptions creates paho options for one accessory session.
//
// The session is clean, keeps alive every KeepAlive, and retries both the
// first connection and later reconnects on a fixed ReconnectPeriod.
func buildClientOptions(cfg config.MQTTSessionConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(brokerURL(cfg))
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetCleanSession(true)

	period := cfg.ReconnectPeriod
	if period <= 0 {
		period = defaultReconnectPeriod
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(period)
	opts.SetMaxReconnectInterval(period)

	opts.SetConnectTimeout(defaultConnectTimeout)

	keepAlive := cfg.KeepAlive
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}
	opts.SetKeepAlive(keepAlive)

	if cfg.TLS {
		opts.SetTLSConfig(&tls.Config{
			MinVersion: tlsMinVersion,
		})
	}

	if cfg.AvailabilityTopic != "" {
		opts.SetWill(cfg.AvailabilityTopic, AvailabilityOffline, 1, true)
	}

	return opts
}

// validateSession rejects settings paho cannot connect with.
func validateSession(cfg config.MQTTSessionConfig) error {
	if cfg.Host == "" {
		return fmt.Errorf("%w: broker host is required", ErrInvalidConfig)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("%w: broker port %d out of range", ErrInvalidConfig, cfg.Port)
	}
	if cfg.ClientID == "" {
		return fmt.Errorf("%w: client id is required", ErrInvalidConfig)
	}
	return nil
}
