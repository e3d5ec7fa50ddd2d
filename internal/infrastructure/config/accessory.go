package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
)

// DefaultDeviceName is used when an accessory has no device_name.
const DefaultDeviceName = "NoName"

// accessoryNamespace scopes name-derived accessory IDs so that the same
// device name always maps to the same ID across restarts.
var accessoryNamespace = uuid.MustParse("9d3b8a6e-5f0c-4c61-8f0e-2a7c1b4d6e90")

// AccessoryConfig describes one HTTP/MQTT device exposed by the bridge.
//
// Which subsystems run is derived from which fields are set: url_status
// enables switch status polling, sensor_url enables sensor polling, and the
// mqtt topics enable the message bus session.
type AccessoryConfig struct {
	DeviceType      string `yaml:"device_type"`
	DeviceName      string `yaml:"device_name"`
	ID              string `yaml:"id"`
	Manufacturer    string `yaml:"manufacturer"`
	Model           string `yaml:"model"`
	SerialNumber    string `yaml:"serial_number"`
	FirmwareVersion string `yaml:"firmware_version"`

	// UpdateInterval is the sensor poll period. Zero selects the default.
	UpdateInterval time.Duration `yaml:"update_interval"`
	// StatusInterval is the switch status poll period. Zero selects the default.
	StatusInterval time.Duration `yaml:"status_interval"`

	URLOn          string `yaml:"url_on"`
	URLOff         string `yaml:"url_off"`
	URLStatus      string `yaml:"url_status"`
	StateName      string `yaml:"state_name"`
	OnStatusValue  string `yaml:"on_status_value"`
	OffStatusValue string `yaml:"off_status_value"`

	SensorURL       string `yaml:"sensor_url"`
	TemperatureName string `yaml:"temperature_name"`
	HumidityName    string `yaml:"humidity_name"`

	MQTT   AccessoryMQTTConfig   `yaml:"mqtt"`
	Notify AccessoryNotifyConfig `yaml:"notify"`
}

// AccessoryMQTTConfig holds per-accessory topics and optional broker overrides.
type AccessoryMQTTConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	SwitchTopic       string `yaml:"switch_topic"`
	TemperatureTopic  string `yaml:"temperature_topic"`
	HumidityTopic     string `yaml:"humidity_topic"`
	AvailabilityTopic string `yaml:"availability_topic"`

	// ReconnectPeriod overrides mqtt.reconnect.period, in seconds.
	ReconnectPeriod int `yaml:"reconnect_period"`
}

// AccessoryNotifyConfig configures the chat webhook announcing command outcomes.
type AccessoryNotifyConfig struct {
	WebhookURL string `yaml:"webhook_url"`
	Username   string `yaml:"username"`
	AvatarURL  string `yaml:"avatar_url"`
}

// MQTTSessionConfig is the fully resolved connection setting for one
// accessory's broker session.
type MQTTSessionConfig struct {
	Host              string
	Port              int
	TLS               bool
	Username          string
	Password          string
	ClientID          string
	KeepAlive         time.Duration
	ReconnectPeriod   time.Duration
	AvailabilityTopic string
}

// ResolvedName returns the configured device name or DefaultDeviceName.
func (a *AccessoryConfig) ResolvedName() string {
	if a.DeviceName == "" {
		return DefaultDeviceName
	}
	return a.DeviceName
}

// ResolvedID returns the configured id, or a stable ID derived from the device name.
func (a *AccessoryConfig) ResolvedID() string {
	if a.ID != "" {
		return a.ID
	}
	return uuid.NewSHA1(accessoryNamespace, []byte(a.ResolvedName())).String()
}

// HasMQTT reports whether any message bus topic is configured.
func (a *AccessoryConfig) HasMQTT() bool {
	return a.MQTT.SwitchTopic != "" || a.MQTT.TemperatureTopic != "" || a.MQTT.HumidityTopic != ""
}

// HasNotify reports whether a notification webhook is configured.
func (a *AccessoryConfig) HasNotify() bool {
	return a.Notify.WebhookURL != ""
}

// MQTTSession merges the accessory overrides onto the shared broker defaults.
// The client ID is always the device name.
func (a *AccessoryConfig) MQTTSession(shared MQTTConfig) MQTTSessionConfig {
	s := MQTTSessionConfig{
		Host:              shared.Broker.Host,
		Port:              shared.Broker.Port,
		TLS:               shared.Broker.TLS,
		Username:          shared.Auth.Username,
		Password:          shared.Auth.Password,
		ClientID:          a.ResolvedName(),
		KeepAlive:         time.Duration(shared.KeepAlive) * time.Second,
		ReconnectPeriod:   time.Duration(shared.Reconnect.Period) * time.Second,
		AvailabilityTopic: a.MQTT.AvailabilityTopic,
	}
	if a.MQTT.Host != "" {
		s.Host = a.MQTT.Host
	}
	if a.MQTT.Port != 0 {
		s.Port = a.MQTT.Port
	}
	if a.MQTT.Username != "" {
		s.Username = a.MQTT.Username
		s.Password = a.MQTT.Password
	}
	if a.MQTT.ReconnectPeriod > 0 {
		s.ReconnectPeriod = time.Duration(a.MQTT.ReconnectPeriod) * time.Second
	}
	return s
}

func (a *AccessoryConfig) validate(index int) []string {
	var errs []string
	prefix := fmt.Sprintf("accessories[%d]", index)

	if a.UpdateInterval < 0 {
		errs = append(errs, prefix+".update_interval must not be negative")
	}
	if a.StatusInterval < 0 {
		errs = append(errs, prefix+".status_interval must not be negative")
	}
	if a.MQTT.Port < 0 || a.MQTT.Port > 65535 {
		errs = append(errs, prefix+".mqtt.port must be between 0 and 65535")
	}

	urls := []struct {
		key, value string
	}{
		{"url_on", a.URLOn},
		{"url_off", a.URLOff},
		{"url_status", a.URLStatus},
		{"sensor_url", a.SensorURL},
		{"notify.webhook_url", a.Notify.WebhookURL},
	}
	for _, u := range urls {
		if u.value == "" {
			continue
		}
		if err := validateHTTPURL(u.value); err != nil {
			errs = append(errs, fmt.Sprintf("%s.%s: %v", prefix, u.key, err))
		}
	}

	return errs
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("host is required")
	}
	return nil
}
