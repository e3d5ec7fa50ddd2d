package accessory

import (
	"strings"
	"time"
)

// DeviceType is the kind of physical device an accessory represents.
type DeviceType string

// Device types.
const (
	DeviceTypeSwitch DeviceType = "Switch"
	DeviceTypeSensor DeviceType = "Sensor"
)

// ParseDeviceType maps a configured type name to a DeviceType.
// The match ignores case and surrounding space; anything else is unknown.
func ParseDeviceType(s string) (DeviceType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "switch":
		return DeviceTypeSwitch, true
	case "sensor":
		return DeviceTypeSensor, true
	default:
		return "", false
	}
}

// Identity is the immutable metadata an accessory registers with the host.
type Identity struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Type            DeviceType `json:"type"`
	Manufacturer    string     `json:"manufacturer"`
	Model           string     `json:"model"`
	SerialNumber    string     `json:"serial_number"`
	FirmwareVersion string     `json:"firmware_version"`
}

// Capabilities records which state sources and command sinks are configured.
// A subsystem is started only for a capability that is present.
type Capabilities struct {
	HTTPCommand       bool `json:"http_command"`
	HTTPStatus        bool `json:"http_status"`
	MQTTCommand       bool `json:"mqtt_command"`
	MQTTStatus        bool `json:"mqtt_status"`
	TemperatureReport bool `json:"temperature_report"`
	HumidityReport    bool `json:"humidity_report"`
}

// Source tags the origin of the most recent state write.
type Source string

// State sources.
const (
	SourceInitial Source = "initial"
	SourceCommand Source = "command"
	SourcePoll    Source = "poll"
	SourceBus     Source = "bus"
)

// Field names one value held in State.
type Field string

// State fields.
const (
	FieldOn          Field = "on"
	FieldTemperature Field = "temperature"
	FieldHumidity    Field = "humidity"
)

// State is the bridge's belief about a device. Values are copied, never shared.
type State struct {
	On          bool      `json:"on"`
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidity"`
	LastUpdated time.Time `json:"last_updated"`
	Source      Source    `json:"source"`
}

// Change describes one applied write.
type Change struct {
	Field    Field
	Previous State
	Current  State
}

// Phase is an accessory's position in its lifecycle.
type Phase string

// Lifecycle phases. An accessory without a known type never leaves
// PhaseUninitialized.
const (
	PhaseUninitialized Phase = "uninitialized"
	PhaseConfiguring   Phase = "configuring"
	PhaseActive        Phase = "active"
)

// PendingCommand is a command between its optimistic write and settlement.
type PendingCommand struct {
	Desired  bool
	Previous State
	URL      string
	Topic    string
	Payload  []byte
	IssuedAt time.Time
}

// CommandResult is delivered once when a command's dispatch settles.
type CommandResult struct {
	Command    PendingCommand
	Err        error
	RolledBack bool
}

// Logger is the logging interface used throughout the package.
// *logging.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

func orNoop(l Logger) Logger {
	if l == nil {
		return noopLogger{}
	}
	return l
}

// Notifier announces command outcomes to people. Implementations must not
// block the caller and must swallow their own delivery errors.
type Notifier interface {
	Announce(deviceName, message string)
}
