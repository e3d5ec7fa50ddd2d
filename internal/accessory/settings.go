package accessory

import (
	"time"

	"github.com/kreso975/homebridge-http-sensors-switches/internal/infrastructure/config"
)

// Metadata defaults for accessories that leave them unset.
const (
	DefaultManufacturer   = "Stergo"
	DefaultStateName      = "POWER"
	DefaultOnStatusValue  = "ON"
	DefaultOffStatusValue = "OFF"
)

// Settings is everything a Controller needs to know about one device.
type Settings struct {
	Identity Identity
	// TypeKnown is false when the configured type is missing or unrecognised.
	TypeKnown bool

	URLOn          string
	URLOff         string
	URLStatus      string
	StateName      string
	OnStatusValue  string
	OffStatusValue string
	StatusInterval time.Duration

	SensorURL       string
	TemperatureName string
	HumidityName    string
	UpdateInterval  time.Duration

	SwitchTopic      string
	TemperatureTopic string
	HumidityTopic    string
}

// SettingsFromConfig resolves identity defaults and status literals for a
// configured accessory. firmware is used when the accessory has none.
func SettingsFromConfig(a config.AccessoryConfig, firmware string) Settings {
	typ, known := ParseDeviceType(a.DeviceType)

	id := Identity{
		ID:              a.ResolvedID(),
		Name:            a.ResolvedName(),
		Type:            typ,
		Manufacturer:    firstNonEmpty(a.Manufacturer, DefaultManufacturer),
		Model:           firstNonEmpty(a.Model, string(typ)),
		FirmwareVersion: firstNonEmpty(a.FirmwareVersion, firmware),
	}
	id.SerialNumber = firstNonEmpty(a.SerialNumber, id.ID)

	return Settings{
		Identity:  id,
		TypeKnown: known,

		URLOn:          a.URLOn,
		URLOff:         a.URLOff,
		URLStatus:      a.URLStatus,
		StateName:      firstNonEmpty(a.StateName, DefaultStateName),
		OnStatusValue:  firstNonEmpty(a.OnStatusValue, DefaultOnStatusValue),
		OffStatusValue: firstNonEmpty(a.OffStatusValue, DefaultOffStatusValue),
		StatusInterval: durationOr(a.StatusInterval, DefaultStatusInterval),

		SensorURL:       a.SensorURL,
		TemperatureName: a.TemperatureName,
		HumidityName:    a.HumidityName,
		UpdateInterval:  durationOr(a.UpdateInterval, DefaultSensorInterval),

		SwitchTopic:      a.MQTT.SwitchTopic,
		TemperatureTopic: a.MQTT.TemperatureTopic,
		HumidityTopic:    a.MQTT.HumidityTopic,
	}
}

// Capabilities derives what the accessory can do from which fields are set.
// Switch capabilities apply only to switches and readings only to sensors.
func (s Settings) Capabilities() Capabilities {
	var c Capabilities
	if !s.TypeKnown {
		return c
	}

	switch s.Identity.Type {
	case DeviceTypeSwitch:
		c.HTTPCommand = s.URLOn != "" && s.URLOff != ""
		c.HTTPStatus = s.URLStatus != ""
		c.MQTTCommand = s.SwitchTopic != ""
		c.MQTTStatus = s.SwitchTopic != ""
	case DeviceTypeSensor:
		c.HTTPStatus = s.SensorURL != "" && (s.TemperatureName != "" || s.HumidityName != "")
		c.MQTTStatus = s.TemperatureTopic != "" || s.HumidityTopic != ""
		c.TemperatureReport = (s.SensorURL != "" && s.TemperatureName != "") || s.TemperatureTopic != ""
		c.HumidityReport = (s.SensorURL != "" && s.HumidityName != "") || s.HumidityTopic != ""
	}
	return c
}

// NeedsBus reports whether the accessory uses a message bus session.
func (s Settings) NeedsBus() bool {
	c := s.Capabilities()
	return c.MQTTCommand || c.MQTTStatus
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func durationOr(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}
