package accessory

// ServiceType names a group of characteristics exposed to the host.
type ServiceType string

// Services registered by accessories.
const (
	ServiceSwitch            ServiceType = "Switch"
	ServiceTemperatureSensor ServiceType = "TemperatureSensor"
	ServiceHumiditySensor    ServiceType = "HumiditySensor"
)

// Characteristic names one host-visible value within a service.
type Characteristic string

// Characteristics registered by accessories.
const (
	CharacteristicOn                      Characteristic = "On"
	CharacteristicCurrentTemperature      Characteristic = "CurrentTemperature"
	CharacteristicCurrentRelativeHumidity Characteristic = "CurrentRelativeHumidity"
)

// GetHandler answers a host read. It must not block on the network.
type GetHandler func() (any, error)

// SetHandler applies a host write. It must return before any network I/O
// completes.
type SetHandler func(value any) error

// Host is the home-automation host an accessory registers with.
//
// UpdateCharacteristic is called while an accessory's store lock is held and
// must not call back into the accessory.
type Host interface {
	RegisterAccessory(identity Identity) error
	AddService(accessoryID string, service ServiceType, name string) error
	HandleGet(accessoryID string, service ServiceType, ch Characteristic, fn GetHandler) error
	HandleSet(accessoryID string, service ServiceType, ch Characteristic, fn SetHandler) error
	UpdateCharacteristic(accessoryID string, service ServiceType, ch Characteristic, value any)
}

// characteristicFor maps a state field to the service and characteristic
// that expose it.
func characteristicFor(field Field) (ServiceType, Characteristic) {
	switch field {
	case FieldOn:
		return ServiceSwitch, CharacteristicOn
	case FieldTemperature:
		return ServiceTemperatureSensor, CharacteristicCurrentTemperature
	case FieldHumidity:
		return ServiceHumiditySensor, CharacteristicCurrentRelativeHumidity
	default:
		return "", ""
	}
}

// fieldValue returns the host value of field in st.
func fieldValue(st State, field Field) any {
	switch field {
	case FieldOn:
		return st.On
	case FieldTemperature:
		return st.Temperature
	case FieldHumidity:
		return st.Humidity
	default:
		return nil
	}
}
