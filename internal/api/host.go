package api

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kreso975/homebridge-http-sensors-switches/internal/accessory"
	"github.com/kreso975/homebridge-http-sensors-switches/internal/infrastructure/logging"
)

// ChannelCharacteristicChanged is the WebSocket channel carrying every
// characteristic update pushed by an accessory.
const ChannelCharacteristicChanged = "characteristic.changed"

// Host binding errors.
var (
	ErrAccessoryExists         = errors.New("api: accessory already registered")
	ErrAccessoryNotFound       = errors.New("api: accessory not found")
	ErrServiceNotFound         = errors.New("api: service not found")
	ErrCharacteristicNotFound  = errors.New("api: characteristic not found")
	ErrCharacteristicReadOnly  = errors.New("api: characteristic is read-only")
	ErrInvalidRegistrationArgs = errors.New("api: invalid registration")
)

// Broadcaster fans characteristic changes out to connected clients. It must
// not block.
type Broadcaster interface {
	BroadcastChange(ev CharacteristicEvent)
}

// CharacteristicEvent is broadcast on ChannelCharacteristicChanged.
type CharacteristicEvent struct {
	AccessoryID    string                   `json:"accessory_id"`
	Service        accessory.ServiceType    `json:"service"`
	Characteristic accessory.Characteristic `json:"characteristic"`
	Value          any                      `json:"value"`
}

// Host is the HTTP host binding. Accessories register their services and
// characteristics here; the API serves reads and writes from it and relays
// updates to WebSocket clients.
//
// Handlers are always called without the host lock held, because they read
// or write accessory stores whose observers call back into UpdateCharacteristic.
type Host struct {
	logger *logging.Logger

	mu          sync.RWMutex
	accessories map[string]*hostedAccessory
	events      Broadcaster
}

type hostedAccessory struct {
	identity accessory.Identity
	services map[accessory.ServiceType]*hostedService
}

type hostedService struct {
	name            string
	characteristics map[accessory.Characteristic]*hostedCharacteristic
}

type hostedCharacteristic struct {
	get       accessory.GetHandler
	set       accessory.SetHandler
	value     any
	updatedAt time.Time
}

// AccessoryView is the API representation of a registered accessory.
type AccessoryView struct {
	accessory.Identity
	Services []ServiceView    `json:"services"`
	Status   *accessory.Status `json:"status,omitempty"`
}

// ServiceView is the API representation of one service.
type ServiceView struct {
	Type            accessory.ServiceType `json:"type"`
	Name            string                `json:"name"`
	Characteristics []CharacteristicView  `json:"characteristics"`
}

// CharacteristicView is the last value pushed for a characteristic.
type CharacteristicView struct {
	Type      accessory.Characteristic `json:"type"`
	Value     any                      `json:"value"`
	Writable  bool                     `json:"writable"`
	UpdatedAt *time.Time               `json:"updated_at,omitempty"`
}

// NewHost creates an empty host binding.
func NewHost(logger *logging.Logger) *Host {
	if logger == nil {
		logger = logging.Default()
	}
	return &Host{
		logger:      logger,
		accessories: make(map[string]*hostedAccessory),
	}
}

// SetBroadcaster routes characteristic updates to b.
func (h *Host) SetBroadcaster(b Broadcaster) {
	h.mu.Lock()
	h.events = b
	h.mu.Unlock()
}

// RegisterAccessory adds an accessory. IDs must be unique.
func (h *Host) RegisterAccessory(identity accessory.Identity) error {
	if identity.ID == "" {
		return fmt.Errorf("%w: accessory id is required", ErrInvalidRegistrationArgs)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.accessories[identity.ID]; ok {
		return fmt.Errorf("%w: %s", ErrAccessoryExists, identity.ID)
	}
	h.accessories[identity.ID] = &hostedAccessory{
		identity: identity,
		services: make(map[accessory.ServiceType]*hostedService),
	}
	h.logger.Info("accessory registered", "accessory", identity.Name, "accessory_id", identity.ID, "type", identity.Type)
	return nil
}

// AddService adds a service to a registered accessory.
func (h *Host) AddService(accessoryID string, service accessory.ServiceType, name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	a, ok := h.accessories[accessoryID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAccessoryNotFound, accessoryID)
	}
	if _, ok := a.services[service]; ok {
		return fmt.Errorf("%w: service %s already added", ErrInvalidRegistrationArgs, service)
	}
	a.services[service] = &hostedService{
		name:            name,
		characteristics: make(map[accessory.Characteristic]*hostedCharacteristic),
	}
	return nil
}

// HandleGet installs the read handler for a characteristic.
func (h *Host) HandleGet(accessoryID string, service accessory.ServiceType, ch accessory.Characteristic, fn accessory.GetHandler) error {
	if fn == nil {
		return fmt.Errorf("%w: nil get handler", ErrInvalidRegistrationArgs)
	}
	return h.withCharacteristic(accessoryID, service, ch, true, func(c *hostedCharacteristic) {
		c.get = fn
	})
}

// HandleSet installs the write handler for a characteristic.
func (h *Host) HandleSet(accessoryID string, service accessory.ServiceType, ch accessory.Characteristic, fn accessory.SetHandler) error {
	if fn == nil {
		return fmt.Errorf("%w: nil set handler", ErrInvalidRegistrationArgs)
	}
	return h.withCharacteristic(accessoryID, service, ch, true, func(c *hostedCharacteristic) {
		c.set = fn
	})
}

// UpdateCharacteristic records a pushed value and broadcasts it.
// Updates for unknown characteristics are dropped.
func (h *Host) UpdateCharacteristic(accessoryID string, service accessory.ServiceType, ch accessory.Characteristic, value any) {
	err := h.withCharacteristic(accessoryID, service, ch, true, func(c *hostedCharacteristic) {
		c.value = value
		c.updatedAt = time.Now().UTC()
	})
	if err != nil {
		h.logger.Debug("dropping update", "accessory_id", accessoryID, "service", service, "characteristic", ch, "error", err)
		return
	}

	h.mu.RLock()
	events := h.events
	h.mu.RUnlock()

	if events != nil {
		events.BroadcastChange(CharacteristicEvent{
			AccessoryID:    accessoryID,
			Service:        service,
			Characteristic: ch,
			Value:          value,
		})
	}
}

// Read answers a host read through the characteristic's get handler, or
// the last pushed value when there is none.
func (h *Host) Read(accessoryID string, service accessory.ServiceType, ch accessory.Characteristic) (any, error) {
	var (
		get   accessory.GetHandler
		value any
	)
	err := h.withCharacteristic(accessoryID, service, ch, false, func(c *hostedCharacteristic) {
		get = c.get
		value = c.value
	})
	if err != nil {
		return nil, err
	}
	if get == nil {
		return value, nil
	}
	return get()
}

// Write passes a host write to the characteristic's set handler.
func (h *Host) Write(accessoryID string, service accessory.ServiceType, ch accessory.Characteristic, value any) error {
	var set accessory.SetHandler
	err := h.withCharacteristic(accessoryID, service, ch, false, func(c *hostedCharacteristic) {
		set = c.set
	})
	if err != nil {
		return err
	}
	if set == nil {
		return fmt.Errorf("%w: %s.%s", ErrCharacteristicReadOnly, service, ch)
	}
	return set(value)
}

// Accessories returns every registered accessory sorted by name.
func (h *Host) Accessories() []AccessoryView {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]AccessoryView, 0, len(h.accessories))
	for _, a := range h.accessories {
		out = append(out, a.view())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].ID < out[j].ID
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Accessory returns one registered accessory.
func (h *Host) Accessory(id string) (AccessoryView, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	a, ok := h.accessories[id]
	if !ok {
		return AccessoryView{}, fmt.Errorf("%w: %s", ErrAccessoryNotFound, id)
	}
	return a.view(), nil
}

// withCharacteristic runs fn on a characteristic under the host lock.
// create adds the characteristic to an existing service when missing.
func (h *Host) withCharacteristic(accessoryID string, service accessory.ServiceType, ch accessory.Characteristic, create bool, fn func(*hostedCharacteristic)) error {
	if create {
		h.mu.Lock()
		defer h.mu.Unlock()
	} else {
		h.mu.RLock()
		defer h.mu.RUnlock()
	}

	a, ok := h.accessories[accessoryID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAccessoryNotFound, accessoryID)
	}
	svc, ok := a.services[service]
	if !ok {
		return fmt.Errorf("%w: %s", ErrServiceNotFound, service)
	}
	c, ok := svc.characteristics[ch]
	if !ok {
		if !create {
			return fmt.Errorf("%w: %s", ErrCharacteristicNotFound, ch)
		}
		c = &hostedCharacteristic{}
		svc.characteristics[ch] = c
	}
	fn(c)
	return nil
}

func (a *hostedAccessory) view() AccessoryView {
	v := AccessoryView{Identity: a.identity}
	for typ, svc := range a.services {
		sv := ServiceView{Type: typ, Name: svc.name}
		for chType, c := range svc.characteristics {
			cv := CharacteristicView{Type: chType, Value: c.value, Writable: c.set != nil}
			if !c.updatedAt.IsZero() {
				t := c.updatedAt
				cv.UpdatedAt = &t
			}
			sv.Characteristics = append(sv.Characteristics, cv)
		}
		sort.Slice(sv.Characteristics, func(i, j int) bool {
			return sv.Characteristics[i].Type < sv.Characteristics[j].Type
		})
		v.Services = append(v.Services, sv)
	}
	sort.Slice(v.Services, func(i, j int) bool { return v.Services[i].Type < v.Services[j].Type })
	return v
}
