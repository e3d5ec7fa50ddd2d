package accessory

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ControllerConfig wires one accessory to its collaborators.
type ControllerConfig struct {
	Settings Settings
	Host     Host

	// HTTPClient is shared by pollers and the dispatcher. Nil selects
	// http.DefaultClient.
	HTTPClient HTTPDoer

	// MQTT is the accessory's own bus session. It is required when the
	// settings name any topic and ignored otherwise.
	MQTT MQTTClient
	QoS  byte

	// Notifier and Repository are optional.
	Notifier   Notifier
	Repository StateRepository

	Logger Logger
}

// Controller drives one accessory through its lifecycle.
//
// It registers the accessory with the host, restores its last-known state,
// starts a poller and/or bus subscriber for each configured source, and
// routes host writes to the dispatcher. An accessory without a known
// device type stays in PhaseUninitialized and does nothing.
type Controller struct {
	cfg    ControllerConfig
	logger Logger
	caps   Capabilities

	store      *Store
	dispatcher *Dispatcher
	pollers    []*Poller
	subscriber *Subscriber
	writer     *snapshotWriter

	mu       sync.RWMutex
	phase    Phase
	services map[ServiceType]bool
}

// Status is a point-in-time view of a controller.
type Status struct {
	Identity     Identity     `json:"identity"`
	Phase        Phase        `json:"phase"`
	Capabilities Capabilities `json:"capabilities"`
	State        State        `json:"state"`
	CanCommand   bool         `json:"can_command"`
	BusConnected *bool        `json:"bus_connected,omitempty"`
}

// NewController validates cfg. Nothing is registered or started until Start.
func NewController(cfg ControllerConfig) (*Controller, error) {
	if cfg.Host == nil {
		return nil, fmt.Errorf("accessory %s: host is required", cfg.Settings.Identity.Name)
	}
	if cfg.Settings.Identity.ID == "" {
		return nil, fmt.Errorf("accessory %s: id is required", cfg.Settings.Identity.Name)
	}

	c := &Controller{
		cfg:      cfg,
		logger:   orNoop(cfg.Logger),
		caps:     cfg.Settings.Capabilities(),
		store:    NewStore(State{}),
		phase:    PhaseUninitialized,
		services: make(map[ServiceType]bool),
	}

	if cfg.Settings.TypeKnown && cfg.Settings.NeedsBus() && cfg.MQTT == nil {
		return nil, fmt.Errorf("accessory %s: mqtt topics configured but no mqtt session", cfg.Settings.Identity.Name)
	}

	return c, nil
}

// Start registers the accessory and starts its subsystems. They run until
// ctx is cancelled. Start returns nil for an accessory without a known
// device type, which stays inert.
func (c *Controller) Start(ctx context.Context) error {
	s := c.cfg.Settings
	if !s.TypeKnown {
		c.logger.Warn("no usable device type, accessory stays inert", "accessory", s.Identity.Name)
		return nil
	}

	c.setPhase(PhaseConfiguring)

	if err := c.cfg.Host.RegisterAccessory(s.Identity); err != nil {
		return fmt.Errorf("registering accessory %s: %w", s.Identity.Name, err)
	}

	var err error
	switch s.Identity.Type {
	case DeviceTypeSwitch:
		err = c.configureSwitch(ctx)
	case DeviceTypeSensor:
		err = c.configureSensor(ctx)
	}
	if err != nil {
		return err
	}

	c.store.SetObserver(c.handleChange)

	if c.cfg.Repository != nil {
		c.writer = newSnapshotWriter(c.cfg.Repository, s.Identity, c.logger)
		c.restore(ctx)
		go c.writer.run(ctx)
	}

	for _, p := range c.pollers {
		p.Start(ctx)
	}
	if c.subscriber != nil {
		c.subscriber.Start()
	}

	c.setPhase(PhaseActive)
	c.logger.Info("accessory active",
		"accessory", s.Identity.Name,
		"type", s.Identity.Type,
		"pollers", len(c.pollers),
		"bus", c.subscriber != nil,
	)
	return nil
}

func (c *Controller) configureSwitch(ctx context.Context) error {
	s := c.cfg.Settings

	d, err := NewDispatcher(DispatcherConfig{
		Context:    ctx,
		Name:       s.Identity.Name,
		Store:      c.store,
		URLOn:      s.URLOn,
		URLOff:     s.URLOff,
		HTTPClient: c.cfg.HTTPClient,
		Topic:      s.SwitchTopic,
		MQTT:       c.publisher(),
		Notifier:   c.cfg.Notifier,
		Logger:     c.logger,
	})
	if err != nil {
		return err
	}
	c.dispatcher = d

	if err := c.addService(ServiceSwitch, s.Identity.Name); err != nil {
		return err
	}
	id := s.Identity.ID
	if err := c.cfg.Host.HandleGet(id, ServiceSwitch, CharacteristicOn, func() (any, error) {
		return c.store.Get().On, nil
	}); err != nil {
		return fmt.Errorf("registering get handler: %w", err)
	}
	if err := c.cfg.Host.HandleSet(id, ServiceSwitch, CharacteristicOn, c.handleSetOn); err != nil {
		return fmt.Errorf("registering set handler: %w", err)
	}

	if c.caps.HTTPStatus {
		p, err := NewPoller(PollerConfig{
			Name:     "switch status",
			URL:      s.URLStatus,
			Interval: s.StatusInterval,
			Client:   c.cfg.HTTPClient,
			Logger:   c.logger,
			Bindings: []Binding{{
				Field: s.StateName,
				Apply: func(doc Document) error {
					on, err := ExtractBool(doc, s.StateName, s.OnStatusValue, s.OffStatusValue)
					if err != nil {
						return err
					}
					c.store.SetOn(on, SourcePoll)
					return nil
				},
			}},
		})
		if err != nil {
			return err
		}
		c.pollers = append(c.pollers, p)
	}

	if c.caps.MQTTStatus {
		return c.configureSubscriber([]Route{{
			Topic: s.SwitchTopic,
			Apply: func(payload []byte) error {
				on, err := ParseSwitchPayload(payload)
				if err != nil {
					return err
				}
				c.store.SetOn(on, SourceBus)
				return nil
			},
		}})
	}
	return nil
}

func (c *Controller) configureSensor(ctx context.Context) error {
	s := c.cfg.Settings
	id := s.Identity.ID

	if c.caps.TemperatureReport {
		if err := c.addService(ServiceTemperatureSensor, s.Identity.Name+" Temperature"); err != nil {
			return err
		}
		if err := c.cfg.Host.HandleGet(id, ServiceTemperatureSensor, CharacteristicCurrentTemperature, func() (any, error) {
			return c.store.Get().Temperature, nil
		}); err != nil {
			return fmt.Errorf("registering get handler: %w", err)
		}
	}
	if c.caps.HumidityReport {
		if err := c.addService(ServiceHumiditySensor, s.Identity.Name+" Humidity"); err != nil {
			return err
		}
		if err := c.cfg.Host.HandleGet(id, ServiceHumiditySensor, CharacteristicCurrentRelativeHumidity, func() (any, error) {
			return c.store.Get().Humidity, nil
		}); err != nil {
			return fmt.Errorf("registering get handler: %w", err)
		}
	}
	if !c.caps.TemperatureReport && !c.caps.HumidityReport {
		c.logger.Warn("sensor has no temperature or humidity source", "accessory", s.Identity.Name)
	}

	var bindings []Binding
	if s.SensorURL != "" && s.TemperatureName != "" {
		bindings = append(bindings, Binding{
			Field: s.TemperatureName,
			Apply: func(doc Document) error {
				v, err := ExtractNumber(doc, s.TemperatureName)
				if err != nil {
					return err
				}
				c.store.SetTemperature(v, SourcePoll)
				return nil
			},
		})
	}
	if s.SensorURL != "" && s.HumidityName != "" {
		bindings = append(bindings, Binding{
			Field: s.HumidityName,
			Apply: func(doc Document) error {
				v, err := ExtractNumber(doc, s.HumidityName)
				if err != nil {
					return err
				}
				c.store.SetHumidity(v, SourcePoll)
				return nil
			},
		})
	}
	if len(bindings) > 0 {
		p, err := NewPoller(PollerConfig{
			Name:     "sensor",
			URL:      s.SensorURL,
			Interval: s.UpdateInterval,
			Client:   c.cfg.HTTPClient,
			Logger:   c.logger,
			Bindings: bindings,
		})
		if err != nil {
			return err
		}
		c.pollers = append(c.pollers, p)
	}

	var routes []Route
	if s.TemperatureTopic != "" {
		routes = append(routes, Route{
			Topic: s.TemperatureTopic,
			Apply: func(payload []byte) error {
				v, err := ParseNumberPayload(payload)
				if err != nil {
					return err
				}
				c.store.SetTemperature(v, SourceBus)
				return nil
			},
		})
	}
	if s.HumidityTopic != "" {
		routes = append(routes, Route{
			Topic: s.HumidityTopic,
			Apply: func(payload []byte) error {
				v, err := ParseNumberPayload(payload)
				if err != nil {
					return err
				}
				c.store.SetHumidity(v, SourceBus)
				return nil
			},
		})
	}
	if len(routes) > 0 {
		return c.configureSubscriber(routes)
	}
	return nil
}

func (c *Controller) configureSubscriber(routes []Route) error {
	sub, err := NewSubscriber(SubscriberConfig{
		Name:   c.cfg.Settings.Identity.Name,
		Client: c.cfg.MQTT,
		QoS:    c.cfg.QoS,
		Routes: routes,
		Logger: c.logger,
	})
	if err != nil {
		return err
	}
	c.subscriber = sub
	return nil
}

func (c *Controller) addService(service ServiceType, name string) error {
	if err := c.cfg.Host.AddService(c.cfg.Settings.Identity.ID, service, name); err != nil {
		return fmt.Errorf("adding %s service: %w", service, err)
	}
	c.mu.Lock()
	c.services[service] = true
	c.mu.Unlock()
	return nil
}

func (c *Controller) publisher() Publisher {
	if c.cfg.MQTT == nil {
		return nil
	}
	return c.cfg.MQTT
}

func (c *Controller) restore(ctx context.Context) {
	saved, err := c.cfg.Repository.Load(ctx, c.cfg.Settings.Identity.ID)
	switch {
	case errors.Is(err, ErrNotFound):
		c.logger.Debug("no saved state", "accessory", c.cfg.Settings.Identity.Name)
	case err != nil:
		c.logger.Warn("loading saved state failed", "accessory", c.cfg.Settings.Identity.Name, "error", err)
	default:
		c.store.Restore(saved)
	}
}

// handleChange pushes a changed field to the host and queues a snapshot.
// It runs under the store lock.
func (c *Controller) handleChange(ch Change) {
	service, characteristic := characteristicFor(ch.Field)

	c.mu.RLock()
	registered := c.services[service]
	c.mu.RUnlock()

	if registered {
		c.cfg.Host.UpdateCharacteristic(c.cfg.Settings.Identity.ID, service, characteristic, fieldValue(ch.Current, ch.Field))
	}
	if c.writer != nil {
		c.writer.queue(ch.Current)
	}
}

func (c *Controller) handleSetOn(value any) error {
	on, ok := value.(bool)
	if !ok {
		return fmt.Errorf("%w: On wants bool, got %T", ErrInvalidValue, value)
	}
	_, err := c.SetState(on)
	return err
}

// SetState commands a switch. See Dispatcher.SetState.
func (c *Controller) SetState(on bool) (<-chan CommandResult, error) {
	if c.dispatcher == nil {
		return nil, ErrCommandNotConfigured
	}
	return c.dispatcher.SetState(on)
}

// Wait blocks until pollers, in-flight commands and the snapshot writer have
// stopped. Call it after cancelling the context passed to Start.
func (c *Controller) Wait() {
	for _, p := range c.pollers {
		p.Wait()
	}
	if c.dispatcher != nil {
		c.dispatcher.Wait()
	}
	if c.writer != nil && c.Phase() == PhaseActive {
		c.writer.wait()
		// A rollback that settled after the writer stopped is still pending.
		c.writer.flush()
	}
}

// Phase returns the current lifecycle phase.
func (c *Controller) Phase() Phase {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.phase
}

func (c *Controller) setPhase(p Phase) {
	c.mu.Lock()
	c.phase = p
	c.mu.Unlock()
}

// Identity returns the accessory's identity.
func (c *Controller) Identity() Identity {
	return c.cfg.Settings.Identity
}

// Capabilities returns what the accessory is configured to do.
func (c *Controller) Capabilities() Capabilities {
	return c.caps
}

// State returns a copy of the current state.
func (c *Controller) State() State {
	return c.store.Get()
}

// Status returns a snapshot of the controller for diagnostics.
func (c *Controller) Status() Status {
	st := Status{
		Identity:     c.Identity(),
		Phase:        c.Phase(),
		Capabilities: c.caps,
		State:        c.State(),
		CanCommand:   c.dispatcher != nil && c.dispatcher.CanCommand(),
	}
	if c.cfg.MQTT != nil && c.subscriber != nil {
		connected := c.cfg.MQTT.IsConnected()
		st.BusConnected = &connected
	}
	return st
}
