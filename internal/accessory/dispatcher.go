package accessory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// commandQoS and commandRetained apply to every bus command so a device
// that reconnects later still receives the last one.
const (
	commandQoS      = 1
	commandRetained = true
)

// Publisher is the publish half of MQTTClient.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	// Context bounds in-flight dispatches; cancelling it abandons them.
	Context context.Context

	Name  string
	Store *Store

	URLOn      string
	URLOff     string
	HTTPClient HTTPDoer
	// Timeout bounds each command request. Zero selects DefaultRequestTimeout.
	Timeout time.Duration

	Topic string
	MQTT  Publisher

	Notifier Notifier
	Logger   Logger
}

// Dispatcher applies host commands to a switch.
//
// A command is written to the store before it is sent, so the host sees the
// new value at once. The send runs in the background. If any transport fails
// the pre-command value is written back and one notification goes out. A
// send cut short by shutdown leaves the optimistic value in place and
// announces nothing.
type Dispatcher struct {
	cfg    DispatcherConfig
	logger Logger
	now    func() time.Time
	wg     sync.WaitGroup
}

// NewDispatcher fills defaults. A dispatcher without any usable endpoint is
// valid; its SetState refuses every command.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("dispatcher %s: store is required", cfg.Name)
	}
	if cfg.Context == nil {
		cfg.Context = context.Background()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRequestTimeout
	}

	return &Dispatcher{
		cfg:    cfg,
		logger: orNoop(cfg.Logger),
		now:    time.Now,
	}, nil
}

func (d *Dispatcher) httpReady() bool {
	return d.cfg.URLOn != "" && d.cfg.URLOff != ""
}

func (d *Dispatcher) mqttReady() bool {
	return d.cfg.Topic != "" && d.cfg.MQTT != nil
}

// CanCommand reports whether SetState would accept a command.
func (d *Dispatcher) CanCommand() bool {
	return d.httpReady() || d.mqttReady()
}

// SetState commands the switch to desiredOn.
//
// It returns ErrCommandNotConfigured, with no write and no network call,
// when neither both HTTP URLs nor an MQTT topic are set. Otherwise the store
// already holds desiredOn when SetState returns, and the returned channel
// receives exactly one CommandResult once dispatch settles.
func (d *Dispatcher) SetState(desiredOn bool) (<-chan CommandResult, error) {
	if !d.CanCommand() {
		d.logger.Warn("ignoring command, no command endpoint configured", "accessory", d.cfg.Name)
		return nil, ErrCommandNotConfigured
	}

	cmd := PendingCommand{
		Desired:  desiredOn,
		Previous: d.cfg.Store.Get(),
		IssuedAt: d.now(),
	}
	if d.httpReady() {
		cmd.URL = d.cfg.URLOff
		if desiredOn {
			cmd.URL = d.cfg.URLOn
		}
	}
	if d.mqttReady() {
		cmd.Topic = d.cfg.Topic
		cmd.Payload = SwitchPayload(desiredOn)
	}

	changed := d.cfg.Store.SetOn(desiredOn, SourceCommand)
	d.logger.Debug("command applied optimistically",
		"accessory", d.cfg.Name,
		"on", desiredOn,
		"changed", changed,
	)

	done := make(chan CommandResult, 1)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer close(done)
		done <- d.settle(cmd, changed)
	}()

	return done, nil
}

// Wait blocks until every in-flight dispatch has settled.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) settle(cmd PendingCommand, changed bool) CommandResult {
	published, err := d.send(cmd)
	result := CommandResult{Command: cmd, Err: err}

	if err == nil {
		d.logger.Info("command delivered", "accessory", d.cfg.Name, "on", cmd.Desired)
		if changed {
			d.announce(fmt.Sprintf("%s is %s", d.cfg.Name, onOff(cmd.Desired)))
		}
		return result
	}

	if errors.Is(err, context.Canceled) && d.cfg.Context.Err() != nil {
		d.logger.Info("command abandoned at shutdown", "accessory", d.cfg.Name, "on", cmd.Desired)
		return result
	}

	d.cfg.Store.SetOn(cmd.Previous.On, SourceCommand)
	result.RolledBack = true
	if published {
		d.retract(cmd)
	}

	d.logger.Warn("command failed, state rolled back",
		"accessory", d.cfg.Name,
		"desired", cmd.Desired,
		"restored", cmd.Previous.On,
		"error", err,
	)
	d.announce(fmt.Sprintf("Switching %s %s failed, %s is %s",
		d.cfg.Name, onOff(cmd.Desired), d.cfg.Name, onOff(cmd.Previous.On)))

	return result
}

// send delivers cmd over HTTP, then over the bus. The bus command is
// retained, so it is only published once the HTTP leg has succeeded.
// published reports whether a publish was attempted.
func (d *Dispatcher) send(cmd PendingCommand) (published bool, err error) {
	if cmd.URL != "" {
		if err := d.get(cmd.URL); err != nil {
			return false, err
		}
	}
	if cmd.Topic == "" {
		return false, nil
	}
	if err := d.cfg.MQTT.Publish(cmd.Topic, cmd.Payload, commandQoS, commandRetained); err != nil {
		return true, fmt.Errorf("%w: publish %s: %w", ErrTransport, cmd.Topic, err)
	}
	return true, nil
}

// retract replaces a possibly retained command with the restored value.
func (d *Dispatcher) retract(cmd PendingCommand) {
	payload := SwitchPayload(cmd.Previous.On)
	if err := d.cfg.MQTT.Publish(cmd.Topic, payload, commandQoS, commandRetained); err != nil {
		d.logger.Warn("retained command not retracted",
			"accessory", d.cfg.Name,
			"topic", cmd.Topic,
			"error", err,
		)
	}
}

func (d *Dispatcher) get(url string) error {
	ctx, cancel := context.WithTimeout(d.cfg.Context, d.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%w: building request: %w", ErrTransport, err)
	}

	resp, err := d.cfg.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxDocumentSize)) //nolint:errcheck // draining for reuse

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: status %d", ErrTransport, resp.StatusCode)
	}
	return nil
}

func (d *Dispatcher) announce(message string) {
	if d.cfg.Notifier == nil {
		return
	}
	d.cfg.Notifier.Announce(d.cfg.Name, message)
}

func onOff(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}
