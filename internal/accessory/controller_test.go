package accessory

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func switchSettings(urlBase string) Settings {
	return Settings{
		Identity: Identity{
			ID:   "lamp-1",
			Name: "Lamp",
			Type: DeviceTypeSwitch,
		},
		TypeKnown:      true,
		URLOn:          urlBase + "/on",
		URLOff:         urlBase + "/off",
		URLStatus:      urlBase + "/status",
		StateName:      DefaultStateName,
		OnStatusValue:  DefaultOnStatusValue,
		OffStatusValue: DefaultOffStatusValue,
		StatusInterval: time.Hour,
	}
}

// deviceServer is a switch that answers /on, /off and /status.
type deviceServer struct {
	*httptest.Server
	mu          sync.Mutex
	on          bool
	failSet     bool
	statusPolls int
}

func newDeviceServer(t *testing.T, on bool) *deviceServer {
	t.Helper()
	d := &deviceServer{on: on}
	d.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d.mu.Lock()
		defer d.mu.Unlock()
		switch r.URL.Path {
		case "/on", "/off":
			if d.failSet {
				http.Error(w, "relay stuck", http.StatusInternalServerError)
				return
			}
			d.on = r.URL.Path == "/on"
		case "/status":
			d.statusPolls++
			fmt.Fprintf(w, `{"POWER":%q}`, onOff(d.on))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(d.Close)
	return d
}

func (d *deviceServer) polls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.statusPolls
}

func onPushes(host *fakeHost) []any {
	var values []any
	for _, u := range host.pushed() {
		if u.Characteristic == CharacteristicOn {
			values = append(values, u.Value)
		}
	}
	return values
}

func startController(t *testing.T, cfg ControllerConfig) (*Controller, context.CancelFunc) {
	t.Helper()
	c, err := NewController(cfg)
	if err != nil {
		t.Fatalf("NewController() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := c.Start(ctx); err != nil {
		cancel()
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		cancel()
		c.Wait()
	})
	return c, cancel
}

func TestNewController_Validation(t *testing.T) {
	if _, err := NewController(ControllerConfig{Settings: switchSettings("http://x")}); err == nil {
		t.Error("NewController() without host error = nil")
	}

	s := switchSettings("http://x")
	s.Identity.ID = ""
	if _, err := NewController(ControllerConfig{Settings: s, Host: newFakeHost()}); err == nil {
		t.Error("NewController() without id error = nil")
	}

	s = switchSettings("http://x")
	s.SwitchTopic = "home/lamp"
	if _, err := NewController(ControllerConfig{Settings: s, Host: newFakeHost()}); err == nil {
		t.Error("NewController() with topic but no mqtt error = nil")
	}
}

func TestController_UnknownTypeStaysInert(t *testing.T) {
	host := newFakeHost()
	s := switchSettings("http://x")
	s.TypeKnown = false
	s.Identity.Type = ""

	c, _ := startController(t, ControllerConfig{Settings: s, Host: host})

	if c.Phase() != PhaseUninitialized {
		t.Errorf("Phase() = %q, want %q", c.Phase(), PhaseUninitialized)
	}
	if len(host.identities) != 0 {
		t.Error("inert accessory registered with host")
	}
	if _, err := c.SetState(true); !errors.Is(err, ErrCommandNotConfigured) {
		t.Errorf("SetState() error = %v, want ErrCommandNotConfigured", err)
	}
}

func TestController_RegisterFailure(t *testing.T) {
	host := newFakeHost()
	host.registerErr = errBoom
	c, err := NewController(ControllerConfig{Settings: switchSettings("http://x"), Host: host})
	if err != nil {
		t.Fatalf("NewController() error = %v", err)
	}
	if err := c.Start(context.Background()); !errors.Is(err, errBoom) {
		t.Errorf("Start() error = %v, want errBoom", err)
	}
	if c.Phase() != PhaseConfiguring {
		t.Errorf("Phase() = %q, want %q", c.Phase(), PhaseConfiguring)
	}
}

// A host write turns the switch on; the device accepts it and the next
// status poll agrees.
func TestController_SwitchCommandSucceeds(t *testing.T) {
	dev := newDeviceServer(t, false)
	host := newFakeHost()
	n := &recordingNotifier{}

	settings := switchSettings(dev.URL)
	settings.URLStatus = ""
	c, _ := startController(t, ControllerConfig{
		Settings: settings,
		Host:     host,
		Notifier: n,
	})

	if c.Phase() != PhaseActive {
		t.Fatalf("Phase() = %q, want active", c.Phase())
	}
	if host.services[ServiceSwitch] != "Lamp" {
		t.Errorf("services = %v", host.services)
	}

	set := host.setter(CharacteristicOn)
	if set == nil {
		t.Fatal("no set handler registered")
	}
	if err := set(true); err != nil {
		t.Fatalf("set(true) error = %v", err)
	}

	get := host.getter(CharacteristicOn)
	if v, _ := get(); v != true {
		t.Errorf("get() = %v right after set, want true", v)
	}

	eventually(t, func() bool { return len(n.all()) == 1 }, "no notification")
	if msg := n.all()[0]; msg != "Lamp: Lamp is ON" {
		t.Errorf("notification = %q", msg)
	}
	if !c.State().On {
		t.Error("state = off after successful command")
	}
}

// The device rejects the command: the optimistic write is undone and the
// host sees on then off.
func TestController_SwitchCommandFailsAndRollsBack(t *testing.T) {
	dev := newDeviceServer(t, false)
	dev.failSet = true
	host := newFakeHost()
	n := &recordingNotifier{}

	settings := switchSettings(dev.URL)
	settings.URLStatus = ""
	c, _ := startController(t, ControllerConfig{
		Settings: settings,
		Host:     host,
		Notifier: n,
	})

	done, err := c.SetState(true)
	if err != nil {
		t.Fatalf("SetState() error = %v", err)
	}
	res := awaitResult(t, done)
	if !res.RolledBack {
		t.Fatalf("result = %+v, want rollback", res)
	}
	if c.State().On {
		t.Error("state = on after rollback")
	}

	onUpdates := onPushes(host)
	if len(onUpdates) != 2 || onUpdates[0] != true || onUpdates[1] != false {
		t.Errorf("host On updates = %v, want [true false]", onUpdates)
	}
	if msgs := n.all(); len(msgs) != 1 || msgs[0] != "Lamp: Switching Lamp ON failed, Lamp is OFF" {
		t.Errorf("notifications = %v", msgs)
	}
}

func TestController_StatusPollDrivesState(t *testing.T) {
	dev := newDeviceServer(t, true)
	host := newFakeHost()
	c, _ := startController(t, ControllerConfig{Settings: switchSettings(dev.URL), Host: host})

	eventually(t, func() bool { return c.State().On }, "status poll not applied")
	if got := c.State().Source; got != SourcePoll {
		t.Errorf("Source = %q, want %q", got, SourcePoll)
	}
	if !c.Capabilities().HTTPStatus || !c.Capabilities().HTTPCommand {
		t.Errorf("Capabilities() = %+v", c.Capabilities())
	}
}

// Repeated identical status documents reach the host once.
func TestController_RepeatedStatusPushesOnce(t *testing.T) {
	dev := newDeviceServer(t, true)
	host := newFakeHost()

	settings := switchSettings(dev.URL)
	settings.StatusInterval = 20 * time.Millisecond
	c, cancel := startController(t, ControllerConfig{Settings: settings, Host: host})

	eventually(t, func() bool { return dev.polls() >= 5 }, "device polled %d times, want 5", dev.polls())
	cancel()
	c.Wait()

	pushes := onPushes(host)
	if len(pushes) != 1 || pushes[0] != true {
		t.Errorf("host On updates = %v after %d polls, want [true]", pushes, dev.polls())
	}
}

// A switch commanded over HTTP and the bus: when the device rejects the
// command, nothing retained on the broker may switch it back on later.
func TestController_FailedCommandNotReplayedByBroker(t *testing.T) {
	dev := newDeviceServer(t, false)
	dev.failSet = true
	client := newFakeMQTT()
	host := newFakeHost()
	n := &recordingNotifier{}

	settings := switchSettings(dev.URL)
	settings.URLStatus = ""
	settings.SwitchTopic = "home/lamp"
	c, _ := startController(t, ControllerConfig{Settings: settings, Host: host, MQTT: client, QoS: 1, Notifier: n})
	client.connect()

	done, err := c.SetState(true)
	if err != nil {
		t.Fatalf("SetState() error = %v", err)
	}
	if res := awaitResult(t, done); !res.RolledBack {
		t.Fatalf("result = %+v, want rollback", res)
	}

	client.disconnect()
	client.connect()

	if c.State().On {
		t.Errorf("state = on after reconnect, want the rolled back off (published %+v)", client.publishes())
	}
	if msgs := n.all(); len(msgs) != 1 || msgs[0] != "Lamp: Switching Lamp ON failed, Lamp is OFF" {
		t.Errorf("notifications = %v", msgs)
	}
}

func TestController_SetHandlerRejectsNonBool(t *testing.T) {
	dev := newDeviceServer(t, false)
	host := newFakeHost()
	startController(t, ControllerConfig{Settings: switchSettings(dev.URL), Host: host})

	if err := host.setter(CharacteristicOn)("on"); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("set(\"on\") error = %v, want ErrInvalidValue", err)
	}
}

// A switch with only a bus topic: bus messages drive state and commands
// publish to the same topic.
func TestController_SwitchOverBus(t *testing.T) {
	client := newFakeMQTT()
	host := newFakeHost()

	s := Settings{
		Identity:    Identity{ID: "plug", Name: "Plug", Type: DeviceTypeSwitch},
		TypeKnown:   true,
		SwitchTopic: "home/plug",
	}
	c, _ := startController(t, ControllerConfig{Settings: s, Host: host, MQTT: client, QoS: 1})

	caps := c.Capabilities()
	if !caps.MQTTCommand || !caps.MQTTStatus || caps.HTTPStatus || caps.HTTPCommand {
		t.Errorf("Capabilities() = %+v", caps)
	}

	client.connect()
	client.deliver("home/plug", "home/plug", "1")
	if got := c.State(); !got.On || got.Source != SourceBus {
		t.Errorf("state = %+v, want on from bus", got)
	}

	done, err := c.SetState(false)
	if err != nil {
		t.Fatalf("SetState() error = %v", err)
	}
	awaitResult(t, done)
	pubs := client.publishes()
	if len(pubs) != 1 || pubs[0].Payload != "0" || pubs[0].Topic != "home/plug" {
		t.Errorf("published = %+v", pubs)
	}

	st := c.Status()
	if st.BusConnected == nil || !*st.BusConnected || !st.CanCommand {
		t.Errorf("Status() = %+v", st)
	}
}

// A sensor with an HTTP document for temperature and a bus topic for
// humidity.
func TestController_SensorMixedSources(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"Temperature":21.5,"Humidity":"ignored"}`)
	}))
	defer srv.Close()

	client := newFakeMQTT()
	host := newFakeHost()
	s := Settings{
		Identity:        Identity{ID: "th", Name: "Hall", Type: DeviceTypeSensor},
		TypeKnown:       true,
		SensorURL:       srv.URL,
		TemperatureName: "Temperature",
		HumidityTopic:   "hall/humidity",
		UpdateInterval:  time.Hour,
	}
	c, _ := startController(t, ControllerConfig{Settings: s, Host: host, MQTT: client})

	if host.services[ServiceTemperatureSensor] != "Hall Temperature" || host.services[ServiceHumiditySensor] != "Hall Humidity" {
		t.Errorf("services = %v", host.services)
	}
	if host.setter(CharacteristicOn) != nil {
		t.Error("sensor registered a set handler")
	}

	eventually(t, func() bool { return c.State().Temperature == 21.5 }, "temperature not polled")

	client.connect()
	client.deliver("hall/humidity", "hall/humidity", "48")
	if got := c.State().Humidity; got != 48 {
		t.Errorf("Humidity = %v, want 48", got)
	}

	if v, _ := host.getter(CharacteristicCurrentRelativeHumidity)(); v != 48.0 {
		t.Errorf("get humidity = %v", v)
	}
	if _, err := c.SetState(true); !errors.Is(err, ErrCommandNotConfigured) {
		t.Errorf("SetState() on sensor error = %v", err)
	}
}

func TestController_RestoresAndSavesState(t *testing.T) {
	repo := newMemoryRepository()
	repo.states["plug"] = State{On: true, Source: SourcePoll}

	client := newFakeMQTT()
	host := newFakeHost()
	s := Settings{
		Identity:    Identity{ID: "plug", Name: "Plug", Type: DeviceTypeSwitch},
		TypeKnown:   true,
		SwitchTopic: "home/plug",
	}
	c, cancel := startController(t, ControllerConfig{Settings: s, Host: host, MQTT: client, Repository: repo})

	if got := c.State(); !got.On || got.Source != SourceInitial {
		t.Errorf("restored state = %+v", got)
	}

	client.connect()
	client.deliver("home/plug", "home/plug", "0")

	eventually(t, func() bool {
		st, _ := repo.saved("plug")
		return !st.On && st.Source == SourceBus
	}, "bus update not saved")

	cancel()
	c.Wait()
}
