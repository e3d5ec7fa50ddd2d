package accessory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kreso975/homebridge-http-sensors-switches/internal/infrastructure/mqtt"
)

// fakeHost records registrations and pushed updates.
type fakeHost struct {
	mu         sync.Mutex
	identities []Identity
	services   map[ServiceType]string
	getters    map[Characteristic]GetHandler
	setters    map[Characteristic]SetHandler
	updates    []hostUpdate

	registerErr error
}

type hostUpdate struct {
	Service        ServiceType
	Characteristic Characteristic
	Value          any
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		services: make(map[ServiceType]string),
		getters:  make(map[Characteristic]GetHandler),
		setters:  make(map[Characteristic]SetHandler),
	}
}

func (h *fakeHost) RegisterAccessory(identity Identity) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.registerErr != nil {
		return h.registerErr
	}
	h.identities = append(h.identities, identity)
	return nil
}

func (h *fakeHost) AddService(_ string, service ServiceType, name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.services[service] = name
	return nil
}

func (h *fakeHost) HandleGet(_ string, _ ServiceType, ch Characteristic, fn GetHandler) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.getters[ch] = fn
	return nil
}

func (h *fakeHost) HandleSet(_ string, _ ServiceType, ch Characteristic, fn SetHandler) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.setters[ch] = fn
	return nil
}

func (h *fakeHost) UpdateCharacteristic(_ string, service ServiceType, ch Characteristic, value any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.updates = append(h.updates, hostUpdate{Service: service, Characteristic: ch, Value: value})
}

func (h *fakeHost) getter(ch Characteristic) GetHandler {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.getters[ch]
}

func (h *fakeHost) setter(ch Characteristic) SetHandler {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.setters[ch]
}

func (h *fakeHost) pushed() []hostUpdate {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]hostUpdate(nil), h.updates...)
}

// fakeMQTT is an in-memory MQTTClient. Retained publishes are kept like a
// broker would and redelivered to matching subscriptions on connect.
type fakeMQTT struct {
	mu           sync.Mutex
	started      int
	onConnect    func()
	onDisconnect func(error)
	handlers     map[string]func(topic string, payload []byte)
	published    []published
	retained     map[string]string
	connected    bool
	publishErr   error
	failNext     int
	subErr       map[string]error
}

type published struct {
	Topic    string
	Payload  string
	QoS      byte
	Retained bool
}

func newFakeMQTT() *fakeMQTT {
	return &fakeMQTT{
		handlers: make(map[string]func(string, []byte)),
		retained: make(map[string]string),
		subErr:   make(map[string]error),
	}
}

func (m *fakeMQTT) Start() {
	m.mu.Lock()
	m.started++
	m.mu.Unlock()
}

func (m *fakeMQTT) SetOnConnect(callback func()) {
	m.mu.Lock()
	m.onConnect = callback
	m.mu.Unlock()
}

func (m *fakeMQTT) SetOnDisconnect(callback func(error)) {
	m.mu.Lock()
	m.onDisconnect = callback
	m.mu.Unlock()
}

func (m *fakeMQTT) Subscribe(topic string, _ byte, handler func(string, []byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.subErr[topic]; err != nil {
		return err
	}
	m.handlers[topic] = handler
	return nil
}

func (m *fakeMQTT) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return m.publishErr
	}
	if m.failNext > 0 {
		m.failNext--
		return errBoom
	}
	m.published = append(m.published, published{Topic: topic, Payload: string(payload), QoS: qos, Retained: retained})
	if retained {
		m.retained[topic] = string(payload)
	}
	return nil
}

func (m *fakeMQTT) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// connect simulates the broker accepting a clean session: the owner
// subscribes from its callback, then retained messages are delivered.
func (m *fakeMQTT) connect() {
	m.mu.Lock()
	m.connected = true
	m.handlers = make(map[string]func(string, []byte))
	cb := m.onConnect
	m.mu.Unlock()
	if cb != nil {
		cb()
	}

	m.mu.Lock()
	type delivery struct {
		h              func(string, []byte)
		topic, payload string
	}
	var pending []delivery
	for filter, h := range m.handlers {
		for topic, payload := range m.retained {
			if mqtt.TopicMatches(filter, topic) {
				pending = append(pending, delivery{h, topic, payload})
			}
		}
	}
	m.mu.Unlock()
	for _, d := range pending {
		d.h(d.topic, []byte(d.payload))
	}
}

// disconnect simulates the connection dropping.
func (m *fakeMQTT) disconnect() {
	m.mu.Lock()
	m.connected = false
	cb := m.onDisconnect
	m.mu.Unlock()
	if cb != nil {
		cb(errBoom)
	}
}

// deliver simulates a message arriving on a subscribed filter.
func (m *fakeMQTT) deliver(filter, topic, payload string) {
	m.mu.Lock()
	h := m.handlers[filter]
	m.mu.Unlock()
	if h != nil {
		h(topic, []byte(payload))
	}
}

func (m *fakeMQTT) publishes() []published {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]published(nil), m.published...)
}

// recordingNotifier captures announcements.
type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) Announce(deviceName, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, deviceName+": "+message)
}

func (n *recordingNotifier) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.messages...)
}

// memoryRepository is an in-memory StateRepository.
type memoryRepository struct {
	mu      sync.Mutex
	states  map[string]State
	saves   int
	saveErr error
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{states: make(map[string]State)}
}

func (r *memoryRepository) Load(_ context.Context, id string) (State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[id]
	if !ok {
		return State{}, ErrNotFound
	}
	return st, nil
}

func (r *memoryRepository) Save(_ context.Context, identity Identity, st State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	r.saves++
	r.states[identity.ID] = st
	return nil
}

func (r *memoryRepository) saved(id string) (State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[id]
	return st, ok
}

func (r *memoryRepository) saveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saves
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, cond func() bool, msg string, args ...any) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met: %s", fmt.Sprintf(msg, args...))
}

// awaitResult reads one command result with a timeout.
func awaitResult(t *testing.T, done <-chan CommandResult) CommandResult {
	t.Helper()
	select {
	case res, ok := <-done:
		if !ok {
			t.Fatal("result channel closed without a result")
		}
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("command did not settle")
	}
	return CommandResult{}
}

var errBoom = errors.New("boom")
