package accessory

import (
	"fmt"
	"sync"

	"github.com/kreso975/homebridge-http-sensors-switches/internal/infrastructure/mqtt"
)

// MQTTClient is the message bus session an accessory owns.
// main adapts *mqtt.Client to it.
type MQTTClient interface {
	Start()
	SetOnConnect(callback func())
	SetOnDisconnect(callback func(err error))
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// Route applies payloads received on a topic filter.
type Route struct {
	Topic string
	Apply func(payload []byte) error
}

// SubscriberConfig configures a Subscriber.
type SubscriberConfig struct {
	Name   string
	Client MQTTClient
	QoS    byte
	Routes []Route
	Logger Logger
}

// Subscriber feeds message bus payloads into a store.
//
// It subscribes to every route topic on each connect, because the session is
// clean and the broker forgets subscriptions when the connection drops. A
// failed subscribe is logged and not retried until the next connect. While
// the session is offline no topic counts as subscribed.
type Subscriber struct {
	cfg    SubscriberConfig
	logger Logger

	mu         sync.Mutex
	connects   int
	subscribed map[string]bool

	startOnce sync.Once
}

// NewSubscriber validates cfg.
func NewSubscriber(cfg SubscriberConfig) (*Subscriber, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("subscriber %s: mqtt client is required", cfg.Name)
	}
	if len(cfg.Routes) == 0 {
		return nil, fmt.Errorf("subscriber %s: at least one route is required", cfg.Name)
	}
	for _, r := range cfg.Routes {
		if r.Topic == "" || r.Apply == nil {
			return nil, fmt.Errorf("subscriber %s: route needs a topic and an apply func", cfg.Name)
		}
	}

	return &Subscriber{
		cfg:        cfg,
		logger:     orNoop(cfg.Logger),
		subscribed: make(map[string]bool),
	}, nil
}

// Start hooks the connect and disconnect events and starts the session. The session
// connects and reconnects in the background for the life of the process.
func (s *Subscriber) Start() {
	s.startOnce.Do(func() {
		s.cfg.Client.SetOnConnect(s.handleConnect)
		s.cfg.Client.SetOnDisconnect(s.handleDisconnect)
		s.cfg.Client.Start()
	})
}

// Topics returns the distinct topic filters subscribed on every connect.
func (s *Subscriber) Topics() []string {
	seen := make(map[string]bool, len(s.cfg.Routes))
	var topics []string
	for _, r := range s.cfg.Routes {
		if seen[r.Topic] {
			continue
		}
		seen[r.Topic] = true
		topics = append(topics, r.Topic)
	}
	return topics
}

// Subscribed reports whether topic was subscribed on the most recent connect.
func (s *Subscriber) Subscribed(topic string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribed[topic]
}

func (s *Subscriber) handleConnect() {
	s.mu.Lock()
	s.connects++
	n := s.connects
	s.subscribed = make(map[string]bool)
	s.mu.Unlock()

	s.logger.Debug("bus connected, subscribing", "subscriber", s.cfg.Name, "connect", n)

	for _, topic := range s.Topics() {
		if err := s.cfg.Client.Subscribe(topic, s.cfg.QoS, s.handleMessage); err != nil {
			s.logger.Error("bus subscribe failed",
				"subscriber", s.cfg.Name,
				"topic", topic,
				"error", err,
			)
			continue
		}
		s.mu.Lock()
		s.subscribed[topic] = true
		s.mu.Unlock()
	}
}

func (s *Subscriber) handleDisconnect(err error) {
	s.mu.Lock()
	s.subscribed = make(map[string]bool)
	s.mu.Unlock()

	s.logger.Debug("bus offline, subscriptions dropped", "subscriber", s.cfg.Name, "error", err)
}

// handleMessage routes a payload to every route whose filter matches.
// Payloads that do not parse are ignored.
func (s *Subscriber) handleMessage(topic string, payload []byte) {
	matched := false
	for _, r := range s.cfg.Routes {
		if !mqtt.TopicMatches(r.Topic, topic) {
			continue
		}
		matched = true
		if err := r.Apply(payload); err != nil {
			s.logger.Debug("bus payload ignored",
				"subscriber", s.cfg.Name,
				"topic", topic,
				"error", err,
			)
		}
	}
	if !matched {
		s.logger.Debug("bus message on unrouted topic", "subscriber", s.cfg.Name, "topic", topic)
	}
}
