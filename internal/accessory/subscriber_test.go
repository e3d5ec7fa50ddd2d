package accessory

import (
	"testing"
)

func newSwitchSubscriber(t *testing.T, client *fakeMQTT, s *Store, topic string) *Subscriber {
	t.Helper()
	sub, err := NewSubscriber(SubscriberConfig{
		Name:   "lamp",
		Client: client,
		QoS:    1,
		Routes: []Route{{
			Topic: topic,
			Apply: func(payload []byte) error {
				on, err := ParseSwitchPayload(payload)
				if err != nil {
					return err
				}
				s.SetOn(on, SourceBus)
				return nil
			},
		}},
	})
	if err != nil {
		t.Fatalf("NewSubscriber() error = %v", err)
	}
	return sub
}

func TestNewSubscriber_Validation(t *testing.T) {
	apply := func([]byte) error { return nil }
	tests := []struct {
		name string
		cfg  SubscriberConfig
	}{
		{"nil client", SubscriberConfig{Routes: []Route{{Topic: "a", Apply: apply}}}},
		{"no routes", SubscriberConfig{Client: newFakeMQTT()}},
		{"empty topic", SubscriberConfig{Client: newFakeMQTT(), Routes: []Route{{Apply: apply}}}},
		{"nil apply", SubscriberConfig{Client: newFakeMQTT(), Routes: []Route{{Topic: "a"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewSubscriber(tt.cfg); err == nil {
				t.Error("NewSubscriber() error = nil, want error")
			}
		})
	}
}

func TestSubscriber_AppliesPayloads(t *testing.T) {
	client := newFakeMQTT()
	s := NewStore(State{})
	sub := newSwitchSubscriber(t, client, s, "home/lamp")

	sub.Start()
	sub.Start()
	if client.started != 1 {
		t.Fatalf("client started %d times, want 1", client.started)
	}

	client.connect()
	if !sub.Subscribed("home/lamp") {
		t.Fatal("topic not subscribed after connect")
	}

	client.deliver("home/lamp", "home/lamp", "1")
	if got := s.Get(); !got.On || got.Source != SourceBus {
		t.Errorf("state = %+v, want on from bus", got)
	}

	client.deliver("home/lamp", "home/lamp", "garbage")
	if !s.Get().On {
		t.Error("unparseable payload changed state")
	}

	client.deliver("home/lamp", "home/lamp", "0")
	if s.Get().On {
		t.Error("payload 0 did not switch off")
	}
}

func TestSubscriber_ResubscribesOnEveryConnect(t *testing.T) {
	client := newFakeMQTT()
	sub := newSwitchSubscriber(t, client, NewStore(State{}), "home/lamp")
	sub.Start()

	client.subErr["home/lamp"] = errBoom
	client.connect()
	if sub.Subscribed("home/lamp") {
		t.Fatal("failed subscribe reported as subscribed")
	}

	delete(client.subErr, "home/lamp")
	client.connect()
	if !sub.Subscribed("home/lamp") {
		t.Error("topic not subscribed after reconnect")
	}
}

func TestSubscriber_OfflineDropsSubscriptions(t *testing.T) {
	client := newFakeMQTT()
	sub := newSwitchSubscriber(t, client, NewStore(State{}), "home/lamp")
	sub.Start()

	client.connect()
	if !sub.Subscribed("home/lamp") {
		t.Fatal("topic not subscribed after connect")
	}

	client.disconnect()
	if sub.Subscribed("home/lamp") {
		t.Error("topic still reported subscribed while offline")
	}

	client.connect()
	if !sub.Subscribed("home/lamp") {
		t.Error("topic not subscribed after reconnect")
	}
}

func TestSubscriber_WildcardRoutes(t *testing.T) {
	client := newFakeMQTT()
	s := NewStore(State{})

	sub, err := NewSubscriber(SubscriberConfig{
		Name:   "sensor",
		Client: client,
		Routes: []Route{
			{Topic: "sensors/+/temperature", Apply: func(p []byte) error {
				v, err := ParseNumberPayload(p)
				if err != nil {
					return err
				}
				s.SetTemperature(v, SourceBus)
				return nil
			}},
			{Topic: "sensors/+/temperature", Apply: func([]byte) error { return nil }},
		},
	})
	if err != nil {
		t.Fatalf("NewSubscriber() error = %v", err)
	}

	if topics := sub.Topics(); len(topics) != 1 {
		t.Errorf("Topics() = %v, want one distinct filter", topics)
	}

	sub.Start()
	client.connect()
	client.deliver("sensors/+/temperature", "sensors/kitchen/temperature", "23.5")

	if got := s.Get().Temperature; got != 23.5 {
		t.Errorf("Temperature = %v, want 23.5", got)
	}

	// A topic no route matches is ignored.
	sub.handleMessage("sensors/kitchen/humidity", []byte("50"))
	if got := s.Get().Temperature; got != 23.5 {
		t.Errorf("Temperature = %v after unrouted message", got)
	}
}
