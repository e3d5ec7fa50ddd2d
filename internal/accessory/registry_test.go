package accessory

import (
	"context"
	"errors"
	"testing"
)

func newTestController(t *testing.T, id, name string, known bool) *Controller {
	t.Helper()
	c, err := NewController(ControllerConfig{
		Settings: Settings{
			Identity:  Identity{ID: id, Name: name, Type: DeviceTypeSwitch},
			TypeKnown: known,
		},
		Host: newFakeHost(),
	})
	if err != nil {
		t.Fatalf("NewController() error = %v", err)
	}
	return c
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	if err := r.Add(newTestController(t, "b", "Bravo", true)); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := r.Add(newTestController(t, "a", "Alpha", false)); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := r.Add(newTestController(t, "a", "Again", true)); err == nil {
		t.Error("Add() duplicate id error = nil")
	}
	if r.Len() != 2 {
		t.Errorf("Len() = %d, want 2", r.Len())
	}

	if _, err := r.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var failed []string
	started := r.StartAll(ctx, func(id Identity, _ error) { failed = append(failed, id.ID) })
	if started != 1 || len(failed) != 0 {
		t.Errorf("StartAll() = %d, failed %v; want 1 started", started, failed)
	}

	statuses := r.Statuses()
	if len(statuses) != 2 || statuses[0].Identity.Name != "Alpha" {
		t.Fatalf("Statuses() = %+v", statuses)
	}
	if statuses[0].Phase != PhaseUninitialized || statuses[1].Phase != PhaseActive {
		t.Errorf("phases = %q, %q", statuses[0].Phase, statuses[1].Phase)
	}

	c, err := r.Get("b")
	if err != nil || c.Identity().Name != "Bravo" {
		t.Errorf("Get(b) = %v, %v", c, err)
	}

	cancel()
	r.WaitAll()
}
