package accessory

import (
	"fmt"
	"sync"
	"time"
)

// ChangeFunc observes applied writes. It runs while the store's lock is held,
// so observers see changes in exactly the order they were applied and must
// not call back into the store.
type ChangeFunc func(Change)

// Store holds one accessory's State.
//
// Every write replaces the whole value under a mutex, so readers never see a
// half-applied update. Writes are applied in arrival order and the last one
// wins; there is no staleness check. Writing a value equal to the current one
// is a no-op that reports changed=false and notifies nobody.
type Store struct {
	mu       sync.Mutex
	state    State
	observer ChangeFunc
	now      func() time.Time
}

// NewStore creates a store holding initial.
func NewStore(initial State) *Store {
	if initial.Source == "" {
		initial.Source = SourceInitial
	}
	return &Store{
		state: initial,
		now:   time.Now,
	}
}

// SetObserver installs the change observer, replacing any previous one.
func (s *Store) SetObserver(fn ChangeFunc) {
	s.mu.Lock()
	s.observer = fn
	s.mu.Unlock()
}

// Get returns a copy of the current state.
func (s *Store) Get() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetOn writes the switch value.
func (s *Store) SetOn(on bool, src Source) bool {
	return s.apply(FieldOn, src, func(st *State) bool {
		if st.On == on {
			return false
		}
		st.On = on
		return true
	})
}

// SetTemperature writes the temperature reading.
func (s *Store) SetTemperature(v float64, src Source) bool {
	return s.apply(FieldTemperature, src, func(st *State) bool {
		if st.Temperature == v {
			return false
		}
		st.Temperature = v
		return true
	})
}

// SetHumidity writes the relative humidity reading.
func (s *Store) SetHumidity(v float64, src Source) bool {
	return s.apply(FieldHumidity, src, func(st *State) bool {
		if st.Humidity == v {
			return false
		}
		st.Humidity = v
		return true
	})
}

// Set writes a field by name. FieldOn takes a bool; the readings take a float64.
func (s *Store) Set(field Field, value any, src Source) (bool, error) {
	switch field {
	case FieldOn:
		on, ok := value.(bool)
		if !ok {
			return false, fmt.Errorf("%w: %s wants bool, got %T", ErrInvalidValue, field, value)
		}
		return s.SetOn(on, src), nil
	case FieldTemperature, FieldHumidity:
		v, ok := value.(float64)
		if !ok {
			return false, fmt.Errorf("%w: %s wants float64, got %T", ErrInvalidValue, field, value)
		}
		if field == FieldTemperature {
			return s.SetTemperature(v, src), nil
		}
		return s.SetHumidity(v, src), nil
	default:
		return false, fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
}

// Restore loads a previously saved state as the initial belief. Each field
// that differs from the current value is reported to the observer.
func (s *Store) Restore(saved State) {
	s.SetOn(saved.On, SourceInitial)
	s.SetTemperature(saved.Temperature, SourceInitial)
	s.SetHumidity(saved.Humidity, SourceInitial)
}

func (s *Store) apply(field Field, src Source, mutate func(*State) bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.state
	if !mutate(&next) {
		return false
	}
	next.Source = src
	next.LastUpdated = s.now()

	prev := s.state
	s.state = next

	if s.observer != nil {
		s.observer(Change{Field: field, Previous: prev, Current: next})
	}
	return true
}
