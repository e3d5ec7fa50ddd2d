package accessory

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Registry holds every configured controller, keyed by accessory ID.
type Registry struct {
	mu          sync.RWMutex
	controllers map[string]*Controller
	order       []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{controllers: make(map[string]*Controller)}
}

// Add registers c. IDs must be unique.
func (r *Registry) Add(c *Controller) error {
	id := c.Identity().ID

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.controllers[id]; ok {
		return fmt.Errorf("accessory %q already registered", id)
	}
	r.controllers[id] = c
	r.order = append(r.order, id)
	return nil
}

// Get returns the controller for id, or ErrNotFound.
func (r *Registry) Get(id string) (*Controller, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.controllers[id]
	if !ok {
		return nil, fmt.Errorf("%w: accessory %q", ErrNotFound, id)
	}
	return c, nil
}

// Len returns the number of registered controllers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.controllers)
}

// StartAll starts every controller in registration order. A controller that
// fails to start is reported and skipped; the others still start.
func (r *Registry) StartAll(ctx context.Context, onError func(Identity, error)) int {
	started := 0
	for _, c := range r.list() {
		if err := c.Start(ctx); err != nil {
			if onError != nil {
				onError(c.Identity(), err)
			}
			continue
		}
		if c.Phase() == PhaseActive {
			started++
		}
	}
	return started
}

// WaitAll waits for every controller to stop.
func (r *Registry) WaitAll() {
	for _, c := range r.list() {
		c.Wait()
	}
}

// Statuses returns a status for each controller, sorted by name.
func (r *Registry) Statuses() []Status {
	controllers := r.list()
	out := make([]Status, 0, len(controllers))
	for _, c := range controllers {
		out = append(out, c.Status())
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Identity.Name < out[j].Identity.Name
	})
	return out
}

func (r *Registry) list() []*Controller {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Controller, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.controllers[id])
	}
	return out
}
