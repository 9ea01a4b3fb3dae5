// Package distributor implements the master-side placement oracle: a
// registry of gateway endpoints ordered by advertised load, used to
// pick which gateway accepts the next robot connection (spec §4.4).
package distributor

import (
	"errors"
	"fmt"
	"sync"
)

// ErrNoFreeProcess is returned by GetNextLocation when no gateway is
// registered.
var ErrNoFreeProcess = errors.New("no free process")

// ErrAlreadyRegistered is returned by Register for a duplicate endpoint ID.
var ErrAlreadyRegistered = errors.New("endpoint already registered")

// Endpoint is one registered gateway's placement-relevant state: its
// address and its advisory active-session count.
type Endpoint struct {
	ID      string
	Address string
	Active  func() int
}

// Distributor tracks registered gateway endpoints and answers
// least-loaded placement queries. It holds no sessions itself — it is
// purely a placement oracle (spec §4.4).
type Distributor struct {
	mu    sync.Mutex
	order []string
	byID  map[string]Endpoint
}

// New creates an empty Distributor.
func New() *Distributor {
	return &Distributor{byID: make(map[string]Endpoint)}
}

// Register adds ep to the registry. Re-registering an existing ID is
// an error: registrations are asserted unique (spec §4.4).
func (d *Distributor) Register(ep Endpoint) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.byID[ep.ID]; exists {
		return fmt.Errorf("%w: %q", ErrAlreadyRegistered, ep.ID)
	}
	d.byID[ep.ID] = ep
	d.order = append(d.order, ep.ID)
	return nil
}

// Unregister removes an endpoint. It is a no-op if id isn't registered.
func (d *Distributor) Unregister(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.byID[id]; !exists {
		return
	}
	delete(d.byID, id)
	for i, candidate := range d.order {
		if candidate == id {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
}

// GetNextLocation returns the endpoint with the smallest active count.
// Ties are broken by registration order — the first-registered gateway
// among equals wins, a deterministic rule rather than a random one
// (spec §4.4 "broken arbitrarily but deterministically within one
// call"). Returns ErrNoFreeProcess if no endpoint is registered.
func (d *Distributor) GetNextLocation() (Endpoint, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.order) == 0 {
		return Endpoint{}, ErrNoFreeProcess
	}

	best := d.byID[d.order[0]]
	bestActive := best.Active()
	for _, id := range d.order[1:] {
		ep := d.byID[id]
		if active := ep.Active(); active < bestActive {
			best, bestActive = ep, active
		}
	}
	return best, nil
}

// Len reports the number of registered endpoints.
func (d *Distributor) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.order)
}
