package distributor

import (
	"errors"
	"testing"
)

func constActive(n int) func() int {
	return func() int { return n }
}

func TestGetNextLocationPicksLeastLoaded(t *testing.T) {
	d := New()
	_ = d.Register(Endpoint{ID: "a", Address: "a:9191", Active: constActive(5)})
	_ = d.Register(Endpoint{ID: "b", Address: "b:9191", Active: constActive(1)})
	_ = d.Register(Endpoint{ID: "c", Address: "c:9191", Active: constActive(3)})

	ep, err := d.GetNextLocation()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ep.ID != "b" {
		t.Errorf("expected least-loaded endpoint %q, got %q", "b", ep.ID)
	}
}

func TestGetNextLocationBreaksTiesByRegistrationOrder(t *testing.T) {
	d := New()
	_ = d.Register(Endpoint{ID: "first", Address: "first:9191", Active: constActive(2)})
	_ = d.Register(Endpoint{ID: "second", Address: "second:9191", Active: constActive(2)})

	ep, err := d.GetNextLocation()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ep.ID != "first" {
		t.Errorf("expected tie broken toward first-registered endpoint, got %q", ep.ID)
	}
}

func TestGetNextLocationNoEndpointsIsError(t *testing.T) {
	d := New()
	_, err := d.GetNextLocation()
	if !errors.Is(err, ErrNoFreeProcess) {
		t.Fatalf("expected ErrNoFreeProcess, got %v", err)
	}
}

func TestRegisterDuplicateIDIsError(t *testing.T) {
	d := New()
	_ = d.Register(Endpoint{ID: "a", Address: "a:9191", Active: constActive(0)})
	err := d.Register(Endpoint{ID: "a", Address: "a-again:9191", Active: constActive(0)})
	if !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
	}
	if d.Len() != 1 {
		t.Errorf("expected registry to still hold 1 endpoint, got %d", d.Len())
	}
}

func TestUnregisterRemovesEndpoint(t *testing.T) {
	d := New()
	_ = d.Register(Endpoint{ID: "a", Address: "a:9191", Active: constActive(0)})
	_ = d.Register(Endpoint{ID: "b", Address: "b:9191", Active: constActive(0)})

	d.Unregister("a")

	if d.Len() != 1 {
		t.Fatalf("expected 1 endpoint remaining, got %d", d.Len())
	}
	ep, err := d.GetNextLocation()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ep.ID != "b" {
		t.Errorf("expected remaining endpoint %q, got %q", "b", ep.ID)
	}
}

func TestUnregisterUnknownIDIsNoop(t *testing.T) {
	d := New()
	_ = d.Register(Endpoint{ID: "a", Address: "a:9191", Active: constActive(0)})
	d.Unregister("ghost")
	if d.Len() != 1 {
		t.Errorf("expected registry unaffected by unregistering unknown id")
	}
}
