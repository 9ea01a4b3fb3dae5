package iface

import "fmt"

// Factory builds a Handle for a tag of the given type code. The avatar
// session supplies one factory (closing over its own sendToClient) per
// registry.
type Factory func(tag string, code TypeCode) (Handle, error)

// Registry is the set of named interfaces ("tags") currently live on
// one avatar session. It is not safe for concurrent use; callers
// serialize access the way avatar.Session does via its operation lock.
type Registry struct {
	factory Factory
	handles map[string]Handle
	codes   map[string]TypeCode

	// order records tags in declaration order so DestroyAll can tear
	// them down the same way the source does (robot.py iterates its
	// interfaces dict in Python insertion order); a Go map gives no
	// such guarantee on its own.
	order []string
}

// NewRegistry creates an empty registry that builds handles with factory.
func NewRegistry(factory Factory) *Registry {
	return &Registry{
		factory: factory,
		handles: make(map[string]Handle),
		codes:   make(map[string]TypeCode),
	}
}

// Create instantiates a new handle for tag with the given type code. It
// returns a Conflict-flavored error if tag is already registered (§3,
// §8: adding an interface under a tag that already exists is an error,
// not a silent replace).
func (r *Registry) Create(tag string, code TypeCode) error {
	if _, exists := r.handles[tag]; exists {
		return fmt.Errorf("%w: interface tag %q already registered", ErrConflict, tag)
	}
	h, err := r.factory(tag, code)
	if err != nil {
		return err
	}
	r.handles[tag] = h
	r.codes[tag] = code
	r.order = append(r.order, tag)
	return nil
}

// Remove destroys and forgets the handle under tag. It is a no-op if
// tag isn't registered.
func (r *Registry) Remove(tag string) {
	if h, ok := r.handles[tag]; ok {
		h.Destroy()
		delete(r.handles, tag)
		delete(r.codes, tag)
		for i, t := range r.order {
			if t == tag {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	}
}

// Get returns the handle registered under tag, if any.
func (r *Registry) Get(tag string) (Handle, bool) {
	h, ok := r.handles[tag]
	return h, ok
}

// Len reports the number of live tags.
func (r *Registry) Len() int {
	return len(r.handles)
}

// DestroyAll tears down every handle, in declaration order, and empties
// the registry (spec §3, §4.2: interfaces are destroyed in the order
// they were declared). Called once, when the owning session is
// destroyed.
func (r *Registry) DestroyAll() {
	for _, tag := range r.order {
		r.handles[tag].Destroy()
	}
	r.handles = make(map[string]Handle)
	r.codes = make(map[string]TypeCode)
	r.order = nil
}

// ErrConflict is wrapped into Create's error when tag is already taken.
var ErrConflict = fmt.Errorf("interface tag conflict")
