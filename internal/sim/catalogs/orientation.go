package catalogs

import (
	"sort"
	"sync"
)

// Orientation is an interned handle for a named rotation or variant of a block.
// Two orientations are equal iff they are the same pointer.
type Orientation struct {
	name string
}

func (o *Orientation) Name() string {
	if o == nil {
		return ""
	}
	return o.name
}

func (o *Orientation) String() string { return o.Name() }

// OrientationRegistry hands out exactly one *Orientation per distinct name.
type OrientationRegistry struct {
	mu    sync.Mutex
	known map[string]*Orientation
	none  *Orientation
}

func NewOrientationRegistry() *OrientationRegistry {
	return &OrientationRegistry{
		known: map[string]*Orientation{},
		none:  &Orientation{},
	}
}

// None is the orientation of blocks that look the same from every direction.
func (r *OrientationRegistry) None() *Orientation {
	return r.none
}

// Get interns name. The empty name maps to None.
func (r *OrientationRegistry) Get(name string) *Orientation {
	if name == "" {
		return r.none
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if o, ok := r.known[name]; ok {
		return o
	}
	o := &Orientation{name: name}
	r.known[name] = o
	return o
}

// Lookup returns the interned orientation without creating it.
func (r *OrientationRegistry) Lookup(name string) (*Orientation, bool) {
	if name == "" {
		return r.none, true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.known[name]
	return o, ok
}

func (r *OrientationRegistry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.known))
	for name := range r.known {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
