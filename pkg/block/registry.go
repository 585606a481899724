package block

import (
	"sync"
	"sync/atomic"

	"github.com/maxgio92/xprof/internal/utils"
)

// Registry maps dense descriptor ids to descriptors. Ids are assigned
// sequentially from 0 and never reused.
type Registry struct {
	mu          sync.RWMutex
	descriptors []*Descriptor

	// tokens maps the hash of a call-site token to its descriptor, so known
	// call sites resolve without taking mu.
	tokens sync.Map

	frozen atomic.Bool
}

func NewRegistry() *Registry {
	return &Registry{
		descriptors: make([]*Descriptor, 0, 64),
	}
}

// Register returns the descriptor for token, creating it on first use.
// Registering a known token returns the existing descriptor unchanged.
func (r *Registry) Register(token, name, file string, line int, typ Type, color Color, status Status) *Descriptor {
	key := utils.Hash(token)
	if d, ok := r.tokens.Load(key); ok {
		return d.(*Descriptor)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if d, ok := r.tokens.Load(key); ok {
		return d.(*Descriptor)
	}
	d := &Descriptor{
		id:    uint32(len(r.descriptors)),
		name:  name,
		file:  file,
		line:  int32(line),
		typ:   typ,
		color: color,
	}
	d.status.Store(uint32(status))
	r.descriptors = append(r.descriptors, d)
	r.tokens.Store(key, d)

	return d
}

// Descriptor returns the descriptor with the given id.
func (r *Registry) Descriptor(id uint32) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if int(id) >= len(r.descriptors) {
		return nil, false
	}
	return r.descriptors[id], true
}

// Descriptors returns a snapshot of the descriptors ordered by id.
func (r *Registry) Descriptors() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.snapshot()
}

// Len returns the number of registered descriptors.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.descriptors)
}

// SetStatus changes the status of a descriptor. It is rejected while the
// registry is frozen, for unknown ids and for unknown statuses.
func (r *Registry) SetStatus(id uint32, status Status) bool {
	if r.frozen.Load() || !status.Valid() {
		return false
	}
	d, ok := r.Descriptor(id)
	if !ok {
		return false
	}
	d.status.Store(uint32(status))

	return true
}

// Freeze rejects status changes until Unfreeze.
func (r *Registry) Freeze() {
	r.frozen.Store(true)
}

func (r *Registry) Unfreeze() {
	r.frozen.Store(false)
}

func (r *Registry) Frozen() bool {
	return r.frozen.Load()
}

// Lock holds the registry stable and returns its descriptors. New
// registrations block until Unlock.
func (r *Registry) Lock() []*Descriptor {
	r.mu.RLock()
	return r.snapshot()
}

func (r *Registry) Unlock() {
	r.mu.RUnlock()
}

func (r *Registry) snapshot() []*Descriptor {
	out := make([]*Descriptor, len(r.descriptors))
	copy(out, r.descriptors)

	return out
}
