package permission

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	errRegistryFrozen  = errors.New("registry frozen")
	errEmptyName       = errors.New("capability name cannot be empty")
	errDuplicateName   = errors.New("capability already registered")
	errBitTaken        = errors.New("capability bit already assigned")
	errBitOutOfRange   = errors.New("capability bit out of range")
	errRegistryFull    = errors.New("capability limit exceeded (admin bit reserved)")
	errUnknownCapabity = errors.New("unknown capability")
)

// Registry maps capability names to bit positions within a Mask. The
// administrator bit is always reserved at MaxBits-1.
type Registry struct {
	mu        sync.RWMutex
	nameToBit map[string]int
	bitToName map[int]string
	frozen    bool
}

// NewRegistry creates an empty registry with only the administrator bit
// assigned.
func NewRegistry() *Registry {
	r := &Registry{
		nameToBit: make(map[string]int),
		bitToName: make(map[int]string),
	}
	r.nameToBit[NameAdministrator] = BitAdministrator
	r.bitToName[BitAdministrator] = NameAdministrator
	return r
}

// Register assigns the lowest free bit to the named capability.
func (r *Registry) Register(name string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkNameLocked(name); err != nil {
		return -1, err
	}
	for bit := 0; bit < BitAdministrator; bit++ {
		if _, taken := r.bitToName[bit]; !taken {
			r.assignLocked(name, bit)
			return bit, nil
		}
	}
	return -1, errRegistryFull
}

// RegisterAt assigns an explicit bit to the named capability. Persisted
// masks depend on stable positions, so catalogs should prefer this form.
func (r *Registry) RegisterAt(name string, bit int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkNameLocked(name); err != nil {
		return err
	}
	if bit < 0 || bit >= BitAdministrator {
		return errBitOutOfRange
	}
	if _, taken := r.bitToName[bit]; taken {
		return errBitTaken
	}
	r.assignLocked(name, bit)
	return nil
}

func (r *Registry) checkNameLocked(name string) error {
	if r.frozen {
		return errRegistryFrozen
	}
	if strings.TrimSpace(name) == "" {
		return errEmptyName
	}
	if _, exists := r.nameToBit[name]; exists {
		return errDuplicateName
	}
	return nil
}

func (r *Registry) assignLocked(name string, bit int) {
	r.nameToBit[name] = bit
	r.bitToName[bit] = name
}

// Bit returns the bit index for the named capability.
func (r *Registry) Bit(name string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bit, ok := r.nameToBit[name]
	return bit, ok
}

// Name returns the capability name for the given bit index.
func (r *Registry) Name(bit int) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.bitToName[bit]
	return name, ok
}

// Mask builds the union of the named capabilities. Unknown names fail the
// whole call.
func (r *Registry) Mask(names ...string) (Mask, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out Mask
	for _, name := range names {
		bit, ok := r.nameToBit[name]
		if !ok {
			return Mask{}, fmt.Errorf("%w: %q", errUnknownCapabity, name)
		}
		out.Set(bit)
	}
	return out, nil
}

// Names lists the registered capability names present in m, ordered by bit.
func (r *Registry) Names(m Mask) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, m.Count())
	for _, bit := range m.Bits() {
		if name, ok := r.bitToName[bit]; ok {
			out = append(out, name)
		}
	}
	return out
}

// Known returns the union of every registered capability bit.
func (r *Registry) Known() Mask {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out Mask
	for bit := range r.bitToName {
		out.Set(bit)
	}
	return out
}

// All returns registered names sorted by bit.
func (r *Registry) All() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bits := make([]int, 0, len(r.bitToName))
	for bit := range r.bitToName {
		bits = append(bits, bit)
	}
	sort.Ints(bits)
	out := make([]string, 0, len(bits))
	for _, bit := range bits {
		out = append(out, r.bitToName[bit])
	}
	return out
}

// Freeze prevents further registrations.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Count returns the number of registered capabilities, administrator included.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nameToBit)
}
