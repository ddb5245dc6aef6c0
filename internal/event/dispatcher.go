// Package event routes events through ordered chains of handlers.
package event

import (
	"sort"
	"sync"
)

// Dispatcher keeps one chain per kind. It is safe for concurrent use.
type Dispatcher struct {
	mu       sync.RWMutex
	chains   map[Kind]*Chain
	required map[Kind]struct{}
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		chains:   make(map[Kind]*Chain),
		required: make(map[Kind]struct{}),
	}
}

// RegisterHandler appends h to the chain for kind, creating the chain when
// needed. It reports whether the chain already existed.
func (d *Dispatcher) RegisterHandler(kind Kind, name string, h Handler) bool {
	d.mu.Lock()
	chain, existed := d.chains[kind]
	if !existed {
		chain = NewChain()
		d.chains[kind] = chain
	}
	d.mu.Unlock()

	chain.AddLast(name, h)
	return existed
}

// UnregisterChain removes and returns the chain for kind, or nil.
func (d *Dispatcher) UnregisterChain(kind Kind) *Chain {
	d.mu.Lock()
	defer d.mu.Unlock()
	chain := d.chains[kind]
	delete(d.chains, kind)
	return chain
}

// ChainFor returns the chain registered for kind, or nil.
func (d *Dispatcher) ChainFor(kind Kind) *Chain {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.chains[kind]
}

func (d *Dispatcher) AddRequiredEvent(kind Kind) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.required[kind] = struct{}{}
}

func (d *Dispatcher) RequiresEvent(kind Kind) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.required[kind]
	return ok
}

func (d *Dispatcher) RequiredEvents() []Kind {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Kind, 0, len(d.required))
	for k := range d.required {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Missing returns the required kinds, or categories of them, that have no
// chain.
func (d *Dispatcher) Missing() []Kind {
	d.mu.RLock()
	defer d.mu.RUnlock()

	seen := make(map[Kind]struct{})
	var missing []Kind
	check := func(k Kind) {
		if _, ok := d.chains[k]; ok {
			return
		}
		if _, ok := seen[k]; ok {
			return
		}
		seen[k] = struct{}{}
		missing = append(missing, k)
	}
	for k := range d.required {
		check(k)
		for _, a := range k.Ancestors() {
			check(a)
		}
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })
	return missing
}

// HasMetRequirements reports whether every required kind and every category
// it belongs to has a chain.
func (d *Dispatcher) HasMetRequirements() bool {
	return len(d.Missing()) == 0
}

// HandleEvent runs ev through the chains of its categories, most general
// first, and then through its own chain. A category chain that stops the
// event keeps the more specific chains from seeing it. Kinds without a chain
// are skipped silently. It reports whether ev reached its own chain.
func (d *Dispatcher) HandleEvent(ev Event) bool {
	kind := ev.Kind()
	for _, a := range kind.Ancestors() {
		if Dispatch(d.ChainFor(a), ev) {
			return false
		}
	}
	chain := d.ChainFor(kind)
	if chain == nil {
		return false
	}
	Run(chain.NewContext(ev))
	return true
}
