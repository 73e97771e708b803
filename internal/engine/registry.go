package engine

import (
	"cmp"
	"slices"
	"sync"

	"github.com/italolelis/multifetch/internal/transfer"
	"github.com/italolelis/multifetch/internal/transport"
)

// Entry pairs an in-flight handle with the transfer it owns.
type Entry struct {
	Handle   transport.Handle
	Transfer *transfer.Transfer
}

// Registry indexes in-flight transfers by their multiplexer handle. A handle is
// present exactly while its transfer is in flight.
type Registry struct {
	mu      sync.Mutex
	entries map[transport.Handle]*transfer.Transfer
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[transport.Handle]*transfer.Transfer)}
}

// Insert fails with *transfer.DuplicateHandleError if h is already present.
func (r *Registry) Insert(h transport.Handle, t *transfer.Transfer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[h]; ok {
		return &transfer.DuplicateHandleError{Handle: uint64(h)}
	}

	r.entries[h] = t

	return nil
}

func (r *Registry) Lookup(h transport.Handle) (*transfer.Transfer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.entries[h]

	return t, ok
}

// Remove fails with *transfer.HandleNotFoundError if h is absent.
func (r *Registry) Remove(h transport.Handle) (*transfer.Transfer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.entries[h]
	if !ok {
		return nil, &transfer.HandleNotFoundError{Handle: uint64(h)}
	}

	delete(r.entries, h)

	return t, nil
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.entries)
}

// Drain empties the registry and returns its entries ordered by handle.
func (r *Registry) Drain() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Entry, 0, len(r.entries))
	for h, t := range r.entries {
		out = append(out, Entry{Handle: h, Transfer: t})
	}

	clear(r.entries)

	slices.SortFunc(out, func(a, b Entry) int {
		return cmp.Compare(a.Handle, b.Handle)
	})

	return out
}
