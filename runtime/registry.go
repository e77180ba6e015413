package runtime

import (
	"line-chat/contract"
	"line-chat/domain"
	"slices"
	"sync"

	"github.com/samber/lo"
)

var _ contract.IRegistry = (*Registry)(nil)

type entry struct {
	name domain.DisplayName
	seq  uint64
}

// Registry maps each live connection to its display name.
// The mutex is held only for the map operation itself, never across I/O.
type Registry struct {
	mu      sync.Mutex
	entries map[domain.ConnectionID]entry
	nextSeq uint64
}

func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[domain.ConnectionID]entry),
	}
}

// Insert records the name for a connection.
// Inserting an existing identity overwrites the name and keeps its position.
func (r *Registry) Insert(id domain.ConnectionID, name domain.DisplayName) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[id]; ok {
		e.name = name
		r.entries[id] = e
		return
	}
	r.entries[id] = entry{name: name, seq: r.nextSeq}
	r.nextSeq++
}

// Remove deletes the connection if present.
func (r *Registry) Remove(id domain.ConnectionID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.entries, id)
}

// SnapshotNames returns the names of all registered connections in join order.
// The copy is taken under the lock, so it reflects a single instant.
func (r *Registry) SnapshotNames() []domain.DisplayName {
	r.mu.Lock()
	entries := lo.Values(r.entries)
	r.mu.Unlock()

	slices.SortFunc(entries, func(a, b entry) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		default:
			return 0
		}
	})
	return lo.Map(entries, func(e entry, _ int) domain.DisplayName {
		return e.name
	})
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.entries)
}
