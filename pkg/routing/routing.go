// Package routing implements the routing table (C4): resolution from
// neuron id to Local or Remote(server-id), built from static
// configuration and refreshed by peer discovery. It holds no
// reference to neuron or router internals; callers resolve by id
// only, which is what breaks the registry/router/routing-table cycle
// described in the concurrency model's lock ordering.
package routing

import (
	"log"
	"sync"

	"github.com/axonmesh/axonmesh/pkg/config"
	"github.com/axonmesh/axonmesh/pkg/coreerr"
)

// Location is where a neuron id resolves to.
type Location struct {
	Local    bool
	ServerID string
}

type entry struct {
	loc      Location
	pinned   bool // set from static config; discovery cannot overwrite
	degraded bool
}

// Table is the copy-on-write-under-a-writer-lock routing table. Reads
// take the read lock; every mutation takes the write lock and, on a
// same-id conflict between two non-pinned sources, the last write wins
// and a conflict is logged (the reorganization controller's event bus
// callback is wired in by the caller via OnConflict).
type Table struct {
	mu      sync.RWMutex
	entries map[string]entry

	// OnConflict, if set, is invoked (outside the lock) whenever a
	// non-pinned entry is overwritten by a different resolution.
	OnConflict func(neuronID string, old, new Location)
}

// New constructs an empty routing table.
func New() *Table {
	return &Table{entries: make(map[string]entry)}
}

// BuildFromConfigs seeds the table from a server's own local neuron
// configs plus any statically declared remote servers. Local entries and
// declared remotes are pinned: discovery never overwrites them.
func BuildFromConfigs(neurons []config.NeuronConfig, remoteOwners map[string]string) *Table {
	t := New()
	for _, n := range neurons {
		t.entries[n.ID] = entry{loc: Location{Local: true}, pinned: true}
	}
	for id, serverID := range remoteOwners {
		if _, exists := t.entries[id]; exists {
			continue
		}
		t.entries[id] = entry{loc: Location{ServerID: serverID}, pinned: true}
	}
	return t
}

// Resolve returns the current location for neuronID, or NotRoutable.
func (t *Table) Resolve(neuronID string) (Location, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[neuronID]
	if !ok {
		return Location{}, coreerr.New(coreerr.KindNotRoutable, "no route for neuron "+neuronID)
	}
	return e.loc, nil
}

// IsDegraded reports whether neuronID's remote entry is currently marked
// degraded (peer link down, reconnecting).
func (t *Table) IsDegraded(neuronID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.entries[neuronID].degraded
}

// SetLocal marks neuronID as resolving locally. Used when a neuron is
// registered dynamically (e.g. after a layer migration).
func (t *Table) SetLocal(neuronID string) {
	t.set(neuronID, entry{loc: Location{Local: true}, pinned: true})
}

// SetRemote records that neuronID is owned by serverID, as learned from a
// discovery announcement. Pinned (statically configured) entries are
// never overwritten by this path.
func (t *Table) SetRemote(neuronID, serverID string) {
	t.set(neuronID, entry{loc: Location{ServerID: serverID}})
}

func (t *Table) set(neuronID string, next entry) {
	t.mu.Lock()
	old, existed := t.entries[neuronID]
	if existed && old.pinned && !next.pinned {
		t.mu.Unlock()
		return
	}
	conflict := existed && old.loc != next.loc
	t.entries[neuronID] = next
	t.mu.Unlock()

	if conflict {
		log.Printf("routing: conflicting resolution for %s: %+v -> %+v", neuronID, old.loc, next.loc)
		if t.OnConflict != nil {
			t.OnConflict(neuronID, old.loc, next.loc)
		}
	}
}

// MarkDegraded flags every entry owned by serverID as degraded (or
// clears the flag), used by the peer transport on disconnect/reconnect.
func (t *Table) MarkDegraded(serverID string, degraded bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, e := range t.entries {
		if !e.loc.Local && e.loc.ServerID == serverID {
			e.degraded = degraded
			t.entries[id] = e
		}
	}
}

// Remove drops a neuron id from the table entirely. Discovery does not
// call it for unreachable peers; it marks their entries degraded instead.
func (t *Table) Remove(neuronID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, neuronID)
}

// Snapshot returns a copy of every known resolution, for diagnostics.
func (t *Table) Snapshot() map[string]Location {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]Location, len(t.entries))
	for id, e := range t.entries {
		out[id] = e.loc
	}
	return out
}
