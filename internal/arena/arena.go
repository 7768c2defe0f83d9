// Package arena is the external arena-manager collaborator (§6, out of
// scope per spec.md §1) that the Ping Responder (§4.8) reads population
// snapshots from. Grouping arena names by "base name" (the part before a
// '#') is the §3 SUPPLEMENTED FEATURES addition pulled from
// original_source's ConnectAs population reporting.
package arena

import (
	"strings"
	"sync"
)

// Summary is one arena's population line in an extended-ping ArenaSummary
// blob (§4.8): `name\0 total16_le playing16_le`.
type Summary struct {
	Name    string
	Total   uint16
	Playing uint16
}

// Population is a global total/playing pair.
type Population struct {
	Total   uint32
	Playing uint32
}

// Manager is the contract the Ping Responder consumes.
type Manager interface {
	GlobalPopulation() Population
	// ArenaSummaries returns the per-arena breakdown for a given
	// "connect-as" virtual zone, grouped by base name (§3).
	ArenaSummaries(connectAs string) []Summary
}

// PeerProvider is the optional peer-zone federation hook (§4.8: "global
// total includes peer-zone populations via an optional peer interface").
// Peer-zone federation itself is out of scope (spec.md §1); this is only
// the seam the ping responder calls through.
type PeerProvider interface {
	PeerPopulation() Population
}

// InMemory is a Manager good enough to drive the ping responder in tests
// and cmd/zoned; arenas are registered explicitly rather than discovered.
type InMemory struct {
	mu     sync.RWMutex
	arenas map[string]Summary // keyed by full arena name, e.g. "turf#3"
	peer   PeerProvider
}

func NewInMemory() *InMemory {
	return &InMemory{arenas: make(map[string]Summary)}
}

func (m *InMemory) SetPeerProvider(p PeerProvider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.peer = p
}

// SetArena sets (or replaces) one arena's counts by its full name.
func (m *InMemory) SetArena(name string, total, playing uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.arenas[name] = Summary{Name: name, Total: total, Playing: playing}
}

func (m *InMemory) RemoveArena(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.arenas, name)
}

func (m *InMemory) GlobalPopulation() Population {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var pop Population
	for _, a := range m.arenas {
		pop.Total += uint32(a.Total)
		pop.Playing += uint32(a.Playing)
	}
	if m.peer != nil {
		peerPop := m.peer.PeerPopulation()
		pop.Total += peerPop.Total
		pop.Playing += peerPop.Playing
	}
	return pop
}

// BaseName returns the part of an arena name before '#', the grouping key
// §3 describes ("arenas grouped by base name").
func BaseName(arenaName string) string {
	if i := strings.IndexByte(arenaName, '#'); i >= 0 {
		return arenaName[:i]
	}
	return arenaName
}

// ArenaSummaries groups every registered arena by base name. connectAs is
// not used to filter: every virtual zone gets the same summaries.
func (m *InMemory) ArenaSummaries(connectAs string) []Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	grouped := make(map[string]Summary)
	for name, a := range m.arenas {
		base := BaseName(name)
		g := grouped[base]
		g.Name = base
		g.Total += a.Total
		g.Playing += a.Playing
		grouped[base] = g
	}

	out := make([]Summary, 0, len(grouped))
	for _, g := range grouped {
		out = append(out, g)
	}
	return out
}
