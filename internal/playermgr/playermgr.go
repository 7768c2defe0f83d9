// Package playermgr is the external player-lifecycle collaborator the core
// consumes (§6, out of scope per spec.md §1: "player lifecycle manager").
// §9 Design Notes: "the per-player connection state is owned by the player
// manager; the core holds a non-owning handle keyed by address" — Manager
// is that ownership boundary, and Player is the handle the core is allowed
// to read (never mutate fields directly).
package playermgr

import (
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/rs/xid"
)

// Status is the player lifecycle state the receive pipeline (§4.4 step 3)
// and the lifecycle teardown (§4.9) both inspect.
type Status int32

const (
	StatusConnecting Status = iota
	StatusConnected
	StatusLeavingZone // receive pipeline rejects further packets past this point
	StatusTimeWait    // lifecycle teardown drains and frees the connection
	StatusLoggedOut
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusLeavingZone:
		return "leaving_zone"
	case StatusTimeWait:
		return "time_wait"
	case StatusLoggedOut:
		return "logged_out"
	default:
		return "unknown"
	}
}

// ID is a stable player identifier, independent of the remote address (an
// address can be reused across reconnects; an ID never is).
type ID uint64

// Player is the handle shape the core is given. Fields the core is allowed
// to read move through the atomic Status; anything game-layer (name,
// position, score, ...) lives entirely in the embedding application and is
// out of scope here (spec.md §1).
type Player struct {
	id     ID
	status atomic.Int32
}

func newPlayer(id ID) *Player {
	p := &Player{id: id}
	p.status.Store(int32(StatusConnecting))
	return p
}

func (p *Player) ID() ID          { return p.id }
func (p *Player) Status() Status  { return Status(p.status.Load()) }
func (p *Player) SetStatus(s Status) { p.status.Store(int32(s)) }

// Manager is the contract the core consumes: allocate a player on a new
// connection, kick one on protocol-fatal conditions (§4.9), and iterate the
// live set.
type Manager interface {
	Allocate() (*Player, error)
	Kick(p *Player, reason string)
	Lock()
	Unlock()
	Iterate(fn func(*Player))
	Count() int
}

// InMemory is a minimal, concurrency-safe Manager good enough to exercise
// the core end to end in tests and in cmd/zoned; a real deployment would
// back this with the zone server's actual player/arena manager.
type InMemory struct {
	mu      sync.RWMutex
	players map[ID]*Player
	onKick  func(*Player, string)
}

func NewInMemory(onKick func(*Player, string)) *InMemory {
	return &InMemory{
		players: make(map[ID]*Player),
		onKick:  onKick,
	}
}

func (m *InMemory) Allocate() (*Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := newID()
	p := newPlayer(id)
	m.players[p.id] = p
	return p, nil
}

// newID mints a stable player identifier from xid's globally unique,
// sortable 12-byte id (machine+pid+counter, no coordination needed across
// zone instances) folded into the uint64 the rest of the package keys on.
func newID() ID {
	raw := xid.New()
	return ID(binary.BigEndian.Uint64(raw[4:]))
}

func (m *InMemory) Kick(p *Player, reason string) {
	p.SetStatus(StatusTimeWait)
	if m.onKick != nil {
		m.onKick(p, reason)
	}
}

// Remove drops a player from the live set once its connection has been
// fully torn down (§4.9 TimeWait teardown's final "free the player").
func (m *InMemory) Remove(p *Player) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.players, p.id)
}

func (m *InMemory) Lock()   { m.mu.Lock() }
func (m *InMemory) Unlock() { m.mu.Unlock() }

func (m *InMemory) Iterate(fn func(*Player)) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.players {
		fn(p)
	}
}

func (m *InMemory) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.players)
}

func (m *InMemory) CountPlaying() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, p := range m.players {
		if p.Status() == StatusConnected {
			n++
		}
	}
	return n
}
