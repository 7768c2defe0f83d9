package core

import (
	"net"
	"sync"
)

// connTable is the §4.2 Connection Table: remote-address-keyed, wait-free
// in spirit on the receive path (an RWMutex's RLock is the idiomatic Go
// stand-in for that C-level lock-free table). Inserts only happen from
// NewConnection; removal only from lifecycle teardown.
type connTable struct {
	mu     sync.RWMutex
	byAddr map[string]*Connection
}

func newConnTable() *connTable {
	return &connTable{byAddr: make(map[string]*Connection)}
}

func (t *connTable) get(addr *net.UDPAddr) (*Connection, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.byAddr[addr.String()]
	return c, ok
}

func (t *connTable) put(addr *net.UDPAddr, c *Connection) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byAddr[addr.String()] = c
}

func (t *connTable) remove(addr *net.UDPAddr) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byAddr, addr.String())
}

func (t *connTable) each(fn func(*Connection)) {
	t.mu.RLock()
	conns := make([]*Connection, 0, len(t.byAddr))
	for _, c := range t.byAddr {
		conns = append(conns, c)
	}
	t.mu.RUnlock()
	for _, c := range conns {
		fn(c)
	}
}

func (t *connTable) count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byAddr)
}

// clientTable holds outbound (MakeClientConnection) connections, keyed the
// same way, behind its own read/write lock per §4.2.
type clientTable struct {
	mu     sync.RWMutex
	byAddr map[string]*Connection
}

func newClientTable() *clientTable {
	return &clientTable{byAddr: make(map[string]*Connection)}
}

func (t *clientTable) get(addr *net.UDPAddr) (*Connection, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.byAddr[addr.String()]
	return c, ok
}

func (t *clientTable) put(addr *net.UDPAddr, c *Connection) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byAddr[addr.String()] = c
}

func (t *clientTable) remove(addr *net.UDPAddr) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byAddr, addr.String())
}

func (t *clientTable) each(fn func(*Connection)) {
	t.mu.RLock()
	conns := make([]*Connection, 0, len(t.byAddr))
	for _, c := range t.byAddr {
		conns = append(conns, c)
	}
	t.mu.RUnlock()
	for _, c := range conns {
		fn(c)
	}
}
