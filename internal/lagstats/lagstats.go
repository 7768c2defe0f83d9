// Package lagstats is the external lag-statistics collector (§6, out of
// scope per spec.md §1) fed by the receive pipeline's time-sync handler
// (§4.4.1 0x05) and by the connection's RTT update (§4.4.1 "RTT update").
package lagstats

import (
	"sync"

	"zonecore/internal/playermgr"
)

// RelStats is the reliability-layer counters sample (§3 Data Model
// "Counters"), submitted periodically so an operator can chart it.
type RelStats struct {
	Retries  uint32
	Dups     uint32
	AckDups  uint32
	Drops    uint32
}

// TimeSyncSample is what a 0x05 request yields (§4.4.1, §8 scenario 6):
// the client's own packet counters at the moment of the request.
type TimeSyncSample struct {
	ClientPacketsReceived uint32
	ClientPacketsSent     uint32
	ServerTime            uint32
	ClientTime            uint32
}

// Collector is the contract the core consumes.
type Collector interface {
	RelStats(p playermgr.ID, s RelStats)
	RelDelay(p playermgr.ID, rttMS int)
	TimeSync(p playermgr.ID, s TimeSyncSample)
}

// recorded is one player's most recent samples; LastRTT exposes the RTT
// sample read-only for tests.
type recorded struct {
	RelStats
	lastRTT      int
	lastTimeSync TimeSyncSample
}

// InMemory is a Collector good enough to exercise the core without a real
// lag-statistics backend; it just remembers the latest sample per player.
type InMemory struct {
	mu      sync.Mutex
	samples map[playermgr.ID]*recorded
}

func NewInMemory() *InMemory {
	return &InMemory{samples: make(map[playermgr.ID]*recorded)}
}

func (c *InMemory) entry(p playermgr.ID) *recorded {
	r, ok := c.samples[p]
	if !ok {
		r = &recorded{}
		c.samples[p] = r
	}
	return r
}

func (c *InMemory) RelStats(p playermgr.ID, s RelStats) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entry(p).RelStats = s
}

func (c *InMemory) RelDelay(p playermgr.ID, rttMS int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entry(p).lastRTT = rttMS
}

func (c *InMemory) TimeSync(p playermgr.ID, s TimeSyncSample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entry(p).lastTimeSync = s
}

// LastRTT returns the most recently recorded RTT sample in milliseconds,
// for tests.
func (c *InMemory) LastRTT(p playermgr.ID) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.samples[p]
	if !ok {
		return 0, false
	}
	return r.lastRTT, true
}
