// Package limiter defines the bandwidth-limiter contract the core consumes
// (§6 "Consumed external interfaces") and a reference implementation. The
// policy itself ("congestion-control tuning") is explicitly out of scope
// per spec.md §1 Non-goals; what lives here is the plumbing every Send
// Pipeline pass needs regardless of policy.
package limiter

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"zonecore/internal/wire"
)

// Limiter is the capability trait §9 Design Notes calls for: pluggable,
// one instance per connection.
type Limiter interface {
	// Iter is called once per Send Pipeline pass (§4.6) before any packet
	// is considered, so the limiter can refill its window for elapsed time.
	Iter(now time.Time)
	// Check reports whether bytes more of the given priority may be sent
	// right now; on success it must debit its own internal budget.
	Check(bytes int, priority wire.BandwidthPriority) bool
	// GetSendWindowSize returns the number of reliable packets allowed to
	// be outstanding unacknowledged at once (bounds §4.6 step 1's
	// s2cn-min_queued_seq window).
	GetSendWindowSize() int
	// AdjustForAck is called when a reliable packet is acked (§4.4.1 0x04),
	// so the limiter can grow its window.
	AdjustForAck()
	// AdjustForRetry is called whenever a packet is retried (§4.6 step 4),
	// so the limiter can shrink its window.
	AdjustForRetry()
	// GetInfo appends a short human-readable summary, used by the
	// per-connection stats accessor (§6).
	GetInfo(b *strings.Builder)
}

// Simple is a token-bucket-ish reference limiter: a byte budget that refills
// at a configured rate, plus a reliable send window that grows by one on
// every ack and halves (floor 1) on every retry — classic
// additive-increase/multiplicative-decrease, deliberately unsophisticated
// since tuning congestion control is out of scope.
type Simple struct {
	mu sync.Mutex

	bytesPerSecond int
	budget         float64
	lastIter       time.Time

	sendWindow int
	maxWindow  int
}

// NewSimple builds a reference limiter admitting bytesPerSecond bytes/sec
// across all priorities, starting with a reliable send window of
// initialWindow packets (bounded by maxWindow).
func NewSimple(bytesPerSecond, initialWindow, maxWindow int) *Simple {
	if initialWindow < 1 {
		initialWindow = 1
	}
	return &Simple{
		bytesPerSecond: bytesPerSecond,
		budget:         float64(bytesPerSecond),
		lastIter:       time.Now(),
		sendWindow:     initialWindow,
		maxWindow:      maxWindow,
	}
}

func (s *Simple) Iter(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastIter.IsZero() {
		s.lastIter = now
		return
	}
	elapsed := now.Sub(s.lastIter).Seconds()
	if elapsed <= 0 {
		return
	}
	s.lastIter = now
	s.budget += elapsed * float64(s.bytesPerSecond)
	if cap := float64(s.bytesPerSecond) * 2; s.budget > cap {
		s.budget = cap
	}
}

func (s *Simple) Check(bytes int, priority wire.BandwidthPriority) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if priority == wire.PriorityAck {
		return true // acks always bypass the limiter, §4.5
	}
	if s.budget < float64(bytes) {
		return false
	}
	s.budget -= float64(bytes)
	return true
}

func (s *Simple) GetSendWindowSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendWindow
}

func (s *Simple) AdjustForAck() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendWindow++
	if s.sendWindow > s.maxWindow {
		s.sendWindow = s.maxWindow
	}
}

func (s *Simple) AdjustForRetry() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendWindow /= 2
	if s.sendWindow < 1 {
		s.sendWindow = 1
	}
}

func (s *Simple) GetInfo(b *strings.Builder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(b, "window=%d/%d budget=%.0f/%d Bps", s.sendWindow, s.maxWindow, s.budget, s.bytesPerSecond)
}
