package limiter

import (
	"strings"
	"testing"
	"time"

	"zonecore/internal/wire"
)

func TestSimpleChecksBudget(t *testing.T) {
	s := NewSimple(1000, 4, 16)
	now := time.Now()
	s.Iter(now)

	if !s.Check(500, wire.PriorityUnreliable) {
		t.Fatal("expected the first 500-byte check to succeed within a 1000-byte budget")
	}
	if !s.Check(500, wire.PriorityUnreliable) {
		t.Fatal("expected the second 500-byte check to succeed, exhausting the budget")
	}
	if s.Check(1, wire.PriorityUnreliable) {
		t.Error("expected a check against an exhausted budget to fail")
	}
}

func TestSimpleAcksAlwaysPass(t *testing.T) {
	s := NewSimple(0, 4, 16)
	if !s.Check(1<<20, wire.PriorityAck) {
		t.Error("expected acks to bypass the byte budget entirely")
	}
}

func TestSimpleRefillsOverTime(t *testing.T) {
	s := NewSimple(1000, 4, 16)
	start := time.Now()
	s.Iter(start)
	if !s.Check(1000, wire.PriorityUnreliable) {
		t.Fatal("expected initial budget to cover 1000 bytes")
	}
	if s.Check(1, wire.PriorityUnreliable) {
		t.Fatal("expected budget to be exhausted")
	}
	s.Iter(start.Add(500 * time.Millisecond))
	if !s.Check(500, wire.PriorityUnreliable) {
		t.Error("expected half a second to refill roughly half the byte budget")
	}
}

func TestSimpleWindowAdjustments(t *testing.T) {
	s := NewSimple(1000, 4, 8)
	if got := s.GetSendWindowSize(); got != 4 {
		t.Fatalf("expected initial window 4, got %d", got)
	}
	s.AdjustForAck()
	if got := s.GetSendWindowSize(); got != 5 {
		t.Errorf("expected window 5 after one ack, got %d", got)
	}
	for i := 0; i < 10; i++ {
		s.AdjustForAck()
	}
	if got := s.GetSendWindowSize(); got != 8 {
		t.Errorf("expected window to cap at maxWindow 8, got %d", got)
	}
	s.AdjustForRetry()
	if got := s.GetSendWindowSize(); got != 4 {
		t.Errorf("expected window to halve to 4 after a retry, got %d", got)
	}
	for i := 0; i < 10; i++ {
		s.AdjustForRetry()
	}
	if got := s.GetSendWindowSize(); got != 1 {
		t.Errorf("expected window to floor at 1, got %d", got)
	}
}

func TestSimpleGetInfo(t *testing.T) {
	s := NewSimple(1000, 4, 8)
	var b strings.Builder
	s.GetInfo(&b)
	if !strings.Contains(b.String(), "window=4/8") {
		t.Errorf("expected GetInfo to mention window=4/8, got %q", b.String())
	}
}
