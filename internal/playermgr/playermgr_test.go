package playermgr

import "testing"

func TestAllocateAssignsDistinctIDs(t *testing.T) {
	m := NewInMemory(nil)
	p1, err := m.Allocate()
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	p2, err := m.Allocate()
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if p1.ID() == p2.ID() {
		t.Errorf("expected distinct IDs, got %d and %d", p1.ID(), p2.ID())
	}
	if p1.Status() != StatusConnecting {
		t.Errorf("expected a freshly-allocated player to be StatusConnecting, got %v", p1.Status())
	}
	if m.Count() != 2 {
		t.Errorf("expected count 2, got %d", m.Count())
	}
}

func TestKickSetsTimeWaitAndInvokesCallback(t *testing.T) {
	var gotReason string
	var gotPlayer *Player
	m := NewInMemory(func(p *Player, reason string) {
		gotPlayer = p
		gotReason = reason
	})
	p, _ := m.Allocate()
	m.Kick(p, "dropped")

	if p.Status() != StatusTimeWait {
		t.Errorf("expected StatusTimeWait after kick, got %v", p.Status())
	}
	if gotPlayer != p || gotReason != "dropped" {
		t.Errorf("expected onKick callback with (p, \"dropped\"), got (%v, %q)", gotPlayer, gotReason)
	}
}

func TestRemoveDropsFromLiveSet(t *testing.T) {
	m := NewInMemory(nil)
	p, _ := m.Allocate()
	m.Remove(p)
	if m.Count() != 0 {
		t.Errorf("expected count 0 after remove, got %d", m.Count())
	}
}

func TestIterateVisitsAllPlayers(t *testing.T) {
	m := NewInMemory(nil)
	p1, _ := m.Allocate()
	p2, _ := m.Allocate()
	seen := make(map[ID]bool)
	m.Iterate(func(p *Player) { seen[p.ID()] = true })
	if !seen[p1.ID()] || !seen[p2.ID()] {
		t.Errorf("expected Iterate to visit both players, got %v", seen)
	}
}

func TestCountPlaying(t *testing.T) {
	m := NewInMemory(nil)
	p1, _ := m.Allocate()
	_, _ = m.Allocate()
	p1.SetStatus(StatusConnected)
	if got := m.CountPlaying(); got != 1 {
		t.Errorf("expected 1 playing, got %d", got)
	}
}

func TestStatusString(t *testing.T) {
	cases := map[Status]string{
		StatusConnecting:  "connecting",
		StatusConnected:   "connected",
		StatusLeavingZone: "leaving_zone",
		StatusTimeWait:    "time_wait",
		StatusLoggedOut:   "logged_out",
		Status(99):        "unknown",
	}
	for s, want := range cases {
		if got := s.String(); got != want {
			t.Errorf("Status(%d).String(): expected %q, got %q", s, want, got)
		}
	}
}
