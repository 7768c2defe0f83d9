package core

import (
	"net"
	"testing"

	"zonecore/internal/arena"
	"zonecore/internal/config"
	"zonecore/internal/crypt"
	"zonecore/internal/lagstats"
	"zonecore/internal/limiter"
	"zonecore/internal/playermgr"
)

func newTestEngineWithArenas(t *testing.T, arenas *arena.InMemory) *Engine {
	t.Helper()
	e, err := NewEngine(
		config.Defaults(),
		playermgr.NewInMemory(nil),
		arenas,
		lagstats.NewInMemory(),
		crypt.NewRegistry(),
		func() limiter.Limiter { return limiter.NewSimple(1<<20, 32, 256) },
	)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return e
}

func TestSimplePingCountTotal(t *testing.T) {
	arenas := arena.NewInMemory()
	arenas.SetArena("turf#1", 10, 4)
	e := newTestEngineWithArenas(t, arenas)
	e.cfg.SimplePingPopulation = config.PopulationTotal

	if got := e.simplePingCount(); got != 10 {
		t.Errorf("expected total population 10, got %d", got)
	}
}

func TestSimplePingCountPlaying(t *testing.T) {
	arenas := arena.NewInMemory()
	arenas.SetArena("turf#1", 10, 4)
	e := newTestEngineWithArenas(t, arenas)
	e.cfg.SimplePingPopulation = config.PopulationPlaying

	if got := e.simplePingCount(); got != 4 {
		t.Errorf("expected playing population 4, got %d", got)
	}
}

func TestHandlePingBothShapesDoNotPanicWithoutASocket(t *testing.T) {
	arenas := arena.NewInMemory()
	arenas.SetArena("turf#1", 1, 1)
	e := newTestEngineWithArenas(t, arenas)

	l := &ListenData{ConnectAs: "turf"}
	remote := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1234}

	// No ping socket wired, so sendPingResponse is a silent no-op; this just
	// exercises handleSimplePing/handleExtendedPing without panicking.
	e.handlePing(l, remote, []byte{0x01, 0x02, 0x03, 0x04})
	e.handlePing(l, remote, []byte{0x01, 0x02, 0x03, 0x04, pingOptGlobalSummary | pingOptArenaSummary, 0, 0, 0})
}

func TestRefreshPingPopulationReflectsArenaState(t *testing.T) {
	arenas := arena.NewInMemory()
	arenas.SetArena("turf#1", 5, 2)
	e := newTestEngineWithArenas(t, arenas)
	e.cfg.PingRefreshThreshold = 0

	pop := e.refreshPingPopulation()
	if pop.Total != 5 || pop.Playing != 2 {
		t.Fatalf("expected total=5 playing=2, got total=%d playing=%d", pop.Total, pop.Playing)
	}
}
