package lagstats

import (
	"testing"

	"zonecore/internal/playermgr"
)

func TestInMemoryRecordsLatestRTT(t *testing.T) {
	c := NewInMemory()
	const pid playermgr.ID = 1

	if _, ok := c.LastRTT(pid); ok {
		t.Fatal("expected no RTT recorded for an untouched player")
	}
	c.RelDelay(pid, 42)
	got, ok := c.LastRTT(pid)
	if !ok || got != 42 {
		t.Errorf("expected RTT 42, got %d (ok=%v)", got, ok)
	}
	c.RelDelay(pid, 10)
	if got, _ := c.LastRTT(pid); got != 10 {
		t.Errorf("expected the latest RTT sample (10) to overwrite the previous one, got %d", got)
	}
}

func TestInMemoryRelStatsAndTimeSyncDoNotPanic(t *testing.T) {
	c := NewInMemory()
	const pid playermgr.ID = 2
	c.RelStats(pid, RelStats{Retries: 3, Dups: 1, AckDups: 2, Drops: 0})
	c.TimeSync(pid, TimeSyncSample{ClientTime: 1, ServerTime: 2})
}
