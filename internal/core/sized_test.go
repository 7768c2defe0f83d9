package core

import (
	"testing"

	"zonecore/internal/wire"
)

func TestSendSizedPumpsChunksReliably(t *testing.T) {
	e := newTestEngine(t)
	e.cfg.SizedQueueThreshold = 10
	e.cfg.SizedQueuePackets = 10
	conn := newTestConn(32)

	data := make([]byte, wire.SizedChunkSize*2+10)
	for i := range data {
		data[i] = byte(i)
	}

	doneCalled := false
	var doneCancelled bool
	e.SendSized(conn, uint32(len(data)), func(offset, needed uint32) []byte {
		end := offset + needed
		if end > uint32(len(data)) {
			end = uint32(len(data))
		}
		return data[offset:end]
	}, func(cancelled bool) {
		doneCalled = true
		doneCancelled = cancelled
	})

	e.pumpSized(conn)

	// SendWithCallback parks reliable sends on unsentRel until the next Send
	// Pipeline pass assigns them a sequence number (send.go's promoteReliable).
	q := &conn.unsentRel
	if q.len() == 0 {
		t.Fatal("expected pumpSized to have queued reliable chunks onto unsentRel")
	}
	for _, qp := range q.items {
		if !qp.reliable {
			t.Error("expected every sized-data chunk to be marked reliable")
		}
		if len(qp.data) < 6 || qp.data[0] != 0x00 || qp.data[1] != wire.SizedData {
			t.Errorf("expected a 0x00 0x0A sized-data header, got %v", qp.data[:6])
		}
	}

	// All chunks fit in the descriptor's total within this single pump (the
	// threshold/batch both exceed the 3 chunks needed), so done fires as
	// soon as every chunk has been handed to the send pipeline.
	if !doneCalled {
		t.Fatal("expected done to fire once every chunk had been queued")
	}
	if doneCancelled {
		t.Error("expected done(false) for a completed (not cancelled) sized-send")
	}

	conn.sizedSendLock.Lock()
	remaining := len(conn.sizedSends)
	conn.sizedSendLock.Unlock()
	if remaining != 0 {
		t.Errorf("expected the sized-send descriptor to be retired, got %d remaining", remaining)
	}

	// Simulate the chunks' acks arriving; must not panic or double-fire done.
	for _, qp := range q.items {
		runCallbackChain(qp.cb, true)
	}
}
