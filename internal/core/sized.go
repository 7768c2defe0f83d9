package core

import (
	"time"

	"zonecore/internal/playermgr"
	"zonecore/internal/wire"
)

// sizedPumpInterval is the sized-send worker's fallback tick; most pumps
// are instead triggered on demand via wakeSized (§4.7).
const sizedPumpInterval = 50 * time.Millisecond

func (e *Engine) sizedWorker() {
	defer e.wg.Done()
	ticker := time.NewTicker(sizedPumpInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.shutdown:
			return
		case <-e.sizedWake:
			e.pumpAllSized()
		case <-ticker.C:
			e.pumpAllSized()
		}
	}
}

func (e *Engine) wakeSized() {
	select {
	case e.sizedWake <- struct{}{}:
	default:
	}
}

func (e *Engine) pumpAllSized() {
	e.table.each(e.pumpSized)
	e.clientTable.each(e.pumpSized)
}

// pumpSized drives the head-of-line sized-send for one connection: it asks
// the descriptor's request callback for up to SizedQueuePackets chunks
// (never exceeding SizedQueueThreshold in flight at once), wraps each in a
// 0x0A header, and sends it reliably (§4.7).
func (e *Engine) pumpSized(conn *Connection) {
	conn.sizedSendLock.Lock()
	if len(conn.sizedSends) == 0 {
		conn.sizedSendLock.Unlock()
		return
	}
	ss := conn.sizedSends[0]

	if ss.cancelled {
		if !ss.peerAsked {
			conn.sizedSendLock.Unlock()
			return
		}
		conn.sizedSends = conn.sizedSends[1:]
		conn.sizedSendLock.Unlock()
		e.SendToOne(conn, wire.SizedCancelledPacket(), 0)
		if ss.done != nil {
			ss.done(true)
		}
		return
	}

	threshold := e.cfg.SizedQueueThreshold
	if threshold <= 0 {
		threshold = 1
	}
	if ss.queuedCount >= threshold {
		conn.sizedSendLock.Unlock()
		return
	}

	batch := e.cfg.SizedQueuePackets
	if batch <= 0 {
		batch = 1
	}
	toRequest := threshold - ss.queuedCount
	if toRequest > batch {
		toRequest = batch
	}
	offset := ss.offset
	total := ss.total
	conn.sizedSendLock.Unlock()

	// §4.7 step 2 / §9 Design Notes: the application's request callback
	// must run without any connection lock held, since it may re-enter the
	// engine (e.g. to cancel this very sized-send).
	type chunkJob struct {
		data []byte
	}
	var jobs []chunkJob
	for i := 0; i < toRequest && offset < total; i++ {
		needed := wire.SizedChunkSize
		if remaining := total - offset; uint32(needed) > remaining {
			needed = int(remaining)
		}
		chunk := ss.request(offset, uint32(needed))
		if len(chunk) == 0 {
			break
		}
		jobs = append(jobs, chunkJob{data: chunk})
		offset += uint32(len(chunk))
	}

	conn.sizedSendLock.Lock()
	if ss.cancelled {
		// A cancel landed while request ran unlocked; the next pump handles
		// the cancellation handshake, so just drop what we pulled.
		conn.sizedSendLock.Unlock()
		return
	}
	ss.offset = offset
	ss.queuedCount += len(jobs)
	finished := ss.offset >= ss.total
	done := ss.done
	if finished && len(conn.sizedSends) > 0 && conn.sizedSends[0] == ss {
		conn.sizedSends = conn.sizedSends[1:]
	}
	conn.sizedSendLock.Unlock()

	for _, j := range jobs {
		payload := append(wire.SizedDataHeader(total), j.data...)
		e.SendWithCallback(conn, payload, wire.FlagReliable, func(success bool) {
			conn.sizedSendLock.Lock()
			ss.queuedCount--
			conn.sizedSendLock.Unlock()
			e.wakeSized()
		})
	}

	if finished && done != nil {
		done(false)
	}
}

// SendSized registers a new outbound sized-send on conn (§4.7, §6
// "send_sized"): request is called to pull each chunk on demand, done is
// invoked once with cancelled=true (peer- or teardown-cancelled) or
// cancelled=false (completed). Returns false, queuing nothing, if conn is
// nil/torn down or its player is already departing (§6).
func (e *Engine) SendSized(conn *Connection, total uint32, request func(offset, needed uint32) []byte, done func(cancelled bool)) bool {
	if conn == nil || request == nil || conn.torndown.Load() {
		return false
	}
	if conn.Player != nil {
		switch conn.Player.Status() {
		case playermgr.StatusLeavingZone, playermgr.StatusTimeWait, playermgr.StatusLoggedOut:
			return false
		}
	}
	ss := &sizedSend{total: total, request: request, done: done}
	conn.sizedSendLock.Lock()
	conn.sizedSends = append(conn.sizedSends, ss)
	conn.sizedSendLock.Unlock()
	e.wakeSized()
	return true
}
