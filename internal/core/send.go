package core

import (
	"time"

	"zonecore/internal/logging"
	"zonecore/internal/telemetry"
	"zonecore/internal/wire"
)

// sendTickInterval is the Send Pipeline's cadence (§4.6).
const sendTickInterval = 10 * time.Millisecond

func (e *Engine) sendWorker() {
	defer e.wg.Done()
	ticker := time.NewTicker(sendTickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.shutdown:
			return
		case now := <-ticker.C:
			e.table.each(func(conn *Connection) { e.sendPassAndLagoutCheck(conn, now) })
			e.clientTable.each(func(conn *Connection) { e.sendPass(conn, now) })
		}
	}
}

func (e *Engine) sendPassAndLagoutCheck(conn *Connection, now time.Time) {
	e.sendPass(conn, now)
	e.checkLagout(conn, now)
}

// outGroup accumulates unreliable payloads across the three unreliable
// priorities into a single pending 0x0E frame, flushed at the end of the
// pass (§4.6 step 3 "grouped-frame flush") so small application packets
// don't each cost their own datagram.
type outGroup struct {
	items [][]byte
	size  int
}

// sendPass is one Send Pipeline visit for a single connection (§4.6).
func (e *Engine) sendPass(conn *Connection, now time.Time) {
	conn.outgoingLock.Lock()
	defer conn.outgoingLock.Unlock()

	if conn.limiter != nil {
		conn.limiter.Iter(now)
	}

	// Step 1: promote unsent-reliable packets, assigning sequence numbers
	// and grouping where they fit.
	e.promoteReliable(conn)

	retryTimeout := e.retryTimeout(conn)

	// Step 2: Ack first, then Reliable (retry/timeout/limiter-gated).
	e.drainAck(conn)
	e.drainReliableQueue(conn, now, retryTimeout)

	// Step 2 continued / step 3: the three unreliable priorities feed a
	// shared grouped-frame accumulator, flushed once at the end.
	group := &outGroup{}
	e.drainUnreliable(conn, wire.PriorityUnreliableHigh, group)
	e.drainUnreliable(conn, wire.PriorityUnreliable, group)
	e.drainUnreliable(conn, wire.PriorityUnreliableLow, group)
	e.flushGroup(conn, group)

	// Step 4.
	e.checkOutlist(conn)
}

// retryTimeout derives the reliable retry interval from the connection's
// RTT estimate, clamped to a sane range (§4.4.1's RTT feeds §4.6's retry
// schedule).
func (e *Engine) retryTimeout(conn *Connection) time.Duration {
	ms := conn.avgRTT + 4*conn.avgRTTDev
	if ms < 100 {
		ms = 100
	}
	if ms > 2000 {
		ms = 2000
	}
	return time.Duration(ms) * time.Millisecond
}

// promoteReliable moves unsent-reliable packets onto the reliable send
// queue, assigning s2cn and combining adjacent items into one combined
// reliable+grouped frame up to maxRelGrouping bytes (§4.6 step 1).
func (e *Engine) promoteReliable(conn *Connection) {
	if len(conn.unsentRel.items) == 0 {
		return
	}
	maxGroup := wire.GamePacketLimit
	if e.cfg.LimitReliableGrouping {
		maxGroup = wire.MaxGroupedItemSize
	}

	for len(conn.unsentRel.items) > 0 {
		first := conn.unsentRel.popFront()
		items := [][]byte{first.data}
		size := wire.ReliableHeaderSize + 2 + 1 + len(first.data)
		cb := first.cb

		for len(conn.unsentRel.items) > 0 && len(first.data) <= wire.MaxGroupedItemSize {
			candidate := conn.unsentRel.items[0]
			add := 1 + len(candidate.data)
			if len(candidate.data) > wire.MaxGroupedItemSize || size+add > maxGroup {
				break
			}
			conn.unsentRel.popFront()
			items = append(items, candidate.data)
			size += add
			cb = appendCallback(cb, candidate.cb)
			putQueuedPacket(candidate)
		}

		seq := conn.nextS2CN()
		var payload []byte
		if len(items) == 1 {
			payload = items[0]
		} else {
			payload = wire.GroupedFrame(items)
			telemetry.ReliableGroupedHistogram.Update(float64(len(items)))
		}

		out := getQueuedPacket()
		out.data = append(wire.ReliableHeader(seq), payload...)
		out.reliable = true
		out.hasSeq = true
		out.seq = seq
		out.cb = cb
		out.groupedLen = len(items)
		conn.queues[wire.PriorityReliable].pushBack(out)
		putQueuedPacket(first)
	}
}

func (e *Engine) drainAck(conn *Connection) {
	q := &conn.queues[wire.PriorityAck]
	for len(q.items) > 0 {
		qp := q.popFront()
		e.transmit(conn, qp)
		putQueuedPacket(qp)
	}
}

// drainReliableQueue sends new reliable packets up to the limiter's send
// window and retries timed-out ones, both gated by the byte limiter
// (§4.6 step 2).
func (e *Engine) drainReliableQueue(conn *Connection, now time.Time, retryTimeout time.Duration) {
	q := &conn.queues[wire.PriorityReliable]
	if len(q.items) == 0 {
		return
	}

	window := -1
	if conn.limiter != nil {
		window = conn.limiter.GetSendWindowSize()
	}
	outstanding := 0
	for _, qp := range q.items {
		if qp.tries > 0 {
			outstanding++
		}
	}

	for _, qp := range q.items {
		if qp.tries > 0 {
			if now.Sub(qp.lastTry) < retryTimeout {
				continue
			}
			if conn.hitMaxRetries.Load() {
				continue
			}
		} else if window >= 0 && outstanding >= window {
			continue
		}

		if conn.limiter != nil && !conn.limiter.Check(len(qp.data), wire.PriorityReliable) {
			break
		}

		e.transmit(conn, qp)
		wasRetry := qp.tries > 0
		qp.tries++
		qp.lastTry = now

		if wasRetry {
			conn.retries.Add(1)
			telemetry.Retries.Inc()
			if conn.limiter != nil {
				conn.limiter.AdjustForRetry()
			}
			if qp.tries-1 >= e.cfg.MaxRetries {
				conn.hitMaxRetries.Store(true)
			}
		} else {
			outstanding++
		}
	}
}

// drainUnreliable feeds ready items from one unreliable priority into the
// shared grouped-frame accumulator; items never wait for an ack, so they
// leave the queue (and run their callback) as soon as they're handed off.
func (e *Engine) drainUnreliable(conn *Connection, prio wire.BandwidthPriority, group *outGroup) {
	q := &conn.queues[prio]
	for len(q.items) > 0 {
		qp := q.items[0]
		if conn.limiter != nil && !conn.limiter.Check(len(qp.data), prio) {
			break
		}
		if len(qp.data) > wire.MaxGroupedItemSize {
			// Too long for a one-byte length prefix: flush what is pending
			// and send this packet on its own.
			e.flushGroup(conn, group)
			e.rawSend(conn, qp.data)
		} else {
			need := 1 + len(qp.data)
			if group.size > 0 && group.size+need > wire.GamePacketLimit-2 {
				e.flushGroup(conn, group)
			}
			group.items = append(group.items, qp.data)
			group.size += need
		}

		cb := qp.cb
		q.popFront()
		putQueuedPacket(qp)
		runCallbackChain(cb, true)
	}
}

func (e *Engine) flushGroup(conn *Connection, group *outGroup) {
	if len(group.items) == 0 {
		return
	}
	var out []byte
	if len(group.items) == 1 {
		out = group.items[0]
	} else {
		out = wire.GroupedFrame(group.items)
		telemetry.GroupedHistogram.Update(float64(len(group.items)))
	}
	e.rawSend(conn, out)
	group.items = group.items[:0]
	group.size = 0
}

func (e *Engine) checkOutlist(conn *Connection) {
	total := len(conn.unsentRel.items)
	for i := range conn.queues {
		total += len(conn.queues[i].items)
	}
	if total > conn.outlistPeak {
		conn.outlistPeak = total
	}
	if e.cfg.MaxOutlistSize > 0 && total >= e.cfg.MaxOutlistSize {
		conn.hitMaxOutlist.Store(true)
	}
}

func (e *Engine) transmit(conn *Connection, qp *queuedPacket) {
	e.rawSend(conn, qp.data)
}

func (e *Engine) rawSend(conn *Connection, payload []byte) {
	buf := getBuf()
	buf = append(buf, payload...)
	if conn.encryptor != nil {
		n := conn.encryptor.Encrypt(buf, len(buf))
		buf = buf[:n]
	}
	if conn.socket == nil {
		putBuf(buf)
		return
	}
	if _, err := conn.socket.WriteToUDP(buf, conn.RemoteAddr); err != nil {
		logging.Error().Err(err).Msg("core: send failed")
		putBuf(buf)
		return
	}
	conn.packetsSent.Add(1)
	conn.bytesSent.Add(uint64(len(buf)))
	telemetry.PacketsSent.Inc()
	telemetry.BytesSent.Add(uint64(len(buf)))
	putBuf(buf)
}

// ---- Application send entry points (§6) ----

// SendWithCallback queues data for conn under flags, invoking cb (if
// non-nil) once a reliable send is acked, or with success=false if the
// connection tears down first. Unreliable sends invoke cb as soon as the
// packet is handed to the socket.
func (e *Engine) SendWithCallback(conn *Connection, data []byte, flags wire.SendFlags, cb func(success bool)) {
	if conn == nil || conn.torndown.Load() {
		if cb != nil {
			cb(false)
		}
		return
	}

	reliable := flags&wire.FlagReliable != 0
	// §4.6.1: anything too big for one datagram is fragmented into 0x08/0x09
	// big-data chunks and forced reliable, regardless of the caller's flags.
	oversize := reliable && len(data) > wire.UnreliablePayloadMax-wire.ReliableHeaderSize
	oversize = oversize || (!reliable && len(data) > wire.UnreliablePayloadMax)
	if oversize {
		e.sendBigData(conn, data, cb)
		return
	}

	if flags&wire.FlagUrgent != 0 && !reliable {
		if e.sendUrgent(conn, data, flags, cb) {
			return
		}
	}

	body := make([]byte, len(data))
	copy(body, data)

	qp := getQueuedPacket()
	qp.data = body
	qp.flags = flags
	qp.droppable = flags&wire.FlagDroppable != 0
	if cb != nil {
		qp.cb = getCallbackNode(cb)
	}

	if reliable {
		qp.reliable = true
		conn.outgoingLock.Lock()
		conn.unsentRel.pushBack(qp)
		conn.outgoingLock.Unlock()
		return
	}

	prio := flags.Priority()
	conn.outgoingLock.Lock()
	conn.queues[prio].pushBack(qp)
	conn.outgoingLock.Unlock()
	telemetry.BytesByPriority[prio].Add(uint64(len(body)))
}

// sendBigData implements §4.6.1's big-data send fragmentation: a payload
// that doesn't fit one datagram (reliable and over 512-6 bytes, or
// unreliable and over 512) is split into BigDataChunkSize chunks, each
// prefixed with a 0x08 continuation header (0x09 on the last chunk) and
// pushed onto unsentRel as its own forced-reliable packet, matching §8's
// mandatory big-data round-trip property. cb, if non-nil, is threaded onto
// the terminating chunk only, so it fires once: with success=true when that
// chunk is acked, or with success=false from teardownConnection if the
// connection goes away before then.
func (e *Engine) sendBigData(conn *Connection, data []byte, cb func(success bool)) {
	if len(data) == 0 {
		if cb != nil {
			cb(false)
		}
		return
	}

	var chunks [][]byte
	for off := 0; off < len(data); off += wire.BigDataChunkSize {
		end := off + wire.BigDataChunkSize
		if end > len(data) {
			end = len(data)
		}
		chunks = append(chunks, data[off:end])
	}

	conn.outgoingLock.Lock()
	defer conn.outgoingLock.Unlock()
	for i, chunk := range chunks {
		last := i == len(chunks)-1
		header := wire.BigDataChunkHeader()
		if last {
			header = wire.BigDataEndHeader()
		}
		body := make([]byte, 0, len(header)+len(chunk))
		body = append(body, header...)
		body = append(body, chunk...)

		qp := getQueuedPacket()
		qp.data = body
		qp.flags = wire.FlagReliable
		qp.reliable = true
		if last && cb != nil {
			qp.cb = getCallbackNode(cb)
		}
		conn.unsentRel.pushBack(qp)
	}
}

// sendUrgent implements §4.6.1's Urgent fast path: an unreliable send that
// passes the limiter's check is written to the socket synchronously, under
// outgoingLock, instead of waiting for the next Send Pipeline pass. Returns
// false (without side effects beyond the limiter check itself) when there's
// no budget right now, so the caller falls back to the normal buffered path.
func (e *Engine) sendUrgent(conn *Connection, data []byte, flags wire.SendFlags, cb func(success bool)) bool {
	body := make([]byte, len(data))
	copy(body, data)

	conn.outgoingLock.Lock()
	if conn.limiter != nil && !conn.limiter.Check(len(body), flags.Priority()) {
		conn.outgoingLock.Unlock()
		return false
	}
	e.rawSend(conn, body)
	conn.outgoingLock.Unlock()

	if cb != nil {
		cb(true)
	}
	return true
}

// SendToOne is the fire-and-forget form of SendWithCallback (§6
// "send_to_one").
func (e *Engine) SendToOne(conn *Connection, data []byte, flags wire.SendFlags) {
	e.SendWithCallback(conn, data, flags, nil)
}

// SendToSet fans SendToOne out over an explicit connection slice (§6
// "send_to_set").
func (e *Engine) SendToSet(conns []*Connection, data []byte, flags wire.SendFlags) {
	for _, c := range conns {
		e.SendToOne(c, data, flags)
	}
}

// SendToArena fans out to every connected player whose connection's
// listen matches connectAs (§6 "send_to_arena").
func (e *Engine) SendToArena(connectAs string, data []byte, flags wire.SendFlags) {
	e.table.each(func(c *Connection) {
		if c.Listen != nil && c.Listen.ConnectAs == connectAs {
			e.SendToOne(c, data, flags)
		}
	})
}

// SendToTarget fans out to every live player satisfying pred (§6
// "send_to_target").
func (e *Engine) SendToTarget(pred func(*Connection) bool, data []byte, flags wire.SendFlags) {
	e.table.each(func(c *Connection) {
		if pred(c) {
			e.SendToOne(c, data, flags)
		}
	})
}
