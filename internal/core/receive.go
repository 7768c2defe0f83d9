package core

import (
	"net"
	"time"

	"zonecore/internal/lagstats"
	"zonecore/internal/logging"
	"zonecore/internal/playermgr"
	"zonecore/internal/telemetry"
	"zonecore/internal/wire"
)

// decryptInPlace runs the connection's encryptor over buf (§4.4 step 4);
// a zero return is a decrypt failure.
func (c *Connection) decryptInPlace(buf []byte) int {
	if c.encryptor == nil {
		return len(buf)
	}
	return c.encryptor.Decrypt(buf, len(buf))
}

// handleGameDatagram is the top of the Receive Pipeline for traffic on a
// listen's game socket (§4.4 steps 1-6).
func (e *Engine) handleGameDatagram(l *ListenData, remote *net.UDPAddr, buf []byte) {
	if len(buf) > wire.GamePacketLimit && !wire.IsConnectionInit(buf) {
		logging.Malicious().Int("len", len(buf)).Str("remote", remote.String()).Msg("core: oversize datagram rejected")
		return
	}

	conn, ok := e.table.get(remote)
	if !ok {
		if wire.IsConnectionInit(buf) {
			e.runInitHandlers(remote, l, buf)
		} else {
			logging.Drivel().Str("remote", remote.String()).Msg("core: datagram from unknown address")
		}
		return
	}

	if wire.IsConnectionInit(buf) {
		if conn.Player != nil && conn.Player.Status() == playermgr.StatusConnected {
			// Our prior response was dropped; let the init handlers retry.
			e.runInitHandlers(remote, l, buf)
		} else if conn.Player != nil {
			e.players.Kick(conn.Player, "duplicate connection-init mid-handshake")
		}
		return
	}

	if conn.Player != nil && conn.Player.Status() > playermgr.StatusLeavingZone {
		return
	}

	e.finishReceive(conn, buf)
}

// handleClientDatagram is the Receive Pipeline entry for the single
// outbound client socket, routed by the client table instead of the player
// connection table.
func (e *Engine) handleClientDatagram(remote *net.UDPAddr, buf []byte) {
	conn, ok := e.clientTable.get(remote)
	if !ok {
		return
	}
	e.finishReceive(conn, buf)
}

func (e *Engine) finishReceive(conn *Connection, buf []byte) {
	n := conn.decryptInPlace(buf)
	if n == 0 {
		logging.Malicious().Str("remote", conn.RemoteAddr.String()).Msg("core: decrypt failure")
		return
	}
	buf = buf[:n]

	now := time.Now()
	conn.packetsReceived.Add(1)
	conn.bytesReceived.Add(uint64(len(buf)))
	conn.touchReceive(now)
	telemetry.PacketsReceived.Inc()
	telemetry.BytesReceived.Add(uint64(len(buf)))

	e.dispatch(conn, buf, ReceiveFlags{})
}

func (e *Engine) runInitHandlers(remote *net.UDPAddr, l *ListenData, buf []byte) {
	e.initHandlersMu.RLock()
	handlers := append([]InitHandler(nil), e.initHandlers...)
	e.initHandlersMu.RUnlock()

	for _, h := range handlers {
		if h(e, remote, l, buf) {
			return
		}
	}
	logging.Drivel().Str("remote", remote.String()).Msg("core: no init handler accepted connection-init")
}

// dispatch is re-entered for every unwrapping layer (top-level datagram,
// reliable-reordered payload, grouped-frame item), which is why §4.4.1
// 0x0E/reliable handling just calls back into this with updated flags.
func (e *Engine) dispatch(conn *Connection, buf []byte, flags ReceiveFlags) {
	if len(buf) == 0 {
		return
	}
	if buf[0] == 0x00 {
		e.dispatchCore(conn, buf, flags)
		return
	}
	if !e.dispatchPacket(conn, buf[0], buf, flags) {
		logging.Drivel().Uint8("id", buf[0]).Msg("core: no application handler registered")
	}
}

func (e *Engine) dispatchCore(conn *Connection, buf []byte, flags ReceiveFlags) {
	if len(buf) < 2 {
		logging.Malicious().Msg("core: short core-protocol packet")
		return
	}
	switch buf[1] {
	case wire.KeyResponse:
		if conn.outbound && conn.connectedCB != nil {
			conn.connectedCB()
		} else {
			logging.Malicious().Msg("core: unexpected key response on a player connection")
		}
	case wire.Reliable:
		e.handleReliable(conn, buf, flags)
	case wire.Ack:
		e.handleAck(conn, buf)
	case wire.TimeSyncRequest:
		e.handleTimeSync(conn, buf)
	case wire.Drop:
		e.handleDrop(conn)
	case wire.BigDataChunk:
		e.handleBigChunk(conn, buf[2:], false)
	case wire.BigDataEnd:
		e.handleBigChunk(conn, buf[2:], true)
	case wire.SizedData:
		e.handleSizedData(conn, buf[2:])
	case wire.CancelSizedReceive:
		e.handleCancelSizedReceive(conn)
	case wire.SizedCancelled:
		e.handleSizedCancelled(conn)
	case wire.Grouped:
		e.handleGrouped(conn, buf[2:], flags)
	case wire.ContKeyResponse:
		e.handleNetHandler(conn, buf[1], buf, flags)
	default:
		if buf[1] <= 0x13 {
			e.handleNetHandler(conn, buf[1], buf, flags)
			return
		}
		logging.Malicious().Uint8("subtype", buf[1]).Msg("core: unknown core subtype")
	}
}

func (e *Engine) handleNetHandler(conn *Connection, id byte, buf []byte, flags ReceiveFlags) {
	e.handlersMu.RLock()
	h, ok := e.netHandlers[id]
	e.handlersMu.RUnlock()
	if ok {
		h(conn, buf, flags)
		return
	}
	logging.Drivel().Uint8("id", id).Msg("core: no net-handler registered")
}

// handleReliable is §4.5's admission path for an incoming 0x03 packet.
func (e *Engine) handleReliable(conn *Connection, buf []byte, flags ReceiveFlags) {
	if len(buf) < wire.ReliableHeaderSize {
		logging.Malicious().Msg("core: short reliable header")
		return
	}
	seq := wire.DecodeReliableHeader(buf)
	payload := buf[wire.ReliableHeaderSize:]

	conn.reliableLock.Lock()
	res := conn.reorder.admit(seq, conn.c2sn, payload)
	c2sn := conn.c2sn
	conn.reliableLock.Unlock()

	switch res {
	case admitDuplicate:
		conn.relDups.Add(1)
		telemetry.RelDups.Inc()
		e.sendAck(conn, seq)
	case admitTooFarAhead:
		logging.Drivel().Uint32("seq", seq).Uint32("c2sn", c2sn).Msg("core: reliable seq too far ahead, dropping")
	case admitOK:
		e.sendAck(conn, seq)
		if seq == c2sn {
			e.enqueueReliable(conn)
		}
	}
}

func (e *Engine) sendAck(conn *Connection, seq uint32) {
	pkt := wire.AckPacket(seq)
	qp := getQueuedPacket()
	qp.data = pkt
	conn.outgoingLock.Lock()
	conn.queues[wire.PriorityAck].pushBack(qp)
	conn.outgoingLock.Unlock()
}

func (e *Engine) enqueueReliable(conn *Connection) {
	if !conn.reliableQueued.CompareAndSwap(false, true) {
		return
	}
	select {
	case e.reliableQueue <- conn:
	default:
		conn.reliableQueued.Store(false)
		logging.Warn().Msg("core: reliable-processing queue full")
	}
}

// reliableWorker pulls ready connections off the shared queue and drains
// their contiguous reliable sequence runs (§4.5, §5).
func (e *Engine) reliableWorker() {
	defer e.wg.Done()
	for {
		conn := <-e.reliableQueue
		if conn == nil { // sentinel: shutdown (§9 Design Notes)
			return
		}
		e.drainReliable(conn)
	}
}

func (e *Engine) drainReliable(conn *Connection) {
	conn.reliableProcessingLock.Lock()
	defer conn.reliableProcessingLock.Unlock()

	conn.reliableQueued.Store(false)

	conn.reliableLock.Lock()
	payloads, newC2SN, more := conn.reorder.drain(conn.c2sn, conn.reorder.capacity)
	conn.c2sn = newC2SN
	conn.reliableLock.Unlock()

	for _, p := range payloads {
		e.dispatch(conn, p, ReceiveFlags{Reliable: true})
		putBuf(p)
	}

	if more {
		e.enqueueReliable(conn)
	}
}

// handleAck resolves a 0x04 ack against the connection's reliable send
// queue (§4.4.1 0x04).
func (e *Engine) handleAck(conn *Connection, buf []byte) {
	if len(buf) < 6 {
		logging.Malicious().Msg("core: short ack")
		return
	}
	seq := wire.Uint32LE(buf[2:6])
	now := time.Now()

	conn.outgoingLock.Lock()
	q := &conn.queues[wire.PriorityReliable]
	idx := -1
	for i, qp := range q.items {
		if qp.hasSeq && qp.seq == seq {
			idx = i
			break
		}
	}
	if idx < 0 {
		conn.outgoingLock.Unlock()
		conn.ackDups.Add(1)
		telemetry.AckDups.Inc()
		return
	}
	qp := q.items[idx]
	q.items = append(q.items[:idx], q.items[idx+1:]...)
	retransmitted := qp.tries > 1
	sampleMS := int(now.Sub(qp.lastTry).Milliseconds())
	if conn.limiter != nil {
		conn.limiter.AdjustForAck()
	}
	conn.outgoingLock.Unlock()

	if retransmitted {
		e.nudgeRTTDevForRetry(conn)
	} else {
		e.updateRTT(conn, sampleMS)
	}
	runCallbackChain(qp.cb, true)
	putQueuedPacket(qp)
}

// updateRTT applies §4.4.1's RTT update formula on a successful
// initial-send ack.
func (e *Engine) updateRTT(conn *Connection, sampleMS int) {
	if sampleMS < 0 {
		logging.Error().Int("sample_ms", sampleMS).Msg("core: negative RTT sample (clock skew?), clamping to 100ms")
		sampleMS = 100
	}
	conn.outgoingLock.Lock()
	dev := conn.avgRTT - sampleMS
	if dev < 0 {
		dev = -dev
	}
	conn.avgRTTDev = (conn.avgRTTDev*3 + dev) / 4
	conn.avgRTT = (conn.avgRTT*7 + sampleMS) / 8
	conn.outgoingLock.Unlock()

	if conn.Player != nil {
		e.lag.RelDelay(conn.Player.ID(), sampleMS)
	}
}

// nudgeRTTDevForRetry is applied instead of updateRTT when the acked
// packet had already been retried, per §4.4.1.
func (e *Engine) nudgeRTTDevForRetry(conn *Connection) {
	conn.outgoingLock.Lock()
	bump := 10
	if bump > conn.avgRTT {
		bump = conn.avgRTT
	}
	conn.avgRTTDev += bump
	conn.outgoingLock.Unlock()
}

func (e *Engine) handleTimeSync(conn *Connection, buf []byte) {
	if len(buf) < 14 {
		logging.Malicious().Msg("core: short time-sync request")
		return
	}
	clientTime := wire.Uint32LE(buf[2:6])
	pktsRecv := wire.Uint32LE(buf[6:10])
	pktsSent := wire.Uint32LE(buf[10:14])
	serverTime := uint32(time.Now().UnixMilli())

	e.sendImmediate(conn, wire.TimeSyncResponsePacket(clientTime, serverTime))

	if conn.Player != nil {
		e.lag.TimeSync(conn.Player.ID(), lagstats.TimeSyncSample{
			ClientPacketsReceived: pktsRecv,
			ClientPacketsSent:     pktsSent,
			ServerTime:            serverTime,
			ClientTime:            clientTime,
		})
	}
}

// sendImmediate writes payload straight to the socket, encrypted but
// bypassing the bandwidth limiter and send queues entirely, for the
// time-sync response §4.4.1 says must "bypass bandwidth limits".
func (e *Engine) sendImmediate(conn *Connection, payload []byte) {
	buf := getBuf()
	buf = append(buf, payload...)
	if conn.encryptor != nil {
		n := conn.encryptor.Encrypt(buf, len(buf))
		buf = buf[:n]
	}
	socket := conn.socket
	if socket == nil {
		putBuf(buf)
		return
	}
	if _, err := socket.WriteToUDP(buf, conn.RemoteAddr); err != nil {
		logging.Error().Err(err).Msg("core: sendImmediate failed")
		putBuf(buf)
		return
	}
	conn.packetsSent.Add(1)
	conn.bytesSent.Add(uint64(len(buf)))
	telemetry.PacketsSent.Inc()
	telemetry.BytesSent.Add(uint64(len(buf)))
	putBuf(buf)
}

func (e *Engine) handleDrop(conn *Connection) {
	if conn.outbound {
		e.teardownClientConnection(conn)
		return
	}
	if conn.Player != nil {
		e.players.Kick(conn.Player, "peer-initiated disconnect")
	}
}

// handleBigChunk implements §4.4.2: chunks accumulate until the 0x09
// end-marker, which triggers application dispatch of the whole payload.
func (e *Engine) handleBigChunk(conn *Connection, payload []byte, end bool) {
	maxBig := e.cfg.MaxBigPacket
	if maxBig <= 0 {
		maxBig = defaultMaxBigPacket
	}

	conn.bigLock.Lock()
	if conn.big == nil {
		conn.big = &bigReceive{}
	}
	b := conn.big
	if !b.overflow {
		if len(b.buf)+len(payload) > maxBig {
			b.overflow = true
			logging.Malicious().Msg("core: big-data accumulation exceeded cap, discarding")
		} else {
			b.buf = append(b.buf, payload...)
		}
	}

	if !end {
		conn.bigLock.Unlock()
		return
	}

	assembled := b.buf
	overflowed := b.overflow
	conn.big = nil
	conn.bigLock.Unlock()

	if overflowed {
		telemetry.Drops.Inc()
		return
	}
	e.dispatch(conn, assembled, ReceiveFlags{Reliable: true, Big: true})
}

const defaultMaxBigPacket = 524288

// handleSizedData implements §4.4.3. The inaugural chunk's own first byte
// is the "type" that selects the registered sized handler (there being no
// separate type byte in the §6 wire layout).
func (e *Engine) handleSizedData(conn *Connection, payload []byte) {
	if len(payload) < 5 {
		logging.Malicious().Msg("core: short sized-data chunk")
		return
	}
	total := wire.Uint32LE(payload[0:4])
	chunk := payload[4:]

	conn.bigLock.Lock()
	sr := &conn.sizedIn
	if !sr.active {
		typ := chunk[0]
		e.handlersMu.RLock()
		_, ok := e.sizedHandlers[typ]
		e.handlersMu.RUnlock()
		if !ok {
			conn.bigLock.Unlock()
			logging.Malicious().Uint8("type", typ).Msg("core: sized-data unrecognized handler, aborting")
			return
		}
		sr.active = true
		sr.typ = typ
		sr.total = total
		sr.offset = 0
	} else if sr.total != total {
		*sr = sizedReceive{}
		conn.bigLock.Unlock()
		logging.Malicious().Msg("core: sized-data total length mismatch, aborting")
		return
	}

	typ := sr.typ
	offset := sr.offset
	sr.offset += uint32(len(chunk))
	done := sr.offset >= sr.total
	total2 := sr.total
	if done {
		*sr = sizedReceive{}
	}
	conn.bigLock.Unlock()

	e.handlersMu.RLock()
	h, ok := e.sizedHandlers[typ]
	e.handlersMu.RUnlock()
	if ok {
		h(conn, offset, total2, chunk, done)
	}
}

func (e *Engine) handleCancelSizedReceive(conn *Connection) {
	conn.sizedSendLock.Lock()
	var target *sizedSend
	for _, ss := range conn.sizedSends {
		if !ss.cancelled {
			target = ss
			break
		}
	}
	if target != nil {
		target.cancelled = true
		target.peerAsked = true
	}
	conn.sizedSendLock.Unlock()

	if target != nil {
		e.wakeSized()
	}
}

func (e *Engine) handleSizedCancelled(conn *Connection) {
	conn.bigLock.Lock()
	conn.sizedIn = sizedReceive{}
	conn.bigLock.Unlock()
}

// handleGrouped implements §4.4.1 0x0E: expand and feed each inner packet
// back through dispatch with the Grouped flag set.
func (e *Engine) handleGrouped(conn *Connection, payload []byte, flags ReceiveFlags) {
	items, ok := wire.DecodeGroupedFrame(payload)
	if !ok {
		logging.Malicious().Msg("core: malformed grouped frame")
		return
	}
	telemetry.GroupedHistogram.Update(float64(len(items)))
	for _, item := range items {
		e.dispatch(conn, item, ReceiveFlags{Reliable: flags.Reliable, Grouped: true})
	}
}
