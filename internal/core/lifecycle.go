package core

import (
	"time"

	"zonecore/internal/events"
	"zonecore/internal/logging"
	"zonecore/internal/playermgr"
	"zonecore/internal/telemetry"
	"zonecore/internal/wire"
)

// checkLagout is folded into every send-pipeline pass for player
// connections (§4.9): it notices a drop_timeout/hit_max_retries/
// hit_max_outlist condition and asks the player manager to kick, and
// separately notices a manager-driven transition into StatusTimeWait
// (whether that came from us or from an external admin action) and runs
// the TimeWait teardown.
func (e *Engine) checkLagout(conn *Connection, now time.Time) {
	if conn.torndown.Load() || conn.Player == nil {
		return
	}

	status := conn.Player.Status()
	if status == playermgr.StatusTimeWait {
		e.teardownConnection(conn, "lagout_or_admin_kick")
		return
	}
	if status != playermgr.StatusConnected && status != playermgr.StatusLeavingZone {
		return
	}

	timedOut := now.Sub(conn.LastReceive()) > e.cfg.DropTimeout
	if !timedOut && !conn.hitMaxRetries.Load() && !conn.hitMaxOutlist.Load() {
		return
	}

	reason := lagoutReason(timedOut, conn)
	logging.Warn().Str("remote", conn.RemoteAddr.String()).Str("reason", reason).Msg("core: lagout, kicking")
	telemetry.Lagouts.Inc()
	e.bus.Publish(events.Event{Topic: events.ConnectionLagout, Data: conn})
	e.players.Kick(conn.Player, reason)
}

func lagoutReason(timedOut bool, conn *Connection) string {
	switch {
	case timedOut:
		return "drop_timeout"
	case conn.hitMaxRetries.Load():
		return "hit_max_retries"
	default:
		return "hit_max_outlist"
	}
}

// teardownConnection implements §4.9's TimeWait teardown: cancel
// outstanding sized sends, send the disconnect notice, terminate the
// sized/big receive state, drain every send queue (running callbacks with
// success=false), release the encryptor, and remove the connection from
// its table. Freeing the player itself is left to whatever subscribes to
// events.ConnectionTornDown, since player ownership lives outside the core
// (§9 Design Notes).
func (e *Engine) teardownConnection(conn *Connection, reason string) {
	if !conn.torndown.CompareAndSwap(false, true) {
		return
	}

	conn.sizedSendLock.Lock()
	pending := conn.sizedSends
	conn.sizedSends = nil
	conn.sizedSendLock.Unlock()
	for _, ss := range pending {
		if ss.done != nil {
			ss.done(true)
		}
	}

	e.rawSend(conn, wire.DisconnectPacket())

	conn.bigLock.Lock()
	conn.big = nil
	conn.sizedIn = sizedReceive{}
	conn.bigLock.Unlock()

	conn.outgoingLock.Lock()
	for i := range conn.queues {
		for _, qp := range conn.queues[i].items {
			runCallbackChain(qp.cb, false)
			putQueuedPacket(qp)
		}
		conn.queues[i] = packetQueue{}
	}
	for _, qp := range conn.unsentRel.items {
		runCallbackChain(qp.cb, false)
		putQueuedPacket(qp)
	}
	conn.unsentRel = packetQueue{}
	conn.outgoingLock.Unlock()

	if conn.encryptor != nil {
		e.crypto.Release(conn.EncryptorName, conn.encryptor)
		conn.encryptor = nil
	}

	if conn.outbound {
		e.clientTable.remove(conn.RemoteAddr)
	} else {
		e.table.remove(conn.RemoteAddr)
	}
	telemetry.ConnectionsLive.Dec()

	logging.Info().Str("remote", conn.RemoteAddr.String()).Str("reason", reason).Msg("core: connection torn down")
	e.bus.Publish(events.Event{Topic: events.ConnectionTornDown, Data: conn})
}

// teardownClientConnection handles a peer-initiated Drop (0x07) on an
// outbound client connection (§4.9), which has no playermgr.Player of its
// own to drive the poll-based path above.
func (e *Engine) teardownClientConnection(conn *Connection) {
	e.teardownConnection(conn, "peer_disconnect")
}
