package core

import (
	"encoding/binary"
	"net"
	"time"

	"zonecore/internal/arena"
	"zonecore/internal/config"
	"zonecore/internal/logging"
	"zonecore/internal/telemetry"
)

const (
	pingOptGlobalSummary = 0x01
	pingOptArenaSummary  = 0x02

	pingAlternatePeriod = 3 * time.Second
)

// handlePing answers both ping request shapes (§4.8).
func (e *Engine) handlePing(l *ListenData, remote *net.UDPAddr, buf []byte) {
	telemetry.PingsReceived.Inc()
	switch len(buf) {
	case 4:
		e.handleSimplePing(l, remote, buf)
	case 8:
		e.handleExtendedPing(l, remote, buf)
	default:
		logging.Drivel().Int("len", len(buf)).Msg("core: unrecognized ping request size")
	}
}

// handleSimplePing echoes the request's 4 bytes and prepends a 32-bit
// population count chosen by SimplePingPopulationMode.
func (e *Engine) handleSimplePing(l *ListenData, remote *net.UDPAddr, tag []byte) {
	count := e.simplePingCount()
	resp := make([]byte, 8)
	binary.LittleEndian.PutUint32(resp[0:4], count)
	copy(resp[4:8], tag)
	e.sendPingResponse(l, remote, resp)
}

func (e *Engine) simplePingCount() uint32 {
	pop := e.refreshPingPopulation()

	e.pingMu.Lock()
	defer e.pingMu.Unlock()

	switch e.cfg.SimplePingPopulation {
	case config.PopulationPlaying:
		return pop.Playing
	case config.PopulationBoth:
		if time.Since(e.pingAlternateSince) > pingAlternatePeriod {
			e.pingAlternateSince = time.Now()
			e.pingAlternatePlay = !e.pingAlternatePlay
		}
		if e.pingAlternatePlay {
			return pop.Playing
		}
		return pop.Total
	default: // PopulationTotal
		return pop.Total
	}
}

// handleExtendedPing answers the 8-byte shape: tag + options bitmask in,
// tag + mirrored options + any requested summaries out.
func (e *Engine) handleExtendedPing(l *ListenData, remote *net.UDPAddr, buf []byte) {
	tag := buf[0:4]
	options := buf[4]

	wantGlobal := options&pingOptGlobalSummary != 0
	wantArena := options&pingOptArenaSummary != 0

	pop := e.refreshPingPopulation()

	resp := make([]byte, 0, 256)
	resp = append(resp, tag...)
	resp = append(resp, buf[4], buf[5], buf[6], buf[7])

	if wantGlobal {
		var g [8]byte
		binary.LittleEndian.PutUint32(g[0:4], pop.Total)
		binary.LittleEndian.PutUint32(g[4:8], pop.Playing)
		resp = append(resp, g[:]...)
	}

	if wantArena {
		connectAs := ""
		if l != nil {
			connectAs = l.ConnectAs
		}
		for _, s := range e.arenas.ArenaSummaries(connectAs) {
			resp = append(resp, s.Name...)
			resp = append(resp, 0)
			var counts [4]byte
			binary.LittleEndian.PutUint16(counts[0:2], s.Total)
			binary.LittleEndian.PutUint16(counts[2:4], s.Playing)
			resp = append(resp, counts[:]...)
		}
		resp = append(resp, 0)
	}

	e.sendPingResponse(l, remote, resp)
}

// refreshPingPopulation snapshots the arena manager's global population,
// throttled by PingRefreshThreshold (§4.8).
func (e *Engine) refreshPingPopulation() arena.Population {
	e.pingMu.Lock()
	now := time.Now()
	if e.pingLastRefresh.IsZero() || now.Sub(e.pingLastRefresh) >= e.cfg.PingRefreshThreshold {
		e.pingLastRefresh = now
		e.pingMu.Unlock()
		pop := e.arenas.GlobalPopulation()
		e.pingMu.Lock()
		e.pingPopulation = pop
	}
	snap := e.pingPopulation
	e.pingMu.Unlock()
	return snap
}

func (e *Engine) sendPingResponse(l *ListenData, remote *net.UDPAddr, payload []byte) {
	if l == nil || l.pingSocket == nil {
		return
	}
	if _, err := l.pingSocket.WriteToUDP(payload, remote); err != nil {
		logging.Error().Err(err).Msg("core: ping response failed")
		return
	}
	telemetry.PacketsSent.Inc()
	telemetry.BytesSent.Add(uint64(len(payload)))
}
