package core

import (
	"fmt"
	"net"
	"time"

	"zonecore/internal/events"
	"zonecore/internal/logging"
	"zonecore/internal/playermgr"
	"zonecore/internal/telemetry"
	"zonecore/internal/wire"
)

// socketReadBuf is sized to the largest possible UDP payload (§4.1).
const socketReadBuf = wire.MaxUDPPayload

// readPollInterval bounds how long each listen goroutine blocks in
// ReadFromUDP before re-checking the shutdown signal — the idiomatic Go
// substitute for "waits for readiness on all sockets with <=1s granularity"
// (Go's net package has no portable multi-socket select primitive the way
// the teacher/pack's lower-level languages do; one goroutine per socket
// with a read deadline is the standard net/http-style answer).
const readPollInterval = time.Second

// Start opens every configured listen's game+ping socket pair plus the
// outbound client socket, and launches the full worker set (§5): one
// receive goroutine per socket, the send worker, N reliable workers, and
// the sized-send worker.
func (e *Engine) Start() error {
	if !e.started.CompareAndSwap(false, true) {
		return fmt.Errorf("core: already started")
	}

	for _, l := range e.listens {
		gameAddr := &net.UDPAddr{IP: net.ParseIP(l.BindAddress), Port: l.Port}
		gameSocket, err := net.ListenUDP("udp", gameAddr)
		if err != nil {
			return fmt.Errorf("core: listen game socket %s:%d: %w", l.BindAddress, l.Port, err)
		}
		_ = suppressConnReset(gameSocket)
		l.gameSocket = gameSocket

		pingAddr := &net.UDPAddr{IP: net.ParseIP(l.BindAddress), Port: l.Port + 1}
		pingSocket, err := net.ListenUDP("udp", pingAddr)
		if err != nil {
			return fmt.Errorf("core: listen ping socket %s:%d: %w", l.BindAddress, l.Port+1, err)
		}
		_ = suppressConnReset(pingSocket)
		l.pingSocket = pingSocket
	}

	clientSocket, err := net.ListenUDP("udp", &net.UDPAddr{Port: e.cfg.InternalClientPort})
	if err != nil {
		return fmt.Errorf("core: listen client socket: %w", err)
	}
	_ = suppressConnReset(clientSocket)
	e.clientSocket = clientSocket

	for _, l := range e.listens {
		l := l
		e.wg.Add(2)
		go e.gameReceiveLoop(l)
		go e.pingReceiveLoop(l)
	}
	e.wg.Add(1)
	go e.clientReceiveLoop()

	e.wg.Add(1)
	go e.mainLoop()

	e.wg.Add(1)
	go e.sendWorker()

	n := e.cfg.ReliableThreads
	if n < 1 {
		n = 1
	}
	for i := 0; i < n; i++ {
		e.wg.Add(1)
		go e.reliableWorker()
	}

	e.wg.Add(1)
	go e.sizedWorker()

	logging.Info().Int("listens", len(e.listens)).Msg("core: started")
	return nil
}

// Shutdown signals every worker to stop and waits for them to drain.
func (e *Engine) Shutdown() {
	if !e.started.Load() {
		return
	}
	close(e.shutdown)
	for _, l := range e.listens {
		if l.gameSocket != nil {
			l.gameSocket.Close()
		}
		if l.pingSocket != nil {
			l.pingSocket.Close()
		}
	}
	if e.clientSocket != nil {
		e.clientSocket.Close()
	}
	// §9 Design Notes: reliable workers consume a sentinel value to exit.
	n := e.cfg.ReliableThreads
	if n < 1 {
		n = 1
	}
	for i := 0; i < n; i++ {
		e.reliableQueue <- nil
	}
	e.wg.Wait()
}

func (e *Engine) gameReceiveLoop(l *ListenData) {
	defer e.wg.Done()
	buf := make([]byte, socketReadBuf)
	for {
		select {
		case <-e.shutdown:
			return
		default:
		}
		l.gameSocket.SetReadDeadline(time.Now().Add(readPollInterval))
		n, remote, err := l.gameSocket.ReadFromUDP(buf)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			select {
			case <-e.shutdown:
				return
			default:
				logging.Error().Err(err).Msg("core: game socket read error")
				continue
			}
		}
		e.handleGameDatagram(l, remote, buf[:n])
	}
}

func (e *Engine) pingReceiveLoop(l *ListenData) {
	defer e.wg.Done()
	buf := make([]byte, 16)
	for {
		select {
		case <-e.shutdown:
			return
		default:
		}
		l.pingSocket.SetReadDeadline(time.Now().Add(readPollInterval))
		n, remote, err := l.pingSocket.ReadFromUDP(buf)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			select {
			case <-e.shutdown:
				return
			default:
				continue
			}
		}
		e.handlePing(l, remote, buf[:n])
	}
}

func (e *Engine) clientReceiveLoop() {
	defer e.wg.Done()
	buf := make([]byte, socketReadBuf)
	for {
		select {
		case <-e.shutdown:
			return
		default:
		}
		e.clientSocket.SetReadDeadline(time.Now().Add(readPollInterval))
		n, remote, err := e.clientSocket.ReadFromUDP(buf)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			select {
			case <-e.shutdown:
				return
			default:
				continue
			}
		}
		e.handleClientDatagram(remote, buf[:n])
	}
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

// reallyRawSend writes without encryption, used for connection-init
// responses (§4.1 "really_raw_send").
func (e *Engine) reallyRawSend(remote *net.UDPAddr, buf []byte, l *ListenData) error {
	socket := e.clientSocket
	if l != nil && l.gameSocket != nil {
		socket = l.gameSocket
	}
	_, err := socket.WriteToUDP(buf, remote)
	if err != nil {
		logging.Error().Err(err).Msg("core: really_raw_send failed")
		return err
	}
	telemetry.PacketsSent.Inc()
	telemetry.BytesSent.Add(uint64(len(buf)))
	return nil
}

// ReallyRawSend is the public encryption-bypass send (§6).
func (e *Engine) ReallyRawSend(remote *net.UDPAddr, buf []byte, listenIdx int) error {
	var l *ListenData
	if listenIdx >= 0 && listenIdx < len(e.listens) {
		l = e.listens[listenIdx]
	}
	return e.reallyRawSend(remote, buf, l)
}

// NewConnection is §4.2's connection-birth entry point. It returns an
// existing connection's player if one already matches the address and is
// still Connected (idempotent init-retry handling), otherwise allocates a
// new player, resolves the named encryptor, applies the listen's
// client-type allowlist, and publishes the connection into the table.
func (e *Engine) NewConnection(clientType int, remote *net.UDPAddr, encryptorName string, l *ListenData) (*playermgr.Player, error) {
	if existing, ok := e.table.get(remote); ok {
		if existing.Player != nil && existing.Player.Status() == playermgr.StatusConnected {
			return existing.Player, nil
		}
	}

	if encryptorName == "vie" && l != nil && !l.AllowVIE {
		return nil, fmt.Errorf("core: listen %q does not allow VIE clients", l.ConnectAs)
	}
	if encryptorName == "cont" && l != nil && !l.AllowCont {
		return nil, fmt.Errorf("core: listen %q does not allow Cont clients", l.ConnectAs)
	}

	player, err := e.players.Allocate()
	if err != nil {
		return nil, fmt.Errorf("core: allocate player: %w", err)
	}

	var socket *net.UDPConn
	if l != nil {
		socket = l.gameSocket
	}

	conn := newConnection(remote, l, socket, clientType, false, e.cfg.PlayerReliableReceiveWindowSize)
	conn.Player = player

	enc, ok, err := e.crypto.Acquire(encryptorName)
	if err != nil {
		return nil, fmt.Errorf("core: acquire encryptor %q: %w", encryptorName, err)
	}
	if !ok {
		enc = nil
	}
	lim := e.newLimiter()
	conn.initialize(enc, encryptorName, lim)

	e.table.put(remote, conn)
	player.SetStatus(playermgr.StatusConnected)
	telemetry.ConnectionsLive.Inc()
	e.bus.Publish(events.Event{Topic: events.ConnectionEstablished, Data: conn})
	return player, nil
}

// MakeClientConnection creates an outbound connection to a peer/billing
// server (§6). handler is invoked once the Key Response (0x02) arrives.
func (e *Engine) MakeClientConnection(address string, port int, handler func(), encryptorName string) (*Connection, error) {
	ip := net.ParseIP(address)
	if ip == nil {
		resolved, err := net.ResolveIPAddr("ip", address)
		if err != nil {
			return nil, fmt.Errorf("core: resolve %s: %w", address, err)
		}
		ip = resolved.IP
	}
	remote := &net.UDPAddr{IP: ip, Port: port}

	conn := newConnection(remote, nil, e.clientSocket, 0, true, e.cfg.ClientConnectionReliableReceiveWindowSize)
	enc, ok, err := e.crypto.Acquire(encryptorName)
	if err != nil {
		return nil, fmt.Errorf("core: acquire encryptor %q: %w", encryptorName, err)
	}
	if !ok {
		enc = nil
	}
	lim := e.newLimiter()
	conn.initialize(enc, encryptorName, lim)
	conn.connectedCB = handler

	e.clientTable.put(remote, conn)

	init := []byte{0x00, wire.InitVIE}
	if _, err := e.clientSocket.WriteToUDP(init, remote); err != nil {
		return nil, fmt.Errorf("core: send connection init: %w", err)
	}
	return conn, nil
}
