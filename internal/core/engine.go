// Package core is the reliable-UDP transport core (spec.md in full): the
// Core protocol's reliability, ordering, fragmentation, and flow-control
// layer. See SPEC_FULL.md §0 for the package map.
package core

import (
	"fmt"
	"math/rand"
	"net"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"zonecore/internal/arena"
	"zonecore/internal/config"
	"zonecore/internal/crypt"
	"zonecore/internal/events"
	"zonecore/internal/lagstats"
	"zonecore/internal/limiter"
	"zonecore/internal/logging"
	"zonecore/internal/playermgr"
)

// ReceiveFlags records which wrapping layers a payload passed through
// before reaching an application handler (§4.4 step 6, §4.4.1): Reliable
// for anything unwrapped out of a 0x03 header (directly or via the
// reliable reorder buffer), Grouped for anything unwrapped out of a 0x0E
// frame, Big for a reassembled 0x08/0x09 stream.
type ReceiveFlags struct {
	Reliable bool
	Grouped  bool
	Big      bool
}

// InitHandler processes a connection-init packet from an address with no
// existing connection (or a retried one); the first to return true wins
// (§4.4 step 1).
type InitHandler func(e *Engine, remote *net.UDPAddr, listen *ListenData, buf []byte) bool

// PacketHandler is a registered application handler for one first-byte
// packet ID (0..63) or one net-handler index ([0x00, b], b in 0..0x13
// excluding the core protocol's own subtypes).
type PacketHandler func(conn *Connection, buf []byte, flags ReceiveFlags)

// SizedHandler receives inbound sized-data chunks as they arrive (§4.4.3).
type SizedHandler func(conn *Connection, offset, total uint32, chunk []byte, done bool)

type mainJob struct {
	conn  *Connection
	buf   []byte
	flags ReceiveFlags
}

// Engine is the whole Core protocol transport: datagram I/O, connection
// table, receive/send pipelines, reliable reorder, sized-send engine, ping
// responder, and lifecycle/disconnect handling (§2).
type Engine struct {
	cfg config.Config

	listens      []*ListenData
	clientSocket *net.UDPConn

	table       *connTable
	clientTable *clientTable

	players playermgr.Manager
	arenas  arena.Manager
	lag     lagstats.Collector
	crypto  *crypt.Registry

	newLimiter func() limiter.Limiter

	bus *events.Bus

	rngMu sync.Mutex
	rng   *rand.Rand

	initHandlersMu sync.RWMutex
	initHandlers   []InitHandler

	handlersMu     sync.RWMutex
	packetHandlers map[byte]PacketHandler
	netHandlers    map[byte]PacketHandler
	sizedHandlers  map[byte]SizedHandler

	mainQueue chan mainJob

	reliableQueue chan *Connection

	sizedWake chan struct{}

	pingMu             sync.Mutex
	pingLastRefresh    time.Time
	pingPopulation     arena.Population
	pingAlternateSince time.Time
	pingAlternatePlay  bool

	shutdown chan struct{}
	wg       sync.WaitGroup
	started  atomic.Bool
}

// NewEngine constructs an Engine from fully-resolved configuration and
// external collaborators (§6 "Consumed external interfaces"). It does not
// open any sockets yet; call Start to do that.
func NewEngine(
	cfg config.Config,
	players playermgr.Manager,
	arenas arena.Manager,
	lag lagstats.Collector,
	cryptoRegistry *crypt.Registry,
	newLimiter func() limiter.Limiter,
) (*Engine, error) {
	if players == nil || arenas == nil || lag == nil || cryptoRegistry == nil || newLimiter == nil {
		return nil, fmt.Errorf("core: all external collaborators are required")
	}
	listens := make([]*ListenData, 0, len(cfg.Listens))
	for _, l := range cfg.Listens {
		listens = append(listens, &ListenData{
			ConnectAs:   l.ConnectAs,
			BindAddress: l.BindAddress,
			Port:        l.Port,
			AllowVIE:    l.AllowVIE,
			AllowCont:   l.AllowCont,
		})
	}

	e := &Engine{
		cfg:            cfg,
		listens:        listens,
		table:          newConnTable(),
		clientTable:    newClientTable(),
		players:        players,
		arenas:         arenas,
		lag:            lag,
		crypto:         cryptoRegistry,
		newLimiter:     newLimiter,
		bus:            events.NewBus(),
		rng:            rand.New(rand.NewSource(time.Now().UnixNano())),
		packetHandlers: make(map[byte]PacketHandler),
		netHandlers:    make(map[byte]PacketHandler),
		sizedHandlers:  make(map[byte]SizedHandler),
		mainQueue:      make(chan mainJob, 4096),
		reliableQueue:  make(chan *Connection, 4096),
		sizedWake:      make(chan struct{}, 1),
		shutdown:       make(chan struct{}),
	}
	return e, nil
}

// Bus exposes the connection-lifecycle event bus (internal/events) so an
// embedding application can subscribe without the core depending on it.
func (e *Engine) Bus() *events.Bus { return e.bus }

// Rand32 is the consumed PRNG interface (§6), used wherever the core needs
// an unpredictable value (e.g. a future init-handshake cookie).
func (e *Engine) Rand32() uint32 {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return e.rng.Uint32()
}

// AddPacket registers an application handler for first-byte id (0..63).
func (e *Engine) AddPacket(id byte, h PacketHandler) {
	e.handlersMu.Lock()
	defer e.handlersMu.Unlock()
	e.packetHandlers[id] = h
}

// RemovePacket unregisters a handler installed by AddPacket.
func (e *Engine) RemovePacket(id byte) {
	e.handlersMu.Lock()
	defer e.handlersMu.Unlock()
	delete(e.packetHandlers, id)
}

// addNetHandler registers a net-handler ([0x00, b]) index, for the core's
// own dispatch of 0x13 continuation frames and similar encryption-flow
// continuations (§4.4.1 "0x13 Special").
func (e *Engine) addNetHandler(id byte, h PacketHandler) {
	e.handlersMu.Lock()
	defer e.handlersMu.Unlock()
	e.netHandlers[id] = h
}

// AddSizedPacket registers the handler invoked as inbound sized-data chunks
// arrive for the given type byte (§4.4.3).
func (e *Engine) AddSizedPacket(typ byte, h SizedHandler) {
	e.handlersMu.Lock()
	defer e.handlersMu.Unlock()
	e.sizedHandlers[typ] = h
}

func (e *Engine) RemoveSizedPacket(typ byte) {
	e.handlersMu.Lock()
	defer e.handlersMu.Unlock()
	delete(e.sizedHandlers, typ)
}

// AppendConnectionInitHandler registers an init handler, tried in
// registration order (§4.4 step 1: "first that returns true wins").
func (e *Engine) AppendConnectionInitHandler(h InitHandler) {
	e.initHandlersMu.Lock()
	defer e.initHandlersMu.Unlock()
	e.initHandlers = append(e.initHandlers, h)
}

func (e *Engine) RemoveConnectionInitHandler(h InitHandler) {
	e.initHandlersMu.Lock()
	defer e.initHandlersMu.Unlock()
	target := reflect.ValueOf(h).Pointer()
	for i, existing := range e.initHandlers {
		if reflect.ValueOf(existing).Pointer() == target {
			e.initHandlers = append(e.initHandlers[:i], e.initHandlers[i+1:]...)
			return
		}
	}
}

func (e *Engine) dispatchPacket(conn *Connection, id byte, buf []byte, flags ReceiveFlags) bool {
	e.handlersMu.RLock()
	_, ok := e.packetHandlers[id]
	e.handlersMu.RUnlock()
	if !ok {
		return false
	}
	e.postMain(conn, buf, flags)
	return true
}

// postMain queues a payload for the application's single main thread
// (§4.4 step 6), a bounded channel drained by one internal goroutine so a
// slow handler never runs concurrently with another (this engine plays the
// "main thread" role itself rather than handing off to an external one, a
// reasonable self-contained substitute for a library with no embedding
// game loop of its own).
func (e *Engine) postMain(conn *Connection, buf []byte, flags ReceiveFlags) {
	cp := getBuf()
	cp = append(cp, buf...)
	select {
	case e.mainQueue <- mainJob{conn: conn, buf: cp, flags: flags}:
	default:
		putBuf(cp)
		logging.Warn().Msg("core: main queue full, dropping application payload")
	}
}

func (e *Engine) mainLoop() {
	defer e.wg.Done()
	for {
		select {
		case job := <-e.mainQueue:
			id := job.buf[0]
			e.handlersMu.RLock()
			h, ok := e.packetHandlers[id]
			e.handlersMu.RUnlock()
			if ok {
				h(job.conn, job.buf, job.flags)
			}
			putBuf(job.buf)
		case <-e.shutdown:
			return
		}
	}
}
