package core

import (
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"zonecore/internal/crypt"
	"zonecore/internal/limiter"
	"zonecore/internal/playermgr"
	"zonecore/internal/wire"
)

// queuedPacket is one entry in a priority send queue or the unsent-reliable
// queue (§3 Data Model). Drawn from queuedPacketPool.
type queuedPacket struct {
	data       []byte
	flags      wire.SendFlags
	reliable   bool
	droppable  bool
	hasSeq     bool
	seq        uint32
	tries      int
	lastTry    time.Time
	cb         *callbackNode
	groupedLen int // if >1 inner item, this was built as a combined reliable-grouped frame
}

// packetQueue is a simple FIFO of *queuedPacket. It is always accessed
// under the owning Connection's outgoingLock.
type packetQueue struct {
	items []*queuedPacket
}

func (q *packetQueue) pushBack(p *queuedPacket) { q.items = append(q.items, p) }

func (q *packetQueue) popFront() *queuedPacket {
	if len(q.items) == 0 {
		return nil
	}
	p := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return p
}

func (q *packetQueue) len() int { return len(q.items) }

// removeAt drops the item at index i without returning it, handing the
// packet back to queuedPacketPool.
func (q *packetQueue) removeAt(i int) {
	putQueuedPacket(q.items[i])
	q.items = append(q.items[:i], q.items[i+1:]...)
}

// bigReceive is the per-connection big-data accumulator (§4.4.2).
type bigReceive struct {
	buf      []byte
	overflow bool
}

// sizedReceive is the per-connection inbound sized-data state (§4.4.3).
type sizedReceive struct {
	active bool
	typ    byte
	total  uint32
	offset uint32
}

// sizedSend is one outbound sized-send descriptor (§4.7).
type sizedSend struct {
	total       uint32
	offset      uint32
	request     func(offset, needed uint32) []byte
	done        func(cancelled bool)
	cancelled   bool
	peerAsked   bool
	queuedCount int
}

// Connection is one remote peer's Core-protocol state (§3 Data Model). All
// mutable fields are documented with which lock protects them, per §5.
type Connection struct {
	RemoteAddr *net.UDPAddr
	Listen     *ListenData
	socket     *net.UDPConn
	clientType int
	outbound   bool // true for MakeClientConnection-created connections

	Player *playermgr.Player

	EncryptorName string
	encryptor     crypt.Encryptor

	// outgoingLock protects: s2cn, the five priority queues, the unsent
	// reliable queue, RTT stats, and the bandwidth limiter (§5).
	outgoingLock sync.Mutex
	s2cn         uint32
	queues       [wire.NumPriorities]packetQueue
	unsentRel    packetQueue
	avgRTT       int
	avgRTTDev    int
	limiter      limiter.Limiter
	outlistPeak  int

	// reliableLock protects the reorder buffer; reliableProcessingLock
	// ensures only one reliable worker drains this connection at a time.
	reliableLock           sync.Mutex
	reliableProcessingLock sync.Mutex
	reorder                *reorderBuffer
	c2sn                   uint32
	reliableQueued         atomic.Bool

	// bigLock protects the big-data accumulator and sized-receive state.
	bigLock sync.Mutex
	big     *bigReceive
	sizedIn sizedReceive

	// sizedSendLock protects the outbound sized-send list. Per §5 lock
	// ordering, outgoingLock must never be acquired while holding this.
	sizedSendLock sync.Mutex
	sizedSends    []*sizedSend

	lastReceive atomic.Int64 // UnixNano

	packetsSent     atomic.Uint64
	bytesSent       atomic.Uint64
	packetsReceived atomic.Uint64
	bytesReceived   atomic.Uint64
	relDups         atomic.Uint64
	ackDups         atomic.Uint64
	retries         atomic.Uint64
	drops           atomic.Uint64

	hitMaxRetries atomic.Bool
	hitMaxOutlist atomic.Bool

	connectedCB func() // outbound client's Key Response callback (§4.4.1 0x02)

	torndown atomic.Bool
}

func newConnection(remote *net.UDPAddr, listen *ListenData, socket *net.UDPConn, clientType int, outbound bool, windowSize int) *Connection {
	c := &Connection{
		RemoteAddr: remote,
		Listen:     listen,
		socket:     socket,
		clientType: clientType,
		outbound:   outbound,
		avgRTT:     200,
		avgRTTDev:  100,
		reorder:    newReorderBuffer(windowSize),
	}
	c.lastReceive.Store(time.Now().UnixNano())
	return c
}

// initialize resets RTT estimates and installs the encryptor/limiter for a
// (re)used connection, matching §4.3 "initialize(encryptor, limiter)".
func (c *Connection) initialize(enc crypt.Encryptor, encName string, lim limiter.Limiter) {
	c.outgoingLock.Lock()
	c.avgRTT = 200
	c.avgRTTDev = 100
	c.limiter = lim
	c.outgoingLock.Unlock()

	c.encryptor = enc
	c.EncryptorName = encName
}

// LastReceive returns the last-receive timestamp (§3 Data Model).
func (c *Connection) LastReceive() time.Time {
	return time.Unix(0, c.lastReceive.Load())
}

func (c *Connection) touchReceive(now time.Time) {
	c.lastReceive.Store(now.UnixNano())
}

// nextS2CN assigns the next outbound reliable sequence; must be called with
// outgoingLock held (§3 invariant: "s2cn is strictly increasing").
func (c *Connection) nextS2CN() uint32 {
	seq := c.s2cn
	c.s2cn++
	return seq
}

// Stats is the per-connection snapshot §6's stats accessor exposes.
type Stats struct {
	RemoteAddr      string
	EncryptorName   string
	PacketsSent     uint64
	BytesSent       uint64
	PacketsReceived uint64
	BytesReceived   uint64
	RelDups         uint64
	AckDups         uint64
	Retries         uint64
	Drops           uint64
	AvgRTT          int
	AvgRTTDev       int
	LimiterInfo     string
}

func (c *Connection) Stats() Stats {
	var b strings.Builder
	c.outgoingLock.Lock()
	avgRTT, avgRTTDev := c.avgRTT, c.avgRTTDev
	lim := c.limiter
	c.outgoingLock.Unlock()
	if lim != nil {
		lim.GetInfo(&b)
	}
	return Stats{
		RemoteAddr:      c.RemoteAddr.String(),
		EncryptorName:   c.EncryptorName,
		PacketsSent:     c.packetsSent.Load(),
		BytesSent:       c.bytesSent.Load(),
		PacketsReceived: c.packetsReceived.Load(),
		BytesReceived:   c.bytesReceived.Load(),
		RelDups:         c.relDups.Load(),
		AckDups:         c.ackDups.Load(),
		Retries:         c.retries.Load(),
		Drops:           c.drops.Load(),
		AvgRTT:          avgRTT,
		AvgRTTDev:       avgRTTDev,
		LimiterInfo:     b.String(),
	}
}
