// Package wire is the Core protocol's byte-level format (spec §6): the
// 0x00-prefixed subtype bytes, header layouts, and the handful of encode/
// decode helpers shared by every component that touches the wire. It plays
// the role the teacher's source/protocol package played for RakNet framing,
// adapted to an entirely different wire format.
package wire

import "encoding/binary"

// Core subtype bytes. All Core protocol packets begin with 0x00 followed by
// one of these.
const (
	KeyResponse         byte = 0x02
	Reliable            byte = 0x03
	Ack                 byte = 0x04
	TimeSyncRequest     byte = 0x05
	TimeSyncResponse    byte = 0x06
	Drop                byte = 0x07
	BigDataChunk        byte = 0x08
	BigDataEnd          byte = 0x09
	SizedData           byte = 0x0A
	CancelSizedReceive  byte = 0x0B
	SizedCancelled      byte = 0x0C
	Grouped             byte = 0x0E
	ContKeyResponse     byte = 0x13
)

// Connection-init second bytes; these are the only subtypes dispatched to
// init handlers instead of the connection's own receive pipeline.
const (
	InitVIE  byte = 0x01
	InitCont byte = 0x11
)

// Size ceilings from §9's "Design Notes / Open Questions": 520 is the
// grouped-frame envelope, 512 the unreliable payload ceiling.
const (
	GamePacketLimit      = 520
	UnreliablePayloadMax = 512
	ReliableHeaderSize   = 6 // 0x00 0x03 seq[4]
	MaxUDPPayload        = 65527

	BigDataChunkSize = 480
	SizedChunkSize   = 480

	MaxGroupedItemSize = 255
)

// BandwidthPriority indexes the five per-connection send queues (§3), Ack
// highest.
type BandwidthPriority int

const (
	PriorityAck BandwidthPriority = iota
	PriorityUnreliableHigh
	PriorityUnreliable
	PriorityUnreliableLow
	PriorityReliable

	NumPriorities = int(PriorityReliable) + 1
)

// SendFlags mirror the flag bits §4.6.1 reads off application send calls.
type SendFlags uint8

const (
	FlagReliable SendFlags = 1 << iota
	FlagDroppable
	FlagUrgent
	FlagPriorityN1 // selects UnreliableLow
	FlagPriorityP4 // selects UnreliableHigh
	FlagPriorityP5 // reserved, selects UnreliableHigh as well (alias in the original wire format)
)

// Priority resolves the flag bits to a queue index per §4.6.1: Ack if
// Reliable is not set and the caller asked for it explicitly is handled by
// callers (acks are never sent through send_or_buffer), Reliable if
// FlagReliable, else one of the three unreliable sub-priorities.
func (f SendFlags) Priority() BandwidthPriority {
	if f&FlagReliable != 0 {
		return PriorityReliable
	}
	if f&FlagPriorityN1 != 0 {
		return PriorityUnreliableLow
	}
	if f&(FlagPriorityP4|FlagPriorityP5) != 0 {
		return PriorityUnreliableHigh
	}
	return PriorityUnreliable
}

// PutUint32LE/Uint32LE centralize the "all multi-byte integers little-endian"
// rule from §6 so no call site hand-rolls byte shifts.
func PutUint32LE(b []byte, v uint32) { binary.LittleEndian.PutUint32(b, v) }
func Uint32LE(b []byte) uint32       { return binary.LittleEndian.Uint32(b) }

// ReliableHeader builds `[0x00, 0x03, seq[4]]`.
func ReliableHeader(seq uint32) []byte {
	h := make([]byte, ReliableHeaderSize)
	h[0] = 0x00
	h[1] = Reliable
	PutUint32LE(h[2:6], seq)
	return h
}

// AckPacket builds `[0x00, 0x04, seq[4]]`.
func AckPacket(seq uint32) []byte {
	h := make([]byte, 6)
	h[0] = 0x00
	h[1] = Ack
	PutUint32LE(h[2:6], seq)
	return h
}

// DecodeReliableHeader reads the seq out of a 0x00 0x03 packet. Caller must
// have already checked len(buf) >= ReliableHeaderSize.
func DecodeReliableHeader(buf []byte) uint32 { return Uint32LE(buf[2:6]) }

// GroupedFrame wraps inner packets as `[0x00, 0x0E, (len8, payload...)+]`.
// Callers are responsible for keeping the total under GamePacketLimit and
// every item under MaxGroupedItemSize; this just does the byte-packing.
func GroupedFrame(items [][]byte) []byte {
	size := 2
	for _, it := range items {
		size += 1 + len(it)
	}
	out := make([]byte, 0, size)
	out = append(out, 0x00, Grouped)
	for _, it := range items {
		out = append(out, byte(len(it)))
		out = append(out, it...)
	}
	return out
}

// DecodeGroupedFrame splits a 0x0E payload (everything after the 0x00 0x0E
// header) back into its inner packets.
func DecodeGroupedFrame(payload []byte) ([][]byte, bool) {
	var items [][]byte
	off := 0
	for off < len(payload) {
		l := int(payload[off])
		off++
		if off+l > len(payload) {
			return nil, false
		}
		items = append(items, payload[off:off+l])
		off += l
	}
	return items, true
}

// BigDataChunkHeader builds `[0x00, 0x08]`, prefixed to every non-final
// chunk of a fragmented big-data send (§4.6.1).
func BigDataChunkHeader() []byte { return []byte{0x00, BigDataChunk} }

// BigDataEndHeader builds `[0x00, 0x09]`, prefixed to the final chunk of a
// fragmented big-data send, terminating the peer's reassembly (§4.4.2).
func BigDataEndHeader() []byte { return []byte{0x00, BigDataEnd} }

// SizedDataHeader builds `[0x00, 0x0A, total_size[4]]` to be followed by the
// chunk bytes.
func SizedDataHeader(totalSize uint32) []byte {
	h := make([]byte, 6)
	h[0] = 0x00
	h[1] = SizedData
	PutUint32LE(h[2:6], totalSize)
	return h
}

// TimeSyncResponsePacket builds `[0x00, 0x06, client_time[4], server_time[4]]`.
func TimeSyncResponsePacket(clientTime, serverTime uint32) []byte {
	b := make([]byte, 10)
	b[0] = 0x00
	b[1] = TimeSyncResponse
	PutUint32LE(b[2:6], clientTime)
	PutUint32LE(b[6:10], serverTime)
	return b
}

// DisconnectPacket builds `[0x00, 0x07]`.
func DisconnectPacket() []byte { return []byte{0x00, Drop} }

// SizedCancelledPacket builds `[0x00, 0x0C]`.
func SizedCancelledPacket() []byte { return []byte{0x00, SizedCancelled} }

// IsCoreProtocol reports whether a datagram starts with the 0x00 core prefix.
func IsCoreProtocol(buf []byte) bool { return len(buf) > 0 && buf[0] == 0x00 }

// IsConnectionInit reports whether a datagram is a connection-init packet
// (§4.4 step 1): first byte 0x00, second 0x01 or 0x11.
func IsConnectionInit(buf []byte) bool {
	return len(buf) >= 2 && buf[0] == 0x00 && (buf[1] == InitVIE || buf[1] == InitCont)
}
