package core

import "sync"

// §9 Design Notes / §5: socket buffers, queue entries, and reliable-callback
// invokers are drawn from typed pools. Packet bodies copied by
// SendWithCallback and the headers built by the wire encoders are still
// allocated per packet.

var bufPool = sync.Pool{
	New: func() interface{} {
		b := make([]byte, 0, 2048)
		return &b
	},
}

func getBuf() []byte {
	p := bufPool.Get().(*[]byte)
	return (*p)[:0]
}

func putBuf(b []byte) {
	if cap(b) == 0 {
		return
	}
	b = b[:0]
	bufPool.Put(&b)
}

var queuedPacketPool = sync.Pool{
	New: func() interface{} { return &queuedPacket{} },
}

func getQueuedPacket() *queuedPacket {
	return queuedPacketPool.Get().(*queuedPacket)
}

func putQueuedPacket(p *queuedPacket) {
	*p = queuedPacket{}
	queuedPacketPool.Put(p)
}

// callbackNode is the intrusive singly-linked list node §9 Design Notes
// describes for the reliable-callback chain attached to a grouped reliable
// packet: ownership transfers to the packet buffer, invoked once when its
// ack arrives (or on connection teardown with success=false).
type callbackNode struct {
	fn   func(success bool)
	next *callbackNode
}

var callbackNodePool = sync.Pool{
	New: func() interface{} { return &callbackNode{} },
}

func getCallbackNode(fn func(success bool)) *callbackNode {
	n := callbackNodePool.Get().(*callbackNode)
	n.fn = fn
	n.next = nil
	return n
}

// runCallbackChain invokes every node in the chain exactly once and returns
// the nodes to the pool.
func runCallbackChain(head *callbackNode, success bool) {
	for n := head; n != nil; {
		next := n.next
		if n.fn != nil {
			n.fn(success)
		}
		n.fn = nil
		n.next = nil
		callbackNodePool.Put(n)
		n = next
	}
}

// appendCallback chains b onto the end of a (a may be nil).
func appendCallback(a, b *callbackNode) *callbackNode {
	if a == nil {
		return b
	}
	last := a
	for last.next != nil {
		last = last.next
	}
	last.next = b
	return a
}
