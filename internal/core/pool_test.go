package core

import "testing"

func TestBufPoolResetsLength(t *testing.T) {
	b := getBuf()
	if len(b) != 0 {
		t.Fatalf("expected a fresh buffer from the pool, got length %d", len(b))
	}
	b = append(b, 1, 2, 3)
	putBuf(b)

	b2 := getBuf()
	if len(b2) != 0 {
		t.Errorf("expected reused buffer to be reset to length 0, got %d", len(b2))
	}
}

func TestQueuedPacketPoolClearsState(t *testing.T) {
	qp := getQueuedPacket()
	qp.data = []byte{1, 2, 3}
	qp.tries = 5
	qp.reliable = true
	putQueuedPacket(qp)

	// Not guaranteed to be the same backing object, but the pool must never
	// hand back a packet with leftover state.
	for i := 0; i < 8; i++ {
		fresh := getQueuedPacket()
		if fresh.data != nil || fresh.tries != 0 || fresh.reliable {
			t.Fatalf("expected a zeroed queuedPacket, got %+v", fresh)
		}
		putQueuedPacket(fresh)
	}
}

func TestRunCallbackChainInvokesAllNodesInOrder(t *testing.T) {
	var order []int
	var head *callbackNode
	for i := 0; i < 3; i++ {
		i := i
		head = appendCallback(head, getCallbackNode(func(success bool) {
			if !success {
				t.Errorf("expected success=true for node %d", i)
			}
			order = append(order, i)
		}))
	}
	runCallbackChain(head, true)
	if len(order) != 3 {
		t.Fatalf("expected 3 callbacks invoked, got %d", len(order))
	}
	for i, v := range order {
		if v != i {
			t.Errorf("expected callback order %v, got %v", []int{0, 1, 2}, order)
			break
		}
	}
}

func TestRunCallbackChainPropagatesFailure(t *testing.T) {
	called := false
	n := getCallbackNode(func(success bool) {
		called = true
		if success {
			t.Error("expected success=false")
		}
	})
	runCallbackChain(n, false)
	if !called {
		t.Error("expected the callback to run")
	}
}

func TestAppendCallbackHandlesNilHead(t *testing.T) {
	n := getCallbackNode(func(bool) {})
	if got := appendCallback(nil, n); got != n {
		t.Error("expected appendCallback(nil, n) to return n")
	}
}
