package core

import "testing"

func TestReorderBufferInOrderAdmitAndDrain(t *testing.T) {
	r := newReorderBuffer(8)
	if res := r.admit(0, 0, []byte("a")); res != admitOK {
		t.Fatalf("expected admitOK, got %d", res)
	}
	payloads, next, more := r.drain(0, 10)
	if len(payloads) != 1 || string(payloads[0]) != "a" {
		t.Fatalf("expected [\"a\"], got %v", payloads)
	}
	if next != 1 {
		t.Errorf("expected next c2sn 1, got %d", next)
	}
	if more {
		t.Error("did not expect more contiguous data")
	}
}

func TestReorderBufferOutOfOrder(t *testing.T) {
	r := newReorderBuffer(8)
	// seq 2 arrives before 0 and 1.
	if res := r.admit(2, 0, []byte("c")); res != admitOK {
		t.Fatalf("expected admitOK for seq 2, got %d", res)
	}
	payloads, next, _ := r.drain(0, 10)
	if len(payloads) != 0 || next != 0 {
		t.Fatalf("expected nothing drained while seq 0 is missing, got %v next=%d", payloads, next)
	}

	if res := r.admit(0, 0, []byte("a")); res != admitOK {
		t.Fatalf("expected admitOK for seq 0, got %d", res)
	}
	if res := r.admit(1, 0, []byte("b")); res != admitOK {
		t.Fatalf("expected admitOK for seq 1, got %d", res)
	}

	payloads, next, more := r.drain(0, 10)
	if len(payloads) != 3 {
		t.Fatalf("expected 3 contiguous payloads, got %d", len(payloads))
	}
	want := []string{"a", "b", "c"}
	for i, w := range want {
		if string(payloads[i]) != w {
			t.Errorf("payload %d: expected %q, got %q", i, w, payloads[i])
		}
	}
	if next != 3 {
		t.Errorf("expected next c2sn 3, got %d", next)
	}
	if more {
		t.Error("did not expect more contiguous data after full drain")
	}
}

func TestReorderBufferDuplicate(t *testing.T) {
	r := newReorderBuffer(8)
	if res := r.admit(0, 0, []byte("a")); res != admitOK {
		t.Fatalf("expected admitOK, got %d", res)
	}
	if res := r.admit(0, 0, []byte("a-again")); res != admitDuplicate {
		t.Errorf("expected admitDuplicate for a re-sent same seq, got %d", res)
	}
	// Already-consumed sequence numbers (below c2sn) are also duplicates.
	if res := r.admit(0, 1, []byte("a")); res != admitDuplicate {
		t.Errorf("expected admitDuplicate for seq below c2sn, got %d", res)
	}
}

func TestReorderBufferTooFarAhead(t *testing.T) {
	r := newReorderBuffer(4)
	if res := r.admit(4, 0, []byte("x")); res != admitTooFarAhead {
		t.Errorf("expected admitTooFarAhead at exactly capacity distance, got %d", res)
	}
	if res := r.admit(3, 0, []byte("x")); res != admitOK {
		t.Errorf("expected admitOK just inside capacity, got %d", res)
	}
}

func TestReorderBufferDrainRespectsMax(t *testing.T) {
	r := newReorderBuffer(8)
	for s := uint32(0); s < 5; s++ {
		if res := r.admit(s, 0, []byte{byte(s)}); res != admitOK {
			t.Fatalf("admit(%d) failed: %d", s, res)
		}
	}
	payloads, next, more := r.drain(0, 2)
	if len(payloads) != 2 {
		t.Fatalf("expected 2 payloads (max=2), got %d", len(payloads))
	}
	if next != 2 {
		t.Errorf("expected next c2sn 2, got %d", next)
	}
	if !more {
		t.Error("expected more contiguous data to remain after a capped drain")
	}
}
