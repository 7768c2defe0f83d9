package wire

import "testing"

func TestReliableHeaderRoundTrip(t *testing.T) {
	h := ReliableHeader(12345)
	if len(h) != ReliableHeaderSize {
		t.Fatalf("expected header length %d, got %d", ReliableHeaderSize, len(h))
	}
	if h[0] != 0x00 || h[1] != Reliable {
		t.Errorf("expected prefix 0x00 0x%02X, got 0x%02X 0x%02X", Reliable, h[0], h[1])
	}
	if got := DecodeReliableHeader(h); got != 12345 {
		t.Errorf("expected seq 12345, got %d", got)
	}
}

func TestAckPacket(t *testing.T) {
	p := AckPacket(99)
	if p[0] != 0x00 || p[1] != Ack {
		t.Errorf("expected 0x00 0x%02X prefix, got 0x%02X 0x%02X", Ack, p[0], p[1])
	}
	if got := Uint32LE(p[2:6]); got != 99 {
		t.Errorf("expected seq 99, got %d", got)
	}
}

func TestGroupedFrameRoundTrip(t *testing.T) {
	items := [][]byte{{0x01, 0x02}, {0x03}, {}}
	frame := GroupedFrame(items)
	if frame[0] != 0x00 || frame[1] != Grouped {
		t.Errorf("expected 0x00 0x%02X prefix, got 0x%02X 0x%02X", Grouped, frame[0], frame[1])
	}
	decoded, ok := DecodeGroupedFrame(frame[2:])
	if !ok {
		t.Fatal("DecodeGroupedFrame reported failure on a well-formed frame")
	}
	if len(decoded) != len(items) {
		t.Fatalf("expected %d items, got %d", len(items), len(decoded))
	}
	for i := range items {
		if string(decoded[i]) != string(items[i]) {
			t.Errorf("item %d: expected %v, got %v", i, items[i], decoded[i])
		}
	}
}

func TestDecodeGroupedFrameTruncated(t *testing.T) {
	// Claims a 5-byte item but supplies only 2.
	bad := []byte{5, 0x01, 0x02}
	if _, ok := DecodeGroupedFrame(bad); ok {
		t.Error("expected DecodeGroupedFrame to report failure on truncated input")
	}
}

func TestSendFlagsPriority(t *testing.T) {
	cases := []struct {
		flags SendFlags
		want  BandwidthPriority
	}{
		{FlagReliable, PriorityReliable},
		{FlagReliable | FlagPriorityN1, PriorityReliable},
		{FlagPriorityN1, PriorityUnreliableLow},
		{FlagPriorityP4, PriorityUnreliableHigh},
		{FlagPriorityP5, PriorityUnreliableHigh},
		{0, PriorityUnreliable},
	}
	for _, c := range cases {
		if got := c.flags.Priority(); got != c.want {
			t.Errorf("flags 0x%02X: expected priority %d, got %d", c.flags, c.want, got)
		}
	}
}

func TestIsConnectionInit(t *testing.T) {
	if !IsConnectionInit([]byte{0x00, InitVIE, 0xFF}) {
		t.Error("expected VIE init to be recognized")
	}
	if !IsConnectionInit([]byte{0x00, InitCont}) {
		t.Error("expected cont init to be recognized")
	}
	if IsConnectionInit([]byte{0x00, Reliable}) {
		t.Error("did not expect a reliable header to be recognized as connection-init")
	}
	if IsConnectionInit([]byte{0x00}) {
		t.Error("did not expect a 1-byte buffer to be recognized as connection-init")
	}
}

func TestIsCoreProtocol(t *testing.T) {
	if !IsCoreProtocol([]byte{0x00, 0x03}) {
		t.Error("expected 0x00-prefixed buffer to be recognized as core protocol")
	}
	if IsCoreProtocol([]byte{0x01, 0x03}) {
		t.Error("did not expect non-0x00-prefixed buffer to be recognized as core protocol")
	}
	if IsCoreProtocol(nil) {
		t.Error("did not expect an empty buffer to be recognized as core protocol")
	}
}
