package events

import "testing"

func TestBusDeliversToSubscriber(t *testing.T) {
	b := NewBus()
	var got Event
	calls := 0
	b.Subscribe(ConnectionLagout, func(e Event) {
		calls++
		got = e
	})
	b.Publish(Event{Topic: ConnectionLagout, Data: "bye"})

	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
	if got.Data != "bye" {
		t.Errorf("expected data %q, got %v", "bye", got.Data)
	}
}

func TestBusOnlyDeliversMatchingTopic(t *testing.T) {
	b := NewBus()
	calls := 0
	b.Subscribe(ConnectionEstablished, func(Event) { calls++ })
	b.Publish(Event{Topic: ConnectionLagout})
	if calls != 0 {
		t.Errorf("expected no delivery for a non-matching topic, got %d calls", calls)
	}
}

func TestBusSupportsMultipleSubscribers(t *testing.T) {
	b := NewBus()
	var order []int
	b.Subscribe(ConnectionDisconnected, func(Event) { order = append(order, 1) })
	b.Subscribe(ConnectionDisconnected, func(Event) { order = append(order, 2) })
	b.Publish(Event{Topic: ConnectionDisconnected})
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Errorf("expected both subscribers invoked in registration order, got %v", order)
	}
}

func TestTopicString(t *testing.T) {
	cases := map[Topic]string{
		ConnectionEstablished:  "connection_established",
		ConnectionLagout:       "connection_lagout",
		ConnectionDisconnected: "connection_disconnected",
		ConnectionTornDown:     "connection_torn_down",
		Topic(99):              "unknown",
	}
	for topic, want := range cases {
		if got := topic.String(); got != want {
			t.Errorf("Topic(%d).String(): expected %q, got %q", topic, want, got)
		}
	}
}
