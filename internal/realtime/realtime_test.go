package realtime_test

import (
	"context"
	"sync"
	"testing"

	"github.com/vitrin-io/vitrin-go/internal/realtime"
	"github.com/vitrin-io/vitrin-go/internal/realtime/fanout"
)

func TestRoomNames(t *testing.T) {
	tests := []struct {
		room realtime.RoomName
		want string
	}{
		{realtime.Lobby(), "lobby"},
		{realtime.User("u1"), "user-u1"},
		{realtime.UserDevices("u1"), "user-u1-devices"},
		{realtime.Device("d1"), "device-d1"},
	}
	for _, tt := range tests {
		if string(tt.room) != tt.want {
			t.Errorf("expected %q, got %q", tt.want, tt.room)
		}
	}

	if realtime.Lobby().IsPrivate() {
		t.Error("lobby must not be private")
	}
	if !realtime.User("u1").IsPrivate() {
		t.Error("user room must be private")
	}
	if !realtime.Device("d1").IsDeviceRoom() {
		t.Error("device room not recognized")
	}
	if realtime.UserDevices("u1").IsDeviceRoom() {
		t.Error("user-devices room misclassified as device room")
	}
}

// recordingSink collects envelopes delivered to one simulated process.
type recordingSink struct {
	mu        sync.Mutex
	envelopes []*realtime.Envelope
}

func (s *recordingSink) Deliver(envelope *realtime.Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.envelopes = append(s.envelopes, envelope)
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.envelopes)
}

func TestBus_LocalScopeStaysLocal(t *testing.T) {
	exchange := fanout.NewExchange()

	sinkA := &recordingSink{}
	sinkB := &recordingSink{}
	busA := realtime.NewBus("proc-a", sinkA, exchange.Attach(), nil)
	busB := realtime.NewBus("proc-b", sinkB, exchange.Attach(), nil)

	ctx := context.Background()
	if err := busA.Start(ctx); err != nil {
		t.Fatalf("start a: %v", err)
	}
	if err := busB.Start(ctx); err != nil {
		t.Fatalf("start b: %v", err)
	}

	err := busA.Publish(ctx, &realtime.Envelope{
		Event: "device",
		Rooms: []realtime.RoomName{realtime.Lobby()},
		Scope: realtime.ScopeLocal,
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	if sinkA.count() != 1 {
		t.Errorf("expected local delivery on originator, got %d", sinkA.count())
	}
	if sinkB.count() != 0 {
		t.Errorf("local-scope envelope leaked to peer process: %d", sinkB.count())
	}
}

func TestBus_AllScopeReachesPeerOnce(t *testing.T) {
	exchange := fanout.NewExchange()

	sinkA := &recordingSink{}
	sinkB := &recordingSink{}
	busA := realtime.NewBus("proc-a", sinkA, exchange.Attach(), nil)
	busB := realtime.NewBus("proc-b", sinkB, exchange.Attach(), nil)

	ctx := context.Background()
	busA.Start(ctx)
	busB.Start(ctx)

	err := busA.Publish(ctx, &realtime.Envelope{
		Event: "device-status",
		Args:  []any{"Device status changed", map[string]any{"status": "online"}},
		Rooms: []realtime.RoomName{realtime.UserDevices("u1")},
		Scope: realtime.ScopeAll,
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	// Originator delivers exactly once: locally, not again via echo.
	if sinkA.count() != 1 {
		t.Errorf("expected 1 delivery on originator, got %d", sinkA.count())
	}
	if sinkB.count() != 1 {
		t.Errorf("expected 1 delivery on peer, got %d", sinkB.count())
	}
}

func TestBus_EmptyRoomsDropped(t *testing.T) {
	sink := &recordingSink{}
	bus := realtime.NewBus("proc-a", sink, nil, nil)

	err := bus.Publish(context.Background(), &realtime.Envelope{Event: "noop"})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if sink.count() != 0 {
		t.Errorf("expected envelope without rooms to be dropped, got %d", sink.count())
	}
}

func TestEnvelope_RoundTrip(t *testing.T) {
	in := &realtime.Envelope{
		Event:  "synchronize",
		Args:   []any{"Forced resync", map[string]any{"screen": "scr-1"}},
		Rooms:  []realtime.RoomName{realtime.Device("d1")},
		Scope:  realtime.ScopeAll,
		Origin: "proc-a",
	}

	data, err := in.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	out, err := realtime.DecodeEnvelope(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Event != in.Event || out.Origin != "proc-a" {
		t.Errorf("round trip mismatch: %+v", out)
	}
	if out.Scope != realtime.ScopeLocal {
		t.Error("decoded envelope must be local scope to prevent forwarding loops")
	}
	if len(out.Rooms) != 1 || out.Rooms[0] != realtime.Device("d1") {
		t.Errorf("rooms mismatch: %+v", out.Rooms)
	}
}
