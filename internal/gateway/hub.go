package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/vitrin-io/vitrin-go/internal/platform/logutil"
	"github.com/vitrin-io/vitrin-go/internal/realtime"
)

const deliveryQueueSize = 1024

// eventFrame is the wire shape of a server-to-client event.
type eventFrame struct {
	Event string `json:"event"`
	Args  []any  `json:"args"`
}

// Hub maintains the set of locally-connected clients and their room
// membership, and delivers envelopes to them. It implements
// realtime.LocalSink.
type Hub struct {
	logger *slog.Logger

	register   chan *Client
	unregister chan *Client
	deliveries chan *realtime.Envelope

	// All three maps are owned by the run loop; roomsMu additionally
	// guards rooms and serials for the read-only helpers called from
	// other goroutines.
	roomsMu sync.RWMutex
	clients map[*Client]bool
	rooms   map[realtime.RoomName]map[*Client]bool
	serials map[string]int // connected device serial -> connection count

	// onDeviceGone runs after a device connection disconnects and the
	// grace window elapses without a reconnect.
	onDeviceGone func(serial string)
	offlineGrace time.Duration
}

// NewHub creates a hub. offlineGrace is the window a device serial may
// be absent before onDeviceGone fires; brief reconnects inside the
// window are not observable as offline flips.
func NewHub(logger *slog.Logger, offlineGrace time.Duration, onDeviceGone func(serial string)) *Hub {
	return &Hub{
		logger:       logutil.NoopIfNil(logger),
		register:     make(chan *Client),
		unregister:   make(chan *Client),
		deliveries:   make(chan *realtime.Envelope, deliveryQueueSize),
		clients:      make(map[*Client]bool),
		rooms:        make(map[realtime.RoomName]map[*Client]bool),
		serials:      make(map[string]int),
		onDeviceGone: onDeviceGone,
		offlineGrace: offlineGrace,
	}
}

// Run processes registration and delivery until ctx is canceled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		case envelope := <-h.deliveries:
			h.deliver(envelope)
		case <-ctx.Done():
			return
		}
	}
}

// Deliver queues an envelope for local fanout. Implements
// realtime.LocalSink; called by the broadcast bus from arbitrary
// goroutines.
func (h *Hub) Deliver(envelope *realtime.Envelope) {
	select {
	case h.deliveries <- envelope:
	default:
		h.logger.Warn("delivery queue full, dropping envelope", "event", envelope.Event)
	}
}

func (h *Hub) addClient(c *Client) {
	h.roomsMu.Lock()
	defer h.roomsMu.Unlock()

	h.clients[c] = true
	for _, room := range c.rooms {
		members := h.rooms[room]
		if members == nil {
			members = make(map[*Client]bool)
			h.rooms[room] = members
		}
		members[c] = true
	}
	if c.principal.Kind == KindDevice {
		h.serials[c.principal.ID]++
	}
}

func (h *Hub) removeClient(c *Client) {
	h.roomsMu.Lock()
	if !h.clients[c] {
		h.roomsMu.Unlock()
		return
	}
	delete(h.clients, c)
	for _, room := range c.rooms {
		if members := h.rooms[room]; members != nil {
			delete(members, c)
			if len(members) == 0 {
				delete(h.rooms, room)
			}
		}
	}

	var gone string
	if c.principal.Kind == KindDevice {
		serial := c.principal.ID
		h.serials[serial]--
		if h.serials[serial] <= 0 {
			delete(h.serials, serial)
			gone = serial
		}
	}
	h.roomsMu.Unlock()

	c.close()

	if gone != "" && h.onDeviceGone != nil {
		// The offline transition is an async follow-up, not inline
		// teardown: a device that reconnects within the grace window
		// never flips to offline.
		serial := gone
		time.AfterFunc(h.offlineGrace, func() {
			if !h.DeviceConnected(serial) {
				h.onDeviceGone(serial)
			}
		})
	}
}

// deliver writes the envelope's event frame to every client in any of
// the target rooms, once per client.
func (h *Hub) deliver(envelope *realtime.Envelope) {
	frame, err := json.Marshal(eventFrame{Event: envelope.Event, Args: envelope.Args})
	if err != nil {
		h.logger.Warn("unmarshalable envelope", "event", envelope.Event, "error", err)
		return
	}

	h.roomsMu.RLock()
	targets := make(map[*Client]bool)
	for _, room := range envelope.Rooms {
		for client := range h.rooms[room] {
			targets[client] = true
		}
	}
	h.roomsMu.RUnlock()

	for client := range targets {
		client.trySend(frame)
	}
}

// JoinRoom adds an established client to a room.
func (h *Hub) JoinRoom(c *Client, room realtime.RoomName) {
	h.roomsMu.Lock()
	defer h.roomsMu.Unlock()

	members := h.rooms[room]
	if members == nil {
		members = make(map[*Client]bool)
		h.rooms[room] = members
	}
	members[c] = true
	c.addRoom(room)
}

// LeaveRoom removes an established client from a room.
func (h *Hub) LeaveRoom(c *Client, room realtime.RoomName) {
	h.roomsMu.Lock()
	defer h.roomsMu.Unlock()

	if members := h.rooms[room]; members != nil {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	c.removeRoom(room)
}

// DeviceConnected reports whether any connection for the serial is
// currently registered.
func (h *Hub) DeviceConnected(serial string) bool {
	h.roomsMu.RLock()
	defer h.roomsMu.RUnlock()
	return h.serials[serial] > 0
}

// RoomSize returns the member count of a room.
func (h *Hub) RoomSize(room realtime.RoomName) int {
	h.roomsMu.RLock()
	defer h.roomsMu.RUnlock()
	return len(h.rooms[room])
}
