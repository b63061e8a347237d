package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vitrin-io/vitrin-go/internal/billing"
	"github.com/vitrin-io/vitrin-go/internal/device"
	"github.com/vitrin-io/vitrin-go/internal/identity"
	memcache "github.com/vitrin-io/vitrin-go/internal/platform/cache/memory"
	"github.com/vitrin-io/vitrin-go/internal/realtime"
	"github.com/vitrin-io/vitrin-go/internal/screen"
	"github.com/vitrin-io/vitrin-go/internal/store"
	memstore "github.com/vitrin-io/vitrin-go/internal/store/memory"
)

type fixture struct {
	t        *testing.T
	srv      *httptest.Server
	hub      *Hub
	devices  *device.Service
	screens  *screen.Service
	registry *memstore.Driver
	users    *identity.MemoryPartyRepo
	sessions *identity.MemorySessionRepo
	gone     chan string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		t:        t,
		registry: memstore.New(),
		users:    identity.NewMemoryPartyRepo(),
		sessions: identity.NewMemorySessionRepo(),
		gone:     make(chan string, 8),
	}

	f.hub = NewHub(nil, 150*time.Millisecond, func(serial string) {
		f.gone <- serial
	})
	bus := realtime.NewBus("test", f.hub, nil, nil)

	claims := memcache.New(time.Minute, 0)
	f.devices = device.NewService(claims, f.registry, f.registry, bus, nil)

	subs := billing.NewMemorySubscriptions()
	subs.AddPackage(&billing.Package{ID: "trial", Name: "Trial", ScreenCount: 5, IsTrial: true})
	f.screens = screen.NewService(f.devices, f.registry, f.registry, subs, billing.NopNotifier{}, bus, nil)

	gw := New(nil, f.hub, f.devices, f.screens, f.registry,
		&identity.Resolver{Sessions: f.sessions, Users: f.users}, bus)

	ctx, cancel := context.WithCancel(context.Background())
	go f.hub.Run(ctx)
	t.Cleanup(cancel)

	f.srv = httptest.NewServer(http.HandlerFunc(gw.ServeWS))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) newUser(username string) (*identity.User, string) {
	f.t.Helper()
	user := &identity.User{Username: username, Email: username + "@example.com"}
	if err := f.users.Create(context.Background(), user); err != nil {
		f.t.Fatalf("create user: %v", err)
	}
	session, err := f.sessions.Create(context.Background(), user.ID, time.Hour)
	if err != nil {
		f.t.Fatalf("create session: %v", err)
	}
	return user, session.Token
}

// pair runs the full pairing flow and returns the bound serial.
func (f *fixture) pair(ownerID string) string {
	f.t.Helper()
	ctx := context.Background()
	claim, err := f.devices.PreCreate(ctx, "fp-"+ownerID+"-"+time.Now().String(), nil)
	if err != nil {
		f.t.Fatalf("pre-create: %v", err)
	}
	if _, err := f.devices.CheckSerial(ctx, claim.Serial); err != nil {
		f.t.Fatalf("check serial: %v", err)
	}
	if _, err := f.screens.Bind(ctx, ownerID, claim.Serial, screen.Attrs{Name: "shop window"}); err != nil {
		f.t.Fatalf("bind: %v", err)
	}
	return claim.Serial
}

func (f *fixture) dial(token string) (*websocket.Conn, *http.Response, error) {
	wsURL := "ws" + strings.TrimPrefix(f.srv.URL, "http")
	if token != "" {
		wsURL += "?token=" + url.QueryEscape(token)
	}
	return websocket.DefaultDialer.Dial(wsURL, nil)
}

func (f *fixture) mustDial(token string) *websocket.Conn {
	f.t.Helper()
	conn, _, err := f.dial(token)
	if err != nil {
		f.t.Fatalf("dial: %v", err)
	}
	f.t.Cleanup(func() { conn.Close() })
	return conn
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func call(t *testing.T, conn *websocket.Conn, id int64, action string, params any) {
	t.Helper()
	frame := map[string]any{"id": id, "action": action}
	if params != nil {
		frame["params"] = params
	}
	if err := conn.WriteJSON(frame); err != nil {
		t.Fatalf("write call: %v", err)
	}
}

// readReply skips event frames until the reply with the given id
// arrives.
func readReply(t *testing.T, conn *websocket.Conn, id int64) *replyFrame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read reply: %v", err)
		}
		var reply replyFrame
		if err := json.Unmarshal(data, &reply); err != nil {
			t.Fatalf("unmarshal reply: %v", err)
		}
		if reply.ID == id && (reply.OK || reply.Error != nil) {
			return &reply
		}
	}
}

func TestServeWS_UserJoinsOwnRooms(t *testing.T) {
	f := newFixture(t)
	user, token := f.newUser("alice")
	f.mustDial(token)

	waitFor(t, "lobby membership", func() bool {
		return f.hub.RoomSize(realtime.Lobby()) == 1
	})
	if got := f.hub.RoomSize(realtime.User(user.ID)); got != 1 {
		t.Fatalf("user room size = %d, want 1", got)
	}
	if got := f.hub.RoomSize(realtime.UserDevices(user.ID)); got != 1 {
		t.Fatalf("user devices room size = %d, want 1", got)
	}
}

func TestServeWS_DeviceJoinsDeviceRooms(t *testing.T) {
	f := newFixture(t)
	user, _ := f.newUser("bob")
	serial := f.pair(user.ID)

	f.mustDial(serial)

	waitFor(t, "device registration", func() bool {
		return f.hub.DeviceConnected(serial)
	})
	dev, err := f.registry.GetDeviceBySerial(context.Background(), serial)
	if err != nil {
		t.Fatalf("get device: %v", err)
	}
	if got := f.hub.RoomSize(realtime.Device(dev.ID)); got != 1 {
		t.Fatalf("device room size = %d, want 1", got)
	}
	if got := f.hub.RoomSize(realtime.UserDevices(user.ID)); got != 1 {
		t.Fatalf("owner devices room size = %d, want 1", got)
	}
	if got := f.hub.RoomSize(realtime.Lobby()); got != 0 {
		t.Fatalf("device ended up in lobby (size %d)", got)
	}

	waitFor(t, "online status", func() bool {
		dev, err := f.registry.GetDeviceBySerial(context.Background(), serial)
		return err == nil && dev.Status == store.DeviceStatusOnline
	})
}

func TestServeWS_UnknownSerialRejected(t *testing.T) {
	f := newFixture(t)
	_, resp, err := f.dial("ab12-cd34")
	if err == nil {
		t.Fatal("expected handshake failure for unknown serial")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %v, want 403", resp)
	}
}

func TestServeWS_BadUserTokenRejected(t *testing.T) {
	f := newFixture(t)
	_, resp, err := f.dial(strings.Repeat("x", 32))
	if err == nil {
		t.Fatal("expected handshake failure for bad token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %v, want 401", resp)
	}
}

func TestServeWS_AnonymousConnectsWithoutCalls(t *testing.T) {
	f := newFixture(t)
	conn := f.mustDial("")

	call(t, conn, 1, "screen.list", nil)
	reply := readReply(t, conn, 1)
	if reply.OK || reply.Error == nil || reply.Error.Code != codeForbidden {
		t.Fatalf("reply = %+v, want forbidden", reply)
	}
}

func TestCalls_PairingOverSocket(t *testing.T) {
	f := newFixture(t)
	user, token := f.newUser("carol")
	conn := f.mustDial(token)

	claim, err := f.devices.PreCreate(context.Background(), "fp-socket", nil)
	if err != nil {
		t.Fatalf("pre-create: %v", err)
	}

	call(t, conn, 1, "device.checkSerial", map[string]string{"serial": claim.Serial})
	reply := readReply(t, conn, 1)
	if !reply.OK {
		t.Fatalf("checkSerial failed: %+v", reply.Error)
	}

	call(t, conn, 2, "screen.bind", map[string]string{"serial": claim.Serial, "name": "front door"})
	reply = readReply(t, conn, 2)
	if !reply.OK {
		t.Fatalf("bind failed: %+v", reply.Error)
	}

	call(t, conn, 3, "screen.list", nil)
	reply = readReply(t, conn, 3)
	if !reply.OK {
		t.Fatalf("list failed: %+v", reply.Error)
	}
	screens, err := f.screens.List(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("list screens: %v", err)
	}
	if len(screens) != 1 || screens[0].Name != "front door" {
		t.Fatalf("screens = %+v, want one named front door", screens)
	}
}

func TestCalls_DeviceAllowList(t *testing.T) {
	f := newFixture(t)
	user, _ := f.newUser("dave")
	serial := f.pair(user.ID)
	conn := f.mustDial(serial)

	call(t, conn, 1, "screen.list", nil)
	reply := readReply(t, conn, 1)
	if reply.OK || reply.Error.Code != codeForbidden {
		t.Fatalf("device screen.list reply = %+v, want forbidden", reply)
	}

	call(t, conn, 2, "device.status", map[string]string{"state": "online"})
	reply = readReply(t, conn, 2)
	if !reply.OK {
		t.Fatalf("device.status failed: %+v", reply.Error)
	}

	call(t, conn, 3, "device.status", map[string]string{"state": "broken"})
	reply = readReply(t, conn, 3)
	if reply.OK || reply.Error.Code != codeBadParams {
		t.Fatalf("invalid state reply = %+v, want bad_params", reply)
	}
}

func TestCalls_RoomJoinRestrictions(t *testing.T) {
	f := newFixture(t)
	user, token := f.newUser("erin")
	other, _ := f.newUser("frank")
	conn := f.mustDial(token)

	call(t, conn, 1, "room.join", map[string]string{"room": string(realtime.User(other.ID))})
	reply := readReply(t, conn, 1)
	if reply.OK || reply.Error.Code != codeRestricted {
		t.Fatalf("foreign room join reply = %+v, want restricted", reply)
	}

	custom := string(realtime.User(user.ID)) + "-editors"
	call(t, conn, 2, "room.join", map[string]string{"room": custom})
	if reply = readReply(t, conn, 2); !reply.OK {
		t.Fatalf("own-prefix room join failed: %+v", reply.Error)
	}
	waitFor(t, "custom room membership", func() bool {
		return f.hub.RoomSize(realtime.RoomName(custom)) == 1
	})

	call(t, conn, 3, "room.leave", map[string]string{"room": custom})
	if reply = readReply(t, conn, 3); !reply.OK {
		t.Fatalf("room leave failed: %+v", reply.Error)
	}
	if got := f.hub.RoomSize(realtime.RoomName(custom)); got != 0 {
		t.Fatalf("room size after leave = %d, want 0", got)
	}
}

func TestHub_OfflineGraceFiresAfterDisconnect(t *testing.T) {
	f := newFixture(t)
	user, _ := f.newUser("gail")
	serial := f.pair(user.ID)

	conn := f.mustDial(serial)
	waitFor(t, "device registration", func() bool {
		return f.hub.DeviceConnected(serial)
	})
	conn.Close()

	select {
	case gone := <-f.gone:
		if gone != serial {
			t.Fatalf("gone serial = %q, want %q", gone, serial)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("offline callback never fired")
	}
}

func TestHub_OfflineGraceSkipsQuickReconnect(t *testing.T) {
	f := newFixture(t)
	user, _ := f.newUser("hank")
	serial := f.pair(user.ID)

	conn := f.mustDial(serial)
	waitFor(t, "device registration", func() bool {
		return f.hub.DeviceConnected(serial)
	})
	conn.Close()
	waitFor(t, "deregistration", func() bool {
		return !f.hub.DeviceConnected(serial)
	})

	// Reconnect inside the grace window.
	f.mustDial(serial)
	waitFor(t, "re-registration", func() bool {
		return f.hub.DeviceConnected(serial)
	})

	select {
	case gone := <-f.gone:
		t.Fatalf("offline fired for %q despite reconnect", gone)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestEventDelivery_StatusReachesOwnerRoom(t *testing.T) {
	f := newFixture(t)
	user, token := f.newUser("iris")
	serial := f.pair(user.ID)

	conn := f.mustDial(token)
	waitFor(t, "user registration", func() bool {
		return f.hub.RoomSize(realtime.Lobby()) == 1
	})

	if err := f.devices.SetStatus(context.Background(), serial, store.DeviceStatusOnline); err != nil {
		t.Fatalf("set status: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read event: %v", err)
		}
		var frame eventFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		if frame.Event == "device-status" {
			if len(frame.Args) != 2 {
				t.Fatalf("args = %v, want message and snapshot", frame.Args)
			}
			return
		}
	}
}
