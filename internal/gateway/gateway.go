package gateway

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vitrin-io/vitrin-go/internal/device"
	"github.com/vitrin-io/vitrin-go/internal/identity"
	"github.com/vitrin-io/vitrin-go/internal/platform/logutil"
	"github.com/vitrin-io/vitrin-go/internal/realtime"
	"github.com/vitrin-io/vitrin-go/internal/screen"
	"github.com/vitrin-io/vitrin-go/internal/store"
)

// Gateway upgrades HTTP requests to socket connections, resolves the
// caller's principal from the token query parameter and registers the
// connection with the hub.
type Gateway struct {
	logger      *slog.Logger
	hub         *Hub
	devices     *device.Service
	screens     *screen.Service
	screenStore store.ScreenStore
	resolver    identity.TokenResolver
	broadcaster realtime.Broadcaster

	upgrader websocket.Upgrader
}

// New creates a gateway serving connections through hub.
func New(logger *slog.Logger, hub *Hub, devices *device.Service, screens *screen.Service, screenStore store.ScreenStore, resolver identity.TokenResolver, broadcaster realtime.Broadcaster) *Gateway {
	return &Gateway{
		logger:      logutil.NoopIfNil(logger),
		hub:         hub,
		devices:     devices,
		screens:     screens,
		screenStore: screenStore,
		resolver:    resolver,
		broadcaster: broadcaster,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// ServeWS authorizes and upgrades one connection. Authorization runs
// before the upgrade so rejected callers get a plain HTTP status
// instead of a socket that closes immediately.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	token := r.URL.Query().Get("token")

	var (
		principal Principal
		rooms     []realtime.RoomName
		ownerID   string
	)

	switch classifyCredential(token) {
	case credentialNone:
		principal = Principal{Kind: KindAnonymous}

	case credentialDeviceSerial:
		scr, err := g.screenStore.GetScreenBySerial(ctx, token)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				http.Error(w, "device not recognized", http.StatusForbidden)
				return
			}
			g.logger.Error("screen lookup failed", "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		principal = Principal{Kind: KindDevice, ID: token}
		ownerID = scr.UserID
		rooms = []realtime.RoomName{
			realtime.Device(scr.DeviceID),
			realtime.UserDevices(scr.UserID),
		}

	case credentialUserToken:
		user, err := g.resolver.ResolveToken(ctx, token)
		if err != nil {
			if errors.Is(err, identity.ErrSessionNotFound) ||
				errors.Is(err, identity.ErrSessionExpired) ||
				errors.Is(err, identity.ErrUserNotFound) {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			g.logger.Error("token resolution failed", "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		principal = Principal{Kind: KindUser, ID: user.ID}
		rooms = []realtime.RoomName{
			realtime.Lobby(),
			realtime.User(user.ID),
			realtime.UserDevices(user.ID),
		}
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("upgrade failed", "error", err)
		return
	}

	client := &Client{
		id:        uuid.Must(uuid.NewV7()).String(),
		gw:        g,
		conn:      conn,
		principal: principal,
		send:      make(chan []byte, sendQueueSize),
		rooms:     rooms,
	}
	g.hub.register <- client

	go client.writePump()
	go client.readPump()

	switch principal.Kind {
	case KindDevice:
		if err := g.devices.SetStatus(ctx, principal.ID, store.DeviceStatusOnline); err != nil {
			g.logger.Warn("device online transition failed", "serial", principal.ID, "error", err)
		}
		// Arrival announcement for the owner's dashboards, distinct
		// from the status flip above.
		if snapshot, err := g.devices.Status(ctx, principal.ID); err == nil {
			g.broadcaster.Publish(ctx, &realtime.Envelope{
				Event: "device",
				Args:  []any{"Device connected", snapshot},
				Rooms: []realtime.RoomName{realtime.UserDevices(ownerID)},
				Scope: realtime.ScopeAll,
			})
		}
	case KindUser:
		g.broadcaster.Publish(ctx, &realtime.Envelope{
			Event: "user.joined",
			Args:  []any{principal.ID},
			Rooms: []realtime.RoomName{realtime.Lobby()},
			Scope: realtime.ScopeAll,
		})
	}

	g.logger.Info("socket connected",
		"socket_id", client.id,
		"principal", principal.Kind.String(),
	)
}
