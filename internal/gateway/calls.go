package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/vitrin-io/vitrin-go/internal/device"
	"github.com/vitrin-io/vitrin-go/internal/realtime"
	"github.com/vitrin-io/vitrin-go/internal/screen"
)

// Call error codes returned to clients.
const (
	codeForbidden     = "forbidden"
	codeBadParams     = "bad_params"
	codeNotRecognized = "not_recognized"
	codeDuplicate     = "duplicate_serial"
	codeCapacity      = "capacity_exceeded"
	codeRestricted    = "restricted_access"
	codeNotFound      = "not_found"
	codeInternal      = "internal"
)

// actions each principal kind may invoke. Anonymous connections may
// hold a socket open but call nothing.
var allowedActions = map[PrincipalKind]map[string]bool{
	KindDevice: {
		"device.status": true,
	},
	KindUser: {
		"device.checkSerial": true,
		"device.list":        true,
		"screen.bind":        true,
		"screen.remove":      true,
		"screen.synchronize": true,
		"screen.list":        true,
		"room.join":          true,
		"room.leave":         true,
		"room.list":          true,
	},
}

// dispatch routes one call frame. Runs on the client's read goroutine;
// service calls are synchronous by design so replies preserve call
// order.
func (g *Gateway) dispatch(c *Client, call *callFrame) {
	if !allowedActions[c.principal.Kind][call.Action] {
		c.replyError(call.ID, codeForbidden, "action not allowed for this connection")
		return
	}

	ctx := context.Background()

	switch call.Action {
	case "device.status":
		g.handleDeviceStatus(ctx, c, call)
	case "device.checkSerial":
		g.handleCheckSerial(ctx, c, call)
	case "device.list":
		g.handleDeviceList(ctx, c, call)
	case "screen.bind":
		g.handleScreenBind(ctx, c, call)
	case "screen.remove":
		g.handleScreenRemove(ctx, c, call)
	case "screen.synchronize":
		g.handleScreenSynchronize(ctx, c, call)
	case "screen.list":
		g.handleScreenList(ctx, c, call)
	case "room.join":
		g.handleRoomJoin(c, call)
	case "room.leave":
		g.handleRoomLeave(c, call)
	case "room.list":
		g.handleRoomList(c, call)
	default:
		c.replyError(call.ID, codeForbidden, "unknown action")
	}
}

// handleDeviceStatus triggers a status transition for the calling
// device's own serial. The transition fans out as a device-status
// broadcast; the reply only acknowledges the trigger.
func (g *Gateway) handleDeviceStatus(ctx context.Context, c *Client, call *callFrame) {
	var params struct {
		State string `json:"state"`
	}
	if err := json.Unmarshal(call.Params, &params); err != nil || params.State == "" {
		c.replyError(call.ID, codeBadParams, "state required")
		return
	}

	if err := g.devices.SetStatus(ctx, c.principal.ID, params.State); err != nil {
		switch {
		case errors.Is(err, device.ErrNotRecognized):
			c.replyError(call.ID, codeNotRecognized, "device not recognized")
		case errors.Is(err, device.ErrInvalidStatus):
			c.replyError(call.ID, codeBadParams, err.Error())
		default:
			g.logger.Error("device status failed", "serial", c.principal.ID, "error", err)
			c.replyError(call.ID, codeInternal, "internal error")
		}
		return
	}
	c.reply(call.ID, map[string]bool{"status": true})
}

func (g *Gateway) handleCheckSerial(ctx context.Context, c *Client, call *callFrame) {
	var params struct {
		Serial string `json:"serial"`
	}
	if err := json.Unmarshal(call.Params, &params); err != nil {
		c.replyError(call.ID, codeBadParams, "serial required")
		return
	}

	result, err := g.devices.CheckSerial(ctx, params.Serial)
	if err != nil {
		if errors.Is(err, device.ErrInvalidSerial) {
			c.replyError(call.ID, codeBadParams, err.Error())
			return
		}
		g.logger.Error("serial check failed", "error", err)
		c.replyError(call.ID, codeInternal, "internal error")
		return
	}
	c.reply(call.ID, result)
}

func (g *Gateway) handleDeviceList(ctx context.Context, c *Client, call *callFrame) {
	devices, err := g.devices.ListByUser(ctx, c.principal.ID)
	if err != nil {
		g.logger.Error("device list failed", "user_id", c.principal.ID, "error", err)
		c.replyError(call.ID, codeInternal, "internal error")
		return
	}
	c.reply(call.ID, devices)
}

func (g *Gateway) handleScreenBind(ctx context.Context, c *Client, call *callFrame) {
	var params struct {
		Serial    string `json:"serial"`
		Name      string `json:"name"`
		Direction string `json:"direction"`
		Place     string `json:"place"`
		SourceID  string `json:"source_id"`
	}
	if err := json.Unmarshal(call.Params, &params); err != nil {
		c.replyError(call.ID, codeBadParams, "serial required")
		return
	}

	scr, err := g.screens.Bind(ctx, c.principal.ID, params.Serial, screen.Attrs{
		Name:      params.Name,
		Direction: params.Direction,
		Place:     params.Place,
		SourceID:  params.SourceID,
	})
	if err != nil {
		switch {
		case errors.Is(err, screen.ErrDuplicateSerial):
			c.replyError(call.ID, codeDuplicate, "serial already bound")
		case errors.Is(err, device.ErrNotRecognized):
			c.replyError(call.ID, codeNotRecognized, "serial not recognized")
		case errors.Is(err, screen.ErrCapacityExceeded):
			c.replyError(call.ID, codeCapacity, "screen limit reached")
		case errors.Is(err, device.ErrInvalidSerial):
			c.replyError(call.ID, codeBadParams, err.Error())
		default:
			g.logger.Error("screen bind failed", "error", err)
			c.replyError(call.ID, codeInternal, "internal error")
		}
		return
	}
	c.reply(call.ID, scr)
}

func (g *Gateway) handleScreenRemove(ctx context.Context, c *Client, call *callFrame) {
	var params struct {
		ScreenID string `json:"screen_id"`
	}
	if err := json.Unmarshal(call.Params, &params); err != nil {
		c.replyError(call.ID, codeBadParams, "screen_id required")
		return
	}

	result, err := g.screens.Remove(ctx, params.ScreenID, c.principal.ID)
	if err != nil {
		switch {
		case errors.Is(err, screen.ErrNotFound):
			c.replyError(call.ID, codeNotFound, "screen not found")
		case errors.Is(err, screen.ErrRestrictedAccess):
			c.replyError(call.ID, codeRestricted, "not the screen owner")
		default:
			g.logger.Error("screen remove failed", "error", err)
			c.replyError(call.ID, codeInternal, "internal error")
		}
		return
	}
	c.reply(call.ID, result)
}

func (g *Gateway) handleScreenSynchronize(ctx context.Context, c *Client, call *callFrame) {
	var params struct {
		ScreenID string `json:"screen_id"`
	}
	if err := json.Unmarshal(call.Params, &params); err != nil {
		c.replyError(call.ID, codeBadParams, "screen_id required")
		return
	}

	if err := g.screens.Synchronize(ctx, params.ScreenID, c.principal.ID); err != nil {
		switch {
		case errors.Is(err, screen.ErrNotFound):
			c.replyError(call.ID, codeNotFound, "screen not found")
		case errors.Is(err, screen.ErrRestrictedAccess):
			c.replyError(call.ID, codeRestricted, "not the screen owner")
		default:
			g.logger.Error("screen synchronize failed", "error", err)
			c.replyError(call.ID, codeInternal, "internal error")
		}
		return
	}
	c.reply(call.ID, map[string]bool{"queued": true})
}

func (g *Gateway) handleScreenList(ctx context.Context, c *Client, call *callFrame) {
	screens, err := g.screens.List(ctx, c.principal.ID)
	if err != nil {
		g.logger.Error("screen list failed", "user_id", c.principal.ID, "error", err)
		c.replyError(call.ID, codeInternal, "internal error")
		return
	}
	c.reply(call.ID, screens)
}

// roomJoinable limits self-serve joins to the lobby and the caller's
// own rooms. Device rooms and other users' rooms are assigned by the
// server at connect time only.
func roomJoinable(p Principal, room realtime.RoomName) bool {
	if room == realtime.Lobby() {
		return true
	}
	// Exact room or a dash-delimited subroom. A bare prefix test would
	// let a user whose id prefixes another id claim that user's rooms.
	own := string(realtime.User(p.ID))
	name := string(room)
	return name == own || strings.HasPrefix(name, own+"-")
}

func (g *Gateway) handleRoomJoin(c *Client, call *callFrame) {
	var params struct {
		Room string `json:"room"`
	}
	if err := json.Unmarshal(call.Params, &params); err != nil || params.Room == "" {
		c.replyError(call.ID, codeBadParams, "room required")
		return
	}

	room := realtime.RoomName(params.Room)
	if !roomJoinable(c.principal, room) {
		c.replyError(call.ID, codeRestricted, "room not joinable")
		return
	}
	g.hub.JoinRoom(c, room)
	c.reply(call.ID, c.Rooms())
}

func (g *Gateway) handleRoomLeave(c *Client, call *callFrame) {
	var params struct {
		Room string `json:"room"`
	}
	if err := json.Unmarshal(call.Params, &params); err != nil || params.Room == "" {
		c.replyError(call.ID, codeBadParams, "room required")
		return
	}
	g.hub.LeaveRoom(c, realtime.RoomName(params.Room))
	c.reply(call.ID, c.Rooms())
}

func (g *Gateway) handleRoomList(c *Client, call *callFrame) {
	c.reply(call.ID, c.Rooms())
}
