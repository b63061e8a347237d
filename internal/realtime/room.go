// Package realtime provides room-addressed broadcast delivery with an
// optional cross-process fanout channel, so every gateway process
// reaches its locally-connected sockets regardless of which process
// originated an event.
package realtime

import "strings"

// RoomName is a typed room topic. Rooms are the only addressing
// mechanism for delivery; there is no direct socket-to-socket
// addressing. Construct names through the functions below rather than
// by string concatenation, so publisher and subscriber can never
// disagree on the shape.
type RoomName string

// Lobby is the shared room every authorized user joins.
func Lobby() RoomName { return "lobby" }

// User is the private room of a single user.
func User(userID string) RoomName {
	return RoomName("user-" + userID)
}

// UserDevices is the room carrying device presence for a user's screens.
func UserDevices(userID string) RoomName {
	return RoomName("user-" + userID + "-devices")
}

// Device is the room addressing a single connected device.
func Device(deviceID string) RoomName {
	return RoomName("device-" + deviceID)
}

// IsPrivate reports whether the room carries per-user or per-device
// traffic. Anonymous connections may never join private rooms.
func (r RoomName) IsPrivate() bool {
	return r != Lobby()
}

// IsDeviceRoom reports whether the room addresses a single device.
func (r RoomName) IsDeviceRoom() bool {
	return strings.HasPrefix(string(r), "device-")
}
