package gateway

import (
	"strings"
	"testing"

	"github.com/vitrin-io/vitrin-go/internal/realtime"
)

func TestClassifyCredential(t *testing.T) {
	tests := []struct {
		name  string
		token string
		want  credentialClass
	}{
		{"empty is anonymous", "", credentialNone},
		{"serial shape", "ab12-cd34", credentialDeviceSerial},
		{"short junk still routes to device lookup", "x", credentialDeviceSerial},
		{"fifteen chars", strings.Repeat("a", 15), credentialDeviceSerial},
		{"sixteen chars", strings.Repeat("a", 16), credentialUserToken},
		{"session token", strings.Repeat("t", 44), credentialUserToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyCredential(tt.token); got != tt.want {
				t.Errorf("classifyCredential(%q) = %v, want %v", tt.token, got, tt.want)
			}
		})
	}
}

func TestRoomJoinable(t *testing.T) {
	p := Principal{Kind: KindUser, ID: "abc"}

	tests := []struct {
		name string
		room realtime.RoomName
		want bool
	}{
		{"lobby open to all", realtime.Lobby(), true},
		{"own room", realtime.User("abc"), true},
		{"own devices subroom", realtime.UserDevices("abc"), true},
		{"own named subroom", realtime.RoomName("user-abc-editors"), true},
		{"user id sharing a prefix", realtime.User("abcd"), false},
		{"prefix user's subroom", realtime.UserDevices("abcd"), false},
		{"other user", realtime.User("xyz"), false},
		{"device room", realtime.Device("abc"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := roomJoinable(p, tt.room); got != tt.want {
				t.Errorf("roomJoinable(%q) = %v, want %v", tt.room, got, tt.want)
			}
		})
	}
}

func TestPrincipalKind_String(t *testing.T) {
	if KindUser.String() != "user" || KindDevice.String() != "device" || KindAnonymous.String() != "anonymous" {
		t.Error("principal kind strings changed")
	}
}
