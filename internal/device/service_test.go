package device_test

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/vitrin-io/vitrin-go/internal/device"
	"github.com/vitrin-io/vitrin-go/internal/platform/cache/memory"
	"github.com/vitrin-io/vitrin-go/internal/realtime"
	"github.com/vitrin-io/vitrin-go/internal/store"
	memstore "github.com/vitrin-io/vitrin-go/internal/store/memory"
)

var serialFormat = regexp.MustCompile(`^[0-9a-f]{4}-[0-9a-f]{4}$`)

type recordingBroadcaster struct {
	mu        sync.Mutex
	envelopes []*realtime.Envelope
}

func (b *recordingBroadcaster) Publish(ctx context.Context, envelope *realtime.Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.envelopes = append(b.envelopes, envelope)
	return nil
}

func (b *recordingBroadcaster) last() *realtime.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.envelopes) == 0 {
		return nil
	}
	return b.envelopes[len(b.envelopes)-1]
}

func newTestService(t *testing.T) (*device.Service, *memstore.Driver, *recordingBroadcaster) {
	t.Helper()
	claims := memory.New(time.Minute, 0)
	t.Cleanup(func() { claims.Close() })
	registry := memstore.New()
	broadcaster := &recordingBroadcaster{}
	svc := device.NewService(claims, registry, registry, broadcaster, nil)
	return svc, registry, broadcaster
}

func TestPreCreate_Idempotent(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.PreCreate(ctx, "fp-001", map[string]any{"model": "sx-55"})
	if err != nil {
		t.Fatalf("PreCreate failed: %v", err)
	}
	second, err := svc.PreCreate(ctx, "fp-001", nil)
	if err != nil {
		t.Fatalf("second PreCreate failed: %v", err)
	}

	if first.Serial != second.Serial {
		t.Errorf("expected same serial on retry, got %q then %q", first.Serial, second.Serial)
	}
}

func TestPreCreate_SerialFormat(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		claim, err := svc.PreCreate(ctx, "fp-format-"+string(rune('a'+i)), nil)
		if err != nil {
			t.Fatalf("PreCreate failed: %v", err)
		}
		if !serialFormat.MatchString(claim.Serial) {
			t.Errorf("serial %q does not match XXXX-XXXX hex format", claim.Serial)
		}
	}
}

func TestPreCreate_FingerprintBounds(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.PreCreate(ctx, "ab", nil); err != device.ErrInvalidFingerprint {
		t.Errorf("expected ErrInvalidFingerprint for short fingerprint, got %v", err)
	}

	long := make([]byte, 256)
	for i := range long {
		long[i] = 'x'
	}
	if _, err := svc.PreCreate(ctx, string(long), nil); err != device.ErrInvalidFingerprint {
		t.Errorf("expected ErrInvalidFingerprint for long fingerprint, got %v", err)
	}
}

func TestPreCreate_ReusesConfirmedSerial(t *testing.T) {
	svc, registry, _ := newTestService(t)
	ctx := context.Background()

	// A device confirmed in an earlier pairing keeps its serial even
	// after the claim has long expired.
	existing := &store.Device{
		ID:          "dev-1",
		Serial:      "ab12-cd34",
		Fingerprint: "fp-known",
		Status:      store.DeviceStatusOffline,
	}
	if err := registry.CreateDevice(ctx, existing); err != nil {
		t.Fatalf("seed device: %v", err)
	}

	claim, err := svc.PreCreate(ctx, "fp-known", nil)
	if err != nil {
		t.Fatalf("PreCreate failed: %v", err)
	}
	if claim.Serial != "ab12-cd34" {
		t.Errorf("expected reused serial ab12-cd34, got %q", claim.Serial)
	}
}

func TestCheckSerial_ConfirmsOnce(t *testing.T) {
	svc, registry, _ := newTestService(t)
	ctx := context.Background()

	claim, err := svc.PreCreate(ctx, "fp-001", map[string]any{})
	if err != nil {
		t.Fatalf("PreCreate failed: %v", err)
	}

	res, err := svc.CheckSerial(ctx, claim.Serial)
	if err != nil {
		t.Fatalf("CheckSerial failed: %v", err)
	}
	if !res.Status {
		t.Fatalf("expected success, got %q", res.Message)
	}
	if res.Data["fingerprint"] != "fp-001" {
		t.Errorf("expected claim payload in data, got %+v", res.Data)
	}

	first, err := registry.GetDeviceBySerial(ctx, claim.Serial)
	if err != nil {
		t.Fatalf("device not persisted: %v", err)
	}

	// Second confirmation: same result, no second row.
	res2, err := svc.CheckSerial(ctx, claim.Serial)
	if err != nil {
		t.Fatalf("repeat CheckSerial failed: %v", err)
	}
	if !res2.Status {
		t.Fatalf("expected repeat success, got %q", res2.Message)
	}

	again, err := registry.GetDeviceBySerial(ctx, claim.Serial)
	if err != nil {
		t.Fatalf("device lookup after repeat: %v", err)
	}
	if again.ID != first.ID {
		t.Errorf("repeat confirmation created a new device row: %q != %q", again.ID, first.ID)
	}
}

func TestCheckSerial_RegistryFallbackAfterClaimExpiry(t *testing.T) {
	svc, registry, _ := newTestService(t)
	ctx := context.Background()

	// Confirmed device with no live claim (claim TTL elapsed).
	if err := registry.CreateDevice(ctx, &store.Device{
		ID:          "dev-1",
		Serial:      "ab12-cd34",
		Fingerprint: "fp-001",
		Status:      store.DeviceStatusPending,
	}); err != nil {
		t.Fatalf("seed device: %v", err)
	}

	res, err := svc.CheckSerial(ctx, "ab12-cd34")
	if err != nil {
		t.Fatalf("CheckSerial failed: %v", err)
	}
	if !res.Status {
		t.Fatalf("expected registry fallback success, got %q", res.Message)
	}
	if res.Data["serial"] != "ab12-cd34" {
		t.Errorf("expected device payload, got %+v", res.Data)
	}
}

func TestCheckSerial_WrongSerial(t *testing.T) {
	svc, _, _ := newTestService(t)

	res, err := svc.CheckSerial(context.Background(), "ffff-ffff")
	if err != nil {
		t.Fatalf("CheckSerial failed: %v", err)
	}
	if res.Status {
		t.Error("expected failure for unknown serial")
	}
	if res.Message != "Wrong serial number" {
		t.Errorf("expected 'Wrong serial number', got %q", res.Message)
	}
}

func TestCheckSerial_UsedSerial(t *testing.T) {
	svc, registry, _ := newTestService(t)
	ctx := context.Background()

	if err := registry.CreateScreen(ctx, &store.Screen{
		ID:     "scr-1",
		UserID: "user-1",
		Serial: "ab12-cd34",
	}); err != nil {
		t.Fatalf("seed screen: %v", err)
	}

	res, err := svc.CheckSerial(ctx, "ab12-cd34")
	if err != nil {
		t.Fatalf("CheckSerial failed: %v", err)
	}
	if res.Status {
		t.Error("expected failure for bound serial")
	}
	if res.Message != "Used Serial Number" {
		t.Errorf("expected 'Used Serial Number', got %q", res.Message)
	}
}

func TestCheckSerial_SerialBounds(t *testing.T) {
	svc, _, _ := newTestService(t)

	if _, err := svc.CheckSerial(context.Background(), "short"); err != device.ErrInvalidSerial {
		t.Errorf("expected ErrInvalidSerial, got %v", err)
	}
}

func TestSetStatus_BroadcastsSnapshot(t *testing.T) {
	svc, registry, broadcaster := newTestService(t)
	ctx := context.Background()

	dev := &store.Device{
		ID:          "dev-1",
		Serial:      "ab12-cd34",
		Fingerprint: "fp-001",
		ScreenID:    "scr-1",
		Status:      store.DeviceStatusBound,
	}
	if err := registry.CreateDevice(ctx, dev); err != nil {
		t.Fatalf("seed device: %v", err)
	}
	if err := registry.CreateScreen(ctx, &store.Screen{
		ID:       "scr-1",
		UserID:   "user-1",
		DeviceID: "dev-1",
		Serial:   "ab12-cd34",
	}); err != nil {
		t.Fatalf("seed screen: %v", err)
	}

	if err := svc.SetStatus(ctx, "ab12-cd34", store.DeviceStatusOnline); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}

	got, _ := registry.GetDeviceBySerial(ctx, "ab12-cd34")
	if got.Status != store.DeviceStatusOnline {
		t.Errorf("expected persisted status online, got %q", got.Status)
	}

	envelope := broadcaster.last()
	if envelope == nil {
		t.Fatal("expected a broadcast")
	}
	if envelope.Event != "device-status" {
		t.Errorf("expected device-status event, got %q", envelope.Event)
	}
	if envelope.Scope != realtime.ScopeAll {
		t.Error("status broadcasts must reach all processes")
	}

	wantRooms := map[realtime.RoomName]bool{
		realtime.Lobby():               true,
		realtime.UserDevices("user-1"): true,
	}
	if len(envelope.Rooms) != 2 {
		t.Fatalf("expected 2 rooms, got %v", envelope.Rooms)
	}
	for _, room := range envelope.Rooms {
		if !wantRooms[room] {
			t.Errorf("unexpected room %q", room)
		}
	}

	snapshot, ok := envelope.Args[1].(*device.StatusSnapshot)
	if !ok {
		t.Fatalf("expected StatusSnapshot arg, got %T", envelope.Args[1])
	}
	if snapshot.Device == nil || snapshot.Screen == nil {
		t.Error("snapshot must carry the full device and screen view")
	}
}

func TestSetStatus_UnknownSerial(t *testing.T) {
	svc, _, _ := newTestService(t)

	err := svc.SetStatus(context.Background(), "ffff-ffff", store.DeviceStatusOnline)
	if err != device.ErrNotRecognized {
		t.Errorf("expected ErrNotRecognized, got %v", err)
	}
}

func TestSetStatus_InvalidState(t *testing.T) {
	svc, _, _ := newTestService(t)

	err := svc.SetStatus(context.Background(), "ab12-cd34", "rebooting")
	if err != device.ErrInvalidStatus {
		t.Errorf("expected ErrInvalidStatus, got %v", err)
	}
}
