// Package device implements claim issuance and serial confirmation: the
// pairing protocol that turns an untrusted physical device into a
// uniquely identified registry row.
package device

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vitrin-io/vitrin-go/internal/platform/cache"
	"github.com/vitrin-io/vitrin-go/internal/platform/logutil"
	"github.com/vitrin-io/vitrin-go/internal/realtime"
	"github.com/vitrin-io/vitrin-go/internal/store"
)

var (
	ErrNotRecognized      = errors.New("device not recognized")
	ErrInvalidFingerprint = errors.New("fingerprint must be 3-255 characters")
	ErrInvalidSerial      = errors.New("serial must be 9-16 characters")
	ErrInvalidStatus      = errors.New("invalid device status")
)

// ClaimTTL bounds how long an unconfirmed claim stays resumable.
// Matches the pairing flow: the serial is shown on the physical screen
// and typed by a human, so minutes-scale patience is required.
const ClaimTTL = 100 * time.Minute

// Claim is an unconfirmed, TTL-bounded reservation of a serial for a
// device fingerprint. Stored in the shared cache under both keys so a
// retried request (by fingerprint) and the confirmation step (by
// serial) resolve to the identical record.
type Claim struct {
	Fingerprint string         `json:"fingerprint"`
	Serial      string         `json:"serial"`
	Meta        map[string]any `json:"meta,omitempty"`
	IssuedAt    int64          `json:"issued_at"`
}

// CheckResult is the outcome of a serial confirmation attempt.
type CheckResult struct {
	Status  bool           `json:"status"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data"`
}

// StatusSnapshot is the full current view broadcast on any status
// change. Consumers replace their cached view wholesale; no deltas.
type StatusSnapshot struct {
	Device *store.Device `json:"device"`
	Screen *store.Screen `json:"screen,omitempty"`
}

func claimSerialKey(serial string) string {
	return "device:claim:serial:" + serial
}

func claimFingerprintKey(fingerprint string) string {
	return "device:claim:fingerprint:" + fingerprint
}

// Service implements the claim store operations against the shared
// cache and the device registry.
type Service struct {
	claims      cache.Cache
	devices     store.DeviceStore
	screens     store.ScreenStore
	broadcaster realtime.Broadcaster
	logger      *slog.Logger
	claimTTL    time.Duration
}

// NewService creates a device service. broadcaster may be nil when no
// realtime delivery is wired (status changes are then persisted only).
func NewService(claims cache.Cache, devices store.DeviceStore, screens store.ScreenStore, broadcaster realtime.Broadcaster, logger *slog.Logger) *Service {
	return &Service{
		claims:      claims,
		devices:     devices,
		screens:     screens,
		broadcaster: broadcaster,
		logger:      logutil.NoopIfNil(logger),
		claimTTL:    ClaimTTL,
	}
}

// SetClaimTTL overrides the claim TTL. Intended for tests and config.
func (s *Service) SetClaimTTL(ttl time.Duration) {
	if ttl > 0 {
		s.claimTTL = ttl
	}
}

// newSerial synthesizes a human-legible serial from two independently
// generated 2-byte random hex groups, e.g. "ab12-cd34". Collisions are
// improbable but tolerated here; confirmation re-checks uniqueness.
func newSerial() (string, error) {
	var first, second [2]byte
	if _, err := rand.Read(first[:]); err != nil {
		return "", err
	}
	if _, err := rand.Read(second[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(first[:]) + "-" + hex.EncodeToString(second[:]), nil
}

// PreCreate issues or resumes a claim for the fingerprint.
// Calling it twice within the TTL window returns the same serial.
func (s *Service) PreCreate(ctx context.Context, fingerprint string, meta map[string]any) (*Claim, error) {
	if len(fingerprint) < 3 || len(fingerprint) > 255 {
		return nil, ErrInvalidFingerprint
	}

	// Live claim for this fingerprint: idempotent retry.
	if data, err := s.claims.Get(ctx, claimFingerprintKey(fingerprint)); err == nil {
		var claim Claim
		if err := json.Unmarshal(data, &claim); err == nil {
			return &claim, nil
		}
		// Undecodable entry: fall through and reissue.
	} else if !errors.Is(err, cache.ErrNotFound) {
		return nil, fmt.Errorf("claim lookup: %w", err)
	}

	claim := &Claim{
		Fingerprint: fingerprint,
		Meta:        meta,
		IssuedAt:    time.Now().Unix(),
	}

	// A device already confirmed for this fingerprint keeps its serial.
	existing, err := s.devices.GetDeviceByFingerprint(ctx, fingerprint)
	switch {
	case err == nil:
		claim.Serial = existing.Serial
	case errors.Is(err, store.ErrNotFound):
		serial, err := newSerial()
		if err != nil {
			return nil, fmt.Errorf("serial generation: %w", err)
		}
		claim.Serial = serial
	default:
		return nil, fmt.Errorf("device lookup: %w", err)
	}

	payload, err := json.Marshal(claim)
	if err != nil {
		return nil, err
	}

	if err := s.claims.Set(ctx, claimSerialKey(claim.Serial), payload, s.claimTTL); err != nil {
		return nil, fmt.Errorf("store claim: %w", err)
	}
	if err := s.claims.Set(ctx, claimFingerprintKey(fingerprint), payload, s.claimTTL); err != nil {
		return nil, fmt.Errorf("store claim: %w", err)
	}

	s.logger.Info("device claim issued", "serial", claim.Serial)
	return claim, nil
}

// CheckSerial confirms a claim into the registry. The operation is an
// upsert: confirming the same serial twice never creates two rows.
// A serial already bound to a screen is rejected regardless of any
// pending claim for it.
func (s *Service) CheckSerial(ctx context.Context, serial string) (*CheckResult, error) {
	if len(serial) < 9 || len(serial) > 16 {
		return nil, ErrInvalidSerial
	}

	// Binding-layer uniqueness takes precedence over claim status.
	_, err := s.screens.GetScreenBySerial(ctx, serial)
	switch {
	case err == nil:
		return &CheckResult{Status: false, Message: "Used Serial Number"}, nil
	case errors.Is(err, store.ErrNotFound):
		// serial unbound, continue
	default:
		return nil, fmt.Errorf("screen lookup: %w", err)
	}

	data, err := s.claims.Get(ctx, claimSerialKey(serial))
	switch {
	case err == nil:
		var claim Claim
		if err := json.Unmarshal(data, &claim); err != nil {
			return nil, fmt.Errorf("corrupt claim for serial %s: %w", serial, err)
		}
		if err := s.confirm(ctx, &claim); err != nil {
			return nil, err
		}
		return &CheckResult{
			Status:  true,
			Message: "Correct serial number",
			Data: map[string]any{
				"serial":      claim.Serial,
				"fingerprint": claim.Fingerprint,
				"meta":        claim.Meta,
			},
		}, nil
	case errors.Is(err, cache.ErrNotFound):
		// Claim expired; the device may have been confirmed earlier.
	default:
		return nil, fmt.Errorf("claim lookup: %w", err)
	}

	device, err := s.devices.GetDeviceBySerial(ctx, serial)
	switch {
	case err == nil:
		return &CheckResult{
			Status:  true,
			Message: "Correct serial number",
			Data: map[string]any{
				"serial":      device.Serial,
				"fingerprint": device.Fingerprint,
			},
		}, nil
	case errors.Is(err, store.ErrNotFound):
		return &CheckResult{Status: false, Message: "Wrong serial number"}, nil
	default:
		return nil, fmt.Errorf("device lookup: %w", err)
	}
}

// confirm promotes a claim into a Device row. "Already exists" is
// success, not conflict: the registry's unique serial index makes the
// insert race-safe across processes.
func (s *Service) confirm(ctx context.Context, claim *Claim) error {
	meta := ""
	if claim.Meta != nil {
		if b, err := json.Marshal(claim.Meta); err == nil {
			meta = string(b)
		}
	}

	now := time.Now().Unix()
	dev := &store.Device{
		ID:          newDeviceID(),
		Serial:      claim.Serial,
		Fingerprint: claim.Fingerprint,
		Status:      store.DeviceStatusPending,
		Meta:        meta,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err := s.devices.CreateDevice(ctx, dev)
	if err != nil && !errors.Is(err, store.ErrAlreadyExists) {
		return fmt.Errorf("confirm device: %w", err)
	}
	if err == nil {
		s.logger.Info("device confirmed", "serial", claim.Serial, "device_id", dev.ID)
	}
	return nil
}

func newDeviceID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// SetStatus persists a device status transition and broadcasts the full
// snapshot to the lobby and the owner's devices room.
func (s *Service) SetStatus(ctx context.Context, serial, status string) error {
	switch status {
	case store.DeviceStatusOnline, store.DeviceStatusOffline, store.DeviceStatusDeleting:
	default:
		return ErrInvalidStatus
	}

	dev, err := s.devices.GetDeviceBySerial(ctx, serial)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotRecognized
		}
		return fmt.Errorf("device lookup: %w", err)
	}

	dev.Status = status
	dev.UpdatedAt = time.Now().Unix()
	if err := s.devices.UpdateDevice(ctx, dev); err != nil {
		return fmt.Errorf("update device: %w", err)
	}

	return s.broadcastStatus(ctx, dev)
}

// broadcastStatus emits the device-status snapshot. The envelope always
// targets the lobby; when the device is bound, the owner's devices room
// is added so both principals observe the flip.
func (s *Service) broadcastStatus(ctx context.Context, dev *store.Device) error {
	if s.broadcaster == nil {
		return nil
	}

	snapshot := &StatusSnapshot{Device: dev}
	rooms := []realtime.RoomName{realtime.Lobby()}

	if dev.ScreenID != "" {
		screen, err := s.screens.GetScreen(ctx, dev.ScreenID)
		if err == nil {
			snapshot.Screen = screen
			rooms = append(rooms, realtime.UserDevices(screen.UserID))
		}
	}

	return s.broadcaster.Publish(ctx, &realtime.Envelope{
		Event: "device-status",
		Args:  []any{"Device status changed", snapshot},
		Rooms: rooms,
		Scope: realtime.ScopeAll,
	})
}

// Status returns the current snapshot for a serial: the device row and,
// when bound, its screen.
func (s *Service) Status(ctx context.Context, serial string) (*StatusSnapshot, error) {
	dev, err := s.devices.GetDeviceBySerial(ctx, serial)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotRecognized
		}
		return nil, fmt.Errorf("device lookup: %w", err)
	}

	snapshot := &StatusSnapshot{Device: dev}
	if dev.ScreenID != "" {
		if screen, err := s.screens.GetScreen(ctx, dev.ScreenID); err == nil {
			snapshot.Screen = screen
		}
	}
	return snapshot, nil
}

// ListByUser returns the devices bound to the user's screens.
func (s *Service) ListByUser(ctx context.Context, userID string) ([]*store.Device, error) {
	return s.devices.ListDevicesByUser(ctx, userID)
}
