// Package screen implements the binding policy: associating a confirmed
// device with an owner's screen under capacity and uniqueness rules.
package screen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vitrin-io/vitrin-go/internal/billing"
	"github.com/vitrin-io/vitrin-go/internal/device"
	"github.com/vitrin-io/vitrin-go/internal/platform/logutil"
	"github.com/vitrin-io/vitrin-go/internal/realtime"
	"github.com/vitrin-io/vitrin-go/internal/store"
)

var (
	ErrDuplicateSerial  = errors.New("serial already bound to a screen")
	ErrCapacityExceeded = errors.New("subscription screen limit reached")
	ErrRestrictedAccess = errors.New("restricted access")
	ErrNotFound         = errors.New("screen not found")
)

// Attrs are the operator-supplied screen attributes.
type Attrs struct {
	Name      string `json:"name"`
	Direction string `json:"direction"`
	Place     string `json:"place"`
	SourceID  string `json:"source_id,omitempty"`
}

// RemoveResult is the client-facing outcome of a removal.
type RemoveResult struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	ID      string `json:"id"`
}

// Service enforces the binding policy.
type Service struct {
	devices       *device.Service
	deviceStore   store.DeviceStore
	screenStore   store.ScreenStore
	subscriptions billing.Subscriptions
	notifier      billing.Notifier
	broadcaster   realtime.Broadcaster
	logger        *slog.Logger
}

// NewService creates a screen service. notifier and broadcaster may be
// nil; the policy checks still apply.
func NewService(devices *device.Service, deviceStore store.DeviceStore, screenStore store.ScreenStore, subscriptions billing.Subscriptions, notifier billing.Notifier, broadcaster realtime.Broadcaster, logger *slog.Logger) *Service {
	if notifier == nil {
		notifier = billing.NopNotifier{}
	}
	return &Service{
		devices:       devices,
		deviceStore:   deviceStore,
		screenStore:   screenStore,
		subscriptions: subscriptions,
		notifier:      notifier,
		broadcaster:   broadcaster,
		logger:        logutil.NoopIfNil(logger),
	}
}

// Bind creates a screen for the owner referencing the confirmed device
// behind serial. Order of checks: serial confirmation, serial
// uniqueness, capacity ceiling, then persist.
func (s *Service) Bind(ctx context.Context, ownerID, serial string, attrs Attrs) (*store.Screen, error) {
	res, err := s.devices.CheckSerial(ctx, serial)
	if err != nil {
		return nil, err
	}
	if !res.Status {
		if res.Message == "Used Serial Number" {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateSerial, res.Message)
		}
		return nil, fmt.Errorf("%w: %s", device.ErrNotRecognized, res.Message)
	}

	// Uniqueness again, independent of the check above: CheckSerial's
	// screen lookup and this insert are not one atomic step.
	_, err = s.screenStore.GetScreenBySerial(ctx, serial)
	switch {
	case err == nil:
		return nil, ErrDuplicateSerial
	case errors.Is(err, store.ErrNotFound):
	default:
		return nil, fmt.Errorf("screen lookup: %w", err)
	}

	limit, err := s.subscriptions.ScreenLimit(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("subscription lookup: %w", err)
	}
	count, err := s.screenStore.CountScreensByUser(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("screen count: %w", err)
	}
	if count >= int64(limit) {
		return nil, fmt.Errorf("%w: %d of %d screens used", ErrCapacityExceeded, count, limit)
	}

	dev, err := s.deviceStore.GetDeviceBySerial(ctx, serial)
	if err != nil {
		return nil, fmt.Errorf("device lookup: %w", err)
	}

	now := time.Now().Unix()
	scr := &store.Screen{
		ID:        newScreenID(),
		UserID:    ownerID,
		DeviceID:  dev.ID,
		SourceID:  attrs.SourceID,
		Name:      attrs.Name,
		Direction: attrs.Direction,
		Place:     attrs.Place,
		Serial:    serial,
		Status:    "active",
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.screenStore.CreateScreen(ctx, scr); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			// Lost the race to another bind; the storage index is the
			// final arbiter.
			return nil, ErrDuplicateSerial
		}
		return nil, fmt.Errorf("create screen: %w", err)
	}

	dev.ScreenID = scr.ID
	dev.Status = store.DeviceStatusBound
	dev.UpdatedAt = now
	if err := s.deviceStore.UpdateDevice(ctx, dev); err != nil {
		return nil, fmt.Errorf("attach device: %w", err)
	}

	s.notifier.ScreenCreated(ctx, scr.ID, ownerID)
	s.logger.Info("screen bound", "screen_id", scr.ID, "serial", serial, "user_id", ownerID)

	if s.broadcaster != nil {
		err := s.broadcaster.Publish(ctx, &realtime.Envelope{
			Event: "device",
			Args:  []any{"Screen bound", &device.StatusSnapshot{Device: dev, Screen: scr}},
			Rooms: []realtime.RoomName{realtime.User(ownerID), realtime.UserDevices(ownerID)},
			Scope: realtime.ScopeAll,
		})
		if err != nil {
			s.logger.Warn("bind broadcast failed", "screen_id", scr.ID, "error", err)
		}
	}

	return scr, nil
}

// Remove deletes the owner's screen. The bound device transitions
// through deleting then offline as two separately observable
// broadcasts, is detached, and its row survives: serials are reusable
// physical identifiers.
func (s *Service) Remove(ctx context.Context, screenID, ownerID string) (*RemoveResult, error) {
	scr, err := s.screenStore.GetScreen(ctx, screenID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("screen lookup: %w", err)
	}
	if scr.UserID != ownerID {
		return nil, ErrRestrictedAccess
	}

	if scr.DeviceID != "" {
		// Two discrete status broadcasts; consumers may render the
		// intermediate deleting state.
		if err := s.devices.SetStatus(ctx, scr.Serial, store.DeviceStatusDeleting); err != nil {
			s.logger.Warn("deleting broadcast failed", "serial", scr.Serial, "error", err)
		}
		if err := s.devices.SetStatus(ctx, scr.Serial, store.DeviceStatusOffline); err != nil {
			s.logger.Warn("offline broadcast failed", "serial", scr.Serial, "error", err)
		}

		dev, err := s.deviceStore.GetDevice(ctx, scr.DeviceID)
		if err == nil {
			dev.ScreenID = ""
			dev.Status = store.DeviceStatusOffline
			dev.UpdatedAt = time.Now().Unix()
			if err := s.deviceStore.UpdateDevice(ctx, dev); err != nil {
				return nil, fmt.Errorf("detach device: %w", err)
			}
		}
	}

	if err := s.screenStore.DeleteScreen(ctx, screenID); err != nil {
		return nil, fmt.Errorf("delete screen: %w", err)
	}

	s.logger.Info("screen removed", "screen_id", screenID, "user_id", ownerID)
	return &RemoveResult{Status: true, Message: "Screen removed", ID: screenID}, nil
}

// Synchronize pushes a forced-resync command to the screen's device.
func (s *Service) Synchronize(ctx context.Context, screenID, ownerID string) error {
	scr, err := s.screenStore.GetScreen(ctx, screenID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("screen lookup: %w", err)
	}
	if scr.UserID != ownerID {
		return ErrRestrictedAccess
	}
	if scr.DeviceID == "" {
		return device.ErrNotRecognized
	}
	if s.broadcaster == nil {
		return nil
	}

	return s.broadcaster.Publish(ctx, &realtime.Envelope{
		Event: "synchronize",
		Args:  []any{"Forced resync", map[string]any{"screen_id": scr.ID, "source_id": scr.SourceID}},
		Rooms: []realtime.RoomName{realtime.Device(scr.DeviceID)},
		Scope: realtime.ScopeAll,
	})
}

// List returns the owner's screens.
func (s *Service) List(ctx context.Context, ownerID string) ([]*store.Screen, error) {
	return s.screenStore.ListScreensByUser(ctx, ownerID)
}

func newScreenID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
