// Package store provides persistence primitives and driver abstractions
// for the device registry.
package store

import (
	"context"
	"errors"
)

// Common errors for store operations.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrClosed        = errors.New("store closed")
)

// Device status values. A device is pending until its claim is
// confirmed, bound once a screen references it, and online/offline
// while connected/disconnected. Deleting is a transient state shown
// while a screen removal cascade runs.
const (
	DeviceStatusPending  = "pending"
	DeviceStatusBound    = "bound"
	DeviceStatusOffline  = "offline"
	DeviceStatusOnline   = "online"
	DeviceStatusDeleting = "deleting"
)

// Driver defines the interface for a persistence backend.
// Implementations must be safe for concurrent use.
type Driver interface {
	// Init initializes the driver (create tables, load data, etc).
	Init(ctx context.Context) error

	// Close releases resources held by the driver.
	Close() error

	// Name returns the driver name (memory, sqlite).
	Name() string
}

// Device is a confirmed physical signage device. Created exactly once
// per serial; the serial is immutable once persisted.
type Device struct {
	ID          string `json:"id" gorm:"primaryKey"`
	Serial      string `json:"serial" gorm:"uniqueIndex"`
	Fingerprint string `json:"fingerprint" gorm:"index"`
	ScreenID    string `json:"screen_id,omitempty" gorm:"index"`
	Status      string `json:"status"`
	Meta        string `json:"meta,omitempty"` // opaque JSON from the device
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
}

// Screen is an operator-facing content surface, optionally bound
// one-to-one to a Device via the serial.
type Screen struct {
	ID        string `json:"id" gorm:"primaryKey"`
	UserID    string `json:"user_id" gorm:"index"`
	DeviceID  string `json:"device_id,omitempty" gorm:"index"`
	SourceID  string `json:"source_id,omitempty"`
	Name      string `json:"name"`
	Direction string `json:"direction,omitempty"`
	Place     string `json:"place,omitempty"`
	Serial    string `json:"serial" gorm:"uniqueIndex"`
	Status    string `json:"status"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

// DeviceStore defines operations for device persistence.
type DeviceStore interface {
	// CreateDevice inserts a device. Returns ErrAlreadyExists if a
	// device with the same serial is already persisted.
	CreateDevice(ctx context.Context, device *Device) error
	GetDevice(ctx context.Context, id string) (*Device, error)
	GetDeviceBySerial(ctx context.Context, serial string) (*Device, error)
	GetDeviceByFingerprint(ctx context.Context, fingerprint string) (*Device, error)
	UpdateDevice(ctx context.Context, device *Device) error
	ListDevicesByUser(ctx context.Context, userID string) ([]*Device, error)
}

// ScreenStore defines operations for screen persistence.
type ScreenStore interface {
	CreateScreen(ctx context.Context, screen *Screen) error
	GetScreen(ctx context.Context, id string) (*Screen, error)
	GetScreenBySerial(ctx context.Context, serial string) (*Screen, error)
	UpdateScreen(ctx context.Context, screen *Screen) error
	DeleteScreen(ctx context.Context, id string) error
	ListScreensByUser(ctx context.Context, userID string) ([]*Screen, error)
	CountScreensByUser(ctx context.Context, userID string) (int64, error)
}

// Registry combines the stores a full driver implements.
type Registry interface {
	Driver
	DeviceStore
	ScreenStore
}
