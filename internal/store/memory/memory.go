// Package memory implements an in-memory persistence driver.
// It backs unit tests and single-process development runs; data does
// not survive a restart.
package memory

import (
	"context"
	"sync"

	"github.com/vitrin-io/vitrin-go/internal/store"
)

func init() {
	store.Register("memory", NewDriver)
}

// Driver implements store.Registry with in-process maps.
type Driver struct {
	mu     sync.RWMutex
	closed bool

	devices map[string]*store.Device // keyed by id
	screens map[string]*store.Screen // keyed by id

	// Secondary indexes
	deviceBySerial      map[string]string // serial -> device id
	deviceByFingerprint map[string]string // fingerprint -> device id
	screenBySerial      map[string]string // serial -> screen id
}

// NewDriver creates a new memory driver instance.
func NewDriver(cfg *store.DriverConfig) (store.Driver, error) {
	return &Driver{
		devices:             make(map[string]*store.Device),
		screens:             make(map[string]*store.Screen),
		deviceBySerial:      make(map[string]string),
		deviceByFingerprint: make(map[string]string),
		screenBySerial:      make(map[string]string),
	}, nil
}

// New returns an initialized registry, for tests and dev wiring.
func New() *Driver {
	d, _ := NewDriver(&store.DriverConfig{Driver: "memory"})
	return d.(*Driver)
}

func (d *Driver) Name() string {
	return "memory"
}

func (d *Driver) Init(ctx context.Context) error {
	return nil
}

func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// DeviceStore implementation

func (d *Driver) CreateDevice(ctx context.Context, device *store.Device) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return store.ErrClosed
	}
	if _, ok := d.deviceBySerial[device.Serial]; ok {
		return store.ErrAlreadyExists
	}

	cp := *device
	d.devices[device.ID] = &cp
	d.deviceBySerial[device.Serial] = device.ID
	d.deviceByFingerprint[device.Fingerprint] = device.ID
	return nil
}

func (d *Driver) GetDevice(ctx context.Context, id string) (*store.Device, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return nil, store.ErrClosed
	}
	device, ok := d.devices[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *device
	return &cp, nil
}

func (d *Driver) GetDeviceBySerial(ctx context.Context, serial string) (*store.Device, error) {
	d.mu.RLock()
	id, ok := d.deviceBySerial[serial]
	d.mu.RUnlock()
	if !ok {
		return nil, store.ErrNotFound
	}
	return d.GetDevice(ctx, id)
}

func (d *Driver) GetDeviceByFingerprint(ctx context.Context, fingerprint string) (*store.Device, error) {
	d.mu.RLock()
	id, ok := d.deviceByFingerprint[fingerprint]
	d.mu.RUnlock()
	if !ok {
		return nil, store.ErrNotFound
	}
	return d.GetDevice(ctx, id)
}

func (d *Driver) UpdateDevice(ctx context.Context, device *store.Device) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return store.ErrClosed
	}
	if _, ok := d.devices[device.ID]; !ok {
		return store.ErrNotFound
	}

	cp := *device
	d.devices[device.ID] = &cp
	return nil
}

func (d *Driver) ListDevicesByUser(ctx context.Context, userID string) ([]*store.Device, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return nil, store.ErrClosed
	}

	var out []*store.Device
	for _, screen := range d.screens {
		if screen.UserID != userID || screen.DeviceID == "" {
			continue
		}
		if device, ok := d.devices[screen.DeviceID]; ok {
			cp := *device
			out = append(out, &cp)
		}
	}
	return out, nil
}

// ScreenStore implementation

func (d *Driver) CreateScreen(ctx context.Context, screen *store.Screen) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return store.ErrClosed
	}
	if _, ok := d.screenBySerial[screen.Serial]; ok {
		return store.ErrAlreadyExists
	}

	cp := *screen
	d.screens[screen.ID] = &cp
	d.screenBySerial[screen.Serial] = screen.ID
	return nil
}

func (d *Driver) GetScreen(ctx context.Context, id string) (*store.Screen, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return nil, store.ErrClosed
	}
	screen, ok := d.screens[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *screen
	return &cp, nil
}

func (d *Driver) GetScreenBySerial(ctx context.Context, serial string) (*store.Screen, error) {
	d.mu.RLock()
	id, ok := d.screenBySerial[serial]
	d.mu.RUnlock()
	if !ok {
		return nil, store.ErrNotFound
	}
	return d.GetScreen(ctx, id)
}

func (d *Driver) UpdateScreen(ctx context.Context, screen *store.Screen) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return store.ErrClosed
	}
	if _, ok := d.screens[screen.ID]; !ok {
		return store.ErrNotFound
	}

	cp := *screen
	d.screens[screen.ID] = &cp
	return nil
}

func (d *Driver) DeleteScreen(ctx context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return store.ErrClosed
	}
	screen, ok := d.screens[id]
	if !ok {
		return store.ErrNotFound
	}

	delete(d.screenBySerial, screen.Serial)
	delete(d.screens, id)
	return nil
}

func (d *Driver) ListScreensByUser(ctx context.Context, userID string) ([]*store.Screen, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return nil, store.ErrClosed
	}

	var out []*store.Screen
	for _, screen := range d.screens {
		if screen.UserID == userID {
			cp := *screen
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (d *Driver) CountScreensByUser(ctx context.Context, userID string) (int64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return 0, store.ErrClosed
	}

	var count int64
	for _, screen := range d.screens {
		if screen.UserID == userID {
			count++
		}
	}
	return count, nil
}

var _ store.Registry = (*Driver)(nil)
