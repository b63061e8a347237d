// Package sqlite implements a SQLite-based persistence driver using GORM.
// The unique index on serial is the storage-layer backstop for the
// application-level uniqueness checks.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/vitrin-io/vitrin-go/internal/store"
)

func init() {
	store.Register("sqlite", NewDriver)
}

// Driver implements store.Registry using SQLite via GORM.
type Driver struct {
	dataDir string
	db      *gorm.DB
}

// NewDriver creates a new SQLite driver instance.
func NewDriver(cfg *store.DriverConfig) (store.Driver, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("data_dir is required for sqlite driver")
	}

	return &Driver{
		dataDir: cfg.DataDir,
	}, nil
}

// Name returns the driver name.
func (d *Driver) Name() string {
	return "sqlite"
}

// Init initializes the SQLite database and runs AutoMigrate.
func (d *Driver) Init(ctx context.Context) error {
	dbPath := filepath.Join(d.dataDir, "vitrin.db")

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	d.db = db

	if err := db.AutoMigrate(
		&store.Device{},
		&store.Screen{},
	); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (d *Driver) Close() error {
	if d.db == nil {
		return nil
	}
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// DeviceStore implementation

func (d *Driver) CreateDevice(ctx context.Context, device *store.Device) error {
	result := d.db.WithContext(ctx).Create(device)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return store.ErrAlreadyExists
		}
		// The sqlite driver surfaces the unique-index violation as a
		// plain error string depending on driver version; a pre-check
		// keeps the mapping deterministic.
		var existing store.Device
		if err := d.db.WithContext(ctx).First(&existing, "serial = ?", device.Serial).Error; err == nil {
			return store.ErrAlreadyExists
		}
		return result.Error
	}
	return nil
}

func (d *Driver) GetDevice(ctx context.Context, id string) (*store.Device, error) {
	var device store.Device
	result := d.db.WithContext(ctx).First(&device, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, result.Error
	}
	return &device, nil
}

func (d *Driver) GetDeviceBySerial(ctx context.Context, serial string) (*store.Device, error) {
	var device store.Device
	result := d.db.WithContext(ctx).First(&device, "serial = ?", serial)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, result.Error
	}
	return &device, nil
}

func (d *Driver) GetDeviceByFingerprint(ctx context.Context, fingerprint string) (*store.Device, error) {
	var device store.Device
	result := d.db.WithContext(ctx).First(&device, "fingerprint = ?", fingerprint)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, result.Error
	}
	return &device, nil
}

func (d *Driver) UpdateDevice(ctx context.Context, device *store.Device) error {
	result := d.db.WithContext(ctx).Save(device)
	return result.Error
}

func (d *Driver) ListDevicesByUser(ctx context.Context, userID string) ([]*store.Device, error) {
	var devices []*store.Device
	result := d.db.WithContext(ctx).
		Joins("JOIN screens ON screens.device_id = devices.id").
		Where("screens.user_id = ?", userID).
		Find(&devices)
	if result.Error != nil {
		return nil, result.Error
	}
	return devices, nil
}

// ScreenStore implementation

func (d *Driver) CreateScreen(ctx context.Context, screen *store.Screen) error {
	result := d.db.WithContext(ctx).Create(screen)
	if result.Error != nil {
		var existing store.Screen
		if err := d.db.WithContext(ctx).First(&existing, "serial = ?", screen.Serial).Error; err == nil {
			return store.ErrAlreadyExists
		}
		return result.Error
	}
	return nil
}

func (d *Driver) GetScreen(ctx context.Context, id string) (*store.Screen, error) {
	var screen store.Screen
	result := d.db.WithContext(ctx).First(&screen, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, result.Error
	}
	return &screen, nil
}

func (d *Driver) GetScreenBySerial(ctx context.Context, serial string) (*store.Screen, error) {
	var screen store.Screen
	result := d.db.WithContext(ctx).First(&screen, "serial = ?", serial)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, result.Error
	}
	return &screen, nil
}

func (d *Driver) UpdateScreen(ctx context.Context, screen *store.Screen) error {
	result := d.db.WithContext(ctx).Save(screen)
	return result.Error
}

func (d *Driver) DeleteScreen(ctx context.Context, id string) error {
	result := d.db.WithContext(ctx).Delete(&store.Screen{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (d *Driver) ListScreensByUser(ctx context.Context, userID string) ([]*store.Screen, error) {
	var screens []*store.Screen
	result := d.db.WithContext(ctx).Find(&screens, "user_id = ?", userID)
	if result.Error != nil {
		return nil, result.Error
	}
	return screens, nil
}

func (d *Driver) CountScreensByUser(ctx context.Context, userID string) (int64, error) {
	var count int64
	result := d.db.WithContext(ctx).Model(&store.Screen{}).Where("user_id = ?", userID).Count(&count)
	if result.Error != nil {
		return 0, result.Error
	}
	return count, nil
}

var _ store.Registry = (*Driver)(nil)
