// Package store keeps the device registry and the upgrade history.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wics-station/wics/internal/protocol"
	"gorm.io/gorm"
)

var ErrNotFound = errors.New("store: not found")

var (
	_ DeviceRepository  = (*DeviceStore)(nil)
	_ UpgradeRepository = (*UpgradeStore)(nil)
)

type DeviceStore struct {
	db *gorm.DB
}

func NewDeviceStore(db *gorm.DB) *DeviceStore {
	return &DeviceStore{db: db}
}

// UpsertDevice records a discovery reply. It reports whether the serial
// was seen for the first time.
func (ds *DeviceStore) UpsertDevice(ctx context.Context, addr string, info protocol.DeviceInfo) (Device, bool, error) {
	now := time.Now().Unix()
	serial := info.SerialNumber()

	var dev Device
	err := ds.db.WithContext(ctx).Where("serial = ?", serial).First(&dev).Error
	created := errors.Is(err, gorm.ErrRecordNotFound)
	if err != nil && !created {
		return Device{}, false, err
	}

	if created {
		dev = Device{Serial: serial, FirstSeen: now}
	}
	dev.Address = addr
	dev.Flags = info.Flags
	dev.Hardware = info.Hardware
	dev.HWVersion = info.HardwareVersion()
	dev.SWVersion = info.SoftwareVersion()
	dev.FWVersion = info.FirmwareVersion()
	dev.LastSeen = now

	if err := ds.db.WithContext(ctx).Save(&dev).Error; err != nil {
		return Device{}, false, err
	}
	return dev, created, nil
}

func (ds *DeviceStore) UpdateWifi(ctx context.Context, serial, ssid string) error {
	res := ds.db.WithContext(ctx).Model(&Device{}).Where("serial = ?", serial).Update("ssid", ssid)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("device %s: %w", serial, ErrNotFound)
	}
	return nil
}

func (ds *DeviceStore) GetDevice(ctx context.Context, serial string) (Device, error) {
	var dev Device
	err := ds.db.WithContext(ctx).Where("serial = ?", serial).First(&dev).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Device{}, fmt.Errorf("device %s: %w", serial, ErrNotFound)
	}
	return dev, err
}

func (ds *DeviceStore) ListDevices(ctx context.Context) ([]Device, error) {
	var devs []Device
	err := ds.db.WithContext(ctx).Order("last_seen DESC, id DESC").Find(&devs).Error
	return devs, err
}

type UpgradeStore struct {
	db *gorm.DB
}

func NewUpgradeStore(db *gorm.DB) *UpgradeStore {
	return &UpgradeStore{db: db}
}

func (us *UpgradeStore) CreateUpgrade(ctx context.Context, u Upgrade) (Upgrade, error) {
	u.ID = 0
	if u.StartedAt == 0 {
		u.StartedAt = time.Now().Unix()
	}
	if u.Outcome == "" {
		u.Outcome = OutcomeRunning
	}
	if err := us.db.WithContext(ctx).Create(&u).Error; err != nil {
		return Upgrade{}, err
	}
	return u, nil
}

func (us *UpgradeStore) FinishUpgrade(ctx context.Context, id uint, outcome string, lastBlock int, errMsg string) error {
	res := us.db.WithContext(ctx).Model(&Upgrade{}).Where("id = ?", id).Updates(map[string]any{
		"outcome":     outcome,
		"last_block":  lastBlock,
		"error":       errMsg,
		"finished_at": time.Now().Unix(),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("upgrade %d: %w", id, ErrNotFound)
	}
	return nil
}

// ListUpgrades returns the newest upgrades first, optionally for one serial.
// A limit of 0 or less returns all of them.
func (us *UpgradeStore) ListUpgrades(ctx context.Context, serial string, limit int) ([]Upgrade, error) {
	q := us.db.WithContext(ctx).Order("id DESC")
	if serial != "" {
		q = q.Where("serial = ?", serial)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	var ups []Upgrade
	err := q.Find(&ups).Error
	return ups, err
}
