package store

import (
	"context"

	"github.com/wics-station/wics/internal/protocol"
)

// DeviceRepository defines device registry operations.
type DeviceRepository interface {
	UpsertDevice(ctx context.Context, addr string, info protocol.DeviceInfo) (Device, bool, error)
	UpdateWifi(ctx context.Context, serial, ssid string) error
	GetDevice(ctx context.Context, serial string) (Device, error)
	ListDevices(ctx context.Context) ([]Device, error)
}

// UpgradeRepository defines upgrade history operations.
type UpgradeRepository interface {
	CreateUpgrade(ctx context.Context, u Upgrade) (Upgrade, error)
	FinishUpgrade(ctx context.Context, id uint, outcome string, lastBlock int, errMsg string) error
	ListUpgrades(ctx context.Context, serial string, limit int) ([]Upgrade, error)
}
