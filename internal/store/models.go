package store

// Device is the last known state of a device, keyed by serial number.
type Device struct {
	ID        uint   `gorm:"primaryKey"`
	Serial    string `gorm:"uniqueIndex;not null"`
	Address   string
	Flags     uint16
	Hardware  uint16
	HWVersion string
	SWVersion string
	FWVersion string
	SSID      string `gorm:"column:ssid"`
	FirstSeen int64
	LastSeen  int64
}

// Upgrade records one firmware transfer attempt.
type Upgrade struct {
	ID          uint   `gorm:"primaryKey"`
	Serial      string `gorm:"index"`
	Address     string
	Module      string
	ImagePath   string
	ImageSize   int64
	ImageSHA256 string
	TotalBlocks int
	Outcome     string
	LastBlock   int
	Error       string
	StartedAt   int64
	FinishedAt  int64
}

// OutcomeRunning marks an upgrade that has not reported an outcome yet.
const OutcomeRunning = "running"
