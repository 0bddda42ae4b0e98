package upgrade

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownModule = errors.New("upgrade: unknown module")
	ErrImageTooLarge = errors.New("upgrade: image too large")
	ErrNotResponding = errors.New("upgrade: device not responding")
	ErrActive        = errors.New("upgrade: transfer already active")
)

// DeviceError reports a block the device refused.
type DeviceError struct {
	Block  uint16
	Result uint16
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("upgrade: device rejected block %d with result %d", e.Block, e.Result)
}
