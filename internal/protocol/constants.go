package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	DefaultPort = 21105

	// Header is the protocol tag carried by every WICS datagram.
	Header uint16 = 0x0038

	ParamNone uint16 = 0
	ResultOK  uint16 = 0

	MaxSSIDLen     = 32
	MaxPasswordLen = 32
)

// Wire sizes in bytes. Every datagram starts with the preamble
// (length, header, opcode).
const (
	PreambleSize          = 6
	GenericSize           = 8
	DeviceInfoSize        = 24
	UpgradeInitSize       = 12
	UpgradeDataHeaderSize = 10
	UpgradeStateSize      = 10
	WifiStationSize       = PreambleSize + 2*stringFieldSize

	MaxDatagramSize   = 0xFFFF
	MaxUpgradePayload = MaxDatagramSize - UpgradeDataHeaderSize

	stringFieldSize = MaxSSIDLen + 1
)

type Opcode uint16

const (
	OpDeviceInfoGet  Opcode = 0x49
	OpWifiStationGet Opcode = 0x57
	OpUpgradeStart   Opcode = 0x55
	OpUpgradeData    Opcode = 0x48

	OpDeviceInfo   Opcode = 0x69
	OpWifiStation  Opcode = 0x77
	OpUpgradeState Opcode = 0x75
)

func (o Opcode) String() string {
	switch o {
	case OpDeviceInfoGet:
		return "DEVINFO_GET"
	case OpWifiStationGet:
		return "WIFISTA_GET"
	case OpUpgradeStart:
		return "UPGRADE_START"
	case OpUpgradeData:
		return "UPGRADE_DATA"
	case OpDeviceInfo:
		return "DEVINFO"
	case OpWifiStation:
		return "WIFISTA"
	case OpUpgradeState:
		return "UPGRADE"
	default:
		return "UNKNOWN"
	}
}

// Module identifies the upgrade target on the device. Each module is
// flashed in pages of a fixed size.
type Module uint16

const (
	ModuleWLAN Module = 0x01
	ModuleDCC  Module = 0x02

	ModuleMask Module = 0x0F
)

const (
	wlanPageSize = 1024
	dccPageSize  = 256
)

// PageSize returns the firmware page size of the module, or 0 for an
// unknown module.
func (m Module) PageSize() int {
	switch m & ModuleMask {
	case ModuleWLAN:
		return wlanPageSize
	case ModuleDCC:
		return dccPageSize
	default:
		return 0
	}
}

func (m Module) Valid() bool {
	return m.PageSize() > 0
}

func (m Module) String() string {
	switch m & ModuleMask {
	case ModuleWLAN:
		return "WLAN"
	case ModuleDCC:
		return "DCC"
	default:
		return "UNKNOWN"
	}
}

// ParseModule accepts a module name ("wlan", "dcc") or its numeric id.
func ParseModule(s string) (Module, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "wlan":
		return ModuleWLAN, nil
	case "dcc", "dccgen", "dccg":
		return ModuleDCC, nil
	}
	n, err := strconv.ParseUint(s, 0, 16)
	if err != nil || !Module(n).Valid() {
		return 0, fmt.Errorf("unknown module %q", s)
	}
	return Module(n), nil
}

// Direction tells the codec which side of the link produced a datagram.
// It disambiguates the WIFISTA opcode, which is used both for the
// device's report and for the client's set request.
type Direction int

const (
	FromDevice Direction = iota
	ToDevice
)

func (d Direction) String() string {
	if d == ToDevice {
		return "to-device"
	}
	return "from-device"
}
