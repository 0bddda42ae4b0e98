package protocol

import "fmt"

type Message interface {
	Opcode() Opcode
}

// Generic is the parameterless request shape shared by DEVINFO_GET and
// WIFISTA_GET.
type Generic struct {
	Op    Opcode
	Param uint16
}

func (g Generic) Opcode() Opcode { return g.Op }

func NewDeviceInfoRequest() *Generic {
	return &Generic{Op: OpDeviceInfoGet, Param: ParamNone}
}

func NewWifiStationRequest() *Generic {
	return &Generic{Op: OpWifiStationGet, Param: ParamNone}
}

type DeviceInfo struct {
	Flags     uint16
	Hardware  uint16
	HWVersion uint16
	SWVersion uint32
	FWVersion uint32
	Serial    uint32
}

func (DeviceInfo) Opcode() Opcode { return OpDeviceInfo }

// HardwareVersion renders the hardware revision as major.minor, where the
// device reports it as major*100+minor.
func (d DeviceInfo) HardwareVersion() string {
	return fmt.Sprintf("%d.%d", d.HWVersion/100, d.HWVersion%100)
}

func (d DeviceInfo) SoftwareVersion() string {
	return formatVersion(d.SWVersion)
}

func (d DeviceInfo) FirmwareVersion() string {
	return formatVersion(d.FWVersion)
}

func (d DeviceInfo) SerialNumber() string {
	return fmt.Sprintf("%08x", d.Serial)
}

func formatVersion(v uint32) string {
	return fmt.Sprintf("%d.%d.%d", (v>>24)&0xFF, (v>>16)&0xFF, v&0xFFFF)
}

type UpgradeInit struct {
	Module       Module
	FirmwareSize uint32
}

func (UpgradeInit) Opcode() Opcode { return OpUpgradeStart }

type UpgradeData struct {
	Module  Module
	Block   uint16
	Payload []byte
}

func (UpgradeData) Opcode() Opcode { return OpUpgradeData }

// UpgradeState is the device's acknowledgement of an upgrade block.
// Block 0 acknowledges UPGRADE_START.
type UpgradeState struct {
	Block  uint16
	Result uint16
}

func (UpgradeState) Opcode() Opcode { return OpUpgradeState }

func (s UpgradeState) OK() bool { return s.Result == ResultOK }

// WifiStationReport carries the station credentials reported by the device.
type WifiStationReport struct {
	SSID     string
	Password string
}

func (WifiStationReport) Opcode() Opcode { return OpWifiStation }

// WifiStationSet asks the device to store new station credentials. It
// shares its wire layout and opcode with WifiStationReport.
type WifiStationSet struct {
	SSID     string
	Password string
}

func (WifiStationSet) Opcode() Opcode { return OpWifiStation }

// NewWifiStationSet truncates the credentials so that both fields keep a
// terminating NUL inside their fixed-width slots.
func NewWifiStationSet(ssid, password string) *WifiStationSet {
	return &WifiStationSet{
		SSID:     truncate(ssid, MaxSSIDLen),
		Password: truncate(password, MaxPasswordLen),
	}
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// IsRequest reports whether msg is one the client sends to the device.
func IsRequest(msg Message) bool {
	switch msg.(type) {
	case *Generic, *UpgradeInit, *UpgradeData, *WifiStationSet:
		return true
	default:
		return false
	}
}
