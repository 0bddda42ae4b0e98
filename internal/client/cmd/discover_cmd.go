package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/wics-station/wics/internal/store"
)

var discoverTarget string

type deviceRow struct {
	Serial   string `json:"serial" yaml:"serial"`
	Address  string `json:"address" yaml:"address"`
	Hardware string `json:"hw_version" yaml:"hw_version" table:"HW"`
	Software string `json:"sw_version" yaml:"sw_version" table:"SW"`
	Firmware string `json:"fw_version" yaml:"fw_version" table:"FW"`
	SSID     string `json:"ssid" yaml:"ssid"`
	LastSeen string `json:"last_seen" yaml:"last_seen" table:"LAST SEEN"`
}

func deviceRows(devs []store.Device) []deviceRow {
	rows := make([]deviceRow, 0, len(devs))
	for _, d := range devs {
		rows = append(rows, deviceRow{
			Serial:   d.Serial,
			Address:  d.Address,
			Hardware: d.HWVersion,
			Software: d.SWVersion,
			Firmware: d.FWVersion,
			SSID:     d.SSID,
			LastSeen: formatTime(d.LastSeen),
		})
	}
	return rows
}

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "find WICS devices on the local network",
	Long: `broadcasts a device information request and lists every device that answers
before the discovery timeout. Answers are recorded in the device history.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		target, err := parseTarget(discoverTarget)
		if err != nil {
			return err
		}

		ctx, stop := signalContext(cmd)
		defer stop()

		s, err := newStation()
		if err != nil {
			return err
		}
		defer s.close()

		found, err := s.discover(ctx, target)
		if err != nil {
			return fmt.Errorf("discovery failed: %w", err)
		}
		fmt.Fprint(cmd.OutOrStdout(), formatter.Format(deviceRows(found)))
		return nil
	},
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

func init() {
	discoverCmd.Flags().StringVar(&discoverTarget, "target", "", "send the request to this address instead of broadcasting")
}
