package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/wics-station/wics/internal/store"
)

var (
	historySerial string
	historyLimit  int
)

type upgradeRow struct {
	ID       uint   `json:"id" yaml:"id"`
	Serial   string `json:"serial" yaml:"serial"`
	Module   string `json:"module" yaml:"module"`
	Image    string `json:"image" yaml:"image"`
	Size     int64  `json:"size" yaml:"size"`
	SHA256   string `json:"sha256" yaml:"sha256" table:"-"`
	Blocks   string `json:"blocks" yaml:"blocks"`
	Outcome  string `json:"outcome" yaml:"outcome"`
	Error    string `json:"error,omitempty" yaml:"error,omitempty" table:"-"`
	Started  string `json:"started_at" yaml:"started_at"`
	Finished string `json:"finished_at" yaml:"finished_at"`
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "show recorded devices and upgrades",
}

var historyDevicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "list every device that answered a discovery",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDatabase()
		if err != nil {
			return err
		}
		defer store.Close(db)

		devs, err := store.NewDeviceStore(db).ListDevices(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list devices: %w", err)
		}
		fmt.Fprint(cmd.OutOrStdout(), formatter.Format(deviceRows(devs)))
		return nil
	},
}

var historyUpgradesCmd = &cobra.Command{
	Use:   "upgrades",
	Short: "list firmware upgrade attempts, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDatabase()
		if err != nil {
			return err
		}
		defer store.Close(db)

		ups, err := store.NewUpgradeStore(db).ListUpgrades(cmd.Context(), historySerial, historyLimit)
		if err != nil {
			return fmt.Errorf("failed to list upgrades: %w", err)
		}

		rows := make([]upgradeRow, 0, len(ups))
		for _, u := range ups {
			rows = append(rows, upgradeRow{
				ID:       u.ID,
				Serial:   u.Serial,
				Module:   u.Module,
				Image:    u.ImagePath,
				Size:     u.ImageSize,
				SHA256:   u.ImageSHA256,
				Blocks:   fmt.Sprintf("%d/%d", u.LastBlock, u.TotalBlocks),
				Outcome:  u.Outcome,
				Error:    u.Error,
				Started:  formatTime(u.StartedAt),
				Finished: formatTime(u.FinishedAt),
			})
		}
		fmt.Fprint(cmd.OutOrStdout(), formatter.Format(rows))
		return nil
	},
}

func init() {
	historyUpgradesCmd.Flags().StringVar(&historySerial, "serial", "", "only show upgrades of this device")
	historyUpgradesCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum number of upgrades to show (0 for all)")
	historyCmd.AddCommand(historyDevicesCmd)
	historyCmd.AddCommand(historyUpgradesCmd)
}
