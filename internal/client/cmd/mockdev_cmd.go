package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/wics-station/wics/internal/mockdevice"
)

var (
	mockPort     int
	mockSSID     string
	mockPassword string
	mockSerial   string
)

var mockdevCmd = &cobra.Command{
	Use:   "mockdev",
	Short: "run a simulated WICS device",
	Long: `runs a simulated WICS device that answers discovery and WiFi requests and
accepts firmware upgrades, until interrupted.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		port := cfg.DevicePort
		if cmd.Flags().Changed("listen") {
			port = mockPort
		}

		info := mockdevice.DefaultInfo
		if mockSerial != "" {
			serial, err := strconv.ParseUint(mockSerial, 16, 32)
			if err != nil {
				return fmt.Errorf("invalid serial %q: %w", mockSerial, err)
			}
			info.Serial = uint32(serial)
		}

		dev, err := mockdevice.Start(port,
			mockdevice.WithLogger(log),
			mockdevice.WithInfo(info),
			mockdevice.WithWifi(mockSSID, mockPassword),
		)
		if err != nil {
			return err
		}
		log.Infof("Mock device %s listening on port %d", info.SerialNumber(), dev.Port())

		ctx, stop := signalContext(cmd)
		defer stop()
		<-ctx.Done()

		log.Info("Shutting down mock device...")
		dev.Close()
		return nil
	},
}

func init() {
	mockdevCmd.Flags().IntVar(&mockPort, "listen", 0, "UDP port to listen on (default: the device port)")
	mockdevCmd.Flags().StringVar(&mockSSID, "ssid", "wics-lab", "initial WiFi station SSID")
	mockdevCmd.Flags().StringVar(&mockPassword, "password", "changeme", "initial WiFi station password")
	mockdevCmd.Flags().StringVar(&mockSerial, "serial", "", "serial number in hex")
}
