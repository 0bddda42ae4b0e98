package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/wics-station/wics/internal/protocol"
)

var wifiTarget string

type wifiRow struct {
	Serial   string `json:"serial" yaml:"serial"`
	SSID     string `json:"ssid" yaml:"ssid"`
	Password string `json:"password" yaml:"password"`
}

var wifiCmd = &cobra.Command{
	Use:   "wifi",
	Short: "read or change the WiFi station settings of a device",
}

var wifiGetCmd = &cobra.Command{
	Use:   "get",
	Short: "show the SSID and password the device connects with",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		target, err := parseTarget(wifiTarget)
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

		dev, err := s.connect(ctx, target)
		if err != nil {
			return fmt.Errorf("discovery failed: %w", err)
		}
		if err := s.eng.RequestWifiRead(); err != nil {
			return err
		}
		wifi, err := s.awaitWifi(ctx, "")
		if err != nil {
			return err
		}
		if err := s.devices.UpdateWifi(ctx, dev.Serial, wifi.SSID); err != nil {
			log.Warnf("Failed to record station of %s: %v", dev.Serial, err)
		}

		fmt.Fprint(cmd.OutOrStdout(), formatter.Format(wifiRow{Serial: dev.Serial, SSID: wifi.SSID, Password: wifi.Password}))
		return nil
	},
}

var wifiSetCmd = &cobra.Command{
	Use:   "set ssid password",
	Short: "store new WiFi station settings on the device",
	Long: `stores new WiFi station settings on the device. SSID and password are cut
to 32 characters. The device does not confirm the write, so the settings are
read back afterwards.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, err := parseTarget(wifiTarget)
		if err != nil {
			return err
		}
		want := protocol.NewWifiStationSet(args[0], args[1])
		if want.SSID != args[0] || want.Password != args[1] {
			log.Warnf("SSID and password are limited to %d characters, storing %q", protocol.MaxSSIDLen, want.SSID)
		}

		ctx, stop := signalContext(cmd)
		defer stop()

		s, err := newStation()
		if err != nil {
			return err
		}
		defer s.close()

		dev, err := s.connect(ctx, target)
		if err != nil {
			return fmt.Errorf("discovery failed: %w", err)
		}
		if err := s.eng.RequestWifiWrite(want.SSID, want.Password); err != nil {
			return err
		}
		if err := s.eng.RequestWifiRead(); err != nil {
			return err
		}
		wifi, err := s.awaitWifi(ctx, want.SSID)
		if err != nil {
			return fmt.Errorf("device %s did not confirm the new station: %w", dev.Serial, err)
		}
		if err := s.devices.UpdateWifi(ctx, dev.Serial, wifi.SSID); err != nil {
			log.Warnf("Failed to record station of %s: %v", dev.Serial, err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Device %s now joins %q\n", dev.Serial, wifi.SSID)
		return nil
	},
}

func init() {
	wifiCmd.PersistentFlags().StringVar(&wifiTarget, "target", "", "address of the device (default: broadcast and use the last to answer)")
	wifiCmd.AddCommand(wifiGetCmd)
	wifiCmd.AddCommand(wifiSetCmd)
}
