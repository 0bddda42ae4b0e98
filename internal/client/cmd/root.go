package cmd

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/wics-station/wics/internal/client/output"
	"github.com/wics-station/wics/internal/config"
	"github.com/wics-station/wics/internal/logger"
)

var (
	// Global flags
	cfgFile     string
	outputFlag  string
	logLevel    string
	database    string
	metricsAddr string
	localPort   int
	devicePort  int
	maxRetries  int
	coalesce    bool

	// Shared state set during PersistentPreRun
	cfg       *config.Config
	log       *logrus.Logger
	formatter output.Formatter
)

var rootCmd = &cobra.Command{
	Use:   "wics",
	Short: "Configure and upgrade WICS devices over UDP",
	Long: `wics discovers WICS devices on the local network, reads and writes their
WiFi station settings and upgrades the WLAN and DCC firmware modules.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path := cfgFile
		if path == "" {
			path = config.DefaultPath()
		}
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		flags := cmd.Flags()
		if flags.Changed("port") {
			cfg.Port = localPort
		}
		if flags.Changed("device-port") {
			cfg.DevicePort = devicePort
		}
		if flags.Changed("retries") {
			cfg.MaxRetries = maxRetries
		}
		if flags.Changed("coalesce") {
			cfg.Coalesce = coalesce
		}
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}
		if database != "" {
			cfg.Database = database
		}
		if metricsAddr != "" {
			cfg.MetricsAddr = metricsAddr
		}
		if outputFlag != "" {
			cfg.OutputFormat = outputFlag
		}

		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		level, err := logger.ParseLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		log = logger.New(os.Stderr, level)
		formatter = output.NewFormatter(cfg.OutputFormat)
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default ~/.wics/config.yaml)")
	pf.StringVarP(&outputFlag, "output", "o", "", "output format: table, json or yaml")
	pf.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn or error")
	pf.StringVar(&database, "database", "", "SQLite database holding devices and upgrade history")
	pf.StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")
	pf.IntVar(&localPort, "port", 0, "local UDP port (0 picks a free one)")
	pf.IntVar(&devicePort, "device-port", 0, "UDP port the devices listen on")
	pf.IntVar(&maxRetries, "retries", 0, "transmissions per datagram before giving up")
	pf.BoolVar(&coalesce, "coalesce", false, "replace queued datagrams to the same address")

	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(wifiCmd)
	rootCmd.AddCommand(upgradeCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(mockdevCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
