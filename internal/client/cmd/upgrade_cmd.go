package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/wics-station/wics/internal/engine"
	"github.com/wics-station/wics/internal/firmware"
	"github.com/wics-station/wics/internal/protocol"
	"github.com/wics-station/wics/internal/store"
)

var (
	upgradeModule   string
	upgradeTarget   string
	upgradeProgress bool
)

var upgradeCmd = &cobra.Command{
	Use:   "upgrade path/to/image",
	Short: "upgrade the firmware of a device module",
	Long: `sends a firmware image to the WLAN or DCC module of a device, one page at a
time, waiting for every page to be acknowledged. The attempt and its outcome
are recorded in the upgrade history.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		module, err := protocol.ParseModule(upgradeModule)
		if err != nil {
			return err
		}
		target, err := parseTarget(upgradeTarget)
		if err != nil {
			return err
		}

		img, err := firmware.Open(path)
		if err != nil {
			return err
		}
		sum, err := img.SHA256()
		size := img.Size()
		_ = img.Close()
		if err != nil {
			return fmt.Errorf("hash %s: %w", path, err)
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

		rec, err := s.upgrades.CreateUpgrade(ctx, store.Upgrade{
			Serial:      dev.Serial,
			Address:     dev.Address,
			Module:      module.String(),
			ImagePath:   img.Path(),
			ImageSize:   size,
			ImageSHA256: sum,
			TotalBlocks: firmware.TotalBlocks(size, module.PageSize()),
		})
		if err != nil {
			return fmt.Errorf("record upgrade: %w", err)
		}

		if err := s.eng.BeginUpgrade(module, path); err != nil {
			if ferr := s.upgrades.FinishUpgrade(context.Background(), rec.ID, engine.OutcomeLocalError.String(), 0, err.Error()); ferr != nil {
				log.Warnf("Failed to record upgrade outcome: %v", ferr)
			}
			return err
		}

		fin := s.follow(ctx)

		errMsg := ""
		if fin.Err != nil {
			errMsg = fin.Err.Error()
		}
		if err := s.upgrades.FinishUpgrade(context.Background(), rec.ID, fin.Outcome.String(), int(fin.Block), errMsg); err != nil {
			log.Warnf("Failed to record upgrade outcome: %v", err)
		}

		if fin.Outcome != engine.OutcomeComplete {
			if fin.Err != nil {
				return fmt.Errorf("upgrade %s at block %d: %w", fin.Outcome, fin.Block, fin.Err)
			}
			return fmt.Errorf("upgrade %s at block %d", fin.Outcome, fin.Block)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Upgraded %s of device %s with %s (%d bytes, sha256 %s)\n",
			module, dev.Serial, img.Path(), size, sum)
		return nil
	},
}

// follow consumes engine events until the transfer finishes, drawing a
// progress bar. Cancelling ctx closes the connection, which aborts the
// transfer.
func (s *station) follow(ctx context.Context) engine.UpgradeFinished {
	var bar *progressbar.ProgressBar
	done := ctx.Done()

	for {
		select {
		case ev, ok := <-s.eng.Events():
			if !ok {
				return engine.UpgradeFinished{Outcome: engine.OutcomeAborted, Err: engine.ErrStopped}
			}
			switch ev := ev.(type) {
			case engine.UpgradeStarted:
				if upgradeProgress {
					bar = progressbar.NewOptions(ev.TotalBlocks,
						progressbar.OptionSetWriter(os.Stderr),
						progressbar.OptionSetDescription(fmt.Sprintf("%s upgrade", ev.Module)),
						progressbar.OptionShowCount(),
						progressbar.OptionSetRenderBlankState(true),
						progressbar.OptionOnCompletion(func() { fmt.Fprintln(os.Stderr) }),
					)
				}
			case engine.BlockAck:
				if bar != nil && !ev.Stale {
					_ = bar.Set(int(ev.Block))
				}
			case engine.UpgradeFinished:
				if bar != nil && ev.Outcome == engine.OutcomeComplete {
					_ = bar.Finish()
				} else if bar != nil {
					fmt.Fprintln(os.Stderr)
				}
				return ev
			}

		case <-done:
			log.Warn("Interrupted, aborting upgrade")
			done = nil
			s.eng.CloseConnection()
		}
	}
}

func init() {
	upgradeCmd.Flags().StringVarP(&upgradeModule, "module", "m", "wlan", "module to upgrade: wlan or dcc")
	upgradeCmd.Flags().StringVar(&upgradeTarget, "target", "", "address of the device (default: broadcast and use the last to answer)")
	upgradeCmd.Flags().BoolVar(&upgradeProgress, "progress", true, "draw a progress bar on stderr")
}
