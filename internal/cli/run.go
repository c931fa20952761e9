package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ppiankov/postcast/internal/config"
	"github.com/ppiankov/postcast/internal/delivery"
)

var (
	runMode   string
	runDate   string
	runDryRun bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Announce every post published since the last announcement",
	Long: "run resolves the channel's cursor, fetches recent posts, and summarizes and posts every newer one " +
		"oldest first. If REQUESTED_BLOGPOST_ID is set, that single post is summarized instead.",
	RunE: runAction,
}

func init() {
	runCmd.Flags().StringVar(&runMode, "mode", "", "content source: wiki or feed (overrides MODE)")
	runCmd.Flags().StringVar(&runDate, "date", "", "feed mode: announce dates after YYYY-MM-DD instead of the stored cursor")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "print messages to stdout instead of posting")
	rootCmd.AddCommand(runCmd)
}

func runAction(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(config.Overrides{Mode: runMode, Date: runDate})
	if err != nil {
		return err
	}
	log := newLogger(cfg)
	log.Debug("config loaded", "config", cfg.String())

	p, err := openPipeline(cfg, log, runDryRun)
	if err != nil {
		logFailure(log, "setup failed", err)
		return err
	}
	defer func() { _ = p.Close() }()

	ctx, cancel := withTimeout(cmd.Context(), cfg.Delivery.Timeout.Duration)
	defer cancel()

	var res delivery.Result
	err = p.locked(ctx, p.src.EventType(), func(ctx context.Context) error {
		var runErr error
		if id := strings.TrimSpace(cfg.Request.ItemID); id != "" {
			log.Info("requested post", "id", id)
			res, runErr = p.coord.Request(ctx, id, delivery.TriggerRequested)
			return runErr
		}
		res, runErr = p.coord.Run(ctx, cfg.Request.Date)
		return runErr
	})
	if err != nil {
		logFailure(log, "run failed", err)
		return err
	}

	p.prune(ctx)
	printResult(res)
	return nil
}

func printResult(res delivery.Result) {
	switch {
	case res.State == delivery.StateNothingNew:
		fmt.Printf("Nothing new since %s.\n", res.Cursor)
	case res.Delivered == 0:
		fmt.Printf("Seeded cursor %s.\n", res.Cursor)
	default:
		fmt.Printf("Delivered %d of %d: %s\n", res.Delivered, res.Selected, strings.Join(res.ItemIDs, ", "))
	}
}
