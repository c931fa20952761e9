package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/postcast/internal/config"
	"github.com/ppiankov/postcast/internal/delivery"
)

var (
	summarizeMode        string
	summarizeAsScheduled bool
	summarizeDryRun      bool
)

var summarizeCmd = &cobra.Command{
	Use:   "summarize <id>",
	Short: "Summarize and post one post regardless of the cursor",
	Args:  cobra.ExactArgs(1),
	RunE:  summarizeAction,
}

func init() {
	summarizeCmd.Flags().StringVar(&summarizeMode, "mode", "", "content source: wiki or feed (overrides MODE)")
	summarizeCmd.Flags().BoolVar(&summarizeAsScheduled, "as-scheduled", false, "tag the post as scheduled so it moves the cursor")
	summarizeCmd.Flags().BoolVar(&summarizeDryRun, "dry-run", false, "print the message to stdout instead of posting")
	rootCmd.AddCommand(summarizeCmd)
}

func summarizeAction(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(config.Overrides{Mode: summarizeMode})
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	p, err := openPipeline(cfg, log, summarizeDryRun)
	if err != nil {
		logFailure(log, "setup failed", err)
		return err
	}
	defer func() { _ = p.Close() }()

	trigger := delivery.TriggerRequested
	if summarizeAsScheduled {
		trigger = delivery.TriggerScheduled
	}

	ctx, cancel := withTimeout(cmd.Context(), cfg.Delivery.Timeout.Duration)
	defer cancel()

	var res delivery.Result
	err = p.locked(ctx, p.src.EventType(), func(ctx context.Context) error {
		var reqErr error
		res, reqErr = p.coord.Request(ctx, args[0], trigger)
		return reqErr
	})
	if err != nil {
		logFailure(log, "summarize failed", err)
		return err
	}

	fmt.Printf("Delivered %s as %s.\n", res.Cursor, trigger)
	return nil
}
