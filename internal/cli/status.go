package cli

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ppiankov/postcast/internal/config"
	"github.com/ppiankov/postcast/internal/delivery"
	"github.com/ppiankov/postcast/internal/store"
)

var statusLimit int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the channel's cursor and recent deliveries",
	RunE:  statusAction,
}

func init() {
	statusCmd.Flags().IntVar(&statusLimit, "limit", 10, "number of journal entries to show")
	rootCmd.AddCommand(statusCmd)
}

func statusAction(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(config.Overrides{})
	if err != nil {
		return err
	}
	src, err := buildSource(cfg)
	if err != nil {
		return fmt.Errorf("create source: %w", err)
	}

	db, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = db.Close() }()

	ctx := cmd.Context()

	var cursors delivery.CursorStore = db
	backend := config.CursorStoreSQLite
	if cfg.Delivery.CursorStore == config.CursorStoreSlack {
		sl, err := buildSlack(cfg)
		if err != nil {
			return fmt.Errorf("create slack client: %w", err)
		}
		if sl != nil && cfg.Slack.Channel != "" {
			cursors = sl
			backend = config.CursorStoreSlack
		}
	}

	fmt.Printf("Mode:    %s (%s, %s order)\n", cfg.Mode, src.EventType(), src.Ordering())
	fmt.Printf("Channel: %s\n", orDash(cfg.Slack.Channel))

	cursor, err := cursors.LastCursor(ctx, cfg.Slack.Channel, src.EventType())
	if err != nil {
		return fmt.Errorf("resolve cursor: %w", err)
	}
	fmt.Printf("Cursor:  %s (from %s)\n", cursor, backend)

	history, err := db.History(ctx, cfg.Slack.Channel, statusLimit)
	if err != nil {
		return fmt.Errorf("read journal: %w", err)
	}
	if len(history) == 0 {
		fmt.Println("No deliveries journaled yet.")
		return nil
	}

	fmt.Printf("\nRecent deliveries (%d):\n", len(history))
	for _, d := range history {
		fmt.Printf("  %-20s %-10s %-22s %s\n",
			d.Tag().Cursor(), d.Trigger, d.EventType, humanize.Time(d.DeliveredAt))
	}
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
