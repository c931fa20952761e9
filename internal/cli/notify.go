package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ppiankov/postcast/internal/config"
)

var notifyCmd = &cobra.Command{
	Use:   "notify <text>",
	Short: "Post a plain notification to the configured channel",
	Args:  cobra.MinimumNArgs(1),
	RunE:  notifyAction,
}

func init() {
	rootCmd.AddCommand(notifyCmd)
}

func notifyAction(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(config.Overrides{NoSource: true})
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	text := strings.TrimSpace(strings.Join(args, " "))
	if text == "" {
		return errors.New("notify: text is empty")
	}
	if cfg.Slack.Channel == "" {
		return fmt.Errorf("slack.channel: required (or set %s)", config.EnvSlackChannel)
	}
	sl, err := buildSlack(cfg)
	if err != nil {
		return fmt.Errorf("create slack client: %w", err)
	}
	if sl == nil {
		return fmt.Errorf("slack: %s is not set", cfg.Slack.TokenEnv)
	}

	id, err := sl.Notify(cmd.Context(), cfg.Slack.Channel, text)
	if err != nil {
		logFailure(log, "notify failed", err)
		return err
	}
	log.Info("notification posted", "id", id, "channel", cfg.Slack.Channel)
	fmt.Printf("Posted notification %s.\n", id)
	return nil
}
