package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/postcast/internal/config"
	"github.com/ppiankov/postcast/internal/store"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check configuration, credentials and the local store",
	RunE:  doctorAction,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func doctorAction(cmd *cobra.Command, _ []string) error {
	ok := true

	// Config file
	if _, err := os.Stat(configPath); err != nil {
		printInfo("%s not found, using environment only", configPath)
	} else {
		printCheck(true, "config file %s", configPath)
	}

	cfg, err := loadConfig(config.Overrides{})
	if err != nil {
		printCheck(false, "config: %v", err)
		return errors.New("some checks failed")
	}
	printCheck(true, "config (%s)", cfg.String())

	// Source credentials
	switch cfg.Mode {
	case config.ModeWiki:
		if cfg.Wiki.Username == "" || cfg.Wiki.Token == "" {
			printCheck(false, "confluence credentials (%s, %s)", cfg.Wiki.UsernameEnv, cfg.Wiki.TokenEnv)
			ok = false
		} else {
			printCheck(true, "confluence credentials for %s", cfg.Wiki.Username)
		}
	case config.ModeFeed:
		printCheck(true, "feed %s (timezone %s)", cfg.Feed.URL, cfg.Feed.Timezone)
	}

	// Summarizer
	if _, err := buildSummarizer(cfg); err != nil {
		printCheck(false, "%v", err)
		ok = false
	} else {
		printCheck(true, "summarizer %s (%s)", cfg.Summarize.Provider, cfg.Summarize.Model)
	}

	// Redaction
	if patterns, err := redactPatterns(cfg); err != nil {
		printCheck(false, "privacy: %v", err)
		ok = false
	} else if len(patterns) > 0 {
		printCheck(true, "redaction (%d patterns)", len(patterns))
	}

	// Slack
	if cfg.Slack.Channel == "" {
		printCheck(false, "slack channel (set slack.channel or %s)", config.EnvSlackChannel)
		ok = false
	} else {
		printCheck(true, "slack channel %s", cfg.Slack.Channel)
	}
	sl, err := buildSlack(cfg)
	switch {
	case err != nil:
		printCheck(false, "slack client: %v", err)
		ok = false
	case sl == nil:
		printCheck(false, "slack token (%s)", cfg.Slack.TokenEnv)
		ok = false
	default:
		identity, err := sl.Identity(cmd.Context())
		if err != nil {
			printCheck(false, "slack auth: %v", err)
			ok = false
		} else {
			printCheck(true, "slack auth as %s", identity)
		}
	}

	// Database
	db, err := store.Open(cfg.Storage.Path)
	if err != nil {
		printCheck(false, "database: %v", err)
		ok = false
	} else {
		_ = db.Close()
		printCheck(true, "database %s (cursor store: %s)", cfg.Storage.Path, cfg.Delivery.CursorStore)
	}

	if !ok {
		return errors.New("some checks failed")
	}
	return nil
}

func printCheck(pass bool, format string, args ...any) {
	mark := "FAIL"
	if pass {
		mark = " OK "
	}
	fmt.Printf("[%s] %s\n", mark, fmt.Sprintf(format, args...))
}

func printInfo(format string, args ...any) {
	fmt.Printf("[INFO] %s\n", fmt.Sprintf(format, args...))
}
