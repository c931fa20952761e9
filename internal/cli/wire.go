package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/postcast/internal/apierr"
	"github.com/ppiankov/postcast/internal/config"
	"github.com/ppiankov/postcast/internal/delivery"
	"github.com/ppiankov/postcast/internal/logger"
	"github.com/ppiankov/postcast/internal/notify"
	"github.com/ppiankov/postcast/internal/privacy"
	"github.com/ppiankov/postcast/internal/source"
	"github.com/ppiankov/postcast/internal/store"
	"github.com/ppiankov/postcast/internal/summarize"
)

const dryRunChannel = "dry-run"

// pipeline holds everything one delivery run talks to.
type pipeline struct {
	cfg     *config.Config
	log     *logger.Logger
	src     source.Source
	db      *store.Store
	coord   *delivery.Coordinator
	channel string
	dryRun  bool
}

func loadConfig(o config.Overrides) (*config.Config, error) {
	if o.LogLevel == "" {
		o.LogLevel = logLevel
	}
	cfg, err := config.LoadWithOverrides(configPath, o)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *logger.Logger {
	return logger.New(cfg.Logging.Level, cfg.Logging.Format).With("mode", cfg.Mode)
}

func buildSource(cfg *config.Config) (source.Source, error) {
	switch cfg.Mode {
	case config.ModeWiki:
		ws, err := source.NewWiki(cfg.Wiki.BaseURL, cfg.Wiki.Username, cfg.Wiki.Token)
		if err != nil {
			return nil, err
		}
		return ws, nil
	case config.ModeFeed:
		fs, err := source.NewFeed(cfg.Feed.URL, cfg.Feed.ContentSelector, cfg.Feed.DropLines)
		if err != nil {
			return nil, err
		}
		return fs, nil
	default:
		return nil, config.ErrUnknownMode
	}
}

func buildSummarizer(cfg *config.Config) (summarize.Summarizer, error) {
	if cfg.Summarize.APIKey == "" {
		return nil, fmt.Errorf("summarizer: %s is not set", cfg.Summarize.APIKeyEnv)
	}
	return summarize.New(summarize.Options{
		Provider:    cfg.Summarize.Provider,
		APIKey:      cfg.Summarize.APIKey,
		Model:       cfg.Summarize.Model,
		Endpoint:    cfg.Summarize.Endpoint,
		MaxTokens:   cfg.Summarize.MaxTokens,
		Temperature: *cfg.Summarize.Temperature,
		Timeout:     cfg.Summarize.Timeout.Duration,
	})
}

// buildSlack returns nil without error when no token is configured; callers
// that must post check for that themselves.
func buildSlack(cfg *config.Config) (*notify.Slack, error) {
	if cfg.Slack.Token == "" {
		return nil, nil
	}
	return notify.NewSlack(cfg.Slack.Token, notify.SlackOptions{
		APIURL:       cfg.Slack.APIURL,
		HistoryLimit: cfg.Slack.HistoryLimit,
	})
}

func redactPatterns(cfg *config.Config) ([]*regexp.Regexp, error) {
	if !cfg.Privacy.Redact.Enabled || len(cfg.Privacy.Redact.Patterns) == 0 {
		return nil, nil
	}
	return privacy.Compile(cfg.Privacy.Redact.Patterns)
}

// openPipeline wires source, summarizer, sink and cursor store for cfg. In
// dry-run mode messages go to stdout and nothing is journaled.
func openPipeline(cfg *config.Config, log *logger.Logger, dryRun bool) (*pipeline, error) {
	src, err := buildSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("create source: %w", err)
	}
	sum, err := buildSummarizer(cfg)
	if err != nil {
		return nil, fmt.Errorf("create summarizer: %w", err)
	}
	patterns, err := redactPatterns(cfg)
	if err != nil {
		return nil, err
	}

	channel := cfg.Slack.Channel
	if channel == "" {
		if !dryRun {
			return nil, fmt.Errorf("slack.channel: required (or set %s)", config.EnvSlackChannel)
		}
		channel = dryRunChannel
	}

	sl, err := buildSlack(cfg)
	if err != nil {
		return nil, fmt.Errorf("create slack client: %w", err)
	}
	if sl == nil && !dryRun {
		return nil, fmt.Errorf("slack: %s is not set", cfg.Slack.TokenEnv)
	}

	db, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	var sink delivery.Sink = sl
	var recorder delivery.Recorder = db
	if dryRun {
		sink = notify.NewConsole(os.Stdout)
		recorder = nil
	}

	var cursors delivery.CursorStore = db
	if cfg.Delivery.CursorStore == config.CursorStoreSlack {
		if sl != nil {
			cursors = sl
		} else {
			log.Warn("no slack token, reading the cursor from the local journal")
		}
	}

	coord, err := delivery.New(src, sum, sink, cursors, recorder, delivery.Options{
		Channel:     channel,
		Instruction: cfg.Instruction(),
		PageSize:    cfg.PageSize(),
		FirstRun:    delivery.FirstRun(cfg.Delivery.FirstRun),
		Location:    cfg.Location(),
		Redact:      patterns,
	}, log)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &pipeline{
		cfg:     cfg,
		log:     log,
		src:     src,
		db:      db,
		coord:   coord,
		channel: channel,
		dryRun:  dryRun,
	}, nil
}

func (p *pipeline) Close() error {
	return p.db.Close()
}

// locked runs fn while holding the run lock for the pipeline's channel and
// event type. A lock held by someone else fails with store.ErrLocked.
func (p *pipeline) locked(ctx context.Context, eventType string, fn func(context.Context) error) error {
	key := store.LockKey(p.channel, eventType)
	owner := uuid.NewString()
	if err := p.db.AcquireLock(ctx, key, owner, p.cfg.Delivery.LockTTL.Duration); err != nil {
		return fmt.Errorf("acquire lock %s: %w", key, err)
	}
	p.log.Debug("lock acquired", "key", key, "owner", owner)
	defer func() {
		if err := p.db.ReleaseLock(context.WithoutCancel(ctx), key, owner); err != nil {
			p.log.Warn("release lock", "key", key, "error", err)
		}
	}()
	return fn(ctx)
}

// prune trims the local journal after a successful run. Failures only warn.
func (p *pipeline) prune(ctx context.Context) {
	if p.dryRun || p.cfg.Storage.RetainDays <= 0 {
		return
	}
	n, err := p.db.PruneOld(ctx, p.cfg.Storage.RetainDays)
	if err != nil {
		p.log.Warn("prune journal", "error", err)
		return
	}
	if n > 0 {
		p.log.Info("pruned journal", "rows", n, "retain_days", p.cfg.Storage.RetainDays)
	}
}

// withTimeout bounds a whole run.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// logFailure logs err with whatever upstream detail it carries.
func logFailure(log *logger.Logger, msg string, err error) {
	args := []any{"error", err}
	var te *apierr.TransportError
	if errors.As(err, &te) {
		args = append(args, "service", te.Service, "op", te.Op, "status", te.StatusCode, "payload", te.Payload)
	}
	var pe *delivery.PartialError
	if errors.As(err, &pe) {
		args = append(args, "delivered", pe.Delivered, "remaining", pe.Remaining, "failed_item", pe.ItemID)
	}
	log.Error(msg, args...)
}
