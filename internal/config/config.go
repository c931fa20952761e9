package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigFile     = "postcast.yaml"
	DefaultStoragePath    = ".postcast/postcast.db"
	DefaultWikiPageSize   = 20
	DefaultFeedPageSize   = 50
	DefaultHistoryLimit   = 200
	DefaultTimezone       = "UTC"
	DefaultProvider       = "openai"
	DefaultOpenAIModel    = "gpt-3.5-turbo"
	DefaultAnthropicModel = "claude-3-5-haiku-latest"
	DefaultMaxTokens      = 500
	DefaultTemperature    = 0.8
	DefaultFirstRun       = FirstRunLatest
	DefaultCursorStore    = CursorStoreSlack
	DefaultRunTimeout     = 10 * time.Minute
	DefaultLockTTL        = 15 * time.Minute
	DefaultSummaryTimeout = 60 * time.Second
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "auto"
	DefaultFeedSelector   = "body > main > div > div:nth-of-type(2)"

	DateLayout = "2006-01-02"
)

// Modes select the content source.
const (
	ModeWiki = "wiki"
	ModeFeed = "feed"
)

// First-run policies for id-ordered sources.
const (
	FirstRunLatest   = "latest"
	FirstRunAll      = "all"
	FirstRunBaseline = "baseline"
)

// Cursor store backends.
const (
	CursorStoreSlack  = "slack"
	CursorStoreSQLite = "sqlite"
)

// Env var names read by default.
const (
	EnvMode            = "MODE"
	EnvBaseURL         = "BASE_URL"
	EnvFeedURL         = "AZURE_RSS_URL"
	EnvSlackChannel    = "SLACK_CHANNEL"
	EnvWikiStatement   = "OPENAI_STATEMENT"
	EnvFeedStatement   = "CUSTOM_AZURE_STATEMENT"
	EnvRequestedID     = "REQUESTED_BLOGPOST_ID"
	EnvSpecificDate    = "SPECIFIC_DATE"
	EnvLogLevel        = "LOG_LEVEL"
	EnvWikiUsername    = "CONFLUENCE_USERNAME"
	EnvWikiToken       = "CONFLUENCE_TOKEN"
	EnvOpenAIKey       = "OPENAI_API_KEY"
	EnvAnthropicKey    = "ANTHROPIC_API_KEY"
	EnvSlackToken      = "SLACK_TOKEN"
	defaultFeedFilters = "Additional resources:|Related Products"
)

// ErrUnknownMode is returned when no recognized content source is selected.
var ErrUnknownMode = errors.New("mode: must be one of wiki, feed")

// Duration wraps time.Duration for YAML unmarshaling from strings like "10m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

type Config struct {
	Mode      string          `yaml:"mode"`
	Wiki      WikiConfig      `yaml:"wiki"`
	Feed      FeedConfig      `yaml:"feed"`
	Summarize SummarizeConfig `yaml:"summarize"`
	Slack     SlackConfig     `yaml:"slack"`
	Delivery  DeliveryConfig  `yaml:"delivery"`
	Storage   StorageConfig   `yaml:"storage"`
	Privacy   PrivacyConfig   `yaml:"privacy"`
	Logging   LoggingConfig   `yaml:"logging"`

	// One-off request parameters, normally from env or flags.
	Request RequestConfig `yaml:"-"`
}

type WikiConfig struct {
	BaseURL     string `yaml:"base_url"`
	UsernameEnv string `yaml:"username_env"`
	TokenEnv    string `yaml:"token_env"`
	PageSize    int    `yaml:"page_size"`
	Instruction string `yaml:"instruction"`

	// Resolved from env vars at load time.
	Username string `yaml:"-"`
	Token    string `yaml:"-"`
}

type FeedConfig struct {
	URL             string   `yaml:"url"`
	PageSize        int      `yaml:"page_size"`
	ContentSelector string   `yaml:"content_selector"`
	DropLines       []string `yaml:"drop_lines"`
	Timezone        string   `yaml:"timezone"`
	Instruction     string   `yaml:"instruction"`
}

type SummarizeConfig struct {
	Provider    string   `yaml:"provider"`
	Model       string   `yaml:"model"`
	APIKeyEnv   string   `yaml:"api_key_env"`
	Endpoint    string   `yaml:"endpoint"`
	MaxTokens   int      `yaml:"max_tokens"`
	Temperature *float64 `yaml:"temperature"` // nil means DefaultTemperature
	Timeout     Duration `yaml:"timeout"`

	// Resolved from env var at load time.
	APIKey string `yaml:"-"`
}

type SlackConfig struct {
	TokenEnv     string `yaml:"token_env"`
	Channel      string `yaml:"channel"`
	HistoryLimit int    `yaml:"history_limit"`
	APIURL       string `yaml:"api_url"`

	// Resolved from env var at load time.
	Token string `yaml:"-"`
}

type DeliveryConfig struct {
	FirstRun    string   `yaml:"first_run"`
	CursorStore string   `yaml:"cursor_store"`
	Timeout     Duration `yaml:"timeout"`
	LockTTL     Duration `yaml:"lock_ttl"`
}

type StorageConfig struct {
	Path       string `yaml:"path"`
	RetainDays int    `yaml:"retain_days"` // 0 keeps the journal forever
}

type PrivacyConfig struct {
	Redact RedactConfig `yaml:"redact"`
}

type RedactConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Patterns []string `yaml:"patterns"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type RequestConfig struct {
	ItemID string // force-summarize this item, bypassing new-item detection
	Date   string // YYYY-MM-DD, replaces the resolved cursor for feed mode
}

// Overrides are command-line values that win over both the file and env.
type Overrides struct {
	Mode     string
	Date     string
	LogLevel string

	// NoSource skips the mode and source checks for commands that only post.
	NoSource bool
}

// Load reads the YAML config at path (a missing file is fine: env-only
// setups are common under schedulers), overlays env vars, applies defaults,
// and validates.
func Load(path string) (*Config, error) {
	return LoadWithOverrides(path, Overrides{})
}

// LoadWithOverrides is Load with flag values applied after the env overlay.
func LoadWithOverrides(path string, o Overrides) (*Config, error) {
	var cfg Config

	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// env-only configuration
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	applyEnvOverrides(&cfg)
	setIfNotEmpty(&cfg.Mode, o.Mode)
	setIfNotEmpty(&cfg.Request.Date, o.Date)
	setIfNotEmpty(&cfg.Logging.Level, o.LogLevel)
	applyDefaults(&cfg)
	resolveEnv(&cfg)

	if err := validate(&cfg, !o.NoSource); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	setFromEnv(&cfg.Mode, EnvMode)
	setFromEnv(&cfg.Wiki.BaseURL, EnvBaseURL)
	setFromEnv(&cfg.Feed.URL, EnvFeedURL)
	setFromEnv(&cfg.Slack.Channel, EnvSlackChannel)
	setFromEnv(&cfg.Wiki.Instruction, EnvWikiStatement)
	setFromEnv(&cfg.Feed.Instruction, EnvFeedStatement)
	setFromEnv(&cfg.Request.ItemID, EnvRequestedID)
	setFromEnv(&cfg.Request.Date, EnvSpecificDate)
	setFromEnv(&cfg.Logging.Level, EnvLogLevel)
}

func setFromEnv(dst *string, key string) {
	setIfNotEmpty(dst, os.Getenv(key))
}

func setIfNotEmpty(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func applyDefaults(cfg *Config) {
	cfg.Mode = strings.ToLower(strings.TrimSpace(cfg.Mode))
	cfg.Wiki.BaseURL = strings.TrimRight(cfg.Wiki.BaseURL, "/")

	if cfg.Wiki.UsernameEnv == "" {
		cfg.Wiki.UsernameEnv = EnvWikiUsername
	}
	if cfg.Wiki.TokenEnv == "" {
		cfg.Wiki.TokenEnv = EnvWikiToken
	}
	if cfg.Wiki.PageSize == 0 {
		cfg.Wiki.PageSize = DefaultWikiPageSize
	}
	if cfg.Wiki.Instruction == "" {
		cfg.Wiki.Instruction = DefaultWikiInstruction
	}

	if cfg.Feed.PageSize == 0 {
		cfg.Feed.PageSize = DefaultFeedPageSize
	}
	if cfg.Feed.ContentSelector == "" {
		cfg.Feed.ContentSelector = DefaultFeedSelector
	}
	if cfg.Feed.DropLines == nil {
		cfg.Feed.DropLines = strings.Split(defaultFeedFilters, "|")
	}
	if cfg.Feed.Timezone == "" {
		cfg.Feed.Timezone = DefaultTimezone
	}
	if cfg.Feed.Instruction == "" {
		cfg.Feed.Instruction = DefaultFeedInstruction
	}

	if cfg.Summarize.Provider == "" {
		cfg.Summarize.Provider = DefaultProvider
	}
	if cfg.Summarize.Model == "" {
		if cfg.Summarize.Provider == "anthropic" {
			cfg.Summarize.Model = DefaultAnthropicModel
		} else {
			cfg.Summarize.Model = DefaultOpenAIModel
		}
	}
	if cfg.Summarize.APIKeyEnv == "" {
		if cfg.Summarize.Provider == "anthropic" {
			cfg.Summarize.APIKeyEnv = EnvAnthropicKey
		} else {
			cfg.Summarize.APIKeyEnv = EnvOpenAIKey
		}
	}
	if cfg.Summarize.MaxTokens == 0 {
		cfg.Summarize.MaxTokens = DefaultMaxTokens
	}
	if cfg.Summarize.Temperature == nil {
		t := DefaultTemperature
		cfg.Summarize.Temperature = &t
	}
	if cfg.Summarize.Timeout.Duration == 0 {
		cfg.Summarize.Timeout.Duration = DefaultSummaryTimeout
	}

	if cfg.Slack.TokenEnv == "" {
		cfg.Slack.TokenEnv = EnvSlackToken
	}
	if cfg.Slack.HistoryLimit == 0 {
		cfg.Slack.HistoryLimit = DefaultHistoryLimit
	}

	if cfg.Delivery.FirstRun == "" {
		cfg.Delivery.FirstRun = DefaultFirstRun
	}
	if cfg.Delivery.CursorStore == "" {
		cfg.Delivery.CursorStore = DefaultCursorStore
	}
	if cfg.Delivery.Timeout.Duration == 0 {
		cfg.Delivery.Timeout.Duration = DefaultRunTimeout
	}
	if cfg.Delivery.LockTTL.Duration == 0 {
		cfg.Delivery.LockTTL.Duration = DefaultLockTTL
	}

	if cfg.Storage.Path == "" {
		cfg.Storage.Path = DefaultStoragePath
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLogLevel
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = DefaultLogFormat
	}
}

func resolveEnv(cfg *Config) {
	cfg.Wiki.Username = os.Getenv(cfg.Wiki.UsernameEnv)
	cfg.Wiki.Token = os.Getenv(cfg.Wiki.TokenEnv)
	cfg.Summarize.APIKey = os.Getenv(cfg.Summarize.APIKeyEnv)
	cfg.Slack.Token = os.Getenv(cfg.Slack.TokenEnv)
}

func validate(cfg *Config, needSource bool) error {
	if needSource {
		if err := validateSource(cfg); err != nil {
			return err
		}
	}

	if _, err := time.LoadLocation(cfg.Feed.Timezone); err != nil {
		return fmt.Errorf("feed.timezone: %w", err)
	}

	switch cfg.Summarize.Provider {
	case "openai", "anthropic":
		// valid
	default:
		return fmt.Errorf("summarize.provider: unknown provider %q (want openai or anthropic)", cfg.Summarize.Provider)
	}

	switch cfg.Delivery.FirstRun {
	case FirstRunLatest, FirstRunAll, FirstRunBaseline:
		// valid
	default:
		return fmt.Errorf("delivery.first_run: unknown policy %q (want latest, all, or baseline)", cfg.Delivery.FirstRun)
	}

	switch cfg.Delivery.CursorStore {
	case CursorStoreSlack, CursorStoreSQLite:
		// valid
	default:
		return fmt.Errorf("delivery.cursor_store: unknown store %q (want slack or sqlite)", cfg.Delivery.CursorStore)
	}

	if cfg.Slack.HistoryLimit < 1 || cfg.Slack.HistoryLimit > 999 {
		return fmt.Errorf("slack.history_limit: must be between 1 and 999, got %d", cfg.Slack.HistoryLimit)
	}

	if t := cfg.Summarize.Temperature; t != nil && (*t < 0 || *t > 2) {
		return fmt.Errorf("summarize.temperature: must be between 0 and 2, got %v", *t)
	}

	if cfg.Storage.RetainDays < 0 {
		return fmt.Errorf("storage.retain_days: must not be negative, got %d", cfg.Storage.RetainDays)
	}

	if cfg.Request.Date != "" {
		if _, err := time.Parse(DateLayout, cfg.Request.Date); err != nil {
			return fmt.Errorf("date: %q is not YYYY-MM-DD: %w", cfg.Request.Date, err)
		}
	}

	return nil
}

func validateSource(cfg *Config) error {
	switch cfg.Mode {
	case ModeWiki:
		if cfg.Wiki.BaseURL == "" {
			return errors.New("wiki.base_url: required in wiki mode (or set BASE_URL)")
		}
		if cfg.Wiki.PageSize < 1 {
			return fmt.Errorf("wiki.page_size: must be at least 1, got %d", cfg.Wiki.PageSize)
		}
	case ModeFeed:
		if cfg.Feed.URL == "" {
			return errors.New("feed.url: required in feed mode (or set AZURE_RSS_URL)")
		}
		if cfg.Feed.PageSize < 1 {
			return fmt.Errorf("feed.page_size: must be at least 1, got %d", cfg.Feed.PageSize)
		}
	default:
		if cfg.Mode == "" {
			return ErrUnknownMode
		}
		return fmt.Errorf("%w (got %q)", ErrUnknownMode, cfg.Mode)
	}
	return nil
}

// Location returns the timezone used to group feed items by calendar day.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Feed.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Instruction returns the summarization instruction for the active mode.
func (c *Config) Instruction() string {
	if c.Mode == ModeFeed {
		return c.Feed.Instruction
	}
	return c.Wiki.Instruction
}

// PageSize returns the fetch page size for the active mode.
func (c *Config) PageSize() int {
	if c.Mode == ModeFeed {
		return c.Feed.PageSize
	}
	return c.Wiki.PageSize
}

// String renders the non-secret parts of the config for diagnostics.
func (c *Config) String() string {
	return "mode=" + c.Mode +
		" channel=" + c.Slack.Channel +
		" provider=" + c.Summarize.Provider +
		" cursor_store=" + c.Delivery.CursorStore +
		" page_size=" + strconv.Itoa(c.PageSize())
}
