// Package config provides configuration loading and validation for the CLI and server.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"

	"github.com/jonathan/scout-agent/internal/archive"
	"github.com/jonathan/scout-agent/internal/batch"
	"github.com/jonathan/scout-agent/internal/catalog"
	"github.com/jonathan/scout-agent/internal/compose"
	"github.com/jonathan/scout-agent/internal/fetch"
	"github.com/jonathan/scout-agent/internal/llm"
	"github.com/jonathan/scout-agent/internal/packing"
	"github.com/jonathan/scout-agent/internal/store"
	"github.com/jonathan/scout-agent/internal/store/sheet"
)

// Modes
const (
	ModeInMail = "inmail"
	ModeScout  = "scout"
)

// Store backends
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StoreSheet    = "sheet"
	StorePostgres = "postgres"
)

// Lock backends
const (
	LockLocal    = "local"
	LockRedis    = "redis"
	LockPostgres = "postgres"
)

// Archive backends
const (
	ArchiveNone  = ""
	ArchiveLocal = "local"
	ArchiveS3    = "s3"
)

// Sheet layouts
const (
	LayoutInMail        = "inmail"
	LayoutFriendRequest = "friend_request"
)

// DefaultLockKey names the run lock in Redis and Postgres.
const DefaultLockKey = "scout-agent:run"

// ErrEmptyPath is returned by LoadConfig for an empty path.
var ErrEmptyPath = errors.New("config path is empty")

// Duration is a time.Duration written as "90s" or "2m" in config files.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if s == "" {
		d.Duration = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// StoreConfig selects the row store
type StoreConfig struct {
	Backend string        `json:"backend,omitempty" toml:"backend" validate:"omitempty,oneof=memory sqlite sheet postgres"`
	Path    string        `json:"path,omitempty" toml:"path"`       // sqlite file or xlsx workbook
	Sheet   string        `json:"sheet,omitempty" toml:"sheet"`     // worksheet name for the sheet backend
	Layout  string        `json:"layout,omitempty" toml:"layout" validate:"omitempty,oneof=inmail friend_request"`
	Columns *sheet.Layout `json:"columns,omitempty" toml:"columns"` // overrides Layout when set
	Labels  store.Labels  `json:"labels,omitempty" toml:"labels"`
}

// CatalogConfig points at the job catalog used as packer extras
type CatalogConfig struct {
	Path    string          `json:"path,omitempty" toml:"path"`
	Options catalog.Options `json:"options,omitempty" toml:"options"`
}

// RetryConfig mirrors fetch.Policy with text durations
type RetryConfig struct {
	MaxRetries       int      `json:"max_retries,omitempty" toml:"max_retries" validate:"gte=0"`
	BaseDelay        Duration `json:"base_delay,omitempty" toml:"base_delay"`
	MaxDelay         Duration `json:"max_delay,omitempty" toml:"max_delay"`
	MaxRateLimitWait Duration `json:"max_rate_limit_wait,omitempty" toml:"max_rate_limit_wait"`
	Jitter           Duration `json:"jitter,omitempty" toml:"jitter"`
	RateLimitBudget  int      `json:"rate_limit_budget,omitempty" toml:"rate_limit_budget" validate:"gte=0"`
}

// Policy converts the retry settings to a fetch.Policy.
func (r RetryConfig) Policy() fetch.Policy {
	return fetch.Policy{
		MaxRetries:       r.MaxRetries,
		BaseDelay:        r.BaseDelay.Duration,
		MaxDelay:         r.MaxDelay.Duration,
		MaxRateLimitWait: r.MaxRateLimitWait.Duration,
		Jitter:           r.Jitter.Duration,
		RateLimitBudget:  r.RateLimitBudget,
	}
}

// MatchingConfig configures the matching service and its identity token
type MatchingConfig struct {
	URL            string `json:"url,omitempty" toml:"url" validate:"omitempty,url"`
	ServiceAccount string `json:"service_account,omitempty" toml:"service_account"`
	Audience       string `json:"audience,omitempty" toml:"audience"`
	AccessToken    string `json:"access_token,omitempty" toml:"access_token"` // static OAuth token instead of default credentials
	IDToken        string `json:"id_token,omitempty" toml:"id_token"`         // pre-minted identity token, skips the IAM exchange
	IAMEndpoint    string `json:"iam_endpoint,omitempty" toml:"iam_endpoint" validate:"omitempty,url"`
}

// LLMConfig configures the generative service
type LLMConfig struct {
	Enabled         bool    `json:"enabled,omitempty" toml:"enabled"`
	Provider        string  `json:"provider,omitempty" toml:"provider" validate:"omitempty,oneof=gemini gemini-rest"`
	APIKey          string  `json:"api_key,omitempty" toml:"api_key"`
	Endpoint        string  `json:"endpoint,omitempty" toml:"endpoint" validate:"omitempty,url"`
	Model           string  `json:"model,omitempty" toml:"model"`           // overrides the standard tier
	LiteModel       string  `json:"lite_model,omitempty" toml:"lite_model"` // overrides the lite tier
	Temperature     float32 `json:"temperature,omitempty" toml:"temperature" validate:"gte=0,lte=2"`
	MaxOutputTokens int32   `json:"max_output_tokens,omitempty" toml:"max_output_tokens" validate:"gte=0"`
}

// ClientConfig returns the llm configuration with overrides applied.
func (c LLMConfig) ClientConfig() *llm.Config {
	cfg := llm.DefaultConfig()
	if c.Provider != "" {
		cfg.Provider = llm.Provider(c.Provider)
	}
	if c.Endpoint != "" {
		cfg.Endpoint = c.Endpoint
	}
	if c.Model != "" {
		cfg = cfg.WithModel(llm.TierStandard, c.Model)
	}
	if c.LiteModel != "" {
		cfg = cfg.WithModel(llm.TierLite, c.LiteModel)
	}
	if c.Temperature > 0 {
		cfg.Temperature = c.Temperature
	}
	if c.MaxOutputTokens > 0 {
		cfg.MaxOutputTokens = c.MaxOutputTokens
	}
	return cfg
}

// InMailConfig configures the in-mail composer
type InMailConfig struct {
	Template     string `json:"template,omitempty" toml:"template"` // empty uses the embedded template
	MaxPositions int    `json:"max_positions,omitempty" toml:"max_positions" validate:"gte=0"`
}

// RunConfig bounds a batch run
type RunConfig struct {
	MaxItems     int      `json:"max_items,omitempty" toml:"max_items" validate:"gte=0"`
	Deadline     Duration `json:"deadline,omitempty" toml:"deadline"`
	PacingBase   Duration `json:"pacing_base,omitempty" toml:"pacing_base"`
	PacingJitter Duration `json:"pacing_jitter,omitempty" toml:"pacing_jitter"`
}

// Options returns the per-run options.
func (r RunConfig) Options() batch.Options {
	return batch.Options{MaxItems: r.MaxItems, Deadline: r.Deadline.Duration}
}

// Pacing returns the pause between rows.
func (r RunConfig) Pacing() batch.Pacing {
	return batch.Pacing{Base: r.PacingBase.Duration, Jitter: r.PacingJitter.Duration}
}

// LockConfig selects the run lock
type LockConfig struct {
	Backend   string   `json:"backend,omitempty" toml:"backend" validate:"omitempty,oneof=local redis postgres"`
	Key       string   `json:"key,omitempty" toml:"key"`
	TTL       Duration `json:"ttl,omitempty" toml:"ttl"`
	RedisAddr string   `json:"redis_addr,omitempty" toml:"redis_addr"`
}

// ArchiveConfig selects where raw responses are kept
type ArchiveConfig struct {
	Backend string           `json:"backend,omitempty" toml:"backend" validate:"omitempty,oneof=local s3"`
	Dir     string           `json:"dir,omitempty" toml:"dir"`
	S3      archive.S3Config `json:"s3,omitempty" toml:"s3"`
}

// ServerConfig configures the HTTP trigger surface
type ServerConfig struct {
	Addr         string   `json:"addr,omitempty" toml:"addr"`
	JWTSecret    string   `json:"jwt_secret,omitempty" toml:"jwt_secret"` // empty disables bearer auth on POST /runs
	RateLimit    int      `json:"rate_limit,omitempty" toml:"rate_limit" validate:"gte=0"`
	RateWindow   Duration `json:"rate_window,omitempty" toml:"rate_window"`
	RunTimeout   Duration `json:"run_timeout,omitempty" toml:"run_timeout"`
	ReadTimeout  Duration `json:"read_timeout,omitempty" toml:"read_timeout"`
	WriteTimeout Duration `json:"write_timeout,omitempty" toml:"write_timeout"`
}

// Config represents the configuration loaded from a JSON or TOML file.
// Zero values are filled by MergeWithDefaults.
type Config struct {
	Mode        string               `json:"mode,omitempty" toml:"mode" validate:"omitempty,oneof=inmail scout"`
	DatabaseURL string               `json:"database_url,omitempty" toml:"database_url"`
	Store       StoreConfig          `json:"store" toml:"store"`
	Catalog     CatalogConfig        `json:"catalog" toml:"catalog"`
	Packing     packing.Limits       `json:"packing" toml:"packing"`
	Retry       RetryConfig          `json:"retry" toml:"retry"`
	Matching    MatchingConfig       `json:"matching" toml:"matching"`
	LLM         LLMConfig            `json:"llm" toml:"llm"`
	Sender      compose.Sender       `json:"sender" toml:"sender"`
	Note        compose.NoteTemplate `json:"note" toml:"note"`
	InMail      InMailConfig         `json:"inmail" toml:"inmail"`
	Run         RunConfig            `json:"run" toml:"run"`
	Lock        LockConfig           `json:"lock" toml:"lock"`
	Archive     ArchiveConfig        `json:"archive" toml:"archive"`
	Server      ServerConfig         `json:"server" toml:"server"`
}

// DefaultMaxItems caps the rows attempted per run unless configured otherwise.
const DefaultMaxItems = 15

// Defaults returns the built-in configuration.
func Defaults() Config {
	policy := fetch.DefaultPolicy()
	pacing := batch.DefaultPacing()
	return Config{
		Mode: ModeInMail,
		Store: StoreConfig{
			Backend: StoreSheet,
			Path:    "candidates.xlsx",
			Sheet:   "Sheet1",
			Labels:  store.SpreadsheetLabels(),
		},
		Catalog: CatalogConfig{Options: catalog.DefaultOptions()},
		Packing: packing.DefaultLimits(),
		Retry: RetryConfig{
			MaxRetries:       policy.MaxRetries,
			BaseDelay:        Duration{policy.BaseDelay},
			MaxDelay:         Duration{policy.MaxDelay},
			MaxRateLimitWait: Duration{policy.MaxRateLimitWait},
			Jitter:           Duration{policy.Jitter},
			RateLimitBudget:  policy.RateLimitBudget,
		},
		Note:   compose.DefaultNoteTemplate(),
		InMail: InMailConfig{MaxPositions: batch.DefaultInMailPositions},
		Run: RunConfig{
			MaxItems:     DefaultMaxItems,
			Deadline:     Duration{5*time.Minute + 30*time.Second},
			PacingBase:   Duration{pacing.Base},
			PacingJitter: Duration{pacing.Jitter},
		},
		Lock: LockConfig{Backend: LockLocal, Key: DefaultLockKey, TTL: Duration{10 * time.Minute}},
		Server: ServerConfig{
			Addr:         ":8080",
			RateLimit:    10,
			RateWindow:   Duration{time.Hour},
			RunTimeout:   Duration{10 * time.Minute},
			ReadTimeout:  Duration{30 * time.Second},
			WriteTimeout: Duration{15 * time.Minute},
		},
	}
}

// LoadConfig loads configuration from a JSON or TOML file, chosen by extension.
// Returns an error if the file cannot be read or parsed.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}

	// Resolve path relative to current directory if not absolute
	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config TOML: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	}

	return &cfg, nil
}

// ApplyEnv overrides fields from environment variables that are set.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&c.Mode, "SCOUT_MODE")
	set(&c.DatabaseURL, "DATABASE_URL")
	set(&c.Store.Backend, "SCOUT_STORE")
	set(&c.Store.Path, "SCOUT_STORE_PATH")
	set(&c.Catalog.Path, "SCOUT_CATALOG")
	set(&c.Matching.URL, "MATCH_URL")
	set(&c.Matching.ServiceAccount, "MATCH_SERVICE_ACCOUNT")
	set(&c.Matching.Audience, "MATCH_AUDIENCE")
	set(&c.Matching.AccessToken, "MATCH_ACCESS_TOKEN")
	set(&c.Matching.IDToken, "MATCH_ID_TOKEN")
	set(&c.LLM.APIKey, "GEMINI_API_KEY")
	set(&c.Lock.RedisAddr, "REDIS_ADDR")
	set(&c.Server.Addr, "SCOUT_ADDR")
	set(&c.Server.JWTSecret, "JWT_SECRET")
	set(&c.Archive.S3.Bucket, "SCOUT_ARCHIVE_BUCKET")
}

// Validate checks that the configuration has valid values.
// Struct tags cover ranges and enums; cross-field rules are checked here.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	if err := c.ValidateStore(); err != nil {
		return err
	}

	switch c.Lock.Backend {
	case LockRedis:
		if c.Lock.RedisAddr == "" {
			return fmt.Errorf("config error: lock backend %q requires 'lock.redis_addr'", c.Lock.Backend)
		}
	case LockPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("config error: lock backend %q requires 'database_url'", c.Lock.Backend)
		}
	}

	switch c.Archive.Backend {
	case ArchiveLocal:
		if c.Archive.Dir == "" {
			return fmt.Errorf("config error: archive backend %q requires 'archive.dir'", c.Archive.Backend)
		}
	case ArchiveS3:
		if c.Archive.S3.Bucket == "" {
			return fmt.Errorf("config error: archive backend %q requires 'archive.s3.bucket'", c.Archive.Backend)
		}
	}

	if err := c.Packing.Check(); err != nil {
		return fmt.Errorf("config error: packing: %w", err)
	}

	if c.Mode == ModeScout && c.Matching.URL == "" {
		return fmt.Errorf("config error: mode %q requires 'matching.url'", c.Mode)
	}
	if c.Mode == ModeInMail && c.Matching.URL == "" && !c.LLM.Enabled {
		return fmt.Errorf("config error: mode %q requires 'matching.url' or an enabled 'llm'", c.Mode)
	}
	if c.LLM.Enabled && c.LLM.APIKey == "" {
		return fmt.Errorf("config error: 'llm' is enabled but no API key is set (GEMINI_API_KEY)")
	}
	if c.Matching.ServiceAccount != "" && c.Matching.Audience == "" {
		return fmt.Errorf("config error: 'matching.service_account' requires 'matching.audience'")
	}

	if c.Catalog.Path != "" {
		if _, err := os.Stat(c.Catalog.Path); os.IsNotExist(err) {
			return fmt.Errorf("config error: catalog file not found: %s", c.Catalog.Path)
		}
	}
	if c.InMail.Template != "" {
		if _, err := os.Stat(c.InMail.Template); os.IsNotExist(err) {
			return fmt.Errorf("config error: template file not found: %s", c.InMail.Template)
		}
	}

	return nil
}

// ValidateStore checks only what is needed to open the row store.
func (c *Config) ValidateStore() error {
	if err := validate.Var(c.Store.Backend, "omitempty,oneof=memory sqlite sheet postgres"); err != nil {
		return fmt.Errorf("config error: unknown store backend %q", c.Store.Backend)
	}
	switch c.Store.Backend {
	case StoreSQLite, StoreSheet:
		if c.Store.Path == "" {
			return fmt.Errorf("config error: store backend %q requires 'store.path'", c.Store.Backend)
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("config error: store backend %q requires 'database_url'", c.Store.Backend)
		}
	}
	if c.Store.Backend == StoreSheet {
		if _, err := os.Stat(c.Store.Path); os.IsNotExist(err) {
			return fmt.Errorf("config error: workbook not found: %s", c.Store.Path)
		}
	}
	return nil
}

// SheetLayout returns the column layout for the sheet backend.
func (c *Config) SheetLayout() sheet.Layout {
	if c.Store.Columns != nil {
		return *c.Store.Columns
	}
	layout := c.Store.Layout
	if layout == "" && c.Mode == ModeScout {
		layout = LayoutFriendRequest
	}
	if layout == LayoutFriendRequest {
		return sheet.FriendRequestLayout()
	}
	return sheet.InMailLayout()
}

// MergeWithDefaults returns a new Config with empty fields filled from defaults.
// This is used to apply built-in values under a partial config file.
func (c *Config) MergeWithDefaults(defaults Config) Config {
	result := *c

	str := func(dst *string, def string) {
		if *dst == "" {
			*dst = def
		}
	}
	num := func(dst *int, def int) {
		if *dst == 0 {
			*dst = def
		}
	}
	dur := func(dst *Duration, def Duration) {
		if dst.Duration == 0 {
			*dst = def
		}
	}

	str(&result.Mode, defaults.Mode)
	str(&result.DatabaseURL, defaults.DatabaseURL)

	str(&result.Store.Backend, defaults.Store.Backend)
	str(&result.Store.Path, defaults.Store.Path)
	str(&result.Store.Sheet, defaults.Store.Sheet)
	str(&result.Store.Layout, defaults.Store.Layout)
	str(&result.Store.Labels.Processing, defaults.Store.Labels.Processing)
	str(&result.Store.Labels.Done, defaults.Store.Labels.Done)
	str(&result.Store.Labels.Error, defaults.Store.Labels.Error)
	if result.Store.Columns == nil {
		result.Store.Columns = defaults.Store.Columns
	}

	str(&result.Catalog.Path, defaults.Catalog.Path)
	str(&result.Catalog.Options.Sheet, defaults.Catalog.Options.Sheet)
	str(&result.Catalog.Options.OpenStatus, defaults.Catalog.Options.OpenStatus)
	num(&result.Catalog.Options.MaxItems, defaults.Catalog.Options.MaxItems)

	num(&result.Packing.MaxBytes, defaults.Packing.MaxBytes)
	if result.Packing.ShrinkRatio == 0 {
		result.Packing.ShrinkRatio = defaults.Packing.ShrinkRatio
	}
	num(&result.Packing.MinTextRunes, defaults.Packing.MinTextRunes)
	num(&result.Packing.MaxExtras, defaults.Packing.MaxExtras)
	num(&result.Packing.MaxExtrasBytes, defaults.Packing.MaxExtrasBytes)
	num(&result.Packing.MinFieldRunes, defaults.Packing.MinFieldRunes)

	num(&result.Retry.MaxRetries, defaults.Retry.MaxRetries)
	dur(&result.Retry.BaseDelay, defaults.Retry.BaseDelay)
	dur(&result.Retry.MaxDelay, defaults.Retry.MaxDelay)
	dur(&result.Retry.MaxRateLimitWait, defaults.Retry.MaxRateLimitWait)
	dur(&result.Retry.Jitter, defaults.Retry.Jitter)
	num(&result.Retry.RateLimitBudget, defaults.Retry.RateLimitBudget)

	str(&result.Matching.URL, defaults.Matching.URL)
	str(&result.Matching.ServiceAccount, defaults.Matching.ServiceAccount)
	str(&result.Matching.Audience, defaults.Matching.Audience)
	str(&result.Matching.IAMEndpoint, defaults.Matching.IAMEndpoint)

	str(&result.LLM.Provider, defaults.LLM.Provider)
	str(&result.LLM.APIKey, defaults.LLM.APIKey)

	str(&result.Sender.Name, defaults.Sender.Name)
	str(&result.Sender.Company, defaults.Sender.Company)
	str(&result.Sender.MeetingHost, defaults.Sender.MeetingHost)
	str(&result.Sender.BookingURL, defaults.Sender.BookingURL)

	str(&result.Note.Subject, defaults.Note.Subject)
	str(&result.Note.Intro, defaults.Note.Intro)
	str(&result.Note.JobHeader, defaults.Note.JobHeader)
	str(&result.Note.CallToAction, defaults.Note.CallToAction)
	str(&result.Note.URL, defaults.Note.URL)
	num(&result.Note.MaxRunes, defaults.Note.MaxRunes)

	str(&result.InMail.Template, defaults.InMail.Template)
	num(&result.InMail.MaxPositions, defaults.InMail.MaxPositions)

	num(&result.Run.MaxItems, defaults.Run.MaxItems)
	dur(&result.Run.Deadline, defaults.Run.Deadline)
	dur(&result.Run.PacingBase, defaults.Run.PacingBase)
	dur(&result.Run.PacingJitter, defaults.Run.PacingJitter)

	str(&result.Lock.Backend, defaults.Lock.Backend)
	str(&result.Lock.Key, defaults.Lock.Key)
	dur(&result.Lock.TTL, defaults.Lock.TTL)
	str(&result.Lock.RedisAddr, defaults.Lock.RedisAddr)

	str(&result.Archive.Backend, defaults.Archive.Backend)
	str(&result.Archive.Dir, defaults.Archive.Dir)

	str(&result.Server.Addr, defaults.Server.Addr)
	num(&result.Server.RateLimit, defaults.Server.RateLimit)
	dur(&result.Server.RateWindow, defaults.Server.RateWindow)
	dur(&result.Server.RunTimeout, defaults.Server.RunTimeout)
	dur(&result.Server.ReadTimeout, defaults.Server.ReadTimeout)
	dur(&result.Server.WriteTimeout, defaults.Server.WriteTimeout)

	// Bool fields: cannot distinguish unset from false, so we don't merge

	return result
}

var validate = validator.New(validator.WithRequiredStructEnabled())
