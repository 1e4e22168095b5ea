package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/scout-agent/internal/store/sheet"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfig_ValidJSON(t *testing.T) {
	path := writeFile(t, "config.json", `{
		"mode": "scout",
		"store": {"backend": "sqlite", "path": "rows.db"},
		"matching": {"url": "https://match.example.com/run"},
		"retry": {"max_retries": 5, "base_delay": "250ms"},
		"run": {"max_items": 20, "deadline": "90s"}
	}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, ModeScout, cfg.Mode)
	assert.Equal(t, StoreSQLite, cfg.Store.Backend)
	assert.Equal(t, "rows.db", cfg.Store.Path)
	assert.Equal(t, 5, cfg.Retry.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.BaseDelay.Duration)
	assert.Equal(t, 20, cfg.Run.MaxItems)
	assert.Equal(t, 90*time.Second, cfg.Run.Deadline.Duration)
}

func TestLoadConfig_ValidTOML(t *testing.T) {
	path := writeFile(t, "config.toml", `
mode = "inmail"

[store]
backend = "sheet"
path = "candidates.xlsx"
layout = "inmail"

[store.labels]
done = "sent"

[sender]
name = "Hanako"
company = "Example"
meeting_host = "COO"

[lock]
backend = "redis"
redis_addr = "localhost:6379"
ttl = "5m"

[packing]
max_bytes = 12000
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ModeInMail, cfg.Mode)
	assert.Equal(t, "candidates.xlsx", cfg.Store.Path)
	assert.Equal(t, "sent", cfg.Store.Labels.Done)
	assert.Equal(t, "Example", cfg.Sender.Company)
	assert.Equal(t, LockRedis, cfg.Lock.Backend)
	assert.Equal(t, 5*time.Minute, cfg.Lock.TTL.Duration)
	assert.Equal(t, 12000, cfg.Packing.MaxBytes)
}

func TestLoadConfig_InvalidJSON(t *testing.T) {
	path := writeFile(t, "config.json", `{ invalid json }`)

	cfg, err := LoadConfig(path)
	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "failed to parse config JSON")
}

func TestLoadConfig_InvalidTOML(t *testing.T) {
	path := writeFile(t, "config.toml", "mode = \n")

	cfg, err := LoadConfig(path)
	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "failed to parse config TOML")
}

func TestLoadConfig_BadDuration(t *testing.T) {
	path := writeFile(t, "config.json", `{"run": {"deadline": "soon"}}`)

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	cfg, err := LoadConfig("/nonexistent/path/config.json")
	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoadConfig_EmptyPath(t *testing.T) {
	cfg, err := LoadConfig("")
	assert.ErrorIs(t, err, ErrEmptyPath)
	assert.Nil(t, cfg)
}

// validConfig is a complete configuration that passes Validate without touching disk.
func validConfig() Config {
	cfg := Defaults()
	cfg.Store.Backend = StoreMemory
	cfg.Store.Path = ""
	cfg.Matching.URL = "https://match.example.com/run"
	return cfg
}

func TestDefaults_CapRunSize(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, DefaultMaxItems, cfg.Run.MaxItems)
	assert.Equal(t, 15, cfg.Run.Options().MaxItems)
}

func TestValidate_Defaults(t *testing.T) {
	cfg := validConfig()
	assert.NoError(t, cfg.Validate())
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown mode", func(c *Config) { c.Mode = "broadcast" }, "Mode"},
		{"unknown store", func(c *Config) { c.Store.Backend = "csv" }, "Backend"},
		{"negative retries", func(c *Config) { c.Retry.MaxRetries = -1 }, "MaxRetries"},
		{"bad matching url", func(c *Config) { c.Matching.URL = "not a url" }, "URL"},
		{"bad booking url", func(c *Config) { c.Sender.BookingURL = "nope" }, "BookingURL"},
		{"sqlite without path", func(c *Config) { c.Store.Backend = StoreSQLite }, "store.path"},
		{"postgres store without url", func(c *Config) { c.Store.Backend = StorePostgres }, "database_url"},
		{"redis lock without addr", func(c *Config) { c.Lock.Backend = LockRedis }, "lock.redis_addr"},
		{"postgres lock without url", func(c *Config) { c.Lock.Backend = LockPostgres }, "database_url"},
		{"local archive without dir", func(c *Config) { c.Archive.Backend = ArchiveLocal }, "archive.dir"},
		{"s3 archive without bucket", func(c *Config) { c.Archive.Backend = ArchiveS3 }, "archive.s3.bucket"},
		{"scout without matching", func(c *Config) {
			c.Mode = ModeScout
			c.Matching.URL = ""
		}, "matching.url"},
		{"inmail without any service", func(c *Config) { c.Matching.URL = "" }, "enabled 'llm'"},
		{"llm without key", func(c *Config) { c.LLM.Enabled = true }, "GEMINI_API_KEY"},
		{"service account without audience", func(c *Config) { c.Matching.ServiceAccount = "sa@example.iam.gserviceaccount.com" }, "matching.audience"},
		{"packing floor above ceiling", func(c *Config) { c.Packing.MaxBytes = 500 }, "text floor"},
		{"missing catalog", func(c *Config) { c.Catalog.Path = "/nonexistent/jobs.json" }, "catalog file not found"},
		{"missing template", func(c *Config) { c.InMail.Template = "/nonexistent/inmail.tmpl" }, "template file not found"},
		{"missing workbook", func(c *Config) {
			c.Store.Backend = StoreSheet
			c.Store.Path = "/nonexistent/candidates.xlsx"
		}, "workbook not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_InMailWithGeneratorOnly(t *testing.T) {
	cfg := validConfig()
	cfg.Matching.URL = ""
	cfg.LLM.Enabled = true
	cfg.LLM.APIKey = "key"
	assert.NoError(t, cfg.Validate())
}

func TestMergeWithDefaults(t *testing.T) {
	cfg := &Config{
		Mode:  ModeScout,
		Store: StoreConfig{Backend: StoreSQLite, Path: "rows.db"},
		Run:   RunConfig{MaxItems: 3},
	}

	merged := cfg.MergeWithDefaults(Defaults())

	// Set values are kept
	assert.Equal(t, ModeScout, merged.Mode)
	assert.Equal(t, StoreSQLite, merged.Store.Backend)
	assert.Equal(t, "rows.db", merged.Store.Path)
	assert.Equal(t, 3, merged.Run.MaxItems)

	// Empty values are filled
	d := Defaults()
	assert.Equal(t, d.Store.Labels, merged.Store.Labels)
	assert.Equal(t, d.Packing, merged.Packing)
	assert.Equal(t, d.Retry, merged.Retry)
	assert.Equal(t, d.Note, merged.Note)
	assert.Equal(t, d.Run.Deadline, merged.Run.Deadline)
	assert.Equal(t, LockLocal, merged.Lock.Backend)
	assert.Equal(t, DefaultLockKey, merged.Lock.Key)
	assert.Equal(t, ":8080", merged.Server.Addr)

	// Receiver is not modified
	assert.Empty(t, cfg.Lock.Backend)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"GEMINI_API_KEY": "gemini-key",
		"DATABASE_URL":   "postgres://localhost/scout",
		"MATCH_URL":      "https://match.example.com",
		"MATCH_ID_TOKEN": "id-token",
		"REDIS_ADDR":     "redis:6379",
		"SCOUT_MODE":     "scout",
		"JWT_SECRET":     "  ",
	}
	cfg := Defaults()
	cfg.ApplyEnv(func(k string) string { return env[k] })

	assert.Equal(t, "gemini-key", cfg.LLM.APIKey)
	assert.Equal(t, "postgres://localhost/scout", cfg.DatabaseURL)
	assert.Equal(t, "https://match.example.com", cfg.Matching.URL)
	assert.Equal(t, "id-token", cfg.Matching.IDToken)
	assert.Equal(t, "redis:6379", cfg.Lock.RedisAddr)
	assert.Equal(t, ModeScout, cfg.Mode)
	assert.Empty(t, cfg.Server.JWTSecret, "blank values are ignored")
	assert.Equal(t, ":8080", cfg.Server.Addr, "unset values are kept")
}

func TestSheetLayout(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, sheet.InMailLayout(), cfg.SheetLayout())

	cfg.Mode = ModeScout
	assert.Equal(t, sheet.FriendRequestLayout(), cfg.SheetLayout())

	cfg.Store.Layout = LayoutInMail
	assert.Equal(t, sheet.InMailLayout(), cfg.SheetLayout())

	custom := sheet.Layout{Name: 2, Profile: 3, Status: 9}
	cfg.Store.Columns = &custom
	assert.Equal(t, custom, cfg.SheetLayout())
}

func TestRetryPolicy(t *testing.T) {
	r := RetryConfig{
		MaxRetries:       2,
		BaseDelay:        Duration{time.Second},
		MaxDelay:         Duration{8 * time.Second},
		MaxRateLimitWait: Duration{time.Minute},
		RateLimitBudget:  4,
	}
	p := r.Policy()
	assert.Equal(t, 2, p.MaxRetries)
	assert.Equal(t, 8*time.Second, p.MaxDelay)
	assert.Equal(t, 4, p.RateLimitBudget)
	assert.Equal(t, 4*time.Second, p.Backoff(2))
}

func TestLLMModel(t *testing.T) {
	cfg := LLMConfig{Provider: "gemini", Model: "custom-model", Temperature: 0.2}
	m := cfg.ClientConfig()
	assert.Equal(t, "gemini", string(m.Provider))
	assert.Equal(t, "custom-model", m.GetModel("standard"))
	assert.InDelta(t, 0.2, m.Temperature, 1e-6)
	assert.Equal(t, "gemini-2.5-flash-lite", m.GetModel("lite"))

	m = LLMConfig{LiteModel: "tiny"}.ClientConfig()
	assert.Equal(t, "tiny", m.GetModel("lite"))
	assert.Equal(t, "gemini-2.5-flash", m.GetModel("standard"))
}

func TestValidateStore_IgnoresServiceSettings(t *testing.T) {
	cfg := Defaults()
	cfg.Store.Backend = StoreSQLite
	cfg.Store.Path = filepath.Join(t.TempDir(), "rows.db")
	cfg.Matching.URL = ""

	assert.NoError(t, cfg.ValidateStore())
	assert.Error(t, cfg.Validate(), "full validation still needs a service")

	cfg.Store.Backend = "csv"
	assert.Error(t, cfg.ValidateStore())
}
