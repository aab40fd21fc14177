package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // subscriptions.timezone must load on hosts without zoneinfo

	"github.com/joho/godotenv"
)

// Config is the root configuration for factbot.
type Config struct {
	General  GeneralConfig  `json:"general"`
	Telegram TelegramConfig `json:"telegram"`
	Webhook  WebhookConfig  `json:"webhook"`
	Assessor AssessorConfig `json:"assessor"`
	Delivery DeliveryConfig `json:"delivery"`
	Worker   WorkerConfig   `json:"worker"`
	Dedup    DedupConfig    `json:"dedup"`
	History  HistoryConfig  `json:"history"`
	Metrics  MetricsConfig  `json:"metrics"`

	Subscriptions SubscriptionsConfig `json:"subscriptions"`
}

type GeneralConfig struct {
	LogLevel  string `json:"logLevel"`          // debug | info | warn | error
	LogFormat string `json:"logFormat"`         // text | json
	LogFile   string `json:"logFile,omitempty"` // optional log file path
}

type TelegramConfig struct {
	Token                 string         `json:"token"`
	APIEndpoint           string         `json:"apiEndpoint,omitempty"` // Bot API format string, for a local Bot API server
	AllowFrom             FlexStringList `json:"allowFrom"`
	AdminIDs              FlexStringList `json:"adminIds"` // run /grant, /revoke, /list; hear about refused users
	ParseMode             string         `json:"parseMode"` // HTML | MarkdownV2 | Markdown | plain
	PlainTextFallback     bool           `json:"plainTextFallback"`
	ProcessingText        string         `json:"processingText"`
	FailureText           string         `json:"failureText"`
	RequestTimeoutSeconds int            `json:"requestTimeoutSeconds"`
}

// FlexStringList is a []string that can unmarshal from JSON arrays containing
// both strings and numbers (e.g. ["123", 456] both become "123", "456").
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

// IDs parses the list as Telegram user IDs.
func (f FlexStringList) IDs() ([]int64, error) {
	ids := make([]int64, 0, len(f))
	for _, s := range f {
		id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid user ID %q", s)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

type WebhookConfig struct {
	Host               string `json:"host"`
	Port               int    `json:"port"`
	Path               string `json:"path"`
	PublicURL          string `json:"publicUrl,omitempty"` // https://bot.example.com, the path is appended
	SecretToken        string `json:"secretToken,omitempty"`
	DropPendingUpdates bool   `json:"dropPendingUpdates"`
}

// URL is the address Telegram should deliver updates to.
func (w WebhookConfig) URL() string {
	if w.PublicURL == "" {
		return ""
	}
	return strings.TrimRight(w.PublicURL, "/") + w.Path
}

type AssessorConfig struct {
	BaseURL        string  `json:"baseUrl"`
	APIKey         string  `json:"apiKey"`
	Model          string  `json:"model"`
	ProfilePath    string  `json:"profilePath,omitempty"` // YAML prompt profile; built-in profile when empty
	MaxTokens      int     `json:"maxTokens"`
	Temperature    float64 `json:"temperature"`
	TimeoutSeconds int     `json:"timeoutSeconds"`
	RatePerMinute  float64 `json:"ratePerMinute"`
	Burst          int     `json:"burst"`
}

type DeliveryConfig struct {
	MaxChunkSize int `json:"maxChunkSize"` // characters per message
	ChunkDelayMs int `json:"chunkDelayMs"`
	ChunkRetries int `json:"chunkRetries"` // resends after a 429; 0 aborts at once
}

// ChunkDelay returns the pause between chunks.
func (d DeliveryConfig) ChunkDelay() time.Duration {
	return time.Duration(d.ChunkDelayMs) * time.Millisecond
}

type WorkerConfig struct {
	Concurrency int `json:"concurrency"`
	QueueSize   int `json:"queueSize"`
}

type DedupConfig struct {
	Enabled    bool   `json:"enabled"`
	Backend    string `json:"backend"` // memory | redis
	RedisURL   string `json:"redisUrl,omitempty"`
	KeyPrefix  string `json:"keyPrefix,omitempty"`
	TTLSeconds int    `json:"ttlSeconds"`
}

type HistoryConfig struct {
	Enabled       bool   `json:"enabled"`
	DBPath        string `json:"dbPath"`
	RetentionDays int    `json:"retentionDays"`
}

// SubscriptionsConfig gates the bot behind admin-granted subscriptions,
// stored in the history database.
type SubscriptionsConfig struct {
	Enabled              bool   `json:"enabled"`
	SweepIntervalSeconds int    `json:"sweepIntervalSeconds"`
	Timezone             string `json:"timezone"` // IANA name for displayed dates
}

// SweepInterval returns the period of the expiry sweep.
func (s SubscriptionsConfig) SweepInterval() time.Duration {
	return time.Duration(s.SweepIntervalSeconds) * time.Second
}

// Location loads the display timezone, UTC when unset.
func (s SubscriptionsConfig) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(s.Timezone)
}

// MetricsConfig configures the Prometheus endpoint on the webhook server.
type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

// DefaultConfigDir returns the default config directory (~/.factbot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".factbot"
	}
	return filepath.Join(home, ".factbot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// LoadDotEnv loads .env files into the process environment. Variables that
// are already set win. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		p = ExpandPath(p)
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load env file %s: %w", p, err)
		}
	}
	return nil
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}
	return finish(cfg)
}

// LoadRaw reads the file over Defaults without expanding variables or
// applying the environment, so it can be edited and saved back verbatim.
func LoadRaw(path string) (*Config, error) {
	path = ExpandPath(path)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}
	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault loads path, or falls back to Defaults plus the environment
// when the file does not exist. found reports whether the file was read.
func LoadOrDefault(path string) (cfg *Config, found bool, err error) {
	if _, statErr := os.Stat(ExpandPath(path)); errors.Is(statErr, os.ErrNotExist) {
		cfg, err = finish(Defaults())
		return cfg, false, err
	}
	cfg, err = Load(path)
	return cfg, err == nil, err
}

func finish(cfg *Config) (*Config, error) {
	ApplyEnv(cfg)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.History.DBPath = ExpandPath(cfg.History.DBPath)
	cfg.Assessor.ProfilePath = ExpandPath(cfg.Assessor.ProfilePath)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// ApplyEnv fills empty settings from well-known environment variables.
func ApplyEnv(cfg *Config) {
	fill := func(dst *string, key string) {
		if *dst != "" {
			return
		}
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	fill(&cfg.Telegram.Token, "TELEGRAM_BOT_TOKEN")
	fill(&cfg.Assessor.APIKey, "PERPLEXITY_API_KEY")
	fill(&cfg.Dedup.RedisURL, "REDIS_URL")
	fill(&cfg.Webhook.SecretToken, "TELEGRAM_WEBHOOK_SECRET")
	fill(&cfg.Webhook.PublicURL, "WEBHOOK_PUBLIC_URL")

	if len(cfg.Telegram.AdminIDs) == 0 {
		if v := strings.TrimSpace(os.Getenv("ADMIN_CHAT_IDS")); v != "" {
			cfg.Telegram.AdminIDs = splitList(v)
		}
	}
}

// splitList splits a comma separated list, dropping empty items.
func splitList(s string) FlexStringList {
	var out FlexStringList
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	path = ExpandPath(path)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	// The file may hold the bot token and API key.
	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values. Credentials are checked
// by the commands that need them, so a fresh config still validates.
func Validate(cfg *Config) error {
	var errs []string

	switch strings.ToLower(cfg.General.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	switch strings.ToLower(cfg.General.LogFormat) {
	case "", "text", "json":
	default:
		errs = append(errs, "general.logFormat must be one of: text, json")
	}

	switch cfg.Telegram.ParseMode {
	case "HTML", "MarkdownV2", "Markdown", "plain":
	default:
		errs = append(errs, "telegram.parseMode must be one of: HTML, MarkdownV2, Markdown, plain")
	}
	if _, err := cfg.Telegram.AllowFrom.IDs(); err != nil {
		errs = append(errs, "telegram.allowFrom: "+err.Error())
	}
	if _, err := cfg.Telegram.AdminIDs.IDs(); err != nil {
		errs = append(errs, "telegram.adminIds: "+err.Error())
	}
	if cfg.Telegram.APIEndpoint != "" && strings.Count(cfg.Telegram.APIEndpoint, "%s") != 2 {
		errs = append(errs, "telegram.apiEndpoint must contain two %s verbs (token, method)")
	}
	if cfg.Telegram.RequestTimeoutSeconds < 1 {
		errs = append(errs, "telegram.requestTimeoutSeconds must be >= 1")
	}

	if cfg.Webhook.Port < 0 || cfg.Webhook.Port > 65535 {
		errs = append(errs, "webhook.port must be between 0 and 65535")
	}
	if !strings.HasPrefix(cfg.Webhook.Path, "/") {
		errs = append(errs, "webhook.path must start with /")
	}
	if cfg.Webhook.PublicURL != "" && !strings.HasPrefix(cfg.Webhook.PublicURL, "https://") {
		errs = append(errs, "webhook.publicUrl must use https")
	}

	if cfg.Assessor.BaseURL == "" {
		errs = append(errs, "assessor.baseUrl is required")
	}
	if cfg.Assessor.Temperature < 0 || cfg.Assessor.Temperature > 2 {
		errs = append(errs, "assessor.temperature must be between 0 and 2")
	}
	if cfg.Assessor.TimeoutSeconds < 1 {
		errs = append(errs, "assessor.timeoutSeconds must be >= 1")
	}
	if cfg.Assessor.MaxTokens < 0 {
		errs = append(errs, "assessor.maxTokens must be >= 0")
	}
	if cfg.Assessor.RatePerMinute <= 0 || cfg.Assessor.Burst < 1 {
		errs = append(errs, "assessor.ratePerMinute must be > 0 and assessor.burst >= 1")
	}

	if cfg.Delivery.MaxChunkSize < 1 || cfg.Delivery.MaxChunkSize > 4096 {
		errs = append(errs, "delivery.maxChunkSize must be between 1 and 4096")
	}
	if cfg.Delivery.ChunkDelayMs < 0 {
		errs = append(errs, "delivery.chunkDelayMs must be >= 0")
	}
	if cfg.Delivery.ChunkRetries < 0 || cfg.Delivery.ChunkRetries > 10 {
		errs = append(errs, "delivery.chunkRetries must be between 0 and 10")
	}

	if cfg.Worker.Concurrency < 1 || cfg.Worker.Concurrency > 100 {
		errs = append(errs, "worker.concurrency must be between 1 and 100")
	}
	if cfg.Worker.QueueSize < 1 {
		errs = append(errs, "worker.queueSize must be >= 1")
	}

	if cfg.Dedup.Enabled {
		switch cfg.Dedup.Backend {
		case "memory":
		case "redis":
			if cfg.Dedup.RedisURL == "" {
				errs = append(errs, "dedup.redisUrl is required for the redis backend")
			}
		default:
			errs = append(errs, "dedup.backend must be one of: memory, redis")
		}
		if cfg.Dedup.TTLSeconds < 1 {
			errs = append(errs, "dedup.ttlSeconds must be >= 1")
		}
	}

	if cfg.History.Enabled {
		if cfg.History.DBPath == "" {
			errs = append(errs, "history.dbPath is required when history is enabled")
		}
		if cfg.History.RetentionDays < 1 {
			errs = append(errs, "history.retentionDays must be >= 1")
		}
	}

	if cfg.Subscriptions.Enabled {
		if cfg.History.DBPath == "" {
			errs = append(errs, "history.dbPath is required when subscriptions are enabled")
		}
		if len(cfg.Telegram.AdminIDs) == 0 {
			errs = append(errs, "telegram.adminIds must name at least one admin when subscriptions are enabled")
		}
		if cfg.Subscriptions.SweepIntervalSeconds < 1 {
			errs = append(errs, "subscriptions.sweepIntervalSeconds must be >= 1")
		}
	}
	if _, err := cfg.Subscriptions.Location(); err != nil {
		errs = append(errs, "subscriptions.timezone: "+err.Error())
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Endpoint, "/") {
		errs = append(errs, "metrics.endpoint must start with /")
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Endpoint == cfg.Webhook.Path {
		errs = append(errs, "metrics.endpoint must differ from webhook.path")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
