package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every load-once setting of the bot process.
type Config struct {
	TelegramToken         string   `yaml:"telegram_token"`
	TelegramAPIBase       string   `yaml:"telegram_api_base"`
	PollTimeout           int      `yaml:"poll_timeout"`
	SleepSeconds          int      `yaml:"sleep_seconds"`
	DropPending           bool     `yaml:"drop_pending"`
	MaxMessageChars       int      `yaml:"max_message_chars"`
	MaxConcurrentEvents   int      `yaml:"max_concurrent_events"`
	DatabaseURL           string   `yaml:"database_url"`
	EnabledModules        []string `yaml:"enabled_modules"`
	AllowedUsers          []int64  `yaml:"allowed_users"`
	RateLimitPerMinute    int      `yaml:"rate_limit_per_minute"`
	ContextMaxMessages    int      `yaml:"context_window_messages"`
	ContextMaxChars       int      `yaml:"context_max_chars"`
	RoutingHistory        int      `yaml:"routing_history_messages"`
	VaultSecret           string   `yaml:"vault_secret"`
	OpenAIAPIKey          string   `yaml:"openai_api_key"`
	OpenAIBaseURL         string   `yaml:"openai_base_url"`
	OpenAIModel           string   `yaml:"openai_model"`
	LLMTimeoutSeconds     int      `yaml:"llm_timeout_seconds"`
	StorageTimeoutSeconds int      `yaml:"storage_timeout_seconds"`
	OpsAddr               string   `yaml:"ops_addr"`
	MetricsNamespace      string   `yaml:"metrics_namespace"`
	LogLevel              string   `yaml:"log_level"`
	LogFormat             string   `yaml:"log_format"`
	MailDir               string   `yaml:"mail_dir"`
	Transport             string   `yaml:"transport"`
	LLMProvider           string   `yaml:"llm_provider"`
	DummyPollScript       string   `yaml:"dummy_poll_script"`
	DummySendScript       string   `yaml:"dummy_send_script"`
	DummyUserID           int64    `yaml:"dummy_user_id"`
	DummyProviderScript   string   `yaml:"dummy_provider_script"`
}

// KnownModules lists the module names ENABLED_MODULES may contain.
var KnownModules = []string{"ai_core", "knowledge_base", "mail", "ai_assistant"}

// Defaults returns the configuration used when neither a file nor the
// environment provides a value.
func Defaults() Config {
	return Config{
		TelegramAPIBase:       "https://api.telegram.org",
		PollTimeout:           30,
		SleepSeconds:          1,
		DropPending:           true,
		MaxMessageChars:       4096,
		MaxConcurrentEvents:   16,
		DatabaseURL:           "./officebot.db",
		EnabledModules:        []string{"ai_core", "knowledge_base", "mail", "ai_assistant"},
		RateLimitPerMinute:    20,
		ContextMaxMessages:    20,
		ContextMaxChars:       4000,
		RoutingHistory:        6,
		OpenAIBaseURL:         "https://api.openai.com/v1",
		OpenAIModel:           "gpt-4o-mini",
		LLMTimeoutSeconds:     30,
		StorageTimeoutSeconds: 5,
		OpsAddr:               ":9090",
		MetricsNamespace:      "officebot",
		LogLevel:              "info",
		LogFormat:             "json",
		Transport:             "telegram",
		LLMProvider:           "openai",
		DummyUserID:           1,
	}
}

// Load reads the optional YAML file named by OFFICEBOT_CONFIG and then
// applies environment overrides on top of it.
func Load() (Config, error) {
	cfg := Defaults()
	if path := strings.TrimSpace(os.Getenv("OFFICEBOT_CONFIG")); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadServe is Load plus the checks that only matter for running the bot.
func LoadServe() (Config, error) {
	cfg, err := Load()
	if err != nil {
		return Config{}, err
	}
	switch cfg.Transport {
	case "telegram":
		if cfg.TelegramToken == "" {
			return Config{}, fmt.Errorf("TELEGRAM_BOT_TOKEN is required in environment or config file")
		}
	case "dummy":
	default:
		return Config{}, fmt.Errorf("unsupported TRANSPORT: %s", cfg.Transport)
	}
	switch cfg.LLMProvider {
	case "openai", "dummy":
	default:
		return Config{}, fmt.Errorf("unsupported LLM_PROVIDER: %s", cfg.LLMProvider)
	}
	for _, m := range cfg.EnabledModules {
		if !slices.Contains(KnownModules, m) {
			return Config{}, fmt.Errorf("unknown module in ENABLED_MODULES: %s", m)
		}
	}
	return cfg, nil
}

// TelegramBotBase is the bot API base URL including the token path segment.
func (c Config) TelegramBotBase() string {
	return fmt.Sprintf("%s/bot%s", strings.TrimRight(c.TelegramAPIBase, "/"), c.TelegramToken)
}

func (c Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLMTimeoutSeconds) * time.Second
}

func (c Config) StorageTimeout() time.Duration {
	return time.Duration(c.StorageTimeoutSeconds) * time.Second
}

// LLMEnabled reports whether an LLM collaborator is constructed: the
// dummy provider, or OpenAI with an API key.
func (c Config) LLMEnabled() bool {
	return c.LLMProvider == "dummy" || c.OpenAIAPIKey != ""
}

// ModuleEnabled reports whether name is listed in EnabledModules.
func (c Config) ModuleEnabled(name string) bool {
	return slices.Contains(c.EnabledModules, name)
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	cfg.TelegramToken = envOrDefault("TELEGRAM_BOT_TOKEN", cfg.TelegramToken)
	cfg.TelegramAPIBase = envOrDefault("TELEGRAM_API_BASE", cfg.TelegramAPIBase)
	cfg.PollTimeout = envIntOrDefault("TG_TIMEOUT", cfg.PollTimeout)
	cfg.SleepSeconds = envIntOrDefault("TG_SLEEP_SECONDS", cfg.SleepSeconds)
	cfg.DropPending = envBoolOrDefault("TG_DROP_PENDING", cfg.DropPending)
	cfg.MaxMessageChars = envIntOrDefault("TG_MAX_MESSAGE_CHARS", cfg.MaxMessageChars)
	cfg.MaxConcurrentEvents = envIntOrDefault("MAX_CONCURRENT_EVENTS", cfg.MaxConcurrentEvents)
	cfg.DatabaseURL = envOrDefault("DATABASE_URL", cfg.DatabaseURL)
	if v := os.Getenv("ENABLED_MODULES"); v != "" {
		cfg.EnabledModules = parseCSV(v)
	}
	if v := os.Getenv("ALLOWED_USERS"); v != "" {
		ids, err := ParseUserIDs(v)
		if err != nil {
			return fmt.Errorf("ALLOWED_USERS: %w", err)
		}
		cfg.AllowedUsers = ids
	}
	cfg.RateLimitPerMinute = envIntOrDefault("RATE_LIMIT_PER_MINUTE", cfg.RateLimitPerMinute)
	cfg.ContextMaxMessages = envIntOrDefault("CONTEXT_WINDOW_MESSAGES", cfg.ContextMaxMessages)
	cfg.ContextMaxChars = envIntOrDefault("CONTEXT_MAX_CHARS", cfg.ContextMaxChars)
	cfg.RoutingHistory = envIntOrDefault("ROUTING_HISTORY_MESSAGES", cfg.RoutingHistory)
	cfg.VaultSecret = envOrDefault("VAULT_SECRET", cfg.VaultSecret)
	cfg.OpenAIAPIKey = envOrDefault("OPENAI_API_KEY", cfg.OpenAIAPIKey)
	cfg.OpenAIBaseURL = envOrDefault("OPENAI_BASE_URL", cfg.OpenAIBaseURL)
	cfg.OpenAIModel = envOrDefault("OPENAI_MODEL", cfg.OpenAIModel)
	cfg.LLMTimeoutSeconds = envIntOrDefault("LLM_TIMEOUT_SECONDS", cfg.LLMTimeoutSeconds)
	cfg.StorageTimeoutSeconds = envIntOrDefault("STORAGE_TIMEOUT_SECONDS", cfg.StorageTimeoutSeconds)
	if v, ok := os.LookupEnv("OPS_ADDR"); ok {
		cfg.OpsAddr = strings.TrimSpace(v)
	}
	cfg.MetricsNamespace = envOrDefault("METRICS_NAMESPACE", cfg.MetricsNamespace)
	cfg.LogLevel = envOrDefault("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = envOrDefault("LOG_FORMAT", cfg.LogFormat)
	cfg.MailDir = envOrDefault("MAIL_DIR", cfg.MailDir)
	cfg.Transport = strings.ToLower(envOrDefault("TRANSPORT", cfg.Transport))
	cfg.LLMProvider = strings.ToLower(envOrDefault("LLM_PROVIDER", cfg.LLMProvider))
	cfg.DummyPollScript = envOrDefault("DUMMY_POLL_SCRIPT", cfg.DummyPollScript)
	cfg.DummySendScript = envOrDefault("DUMMY_SEND_SCRIPT", cfg.DummySendScript)
	cfg.DummyProviderScript = envOrDefault("DUMMY_PROVIDER_SCRIPT", cfg.DummyProviderScript)
	if v := os.Getenv("DUMMY_USER_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("DUMMY_USER_ID: invalid user id %q", v)
		}
		cfg.DummyUserID = id
	}
	return nil
}

// ParseUserIDs parses a comma-separated list of numeric user ids.
func ParseUserIDs(raw string) ([]int64, error) {
	items := parseCSV(raw)
	out := make([]int64, 0, len(items))
	for _, it := range items {
		id, err := strconv.ParseInt(it, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid user id %q", it)
		}
		out = append(out, id)
	}
	return out, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBoolOrDefault(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v == "1" || strings.EqualFold(v, "true")
}

func parseCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		item := strings.TrimSpace(p)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
