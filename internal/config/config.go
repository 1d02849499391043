// Package config defines the configuration contract and handles loading and
// validating environment configuration.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	// Canonical environment variable keys.
	KeyGatewayBaseURL     = "GATEWAY_BASE_URL"
	KeyGatewayToken       = "GATEWAY_TOKEN"
	KeyBotID              = "BOT_ID"
	KeyMongoURI           = "MONGO_URI"
	KeyMongoDB            = "MONGO_DB"
	KeyAppEnv             = "APP_ENV"
	KeyLogLevel           = "LOG_LEVEL"
	KeyHTTPPort           = "HTTP_PORT"
	KeyDefaultCountryCode = "DEFAULT_COUNTRY_CODE"
	KeyDailyFineAmount    = "DAILY_FINE_AMOUNT"
	KeyCurrencySymbol     = "CURRENCY_SYMBOL"
	KeyInactivityDays     = "INACTIVITY_THRESHOLD_DAYS"
	KeyFineDeadlineDay    = "FINE_DEADLINE_DAY"
	KeyTimezone           = "TIMEZONE"
	KeyDailyWarningTime   = "JOB_DAILY_WARNING_TIME"
	KeyFineSummaryTime    = "JOB_FINE_SUMMARY_TIME"
	KeyCallReminderTime   = "JOB_CALL_REMINDER_TIME"
	KeyCallNoticeTime     = "JOB_CALL_NOTICE_TIME"
	KeyRosterCacheTTL     = "ROSTER_CACHE_TTL"
	KeyRedisAddr          = "REDIS_ADDR"
	KeyTelegramToken      = "TELEGRAM_TOKEN"
	KeyTelegramAlertChat  = "TELEGRAM_ALERT_CHAT"

	// Allowed environment values.
	EnvDevelopment = "development"
	EnvProduction  = "production"

	// Defaults for optional settings.
	DefaultAppEnv           = EnvProduction
	DefaultLogLevel         = "info"
	DefaultHTTPPort         = 8080
	DefaultCountryCode      = "234"
	DefaultDailyFineAmount  = 500
	DefaultCurrencySymbol   = "₦"
	DefaultInactivityDays   = 1
	DefaultFineDeadlineDay  = "Sunday"
	DefaultTimezone         = "Africa/Lagos"
	DefaultDailyWarningTime = "18:00"
	DefaultFineSummaryTime  = "09:00"
	DefaultCallReminderTime = "12:00"
	DefaultCallNoticeTime   = "12:30"
	DefaultRosterCacheTTL   = 5 * time.Minute
)

// VarSpec describes a single configuration key.
type VarSpec struct {
	Key         string // environment variable name
	Example     string // human-friendly sample value
	Required    bool   // whether the bot must refuse to start without this value
	Default     string // default when unset (empty when required)
	Description string // what the variable controls
	Notes       string // extra guidance or policies
}

// Contract enumerates the authoritative configuration keys for the bot.
// .env loading is only permitted when APP_ENV=development; production must rely
// on environment variables supplied by the runtime.
var Contract = []VarSpec{
	{
		Key:         KeyGatewayBaseURL,
		Example:     "http://localhost:3000",
		Required:    true,
		Description: "Base URL of the WhatsApp web gateway sidecar.",
	},
	{
		Key:         KeyGatewayToken,
		Example:     "s3cr3t",
		Description: "Bearer token for gateway requests; empty disables auth.",
	},
	{
		Key:         KeyBotID,
		Example:     "2348000000000@c.us",
		Required:    true,
		Description: "The bot's own roster identifier, used for admin checks.",
	},
	{
		Key:         KeyMongoURI,
		Example:     "mongodb://localhost:27017",
		Required:    true,
		Description: "MongoDB connection string.",
	},
	{
		Key:         KeyMongoDB,
		Example:     "wa_ledger / wa_ledger_dev",
		Required:    true,
		Description: "MongoDB database name.",
	},
	{
		Key:         KeyAppEnv,
		Example:     EnvDevelopment + " / " + EnvProduction,
		Default:     DefaultAppEnv,
		Description: "Runtime environment; controls log format and dotenv usage.",
		Notes:       "Load .env files only when APP_ENV=" + EnvDevelopment + ".",
	},
	{
		Key:         KeyLogLevel,
		Example:     DefaultLogLevel,
		Default:     DefaultLogLevel,
		Description: "Overrides default log level.",
	},
	{
		Key:         KeyHTTPPort,
		Example:     strconv.Itoa(DefaultHTTPPort),
		Default:     strconv.Itoa(DefaultHTTPPort),
		Description: "HTTP health/diagnostics port.",
	},
	{
		Key:         KeyDefaultCountryCode,
		Example:     DefaultCountryCode,
		Default:     DefaultCountryCode,
		Description: "Country code prefixed to bare national phone numbers.",
	},
	{
		Key:         KeyDailyFineAmount,
		Example:     strconv.Itoa(DefaultDailyFineAmount),
		Default:     strconv.Itoa(DefaultDailyFineAmount),
		Description: "Fine charged per day of inactivity, in whole currency units.",
	},
	{
		Key:         KeyCurrencySymbol,
		Example:     DefaultCurrencySymbol,
		Default:     DefaultCurrencySymbol,
		Description: "Currency symbol carried in notification payloads.",
	},
	{
		Key:         KeyInactivityDays,
		Example:     strconv.Itoa(DefaultInactivityDays),
		Default:     strconv.Itoa(DefaultInactivityDays),
		Description: "Days without a message before a member counts as inactive.",
	},
	{
		Key:         KeyFineDeadlineDay,
		Example:     DefaultFineDeadlineDay,
		Default:     DefaultFineDeadlineDay,
		Description: "Weekday fines are due and the weekly jobs fire.",
	},
	{
		Key:         KeyTimezone,
		Example:     DefaultTimezone,
		Default:     DefaultTimezone,
		Description: "IANA timezone for day boundaries and job schedules.",
	},
	{
		Key:         KeyDailyWarningTime,
		Example:     DefaultDailyWarningTime,
		Default:     DefaultDailyWarningTime,
		Description: "Daily inactivity check time (HH:MM).",
	},
	{
		Key:         KeyFineSummaryTime,
		Example:     DefaultFineSummaryTime,
		Default:     DefaultFineSummaryTime,
		Description: "Weekly fine summary time on the deadline day (HH:MM).",
	},
	{
		Key:         KeyCallReminderTime,
		Example:     DefaultCallReminderTime,
		Default:     DefaultCallReminderTime,
		Description: "Weekly call reminder time on the deadline day (HH:MM).",
	},
	{
		Key:         KeyCallNoticeTime,
		Example:     DefaultCallNoticeTime,
		Default:     DefaultCallNoticeTime,
		Description: "Weekly call notice time on the deadline day (HH:MM).",
	},
	{
		Key:         KeyRosterCacheTTL,
		Example:     DefaultRosterCacheTTL.String(),
		Default:     DefaultRosterCacheTTL.String(),
		Description: "How long cached roster snapshots stay fresh.",
	},
	{
		Key:         KeyRedisAddr,
		Example:     "localhost:6379",
		Description: "Redis address for the roster cache; empty disables caching.",
	},
	{
		Key:         KeyTelegramToken,
		Example:     "123:ABC",
		Description: "Telegram bot token for operator alerts; empty disables alerts.",
	},
	{
		Key:         KeyTelegramAlertChat,
		Example:     "-1001234567890",
		Description: "Telegram chat receiving operator alerts.",
		Notes:       "Required when " + KeyTelegramToken + " is set.",
	},
}

// Config mirrors resolved configuration values after loading.
type Config struct {
	GatewayBaseURL string
	GatewayToken   string
	BotID          string
	MongoURI       string
	MongoDB        string
	AppEnv         string
	LogLevel       string
	HTTPPort       int

	DefaultCountryCode      string
	DailyFineAmount         int64
	CurrencySymbol          string
	InactivityThresholdDays int
	FineDeadlineDay         time.Weekday
	Timezone                string

	DailyWarningTime string
	FineSummaryTime  string
	CallReminderTime string
	CallNoticeTime   string

	RosterCacheTTL time.Duration
	RedisAddr      string

	TelegramToken     string
	TelegramAlertChat int64
}

// Load resolves configuration from the environment (with optional dotenv in development).
func Load() (Config, error) {
	appEnv, err := resolveAppEnv()
	if err != nil {
		return Config{}, err
	}

	if err := loadDotEnv(appEnv); err != nil {
		return Config{}, err
	}

	cfg := Config{
		AppEnv:             firstNonEmpty(normalizeEnv(os.Getenv(KeyAppEnv)), appEnv),
		GatewayBaseURL:     strings.TrimSpace(os.Getenv(KeyGatewayBaseURL)),
		GatewayToken:       strings.TrimSpace(os.Getenv(KeyGatewayToken)),
		BotID:              strings.TrimSpace(os.Getenv(KeyBotID)),
		MongoURI:           strings.TrimSpace(os.Getenv(KeyMongoURI)),
		MongoDB:            strings.TrimSpace(os.Getenv(KeyMongoDB)),
		LogLevel:           firstNonEmpty(strings.TrimSpace(os.Getenv(KeyLogLevel)), DefaultLogLevel),
		HTTPPort:           DefaultHTTPPort,
		DefaultCountryCode: firstNonEmpty(strings.TrimSpace(os.Getenv(KeyDefaultCountryCode)), DefaultCountryCode),
		DailyFineAmount:    DefaultDailyFineAmount,
		CurrencySymbol:     firstNonEmpty(strings.TrimSpace(os.Getenv(KeyCurrencySymbol)), DefaultCurrencySymbol),

		InactivityThresholdDays: DefaultInactivityDays,
		Timezone:                firstNonEmpty(strings.TrimSpace(os.Getenv(KeyTimezone)), DefaultTimezone),
		DailyWarningTime:        firstNonEmpty(strings.TrimSpace(os.Getenv(KeyDailyWarningTime)), DefaultDailyWarningTime),
		FineSummaryTime:         firstNonEmpty(strings.TrimSpace(os.Getenv(KeyFineSummaryTime)), DefaultFineSummaryTime),
		CallReminderTime:        firstNonEmpty(strings.TrimSpace(os.Getenv(KeyCallReminderTime)), DefaultCallReminderTime),
		CallNoticeTime:          firstNonEmpty(strings.TrimSpace(os.Getenv(KeyCallNoticeTime)), DefaultCallNoticeTime),
		RosterCacheTTL:          DefaultRosterCacheTTL,
		RedisAddr:               strings.TrimSpace(os.Getenv(KeyRedisAddr)),
		TelegramToken:           strings.TrimSpace(os.Getenv(KeyTelegramToken)),
	}

	if err := validateAppEnv(cfg.AppEnv); err != nil {
		return Config{}, err
	}

	missing := make([]string, 0)
	for _, key := range []string{KeyGatewayBaseURL, KeyBotID, KeyMongoURI, KeyMongoDB} {
		if strings.TrimSpace(os.Getenv(key)) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variable(s): %s", strings.Join(missing, ", "))
	}

	if err := validateURL(KeyGatewayBaseURL, cfg.GatewayBaseURL, "http", "https"); err != nil {
		return Config{}, err
	}
	if err := validateURL(KeyMongoURI, cfg.MongoURI, "mongodb", "mongodb+srv"); err != nil {
		return Config{}, err
	}

	if raw := strings.TrimSpace(os.Getenv(KeyHTTPPort)); raw != "" {
		port, parseErr := strconv.Atoi(raw)
		if parseErr != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", KeyHTTPPort, parseErr)
		}
		if port <= 0 {
			return Config{}, fmt.Errorf("%s must be greater than 0", KeyHTTPPort)
		}
		cfg.HTTPPort = port
	}

	if raw := strings.TrimSpace(os.Getenv(KeyDailyFineAmount)); raw != "" {
		amount, parseErr := strconv.ParseInt(raw, 10, 64)
		if parseErr != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", KeyDailyFineAmount, parseErr)
		}
		if amount <= 0 {
			return Config{}, fmt.Errorf("%s must be greater than 0", KeyDailyFineAmount)
		}
		cfg.DailyFineAmount = amount
	}

	if raw := strings.TrimSpace(os.Getenv(KeyInactivityDays)); raw != "" {
		days, parseErr := strconv.Atoi(raw)
		if parseErr != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", KeyInactivityDays, parseErr)
		}
		if days < 1 {
			return Config{}, fmt.Errorf("%s must be at least 1", KeyInactivityDays)
		}
		cfg.InactivityThresholdDays = days
	}

	deadlineRaw := firstNonEmpty(strings.TrimSpace(os.Getenv(KeyFineDeadlineDay)), DefaultFineDeadlineDay)
	deadline, err := parseWeekday(deadlineRaw)
	if err != nil {
		return Config{}, fmt.Errorf("invalid %s: %w", KeyFineDeadlineDay, err)
	}
	cfg.FineDeadlineDay = deadline

	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return Config{}, fmt.Errorf("invalid %s: %w", KeyTimezone, err)
	}

	for _, clock := range []struct {
		key   string
		value string
	}{
		{KeyDailyWarningTime, cfg.DailyWarningTime},
		{KeyFineSummaryTime, cfg.FineSummaryTime},
		{KeyCallReminderTime, cfg.CallReminderTime},
		{KeyCallNoticeTime, cfg.CallNoticeTime},
	} {
		if err := validateClock(clock.value); err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", clock.key, err)
		}
	}

	if raw := strings.TrimSpace(os.Getenv(KeyRosterCacheTTL)); raw != "" {
		ttl, parseErr := time.ParseDuration(raw)
		if parseErr != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", KeyRosterCacheTTL, parseErr)
		}
		if ttl <= 0 {
			return Config{}, fmt.Errorf("%s must be greater than 0", KeyRosterCacheTTL)
		}
		cfg.RosterCacheTTL = ttl
	}

	if cfg.TelegramToken != "" {
		chatRaw := strings.TrimSpace(os.Getenv(KeyTelegramAlertChat))
		if chatRaw == "" {
			return Config{}, fmt.Errorf("%s is required when %s is set", KeyTelegramAlertChat, KeyTelegramToken)
		}
		chatID, parseErr := strconv.ParseInt(chatRaw, 10, 64)
		if parseErr != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", KeyTelegramAlertChat, parseErr)
		}
		cfg.TelegramAlertChat = chatID
	}

	return cfg, nil
}

// IsDevelopment reports if APP_ENV is development.
func (c Config) IsDevelopment() bool {
	return c.AppEnv == EnvDevelopment
}

// Location resolves the configured timezone. Load has already validated it,
// so failures here fall back to UTC.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// AlertsEnabled reports whether the operator alert channel is configured.
func (c Config) AlertsEnabled() bool {
	return c.TelegramToken != "" && c.TelegramAlertChat != 0
}

// FormatRedacted renders the configuration for diagnostics with secrets
// masked and MongoDB credentials stripped.
func FormatRedacted(cfg Config) string {
	var b strings.Builder

	fmt.Fprintf(&b, "app_env: %s\n", cfg.AppEnv)
	fmt.Fprintf(&b, "gateway_base_url: %s\n", cfg.GatewayBaseURL)
	fmt.Fprintf(&b, "gateway_token: %s\n", maskSecret(cfg.GatewayToken))
	fmt.Fprintf(&b, "bot_id: %s\n", cfg.BotID)
	fmt.Fprintf(&b, "mongo_uri: %s\n", redactMongoURI(cfg.MongoURI))
	fmt.Fprintf(&b, "mongo_db: %s\n", cfg.MongoDB)
	fmt.Fprintf(&b, "log_level: %s\n", cfg.LogLevel)
	fmt.Fprintf(&b, "http_port: %d\n", cfg.HTTPPort)
	fmt.Fprintf(&b, "default_country_code: %s\n", cfg.DefaultCountryCode)
	fmt.Fprintf(&b, "daily_fine_amount: %d\n", cfg.DailyFineAmount)
	fmt.Fprintf(&b, "currency_symbol: %s\n", cfg.CurrencySymbol)
	fmt.Fprintf(&b, "inactivity_threshold_days: %d\n", cfg.InactivityThresholdDays)
	fmt.Fprintf(&b, "fine_deadline_day: %s\n", cfg.FineDeadlineDay)
	fmt.Fprintf(&b, "timezone: %s\n", cfg.Timezone)
	fmt.Fprintf(&b, "job_daily_warning_time: %s\n", cfg.DailyWarningTime)
	fmt.Fprintf(&b, "job_fine_summary_time: %s\n", cfg.FineSummaryTime)
	fmt.Fprintf(&b, "job_call_reminder_time: %s\n", cfg.CallReminderTime)
	fmt.Fprintf(&b, "job_call_notice_time: %s\n", cfg.CallNoticeTime)
	fmt.Fprintf(&b, "roster_cache_ttl: %s\n", cfg.RosterCacheTTL)
	fmt.Fprintf(&b, "redis_addr: %s\n", cfg.RedisAddr)
	fmt.Fprintf(&b, "telegram_token: %s\n", maskSecret(cfg.TelegramToken))
	fmt.Fprintf(&b, "telegram_alert_chat: %d\n", cfg.TelegramAlertChat)

	return b.String()
}

func maskSecret(value string) string {
	if value == "" {
		return ""
	}
	if len(value) <= 4 {
		return "redacted"
	}
	return value[:4] + "...redacted"
}

func redactMongoURI(uri string) string {
	parsed, err := url.Parse(uri)
	if err != nil {
		return "unparseable"
	}
	parsed.User = nil
	return parsed.String()
}

func resolveAppEnv() (string, error) {
	if explicit := normalizeEnv(os.Getenv(KeyAppEnv)); explicit != "" {
		return explicit, nil
	}

	dotEnvValues, err := godotenv.Read()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultAppEnv, nil
		}
		return "", fmt.Errorf("read .env: %w", err)
	}

	if envFromFile := normalizeEnv(dotEnvValues[KeyAppEnv]); envFromFile != "" {
		return envFromFile, nil
	}

	return DefaultAppEnv, nil
}

func loadDotEnv(appEnv string) error {
	if appEnv != EnvDevelopment {
		return nil
	}

	if err := godotenv.Load(); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load .env: %w", err)
	}

	return nil
}

func validateAppEnv(appEnv string) error {
	if appEnv == EnvDevelopment || appEnv == EnvProduction {
		return nil
	}

	return fmt.Errorf("invalid %s: must be %q or %q", KeyAppEnv, EnvDevelopment, EnvProduction)
}

func validateURL(key, value string, schemes ...string) error {
	parsed, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}

	for _, scheme := range schemes {
		if parsed.Scheme == scheme {
			return nil
		}
	}

	return fmt.Errorf("invalid %s: scheme must be one of %s", key, strings.Join(schemes, ", "))
}

func validateClock(value string) error {
	if _, err := time.Parse("15:04", value); err != nil {
		return fmt.Errorf("must be HH:MM: %w", err)
	}
	return nil
}

func parseWeekday(value string) (time.Weekday, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for day := time.Sunday; day <= time.Saturday; day++ {
		if strings.ToLower(day.String()) == normalized {
			return day, nil
		}
	}
	return time.Sunday, fmt.Errorf("unknown weekday %q", value)
}

func normalizeEnv(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func firstNonEmpty(values ...string) string {
	for _, val := range values {
		if strings.TrimSpace(val) != "" {
			return strings.TrimSpace(val)
		}
	}
	return ""
}
