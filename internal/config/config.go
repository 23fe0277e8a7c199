package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Defaults applied when the environment leaves a value unset or invalid.
const (
	DefaultRateLimitPerMinute = 80.0
	DefaultIntervalSeconds    = 0.75
	DefaultMaxAttempts        = 4
	DefaultSMTPPort           = 587
	DefaultSMTPTimeoutSeconds = 30
	DefaultCSVLogPath         = "emaileria_log.csv"
)

// Supported email providers.
const (
	ProviderSMTP   = "smtp"
	ProviderResend = "resend"
	ProviderMock   = "mock"
)

// SMTP TLS modes.
const (
	TLSModeStartTLS = "starttls"
	TLSModeSSL      = "ssl"
	TLSModeNone     = "none"
)

// Config captures all runtime configuration for a sending run.
type Config struct {
	App      AppConfig
	Provider ProviderConfig
	Sending  SendingConfig
	Output   OutputConfig
	Status   StatusConfig

	// Warnings lists values that were invalid and replaced by their default.
	Warnings []string
}

// AppConfig contains generic application level settings.
type AppConfig struct {
	Env      string
	LogLevel string
}

// SMTPConfig stores SMTP credentials for email delivery.
type SMTPConfig struct {
	Host           string
	Port           int
	User           string
	Pass           string
	From           string
	TLSMode        string
	TimeoutSeconds int
}

// ResendConfig stores the Resend API credentials.
type ResendConfig struct {
	APIKey  string
	BaseURL string
}

// ProviderConfig selects and configures the email transport.
type ProviderConfig struct {
	Name   string
	SMTP   SMTPConfig
	Resend ResendConfig
}

// SendingConfig controls pacing and retry behaviour.
type SendingConfig struct {
	RateLimitPerMinute float64
	IntervalSeconds    float64
	MaxAttempts        int
}

// OutputConfig lists the delivery log sinks. Empty paths disable a sink.
type OutputConfig struct {
	CSVLogPath  string
	SQLitePath  string
	MetricsFile string
}

// StatusConfig configures the optional Kafka status stream.
type StatusConfig struct {
	KafkaBrokers []string
	KafkaTopic   string
}

// Load reads environment variables (and a .env file when present), applies
// defaults and returns a populated Config. Malformed required values are
// reported as errors; malformed pacing values fall back to their defaults
// and are recorded in Config.Warnings.
func Load() (*Config, error) {
	_ = godotenv.Load()

	ldr := &envLoader{}

	cfg := &Config{}
	cfg.App.Env = ldr.getString("APP_ENV", "development", false)
	cfg.App.LogLevel = ldr.getString("LOG_LEVEL", "info", false)

	cfg.Provider.Name = strings.ToLower(ldr.getString("EMAIL_PROVIDER", ProviderSMTP, false))
	switch cfg.Provider.Name {
	case ProviderSMTP, ProviderResend, ProviderMock:
	default:
		ldr.addError(fmt.Sprintf("EMAIL_PROVIDER must be one of %s, %s, %s", ProviderSMTP, ProviderResend, ProviderMock))
	}

	cfg.Provider.SMTP.Host = ldr.getString("SMTP_HOST", "", false)
	cfg.Provider.SMTP.Port = ldr.getInt("SMTP_PORT", DefaultSMTPPort, false)
	cfg.Provider.SMTP.User = ldr.getString("SMTP_USER", "", false)
	cfg.Provider.SMTP.Pass = ldr.getString("SMTP_PASS", "", false)
	cfg.Provider.SMTP.From = ldr.getString("SMTP_FROM", "", false)
	cfg.Provider.SMTP.TLSMode = strings.ToLower(ldr.getString("SMTP_TLS_MODE", TLSModeStartTLS, false))
	switch cfg.Provider.SMTP.TLSMode {
	case TLSModeStartTLS, TLSModeSSL, TLSModeNone:
	default:
		ldr.addError(fmt.Sprintf("SMTP_TLS_MODE must be one of %s, %s, %s", TLSModeStartTLS, TLSModeSSL, TLSModeNone))
	}
	cfg.Provider.SMTP.TimeoutSeconds = ldr.getInt("SMTP_TIMEOUT_SECONDS", DefaultSMTPTimeoutSeconds, false)

	cfg.Provider.Resend.APIKey = ldr.getString("RESEND_API_KEY", "", false)
	cfg.Provider.Resend.BaseURL = ldr.getString("RESEND_BASE_URL", "", false)

	cfg.Sending.RateLimitPerMinute = ldr.getRateLimit("RATE_LIMIT_PER_MINUTE")
	cfg.Sending.IntervalSeconds = ldr.getFloatOrDefault("SEND_INTERVAL_SECONDS", DefaultIntervalSeconds)
	cfg.Sending.MaxAttempts = ldr.getInt("MAX_ATTEMPTS", DefaultMaxAttempts, false)
	if cfg.Sending.MaxAttempts < 1 {
		ldr.addWarning(fmt.Sprintf("MAX_ATTEMPTS must be at least 1, using %d", DefaultMaxAttempts))
		cfg.Sending.MaxAttempts = DefaultMaxAttempts
	}

	cfg.Output.CSVLogPath = ldr.getString("LOG_CSV_PATH", DefaultCSVLogPath, false)
	cfg.Output.SQLitePath = ldr.getString("LOG_SQLITE_PATH", "", false)
	cfg.Output.MetricsFile = ldr.getString("METRICS_FILE", "", false)

	cfg.Status.KafkaBrokers = ldr.getStringSlice("STATUS_KAFKA_BROKERS", false)
	cfg.Status.KafkaTopic = ldr.getString("STATUS_KAFKA_TOPIC", "emaileria.status", false)

	if err := ldr.validate(); err != nil {
		return nil, err
	}
	cfg.Warnings = ldr.warnings
	return cfg, nil
}

// ValidateTransport checks that the selected provider has the credentials it
// needs. Dry runs never call it.
func (c *Config) ValidateTransport() error {
	ldr := &envLoader{}
	switch c.Provider.Name {
	case ProviderSMTP:
		if c.Provider.SMTP.Host == "" {
			ldr.addError("SMTP_HOST is required")
		}
		if c.Provider.SMTP.Port <= 0 || c.Provider.SMTP.Port > 65535 {
			ldr.addError("SMTP_PORT must be between 1 and 65535")
		}
		if c.Provider.SMTP.User != "" && c.Provider.SMTP.Pass == "" {
			ldr.addError("SMTP_PASS is required when SMTP_USER is set")
		}
	case ProviderResend:
		if c.Provider.Resend.APIKey == "" {
			ldr.addError("RESEND_API_KEY is required")
		}
	}
	return ldr.validate()
}

// MinRateLimitPerMinute is the smallest budget a bucket can serve: one
// message needs one whole token.
const MinRateLimitPerMinute = 1.0

// ParseRateLimit converts a user supplied per-minute budget. Unparsable,
// negative, non-finite or sub-1/min values yield the default and a warning;
// zero disables limiting.
func ParseRateLimit(raw string) (float64, string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultRateLimitPerMinute, ""
	}
	v, ok := parsePacing(raw)
	if !ok {
		return DefaultRateLimitPerMinute, fmt.Sprintf("invalid rate limit %q, using %.0f/min", raw, DefaultRateLimitPerMinute)
	}
	return CheckRateLimit(v)
}

// CheckRateLimit applies the rate limit rules to an already parsed value,
// such as one read from a campaign file.
func CheckRateLimit(v float64) (float64, string) {
	if v == 0 {
		return 0, ""
	}
	if math.IsNaN(v) || math.IsInf(v, 0) || v < MinRateLimitPerMinute {
		return DefaultRateLimitPerMinute, fmt.Sprintf("invalid rate limit %v (must be 0 or >= %g/min), using %.0f/min",
			v, MinRateLimitPerMinute, DefaultRateLimitPerMinute)
	}
	return v, ""
}

// parsePacing accepts finite, non-negative decimals with '.' or ','.
func parsePacing(raw string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(raw), ",", "."), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0, false
	}
	return v, true
}

type envLoader struct {
	errs     []string
	warnings []string
}

func (l *envLoader) validate() error {
	if len(l.errs) == 0 {
		return nil
	}
	return fmt.Errorf("config validation failed: %s", strings.Join(l.errs, "; "))
}

func (l *envLoader) getString(key, def string, required bool) string {
	if val, ok := os.LookupEnv(key); ok {
		val = strings.TrimSpace(val)
		if val == "" {
			if required {
				l.addError(fmt.Sprintf("%s is required", key))
			}
			return def
		}
		return val
	}
	if required {
		l.addError(fmt.Sprintf("%s is required", key))
	}
	return def
}

func (l *envLoader) getInt(key string, def int, required bool) int {
	val := l.getString(key, "", required)
	if val == "" {
		return def
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		l.addError(fmt.Sprintf("%s must be a valid integer", key))
		return def
	}
	return i
}

// getFloatOrDefault never fails: malformed, negative or non-finite values
// become def.
func (l *envLoader) getFloatOrDefault(key string, def float64) float64 {
	val := l.getString(key, "", false)
	if val == "" {
		return def
	}
	f, ok := parsePacing(val)
	if !ok {
		l.addWarning(fmt.Sprintf("%s=%q is invalid, using %g", key, val, def))
		return def
	}
	return f
}

func (l *envLoader) getRateLimit(key string) float64 {
	val := l.getString(key, "", false)
	if val == "" {
		return DefaultRateLimitPerMinute
	}
	rate, warning := ParseRateLimit(val)
	if warning != "" {
		l.addWarning(fmt.Sprintf("%s: %s", key, warning))
	}
	return rate
}

func (l *envLoader) getStringSlice(key string, required bool) []string {
	raw := l.getString(key, "", required)
	if raw == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if required && len(out) == 0 {
		l.addError(fmt.Sprintf("%s must contain at least one entry", key))
	}
	return out
}

func (l *envLoader) addError(err string) {
	l.errs = append(l.errs, err)
}

func (l *envLoader) addWarning(msg string) {
	l.warnings = append(l.warnings, msg)
}
