// Package config loads and validates gateway configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/migrapass/checkgate/internal/gateway"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig           `mapstructure:"server"`
	Logging LoggingConfig          `mapstructure:"logging"`
	Browser BrowserConfig          `mapstructure:"browser"`
	Captcha CaptchaConfig          `mapstructure:"captcha"`
	Cache   CacheConfig            `mapstructure:"cache"`
	Checks  map[string]CheckConfig `mapstructure:"checks"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port             int `mapstructure:"port"`
	RequestTimeoutMs int `mapstructure:"request_timeout_ms"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// BrowserConfig configures the shared headless browser.
type BrowserConfig struct {
	Headless        bool    `mapstructure:"headless"`
	UserAgent       string  `mapstructure:"user_agent"`
	NavTimeoutMs    int     `mapstructure:"nav_timeout_ms"`
	SelectorWaitMs  int     `mapstructure:"selector_wait_ms"`
	SettleDelayMs   int     `mapstructure:"settle_delay_ms"`
	MaxParallel     int     `mapstructure:"max_parallel"`
	HostQPS         float64 `mapstructure:"host_qps"`
	AcceptLanguage  string  `mapstructure:"accept_language"`
}

// CaptchaConfig configures the third-party solving provider.
type CaptchaConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	APIKey         string `mapstructure:"api_key"`
	BaseURL        string `mapstructure:"base_url"`
	TimeoutMs      int    `mapstructure:"timeout_ms"`
	PollIntervalMs int    `mapstructure:"poll_interval_ms"`
}

// CacheConfig selects the result cache backend.
type CacheConfig struct {
	Backend     string `mapstructure:"backend"`
	RedisURL    string `mapstructure:"redis_url"`
	PoolSize    int    `mapstructure:"pool_size"`
	RetentionMs int    `mapstructure:"retention_ms"`
}

// CheckConfig holds the per-check-type tunables. One section per check
// type, immutable after startup.
type CheckConfig struct {
	Enabled               bool   `mapstructure:"enabled"`
	ServiceURL            string `mapstructure:"service_url"`
	TimeoutMs             int    `mapstructure:"timeout_ms"`
	RetryAttempts         int    `mapstructure:"retry_attempts"`
	RetryBaseDelayMs      int    `mapstructure:"retry_base_delay_ms"`
	RetryMaxDelayMs       int    `mapstructure:"retry_max_delay_ms"`
	BreakerThreshold      int    `mapstructure:"breaker_threshold"`
	BreakerResetTimeoutMs int    `mapstructure:"breaker_reset_timeout_ms"`
	CacheTTLMs            int    `mapstructure:"cache_ttl_ms"`
	WaitSelector          string `mapstructure:"wait_selector"`
	CaptchaSiteKey        string `mapstructure:"captcha_site_key"`
}

// Gateway converts the check section into the resilience wrapper config.
func (c CheckConfig) Gateway(check gateway.CheckType) gateway.Config {
	return gateway.Config{
		Check:               check,
		Enabled:             c.Enabled,
		Timeout:             ms(c.TimeoutMs),
		RetryAttempts:       c.RetryAttempts,
		RetryBaseDelay:      ms(c.RetryBaseDelayMs),
		RetryMaxDelay:       ms(c.RetryMaxDelayMs),
		BreakerThreshold:    c.BreakerThreshold,
		BreakerResetTimeout: ms(c.BreakerResetTimeoutMs),
		CacheTTL:            ms(c.CacheTTLMs),
	}
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CHECKGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_ms", 90000)
	v.SetDefault("logging.development", false)

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.nav_timeout_ms", 45000)
	v.SetDefault("browser.selector_wait_ms", 10000)
	v.SetDefault("browser.settle_delay_ms", 500)
	v.SetDefault("browser.max_parallel", 4)
	v.SetDefault("browser.host_qps", 1.0)
	v.SetDefault("browser.accept_language", "ru-RU")

	v.SetDefault("captcha.enabled", false)
	v.SetDefault("captcha.base_url", "https://rucaptcha.com")
	v.SetDefault("captcha.timeout_ms", 120000)
	v.SetDefault("captcha.poll_interval_ms", 5000)

	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.retention_ms", int(7*24*time.Hour/time.Millisecond))

	for name, url := range defaultServiceURLs {
		prefix := "checks." + name + "."
		v.SetDefault(prefix+"enabled", true)
		v.SetDefault(prefix+"service_url", url)
		v.SetDefault(prefix+"timeout_ms", 30000)
		v.SetDefault(prefix+"retry_attempts", 3)
		v.SetDefault(prefix+"retry_base_delay_ms", 1000)
		v.SetDefault(prefix+"retry_max_delay_ms", 10000)
		v.SetDefault(prefix+"breaker_threshold", 5)
		v.SetDefault(prefix+"breaker_reset_timeout_ms", 60000)
		v.SetDefault(prefix+"cache_ttl_ms", int(24*time.Hour/time.Millisecond))
	}
}

var defaultServiceURLs = map[string]string{
	"debt":        "https://fssp.gov.ru/iss/ip",
	"fines":       "https://check.gibdd.ru/proxy/check/fines",
	"patent":      "https://services.fms.gov.ru/info-service.htm?sid=2060",
	"work_permit": "https://services.fms.gov.ru/info-service.htm?sid=2061",
	"passport":    "https://services.fms.gov.ru/info-service.htm?sid=2000",
	"tax_id":      "https://service.nalog.ru/inn-proc.do",
	"entry_ban":   "https://services.fms.gov.ru/info-service.htm?sid=3000",
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Captcha.Enabled && c.Captcha.APIKey == "" {
		return fmt.Errorf("captcha.api_key must be set when captcha is enabled")
	}
	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Cache.RedisURL == "" {
			return fmt.Errorf("cache.redis_url must be set when cache.backend is redis")
		}
	default:
		return fmt.Errorf("unknown cache backend: %s", c.Cache.Backend)
	}
	for name, check := range c.Checks {
		if _, ok := gateway.ParseCheckType(name); !ok {
			return fmt.Errorf("unknown check type in config: %s", name)
		}
		if check.Enabled && check.ServiceURL == "" {
			return fmt.Errorf("checks.%s.service_url must be set when the check is enabled", name)
		}
	}
	return nil
}

// Check returns the section for the given check type, zero value when the
// section is absent (the check then runs disabled).
func (c Config) Check(t gateway.CheckType) CheckConfig {
	return c.Checks[string(t)]
}

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}
