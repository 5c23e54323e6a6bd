package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/CbIPOKGIT/claimer/proxy"
)

const ENV_PREFIX = "CLAIMER"

// Provider names accepted in captcha.providers
const (
	PROVIDER_AGENT       = "agent"
	PROVIDER_CHECKBOX    = "checkbox"
	PROVIDER_NOPECHA     = "nopecha"
	PROVIDER_TWOCAPTCHA  = "2captcha"
	PROVIDER_ANTICAPTCHA = "anticaptcha"
	PROVIDER_CAPSOLVER   = "capsolver"
)

var DEFAULT_PROVIDERS = []string{
	PROVIDER_AGENT,
	PROVIDER_CHECKBOX,
	PROVIDER_NOPECHA,
	PROVIDER_TWOCAPTCHA,
	PROVIDER_ANTICAPTCHA,
	PROVIDER_CAPSOLVER,
}

// ErrMissingCredential means the auth token is not configured.
var ErrMissingCredential = errors.New("auth token is not configured (AUTH_TOKEN)")

type Config struct {
	Auth        AuthConfig        `mapstructure:"auth"`
	Site        SiteConfig        `mapstructure:"site"`
	Proxy       ProxyConfig       `mapstructure:"proxy"`
	Captcha     CaptchaConfig     `mapstructure:"captcha"`
	Engine      EngineConfig      `mapstructure:"engine"`
	Browser     BrowserConfig     `mapstructure:"browser"`
	Diagnostics DiagnosticsConfig `mapstructure:"diagnostics"`
	Logger      LoggerConfig      `mapstructure:"logger"`
}

type AuthConfig struct {
	Token      string `mapstructure:"token"`
	StorageKey string `mapstructure:"storage_key"`
}

type SiteConfig struct {
	RootURL   string `mapstructure:"root_url"`
	TargetURL string `mapstructure:"target_url"`
}

type ProxyConfig struct {
	// Comma or newline separated
	List string `mapstructure:"list"`

	// Abort when a list is configured and no entry works
	Required bool `mapstructure:"required"`

	ProbeURL     string        `mapstructure:"probe_url"`
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
	Parallelism  int           `mapstructure:"parallelism"`
}

type CaptchaConfig struct {
	Providers       []string      `mapstructure:"providers"`
	FallbackSiteKey string        `mapstructure:"fallback_site_key"`
	Budget          time.Duration `mapstructure:"budget"`
	SyncTimeout     time.Duration `mapstructure:"sync_timeout"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	PollAttempts    int           `mapstructure:"poll_attempts"`

	AgentURL       string `mapstructure:"agent_url"`
	TwoCaptchaKey  string `mapstructure:"twocaptcha_key"`
	AntiCaptchaKey string `mapstructure:"anticaptcha_key"`
	CapSolverKey   string `mapstructure:"capsolver_key"`
	NopeCHAKey     string `mapstructure:"nopecha_key"`
}

type EngineConfig struct {
	// 0 - unbounded, safety_cycles still applies
	MaxCycles       int            `mapstructure:"max_cycles"`
	SafetyCycles    int            `mapstructure:"safety_cycles"`
	CooldownPhrases []string       `mapstructure:"cooldown_phrases"`
	Delays          DelaysConfig   `mapstructure:"delays"`
	Timeouts        TimeoutsConfig `mapstructure:"timeouts"`
}

type DelaysConfig struct {
	PageSettle      time.Duration `mapstructure:"page_settle"`
	ChallengeSettle time.Duration `mapstructure:"challenge_settle"`
	InjectionSettle time.Duration `mapstructure:"injection_settle"`
	ClickSettle     time.Duration `mapstructure:"click_settle"`
	Progress        time.Duration `mapstructure:"progress"`
	CycleSettle     time.Duration `mapstructure:"cycle_settle"`
}

type TimeoutsConfig struct {
	Navigation   time.Duration `mapstructure:"navigation"`
	Action       time.Duration `mapstructure:"action"`
	Interstitial time.Duration `mapstructure:"interstitial"`
	Confirm      time.Duration `mapstructure:"confirm"`
}

type BrowserConfig struct {
	Headless  bool   `mapstructure:"headless"`
	Bin       string `mapstructure:"bin"`
	UserAgent string `mapstructure:"user_agent"`
	Width     int    `mapstructure:"width"`
	Height    int    `mapstructure:"height"`
}

type DiagnosticsConfig struct {
	Dir               string        `mapstructure:"dir"`
	FullPage          bool          `mapstructure:"full_page"`
	ScreenshotTimeout time.Duration `mapstructure:"screenshot_timeout"`
	Progress          bool          `mapstructure:"progress"`
}

type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// SetDefaults initializes default values for every key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("auth.storage_key", "token")

	v.SetDefault("site.root_url", "https://bot-hosting.net/")
	v.SetDefault("site.target_url", "https://bot-hosting.net/panel/earn")

	v.SetDefault("proxy.required", true)
	v.SetDefault("proxy.probe_timeout", "15s")
	v.SetDefault("proxy.parallelism", 1)

	v.SetDefault("captcha.providers", DEFAULT_PROVIDERS)
	v.SetDefault("captcha.fallback_site_key", "10000000-ffff-ffff-ffff-000000000001")
	v.SetDefault("captcha.budget", "3m")
	v.SetDefault("captcha.sync_timeout", "60s")
	v.SetDefault("captcha.poll_interval", "5s")
	v.SetDefault("captcha.poll_attempts", 24)

	v.SetDefault("engine.max_cycles", 10)
	v.SetDefault("engine.safety_cycles", 50)
	v.SetDefault("engine.cooldown_phrases", []string{"you are on cooldown"})
	v.SetDefault("engine.delays.page_settle", "5s")
	v.SetDefault("engine.delays.challenge_settle", "2s")
	v.SetDefault("engine.delays.injection_settle", "2s")
	v.SetDefault("engine.delays.click_settle", "2s")
	v.SetDefault("engine.delays.progress", "20s")
	v.SetDefault("engine.delays.cycle_settle", "3s")
	v.SetDefault("engine.timeouts.navigation", "60s")
	v.SetDefault("engine.timeouts.action", "5s")
	v.SetDefault("engine.timeouts.interstitial", "3s")
	v.SetDefault("engine.timeouts.confirm", "5s")

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.width", 1280)
	v.SetDefault("browser.height", 720)

	v.SetDefault("diagnostics.dir", "debug")
	v.SetDefault("diagnostics.full_page", true)
	v.SetDefault("diagnostics.screenshot_timeout", "10s")
	v.SetDefault("diagnostics.progress", false)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.max_size", 20)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)
}

// legacyEnv keeps the plain variable names of existing deployments working.
var legacyEnv = map[string]string{
	"auth.token":              "AUTH_TOKEN",
	"proxy.list":              "PROXY_SERVER",
	"site.target_url":         "TARGET_URL",
	"engine.max_cycles":       "MAX_CYCLES",
	"captcha.twocaptcha_key":  "TWOCAPTCHA_API_KEY",
	"captcha.anticaptcha_key": "ANTICAPTCHA_KEY",
	"captcha.capsolver_key":   "CAPSOLVER_API_KEY",
	"captcha.nopecha_key":     "NOPECHA_API_KEY",
	"captcha.agent_url":       "CAPTCHA_AGENT_URL",
	"captcha.providers":       "CAPTCHA_PROVIDERS",
	"logger.level":            "LOG_LEVEL",
	"browser.headless":        "HEADLESS",
}

// BindEnv wires CLAIMER_* variables for every key plus the legacy names.
// A prefixed variable wins over its legacy twin. Keys are bound explicitly
// since AutomaticEnv alone misses keys without a default.
func BindEnv(v *viper.Viper) error {
	v.SetEnvPrefix(ENV_PREFIX)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, key := range Keys() {
		names := []string{key, EnvName(key)}
		if legacy, ok := legacyEnv[key]; ok {
			names = append(names, legacy)
		}
		if err := v.BindEnv(names...); err != nil {
			return fmt.Errorf("bind %s: %w", key, err)
		}
	}
	return nil
}

// EnvName is the prefixed variable for key, e.g. logger.file -> CLAIMER_LOGGER_FILE.
func EnvName(key string) string {
	return ENV_PREFIX + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// Keys lists every dotted config key declared by the mapstructure tags of Config.
func Keys() []string {
	return structKeys(reflect.TypeOf(Config{}), "")
}

func structKeys(t reflect.Type, prefix string) []string {
	var keys []string
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}
		key := prefix + tag
		if field.Type.Kind() == reflect.Struct {
			keys = append(keys, structKeys(field.Type, key+".")...)
			continue
		}
		keys = append(keys, key)
	}
	return keys
}

// LoadDotEnv loads .env files into the process environment. Missing files are fine,
// variables already set are never overridden.
func LoadDotEnv(paths ...string) error {
	err := godotenv.Load(paths...)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// Load reads defaults, the optional config file and the environment into v
// and returns the validated configuration.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	SetDefaults(v)
	if err := BindEnv(v); err != nil {
		return nil, err
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("claimer")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	return NewConfigFromViper(v)
}

// NewConfigFromViper unmarshals and validates.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg.Captcha.Providers = splitList(cfg.Captcha.Providers)
	if cfg.Proxy.ProbeURL == "" {
		cfg.Proxy.ProbeURL = cfg.Site.RootURL
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks required fields and sane values.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Auth.Token) == "" {
		return ErrMissingCredential
	}

	for name, raw := range map[string]string{
		"site.root_url":   c.Site.RootURL,
		"site.target_url": c.Site.TargetURL,
		"proxy.probe_url": c.Proxy.ProbeURL,
	} {
		if err := checkURL(raw); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if c.Captcha.AgentURL != "" {
		if err := checkURL(c.Captcha.AgentURL); err != nil {
			return fmt.Errorf("captcha.agent_url: %w", err)
		}
	}

	for name, d := range map[string]time.Duration{
		"proxy.probe_timeout":            c.Proxy.ProbeTimeout,
		"captcha.budget":                 c.Captcha.Budget,
		"captcha.sync_timeout":           c.Captcha.SyncTimeout,
		"captcha.poll_interval":          c.Captcha.PollInterval,
		"engine.timeouts.navigation":     c.Engine.Timeouts.Navigation,
		"engine.timeouts.action":         c.Engine.Timeouts.Action,
		"engine.timeouts.interstitial":   c.Engine.Timeouts.Interstitial,
		"engine.timeouts.confirm":        c.Engine.Timeouts.Confirm,
		"diagnostics.screenshot_timeout": c.Diagnostics.ScreenshotTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be a positive duration", name)
		}
	}

	delays := c.Engine.Delays
	for _, d := range []time.Duration{delays.PageSettle, delays.ChallengeSettle, delays.InjectionSettle, delays.ClickSettle, delays.Progress, delays.CycleSettle} {
		if d < 0 {
			return fmt.Errorf("delays must not be negative")
		}
	}

	if c.Captcha.PollAttempts <= 0 {
		return fmt.Errorf("captcha.poll_attempts must be a positive integer")
	}
	if c.Engine.MaxCycles < 0 {
		return fmt.Errorf("engine.max_cycles must not be negative")
	}
	if c.Engine.SafetyCycles <= 0 {
		return fmt.Errorf("engine.safety_cycles must be a positive integer")
	}
	if c.Proxy.Parallelism <= 0 {
		return fmt.Errorf("proxy.parallelism must be a positive integer")
	}

	for _, name := range c.Captcha.Providers {
		if !slices.Contains(DEFAULT_PROVIDERS, name) {
			return fmt.Errorf("unknown captcha provider %q", name)
		}
	}

	switch c.Logger.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logger.format must be console or json, got %q", c.Logger.Format)
	}
	return nil
}

// Proxies parses the configured proxy list. Malformed entries come back separately.
func (c *Config) Proxies() ([]proxy.Proxy, []string) {
	return proxy.ParseList(c.Proxy.List)
}

func checkURL(raw string) error {
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host in %q", raw)
	}
	return nil
}

// splitList flattens "a,b" style entries that come from a single env variable.
func splitList(items []string) []string {
	var out []string
	for _, item := range items {
		for _, part := range strings.Split(item, ",") {
			if part = strings.ToLower(strings.TrimSpace(part)); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
