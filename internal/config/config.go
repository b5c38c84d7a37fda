package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"ema-price-alerts/internal/logging"
	"ema-price-alerts/internal/signal"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Market    MarketConfig    `mapstructure:"market"`
	Jobs      []JobConfig     `mapstructure:"jobs"`
	State     StateConfig     `mapstructure:"state"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Server    ServerConfig    `mapstructure:"server"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// SchedulerConfig governs evaluation cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	RunOnStart      bool          `mapstructure:"run_on_start"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// MarketConfig selects and tunes the price history source.
type MarketConfig struct {
	Source    string          `mapstructure:"source"`
	Coinbase  CoinbaseConfig  `mapstructure:"coinbase"`
	Chainlink ChainlinkConfig `mapstructure:"chainlink"`
}

// CoinbaseConfig covers the exchange candles API.
type CoinbaseConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Granularity    time.Duration `mapstructure:"granularity"`
	Candles        int           `mapstructure:"candles"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryWait      time.Duration `mapstructure:"retry_wait"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// ChainlinkConfig covers on-chain price feed access.
type ChainlinkConfig struct {
	RPCURL         string        `mapstructure:"rpc_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxRounds      int           `mapstructure:"max_rounds"`
	Concurrency    int           `mapstructure:"concurrency"`
}

// JobConfig describes one independently persisted alert job.
type JobConfig struct {
	Name              string  `mapstructure:"name"`
	Product           string  `mapstructure:"product"`
	FeedAddress       string  `mapstructure:"feed_address"`
	EMAWindow         int     `mapstructure:"ema_window"`
	FireThresholdPct  float64 `mapstructure:"fire_threshold_pct"`
	ResetThresholdPct float64 `mapstructure:"reset_threshold_pct"`
}

// Thresholds returns the validated engine configuration of the job.
func (j JobConfig) Thresholds() (signal.Config, error) {
	return signal.NewConfig(j.EMAWindow, j.FireThresholdPct, j.ResetThresholdPct)
}

// StateConfig selects where alert state lives.
type StateConfig struct {
	Backend string      `mapstructure:"backend"`
	Dir     string      `mapstructure:"dir"`
	Redis   RedisConfig `mapstructure:"redis"`
}

// RedisConfig configures the redis state backend.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// AlertingConfig defines alert routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Channels []string       `mapstructure:"channels"`
	Slack    SlackConfig    `mapstructure:"slack"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// SlackConfig describes the incoming webhook.
type SlackConfig struct {
	WebhookURL string        `mapstructure:"webhook_url"`
	Channel    string        `mapstructure:"channel"`
	Username   string        `mapstructure:"username"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BotToken string        `mapstructure:"bot_token"`
	ChatID   string        `mapstructure:"chat_id"`
	APIBase  string        `mapstructure:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// ServerConfig configures the slash-command server.
type ServerConfig struct {
	Listen        string        `mapstructure:"listen"`
	Path          string        `mapstructure:"path"`
	SigningSecret string        `mapstructure:"signing_secret"`
	MaxDays       int           `mapstructure:"max_days"`
	ReplayWindow  time.Duration `mapstructure:"replay_window"`
	DefaultDays   []int         `mapstructure:"default_days"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("EMAWATCHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "emawatcher")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "1h")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.run_on_start", false)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x656d6100))

	v.SetDefault("market.source", "coinbase")
	v.SetDefault("market.coinbase.base_url", "https://api.exchange.coinbase.com")
	v.SetDefault("market.coinbase.granularity", "1h")
	v.SetDefault("market.coinbase.candles", 300)
	v.SetDefault("market.coinbase.request_timeout", "10s")
	v.SetDefault("market.coinbase.max_retries", 5)
	v.SetDefault("market.coinbase.retry_wait", "1s")
	v.SetDefault("market.coinbase.user_agent", "emawatcher/1.0")
	v.SetDefault("market.chainlink.request_timeout", "10s")
	v.SetDefault("market.chainlink.max_rounds", 2000)
	v.SetDefault("market.chainlink.concurrency", 8)

	v.SetDefault("jobs", []map[string]any{{
		"name":                "default",
		"product":             "BTC-USD",
		"ema_window":          26,
		"fire_threshold_pct":  2.5,
		"reset_threshold_pct": 1.25,
	}})

	v.SetDefault("state.backend", "file")
	v.SetDefault("state.dir", ".")
	v.SetDefault("state.redis.addr", "localhost:6379")
	v.SetDefault("state.redis.prefix", "emawatcher:")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.channels", []string{"slack"})
	v.SetDefault("alerting.slack.username", "Cryptocorn")
	v.SetDefault("alerting.slack.timeout", "10s")
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.timeout", "10s")

	v.SetDefault("server.listen", ":8080")
	v.SetDefault("server.path", "/slack/crypto")
	v.SetDefault("server.max_days", 10)
	v.SetDefault("server.replay_window", "5m")
	v.SetDefault("server.default_days", []int{7, 28})

	v.SetDefault("export.max_data_points", 1000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}

	switch c.Market.Source {
	case "coinbase":
		if c.Market.Coinbase.Granularity <= 0 {
			return fmt.Errorf("market.coinbase.granularity must be greater than zero")
		}
		if c.Market.Coinbase.Candles <= 0 {
			return fmt.Errorf("market.coinbase.candles must be greater than zero")
		}
	case "chainlink":
		if c.Market.Chainlink.RPCURL == "" {
			return fmt.Errorf("market.chainlink.rpc_url is required for the chainlink source")
		}
	default:
		return fmt.Errorf("market.source %q is not supported", c.Market.Source)
	}

	if len(c.Jobs) == 0 {
		return fmt.Errorf("at least one job must be configured")
	}
	seen := make(map[string]struct{}, len(c.Jobs))
	for i, job := range c.Jobs {
		if job.Name == "" {
			return fmt.Errorf("jobs[%d].name is required", i)
		}
		if _, dup := seen[job.Name]; dup {
			return fmt.Errorf("job %q is configured twice", job.Name)
		}
		seen[job.Name] = struct{}{}
		if job.Product == "" {
			return fmt.Errorf("job %q: product is required", job.Name)
		}
		if c.Market.Source == "chainlink" && job.FeedAddress == "" {
			return fmt.Errorf("job %q: feed_address is required for the chainlink source", job.Name)
		}
		if _, err := job.Thresholds(); err != nil {
			return fmt.Errorf("job %q: %w", job.Name, err)
		}
	}

	switch c.State.Backend {
	case "file":
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres state backend")
		}
	case "redis":
		if c.State.Redis.Addr == "" {
			return fmt.Errorf("state.redis.addr is required for the redis state backend")
		}
	default:
		return fmt.Errorf("state.backend %q is not supported", c.State.Backend)
	}

	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	if c.Server.MaxDays <= 0 {
		return fmt.Errorf("server.max_days must be greater than zero")
	}
	return nil
}

// Job looks up a job by name.
func (c *Config) Job(name string) (JobConfig, error) {
	for _, job := range c.Jobs {
		if job.Name == name {
			return job, nil
		}
	}
	return JobConfig{}, fmt.Errorf("job %q is not configured", name)
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
