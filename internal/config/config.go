package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	DB         DBConfig         `mapstructure:"db"`
	Manager    ManagerConfig    `mapstructure:"manager"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	AI         AIConfig         `mapstructure:"ai"`
	MarketData MarketDataConfig `mapstructure:"market_data"`
	Notify     NotifyConfig     `mapstructure:"notify"`
	Cron       CronConfig       `mapstructure:"cron"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
	// Output is "stdout" or "stderr". Workers always log to stderr.
	Output string `mapstructure:"output"`
}

type DBConfig struct {
	// Driver is "sqlite" (embedded, WAL) or "postgres".
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	BusyTimeout     time.Duration `mapstructure:"busy_timeout"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
}

type ManagerConfig struct {
	MaxActive         int           `mapstructure:"max_active"`
	StopGrace         time.Duration `mapstructure:"stop_grace"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	HeartbeatTimeout  time.Duration `mapstructure:"heartbeat_timeout"`
	// WorkerBinary overrides the executable re-run for workers; empty means os.Executable.
	WorkerBinary string `mapstructure:"worker_binary"`
	// InProcess runs workers as goroutines instead of child processes (dev only).
	InProcess bool `mapstructure:"in_process"`
}

type WorkerConfig struct {
	MaxConsecutiveFailures int           `mapstructure:"max_consecutive_failures"`
	RequestTimeout         time.Duration `mapstructure:"request_timeout"`
	// IntervalOverride replaces check_interval_seconds when non-zero.
	IntervalOverride time.Duration `mapstructure:"interval_override"`
}

type AIConfig struct {
	Temperature float64          `mapstructure:"temperature"`
	MaxTokens   int64            `mapstructure:"max_tokens"`
	Timeout     time.Duration    `mapstructure:"timeout"`
	Anthropic   AIProviderConfig `mapstructure:"anthropic"`
	XAI         AIProviderConfig `mapstructure:"xai"`
	DeepSeek    AIProviderConfig `mapstructure:"deepseek"`
}

type AIProviderConfig struct {
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
}

type MarketDataConfig struct {
	Sources          []string      `mapstructure:"sources"`
	Timeout          time.Duration `mapstructure:"timeout"`
	FearGreedEnabled bool          `mapstructure:"fear_greed_enabled"`
	CoinbaseBaseURL  string        `mapstructure:"coinbase_base_url"`
	CoinGeckoBaseURL string        `mapstructure:"coingecko_base_url"`
	BinanceBaseURL   string        `mapstructure:"binance_base_url"`
	FearGreedURL     string        `mapstructure:"fear_greed_url"`
}

type NotifyConfig struct {
	Enabled    bool           `mapstructure:"enabled"`
	Channels   []string       `mapstructure:"channels"`
	MaxRetries int            `mapstructure:"max_retries"`
	Timeout    time.Duration  `mapstructure:"timeout"`
	Telegram   TelegramConfig `mapstructure:"telegram"`
	Discord    DiscordConfig  `mapstructure:"discord"`
	Webhook    WebhookConfig  `mapstructure:"webhook"`
}

type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   int64  `mapstructure:"chat_id"`
}

type DiscordConfig struct {
	BotToken   string `mapstructure:"bot_token"`
	ChannelID  string `mapstructure:"channel_id"`
	WebhookURL string `mapstructure:"webhook_url"`
}

type WebhookConfig struct {
	URL string `mapstructure:"url"`
}

type CronConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	DailySummary      string `mapstructure:"daily_summary"`
	NotificationRetry string `mapstructure:"notification_retry"`
	HeartbeatSweep    string `mapstructure:"heartbeat_sweep"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	Issuer    string        `mapstructure:"issuer"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("AIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	setDefaults(v)

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var ErrInvalid = errors.New("invalid config")

// Validate checks the timing relations the worker protocol relies on. A stop
// lets the in-flight collaborator call finish, and a cycle goes silent for at
// most one call, so both the stop grace and the heartbeat timeout must
// outlast the request timeout.
func (c Config) Validate() error {
	req := c.Worker.RequestTimeout
	if req <= 0 {
		return fmt.Errorf("%w: worker.request_timeout must be positive", ErrInvalid)
	}
	if c.Manager.HeartbeatInterval <= 0 {
		return fmt.Errorf("%w: manager.heartbeat_interval must be positive", ErrInvalid)
	}
	if c.Manager.StopGrace <= req {
		return fmt.Errorf("%w: manager.stop_grace (%s) must exceed worker.request_timeout (%s)", ErrInvalid, c.Manager.StopGrace, req)
	}
	if c.Manager.HeartbeatTimeout <= req {
		return fmt.Errorf("%w: manager.heartbeat_timeout (%s) must exceed worker.request_timeout (%s)", ErrInvalid, c.Manager.HeartbeatTimeout, req)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("log.output", "stdout")

	v.SetDefault("db.driver", "sqlite")
	v.SetDefault("db.dsn", "data/aitrader.db")
	v.SetDefault("db.busy_timeout", "30s")
	v.SetDefault("db.max_open_conns", 8)
	v.SetDefault("db.max_idle_conns", 4)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")

	v.SetDefault("manager.max_active", 5)
	v.SetDefault("manager.stop_grace", "45s")
	v.SetDefault("manager.heartbeat_interval", "5s")
	v.SetDefault("manager.heartbeat_timeout", "60s")
	v.SetDefault("manager.in_process", false)

	v.SetDefault("worker.max_consecutive_failures", 3)
	v.SetDefault("worker.request_timeout", "30s")
	v.SetDefault("worker.interval_override", "0s")

	v.SetDefault("ai.temperature", 0.2)
	v.SetDefault("ai.max_tokens", 800)
	v.SetDefault("ai.timeout", "30s")
	v.SetDefault("ai.anthropic.model", "claude-sonnet-4-20250514")
	v.SetDefault("ai.xai.model", "grok-3-latest")
	v.SetDefault("ai.xai.base_url", "https://api.x.ai/v1")
	v.SetDefault("ai.deepseek.model", "deepseek-chat")
	v.SetDefault("ai.deepseek.base_url", "https://api.deepseek.com/v1")

	v.SetDefault("market_data.sources", []string{"coinbase", "coingecko", "binance"})
	v.SetDefault("market_data.timeout", "10s")
	v.SetDefault("market_data.fear_greed_enabled", true)
	v.SetDefault("market_data.coinbase_base_url", "https://api.exchange.coinbase.com")
	v.SetDefault("market_data.coingecko_base_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("market_data.binance_base_url", "https://api.binance.com/api/v3")
	v.SetDefault("market_data.fear_greed_url", "https://api.alternative.me/fng/")

	v.SetDefault("notify.enabled", true)
	v.SetDefault("notify.channels", []string{"telegram"})
	v.SetDefault("notify.max_retries", 3)
	v.SetDefault("notify.timeout", "10s")
	v.SetDefault("notify.telegram.chat_id", 0)

	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.daily_summary", "0 0 0 * * *")
	v.SetDefault("cron.notification_retry", "@every 5m")
	v.SetDefault("cron.heartbeat_sweep", "@every 10s")

	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", "30s")

	v.SetDefault("auth.issuer", "aitrader")
	v.SetDefault("auth.token_ttl", "24h")

	v.SetDefault("metrics.enabled", true)

	// Keys without a default are invisible to AutomaticEnv during Unmarshal.
	for _, key := range []string{
		"manager.worker_binary",
		"ai.anthropic.api_key", "ai.anthropic.base_url",
		"ai.xai.api_key", "ai.deepseek.api_key",
		"notify.telegram.bot_token",
		"notify.discord.bot_token", "notify.discord.channel_id", "notify.discord.webhook_url",
		"notify.webhook.url",
		"redis.addr", "redis.password",
		"auth.jwt_secret",
	} {
		v.SetDefault(key, "")
	}
}
