package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App     AppConfig     `mapstructure:"app"`
	Server  ServerConfig  `mapstructure:"server"`
	Log     LogConfig     `mapstructure:"log"`
	DB      DBConfig      `mapstructure:"db"`
	Cron    CronConfig    `mapstructure:"cron"`
	Keeper  KeeperConfig  `mapstructure:"keeper"`
	Oracle  OracleConfig  `mapstructure:"oracle"`
	Trading TradingConfig `mapstructure:"trading"`
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
}

type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
}

type CronConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Keeper        string `mapstructure:"keeper"`
	OrderSweep    string `mapstructure:"order_sweep"`
	PriceSnapshot string `mapstructure:"price_snapshot"`
}

type KeeperConfig struct {
	BatchLimit   int           `mapstructure:"batch_limit"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
}

type OracleConfig struct {
	PrimaryEndpoint  string        `mapstructure:"primary_endpoint"`
	FallbackEndpoint string        `mapstructure:"fallback_endpoint"`
	DexEndpoint      string        `mapstructure:"dex_endpoint"`
	Timeout          time.Duration `mapstructure:"timeout"`
}

type TradingConfig struct {
	// Depth levels returned by the order book snapshot endpoint.
	SnapshotDepth int `mapstructure:"snapshot_depth"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.keeper", "@every 30s")
	v.SetDefault("cron.order_sweep", "@every 1m")
	v.SetDefault("cron.price_snapshot", "@every 5m")
	v.SetDefault("keeper.batch_limit", 50)
	v.SetDefault("keeper.fetch_timeout", "10s")
	v.SetDefault("oracle.primary_endpoint", "https://api.binance.com/api/v3/ticker/price")
	v.SetDefault("oracle.fallback_endpoint", "")
	v.SetDefault("oracle.dex_endpoint", "https://api.dexscreener.com/latest/dex/tokens")
	v.SetDefault("oracle.timeout", "5s")
	v.SetDefault("trading.snapshot_depth", 20)

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}
