package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App    AppConfig    `mapstructure:"app"`
	Server ServerConfig `mapstructure:"server"`
	Log    LogConfig    `mapstructure:"log"`
	DB     DBConfig     `mapstructure:"db"`

	Chains    []ChainConfig   `mapstructure:"chains"`
	Detector  DetectorConfig  `mapstructure:"detector"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Executor  ExecutorConfig  `mapstructure:"executor"`
	Custody   CustodyConfig   `mapstructure:"custody"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Refresh   RefreshConfig   `mapstructure:"refresh"`
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

// ChainConfig describes one monitored chain. One RPC client and one
// detector are created per entry.
type ChainConfig struct {
	ChainID        int64         `mapstructure:"chain_id"`
	RPCURL         string        `mapstructure:"rpc_url"`
	FactoryAddress string        `mapstructure:"factory_address"`
	StartBlock     uint64        `mapstructure:"start_block"`
	RPCTimeout     time.Duration `mapstructure:"rpc_timeout"`
}

type DetectorConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	CatchupBatchSize uint64        `mapstructure:"catchup_batch_size"`
	CatchupPause     time.Duration `mapstructure:"catchup_pause"`
}

type SchedulerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Interval     time.Duration `mapstructure:"interval"`
	RecentWindow time.Duration `mapstructure:"recent_window"`
	MaxPools     int           `mapstructure:"max_pools"`
}

type ExecutorConfig struct {
	ConfirmTimeout    time.Duration `mapstructure:"confirm_timeout"`
	ReconcileEnabled  bool          `mapstructure:"reconcile_enabled"`
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
	StaleAfter        time.Duration `mapstructure:"stale_after"`
}

type CustodyConfig struct {
	// SecretHex is the hex-encoded 32-byte AES key wrapping wallet keys.
	SecretHex string `mapstructure:"secret_hex"`
}

type LedgerConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type RefreshConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Cron    string        `mapstructure:"cron"`
	Window  time.Duration `mapstructure:"window"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PP")
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

	v.SetDefault("detector.enabled", true)
	v.SetDefault("detector.poll_interval", "15s")
	v.SetDefault("detector.catchup_batch_size", 1000)
	v.SetDefault("detector.catchup_pause", "100ms")

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval", "1m")
	v.SetDefault("scheduler.recent_window", "30m")
	v.SetDefault("scheduler.max_pools", 200)

	v.SetDefault("executor.confirm_timeout", "3m")
	v.SetDefault("executor.reconcile_enabled", true)
	v.SetDefault("executor.reconcile_interval", "5m")
	v.SetDefault("executor.stale_after", "15m")

	v.SetDefault("ledger.enabled", false)
	v.SetDefault("ledger.timeout", "10s")

	v.SetDefault("refresh.enabled", true)
	v.SetDefault("refresh.cron", "@every 10m")
	v.SetDefault("refresh.window", "24h")

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
