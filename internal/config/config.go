package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	DB        DBConfig        `mapstructure:"db"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Lifecycle LifecycleConfig `mapstructure:"lifecycle"`
	Sweeper   SweeperConfig   `mapstructure:"sweeper"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	HTTPAddr         string        `mapstructure:"http_addr"`
	WSOriginPatterns []string      `mapstructure:"ws_origin_patterns"`
	WSWriteTimeout   time.Duration `mapstructure:"ws_write_timeout"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`

	// File enables a rotating log file next to stdout.
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// QueueConfig selects the task and broadcast backend: "memory" or "redis".
type QueueConfig struct {
	Backend     string        `mapstructure:"backend"`
	Name        string        `mapstructure:"name"`
	Workers     int           `mapstructure:"workers"`
	Buffer      int           `mapstructure:"buffer"`
	PollTimeout time.Duration `mapstructure:"poll_timeout"`
}

type RetryConfig struct {
	MaxRetries int           `mapstructure:"max_retries"`
	BaseDelay  time.Duration `mapstructure:"base_delay"`
	MaxDelay   time.Duration `mapstructure:"max_delay"`
	Jitter     bool          `mapstructure:"jitter"`
}

// LifecycleConfig holds the simulated market latency. ExecuteDelay and CloseDelay
// fall back to StepDelay when zero.
type LifecycleConfig struct {
	StepDelay    time.Duration `mapstructure:"step_delay"`
	ExecuteDelay time.Duration `mapstructure:"execute_delay"`
	CloseDelay   time.Duration `mapstructure:"close_delay"`
}

type SweeperConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Spec       string        `mapstructure:"spec"`
	StaleAfter time.Duration `mapstructure:"stale_after"`
	BatchSize  int           `mapstructure:"batch_size"`
	MaxSweeps  int           `mapstructure:"max_sweeps"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("server.ws_origin_patterns", []string{"*"})
	v.SetDefault("server.ws_write_timeout", "5s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 14)
	v.SetDefault("log.compress", true)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("queue.backend", "redis")
	v.SetDefault("queue.name", "tradesignal")
	v.SetDefault("queue.workers", 8)
	v.SetDefault("queue.buffer", 1024)
	v.SetDefault("queue.poll_timeout", "1s")

	// Mirrors the retry_backoff defaults of the task runner the pipeline replaced.
	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.base_delay", "1s")
	v.SetDefault("retry.max_delay", "10m")
	v.SetDefault("retry.jitter", true)

	v.SetDefault("lifecycle.step_delay", "5s")
	v.SetDefault("lifecycle.execute_delay", "0s")
	v.SetDefault("lifecycle.close_delay", "0s")
	v.SetDefault("sweeper.enabled", true)
	v.SetDefault("sweeper.spec", "@every 1m")
	v.SetDefault("sweeper.stale_after", "5m")
	v.SetDefault("sweeper.batch_size", 100)
	v.SetDefault("sweeper.max_sweeps", 3)

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

func (c LifecycleConfig) Delays() (executeDelay, closeDelay time.Duration) {
	executeDelay, closeDelay = c.ExecuteDelay, c.CloseDelay
	if executeDelay <= 0 {
		executeDelay = c.StepDelay
	}
	if closeDelay <= 0 {
		closeDelay = c.StepDelay
	}
	return executeDelay, closeDelay
}
