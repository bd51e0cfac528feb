// Package config загружает конфигурацию сервисов actionflow.
//
// Источники по возрастанию приоритета: значения по умолчанию,
// config.yaml (опционально), переменные окружения ACTIONFLOW_<SECTION>_<KEY>.
// Для совместимости читаются и короткие имена DB_URL, RABBITMQ_URL,
// LOG_LEVEL, LOG_FORMAT.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/shaiso/actionflow/internal/mq"
	"github.com/shaiso/actionflow/internal/repo"
	"github.com/shaiso/actionflow/internal/telemetry"
	"github.com/shaiso/actionflow/internal/usage"
)

// Config — конфигурация всех бинарников.
type Config struct {
	DB struct {
		URL      string `mapstructure:"url"`
		MaxConns int32  `mapstructure:"max_conns"`
	} `mapstructure:"db"`

	RabbitMQ struct {
		URL      string `mapstructure:"url"`
		Prefetch int    `mapstructure:"prefetch"`
	} `mapstructure:"rabbitmq"`

	Log telemetry.LogConfig `mapstructure:"log"`

	Scheduler  Tick `mapstructure:"scheduler"`
	Dispatcher struct {
		Tick     `mapstructure:",squash"`
		TokenTTL time.Duration `mapstructure:"token_ttl"`
	} `mapstructure:"dispatcher"`
	Reaper struct {
		Tick       `mapstructure:",squash"`
		StaleAfter time.Duration `mapstructure:"stale_after"`
	} `mapstructure:"reaper"`

	Executor struct {
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"executor"`

	Usage   usage.Defaults `mapstructure:"usage"`
	Pricing usage.Pricing  `mapstructure:"pricing"`

	HTTP struct {
		SchedulerPort  int `mapstructure:"scheduler_port"`
		DispatcherPort int `mapstructure:"dispatcher_port"`
		WorkerPort     int `mapstructure:"worker_port"`
	} `mapstructure:"http"`
}

// Tick — общие параметры периодического компонента.
type Tick struct {
	Schedule    string `mapstructure:"schedule"`
	BatchSize   int    `mapstructure:"batch_size"`
	Parallelism int    `mapstructure:"parallelism"`
}

// Load читает конфигурацию. Пустой path — config.yaml из . или ./config,
// если он есть.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix("ACTIONFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		if err := v.BindEnv(key, "ACTIONFLOW_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// legacyEnv — короткие имена переменных, которые понимают docker-compose файлы.
var legacyEnv = map[string]string{
	"db.url":       "DB_URL",
	"rabbitmq.url": "RABBITMQ_URL",
	"log.level":    "LOG_LEVEL",
	"log.format":   "LOG_FORMAT",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("db.url", repo.DefaultURL)
	v.SetDefault("db.max_conns", 10)

	v.SetDefault("rabbitmq.url", mq.DefaultURL)
	v.SetDefault("rabbitmq.prefetch", 4)

	v.SetDefault("log.level", "INFO")
	v.SetDefault("log.format", "json")

	v.SetDefault("scheduler.schedule", "@every 1m")
	v.SetDefault("scheduler.batch_size", 100)
	v.SetDefault("scheduler.parallelism", 8)

	v.SetDefault("dispatcher.schedule", "@every 10s")
	v.SetDefault("dispatcher.batch_size", 100)
	v.SetDefault("dispatcher.parallelism", 8)
	v.SetDefault("dispatcher.token_ttl", time.Hour)

	v.SetDefault("reaper.schedule", "@every 1h")
	v.SetDefault("reaper.batch_size", 100)
	v.SetDefault("reaper.parallelism", 4)
	v.SetDefault("reaper.stale_after", 24*time.Hour)

	v.SetDefault("executor.timeout", 15*time.Minute)

	v.SetDefault("usage.default_limit", 1000.0)
	v.SetDefault("usage.default_burst", 0.1)

	v.SetDefault("pricing.load", usage.DefaultPricing.Load)
	v.SetDefault("pricing.save", usage.DefaultPricing.Save)
	v.SetDefault("pricing.request", usage.DefaultPricing.Request)
	v.SetDefault("pricing.cpu_per_second", usage.DefaultPricing.CPUPerSecond)
	v.SetDefault("pricing.memory_per_second", usage.DefaultPricing.MemoryPerSecond)

	v.SetDefault("http.scheduler_port", 8081)
	v.SetDefault("http.worker_port", 8082)
	v.SetDefault("http.dispatcher_port", 8083)
}

// Validate проверяет значения, которые компоненты не умеют заменить
// значениями по умолчанию.
func (c *Config) Validate() error {
	var errs []error
	if c.DB.URL == "" {
		errs = append(errs, errors.New("db.url is required"))
	}
	if c.Usage.Burst < 0 || c.Usage.Burst > 1 {
		errs = append(errs, fmt.Errorf("usage.default_burst must be in [0, 1], got %v", c.Usage.Burst))
	}
	if c.Dispatcher.TokenTTL < time.Minute {
		errs = append(errs, fmt.Errorf("dispatcher.token_ttl must be at least 1m, got %s", c.Dispatcher.TokenTTL))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
