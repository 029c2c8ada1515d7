// Package config loads the settings of the outbox binaries from a YAML file, an optional .env file
// and OUTBOX_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "OUTBOX_"

// Store drivers.
const (
	DriverBolt   = "bolt"
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// Remote drivers.
const (
	RemoteHTTP  = "http"
	RemoteMySQL = "mysql"
)

// Config is the full binary configuration.
type Config struct {
	Store   Store   `yaml:"store" envPrefix:"STORE_"`
	Outbox  Outbox  `yaml:"outbox" envPrefix:"OUTBOX_"`
	Remote  Remote  `yaml:"remote" envPrefix:"REMOTE_"`
	Probe   Probe   `yaml:"probe" envPrefix:"PROBE_"`
	Metrics Metrics `yaml:"metrics" envPrefix:"METRICS_"`
	Log     Log     `yaml:"log" envPrefix:"LOG_"`
	Tracing Tracing `yaml:"tracing" envPrefix:"TRACING_"`

	// ActorUID is the authenticated actor the daemon flushes for.
	ActorUID string `yaml:"actor_uid" env:"ACTOR_UID"`
}

// Store selects the local queue backend.
type Store struct {
	Driver string `yaml:"driver" env:"DRIVER"`
	Path   string `yaml:"path" env:"PATH"`
}

// Outbox tunes the flush worker.
type Outbox struct {
	FlushInterval time.Duration `yaml:"flush_interval" env:"FLUSH_INTERVAL"`
	NudgeDelay    time.Duration `yaml:"nudge_delay" env:"NUDGE_DELAY"`
	ApplyTimeout  time.Duration `yaml:"apply_timeout" env:"APPLY_TIMEOUT"`
	BackoffBase   time.Duration `yaml:"backoff_base" env:"BACKOFF_BASE"`
	BackoffMax    time.Duration `yaml:"backoff_max" env:"BACKOFF_MAX"`
}

// Remote points at the system of record: the user service over HTTP, or its MySQL database.
type Remote struct {
	Driver  string        `yaml:"driver" env:"DRIVER"`
	BaseURL string        `yaml:"base_url" env:"BASE_URL"`
	Token   string        `yaml:"token" env:"TOKEN"`
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// DevAddr, when set, serves an in-memory user service on that address and points BaseURL at it.
	DevAddr string `yaml:"dev_addr" env:"DEV_ADDR"`
	// DSN is the go-sql-driver/mysql data source name used by the mysql driver.
	DSN string `yaml:"dsn" env:"DSN"`
}

// Probe configures connectivity detection. An empty Address derives it from Remote.BaseURL.
type Probe struct {
	Address  string        `yaml:"address" env:"ADDRESS"`
	Interval time.Duration `yaml:"interval" env:"INTERVAL"`
}

// Metrics configures the /metrics listener. An empty Addr disables it.
type Metrics struct {
	Addr string `yaml:"addr" env:"ADDR"`
}

// Log configures logging.
type Log struct {
	Env   string `yaml:"env" env:"ENV"`
	Level string `yaml:"level" env:"LEVEL"`
}

// Tracing configures span export over OTLP/HTTP. An empty Endpoint disables it.
type Tracing struct {
	Endpoint    string  `yaml:"endpoint" env:"ENDPOINT"`
	ServiceName string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRatio float64 `yaml:"sample_ratio" env:"SAMPLE_RATIO"`
}

// Load reads path (optional when empty), then dotenv files (missing files are skipped), then the
// environment, applies defaults and validates.
func Load(path string, dotenv ...string) (Config, error) {
	var cfg Config
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	for _, file := range dotenv {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("config: load %s: %w", file, err)
		}
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("config: parse env: %w", err)
	}

	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) withDefaults() Config {
	if c.Store.Driver == "" {
		c.Store.Driver = DriverBolt
	}
	if c.Store.Path == "" && c.Store.Driver != DriverMemory {
		c.Store.Path = "outbox.db"
	}
	if c.Outbox.FlushInterval <= 0 {
		c.Outbox.FlushInterval = 30 * time.Second
	}
	if c.Outbox.NudgeDelay <= 0 {
		c.Outbox.NudgeDelay = 750 * time.Millisecond
	}
	if c.Remote.Driver == "" {
		c.Remote.Driver = RemoteHTTP
	}
	if c.Remote.Timeout <= 0 {
		c.Remote.Timeout = 15 * time.Second
	}
	if c.Remote.BaseURL == "" && c.Remote.DevAddr != "" {
		c.Remote.BaseURL = "http://" + devDialAddr(c.Remote.DevAddr)
	}
	if c.Probe.Interval <= 0 {
		c.Probe.Interval = 5 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "outboxd"
	}

	return c
}

// Validate reports configuration that cannot work.
func (c Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case DriverBolt, DriverSQLite, DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("config: unknown store driver %q", c.Store.Driver))
	}
	switch c.Remote.Driver {
	case RemoteHTTP:
	case RemoteMySQL:
		if c.Remote.DSN == "" {
			errs = append(errs, errors.New("config: remote dsn is required for the mysql driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("config: unknown remote driver %q", c.Remote.Driver))
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("config: tracing sample_ratio %v is outside [0, 1]", c.Tracing.SampleRatio))
	}
	if c.Outbox.BackoffMax > 0 && c.Outbox.BackoffBase > c.Outbox.BackoffMax {
		errs = append(errs, errors.New("config: backoff_base must not exceed backoff_max"))
	}

	return errors.Join(errs...)
}

func devDialAddr(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "127.0.0.1" + addr
	}

	return addr
}
