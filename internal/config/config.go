// Package config loads the hellopool command configuration from YAML or
// JSON, layered over built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/vnykmshr/hellopool/internal/logging"
	hperrors "github.com/vnykmshr/hellopool/pkg/common/errors"
	"github.com/vnykmshr/hellopool/pkg/common/validation"
	"github.com/vnykmshr/hellopool/pkg/ratelimit/distributed"
	"github.com/vnykmshr/hellopool/pkg/scheduling/workerpool"
)

// Format is a configuration file format.
type Format string

// Supported formats.
const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// ErrUnsupportedFormat is returned for files that are neither YAML nor JSON.
var ErrUnsupportedFormat = errors.New("config: unsupported format")

// Admission modes.
const (
	AdmissionOff   = "off"
	AdmissionLocal = "local"
	AdmissionRedis = "redis"
)

// Config is the complete hellopool configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Pool      PoolConfig      `koanf:"pool"`
	Admission AdmissionConfig `koanf:"admission"`
	Redis     RedisConfig     `koanf:"redis"`
	Log       logging.Config  `koanf:"log"`
	Metrics   MetricsConfig   `koanf:"metrics"`
}

// ServerConfig configures the connection dispatcher.
type ServerConfig struct {
	Addr          string        `koanf:"addr"`
	Name          string        `koanf:"name"`
	ReadTimeout   time.Duration `koanf:"read_timeout"`
	WriteTimeout  time.Duration `koanf:"write_timeout"`
	StatsSchedule string        `koanf:"stats_schedule"`
}

// PoolConfig configures the worker pool.
type PoolConfig struct {
	Workers       int           `koanf:"workers"`
	QueueSize     int           `koanf:"queue_size"`
	TaskTimeout   time.Duration `koanf:"task_timeout"`
	FailurePolicy string        `koanf:"failure_policy"`
}

// AdmissionConfig selects and sizes the connection rate limit.
type AdmissionConfig struct {
	// Mode is off, local or redis.
	Mode string `koanf:"mode"`

	// Rate and Burst size the local token bucket. In redis mode the bucket
	// is the fallback used while Redis is unreachable.
	Rate  float64 `koanf:"rate"`
	Burst int     `koanf:"burst"`

	// Limit connections per Window are shared by all instances in redis mode.
	Limit    int           `koanf:"limit"`
	Window   time.Duration `koanf:"window"`
	Strategy string        `koanf:"strategy"`
	Key      string        `koanf:"key"`
}

// RedisConfig configures the Redis client used by redis admission.
type RedisConfig struct {
	Addr     string        `koanf:"addr"`
	Password string        `koanf:"password"`
	DB       int           `koanf:"db"`
	Timeout  time.Duration `koanf:"timeout"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
	Path    string `koanf:"path"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:          "127.0.0.1:7878",
			Name:          "hellopool",
			ReadTimeout:   5 * time.Second,
			WriteTimeout:  5 * time.Second,
			StatsSchedule: "@every 30s",
		},
		Pool: PoolConfig{
			Workers:       4,
			FailurePolicy: workerpool.FailureRespawn.String(),
		},
		Admission: AdmissionConfig{
			Mode:     AdmissionOff,
			Rate:     100,
			Burst:    200,
			Limit:    100,
			Window:   time.Second,
			Strategy: distributed.FixedWindow.String(),
			Key:      "hellopool:admission",
		},
		Redis: RedisConfig{
			Addr:    "127.0.0.1:6379",
			Timeout: 500 * time.Millisecond,
		},
		Log: logging.DefaultConfig(),
		Metrics: MetricsConfig{
			Addr: "127.0.0.1:9090",
			Path: "/metrics",
		},
	}
}

// Load reads the file at path, picking the parser from its extension.
func Load(path string) (Config, error) {
	format, err := detectFormat(path)
	if err != nil {
		return Config{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, hperrors.NewOperationError("config", "load", err).WithContext(path)
	}
	return LoadBytes(data, format)
}

// LoadBytes parses data and applies it over Default. Keys absent from data
// keep their default values. The result is validated.
func LoadBytes(data []byte, format Format) (Config, error) {
	var parser koanf.Parser
	switch format {
	case FormatYAML:
		parser = yaml.Parser()
	case FormatJSON:
		parser = json.Parser()
	default:
		return Config{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	k := koanf.New(".")
	if len(data) > 0 {
		if err := k.Load(rawbytes.Provider(data), parser); err != nil {
			return Config{}, hperrors.NewOperationError("config", "parse", err).WithContext(string(format))
		}
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Config{}, hperrors.NewOperationError("config", "unmarshal", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func detectFormat(path string) (Format, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: unknown extension %q", ErrUnsupportedFormat, ext)
	}
}

// Validate checks every section and reports all problems found.
func (c Config) Validate() error {
	var errs []error
	check := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	check(validation.ValidateNotEmpty("config", "server.addr", c.Server.Addr))
	check(validation.ValidateTimeout("config", "server.read_timeout", c.Server.ReadTimeout))
	check(validation.ValidateTimeout("config", "server.write_timeout", c.Server.WriteTimeout))

	check(validation.ValidatePositive("config", "pool.workers", c.Pool.Workers))
	check(validation.ValidateNonNegative("config", "pool.queue_size", c.Pool.QueueSize))
	check(validation.ValidateTimeout("config", "pool.task_timeout", c.Pool.TaskTimeout))
	if _, ok := workerpool.ParseFailurePolicy(strings.ToLower(c.Pool.FailurePolicy)); !ok {
		check(hperrors.NewValidationError("config", "pool.failure_policy", c.Pool.FailurePolicy, "unsupported value").
			WithHint("use respawn or retire"))
	}

	check(validation.ValidateOneOf("config", "admission.mode", c.Admission.Mode,
		AdmissionOff, AdmissionLocal, AdmissionRedis))
	switch strings.ToLower(c.Admission.Mode) {
	case AdmissionLocal:
		check(validation.ValidatePositive("config", "admission.rate", c.Admission.Rate))
		check(validation.ValidatePositive("config", "admission.burst", c.Admission.Burst))
	case AdmissionRedis:
		check(validation.ValidatePositive("config", "admission.limit", c.Admission.Limit))
		check(validation.ValidateNotEmpty("config", "admission.key", c.Admission.Key))
		check(validation.ValidatePositive("config", "admission.window", c.Admission.Window))
		check(validation.ValidateNotEmpty("config", "redis.addr", c.Redis.Addr))
		check(validation.ValidateTimeout("config", "redis.timeout", c.Redis.Timeout))
		if _, err := distributed.ParseStrategy(c.Admission.Strategy); err != nil {
			check(err)
		}
	}

	check(c.Log.Validate())

	if c.Metrics.Enabled {
		check(validation.ValidateNotEmpty("config", "metrics.addr", c.Metrics.Addr))
		check(validation.ValidateNotEmpty("config", "metrics.path", c.Metrics.Path))
	}

	return errors.Join(errs...)
}

// Policy returns the parsed pool failure policy.
func (c PoolConfig) Policy() workerpool.FailurePolicy {
	p, _ := workerpool.ParseFailurePolicy(strings.ToLower(c.FailurePolicy))
	return p
}
