package config

import (
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. CYCLONE_SERVER_PORT.
const EnvPrefix = "CYCLONE"

// Config is the static, validated settings object read once at startup.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Middleware  []string          `mapstructure:"middleware" validate:"dive,oneof=request_id logger cors security rate_limit compression auth metrics"`
	CORS        CORSConfig        `mapstructure:"cors"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
	Compression CompressionConfig `mapstructure:"compression"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Store       StoreConfig       `mapstructure:"store"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`

	settings map[string]any
}

// ServerConfig controls the listener and connection handling.
type ServerConfig struct {
	Host    string `mapstructure:"host" validate:"required"`
	Port    int    `mapstructure:"port" validate:"gte=0,lte=65535"`
	Workers int    `mapstructure:"workers" validate:"gte=0"`
	// Debug enables verbose error bodies.
	Debug bool   `mapstructure:"debug"`
	Name  string `mapstructure:"name"`

	MaxHeaderSize  ByteSize `mapstructure:"max_header_size" validate:"gt=0"`
	MaxBodySize    ByteSize `mapstructure:"max_body_size" validate:"gt=0"`
	MaxConnections int      `mapstructure:"max_connections" validate:"gte=0"`

	ReadTimeout     time.Duration `mapstructure:"read_timeout" validate:"gte=0"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" validate:"gte=0"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gte=0"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json console"`
	Output string `mapstructure:"output" validate:"required"`
}

type CORSConfig struct {
	AllowOrigins     []string      `mapstructure:"allow_origins"`
	AllowMethods     []string      `mapstructure:"allow_methods"`
	AllowHeaders     []string      `mapstructure:"allow_headers"`
	ExposeHeaders    []string      `mapstructure:"expose_headers"`
	AllowCredentials bool          `mapstructure:"allow_credentials"`
	MaxAge           time.Duration `mapstructure:"max_age" validate:"gte=0"`
}

type RateLimitConfig struct {
	// Rate is the sustained number of requests per second per client.
	Rate  float64 `mapstructure:"rate" validate:"gt=0"`
	Burst int     `mapstructure:"burst" validate:"gt=0"`
	// IdleTTL evicts limiters of clients not seen for this long.
	IdleTTL time.Duration `mapstructure:"idle_ttl" validate:"gte=0"`
}

type CompressionConfig struct {
	MinSize      ByteSize `mapstructure:"min_size" validate:"gte=0"`
	Level        int      `mapstructure:"level" validate:"gte=-3,lte=9"`
	ContentTypes []string `mapstructure:"content_types"`
}

type AuthConfig struct {
	Tokens       []string `mapstructure:"tokens"`
	ExcludePaths []string `mapstructure:"exclude_paths"`
	Realm        string   `mapstructure:"realm"`
}

type StoreConfig struct {
	Type    string        `mapstructure:"type" validate:"oneof=memory pebble badger"`
	Path    string        `mapstructure:"path" validate:"required_unless=Type memory"`
	Timeout time.Duration `mapstructure:"timeout" validate:"gte=0"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path" validate:"startswith=/"`
}

// ByteSize is a size limit that may be written as "10MB" or "8KiB".
type ByteSize int64

func (b ByteSize) String() string { return humanize.IBytes(uint64(b)) }

// Options selects the configuration sources for Load.
type Options struct {
	// File is an explicit config file (yaml, toml or json). Empty means
	// defaults and environment only.
	File string
	// EnvFile is loaded into the environment first if it exists.
	EnvFile string
	// Flags overrides a few server settings from the command line.
	Flags *pflag.FlagSet
}

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"host":    "server.host",
	"port":    "server.port",
	"workers": "server.workers",
	"debug":   "server.debug",
}

// Load reads configuration with precedence flags > environment > file >
// defaults, then validates it.
func Load(opts Options) (*Config, error) {
	if opts.EnvFile != "" {
		if _, err := os.Stat(opts.EnvFile); err == nil {
			if err := godotenv.Load(opts.EnvFile); err != nil {
				return nil, errors.Wrapf(err, "load env file %s", opts.EnvFile)
			}
		}
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.File != "" {
		v.SetConfigFile(opts.File)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config file %s", opts.File)
		}
	}

	if opts.Flags != nil {
		for name, key := range flagKeys {
			if f := opts.Flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, errors.Wrapf(err, "bind flag %s", name)
				}
			}
		}
	}

	return decode(v)
}

// Default returns the built-in defaults without consulting the
// environment or any file.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg, err := decode(v)
	if err != nil {
		panic(errors.Wrap(err, "invalid built-in defaults"))
	}
	return cfg
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		byteSizeHook,
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	normalize(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}
	cfg.settings = v.AllSettings()
	return &cfg, nil
}

func byteSizeHook(from, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf(ByteSize(0)) || from.Kind() != reflect.String {
		return data, nil
	}
	n, err := humanize.ParseBytes(data.(string))
	if err != nil {
		return nil, errors.Wrapf(err, "parse size %q", data)
	}
	return ByteSize(n), nil
}

func normalize(cfg *Config) {
	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)
	cfg.Logging.Format = strings.ToLower(cfg.Logging.Format)
	cfg.Store.Type = strings.ToLower(cfg.Store.Type)
	for i, m := range cfg.Middleware {
		cfg.Middleware[i] = strings.ToLower(strings.TrimSpace(m))
	}
}

// Addr returns host:port.
func (c *Config) Addr() string {
	return c.Server.Host + ":" + itoa(c.Server.Port)
}

// YAML renders the effective configuration.
func (c *Config) YAML() ([]byte, error) {
	var v any = c.settings
	if c.settings == nil {
		v = c
	}
	out, err := yaml.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "render config")
	}
	return out, nil
}

// Has reports whether the named middleware is enabled.
func (c *Config) Has(middleware string) bool {
	for _, m := range c.Middleware {
		if m == middleware {
			return true
		}
	}
	return false
}
