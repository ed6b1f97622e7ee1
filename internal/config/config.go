// Package config loads and validates wsmonitor configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/wsmonitor/internal/bus/pubsub"
	"github.com/JakeFAU/wsmonitor/internal/database"
	collyfetcher "github.com/JakeFAU/wsmonitor/internal/fetcher/colly"
	"github.com/JakeFAU/wsmonitor/internal/logging"
)

const (
	// EnvPrefix prefixes every environment override, e.g. WSMONITOR_DB_HOST.
	EnvPrefix = "WSMONITOR"
	// DirEnv overrides the directory holding the default config file.
	DirEnv = "WSMONITORDIR"

	redacted = "xxxxx"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	DB          DBConfig       `mapstructure:"db" json:"db"`
	PubSub      PubSubConfig   `mapstructure:"pubsub" json:"pubsub"`
	Checker     CheckerConfig  `mapstructure:"checker" json:"checker"`
	Updater     UpdaterConfig  `mapstructure:"updater" json:"updater"`
	Metrics     MetricsConfig  `mapstructure:"metrics" json:"metrics"`
	Logging     logging.Config `mapstructure:"logging" json:"logging"`
	Tracing     TracingConfig  `mapstructure:"tracing" json:"tracing"`
	PrettyPrint bool           `mapstructure:"pretty_print" json:"pretty_print"`
}

// DBConfig controls access to PostgreSQL and the connection pool.
type DBConfig struct {
	DSN                 string        `mapstructure:"dsn" json:"dsn"`
	Host                string        `mapstructure:"host" json:"host"`
	Port                int           `mapstructure:"port" json:"port"`
	Name                string        `mapstructure:"name" json:"name"`
	User                string        `mapstructure:"user" json:"user"`
	Password            string        `mapstructure:"password" json:"password"`
	SSLMode             string        `mapstructure:"sslmode" json:"sslmode"`
	MinConns            int32         `mapstructure:"min_conns" json:"min_conns"`
	MaxConns            int32         `mapstructure:"max_conns" json:"max_conns"`
	GrowthWarnThreshold int32         `mapstructure:"growth_warn_threshold" json:"growth_warn_threshold"`
	InitTimeout         time.Duration `mapstructure:"init_timeout" json:"init_timeout"`
}

// PubSubConfig holds the metric event topic and subscription.
type PubSubConfig struct {
	ProjectID    string        `mapstructure:"project_id" json:"project_id"`
	Topic        string        `mapstructure:"topic" json:"topic"`
	Subscription string        `mapstructure:"subscription" json:"subscription"`
	EmulatorHost string        `mapstructure:"emulator_host" json:"emulator_host"`
	InitTimeout  time.Duration `mapstructure:"init_timeout" json:"init_timeout"`
}

// CheckerConfig governs the poller and the check worker pool.
type CheckerConfig struct {
	Workers    int           `mapstructure:"workers" json:"workers"`
	QueueDepth int           `mapstructure:"queue_depth" json:"queue_depth"`
	Period     time.Duration `mapstructure:"period" json:"period"`
	Timeout    time.Duration `mapstructure:"timeout" json:"timeout"`
	UserAgent  string        `mapstructure:"user_agent" json:"user_agent"`
	// PerHostRPS spaces out checks against one host. Zero disables it.
	PerHostRPS   float64 `mapstructure:"per_host_rps" json:"per_host_rps"`
	PerHostBurst int     `mapstructure:"per_host_burst" json:"per_host_burst"`
}

// UpdaterConfig governs the metric consumer worker pool.
type UpdaterConfig struct {
	Workers    int `mapstructure:"workers" json:"workers"`
	QueueDepth int `mapstructure:"queue_depth" json:"queue_depth"`
}

// MetricsConfig sets the listen address of the metrics endpoint. Empty disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr" json:"addr"`
}

// TracingConfig toggles the OpenTelemetry tracer provider.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled" json:"enabled"`
	ServiceName string `mapstructure:"service_name" json:"service_name"`
}

// DefaultPath returns $WSMONITORDIR/config.yaml, falling back to
// ~/.config/wsmonitor/config.yaml.
func DefaultPath() string {
	dir := os.ExpandEnv(os.Getenv(DirEnv))
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config", "wsmonitor")
	}
	return filepath.Join(dir, "config.yaml")
}

// Resolve picks the config file to load: the explicit path if given, else
// the default path when that file exists, else none.
func Resolve(path string) string {
	if path != "" {
		return path
	}
	def := DefaultPath()
	if def == "" {
		return ""
	}
	if _, err := os.Stat(def); err != nil {
		return ""
	}
	return def
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := newViper()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.name", "wsmonitor")
	v.SetDefault("db.user", "")
	v.SetDefault("db.password", "")
	v.SetDefault("db.sslmode", "prefer")
	v.SetDefault("db.min_conns", 2)
	v.SetDefault("db.max_conns", 0)
	v.SetDefault("db.growth_warn_threshold", database.DefaultGrowthWarnThreshold)
	v.SetDefault("db.init_timeout", 20*time.Second)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "wsmonitor")
	v.SetDefault("pubsub.subscription", "wsmonitor-updater")
	v.SetDefault("pubsub.emulator_host", "")
	v.SetDefault("pubsub.init_timeout", 20*time.Second)
	v.SetDefault("checker.workers", 4)
	v.SetDefault("checker.queue_depth", 8)
	v.SetDefault("checker.period", 20*time.Second)
	v.SetDefault("checker.timeout", 30*time.Second)
	v.SetDefault("checker.user_agent", "wsmonitor/0.1")
	v.SetDefault("checker.per_host_rps", 0.0)
	v.SetDefault("checker.per_host_burst", 1)
	v.SetDefault("updater.workers", 4)
	v.SetDefault("updater.queue_depth", 8)
	v.SetDefault("metrics.addr", "")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 10)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 14)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "wsmonitor")
	v.SetDefault("pretty_print", false)
}

// Keys lists every configuration key accepted by Set.
func Keys() []string {
	keys := newViper().AllKeys()
	slices.Sort(keys)
	return keys
}

// Set writes KEY VALUE pairs to the config file at path, creating it when
// missing. Unknown keys are skipped and returned.
func Set(path string, pairs map[string]string) ([]string, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}
	known := Keys()

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var unknown []string
	for key, value := range pairs {
		key = normalizeKey(key)
		if !slices.Contains(known, key) {
			unknown = append(unknown, key)
			continue
		}
		v.Set(key, coerce(key, value))
	}
	slices.Sort(unknown)

	if err := validate(v.AllSettings()); err != nil {
		return unknown, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return unknown, fmt.Errorf("create config dir: %w", err)
	}
	if err := v.WriteConfigAs(path); err != nil {
		return unknown, fmt.Errorf("write config: %w", err)
	}
	return unknown, nil
}

func validate(settings map[string]any) error {
	v := newViper()
	if err := v.MergeConfigMap(settings); err != nil {
		return fmt.Errorf("merge config: %w", err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg.Validate()
}

// normalizeKey accepts dashed spellings such as db-host or pretty-print.
func normalizeKey(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	if strings.Contains(key, ".") {
		return key
	}
	if section, rest, ok := strings.Cut(key, "-"); ok && section != "pretty" {
		if section == "database" {
			section = "db"
		}
		return section + "." + strings.ReplaceAll(rest, "-", "_")
	}
	return strings.ReplaceAll(key, "-", "_")
}

func coerce(key, value string) any {
	switch key {
	case "pretty_print", "logging.development", "tracing.enabled":
		switch strings.ToLower(value) {
		case "on", "true", "yes", "1":
			return true
		default:
			return false
		}
	}
	return value
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		return fmt.Errorf("db.port must be between 1 and 65535")
	}
	if c.DB.MinConns <= 0 {
		return fmt.Errorf("db.min_conns must be > 0")
	}
	if c.DB.MaxConns < 0 || (c.DB.MaxConns > 0 && c.DB.MaxConns < c.DB.MinConns) {
		return fmt.Errorf("db.max_conns must be 0 or >= db.min_conns")
	}
	if c.Checker.Workers <= 0 {
		return fmt.Errorf("checker.workers must be > 0")
	}
	if c.Checker.QueueDepth <= 0 {
		return fmt.Errorf("checker.queue_depth must be > 0")
	}
	if c.Checker.Period <= 0 {
		return fmt.Errorf("checker.period must be > 0")
	}
	if c.Checker.Timeout <= 0 {
		return fmt.Errorf("checker.timeout must be > 0")
	}
	if c.Checker.PerHostRPS < 0 {
		return fmt.Errorf("checker.per_host_rps must be >= 0")
	}
	if c.Updater.Workers <= 0 {
		return fmt.Errorf("updater.workers must be > 0")
	}
	if c.Updater.QueueDepth <= 0 {
		return fmt.Errorf("updater.queue_depth must be > 0")
	}
	if c.PubSub.Topic == "" {
		return fmt.Errorf("pubsub.topic must be set")
	}
	return nil
}

// Database converts the db section for the pool manager.
func (c Config) Database() database.Config {
	return database.Config{
		DSN:                 c.DB.DSN,
		Host:                c.DB.Host,
		Port:                c.DB.Port,
		Name:                c.DB.Name,
		User:                c.DB.User,
		Password:            c.DB.Password,
		SSLMode:             c.DB.SSLMode,
		MinConns:            c.DB.MinConns,
		MaxConns:            c.DB.MaxConns,
		GrowthWarnThreshold: c.DB.GrowthWarnThreshold,
		InitTimeout:         c.DB.InitTimeout,
	}
}

// Bus converts the pubsub section for the bus client. Outstanding messages
// are bounded by what the updater workers and their queue can hold.
func (c Config) Bus() pubsub.Config {
	return pubsub.Config{
		ProjectID:      c.PubSub.ProjectID,
		Topic:          c.PubSub.Topic,
		Subscription:   c.PubSub.Subscription,
		EmulatorHost:   c.PubSub.EmulatorHost,
		InitTimeout:    c.PubSub.InitTimeout,
		MaxOutstanding: c.Updater.Workers + c.Updater.QueueDepth,
	}
}

// Prober converts the checker section for the HTTP prober.
func (c Config) Prober() collyfetcher.Config {
	return collyfetcher.Config{
		UserAgent: c.Checker.UserAgent,
		Timeout:   c.Checker.Timeout,
	}
}

// Redacted returns a copy safe to print: passwords are masked, including
// one embedded in db.dsn.
func (c Config) Redacted() Config {
	out := c
	if out.DB.Password != "" {
		out.DB.Password = redacted
	}
	if out.DB.DSN != "" {
		if u, err := url.Parse(out.DB.DSN); err == nil && u.User != nil {
			if _, ok := u.User.Password(); ok {
				u.User = url.UserPassword(u.User.Username(), redacted)
				out.DB.DSN = u.String()
			}
		}
	}
	return out
}
