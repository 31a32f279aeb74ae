// Package config loads process configuration from defaults, an optional YAML
// file, and JAIME_* environment variables, in increasing precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Config is the full configuration surface.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`

	// JobsRoot holds job templates and instance working trees.
	JobsRoot string `mapstructure:"jobs_root"`

	// ResultsRoot holds persisted logs and preserved output files.
	ResultsRoot string `mapstructure:"results_root"`

	// CatalogPath points at the static job catalog YAML.
	CatalogPath string `mapstructure:"catalog_path"`

	// LogFilename is the fixed name of the persisted combined log.
	LogFilename string `mapstructure:"log_filename"`

	// RunTimeout bounds each run's wall-clock time; zero means unlimited.
	RunTimeout time.Duration `mapstructure:"run_timeout"`

	// MaxUploadBytes caps the request body size of submissions.
	MaxUploadBytes int64 `mapstructure:"max_upload_bytes"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	// Runs execute synchronously inside the request, so the write timeout
	// must exceed the run timeout.
	v.SetDefault("server.write_timeout", "120s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("jobs_root", "jobs")
	v.SetDefault("results_root", "output")
	v.SetDefault("catalog_path", "jobs.yaml")
	v.SetDefault("log_filename", "output.log")
	v.SetDefault("run_timeout", "30s")
	v.SetDefault("max_upload_bytes", int64(10*1024*1024))
}

// Load reads configuration. Path may be empty, in which case only defaults
// and environment variables apply.
//
// Environment variables use the JAIME_ prefix with underscores for nesting,
// e.g. JAIME_SERVER_PORT=9000 or JAIME_JOBS_ROOT=/srv/jaime/jobs.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("JAIME")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, decodeHook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}
