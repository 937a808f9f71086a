package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all daemon configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Kube       KubeConfig       `mapstructure:"kube"`
	Registry   RegistryConfig   `mapstructure:"registry"`
	Entrypoint EntrypointConfig `mapstructure:"entrypoint"`
	Charts     ChartsConfig     `mapstructure:"charts"`
	Audit      AuditConfig      `mapstructure:"audit"`
	Timeouts   TimeoutsConfig   `mapstructure:"timeouts"`
	Log        LogConfig        `mapstructure:"log"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Address returns the server address in host:port format.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// KubeConfig holds cluster access configuration. An empty kubeconfig means
// in-cluster configuration.
type KubeConfig struct {
	Kubeconfig string `mapstructure:"kubeconfig"`
}

// RegistryConfig locates the port-assignment ConfigMap.
type RegistryConfig struct {
	Namespace string `mapstructure:"namespace"`
	Name      string `mapstructure:"name"`
	// LockFile, when set, serializes registry mutations across daemon
	// processes on the same host.
	LockFile string `mapstructure:"lock_file"`
}

// EntrypointConfig locates the ingress controller Service whose port list
// mirrors the registry.
type EntrypointConfig struct {
	Namespace string `mapstructure:"namespace"`
	Service   string `mapstructure:"service"`
}

// ChartsConfig holds the chart references for the built-in database kinds.
type ChartsConfig struct {
	MySQL string `mapstructure:"mysql"`
	Mongo string `mapstructure:"mongo"`
}

// AuditConfig holds the audit journal configuration. An empty path disables
// journaling.
type AuditConfig struct {
	Path string `mapstructure:"path"`
}

// TimeoutsConfig bounds the manager's cluster operations.
type TimeoutsConfig struct {
	Install   time.Duration `mapstructure:"install"`
	Uninstall time.Duration `mapstructure:"uninstall"`
	Registry  time.Duration `mapstructure:"registry"`
	Reconcile time.Duration `mapstructure:"reconcile"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadConfig loads configuration from file and environment. Every key has a
// default, so a missing config file is not an error unless a path was
// explicitly given and fails to parse.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "10m")
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("kube.kubeconfig", "")

	v.SetDefault("registry.namespace", "ingress-nginx")
	v.SetDefault("registry.name", "tcp-services")
	v.SetDefault("registry.lock_file", "")

	v.SetDefault("entrypoint.namespace", "ingress-nginx")
	v.SetDefault("entrypoint.service", "ingress-nginx-controller")

	v.SetDefault("charts.mysql", "/charts/mysql-class")
	v.SetDefault("charts.mongo", "/charts/mongo-class")

	v.SetDefault("audit.path", "")

	v.SetDefault("timeouts.install", "5m")
	v.SetDefault("timeouts.uninstall", "2m")
	v.SetDefault("timeouts.registry", "30s")
	v.SetDefault("timeouts.reconcile", "30s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigParseError); ok {
				return nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	v.SetEnvPrefix("CLASSDB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

// SetupLogger creates a logger with the configured level and format.
func SetupLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
