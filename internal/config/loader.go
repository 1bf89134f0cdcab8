package config

import (
	"errors"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gezibash/up4w/pkg/manager"
	"github.com/gezibash/up4w/pkg/provider"
)

// SetDefaults configures the defaults of every Config field.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", DefaultDataDir())
	v.SetDefault("endpoint", "")

	v.SetDefault("http.timeout", provider.DefaultHTTPTimeout)

	v.SetDefault("websocket.chunk_timeout", provider.DefaultChunkTimeout)
	v.SetDefault("websocket.read_limit", provider.DefaultReadLimit)
	v.SetDefault("websocket.reconnect.auto", true)
	v.SetDefault("websocket.reconnect.delay", provider.DefaultReconnectDelay)
	v.SetDefault("websocket.reconnect.on_timeout", false)
	v.SetDefault("websocket.reconnect.max_attempts", 0)

	v.SetDefault("dedup.backend", manager.DefaultDedupBackend)

	v.SetDefault("launcher.appdata", filepath.Join(DefaultDataDir(), "appdata"))
	v.SetDefault("launcher.host", "127.0.0.1")
	v.SetDefault("launcher.ready_timeout", "30s")

	v.SetDefault("observability.log_level", "info")
	v.SetDefault("observability.log_format", "text")
	v.SetDefault("observability.metrics_addr", "")
	v.SetDefault("observability.otlp_endpoint", "")
	v.SetDefault("observability.otlp_protocol", "http")
	v.SetDefault("observability.sample_ratio", 1.0)
	v.SetDefault("observability.service_name", "up4w")
	v.SetDefault("observability.service_version", "dev")
}

// BindFlags registers the persistent flags shared by every command.
func BindFlags(cmd *cobra.Command, v *viper.Viper) {
	f := cmd.PersistentFlags()

	f.String("config", "", "config file path")
	f.StringP("endpoint", "e", "", "peer endpoint (http://, https://, ws:// or wss://)")
	f.String("data-dir", "", "data directory (default ~/.up4w)")
	f.String("dedup", "", "dedup backend (memory, badger, sqlite, redis)")
	f.String("log-level", "", "log level (debug, info, warn, error)")
	f.String("log-format", "", "log format (text, logfmt, json)")
	f.String("otlp-endpoint", "", "OTLP trace collector endpoint")

	_ = v.BindPFlag("endpoint", f.Lookup("endpoint"))
	_ = v.BindPFlag("data_dir", f.Lookup("data-dir"))
	_ = v.BindPFlag("dedup.backend", f.Lookup("dedup"))
	_ = v.BindPFlag("observability.log_level", f.Lookup("log-level"))
	_ = v.BindPFlag("observability.log_format", f.Lookup("log-format"))
	_ = v.BindPFlag("observability.otlp_endpoint", f.Lookup("otlp-endpoint"))
}

// Load reads config from flags, env, and file.
// The envPrefix is used for environment variable lookups (e.g., "UP4W_ENDPOINT").
// The configPaths are directories searched for config.hcl after the working directory.
func Load(v *viper.Viper, envPrefix string, configFile string, configPaths ...string) error {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("hcl")
		v.AddConfigPath(".")
		for _, p := range configPaths {
			v.AddConfigPath(p)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) && configFile != "" {
			return err
		}
	}

	return nil
}

// LoadInto applies defaults, loads config from flags/env/file, and
// unmarshals into cfg.
func LoadInto(v *viper.Viper, envPrefix, configFile string, cfg any, paths ...string) error {
	SetDefaults(v)
	if err := Load(v, envPrefix, configFile, paths...); err != nil {
		return err
	}
	return v.Unmarshal(cfg)
}

// LoadConfig loads a Config with the UP4W prefix, searching ~/.up4w and
// /etc/up4w for config.hcl.
func LoadConfig(v *viper.Viper, configFile string) (Config, error) {
	var cfg Config
	if err := LoadInto(v, EnvPrefix, configFile, &cfg, DefaultDataDir(), "/etc/up4w"); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
