package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gezibash/up4w/pkg/provider"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := LoadConfig(viper.New(), "")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if !strings.HasSuffix(cfg.DataDir, ".up4w") {
		t.Errorf("DataDir = %q", cfg.DataDir)
	}
	if cfg.HTTP.Timeout != provider.DefaultHTTPTimeout {
		t.Errorf("HTTP.Timeout = %v", cfg.HTTP.Timeout)
	}
	if cfg.WebSocket.ChunkTimeout != provider.DefaultChunkTimeout {
		t.Errorf("WebSocket.ChunkTimeout = %v", cfg.WebSocket.ChunkTimeout)
	}
	if !cfg.WebSocket.Reconnect.Auto || cfg.WebSocket.Reconnect.Delay != provider.DefaultReconnectDelay {
		t.Errorf("Reconnect = %+v", cfg.WebSocket.Reconnect)
	}
	if cfg.Dedup.Backend != "memory" {
		t.Errorf("Dedup.Backend = %q", cfg.Dedup.Backend)
	}
	if cfg.Launcher.ReadyTimeout != 30*time.Second {
		t.Errorf("Launcher.ReadyTimeout = %v", cfg.Launcher.ReadyTimeout)
	}
	if cfg.Observability.ServiceName != "up4w" || cfg.Observability.LogLevel != "info" {
		t.Errorf("Observability = %+v", cfg.Observability)
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "up4w.yaml")
	content := `
endpoint: ws://127.0.0.1:9000/api
websocket:
  chunk_timeout: 2s
  subprotocols: [up4w]
  headers:
    Authorization: Bearer abc
  reconnect:
    auto: false
    max_attempts: 4
dedup:
  backend: sqlite
  config:
    path: /tmp/up4w-test.db
    ttl: 1h
launcher:
  command: /opt/up4w/host
  args: [--debug]
observability:
  log_level: debug
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(viper.New(), path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Endpoint != "ws://127.0.0.1:9000/api" {
		t.Errorf("Endpoint = %q", cfg.Endpoint)
	}
	ws := cfg.WebSocket
	if ws.ChunkTimeout != 2*time.Second || ws.Reconnect.Auto || ws.Reconnect.MaxAttempts != 4 {
		t.Errorf("WebSocket = %+v", ws)
	}
	if len(ws.Subprotocols) != 1 || ws.Subprotocols[0] != "up4w" {
		t.Errorf("Subprotocols = %v", ws.Subprotocols)
	}
	if ws.Headers["authorization"] != "Bearer abc" {
		t.Errorf("Headers = %v", ws.Headers)
	}
	if cfg.Dedup.Backend != "sqlite" || cfg.Dedup.Config["path"] != "/tmp/up4w-test.db" || cfg.Dedup.Config["ttl"] != "1h" {
		t.Errorf("Dedup = %+v", cfg.Dedup)
	}
	if cfg.Launcher.Command != "/opt/up4w/host" || len(cfg.Launcher.Args) != 1 {
		t.Errorf("Launcher = %+v", cfg.Launcher)
	}
	if cfg.Observability.LogLevel != "debug" {
		t.Errorf("LogLevel = %q", cfg.Observability.LogLevel)
	}
	// Untouched defaults survive.
	if cfg.HTTP.Timeout != provider.DefaultHTTPTimeout {
		t.Errorf("HTTP.Timeout = %v", cfg.HTTP.Timeout)
	}
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	if _, err := LoadConfig(viper.New(), "/nonexistent/up4w/config.hcl"); err == nil {
		t.Error("explicit missing config file should error")
	}
}

func TestLoadConfigEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("UP4W_ENDPOINT", "http://10.0.0.1:8080/cmd")
	t.Setenv("UP4W_HTTP_TIMEOUT", "5s")
	t.Setenv("UP4W_WEBSOCKET_RECONNECT_MAX_ATTEMPTS", "7")

	cfg, err := LoadConfig(viper.New(), "")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Endpoint != "http://10.0.0.1:8080/cmd" {
		t.Errorf("Endpoint = %q", cfg.Endpoint)
	}
	if cfg.HTTP.Timeout != 5*time.Second {
		t.Errorf("HTTP.Timeout = %v", cfg.HTTP.Timeout)
	}
	if cfg.WebSocket.Reconnect.MaxAttempts != 7 {
		t.Errorf("MaxAttempts = %d", cfg.WebSocket.Reconnect.MaxAttempts)
	}
}

func TestBindFlags(t *testing.T) {
	t.Chdir(t.TempDir())
	cmd := &cobra.Command{Use: "test"}
	v := viper.New()
	BindFlags(cmd, v)

	err := cmd.PersistentFlags().Parse([]string{
		"--endpoint", "wss://node.example/api",
		"--dedup", "badger",
		"--log-level", "warn",
		"--log-format", "json",
		"--config", "/etc/up4w/config.hcl",
	})
	if err != nil {
		t.Fatalf("Parse flags: %v", err)
	}

	tests := []struct {
		key  string
		want string
	}{
		{"endpoint", "wss://node.example/api"},
		{"dedup.backend", "badger"},
		{"observability.log_level", "warn"},
		{"observability.log_format", "json"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			if got := v.GetString(tt.key); got != tt.want {
				t.Errorf("v.GetString(%q) = %q, want %q", tt.key, got, tt.want)
			}
		})
	}

	if got := v.GetString("config"); got != "" {
		t.Errorf("config should not be bound to viper, got %q", got)
	}

	cfg, err := LoadConfig(v, "")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Endpoint != "wss://node.example/api" || cfg.Dedup.Backend != "badger" {
		t.Errorf("flags lost after load: %+v", cfg)
	}
}

func TestLoadIntoCustomStruct(t *testing.T) {
	t.Chdir(t.TempDir())
	type watchConfig struct {
		Config `mapstructure:",squash"`
		Filter string `mapstructure:"filter"`
	}
	v := viper.New()
	v.Set("filter", `sender == "alice"`)

	var cfg watchConfig
	if err := LoadInto(v, "UP4W_TEST", "", &cfg); err != nil {
		t.Fatalf("LoadInto: %v", err)
	}
	if cfg.Filter != `sender == "alice"` {
		t.Errorf("Filter = %q", cfg.Filter)
	}
	if cfg.Dedup.Backend != "memory" {
		t.Errorf("squashed defaults missing: %+v", cfg.Dedup)
	}
}
