package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/yllada/ovpn-mgmt/common"
	"github.com/yllada/ovpn-mgmt/mgmt"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("DefaultConfig().Validate() error = %v", err)
	}
	if got := cfg.ManagementAddress(); got != mgmt.IPAddress("127.0.0.1", 7505) {
		t.Errorf("ManagementAddress() = %v, want 127.0.0.1:7505", got)
	}
	if cfg.Management.CommandTimeout != 30*time.Second {
		t.Errorf("CommandTimeout = %v, want 30s", cfg.Management.CommandTimeout)
	}
	if cfg.Events.CaptureNotifications {
		t.Error("CaptureNotifications should be off by default")
	}
}

func TestLoadFrom_CreatesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.Management.Port != DefaultManagementPort {
		t.Errorf("Port = %d, want %d", cfg.Management.Port, DefaultManagementPort)
	}
	if !common.FileExists(path) {
		t.Fatal("LoadFrom() did not write the default file")
	}

	// The written file loads back to the same values.
	again, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom() second call error = %v", err)
	}
	if again.Health != cfg.Health || again.Management != cfg.Management {
		t.Errorf("reloaded config differs: %+v vs %+v", again.Management, cfg.Management)
	}
}

func TestLoadFrom_Socket(t *testing.T) {
	path := writeConfig(t, `
management:
  socket: /run/openvpn/server.sock
  command_timeout: 5s
events:
  capture_notifications: true
log:
  level: debug
`)

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if got := cfg.ManagementAddress(); got != mgmt.SocketAddress("/run/openvpn/server.sock") {
		t.Errorf("ManagementAddress() = %+v, want socket", got)
	}
	if cfg.Management.CommandTimeout != 5*time.Second {
		t.Errorf("CommandTimeout = %v, want 5s", cfg.Management.CommandTimeout)
	}
	if cfg.Management.ConnectTimeout != common.ConnectionTimeout {
		t.Errorf("ConnectTimeout = %v, want default", cfg.Management.ConnectTimeout)
	}
	if !cfg.Events.CaptureNotifications {
		t.Error("CaptureNotifications = false, want true")
	}
	if got := cfg.LoggerConfig().Level; got != common.LevelDebug {
		t.Errorf("LoggerConfig().Level = %v, want DEBUG", got)
	}
}

func TestLoadFrom_EmptyFile(t *testing.T) {
	cfg, err := LoadFrom(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if got := cfg.ManagementAddress(); got != mgmt.IPAddress("127.0.0.1", DefaultManagementPort) {
		t.Errorf("ManagementAddress() = %v, want default", got)
	}
}

func TestLoadFrom_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr error
	}{
		{"unknown field", "management:\n  hostname: x\n", common.ErrConfigLoad},
		{"both address forms", "management:\n  host: 10.0.0.1\n  port: 7505\n  socket: /tmp/s\n", common.ErrInvalidConfig},
		{"host without port", "management:\n  host: 10.0.0.1\n", common.ErrInvalidConfig},
		{"bad level", "log:\n  level: loud\n", common.ErrInvalidConfig},
		{"negative retention", "journal:\n  retention: -1h\n", common.ErrInvalidConfig},
		{"not yaml", "management: [", common.ErrConfigLoad},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFrom(writeConfig(t, tt.content))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("LoadFrom() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_FillsZeroValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Management.ConnectTimeout = 0
	cfg.Health.Interval = 0
	cfg.Monitor.RefreshInterval = 0

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if cfg.Management.ConnectTimeout != common.ConnectionTimeout {
		t.Errorf("ConnectTimeout = %v, want default", cfg.Management.ConnectTimeout)
	}
	if cfg.Health.Interval != common.HealthCheckInterval {
		t.Errorf("Health.Interval = %v, want default", cfg.Health.Interval)
	}
	if cfg.Monitor.RefreshInterval != common.MonitorInterval {
		t.Errorf("Monitor.RefreshInterval = %v, want default", cfg.Monitor.RefreshInterval)
	}
}

func TestJournalPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Journal.Path = "/var/lib/ovpn-mgmt/events.db"
	if got, err := cfg.JournalPath(); err != nil || got != cfg.Journal.Path {
		t.Errorf("JournalPath() = %q, %v, want %q", got, err, cfg.Journal.Path)
	}

	t.Setenv("HOME", t.TempDir())
	cfg.Journal.Path = ""
	got, err := cfg.JournalPath()
	if err != nil {
		t.Fatalf("JournalPath() error = %v", err)
	}
	if filepath.Base(got) != common.JournalFileName {
		t.Errorf("JournalPath() = %q, want %s in data dir", got, common.JournalFileName)
	}
}

func TestLoggerConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Log.MaxSizeMB = 2
	lc := cfg.LoggerConfig()
	if lc.MaxFileSize != 2*1024*1024 {
		t.Errorf("MaxFileSize = %d, want %d", lc.MaxFileSize, 2*1024*1024)
	}
	if lc.Level != common.LevelInfo {
		t.Errorf("Level = %v, want INFO", lc.Level)
	}
}
