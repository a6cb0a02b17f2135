package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/houya/fqsocks/internal/core/ports"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

const sampleConfig = `
listen:
  host: 127.0.0.1
  port: 8388
directory_name: fqrouter.com
private_servers:
  home:
    proxy_type: Shadowsocks
    host: 1.2.3.4
    port: 8000
    password: secret
    encrypt_method: aes-256-cfb
public_servers:
  source: china.fqrouter.com
  shadowsocks_enabled: true
flags:
  auto_fix_enabled: true
  china_shortcut_enabled: true
  direct_access_enabled: true
`

func TestLoad_DecodesPrivateServers(t *testing.T) {
	path := writeTempConfig(t, sampleConfig)

	cfg, _, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	home, ok := cfg.PrivateServers["home"]
	if !ok {
		t.Fatal("expected private server \"home\"")
	}
	if home.ProxyType != "Shadowsocks" {
		t.Errorf("ProxyType = %q, want Shadowsocks", home.ProxyType)
	}
	if home.Port != 8000 {
		t.Errorf("Port = %d, want 8000", home.Port)
	}
}

func TestLoad_PublicServersEnabled(t *testing.T) {
	path := writeTempConfig(t, sampleConfig)

	cfg, _, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if !cfg.PublicServers.Enabled("Shadowsocks") {
		t.Error("expected Shadowsocks to be enabled")
	}
	if cfg.PublicServers.Enabled("SPDY") {
		t.Error("expected SPDY to be disabled by default")
	}
}

func TestConfig_USIPCachePath(t *testing.T) {
	path := writeTempConfig(t, sampleConfig)

	cfg, _, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	want := filepath.Join(filepath.Dir(path), "us_ip")
	if got := cfg.USIPCachePath(); got != want {
		t.Errorf("USIPCachePath() = %q, want %q", got, want)
	}
}

func TestApplyFlags_SeedsRegistryFlags(t *testing.T) {
	path := writeTempConfig(t, sampleConfig)

	cfg, _, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	var flags ports.RegistryFlags
	ApplyFlags(&flags, cfg.Flags)

	if !flags.AutoFixEnabled.Load() {
		t.Error("expected AutoFixEnabled to be seeded true")
	}
	if !flags.ChinaShortcutEnabled.Load() {
		t.Error("expected ChinaShortcutEnabled to be seeded true")
	}
	if flags.ForceUSIP.Load() {
		t.Error("expected ForceUSIP to default false")
	}
}
