package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/houya/fqsocks/internal/core/domain"
	"github.com/houya/fqsocks/internal/logger"
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
  port: 0
directory_name: fqrouter.com
private_servers:
  home:
    proxy_type: Shadowsocks
    host: 127.0.0.1
    port: 1
    password: secret
flags:
  auto_fix_enabled: true
  direct_access_enabled: true
`

func newTestApplication(t *testing.T) *Application {
	t.Helper()
	path := writeTempConfig(t, sampleConfig)

	_, styled, cleanup, err := logger.NewWithTheme(&logger.Config{
		Level:      "error",
		FileOutput: false,
		Theme:      "default",
	})
	if err != nil {
		t.Fatalf("NewWithTheme: %v", err)
	}
	t.Cleanup(cleanup)

	application, err := New(time.Now(), styled, path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return application
}

func TestBackendClasses_CoversEveryPooledBackendType(t *testing.T) {
	classes := backendClasses()

	want := []domain.BackendType{
		domain.BackendGoAgent,
		domain.BackendSSH,
		domain.BackendShadowsocks,
		domain.BackendHTTP,
		domain.BackendSPDY,
	}
	for _, bt := range want {
		if _, ok := classes[bt]; !ok {
			t.Errorf("backendClasses() missing entry for %v", bt)
		}
	}
	if len(classes) != len(want) {
		t.Errorf("backendClasses() has %d entries, want %d", len(classes), len(want))
	}
}

func TestNew_WiresPrivateServerIntoRegistry(t *testing.T) {
	application := newTestApplication(t)

	found := false
	for _, b := range application.registry.ListBackends() {
		if b.Meta().Identity == "home" {
			found = true
		}
	}
	if !found {
		t.Error("expected private server \"home\" to be registered as a backend")
	}

	application.addrMu.Lock()
	addr := application.addrs["home"]
	application.addrMu.Unlock()
	if addr != "127.0.0.1:1" {
		t.Errorf("addrs[\"home\"] = %q, want 127.0.0.1:1", addr)
	}
}

func TestHealthCheck_UnregisteredBackendReportsAliveWithoutDialing(t *testing.T) {
	application := newTestApplication(t)

	unregistered := &fakeHealthBackend{identity: "not-in-addrs"}
	alive, latency := application.healthCheck(context.Background(), unregistered)
	if !alive {
		t.Error("expected a backend with no recorded address to report alive (nothing to probe)")
	}
	if latency != 0 {
		t.Errorf("latency = %v, want 0", latency)
	}
}

func TestHealthCheck_DialsRecordedAddress(t *testing.T) {
	application := newTestApplication(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for _, b := range application.registry.ListBackends() {
		if b.Meta().Identity != "home" {
			continue
		}
		// port 1 is not expected to be listening in the test environment,
		// so the dial should fail cleanly rather than hang or panic.
		alive, _ := application.healthCheck(ctx, b)
		if alive {
			t.Error("expected dialling an address nothing is listening on to report not alive")
		}
	}
}

type fakeHealthBackend struct {
	identity string
}

func (f *fakeHealthBackend) Meta() *domain.BackendMeta {
	return domain.NewBackendMeta(domain.BackendDirect, f.identity, 0)
}

func (f *fakeHealthBackend) Supports(domain.Protocol, *domain.Session) bool { return true }

func (f *fakeHealthBackend) Forward(context.Context, *domain.Session) domain.ForwardResult {
	return domain.Completed()
}
