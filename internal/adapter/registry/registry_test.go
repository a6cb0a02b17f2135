package registry

import (
	"context"
	"testing"
	"time"

	"github.com/houya/fqsocks/internal/core/domain"
	"github.com/houya/fqsocks/internal/core/ports"
)

type fakeBackend struct {
	meta     *domain.BackendMeta
	protocol domain.Protocol
}

func newFakeBackend(identity string, protocol domain.Protocol, btype domain.BackendType) *fakeBackend {
	return &fakeBackend{meta: domain.NewBackendMeta(btype, identity, 0), protocol: protocol}
}

func (f *fakeBackend) Meta() *domain.BackendMeta { return f.meta }
func (f *fakeBackend) Supports(protocol domain.Protocol, _ *domain.Session) bool {
	return protocol == f.protocol
}
func (f *fakeBackend) Forward(_ context.Context, _ *domain.Session) domain.ForwardResult {
	return domain.Completed()
}

type fakeClass struct{ ok bool }

func (c *fakeClass) Refresh(_ context.Context, _ []ports.Backend) bool { return c.ok }

func TestAddAndListBackends(t *testing.T) {
	r := New(nil, nil)
	b := newFakeBackend("node-1", domain.ProtocolHTTP, domain.BackendHTTP)
	r.AddBackend(b)

	got := r.ListBackends()
	if len(got) != 1 || got[0].Meta().Identity != "node-1" {
		t.Fatalf("expected 1 backend named node-1, got %v", got)
	}
}

func TestRefresh_CooldownBlocksSecondCall(t *testing.T) {
	classes := map[domain.BackendType]ports.BackendClass{
		domain.BackendHTTP: &fakeClass{ok: true},
	}
	r := New(classes, nil)
	r.AddBackend(newFakeBackend("node-1", domain.ProtocolHTTP, domain.BackendHTTP))

	if !r.Refresh(context.Background()) {
		t.Fatal("expected first refresh to succeed")
	}
	if r.Refresh(context.Background()) {
		t.Fatal("expected second refresh within cooldown to return false")
	}
}

func TestShouldFix_AllHTTPDead(t *testing.T) {
	r := New(nil, nil)
	r.Flags().AutoFixEnabled.Store(true)
	r.Flags().GoAgentPublicEnabled.Store(true)

	b := newFakeBackend("node-1", domain.ProtocolHTTP, domain.BackendHTTP)
	b.meta.SetDied(true)
	r.AddBackend(b)

	if !r.ShouldFix() {
		t.Error("expected ShouldFix to be true when all HTTP backends are dead")
	}
}

func TestShouldFix_NoCandidatesDegradesToFalse(t *testing.T) {
	r := New(nil, nil)
	r.Flags().AutoFixEnabled.Store(true)
	r.Flags().GoAgentPublicEnabled.Store(true)
	r.Flags().SSPublicEnabled.Store(true)

	if r.ShouldFix() {
		t.Error("expected ShouldFix to be false with no backends at all")
	}
}

func TestShouldFix_GoAgentPublicDisabledSkipsHTTPPredicate(t *testing.T) {
	r := New(nil, nil)
	r.Flags().AutoFixEnabled.Store(true)
	// GoAgentPublicEnabled left false: the HTTP predicate must degrade to
	// false even though every HTTP backend has died.

	b := newFakeBackend("node-1", domain.ProtocolHTTP, domain.BackendHTTP)
	b.meta.SetDied(true)
	r.AddBackend(b)

	if r.ShouldFix() {
		t.Error("expected ShouldFix to be false when goagent public servers are disabled")
	}
}

func TestShouldFix_SSPublicEnabledGatesHTTPSPredicate(t *testing.T) {
	r := New(nil, nil)
	r.Flags().AutoFixEnabled.Store(true)
	r.Flags().SSPublicEnabled.Store(true)

	b := newFakeBackend("node-1", domain.ProtocolHTTPS, domain.BackendShadowsocks)
	b.meta.SetDied(true)
	r.AddBackend(b)

	if !r.ShouldFix() {
		t.Error("expected ShouldFix to be true when all HTTPS backends are dead and ss public servers are enabled")
	}
}

func TestShouldFix_DisabledNeverTriggers(t *testing.T) {
	r := New(nil, nil)

	b := newFakeBackend("node-1", domain.ProtocolHTTP, domain.BackendHTTP)
	b.meta.SetDied(true)
	r.AddBackend(b)

	if r.ShouldFix() {
		t.Error("expected ShouldFix to be false when auto-fix disabled")
	}
}

func TestClearStates(t *testing.T) {
	r := New(nil, nil)
	b := newFakeBackend("node-1", domain.ProtocolHTTP, domain.BackendHTTP)
	b.meta.SetDied(true)
	b.meta.IncrementFailedTimes()
	r.AddBackend(b)

	r.ClearStates()

	if b.meta.Died() {
		t.Error("expected Died to be reset")
	}
	if b.meta.FailedTimes() != 0 {
		t.Error("expected FailedTimes to be reset")
	}
}

func TestLastRefreshStartedAt(t *testing.T) {
	r := New(nil, nil)
	if !r.LastRefreshStartedAt().IsZero() {
		t.Fatal("expected zero time before any refresh")
	}

	r.Refresh(context.Background())
	if time.Since(r.LastRefreshStartedAt()) > time.Second {
		t.Error("expected LastRefreshStartedAt to be recent")
	}
}
