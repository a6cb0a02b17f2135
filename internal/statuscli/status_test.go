package statuscli

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/houya/fqsocks/internal/core/domain"
	"github.com/houya/fqsocks/internal/core/ports"
	"github.com/houya/fqsocks/pkg/eventbus"
)

type stubBackend struct{ meta *domain.BackendMeta }

func (b *stubBackend) Meta() *domain.BackendMeta                                     { return b.meta }
func (b *stubBackend) Supports(domain.Protocol, *domain.Session) bool                { return true }
func (b *stubBackend) Forward(context.Context, *domain.Session) domain.ForwardResult { return domain.Completed() }

type stubRegistry struct{ backends []ports.Backend }

func (r *stubRegistry) ListBackends() []ports.Backend   { return r.backends }
func (r *stubRegistry) AddBackend(ports.Backend)        {}
func (r *stubRegistry) Refresh(context.Context) bool    { return false }
func (r *stubRegistry) ClearStates()                    {}
func (r *stubRegistry) ShouldFix() bool             { return false }
func (r *stubRegistry) Flags() *ports.RegistryFlags { return &ports.RegistryFlags{} }
func (r *stubRegistry) LastRefreshStartedAt() time.Time { return time.Time{} }

func TestModel_ViewListsBackends(t *testing.T) {
	meta := domain.NewBackendMeta(domain.BackendSSH, "node-1", 3)
	meta.SetDied(true)
	reg := &stubRegistry{backends: []ports.Backend{&stubBackend{meta: meta}}}
	bus := eventbus.New[domain.ProxyEvent]()
	m := newModel(reg, bus)

	out := m.View()
	if !strings.Contains(out, "node-1") {
		t.Fatalf("expected view to list node-1, got:\n%s", out)
	}
	if !strings.Contains(out, "yes") {
		t.Fatalf("expected died backend rendered as yes, got:\n%s", out)
	}
	m.unsubscribe()
}

func TestModel_UpdateTracksSessionCount(t *testing.T) {
	reg := &stubRegistry{}
	bus := eventbus.New[domain.ProxyEvent]()
	m := newModel(reg, bus)
	defer m.unsubscribe()

	next, _ := m.Update(eventMsg(domain.ProxyEvent{Kind: domain.EventBackendSelected}))
	nm := next.(model)
	if nm.sessions != 1 {
		t.Fatalf("sessions = %d, want 1", nm.sessions)
	}

	next, _ = nm.Update(eventMsg(domain.ProxyEvent{Kind: domain.EventSessionCompleted}))
	nm = next.(model)
	if nm.sessions != 0 {
		t.Fatalf("sessions = %d, want 0", nm.sessions)
	}
}
