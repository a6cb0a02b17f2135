package fallback

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/houya/fqsocks/internal/core/domain"
	"github.com/houya/fqsocks/internal/core/ports"
)

type stepBackend struct {
	meta   *domain.BackendMeta
	result domain.ForwardResult
	calls  *int
}

func (b *stepBackend) Meta() *domain.BackendMeta { return b.meta }
func (b *stepBackend) Supports(domain.Protocol, *domain.Session) bool { return true }
func (b *stepBackend) Forward(context.Context, *domain.Session) domain.ForwardResult {
	*b.calls++
	return b.result
}

// fixedSelector returns backends from a queue in order, one per Pick call,
// and domain.ErrNoMoreProxy once the queue is drained.
type fixedSelector struct {
	backends []ports.Backend
	i        int
	direct   ports.Backend
}

func (s *fixedSelector) Pick(context.Context, *domain.Session) (ports.Backend, error) {
	if s.i >= len(s.backends) {
		return nil, domain.ErrNoMoreProxy
	}
	b := s.backends[s.i]
	s.i++
	return b, nil
}

func (s *fixedSelector) Direct() ports.Backend { return s.direct }

type fakeRegistry struct {
	shouldFix   bool
	refreshed   int
}

func (r *fakeRegistry) ListBackends() []ports.Backend                  { return nil }
func (r *fakeRegistry) AddBackend(ports.Backend)                       {}
func (r *fakeRegistry) Refresh(context.Context) bool                   { r.refreshed++; return true }
func (r *fakeRegistry) ClearStates()                                   {}
func (r *fakeRegistry) ShouldFix() bool                                { return r.shouldFix }
func (r *fakeRegistry) Flags() *ports.RegistryFlags                    { return &ports.RegistryFlags{} }
func (r *fakeRegistry) LastRefreshStartedAt() time.Time                { return time.Time{} }

func newTestSession(t *testing.T) *domain.Session {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close() })
	return domain.NewSession(server, net.ParseIP("5.6.7.8"), 443, false)
}

func TestHandle_CompletesOnFirstTry(t *testing.T) {
	calls := 0
	backend := &stepBackend{
		meta:   domain.NewBackendMeta(domain.BackendHTTP, "node-1", 0),
		result: domain.Completed(),
		calls:  &calls,
	}
	sel := &fixedSelector{backends: []ports.Backend{backend}}
	c := New(sel, nil, nil, nil)

	c.Handle(context.Background(), newTestSession(t))

	if calls != 1 {
		t.Fatalf("expected exactly 1 Forward call, got %d", calls)
	}
}

func TestHandle_FallsBackThenCompletes(t *testing.T) {
	calls1, calls2 := 0, 0
	b1 := &stepBackend{
		meta:   domain.NewBackendMeta(domain.BackendHTTP, "node-1", 0),
		result: domain.Fallback("refused", false, nil),
		calls:  &calls1,
	}
	b2 := &stepBackend{
		meta:   domain.NewBackendMeta(domain.BackendHTTP, "node-2", 0),
		result: domain.Completed(),
		calls:  &calls2,
	}
	sel := &fixedSelector{backends: []ports.Backend{b1, b2}}
	c := New(sel, nil, nil, nil)

	session := newTestSession(t)
	c.Handle(context.Background(), session)

	if calls1 != 1 || calls2 != 1 {
		t.Fatalf("expected both backends to be tried once, got %d, %d", calls1, calls2)
	}
	if _, tried := session.Tried("node-1"); !tried {
		t.Error("expected node-1 to be recorded as tried")
	}
}

func TestHandle_NoMoreProxyStopsImmediately(t *testing.T) {
	sel := &fixedSelector{backends: nil}
	c := New(sel, nil, nil, nil)

	c.Handle(context.Background(), newTestSession(t))
	// No panic, no hang: Handle must return promptly when Pick always
	// reports ErrNoMoreProxy.
}

func TestHandle_NotHTTPForcesDirectOnceThenGivesUpOnFailure(t *testing.T) {
	calls1, directCalls := 0, 0
	b1 := &stepBackend{
		meta:   domain.NewBackendMeta(domain.BackendHTTP, "node-1", 0),
		result: domain.NotHTTP("not actually http"),
		calls:  &calls1,
	}
	direct := &stepBackend{
		meta:   domain.NewBackendMeta(domain.BackendDirect, "DIRECT", 0),
		result: domain.Fallback("direct refused", true, nil),
		calls:  &directCalls,
	}
	sel := &fixedSelector{backends: []ports.Backend{b1, b1, b1}, direct: direct}
	c := New(sel, nil, nil, nil)

	c.Handle(context.Background(), newTestSession(t))

	if calls1 != 1 {
		t.Fatalf("expected node-1 to be tried exactly once, got %d", calls1)
	}
	if directCalls != 1 {
		t.Fatalf("expected DIRECT to be forced exactly once after a not-HTTP signal, got %d", directCalls)
	}
}

func TestHandle_NotHTTPForcesDirectAndCompletesOnSuccess(t *testing.T) {
	calls1, directCalls := 0, 0
	b1 := &stepBackend{
		meta:   domain.NewBackendMeta(domain.BackendHTTP, "node-1", 0),
		result: domain.NotHTTP("not actually http"),
		calls:  &calls1,
	}
	direct := &stepBackend{
		meta:   domain.NewBackendMeta(domain.BackendDirect, "DIRECT", 0),
		result: domain.Completed(),
		calls:  &directCalls,
	}
	sel := &fixedSelector{backends: []ports.Backend{b1}, direct: direct}
	c := New(sel, nil, nil, nil)

	c.Handle(context.Background(), newTestSession(t))

	if calls1 != 1 || directCalls != 1 {
		t.Fatalf("expected node-1 and DIRECT to each be tried once, got %d, %d", calls1, directCalls)
	}
}

func TestHandle_RefreshesWhenShouldFix(t *testing.T) {
	calls := 0
	backend := &stepBackend{
		meta:   domain.NewBackendMeta(domain.BackendHTTP, "node-1", 0),
		result: domain.Completed(),
		calls:  &calls,
	}
	sel := &fixedSelector{backends: []ports.Backend{backend}}
	reg := &fakeRegistry{shouldFix: true}
	c := New(sel, reg, nil, nil)

	c.Handle(context.Background(), newTestSession(t))

	deadline := time.Now().Add(time.Second)
	for reg.refreshed == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if reg.refreshed == 0 {
		t.Error("expected a fire-and-forget Refresh call when ShouldFix is true")
	}
}

func TestMarkSlow_LatchDisablesAfterNoMoreProxy(t *testing.T) {
	sel := &fixedSelector{backends: nil}
	c := New(sel, nil, nil, nil)

	session := newTestSession(t)
	session.Host = "example.org"
	c.MarkSlow(session)
	if !c.slow.isSlow("example.org") {
		t.Fatal("expected example.org to be marked slow")
	}

	c.Handle(context.Background(), session)

	if c.slow.enabled {
		t.Error("expected host-slow detection to be latched off after NoMoreProxy on a slow host")
	}
	if c.slow.isSlow("example.org") {
		t.Error("expected the slow list to be cleared once the latch trips")
	}
}
