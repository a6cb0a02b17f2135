// Package registry implements the process-wide proxy registry: the
// mutable pool of upstream backends plus the global runtime flags and
// refresh scheduling.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/houya/fqsocks/internal/core/constants"
	"github.com/houya/fqsocks/internal/core/domain"
	"github.com/houya/fqsocks/internal/core/ports"
	"github.com/houya/fqsocks/pkg/eventbus"
)

// ProxyRegistry is the process-wide singleton holding the backend pool
// and the global knobs. The backend table is an xsync.Map so the hot
// selector read path never contends with a refresh-time write.
type ProxyRegistry struct {
	backends *xsync.Map[string, ports.Backend]
	classes  map[domain.BackendType]ports.BackendClass

	flags ports.RegistryFlags

	cooldownMu  sync.Mutex
	lastRefresh time.Time

	fixLatched bool
	fixMu      sync.Mutex

	events *eventbus.EventBus[domain.ProxyEvent]
}

// New builds an empty ProxyRegistry. classes maps each pooled backend
// type to the BackendClass responsible for refreshing instances of that
// type; pseudo-backends (DIRECT, HTTP_TRY, ...) never appear here since
// they are not part of the refreshable pool.
func New(classes map[domain.BackendType]ports.BackendClass, events *eventbus.EventBus[domain.ProxyEvent]) *ProxyRegistry {
	return &ProxyRegistry{
		backends: xsync.NewMap[string, ports.Backend](),
		classes:  classes,
		events:   events,
	}
}

func (r *ProxyRegistry) ListBackends() []ports.Backend {
	out := make([]ports.Backend, 0, r.backends.Size())
	r.backends.Range(func(_ string, b ports.Backend) bool {
		out = append(out, b)
		return true
	})
	return out
}

func (r *ProxyRegistry) AddBackend(b ports.Backend) {
	r.backends.Store(b.Meta().Identity, b)
	r.publish(domain.EventBackendSelected, b.Meta().Identity, "added to registry")
}

// Refresh groups pooled backends by type, invokes each type's batch
// refresh hook, and returns true iff every hook reports success. A call
// within RefreshCooldown of the previous one is a no-op returning false.
func (r *ProxyRegistry) Refresh(ctx context.Context) bool {
	r.cooldownMu.Lock()
	now := time.Now()
	if !r.lastRefresh.IsZero() && now.Sub(r.lastRefresh) < constants.RefreshCooldown {
		r.cooldownMu.Unlock()
		return false
	}
	r.lastRefresh = now
	r.cooldownMu.Unlock()

	grouped := make(map[domain.BackendType][]ports.Backend)
	r.backends.Range(func(_ string, b ports.Backend) bool {
		grouped[b.Meta().Type] = append(grouped[b.Meta().Type], b)
		return true
	})

	allOK := true
	for backendType, instances := range grouped {
		class, ok := r.classes[backendType]
		if !ok {
			continue
		}
		if !class.Refresh(ctx, instances) {
			allOK = false
		}
	}

	r.publish(domain.EventRegistryRefreshed, "", "refresh completed")

	if r.ShouldFix() {
		r.fixMu.Lock()
		r.fixLatched = true
		r.fixMu.Unlock()
		r.publish(domain.EventAutoFixLatched, "", "auto-fix proved ineffective, latched off")
	}

	return allOK
}

func (r *ProxyRegistry) ClearStates() {
	r.backends.Range(func(_ string, b ports.Backend) bool {
		b.Meta().ClearLatencyRecords()
		b.Meta().ClearFailedTimes()
		b.Meta().SetDied(false)
		return true
	})
}

// ShouldFix reports whether auto-fix should trigger: enabled, not
// already latched off by a prior ineffective fix, and either every
// HTTP-capable backend has died or every HTTPS-capable backend has died.
// Each protocol's predicate is itself skipped (degrades to false) when the
// corresponding public-server class is disabled, mirroring the
// goagent_public_servers_enabled/ss_public_servers_enabled gates.
func (r *ProxyRegistry) ShouldFix() bool {
	r.fixMu.Lock()
	latched := r.fixLatched
	r.fixMu.Unlock()

	if latched || !r.flags.AutoFixEnabled.Load() {
		return false
	}

	httpTrigger := false
	if r.flags.GoAgentPublicEnabled.Load() {
		httpDead, httpAny := r.allDeadForProtocol(domain.ProtocolHTTP)
		httpTrigger = httpAny && httpDead
	}

	httpsTrigger := false
	if r.flags.SSPublicEnabled.Load() {
		httpsDead, httpsAny := r.allDeadForProtocol(domain.ProtocolHTTPS)
		httpsTrigger = httpsAny && httpsDead
	}

	return httpTrigger || httpsTrigger
}

// allDeadForProtocol reports (allDied, anyCandidate) for backends whose
// Meta().Type participates in the given protocol's pool. A protocol with
// no candidates at all degrades the predicate to false (anyCandidate is
// false), per the "skipped if disabled" rule.
func (r *ProxyRegistry) allDeadForProtocol(protocol domain.Protocol) (allDied bool, anyCandidate bool) {
	allDied = true
	r.backends.Range(func(_ string, b ports.Backend) bool {
		if !b.Supports(protocol, nil) {
			return true
		}
		anyCandidate = true
		if !b.Meta().Died() {
			allDied = false
		}
		return true
	})
	if !anyCandidate {
		allDied = false
	}
	return allDied, anyCandidate
}

func (r *ProxyRegistry) Flags() *ports.RegistryFlags {
	return &r.flags
}

func (r *ProxyRegistry) LastRefreshStartedAt() time.Time {
	r.cooldownMu.Lock()
	defer r.cooldownMu.Unlock()
	return r.lastRefresh
}

func (r *ProxyRegistry) publish(kind domain.EventKind, backend, reason string) {
	if r.events == nil {
		return
	}
	r.events.PublishAsync(domain.ProxyEvent{
		Kind:    kind,
		Backend: backend,
		Reason:  reason,
	})
}
