package domain

import (
	"sync"
	"sync/atomic"
	"time"
)

// BackendType tags the kind of upstream strategy a Backend implements.
// The first five are real, refreshable pool members sourced from private
// server config or directory lookups; the rest are well-known pseudo-backends
// that the Selector reaches for directly and that never appear in the
// refreshable pool.
type BackendType string

const (
	BackendGoAgent     BackendType = "GoAgent"
	BackendSSH         BackendType = "SSH"
	BackendShadowsocks BackendType = "Shadowsocks"
	BackendHTTP        BackendType = "HTTP"
	BackendSPDY        BackendType = "SPDY"

	BackendDirect          BackendType = "DIRECT"
	BackendHTTPTry         BackendType = "HTTP_TRY"
	BackendHTTPSTry        BackendType = "HTTPS_TRY"
	BackendTCPScrambler    BackendType = "TCP_SCRAMBLER"
	BackendGoogleScrambler BackendType = "GOOGLE_SCRAMBLER"
	BackendNoneProxy       BackendType = "NONE_PROXY"
)

// FlagDirect marks a backend as reaching the destination without any
// encapsulation, used by the selector's direct-access gate.
const FlagDirect = "DIRECT"

// BackendMeta holds the mutable health and identity bookkeeping the registry
// tracks for every pooled backend. Concrete backend implementations hold a
// pointer to it so health-check goroutines can update it concurrently with
// a session reading it during selection.
type BackendMeta struct {
	Type     BackendType
	Identity string
	Priority int
	// ProxyIP is the backend's single reachable exit IP, when it has one,
	// used for US-IP gating. Empty means "unknown / not applicable".
	ProxyIP string

	died        atomic.Bool
	latencyNs   atomic.Int64
	failedTimes atomic.Int64

	flagsMu sync.RWMutex
	flags   map[string]struct{}
}

func NewBackendMeta(typ BackendType, identity string, priority int) *BackendMeta {
	return &BackendMeta{
		Type:     typ,
		Identity: identity,
		Priority: priority,
		flags:    make(map[string]struct{}),
	}
}

func (m *BackendMeta) Died() bool { return m.died.Load() }

func (m *BackendMeta) SetDied(v bool) { m.died.Store(v) }

func (m *BackendMeta) Latency() time.Duration { return time.Duration(m.latencyNs.Load()) }

func (m *BackendMeta) SetLatency(d time.Duration) { m.latencyNs.Store(int64(d)) }

func (m *BackendMeta) FailedTimes() int64 { return m.failedTimes.Load() }

func (m *BackendMeta) IncrementFailedTimes() int64 { return m.failedTimes.Add(1) }

// ClearLatencyRecords resets the latency back to "unknown" (0).
func (m *BackendMeta) ClearLatencyRecords() { m.latencyNs.Store(0) }

func (m *BackendMeta) ClearFailedTimes() { m.failedTimes.Store(0) }

func (m *BackendMeta) SetFlag(flag string) {
	m.flagsMu.Lock()
	defer m.flagsMu.Unlock()
	m.flags[flag] = struct{}{}
}

func (m *BackendMeta) HasFlag(flag string) bool {
	m.flagsMu.RLock()
	defer m.flagsMu.RUnlock()
	_, ok := m.flags[flag]
	return ok
}

func (m *BackendMeta) Flags() []string {
	m.flagsMu.RLock()
	defer m.flagsMu.RUnlock()
	out := make([]string, 0, len(m.flags))
	for f := range m.flags {
		out = append(out, f)
	}
	return out
}
