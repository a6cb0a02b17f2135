// Package ports defines the narrow interfaces the dispatch engine depends on.
// Concrete implementations live under internal/adapter (host policy included);
// the per-backend wire protocols, the directory DNS client, and the host
// classification tables are external collaborators behind these contracts.
package ports

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"github.com/houya/fqsocks/internal/core/domain"
)

// Backend is the contract every upstream forwarding strategy satisfies,
// whether a real pooled backend (GoAgent, SSH, Shadowsocks, HTTP, SPDY) or
// one of the well-known pseudo-backends (DIRECT, HTTP_TRY, HTTPS_TRY,
// scramblers, NONE_PROXY).
type Backend interface {
	Meta() *domain.BackendMeta
	Supports(protocol domain.Protocol, session *domain.Session) bool
	Forward(ctx context.Context, session *domain.Session) domain.ForwardResult
}

// BackendClass groups the class-level batch refresh hook a backend type
// exposes; invoked by the registry once per type per refresh cycle.
type BackendClass interface {
	Refresh(ctx context.Context, instances []Backend) bool
}

// RegistryFlags are the process-wide runtime-mutable knobs the registry owns.
// Each is independently atomic so selector reads never block registry writes.
type RegistryFlags struct {
	ChinaShortcutEnabled   atomic.Bool
	DirectAccessEnabled    atomic.Bool
	TCPScramblerEnabled    atomic.Bool
	GoogleScramblerEnabled atomic.Bool
	AutoFixEnabled         atomic.Bool
	ForceUSIP              atomic.Bool
	GoAgentPublicEnabled   atomic.Bool
	SSPublicEnabled        atomic.Bool
}

// Registry owns the mutable pool of upstream backends plus the global knobs.
type Registry interface {
	ListBackends() []Backend
	AddBackend(b Backend)
	// Refresh regroups backends by type and invokes each type's batch-refresh
	// hook, guarded by a 60s cooldown. Returns false without doing any work
	// if called again inside the cooldown window.
	Refresh(ctx context.Context) bool
	ClearStates()
	ShouldFix() bool
	Flags() *RegistryFlags
	LastRefreshStartedAt() time.Time
}

// Selector picks the next backend for a session given protocol, destination
// and the session's tried history.
type Selector interface {
	Pick(ctx context.Context, session *domain.Session) (Backend, error)

	// Direct returns the well-known DIRECT pseudo-backend, used by the
	// fallback controller to force a single direct-forward attempt on a
	// not-HTTP signal rather than re-entering Pick.
	Direct() Backend
}

// RelayOptions configures a single Relay.Forward invocation.
type RelayOptions struct {
	ConnectTimeout   time.Duration
	IdleTimeout      time.Duration
	BufSize          int
	Encrypt          func([]byte) []byte
	Decrypt          func([]byte) []byte
	DelayedPenalty   domain.DelayedPenalty
	OnForwardStarted func()
}

// Relay performs the bidirectional copy between a session's downstream
// socket and an already-dialled upstream connection.
type Relay interface {
	Forward(ctx context.Context, session *domain.Session, upstream net.Conn, opts RelayOptions) domain.ForwardResult
}

// Sniffer classifies peeked_data (plus the destination port as a fallback
// heuristic) into a Protocol and, where possible, a host.
type Sniffer interface {
	Sniff(ctx context.Context, session *domain.Session) (domain.Protocol, string)
}

// DirectoryRecord is one instantiated dynamic backend entry produced by a
// directory lookup (see DirectoryClient).
type DirectoryRecord struct {
	Priority int
	Type     domain.BackendType
	Identity string
}

// DirectoryClient resolves the public-backend directory via DNS TXT lookup.
type DirectoryClient interface {
	Lookup(ctx context.Context, name string) ([]DirectoryRecord, error)
}

// HostPolicy is the external, read-through classification surface: LAN
// ranges, China IP/domain sets, US-IP membership, and the GFW wrong-answer
// poisoned-DNS set.
type HostPolicy interface {
	IsLAN(ip net.IP) bool
	IsChinaIP(ip net.IP) bool
	IsChinaDomain(host string) bool
	IsBlockedGoogleHost(host string) bool
	IsGFWWrongAnswer(ip net.IP) bool
	IsUSIP(ip net.IP) bool
}

// FallbackController orchestrates try->fail->retry across backend picks for
// one session, honouring the "no fallback once a byte reached the client"
// invariant.
type FallbackController interface {
	Handle(ctx context.Context, session *domain.Session)
}
