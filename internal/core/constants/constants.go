// Package constants collects the small, per-concern default values the
// dispatch engine is built around, grouped the way the upstream reference
// code scatters them across its modules.
package constants

import "time"

const (
	DefaultListenHost = "127.0.0.1"
	DefaultListenPort = 8388

	DefaultHTTPPort  = 80
	DefaultHTTPSPort = 443

	// GooglePushPort is dst_port 5228, the Google Cloud Messaging / push
	// service port that gets an infinite idle timeout instead of the default.
	GooglePushPort = 5228

	DefaultConnectTimeout = 7 * time.Second
	DefaultIdleTimeout    = 360 * time.Second
	DefaultBufSize        = 8192
	MaxBufferMultiplier   = 16

	SniffWait = 100 * time.Millisecond

	RefreshCooldown = 60 * time.Second

	DirectoryMaxAttempts  = 8
	DirectoryBaseBackoff  = 1 * time.Second
	DirectoryMaxBackoff   = 128 * time.Second
	DirectoryDNSServer    = "8.8.8.8:53"
	DirectoryDomainSuffix = ".fqrouter.com"

	HealthCheckInterval = 30 * time.Second
	HealthCheckTimeout  = 5 * time.Second
	MaxBackoffMultiplier = 12

	// DefaultMaxBackoffSeconds caps calculated backoff durations (health-check
	// backoff, connection-retry backoff) at a sane ceiling.
	DefaultMaxBackoffSeconds = 128 * time.Second

	ConnectionRetryBackoffMultiplier = 2

	// PeerCloseErrnoWindowsConnReset   = 10054
	// PeerCloseErrnoWindowsConnAborted = 10053
	// PeerCloseErrnoWindowsShutdown    = 10057
	// are handled via syscall.Errno comparisons in the relay, not as
	// package-level constants, since their numeric values are platform
	// specific (see internal/relay).
)

// KnownBackendTypes is the set of real (non-pseudo) backend type tags a
// private_servers config entry or a directory TXT record may reference.
var KnownBackendTypes = map[string]bool{
	"GoAgent":     true,
	"SSH":         true,
	"Shadowsocks": true,
	"HTTP":        true,
	"SPDY":        true,
}
