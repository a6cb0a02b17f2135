package backend

import (
	"fmt"

	"github.com/houya/fqsocks/internal/config"
	"github.com/houya/fqsocks/internal/core/domain"
	"github.com/houya/fqsocks/internal/core/ports"
)

// FromPrivateServerConfig constructs the pooled backend named by
// cfg.ProxyType, or an error if the type tag is unrecognised.
func FromPrivateServerConfig(identity string, cfg config.PrivateServerConfig, priority int, relay ports.Relay) (ports.Backend, error) {
	switch domain.BackendType(cfg.ProxyType) {
	case domain.BackendGoAgent:
		return NewGoAgent(identity, cfg, priority, relay), nil
	case domain.BackendSSH:
		return NewSSH(identity, cfg, priority, relay), nil
	case domain.BackendShadowsocks:
		return NewShadowsocks(identity, cfg, priority, relay), nil
	case domain.BackendHTTP:
		return NewHTTPConnect(identity, cfg, priority, relay), nil
	case domain.BackendSPDY:
		return NewSPDY(identity, cfg, priority, relay), nil
	default:
		return nil, fmt.Errorf("backend: unknown proxy_type %q", cfg.ProxyType)
	}
}

// FromDirectoryRecord constructs a pooled backend from a discovered
// directory entry, dialling host/port encoded in rec.Identity via the
// record's own type tag. Directory-sourced backends carry no static
// host/port config beyond their identity, which already embeds the
// dial target as a DNS name.
func FromDirectoryRecord(rec ports.DirectoryRecord, relay ports.Relay) (ports.Backend, error) {
	cfg := config.PrivateServerConfig{
		ProxyType: string(rec.Type),
		Host:      rec.Identity,
		Port:      defaultPortFor(rec.Type),
	}
	return FromPrivateServerConfig(rec.Identity, cfg, rec.Priority, relay)
}

func defaultPortFor(t domain.BackendType) int {
	switch t {
	case domain.BackendSSH:
		return 22
	case domain.BackendShadowsocks:
		return 8388
	case domain.BackendSPDY, domain.BackendHTTP:
		return 443
	case domain.BackendGoAgent:
		return 80
	default:
		return 80
	}
}
