package backend

import (
	"context"
	"fmt"
	"net"

	"github.com/houya/fqsocks/internal/config"
	"github.com/houya/fqsocks/internal/core/domain"
	"github.com/houya/fqsocks/internal/core/ports"
)

// GoAgent dials the configured host:port, writes a GoAgent-style
// fetch-request header, and hands the connection to the shared Relay,
// which sends the session's peeked_data right behind that header.
type GoAgent struct {
	meta     *domain.BackendMeta
	relay    ports.Relay
	addr     string
	appID    string
	password string
}

func NewGoAgent(identity string, cfg config.PrivateServerConfig, priority int, relay ports.Relay) *GoAgent {
	return &GoAgent{
		meta:     domain.NewBackendMeta(domain.BackendGoAgent, identity, priority),
		relay:    relay,
		addr:     net.JoinHostPort(cfg.Host, itoa(cfg.Port)),
		appID:    cfg.AppID,
		password: cfg.GoAgentPassword,
	}
}

func (g *GoAgent) Meta() *domain.BackendMeta { return g.meta }

func (g *GoAgent) Supports(domain.Protocol, *domain.Session) bool { return true }

func (g *GoAgent) Forward(ctx context.Context, session *domain.Session) domain.ForwardResult {
	upstream, err := dialUpstream(ctx, g.addr)
	if err != nil {
		return domain.Fallback(fmt.Sprintf("goagent dial %s: %v", g.addr, err), false, nil)
	}
	session.Own(upstream)

	header := fmt.Sprintf("X-GoAgent-APPID: %s\r\nX-GoAgent-Password: %s\r\n\r\n", g.appID, g.password)
	// The relay flushes session.PeekedData first, right behind this header.
	if _, err := upstream.Write([]byte(header)); err != nil {
		return domain.Fallback(fmt.Sprintf("goagent handshake: %v", err), false, nil)
	}

	return g.relay.Forward(ctx, session, upstream, ports.RelayOptions{})
}

// RefreshGoAgent is the class-level batch health hook: GoAgent
// liveness is decided by the background health scheduler, so class
// refresh is a no-op success, mirroring how stateless pooled backends
// with no bulk refresh step report success trivially.
func RefreshGoAgent(context.Context, []ports.Backend) bool { return true }
