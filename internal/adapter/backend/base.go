// Package backend provides the pseudo-backends (DIRECT, HTTP_TRY,
// HTTPS_TRY, the scramblers, NONE_PROXY) and the thin real-backend
// adapters (GoAgent, Shadowsocks, SSH, SPDY, HTTP-CONNECT) that
// implement ports.Backend.
package backend

import (
	"context"
	"fmt"
	"net"

	"github.com/houya/fqsocks/internal/core/constants"
	"github.com/houya/fqsocks/internal/core/domain"
	"github.com/houya/fqsocks/internal/core/ports"
)

// dialUpstream dials addr with the relay's connect timeout honoured via
// the dialer's own timeout, since the upstream connection must exist
// before Relay.Forward can set its read deadline on it.
func dialUpstream(ctx context.Context, addr string) (net.Conn, error) {
	d := net.Dialer{Timeout: constants.DefaultConnectTimeout}
	return d.DialContext(ctx, "tcp", addr)
}

// relayVia dials addr, registers the resulting connection with the
// session for guaranteed cleanup, and hands it to relay with opts. A
// dial failure is a pre-start upstream failure: a fallback signal, not a
// fatal error.
func relayVia(ctx context.Context, relay ports.Relay, session *domain.Session, addr string, opts ports.RelayOptions) domain.ForwardResult {
	upstream, err := dialUpstream(ctx, addr)
	if err != nil {
		return domain.Fallback(fmt.Sprintf("dial %s: %v", addr, err), false, opts.DelayedPenalty)
	}
	session.Own(upstream)
	return relay.Forward(ctx, session, upstream, opts)
}

func destAddr(session *domain.Session) string {
	return net.JoinHostPort(session.DstIP.String(), itoa(session.DstPort))
}

func itoa(n int) string {
	return fmt.Sprintf("%d", n)
}
