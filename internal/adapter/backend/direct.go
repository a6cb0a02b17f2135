package backend

import (
	"context"

	"github.com/houya/fqsocks/internal/core/domain"
	"github.com/houya/fqsocks/internal/core/ports"
)

// Direct dials dst_ip:dst_port with no encapsulation whatsoever.
type Direct struct {
	meta  *domain.BackendMeta
	relay ports.Relay
}

func NewDirect(relay ports.Relay) *Direct {
	m := domain.NewBackendMeta(domain.BackendDirect, string(domain.BackendDirect), 0)
	m.SetFlag(domain.FlagDirect)
	return &Direct{meta: m, relay: relay}
}

func (d *Direct) Meta() *domain.BackendMeta { return d.meta }

func (d *Direct) Supports(domain.Protocol, *domain.Session) bool { return true }

func (d *Direct) Forward(ctx context.Context, session *domain.Session) domain.ForwardResult {
	opts := ports.RelayOptions{}
	return relayVia(ctx, d.relay, session, destAddr(session), opts)
}

// HTTPTry is DIRECT plus plaintext-HTTP-specific tricks; currently
// identical wire behaviour to Direct. The per-host slow list lives in the
// fallback controller; no per-host black list is kept anywhere.
type HTTPTry struct {
	meta  *domain.BackendMeta
	relay ports.Relay
}

func NewHTTPTry(relay ports.Relay) *HTTPTry {
	return &HTTPTry{meta: domain.NewBackendMeta(domain.BackendHTTPTry, string(domain.BackendHTTPTry), 0), relay: relay}
}

func (h *HTTPTry) Meta() *domain.BackendMeta { return h.meta }

func (h *HTTPTry) Supports(p domain.Protocol, _ *domain.Session) bool { return p == domain.ProtocolHTTP }

func (h *HTTPTry) Forward(ctx context.Context, session *domain.Session) domain.ForwardResult {
	opts := ports.RelayOptions{}
	return relayVia(ctx, h.relay, session, destAddr(session), opts)
}

// HTTPSTry is DIRECT used only for HTTPS; its wire behaviour is identical
// to Direct, and no destination black list is kept for it.
type HTTPSTry struct {
	meta  *domain.BackendMeta
	relay ports.Relay
}

func NewHTTPSTry(relay ports.Relay) *HTTPSTry {
	return &HTTPSTry{meta: domain.NewBackendMeta(domain.BackendHTTPSTry, string(domain.BackendHTTPSTry), 0), relay: relay}
}

func (h *HTTPSTry) Meta() *domain.BackendMeta { return h.meta }

func (h *HTTPSTry) Supports(p domain.Protocol, _ *domain.Session) bool {
	return p == domain.ProtocolHTTPS
}

func (h *HTTPSTry) Forward(ctx context.Context, session *domain.Session) domain.ForwardResult {
	opts := ports.RelayOptions{}
	return relayVia(ctx, h.relay, session, destAddr(session), opts)
}

// TCPScrambler and GoogleScrambler are HTTP_TRY variants distinguished
// only by identity/priority for session.tried bookkeeping and selector
// ordering; their wire behaviour is the same direct-dial relay.
type TCPScrambler struct {
	meta  *domain.BackendMeta
	relay ports.Relay
}

func NewTCPScrambler(relay ports.Relay) *TCPScrambler {
	return &TCPScrambler{meta: domain.NewBackendMeta(domain.BackendTCPScrambler, string(domain.BackendTCPScrambler), 0), relay: relay}
}

func (t *TCPScrambler) Meta() *domain.BackendMeta { return t.meta }

func (t *TCPScrambler) Supports(p domain.Protocol, _ *domain.Session) bool {
	return p == domain.ProtocolHTTP
}

func (t *TCPScrambler) Forward(ctx context.Context, session *domain.Session) domain.ForwardResult {
	return relayVia(ctx, t.relay, session, destAddr(session), ports.RelayOptions{})
}

type GoogleScrambler struct {
	meta  *domain.BackendMeta
	relay ports.Relay
}

func NewGoogleScrambler(relay ports.Relay) *GoogleScrambler {
	return &GoogleScrambler{meta: domain.NewBackendMeta(domain.BackendGoogleScrambler, string(domain.BackendGoogleScrambler), 0), relay: relay}
}

func (g *GoogleScrambler) Meta() *domain.BackendMeta { return g.meta }

func (g *GoogleScrambler) Supports(p domain.Protocol, _ *domain.Session) bool {
	return p == domain.ProtocolHTTP
}

func (g *GoogleScrambler) Forward(ctx context.Context, session *domain.Session) domain.ForwardResult {
	return relayVia(ctx, g.relay, session, destAddr(session), ports.RelayOptions{})
}

// NoneProxy is the sink used when DNS pollution is detected: it closes
// the downstream connection without relaying anything.
type NoneProxy struct {
	meta *domain.BackendMeta
}

func NewNoneProxy() *NoneProxy {
	return &NoneProxy{meta: domain.NewBackendMeta(domain.BackendNoneProxy, string(domain.BackendNoneProxy), 0)}
}

func (n *NoneProxy) Meta() *domain.BackendMeta { return n.meta }

func (n *NoneProxy) Supports(domain.Protocol, *domain.Session) bool { return true }

func (n *NoneProxy) Forward(_ context.Context, session *domain.Session) domain.ForwardResult {
	_ = session.Close()
	return domain.Completed()
}
