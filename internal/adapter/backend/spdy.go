package backend

import (
	"context"
	"crypto/tls"
	"fmt"

	"golang.org/x/net/http2"

	"github.com/houya/fqsocks/internal/config"
	"github.com/houya/fqsocks/internal/core/constants"
	"github.com/houya/fqsocks/internal/core/domain"
	"github.com/houya/fqsocks/internal/core/ports"
)

// SPDY dials host:port over TLS and multiplexes the session's bytes as
// one HTTP/2 stream, used here purely as a length-framed tunnel rather
// than as a general-purpose HTTP/2 server.
type SPDY struct {
	meta  *domain.BackendMeta
	relay ports.Relay
	addr  string
}

func NewSPDY(identity string, cfg config.PrivateServerConfig, priority int, relay ports.Relay) *SPDY {
	return &SPDY{
		meta:  domain.NewBackendMeta(domain.BackendSPDY, identity, priority),
		relay: relay,
		addr:  fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
	}
}

func (s *SPDY) Meta() *domain.BackendMeta { return s.meta }

func (s *SPDY) Supports(domain.Protocol, *domain.Session) bool { return true }

func (s *SPDY) Forward(ctx context.Context, session *domain.Session) domain.ForwardResult {
	tlsConn, err := tls.Dial("tcp", s.addr, &tls.Config{
		NextProtos:         []string{http2.NextProtoTLS},
		InsecureSkipVerify: true, // the upstream's certificate is operator-pinned out of band
	})
	if err != nil {
		return domain.Fallback(fmt.Sprintf("spdy dial %s: %v", s.addr, err), false, nil)
	}
	session.Own(tlsConn)

	tr := &http2.Transport{}
	clientConn, err := tr.NewClientConn(tlsConn)
	if err != nil {
		return domain.Fallback(fmt.Sprintf("spdy http2 handshake: %v", err), false, nil)
	}

	tunnel, err := newHTTP2Tunnel(ctx, clientConn, s.addr, constants.DefaultConnectTimeout)
	if err != nil {
		return domain.Fallback(fmt.Sprintf("spdy tunnel open: %v", err), false, nil)
	}
	session.Own(tunnel)

	return s.relay.Forward(ctx, session, tunnel, ports.RelayOptions{})
}

func RefreshSPDY(context.Context, []ports.Backend) bool { return true }
