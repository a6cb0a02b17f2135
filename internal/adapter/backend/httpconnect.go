package backend

import (
	"bufio"
	"context"
	"fmt"
	"net/http"

	"golang.org/x/net/http/httpguts"

	"github.com/houya/fqsocks/internal/config"
	"github.com/houya/fqsocks/internal/core/domain"
	"github.com/houya/fqsocks/internal/core/ports"
)

// HTTPConnect dials host:port and issues a validated CONNECT request for
// the session's destination; on a 200 response the connection is handed
// to the shared Relay for raw byte relaying.
type HTTPConnect struct {
	meta  *domain.BackendMeta
	relay ports.Relay
	addr  string
}

func NewHTTPConnect(identity string, cfg config.PrivateServerConfig, priority int, relay ports.Relay) *HTTPConnect {
	return &HTTPConnect{
		meta:  domain.NewBackendMeta(domain.BackendHTTP, identity, priority),
		relay: relay,
		addr:  fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
	}
}

func (h *HTTPConnect) Meta() *domain.BackendMeta { return h.meta }

func (h *HTTPConnect) Supports(domain.Protocol, *domain.Session) bool { return true }

func (h *HTTPConnect) Forward(ctx context.Context, session *domain.Session) domain.ForwardResult {
	upstream, err := dialUpstream(ctx, h.addr)
	if err != nil {
		return domain.Fallback(fmt.Sprintf("http-connect dial %s: %v", h.addr, err), false, nil)
	}
	session.Own(upstream)

	dest := destAddr(session)
	header := make(http.Header)
	header.Set("Host", dest)
	header.Set("User-Agent", "fqsocks")
	for key, values := range header {
		for _, v := range values {
			if !httpguts.ValidHeaderFieldName(key) || !httpguts.ValidHeaderFieldValue(v) {
				return domain.Fallback("http-connect: invalid header", false, nil)
			}
		}
	}

	req := fmt.Sprintf("CONNECT %s HTTP/1.1\r\nHost: %s\r\nUser-Agent: fqsocks\r\n\r\n", dest, dest)
	if _, err := upstream.Write([]byte(req)); err != nil {
		return domain.Fallback(fmt.Sprintf("http-connect write: %v", err), false, nil)
	}

	// A plain CONNECT response is small enough that the upstream rarely
	// pipelines bytes past it; any that do would be silently dropped by
	// this simplified reader, a known limitation of the thin adapter.
	resp, err := http.ReadResponse(bufio.NewReader(upstream), &http.Request{Method: http.MethodConnect})
	if err != nil {
		return domain.Fallback(fmt.Sprintf("http-connect read response: %v", err), false, nil)
	}
	if resp.StatusCode != http.StatusOK {
		return domain.Fallback(fmt.Sprintf("http-connect: upstream returned %s", resp.Status), false, nil)
	}

	return h.relay.Forward(ctx, session, upstream, ports.RelayOptions{})
}

func RefreshHTTPConnect(context.Context, []ports.Backend) bool { return true }
