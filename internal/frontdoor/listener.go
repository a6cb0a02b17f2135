// Package frontdoor accepts the raw TCP connections offered to the proxy,
// parses the leading HTTP/CONNECT preamble, and hands off a constructed
// domain.Session to the fallback controller for dispatch.
package frontdoor

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/houya/fqsocks/internal/core/domain"
	"github.com/houya/fqsocks/internal/core/ports"
	"github.com/houya/fqsocks/internal/logger"
)

// protocolSniffer is the subset of the sniffer package's API the listener
// needs, kept narrow so tests can stub it without pulling in the real
// TLS-record heuristics.
type protocolSniffer interface {
	ports.Sniffer
	WaitFor() time.Duration
}

const preambleReadTimeout = 5 * time.Second

// maxResolverCacheEntries bounds the host->IP cache's growth. The cache
// has no TTL by design (see hostResolver doc), so without a cap a
// process fielding many distinct hosts over a long uptime would grow
// the map without limit.
const maxResolverCacheEntries = 65536

// hostResolver is a process-wide, no-TTL, first-wins host->IP cache. Once a
// host resolves, the answer is reused for the life of the process; this
// mirrors the source runtime's long-lived DNS cache and avoids repeated
// lookups for hosts seen on every request. Staleness is an accepted
// risk, not a bug: entries are never invalidated on a TTL, only capped
// in count.
type hostResolver struct {
	mu    sync.RWMutex
	cache map[string]net.IP
}

func newHostResolver() *hostResolver {
	return &hostResolver{cache: make(map[string]net.IP)}
}

func (r *hostResolver) resolve(ctx context.Context, host string) (net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return ip, nil
	}

	r.mu.RLock()
	ip, ok := r.cache[host]
	r.mu.RUnlock()
	if ok {
		return ip, nil
	}

	ips, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
	if err != nil || len(ips) == 0 {
		return nil, fmt.Errorf("frontdoor: resolve %s: %w", host, err)
	}

	r.mu.Lock()
	if existing, ok := r.cache[host]; ok {
		r.mu.Unlock()
		return existing, nil
	}
	if len(r.cache) < maxResolverCacheEntries {
		r.cache[host] = ips[0]
	}
	r.mu.Unlock()

	return ips[0], nil
}

// Listener binds a single TCP endpoint and dispatches every accepted
// connection to the fallback controller after constructing its Session.
type Listener struct {
	addr       string
	controller ports.FallbackController
	sniff      protocolSniffer
	log        *logger.StyledLogger
	resolver   *hostResolver
}

func New(addr string, controller ports.FallbackController, sniff protocolSniffer, log *logger.StyledLogger) *Listener {
	return &Listener{
		addr:       addr,
		controller: controller,
		sniff:      sniff,
		log:        log,
		resolver:   newHostResolver(),
	}
}

// Serve accepts connections until ctx is cancelled or the listener errors.
func (l *Listener) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return fmt.Errorf("frontdoor: listen %s: %w", l.addr, err)
	}
	defer ln.Close()

	if l.log != nil {
		l.log.Info("front-door listener started", "addr", l.addr)
	}

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if l.log != nil {
				l.log.Warn("accept failed", "error", err)
			}
			continue
		}
		go l.handle(ctx, conn)
	}
}

func (l *Listener) handle(ctx context.Context, conn net.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(preambleReadTimeout))

	reader := bufio.NewReader(conn)
	req, err := http.ReadRequest(reader)
	if err != nil {
		conn.Close()
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	if req.Method == http.MethodConnect {
		l.handleConnect(ctx, conn, req)
		return
	}
	l.handlePlaintext(ctx, conn, req, reader)
}

func (l *Listener) handleConnect(ctx context.Context, conn net.Conn, req *http.Request) {
	host, port := splitHostPort(req.RequestURI, 443)

	ip, err := l.resolver.resolve(ctx, host)
	if err != nil {
		conn.Close()
		return
	}

	if _, err := conn.Write([]byte("HTTP/1.1 200 OK\r\n\r\n")); err != nil {
		conn.Close()
		return
	}

	session := domain.NewSession(conn, ip, port, false)
	session.Host = host
	session.Protocol = domain.ProtocolHTTPS

	if l.sniff != nil {
		session.PeekedData = l.peekInitialBytes(conn)
		if proto, sniffedHost := l.sniff.Sniff(ctx, session); proto != domain.ProtocolUnknown {
			session.Protocol = proto
			if sniffedHost != "" {
				session.Host = sniffedHost
			}
		}
	}

	l.controller.Handle(ctx, session)
}

// peekInitialBytes waits up to the sniffer's configured window for the
// client's first bytes after a CONNECT tunnel opens (typically a TLS
// ClientHello). This consumes the bytes off conn rather than truly peeking
// them, so the caller must carry them forward as session.PeekedData; the
// relay flushes that buffer to the upstream connection before reading any
// further live bytes from conn.
func (l *Listener) peekInitialBytes(conn net.Conn) []byte {
	_ = conn.SetReadDeadline(time.Now().Add(l.sniff.WaitFor()))
	defer conn.SetReadDeadline(time.Time{})

	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	if err != nil || n == 0 {
		return nil
	}
	return buf[:n]
}

func (l *Listener) handlePlaintext(ctx context.Context, conn net.Conn, req *http.Request, reader *bufio.Reader) {
	host, port := splitHostPort(hostFromRequest(req), 80)

	ip, err := l.resolver.resolve(ctx, host)
	if err != nil {
		conn.Close()
		return
	}

	peeked := rewriteToOriginForm(req, host)

	// Any bytes still buffered past the request line/headers/body belong to
	// a pipelined follow-up request; carried along as peeked_data so the
	// sniffer and backend see exactly what the client sent.
	if n := reader.Buffered(); n > 0 {
		rest, _ := reader.Peek(n)
		peeked = append(peeked, rest...)
	}

	session := domain.NewSession(conn, ip, port, false)
	session.Host = host
	session.Protocol = domain.ProtocolHTTP
	session.PeekedData = peeked

	l.controller.Handle(ctx, session)
}

// rewriteToOriginForm strips the absolute-URI scheme+authority from the
// request line, drops Proxy-Connection, pins Host and Connection: close,
// and re-serializes the request exactly as it will be sent upstream.
func rewriteToOriginForm(req *http.Request, host string) []byte {
	req.Header.Del("Proxy-Connection")
	req.Header.Set("Host", host)
	req.Header.Set("Connection", "close")
	req.Host = host
	req.URL.Scheme = ""
	req.URL.Host = ""
	req.RequestURI = ""

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s %s HTTP/1.1\r\n", req.Method, originForm(req.URL))
	_ = req.Header.Write(&buf)
	buf.WriteString("\r\n")

	if req.ContentLength > 0 && req.Body != nil {
		body := make([]byte, req.ContentLength)
		if _, err := io.ReadFull(req.Body, body); err == nil {
			buf.Write(body)
		}
	}

	return buf.Bytes()
}

func hostFromRequest(req *http.Request) string {
	if req.URL.Host != "" {
		return req.URL.Host
	}
	return req.Host
}

func originForm(u *url.URL) string {
	origin := u.Path
	if origin == "" {
		origin = "/"
	}
	if u.RawQuery != "" {
		origin += "?" + u.RawQuery
	}
	return origin
}

func splitHostPort(hostport string, defaultPort int) (string, int) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return hostport, defaultPort
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return host, defaultPort
	}
	return host, port
}
