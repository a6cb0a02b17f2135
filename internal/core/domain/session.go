package domain

import (
	"io"
	"net"
	"sync"
	"sync/atomic"
)

// TriedEntry records why a backend (or policy pseudo-key) was excluded from
// further consideration for a session.
type TriedEntry struct {
	Reason string
	Silent bool
}

// Session is the per-accepted-connection state the dispatch engine threads
// through sniffing, selection, and relaying. One Session maps to exactly one
// downstream TCP connection and, at any instant, at most one upstream flow.
type Session struct {
	Downstream net.Conn

	SrcIP   net.IP
	SrcPort int
	DstIP   net.IP
	DstPort int

	// PeekedData is observed from the client before any backend starts
	// consuming it. It must not be mutated once ForwardStarted() is true.
	PeekedData []byte
	Host       string
	Protocol   Protocol

	// USIPOnly is copied from the registry's force_us_ip flag at creation
	// time and never changes for the lifetime of the session.
	USIPOnly bool

	mu           sync.Mutex
	tried        map[string]TriedEntry
	forwardingBy string

	started   atomic.Bool
	penalties []DelayedPenalty

	resourcesMu sync.Mutex
	resources   []io.Closer
	closeOnce   sync.Once
}

func NewSession(conn net.Conn, dstIP net.IP, dstPort int, usIPOnly bool) *Session {
	s := &Session{
		Downstream: conn,
		DstIP:      dstIP,
		DstPort:    dstPort,
		USIPOnly:   usIPOnly,
		tried:      make(map[string]TriedEntry),
	}
	if tcpAddr, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		s.SrcIP = tcpAddr.IP
		s.SrcPort = tcpAddr.Port
	}
	s.Own(conn)
	return s
}

// MarkTried records that backend was attempted (or policy-refused) and why.
func (s *Session) MarkTried(backend, reason string, silent bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tried[backend] = TriedEntry{Reason: reason, Silent: silent}
}

// Tried reports whether backend has already been excluded for this session.
func (s *Session) Tried(backend string) (TriedEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.tried[backend]
	return e, ok
}

func (s *Session) TriedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tried)
}

func (s *Session) SetForwardingBy(backend string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forwardingBy = backend
}

func (s *Session) ForwardingBy() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.forwardingBy
}

// ForwardStarted reports whether the irrevocable transition to forwarding
// has already happened.
func (s *Session) ForwardStarted() bool {
	return s.started.Load()
}

// AddDelayedPenalty queues a side effect to run exactly once, when (and only
// when) the session transitions to forwarding. If forwarding has already
// started, it runs the penalty immediately since the transition it was
// waiting for has already happened.
func (s *Session) AddDelayedPenalty(p DelayedPenalty) {
	if p == nil {
		return
	}
	s.mu.Lock()
	if s.started.Load() {
		s.mu.Unlock()
		p()
		return
	}
	s.penalties = append(s.penalties, p)
	s.mu.Unlock()
}

// StartForwarding performs the once-only false->true transition, firing any
// queued delayed penalties. Returns false if forwarding had already started.
func (s *Session) StartForwarding() bool {
	if !s.started.CompareAndSwap(false, true) {
		return false
	}
	s.mu.Lock()
	pending := s.penalties
	s.penalties = nil
	s.mu.Unlock()

	for _, p := range pending {
		p()
	}
	return true
}

// Own registers a resource to be closed exactly once when the session ends.
func (s *Session) Own(c io.Closer) {
	if c == nil {
		return
	}
	s.resourcesMu.Lock()
	defer s.resourcesMu.Unlock()
	s.resources = append(s.resources, c)
}

// Close closes every owned resource exactly once. Safe to call multiple
// times and from multiple goroutines; only the first call does any work.
func (s *Session) Close() error {
	var firstErr error
	s.closeOnce.Do(func() {
		s.resourcesMu.Lock()
		resources := s.resources
		s.resources = nil
		s.resourcesMu.Unlock()

		for _, r := range resources {
			if err := r.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	})
	return firstErr
}
