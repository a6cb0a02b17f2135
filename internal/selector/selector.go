// Package selector implements the fixed backend-selection cascade: LAN
// short-circuit, DNS-pollution sink, China fast path, then the
// protocol-specific try cascade before falling through to the pooled
// priority selection.
package selector

import (
	"context"
	"math/rand"
	"net"
	"sort"
	"time"

	"github.com/houya/fqsocks/internal/core/domain"
	"github.com/houya/fqsocks/internal/core/ports"
)

// policy-refusal reasons the Selector records in session.tried when it
// declines a pseudo-backend (us_ip_only, direct access disabled).
const (
	reasonUSIPOnly            = "us ip only"
	reasonDirectAccessDisable = "direct access disabled"
)

// Selector implements ports.Selector against a Registry, a HostPolicy,
// and the set of well-known pseudo-backends (DIRECT, HTTP_TRY, ...).
type Selector struct {
	registry   ports.Registry
	policy     ports.HostPolicy
	pseudo     map[domain.BackendType]ports.Backend
	rng        *rand.Rand
}

// New builds a Selector. pseudo must contain at least DIRECT, HTTP_TRY,
// HTTPS_TRY, TCP_SCRAMBLER, GOOGLE_SCRAMBLER and NONE_PROXY backends.
func New(registry ports.Registry, policy ports.HostPolicy, pseudo map[domain.BackendType]ports.Backend) *Selector {
	return &Selector{
		registry: registry,
		policy:   policy,
		pseudo:   pseudo,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *Selector) pseudoBackend(t domain.BackendType) ports.Backend {
	return s.pseudo[t]
}

// Direct implements ports.Selector.
func (s *Selector) Direct() ports.Backend {
	return s.pseudoBackend(domain.BackendDirect)
}

// Pick implements ports.Selector.
func (s *Selector) Pick(ctx context.Context, session *domain.Session) (ports.Backend, error) {
	if isLAN(s.policy, session) {
		return s.pseudoBackend(domain.BackendDirect), nil
	}

	if s.policy.IsGFWWrongAnswer(session.DstIP) {
		session.MarkTried(string(domain.BackendNoneProxy), "dns polluted", false)
		return s.pseudoBackend(domain.BackendNoneProxy), nil
	}

	flags := s.registry.Flags()

	if flags.ChinaShortcutEnabled.Load() {
		if s.policy.IsChinaIP(session.DstIP) {
			return s.pseudoBackend(domain.BackendDirect), nil
		}
		if session.Host != "" && s.policy.IsChinaDomain(session.Host) {
			return s.pseudoBackend(domain.BackendDirect), nil
		}
	}

	switch session.Protocol {
	case domain.ProtocolHTTP:
		if b := s.pickHTTPTry(session); b != nil {
			return b, nil
		}
		return s.pickSupports(session)
	case domain.ProtocolHTTPS:
		if b := s.pickHTTPSTry(session); b != nil {
			return b, nil
		}
		return s.pickSupports(session)
	default:
		if s.anySupports(domain.ProtocolHTTPS, session) {
			if b := s.pickHTTPSTry(session); b != nil {
				return b, nil
			}
			return s.pickSupports(session)
		}
		return s.pseudoBackend(domain.BackendDirect), nil
	}
}

func isLAN(policy ports.HostPolicy, session *domain.Session) bool {
	if session.SrcIP == nil || session.DstIP == nil {
		return false
	}
	return policy.IsLAN(session.SrcIP) && policy.IsLAN(session.DstIP)
}

func (s *Selector) anySupports(protocol domain.Protocol, session *domain.Session) bool {
	for _, b := range s.registry.ListBackends() {
		if b.Supports(protocol, session) {
			return true
		}
	}
	return false
}

func (s *Selector) pickHTTPTry(session *domain.Session) ports.Backend {
	flags := s.registry.Flags()

	if session.USIPOnly {
		session.MarkTried(string(domain.BackendHTTPTry), reasonUSIPOnly, true)
		return nil
	}
	if !flags.DirectAccessEnabled.Load() {
		session.MarkTried(string(domain.BackendHTTPTry), reasonDirectAccessDisable, true)
		return nil
	}

	scrambler := s.pseudoBackend(domain.BackendTCPScrambler)
	if flags.TCPScramblerEnabled.Load() && scrambler != nil && !scrambler.Meta().Died() {
		if _, tried := session.Tried(string(domain.BackendTCPScrambler)); !tried {
			return scrambler
		}
		if flags.GoogleScramblerEnabled.Load() && session.Host != "" && s.policy.IsBlockedGoogleHost(session.Host) {
			if _, tried := session.Tried(string(domain.BackendGoogleScrambler)); !tried {
				return s.pseudoBackend(domain.BackendGoogleScrambler)
			}
		}
		return nil
	}

	if flags.GoogleScramblerEnabled.Load() {
		if _, tried := session.Tried(string(domain.BackendGoogleScrambler)); !tried {
			return s.pseudoBackend(domain.BackendGoogleScrambler)
		}
		return nil
	}

	if _, tried := session.Tried(string(domain.BackendHTTPTry)); !tried {
		return s.pseudoBackend(domain.BackendHTTPTry)
	}
	return nil
}

func (s *Selector) pickHTTPSTry(session *domain.Session) ports.Backend {
	flags := s.registry.Flags()

	if session.USIPOnly || !flags.DirectAccessEnabled.Load() {
		reason := reasonDirectAccessDisable
		if session.USIPOnly {
			reason = reasonUSIPOnly
		}
		session.MarkTried(string(domain.BackendHTTPSTry), reason, true)
		return nil
	}

	if _, tried := session.Tried(string(domain.BackendHTTPSTry)); !tried {
		return s.pseudoBackend(domain.BackendHTTPSTry)
	}
	return nil
}

// pickSupports implements the priority-bucket-then-uniform-random-tiebreak
// cascade over the pooled, refreshable backends.
func (s *Selector) pickSupports(session *domain.Session) (ports.Backend, error) {
	candidates := s.candidateSet(session)
	if len(candidates) == 0 {
		return nil, domain.ErrNoMoreProxy
	}

	bucket := lowestPriorityBucket(candidates)

	sort.Slice(bucket, func(i, j int) bool {
		return bucket[i].Meta().Latency() < bucket[j].Meta().Latency()
	})

	top := bucket
	if len(top) > 3 {
		top = top[:3]
	}

	chosen := top[s.rng.Intn(len(top))]
	if chosen.Meta().Latency() == 0 {
		chosen = bucket[s.rng.Intn(len(bucket))]
	}

	return chosen, nil
}

func (s *Selector) candidateSet(session *domain.Session) []ports.Backend {
	var out []ports.Backend
	for _, b := range s.registry.ListBackends() {
		if !b.Supports(session.Protocol, session) {
			continue
		}
		if b.Meta().Died() {
			continue
		}
		if _, tried := session.Tried(b.Meta().Identity); tried {
			continue
		}
		if session.USIPOnly && !s.policy.IsUSIP(parseProxyIP(b.Meta().ProxyIP)) {
			continue
		}
		out = append(out, b)
	}
	return out
}

func parseProxyIP(s string) net.IP {
	if s == "" {
		return nil
	}
	return net.ParseIP(s)
}

func lowestPriorityBucket(candidates []ports.Backend) []ports.Backend {
	lowest := candidates[0].Meta().Priority
	for _, b := range candidates {
		if b.Meta().Priority < lowest {
			lowest = b.Meta().Priority
		}
	}
	var bucket []ports.Backend
	for _, b := range candidates {
		if b.Meta().Priority == lowest {
			bucket = append(bucket, b)
		}
	}
	return bucket
}
