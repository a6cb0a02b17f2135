// Package hostpolicy implements the four read-through classification
// tables the selector and front-door consult: LAN ranges, China IP
// ranges, US-IP membership, and the GFW wrong-answer IP set, plus the
// China-domain and blocked-google-host glob predicates.
package hostpolicy

import (
	"bufio"
	"net"
	"os"
	"sync"

	"github.com/houya/fqsocks/internal/util"
	"github.com/houya/fqsocks/internal/util/pattern"
)

var lanCIDRs = []string{
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"169.254.0.0/16",
}

// defaultChinaDomainGlobs is a small, intentionally non-exhaustive seed;
// operators extend it via WithChinaDomainGlobs.
var defaultChinaDomainGlobs = []string{
	"*.cn",
	"*.qq.com",
	"*.baidu.com",
	"*.taobao.com",
}

var defaultBlockedGoogleHostGlobs = []string{
	"*.appspot.com",
	"scholar.google.com",
}

// Policy implements ports.HostPolicy. The US-IP membership table is the
// only mutable, disk-persisted piece of state; everything else is a
// fixed table loaded at construction.
type Policy struct {
	lanCIDRs          []*net.IPNet
	chinaCIDRs        []*net.IPNet
	chinaDomainGlobs  []string
	blockedGoogleHost []string
	gfwWrongAnswers   map[string]struct{}

	usIPPath string
	usIPMu   sync.RWMutex
	usIP     map[string]struct{}
}

// Option customises a Policy at construction time.
type Option func(*Policy)

// WithChinaCIDRs replaces the default (empty) China IP CIDR table.
func WithChinaCIDRs(cidrs []string) Option {
	return func(p *Policy) {
		parsed, err := util.ParseTrustedCIDRs(cidrs)
		if err == nil {
			p.chinaCIDRs = parsed
		}
	}
}

// WithChinaDomainGlobs replaces the default China-domain glob table.
func WithChinaDomainGlobs(globs []string) Option {
	return func(p *Policy) { p.chinaDomainGlobs = globs }
}

// WithGFWWrongAnswers seeds the known GFW DNS-pollution answer set.
func WithGFWWrongAnswers(ips []string) Option {
	return func(p *Policy) {
		for _, ip := range ips {
			p.gfwWrongAnswers[ip] = struct{}{}
		}
	}
}

// New builds a Policy. usIPPath is the file the US-IP membership table is
// persisted to and loaded from (per the US-IP cache entry in §6); it may
// be empty, in which case the table is in-memory only.
func New(usIPPath string, opts ...Option) *Policy {
	lan, _ := util.ParseTrustedCIDRs(lanCIDRs)

	p := &Policy{
		lanCIDRs:          lan,
		chinaDomainGlobs:  append([]string(nil), defaultChinaDomainGlobs...),
		blockedGoogleHost: append([]string(nil), defaultBlockedGoogleHostGlobs...),
		gfwWrongAnswers:   make(map[string]struct{}),
		usIPPath:          usIPPath,
		usIP:              make(map[string]struct{}),
	}

	for _, opt := range opts {
		opt(p)
	}

	p.loadUSIP()

	return p
}

func (p *Policy) IsLAN(ip net.IP) bool {
	return ipInCIDRs(ip, p.lanCIDRs)
}

func (p *Policy) IsChinaIP(ip net.IP) bool {
	return ipInCIDRs(ip, p.chinaCIDRs)
}

func (p *Policy) IsChinaDomain(host string) bool {
	for _, glob := range p.chinaDomainGlobs {
		if pattern.MatchesGlob(host, glob) {
			return true
		}
	}
	return false
}

func (p *Policy) IsBlockedGoogleHost(host string) bool {
	for _, glob := range p.blockedGoogleHost {
		if pattern.MatchesGlob(host, glob) {
			return true
		}
	}
	return false
}

func (p *Policy) IsGFWWrongAnswer(ip net.IP) bool {
	_, ok := p.gfwWrongAnswers[ip.String()]
	return ok
}

// IsUSIP reports whether ip is in the learned US-IP membership table.
func (p *Policy) IsUSIP(ip net.IP) bool {
	p.usIPMu.RLock()
	defer p.usIPMu.RUnlock()
	_, ok := p.usIP[ip.String()]
	return ok
}

// MarkUSIP records ip as US and persists the table to disk. No code path
// in the gateway calls it; the force_us_ip flag does not reach it.
func (p *Policy) MarkUSIP(ip net.IP) {
	key := ip.String()

	p.usIPMu.Lock()
	if _, exists := p.usIP[key]; exists {
		p.usIPMu.Unlock()
		return
	}
	p.usIP[key] = struct{}{}
	p.usIPMu.Unlock()

	p.persistUSIP()
}

func ipInCIDRs(ip net.IP, cidrs []*net.IPNet) bool {
	for _, c := range cidrs {
		if c.Contains(ip) {
			return true
		}
	}
	return false
}

func (p *Policy) loadUSIP() {
	if p.usIPPath == "" {
		return
	}

	f, err := os.Open(p.usIPPath)
	if err != nil {
		return
	}
	defer f.Close()

	p.usIPMu.Lock()
	defer p.usIPMu.Unlock()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		p.usIP[line] = struct{}{}
	}
}

// persistUSIP writes the full table to a temp file and renames it into
// place, so a crash mid-write never leaves a truncated cache behind.
func (p *Policy) persistUSIP() {
	if p.usIPPath == "" {
		return
	}

	p.usIPMu.RLock()
	entries := make([]string, 0, len(p.usIP))
	for ip := range p.usIP {
		entries = append(entries, ip)
	}
	p.usIPMu.RUnlock()

	tmp := p.usIPPath + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return
	}

	w := bufio.NewWriter(f)
	for _, ip := range entries {
		w.WriteString(ip)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return
	}
	if err := f.Close(); err != nil {
		return
	}

	_ = os.Rename(tmp, p.usIPPath)
}
