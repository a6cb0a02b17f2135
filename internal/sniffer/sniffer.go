// Package sniffer classifies a session's peeked bytes as HTTP, HTTPS or
// UNKNOWN and, where possible, extracts the target host.
package sniffer

import (
	"bytes"
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/houya/fqsocks/internal/core/constants"
	"github.com/houya/fqsocks/internal/core/domain"
)

var hostHeaderRe = regexp.MustCompile(`(?i)Host:\s*(.+)`)

// Sniffer implements ports.Sniffer.
type Sniffer struct {
	waitFor time.Duration
}

func New() *Sniffer {
	return &Sniffer{waitFor: constants.SniffWait}
}

// WaitFor is how long the front-door listener should wait for the first
// bytes to arrive before sniffing an empty peek.
func (s *Sniffer) WaitFor() time.Duration {
	return s.waitFor
}

// Sniff classifies session.PeekedData. If it's empty the caller is
// expected to have already waited up to SniffWait for bytes to arrive
// (the front-door listener owns the actual socket read); Sniff itself
// is a pure, side-effect-free function of (peeked_data, dst_port) so it
// can be called repeatedly against the same session without consequence.
func (s *Sniffer) Sniff(_ context.Context, session *domain.Session) (domain.Protocol, string) {
	data := session.PeekedData

	if m := hostHeaderRe.FindSubmatch(data); m != nil {
		host := strings.TrimSpace(string(m[1]))
		host = strings.TrimSuffix(host, "\r")
		return domain.ProtocolHTTP, host
	}

	if looksLikeTLSRecord(data) {
		if host := extractSNI(data); host != "" {
			return domain.ProtocolHTTPS, host
		}
		return domain.ProtocolHTTPS, ""
	}

	switch session.DstPort {
	case constants.DefaultHTTPPort:
		return domain.ProtocolHTTP, ""
	case constants.DefaultHTTPSPort:
		return domain.ProtocolHTTPS, ""
	default:
		return domain.ProtocolUnknown, ""
	}
}

// looksLikeTLSRecord reports whether data opens with a TLS record header
// whose version is SSLv3, TLS1.0 or TLS1.1 (content type 0x16 handshake,
// version bytes {0x03,0x00} / {0x03,0x01} / {0x03,0x02}).
func looksLikeTLSRecord(data []byte) bool {
	if len(data) < 3 {
		return false
	}
	if data[0] != 0x16 {
		return false
	}
	if data[1] != 0x03 {
		return false
	}
	switch data[2] {
	case 0x00, 0x01, 0x02:
		return true
	default:
		return false
	}
}

// extractSNI heuristically scans for the SNI extension pattern
// \x00\x00 <len-byte> <domain> inside the ClientHello, per the sniffer's
// documented shortcut (a full TLS parser is out of scope).
func extractSNI(data []byte) string {
	marker := []byte{0x00, 0x00}
	idx := 0
	for {
		pos := bytes.Index(data[idx:], marker)
		if pos < 0 {
			return ""
		}
		pos += idx

		lenPos := pos + 2
		if lenPos >= len(data) {
			return ""
		}
		domainLen := int(data[lenPos])
		domainStart := lenPos + 1
		domainEnd := domainStart + domainLen

		if domainLen >= 4 && domainLen <= 255 && domainEnd <= len(data) {
			candidate := data[domainStart:domainEnd]
			if isPlausibleHostname(candidate) {
				return string(candidate)
			}
		}

		idx = pos + 1
		if idx >= len(data) {
			return ""
		}
	}
}

func isPlausibleHostname(b []byte) bool {
	for _, c := range b {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '.' || c == '-':
		default:
			return false
		}
	}
	return true
}
