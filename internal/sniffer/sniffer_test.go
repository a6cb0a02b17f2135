package sniffer

import (
	"context"
	"testing"

	"github.com/houya/fqsocks/internal/core/domain"
)

func sniffBytes(data []byte, dstPort int) (domain.Protocol, string) {
	s := New()
	session := &domain.Session{PeekedData: data, DstPort: dstPort}
	return s.Sniff(context.Background(), session)
}

func TestSniff_HTTPHostHeader(t *testing.T) {
	req := []byte("GET /x HTTP/1.1\r\nHost: example.org\r\nConnection: close\r\n\r\n")
	protocol, host := sniffBytes(req, 0)
	if protocol != domain.ProtocolHTTP {
		t.Errorf("protocol = %v, want HTTP", protocol)
	}
	if host != "example.org" {
		t.Errorf("host = %q, want example.org", host)
	}
}

func TestSniff_TLSRecordNoSNI(t *testing.T) {
	record := []byte{0x16, 0x03, 0x01, 0x00, 0x10}
	protocol, host := sniffBytes(record, 0)
	if protocol != domain.ProtocolHTTPS {
		t.Errorf("protocol = %v, want HTTPS", protocol)
	}
	if host != "" {
		t.Errorf("host = %q, want empty", host)
	}
}

func TestSniff_TLSRecordWithSNI(t *testing.T) {
	domainBytes := []byte("example.com")
	record := []byte{0x16, 0x03, 0x01}
	record = append(record, 0x00, 0x00, byte(len(domainBytes)))
	record = append(record, domainBytes...)

	protocol, host := sniffBytes(record, 0)
	if protocol != domain.ProtocolHTTPS {
		t.Errorf("protocol = %v, want HTTPS", protocol)
	}
	if host != "example.com" {
		t.Errorf("host = %q, want example.com", host)
	}
}

func TestSniff_EmptyDataFallsBackToPortHeuristic(t *testing.T) {
	protocol, host := sniffBytes(nil, 80)
	if protocol != domain.ProtocolHTTP {
		t.Errorf("protocol = %v, want HTTP from port 80", protocol)
	}
	if host != "" {
		t.Errorf("host = %q, want empty", host)
	}

	protocol, _ = sniffBytes(nil, 443)
	if protocol != domain.ProtocolHTTPS {
		t.Errorf("protocol = %v, want HTTPS from port 443", protocol)
	}

	protocol, _ = sniffBytes(nil, 9999)
	if protocol != domain.ProtocolUnknown {
		t.Errorf("protocol = %v, want UNKNOWN for unrecognised port", protocol)
	}
}

func TestSniff_IsIdempotent(t *testing.T) {
	req := []byte("GET /x HTTP/1.1\r\nHost: example.org\r\n\r\n")
	p1, h1 := sniffBytes(req, 0)
	p2, h2 := sniffBytes(req, 0)
	if p1 != p2 || h1 != h2 {
		t.Errorf("sniff not idempotent: (%v,%q) vs (%v,%q)", p1, h1, p2, h2)
	}
}
