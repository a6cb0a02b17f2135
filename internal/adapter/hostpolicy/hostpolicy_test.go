package hostpolicy

import (
	"net"
	"path/filepath"
	"testing"
)

func mustIP(t *testing.T, s string) net.IP {
	t.Helper()
	ip := net.ParseIP(s)
	if ip == nil {
		t.Fatalf("invalid test IP %q", s)
	}
	return ip
}

func TestIsLAN(t *testing.T) {
	p := New("")

	if !p.IsLAN(mustIP(t, "192.168.1.1")) {
		t.Error("expected 192.168.1.1 to be LAN")
	}
	if !p.IsLAN(mustIP(t, "127.0.0.1")) {
		t.Error("expected 127.0.0.1 to be LAN")
	}
	if p.IsLAN(mustIP(t, "8.8.8.8")) {
		t.Error("expected 8.8.8.8 to not be LAN")
	}
}

func TestIsChinaIP(t *testing.T) {
	p := New("", WithChinaCIDRs([]string{"1.2.3.0/24"}))

	if !p.IsChinaIP(mustIP(t, "1.2.3.4")) {
		t.Error("expected 1.2.3.4 to be classified China")
	}
	if p.IsChinaIP(mustIP(t, "1.2.4.4")) {
		t.Error("expected 1.2.4.4 to not be classified China")
	}
}

func TestIsChinaDomain(t *testing.T) {
	p := New("")

	if !p.IsChinaDomain("www.baidu.com") {
		t.Error("expected www.baidu.com to match a China domain glob")
	}
	if p.IsChinaDomain("example.org") {
		t.Error("expected example.org to not match")
	}
}

func TestIsBlockedGoogleHost(t *testing.T) {
	p := New("")

	if !p.IsBlockedGoogleHost("scholar.google.com") {
		t.Error("expected scholar.google.com to be blocked")
	}
	if p.IsBlockedGoogleHost("mail.google.com") {
		t.Error("expected mail.google.com to not be blocked")
	}
}

func TestIsGFWWrongAnswer(t *testing.T) {
	p := New("", WithGFWWrongAnswers([]string{"203.98.7.65"}))

	if !p.IsGFWWrongAnswer(mustIP(t, "203.98.7.65")) {
		t.Error("expected known poisoned answer to be flagged")
	}
	if p.IsGFWWrongAnswer(mustIP(t, "8.8.8.8")) {
		t.Error("expected 8.8.8.8 to not be flagged")
	}
}

func TestUSIP_PersistsAcrossLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "us_ip")

	p1 := New(path)
	ip := mustIP(t, "4.2.2.2")
	if p1.IsUSIP(ip) {
		t.Fatal("expected fresh policy to not know about 4.2.2.2")
	}
	p1.MarkUSIP(ip)
	if !p1.IsUSIP(ip) {
		t.Fatal("expected 4.2.2.2 to be marked US after MarkUSIP")
	}

	p2 := New(path)
	if !p2.IsUSIP(ip) {
		t.Error("expected US-IP membership to survive reload from disk")
	}
}

func TestUSIP_EmptyPathIsInMemoryOnly(t *testing.T) {
	p := New("")
	ip := mustIP(t, "8.8.4.4")
	p.MarkUSIP(ip)
	if !p.IsUSIP(ip) {
		t.Error("expected in-memory marking to work without a path")
	}
}
