package util

import (
	"net"
	"testing"
)

func mustParseIP(t *testing.T, s string) net.IP {
	t.Helper()
	ip := net.ParseIP(s)
	if ip == nil {
		t.Fatalf("invalid test IP %q", s)
	}
	return ip
}

func TestParseTrustedCIDRs_Valid(t *testing.T) {
	cidrs, err := ParseTrustedCIDRs([]string{"10.0.0.0/8", "192.168.0.0/16"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cidrs) != 2 {
		t.Fatalf("expected 2 CIDRs, got %d", len(cidrs))
	}
}

func TestParseTrustedCIDRs_Invalid(t *testing.T) {
	_, err := ParseTrustedCIDRs([]string{"not-a-cidr"})
	if err == nil {
		t.Fatal("expected error for invalid CIDR")
	}
}

func TestParseTrustedCIDRs_Empty(t *testing.T) {
	cidrs, err := ParseTrustedCIDRs(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cidrs != nil {
		t.Fatalf("expected nil, got %v", cidrs)
	}
}

func TestParseTrustedCIDRs_WithSpaces(t *testing.T) {
	cidrs, err := ParseTrustedCIDRs([]string{"  10.0.0.0/8  ", "", "172.16.0.0/12"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cidrs) != 2 {
		t.Fatalf("expected 2 CIDRs after skipping blank entry, got %d", len(cidrs))
	}
}

func TestIsIPInTrustedCIDRs(t *testing.T) {
	cidrs, err := ParseTrustedCIDRs([]string{"192.168.1.0/24"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !isIPInTrustedCIDRs(mustParseIP(t, "192.168.1.42"), cidrs) {
		t.Error("expected 192.168.1.42 to be trusted")
	}
	if isIPInTrustedCIDRs(mustParseIP(t, "10.0.0.1"), cidrs) {
		t.Error("expected 10.0.0.1 to not be trusted")
	}
}

func TestNormaliseBaseURL(t *testing.T) {
	cases := map[string]string{
		"":                       "",
		"http://localhost":       "http://localhost",
		"http://localhost/":      "http://localhost",
		"http://localhost/api/":  "http://localhost/api",
	}
	for in, want := range cases {
		if got := NormaliseBaseURL(in); got != want {
			t.Errorf("NormaliseBaseURL(%q) = %q, want %q", in, got, want)
		}
	}
}
