package discovery

import (
	"testing"

	"github.com/houya/fqsocks/internal/core/domain"
)

func TestParseTXTRecord_ExpandsCount(t *testing.T) {
	records, err := parseTXTRecord("10:Shadowsocks:3:ss-node-#")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	for i, r := range records {
		if r.Priority != 10 {
			t.Errorf("record %d: Priority = %d, want 10", i, r.Priority)
		}
		if r.Type != domain.BackendType("Shadowsocks") {
			t.Errorf("record %d: Type = %v, want Shadowsocks", i, r.Type)
		}
	}
	if records[0].Identity != "ss-node-1.fqrouter.com" {
		t.Errorf("Identity = %q, want ss-node-1.fqrouter.com", records[0].Identity)
	}
	if records[2].Identity != "ss-node-3.fqrouter.com" {
		t.Errorf("Identity = %q, want ss-node-3.fqrouter.com", records[2].Identity)
	}
}

func TestParseTXTRecord_RejectsUnknownType(t *testing.T) {
	_, err := parseTXTRecord("10:Carrier-Pigeon:3:node-#")
	if err == nil {
		t.Fatal("expected error for unknown backend type")
	}
}

func TestParseTXTRecord_RejectsMissingPlaceholder(t *testing.T) {
	_, err := parseTXTRecord("10:HTTP:3:node-static")
	if err == nil {
		t.Fatal("expected error for template missing '#' placeholder")
	}
}

func TestParseTXTRecord_RejectsMalformedField(t *testing.T) {
	_, err := parseTXTRecord("not-enough-fields")
	if err == nil {
		t.Fatal("expected error for malformed record")
	}
}

func TestParseTXTRecord_ZeroCountIsEmpty(t *testing.T) {
	records, err := parseTXTRecord("10:HTTP:0:node-#")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("expected 0 records, got %d", len(records))
	}
}
