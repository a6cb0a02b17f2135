package backend

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/houya/fqsocks/internal/core/domain"
)

func TestDirect_SupportsEveryProtocol(t *testing.T) {
	d := NewDirect(nil)
	if !d.Supports(domain.ProtocolHTTP, nil) {
		t.Error("expected DIRECT to support HTTP")
	}
	if !d.Supports(domain.ProtocolHTTPS, nil) {
		t.Error("expected DIRECT to support HTTPS")
	}
	if !d.Meta().HasFlag(domain.FlagDirect) {
		t.Error("expected DIRECT to carry the FlagDirect flag")
	}
}

func TestHTTPTry_OnlySupportsHTTP(t *testing.T) {
	h := NewHTTPTry(nil)
	if !h.Supports(domain.ProtocolHTTP, nil) {
		t.Error("expected HTTP_TRY to support HTTP")
	}
	if h.Supports(domain.ProtocolHTTPS, nil) {
		t.Error("expected HTTP_TRY to not support HTTPS")
	}
}

func TestHTTPSTry_OnlySupportsHTTPS(t *testing.T) {
	h := NewHTTPSTry(nil)
	if h.Supports(domain.ProtocolHTTP, nil) {
		t.Error("expected HTTPS_TRY to not support HTTP")
	}
	if !h.Supports(domain.ProtocolHTTPS, nil) {
		t.Error("expected HTTPS_TRY to support HTTPS")
	}
}

func TestNoneProxy_ClosesSessionAndCompletes(t *testing.T) {
	n := NewNoneProxy()
	downClient, downServer := net.Pipe()
	defer downClient.Close()

	session := domain.NewSession(downServer, net.ParseIP("1.2.3.4"), 80, false)
	result := n.Forward(context.Background(), session)

	if result.Outcome != domain.OutcomeCompleted {
		t.Errorf("Outcome = %v, want OutcomeCompleted", result.Outcome)
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := downClient.Read(make([]byte, 1))
		errCh <- err
	}()

	select {
	case err := <-errCh:
		if err == nil {
			t.Error("expected the downstream pipe to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for NoneProxy to close the session")
	}
}
