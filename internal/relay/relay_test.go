package relay

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/houya/fqsocks/internal/core/domain"
	"github.com/houya/fqsocks/internal/core/ports"
)

func newTestSession(downstream net.Conn) *domain.Session {
	return domain.NewSession(downstream, net.ParseIP("1.2.3.4"), 80, false)
}

func TestForward_RelaysBytesAndCompletes(t *testing.T) {
	downClient, downServer := net.Pipe()
	upClient, upServer := net.Pipe()

	session := newTestSession(downServer)

	go func() {
		buf := make([]byte, 5)
		upServer.Read(buf)
		upServer.Write([]byte("hello"))
		upServer.Close()
	}()

	resultCh := make(chan domain.ForwardResult, 1)
	go func() {
		r := New()
		resultCh <- r.Forward(context.Background(), session, upClient, ports.RelayOptions{
			ConnectTimeout: time.Second,
			IdleTimeout:    time.Second,
		})
	}()

	downClient.Write([]byte("world"))

	got := make([]byte, 5)
	downClient.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := downClient.Read(got)
	if err != nil {
		t.Fatalf("reading relayed bytes: %v", err)
	}
	if string(got[:n]) != "hello" {
		t.Errorf("got %q, want hello", got[:n])
	}

	select {
	case result := <-resultCh:
		if result.Outcome != domain.OutcomeCompleted {
			t.Errorf("Outcome = %v, want OutcomeCompleted", result.Outcome)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for Forward to return")
	}

	if !session.ForwardStarted() {
		t.Error("expected ForwardStarted to be true after payload relayed")
	}
}

func TestForward_FlushesPeekedDataBeforeLiveBytes(t *testing.T) {
	_, downServer := net.Pipe()
	upClient, upServer := net.Pipe()

	session := newTestSession(downServer)
	session.PeekedData = []byte("peeked")

	readCh := make(chan string, 1)
	go func() {
		buf := make([]byte, 6)
		n, _ := upServer.Read(buf)
		readCh <- string(buf[:n])
		upServer.Close()
	}()

	r := New()
	go r.Forward(context.Background(), session, upClient, ports.RelayOptions{
		ConnectTimeout: time.Second,
		IdleTimeout:    time.Second,
	})

	select {
	case got := <-readCh:
		if got != "peeked" {
			t.Errorf("upstream received %q first, want peeked data %q", got, "peeked")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for peeked data to reach upstream")
	}
}

func TestForward_NoPayloadTriggersFallback(t *testing.T) {
	_, downServer := net.Pipe()
	upClient, upServer := net.Pipe()

	session := newTestSession(downServer)

	go func() {
		upServer.Close()
	}()

	r := New()
	penaltyFired := false
	result := r.Forward(context.Background(), session, upClient, ports.RelayOptions{
		ConnectTimeout: time.Second,
		IdleTimeout:    time.Second,
		DelayedPenalty: func() { penaltyFired = true },
	})

	if result.Outcome != domain.OutcomeFallback {
		t.Errorf("Outcome = %v, want OutcomeFallback", result.Outcome)
	}
	if result.DelayedPenalty == nil {
		t.Fatal("expected DelayedPenalty to be carried on the fallback result")
	}
	result.DelayedPenalty()
	if !penaltyFired {
		t.Error("expected the delayed penalty to fire")
	}
}
