package health

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/houya/fqsocks/internal/core/domain"
	"github.com/houya/fqsocks/internal/core/ports"
)

type stubBackend struct {
	meta *domain.BackendMeta
}

func (b *stubBackend) Meta() *domain.BackendMeta { return b.meta }
func (b *stubBackend) Supports(domain.Protocol, *domain.Session) bool { return true }
func (b *stubBackend) Forward(context.Context, *domain.Session) domain.ForwardResult {
	return domain.Completed()
}

func TestScheduler_MarksBackendAlive(t *testing.T) {
	var calls int32
	check := func(ctx context.Context, b ports.Backend) (bool, time.Duration) {
		atomic.AddInt32(&calls, 1)
		return true, time.Millisecond
	}

	s := NewScheduler(check, nil)
	b := &stubBackend{meta: domain.NewBackendMeta(domain.BackendHTTP, "node-1", 0)}
	b.meta.SetDied(true)
	s.Register(b)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if atomic.LoadInt32(&calls) > 0 && !b.meta.Died() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected backend to be marked alive after a passing check")
}

func TestScheduler_MarksBackendDied(t *testing.T) {
	check := func(ctx context.Context, b ports.Backend) (bool, time.Duration) {
		return false, 0
	}

	s := NewScheduler(check, nil)
	b := &stubBackend{meta: domain.NewBackendMeta(domain.BackendHTTP, "node-1", 0)}
	s.Register(b)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if b.meta.Died() && b.meta.FailedTimes() > 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected backend to be marked died after a failing check")
}
