// Package health implements a heap-scheduled background health checker
// for pooled backends, independent per backend so a single slow target
// cannot delay everyone else's next check.
package health

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/houya/fqsocks/internal/core/constants"
	"github.com/houya/fqsocks/internal/core/ports"
	"github.com/houya/fqsocks/internal/logger"
	"github.com/houya/fqsocks/internal/util"
)

const defaultWorkerCount = 4

// CheckFunc probes one backend and reports whether it's reachable plus
// the observed round-trip latency.
type CheckFunc func(ctx context.Context, backend ports.Backend) (alive bool, latency time.Duration)

type scheduledCheck struct {
	backend ports.Backend
	dueTime time.Time
	fails   int
}

type checkHeap []*scheduledCheck

func (h checkHeap) Len() int            { return len(h) }
func (h checkHeap) Less(i, j int) bool  { return h[i].dueTime.Before(h[j].dueTime) }
func (h checkHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *checkHeap) Push(x interface{}) { *h = append(*h, x.(*scheduledCheck)) }
func (h *checkHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[0 : n-1]
	return item
}

// Scheduler runs CheckFunc against every registered backend on an
// individually-scheduled interval, widening the interval with
// exponential backoff after consecutive failures and resetting to the
// base interval on the first success.
type Scheduler struct {
	check   CheckFunc
	log     *logger.StyledLogger
	workers int

	mu       sync.Mutex
	pending  checkHeap
	byID     map[string]*scheduledCheck
	wakeCh   chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewScheduler builds a Scheduler; Start must be called to begin work.
func NewScheduler(check CheckFunc, log *logger.StyledLogger) *Scheduler {
	return &Scheduler{
		check:   check,
		log:     log,
		workers: defaultWorkerCount,
		byID:    make(map[string]*scheduledCheck),
		wakeCh:  make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
	}
}

// Register schedules backend for its first check, due immediately.
func (s *Scheduler) Register(backend ports.Backend) {
	s.mu.Lock()
	id := backend.Meta().Identity
	if _, exists := s.byID[id]; exists {
		s.mu.Unlock()
		return
	}
	item := &scheduledCheck{backend: backend, dueTime: time.Now()}
	s.byID[id] = item
	heap.Push(&s.pending, item)
	s.mu.Unlock()

	s.wake()
}

// Start launches the scheduling loop and worker pool. Stop via ctx
// cancellation.
func (s *Scheduler) Start(ctx context.Context) {
	jobCh := make(chan *scheduledCheck, s.workers*2)

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx, jobCh)
	}

	s.wg.Add(1)
	go s.schedulerLoop(ctx, jobCh)
}

func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *Scheduler) wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) schedulerLoop(ctx context.Context, jobCh chan<- *scheduledCheck) {
	defer s.wg.Done()

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		s.mu.Lock()
		var next time.Duration
		if len(s.pending) > 0 {
			next = time.Until(s.pending[0].dueTime)
			if next < 0 {
				next = 0
			}
		} else {
			next = time.Hour
		}
		s.mu.Unlock()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(next)

		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-s.wakeCh:
			continue
		case <-timer.C:
		}

		s.mu.Lock()
		var due []*scheduledCheck
		now := time.Now()
		for len(s.pending) > 0 && !s.pending[0].dueTime.After(now) {
			due = append(due, heap.Pop(&s.pending).(*scheduledCheck))
		}
		s.mu.Unlock()

		for _, item := range due {
			select {
			case jobCh <- item:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *Scheduler) worker(ctx context.Context, jobCh <-chan *scheduledCheck) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case item, ok := <-jobCh:
			if !ok {
				return
			}
			s.runCheck(ctx, item)
		}
	}
}

func (s *Scheduler) runCheck(ctx context.Context, item *scheduledCheck) {
	checkCtx, cancel := context.WithTimeout(ctx, constants.HealthCheckTimeout)
	alive, latency := s.check(checkCtx, item.backend)
	cancel()

	meta := item.backend.Meta()
	meta.SetDied(!alive)

	if alive {
		meta.SetLatency(latency)
		meta.ClearFailedTimes()
		item.fails = 0
		if s.log != nil {
			s.log.InfoBackendHealth("health check passed", meta.Identity, false)
		}
	} else {
		meta.IncrementFailedTimes()
		item.fails++
		if s.log != nil {
			s.log.InfoBackendHealth("health check failed", meta.Identity, true)
		}
	}

	backoffMultiplier := 1 << uint(min(item.fails, constants.MaxBackoffMultiplier))
	interval := util.CalculateEndpointBackoff(constants.HealthCheckInterval, backoffMultiplier)
	if alive {
		interval = constants.HealthCheckInterval
	}

	item.dueTime = time.Now().Add(interval)

	s.mu.Lock()
	heap.Push(&s.pending, item)
	s.mu.Unlock()

	s.wake()
}
