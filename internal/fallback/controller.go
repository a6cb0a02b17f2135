// Package fallback implements the per-session try->fail->retry
// orchestration across backend picks, plus the host-slow-detection
// latch that can permanently disable itself once proven unhelpful.
package fallback

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/houya/fqsocks/internal/core/domain"
	"github.com/houya/fqsocks/internal/core/ports"
	"github.com/houya/fqsocks/internal/logger"
	"github.com/houya/fqsocks/pkg/eventbus"
)

const maxAttempts = 3

// slowTracker is the process-wide host-slow-detection side table: hosts
// the fallback controller has flagged as unusually slow, and a one-way
// latch that disables the whole mechanism once it's been found not to
// help.
type slowTracker struct {
	mu      sync.Mutex
	hosts   map[string]struct{}
	enabled bool
}

func newSlowTracker() *slowTracker {
	return &slowTracker{hosts: make(map[string]struct{}), enabled: true}
}

func (t *slowTracker) mark(host string) {
	if host == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.hosts[host] = struct{}{}
}

func (t *slowTracker) isSlow(host string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.hosts[host]
	return ok
}

// disable is the latch: once tripped, host-slow detection never marks
// or reports a host as slow again for the rest of the process lifetime.
func (t *slowTracker) disable() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = false
	t.hosts = make(map[string]struct{})
}

// Controller implements ports.FallbackController.
type Controller struct {
	selector ports.Selector
	registry ports.Registry
	log      *logger.StyledLogger
	events   *eventbus.EventBus[domain.ProxyEvent]
	slow     *slowTracker
}

func New(selector ports.Selector, registry ports.Registry, log *logger.StyledLogger, events *eventbus.EventBus[domain.ProxyEvent]) *Controller {
	return &Controller{
		selector: selector,
		registry: registry,
		log:      log,
		events:   events,
		slow:     newSlowTracker(),
	}
}

// Handle drives one session through up to 3 backend attempts, honouring
// fallback and not-HTTP signals, and always closes the session's owned
// resources on exit.
func (c *Controller) Handle(ctx context.Context, session *domain.Session) {
	defer session.Close()

	if c.registry != nil && c.registry.ShouldFix() {
		go c.registry.Refresh(context.Background())
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		picked, err := c.selector.Pick(ctx, session)
		if err != nil {
			if errors.Is(err, domain.ErrNoMoreProxy) {
				c.onNoMoreProxy(session)
			}
			return
		}

		session.SetForwardingBy(picked.Meta().Identity)
		result := picked.Forward(ctx, session)

		switch result.Outcome {
		case domain.OutcomeCompleted:
			c.publish(domain.EventSessionCompleted, picked.Meta().Identity, "completed", session)
			return

		case domain.OutcomeFallback:
			session.MarkTried(picked.Meta().Identity, result.Reason, result.Silent)
			if !result.Silent && c.log != nil {
				c.log.WarnWithBackend("backend forward failed, trying next", picked.Meta().Identity, "reason", result.Reason)
			}
			c.publish(domain.EventBackendFallback, picked.Meta().Identity, result.Reason, session)
			continue

		case domain.OutcomeNotHTTP:
			// Not-HTTP traffic never goes back through Pick: force one
			// direct-forward attempt and give up on its outcome either way,
			// matching the traffic sniff's single DIRECT escape hatch.
			session.MarkTried(picked.Meta().Identity, result.Reason, false)
			direct := c.selector.Direct()
			if direct == nil {
				return
			}
			directResult := direct.Forward(ctx, session)
			if directResult.Outcome == domain.OutcomeCompleted {
				c.publish(domain.EventSessionCompleted, direct.Meta().Identity, "completed", session)
			}
			return

		default:
			return
		}
	}

	c.onNoMoreProxy(session)
}

// onNoMoreProxy applies the host-slow-detection latch-off side effect:
// if this session's host was on the slow list, disable the whole
// mechanism for the process and clear it.
func (c *Controller) onNoMoreProxy(session *domain.Session) {
	if c.slow.isSlow(session.Host) {
		c.slow.disable()
	}
	if c.log != nil {
		c.log.Info("no candidate backend remained for session", "host", session.Host, "tried", session.TriedCount())
	}
}

// MarkSlow records session.Host as slow, honouring the latch.
func (c *Controller) MarkSlow(session *domain.Session) {
	c.slow.mark(session.Host)
}

func (c *Controller) publish(kind domain.EventKind, backendIdentity, reason string, session *domain.Session) {
	if c.events == nil {
		return
	}
	c.events.PublishAsync(domain.ProxyEvent{
		Kind:    kind,
		Backend: backendIdentity,
		Host:    session.Host,
		Reason:  reason,
		At:      time.Now(),
	})
}
