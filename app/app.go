// Package app wires together the gateway's components: config, host
// policy, directory discovery, the backend registry and health scheduler,
// the selector, sniffer, relay, fallback controller, and the front-door
// listener.
package app

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/houya/fqsocks/internal/adapter/backend"
	"github.com/houya/fqsocks/internal/adapter/discovery"
	"github.com/houya/fqsocks/internal/adapter/health"
	"github.com/houya/fqsocks/internal/adapter/hostpolicy"
	"github.com/houya/fqsocks/internal/adapter/registry"
	"github.com/houya/fqsocks/internal/config"
	"github.com/houya/fqsocks/internal/core/domain"
	"github.com/houya/fqsocks/internal/core/ports"
	"github.com/houya/fqsocks/internal/fallback"
	"github.com/houya/fqsocks/internal/frontdoor"
	"github.com/houya/fqsocks/internal/logger"
	"github.com/houya/fqsocks/internal/relay"
	"github.com/houya/fqsocks/internal/selector"
	"github.com/houya/fqsocks/internal/sniffer"
	"github.com/houya/fqsocks/pkg/eventbus"
)

// Application owns every long-lived component the gateway process runs.
type Application struct {
	cfg    *config.Config
	loader *config.Loader
	log    *logger.StyledLogger

	registry  *registry.ProxyRegistry
	scheduler *health.Scheduler
	listener  *frontdoor.Listener
	events    *eventbus.EventBus[domain.ProxyEvent]

	addrMu sync.Mutex
	addrs  map[string]string

	cancel context.CancelFunc
}

// New loads configuration from path (empty for default search paths) and
// wires every component, but does not yet start accepting connections.
func New(startTime time.Time, log *logger.StyledLogger, configPath string) (*Application, error) {
	cfg, loader, err := config.Load(configPath, log.GetUnderlying())
	if err != nil {
		return nil, fmt.Errorf("app: load config: %w", err)
	}

	events := eventbus.New[domain.ProxyEvent]()

	policy := hostpolicy.New(cfg.USIPCachePath())

	reg := registry.New(backendClasses(), events)
	config.ApplyFlags(reg.Flags(), cfg.Flags)

	a := &Application{
		cfg:      cfg,
		loader:   loader,
		log:      log,
		registry: reg,
		events:   events,
		addrs:    make(map[string]string),
	}

	rly := relay.New()
	a.loadPrivateServers(cfg, rly)

	pseudo := map[domain.BackendType]ports.Backend{
		domain.BackendDirect:          backend.NewDirect(rly),
		domain.BackendHTTPTry:         backend.NewHTTPTry(rly),
		domain.BackendHTTPSTry:        backend.NewHTTPSTry(rly),
		domain.BackendTCPScrambler:    backend.NewTCPScrambler(rly),
		domain.BackendGoogleScrambler: backend.NewGoogleScrambler(rly),
		domain.BackendNoneProxy:       backend.NewNoneProxy(),
	}

	sel := selector.New(reg, policy, pseudo)
	controller := fallback.New(sel, reg, log, events)
	addr := fmt.Sprintf("%s:%d", cfg.Listen.Host, cfg.Listen.Port)
	a.listener = frontdoor.New(addr, controller, sniffer.New(), log)

	a.scheduler = health.NewScheduler(a.healthCheck, log)
	for _, b := range reg.ListBackends() {
		a.scheduler.Register(b)
	}

	if cfg.PublicServers.Source != "" {
		a.startDirectoryDiscovery(cfg, rly)
	}

	return a, nil
}

// Start launches the health scheduler, the config file watcher and the
// front-door listener. The listener's Serve runs in its own goroutine, so
// Start returns without waiting for it to accept connections.
func (a *Application) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.scheduler.Start(runCtx)

	if a.loader != nil {
		a.loader.WatchAndMerge(a.registry.Flags(), func(*config.Config) {})
	}

	go func() {
		if err := a.listener.Serve(runCtx); err != nil && runCtx.Err() == nil {
			a.log.Error("front-door listener exited", "error", err)
		}
	}()

	a.log.Info("fqsocks started", "listen", fmt.Sprintf("%s:%d", a.cfg.Listen.Host, a.cfg.Listen.Port))
	return nil
}

// Stop cancels every background goroutine and waits for the health
// scheduler to drain its workers.
func (a *Application) Stop(context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	a.scheduler.Stop()
	a.events.Shutdown()
	return nil
}

// Registry exposes the backend registry for the status CLI.
func (a *Application) Registry() ports.Registry { return a.registry }

// Events exposes the shared event bus for the status CLI.
func (a *Application) Events() *eventbus.EventBus[domain.ProxyEvent] { return a.events }

func (a *Application) loadPrivateServers(cfg *config.Config, rly ports.Relay) {
	for id, sc := range cfg.PrivateServers {
		b, err := backend.FromPrivateServerConfig(id, sc, 0, rly)
		if err != nil {
			a.log.Warn("skipping private server with unrecognised type", "id", id, "proxy_type", sc.ProxyType)
			continue
		}
		a.registry.AddBackend(b)
		a.addrMu.Lock()
		a.addrs[id] = fmt.Sprintf("%s:%d", sc.Host, sc.Port)
		a.addrMu.Unlock()
	}
}

func (a *Application) startDirectoryDiscovery(cfg *config.Config, rly ports.Relay) {
	client := discovery.New("", a.log)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		records, err := client.Lookup(ctx, cfg.PublicServers.Source)
		if err != nil {
			a.log.Warn("directory lookup failed", "source", cfg.PublicServers.Source, "error", err)
			return
		}

		for _, rec := range records {
			if !cfg.PublicServers.Enabled(string(rec.Type)) {
				continue
			}
			b, err := backend.FromDirectoryRecord(rec, rly)
			if err != nil {
				continue
			}
			a.registry.AddBackend(b)
			a.scheduler.Register(b)
			a.addrMu.Lock()
			a.addrs[rec.Identity] = rec.Identity
			a.addrMu.Unlock()
		}
	}()
}

// healthCheck is the generic probe the scheduler runs per backend: a bare
// TCP dial against the address recorded when the backend was instantiated.
// It deliberately does not exercise each protocol's handshake; a backend
// that accepts TCP but rejects the real handshake is caught on the next
// real session's fallback instead.
func (a *Application) healthCheck(ctx context.Context, b ports.Backend) (bool, time.Duration) {
	a.addrMu.Lock()
	addr := a.addrs[b.Meta().Identity]
	a.addrMu.Unlock()
	if addr == "" {
		return true, 0
	}

	start := time.Now()
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	conn, err := (&net.Dialer{}).DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return false, 0
	}
	conn.Close()
	return true, time.Since(start)
}

func backendClasses() map[domain.BackendType]ports.BackendClass {
	return map[domain.BackendType]ports.BackendClass{
		domain.BackendGoAgent:     backend.ClassFunc(backend.RefreshGoAgent),
		domain.BackendSSH:         backend.ClassFunc(backend.RefreshSSH),
		domain.BackendShadowsocks: backend.ClassFunc(backend.RefreshShadowsocks),
		domain.BackendHTTP:        backend.ClassFunc(backend.RefreshHTTPConnect),
		domain.BackendSPDY:        backend.ClassFunc(backend.RefreshSPDY),
	}
}
