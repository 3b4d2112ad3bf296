// Package manager owns a named set of Bus Service instances, routes calls to
// a configured default, and coordinates startup/shutdown of the whole set
// under one shared signal, per §2 "Multi-Bus Manager" and §9's "Multi-bus
// ownership" design note.
package manager

import (
	"context"
	"sync"
	"time"

	buserrors "github.com/R3E-Network/eventbus/infrastructure/errors"
	"github.com/R3E-Network/eventbus/infrastructure/logging"
	"github.com/R3E-Network/eventbus/pkg/bus"
	"github.com/R3E-Network/eventbus/pkg/rules"
	"github.com/R3E-Network/eventbus/pkg/storage"
)

// BusSpec is one named bus's full construction recipe: its Config, an
// optional durable storage.Backend (nil keeps the bus on its fan-out store
// alone), the rule store backing it (nil disables rules regardless of
// cfg.EnableRules), and an optional invocation sink for dispatched tool
// calls.
type BusSpec struct {
	Config    bus.Config
	Storage   storage.Backend
	RuleStore rules.Store
	Sink      bus.InvocationSink
}

// Config is the Multi-Bus Manager's configuration, per §6.3 "Multi-bus".
type Config struct {
	Buses                 map[string]BusSpec
	DefaultBus            string
	GlobalShutdownTimeout time.Duration
}

// Manager owns a named map of *bus.Bus instances and a shared shutdown
// signal. A failing bus's shutdown never blocks the others (§9).
type Manager struct {
	mu     sync.RWMutex
	cfg    Config
	log    *logging.Logger
	byName map[string]*bus.Bus

	shutdownOnce sync.Once
	stopped      chan struct{}
}

// New constructs a Manager and every child Bus named in cfg.Buses, failing
// fast (ConfigurationError) if DefaultBus does not name a configured bus.
func New(cfg Config, log *logging.Logger) (*Manager, error) {
	if cfg.DefaultBus == "" {
		return nil, buserrors.ConfigurationError("default_bus", "must not be empty")
	}
	if _, ok := cfg.Buses[cfg.DefaultBus]; !ok {
		return nil, buserrors.ConfigurationError("default_bus", "names a bus not present in the bus map")
	}

	m := &Manager{
		cfg:     cfg,
		log:     log,
		byName:  make(map[string]*bus.Bus, len(cfg.Buses)),
		stopped: make(chan struct{}),
	}

	for name, spec := range cfg.Buses {
		spec.Config.InstanceID = name
		b, err := bus.New(spec.Config, spec.RuleStore, spec.Sink, log)
		if err != nil {
			return nil, buserrors.Wrap(buserrors.ErrCodeConfiguration, "construct bus "+name, err)
		}
		if spec.Storage != nil {
			b.SetStorage(spec.Storage)
		}
		m.byName[name] = b
	}
	return m, nil
}

// Start initializes and starts every owned bus. A failure on one bus aborts
// Start entirely (a half-started manager is not a usable state); callers
// that want partial-start tolerance should call StartBus per name instead.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.RLock()
	names := make([]string, 0, len(m.byName))
	for name := range m.byName {
		names = append(names, name)
	}
	m.mu.RUnlock()

	for _, name := range names {
		if err := m.StartBus(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// StartBus starts one named bus.
func (m *Manager) StartBus(ctx context.Context, name string) error {
	b, err := m.Bus(name)
	if err != nil {
		return err
	}
	return b.Start(ctx)
}

// Bus returns the named bus, or the default bus when name is "".
func (m *Manager) Bus(name string) (*bus.Bus, error) {
	if name == "" {
		name = m.cfg.DefaultBus
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.byName[name]
	if !ok {
		return nil, buserrors.New(buserrors.ErrCodeConfiguration, "no bus named "+name)
	}
	return b, nil
}

// Default returns the default bus.
func (m *Manager) Default() (*bus.Bus, error) {
	return m.Bus("")
}

// Names returns every configured bus name.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.byName))
	for name := range m.byName {
		names = append(names, name)
	}
	return names
}

// shutdownResult carries one bus's outcome back to Shutdown's fan-in.
type shutdownResult struct {
	name string
	err  error
}

// Shutdown calls Shutdown on every owned bus concurrently, each given its
// own context with a deadline of cfg.GlobalShutdownTimeout (30s when unset).
// A bus that hangs or errors never blocks the others, though Shutdown itself
// returns only once every bus's call has returned; it is idempotent and
// returns a map of any errors keyed by bus name.
func (m *Manager) Shutdown(ctx context.Context) map[string]error {
	errs := make(map[string]error)
	var errsMu sync.Mutex

	m.shutdownOnce.Do(func() {
		m.mu.RLock()
		buses := make(map[string]*bus.Bus, len(m.byName))
		for name, b := range m.byName {
			buses[name] = b
		}
		m.mu.RUnlock()

		results := make(chan shutdownResult, len(buses))
		for name, b := range buses {
			go func(name string, b *bus.Bus) {
				deadline := m.cfg.GlobalShutdownTimeout
				if deadline <= 0 {
					deadline = 30 * time.Second
				}
				shutCtx, cancel := context.WithTimeout(ctx, deadline)
				defer cancel()
				results <- shutdownResult{name: name, err: b.Shutdown(shutCtx)}
			}(name, b)
		}

		for i := 0; i < len(buses); i++ {
			r := <-results
			if r.err != nil {
				if m.log != nil {
					m.log.LogShutdown(ctx, r.name, false, 0)
				}
				errsMu.Lock()
				errs[r.name] = r.err
				errsMu.Unlock()
			}
		}
		close(m.stopped)
	})

	return errs
}

// Done returns a channel closed once every owned bus's Shutdown call has
// returned, success or error; inspect Shutdown's returned error map for
// per-bus outcomes.
func (m *Manager) Done() <-chan struct{} {
	return m.stopped
}
