// Package bus implements the Bus Service: the sole writer between transport
// and storage, responsible for admission, rate limiting, fan-out, rule
// dispatch, and cooperative shutdown.
package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	buserrors "github.com/R3E-Network/eventbus/infrastructure/errors"
	"github.com/R3E-Network/eventbus/infrastructure/logging"
	"github.com/R3E-Network/eventbus/infrastructure/metrics"
	"github.com/R3E-Network/eventbus/infrastructure/ratelimit"
	"github.com/R3E-Network/eventbus/internal/framework/lifecycle"
	"github.com/R3E-Network/eventbus/pkg/event"
	"github.com/R3E-Network/eventbus/pkg/rules"
	"github.com/R3E-Network/eventbus/pkg/storage"
	"github.com/R3E-Network/eventbus/pkg/trn"
)

// State is the Bus's lifecycle state, per §4.4.6.
type State int32

const (
	StateInitialized State = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInitialized:
		return "initialized"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// InvocationSink receives the tool invocations a rule dispatch produces.
// Dispatch and sink failures are logged, never fatal to emit.
type InvocationSink func(ctx context.Context, invocations []rules.ToolInvocation) error

// Bus is one named event bus instance.
type Bus struct {
	cfg Config

	state int32 // atomic State

	allowAll bool
	admit    *trn.Matcher

	limiter *ratelimit.RateLimiter

	permits chan struct{}

	storage     storage.Backend // optional durable backend
	fanoutStore *storage.MemoryStore

	ruleEngine *rules.Engine

	broadcast *broadcaster

	hooks *lifecycle.Hooks

	sink InvocationSink

	log *logging.Logger
	mx  *metrics.Metrics

	inFlight int64 // atomic gauge

	shutdownOnce sync.Once
	drained      chan struct{}
}

// New constructs a Bus from cfg. ruleStore is nil when EnableRules is false;
// sink may be nil, in which case dispatched tool invocations are discarded
// after logging.
func New(cfg Config, ruleStore rules.Store, sink InvocationSink, log *logging.Logger) (*Bus, error) {
	if cfg.InstanceID == "" {
		return nil, buserrors.New(buserrors.ErrCodeConfiguration, "instance_id must not be empty")
	}
	if cfg.MaxConcurrentEmits <= 0 {
		return nil, buserrors.New(buserrors.ErrCodeConfiguration, "max_concurrent_emits must be positive")
	}

	b := &Bus{
		cfg:         cfg,
		state:       int32(StateInitialized),
		permits:     make(chan struct{}, cfg.MaxConcurrentEmits),
		fanoutStore: storage.NewMemoryStore(cfg.Storage.MaxEvents),
		broadcast:   newBroadcaster(cfg.SubscriberBufferSize),
		hooks:       lifecycle.NewHooks(),
		sink:        sink,
		log:         log,
		drained:     make(chan struct{}),
	}

	allowAll, matcher, err := compileAllowedSources(cfg.AllowedSources)
	if err != nil {
		return nil, err
	}
	b.allowAll = allowAll
	b.admit = matcher

	if cfg.MaxEventsPerSecond > 0 {
		rlCfg := ratelimit.DefaultConfig()
		rlCfg.RequestsPerSecond = float64(cfg.MaxEventsPerSecond)
		rlCfg.Burst = cfg.MaxEventsPerSecond
		b.limiter = ratelimit.New(rlCfg)
	}

	if cfg.EnableMetrics {
		b.mx = metrics.ForBus(cfg.InstanceID)
	}

	if cfg.EnableRules && ruleStore != nil {
		engineOpts := []rules.Option{}
		if cfg.MaxCascadeDepth > 0 {
			engineOpts = append(engineOpts, rules.WithMaxCascadeDepth(cfg.MaxCascadeDepth))
		}
		if cfg.TransformBudget > 0 {
			engineOpts = append(engineOpts, rules.WithTransformBudget(cfg.TransformBudget))
		}
		if log != nil {
			engineOpts = append(engineOpts, rules.WithLogger(log))
		}
		b.ruleEngine = rules.NewEngine(ruleStore, b.emitFromRule, engineOpts...)
	}

	return b, nil
}

// compileAllowedSources treats a literal "*" entry as allow-all, since "*"
// alone does not parse as a 9-component TRN pattern (trn.CompilePattern
// requires the full trn:... shape); every other entry is compiled as a
// normal TRN pattern.
func compileAllowedSources(patterns []string) (bool, *trn.Matcher, error) {
	matcher, err := trn.NewMatcher()
	if err != nil {
		return false, nil, err
	}
	for _, p := range patterns {
		if p == "*" {
			return true, nil, nil
		}
		if err := matcher.Add(p); err != nil {
			return false, nil, err
		}
	}
	return false, matcher, nil
}

// SetStorage attaches durable storage. Must be called before Start.
func (b *Bus) SetStorage(backend storage.Backend) {
	b.storage = backend
}

// Hooks exposes the lifecycle hooks registry so callers can register
// pre/post start/stop hooks (e.g. flushing metrics) before Start.
func (b *Bus) Hooks() *lifecycle.Hooks {
	return b.hooks
}

// RuleEngine exposes the bus's rule engine for registration/listing, or nil
// when EnableRules is false or no rule store was supplied to New.
func (b *Bus) RuleEngine() *rules.Engine {
	return b.ruleEngine
}

// Start runs pre/post-start hooks, initializes storage, starts the rule
// engine's cron scheduler, and moves Initialized -> Running.
func (b *Bus) Start(ctx context.Context) error {
	if State(atomic.LoadInt32(&b.state)) != StateInitialized {
		return buserrors.New(buserrors.ErrCodeConfiguration, "bus already started")
	}
	if err := b.hooks.RunPreStart(ctx); err != nil {
		return err
	}
	if b.storage != nil {
		if err := b.storage.Initialize(ctx); err != nil {
			return err
		}
	}
	if err := b.fanoutStore.Initialize(ctx); err != nil {
		return err
	}
	if b.ruleEngine != nil {
		b.ruleEngine.Start()
	}
	atomic.StoreInt32(&b.state, int32(StateRunning))
	return b.hooks.RunPostStart(ctx)
}

func (b *Bus) currentState() State {
	return State(atomic.LoadInt32(&b.state))
}

// Emit admits, persists, broadcasts, and dispatches rules for one envelope,
// per §4.4.1.
func (b *Bus) Emit(ctx context.Context, e *event.Envelope) error {
	if b.currentState() != StateRunning {
		return buserrors.ServiceStopping(b.cfg.InstanceID)
	}

	if err := b.admitOne(e); err != nil {
		if b.mx != nil {
			b.mx.RecordFailed("admission", err)
		}
		if b.log != nil {
			b.log.LogAdmission(ctx, e.SourceTRN, false, err.Error())
		}
		return err
	}
	if b.log != nil {
		b.log.LogAdmission(ctx, e.SourceTRN, true, "")
	}

	if err := b.checkRateLimit(); err != nil {
		if b.mx != nil {
			b.mx.RecordFailed("rate_limited", err)
		}
		return err
	}

	if err := b.acquirePermit(ctx); err != nil {
		return err
	}
	defer b.releasePermit()

	start := time.Now()

	if b.storage != nil {
		if err := b.storage.Store(ctx, e); err != nil {
			if b.log != nil {
				b.log.LogStorageOp(ctx, "store", time.Since(start), err)
			}
			if b.mx != nil {
				b.mx.RecordFailed("storage", err)
			}
			return err
		}
	}
	if err := b.fanoutStore.Store(ctx, e); err != nil {
		if b.log != nil {
			b.log.LogStorageOp(ctx, "fanout_store", time.Since(start), err)
		}
	}

	b.broadcast.publish(e)

	if b.ruleEngine != nil {
		b.dispatchRules(ctx, e)
	}

	if b.mx != nil {
		b.mx.RecordEmitted(e.Topic, payloadSize(e))
		b.mx.RecordProcessed(time.Since(start))
		b.mx.SetSubscribers(b.broadcast.subscriberCount())
	}
	return nil
}

// EmitBatch admits every envelope before any side effect, reserves len(envelopes)
// permits at once, then stores/broadcasts/dispatches each, per §4.4.2.
func (b *Bus) EmitBatch(ctx context.Context, envelopes []*event.Envelope) error {
	if b.currentState() != StateRunning {
		return buserrors.ServiceStopping(b.cfg.InstanceID)
	}
	if len(envelopes) == 0 {
		return nil
	}

	for _, e := range envelopes {
		if err := b.admitOne(e); err != nil {
			if b.mx != nil {
				b.mx.RecordFailed("admission", err)
			}
			return err
		}
	}
	if err := b.checkRateLimit(); err != nil {
		return err
	}

	for i := 0; i < len(envelopes); i++ {
		if err := b.acquirePermit(ctx); err != nil {
			b.releasePermitN(i)
			return err
		}
	}
	defer b.releasePermitN(len(envelopes))

	start := time.Now()
	if b.storage != nil {
		if err := b.storage.StoreBatch(ctx, envelopes); err != nil {
			return err
		}
	}
	if err := b.fanoutStore.StoreBatch(ctx, envelopes); err != nil && b.log != nil {
		b.log.LogStorageOp(ctx, "fanout_store_batch", time.Since(start), err)
	}

	for _, e := range envelopes {
		b.broadcast.publish(e)
		if b.ruleEngine != nil {
			b.dispatchRules(ctx, e)
		}
		if b.mx != nil {
			b.mx.RecordEmitted(e.Topic, payloadSize(e))
		}
	}
	if b.mx != nil {
		b.mx.RecordProcessed(time.Since(start))
	}
	return nil
}

// Subscribe returns a bounded, cancellable sequence of envelopes whose topic
// matches topicPattern. Accepted in Running and Draining; in Draining the
// subscription may immediately observe end-of-sequence.
func (b *Bus) Subscribe(topicPattern string) (*Subscription, error) {
	switch b.currentState() {
	case StateRunning, StateDraining:
	default:
		return nil, buserrors.ServiceStopping(b.cfg.InstanceID)
	}
	sub := b.broadcast.subscribe(topicPattern)
	if b.mx != nil {
		b.mx.SetSubscribers(b.broadcast.subscriberCount())
	}
	return sub, nil
}

// ListTopics returns every distinct topic currently held by the fan-out
// store, sorted. The fan-out store holds only envelopes emitted through this
// Bus (bounded by Storage.MaxEvents), so topics present only in durable
// storage are not listed.
func (b *Bus) ListTopics() []string {
	return b.fanoutStore.Topics()
}

// GetStats reports durable storage's aggregates when durable storage is
// configured, else the fan-out store's.
func (b *Bus) GetStats(ctx context.Context) (storage.Stats, error) {
	if b.storage != nil {
		return b.storage.GetStats(ctx)
	}
	return b.fanoutStore.GetStats(ctx)
}

// Done returns a channel closed once Shutdown has waited for in-flight emits
// (up to ShutdownGracePeriod) and moved the bus to Stopped.
func (b *Bus) Done() <-chan struct{} {
	return b.drained
}

// Poll delegates to durable storage when present, else the fan-out store.
// It performs no admission checks; it is a pure read.
func (b *Bus) Poll(ctx context.Context, q event.Query) ([]*event.Envelope, error) {
	if b.storage != nil {
		return b.storage.Query(ctx, q)
	}
	return b.fanoutStore.Query(ctx, q)
}

// Shutdown stops accepting new emits, waits up to cfg.ShutdownGracePeriod
// for in-flight emits to drain, then closes the broadcast channel. It never
// calls storage.Cleanup. Safe to call more than once; later calls block
// until the first completes.
func (b *Bus) Shutdown(ctx context.Context) error {
	var hookErr error
	b.shutdownOnce.Do(func() {
		atomic.StoreInt32(&b.state, int32(StateDraining))

		if err := b.hooks.RunPreStop(ctx); err != nil {
			hookErr = err
		}

		waitStart := time.Now()
		b.waitDrained(b.cfg.ShutdownGracePeriod)
		drained := atomic.LoadInt64(&b.inFlight) == 0
		if b.log != nil {
			b.log.LogShutdown(ctx, b.cfg.InstanceID, drained, time.Since(waitStart))
		}

		if b.ruleEngine != nil {
			b.ruleEngine.Stop(ctx)
		}
		b.broadcast.closeAll()

		atomic.StoreInt32(&b.state, int32(StateStopped))
		close(b.drained)

		if err := b.hooks.RunPostStop(ctx); err != nil && hookErr == nil {
			hookErr = err
		}
	})
	return hookErr
}

func (b *Bus) waitDrained(grace time.Duration) {
	deadline := time.Now().Add(grace)
	for atomic.LoadInt64(&b.inFlight) > 0 {
		if time.Now().After(deadline) {
			return
		}
		time.Sleep(time.Millisecond)
	}
}

func (b *Bus) admitOne(e *event.Envelope) error {
	if e.SourceTRN == "" || b.allowAll {
		return nil
	}
	if b.admit.Matches(e.SourceTRN) {
		return nil
	}
	return buserrors.PermissionDenied(e.SourceTRN)
}

func (b *Bus) checkRateLimit() error {
	if b.limiter == nil {
		return nil
	}
	if !b.limiter.Allow() {
		return buserrors.RateLimited(b.cfg.MaxEventsPerSecond)
	}
	return nil
}

func (b *Bus) acquirePermit(ctx context.Context) error {
	select {
	case b.permits <- struct{}{}:
		atomic.AddInt64(&b.inFlight, 1)
		return nil
	case <-ctx.Done():
		return buserrors.Wrap(buserrors.ErrCodeServiceStopping, "permit acquisition canceled", ctx.Err())
	}
}

func (b *Bus) releasePermit() {
	<-b.permits
	atomic.AddInt64(&b.inFlight, -1)
}

func (b *Bus) releasePermitN(n int) {
	for i := 0; i < n; i++ {
		b.releasePermit()
	}
}

// dispatchRules runs the rule engine against e and routes any resulting
// tool invocations to sink. Failures are logged, never fatal to Emit, per
// §4.5's failure semantics.
func (b *Bus) dispatchRules(ctx context.Context, e *event.Envelope) {
	invocations, err := b.ruleEngine.ProcessEvent(ctx, e)
	if err != nil {
		if b.log != nil {
			b.log.LogRuleDispatch(ctx, "", "process_event", err)
		}
		return
	}
	if len(invocations) == 0 || b.sink == nil {
		return
	}
	if err := b.sink(ctx, invocations); err != nil && b.log != nil {
		b.log.LogRuleDispatch(ctx, "", "sink", err)
	}
}

// emitFromRule is the rules.EmitFunc passed to rules.NewEngine: it re-admits
// EmitEvent/Forward actions through Emit rather than bypassing admission and
// rate limiting.
func (b *Bus) emitFromRule(ctx context.Context, e *event.Envelope) error {
	return b.Emit(ctx, e)
}

func payloadSize(e *event.Envelope) int {
	if s, ok := e.Payload.(string); ok {
		return len(s)
	}
	return 0
}
