package rules

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	buserrors "github.com/R3E-Network/eventbus/infrastructure/errors"
	"github.com/R3E-Network/eventbus/infrastructure/logging"
	"github.com/R3E-Network/eventbus/pkg/event"
)

// DefaultMaxCascadeDepth caps how many EmitEvent/Forward actions may
// re-enter process_event before the engine rejects the cascade.
const DefaultMaxCascadeDepth = 8

type cascadeDepthKey struct{}

// EmitFunc routes an envelope back through the owning Bus Service's emit, so
// EmitEvent/Forward actions are re-admitted rather than bypassing rate
// limits. It is injected rather than imported to avoid a pkg/rules<->pkg/bus
// cycle: the Bus Service owns the Engine, not the other way around.
type EmitFunc func(ctx context.Context, e *event.Envelope) error

// Engine evaluates rules against envelopes and against their own cron
// schedules, producing tool invocations for the external executor.
type Engine struct {
	store           Store
	emit            EmitFunc
	log             *logging.Logger
	maxCascadeDepth int
	transformBudget time.Duration

	mu          sync.Mutex
	cron        *cron.Cron
	cronEntries map[string]cron.EntryID
}

// Option configures an Engine at construction.
type Option func(*Engine)

// WithMaxCascadeDepth overrides DefaultMaxCascadeDepth.
func WithMaxCascadeDepth(depth int) Option {
	return func(e *Engine) {
		if depth > 0 {
			e.maxCascadeDepth = depth
		}
	}
}

// WithTransformBudget overrides DefaultTransformBudget for Transform actions.
func WithTransformBudget(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.transformBudget = d
		}
	}
}

// WithLogger attaches a structured logger; a nil logger leaves dispatch
// unlogged.
func WithLogger(log *logging.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// NewEngine constructs an Engine backed by store, routing EmitEvent/Forward
// actions through emit.
func NewEngine(store Store, emit EmitFunc, opts ...Option) *Engine {
	e := &Engine{
		store:           store,
		emit:            emit,
		maxCascadeDepth: DefaultMaxCascadeDepth,
		transformBudget: DefaultTransformBudget,
		cron:            cron.New(),
		cronEntries:     make(map[string]cron.EntryID),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start begins the cron scheduler goroutine.
func (e *Engine) Start() { e.cron.Start() }

// Stop drains the cron scheduler; it does not clear registered rules.
func (e *Engine) Stop(ctx context.Context) {
	stopCtx := e.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
}

// RegisterRule stores rule and, if it carries a Schedule, adds a cron entry.
func (e *Engine) RegisterRule(ctx context.Context, rule Rule) error {
	if rule.Schedule != "" && containsWildcard(rule.TopicPattern) {
		return buserrors.ValidationError("topic_pattern", "scheduled rules require a concrete topic_pattern")
	}
	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	if err := e.store.Store(ctx, rule); err != nil {
		return err
	}
	if rule.Schedule != "" {
		if err := e.addCronEntry(rule); err != nil {
			_ = e.store.Delete(ctx, rule.ID)
			return err
		}
	}
	return nil
}

// RemoveRule deletes a rule and its cron entry, if any.
func (e *Engine) RemoveRule(ctx context.Context, id string) error {
	if err := e.store.Delete(ctx, id); err != nil {
		return err
	}
	e.removeCronEntry(id)
	return nil
}

// ListRules returns every registered rule (enabled or not).
func (e *Engine) ListRules(ctx context.Context) ([]Rule, error) {
	return e.store.List(ctx, false)
}

// SetRuleEnabled toggles a rule and its cron entry to match.
func (e *Engine) SetRuleEnabled(ctx context.Context, id string, enabled bool) error {
	if err := e.store.SetEnabled(ctx, id, enabled); err != nil {
		return err
	}
	rule, err := e.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if rule.Schedule == "" {
		return nil
	}
	if enabled {
		return e.addCronEntry(rule)
	}
	e.removeCronEntry(id)
	return nil
}

func (e *Engine) addCronEntry(rule Rule) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.cronEntries[rule.ID]; exists {
		return nil
	}
	entryID, err := e.cron.AddFunc(rule.Schedule, func() { e.fireScheduled(rule) })
	if err != nil {
		return buserrors.Wrap(buserrors.ErrCodeConfiguration, "invalid cron schedule", err).
			WithDetails("rule_id", rule.ID)
	}
	e.cronEntries[rule.ID] = entryID
	return nil
}

func (e *Engine) removeCronEntry(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entryID, ok := e.cronEntries[id]
	if !ok {
		return
	}
	e.cron.Remove(entryID)
	delete(e.cronEntries, id)
}

// fireScheduled synthesizes an envelope on rule.TopicPattern and runs the
// rule's action pipeline directly, bypassing match_fields (there is no
// triggering envelope to match fields against).
func (e *Engine) fireScheduled(rule Rule) {
	ctx := context.Background()
	synthetic, err := event.New(event.Params{
		Topic:     rule.TopicPattern,
		Payload:   map[string]interface{}{},
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		e.logDispatch(ctx, rule.ID, "scheduled", err)
		return
	}

	current, err := e.store.Get(ctx, rule.ID)
	if err != nil || !current.Enabled {
		return
	}

	invocations, err := e.dispatch(ctx, current, synthetic, 0)
	e.logDispatch(ctx, rule.ID, "scheduled", err)
	_ = invocations
}

// ProcessEvent scans enabled rules in descending priority, stable by
// insertion order, and dispatches the action of every rule whose
// topic_pattern and match_fields match e. The cascade depth carried in ctx
// (set by a prior reEmit) is honored so an EmitEvent->rule->EmitEvent loop
// still terminates after the Bus Service re-admits the envelope and calls
// back into ProcessEvent.
func (e *Engine) ProcessEvent(ctx context.Context, ev *event.Envelope) ([]ToolInvocation, error) {
	depth, _ := ctx.Value(cascadeDepthKey{}).(int)
	return e.processEventAtDepth(ctx, ev, depth)
}

func (e *Engine) processEventAtDepth(ctx context.Context, ev *event.Envelope, depth int) ([]ToolInvocation, error) {
	ruleList, err := e.store.ListByPriority(ctx, true)
	if err != nil {
		return nil, err
	}

	var invocations []ToolInvocation
	for _, rule := range ruleList {
		if !rule.matches(ev) {
			continue
		}
		result, dispatchErr := e.dispatch(ctx, rule, ev, depth)
		e.logDispatch(ctx, rule.ID, string(rule.Action.Type), dispatchErr)
		if dispatchErr != nil {
			// A rule that fails to evaluate is logged and skipped; the event
			// is still delivered normally to the remaining rules.
			continue
		}
		invocations = append(invocations, result...)
	}
	return invocations, nil
}

// dispatch expands rule.Action depth-first, returning the tool invocations
// it produces.
func (e *Engine) dispatch(ctx context.Context, rule Rule, ev *event.Envelope, depth int) ([]ToolInvocation, error) {
	return e.applyAction(ctx, rule.Action, ev, depth)
}

func (e *Engine) applyAction(ctx context.Context, action Action, ev *event.Envelope, depth int) ([]ToolInvocation, error) {
	switch action.Type {
	case ActionInvokeTool:
		return []ToolInvocation{{ToolID: action.ToolID, Input: action.Input}}, nil

	case ActionEmitEvent:
		return nil, e.reEmit(ctx, action.Topic, action.Payload, ev, depth)

	case ActionForward:
		payload := ev.Payload
		if action.Transform != nil {
			transformed, err := e.applyTransform(*action.Transform, payload)
			if err != nil {
				return nil, err
			}
			payload = transformed
		}
		return nil, e.reEmit(ctx, action.TargetTopic, payload, ev, depth)

	case ActionTransform:
		_, err := runTransform(action.Script, ev.Payload, e.transformBudget)
		return nil, err

	case ActionSequence:
		var out []ToolInvocation
		for _, sub := range action.Actions {
			result, err := e.applyAction(ctx, sub, ev, depth)
			if err != nil {
				return out, err
			}
			out = append(out, result...)
		}
		return out, nil

	case ActionWebhook:
		return nil, dispatchWebhook(ctx, action)

	case ActionLog:
		if e.log != nil {
			e.log.WithFields(map[string]interface{}{"level": action.Level}).Info(action.Message)
		}
		return nil, nil

	case ActionCustom:
		return nil, nil

	default:
		return nil, fmt.Errorf("unsupported action type %q", action.Type)
	}
}

func (e *Engine) applyTransform(transform Action, payload interface{}) (interface{}, error) {
	if transform.Type != ActionTransform {
		return payload, nil
	}
	return runTransform(transform.Script, payload, e.transformBudget)
}

// reEmit routes an EmitEvent/Forward action back through the owning Bus
// Service, incrementing the cascade-depth guard so EmitEvent->rule->EmitEvent
// loops terminate.
func (e *Engine) reEmit(ctx context.Context, topic string, payload interface{}, source *event.Envelope, depth int) error {
	if depth+1 > e.maxCascadeDepth {
		return buserrors.RuleCascadeDepthExceeded(depth+1, e.maxCascadeDepth)
	}
	if e.emit == nil {
		return nil
	}
	next, err := event.New(event.Params{
		Topic:         topic,
		Payload:       payload,
		Timestamp:     time.Now().UnixMilli(),
		CorrelationID: source.CorrelationID,
	})
	if err != nil {
		return err
	}
	return e.emit(context.WithValue(ctx, cascadeDepthKey{}, depth+1), next)
}

func (e *Engine) logDispatch(ctx context.Context, ruleID, actionType string, err error) {
	if e.log == nil {
		return
	}
	e.log.LogRuleDispatch(ctx, ruleID, actionType, err)
}

func containsWildcard(pattern string) bool {
	for _, r := range pattern {
		if r == '*' {
			return true
		}
	}
	return false
}
