package tools

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/amonhq/amon/internal/errs"
	"github.com/amonhq/amon/internal/observability"
	"github.com/amonhq/amon/internal/tools/policy"
	"github.com/amonhq/amon/internal/tools/workspace"
)

type registered struct {
	spec    Spec
	handler Handler
}

// Registry dispatches tool calls through policy, schema validation, and
// the workspace guard, auditing every outcome.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]registered
	schemas *schemaCache

	policy  *policy.Policy
	guard   *workspace.Guard
	audit   *AuditSink
	metrics *observability.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// RegistryOption customizes a Registry.
type RegistryOption func(*Registry)

// WithPolicy sets the authorization tiers. Without a policy every call is
// denied.
func WithPolicy(p *policy.Policy) RegistryOption {
	return func(r *Registry) { r.policy = p }
}

// WithGuard sets the workspace guard applied to path arguments.
func WithGuard(g *workspace.Guard) RegistryOption {
	return func(r *Registry) { r.guard = g }
}

// WithAudit sets the audit sink.
func WithAudit(a *AuditSink) RegistryOption {
	return func(r *Registry) { r.audit = a }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *observability.Metrics) RegistryOption {
	return func(r *Registry) { r.metrics = m }
}

// WithRegistryLogger sets the logger.
func WithRegistryLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

// WithRegistryNow overrides the clock, for tests.
func WithRegistryNow(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		tools:   make(map[string]registered),
		schemas: newSchemaCache(),
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "tools")
	return r
}

// Register stores a tool by its spec name, replacing any previous
// registration.
func (r *Registry) Register(spec Spec, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if spec.Source == "" {
		spec.Source = SourceNative
	}
	r.tools[spec.Name] = registered{spec: spec, handler: handler}
	r.schemas.invalidate(spec.Name)
}

// Specs returns the registered tool specs, for listing.
func (r *Registry) Specs() []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]Spec, 0, len(r.tools))
	for _, reg := range r.tools {
		specs = append(specs, reg.spec)
	}
	return specs
}

// Get returns the spec for a tool name.
func (r *Registry) Get(name string) (Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.tools[name]
	return reg.spec, ok
}

// Call dispatches one tool call. requireApproval reports whether the
// caller can obtain interactive confirmation for ask-tier tools; callers
// that cannot (the action queue) receive approval_missing instead.
//
// Call never returns a Go error for tool-level failures: refusals and
// handler errors come back as an error Result so the caller's control
// flow stays uniform.
func (r *Registry) Call(ctx context.Context, call *Call, requireApproval bool) *Result {
	start := r.now()

	r.mu.RLock()
	reg, ok := r.tools[call.Tool]
	r.mu.RUnlock()
	if !ok {
		res := ErrorResult("unknown_tool", "unknown tool: "+call.Tool)
		r.finish(ctx, call, policy.DecisionDeny, res, SourceUnknown, start)
		return res
	}

	decision := r.explain(call)
	switch decision.Decision {
	case policy.DecisionDeny:
		res := ErrorResult("denied", "policy denies "+call.Tool)
		r.finish(ctx, call, policy.DecisionDeny, res, reg.spec.Source, start)
		return res
	case policy.DecisionAsk:
		status := "approval_missing"
		if requireApproval {
			status = "approval_required"
		}
		res := ErrorResult(status, "policy requires approval for "+call.Tool)
		r.finish(ctx, call, policy.DecisionAsk, res, reg.spec.Source, start)
		return res
	}

	if err := r.schemas.validateArgs(call.Tool, reg.spec.InputSchema, call.Args); err != nil {
		res := ErrorResult("invalid_arguments", err.Error())
		r.finish(ctx, call, policy.DecisionAllow, res, reg.spec.Source, start)
		return res
	}

	if r.guard != nil {
		if err := r.guard.Apply(call.Tool, call.Args); err != nil {
			status := "workspace_violation"
			if errs.Is(err, errs.KindInvalidArguments) {
				status = "invalid_arguments"
			}
			res := ErrorResult(status, err.Error())
			r.finish(ctx, call, policy.DecisionAllow, res, reg.spec.Source, start)
			return res
		}
	}

	res := r.invoke(ctx, reg.handler, call)
	r.finish(ctx, call, policy.DecisionAllow, res, reg.spec.Source, start)
	return res
}

// Explain reports the policy outcome for a call without executing it.
func (r *Registry) Explain(call *Call) policy.Explanation {
	return r.explain(call)
}

func (r *Registry) explain(call *Call) policy.Explanation {
	if r.policy == nil {
		return policy.Explanation{Decision: policy.DecisionDeny}
	}
	return r.policy.Explain(call.Tool, policy.CommandOf(call.Args))
}

// invoke runs the handler, converting panics and errors into error
// results so a misbehaving tool cannot take down a worker.
func (r *Registry) invoke(ctx context.Context, handler Handler, call *Call) (res *Result) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("tool handler panicked", "tool", call.Tool, "panic", rec)
			res = ErrorResult("execution_failed", "tool handler panicked")
		}
	}()

	out, err := handler(ctx, call)
	if err != nil {
		status := string(errs.KindOf(err))
		return ErrorResult(status, err.Error())
	}
	if out == nil {
		return ErrorResult("execution_failed", "tool returned no result")
	}
	return out
}

func (r *Registry) finish(ctx context.Context, call *Call, decision policy.Decision, res *Result, source Source, start time.Time) {
	duration := r.now().Sub(start)
	if r.audit != nil {
		r.audit.Record(ctx, call, decision, res, source, duration)
	}
	if r.metrics != nil {
		r.metrics.ToolCalls.WithLabelValues(call.Tool, string(decision)).Inc()
		r.metrics.ToolCallDuration.WithLabelValues(call.Tool).Observe(duration.Seconds())
	}
	if res.IsError {
		r.logger.Warn("tool call failed", "tool", call.Tool, "status", res.Status(), "decision", decision)
	} else {
		r.logger.Debug("tool call ok", "tool", call.Tool, "duration_ms", duration.Milliseconds())
	}
}
