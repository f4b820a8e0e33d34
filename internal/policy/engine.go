package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rafaeljc/gatekeeper/internal/expression"
	"github.com/rafaeljc/gatekeeper/internal/logger"
	"github.com/rafaeljc/gatekeeper/internal/member"
	"github.com/rafaeljc/gatekeeper/internal/observability"
	"github.com/rafaeljc/gatekeeper/internal/ruleset"
	"github.com/rafaeljc/gatekeeper/internal/source"
)

// OriginEmpty is the origin of an engine built after every source failed.
const OriginEmpty = "empty"

// OriginStatic is the origin of an engine built directly with New.
const OriginStatic = "static"

const tracerName = "github.com/rafaeljc/gatekeeper/internal/policy"

// Engine holds a frozen ruleset and computes flag maps from it.
// It is immutable after construction and safe for concurrent use.
type Engine struct {
	rules    ruleset.RulesConfig
	compiled []compiledRule
	origin   string

	adapter    member.Adapter
	switchable map[string]struct{}
	now        func() time.Time
	logger     *slog.Logger
	tracer     trace.Tracer
}

// compiledRule is a rule prepared for evaluation: formulas are parsed once
// and value lists become sets.
type compiledRule struct {
	name       string
	def        ruleset.RuleDef
	program    *expression.Program
	compileErr error
	values     map[string]struct{}
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger used when no request-scoped logger is present
// in the context. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMemberAdapter sets the adapter used to refetch member data on a plan
// switch. Without one, plan switches are ignored.
func WithMemberAdapter(a member.Adapter) Option {
	return func(e *Engine) { e.adapter = a }
}

// WithSwitchablePlans sets the plans whose selection triggers a refetch.
func WithSwitchablePlans(plans ...string) Option {
	return func(e *Engine) {
		e.switchable = make(map[string]struct{}, len(plans))
		for _, p := range plans {
			e.switchable[p] = struct{}{}
		}
	}
}

// WithClock overrides the source of "today" for formulas.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithTracer overrides the OpenTelemetry tracer. Defaults to the global
// provider's tracer.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}

// New builds an engine over a copy of rules. Formulas are compiled here; a
// formula that does not compile makes its rule evaluate to false.
func New(rules ruleset.RulesConfig, opts ...Option) *Engine {
	e := &Engine{
		rules:      rules.Clone(),
		origin:     OriginStatic,
		switchable: map[string]struct{}{},
		now:        time.Now,
		logger:     slog.Default(),
		tracer:     otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(e)
	}

	for _, name := range e.rules.Names() {
		cr := compile(name, e.rules[name])
		if cr.compileErr != nil {
			e.logger.Warn("rule formula does not compile, rule will evaluate to false",
				"rule", name,
				"error", cr.compileErr,
			)
		}
		e.compiled = append(e.compiled, cr)
	}

	return e
}

func compile(name string, def ruleset.RuleDef) compiledRule {
	cr := compiledRule{name: name, def: def}

	switch d := def.(type) {
	case ruleset.Attribute:
		cr.program, cr.compileErr = expression.Compile(d.Path)
	case ruleset.Computed:
		cr.program, cr.compileErr = expression.Compile(d.Expr)
	case ruleset.LOB:
		cr.values = toSet(d.Values)
	case ruleset.PolicyType:
		cr.values = toSet(d.Values)
	}
	return cr
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

// Load builds an engine from the first source that yields a valid ruleset.
// Fetch, decode and validation failures move on to the next source; when
// every source fails the engine has no rules. Load never fails.
func Load(ctx context.Context, sources []source.Source, opts ...Option) *Engine {
	fallback := New(nil, opts...)
	log := logger.FromContextOr(ctx, fallback.logger)

	for _, src := range sources {
		if src == nil {
			continue
		}

		rules, err := fetchRules(ctx, src)
		if err != nil {
			var cve *ruleset.ConfigValidationError
			log.Warn("rules source failed, trying next",
				"source", src.Name(),
				"invalid_config", errors.As(err, &cve),
				"error", err,
			)
			continue
		}

		e := New(rules, opts...)
		e.origin = src.Name()
		recordLoad(e)
		log.Info("rules loaded", "source", e.origin, "rules", e.Len())
		return e
	}

	fallback.origin = OriginEmpty
	recordLoad(fallback)
	log.Error("no rules source succeeded, serving an empty ruleset", "sources", len(sources))
	return fallback
}

// fetchRules reads and validates one source. A panicking source counts as a
// failed one.
func fetchRules(ctx context.Context, src source.Source) (rules ruleset.RulesConfig, err error) {
	defer func() {
		if r := recover(); r != nil {
			rules, err = nil, fmt.Errorf("source panicked: %v", r)
		}
	}()

	raw, err := src.FetchRawConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	return ruleset.ParseConfig(raw)
}

func recordLoad(e *Engine) {
	observability.EngineLoads.WithLabelValues(e.origin).Inc()
	observability.EngineRulesLoaded.Set(float64(e.Len()))
}

// Origin names the source the ruleset came from: a source name, "static"
// for New, or "empty" when every source failed.
func (e *Engine) Origin() string { return e.origin }

// Len returns the number of rules.
func (e *Engine) Len() int { return len(e.compiled) }

// RuleNames returns the rule names in lexical order.
func (e *Engine) RuleNames() []string {
	names := make([]string, len(e.compiled))
	for i, cr := range e.compiled {
		names[i] = cr.name
	}
	return names
}

// Rules returns a copy of the frozen ruleset.
func (e *Engine) Rules() ruleset.RulesConfig { return e.rules.Clone() }

// IsSwitchable reports whether selecting plan triggers a member refetch.
func (e *Engine) IsSwitchable(plan string) bool {
	_, ok := e.switchable[plan]
	return ok
}

// ComputeRules evaluates every rule against the user and member and returns
// a map with exactly one entry per rule. It never fails: a rule that cannot
// be evaluated is false, and a failed plan-switch refetch falls back to m.
func (e *Engine) ComputeRules(ctx context.Context, userInfo *UserInfo, m member.Record) map[string]bool {
	start := time.Now()
	defer func() {
		observability.EngineComputeDuration.Observe(time.Since(start).Seconds())
	}()

	ctx, span := e.tracer.Start(ctx, "policy.ComputeRules",
		trace.WithAttributes(attribute.Int("gatekeeper.rules", len(e.compiled))))
	defer span.End()

	log := logger.FromContextOr(ctx, e.logger)

	// The refetch completes before any rule runs so every rule sees the
	// same member record.
	userInfo, m = e.refreshMember(ctx, log, span, userInfo, m)

	ectx := &EvaluationContext{UserInfo: userInfo, Member: m, Today: e.now()}
	vars := ectx.vars()

	out := make(map[string]bool, len(e.compiled))
	failed := 0
	for _, cr := range e.compiled {
		ok, err := e.evaluate(ctx, cr, ectx, vars)
		out[cr.name] = ok

		var unknown *UnknownRuleTypeWarning
		switch {
		case errors.As(err, &unknown):
			observability.EngineRuleEvaluations.WithLabelValues(observability.ResultUnknown).Inc()
			log.Warn("unknown rule type, evaluating to false", "rule", cr.name, "type", unknown.Kind)
		case err != nil:
			failed++
			observability.EngineRuleEvaluations.WithLabelValues(observability.ResultError).Inc()
			log.Error("rule evaluation failed, evaluating to false", "rule", cr.name, "error", err)
		case ok:
			observability.EngineRuleEvaluations.WithLabelValues(observability.ResultTrue).Inc()
		default:
			observability.EngineRuleEvaluations.WithLabelValues(observability.ResultFalse).Inc()
		}
	}

	span.SetAttributes(attribute.Int("gatekeeper.rules.failed", failed))
	return out
}

func (e *Engine) refreshMember(ctx context.Context, log *slog.Logger, span trace.Span, u *UserInfo, m member.Record) (*UserInfo, member.Record) {
	if u == nil || u.SelectedPlan == "" || e.adapter == nil || !e.IsSwitchable(u.SelectedPlan) {
		return u, m
	}
	span.SetAttributes(attribute.String("gatekeeper.selected_plan", u.SelectedPlan))

	fresh, err := e.fetchMember(ctx, u.ID, u.SelectedPlan)
	if err != nil {
		fetchErr := &AdapterFetchError{UserID: u.ID, PlanID: u.SelectedPlan, Err: err}
		observability.EnginePlanRefetch.WithLabelValues("fail").Inc()
		span.RecordError(fetchErr)
		span.SetStatus(codes.Error, "plan switch refetch failed")
		log.Warn("plan switch refetch failed, using the provided member record",
			"user_id", u.ID,
			"plan", u.SelectedPlan,
			"error", fetchErr,
		)
		return u, m
	}

	observability.EnginePlanRefetch.WithLabelValues("success").Inc()
	return planScopedUser(u, fresh), fresh
}

// planScopedUser returns a copy of u whose line of business and policy type
// come from the plan-scoped record when it carries them. u is not modified.
func planScopedUser(u *UserInfo, rec member.Record) *UserInfo {
	scoped := *u

	if lob, ok := rec["lob"].(string); ok && lob != "" {
		scoped.LOB = lob
	}

	policyType, _ := rec["policyType"].(string)
	if group, ok := rec["groupData"].(map[string]any); ok {
		if pt, ok := group["policyType"].(string); ok && pt != "" {
			policyType = pt
		}
	}
	if policyType != "" {
		gd := GroupData{}
		if u.GroupData != nil {
			gd = *u.GroupData
		}
		gd.PolicyType = policyType
		scoped.GroupData = &gd
	}

	return &scoped
}

// fetchMember calls the adapter, treating a panic like any other failure.
// A nil record without an error is reported as member.ErrNotFound.
func (e *Engine) fetchMember(ctx context.Context, userID, planID string) (rec member.Record, err error) {
	defer func() {
		if r := recover(); r != nil {
			rec, err = nil, fmt.Errorf("adapter panicked: %v", r)
		}
	}()

	rec, err = e.adapter.FetchMemberForPlan(ctx, userID, planID)
	if err == nil && rec == nil {
		err = fmt.Errorf("adapter returned no record: %w", member.ErrNotFound)
	}
	return rec, err
}

// evaluate runs one rule. Panics are recovered into errors so a single rule
// can never abort the whole computation.
func (e *Engine) evaluate(ctx context.Context, cr compiledRule, ectx *EvaluationContext, vars map[string]any) (result bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = false, &RuleError{Rule: cr.name, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	switch d := cr.def.(type) {
	case ruleset.Static:
		return d.Value, nil

	case ruleset.Attribute, ruleset.Computed:
		if cr.compileErr != nil {
			return false, &RuleError{Rule: cr.name, Err: cr.compileErr}
		}
		ok, err := cr.program.EvalContext(ctx, vars)
		if err != nil {
			return false, &RuleError{Rule: cr.name, Err: err}
		}
		return ok, nil

	case ruleset.LOB:
		if ectx.UserInfo == nil || ectx.UserInfo.LOB == "" {
			return false, nil
		}
		_, ok := cr.values[ectx.UserInfo.LOB]
		return ok, nil

	case ruleset.PolicyType:
		u := ectx.UserInfo
		if u == nil || u.GroupData == nil || u.GroupData.PolicyType == "" {
			return false, nil
		}
		_, ok := cr.values[u.GroupData.PolicyType]
		return ok, nil

	case ruleset.AuthFunction:
		if ectx.UserInfo == nil {
			return false, nil
		}
		return slices.ContainsFunc(ectx.UserInfo.AuthFunctions, func(f AuthFunction) bool {
			return f.FunctionName == d.Name && f.Available
		}), nil

	default:
		kind := ruleset.Kind("")
		if cr.def != nil {
			kind = cr.def.Kind()
		}
		return false, &UnknownRuleTypeWarning{Rule: cr.name, Kind: kind}
	}
}
