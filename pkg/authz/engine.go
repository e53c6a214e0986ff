package authz

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/latchflow/core/pkg/inputguard"
	"github.com/latchflow/core/pkg/rules"
	"github.com/latchflow/core/pkg/wherematch"
)

// RequestSnapshot is the inbound call data the authorizer, its where-clause
// matcher, and its input guard all read from.
type RequestSnapshot struct {
	Params     map[string]interface{}
	Body       map[string]interface{}
	Query      map[string]string
	Headers    map[string]string
	BundleID   string
	PipelineID string
}

// Engine evaluates policy entries against a user's compiled permission rules.
type Engine struct {
	cache  *rules.Cache
	logger *slog.Logger

	decisionCounter   metric.Int64Counter
	decisionDuration  metric.Float64Histogram
	cacheEventCounter metric.Int64Counter
	compileCounter    metric.Int64Counter
	compileDuration   metric.Float64Histogram
	mfaEventCounter   metric.Int64Counter
}

// NewEngine constructs an Engine. meter may be nil, in which case metrics are
// not recorded (used by tests and lite-mode deployments).
func NewEngine(logger *slog.Logger, meter metric.Meter) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{cache: rules.NewCache(), logger: logger.With("component", "authz")}
	if meter == nil {
		return e
	}
	e.decisionCounter, _ = meter.Int64Counter("latchflow_authz_decisions_total")
	e.decisionDuration, _ = meter.Float64Histogram("latchflow_authz_decision_duration_ms")
	e.cacheEventCounter, _ = meter.Int64Counter("latchflow_authz_cache_events_total")
	e.compileCounter, _ = meter.Int64Counter("latchflow_authz_compilations_total")
	e.compileDuration, _ = meter.Float64Histogram("latchflow_authz_compile_duration_ms")
	e.mfaEventCounter, _ = meter.Int64Counter("latchflow_authz_mfa_events_total")
	return e
}

// Authorize runs the algorithm: policy/activity gates, ADMIN
// short-circuit, rule-bucket matching under the where-clause and input-guard
// checks, then (for enforce/shadow modes) a two-factor post-check on admins.
func (e *Engine) Authorize(goCtx context.Context, entry *PolicyEntry, req *RequestSnapshot, user *User, ctx Context) Result {
	start := time.Now()
	result := e.evaluate(entry, req, user, ctx)
	elapsed := float64(time.Since(start).Microseconds()) / 1000.0

	e.logDecision(entry, user, ctx, result, elapsed)
	e.recordMetrics(goCtx, entry, user, ctx, result, elapsed)
	return result
}

func (e *Engine) evaluate(entry *PolicyEntry, req *RequestSnapshot, user *User, ctx Context) Result {
	if entry == nil {
		return Result{Decision: DecisionDeny, Reason: ReasonNoPolicy}
	}
	if user == nil || !user.IsActive {
		return Result{Decision: DecisionDeny, Reason: ReasonInactive}
	}

	if ctx.Mode == ModeOff {
		return legacyResult(user, ctx, false)
	}

	if user.Role == RoleAdmin {
		base := Result{Decision: DecisionAllow, Reason: ReasonAdmin}
		return e.applyMFAPostCheck(base, user, ctx)
	}

	if ctx.Mode != ModeEnforce && ctx.Mode != ModeShadow {
		return legacyResult(user, ctx, false)
	}

	raw := append(append([]interface{}{}, presetRules(user)...), user.DirectPermissions...)
	compileStart := time.Now()
	compiled, err := e.cache.GetOrCompile(raw, user.PermissionsHash)
	e.recordCompile(user.PermissionsHash, compiled, err, time.Since(compileStart))
	if err != nil {
		e.logger.Warn("authz: compile failed, falling back to the legacy decision", "error", err)
		computed := legacyResult(user, ctx, false)
		computed.Reason = ReasonNoMatch
		return computed
	}

	candidates := compiled.Lookup(entry.Resource, entry.Action)

	sawInputFailure := false
	sawWhereMiss := false

	for _, rule := range candidates {
		wreq := &wherematch.Request{Params: req.Params, Body: req.Body, Query: req.Query, Headers: req.Headers}
		wctx := wherematch.Context{UserID: ctx.UserID, BundleID: req.BundleID, PipelineID: req.PipelineID, SystemUserID: ctx.SystemUserID}
		if !wherematch.Match(rule.Where, wreq, wctx, ctx.Now) {
			sawWhereMiss = true
			continue
		}

		ireq := &inputguard.Request{Body: req.Body, Query: req.Query, Headers: req.Headers}
		ictx := inputguard.Context{Mode: string(ctx.Mode), RuleID: rule.ID, UserID: ctx.UserID, RulesHash: compiled.RulesHash, Now: ctx.Now}
		if fail := inputguard.Evaluate(rule.Input, ireq, ictx); fail != nil {
			if fail.Reason == inputguard.ReasonRateLimit {
				return withEnforcement(Result{
					Decision:      DecisionDeny,
					Reason:        ReasonRateLimit,
					MatchedRuleID: rule.ID,
					RulesHash:     compiled.RulesHash,
				}, user, ctx)
			}
			sawInputFailure = true
			continue
		}

		matched := Result{
			Decision:      DecisionAllow,
			Reason:        ReasonMatched,
			MatchedRuleID: rule.ID,
			RulesHash:     compiled.RulesHash,
		}
		if rule.Source == rules.SourcePreset && user.PermissionPreset != nil {
			matched.PresetID = user.PermissionPreset.ID
			matched.PresetVersion = user.PermissionPreset.Version
		}
		return withEnforcement(matched, user, ctx)
	}

	reason := ReasonNoMatch
	switch {
	case sawInputFailure:
		reason = ReasonInputGuard
	case sawWhereMiss:
		reason = ReasonWhereMiss
	}
	return withEnforcement(Result{Decision: DecisionDeny, Reason: reason, RulesHash: compiled.RulesHash}, user, ctx)
}

// presetRules tags a user's assigned preset rules with SourcePreset so the
// compiler's bucket order (preset before direct) holds.
func presetRules(user *User) []interface{} {
	if user.PermissionPreset == nil {
		return nil
	}
	out := make([]interface{}, 0, len(user.PermissionPreset.Rules))
	for _, r := range user.PermissionPreset.Rules {
		if m, ok := r.(map[string]interface{}); ok {
			tagged := make(map[string]interface{}, len(m)+1)
			for k, v := range m {
				tagged[k] = v
			}
			tagged["source"] = string(rules.SourcePreset)
			out = append(out, tagged)
			continue
		}
		out = append(out, r)
	}
	return out
}

// withEnforcement applies shadow/enforce semantics: shadow mode always
// admits per the legacy rule while preserving the computed reason/decision
// for logging and metrics.
func withEnforcement(computed Result, user *User, ctx Context) Result {
	if ctx.Mode != ModeShadow {
		return computed
	}
	legacy := legacyResult(user, ctx, true)
	legacy.Reason = computed.Reason
	legacy.MatchedRuleID = computed.MatchedRuleID
	legacy.RulesHash = computed.RulesHash
	legacy.PresetID = computed.PresetID
	legacy.PresetVersion = computed.PresetVersion
	legacy.ShadowMode = true
	return legacy
}

// legacyResult returns the ADMIN-or-v1AllowExecutor fallback decision used
// by shadow/off modes: an ADMIN is always admitted, everyone else only
// when the route's v1AllowExecutor flag is set. computedKnown indicates a
// shadow decision is being wrapped (caller still gets the counterfactual
// reason); when false this is a direct legacy admission (off mode, or a
// compile failure with no computed reason to preserve).
func legacyResult(user *User, ctx Context, computedKnown bool) Result {
	var r Result
	switch {
	case user != nil && user.Role == RoleAdmin:
		r = Result{Decision: DecisionAllow, Reason: ReasonAdmin}
	case ctx.V1AllowExecutor:
		r = Result{Decision: DecisionAllow, Reason: ReasonMatched}
	default:
		r = Result{Decision: DecisionDeny, Reason: ReasonNoMatch}
	}
	if !computedKnown {
		r.ShadowMode = ctx.Mode == ModeShadow
	}
	return r
}

// applyMFAPostCheck runs the two-factor check on an ADMIN allow decision,
// only when the deployment flag is on.
func (e *Engine) applyMFAPostCheck(base Result, user *User, ctx Context) Result {
	if !ctx.RequireAdminMFA {
		return base
	}
	if !user.MFAEnabled {
		base.Decision = DecisionDeny
		base.Reason = ReasonMFARequired
		base.MFAEvent = MFAChallengeRequired
		return base
	}

	var lastAuth time.Time
	if ctx.Session != nil {
		lastAuth = ctx.Session.CreatedAt
		if ctx.Session.ReauthenticatedAt != nil {
			lastAuth = *ctx.Session.ReauthenticatedAt
		} else if ctx.Session.MFAVerifiedAt != nil {
			lastAuth = *ctx.Session.MFAVerifiedAt
		}
	}
	if ctx.Now.Sub(lastAuth) > ctx.ReauthWindow {
		base.Decision = DecisionDeny
		base.Reason = ReasonMFARequired
		base.MFAEvent = MFASessionExpired
		return base
	}

	base.MFAEvent = MFAChallengeSatisfied
	return base
}

// recordCompile records a cache hit/miss event and, on a miss, a compilation
// outcome and duration (metrics list).
func (e *Engine) recordCompile(desiredHash string, compiled *rules.CompiledPermissions, err error, elapsed time.Duration) {
	if e.cacheEventCounter == nil {
		return
	}
	ctx := context.Background()
	event := "hit"
	if desiredHash == "" || compiled == nil || compiled.RulesHash != desiredHash {
		event = "miss"
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		ruleCount := 0
		if compiled != nil {
			ruleCount = len(compiled.Rules)
		}
		e.compileCounter.Add(ctx, 1,
			metric.WithAttributes(attribute.String("outcome", outcome), attribute.Int("ruleCount", ruleCount)))
		e.compileDuration.Record(ctx, float64(elapsed.Microseconds())/1000.0,
			metric.WithAttributes(attribute.String("outcome", outcome)))
	}
	e.cacheEventCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event)))
}

func (e *Engine) logDecision(entry *PolicyEntry, user *User, ctx Context, result Result, elapsedMS float64) {
	line := DecisionLogEntry{
		Kind:       "authz_decision",
		Decision:   result.Decision,
		Reason:     result.Reason,
		ShadowMode: result.ShadowMode,
		RulesHash:  result.RulesHash,
		PresetID:   result.PresetID,
		RuleID:     result.MatchedRuleID,
		DurationMS: elapsedMS,
	}
	if user != nil {
		line.UserID = user.ID
		line.Role = user.Role
	}
	if entry != nil {
		line.Resource = entry.Resource
		line.Action = entry.Action
	}
	e.logger.Info("authz_decision",
		"decision", line.Decision, "reason", line.Reason, "userId", line.UserID,
		"role", line.Role, "resource", line.Resource, "action", line.Action,
		"shadowMode", line.ShadowMode, "rulesHash", line.RulesHash,
		"presetId", line.PresetID, "ruleId", line.RuleID, "durationMs", line.DurationMS)
}

func (e *Engine) recordMetrics(ctx context.Context, entry *PolicyEntry, user *User, mode Context, result Result, elapsedMS float64) {
	if e.decisionCounter == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	attrs := []attribute.KeyValue{
		attribute.String("mode", string(mode.Mode)),
		attribute.String("outcome", string(result.Decision)),
		attribute.String("reason", string(result.Reason)),
	}
	if entry != nil {
		attrs = append(attrs, attribute.String("resource", entry.Resource), attribute.String("action", entry.Action))
	}
	if user != nil {
		attrs = append(attrs, attribute.String("role", string(user.Role)))
	}
	set := attribute.NewSet(attrs...)
	e.decisionCounter.Add(ctx, 1, metric.WithAttributeSet(set))
	e.decisionDuration.Record(ctx, elapsedMS, metric.WithAttributeSet(set))
	if result.MFAEvent != "" {
		e.mfaEventCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("event", string(result.MFAEvent))))
	}
}
