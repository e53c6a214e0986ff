// Package inputguard evaluates a permission rule's request-shape guards:
// allowed/denied body keys, per-path value constraints, a dry-run
// requirement, and a sliding-window rate limit.
package inputguard

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/latchflow/core/pkg/rules"
)

// FailureReason identifies why an input guard rejected a request.
type FailureReason string

const (
	ReasonAllowedParams FailureReason = "ALLOWED_PARAMS"
	ReasonDeniedParam   FailureReason = "DENIED_PARAM"
	ReasonValueRule     FailureReason = "VALUE_RULE"
	ReasonDryRunOnly    FailureReason = "DRY_RUN_ONLY"
	ReasonRateLimit     FailureReason = "RATE_LIMIT"
)

// Failure reports a guard rejection.
type Failure struct {
	Reason FailureReason
	Detail string
}

func (f *Failure) Error() string {
	if f.Detail == "" {
		return string(f.Reason)
	}
	return fmt.Sprintf("%s: %s", f.Reason, f.Detail)
}

// Request is the minimal view of an inbound call the guard inspects.
type Request struct {
	Body    map[string]interface{}
	Query   map[string]string
	Headers map[string]string
}

// Context carries the evaluation identity used to key the rate limiter.
type Context struct {
	Mode      string
	RuleID    string
	UserID    string
	RulesHash string
	Now       time.Time
}

// Evaluate runs every configured guard on input in declaration order,
// returning the first Failure encountered, or nil when every guard passes.
// The rate limiter is consulted last, and only when every other guard
// passed, so rejected requests do not consume quota.
func Evaluate(input *rules.Input, req *Request, ctx Context) *Failure {
	if input == nil {
		return nil
	}

	if f := checkAllowParams(input.AllowParams, req.Body); f != nil {
		return f
	}
	if f := checkDenyParams(input.DenyParams, req.Body); f != nil {
		return f
	}
	if f := checkValueRules(input.ValueRules, req.Body, req.Query); f != nil {
		return f
	}
	if input.DryRunOnly {
		if f := checkDryRunOnly(req); f != nil {
			return f
		}
	}
	if input.RateLimit != nil {
		if f := defaultLimiter.Check(input.RateLimit, ctx); f != nil {
			return f
		}
	}
	return nil
}

func checkAllowParams(allow []string, body map[string]interface{}) *Failure {
	if len(allow) == 0 || body == nil {
		return nil
	}
	allowed := make(map[string]bool, len(allow))
	for _, k := range allow {
		allowed[k] = true
	}
	for k := range body {
		if !allowed[k] {
			return &Failure{Reason: ReasonAllowedParams, Detail: k}
		}
	}
	return nil
}

func checkDenyParams(deny []string, body map[string]interface{}) *Failure {
	if len(deny) == 0 || body == nil {
		return nil
	}
	for _, k := range deny {
		if _, ok := body[k]; ok {
			return &Failure{Reason: ReasonDeniedParam, Detail: k}
		}
	}
	return nil
}

func checkValueRules(vrs []rules.ValueRule, body map[string]interface{}, query map[string]string) *Failure {
	for _, vr := range vrs {
		val, found := resolvePath(vr.Path, body)
		if !found {
			val, found = resolveQueryPath(vr.Path, query)
		}
		if !found {
			continue
		}

		if len(vr.OneOf) > 0 {
			if !containsValue(vr.OneOf, val) {
				return &Failure{Reason: ReasonValueRule, Detail: vr.Path + ": not in oneOf"}
			}
		}
		if vr.Matches != "" {
			s, ok := val.(string)
			if ok {
				re, err := regexp.Compile(vr.Matches)
				if err != nil || !re.MatchString(s) {
					return &Failure{Reason: ReasonValueRule, Detail: vr.Path + ": matches failed"}
				}
			}
		}
		if vr.MaxLen != nil {
			if s, ok := val.(string); ok && len(s) > *vr.MaxLen {
				return &Failure{Reason: ReasonValueRule, Detail: vr.Path + ": maxLen exceeded"}
			}
		}
	}
	return nil
}

func checkDryRunOnly(req *Request) *Failure {
	if req.Body != nil {
		if b, ok := req.Body["dryRun"].(bool); ok && b {
			return nil
		}
	}
	if req.Query != nil {
		if v := strings.ToLower(req.Query["dryRun"]); v == "1" || v == "true" {
			return nil
		}
	}
	if req.Headers != nil {
		if v := strings.ToLower(req.Headers["x-latchflow-dry-run"]); v == "1" || v == "true" {
			return nil
		}
	}
	return &Failure{Reason: ReasonDryRunOnly}
}

// resolvePath resolves a dot-separated path against a nested map; callers
// try the body first and fall back to the flat query map.
func resolvePath(path string, body map[string]interface{}) (interface{}, bool) {
	if body == nil {
		return nil, false
	}
	segs := strings.Split(path, ".")
	var cur interface{} = body
	for _, s := range segs {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		v, ok := m[s]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

func resolveQueryPath(path string, query map[string]string) (interface{}, bool) {
	if query == nil {
		return nil, false
	}
	v, ok := query[path]
	return v, ok
}

func containsValue(set []string, v interface{}) bool {
	s := fmt.Sprintf("%v", v)
	for _, item := range set {
		if item == s {
			return true
		}
	}
	return false
}

// --- rate limiting ---

type window struct {
	mu      sync.Mutex
	samples []time.Time
}

// limiter is the in-process sliding-window rate limiter keyed by
// rulesHash:ruleId:userId. A multi-process
// deployment must replace this with a shared-store implementation; this one
// is the reference behavior.
type limiter struct {
	mu      sync.Mutex
	windows map[string]*window
}

var defaultLimiter = &limiter{windows: make(map[string]*window)}

func (l *limiter) Check(rl *rules.RateLimit, ctx Context) *Failure {
	key := fmt.Sprintf("%s:%s:%s", ctx.RulesHash, ctx.RuleID, ctx.UserID)
	now := ctx.Now
	if now.IsZero() {
		now = time.Now()
	}

	l.mu.Lock()
	w, ok := l.windows[key]
	if !ok {
		w = &window{}
		l.windows[key] = w
	}
	l.mu.Unlock()

	w.mu.Lock()
	defer w.mu.Unlock()

	w.samples = append(w.samples, now)
	cutoff := now.Add(-1 * time.Hour)
	pruned := w.samples[:0]
	for _, s := range w.samples {
		if s.After(cutoff) {
			pruned = append(pruned, s)
		}
	}
	w.samples = pruned

	if rl.Burst != nil && countSince(w.samples, now, time.Second) > *rl.Burst {
		return &Failure{Reason: ReasonRateLimit, Detail: "burst"}
	}
	if rl.PerMin != nil && countSince(w.samples, now, time.Minute) > *rl.PerMin {
		return &Failure{Reason: ReasonRateLimit, Detail: "perMin"}
	}
	if rl.PerHour != nil && countSince(w.samples, now, time.Hour) > *rl.PerHour {
		return &Failure{Reason: ReasonRateLimit, Detail: "perHour"}
	}
	return nil
}

func countSince(samples []time.Time, now time.Time, window time.Duration) int {
	cutoff := now.Add(-window)
	n := 0
	for _, s := range samples {
		if s.After(cutoff) {
			n++
		}
	}
	return n
}
