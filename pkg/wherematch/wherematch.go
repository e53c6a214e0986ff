// Package wherematch evaluates a permission rule's where-clause constraints
// against a request: id-list intersections, kind/tag
// membership, environment matching, the system-user and owner-is-self
// checks, and an optional time window.
package wherematch

import (
	"time"

	"github.com/latchflow/core/pkg/rules"
)

// Request is the minimal view of an inbound call the matcher inspects.
type Request struct {
	Params  map[string]interface{}
	Body    map[string]interface{}
	Query   map[string]string
	Headers map[string]string
}

// Context carries actor identity used by systemOnly/ownerIsSelf.
type Context struct {
	UserID       string
	BundleID     string
	PipelineID   string
	SystemUserID string
}

// Match reports whether where is satisfied. A nil where matches everything.
func Match(where *rules.Where, req *Request, ctx Context, now time.Time) bool {
	if where == nil {
		return true
	}

	if len(where.BundleIDs) > 0 {
		candidates := idCandidates(ctx.BundleID, req, "bundleId", "bundle")
		if !intersects(where.BundleIDs, candidates) {
			return false
		}
	}
	if len(where.PipelineIDs) > 0 {
		candidates := idCandidates(ctx.PipelineID, req, "pipelineId", "pipeline")
		if !intersects(where.PipelineIDs, candidates) {
			return false
		}
	}
	if len(where.TriggerKinds) > 0 {
		if !intersects(where.TriggerKinds, kindCandidates(req, "trigger")) {
			return false
		}
	}
	if len(where.ActionKinds) > 0 {
		if !intersects(where.ActionKinds, kindCandidates(req, "action")) {
			return false
		}
	}
	if len(where.RecipientTagsAny) > 0 {
		if !intersects(where.RecipientTagsAny, tagCandidates(req)) {
			return false
		}
	}
	if len(where.Environments) > 0 {
		if !intersects(where.Environments, environmentCandidates(req)) {
			return false
		}
	}
	if where.SystemOnly {
		if ctx.SystemUserID == "" || ctx.UserID != ctx.SystemUserID {
			return false
		}
	}
	if where.OwnerIsSelf {
		if !containsString(ownerCandidates(req), ctx.UserID) || ctx.UserID == "" {
			return false
		}
	}
	if where.TimeWindow != nil {
		if !inWindow(where.TimeWindow, now) {
			return false
		}
	}
	return true
}

func idCandidates(ctxID string, req *Request, flatKey, nestedKey string) []string {
	var out []string
	if ctxID != "" {
		out = append(out, ctxID)
	}
	out = append(out, stringField(req.Body, flatKey)...)
	out = append(out, stringField(req.Params, flatKey)...)
	if nested, ok := req.Body[nestedKey].(map[string]interface{}); ok {
		out = append(out, stringField(nested, "id")...)
	}
	return out
}

func kindCandidates(req *Request, nestedKey string) []string {
	var out []string
	out = append(out, stringField(req.Body, "kind")...)
	if nested, ok := req.Body[nestedKey].(map[string]interface{}); ok {
		out = append(out, stringField(nested, "kind")...)
	}
	return out
}

func tagCandidates(req *Request) []string {
	var out []string
	out = append(out, stringSliceField(req.Body, "tags")...)
	if nested, ok := req.Body["recipient"].(map[string]interface{}); ok {
		out = append(out, stringSliceField(nested, "tags")...)
	}
	return out
}

func environmentCandidates(req *Request) []string {
	var out []string
	if req.Query != nil {
		if v, ok := req.Query["environment"]; ok {
			out = append(out, v)
		}
	}
	out = append(out, stringField(req.Body, "environment")...)
	if req.Headers != nil {
		if v, ok := req.Headers["x-latchflow-environment"]; ok {
			out = append(out, v)
		}
	}
	return out
}

func ownerCandidates(req *Request) []string {
	var out []string
	out = append(out, stringField(req.Params, "userId")...)
	out = append(out, stringField(req.Body, "userId")...)
	out = append(out, stringField(req.Body, "ownerId")...)
	if req.Query != nil {
		if v, ok := req.Query["userId"]; ok {
			out = append(out, v)
		}
	}
	return out
}

func inWindow(tr *rules.TimeRange, now time.Time) bool {
	ts := now.Unix()
	if tr.Since != nil && ts < *tr.Since {
		return false
	}
	if tr.Until != nil && ts > *tr.Until {
		return false
	}
	return true
}

func stringField(m map[string]interface{}, key string) []string {
	if m == nil {
		return nil
	}
	v, ok := m[key]
	if !ok {
		return nil
	}
	if s, ok := v.(string); ok && s != "" {
		return []string{s}
	}
	return nil
}

func stringSliceField(m map[string]interface{}, key string) []string {
	if m == nil {
		return nil
	}
	v, ok := m[key]
	if !ok {
		return nil
	}
	raw, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		if s, ok := r.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// intersects reports whether any candidate matches any allowed value,
// case-sensitive. An empty candidate list against a non-empty constraint is
// a miss.
func intersects(allowed, candidates []string) bool {
	if len(candidates) == 0 {
		return false
	}
	set := make(map[string]bool, len(allowed))
	for _, a := range allowed {
		set[a] = true
	}
	for _, c := range candidates {
		if set[c] {
			return true
		}
	}
	return false
}

func containsString(candidates []string, v string) bool {
	for _, c := range candidates {
		if c == v {
			return true
		}
	}
	return false
}
