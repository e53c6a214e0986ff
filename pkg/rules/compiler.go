package rules

import (
	"encoding/json"
	"fmt"

	"github.com/latchflow/core/pkg/canonicalize"
)

// Compile normalizes a raw permission list into CompiledPermissions:
// entries that are not well-formed rules are skipped, missing
// ids are synthesized from resource/action/index, and every rule is placed
// into its resource bucket plus (when its resource isn't already "*") the
// wildcard bucket, preserving input order within each bucket.
func Compile(raw []interface{}, callerHash string) (*CompiledPermissions, error) {
	compiled := &CompiledPermissions{
		Buckets: make(map[string]map[string][]*CompiledRule),
	}
	normalized := make([]interface{}, 0, len(raw))

	for i, entry := range raw {
		obj, ok := asObject(entry)
		if !ok {
			continue
		}
		action, _ := obj["action"].(string)
		if action == "" {
			continue
		}

		rule, err := decodeRule(obj)
		if err != nil {
			continue
		}

		resource := rule.Resource
		if resource == "" {
			resource = WildcardResource
		}
		rule.Resource = resource

		if rule.ID == "" {
			rule.ID = fmt.Sprintf("%s:%s:%d", resource, action, i)
		}

		cr := &CompiledRule{Rule: rule}
		compiled.Rules = append(compiled.Rules, cr)

		nm, err := ruleAsMap(rule)
		if err != nil {
			continue
		}
		normalized = append(normalized, nm)

		placeInBucket(compiled.Buckets, resource, action, cr)
		if resource != WildcardResource {
			placeInBucket(compiled.Buckets, WildcardResource, action, cr)
		}
	}

	// The hash covers the normalized rule forms (synthesized ids, defaulted
	// source/resource included), so compiling an already-compiled rule list
	// reproduces the same hash.
	compiled.RulesHash = canonicalize.RulesHash(normalized, callerHash)
	return compiled, nil
}

// ruleAsMap renders a normalized Rule back into the generic map form the
// rules-hash is computed over.
func ruleAsMap(r Rule) (map[string]interface{}, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func placeInBucket(buckets map[string]map[string][]*CompiledRule, resource, action string, cr *CompiledRule) {
	byAction, ok := buckets[resource]
	if !ok {
		byAction = make(map[string][]*CompiledRule)
		buckets[resource] = byAction
	}
	byAction[action] = append(byAction[action], cr)
}

func asObject(v interface{}) (map[string]interface{}, bool) {
	m, ok := v.(map[string]interface{})
	return m, ok
}

// decodeRule sanitizes a raw permission entry by round-tripping it through
// the Rule struct: only the fields Rule declares survive, so stray or
// unexpected properties on the input document are dropped rather than
// carried into the compiled form.
func decodeRule(obj map[string]interface{}) (Rule, error) {
	raw, err := json.Marshal(obj)
	if err != nil {
		return Rule{}, fmt.Errorf("rules: marshal entry: %w", err)
	}
	var r Rule
	if err := json.Unmarshal(raw, &r); err != nil {
		return Rule{}, fmt.Errorf("rules: decode entry: %w", err)
	}
	if r.Source == "" {
		r.Source = SourceDirect
	}
	return r, nil
}
