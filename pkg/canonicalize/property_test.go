package canonicalize

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestRulesHash_IdempotentUnderRecompile exercises the invariant:
// compiling an already-compiled rule list (i.e. re-hashing the same logical
// ruleset) is idempotent regardless of incidental key insertion order.
func TestRulesHash_IdempotentUnderRecompile(t *testing.T) {
	props := gopter.NewProperties(nil)

	props.Property("rehashing the same rules in any per-object key order is stable", prop.ForAll(func(action, resource string, idx int) bool {
		a := []interface{}{map[string]interface{}{"action": action, "resource": resource, "idx": idx}}
		b := []interface{}{map[string]interface{}{"resource": resource, "idx": idx, "action": action}}
		return RulesHash(a, "") == RulesHash(b, "")
	},
		gen.AlphaString(),
		gen.AlphaString(),
		gen.IntRange(0, 1000)))

	props.TestingRun(t)
}
