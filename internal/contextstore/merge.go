package contextstore

// mergePolicy names how an incoming value combines with the current value for
// one top-level field. The default for every field not listed in fieldPolicies
// is replace: objects merge recursively, everything else (arrays included) is
// overwritten by the incoming value.
type mergePolicy int

const (
	policyReplace mergePolicy = iota
	// policyAppendDedup appends incoming array entries to the current ones,
	// dropping duplicates while preserving first-seen order.
	policyAppendDedup
	// policyAppendCapped is policyAppendDedup plus truncation to the most
	// recent `cap` entries.
	policyAppendCapped
)

type fieldRule struct {
	policy mergePolicy
	cap    int
}

// fieldPolicies is the per-field policy table. Only these three fields get
// append semantics; every other array field is replaced wholesale. Callers
// that want append behavior elsewhere must read-modify-write.
var fieldPolicies = map[string]fieldRule{
	KeyGoals:         {policy: policyAppendDedup},
	KeyConstraints:   {policy: policyAppendDedup},
	KeyRecentChanges: {policy: policyAppendCapped, cap: RecentChangesCap},
}

// Merge deep-merges incoming into current and returns a new document; neither
// input is mutated. For each key: two non-array objects merge recursively,
// otherwise the incoming value wins, except for fields flagged in
// fieldPolicies which combine per their rule.
func Merge(current, incoming map[string]any) map[string]any {
	out := make(map[string]any, len(current)+len(incoming))
	for k, v := range current {
		out[k] = v
	}
	for k, inVal := range incoming {
		curVal, exists := out[k]
		if rule, ok := fieldPolicies[k]; ok {
			out[k] = applyRule(rule, curVal, inVal)
			continue
		}
		if exists {
			curMap, curIsMap := curVal.(map[string]any)
			inMap, inIsMap := inVal.(map[string]any)
			if curIsMap && inIsMap {
				out[k] = Merge(curMap, inMap)
				continue
			}
		}
		out[k] = inVal
	}
	return out
}

func applyRule(rule fieldRule, current, incoming any) any {
	combined := append(toStringSlice(current), toStringSlice(incoming)...)
	deduped := dedupStrings(combined)
	if rule.policy == policyAppendCapped && rule.cap > 0 && len(deduped) > rule.cap {
		deduped = deduped[len(deduped)-rule.cap:]
	}
	return toAnySlice(deduped)
}

// dedupStrings removes duplicates preserving first-seen order.
func dedupStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// toStringSlice coerces a decoded JSON array into strings, skipping
// non-string members. Non-array inputs yield an empty slice.
func toStringSlice(v any) []string {
	switch vals := v.(type) {
	case []string:
		return append([]string(nil), vals...)
	case []any:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// toAnySlice converts back to the []any shape that encoding/json produces, so
// merged documents round-trip identically.
func toAnySlice(in []string) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}
