// Package normalize implements the recursive key-rename, key-drop and
// absence-pruning transform that turns upstream JSON into the canonical
// output shape.
package normalize

import (
	"fmt"
	"sort"
	"strings"
)

// Rules describes one normalization table.
type Rules struct {
	// Rename maps upstream keys to canonical keys. Unmapped keys pass through.
	Rename map[string]string

	// Drop lists upstream keys removed before recursion.
	Drop map[string]struct{}

	// DropEmptyString treats "" as absent, like null. Only the NEPSE source
	// uses the empty string as a missing-value sentinel.
	DropEmptyString bool
}

// Normalize applies rules to v. The second return value is false when v is
// absent and must be omitted from its parent.
func Normalize(v any, rules Rules) (any, bool) {
	switch val := v.(type) {
	case nil:
		return nil, false
	case string:
		if val == "" && rules.DropEmptyString {
			return nil, false
		}
		return val, true
	case []any:
		out := make([]any, 0, len(val))
		for _, item := range val {
			if n, ok := Normalize(item, rules); ok {
				out = append(out, n)
			}
		}
		return out, true
	case map[string]any:
		// Sorted so that two keys renamed onto the same target resolve the
		// same way on every run.
		keys := make([]string, 0, len(val))
		for key := range val {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		out := make(map[string]any, len(val))
		for _, key := range keys {
			if _, drop := rules.Drop[key]; drop {
				continue
			}
			n, ok := Normalize(val[key], rules)
			if !ok {
				continue
			}
			out[rules.rename(key)] = n
		}
		return out, true
	default:
		return val, true
	}
}

// Apply is Normalize for callers that only need the value; absent becomes nil.
func Apply(v any, rules Rules) any {
	n, ok := Normalize(v, rules)
	if !ok {
		return nil
	}
	return n
}

func (r Rules) rename(key string) string {
	if to, ok := r.Rename[key]; ok {
		return to
	}
	return key
}

// Validate reports rename tables that would make Normalize non-idempotent:
// a target that is renamed again on a second pass, or a target that the drop
// set would remove.
func (r Rules) Validate() error {
	var problems []string
	for from, to := range r.Rename {
		if next, ok := r.Rename[to]; ok && next != to {
			problems = append(problems, fmt.Sprintf("%s -> %s is renamed again to %s", from, to, next))
		}
		if _, ok := r.Drop[to]; ok {
			problems = append(problems, fmt.Sprintf("%s -> %s is in the drop set", from, to))
		}
	}
	if len(problems) == 0 {
		return nil
	}
	sort.Strings(problems)
	return fmt.Errorf("normalize: rename table is not idempotent: %s", strings.Join(problems, "; "))
}

// Set builds a drop set from keys.
func Set(keys ...string) map[string]struct{} {
	s := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		s[k] = struct{}{}
	}
	return s
}
