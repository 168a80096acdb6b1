package pattern

import (
	"strconv"
	"strings"

	"github.com/superego-sh/superego/internal/model"
)

// jsonPathSegments splits a path expression like "$.command.args[0]" or
// "command.args.0" into ["command", "args", "0"]. The engine supports
// the subset of JSONPath needed to address a leaf in the `parameters`
// tree: dot-separated field names and bracketed or dotted array indices.
// A missing segment is not an error — it simply fails to resolve, per
// spec.md §4.B ("a missing value evaluates to false, not an error").
func jsonPathSegments(path string) []string {
	path = strings.TrimSpace(path)
	path = strings.TrimPrefix(path, "$.")
	path = strings.TrimPrefix(path, "$")
	path = strings.TrimPrefix(path, ".")
	path = strings.ReplaceAll(path, "[", ".")
	path = strings.ReplaceAll(path, "]", "")
	if path == "" {
		return nil
	}
	segments := strings.Split(path, ".")
	out := make([]string, 0, len(segments))
	for _, s := range segments {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// resolveJSONPath walks root following segments, returning the leaf
// Value found (if any). Object fields and array indices are both
// supported at each step.
func resolveJSONPath(root model.Value, segments []string) (model.Value, bool) {
	current := root
	for _, seg := range segments {
		if obj, _, ok := current.AsObject(); ok {
			next, found := obj[seg]
			if !found {
				return model.Value{}, false
			}
			current = next
			continue
		}
		if arr, ok := current.AsArray(); ok {
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(arr) {
				return model.Value{}, false
			}
			current = arr[idx]
			continue
		}
		return model.Value{}, false
	}
	return current, true
}
