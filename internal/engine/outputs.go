package engine

import (
	"fmt"
	"strings"

	"github.com/alloyform-io/alloyform/internal/ir"
)

// ProjectOutputs evaluates each named output expression against applied
// state. It is a pure projection: the state is not mutated. Every output is
// evaluated independently; an output whose referenced resource was never
// applied fails with *OutputUnavailableError while the others still
// resolve. The returned map holds the outputs that evaluated, the error map
// holds the ones that did not.
func ProjectOutputs(outputs map[string]any, state *ir.State) (map[string]any, map[string]error) {
	values := make(map[string]any, len(outputs))
	failures := make(map[string]error)

	for name, expr := range outputs {
		val, err := projectValue(name, expr, state)
		if err != nil {
			failures[name] = err
			continue
		}
		values[name] = val
	}

	return values, failures
}

func projectValue(output string, expr any, state *ir.State) (any, error) {
	switch v := expr.(type) {
	case string:
		if !strings.HasPrefix(v, "ptr://") {
			return v, nil
		}
		return projectRef(output, v, state)
	case map[string]any:
		result := make(map[string]any, len(v))
		for k, item := range v {
			val, err := projectValue(output, item, state)
			if err != nil {
				return nil, err
			}
			result[k] = val
		}
		return result, nil
	case []any:
		result := make([]any, len(v))
		for i, item := range v {
			val, err := projectValue(output, item, state)
			if err != nil {
				return nil, err
			}
			result[i] = val
		}
		return result, nil
	default:
		return v, nil
	}
}

func projectRef(output, ref string, state *ir.State) (any, error) {
	addr := ptrRefToAddr(ref)
	attr := ptrRefAttr(ref)

	for _, res := range state.Resources {
		if fmt.Sprintf("%s.%s", res.Type, res.Name) != addr {
			continue
		}
		if res.Status == ir.StatusUnknown {
			return nil, &OutputUnavailableError{
				Output:    output,
				Reference: ref,
				Reason:    fmt.Sprintf("resource %s is in an unknown state", addr),
			}
		}
		if val, ok := res.Outputs[attr]; ok {
			return val, nil
		}
		if val, ok := res.Inputs[attr]; ok {
			return val, nil
		}
		return nil, &OutputUnavailableError{
			Output:    output,
			Reference: ref,
			Reason:    fmt.Sprintf("resource %s has no attribute %q", addr, attr),
		}
	}

	return nil, &OutputUnavailableError{
		Output:    output,
		Reference: ref,
		Reason:    fmt.Sprintf("resource %s was not applied", addr),
	}
}
