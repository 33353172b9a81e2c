package engine

import (
	"fmt"
	"strings"

	"github.com/alloyform-io/alloyform/internal/ir"
)

// ExpandForEach flattens Count and ForEach resources into one concrete
// resource per iteration, so the planner only ever sees addressable
// singletons. Count instances are named name[i], keyed instances name["key"].
func ExpandForEach(resources []*ir.Resource) []*ir.Resource {
	var out []*ir.Resource
	for _, res := range resources {
		switch {
		case res.Count > 0:
			for i := 0; i < res.Count; i++ {
				inst := copyResource(res)
				inst.Name = fmt.Sprintf("%s[%d]", res.Name, i)
				inst.Properties = rewriteProps(inst.Properties, map[string]string{
					"${count.index}": fmt.Sprintf("%d", i),
				})
				out = append(out, inst)
			}
		case len(res.ForEach) > 0:
			for key, val := range res.ForEach {
				inst := copyResource(res)
				inst.Name = fmt.Sprintf("%s[%q]", res.Name, key)
				inst.Properties = rewriteProps(inst.Properties, map[string]string{
					"${each.key}":   key,
					"${each.value}": fmt.Sprintf("%v", val),
				})
				out = append(out, inst)
			}
		default:
			out = append(out, res)
		}
	}
	return out
}

// copyResource duplicates a resource deeply enough that instances can be
// mutated independently.
func copyResource(res *ir.Resource) *ir.Resource {
	inst := &ir.Resource{
		Type:       res.Type,
		Name:       res.Name,
		Provider:   res.Provider,
		Timeout:    res.Timeout,
		DependsOn:  append([]string{}, res.DependsOn...),
		Properties: copyProps(res.Properties),
	}
	if res.Lifecycle != nil {
		lc := *res.Lifecycle
		lc.IgnoreChanges = append([]string{}, res.Lifecycle.IgnoreChanges...)
		inst.Lifecycle = &lc
	}
	return inst
}

func copyProps(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return copyProps(val)
	case []any:
		s := make([]any, len(val))
		for i, item := range val {
			s[i] = copyValue(item)
		}
		return s
	default:
		return v
	}
}

// rewriteProps substitutes iteration placeholders in every string value.
func rewriteProps(props map[string]any, subs map[string]string) map[string]any {
	out := make(map[string]any, len(props))
	for k, v := range props {
		out[k] = rewriteValue(v, subs)
	}
	return out
}

func rewriteValue(v any, subs map[string]string) any {
	switch val := v.(type) {
	case string:
		s := val
		for placeholder, replacement := range subs {
			s = strings.ReplaceAll(s, placeholder, replacement)
		}
		return s
	case map[string]any:
		return rewriteProps(val, subs)
	case []any:
		s := make([]any, len(val))
		for i, item := range val {
			s[i] = rewriteValue(item, subs)
		}
		return s
	default:
		return v
	}
}
