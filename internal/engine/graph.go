package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/alloyform-io/alloyform/internal/ir"
)

// DAG represents a directed acyclic graph of resources for dependency ordering.
type DAG struct {
	nodes    map[string]*dagNode
	order    []string // topological order (creation order)
	revOrder []string // reverse topological order (destruction order)
}

type dagNode struct {
	addr     string
	edges    []string // resources this node depends on
	revEdges []string // resources that depend on this node
}

// BuildDAG constructs a dependency graph from resources. It resolves both
// explicit DependsOn and implicit ptr:// references; a reference to an
// undeclared resource fails with *UnresolvedReferenceError before any
// provider is touched.
func BuildDAG(resources []*ir.Resource) (*DAG, error) {
	dag := &DAG{
		nodes: make(map[string]*dagNode),
	}

	for _, res := range resources {
		addr := resourceAddr(res)
		dag.nodes[addr] = &dagNode{addr: addr}
	}

	for _, res := range resources {
		addr := resourceAddr(res)
		node := dag.nodes[addr]

		for _, dep := range res.DependsOn {
			if _, ok := dag.nodes[dep]; !ok {
				return nil, &UnresolvedReferenceError{
					Address:   addr,
					Attribute: "dependsOn",
					Reference: dep,
				}
			}
			node.edges = append(node.edges, dep)
		}

		for attr, ref := range extractPtrRefs("", res.Properties) {
			depAddr := ptrRefToAddr(ref)
			if depAddr == "" {
				continue
			}
			if depAddr == addr {
				continue // self-reference carries no ordering
			}
			if _, ok := dag.nodes[depAddr]; !ok {
				return nil, &UnresolvedReferenceError{
					Address:   addr,
					Attribute: attr,
					Reference: depAddr,
				}
			}
			node.edges = append(node.edges, depAddr)
		}
	}

	return dag, dag.finish()
}

// BuildDAGFromState constructs a dependency graph from state resources (for destroy).
func BuildDAGFromState(resources []*ir.ResourceState) (*DAG, error) {
	dag := &DAG{
		nodes: make(map[string]*dagNode),
	}

	for _, res := range resources {
		addr := fmt.Sprintf("%s.%s", res.Type, res.Name)
		node := &dagNode{addr: addr}
		node.edges = append(node.edges, res.Dependencies...)
		dag.nodes[addr] = node
	}

	// Dependencies recorded in state may point at resources already removed.
	for _, node := range dag.nodes {
		kept := node.edges[:0]
		for _, dep := range node.edges {
			if _, ok := dag.nodes[dep]; ok {
				kept = append(kept, dep)
			}
		}
		node.edges = kept
	}

	return dag, dag.finish()
}

func (d *DAG) finish() error {
	for addr, node := range d.nodes {
		for _, dep := range node.edges {
			d.nodes[dep].revEdges = append(d.nodes[dep].revEdges, addr)
		}
	}

	order, err := d.topoSort()
	if err != nil {
		return err
	}
	d.order = order

	d.revOrder = make([]string, len(order))
	for i, addr := range order {
		d.revOrder[len(order)-1-i] = addr
	}
	return nil
}

// CreationOrder returns resources in dependency-respecting creation order.
func (d *DAG) CreationOrder() []string {
	return d.order
}

// DestructionOrder returns resources in reverse dependency order (safe for deletion).
func (d *DAG) DestructionOrder() []string {
	return d.revOrder
}

// topoSort performs Kahn's algorithm. On failure it extracts a minimal
// cycle from the unsorted remainder and returns it as *CycleError.
func (d *DAG) topoSort() ([]string, error) {
	inDegree := make(map[string]int)
	for addr, node := range d.nodes {
		inDegree[addr] = len(node.edges)
	}

	var queue []string
	for addr, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, addr)
		}
	}
	sort.Strings(queue) // deterministic order among independents

	var sorted []string
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		sorted = append(sorted, node)

		var ready []string
		for _, dependent := range d.nodes[node].revEdges {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
		sort.Strings(ready)
		queue = append(queue, ready...)
	}

	if len(sorted) != len(d.nodes) {
		remaining := make(map[string]bool)
		for addr, deg := range inDegree {
			if deg > 0 {
				remaining[addr] = true
			}
		}
		return nil, &CycleError{Path: d.findCycle(remaining)}
	}

	return sorted, nil
}

// findCycle walks dependency edges within the unsorted remainder until an
// address repeats, then trims the walk to the cycle itself.
func (d *DAG) findCycle(remaining map[string]bool) []string {
	var start string
	for addr := range remaining {
		if start == "" || addr < start {
			start = addr
		}
	}

	var path []string
	seen := make(map[string]int)
	cur := start
	for {
		if at, ok := seen[cur]; ok {
			cycle := append([]string{}, path[at:]...)
			return append(cycle, cur)
		}
		seen[cur] = len(path)
		path = append(path, cur)

		next := ""
		for _, dep := range d.nodes[cur].edges {
			if remaining[dep] && (next == "" || dep < next) {
				next = dep
			}
		}
		if next == "" {
			// should not happen: every remaining node has in-degree > 0
			return path
		}
		cur = next
	}
}

// Dependencies returns the list of dependencies for a given address.
func (d *DAG) Dependencies(addr string) []string {
	if node, ok := d.nodes[addr]; ok {
		return node.edges
	}
	return nil
}

// TransitiveDeps returns the full dependency closure of an address,
// excluding the address itself. Used for -target filtering.
func (d *DAG) TransitiveDeps(addr string) []string {
	visited := make(map[string]bool)
	var visit func(a string)
	visit = func(a string) {
		node, ok := d.nodes[a]
		if !ok {
			return
		}
		for _, dep := range node.edges {
			if !visited[dep] {
				visited[dep] = true
				visit(dep)
			}
		}
	}
	visit(addr)

	deps := make([]string, 0, len(visited))
	for a := range visited {
		deps = append(deps, a)
	}
	sort.Strings(deps)
	return deps
}

// ResourceAddrPublic returns the address of a resource (type.name). Exported for CLI use.
func ResourceAddrPublic(res *ir.Resource) string {
	return resourceAddr(res)
}

// resourceAddr returns the address of a resource (type.name).
func resourceAddr(res *ir.Resource) string {
	t := res.Type
	if t == "" {
		t = "null_resource"
	}
	return fmt.Sprintf("%s.%s", t, res.Name)
}

// extractPtrRefs walks a property value and returns every ptr:// reference
// found, keyed by the property path it appeared at.
func extractPtrRefs(path string, v any) map[string]string {
	refs := make(map[string]string)
	collectPtrRefs(path, v, refs)
	return refs
}

func collectPtrRefs(path string, v any, refs map[string]string) {
	switch val := v.(type) {
	case string:
		if strings.HasPrefix(val, "ptr://") {
			refs[path] = val
		}
	case map[string]any:
		for k, item := range val {
			collectPtrRefs(joinPath(path, k), item, refs)
		}
	case map[any]any:
		for k, item := range val {
			collectPtrRefs(joinPath(path, fmt.Sprintf("%v", k)), item, refs)
		}
	case []any:
		for i, item := range val {
			collectPtrRefs(fmt.Sprintf("%s[%d]", path, i), item, refs)
		}
	}
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

// resourceDependencies returns the addresses a resource depends on: explicit
// DependsOn entries plus the targets of every ptr:// reference in its
// properties, deduplicated and sorted. This is what gets recorded in state so
// destroy ordering survives without the original config.
func resourceDependencies(res *ir.Resource) []string {
	set := make(map[string]bool)
	for _, d := range res.DependsOn {
		set[d] = true
	}
	for _, ref := range extractPtrRefs("", res.Properties) {
		if addr := ptrRefToAddr(ref); addr != "" {
			set[addr] = true
		}
	}
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for addr := range set {
		out = append(out, addr)
	}
	sort.Strings(out)
	return out
}

// ptrRefToAddr converts a ptr:// reference to a resource address.
// ptr://google:Compute.Network/vpc/selfLink -> google:Compute.Network.vpc
func ptrRefToAddr(ref string) string {
	if !strings.HasPrefix(ref, "ptr://") {
		return ""
	}
	path := ref[6:]
	// Format: provider:Type/name/attribute
	parts := strings.SplitN(path, "/", 3)
	if len(parts) < 2 {
		return ""
	}
	return fmt.Sprintf("%s.%s", parts[0], parts[1])
}

// ptrRefAttr returns the attribute component of a ptr:// reference, or "".
func ptrRefAttr(ref string) string {
	if !strings.HasPrefix(ref, "ptr://") {
		return ""
	}
	parts := strings.SplitN(ref[6:], "/", 3)
	if len(parts) < 3 {
		return ""
	}
	return parts[2]
}
