package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alloyform-io/alloyform/internal/ir"
)

func TestBuildDAG_NoDependencies(t *testing.T) {
	resources := []*ir.Resource{
		{Type: "null_resource", Name: "a", Provider: "null"},
		{Type: "null_resource", Name: "b", Provider: "null"},
		{Type: "null_resource", Name: "c", Provider: "null"},
	}

	dag, err := BuildDAG(resources)
	require.NoError(t, err)

	order := dag.CreationOrder()
	assert.Len(t, order, 3)
}

func TestBuildDAG_ExplicitDependsOn(t *testing.T) {
	resources := []*ir.Resource{
		{Type: "null_resource", Name: "a", Provider: "null", DependsOn: []string{"null_resource.b"}},
		{Type: "null_resource", Name: "b", Provider: "null"},
		{Type: "null_resource", Name: "c", Provider: "null", DependsOn: []string{"null_resource.a"}},
	}

	dag, err := BuildDAG(resources)
	require.NoError(t, err)

	order := dag.CreationOrder()
	require.Len(t, order, 3)

	// b must come before a, a must come before c
	posB := indexOf(order, "null_resource.b")
	posA := indexOf(order, "null_resource.a")
	posC := indexOf(order, "null_resource.c")

	assert.Less(t, posB, posA, "b should come before a")
	assert.Less(t, posA, posC, "a should come before c")
}

func TestBuildDAG_ImplicitPtrRef(t *testing.T) {
	resources := []*ir.Resource{
		{
			Type:     "google:AlloyDB.Cluster",
			Name:     "primary",
			Provider: "google",
			Properties: map[string]any{
				"network": "ptr://google:Compute.Network/vpc/selfLink",
			},
		},
		{Type: "google:Compute.Network", Name: "vpc", Provider: "google"},
	}

	dag, err := BuildDAG(resources)
	require.NoError(t, err)

	order := dag.CreationOrder()
	require.Len(t, order, 2)

	posNet := indexOf(order, "google:Compute.Network.vpc")
	posCluster := indexOf(order, "google:AlloyDB.Cluster.primary")

	assert.Less(t, posNet, posCluster, "network should be created before cluster")
}

func TestBuildDAG_CycleDetection(t *testing.T) {
	resources := []*ir.Resource{
		{Type: "null_resource", Name: "a", Provider: "null", DependsOn: []string{"null_resource.b"}},
		{Type: "null_resource", Name: "b", Provider: "null", DependsOn: []string{"null_resource.a"}},
	}

	_, err := BuildDAG(resources)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")

	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.Equal(t, cycleErr.Path[0], cycleErr.Path[len(cycleErr.Path)-1])
}

func TestBuildDAG_UnknownDependsOn(t *testing.T) {
	resources := []*ir.Resource{
		{Type: "null_resource", Name: "a", Provider: "null", DependsOn: []string{"null_resource.ghost"}},
	}

	_, err := BuildDAG(resources)
	require.Error(t, err)

	var refErr *UnresolvedReferenceError
	require.ErrorAs(t, err, &refErr)
	assert.Equal(t, "null_resource.a", refErr.Address)
	assert.Equal(t, "dependsOn", refErr.Attribute)
}

func TestBuildDAG_UnknownPtrRef(t *testing.T) {
	resources := []*ir.Resource{
		{
			Type:     "google:AlloyDB.Cluster",
			Name:     "primary",
			Provider: "google",
			Properties: map[string]any{
				"network": "ptr://google:Compute.Network/ghost/selfLink",
			},
		},
	}

	_, err := BuildDAG(resources)
	require.Error(t, err)

	var refErr *UnresolvedReferenceError
	require.ErrorAs(t, err, &refErr)
	assert.Equal(t, "google:AlloyDB.Cluster.primary", refErr.Address)
	assert.Equal(t, "network", refErr.Attribute)
	assert.Contains(t, refErr.Reference, "ghost")
}

func TestBuildDAG_DestructionOrder(t *testing.T) {
	resources := []*ir.Resource{
		{Type: "null_resource", Name: "a", Provider: "null", DependsOn: []string{"null_resource.b"}},
		{Type: "null_resource", Name: "b", Provider: "null"},
	}

	dag, err := BuildDAG(resources)
	require.NoError(t, err)

	revOrder := dag.DestructionOrder()
	require.Len(t, revOrder, 2)

	// a depends on b, so a should be destroyed first (reverse of creation)
	posA := indexOf(revOrder, "null_resource.a")
	posB := indexOf(revOrder, "null_resource.b")

	assert.Less(t, posA, posB, "a should be destroyed before b")
}

func TestPtrRefToAddr(t *testing.T) {
	tests := []struct {
		ref  string
		want string
	}{
		{"ptr://google:Compute.Network/vpc/selfLink", "google:Compute.Network.vpc"},
		{"ptr://google:AlloyDB.Instance/primary/ipAddress", "google:AlloyDB.Instance.primary"},
		{"not-a-ref", ""},
		{"ptr://short", ""},
	}

	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			got := ptrRefToAddr(tt.ref)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPtrRefAttr(t *testing.T) {
	assert.Equal(t, "selfLink", ptrRefAttr("ptr://google:Compute.Network/vpc/selfLink"))
	assert.Equal(t, "ipAddress", ptrRefAttr("ptr://google:AlloyDB.Instance/primary/ipAddress"))
	assert.Equal(t, "", ptrRefAttr("not-a-ref"))
}

func TestExtractPtrRefs(t *testing.T) {
	props := map[string]any{
		"network": "ptr://google:Compute.Network/vpc/selfLink",
		"name":    "primary",
		"labels": map[string]any{
			"owner": "ptr://google:IAM.ServiceAccount/demo/email",
		},
		"roles": []any{
			"ptr://random:Password/initial/result",
			"plain-string",
		},
	}

	refs := extractPtrRefs("", props)
	require.Len(t, refs, 3)

	// Keyed by property path so graph errors can name the offending field.
	assert.Equal(t, "ptr://google:Compute.Network/vpc/selfLink", refs["network"])
	assert.Equal(t, "ptr://google:IAM.ServiceAccount/demo/email", refs["labels.owner"])
	assert.Equal(t, "ptr://random:Password/initial/result", refs["roles[0]"])
}

func TestDependencies(t *testing.T) {
	resources := []*ir.Resource{
		{Type: "null_resource", Name: "a", Provider: "null", DependsOn: []string{"null_resource.b", "null_resource.c"}},
		{Type: "null_resource", Name: "b", Provider: "null"},
		{Type: "null_resource", Name: "c", Provider: "null"},
	}

	dag, err := BuildDAG(resources)
	require.NoError(t, err)

	deps := dag.Dependencies("null_resource.a")
	assert.Len(t, deps, 2)
	assert.Contains(t, deps, "null_resource.b")
	assert.Contains(t, deps, "null_resource.c")
}

func TestTransitiveDeps(t *testing.T) {
	resources := []*ir.Resource{
		{Type: "null_resource", Name: "a", Provider: "null", DependsOn: []string{"null_resource.b"}},
		{Type: "null_resource", Name: "b", Provider: "null", DependsOn: []string{"null_resource.c"}},
		{Type: "null_resource", Name: "c", Provider: "null"},
		{Type: "null_resource", Name: "d", Provider: "null"},
	}

	dag, err := BuildDAG(resources)
	require.NoError(t, err)

	deps := dag.TransitiveDeps("null_resource.a")
	assert.ElementsMatch(t, []string{"null_resource.b", "null_resource.c"}, deps)
}

func indexOf(slice []string, item string) int {
	for i, s := range slice {
		if s == item {
			return i
		}
	}
	return -1
}
