package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alloyform-io/alloyform/internal/ir"
)

func TestExpandForEach_NoIteration(t *testing.T) {
	resources := []*ir.Resource{
		{Type: "null_resource", Name: "a", Provider: "null", Properties: map[string]any{"key": "val"}},
	}
	expanded := ExpandForEach(resources)
	assert.Len(t, expanded, 1)
	assert.Equal(t, "a", expanded[0].Name)
}

func TestExpandForEach_Count(t *testing.T) {
	resources := []*ir.Resource{
		{
			Type:     "google:AlloyDB.Instance",
			Name:     "replica",
			Provider: "google",
			Count:    3,
			Properties: map[string]any{
				"displayName": "replica-${count.index}",
			},
		},
	}
	expanded := ExpandForEach(resources)
	require.Len(t, expanded, 3)

	assert.Equal(t, "replica[0]", expanded[0].Name)
	assert.Equal(t, "replica-0", expanded[0].Properties["displayName"])

	assert.Equal(t, "replica[1]", expanded[1].Name)
	assert.Equal(t, "replica-1", expanded[1].Properties["displayName"])

	assert.Equal(t, "replica[2]", expanded[2].Name)
	assert.Equal(t, "replica-2", expanded[2].Properties["displayName"])
}

func TestExpandForEach_ForEach(t *testing.T) {
	resources := []*ir.Resource{
		{
			Type:     "google:AlloyDB.User",
			Name:     "app",
			Provider: "google",
			ForEach: map[string]any{
				"reader": "SELECT",
				"writer": "INSERT",
			},
			Properties: map[string]any{
				"userId": "${each.key}",
				"grant":  "${each.value}",
			},
		},
	}
	expanded := ExpandForEach(resources)
	require.Len(t, expanded, 2)

	// Order may vary due to map iteration
	names := make(map[string]bool)
	for _, r := range expanded {
		names[r.Name] = true
	}
	assert.True(t, names[`app["reader"]`])
	assert.True(t, names[`app["writer"]`])

	for _, r := range expanded {
		key := r.Properties["userId"].(string)
		assert.NotContains(t, key, "${")
	}
}

func TestExpandForEach_PreservesLifecycle(t *testing.T) {
	resources := []*ir.Resource{
		{
			Type:     "null_resource",
			Name:     "server",
			Provider: "null",
			Count:    2,
			Lifecycle: &ir.Lifecycle{
				PreventDestroy: true,
				IgnoreChanges:  []string{"labels"},
			},
			Properties: map[string]any{},
		},
	}
	expanded := ExpandForEach(resources)
	require.Len(t, expanded, 2)

	for _, r := range expanded {
		require.NotNil(t, r.Lifecycle)
		assert.True(t, r.Lifecycle.PreventDestroy)
		assert.Equal(t, []string{"labels"}, r.Lifecycle.IgnoreChanges)
	}
}

func TestExpandForEach_CopiesAreIndependent(t *testing.T) {
	resources := []*ir.Resource{
		{
			Type:     "null_resource",
			Name:     "node",
			Provider: "null",
			Count:    2,
			Properties: map[string]any{
				"triggers": map[string]any{"idx": "${count.index}"},
			},
		},
	}
	expanded := ExpandForEach(resources)
	require.Len(t, expanded, 2)

	// Mutating one clone's nested map must not leak into the other.
	expanded[0].Properties["triggers"].(map[string]any)["idx"] = "mutated"
	assert.Equal(t, "1", expanded[1].Properties["triggers"].(map[string]any)["idx"])
}
