package null

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sdk "github.com/alloyform-io/alloyform/pkg/provider"
)

// Provider conformance test suite.
// These tests verify that a provider correctly implements the full lifecycle:
// Configure -> Plan (create) -> Apply -> Read -> Plan (noop) -> Plan (replace) -> Apply -> Delete

func TestConformance_FullLifecycle(t *testing.T) {
	ctx := context.Background()
	p := New()

	// 1. Configure
	configResp, err := p.Configure(ctx, &sdk.ConfigureRequest{})
	require.NoError(t, err)
	assert.Empty(t, configResp.Diagnostics)

	// 2. Plan (create), no prior state
	desired := map[string]any{"triggers": map[string]string{"key": "value"}}
	desiredJSON, _ := json.Marshal(desired)

	planResp, err := p.Plan(ctx, &sdk.PlanRequest{
		ResourceType:      "null_resource",
		ResourceName:      "test",
		DesiredConfigJson: desiredJSON,
	})
	require.NoError(t, err)
	assert.Equal(t, sdk.ActionCreate, planResp.Action)

	// 3. Apply
	applyResp, err := p.Apply(ctx, &sdk.ApplyRequest{
		ResourceType:      "null_resource",
		ResourceName:      "test",
		DesiredConfigJson: desiredJSON,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, applyResp.NewStateJson)

	var state map[string]any
	require.NoError(t, json.Unmarshal(applyResp.NewStateJson, &state))
	assert.NotEmpty(t, state["id"])

	// 4. Read
	readResp, err := p.Read(ctx, &sdk.ReadRequest{
		ResourceType:   "null_resource",
		ResourceName:   "test",
		PriorStateJson: applyResp.NewStateJson,
	})
	require.NoError(t, err)
	assert.True(t, readResp.Exists)

	// 5. Plan (noop), same desired as current
	planResp2, err := p.Plan(ctx, &sdk.PlanRequest{
		ResourceType:      "null_resource",
		ResourceName:      "test",
		DesiredConfigJson: desiredJSON,
		PriorStateJson:    applyResp.NewStateJson,
	})
	require.NoError(t, err)
	assert.Equal(t, sdk.ActionNoop, planResp2.Action)

	// 6. Plan (replace), changed triggers
	newDesired := map[string]any{"triggers": map[string]string{"key": "new-value"}}
	newDesiredJSON, _ := json.Marshal(newDesired)

	planResp3, err := p.Plan(ctx, &sdk.PlanRequest{
		ResourceType:      "null_resource",
		ResourceName:      "test",
		DesiredConfigJson: newDesiredJSON,
		PriorStateJson:    applyResp.NewStateJson,
	})
	require.NoError(t, err)
	assert.Equal(t, sdk.ActionReplace, planResp3.Action)

	// 7. Apply replacement
	applyResp2, err := p.Apply(ctx, &sdk.ApplyRequest{
		ResourceType:      "null_resource",
		ResourceName:      "test",
		DesiredConfigJson: newDesiredJSON,
		PriorStateJson:    applyResp.NewStateJson,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, applyResp2.NewStateJson)

	// 8. Delete
	deleteResp, err := p.Delete(ctx, &sdk.DeleteRequest{
		ResourceType:   "null_resource",
		ResourceName:   "test",
		PriorStateJson: applyResp2.NewStateJson,
	})
	require.NoError(t, err)
	assert.NotNil(t, deleteResp)
}

func TestConformance_GetSchema(t *testing.T) {
	ctx := context.Background()
	p := New()

	resp, err := p.GetSchema(ctx, &sdk.SchemaRequest{})
	require.NoError(t, err)
	assert.Equal(t, "null", resp.ProviderName)
	assert.NotEmpty(t, resp.ProviderVersion)
	assert.Contains(t, resp.ResourceTypes, "null_resource")
}

func TestConformance_ConfigureIdempotent(t *testing.T) {
	ctx := context.Background()
	p := New()

	// Configure should be idempotent
	for i := 0; i < 3; i++ {
		resp, err := p.Configure(ctx, &sdk.ConfigureRequest{})
		require.NoError(t, err)
		assert.Empty(t, resp.Diagnostics)
	}
}
