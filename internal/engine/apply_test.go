package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alloyform-io/alloyform/internal/ir"
	"github.com/alloyform-io/alloyform/internal/provider"
	sdk "github.com/alloyform-io/alloyform/pkg/provider"
)

// fakeProvider lets tests script failures and slow operations.
type fakeProvider struct {
	mu            sync.Mutex
	failOn        map[string]error
	applyDelay    time.Duration
	applyDelayOn  map[string]time.Duration
	deleteDelayOn map[string]time.Duration
	applied       []string
	deleted       []string
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		failOn:        make(map[string]error),
		applyDelayOn:  make(map[string]time.Duration),
		deleteDelayOn: make(map[string]time.Duration),
	}
}

func (p *fakeProvider) GetSchema(ctx context.Context, req *sdk.SchemaRequest) (*sdk.SchemaResponse, error) {
	return &sdk.SchemaResponse{ProviderName: "fake"}, nil
}

func (p *fakeProvider) Configure(ctx context.Context, req *sdk.ConfigureRequest) (*sdk.ConfigureResponse, error) {
	return &sdk.ConfigureResponse{}, nil
}

func (p *fakeProvider) Plan(ctx context.Context, req *sdk.PlanRequest) (*sdk.PlanResponse, error) {
	if req.PriorStateJson == nil {
		return &sdk.PlanResponse{Action: sdk.ActionCreate}, nil
	}
	return &sdk.PlanResponse{Action: sdk.ActionNoop}, nil
}

func (p *fakeProvider) Apply(ctx context.Context, req *sdk.ApplyRequest) (*sdk.ApplyResponse, error) {
	p.mu.Lock()
	delay := p.applyDelay
	if d, ok := p.applyDelayOn[req.ResourceName]; ok {
		delay = d
	}
	p.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	p.mu.Lock()
	err := p.failOn[req.ResourceName]
	if err == nil {
		p.applied = append(p.applied, req.ResourceName)
	}
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &sdk.ApplyResponse{NewStateJson: []byte(`{"id":"fake-` + req.ResourceName + `"}`)}, nil
}

func (p *fakeProvider) Read(ctx context.Context, req *sdk.ReadRequest) (*sdk.ReadResponse, error) {
	return &sdk.ReadResponse{Exists: true, CurrentStateJson: req.PriorStateJson}, nil
}

func (p *fakeProvider) Delete(ctx context.Context, req *sdk.DeleteRequest) (*sdk.DeleteResponse, error) {
	p.mu.Lock()
	delay := p.deleteDelayOn[req.ResourceName]
	p.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	p.mu.Lock()
	p.deleted = append(p.deleted, req.ResourceName)
	p.mu.Unlock()
	return &sdk.DeleteResponse{}, nil
}

func TestApplyPlan_Create(t *testing.T) {
	reg := provider.NewRegistry()
	require.NoError(t, reg.LoadProvider("null"))

	eng := NewEngine(reg)
	ctx := context.Background()

	plan := &ir.Plan{
		Changes: []*ir.ResourceChange{
			{
				Address: "null_resource.test1",
				Action:  "create",
				Desired: &ir.Resource{
					Type:     "null_resource",
					Name:     "test1",
					Provider: "null",
					Properties: map[string]any{
						"triggers": map[string]any{"a": "b"},
					},
				},
			},
		},
		Summary: &ir.PlanSummary{Create: 1},
		Outputs: map[string]any{},
	}

	state := &ir.State{
		Version: 1,
	}

	newState, report, err := eng.ApplyPlan(ctx, plan, state)
	require.NoError(t, err)
	require.Len(t, newState.Resources, 1)
	assert.Equal(t, "null_resource", newState.Resources[0].Type)
	assert.Equal(t, "test1", newState.Resources[0].Name)
	assert.Equal(t, "null-test1", newState.Resources[0].Outputs["id"])
	assert.Equal(t, 1, newState.Serial)

	require.Len(t, report.Results, 1)
	assert.Equal(t, ir.ResultCreated, report.Results[0].Outcome)
	assert.False(t, report.Failed())
}

func TestApplyPlan_Delete(t *testing.T) {
	reg := provider.NewRegistry()
	require.NoError(t, reg.LoadProvider("null"))

	eng := NewEngine(reg)
	ctx := context.Background()

	plan := &ir.Plan{
		Changes: []*ir.ResourceChange{
			{
				Address: "null_resource.test1",
				Action:  "delete",
				Prior: &ir.Resource{
					Type:     "null_resource",
					Name:     "test1",
					Provider: "null",
				},
			},
		},
		Summary: &ir.PlanSummary{Delete: 1},
		Outputs: map[string]any{},
	}

	state := &ir.State{
		Version: 1,
		Resources: []*ir.ResourceState{
			{
				Type:     "null_resource",
				Name:     "test1",
				Provider: "null",
				Outputs:  map[string]any{"id": "null-test1"},
			},
		},
	}

	newState, report, err := eng.ApplyPlan(ctx, plan, state)
	require.NoError(t, err)
	assert.Len(t, newState.Resources, 0)
	assert.Equal(t, ir.ResultDeleted, report.Results[0].Outcome)
}

func TestApplyPlan_Replace_NoDuplicates(t *testing.T) {
	reg := provider.NewRegistry()
	require.NoError(t, reg.LoadProvider("null"))

	eng := NewEngine(reg)
	eng.AllowReplace = true
	ctx := context.Background()

	plan := &ir.Plan{
		Changes: []*ir.ResourceChange{
			{
				Address: "null_resource.test1",
				Action:  "replace",
				Desired: &ir.Resource{
					Type:     "null_resource",
					Name:     "test1",
					Provider: "null",
					Properties: map[string]any{
						"triggers": map[string]any{"a": "new_value"},
					},
				},
			},
		},
		Summary: &ir.PlanSummary{Replace: 1},
		Outputs: map[string]any{},
	}

	state := &ir.State{
		Version: 1,
		Resources: []*ir.ResourceState{
			{
				Type:     "null_resource",
				Name:     "test1",
				Provider: "null",
				Outputs:  map[string]any{"id": "null-test1", "triggers": map[string]any{"a": "old_value"}},
			},
		},
	}

	newState, _, err := eng.ApplyPlan(ctx, plan, state)
	require.NoError(t, err)
	// Should still have exactly 1 resource, not 2 (no duplicate)
	assert.Len(t, newState.Resources, 1)
	assert.Equal(t, "null-test1", newState.Resources[0].Outputs["id"])
}

func TestApplyPlan_ReplaceRefusedWithoutOptIn(t *testing.T) {
	reg := provider.NewRegistry()
	require.NoError(t, reg.LoadProvider("null"))

	eng := NewEngine(reg)
	ctx := context.Background()

	plan := &ir.Plan{
		Changes: []*ir.ResourceChange{
			{
				Address: "null_resource.test1",
				Action:  "replace",
				Desired: &ir.Resource{
					Type:       "null_resource",
					Name:       "test1",
					Provider:   "null",
					Properties: map[string]any{"triggers": map[string]any{"a": "new"}},
				},
				Diff: map[string]*ir.PropertyDiff{
					"triggers": {Before: "old", After: "new", Action: "update"},
				},
			},
		},
		Summary: &ir.PlanSummary{Replace: 1},
		Outputs: map[string]any{},
	}

	state := &ir.State{
		Version: 1,
		Resources: []*ir.ResourceState{
			{
				Type:     "null_resource",
				Name:     "test1",
				Provider: "null",
				Outputs:  map[string]any{"id": "null-test1"},
			},
		},
	}

	_, report, err := eng.ApplyPlan(ctx, plan, state)
	require.Error(t, err)

	var replaceErr *ReplacementRequiredError
	require.ErrorAs(t, err, &replaceErr)
	assert.Equal(t, "null_resource.test1", replaceErr.Address)
	assert.Contains(t, replaceErr.ChangedAttributes, "triggers")
	assert.Equal(t, ir.ResultFailed, report.Results[0].Outcome)

	// The prior record is untouched.
	assert.Equal(t, "null-test1", state.Resources[0].Outputs["id"])
}

func TestApplyPlan_ProgressCallback(t *testing.T) {
	reg := provider.NewRegistry()
	require.NoError(t, reg.LoadProvider("null"))

	eng := NewEngine(reg)
	ctx := context.Background()

	plan := &ir.Plan{
		Changes: []*ir.ResourceChange{
			{
				Address: "null_resource.test1",
				Action:  "create",
				Desired: &ir.Resource{
					Type:     "null_resource",
					Name:     "test1",
					Provider: "null",
					Properties: map[string]any{
						"triggers": map[string]any{"a": "b"},
					},
				},
			},
		},
		Summary: &ir.PlanSummary{Create: 1},
		Outputs: map[string]any{},
	}

	state := &ir.State{Version: 1}

	var events []ApplyEvent
	callback := func(event ApplyEvent) {
		events = append(events, event)
	}

	_, _, err := eng.ApplyPlanWithCallback(ctx, plan, state, callback)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "started", events[0].Status)
	assert.Equal(t, "completed", events[1].Status)
	assert.Equal(t, "null_resource.test1", events[0].Address)
}

func TestApplyPlan_SkippedOnUpstreamFailure(t *testing.T) {
	fake := newFakeProvider()
	fake.failOn["base"] = errors.New("invalid argument")

	reg := provider.NewRegistry()
	reg.Register("fake", fake)

	eng := NewEngine(reg)
	ctx := context.Background()

	plan := &ir.Plan{
		Changes: []*ir.ResourceChange{
			{
				Address: "fake.base",
				Action:  "create",
				Desired: &ir.Resource{
					Type:       "fake",
					Name:       "base",
					Provider:   "fake",
					Properties: map[string]any{},
				},
			},
			{
				Address: "fake.dependent",
				Action:  "create",
				Desired: &ir.Resource{
					Type:       "fake",
					Name:       "dependent",
					Provider:   "fake",
					DependsOn:  []string{"fake.base"},
					Properties: map[string]any{},
				},
			},
		},
		Summary: &ir.PlanSummary{Create: 2},
		Outputs: map[string]any{},
	}

	_, report, err := eng.ApplyPlan(ctx, plan, &ir.State{Version: 1})
	require.Error(t, err)

	var provErr *ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, "fake.base", provErr.Address)
	assert.Equal(t, "apply", provErr.Op)

	require.NotNil(t, report.Outcome("fake.base"))
	assert.Equal(t, ir.ResultFailed, report.Outcome("fake.base").Outcome)
	require.NotNil(t, report.Outcome("fake.dependent"))
	assert.Equal(t, ir.ResultSkipped, report.Outcome("fake.dependent").Outcome)

	// The dependent was never attempted.
	assert.NotContains(t, fake.applied, "dependent")
}

func TestApplyPlan_ContinueOnError(t *testing.T) {
	fake := newFakeProvider()
	fake.failOn["bad"] = errors.New("invalid argument")

	reg := provider.NewRegistry()
	reg.Register("fake", fake)

	eng := NewEngine(reg)
	eng.ContinueOnError = true
	ctx := context.Background()

	plan := &ir.Plan{
		Changes: []*ir.ResourceChange{
			{
				Address: "fake.good",
				Action:  "create",
				Desired: &ir.Resource{
					Type:       "fake",
					Name:       "good",
					Provider:   "fake",
					Properties: map[string]any{},
				},
			},
			{
				Address: "fake.bad",
				Action:  "create",
				Desired: &ir.Resource{
					Type:       "fake",
					Name:       "bad",
					Provider:   "fake",
					Properties: map[string]any{},
				},
			},
		},
		Summary: &ir.PlanSummary{Create: 2},
		Outputs: map[string]any{},
	}

	newState, report, err := eng.ApplyPlan(ctx, plan, &ir.State{Version: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed")

	// The good resource was still applied.
	assert.Len(t, newState.Resources, 1)
	assert.Equal(t, ir.ResultCreated, report.Outcome("fake.good").Outcome)
	assert.Equal(t, ir.ResultFailed, report.Outcome("fake.bad").Outcome)
}

func TestApplyPlan_FailureSurfacesError(t *testing.T) {
	reg := provider.NewRegistry()
	require.NoError(t, reg.LoadProvider("null"))

	eng := NewEngine(reg)
	ctx := context.Background()

	plan := &ir.Plan{
		Changes: []*ir.ResourceChange{
			{
				Address: "null_resource.bad",
				Action:  "create",
				Desired: &ir.Resource{
					Type:     "null_resource",
					Name:     "bad",
					Provider: "nonexistent",
					Properties: map[string]any{
						"triggers": map[string]any{"a": "b"},
					},
				},
			},
		},
		Summary: &ir.PlanSummary{Create: 1},
		Outputs: map[string]any{},
	}

	state := &ir.State{Version: 1}

	_, _, err := eng.ApplyPlan(ctx, plan, state)
	require.Error(t, err)
}

func TestApplyPlan_TimeoutRecordsUnknown(t *testing.T) {
	fake := newFakeProvider()
	fake.applyDelay = 200 * time.Millisecond

	reg := provider.NewRegistry()
	reg.Register("fake", fake)

	eng := NewEngine(reg)
	ctx := context.Background()

	timeout := 20 * time.Millisecond
	plan := &ir.Plan{
		Changes: []*ir.ResourceChange{
			{
				Address: "fake.slow",
				Action:  "create",
				Desired: &ir.Resource{
					Type:       "fake",
					Name:       "slow",
					Provider:   "fake",
					Timeout:    &timeout,
					Properties: map[string]any{},
				},
			},
		},
		Summary: &ir.PlanSummary{Create: 1},
		Outputs: map[string]any{},
	}

	state := &ir.State{Version: 1}

	_, report, err := eng.ApplyPlan(ctx, plan, state)
	require.Error(t, err)

	var timeoutErr *ProviderTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, "fake.slow", timeoutErr.Address)

	// The resource is recorded with unknown status so the next plan
	// re-verifies it before doing anything destructive.
	require.Len(t, state.Resources, 1)
	assert.Equal(t, ir.StatusUnknown, state.Resources[0].Status)
	assert.Equal(t, ir.ResultUnknown, report.Outcome("fake.slow").Outcome)
}

func TestApplyPlan_Checkpoints(t *testing.T) {
	reg := provider.NewRegistry()
	require.NoError(t, reg.LoadProvider("null"))

	eng := NewEngine(reg)
	checkpoints := 0
	eng.Checkpoint = func(s *ir.State) error {
		checkpoints++
		return nil
	}
	ctx := context.Background()

	plan := &ir.Plan{
		Changes: []*ir.ResourceChange{
			{
				Address: "null_resource.a",
				Action:  "create",
				Desired: &ir.Resource{
					Type:       "null_resource",
					Name:       "a",
					Provider:   "null",
					Properties: map[string]any{"triggers": map[string]any{"k": "v"}},
				},
			},
			{
				Address: "null_resource.b",
				Action:  "create",
				Desired: &ir.Resource{
					Type:       "null_resource",
					Name:       "b",
					Provider:   "null",
					Properties: map[string]any{"triggers": map[string]any{"k": "v"}},
				},
			},
		},
		Summary: &ir.PlanSummary{Create: 2},
		Outputs: map[string]any{},
	}

	_, _, err := eng.ApplyPlan(ctx, plan, &ir.State{Version: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, checkpoints, "one checkpoint per state transition")
}

func TestApplyPlan_Idempotent(t *testing.T) {
	reg := provider.NewRegistry()
	require.NoError(t, reg.LoadProvider("null"))

	eng := NewEngine(reg)
	ctx := context.Background()

	cfg := &ir.Config{
		Resources: []*ir.Resource{
			{
				Type:       "null_resource",
				Name:       "stable",
				Provider:   "null",
				Properties: map[string]any{"triggers": map[string]string{"a": "b"}},
			},
		},
	}

	state := &ir.State{Version: 1}

	plan, err := eng.CreatePlan(ctx, cfg, state)
	require.NoError(t, err)
	state, _, err = eng.ApplyPlan(ctx, plan, state)
	require.NoError(t, err)
	require.Len(t, state.Resources, 1)
	serial := state.Serial

	// A second plan over the applied state is empty.
	plan, err = eng.CreatePlan(ctx, cfg, state)
	require.NoError(t, err)
	assert.Len(t, plan.Changes, 0)
	assert.Equal(t, serial, state.Serial)
}

func TestApplyPlan_IdempotentWithReferences(t *testing.T) {
	reg := provider.NewRegistry()
	require.NoError(t, reg.LoadProvider("null"))

	eng := NewEngine(reg)
	ctx := context.Background()

	cfg := &ir.Config{
		Resources: []*ir.Resource{
			{
				Type:       "null_resource",
				Name:       "a",
				Provider:   "null",
				Properties: map[string]any{"triggers": map[string]any{"k": "v"}},
			},
			{
				Type:     "null_resource",
				Name:     "b",
				Provider: "null",
				Properties: map[string]any{
					"triggers": map[string]any{"link": "ptr://null_resource/a/id"},
				},
			},
		},
	}

	state := &ir.State{Version: 1}

	plan, err := eng.CreatePlan(ctx, cfg, state)
	require.NoError(t, err)
	state, _, err = eng.ApplyPlan(ctx, plan, state)
	require.NoError(t, err)
	require.Len(t, state.Resources, 2)

	// The reference was substituted into applied state.
	var b *ir.ResourceState
	for _, rs := range state.Resources {
		if rs.Name == "b" {
			b = rs
		}
	}
	require.NotNil(t, b)
	triggers, ok := b.Outputs["triggers"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "null-a", triggers["link"])

	// Re-planning the identical config produces zero changes: the diff sees
	// the same resolved value the provider stored, not the raw reference.
	plan, err = eng.CreatePlan(ctx, cfg, state)
	require.NoError(t, err)
	assert.Len(t, plan.Changes, 0)
}

func TestApplyPlan_ResolveReferences(t *testing.T) {
	state := &ir.State{
		Resources: []*ir.ResourceState{
			{
				Type:     "null_resource",
				Name:     "test",
				Provider: "null",
				Outputs:  map[string]any{"id": "null-test", "value": "resolved"},
			},
		},
	}

	result, err := resolveReferences("null_resource.user", "ptr://null_resource/test/id", state)
	require.NoError(t, err)
	assert.Equal(t, "null-test", result)

	result, err = resolveReferences("null_resource.user", "ptr://null_resource/test/value", state)
	require.NoError(t, err)
	assert.Equal(t, "resolved", result)

	// Non-reference strings pass through.
	result, err = resolveReferences("null_resource.user", "plain-string", state)
	require.NoError(t, err)
	assert.Equal(t, "plain-string", result)

	// Nested map resolution
	result, err = resolveReferences("null_resource.user", map[string]any{
		"ref":  "ptr://null_resource/test/id",
		"name": "test",
	}, state)
	require.NoError(t, err)
	m, ok := result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "null-test", m["ref"])
	assert.Equal(t, "test", m["name"])

	// List resolution
	result, err = resolveReferences("null_resource.user", []any{
		"ptr://null_resource/test/id",
		"literal",
	}, state)
	require.NoError(t, err)
	list, ok := result.([]any)
	require.True(t, ok)
	assert.Equal(t, "null-test", list[0])
	assert.Equal(t, "literal", list[1])
}

func TestApplyPlan_ResolveReferencesMissingAttribute(t *testing.T) {
	state := &ir.State{
		Resources: []*ir.ResourceState{
			{
				Type:     "null_resource",
				Name:     "test",
				Provider: "null",
				Outputs:  map[string]any{"id": "null-test"},
			},
		},
	}

	_, err := resolveReferences("null_resource.user", "ptr://null_resource/test/port", state)
	var attrErr *UnresolvedAttributeError
	require.ErrorAs(t, err, &attrErr)
	assert.Equal(t, "null_resource.user", attrErr.Address)
	assert.Equal(t, "null_resource.test", attrErr.Target)
	assert.Equal(t, "port", attrErr.Attribute)
	assert.True(t, attrErr.InState)

	// A reference to a resource with no applied state at all also fails.
	_, err = resolveReferences("null_resource.user", "ptr://null_resource/ghost/id", state)
	require.ErrorAs(t, err, &attrErr)
	assert.Equal(t, "null_resource.ghost", attrErr.Target)
	assert.False(t, attrErr.InState)
}

func TestApplyPlan_MissingAttributeFailsResource(t *testing.T) {
	fake := newFakeProvider()
	reg := provider.NewRegistry()
	reg.Register("fake", fake)

	eng := NewEngine(reg)
	ctx := context.Background()

	plan := &ir.Plan{
		Changes: []*ir.ResourceChange{
			{
				Address: "fake.user",
				Action:  "create",
				Desired: &ir.Resource{
					Type:     "fake",
					Name:     "user",
					Provider: "fake",
					Properties: map[string]any{
						"endpoint": "ptr://fake/base/port",
					},
				},
			},
		},
		Summary: &ir.PlanSummary{Create: 1},
		Outputs: map[string]any{},
	}

	state := &ir.State{
		Version: 1,
		Resources: []*ir.ResourceState{
			{
				Type:     "fake",
				Name:     "base",
				Provider: "fake",
				Outputs:  map[string]any{"id": "fake-base"},
			},
		},
	}

	_, report, err := eng.ApplyPlan(ctx, plan, state)
	require.Error(t, err)

	var attrErr *UnresolvedAttributeError
	require.ErrorAs(t, err, &attrErr)
	assert.Equal(t, "fake.user", attrErr.Address)
	assert.Equal(t, "port", attrErr.Attribute)

	// The provider never saw the raw reference string.
	assert.NotContains(t, fake.applied, "user")
	assert.Equal(t, ir.ResultFailed, report.Outcome("fake.user").Outcome)
}

func TestApplyPlan_DeleteOrderFollowsStateDependencies(t *testing.T) {
	fake := newFakeProvider()
	fake.deleteDelayOn["dependent"] = 150 * time.Millisecond

	reg := provider.NewRegistry()
	reg.Register("fake", fake)

	eng := NewEngine(reg)
	ctx := context.Background()

	state := &ir.State{
		Version: 1,
		Resources: []*ir.ResourceState{
			{
				Type:     "fake",
				Name:     "base",
				Provider: "fake",
				Outputs:  map[string]any{"id": "fake-base"},
			},
			{
				Type:         "fake",
				Name:         "dependent",
				Provider:     "fake",
				Outputs:      map[string]any{"id": "fake-dependent"},
				Dependencies: []string{"fake.base"},
			},
		},
	}

	// Empty config: everything in state is planned for deletion.
	plan, err := eng.CreatePlan(ctx, &ir.Config{}, state)
	require.NoError(t, err)
	require.Len(t, plan.Changes, 2)
	assert.Equal(t, "fake.dependent", plan.Changes[0].Address)
	assert.Equal(t, "fake.base", plan.Changes[1].Address)

	// Even with the dependent's delete running slow, the base must not be
	// destroyed until the dependent is gone.
	newState, _, err := eng.ApplyPlan(ctx, plan, state)
	require.NoError(t, err)
	assert.Len(t, newState.Resources, 0)
	require.Equal(t, []string{"dependent", "base"}, fake.deleted)
}

func TestApplyPlan_RecordsImplicitDependencies(t *testing.T) {
	fake := newFakeProvider()
	reg := provider.NewRegistry()
	reg.Register("fake", fake)

	eng := NewEngine(reg)
	ctx := context.Background()

	plan := &ir.Plan{
		Changes: []*ir.ResourceChange{
			{
				Address: "fake.base",
				Action:  "create",
				Desired: &ir.Resource{
					Type:       "fake",
					Name:       "base",
					Provider:   "fake",
					Properties: map[string]any{},
				},
			},
			{
				Address: "fake.dependent",
				Action:  "create",
				Desired: &ir.Resource{
					Type:      "fake",
					Name:      "dependent",
					Provider:  "fake",
					DependsOn: []string{"fake.base"},
					Properties: map[string]any{
						"link": "ptr://fake/other/id",
					},
				},
			},
			{
				Address: "fake.other",
				Action:  "create",
				Desired: &ir.Resource{
					Type:       "fake",
					Name:       "other",
					Provider:   "fake",
					Properties: map[string]any{},
				},
			},
		},
		Summary: &ir.PlanSummary{Create: 3},
		Outputs: map[string]any{},
	}

	newState, _, err := eng.ApplyPlan(ctx, plan, &ir.State{Version: 1})
	require.NoError(t, err)

	var dep *ir.ResourceState
	for _, rs := range newState.Resources {
		if rs.Name == "dependent" {
			dep = rs
		}
	}
	require.NotNil(t, dep)
	// Both the explicit dependsOn and the ptr:// reference are recorded, so
	// destroy ordering works without the original config.
	assert.Equal(t, []string{"fake.base", "fake.other"}, dep.Dependencies)
}

func TestApplyPlan_UnrelatedBranchesProceed(t *testing.T) {
	fake := newFakeProvider()
	fake.failOn["bad"] = errors.New("invalid argument")
	fake.applyDelayOn["root"] = 100 * time.Millisecond

	reg := provider.NewRegistry()
	reg.Register("fake", fake)

	eng := NewEngine(reg)
	// ContinueOnError stays false: a failure must only poison its own
	// downstream branch.
	ctx := context.Background()

	plan := &ir.Plan{
		Changes: []*ir.ResourceChange{
			{
				Address: "fake.bad",
				Action:  "create",
				Desired: &ir.Resource{
					Type:       "fake",
					Name:       "bad",
					Provider:   "fake",
					Properties: map[string]any{},
				},
			},
			{
				Address: "fake.root",
				Action:  "create",
				Desired: &ir.Resource{
					Type:       "fake",
					Name:       "root",
					Provider:   "fake",
					Properties: map[string]any{},
				},
			},
			{
				Address: "fake.child",
				Action:  "create",
				Desired: &ir.Resource{
					Type:       "fake",
					Name:       "child",
					Provider:   "fake",
					DependsOn:  []string{"fake.root"},
					Properties: map[string]any{},
				},
			},
		},
		Summary: &ir.PlanSummary{Create: 3},
		Outputs: map[string]any{},
	}

	_, report, err := eng.ApplyPlan(ctx, plan, &ir.State{Version: 1})
	require.Error(t, err)

	// The failure in fake.bad does not stop the unrelated root -> child
	// branch, even though child had not started when bad failed.
	assert.Contains(t, fake.applied, "root")
	assert.Contains(t, fake.applied, "child")
	assert.Equal(t, ir.ResultFailed, report.Outcome("fake.bad").Outcome)
	assert.Equal(t, ir.ResultCreated, report.Outcome("fake.root").Outcome)
	assert.Equal(t, ir.ResultCreated, report.Outcome("fake.child").Outcome)
}
