// Package null implements a no-op provider whose resources exist only in
// state. It diffs a trigger map and is the conformance reference for the
// provider contract.
package null

import (
	"context"
	"encoding/json"
	"fmt"

	sdk "github.com/alloyform-io/alloyform/pkg/provider"
)

type Provider struct{}

func New() *Provider {
	return &Provider{}
}

func (p *Provider) GetSchema(ctx context.Context, req *sdk.SchemaRequest) (*sdk.SchemaResponse, error) {
	return &sdk.SchemaResponse{
		ProviderName:    "null",
		ProviderVersion: "1.0.0",
		ResourceTypes:   []string{"null_resource"},
	}, nil
}

func (p *Provider) Configure(ctx context.Context, req *sdk.ConfigureRequest) (*sdk.ConfigureResponse, error) {
	return &sdk.ConfigureResponse{}, nil
}

func (p *Provider) Plan(ctx context.Context, req *sdk.PlanRequest) (*sdk.PlanResponse, error) {
	var desired Config
	if err := json.Unmarshal(req.DesiredConfigJson, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}

	var prior State
	if len(req.PriorStateJson) > 0 {
		if err := json.Unmarshal(req.PriorStateJson, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
		}
	}

	// If triggers changed, replace. If new, create. Deletes are driven by
	// the engine when the resource leaves the config.
	action := sdk.ActionNoop
	var changes []string

	if req.PriorStateJson == nil {
		action = sdk.ActionCreate
	} else if !equal(desired.Triggers, prior.Triggers) {
		action = sdk.ActionReplace
		changes = append(changes, "triggers")
	}

	return &sdk.PlanResponse{
		Action:            action,
		ChangedAttributes: changes,
		RequiresReplace:   action == sdk.ActionReplace,
	}, nil
}

func (p *Provider) Apply(ctx context.Context, req *sdk.ApplyRequest) (*sdk.ApplyResponse, error) {
	var desired Config
	if err := json.Unmarshal(req.DesiredConfigJson, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	state := State{
		ID:       fmt.Sprintf("null-%s", req.ResourceName),
		Triggers: desired.Triggers,
	}
	stateBytes, _ := json.Marshal(state)

	return &sdk.ApplyResponse{
		NewStateJson: stateBytes,
	}, nil
}

func (p *Provider) Read(ctx context.Context, req *sdk.ReadRequest) (*sdk.ReadResponse, error) {
	// Null resources have no remote side; whatever state says, stands.
	return &sdk.ReadResponse{
		Exists:           true,
		CurrentStateJson: req.PriorStateJson,
	}, nil
}

func (p *Provider) Delete(ctx context.Context, req *sdk.DeleteRequest) (*sdk.DeleteResponse, error) {
	return &sdk.DeleteResponse{}, nil
}

// Internal structs for JSON handling
type Config struct {
	Triggers map[string]string `json:"triggers"`
}

type State struct {
	ID       string            `json:"id"`
	Triggers map[string]string `json:"triggers"`
}

func equal(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}
