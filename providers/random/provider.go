// Package random implements an in-process provider for generated secrets.
// A random:Password is generated once and kept stable across re-applies
// until its keepers change, which forces a replacement.
package random

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"

	sdk "github.com/alloyform-io/alloyform/pkg/provider"
)

const (
	defaultLength = 24

	lowerChars   = "abcdefghijklmnopqrstuvwxyz"
	upperChars   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	numericChars = "0123456789"
	specialChars = "!@#$%&*()-_=+[]{}<>:?"
)

type Provider struct{}

func New() *Provider {
	return &Provider{}
}

type passwordConfig struct {
	Length  int               `json:"length"`
	Special bool              `json:"special"`
	Keepers map[string]string `json:"keepers"`
}

type passwordState struct {
	ID      string            `json:"id"`
	Result  string            `json:"result"`
	Length  int               `json:"length"`
	Special bool              `json:"special"`
	Keepers map[string]string `json:"keepers"`
}

func (p *Provider) GetSchema(ctx context.Context, req *sdk.SchemaRequest) (*sdk.SchemaResponse, error) {
	return &sdk.SchemaResponse{
		ProviderName:    "random",
		ProviderVersion: "1.0.0",
		ResourceTypes:   []string{"random:Password"},
	}, nil
}

func (p *Provider) Configure(ctx context.Context, req *sdk.ConfigureRequest) (*sdk.ConfigureResponse, error) {
	return &sdk.ConfigureResponse{}, nil
}

func (p *Provider) Plan(ctx context.Context, req *sdk.PlanRequest) (*sdk.PlanResponse, error) {
	if req.ResourceType != "random:Password" {
		return nil, fmt.Errorf("unsupported resource type: %s", req.ResourceType)
	}

	var desired passwordConfig
	if err := json.Unmarshal(req.DesiredConfigJson, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}

	if len(req.PriorStateJson) == 0 {
		return &sdk.PlanResponse{Action: sdk.ActionCreate}, nil
	}

	var prior passwordState
	if err := json.Unmarshal(req.PriorStateJson, &prior); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
	}

	var changes []string
	if !mapsEqual(desired.Keepers, prior.Keepers) {
		changes = append(changes, "keepers")
	}
	if desired.Length != 0 && desired.Length != prior.Length {
		changes = append(changes, "length")
	}
	if len(changes) > 0 {
		return &sdk.PlanResponse{
			Action:            sdk.ActionReplace,
			ChangedAttributes: changes,
			RequiresReplace:   true,
		}, nil
	}

	return &sdk.PlanResponse{Action: sdk.ActionNoop}, nil
}

func (p *Provider) Apply(ctx context.Context, req *sdk.ApplyRequest) (*sdk.ApplyResponse, error) {
	var desired passwordConfig
	if err := json.Unmarshal(req.DesiredConfigJson, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	length := desired.Length
	if length <= 0 {
		length = defaultLength
	}

	result, err := generate(length, desired.Special)
	if err != nil {
		return nil, fmt.Errorf("failed to generate password: %w", err)
	}

	state := passwordState{
		ID:      fmt.Sprintf("random-%s", req.ResourceName),
		Result:  result,
		Length:  length,
		Special: desired.Special,
		Keepers: desired.Keepers,
	}
	stateBytes, _ := json.Marshal(state)

	return &sdk.ApplyResponse{NewStateJson: stateBytes}, nil
}

func (p *Provider) Read(ctx context.Context, req *sdk.ReadRequest) (*sdk.ReadResponse, error) {
	// The secret only exists in state.
	return &sdk.ReadResponse{
		Exists:           len(req.PriorStateJson) > 0,
		CurrentStateJson: req.PriorStateJson,
	}, nil
}

func (p *Provider) Delete(ctx context.Context, req *sdk.DeleteRequest) (*sdk.DeleteResponse, error) {
	return &sdk.DeleteResponse{}, nil
}

func generate(length int, special bool) (string, error) {
	charset := lowerChars + upperChars + numericChars
	if special {
		charset += specialChars
	}

	out := make([]byte, length)
	max := big.NewInt(int64(len(charset)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = charset[n.Int64()]
	}
	return string(out), nil
}

func mapsEqual(a, b map[string]string) bool {
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
