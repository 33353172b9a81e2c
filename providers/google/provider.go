// Package google implements an in-process provider for the Google Cloud
// resources behind an AlloyDB deployment: VPC networking, private service
// access, service accounts, project IAM bindings, and AlloyDB
// cluster/instance/user resources.
package google

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"google.golang.org/api/alloydb/v1"
	"google.golang.org/api/cloudresourcemanager/v1"
	"google.golang.org/api/compute/v1"
	"google.golang.org/api/iam/v1"
	"google.golang.org/api/servicenetworking/v1"

	sdk "github.com/alloyform-io/alloyform/pkg/provider"
)

const pollInterval = 10 * time.Second

type Provider struct {
	mu      sync.Mutex
	project string
	region  string

	computeClient *compute.Service
	iamClient     *iam.Service
	crmClient     *cloudresourcemanager.Service
	svcnetClient  *servicenetworking.APIService
	alloydbClient *alloydb.Service
}

func New() *Provider {
	return &Provider{}
}

type providerConfig struct {
	Project string `json:"project"`
	Region  string `json:"region"`
}

func (p *Provider) ensureClients(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.computeClient != nil {
		return nil
	}

	var err error
	if p.computeClient, err = compute.NewService(ctx); err != nil {
		return fmt.Errorf("failed to create compute client: %w", err)
	}
	if p.iamClient, err = iam.NewService(ctx); err != nil {
		return fmt.Errorf("failed to create iam client: %w", err)
	}
	if p.crmClient, err = cloudresourcemanager.NewService(ctx); err != nil {
		return fmt.Errorf("failed to create resourcemanager client: %w", err)
	}
	if p.svcnetClient, err = servicenetworking.NewService(ctx); err != nil {
		return fmt.Errorf("failed to create servicenetworking client: %w", err)
	}
	if p.alloydbClient, err = alloydb.NewService(ctx); err != nil {
		return fmt.Errorf("failed to create alloydb client: %w", err)
	}
	return nil
}

func (p *Provider) GetSchema(ctx context.Context, req *sdk.SchemaRequest) (*sdk.SchemaResponse, error) {
	return &sdk.SchemaResponse{
		ProviderName:    "google",
		ProviderVersion: "1.0.0",
		ResourceTypes: []string{
			"google:Compute.Network",
			"google:Compute.Subnetwork",
			"google:Compute.GlobalAddress",
			"google:ServiceNetworking.Connection",
			"google:IAM.ServiceAccount",
			"google:Project.IAMMember",
			"google:AlloyDB.Cluster",
			"google:AlloyDB.Instance",
			"google:AlloyDB.User",
		},
	}, nil
}

func (p *Provider) Configure(ctx context.Context, req *sdk.ConfigureRequest) (*sdk.ConfigureResponse, error) {
	var cfg providerConfig
	if len(req.ConfigJson) > 0 {
		if err := json.Unmarshal(req.ConfigJson, &cfg); err != nil {
			return &sdk.ConfigureResponse{
				Diagnostics: []string{fmt.Sprintf("invalid provider config: %v", err)},
			}, nil
		}
	}

	p.mu.Lock()
	p.project = cfg.Project
	if cfg.Region != "" {
		p.region = cfg.Region
	} else if p.region == "" {
		p.region = "us-central1"
	}
	p.mu.Unlock()

	if err := p.ensureClients(ctx); err != nil {
		return &sdk.ConfigureResponse{
			Diagnostics: []string{fmt.Sprintf("failed to initialize clients: %v", err)},
		}, nil
	}
	return &sdk.ConfigureResponse{}, nil
}

// immutableAttrs maps resource types to the attributes that force
// replacement when changed.
var immutableAttrs = map[string]map[string]bool{
	"google:Compute.Network":              {"name": true, "project": true, "autoCreateSubnetworks": true},
	"google:Compute.Subnetwork":           {"name": true, "project": true, "region": true, "network": true, "ipCidrRange": true},
	"google:Compute.GlobalAddress":        {"name": true, "project": true, "network": true, "prefixLength": true},
	"google:ServiceNetworking.Connection": {"network": true, "service": true},
	"google:IAM.ServiceAccount":           {"accountId": true, "project": true},
	"google:Project.IAMMember":            {"project": true, "role": true, "member": true},
	"google:AlloyDB.Cluster":              {"clusterId": true, "project": true, "region": true, "network": true},
	"google:AlloyDB.Instance":             {"instanceId": true, "cluster": true, "instanceType": true},
	"google:AlloyDB.User":                 {"userId": true, "cluster": true, "userType": true},
}

// Plan diffs desired config against the config echoed into prior state.
// Changed immutable attributes force replacement, anything else updates.
func (p *Provider) Plan(ctx context.Context, req *sdk.PlanRequest) (*sdk.PlanResponse, error) {
	immutable, ok := immutableAttrs[req.ResourceType]
	if !ok {
		return nil, fmt.Errorf("unsupported resource type: %s", req.ResourceType)
	}

	if req.DesiredConfigJson == nil && req.PriorStateJson != nil {
		return &sdk.PlanResponse{Action: sdk.ActionDelete}, nil
	}
	if req.PriorStateJson == nil {
		return &sdk.PlanResponse{Action: sdk.ActionCreate}, nil
	}

	var desired, prior map[string]any
	if err := json.Unmarshal(req.DesiredConfigJson, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}
	if err := json.Unmarshal(req.PriorStateJson, &prior); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
	}

	var changed []string
	replace := false
	for k, dv := range desired {
		pv, inPrior := prior[k]
		if !inPrior && isZeroValue(dv) {
			continue
		}
		if fmt.Sprintf("%v", dv) != fmt.Sprintf("%v", pv) {
			changed = append(changed, k)
			if immutable[k] {
				replace = true
			}
		}
	}

	if len(changed) == 0 {
		return &sdk.PlanResponse{Action: sdk.ActionNoop}, nil
	}
	action := sdk.ActionUpdate
	if replace {
		action = sdk.ActionReplace
	}
	return &sdk.PlanResponse{
		Action:            action,
		ChangedAttributes: changed,
		RequiresReplace:   replace,
	}, nil
}

func (p *Provider) Apply(ctx context.Context, req *sdk.ApplyRequest) (*sdk.ApplyResponse, error) {
	if err := p.ensureClients(ctx); err != nil {
		return nil, err
	}

	switch req.ResourceType {
	case "google:Compute.Network":
		return p.applyNetwork(ctx, req)
	case "google:Compute.Subnetwork":
		return p.applySubnetwork(ctx, req)
	case "google:Compute.GlobalAddress":
		return p.applyGlobalAddress(ctx, req)
	case "google:ServiceNetworking.Connection":
		return p.applyConnection(ctx, req)
	case "google:IAM.ServiceAccount":
		return p.applyServiceAccount(ctx, req)
	case "google:Project.IAMMember":
		return p.applyIAMMember(ctx, req)
	case "google:AlloyDB.Cluster":
		return p.applyCluster(ctx, req)
	case "google:AlloyDB.Instance":
		return p.applyInstance(ctx, req)
	case "google:AlloyDB.User":
		return p.applyUser(ctx, req)
	}
	return nil, fmt.Errorf("unsupported resource type: %s", req.ResourceType)
}

func (p *Provider) Read(ctx context.Context, req *sdk.ReadRequest) (*sdk.ReadResponse, error) {
	if err := p.ensureClients(ctx); err != nil {
		return nil, err
	}

	switch req.ResourceType {
	case "google:Compute.Network":
		return p.readNetwork(ctx, req)
	case "google:Compute.Subnetwork":
		return p.readSubnetwork(ctx, req)
	case "google:Compute.GlobalAddress":
		return p.readGlobalAddress(ctx, req)
	case "google:ServiceNetworking.Connection":
		return p.readConnection(ctx, req)
	case "google:IAM.ServiceAccount":
		return p.readServiceAccount(ctx, req)
	case "google:Project.IAMMember":
		return p.readIAMMember(ctx, req)
	case "google:AlloyDB.Cluster":
		return p.readCluster(ctx, req)
	case "google:AlloyDB.Instance":
		return p.readInstance(ctx, req)
	case "google:AlloyDB.User":
		return p.readUser(ctx, req)
	}
	return nil, fmt.Errorf("unsupported resource type: %s", req.ResourceType)
}

func (p *Provider) Delete(ctx context.Context, req *sdk.DeleteRequest) (*sdk.DeleteResponse, error) {
	if err := p.ensureClients(ctx); err != nil {
		return nil, err
	}

	switch req.ResourceType {
	case "google:Compute.Network":
		return p.deleteNetwork(ctx, req)
	case "google:Compute.Subnetwork":
		return p.deleteSubnetwork(ctx, req)
	case "google:Compute.GlobalAddress":
		return p.deleteGlobalAddress(ctx, req)
	case "google:ServiceNetworking.Connection":
		return p.deleteConnection(ctx, req)
	case "google:IAM.ServiceAccount":
		return p.deleteServiceAccount(ctx, req)
	case "google:Project.IAMMember":
		return p.deleteIAMMember(ctx, req)
	case "google:AlloyDB.Cluster":
		return p.deleteCluster(ctx, req)
	case "google:AlloyDB.Instance":
		return p.deleteInstance(ctx, req)
	case "google:AlloyDB.User":
		return p.deleteUser(ctx, req)
	}
	return nil, fmt.Errorf("unsupported resource type: %s", req.ResourceType)
}

func isZeroValue(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case bool:
		return !val
	case float64:
		return val == 0
	case map[string]any:
		return len(val) == 0
	case []any:
		return len(val) == 0
	}
	return false
}

// waitGlobalOp polls a global compute operation until it is done.
func (p *Provider) waitGlobalOp(ctx context.Context, project, opName string) error {
	for {
		op, err := p.computeClient.GlobalOperations.Wait(project, opName).Context(ctx).Do()
		if err != nil {
			return err
		}
		if op.Status == "DONE" {
			if op.Error != nil && len(op.Error.Errors) > 0 {
				return fmt.Errorf("operation %s failed: %s", opName, op.Error.Errors[0].Message)
			}
			return nil
		}
		if err := sleepCtx(ctx, pollInterval); err != nil {
			return err
		}
	}
}

// waitRegionOp polls a regional compute operation until it is done.
func (p *Provider) waitRegionOp(ctx context.Context, project, region, opName string) error {
	for {
		op, err := p.computeClient.RegionOperations.Wait(project, region, opName).Context(ctx).Do()
		if err != nil {
			return err
		}
		if op.Status == "DONE" {
			if op.Error != nil && len(op.Error.Errors) > 0 {
				return fmt.Errorf("operation %s failed: %s", opName, op.Error.Errors[0].Message)
			}
			return nil
		}
		if err := sleepCtx(ctx, pollInterval); err != nil {
			return err
		}
	}
}

// waitAlloyDBOp polls a long-running AlloyDB operation until it is done.
func (p *Provider) waitAlloyDBOp(ctx context.Context, opName string) error {
	for {
		op, err := p.alloydbClient.Projects.Locations.Operations.Get(opName).Context(ctx).Do()
		if err != nil {
			return err
		}
		if op.Done {
			if op.Error != nil {
				return fmt.Errorf("operation %s failed: %s", opName, op.Error.Message)
			}
			return nil
		}
		if err := sleepCtx(ctx, pollInterval); err != nil {
			return err
		}
	}
}

// waitServiceNetworkingOp polls a service networking operation until done.
func (p *Provider) waitServiceNetworkingOp(ctx context.Context, opName string) error {
	for {
		op, err := p.svcnetClient.Operations.Get(opName).Context(ctx).Do()
		if err != nil {
			return err
		}
		if op.Done {
			if op.Error != nil {
				return fmt.Errorf("operation %s failed: %s", opName, op.Error.Message)
			}
			return nil
		}
		if err := sleepCtx(ctx, pollInterval); err != nil {
			return err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
