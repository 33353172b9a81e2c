package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/api/compute/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/servicenetworking/v1"

	sdk "github.com/alloyform-io/alloyform/pkg/provider"
)

type NetworkConfig struct {
	Project               string `json:"project"`
	Name                  string `json:"name"`
	AutoCreateSubnetworks bool   `json:"autoCreateSubnetworks"`
}

type NetworkState struct {
	NetworkConfig
	ID       string `json:"id"`
	SelfLink string `json:"selfLink"`
}

type SubnetworkConfig struct {
	Project               string `json:"project"`
	Region                string `json:"region"`
	Name                  string `json:"name"`
	Network               string `json:"network"` // network self link
	IpCidrRange           string `json:"ipCidrRange"`
	PrivateIpGoogleAccess bool   `json:"privateIpGoogleAccess"`
}

type SubnetworkState struct {
	SubnetworkConfig
	ID       string `json:"id"`
	SelfLink string `json:"selfLink"`
}

type GlobalAddressConfig struct {
	Project      string `json:"project"`
	Name         string `json:"name"`
	Network      string `json:"network"`
	PrefixLength int64  `json:"prefixLength"`
}

type GlobalAddressState struct {
	GlobalAddressConfig
	ID       string `json:"id"`
	Address  string `json:"address"`
	SelfLink string `json:"selfLink"`
}

type ConnectionConfig struct {
	Project               string   `json:"project"`
	Network               string   `json:"network"` // network self link or name
	Service               string   `json:"service"` // defaults to servicenetworking.googleapis.com
	ReservedPeeringRanges []string `json:"reservedPeeringRanges"`
}

type ConnectionState struct {
	ConnectionConfig
	Peering string `json:"peering"`
}

func (p *Provider) applyNetwork(ctx context.Context, req *sdk.ApplyRequest) (*sdk.ApplyResponse, error) {
	var desired NetworkConfig
	if err := json.Unmarshal(req.DesiredConfigJson, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired: %w", err)
	}

	// Replacement: drop the prior network before recreating.
	if len(req.PriorStateJson) > 0 {
		var prior NetworkState
		if err := json.Unmarshal(req.PriorStateJson, &prior); err == nil && prior.Name != desired.Name {
			if _, err := p.deleteNetwork(ctx, &sdk.DeleteRequest{PriorStateJson: req.PriorStateJson}); err != nil {
				return nil, err
			}
		}
	}

	network := &compute.Network{
		Name:                  desired.Name,
		AutoCreateSubnetworks: desired.AutoCreateSubnetworks,
		ForceSendFields:       []string{"AutoCreateSubnetworks"},
	}
	op, err := p.computeClient.Networks.Insert(desired.Project, network).Context(ctx).Do()
	if err != nil {
		if !isAlreadyExists(err) {
			return nil, fmt.Errorf("failed to create network: %w", err)
		}
	} else if err := p.waitGlobalOp(ctx, desired.Project, op.Name); err != nil {
		return nil, err
	}

	created, err := p.computeClient.Networks.Get(desired.Project, desired.Name).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get network: %w", err)
	}

	state := NetworkState{
		NetworkConfig: desired,
		ID:            fmt.Sprintf("%d", created.Id),
		SelfLink:      created.SelfLink,
	}
	stateJSON, _ := json.Marshal(state)
	return &sdk.ApplyResponse{NewStateJson: stateJSON}, nil
}

func (p *Provider) readNetwork(ctx context.Context, req *sdk.ReadRequest) (*sdk.ReadResponse, error) {
	var prior NetworkState
	if err := json.Unmarshal(req.PriorStateJson, &prior); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
	}
	if prior.Name == "" {
		prior.Name = req.ResourceName
	}

	got, err := p.computeClient.Networks.Get(prior.Project, prior.Name).Context(ctx).Do()
	if err != nil {
		if isNotFound(err) {
			return &sdk.ReadResponse{Exists: false}, nil
		}
		return nil, fmt.Errorf("failed to read network: %w", err)
	}

	prior.ID = fmt.Sprintf("%d", got.Id)
	prior.SelfLink = got.SelfLink
	stateJSON, _ := json.Marshal(prior)
	return &sdk.ReadResponse{Exists: true, CurrentStateJson: stateJSON}, nil
}

func (p *Provider) deleteNetwork(ctx context.Context, req *sdk.DeleteRequest) (*sdk.DeleteResponse, error) {
	var prior NetworkState
	if err := json.Unmarshal(req.PriorStateJson, &prior); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
	}
	if prior.Name == "" {
		return &sdk.DeleteResponse{}, nil
	}

	op, err := p.computeClient.Networks.Delete(prior.Project, prior.Name).Context(ctx).Do()
	if err != nil {
		if isNotFound(err) {
			return &sdk.DeleteResponse{}, nil
		}
		return nil, fmt.Errorf("failed to delete network: %w", err)
	}
	if err := p.waitGlobalOp(ctx, prior.Project, op.Name); err != nil {
		return nil, err
	}
	return &sdk.DeleteResponse{}, nil
}

func (p *Provider) applySubnetwork(ctx context.Context, req *sdk.ApplyRequest) (*sdk.ApplyResponse, error) {
	var desired SubnetworkConfig
	if err := json.Unmarshal(req.DesiredConfigJson, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired: %w", err)
	}

	subnet := &compute.Subnetwork{
		Name:                  desired.Name,
		Network:               desired.Network,
		IpCidrRange:           desired.IpCidrRange,
		PrivateIpGoogleAccess: desired.PrivateIpGoogleAccess,
	}
	op, err := p.computeClient.Subnetworks.Insert(desired.Project, desired.Region, subnet).Context(ctx).Do()
	if err != nil {
		if !isAlreadyExists(err) {
			return nil, fmt.Errorf("failed to create subnetwork: %w", err)
		}
	} else if err := p.waitRegionOp(ctx, desired.Project, desired.Region, op.Name); err != nil {
		return nil, err
	}

	created, err := p.computeClient.Subnetworks.Get(desired.Project, desired.Region, desired.Name).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get subnetwork: %w", err)
	}

	state := SubnetworkState{
		SubnetworkConfig: desired,
		ID:               fmt.Sprintf("%d", created.Id),
		SelfLink:         created.SelfLink,
	}
	stateJSON, _ := json.Marshal(state)
	return &sdk.ApplyResponse{NewStateJson: stateJSON}, nil
}

func (p *Provider) readSubnetwork(ctx context.Context, req *sdk.ReadRequest) (*sdk.ReadResponse, error) {
	var prior SubnetworkState
	if err := json.Unmarshal(req.PriorStateJson, &prior); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
	}

	got, err := p.computeClient.Subnetworks.Get(prior.Project, prior.Region, prior.Name).Context(ctx).Do()
	if err != nil {
		if isNotFound(err) {
			return &sdk.ReadResponse{Exists: false}, nil
		}
		return nil, fmt.Errorf("failed to read subnetwork: %w", err)
	}

	prior.ID = fmt.Sprintf("%d", got.Id)
	prior.SelfLink = got.SelfLink
	prior.IpCidrRange = got.IpCidrRange
	stateJSON, _ := json.Marshal(prior)
	return &sdk.ReadResponse{Exists: true, CurrentStateJson: stateJSON}, nil
}

func (p *Provider) deleteSubnetwork(ctx context.Context, req *sdk.DeleteRequest) (*sdk.DeleteResponse, error) {
	var prior SubnetworkState
	if err := json.Unmarshal(req.PriorStateJson, &prior); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
	}
	if prior.Name == "" {
		return &sdk.DeleteResponse{}, nil
	}

	op, err := p.computeClient.Subnetworks.Delete(prior.Project, prior.Region, prior.Name).Context(ctx).Do()
	if err != nil {
		if isNotFound(err) {
			return &sdk.DeleteResponse{}, nil
		}
		return nil, fmt.Errorf("failed to delete subnetwork: %w", err)
	}
	if err := p.waitRegionOp(ctx, prior.Project, prior.Region, op.Name); err != nil {
		return nil, err
	}
	return &sdk.DeleteResponse{}, nil
}

func (p *Provider) applyGlobalAddress(ctx context.Context, req *sdk.ApplyRequest) (*sdk.ApplyResponse, error) {
	var desired GlobalAddressConfig
	if err := json.Unmarshal(req.DesiredConfigJson, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired: %w", err)
	}

	prefixLength := desired.PrefixLength
	if prefixLength == 0 {
		prefixLength = 16
	}

	// Reserved internal range for VPC peering (private service access).
	addr := &compute.Address{
		Name:         desired.Name,
		Purpose:      "VPC_PEERING",
		AddressType:  "INTERNAL",
		PrefixLength: prefixLength,
		Network:      desired.Network,
	}
	op, err := p.computeClient.GlobalAddresses.Insert(desired.Project, addr).Context(ctx).Do()
	if err != nil {
		if !isAlreadyExists(err) {
			return nil, fmt.Errorf("failed to create global address: %w", err)
		}
	} else if err := p.waitGlobalOp(ctx, desired.Project, op.Name); err != nil {
		return nil, err
	}

	created, err := p.computeClient.GlobalAddresses.Get(desired.Project, desired.Name).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get global address: %w", err)
	}

	state := GlobalAddressState{
		GlobalAddressConfig: desired,
		ID:                  fmt.Sprintf("%d", created.Id),
		Address:             created.Address,
		SelfLink:            created.SelfLink,
	}
	state.PrefixLength = prefixLength
	stateJSON, _ := json.Marshal(state)
	return &sdk.ApplyResponse{NewStateJson: stateJSON}, nil
}

func (p *Provider) readGlobalAddress(ctx context.Context, req *sdk.ReadRequest) (*sdk.ReadResponse, error) {
	var prior GlobalAddressState
	if err := json.Unmarshal(req.PriorStateJson, &prior); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
	}

	got, err := p.computeClient.GlobalAddresses.Get(prior.Project, prior.Name).Context(ctx).Do()
	if err != nil {
		if isNotFound(err) {
			return &sdk.ReadResponse{Exists: false}, nil
		}
		return nil, fmt.Errorf("failed to read global address: %w", err)
	}

	prior.Address = got.Address
	prior.SelfLink = got.SelfLink
	stateJSON, _ := json.Marshal(prior)
	return &sdk.ReadResponse{Exists: true, CurrentStateJson: stateJSON}, nil
}

func (p *Provider) deleteGlobalAddress(ctx context.Context, req *sdk.DeleteRequest) (*sdk.DeleteResponse, error) {
	var prior GlobalAddressState
	if err := json.Unmarshal(req.PriorStateJson, &prior); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
	}
	if prior.Name == "" {
		return &sdk.DeleteResponse{}, nil
	}

	op, err := p.computeClient.GlobalAddresses.Delete(prior.Project, prior.Name).Context(ctx).Do()
	if err != nil {
		if isNotFound(err) {
			return &sdk.DeleteResponse{}, nil
		}
		return nil, fmt.Errorf("failed to delete global address: %w", err)
	}
	if err := p.waitGlobalOp(ctx, prior.Project, op.Name); err != nil {
		return nil, err
	}
	return &sdk.DeleteResponse{}, nil
}

const defaultPeeringService = "servicenetworking.googleapis.com"

func (p *Provider) applyConnection(ctx context.Context, req *sdk.ApplyRequest) (*sdk.ApplyResponse, error) {
	var desired ConnectionConfig
	if err := json.Unmarshal(req.DesiredConfigJson, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired: %w", err)
	}
	if desired.Service == "" {
		desired.Service = defaultPeeringService
	}

	conn := &servicenetworking.Connection{
		Network:               networkURL(desired.Project, desired.Network),
		ReservedPeeringRanges: desired.ReservedPeeringRanges,
	}
	op, err := p.svcnetClient.Services.Connections.Create("services/"+desired.Service, conn).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to create service networking connection: %w", err)
	}
	if err := p.waitServiceNetworkingOp(ctx, op.Name); err != nil {
		return nil, err
	}

	state := ConnectionState{
		ConnectionConfig: desired,
		Peering:          "servicenetworking-googleapis-com",
	}
	stateJSON, _ := json.Marshal(state)
	return &sdk.ApplyResponse{NewStateJson: stateJSON}, nil
}

func (p *Provider) readConnection(ctx context.Context, req *sdk.ReadRequest) (*sdk.ReadResponse, error) {
	var prior ConnectionState
	if err := json.Unmarshal(req.PriorStateJson, &prior); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
	}
	if prior.Service == "" {
		prior.Service = defaultPeeringService
	}

	list, err := p.svcnetClient.Services.Connections.List("services/" + prior.Service).
		Network(networkURL(prior.Project, prior.Network)).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	if len(list.Connections) == 0 {
		return &sdk.ReadResponse{Exists: false}, nil
	}

	prior.ReservedPeeringRanges = list.Connections[0].ReservedPeeringRanges
	prior.Peering = list.Connections[0].Peering
	stateJSON, _ := json.Marshal(prior)
	return &sdk.ReadResponse{Exists: true, CurrentStateJson: stateJSON}, nil
}

func (p *Provider) deleteConnection(ctx context.Context, req *sdk.DeleteRequest) (*sdk.DeleteResponse, error) {
	var prior ConnectionState
	if err := json.Unmarshal(req.PriorStateJson, &prior); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
	}
	if prior.Service == "" {
		prior.Service = defaultPeeringService
	}

	name := fmt.Sprintf("services/%s/connections/%s", prior.Service, "servicenetworking-googleapis-com")
	op, err := p.svcnetClient.Services.Connections.DeleteConnection(name, &servicenetworking.DeleteConnectionRequest{
		ConsumerNetwork: networkURL(prior.Project, prior.Network),
	}).Context(ctx).Do()
	if err != nil {
		if isNotFound(err) {
			return &sdk.DeleteResponse{}, nil
		}
		return nil, fmt.Errorf("failed to delete connection: %w", err)
	}
	if err := p.waitServiceNetworkingOp(ctx, op.Name); err != nil {
		return nil, err
	}
	return &sdk.DeleteResponse{}, nil
}

// networkURL normalizes a network name or self link into the
// projects/{p}/global/networks/{n} form the peering API expects.
func networkURL(project, network string) string {
	if strings.Contains(network, "/") {
		if i := strings.Index(network, "projects/"); i >= 0 {
			return network[i:]
		}
		return network
	}
	return fmt.Sprintf("projects/%s/global/networks/%s", project, network)
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == 404
}

func isAlreadyExists(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == 409
}
