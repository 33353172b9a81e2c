package google

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/api/alloydb/v1"

	sdk "github.com/alloyform-io/alloyform/pkg/provider"
)

type ClusterConfig struct {
	Project         string `json:"project"`
	Region          string `json:"region"`
	ClusterID       string `json:"clusterId"`
	Network         string `json:"network"` // network name or self link
	InitialUser     string `json:"initialUser"`
	InitialPassword string `json:"initialPassword"`
	DatabaseVersion string `json:"databaseVersion"`
}

type ClusterState struct {
	ClusterConfig
	Name  string `json:"resourceName"` // projects/{p}/locations/{r}/clusters/{c}
	State string `json:"state"`
	UID   string `json:"uid"`
}

type InstanceConfig struct {
	Project       string            `json:"project"`
	Region        string            `json:"region"`
	Cluster       string            `json:"cluster"` // cluster id
	InstanceID    string            `json:"instanceId"`
	InstanceType  string            `json:"instanceType"` // PRIMARY or READ_POOL
	CpuCount      int64             `json:"cpuCount"`
	NodeCount     int64             `json:"nodeCount"` // read pool only
	DatabaseFlags map[string]string `json:"databaseFlags"`
}

type InstanceState struct {
	InstanceConfig
	Name      string `json:"resourceName"`
	IPAddress string `json:"ipAddress"`
	State     string `json:"state"`
	UID       string `json:"uid"`
}

type UserConfig struct {
	Project       string   `json:"project"`
	Region        string   `json:"region"`
	Cluster       string   `json:"cluster"`
	UserID        string   `json:"userId"`   // IAM email for IAM users
	UserType      string   `json:"userType"` // ALLOYDB_IAM_USER or ALLOYDB_BUILT_IN
	Password      string   `json:"password"`
	DatabaseRoles []string `json:"databaseRoles"`
}

type UserState struct {
	UserConfig
	Name string `json:"resourceName"`
}

func clusterParent(project, region string) string {
	return fmt.Sprintf("projects/%s/locations/%s", project, region)
}

func clusterName(project, region, clusterID string) string {
	return fmt.Sprintf("%s/clusters/%s", clusterParent(project, region), clusterID)
}

func (p *Provider) applyCluster(ctx context.Context, req *sdk.ApplyRequest) (*sdk.ApplyResponse, error) {
	var desired ClusterConfig
	if err := json.Unmarshal(req.DesiredConfigJson, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired: %w", err)
	}

	cluster := &alloydb.Cluster{
		NetworkConfig: &alloydb.NetworkConfig{
			Network: networkURL(desired.Project, desired.Network),
		},
	}
	if desired.DatabaseVersion != "" {
		cluster.DatabaseVersion = desired.DatabaseVersion
	}
	if desired.InitialUser != "" {
		cluster.InitialUser = &alloydb.UserPassword{
			User:     desired.InitialUser,
			Password: desired.InitialPassword,
		}
	}

	op, err := p.alloydbClient.Projects.Locations.Clusters.Create(clusterParent(desired.Project, desired.Region), cluster).
		ClusterId(desired.ClusterID).Context(ctx).Do()
	if err != nil {
		if !isAlreadyExists(err) {
			return nil, fmt.Errorf("failed to create cluster: %w", err)
		}
	} else if err := p.waitAlloyDBOp(ctx, op.Name); err != nil {
		return nil, err
	}

	created, err := p.alloydbClient.Projects.Locations.Clusters.Get(clusterName(desired.Project, desired.Region, desired.ClusterID)).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get cluster: %w", err)
	}

	state := ClusterState{
		ClusterConfig: desired,
		Name:          created.Name,
		State:         created.State,
		UID:           created.Uid,
	}
	// Never echo the bootstrap password back into state.
	state.InitialPassword = ""
	stateJSON, _ := json.Marshal(state)
	return &sdk.ApplyResponse{NewStateJson: stateJSON}, nil
}

func (p *Provider) readCluster(ctx context.Context, req *sdk.ReadRequest) (*sdk.ReadResponse, error) {
	var prior ClusterState
	if err := json.Unmarshal(req.PriorStateJson, &prior); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
	}

	name := prior.Name
	if name == "" {
		name = clusterName(prior.Project, prior.Region, prior.ClusterID)
	}

	got, err := p.alloydbClient.Projects.Locations.Clusters.Get(name).Context(ctx).Do()
	if err != nil {
		if isNotFound(err) {
			return &sdk.ReadResponse{Exists: false}, nil
		}
		return nil, fmt.Errorf("failed to read cluster: %w", err)
	}

	prior.Name = got.Name
	prior.State = got.State
	prior.UID = got.Uid
	stateJSON, _ := json.Marshal(prior)
	return &sdk.ReadResponse{Exists: true, CurrentStateJson: stateJSON}, nil
}

func (p *Provider) deleteCluster(ctx context.Context, req *sdk.DeleteRequest) (*sdk.DeleteResponse, error) {
	var prior ClusterState
	if err := json.Unmarshal(req.PriorStateJson, &prior); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
	}
	name := prior.Name
	if name == "" {
		if prior.ClusterID == "" {
			return &sdk.DeleteResponse{}, nil
		}
		name = clusterName(prior.Project, prior.Region, prior.ClusterID)
	}

	op, err := p.alloydbClient.Projects.Locations.Clusters.Delete(name).Force(true).Context(ctx).Do()
	if err != nil {
		if isNotFound(err) {
			return &sdk.DeleteResponse{}, nil
		}
		return nil, fmt.Errorf("failed to delete cluster: %w", err)
	}
	if err := p.waitAlloyDBOp(ctx, op.Name); err != nil {
		return nil, err
	}
	return &sdk.DeleteResponse{}, nil
}

func (p *Provider) applyInstance(ctx context.Context, req *sdk.ApplyRequest) (*sdk.ApplyResponse, error) {
	var desired InstanceConfig
	if err := json.Unmarshal(req.DesiredConfigJson, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired: %w", err)
	}

	instanceType := desired.InstanceType
	if instanceType == "" {
		instanceType = "PRIMARY"
	}

	instance := &alloydb.Instance{
		InstanceType:  instanceType,
		DatabaseFlags: desired.DatabaseFlags,
	}
	if desired.CpuCount > 0 {
		instance.MachineConfig = &alloydb.MachineConfig{CpuCount: desired.CpuCount}
	}
	if instanceType == "READ_POOL" {
		nodeCount := desired.NodeCount
		if nodeCount <= 0 {
			nodeCount = 1
		}
		instance.ReadPoolConfig = &alloydb.ReadPoolConfig{NodeCount: nodeCount}
	}

	parent := clusterName(desired.Project, desired.Region, desired.Cluster)
	instName := parent + "/instances/" + desired.InstanceID

	op, err := p.alloydbClient.Projects.Locations.Clusters.Instances.Create(parent, instance).
		InstanceId(desired.InstanceID).Context(ctx).Do()
	if err != nil {
		if !isAlreadyExists(err) {
			return nil, fmt.Errorf("failed to create instance: %w", err)
		}
		// Mutable attributes (flags, sizing) go through Patch.
		patchOp, patchErr := p.alloydbClient.Projects.Locations.Clusters.Instances.Patch(instName, instance).
			UpdateMask("databaseFlags,machineConfig,readPoolConfig").Context(ctx).Do()
		if patchErr != nil {
			return nil, fmt.Errorf("failed to update instance: %w", patchErr)
		}
		if err := p.waitAlloyDBOp(ctx, patchOp.Name); err != nil {
			return nil, err
		}
	} else if err := p.waitAlloyDBOp(ctx, op.Name); err != nil {
		return nil, err
	}

	created, err := p.alloydbClient.Projects.Locations.Clusters.Instances.Get(instName).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get instance: %w", err)
	}

	state := InstanceState{
		InstanceConfig: desired,
		Name:           created.Name,
		IPAddress:      created.IpAddress,
		State:          created.State,
		UID:            created.Uid,
	}
	state.InstanceType = instanceType
	stateJSON, _ := json.Marshal(state)
	return &sdk.ApplyResponse{NewStateJson: stateJSON}, nil
}

func (p *Provider) readInstance(ctx context.Context, req *sdk.ReadRequest) (*sdk.ReadResponse, error) {
	var prior InstanceState
	if err := json.Unmarshal(req.PriorStateJson, &prior); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
	}

	name := prior.Name
	if name == "" {
		name = clusterName(prior.Project, prior.Region, prior.Cluster) + "/instances/" + prior.InstanceID
	}

	got, err := p.alloydbClient.Projects.Locations.Clusters.Instances.Get(name).Context(ctx).Do()
	if err != nil {
		if isNotFound(err) {
			return &sdk.ReadResponse{Exists: false}, nil
		}
		return nil, fmt.Errorf("failed to read instance: %w", err)
	}

	prior.Name = got.Name
	prior.IPAddress = got.IpAddress
	prior.State = got.State
	prior.UID = got.Uid
	stateJSON, _ := json.Marshal(prior)
	return &sdk.ReadResponse{Exists: true, CurrentStateJson: stateJSON}, nil
}

func (p *Provider) deleteInstance(ctx context.Context, req *sdk.DeleteRequest) (*sdk.DeleteResponse, error) {
	var prior InstanceState
	if err := json.Unmarshal(req.PriorStateJson, &prior); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
	}
	name := prior.Name
	if name == "" {
		if prior.InstanceID == "" {
			return &sdk.DeleteResponse{}, nil
		}
		name = clusterName(prior.Project, prior.Region, prior.Cluster) + "/instances/" + prior.InstanceID
	}

	op, err := p.alloydbClient.Projects.Locations.Clusters.Instances.Delete(name).Context(ctx).Do()
	if err != nil {
		if isNotFound(err) {
			return &sdk.DeleteResponse{}, nil
		}
		return nil, fmt.Errorf("failed to delete instance: %w", err)
	}
	if err := p.waitAlloyDBOp(ctx, op.Name); err != nil {
		return nil, err
	}
	return &sdk.DeleteResponse{}, nil
}

func (p *Provider) applyUser(ctx context.Context, req *sdk.ApplyRequest) (*sdk.ApplyResponse, error) {
	var desired UserConfig
	if err := json.Unmarshal(req.DesiredConfigJson, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired: %w", err)
	}

	userType := desired.UserType
	if userType == "" {
		userType = "ALLOYDB_IAM_USER"
	}

	user := &alloydb.User{
		UserType:      userType,
		DatabaseRoles: desired.DatabaseRoles,
	}
	if userType == "ALLOYDB_BUILT_IN" {
		user.Password = desired.Password
	}

	parent := clusterName(desired.Project, desired.Region, desired.Cluster)
	created, err := p.alloydbClient.Projects.Locations.Clusters.Users.Create(parent, user).
		UserId(desired.UserID).Context(ctx).Do()
	if err != nil {
		if !isAlreadyExists(err) {
			return nil, fmt.Errorf("failed to create user: %w", err)
		}
		name := parent + "/users/" + desired.UserID
		created, err = p.alloydbClient.Projects.Locations.Clusters.Users.Patch(name, user).Context(ctx).Do()
		if err != nil {
			return nil, fmt.Errorf("failed to update user: %w", err)
		}
	}

	state := UserState{
		UserConfig: desired,
		Name:       created.Name,
	}
	state.UserType = userType
	state.Password = ""
	stateJSON, _ := json.Marshal(state)
	return &sdk.ApplyResponse{NewStateJson: stateJSON}, nil
}

func (p *Provider) readUser(ctx context.Context, req *sdk.ReadRequest) (*sdk.ReadResponse, error) {
	var prior UserState
	if err := json.Unmarshal(req.PriorStateJson, &prior); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
	}

	name := prior.Name
	if name == "" {
		name = clusterName(prior.Project, prior.Region, prior.Cluster) + "/users/" + prior.UserID
	}

	got, err := p.alloydbClient.Projects.Locations.Clusters.Users.Get(name).Context(ctx).Do()
	if err != nil {
		if isNotFound(err) {
			return &sdk.ReadResponse{Exists: false}, nil
		}
		return nil, fmt.Errorf("failed to read user: %w", err)
	}

	prior.Name = got.Name
	prior.DatabaseRoles = got.DatabaseRoles
	stateJSON, _ := json.Marshal(prior)
	return &sdk.ReadResponse{Exists: true, CurrentStateJson: stateJSON}, nil
}

func (p *Provider) deleteUser(ctx context.Context, req *sdk.DeleteRequest) (*sdk.DeleteResponse, error) {
	var prior UserState
	if err := json.Unmarshal(req.PriorStateJson, &prior); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
	}
	name := prior.Name
	if name == "" {
		if prior.UserID == "" {
			return &sdk.DeleteResponse{}, nil
		}
		name = clusterName(prior.Project, prior.Region, prior.Cluster) + "/users/" + prior.UserID
	}

	if _, err := p.alloydbClient.Projects.Locations.Clusters.Users.Delete(name).Context(ctx).Do(); err != nil {
		if isNotFound(err) {
			return &sdk.DeleteResponse{}, nil
		}
		return nil, fmt.Errorf("failed to delete user: %w", err)
	}
	return &sdk.DeleteResponse{}, nil
}
