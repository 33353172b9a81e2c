package google

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/api/cloudresourcemanager/v1"
	"google.golang.org/api/iam/v1"

	sdk "github.com/alloyform-io/alloyform/pkg/provider"
)

type ServiceAccountConfig struct {
	Project     string `json:"project"`
	AccountID   string `json:"accountId"`
	DisplayName string `json:"displayName"`
}

type ServiceAccountState struct {
	ServiceAccountConfig
	Name     string `json:"resourceName"` // projects/{p}/serviceAccounts/{email}
	Email    string `json:"email"`
	UniqueID string `json:"uniqueId"`
	Member   string `json:"member"` // "serviceAccount:{email}" form for IAM bindings
}

// serviceAccountMember renders the IAM policy member form of a service
// account email.
func serviceAccountMember(email string) string {
	return "serviceAccount:" + email
}

type IAMMemberConfig struct {
	Project string `json:"project"`
	Role    string `json:"role"`
	Member  string `json:"member"` // e.g. "user:alice@example.com"
}

type IAMMemberState struct {
	IAMMemberConfig
	ID string `json:"id"` // project/role/member
}

func (p *Provider) applyServiceAccount(ctx context.Context, req *sdk.ApplyRequest) (*sdk.ApplyResponse, error) {
	var desired ServiceAccountConfig
	if err := json.Unmarshal(req.DesiredConfigJson, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired: %w", err)
	}

	email := fmt.Sprintf("%s@%s.iam.gserviceaccount.com", desired.AccountID, desired.Project)

	created, err := p.iamClient.Projects.ServiceAccounts.Create("projects/"+desired.Project, &iam.CreateServiceAccountRequest{
		AccountId: desired.AccountID,
		ServiceAccount: &iam.ServiceAccount{
			DisplayName: desired.DisplayName,
		},
	}).Context(ctx).Do()
	if err != nil {
		if !isAlreadyExists(err) {
			return nil, fmt.Errorf("failed to create service account: %w", err)
		}
		name := fmt.Sprintf("projects/%s/serviceAccounts/%s", desired.Project, email)
		created, err = p.iamClient.Projects.ServiceAccounts.Get(name).Context(ctx).Do()
		if err != nil {
			return nil, fmt.Errorf("failed to get service account: %w", err)
		}
		// DisplayName is the only mutable attribute.
		if created.DisplayName != desired.DisplayName {
			created.DisplayName = desired.DisplayName
			created, err = p.iamClient.Projects.ServiceAccounts.Update(name, created).Context(ctx).Do()
			if err != nil {
				return nil, fmt.Errorf("failed to update service account: %w", err)
			}
		}
	}

	state := ServiceAccountState{
		ServiceAccountConfig: desired,
		Name:                 created.Name,
		Email:                created.Email,
		UniqueID:             created.UniqueId,
		Member:               serviceAccountMember(created.Email),
	}
	stateJSON, _ := json.Marshal(state)
	return &sdk.ApplyResponse{NewStateJson: stateJSON}, nil
}

func (p *Provider) readServiceAccount(ctx context.Context, req *sdk.ReadRequest) (*sdk.ReadResponse, error) {
	var prior ServiceAccountState
	if err := json.Unmarshal(req.PriorStateJson, &prior); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
	}

	name := prior.Name
	if name == "" {
		name = fmt.Sprintf("projects/%s/serviceAccounts/%s@%s.iam.gserviceaccount.com",
			prior.Project, prior.AccountID, prior.Project)
	}

	got, err := p.iamClient.Projects.ServiceAccounts.Get(name).Context(ctx).Do()
	if err != nil {
		if isNotFound(err) {
			return &sdk.ReadResponse{Exists: false}, nil
		}
		return nil, fmt.Errorf("failed to read service account: %w", err)
	}

	prior.Name = got.Name
	prior.Email = got.Email
	prior.UniqueID = got.UniqueId
	prior.Member = serviceAccountMember(got.Email)
	prior.DisplayName = got.DisplayName
	stateJSON, _ := json.Marshal(prior)
	return &sdk.ReadResponse{Exists: true, CurrentStateJson: stateJSON}, nil
}

func (p *Provider) deleteServiceAccount(ctx context.Context, req *sdk.DeleteRequest) (*sdk.DeleteResponse, error) {
	var prior ServiceAccountState
	if err := json.Unmarshal(req.PriorStateJson, &prior); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
	}
	if prior.Name == "" {
		return &sdk.DeleteResponse{}, nil
	}

	if _, err := p.iamClient.Projects.ServiceAccounts.Delete(prior.Name).Context(ctx).Do(); err != nil {
		if isNotFound(err) {
			return &sdk.DeleteResponse{}, nil
		}
		return nil, fmt.Errorf("failed to delete service account: %w", err)
	}
	return &sdk.DeleteResponse{}, nil
}

// applyIAMMember adds a single member to a project role via read-modify-write
// of the project IAM policy.
func (p *Provider) applyIAMMember(ctx context.Context, req *sdk.ApplyRequest) (*sdk.ApplyResponse, error) {
	var desired IAMMemberConfig
	if err := json.Unmarshal(req.DesiredConfigJson, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired: %w", err)
	}

	policy, err := p.crmClient.Projects.GetIamPolicy(desired.Project, &cloudresourcemanager.GetIamPolicyRequest{}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get project policy: %w", err)
	}

	if addMember(policy, desired.Role, desired.Member) {
		_, err = p.crmClient.Projects.SetIamPolicy(desired.Project, &cloudresourcemanager.SetIamPolicyRequest{
			Policy: policy,
		}).Context(ctx).Do()
		if err != nil {
			return nil, fmt.Errorf("failed to set project policy: %w", err)
		}
	}

	state := IAMMemberState{
		IAMMemberConfig: desired,
		ID:              fmt.Sprintf("%s/%s/%s", desired.Project, desired.Role, desired.Member),
	}
	stateJSON, _ := json.Marshal(state)
	return &sdk.ApplyResponse{NewStateJson: stateJSON}, nil
}

func (p *Provider) readIAMMember(ctx context.Context, req *sdk.ReadRequest) (*sdk.ReadResponse, error) {
	var prior IAMMemberState
	if err := json.Unmarshal(req.PriorStateJson, &prior); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
	}

	policy, err := p.crmClient.Projects.GetIamPolicy(prior.Project, &cloudresourcemanager.GetIamPolicyRequest{}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get project policy: %w", err)
	}

	if !hasMember(policy, prior.Role, prior.Member) {
		return &sdk.ReadResponse{Exists: false}, nil
	}
	return &sdk.ReadResponse{Exists: true, CurrentStateJson: req.PriorStateJson}, nil
}

func (p *Provider) deleteIAMMember(ctx context.Context, req *sdk.DeleteRequest) (*sdk.DeleteResponse, error) {
	var prior IAMMemberState
	if err := json.Unmarshal(req.PriorStateJson, &prior); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
	}
	if prior.Project == "" {
		return &sdk.DeleteResponse{}, nil
	}

	policy, err := p.crmClient.Projects.GetIamPolicy(prior.Project, &cloudresourcemanager.GetIamPolicyRequest{}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get project policy: %w", err)
	}

	if removeMember(policy, prior.Role, prior.Member) {
		_, err = p.crmClient.Projects.SetIamPolicy(prior.Project, &cloudresourcemanager.SetIamPolicyRequest{
			Policy: policy,
		}).Context(ctx).Do()
		if err != nil {
			return nil, fmt.Errorf("failed to set project policy: %w", err)
		}
	}
	return &sdk.DeleteResponse{}, nil
}

func addMember(policy *cloudresourcemanager.Policy, role, member string) bool {
	for _, b := range policy.Bindings {
		if b.Role != role {
			continue
		}
		for _, m := range b.Members {
			if m == member {
				return false
			}
		}
		b.Members = append(b.Members, member)
		return true
	}
	policy.Bindings = append(policy.Bindings, &cloudresourcemanager.Binding{
		Role:    role,
		Members: []string{member},
	})
	return true
}

func hasMember(policy *cloudresourcemanager.Policy, role, member string) bool {
	for _, b := range policy.Bindings {
		if b.Role != role {
			continue
		}
		for _, m := range b.Members {
			if m == member {
				return true
			}
		}
	}
	return false
}

func removeMember(policy *cloudresourcemanager.Policy, role, member string) bool {
	for _, b := range policy.Bindings {
		if b.Role != role {
			continue
		}
		for i, m := range b.Members {
			if m == member {
				b.Members = append(b.Members[:i], b.Members[i+1:]...)
				return true
			}
		}
	}
	return false
}
