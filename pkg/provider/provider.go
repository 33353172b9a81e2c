// Package provider defines the contract between the engine and in-process
// resource providers. Providers diff desired configuration against prior
// state, apply the resulting change, and report the new state as JSON.
package provider

import "context"

// Action is the change a provider decides on for a single resource.
type Action int32

const (
	ActionNoop Action = iota
	ActionCreate
	ActionUpdate
	ActionReplace
	ActionDelete
)

func (a Action) String() string {
	switch a {
	case ActionCreate:
		return "create"
	case ActionUpdate:
		return "update"
	case ActionReplace:
		return "replace"
	case ActionDelete:
		return "delete"
	default:
		return "noop"
	}
}

// PlanRequest asks the provider to compare desired configuration against
// prior state. DesiredConfigJson is nil when the resource is being removed.
type PlanRequest struct {
	ResourceType      string
	ResourceName      string
	DesiredConfigJson []byte
	PriorStateJson    []byte
}

type PlanResponse struct {
	Action            Action
	ChangedAttributes []string
	RequiresReplace   bool
}

// ApplyRequest executes the planned change. Providers must treat a nil
// DesiredConfigJson as a deletion of the prior state.
type ApplyRequest struct {
	ResourceType      string
	ResourceName      string
	DesiredConfigJson []byte
	PriorStateJson    []byte
}

type ApplyResponse struct {
	NewStateJson []byte
}

// ReadRequest fetches the current remote state of a resource so the engine
// can detect drift or reconcile an ambiguous outcome.
type ReadRequest struct {
	ResourceType   string
	ResourceName   string
	PriorStateJson []byte
}

type ReadResponse struct {
	Exists           bool
	CurrentStateJson []byte
}

type DeleteRequest struct {
	ResourceType   string
	ResourceName   string
	PriorStateJson []byte
}

type DeleteResponse struct{}

// ConfigureRequest carries provider-level settings (project, region,
// credentials hints) resolved once before any resource operation.
type ConfigureRequest struct {
	ConfigJson []byte
}

type ConfigureResponse struct {
	Diagnostics []string
}

type SchemaRequest struct{}

type SchemaResponse struct {
	ProviderName    string
	ProviderVersion string
	ResourceTypes   []string
}

// Provider is implemented by every in-process provider. All methods must be
// safe for concurrent use; the engine may apply independent resources in
// parallel.
type Provider interface {
	GetSchema(ctx context.Context, req *SchemaRequest) (*SchemaResponse, error)
	Configure(ctx context.Context, req *ConfigureRequest) (*ConfigureResponse, error)
	Plan(ctx context.Context, req *PlanRequest) (*PlanResponse, error)
	Apply(ctx context.Context, req *ApplyRequest) (*ApplyResponse, error)
	Read(ctx context.Context, req *ReadRequest) (*ReadResponse, error)
	Delete(ctx context.Context, req *DeleteRequest) (*DeleteResponse, error)
}
