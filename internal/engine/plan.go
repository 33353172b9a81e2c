package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/alloyform-io/alloyform/internal/ir"
	"github.com/alloyform-io/alloyform/internal/logging"
	"github.com/alloyform-io/alloyform/internal/provider"
	sdk "github.com/alloyform-io/alloyform/pkg/provider"
)

// Engine orchestrates the lifecycle of resources.
type Engine struct {
	registry        *provider.Registry
	ContinueOnError bool // If true, apply continues past failures instead of stopping
	AllowReplace    bool // If true, apply may destroy and recreate resources
	Checkpoint      CheckpointFunc
}

func NewEngine(registry *provider.Registry) *Engine {
	return &Engine{
		registry: registry,
	}
}

// CreatePlan generates an execution plan by comparing desired config with current state.
func (e *Engine) CreatePlan(ctx context.Context, cfg *ir.Config, state *ir.State) (*ir.Plan, error) {
	return e.CreatePlanWithTargets(ctx, cfg, state, nil)
}

// CreatePlanWithTargets generates a plan filtered to specific resource addresses.
// If targets is nil or empty, all resources are planned.
func (e *Engine) CreatePlanWithTargets(ctx context.Context, cfg *ir.Config, state *ir.State, targets []string) (*ir.Plan, error) {
	logging.Debug("creating plan", "resources", len(cfg.Resources), "state_resources", len(state.Resources), "targets", len(targets))
	plan := &ir.Plan{
		Metadata: &ir.PlanMetadata{
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
		Changes: []*ir.ResourceChange{},
		Summary: &ir.PlanSummary{},
		Outputs: cfg.Outputs,
	}

	// 1. Load all required providers
	for _, res := range cfg.Resources {
		if err := e.registry.LoadProvider(res.Provider); err != nil {
			return nil, fmt.Errorf("failed to load provider %s: %w", res.Provider, err)
		}
	}

	// 1.5 Expand for_each/count resources
	cfg.Resources = ExpandForEach(cfg.Resources)

	// 2. Build dependency graph for ordering. Cycles and unresolved
	// references surface here, before any provider call.
	dag, err := BuildDAG(cfg.Resources)
	if err != nil {
		return nil, err
	}

	// 3. Build state map for quick lookup
	stateMap := make(map[string]*ir.ResourceState)
	for _, res := range state.Resources {
		addr := fmt.Sprintf("%s.%s", res.Type, res.Name)
		stateMap[addr] = res
	}

	// 3.5 Reconcile ambiguous outcomes from a previous run. A resource
	// recorded with unknown status may or may not exist remotely; ask the
	// provider before planning anything destructive against it.
	if err := e.reconcileUnknown(ctx, stateMap); err != nil {
		return nil, err
	}

	// 4. Build config map for quick lookup
	configByAddr := make(map[string]*ir.Resource)
	for _, res := range cfg.Resources {
		addr := resourceAddr(res)
		configByAddr[addr] = res
	}

	// 5. Build target set (if targets specified, include their dependencies)
	var targetSet map[string]bool
	if len(targets) > 0 {
		targetSet = make(map[string]bool)
		for _, t := range targets {
			targetSet[t] = true
		}
		for _, t := range targets {
			for _, dep := range dag.TransitiveDeps(t) {
				targetSet[dep] = true
			}
		}
	}

	// 6. Iterate desired resources in dependency order
	for _, addr := range dag.CreationOrder() {
		res, ok := configByAddr[addr]
		if !ok {
			continue
		}

		if targetSet != nil && !targetSet[addr] {
			plan.Summary.NoOp++
			continue
		}

		resourceType := res.Type
		if resourceType == "" {
			resourceType = "null_resource"
		}

		prov, err := e.registry.Get(res.Provider)
		if err != nil {
			return nil, err
		}

		// Substitute references against applied state before diffing, so the
		// provider compares the same values it stored. References to
		// resources created later this run stay unresolved; their owners
		// have no prior state and plan as creates regardless.
		props := resolvePlannedReferences(normalizeValue(res.Properties), stateMap)
		desiredJSON, err := json.Marshal(props)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal properties for %s: %w", res.Name, err)
		}

		prior := stateMap[addr]
		var priorJSON []byte
		if prior != nil {
			priorJSON, _ = json.Marshal(prior.Outputs)
		}

		resp, err := prov.Plan(ctx, &sdk.PlanRequest{
			ResourceType:      resourceType,
			ResourceName:      res.Name,
			DesiredConfigJson: desiredJSON,
			PriorStateJson:    priorJSON,
		})
		if err != nil {
			return nil, &ProviderError{Address: addr, Op: "plan", Err: err}
		}

		action := resp.Action

		// A tainted resource is forced through replacement regardless of
		// what the provider diffed.
		if prior != nil && isTainted(prior) && action != sdk.ActionDelete {
			action = sdk.ActionReplace
		}

		if action != sdk.ActionNoop {
			if err := enforceLifecycle(res, action, addr); err != nil {
				return nil, err
			}

			if res.Lifecycle != nil && len(res.Lifecycle.IgnoreChanges) > 0 && action == sdk.ActionUpdate {
				action = filterIgnoredChanges(res, resp, prior)
			}

			if action == sdk.ActionNoop {
				plan.Summary.NoOp++
				continue
			}

			change := &ir.ResourceChange{
				Address: addr,
				Action:  action.String(),
				Desired: res,
			}

			if prior != nil {
				change.Prior = &ir.Resource{
					Type:       prior.Type,
					Name:       prior.Name,
					Provider:   prior.Provider,
					Properties: prior.Inputs,
				}
				change.Diff = buildPropertyDiff(prior.Inputs, res.Properties)
			} else {
				change.Diff = buildCreateDiff(res.Properties)
			}

			plan.Changes = append(plan.Changes, change)

			switch action {
			case sdk.ActionCreate:
				plan.Summary.Create++
			case sdk.ActionUpdate:
				plan.Summary.Update++
			case sdk.ActionReplace:
				plan.Summary.Replace++
			case sdk.ActionDelete:
				plan.Summary.Delete++
			}
		} else {
			plan.Summary.NoOp++
		}
	}

	// 7. Handle deletions (resources in state but not in config). Deletes
	// are ordered dependents-first from the dependencies recorded in state,
	// so nothing is destroyed while something still pointing at it exists.
	configMap := make(map[string]bool)
	for _, res := range cfg.Resources {
		addr := resourceAddr(res)
		configMap[addr] = true
	}

	var doomed []*ir.ResourceState
	doomedByAddr := make(map[string]*ir.ResourceState)
	for _, res := range state.Resources {
		addr := fmt.Sprintf("%s.%s", res.Type, res.Name)
		if configMap[addr] {
			continue
		}
		if targetSet != nil && !targetSet[addr] {
			continue
		}
		doomed = append(doomed, res)
		doomedByAddr[addr] = res
	}

	if len(doomed) > 0 {
		stateDAG, err := BuildDAGFromState(doomed)
		if err != nil {
			return nil, err
		}
		for _, addr := range stateDAG.DestructionOrder() {
			res := doomedByAddr[addr]
			change := &ir.ResourceChange{
				Address: addr,
				Action:  "delete",
				Prior: &ir.Resource{
					Type:       res.Type,
					Name:       res.Name,
					Provider:   res.Provider,
					DependsOn:  res.Dependencies,
					Properties: res.Inputs,
				},
				Diff: buildDeleteDiff(res.Inputs),
			}
			plan.Changes = append(plan.Changes, change)
			plan.Summary.Delete++
		}
	}

	return plan, nil
}

// reconcileUnknown resolves resources whose last apply timed out before the
// outcome was known. The provider is asked whether the resource exists: if
// it does, its real state replaces the ambiguous record; if not, the record
// is reduced to a fresh create.
func (e *Engine) reconcileUnknown(ctx context.Context, stateMap map[string]*ir.ResourceState) error {
	for addr, rs := range stateMap {
		if rs.Status != ir.StatusUnknown {
			continue
		}

		if err := e.registry.LoadProvider(rs.Provider); err != nil {
			return fmt.Errorf("failed to load provider %s: %w", rs.Provider, err)
		}
		prov, err := e.registry.Get(rs.Provider)
		if err != nil {
			return err
		}

		priorJSON, _ := json.Marshal(rs.Outputs)
		resp, err := prov.Read(ctx, &sdk.ReadRequest{
			ResourceType:   rs.Type,
			ResourceName:   rs.Name,
			PriorStateJson: priorJSON,
		})
		if err != nil {
			return &ProviderError{Address: addr, Op: "read", Err: err}
		}

		if resp.Exists {
			var current map[string]any
			if len(resp.CurrentStateJson) > 0 {
				if err := json.Unmarshal(resp.CurrentStateJson, &current); err != nil {
					return fmt.Errorf("failed to decode read state for %s: %w", addr, err)
				}
			}
			rs.Outputs = current
			logging.Info("reconciled unknown resource", "address", addr, "exists", true)
		} else {
			rs.Outputs = nil
			logging.Info("reconciled unknown resource", "address", addr, "exists", false)
		}
		rs.Status = ""
	}
	return nil
}

func isTainted(rs *ir.ResourceState) bool {
	if rs.Outputs == nil {
		return false
	}
	tainted, ok := rs.Outputs["_tainted"].(bool)
	return ok && tainted
}

// enforceLifecycle checks lifecycle rules and returns an error if violated.
func enforceLifecycle(res *ir.Resource, action sdk.Action, addr string) error {
	if res.Lifecycle == nil {
		return nil
	}

	if res.Lifecycle.PreventDestroy && (action == sdk.ActionDelete || action == sdk.ActionReplace) {
		return fmt.Errorf("resource %s has prevent_destroy set but plan requires destruction", addr)
	}

	return nil
}

// filterIgnoredChanges checks if all changed attributes are in IgnoreChanges.
// If so, downgrades the action to NOOP.
func filterIgnoredChanges(res *ir.Resource, resp *sdk.PlanResponse, prior *ir.ResourceState) sdk.Action {
	if prior == nil || res.Lifecycle == nil {
		return resp.Action
	}

	ignoreSet := make(map[string]bool)
	for _, attr := range res.Lifecycle.IgnoreChanges {
		ignoreSet[attr] = true
	}

	if len(resp.ChangedAttributes) > 0 {
		allIgnored := true
		for _, attr := range resp.ChangedAttributes {
			if !ignoreSet[attr] {
				allIgnored = false
				break
			}
		}
		if allIgnored {
			return sdk.ActionNoop
		}
	}

	return resp.Action
}

// buildPropertyDiff compares prior and desired properties and returns a diff map.
func buildPropertyDiff(prior, desired map[string]any) map[string]*ir.PropertyDiff {
	diff := make(map[string]*ir.PropertyDiff)

	allKeys := make(map[string]bool)
	for k := range prior {
		allKeys[k] = true
	}
	for k := range desired {
		allKeys[k] = true
	}

	for k := range allKeys {
		priorVal, inPrior := prior[k]
		desiredVal, inDesired := desired[k]

		if !inPrior {
			diff[k] = &ir.PropertyDiff{
				After:  desiredVal,
				Action: "create",
			}
		} else if !inDesired {
			diff[k] = &ir.PropertyDiff{
				Before: priorVal,
				Action: "delete",
			}
		} else if fmt.Sprintf("%v", priorVal) != fmt.Sprintf("%v", desiredVal) {
			diff[k] = &ir.PropertyDiff{
				Before: priorVal,
				After:  desiredVal,
				Action: "update",
			}
		}
	}

	return diff
}

func buildCreateDiff(props map[string]any) map[string]*ir.PropertyDiff {
	diff := make(map[string]*ir.PropertyDiff)
	for k, v := range props {
		diff[k] = &ir.PropertyDiff{
			After:  v,
			Action: "create",
		}
	}
	return diff
}

func buildDeleteDiff(props map[string]any) map[string]*ir.PropertyDiff {
	diff := make(map[string]*ir.PropertyDiff)
	for k, v := range props {
		diff[k] = &ir.PropertyDiff{
			Before: v,
			Action: "delete",
		}
	}
	return diff
}

// resolvePlannedReferences substitutes ptr:// references whose target already
// has applied state. A reference that cannot be resolved yet is left in
// place, since its owner is being created this run anyway. Strict resolution
// happens at apply time.
func resolvePlannedReferences(val any, stateMap map[string]*ir.ResourceState) any {
	switch v := val.(type) {
	case string:
		if !strings.HasPrefix(v, "ptr://") {
			return v
		}
		rs, ok := stateMap[ptrRefToAddr(v)]
		if !ok {
			return v
		}
		attr := ptrRefAttr(v)
		if out, ok := rs.Outputs[attr]; ok {
			return out
		}
		if in, ok := rs.Inputs[attr]; ok {
			return in
		}
		return v
	case map[string]any:
		newMap := make(map[string]any, len(v))
		for k, item := range v {
			newMap[k] = resolvePlannedReferences(item, stateMap)
		}
		return newMap
	case []any:
		newSlice := make([]any, len(v))
		for i, item := range v {
			newSlice[i] = resolvePlannedReferences(item, stateMap)
		}
		return newSlice
	default:
		return v
	}
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case map[any]any:
		newMap := make(map[string]any)
		for k, v := range val {
			newMap[fmt.Sprintf("%v", k)] = normalizeValue(v)
		}
		return newMap
	case map[string]any:
		newMap := make(map[string]any)
		for k, v := range val {
			newMap[k] = normalizeValue(v)
		}
		return newMap
	case []any:
		newSlice := make([]any, len(val))
		for i, v := range val {
			newSlice[i] = normalizeValue(v)
		}
		return newSlice
	default:
		return val
	}
}
