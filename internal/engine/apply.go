package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/alloyform-io/alloyform/internal/ir"
	"github.com/alloyform-io/alloyform/internal/logging"
	sdk "github.com/alloyform-io/alloyform/pkg/provider"
)

const defaultParallelism = 10

// ApplyEvent represents a progress event during apply.
type ApplyEvent struct {
	Address  string
	Action   string
	Status   string // "started", "completed", "failed", "skipped"
	Duration time.Duration
	Error    error
}

// ApplyCallback is called for each apply event if set.
type ApplyCallback func(event ApplyEvent)

// CheckpointFunc persists the state after each resource transition. A crash
// mid-run then loses at most the in-flight resource.
type CheckpointFunc func(state *ir.State) error

// ApplyPlan executes a plan and updates the state.
func (e *Engine) ApplyPlan(ctx context.Context, plan *ir.Plan, state *ir.State) (*ir.State, *ir.ApplyReport, error) {
	return e.ApplyPlanWithCallback(ctx, plan, state, nil)
}

// ApplyPlanWithCallback executes a plan with progress event callbacks.
// It applies resources in parallel respecting dependency ordering. Every
// planned change gets an entry in the returned report: a change whose
// upstream dependency failed is recorded as skipped, never attempted, while
// branches unrelated to the failure are still processed. A failure in the
// create/update phase skips the delete phase unless e.ContinueOnError is set.
func (e *Engine) ApplyPlanWithCallback(ctx context.Context, plan *ir.Plan, state *ir.State, callback ApplyCallback) (*ir.State, *ir.ApplyReport, error) {
	var mu sync.Mutex
	var errs []error
	report := &ir.ApplyReport{}

	emit := func(event ApplyEvent) {
		if callback != nil {
			callback(event)
		}
	}

	record := func(c *ir.ResourceChange, outcome string, err error) {
		mu.Lock()
		report.Results = append(report.Results, &ir.ApplyResult{
			Address: c.Address,
			Action:  c.Action,
			Outcome: outcome,
			Err:     err,
		})
		mu.Unlock()
	}

	// Build a lookup map for existing resources in state by address
	stateIndex := make(map[string]int)
	for i, res := range state.Resources {
		addr := fmt.Sprintf("%s.%s", res.Type, res.Name)
		stateIndex[addr] = i
	}

	// Group changes: separate creates/updates from deletes
	var createUpdates, deletes []*ir.ResourceChange
	for _, change := range plan.Changes {
		if change.Action == "delete" {
			deletes = append(deletes, change)
		} else {
			createUpdates = append(createUpdates, change)
		}
	}

	runBatch := func(batch []*ir.ResourceChange) error {
		if len(batch) > 1 {
			return e.applyParallel(ctx, batch, state, &stateIndex, &mu, emit, record)
		}
		for _, change := range batch {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("apply cancelled: %w", err)
			}
			start := time.Now()
			emit(ApplyEvent{Address: change.Address, Action: change.Action, Status: "started"})
			if err := e.applyChange(ctx, change, state, &stateIndex, &mu); err != nil {
				emit(ApplyEvent{Address: change.Address, Action: change.Action, Status: "failed", Duration: time.Since(start), Error: err})
				record(change, failureOutcome(err), err)
				return err
			}
			emit(ApplyEvent{Address: change.Address, Action: change.Action, Status: "completed", Duration: time.Since(start)})
			record(change, successOutcome(change.Action), nil)
		}
		return nil
	}

	if err := runBatch(createUpdates); err != nil {
		if !e.ContinueOnError {
			fillSkipped(report, plan, record)
			return state, report, err
		}
		errs = append(errs, err)
	}

	// Deletes run after creates/updates, in reverse dependency order.
	if err := runBatch(deletes); err != nil {
		if !e.ContinueOnError {
			fillSkipped(report, plan, record)
			return state, report, err
		}
		errs = append(errs, err)
	}

	state.Serial++
	state.Outputs = plan.Outputs

	fillSkipped(report, plan, record)

	if len(errs) > 0 {
		return state, report, fmt.Errorf("%d resource(s) failed: %w", len(errs), errors.Join(errs...))
	}

	return state, report, nil
}

// fillSkipped records a skipped result for every planned change that never
// got one, so the report always covers the whole plan.
func fillSkipped(report *ir.ApplyReport, plan *ir.Plan, record func(*ir.ResourceChange, string, error)) {
	seen := make(map[string]bool)
	for _, res := range report.Results {
		seen[res.Address] = true
	}
	for _, change := range plan.Changes {
		if !seen[change.Address] {
			record(change, ir.ResultSkipped, nil)
		}
	}
}

func successOutcome(action string) string {
	switch action {
	case "create", "replace":
		return ir.ResultCreated
	case "update":
		return ir.ResultUpdated
	case "delete":
		return ir.ResultDeleted
	default:
		return ir.ResultUnchanged
	}
}

func failureOutcome(err error) string {
	var timeoutErr *ProviderTimeoutError
	if errors.As(err, &timeoutErr) {
		return ir.ResultUnknown
	}
	return ir.ResultFailed
}

// applyParallel applies changes concurrently, respecting the dependency order
// embedded in the plan (which is already topologically sorted).
func (e *Engine) applyParallel(ctx context.Context, changes []*ir.ResourceChange, state *ir.State, stateIndex *map[string]int, mu *sync.Mutex, emit func(ApplyEvent), record func(*ir.ResourceChange, string, error)) error {
	changeMap := make(map[string]*ir.ResourceChange)
	for _, c := range changes {
		changeMap[c.Address] = c
	}

	// Track dependencies: for each change, find which other changes it must
	// wait on. Create/update changes wait on their dependencies; delete
	// changes invert the edge, so a resource is deleted only after everything
	// that depends on it is gone.
	deps := make(map[string]map[string]bool)
	for _, c := range changes {
		deps[c.Address] = make(map[string]bool)
	}
	for _, c := range changes {
		if c.Desired != nil {
			for _, d := range c.Desired.DependsOn {
				if _, ok := changeMap[d]; ok {
					deps[c.Address][d] = true
				}
			}
			for _, ref := range extractPtrRefs("", c.Desired.Properties) {
				depAddr := ptrRefToAddr(ref)
				if _, ok := changeMap[depAddr]; ok {
					deps[c.Address][depAddr] = true
				}
			}
			continue
		}
		if c.Prior == nil {
			continue
		}
		for _, d := range c.Prior.DependsOn {
			if _, ok := changeMap[d]; ok {
				deps[d][c.Address] = true
			}
		}
		for _, ref := range extractPtrRefs("", c.Prior.Properties) {
			depAddr := ptrRefToAddr(ref)
			if _, ok := changeMap[depAddr]; ok {
				deps[depAddr][c.Address] = true
			}
		}
	}

	// Parallel execution using a semaphore and dependency tracking
	completed := make(map[string]bool)
	failed := make(map[string]bool)
	completedMu := sync.Mutex{}
	completedCond := sync.NewCond(&completedMu)
	var firstErr error
	var allErrs []error
	sem := make(chan struct{}, defaultParallelism)

	var wg sync.WaitGroup

	for _, change := range changes {
		wg.Add(1)
		go func(c *ir.ResourceChange) {
			defer wg.Done()

			// Wait for dependencies to complete. A failure elsewhere does
			// not stop this change unless it sits downstream of the failed
			// resource.
			completedMu.Lock()
			for {
				allDepsReady := true
				depFailed := false
				for dep := range deps[c.Address] {
					if failed[dep] {
						depFailed = true
						break
					}
					if !completed[dep] {
						allDepsReady = false
						break
					}
				}
				// A failed dependency poisons the whole downstream branch.
				if depFailed {
					failed[c.Address] = true
					completedMu.Unlock()
					emit(ApplyEvent{Address: c.Address, Action: c.Action, Status: "skipped"})
					record(c, ir.ResultSkipped, nil)
					completedCond.Broadcast()
					return
				}
				if allDepsReady {
					break
				}
				completedCond.Wait()
			}
			completedMu.Unlock()

			if err := ctx.Err(); err != nil {
				completedMu.Lock()
				if firstErr == nil {
					firstErr = fmt.Errorf("apply cancelled: %w", err)
				}
				// Release anything waiting on this change.
				failed[c.Address] = true
				completedMu.Unlock()
				completedCond.Broadcast()
				return
			}

			// Acquire semaphore slot
			sem <- struct{}{}
			defer func() { <-sem }()

			start := time.Now()
			emit(ApplyEvent{Address: c.Address, Action: c.Action, Status: "started"})

			if err := e.applyChange(ctx, c, state, stateIndex, mu); err != nil {
				emit(ApplyEvent{Address: c.Address, Action: c.Action, Status: "failed", Duration: time.Since(start), Error: err})
				record(c, failureOutcome(err), err)
				completedMu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				allErrs = append(allErrs, err)
				failed[c.Address] = true
				completedMu.Unlock()
				completedCond.Broadcast()
				return
			}

			emit(ApplyEvent{Address: c.Address, Action: c.Action, Status: "completed", Duration: time.Since(start)})
			record(c, successOutcome(c.Action), nil)

			completedMu.Lock()
			completed[c.Address] = true
			completedMu.Unlock()
			completedCond.Broadcast()
		}(change)
	}

	wg.Wait()

	switch {
	case len(allErrs) == 1:
		return allErrs[0]
	case len(allErrs) > 1:
		return fmt.Errorf("%d resource(s) failed: %w", len(allErrs), errors.Join(allErrs...))
	case firstErr != nil:
		// Cancellation without a resource failure.
		return firstErr
	}
	return nil
}

func (e *Engine) applyChange(ctx context.Context, change *ir.ResourceChange, state *ir.State, stateIndex *map[string]int, mu *sync.Mutex) error {
	addr := change.Address
	logging.Debug("applying change", "address", addr, "action", change.Action)

	// Replacement destroys the old resource. Refuse unless it was asked for.
	if change.Action == "replace" && !e.AllowReplace {
		var changed []string
		for k, d := range change.Diff {
			if d.Action == "update" || d.ForcesReplacement {
				changed = append(changed, k)
			}
		}
		return &ReplacementRequiredError{Address: addr, ChangedAttributes: changed}
	}

	// Per-resource timeout
	timeout := DefaultTimeout
	if change.Desired != nil && change.Desired.Timeout != nil && *change.Desired.Timeout > 0 {
		timeout = *change.Desired.Timeout
	}
	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var desiredJSON []byte
	var priorJSON []byte
	var name, typ string

	if change.Desired != nil {
		name = change.Desired.Name
		typ = change.Desired.Type
		props := normalizeValue(change.Desired.Properties)
		mu.Lock()
		resolvedProps, err := resolveReferences(addr, props, state)
		mu.Unlock()
		if err != nil {
			return err
		}
		desiredJSON, _ = json.Marshal(resolvedProps)
	} else if change.Prior != nil {
		name = change.Prior.Name
		typ = change.Prior.Type
	}

	mu.Lock()
	if idx, ok := (*stateIndex)[addr]; ok {
		priorState := state.Resources[idx]
		if priorState.Outputs != nil {
			priorJSON, _ = json.Marshal(priorState.Outputs)
		}
	}
	mu.Unlock()

	provName := "null"
	if change.Desired != nil {
		provName = change.Desired.Provider
	} else if change.Prior != nil {
		provName = change.Prior.Provider
	}

	prov, err := e.registry.Get(provName)
	if err != nil {
		return fmt.Errorf("provider not found: %s", provName)
	}

	retryPolicy := DefaultRetryPolicy()

	switch change.Action {
	case "create", "update", "replace":
		var resp *sdk.ApplyResponse
		err := RetryWithBackoff(opCtx, retryPolicy, func() error {
			var applyErr error
			resp, applyErr = prov.Apply(opCtx, &sdk.ApplyRequest{
				ResourceType:      typ,
				ResourceName:      name,
				DesiredConfigJson: desiredJSON,
				PriorStateJson:    priorJSON,
			})
			return applyErr
		}, IsTransientError)
		if err != nil {
			// A timed out operation may have succeeded remotely. Record
			// the resource as unknown so the next plan re-verifies it
			// before doing anything destructive.
			if opCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
				e.recordUnknown(change, state, stateIndex, mu, addr, typ, name, provName)
				return &ProviderTimeoutError{Address: addr, Op: "apply", Err: err}
			}
			return &ProviderError{Address: addr, Op: "apply", Err: err}
		}

		var outputs map[string]any
		if len(resp.NewStateJson) > 0 {
			if err := json.Unmarshal(resp.NewStateJson, &outputs); err != nil {
				return fmt.Errorf("failed to unmarshal state for %s: %w", addr, err)
			}
		}

		newResState := &ir.ResourceState{
			Type:         typ,
			Name:         name,
			Provider:     provName,
			Inputs:       change.Desired.Properties,
			Outputs:      outputs,
			Dependencies: resourceDependencies(change.Desired),
		}

		mu.Lock()
		if idx, ok := (*stateIndex)[addr]; ok {
			state.Resources[idx] = newResState
		} else {
			(*stateIndex)[addr] = len(state.Resources)
			state.Resources = append(state.Resources, newResState)
		}
		err = e.checkpoint(state)
		mu.Unlock()
		if err != nil {
			return fmt.Errorf("state checkpoint failed after %s: %w", addr, err)
		}

	case "delete":
		err := RetryWithBackoff(opCtx, retryPolicy, func() error {
			_, deleteErr := prov.Delete(opCtx, &sdk.DeleteRequest{
				ResourceType:   typ,
				ResourceName:   name,
				PriorStateJson: priorJSON,
			})
			return deleteErr
		}, IsTransientError)
		if err != nil {
			if opCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
				e.recordUnknown(change, state, stateIndex, mu, addr, typ, name, provName)
				return &ProviderTimeoutError{Address: addr, Op: "delete", Err: err}
			}
			return &ProviderError{Address: addr, Op: "delete", Err: err}
		}

		mu.Lock()
		if idx, ok := (*stateIndex)[addr]; ok {
			state.Resources = append(state.Resources[:idx], state.Resources[idx+1:]...)
			// Rebuild index after removal
			*stateIndex = make(map[string]int)
			for i, res := range state.Resources {
				a := fmt.Sprintf("%s.%s", res.Type, res.Name)
				(*stateIndex)[a] = i
			}
		}
		err = e.checkpoint(state)
		mu.Unlock()
		if err != nil {
			return fmt.Errorf("state checkpoint failed after %s: %w", addr, err)
		}
	}

	return nil
}

func (e *Engine) checkpoint(state *ir.State) error {
	if e.Checkpoint == nil {
		return nil
	}
	return e.Checkpoint(state)
}

// recordUnknown persists an ambiguous-outcome marker for a resource whose
// apply timed out.
func (e *Engine) recordUnknown(change *ir.ResourceChange, state *ir.State, stateIndex *map[string]int, mu *sync.Mutex, addr, typ, name, provName string) {
	var inputs map[string]any
	if change.Desired != nil {
		inputs = change.Desired.Properties
	}

	mu.Lock()
	defer mu.Unlock()

	if idx, ok := (*stateIndex)[addr]; ok {
		state.Resources[idx].Status = ir.StatusUnknown
	} else {
		(*stateIndex)[addr] = len(state.Resources)
		state.Resources = append(state.Resources, &ir.ResourceState{
			Type:     typ,
			Name:     name,
			Provider: provName,
			Inputs:   inputs,
			Status:   ir.StatusUnknown,
		})
	}
	if err := e.checkpoint(state); err != nil {
		logging.Warn("state checkpoint failed", "address", addr, "error", err)
	}
}

// resolveReferences substitutes every ptr:// reference in val with the
// attribute value from the target's applied state. Resolution is strict: a
// reference that cannot be substituted fails the resource with
// *UnresolvedAttributeError instead of passing the raw string to the provider.
func resolveReferences(addr string, val any, state *ir.State) (any, error) {
	switch v := val.(type) {
	case string:
		if !strings.HasPrefix(v, "ptr://") {
			return v, nil
		}
		target := ptrRefToAddr(v)
		attr := ptrRefAttr(v)
		for _, res := range state.Resources {
			if fmt.Sprintf("%s.%s", res.Type, res.Name) != target {
				continue
			}
			if out, ok := res.Outputs[attr]; ok {
				return out, nil
			}
			if in, ok := res.Inputs[attr]; ok {
				return in, nil
			}
			return nil, &UnresolvedAttributeError{
				Address:   addr,
				Reference: v,
				Attribute: attr,
				Target:    target,
				InState:   true,
			}
		}
		return nil, &UnresolvedAttributeError{
			Address:   addr,
			Reference: v,
			Attribute: attr,
			Target:    target,
		}
	case map[string]any:
		newMap := make(map[string]any, len(v))
		for k, item := range v {
			resolved, err := resolveReferences(addr, item, state)
			if err != nil {
				return nil, err
			}
			newMap[k] = resolved
		}
		return newMap, nil
	case []any:
		newSlice := make([]any, len(v))
		for i, item := range v {
			resolved, err := resolveReferences(addr, item, state)
			if err != nil {
				return nil, err
			}
			newSlice[i] = resolved
		}
		return newSlice, nil
	default:
		return v, nil
	}
}
