package engine

import (
	"fmt"
	"strings"
)

// CycleError reports a dependency cycle found before any provider call.
// Path holds a minimal cycle, starting and ending at the same address.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle: %s", strings.Join(e.Path, " -> "))
}

// UnresolvedReferenceError reports a reference (explicit dependsOn or a
// ptr:// property value) to a resource that is not declared.
type UnresolvedReferenceError struct {
	Address   string // referencing resource
	Attribute string // property path, or "dependsOn"
	Reference string // the missing target address
}

func (e *UnresolvedReferenceError) Error() string {
	return fmt.Sprintf("resource %s: %s references undeclared resource %s",
		e.Address, e.Attribute, e.Reference)
}

// UnresolvedAttributeError reports a ptr:// reference that could not be
// substituted at apply time: the target resource either exposes no such
// attribute in its applied state, or is not in state at all. The resource is
// failed rather than handing the raw reference string to the provider.
type UnresolvedAttributeError struct {
	Address   string // referencing resource
	Reference string // the ptr:// value
	Attribute string // the attribute component of the reference
	Target    string // the resource the reference names
	InState   bool   // whether the target has any applied state
}

func (e *UnresolvedAttributeError) Error() string {
	if !e.InState {
		return fmt.Sprintf("resource %s references %s but %s has no applied state",
			e.Address, e.Reference, e.Target)
	}
	return fmt.Sprintf("resource %s references %s but %s exposes no attribute %q",
		e.Address, e.Reference, e.Target, e.Attribute)
}

// ProviderError wraps a provider rejection of a single resource operation.
// The failure is scoped to that resource; dependents are skipped, unrelated
// branches proceed.
type ProviderError struct {
	Address string
	Op      string // "plan", "apply", "read", "delete", "configure"
	Err     error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s failed for %s: %v", e.Op, e.Address, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// ProviderTimeoutError marks an operation whose outcome is ambiguous: the
// side effect may or may not have happened. The resource is recorded with
// an unknown status and re-verified on the next plan.
type ProviderTimeoutError struct {
	Address string
	Op      string
	Err     error
}

func (e *ProviderTimeoutError) Error() string {
	return fmt.Sprintf("provider %s timed out for %s: %v", e.Op, e.Address, e.Err)
}

func (e *ProviderTimeoutError) Unwrap() error { return e.Err }

// ReplacementRequiredError is returned when a plan calls for destroying and
// recreating a resource but replacement was not explicitly allowed.
type ReplacementRequiredError struct {
	Address           string
	ChangedAttributes []string
}

func (e *ReplacementRequiredError) Error() string {
	return fmt.Sprintf("resource %s requires replacement (immutable attributes changed: %s); re-run with --replace to destroy and recreate it",
		e.Address, strings.Join(e.ChangedAttributes, ", "))
}

// OutputUnavailableError marks a single named output whose referenced
// resource was never applied. Other outputs still evaluate.
type OutputUnavailableError struct {
	Output    string
	Reference string
	Reason    string
}

func (e *OutputUnavailableError) Error() string {
	if e.Reference != "" {
		return fmt.Sprintf("output %q unavailable: %s (%s)", e.Output, e.Reason, e.Reference)
	}
	return fmt.Sprintf("output %q unavailable: %s", e.Output, e.Reason)
}
