package ir

// Resource status values persisted in state. An empty status means healthy;
// StatusUnknown is recorded after an ambiguous timeout and must be
// reconciled via a provider Read before any destructive action.
const (
	StatusUnknown = "unknown"
)

// State represents the persistent state.
type State struct {
	Version   int              `pkl:"version"`
	Serial    int              `pkl:"serial"`
	Lineage   string           `pkl:"lineage"`
	Resources []*ResourceState `pkl:"resources"`
	Outputs   map[string]any   `pkl:"outputs"`
}

type ResourceState struct {
	Type         string         `pkl:"type"`
	Name         string         `pkl:"name"`
	Provider     string         `pkl:"provider"`
	Inputs       map[string]any `pkl:"inputs"` // User provided
	InputsHash   string         `pkl:"inputsHash"`
	Outputs      map[string]any `pkl:"outputs"` // Provider returned
	Dependencies []string       `pkl:"dependencies"`
	Status       string         `pkl:"status"` // "" or "unknown"
}
