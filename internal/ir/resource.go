package ir

import "time"

// Resource represents a single declared resource.
type Resource struct {
	Type       string         `pkl:"type"` // e.g., "google:AlloyDB.Cluster"
	Name       string         `pkl:"name"`
	Provider   string         `pkl:"provider"`
	Lifecycle  *Lifecycle     `pkl:"lifecycle"`
	DependsOn  []string       `pkl:"dependsOn"`
	Properties map[string]any `pkl:"properties"` // literals, lists, maps, ptr:// references
	Count      int            `pkl:"count"`
	ForEach    map[string]any `pkl:"forEach"`
	Timeout    *time.Duration `pkl:"timeout"`
}

type Lifecycle struct {
	CreateBeforeDestroy bool     `pkl:"createBeforeDestroy"`
	PreventDestroy      bool     `pkl:"preventDestroy"`
	IgnoreChanges       []string `pkl:"ignoreChanges"`
}
