package ir

// Per-resource apply outcomes.
const (
	ResultCreated   = "created"
	ResultUpdated   = "updated"
	ResultDeleted   = "deleted"
	ResultUnchanged = "unchanged"
	ResultFailed    = "failed"
	ResultSkipped   = "skipped"
	ResultUnknown   = "unknown"
)

// ApplyReport records what happened to every resource in an apply run,
// including resources that were never attempted because an upstream
// dependency failed.
type ApplyReport struct {
	Results []*ApplyResult
}

type ApplyResult struct {
	Address string
	Action  string // planned action
	Outcome string // one of the Result* constants
	Err     error  // non-nil for failed and unknown outcomes
}

// Outcome returns the recorded result for an address, or nil.
func (r *ApplyReport) Outcome(address string) *ApplyResult {
	for _, res := range r.Results {
		if res.Address == address {
			return res
		}
	}
	return nil
}

// Failed reports whether any resource failed or was left in an unknown
// state.
func (r *ApplyReport) Failed() bool {
	for _, res := range r.Results {
		if res.Outcome == ResultFailed || res.Outcome == ResultUnknown {
			return true
		}
	}
	return false
}
