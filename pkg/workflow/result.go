package workflow

// StepResult is the outcome of one executed step.
type StepResult struct {
	// Type is the step variant that produced the result.
	Type StepType `json:"type"`

	// Key is the step's key.
	Key string `json:"key"`

	// Raw is the unparsed output: the final text part (agent), stdout
	// (cli), or the canonical JSON of parsed (transform, workflow).
	Raw string `json:"raw,omitempty"`

	// Parsed is the structured output bound to scope as parsed and
	// under steps.<key>.parsed.
	Parsed interface{} `json:"parsed,omitempty"`

	// Args are the rendered command arguments (cli steps only), bound
	// to scope as args for the step's own transitions and exits.
	Args []interface{} `json:"args,omitempty"`
}

// scopeEntry is the per-step record published under scope.steps.
func (r *StepResult) scopeEntry() map[string]interface{} {
	return map[string]interface{}{
		"raw":    r.Raw,
		"parsed": r.Parsed,
	}
}

// RoundRecord summarizes one executed round.
type RoundRecord struct {
	// Round is the 1-based round number.
	Round int `json:"round"`

	// Steps are the keys of the steps that executed, in order.
	Steps []string `json:"steps"`
}

// RunResult is the terminal result of a run.
type RunResult struct {
	// RunID identifies the run.
	RunID string `json:"runId"`

	// Outcome is the terminal label. Workflows mint their own labels;
	// the orchestrator only mints the defaultOutcome at round
	// exhaustion.
	Outcome string `json:"outcome"`

	// Reason is the rendered reason attached to the outcome.
	Reason string `json:"reason,omitempty"`

	// Rounds records the executed rounds.
	Rounds []RoundRecord `json:"rounds"`
}
