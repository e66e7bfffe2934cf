package workflow

import "github.com/hyperagent/hyperagent/pkg/parser"

// EventType classifies streaming events emitted during a run.
type EventType string

const (
	// EventRunStarted fires once after the run scope is initialized.
	EventRunStarted EventType = "run_started"
	// EventStepCompleted fires after each step executes, before its
	// transitions are applied.
	EventStepCompleted EventType = "step_completed"
	// EventRunFinished fires once with the terminal outcome.
	EventRunFinished EventType = "run_finished"
)

// Event is one streaming notification. Fields beyond Type and RunID are
// populated per event kind.
type Event struct {
	Type  EventType `json:"type"`
	RunID string    `json:"runId"`

	// Step and Round identify the completed step (step_completed).
	Step  string `json:"step,omitempty"`
	Round int    `json:"round,omitempty"`

	// Parts are the response parts the step produced (agent steps).
	Parts []MessagePart `json:"parts,omitempty"`

	// ParsedSummary is a capped canonical JSON rendering of the step's
	// parsed result.
	ParsedSummary string `json:"parsedSummary,omitempty"`

	// Outcome and Reason carry the terminal result (run_finished).
	Outcome string `json:"outcome,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// StreamFunc receives events in emission order. Callbacks run on the
// run's worker goroutine; slow callbacks delay the run.
type StreamFunc func(Event)

// parsedSummaryCap bounds the parsed summary carried on an event.
const parsedSummaryCap = 512

func summarizeParsed(parsed interface{}) string {
	if parsed == nil {
		return ""
	}
	s, ok := parsed.(string)
	if !ok {
		s = parser.CanonicalJSON(parsed)
	}
	if len(s) > parsedSummaryCap {
		return s[:parsedSummaryCap] + "..."
	}
	return s
}
