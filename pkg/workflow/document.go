// Package workflow implements the hyperagent workflow orchestrator.
//
// A workflow document declares a set of roles (LLM personas with system
// prompts and response parsers), a shared key/value state bag, and a flow
// made of an optional bootstrap step plus a repeating round of ordered
// steps. Steps are agent turns, external command invocations, nested
// workflow invocations, or pure data transforms. Transitions evaluated
// over parsed results advance steps, update state, or terminate the run
// with a labeled outcome.
//
// Documents load from YAML or JSON via ParseDocument and are immutable
// once validated. RunWorkflow executes a validated document against a
// set of collaborator interfaces (SessionProvider, ProcessRunner,
// Registry, provenance.Sink).
package workflow

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hyperagent/hyperagent/pkg/errors"
	"github.com/hyperagent/hyperagent/pkg/parser"
)

// Document is a declarative workflow definition. It is immutable once
// validated; the orchestrator never mutates it during a run.
type Document struct {
	// ID is the workflow identifier, unique per registry entry.
	ID string `yaml:"id" json:"id"`

	// Description provides human-readable context about the workflow.
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Model is the default model for agent sessions. Run options and
	// parent workflows may override it.
	Model string `yaml:"model,omitempty" json:"model,omitempty"`

	// Sessions declares the agent sessions this workflow uses.
	Sessions SessionConfig `yaml:"sessions,omitempty" json:"sessions,omitempty"`

	// Parsers maps parser names to schemas. Role parsers key into this map.
	Parsers map[string]*parser.Schema `yaml:"parsers,omitempty" json:"parsers,omitempty"`

	// Roles maps role names to LLM persona definitions.
	Roles map[string]*Role `yaml:"roles,omitempty" json:"roles,omitempty"`

	// User describes the run inputs, keyed by input name.
	User map[string]*parser.Schema `yaml:"user,omitempty" json:"user,omitempty"`

	// State configures the shared state bag.
	State *StateConfig `yaml:"state,omitempty" json:"state,omitempty"`

	// Flow is the bootstrap step plus the repeating round.
	Flow Flow `yaml:"flow" json:"flow"`
}

// SessionConfig declares the sessions a workflow opens at run start.
type SessionConfig struct {
	// Roles lists the roles that get a session, in declaration order.
	Roles []SessionRole `yaml:"roles,omitempty" json:"roles,omitempty"`
}

// SessionRole declares one session for a role.
type SessionRole struct {
	// Role references a key in Document.Roles.
	Role string `yaml:"role" json:"role"`

	// NameTemplate renders the session name (scope: {runId}). A stable
	// name lets the provider reuse an existing session across runs.
	// Empty means a fresh per-run session.
	NameTemplate string `yaml:"nameTemplate,omitempty" json:"nameTemplate,omitempty"`
}

// Role is an LLM persona: a system prompt, a response parser, and tool
// permissions.
type Role struct {
	// SystemPrompt guides the persona's behavior.
	SystemPrompt string `yaml:"systemPrompt" json:"systemPrompt"`

	// Parser references a key in Document.Parsers.
	Parser string `yaml:"parser" json:"parser"`

	// Tools grants tool permissions. Omitted keys default to false.
	Tools ToolPermissions `yaml:"tools,omitempty" json:"tools,omitempty"`
}

// StateConfig configures the shared state bag.
type StateConfig struct {
	// Initial maps state keys to template strings rendered once at run
	// start against {user, run.id, round: 0}.
	Initial map[string]string `yaml:"initial,omitempty" json:"initial,omitempty"`
}

// Flow is the control structure of a workflow.
type Flow struct {
	// Bootstrap runs once before the first round.
	Bootstrap *Step `yaml:"bootstrap,omitempty" json:"bootstrap,omitempty"`

	// Round is the repeating pass over the step list.
	Round Round `yaml:"round" json:"round"`
}

// Round is an ordered pass through the step list, repeated up to
// MaxRounds times.
type Round struct {
	// Start is the key of the first step of each round. Empty means the
	// first step in Steps.
	Start string `yaml:"start,omitempty" json:"start,omitempty"`

	// Steps are the round's steps; keys are unique within the round.
	Steps []Step `yaml:"steps" json:"steps"`

	// MaxRounds bounds the number of rounds.
	MaxRounds int `yaml:"maxRounds" json:"maxRounds"`

	// DefaultOutcome terminates the run when MaxRounds is exhausted.
	DefaultOutcome Outcome `yaml:"defaultOutcome" json:"defaultOutcome"`
}

// Outcome is a terminal run label with a rendered reason.
type Outcome struct {
	// Outcome is the user-defined terminal label (e.g. "approved").
	Outcome string `yaml:"outcome" json:"outcome"`

	// Reason is a template string rendered against the run scope at
	// termination.
	Reason string `yaml:"reason,omitempty" json:"reason,omitempty"`
}

// StepType selects a step's execution contract.
type StepType string

const (
	// StepAgent sends rendered prompts to a role's session.
	StepAgent StepType = "agent"
	// StepCli invokes an external command.
	StepCli StepType = "cli"
	// StepWorkflow invokes another workflow by id and awaits it.
	StepWorkflow StepType = "workflow"
	// StepTransform reshapes data without side effects.
	StepTransform StepType = "transform"
)

var validStepTypes = map[StepType]bool{
	StepAgent:     true,
	StepCli:       true,
	StepWorkflow:  true,
	StepTransform: true,
}

// CaptureMode selects how cli step output is captured.
type CaptureMode string

const (
	// CaptureText captures stdout/stderr as UTF-8 text (the default).
	CaptureText CaptureMode = "text"
	// CaptureBuffer captures stdout/stderr as raw bytes.
	CaptureBuffer CaptureMode = "buffer"
	// CaptureBoth captures both text and raw bytes.
	CaptureBoth CaptureMode = "both"
)

// Step is one unit of work within a round.
//
// The Type field selects the variant; only the fields of that variant
// may be set. Common fields (Key, Next, StateUpdates, Transitions,
// Exits) apply to all variants.
type Step struct {
	// Key is the unique step identifier within the round.
	Key string `yaml:"key" json:"key"`

	// Type selects the step variant (agent, cli, workflow, transform).
	Type StepType `yaml:"type" json:"type"`

	// Next names the step to run after this one when no transition
	// redirects. Empty means the following step in document order.
	Next string `yaml:"next,omitempty" json:"next,omitempty"`

	// StateUpdates maps state keys to template strings rendered against
	// the post-step scope (with parsed bound to this step's result).
	StateUpdates map[string]string `yaml:"stateUpdates,omitempty" json:"stateUpdates,omitempty"`

	// Transitions are evaluated in order after the step; the first
	// match fires. Transitions precede Exits.
	Transitions []Transition `yaml:"transitions,omitempty" json:"transitions,omitempty"`

	// Exits are terminal transitions evaluated when no transition fired.
	Exits []Transition `yaml:"exits,omitempty" json:"exits,omitempty"`

	// Role references a key in Document.Roles (agent steps).
	Role string `yaml:"role,omitempty" json:"role,omitempty"`

	// Prompt is the list of prompt templates sent as text parts
	// (agent steps).
	Prompt []string `yaml:"prompt,omitempty" json:"prompt,omitempty"`

	// Command is the executable to invoke (cli steps).
	Command string `yaml:"command,omitempty" json:"command,omitempty"`

	// Args are positional argument templates (cli steps). Mutually
	// exclusive with ArgsObject.
	Args []string `yaml:"args,omitempty" json:"args,omitempty"`

	// ArgsObject maps argument names to value templates (cli steps).
	// Arguments are emitted in lexicographic key order as
	// "--<key> <value>" pairs.
	ArgsObject map[string]string `yaml:"argsObject,omitempty" json:"argsObject,omitempty"`

	// ArgsSchema validates and coerces the rendered arguments.
	ArgsSchema *parser.Schema `yaml:"argsSchema,omitempty" json:"argsSchema,omitempty"`

	// Cwd is the working directory template (cli steps).
	Cwd string `yaml:"cwd,omitempty" json:"cwd,omitempty"`

	// StdinFrom names a scope path whose value is piped to the child
	// process; strings pass as UTF-8, byte buffers pass unchanged.
	StdinFrom string `yaml:"stdinFrom,omitempty" json:"stdinFrom,omitempty"`

	// Capture selects output capture (text, buffer, both). Empty means
	// text.
	Capture CaptureMode `yaml:"capture,omitempty" json:"capture,omitempty"`

	// WorkflowID references a registry entry (workflow steps).
	WorkflowID string `yaml:"workflowId,omitempty" json:"workflowId,omitempty"`

	// Input is the rendered input passed to the child workflow or
	// bound to transform scope.
	Input map[string]interface{} `yaml:"input,omitempty" json:"input,omitempty"`

	// InputSchema validates the rendered input.
	InputSchema *parser.Schema `yaml:"inputSchema,omitempty" json:"inputSchema,omitempty"`

	// Template is the structure whose string leaves are rendered
	// (transform steps).
	Template interface{} `yaml:"template,omitempty" json:"template,omitempty"`

	// Query is an optional jq program applied to the rendered template
	// (transform steps).
	Query string `yaml:"query,omitempty" json:"query,omitempty"`
}

// EffectiveCapture returns the step's capture mode, defaulting to text.
func (s *Step) EffectiveCapture() CaptureMode {
	if s.Capture == "" {
		return CaptureText
	}
	return s.Capture
}

// Transition is a conditional branch after a step. A transition with an
// Outcome terminates the run; one with Next redirects; one with neither
// only applies its state updates.
type Transition struct {
	// Condition guards the transition. The literal "always" matches
	// unconditionally.
	Condition *Condition `yaml:"condition" json:"condition"`

	// Outcome terminates the run with this label when set.
	Outcome string `yaml:"outcome,omitempty" json:"outcome,omitempty"`

	// Reason is a template rendered against the post-step scope.
	Reason string `yaml:"reason,omitempty" json:"reason,omitempty"`

	// StateUpdates are applied when the transition fires.
	StateUpdates map[string]string `yaml:"stateUpdates,omitempty" json:"stateUpdates,omitempty"`

	// Next redirects to the named step when set.
	Next string `yaml:"next,omitempty" json:"next,omitempty"`
}

// ParseDocument parses a workflow document from YAML or JSON bytes and
// validates it.
func ParseDocument(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &errors.SchemaError{
			Message:    fmt.Sprintf("failed to parse workflow document: %v", err),
			Suggestion: "check YAML/JSON syntax",
		}
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// LoadDocument reads and parses a workflow document from a file.
func LoadDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "loading workflow document %s", path)
	}
	return ParseDocument(data)
}

// role returns the role definition, or nil.
func (d *Document) role(name string) *Role {
	if d.Roles == nil {
		return nil
	}
	return d.Roles[name]
}

// sessionRole returns the session declaration for a role, or nil.
func (d *Document) sessionRole(name string) *SessionRole {
	for i := range d.Sessions.Roles {
		if d.Sessions.Roles[i].Role == name {
			return &d.Sessions.Roles[i]
		}
	}
	return nil
}

// stepIndex returns the index of the step with the given key, or -1.
func (r *Round) stepIndex(key string) int {
	for i := range r.Steps {
		if r.Steps[i].Key == key {
			return i
		}
	}
	return -1
}
