package workflow

import (
	"fmt"

	"github.com/itchyny/gojq"

	"github.com/hyperagent/hyperagent/pkg/errors"
)

// Validate checks the document's structural and referential integrity.
// Parsing calls it automatically; callers constructing documents in code
// should call it before RunWorkflow.
func (d *Document) Validate() error {
	if d.ID == "" {
		return &errors.SchemaError{
			Field:      "id",
			Message:    "workflow id is required",
			Suggestion: "add a unique id field to the document",
		}
	}

	for name, schema := range d.Parsers {
		if schema == nil {
			return schemaErrf("parsers."+name, "parser schema is empty")
		}
		if err := schema.Validate(); err != nil {
			return schemaErrf("parsers."+name, "invalid parser schema: %v", err)
		}
	}

	for name, role := range d.Roles {
		if err := d.validateRole(name, role); err != nil {
			return err
		}
	}

	for i, sr := range d.Sessions.Roles {
		field := fmt.Sprintf("sessions.roles[%d]", i)
		if sr.Role == "" {
			return schemaErrf(field+".role", "session role is required")
		}
		if d.role(sr.Role) == nil {
			return schemaErrf(field+".role", "session references unknown role %q", sr.Role)
		}
		if err := ValidateTemplate(sr.NameTemplate); err != nil {
			return schemaErrf(field+".nameTemplate", "invalid template: %v", err)
		}
	}

	for name, schema := range d.User {
		if schema == nil {
			return schemaErrf("user."+name, "input schema is empty")
		}
		if err := schema.Validate(); err != nil {
			return schemaErrf("user."+name, "invalid input schema: %v", err)
		}
	}

	if d.State != nil {
		for key, tmpl := range d.State.Initial {
			if err := ValidateTemplate(tmpl); err != nil {
				return schemaErrf("state.initial."+key, "invalid template: %v", err)
			}
		}
	}

	return d.validateFlow()
}

func (d *Document) validateRole(name string, role *Role) error {
	field := "roles." + name
	if role == nil {
		return schemaErrf(field, "role definition is empty")
	}
	if role.SystemPrompt == "" {
		return schemaErrf(field+".systemPrompt", "system prompt is required")
	}
	if role.Parser != "" {
		if _, ok := d.Parsers[role.Parser]; !ok {
			return &errors.SchemaError{
				Field:      field + ".parser",
				Message:    fmt.Sprintf("role references unknown parser %q", role.Parser),
				Suggestion: "declare the parser under the top-level parsers map",
			}
		}
	}
	return nil
}

func (d *Document) validateFlow() error {
	round := &d.Flow.Round

	if len(round.Steps) == 0 {
		return &errors.SchemaError{
			Field:      "flow.round.steps",
			Message:    "a round requires at least one step",
			Suggestion: "add a step to flow.round.steps",
		}
	}
	if round.MaxRounds < 1 {
		return schemaErrf("flow.round.maxRounds", "maxRounds must be at least 1, got %d", round.MaxRounds)
	}
	if round.DefaultOutcome.Outcome == "" {
		return &errors.SchemaError{
			Field:      "flow.round.defaultOutcome.outcome",
			Message:    "defaultOutcome is required so exhausted runs terminate with a label",
			Suggestion: "add flow.round.defaultOutcome with an outcome label",
		}
	}
	if err := ValidateTemplate(round.DefaultOutcome.Reason); err != nil {
		return schemaErrf("flow.round.defaultOutcome.reason", "invalid template: %v", err)
	}

	seen := make(map[string]bool, len(round.Steps))
	for i := range round.Steps {
		key := round.Steps[i].Key
		if key == "" {
			return schemaErrf(fmt.Sprintf("flow.round.steps[%d].key", i), "step key is required")
		}
		if seen[key] {
			return schemaErrf(fmt.Sprintf("flow.round.steps[%d].key", i), "duplicate step key %q", key)
		}
		seen[key] = true
	}

	if round.Start != "" && round.stepIndex(round.Start) < 0 {
		return &errors.SchemaError{
			Field:      "flow.round.start",
			Message:    fmt.Sprintf("start references unknown step %q", round.Start),
			Suggestion: "use the key of a step declared in flow.round.steps",
		}
	}

	for i := range round.Steps {
		step := &round.Steps[i]
		field := fmt.Sprintf("flow.round.steps[%d]", i)
		if err := d.validateStep(step, field, round, false); err != nil {
			return err
		}
	}

	if d.Flow.Bootstrap != nil {
		return d.validateStep(d.Flow.Bootstrap, "flow.bootstrap", round, true)
	}
	return nil
}

// validateStep checks one step. Bootstrap steps carry extra restrictions:
// they run once outside the round loop, so step sequencing fields
// (next, transitions with next) have nothing to point at and are
// rejected.
func (d *Document) validateStep(step *Step, field string, round *Round, bootstrap bool) error {
	if !validStepTypes[step.Type] {
		return &errors.SchemaError{
			Field:      field + ".type",
			Message:    fmt.Sprintf("unknown step type %q", step.Type),
			Suggestion: "use one of: agent, cli, workflow, transform",
		}
	}

	if bootstrap {
		if step.Key == "" {
			return schemaErrf(field+".key", "step key is required")
		}
		if step.Next != "" {
			return schemaErrf(field+".next", "bootstrap steps cannot set next")
		}
		if len(step.Transitions) > 0 {
			return schemaErrf(field+".transitions", "bootstrap steps support only stateUpdates and exits")
		}
	} else if step.Next != "" && round.stepIndex(step.Next) < 0 {
		return schemaErrf(field+".next", "next references unknown step %q", step.Next)
	}

	for key, tmpl := range step.StateUpdates {
		if err := ValidateTemplate(tmpl); err != nil {
			return schemaErrf(field+".stateUpdates."+key, "invalid template: %v", err)
		}
	}

	for i := range step.Transitions {
		tf := fmt.Sprintf("%s.transitions[%d]", field, i)
		if err := d.validateTransition(&step.Transitions[i], tf, round, false); err != nil {
			return err
		}
	}
	for i := range step.Exits {
		tf := fmt.Sprintf("%s.exits[%d]", field, i)
		if err := d.validateTransition(&step.Exits[i], tf, round, true); err != nil {
			return err
		}
	}

	switch step.Type {
	case StepAgent:
		return d.validateAgentStep(step, field)
	case StepCli:
		return d.validateCliStep(step, field)
	case StepWorkflow:
		return d.validateWorkflowStep(step, field)
	case StepTransform:
		return d.validateTransformStep(step, field)
	}
	return nil
}

func (d *Document) validateAgentStep(step *Step, field string) error {
	if step.Role == "" {
		return schemaErrf(field+".role", "agent steps require a role")
	}
	if d.role(step.Role) == nil {
		return &errors.SchemaError{
			Field:      field + ".role",
			Message:    fmt.Sprintf("step references unknown role %q", step.Role),
			Suggestion: "declare the role under the top-level roles map",
		}
	}
	if len(step.Prompt) == 0 {
		return schemaErrf(field+".prompt", "agent steps require at least one prompt part")
	}
	for i, tmpl := range step.Prompt {
		if err := ValidateTemplate(tmpl); err != nil {
			return schemaErrf(fmt.Sprintf("%s.prompt[%d]", field, i), "invalid template: %v", err)
		}
	}
	return nil
}

func (d *Document) validateCliStep(step *Step, field string) error {
	if step.Command == "" {
		return schemaErrf(field+".command", "cli steps require a command")
	}
	if len(step.Args) > 0 && len(step.ArgsObject) > 0 {
		return &errors.SchemaError{
			Field:      field,
			Message:    "args and argsObject are mutually exclusive",
			Suggestion: "use args for positional arguments or argsObject for flag pairs, not both",
		}
	}
	for i, tmpl := range step.Args {
		if err := ValidateTemplate(tmpl); err != nil {
			return schemaErrf(fmt.Sprintf("%s.args[%d]", field, i), "invalid template: %v", err)
		}
	}
	for key, tmpl := range step.ArgsObject {
		if err := ValidateTemplate(tmpl); err != nil {
			return schemaErrf(field+".argsObject."+key, "invalid template: %v", err)
		}
	}
	if step.ArgsSchema != nil {
		if err := step.ArgsSchema.Validate(); err != nil {
			return schemaErrf(field+".argsSchema", "invalid schema: %v", err)
		}
	}
	if err := ValidateTemplate(step.Cwd); err != nil {
		return schemaErrf(field+".cwd", "invalid template: %v", err)
	}
	switch step.EffectiveCapture() {
	case CaptureText, CaptureBuffer, CaptureBoth:
	default:
		return &errors.SchemaError{
			Field:      field + ".capture",
			Message:    fmt.Sprintf("unknown capture mode %q", step.Capture),
			Suggestion: "use one of: text, buffer, both",
		}
	}
	return nil
}

func (d *Document) validateWorkflowStep(step *Step, field string) error {
	if step.WorkflowID == "" {
		return schemaErrf(field+".workflowId", "workflow steps require a workflowId")
	}
	if err := validateTemplateTree(step.Input); err != nil {
		return schemaErrf(field+".input", "invalid template: %v", err)
	}
	if step.InputSchema != nil {
		if err := step.InputSchema.Validate(); err != nil {
			return schemaErrf(field+".inputSchema", "invalid schema: %v", err)
		}
	}
	return nil
}

func (d *Document) validateTransformStep(step *Step, field string) error {
	if step.Template == nil && step.Query == "" {
		return &errors.SchemaError{
			Field:      field,
			Message:    "transform steps require a template, a query, or both",
			Suggestion: "add a template structure or a jq query",
		}
	}
	if err := validateTemplateTree(step.Template); err != nil {
		return schemaErrf(field+".template", "invalid template: %v", err)
	}
	if step.Query != "" {
		if _, err := gojq.Parse(step.Query); err != nil {
			return &errors.SchemaError{
				Field:      field + ".query",
				Message:    fmt.Sprintf("invalid jq query: %v", err),
				Suggestion: "check the jq program syntax",
			}
		}
	}
	return nil
}

// validateTransition checks one transition. Exits are terminal, so they
// must carry an outcome and cannot redirect.
func (d *Document) validateTransition(t *Transition, field string, round *Round, exit bool) error {
	if t.Condition == nil {
		return schemaErrf(field+".condition", "condition is required")
	}
	if err := t.Condition.Validate(); err != nil {
		return schemaErrf(field+".condition", "%v", err)
	}
	if err := ValidateTemplate(t.Reason); err != nil {
		return schemaErrf(field+".reason", "invalid template: %v", err)
	}
	for key, tmpl := range t.StateUpdates {
		if err := ValidateTemplate(tmpl); err != nil {
			return schemaErrf(field+".stateUpdates."+key, "invalid template: %v", err)
		}
	}

	if exit {
		if t.Outcome == "" {
			return schemaErrf(field+".outcome", "exits require an outcome label")
		}
		if t.Next != "" {
			return schemaErrf(field+".next", "exits terminate the run and cannot set next")
		}
		return nil
	}

	if t.Outcome != "" && t.Next != "" {
		return &errors.SchemaError{
			Field:      field,
			Message:    "a transition cannot both terminate (outcome) and redirect (next)",
			Suggestion: "split into separate transitions",
		}
	}
	if t.Next != "" && round.stepIndex(t.Next) < 0 {
		return schemaErrf(field+".next", "next references unknown step %q", t.Next)
	}
	return nil
}

// validateTemplateTree walks a JSON-like structure checking template
// syntax on every string leaf.
func validateTemplateTree(value interface{}) error {
	switch v := value.(type) {
	case string:
		return ValidateTemplate(v)
	case map[string]interface{}:
		for k, item := range v {
			if err := validateTemplateTree(item); err != nil {
				return fmt.Errorf("%s: %w", k, err)
			}
		}
	case []interface{}:
		for i, item := range v {
			if err := validateTemplateTree(item); err != nil {
				return fmt.Errorf("[%d]: %w", i, err)
			}
		}
	}
	return nil
}

func schemaErrf(field, format string, args ...interface{}) error {
	return &errors.SchemaError{
		Field:   field,
		Message: fmt.Sprintf(format, args...),
	}
}
