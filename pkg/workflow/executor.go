package workflow

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/hyperagent/hyperagent/pkg/errors"
	"github.com/hyperagent/hyperagent/pkg/parser"
	"github.com/hyperagent/hyperagent/pkg/provenance"
)

// execute dispatches a step to its executor. The returned parts are the
// provider response parts for agent steps, nil otherwise.
func (e *engine) execute(ctx context.Context, step *Step, scope Scope) (*StepResult, []MessagePart, error) {
	switch step.Type {
	case StepAgent:
		return e.executeAgent(ctx, step, scope)
	case StepCli:
		result, err := e.executeCli(ctx, step, scope)
		return result, nil, err
	case StepWorkflow:
		result, err := e.executeWorkflow(ctx, step, scope)
		return result, nil, err
	case StepTransform:
		result, err := e.executeTransform(ctx, step, scope)
		return result, nil, err
	default:
		return nil, nil, fmt.Errorf("unknown step type %q", step.Type)
	}
}

// executeAgent renders the prompt parts, sends them on the role's
// session, and parses the final text part through the role's parser.
func (e *engine) executeAgent(ctx context.Context, step *Step, scope Scope) (*StepResult, []MessagePart, error) {
	role := e.doc.role(step.Role)

	parts := make([]MessagePart, 0, len(step.Prompt))
	prompts := make([]string, 0, len(step.Prompt))
	for i, tmpl := range step.Prompt {
		text, err := Render(tmpl, scope)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "rendering prompt[%d] of step %s", i, step.Key)
		}
		parts = append(parts, TextPart(text))
		prompts = append(prompts, text)
	}

	session, err := e.sessions.session(ctx, step.Role)
	if err != nil {
		return nil, nil, err
	}

	if err := e.appendLog("user", map[string]interface{}{
		"step":    step.Key,
		"prompts": prompts,
	}); err != nil {
		return nil, nil, err
	}

	resp, err := e.provider.Prompt(ctx, PromptRequest{
		Session:   session,
		Parts:     parts,
		Model:     e.model,
		AgentName: step.Role,
	})
	if err != nil {
		return nil, nil, &errors.ProviderError{Operation: "prompt", Message: "step " + step.Key, Cause: err}
	}

	raw := finalText(resp.Parts)

	// The reply goes into the record before parsing so a parse failure
	// still leaves the offending reply in the audit trail.
	if err := e.appendLog(e.doc.ID+"."+step.Role, map[string]interface{}{
		"step":      step.Key,
		"messageId": resp.MessageID,
		"parts":     resp.Parts,
	}); err != nil {
		return nil, nil, err
	}

	parsed, err := e.parseAgentOutput(role, step.Role, raw)
	if err != nil {
		return nil, nil, err
	}

	return &StepResult{Type: StepAgent, Key: step.Key, Raw: raw, Parsed: parsed}, resp.Parts, nil
}

// finalText returns the last text part's content.
func finalText(parts []MessagePart) string {
	for i := len(parts) - 1; i >= 0; i-- {
		if parts[i].Type == "text" {
			return parts[i].Text
		}
	}
	return ""
}

// parseAgentOutput applies the role's parser to the raw reply. Replies
// that are not valid JSON get one extraction pass (fences and
// surrounding prose stripped). An unparseable reply fails unless the
// parser is unknown (or the role declares none), in which case the raw
// text stands in as the parsed value.
func (e *engine) parseAgentOutput(role *Role, roleName, raw string) (interface{}, error) {
	var schema *parser.Schema
	if role.Parser != "" {
		schema = e.doc.Parsers[role.Parser]
	}
	lenient := schema == nil || schema.EffectiveType() == parser.TypeUnknown

	value, ok := parser.ExtractJSON(raw)
	if !ok {
		if lenient {
			return raw, nil
		}
		return nil, &errors.ParseError{
			Role:  roleName,
			Raw:   raw,
			Cause: errors.New("reply is not valid JSON"),
		}
	}
	if schema == nil {
		return value, nil
	}

	validator, err := parser.Compile(schema)
	if err != nil {
		return nil, err
	}
	coerced, err := validator.Validate(value)
	if err != nil {
		return nil, &errors.ParseError{Role: roleName, Raw: raw, Cause: err}
	}
	return coerced, nil
}

// executeCli renders the command arguments, spawns the process, and
// surfaces the exit code as data. Spawn failures are fatal.
func (e *engine) executeCli(ctx context.Context, step *Step, scope Scope) (*StepResult, error) {
	args, err := e.renderArgs(step, scope)
	if err != nil {
		return nil, err
	}

	cwd, err := Render(step.Cwd, scope)
	if err != nil {
		return nil, errors.Wrapf(err, "rendering cwd of step %s", step.Key)
	}

	req := ProcessRequest{
		Command: step.Command,
		Args:    args,
		Cwd:     cwd,
		Capture: step.EffectiveCapture(),
	}
	if step.StdinFrom != "" {
		value, defined := scope.Resolve(step.StdinFrom)
		if !defined {
			return nil, errors.New("stdinFrom path " + step.StdinFrom + " is undefined in step " + step.Key)
		}
		req.Stdin = stdinBytes(value)
		req.HasStdin = true
	}

	res, err := e.runner(ctx, req)
	if err != nil {
		return nil, err
	}

	argValues := make([]interface{}, len(args))
	for i, a := range args {
		argValues[i] = a
	}
	parsed := map[string]interface{}{
		"stdout":   res.Stdout,
		"stderr":   res.Stderr,
		"exitCode": res.ExitCode,
		"args":     argValues,
	}
	if res.StdoutBuffer != nil {
		parsed["stdoutBuffer"] = res.StdoutBuffer
	}
	if res.StderrBuffer != nil {
		parsed["stderrBuffer"] = res.StderrBuffer
	}

	if err := e.appendLog(fmt.Sprintf("%s.cli.%s", e.doc.ID, step.Key), map[string]interface{}{
		"command":  step.Command,
		"args":     args,
		"exitCode": res.ExitCode,
		"stdout":   provenance.Truncate(res.Stdout),
		"stderr":   provenance.Truncate(res.Stderr),
	}); err != nil {
		return nil, err
	}

	return &StepResult{Type: StepCli, Key: step.Key, Raw: res.Stdout, Parsed: parsed, Args: argValues}, nil
}

// renderArgs renders args or argsObject, passing the result through
// argsSchema when present. Object arguments are emitted in
// lexicographic key order as "--<key> <value>" pairs.
func (e *engine) renderArgs(step *Step, scope Scope) ([]string, error) {
	if len(step.ArgsObject) > 0 {
		rendered, err := RenderMap(step.ArgsObject, scope)
		if err != nil {
			return nil, errors.Wrapf(err, "rendering argsObject of step %s", step.Key)
		}

		values := make(map[string]interface{}, len(rendered))
		for k, v := range rendered {
			var prop *parser.Schema
			if step.ArgsSchema != nil {
				prop = step.ArgsSchema.Properties[k]
			}
			values[k] = coerceRendered(prop, v)
		}
		coerced, err := e.coerceArgs(step, values)
		if err != nil {
			return nil, err
		}

		keys := make([]string, 0, len(coerced))
		for k := range coerced {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		args := make([]string, 0, len(keys)*2)
		for _, k := range keys {
			args = append(args, "--"+k, stringify(coerced[k]))
		}
		return args, nil
	}

	args := make([]string, len(step.Args))
	for i, tmpl := range step.Args {
		rendered, err := Render(tmpl, scope)
		if err != nil {
			return nil, errors.Wrapf(err, "rendering args[%d] of step %s", i, step.Key)
		}
		args[i] = rendered
	}
	if step.ArgsSchema != nil {
		values := make([]interface{}, len(args))
		for i, a := range args {
			values[i] = coerceRendered(step.ArgsSchema.Items, a)
		}
		coerced, err := e.validateArgs(step, values)
		if err != nil {
			return nil, err
		}
		list, ok := coerced.([]interface{})
		if !ok {
			return nil, errors.New("argsSchema of step " + step.Key + " must yield an array")
		}
		out := make([]string, len(list))
		for i, v := range list {
			out[i] = stringify(v)
		}
		return out, nil
	}
	return args, nil
}

func (e *engine) coerceArgs(step *Step, values map[string]interface{}) (map[string]interface{}, error) {
	if step.ArgsSchema == nil {
		return values, nil
	}
	coerced, err := e.validateArgs(step, values)
	if err != nil {
		return nil, err
	}
	m, ok := coerced.(map[string]interface{})
	if !ok {
		return nil, errors.New("argsSchema of step " + step.Key + " must yield an object")
	}
	return m, nil
}

func (e *engine) validateArgs(step *Step, value interface{}) (interface{}, error) {
	validator, err := parser.Compile(step.ArgsSchema)
	if err != nil {
		return nil, err
	}
	coerced, err := validator.Validate(value)
	if err != nil {
		return nil, errors.Wrapf(err, "validating args of step %s", step.Key)
	}
	return coerced, nil
}

// coerceRendered re-types a rendered template string for its schema.
// Rendering always yields strings; number and boolean schemas expect
// their own types, so parseable strings convert before validation.
func coerceRendered(schema *parser.Schema, value string) interface{} {
	if schema == nil {
		return value
	}
	switch schema.EffectiveType() {
	case parser.TypeNumber:
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	case parser.TypeBoolean:
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return value
}

// stdinBytes encodes a scope value for a child process: buffers pass
// unchanged, strings as UTF-8, everything else as canonical JSON.
func stdinBytes(value interface{}) []byte {
	switch v := value.(type) {
	case []byte:
		return v
	case string:
		return []byte(v)
	default:
		return []byte(parser.CanonicalJSON(v))
	}
}

// executeWorkflow resolves the child document, renders and validates
// its input, and awaits a full child run.
func (e *engine) executeWorkflow(ctx context.Context, step *Step, scope Scope) (*StepResult, error) {
	child, err := e.registry.Resolve(step.WorkflowID)
	if err != nil {
		return nil, err
	}

	input, err := e.renderInput(step, scope)
	if err != nil {
		return nil, err
	}

	childRunID := uuid.NewString()
	if err := e.appendLog(fmt.Sprintf("%s.workflow.%s", e.doc.ID, step.Key), map[string]interface{}{
		"workflowId": step.WorkflowID,
		"runId":      childRunID,
		"input":      input,
	}); err != nil {
		return nil, err
	}

	// The child inherits the session dir and collaborators; its own
	// model declaration wins over the inherited one.
	childModel := e.model
	if child.Model != "" {
		childModel = child.Model
	}
	childOpts := Options{
		User:       input,
		SessionDir: e.sessionDir,
		Model:      childModel,
		OnStream:   e.onStream,
		Workflows:  e.registry,
		Provider:   e.provider,
		RunCLI:     e.runner,
		Sink:       e.sink,
		Logger:     e.logger,
	}

	result, err := executeRun(ctx, child, childOpts, childRunID)
	if err != nil {
		return nil, &errors.ChildWorkflowError{WorkflowID: step.WorkflowID, RunID: childRunID, Cause: err}
	}

	parsed := map[string]interface{}{
		"outcome": result.Outcome,
		"reason":  result.Reason,
		"runId":   result.RunID,
		"rounds":  len(result.Rounds),
		"details": result,
	}
	return &StepResult{
		Type:   StepWorkflow,
		Key:    step.Key,
		Raw:    parser.CanonicalJSON(parsed),
		Parsed: parsed,
	}, nil
}

// executeTransform renders the template tree, optionally over the
// step's validated input, then applies the jq query.
func (e *engine) executeTransform(ctx context.Context, step *Step, scope Scope) (*StepResult, error) {
	if step.Input != nil {
		input, err := e.renderInput(step, scope)
		if err != nil {
			return nil, err
		}
		scope = scope.With("input", input)
	}

	rendered, err := RenderTree(normalizeYAML(step.Template), scope)
	if err != nil {
		return nil, errors.Wrapf(err, "rendering template of step %s", step.Key)
	}

	parsed := rendered
	if step.Query != "" {
		parsed, err = e.jq.Execute(ctx, step.Query, rendered)
		if err != nil {
			return nil, errors.Wrapf(err, "query of step %s", step.Key)
		}
	}

	return &StepResult{
		Type:   StepTransform,
		Key:    step.Key,
		Raw:    parser.CanonicalJSON(parsed),
		Parsed: parsed,
	}, nil
}

// renderInput renders the step's input map and validates it against
// inputSchema when present.
func (e *engine) renderInput(step *Step, scope Scope) (map[string]interface{}, error) {
	rendered, err := RenderTree(normalizeYAML(step.Input), scope)
	if err != nil {
		return nil, errors.Wrapf(err, "rendering input of step %s", step.Key)
	}
	input, _ := rendered.(map[string]interface{})
	if input == nil {
		input = map[string]interface{}{}
	}

	if step.InputSchema != nil {
		validator, err := parser.Compile(step.InputSchema)
		if err != nil {
			return nil, err
		}
		coerced, err := validator.Validate(input)
		if err != nil {
			return nil, errors.Wrapf(err, "validating input of step %s", step.Key)
		}
		if m, ok := coerced.(map[string]interface{}); ok {
			return m, nil
		}
	}
	return input, nil
}

// normalizeYAML rewrites yaml.v3 decoding artifacts into plain JSON
// shapes so rendering and validation see uniform types.
func normalizeYAML(value interface{}) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, item := range v {
			out[k] = normalizeYAML(item)
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, item := range v {
			out[fmt.Sprintf("%v", k)] = normalizeYAML(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = normalizeYAML(item)
		}
		return out
	case int:
		return float64(v)
	default:
		return value
	}
}

func (e *engine) appendLog(role string, payload interface{}) error {
	return e.sink.Append(e.runID, provenance.LogEntry{
		Role:      role,
		Timestamp: time.Now(),
		Payload:   payload,
	})
}
