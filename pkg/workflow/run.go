package workflow

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hyperagent/hyperagent/internal/jq"
	"github.com/hyperagent/hyperagent/internal/log"
	"github.com/hyperagent/hyperagent/pkg/errors"
	"github.com/hyperagent/hyperagent/pkg/parser"
	"github.com/hyperagent/hyperagent/pkg/provenance"
)

// Options configures one run.
type Options struct {
	// User are the run inputs, validated against the document's user
	// schemas before the flow starts.
	User map[string]interface{}

	// SessionDir is the working directory for sessions and provenance.
	// Required.
	SessionDir string

	// Model overrides the document's model.
	Model string

	// MaxRounds overrides the document's round bound when positive.
	MaxRounds int

	// OnStream receives run events. Optional.
	OnStream StreamFunc

	// Workflows resolves workflow steps. Defaults to an empty registry.
	Workflows Registry

	// Provider is the LLM backend. Required when the document has
	// agent steps.
	Provider SessionProvider

	// RunCLI overrides the process runner. Defaults to ExecRunner.
	RunCLI ProcessRunner

	// Sink overrides the provenance sink. Defaults to a FileSink under
	// SessionDir.
	Sink provenance.Sink

	// Logger overrides the logger. Defaults to the environment config.
	Logger *slog.Logger
}

// RunHandle is the caller's view of a started run. The run id is
// available immediately; the result arrives through Wait.
type RunHandle struct {
	// RunID identifies the run.
	RunID string

	cancel context.CancelFunc
	done   chan struct{}
	result *RunResult
	err    error
}

// Wait blocks until the run terminates or the given context is done.
// It returns the terminal result, or the fatal error that ended the
// run (cancelled, schema, parse, spawn, child).
func (h *RunHandle) Wait(ctx context.Context) (*RunResult, error) {
	select {
	case <-h.done:
		return h.result, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel signals the run's active collaborator and rejects the result
// with CancelledError. Safe to call more than once.
func (h *RunHandle) Cancel() {
	h.cancel()
}

// RunWorkflow starts a run of a validated document on its own worker
// goroutine and returns a handle immediately. Input validation happens
// on the worker; its failure surfaces through Wait as
// InputValidationError.
func RunWorkflow(doc *Document, opts Options) (*RunHandle, error) {
	if doc == nil {
		return nil, errors.New("workflow document is required")
	}
	if opts.SessionDir == "" {
		return nil, errors.New("sessionDir is required")
	}
	if opts.Provider == nil && hasAgentSteps(doc) {
		return nil, errors.New("workflow " + doc.ID + " has agent steps but no session provider was supplied")
	}

	ctx, cancel := context.WithCancel(context.Background())
	handle := &RunHandle{
		RunID:  uuid.NewString(),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer cancel()
		handle.result, handle.err = executeRun(ctx, doc, opts, handle.RunID)
		close(handle.done)
	}()

	return handle, nil
}

// executeRun performs one run synchronously. Workflow steps call it
// recursively for child runs, which is why it is separate from the
// handle plumbing.
func executeRun(ctx context.Context, doc *Document, opts Options, runID string) (*RunResult, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.FromEnv())
	}
	logger = log.WithRunContext(logger, runID, doc.ID)

	user, err := validateUser(doc, opts.User)
	if err != nil {
		logger.Error("input validation failed", "error", err)
		return nil, err
	}

	sink := opts.Sink
	if sink == nil {
		sink = provenance.NewFileSink(opts.SessionDir)
	}
	runner := opts.RunCLI
	if runner == nil {
		runner = ExecRunner
	}
	registry := opts.Workflows
	if registry == nil {
		registry = MapRegistry{}
	}

	model := opts.Model
	if model == "" {
		model = doc.Model
	}
	maxRounds := opts.MaxRounds
	if maxRounds <= 0 {
		maxRounds = doc.Flow.Round.MaxRounds
	}

	if err := sink.Begin(runID, doc.ID, time.Now()); err != nil {
		return nil, errors.Wrap(err, "opening provenance record")
	}

	eng := &engine{
		doc:        doc,
		runID:      runID,
		user:       user,
		model:      model,
		maxRounds:  maxRounds,
		logger:     logger,
		onStream:   opts.OnStream,
		cond:       NewConditionEvaluator(),
		jq:         jq.NewExecutor(0, 0),
		provider:   opts.Provider,
		sink:       sink,
		runner:     runner,
		registry:   registry,
		sessionDir: opts.SessionDir,
	}
	eng.sessions = newSessionManager(doc, opts.Provider, sink, logger, opts.SessionDir, runID, model)

	logger.Info("run started", "maxRounds", maxRounds)

	if opts.Provider != nil {
		if err := eng.sessions.open(ctx); err != nil {
			err = eng.normalize(ctx, err)
			finalizeError(sink, runID, err)
			return nil, err
		}
	}

	result, err := eng.run(ctx)
	if err != nil {
		logger.Error("run failed", "error", err)
		finalizeError(sink, runID, err)
		return nil, err
	}

	logger.Info("run finished", "outcome", result.Outcome, "rounds", len(result.Rounds))
	if err := sink.Finalize(runID, result, time.Now()); err != nil {
		return nil, errors.Wrap(err, "finalizing provenance record")
	}
	return result, nil
}

// validateUser checks the run inputs against the document's user
// schemas, applying defaults and coercions. Undeclared inputs pass
// through untouched.
func validateUser(doc *Document, user map[string]interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(user))
	for k, v := range user {
		out[k] = v
	}
	if len(doc.User) == 0 {
		return out, nil
	}

	names := make([]string, 0, len(doc.User))
	for name := range doc.User {
		names = append(names, name)
	}
	sort.Strings(names)

	var details []string
	for _, name := range names {
		validator, err := parser.Compile(doc.User[name])
		if err != nil {
			details = append(details, name+": "+err.Error())
			continue
		}
		coerced, err := validator.Validate(user[name])
		if err != nil {
			details = append(details, name+": "+err.Error())
			continue
		}
		if coerced != nil {
			out[name] = coerced
		}
	}
	if len(details) > 0 {
		return nil, &errors.InputValidationError{
			WorkflowID: doc.ID,
			Details:    strings.Join(details, "; "),
		}
	}
	return out, nil
}

// finalizeError writes the failure into the record; the original error
// already propagates, so a sink failure here is only logged by callers.
func finalizeError(sink provenance.Sink, runID string, runErr error) {
	_ = sink.Finalize(runID, map[string]interface{}{
		"error": runErr.Error(),
		"class": errorClass(runErr),
	}, time.Now())
}

// errorClass labels a run error for the provenance record.
func errorClass(err error) string {
	var (
		cancelled *errors.CancelledError
		schema    *errors.SchemaError
		inputs    *errors.InputValidationError
		parse     *errors.ParseError
		cli       *errors.CliError
		child     *errors.ChildWorkflowError
		unknown   *errors.UnknownWorkflowError
		provider  *errors.ProviderError
		template  *errors.TemplateError
	)
	switch {
	case errors.As(err, &cancelled):
		return "cancelled"
	case errors.As(err, &schema):
		return "schema"
	case errors.As(err, &inputs):
		return "inputs"
	case errors.As(err, &parse):
		return "parse"
	case errors.As(err, &cli):
		return "cli"
	case errors.As(err, &child):
		return "child"
	case errors.As(err, &unknown):
		return "unknown-workflow"
	case errors.As(err, &provider):
		return "provider"
	case errors.As(err, &template):
		return "template"
	default:
		return "internal"
	}
}

func hasAgentSteps(doc *Document) bool {
	if doc.Flow.Bootstrap != nil && doc.Flow.Bootstrap.Type == StepAgent {
		return true
	}
	for i := range doc.Flow.Round.Steps {
		if doc.Flow.Round.Steps[i].Type == StepAgent {
			return true
		}
	}
	return false
}
