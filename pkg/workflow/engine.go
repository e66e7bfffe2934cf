package workflow

import (
	"context"
	"log/slog"
	"time"

	"github.com/hyperagent/hyperagent/internal/jq"
	"github.com/hyperagent/hyperagent/pkg/errors"
	"github.com/hyperagent/hyperagent/pkg/provenance"
)

// engine drives one run through the flow state machine. It is owned by
// a single goroutine; nothing here is safe for concurrent use.
type engine struct {
	doc       *Document
	runID     string
	user      map[string]interface{}
	model     string
	maxRounds int

	logger   *slog.Logger
	onStream StreamFunc

	cond     *ConditionEvaluator
	jq       *jq.Executor
	sessions *sessionManager
	provider SessionProvider
	sink     provenance.Sink
	runner   ProcessRunner
	registry Registry

	// sessionDir is inherited by child workflow runs.
	sessionDir string

	state  map[string]string
	steps  map[string]interface{}
	rounds []RoundRecord
}

// terminal is a resolved run termination with its reason already
// rendered.
type terminal struct {
	outcome string
	reason  string
}

func (e *engine) run(ctx context.Context) (*RunResult, error) {
	if err := e.initState(); err != nil {
		return nil, err
	}
	e.emit(Event{Type: EventRunStarted, RunID: e.runID})

	if e.doc.Flow.Bootstrap != nil {
		term, err := e.runBootstrap(ctx)
		if err != nil {
			return nil, e.normalize(ctx, err)
		}
		if term != nil {
			return e.finish(term), nil
		}
	}

	round := &e.doc.Flow.Round
	start := round.Start
	if start == "" {
		start = round.Steps[0].Key
	}

	for r := 1; r <= e.maxRounds; r++ {
		record := RoundRecord{Round: r}
		idx := round.stepIndex(start)
		for idx >= 0 {
			if err := ctx.Err(); err != nil {
				e.rounds = append(e.rounds, record)
				return nil, &errors.CancelledError{RunID: e.runID}
			}
			step := &round.Steps[idx]
			record.Steps = append(record.Steps, step.Key)

			next, term, err := e.runStep(ctx, step, r)
			if err != nil {
				e.rounds = append(e.rounds, record)
				return nil, e.normalize(ctx, err)
			}
			if term != nil {
				e.rounds = append(e.rounds, record)
				return e.finish(term), nil
			}

			switch {
			case next != "":
				idx = round.stepIndex(next)
			case idx+1 < len(round.Steps):
				idx++
			default:
				idx = -1
			}
		}
		e.rounds = append(e.rounds, record)
	}

	reason, err := Render(e.doc.Flow.Round.DefaultOutcome.Reason, e.scope(e.maxRounds))
	if err != nil {
		return nil, err
	}
	return e.finish(&terminal{
		outcome: e.doc.Flow.Round.DefaultOutcome.Outcome,
		reason:  reason,
	}), nil
}

// initState renders state.initial once against {user, run.id, round: 0}.
func (e *engine) initState() error {
	e.state = make(map[string]string)
	e.steps = make(map[string]interface{})
	if e.doc.State == nil || len(e.doc.State.Initial) == 0 {
		return nil
	}
	rendered, err := RenderMap(e.doc.State.Initial, e.scope(0))
	if err != nil {
		return err
	}
	e.state = rendered
	return nil
}

// scope builds the binding environment for the given round. State and
// steps are snapshotted so later mutation does not leak into an
// already-captured scope.
func (e *engine) scope(round int) Scope {
	state := make(map[string]interface{}, len(e.state))
	for k, v := range e.state {
		state[k] = v
	}
	steps := make(map[string]interface{}, len(e.steps))
	for k, v := range e.steps {
		steps[k] = v
	}
	return Scope{
		"user":      e.user,
		"run":       map[string]interface{}{"id": e.runID},
		"round":     round,
		"maxRounds": e.maxRounds,
		"state":     state,
		"steps":     steps,
	}
}

// post builds the post-step scope for the given round: parsed bound to
// the step's result and, for cli steps, args bound to the rendered
// argument list.
func (e *engine) post(round int, result *StepResult) Scope {
	scope := e.scope(round).With("parsed", result.Parsed)
	if result.Args != nil {
		scope = scope.With("args", result.Args)
	}
	return scope
}

// runBootstrap executes the bootstrap step. Only its stateUpdates and
// exits are evaluated.
func (e *engine) runBootstrap(ctx context.Context) (*terminal, error) {
	step := e.doc.Flow.Bootstrap
	logger := e.stepLogger(step, 0)
	logger.Info("bootstrap started")

	result, parts, err := e.execute(ctx, step, e.scope(0))
	if err != nil {
		return nil, err
	}
	e.steps[step.Key] = result.scopeEntry()

	post := e.post(0, result)
	if err := e.applyStateUpdates(step.StateUpdates, post); err != nil {
		return nil, err
	}
	post = e.post(0, result)

	e.emitStepCompleted(step, 0, parts, result.Parsed)

	for i := range step.Exits {
		fired, term, err := e.tryTerminal(&step.Exits[i], post, 0, result)
		if err != nil {
			return nil, err
		}
		if fired {
			return term, nil
		}
	}
	return nil, nil
}

// runStep executes one round step and processes its transitions and
// exits. Returns the explicit next step key ("" means document order)
// or a terminal.
func (e *engine) runStep(ctx context.Context, step *Step, round int) (string, *terminal, error) {
	logger := e.stepLogger(step, round)
	logger.Info("step started")
	started := time.Now()

	result, parts, err := e.execute(ctx, step, e.scope(round))
	if err != nil {
		return "", nil, err
	}
	e.steps[step.Key] = result.scopeEntry()

	post := e.post(round, result)
	if err := e.applyStateUpdates(step.StateUpdates, post); err != nil {
		return "", nil, err
	}
	// Rebuild so transitions observe the updated state bag.
	post = e.post(round, result)

	logger.Info("step completed", "duration_ms", time.Since(started).Milliseconds())
	e.emitStepCompleted(step, round, parts, result.Parsed)

	for i := range step.Transitions {
		t := &step.Transitions[i]
		fired, err := e.cond.Evaluate(t.Condition, post)
		if err != nil {
			return "", nil, err
		}
		if !fired {
			continue
		}
		if err := e.applyStateUpdates(t.StateUpdates, post); err != nil {
			return "", nil, err
		}
		if t.Outcome != "" {
			reason, err := Render(t.Reason, e.post(round, result))
			if err != nil {
				return "", nil, err
			}
			return "", &terminal{outcome: t.Outcome, reason: reason}, nil
		}
		if t.Next != "" {
			logger.Debug("transition redirect", "next", t.Next)
			return t.Next, nil, nil
		}
		// A fired transition without outcome or next only applies its
		// state updates; exits are skipped.
		return step.Next, nil, nil
	}

	for i := range step.Exits {
		fired, term, err := e.tryTerminal(&step.Exits[i], post, round, result)
		if err != nil {
			return "", nil, err
		}
		if fired {
			return "", term, nil
		}
	}

	return step.Next, nil, nil
}

// tryTerminal evaluates one exit; on match it applies state updates and
// renders the reason against a rebuilt scope, so the reason observes
// the exit's own updates.
func (e *engine) tryTerminal(t *Transition, scope Scope, round int, result *StepResult) (bool, *terminal, error) {
	fired, err := e.cond.Evaluate(t.Condition, scope)
	if err != nil || !fired {
		return false, nil, err
	}
	if err := e.applyStateUpdates(t.StateUpdates, scope); err != nil {
		return false, nil, err
	}
	reason, err := Render(t.Reason, e.post(round, result))
	if err != nil {
		return false, nil, err
	}
	return true, &terminal{outcome: t.Outcome, reason: reason}, nil
}

func (e *engine) applyStateUpdates(updates map[string]string, scope Scope) error {
	if len(updates) == 0 {
		return nil
	}
	rendered, err := RenderMap(updates, scope)
	if err != nil {
		return err
	}
	for k, v := range rendered {
		e.state[k] = v
	}
	return nil
}

func (e *engine) finish(term *terminal) *RunResult {
	result := &RunResult{
		RunID:   e.runID,
		Outcome: term.outcome,
		Reason:  term.reason,
		Rounds:  e.rounds,
	}
	e.emit(Event{
		Type:    EventRunFinished,
		RunID:   e.runID,
		Outcome: result.Outcome,
		Reason:  result.Reason,
	})
	return result
}

// normalize maps collaborator failures observed under a cancelled
// context to CancelledError.
func (e *engine) normalize(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return &errors.CancelledError{RunID: e.runID}
	}
	return err
}

func (e *engine) emit(event Event) {
	if e.onStream != nil {
		e.onStream(event)
	}
}

func (e *engine) emitStepCompleted(step *Step, round int, parts []MessagePart, parsed interface{}) {
	e.emit(Event{
		Type:          EventStepCompleted,
		RunID:         e.runID,
		Step:          step.Key,
		Round:         round,
		Parts:         parts,
		ParsedSummary: summarizeParsed(parsed),
	})
}

func (e *engine) stepLogger(step *Step, round int) *slog.Logger {
	return e.logger.With("step", step.Key, "type", string(step.Type), "round", round)
}
