package chain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"mmloader/internal/exitcode"
	"mmloader/internal/ledger"
	"mmloader/internal/logging"
)

// Step is one unit of work in a pipeline.
type Step interface {
	Name() string
	// Check verifies the step's preconditions. It only inspects the
	// filesystem; anything that provisions or mutates belongs in Run.
	Check(ctx context.Context) error
	Run(ctx context.Context) (Result, error)
}

// Result is what a step reports after running.
type Result struct {
	ExitCode int
	Summary  string
}

// Stage binds a step to the states it occupies while running and on failure.
type Stage struct {
	Step    Step
	Running State
	Failed  State
}

// Pipeline is an ordered list of stages.
type Pipeline struct {
	Stages []Stage
}

// SyncThenProcess builds the standard two-stage pipeline.
func SyncThenProcess(sync, processing Step) Pipeline {
	return Pipeline{Stages: []Stage{
		{Step: sync, Running: SyncRunning, Failed: SyncFailed},
		{Step: processing, Running: ProcessingRunning, Failed: ProcessingFailed},
	}}
}

// Transition records a single state change.
type Transition struct {
	From   State
	To     State
	At     time.Time
	Detail string
}

// Outcome summarizes a pipeline run.
type Outcome struct {
	Final       State
	ExitCode    int
	FailedStep  string
	Transitions []Transition
	// cause is the precondition or launch error behind ErrorState.
	cause error
}

// Err returns nil on success. A step that exited non-zero yields a
// forwarded status; a precondition failure yields its diagnostic.
func (o Outcome) Err() error {
	switch {
	case o.ExitCode == 0:
		return nil
	case o.cause != nil:
		return o.cause
	default:
		return exitcode.Forward(o.ExitCode)
	}
}

// Recorder persists runs; *ledger.Store satisfies it.
type Recorder interface {
	StartRun(ctx context.Context, kind ledger.Kind) (*ledger.Run, error)
	FinishRun(ctx context.Context, run *ledger.Run, state ledger.State, code int, detail string) error
}

// Driver executes a Pipeline.
type Driver struct {
	Pipeline Pipeline
	Logger   *slog.Logger
	// Out receives the human-readable stage completion lines.
	Out io.Writer
	// Ledger is optional.
	Ledger Recorder
}

// Run executes stages in order and stops at the first failure.
func (d *Driver) Run(ctx context.Context) Outcome {
	logger := logging.NewComponentLogger(d.Logger, "chain")
	var run *ledger.Run
	if d.Ledger != nil {
		var err error
		if run, err = d.Ledger.StartRun(ctx, ledger.KindChain); err != nil {
			logging.WarnWithContext(logger, "run ledger unavailable", "ledger_start_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "this chain run is not recorded in history"),
			)
		} else {
			ctx = logging.WithRunID(ctx, run.ID)
		}
	}

	outcome := d.execute(ctx, logger)
	if !outcome.Final.Terminal() {
		err := fmt.Errorf("chain stopped in non-terminal state %s", outcome.Final)
		outcome.Transitions = append(outcome.Transitions, Transition{From: outcome.Final, To: ErrorState, At: time.Now(), Detail: err.Error()})
		outcome.Final = ErrorState
		outcome.ExitCode = exitcode.General
		outcome.cause = exitcode.New(exitcode.General, err)
	}

	if run != nil {
		state := ledger.StateSucceeded
		if outcome.ExitCode != 0 {
			state = ledger.StateFailed
		}
		if err := d.Ledger.FinishRun(context.WithoutCancel(ctx), run, state, outcome.ExitCode, outcome.Final.String()); err != nil {
			logging.WarnWithContext(logger, "run ledger update failed", "ledger_finish_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "history shows this chain run as still running"),
			)
		}
	}
	return outcome
}

func (d *Driver) execute(ctx context.Context, base *slog.Logger) Outcome {
	outcome := Outcome{Final: NotStarted}
	move := func(to State, detail string) {
		outcome.Transitions = append(outcome.Transitions, Transition{
			From:   outcome.Final,
			To:     to,
			At:     time.Now(),
			Detail: detail,
		})
		outcome.Final = to
	}

	for _, stage := range d.Pipeline.Stages {
		name := stage.Step.Name()
		stepCtx := logging.WithStep(ctx, name)
		logger := logging.WithContext(stepCtx, base)

		if err := stage.Step.Check(stepCtx); err != nil {
			code := exitcode.From(err)
			var coded *exitcode.Error
			if !errors.As(err, &coded) {
				code = exitcode.MissingSiblingScript
				err = exitcode.New(code, err)
			}
			move(ErrorState, err.Error())
			outcome.ExitCode = code
			outcome.FailedStep = name
			outcome.cause = fmt.Errorf("%s: %w", name, err)
			logging.ErrorWithContext(logger, "step precondition failed", "chain_precondition_failed",
				logging.Error(err),
				logging.Int("exit_code", code),
				logging.String(logging.FieldErrorHint, "verify the step's directory and program exist"),
			)
			return outcome
		}

		move(stage.Running, "")
		logger.Info("step started",
			logging.String(logging.FieldEventType, "step_start"),
			logging.String("state", outcome.Final.String()),
		)
		result, err := stage.Step.Run(stepCtx)
		if err != nil {
			code := exitcode.From(err)
			move(ErrorState, err.Error())
			outcome.ExitCode = code
			outcome.FailedStep = name
			outcome.cause = fmt.Errorf("%s: %w", name, err)
			logging.ErrorWithContext(logger, "step could not run", "step_launch_failed",
				logging.Error(err),
				logging.Int("exit_code", code),
			)
			return outcome
		}
		if result.ExitCode != 0 {
			move(stage.Failed, result.Summary)
			outcome.ExitCode = result.ExitCode
			outcome.FailedStep = name
			logging.ErrorWithContext(logger, "step failed", "step_failed",
				logging.Int("exit_code", result.ExitCode),
				logging.String(logging.FieldErrorHint, "see the step output above"),
			)
			d.printf("%s failed with exit code %d\n", name, result.ExitCode)
			return outcome
		}
		logger.Info("step completed",
			logging.String(logging.FieldEventType, "step_complete"),
		)
		d.printf("%s completed successfully\n", name)
	}

	move(Completed, "")
	logging.WithContext(ctx, base).Info("chain completed", logging.String(logging.FieldEventType, "chain_complete"))
	return outcome
}

func (d *Driver) printf(format string, args ...any) {
	if d.Out != nil {
		fmt.Fprintf(d.Out, format, args...)
	}
}
