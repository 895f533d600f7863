package command

import (
	"context"

	"go.uber.org/zap"
)

// SagaState tracks one attempt. Only StateCompleted and StateFailed are
// ever persisted.
type SagaState string

const (
	StateStarted      SagaState = "started"
	StateDebited      SagaState = "debited"
	StateCompleted    SagaState = "completed"
	StateCompensating SagaState = "compensating"
	StateFailed       SagaState = "failed"
)

// Decision is what the saga does after a step has run.
type Decision int

const (
	Continue Decision = iota
	Compensate
	Abort
)

func (d Decision) String() string {
	switch d {
	case Continue:
		return "continue"
	case Compensate:
		return "compensate"
	default:
		return "abort"
	}
}

// Step is one remote mutation and its optional compensating action.
type Step struct {
	Name string
	// Reached is the state entered when the action succeeds; empty leaves the
	// state unchanged.
	Reached    SagaState
	Action     func(ctx context.Context) error
	Compensate func(ctx context.Context) error
}

// StepResult is the outcome of running a single step.
type StepResult struct {
	Step     string
	Decision Decision
	Err      error
}

// Evaluate decides how to proceed after step failed or succeeded. A failure
// with nothing to undo aborts; a failure after a compensable step compensates.
func Evaluate(step string, err error, compensable int) StepResult {
	switch {
	case err == nil:
		return StepResult{Step: step, Decision: Continue}
	case compensable == 0:
		return StepResult{Step: step, Decision: Abort, Err: err}
	default:
		return StepResult{Step: step, Decision: Compensate, Err: err}
	}
}

// SagaResult summarises a finished run.
type SagaResult struct {
	State       SagaState
	Transitions []SagaState
	Steps       []StepResult
	// FailedStep and Err describe the step that ended the run, if any.
	FailedStep string
	Err        error
	// Compensations counts compensating actions invoked.
	Compensations   int
	CompensationErr error
}

type saga struct {
	steps  []Step
	logger *zap.Logger
	result SagaResult
}

func newSaga(logger *zap.Logger, steps ...Step) *saga {
	return &saga{steps: steps, logger: logger}
}

func (s *saga) transition(to SagaState) {
	s.result.State = to
	s.result.Transitions = append(s.result.Transitions, to)
	s.logger.Debug("saga transition", zap.String("state", string(to)))
}

// run executes steps in order. Once any step has moved funds the run is
// detached from ctx cancellation so it always reaches a terminal state.
func (s *saga) run(ctx context.Context) SagaResult {
	s.transition(StateStarted)
	var done []Step

	for _, step := range s.steps {
		err := step.Action(ctx)
		res := Evaluate(step.Name, err, countCompensable(done))
		s.result.Steps = append(s.result.Steps, res)

		switch res.Decision {
		case Continue:
			done = append(done, step)
			if step.Reached != "" {
				s.transition(step.Reached)
			}
			ctx = context.WithoutCancel(ctx)
		case Abort:
			s.result.FailedStep, s.result.Err = step.Name, err
			s.transition(StateFailed)
			return s.result
		case Compensate:
			s.result.FailedStep, s.result.Err = step.Name, err
			s.transition(StateCompensating)
			s.compensate(ctx, done)
			s.transition(StateFailed)
			return s.result
		}
	}

	s.transition(StateCompleted)
	return s.result
}

// compensate undoes completed steps in reverse order, stopping at the first
// compensation failure.
func (s *saga) compensate(ctx context.Context, done []Step) {
	for i := len(done) - 1; i >= 0; i-- {
		step := done[i]
		if step.Compensate == nil {
			continue
		}
		s.result.Compensations++
		if err := step.Compensate(ctx); err != nil {
			s.result.CompensationErr = err
			return
		}
		s.logger.Info("step compensated", zap.String("step", step.Name))
	}
}

func countCompensable(done []Step) int {
	n := 0
	for _, step := range done {
		if step.Compensate != nil {
			n++
		}
	}
	return n
}
