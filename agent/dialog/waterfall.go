package dialog

import (
	"context"
	"fmt"
)

// StepContext is what a waterfall step sees: the prior result, the instance
// values and the turn to send messages on.
type StepContext struct {
	Turn   *TurnContext
	Index  int
	Result Result
	Values map[string]any
}

type Step func(ctx context.Context, sc *StepContext) (Outcome, error)

// Waterfall runs its steps front to back, suspending whenever a step returns
// Suspend and resuming at the recorded step once the prompt ends.
type Waterfall struct {
	id    string
	steps []Step
}

func NewWaterfall(id string, steps ...Step) *Waterfall {
	return &Waterfall{id: id, steps: steps}
}

func (w *Waterfall) ID() string {
	return w.id
}

func (w *Waterfall) Begin(ctx context.Context, rt *Runtime, _ PromptOptions) (TurnResult, error) {
	rt.Active().StepIndex = 0
	return w.run(ctx, rt, 0, NoneResult())
}

// Continue is reached only when the waterfall is on top between turns, which
// happens if a step was interrupted before suspending. There is nothing to resume.
func (w *Waterfall) Continue(ctx context.Context, rt *Runtime) (TurnResult, error) {
	return waiting(), nil
}

func (w *Waterfall) Resume(ctx context.Context, rt *Runtime, result Result) (TurnResult, error) {
	return w.run(ctx, rt, rt.Active().StepIndex, result)
}

func (w *Waterfall) run(ctx context.Context, rt *Runtime, index int, result Result) (TurnResult, error) {
	for {
		if index >= len(w.steps) {
			return rt.End(ctx, result)
		}

		inst := rt.Active()
		inst.StepIndex = index
		if inst.Values == nil {
			inst.Values = make(map[string]any)
		}
		sc := &StepContext{
			Turn:   rt.Turn,
			Index:  index,
			Result: result,
			Values: inst.Values,
		}

		out, err := w.steps[index](ctx, sc)
		if err != nil {
			return TurnResult{}, fmt.Errorf("%s step %d: %w", w.id, index, err)
		}

		switch out.Kind {
		case OutcomeSuspend:
			inst.StepIndex = index + 1
			return rt.Begin(ctx, out.PromptID, out.Options)
		case OutcomeContinue:
			index++
			result = out.Result
		case OutcomeEnd:
			return rt.End(ctx, out.Result)
		default:
			return TurnResult{}, fmt.Errorf("%s step %d: unknown outcome %q", w.id, index, out.Kind)
		}
	}
}
