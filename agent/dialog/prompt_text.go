package dialog

import (
	"context"
)

// Validator decides whether a recognized prompt result is acceptable.
type Validator func(ctx context.Context, result Result) bool

// TextPrompt waits for the next message and ends with its text. Any message is
// recognized, including an empty one; non-message activities leave it waiting.
type TextPrompt struct {
	id        string
	validator Validator
}

func NewTextPrompt(id string, validator Validator) *TextPrompt {
	return &TextPrompt{id: id, validator: validator}
}

func (p *TextPrompt) ID() string {
	return p.id
}

func (p *TextPrompt) Begin(ctx context.Context, rt *Runtime, opts PromptOptions) (TurnResult, error) {
	rt.Active().Prompt = &PromptState{Options: opts}
	if opts.Prompt != "" {
		if err := rt.Turn.SendText(ctx, opts.Prompt); err != nil {
			return TurnResult{}, err
		}
	}
	return waiting(), nil
}

func (p *TextPrompt) Continue(ctx context.Context, rt *Runtime) (TurnResult, error) {
	if !rt.Turn.IsMessage() {
		return waiting(), nil
	}

	result := TextResult(rt.Turn.Activity.Text)
	if p.validator == nil || p.validator(ctx, result) {
		return rt.End(ctx, result)
	}
	return retryPrompt(ctx, rt, func(ctx context.Context, text string) error {
		if text == "" {
			return nil
		}
		return rt.Turn.SendText(ctx, text)
	})
}

func (p *TextPrompt) Resume(ctx context.Context, rt *Runtime, _ Result) (TurnResult, error) {
	ps := promptState(rt)
	if ps.Options.Prompt != "" {
		if err := rt.Turn.SendText(ctx, ps.Options.Prompt); err != nil {
			return TurnResult{}, err
		}
	}
	return waiting(), nil
}

func promptState(rt *Runtime) *PromptState {
	inst := rt.Active()
	if inst.Prompt == nil {
		inst.Prompt = &PromptState{}
	}
	return inst.Prompt
}

// retryPrompt counts a failed attempt and either re-issues the prompt or, once
// MaxAttempts is used up, ends the prompt with no result.
func retryPrompt(ctx context.Context, rt *Runtime, reissue func(ctx context.Context, text string) error) (TurnResult, error) {
	ps := promptState(rt)
	ps.Attempts++
	if ps.Options.MaxAttempts > 0 && ps.Attempts >= ps.Options.MaxAttempts {
		return rt.End(ctx, NoneResult())
	}

	text := ps.Options.RetryPrompt
	if text == "" {
		text = ps.Options.Prompt
	}
	if err := reissue(ctx, text); err != nil {
		return TurnResult{}, err
	}
	return waiting(), nil
}
