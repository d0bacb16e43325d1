package dialog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/Chative-Directory-Lookup-Bot/agent/contract"
)

// Runtime is handed to dialogs for the duration of one turn. It owns no state of
// its own; the stack lives in the DialogState the caller loaded for this turn.
type Runtime struct {
	Turn  *TurnContext
	State *DialogState

	set *Set
	now time.Time
}

func (rt *Runtime) Now() time.Time {
	return rt.now
}

func (rt *Runtime) Active() *Instance {
	return rt.State.Active()
}

// Begin pushes a new instance of dialogID and starts it.
func (rt *Runtime) Begin(ctx context.Context, dialogID string, opts PromptOptions) (TurnResult, error) {
	d, err := rt.set.Find(dialogID)
	if err != nil {
		return TurnResult{}, err
	}
	rt.State.Stack = append(rt.State.Stack, Instance{
		DialogID:   dialogID,
		InstanceID: uuid.NewString(),
		Values:     make(map[string]any),
		StartedAt:  rt.now,
	})
	return d.Begin(ctx, rt, opts)
}

// Continue routes the current activity to the dialog on top of the stack.
func (rt *Runtime) Continue(ctx context.Context) (TurnResult, error) {
	top := rt.Active()
	if top == nil {
		return TurnResult{Status: StatusEmpty}, nil
	}
	d, err := rt.set.Find(top.DialogID)
	if err != nil {
		return TurnResult{}, err
	}
	return d.Continue(ctx, rt)
}

// End pops the active instance and hands result to its parent, if any.
func (rt *Runtime) End(ctx context.Context, result Result) (TurnResult, error) {
	if len(rt.State.Stack) == 0 {
		return TurnResult{}, ErrNoActiveDialog
	}
	rt.State.Stack = rt.State.Stack[:len(rt.State.Stack)-1]

	parent := rt.Active()
	if parent == nil {
		return TurnResult{Status: StatusComplete, Result: result}, nil
	}
	d, err := rt.set.Find(parent.DialogID)
	if err != nil {
		return TurnResult{}, err
	}
	return d.Resume(ctx, rt, result)
}

// Engine drives one conversation's dialog stack per turn.
type Engine struct {
	set    *Set
	rootID string
	now    func() time.Time
}

type EngineOption func(*Engine)

func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func NewEngine(set *Set, rootID string, opts ...EngineOption) (*Engine, error) {
	if set == nil {
		return nil, errors.New("dialog set is required")
	}
	rootID = strings.TrimSpace(rootID)
	if _, err := set.Find(rootID); err != nil {
		return nil, fmt.Errorf("root dialog: %w", err)
	}

	e := &Engine{
		set:    set,
		rootID: rootID,
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e, nil
}

func (e *Engine) runtime(tc *TurnContext, st *DialogState) *Runtime {
	return &Runtime{
		Turn:  tc,
		State: st,
		set:   e.set,
		now:   e.now().UTC(),
	}
}

// Run resumes the active dialog or begins the root dialog when none is active.
// An activity id the conversation already consumed is reported as a duplicate
// and leaves the stack untouched. Failures clear the stack and come back as an
// aborted result together with an error wrapping ErrTimeout or ErrUnrecoverable.
func (e *Engine) Run(ctx context.Context, tc *TurnContext, st *DialogState) (TurnResult, error) {
	if tc == nil || st == nil {
		return TurnResult{}, fmt.Errorf("%w: turn context and dialog state are required", contractx.ErrValidation)
	}

	activityID := strings.TrimSpace(tc.Activity.ID)
	if st.HasConsumed(activityID) {
		log.Ctx(ctx).Debug().Str("activity_id", activityID).Msg("dialog: duplicate activity skipped")
		return TurnResult{Status: StatusDuplicate}, nil
	}
	st.MarkConsumed(activityID)

	rt := e.runtime(tc, st)
	res, err := rt.Continue(ctx)
	if err == nil && res.Status == StatusEmpty {
		res, err = rt.Begin(ctx, e.rootID, PromptOptions{})
	}
	if err != nil {
		return e.abort(ctx, st, err)
	}
	return res, nil
}

// CancelAll drops every instance on the stack.
func (e *Engine) CancelAll(st *DialogState) {
	if st == nil {
		return
	}
	st.Stack = nil
}

func (e *Engine) abort(ctx context.Context, st *DialogState, err error) (TurnResult, error) {
	depth := len(st.Stack)
	e.CancelAll(st)

	if !errors.Is(err, contractx.ErrTimeout) && !errors.Is(err, contractx.ErrUnrecoverable) {
		err = fmt.Errorf("%w: %w", contractx.ErrUnrecoverable, err)
	}
	log.Ctx(ctx).Warn().Err(err).Int("stack_depth", depth).Msg("dialog: aborted")
	return TurnResult{Status: StatusAborted, Err: err}, err
}
