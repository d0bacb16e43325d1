package dialog

import (
	"context"
	"errors"
	"time"

	contractx "github.com/tanpawarit/Chative-Directory-Lookup-Bot/agent/contract"
)

// StateKey is the conversation state key the dialog stack is persisted under.
const StateKey = "DialogState"

var (
	ErrDialogNotFound   = errors.New("dialog not found")
	ErrDuplicateDialog  = errors.New("dialog id already registered")
	ErrUnexpectedResult = errors.New("unexpected step result")
	ErrNoActiveDialog   = errors.New("no active dialog")
)

type ResultKind string

const (
	ResultNone  ResultKind = "none"
	ResultText  ResultKind = "text"
	ResultToken ResultKind = "token"
)

// Result is the value handed from one step (or prompt) to the next.
type Result struct {
	Kind  ResultKind
	Text  string
	Token *contractx.TokenResponse
}

func NoneResult() Result {
	return Result{Kind: ResultNone}
}

func TextResult(text string) Result {
	return Result{Kind: ResultText, Text: text}
}

// TokenResult wraps tok; a nil or empty token collapses to NoneResult.
func TokenResult(tok *contractx.TokenResponse) Result {
	if tok == nil || tok.Token == "" {
		return NoneResult()
	}
	cp := *tok
	return Result{Kind: ResultToken, Token: &cp}
}

func (r Result) IsNone() bool {
	return r.Kind == "" || r.Kind == ResultNone
}

type OutcomeKind string

const (
	OutcomeSuspend  OutcomeKind = "suspend"
	OutcomeContinue OutcomeKind = "continue"
	OutcomeEnd      OutcomeKind = "end"
)

// Outcome is what a waterfall step asks the engine to do next.
type Outcome struct {
	Kind     OutcomeKind
	PromptID string
	Options  PromptOptions
	Result   Result
}

func Suspend(promptID string, opts PromptOptions) Outcome {
	return Outcome{Kind: OutcomeSuspend, PromptID: promptID, Options: opts}
}

func Continue(r Result) Outcome {
	return Outcome{Kind: OutcomeContinue, Result: r}
}

func End(r Result) Outcome {
	return Outcome{Kind: OutcomeEnd, Result: r}
}

// PromptOptions are the arguments a step passes to the prompt it suspends on.
// MaxAttempts of zero means unlimited re-prompts.
type PromptOptions struct {
	Prompt      string `json:"prompt,omitempty"`
	RetryPrompt string `json:"retryPrompt,omitempty"`
	MaxAttempts int    `json:"maxAttempts,omitempty"`
}

// PromptState survives between turns on prompt stack entries.
type PromptState struct {
	Options   PromptOptions `json:"options"`
	ExpiresAt time.Time     `json:"expiresAt,omitempty"`
	Attempts  int           `json:"attempts,omitempty"`
}

func (p *PromptState) Expired(now time.Time) bool {
	return p != nil && !p.ExpiresAt.IsZero() && now.After(p.ExpiresAt)
}

// Instance is one running dialog on the stack.
type Instance struct {
	DialogID   string         `json:"dialogId"`
	InstanceID string         `json:"instanceId"`
	StepIndex  int            `json:"stepIndex"`
	Values     map[string]any `json:"values,omitempty"`
	Prompt     *PromptState   `json:"prompt,omitempty"`
	StartedAt  time.Time      `json:"startedAt"`
}

// ConsumedActivityLimit bounds how many activity ids a conversation remembers.
const ConsumedActivityLimit = 32

// DialogState is the per-conversation dialog stack; the last entry is active.
// Consumed holds the most recent activity ids already run, oldest first.
type DialogState struct {
	Stack    []Instance `json:"stack"`
	Consumed []string   `json:"consumed,omitempty"`
}

// HasConsumed reports whether the activity id was already run.
func (s *DialogState) HasConsumed(id string) bool {
	if s == nil || id == "" {
		return false
	}
	for _, seen := range s.Consumed {
		if seen == id {
			return true
		}
	}
	return false
}

// MarkConsumed records id, dropping the oldest entries past ConsumedActivityLimit.
func (s *DialogState) MarkConsumed(id string) {
	if s == nil || id == "" || s.HasConsumed(id) {
		return
	}
	s.Consumed = append(s.Consumed, id)
	if over := len(s.Consumed) - ConsumedActivityLimit; over > 0 {
		s.Consumed = append([]string(nil), s.Consumed[over:]...)
	}
}

func (s *DialogState) Active() *Instance {
	if s == nil || len(s.Stack) == 0 {
		return nil
	}
	return &s.Stack[len(s.Stack)-1]
}

func (s *DialogState) parent() *Instance {
	if s == nil || len(s.Stack) < 2 {
		return nil
	}
	return &s.Stack[len(s.Stack)-2]
}

type PhaseKind string

const (
	PhaseNotStarted    PhaseKind = "not_started"
	PhaseWaitingOnStep PhaseKind = "waiting_on_step"
	PhaseSuspended     PhaseKind = "suspended"
)

// Phase describes where the root dialog currently stands between turns.
type Phase struct {
	Kind      PhaseKind
	StepIndex int
	PromptID  string
}

func (s *DialogState) Phase() Phase {
	top := s.Active()
	if top == nil {
		return Phase{Kind: PhaseNotStarted}
	}
	if top.Prompt != nil {
		p := Phase{Kind: PhaseSuspended, PromptID: top.DialogID}
		if parent := s.parent(); parent != nil {
			p.StepIndex = parent.StepIndex
		}
		return p
	}
	return Phase{Kind: PhaseWaitingOnStep, StepIndex: top.StepIndex}
}

// Status is the outcome of one engine run as seen by the caller.
type Status string

const (
	StatusEmpty     Status = "empty"
	StatusWaiting   Status = "waiting"
	StatusComplete  Status = "complete"
	StatusAborted   Status = "aborted"
	StatusDuplicate Status = "duplicate"
)

type TurnResult struct {
	Status Status
	Result Result
	Err    error
}

func waiting() TurnResult {
	return TurnResult{Status: StatusWaiting}
}

// Dialog is a resumable unit registered in a Set. Begin is called after the
// instance has been pushed; Resume is called when a child dialog ends.
type Dialog interface {
	ID() string
	Begin(ctx context.Context, rt *Runtime, opts PromptOptions) (TurnResult, error)
	Continue(ctx context.Context, rt *Runtime) (TurnResult, error)
	Resume(ctx context.Context, rt *Runtime, result Result) (TurnResult, error)
}
