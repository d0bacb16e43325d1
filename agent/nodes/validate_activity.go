package dispatchnode

import (
	"errors"
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/Chative-Directory-Lookup-Bot/agent/contract"
	dialogx "github.com/tanpawarit/Chative-Directory-Lookup-Bot/agent/dialog"
	statex "github.com/tanpawarit/Chative-Directory-Lookup-Bot/agent/state"
)

var (
	ErrInvalidActivity     = errors.New("activity type is empty")
	ErrInvalidConversation = errors.New("conversation id is empty")
	ErrMissingSender       = errors.New("sender is required")
)

type GraphInput struct {
	Activity contractx.Activity
	Sender   contractx.Sender
}

type GraphOutput struct {
	Category Category
	Status   dialogx.Status
	Result   dialogx.Result
	Invoke   *contractx.InvokeResponse
}

type GraphState struct {
	Activity contractx.Activity
	Now      time.Time
	Category Category
	Turn     *dialogx.TurnContext

	ConversationKey string
	UserKey         string
	Conversation    *statex.Record
	User            *statex.Record

	Dialog  *dialogx.DialogState
	Profile UserProfile

	Status dialogx.Status
	Result dialogx.Result
}

func ValidateActivity(in GraphInput, nowFn func() time.Time) (*GraphState, error) {
	if in.Sender == nil {
		return nil, ErrMissingSender
	}

	act := in.Activity
	if strings.TrimSpace(string(act.Type)) == "" {
		return nil, ErrInvalidActivity
	}
	if strings.TrimSpace(act.Conversation.ID) == "" {
		return nil, ErrInvalidConversation
	}

	convKey, err := statex.ConversationKey(act.ChannelID, act.Conversation.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", contractx.ErrValidation, err)
	}
	userKey, err := statex.UserKey(act.ChannelID, act.From.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", contractx.ErrValidation, err)
	}

	return &GraphState{
		Activity:        act,
		Now:             nowFn().UTC(),
		Turn:            dialogx.NewTurnContext(act, in.Sender),
		ConversationKey: convKey,
		UserKey:         userKey,
	}, nil
}
