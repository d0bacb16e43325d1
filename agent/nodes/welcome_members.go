package dispatchnode

import (
	"context"
	"fmt"

	contractx "github.com/tanpawarit/Chative-Directory-Lookup-Bot/agent/contract"
	dialogx "github.com/tanpawarit/Chative-Directory-Lookup-Bot/agent/dialog"
)

// WelcomeMembers greets every newly added member except the bot itself.
func WelcomeMembers(ctx context.Context, in *GraphState, welcome string) (*GraphState, error) {
	if in == nil || in.Turn == nil {
		return nil, fmt.Errorf("%w: graph state is incomplete", contractx.ErrValidation)
	}

	for _, member := range in.Activity.MembersAdded {
		if member.ID == in.Activity.Recipient.ID {
			continue
		}
		if err := in.Turn.SendText(ctx, welcome); err != nil {
			return nil, err
		}
	}
	in.Status = dialogx.StatusEmpty
	return in, nil
}

// SkipTurn leaves the dialog untouched for activities the bot does not handle.
func SkipTurn(in *GraphState) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	in.Status = dialogx.StatusEmpty
	return in, nil
}
