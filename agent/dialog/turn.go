package dialog

import (
	"context"
	"errors"

	"github.com/google/uuid"
	contractx "github.com/tanpawarit/Chative-Directory-Lookup-Bot/agent/contract"
)

// TurnContext carries the inbound activity and the reply channel for one turn.
type TurnContext struct {
	Activity contractx.Activity

	sender contractx.Sender
	invoke *contractx.InvokeResponse
}

func NewTurnContext(activity contractx.Activity, sender contractx.Sender) *TurnContext {
	return &TurnContext{
		Activity: activity,
		sender:   sender,
	}
}

// SendText replies to the inbound activity with a plain message.
func (tc *TurnContext) SendText(ctx context.Context, text string) error {
	return tc.SendActivity(ctx, tc.Activity.Reply(text))
}

func (tc *TurnContext) SendActivity(ctx context.Context, reply contractx.Activity) error {
	if tc.sender == nil {
		return errors.New("turn has no sender")
	}
	if reply.ID == "" {
		reply.ID = uuid.NewString()
	}
	return tc.sender.Send(ctx, reply)
}

func (tc *TurnContext) SetInvokeResponse(status int, body any) {
	tc.invoke = &contractx.InvokeResponse{Status: status, Body: body}
}

// InvokeResponse is nil unless something in the turn answered the invoke.
func (tc *TurnContext) InvokeResponse() *contractx.InvokeResponse {
	return tc.invoke
}

func (tc *TurnContext) IsMessage() bool {
	return tc.Activity.Type == contractx.ActivityMessage
}
