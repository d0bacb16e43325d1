package dispatchnode

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/Chative-Directory-Lookup-Bot/agent/contract"
	dialogx "github.com/tanpawarit/Chative-Directory-Lookup-Bot/agent/dialog"
	promptx "github.com/tanpawarit/Chative-Directory-Lookup-Bot/agent/prompt"
)

// SignOut interrupts whatever dialog is running: the stored token is dropped
// from the token service when one is configured and the stack is cleared.
func SignOut(
	ctx context.Context,
	in *GraphState,
	engine *dialogx.Engine,
	tokens contractx.TokenService,
	connectionName string,
	messages promptx.MessageSet,
) (*GraphState, error) {
	if in == nil || in.Dialog == nil || in.Turn == nil {
		return nil, fmt.Errorf("%w: graph state is incomplete", contractx.ErrValidation)
	}

	if tokens != nil {
		err := tokens.SignOut(ctx, contractx.UserTokenRequest{
			UserID:         in.Activity.From.ID,
			ConnectionName: connectionName,
			ChannelID:      in.Activity.ChannelID,
			ConversationID: in.Activity.Conversation.ID,
		})
		if err != nil {
			log.Ctx(ctx).Warn().Err(err).Msg("dispatcher: token service sign-out failed")
		}
	}

	engine.CancelAll(in.Dialog)
	in.Dialog.MarkConsumed(strings.TrimSpace(in.Activity.ID))
	in.Status = dialogx.StatusEmpty

	if err := in.Turn.SendText(ctx, messages.SignedOut); err != nil {
		return nil, err
	}
	return in, nil
}
