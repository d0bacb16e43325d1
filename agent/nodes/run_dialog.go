package dispatchnode

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/Chative-Directory-Lookup-Bot/agent/contract"
	dialogx "github.com/tanpawarit/Chative-Directory-Lookup-Bot/agent/dialog"
	promptx "github.com/tanpawarit/Chative-Directory-Lookup-Bot/agent/prompt"
	metricsx "github.com/tanpawarit/Chative-Directory-Lookup-Bot/pkg/metrics"
)

// RunDialog hands the turn to the engine. Aborted dialogs are reported to the
// user here; the cleared stack is then saved like any other turn. A cancelled
// context stops the turn before anything is saved.
func RunDialog(
	ctx context.Context,
	in *GraphState,
	engine *dialogx.Engine,
	messages promptx.MessageSet,
	metrics *metricsx.Recorder,
) (*GraphState, error) {
	if in == nil || in.Dialog == nil || in.Turn == nil {
		return nil, fmt.Errorf("%w: graph state is incomplete", contractx.ErrValidation)
	}

	res, err := engine.Run(ctx, in.Turn, in.Dialog)
	in.Status = res.Status
	in.Result = res.Result
	if err == nil {
		return in, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	notice := messages.GenericError
	outcome := "aborted"
	if errors.Is(err, contractx.ErrTimeout) {
		notice = messages.LoginFailed
		outcome = "timeout"
	} else if !errors.Is(err, contractx.ErrUnrecoverable) {
		return nil, err
	}
	metrics.DialogOutcome(outcome)
	log.Ctx(ctx).Warn().Err(err).Str("outcome", outcome).Msg("dispatcher: dialog aborted")

	if sendErr := in.Turn.SendText(ctx, notice); sendErr != nil {
		return nil, sendErr
	}
	return in, nil
}
