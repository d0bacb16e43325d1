package dispatchnode

import (
	"context"
	"fmt"
	"time"

	contractx "github.com/tanpawarit/Chative-Directory-Lookup-Bot/agent/contract"
	dialogx "github.com/tanpawarit/Chative-Directory-Lookup-Bot/agent/dialog"
	statex "github.com/tanpawarit/Chative-Directory-Lookup-Bot/agent/state"
	metricsx "github.com/tanpawarit/Chative-Directory-Lookup-Bot/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

// SaveState writes both records once at the end of the turn. A cancelled turn
// writes nothing so the previous snapshot stays intact.
func SaveState(
	ctx context.Context,
	in *GraphState,
	conversations statex.Store,
	users statex.Store,
	metrics *metricsx.Recorder,
) (*GraphState, error) {
	if in == nil || in.Conversation == nil || in.User == nil || in.Dialog == nil {
		return nil, fmt.Errorf("%w: graph state is incomplete", contractx.ErrValidation)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := in.Conversation.Set(dialogx.StateKey, in.Dialog); err != nil {
		return nil, err
	}
	if err := in.User.Set(ProfileKey, in.Profile); err != nil {
		return nil, err
	}
	in.Conversation.Touch(in.Now)
	in.User.Touch(in.Now)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return save(gctx, conversations, in.Conversation, metrics)
	})
	g.Go(func() error {
		return save(gctx, users, in.User, metrics)
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return in, nil
}

func save(ctx context.Context, store statex.Store, rec *statex.Record, metrics *metricsx.Recorder) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("state validation failed: %w", err)
	}
	start := time.Now()
	err := store.Save(ctx, rec)
	metrics.ObserveStateOp("save", time.Since(start))
	if err != nil {
		return fmt.Errorf("save %s state: %w", rec.Scope, err)
	}
	return nil
}
