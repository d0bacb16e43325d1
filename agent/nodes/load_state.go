package dispatchnode

import (
	"context"
	"errors"
	"fmt"
	"time"

	contractx "github.com/tanpawarit/Chative-Directory-Lookup-Bot/agent/contract"
	dialogx "github.com/tanpawarit/Chative-Directory-Lookup-Bot/agent/dialog"
	statex "github.com/tanpawarit/Chative-Directory-Lookup-Bot/agent/state"
	metricsx "github.com/tanpawarit/Chative-Directory-Lookup-Bot/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

// LoadState reads the conversation and user records concurrently and decodes
// the dialog stack and profile out of them. Missing records start empty.
func LoadState(
	ctx context.Context,
	in *GraphState,
	conversations statex.Store,
	users statex.Store,
	metrics *metricsx.Recorder,
) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rec, err := loadOrCreate(gctx, conversations, in.ConversationKey, statex.ScopeConversation, in.Now, metrics)
		in.Conversation = rec
		return err
	})
	g.Go(func() error {
		rec, err := loadOrCreate(gctx, users, in.UserKey, statex.ScopeUser, in.Now, metrics)
		in.User = rec
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	in.Dialog = &dialogx.DialogState{}
	if _, err := in.Conversation.Get(dialogx.StateKey, in.Dialog); err != nil {
		return nil, err
	}
	if _, err := in.User.Get(ProfileKey, &in.Profile); err != nil {
		return nil, err
	}
	return in, nil
}

func loadOrCreate(
	ctx context.Context,
	store statex.Store,
	key string,
	scope statex.Scope,
	now time.Time,
	metrics *metricsx.Recorder,
) (*statex.Record, error) {
	start := time.Now()
	rec, err := store.Load(ctx, key)
	metrics.ObserveStateOp("load", time.Since(start))
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, statex.ErrStateNotFound) {
		return nil, fmt.Errorf("load %s state: %w", scope, err)
	}
	return statex.NewRecord(key, scope, now), nil
}
