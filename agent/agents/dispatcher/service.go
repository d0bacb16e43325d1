package dispatcher

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/Chative-Directory-Lookup-Bot/agent/contract"
	dialogx "github.com/tanpawarit/Chative-Directory-Lookup-Bot/agent/dialog"
	nodex "github.com/tanpawarit/Chative-Directory-Lookup-Bot/agent/nodes"
	promptx "github.com/tanpawarit/Chative-Directory-Lookup-Bot/agent/prompt"
	statex "github.com/tanpawarit/Chative-Directory-Lookup-Bot/agent/state"
	metricsx "github.com/tanpawarit/Chative-Directory-Lookup-Bot/pkg/metrics"
)

var (
	ErrInvalidActivity     = nodex.ErrInvalidActivity
	ErrInvalidConversation = nodex.ErrInvalidConversation
	ErrMissingSender       = nodex.ErrMissingSender
)

type TurnOutput = nodex.GraphOutput

type Config struct {
	ConnectionName string
}

type Deps struct {
	Conversations statex.Store
	Users         statex.Store
	Engine        *dialogx.Engine
	Tokens        contractx.TokenService
	Messages      promptx.MessageSet
	Metrics       *metricsx.Recorder
}

// Dispatcher is the single entry point for inbound activities.
type Dispatcher struct {
	conversations statex.Store
	users         statex.Store
	engine        *dialogx.Engine
	tokens        contractx.TokenService
	messages      promptx.MessageSet
	metrics       *metricsx.Recorder

	connectionName string

	graphRunner compose.Runnable[nodex.GraphInput, nodex.GraphOutput]

	now func() time.Time
}

func New(deps Deps, cfg Config) (*Dispatcher, error) {
	if deps.Conversations == nil {
		return nil, errors.New("conversation state store is required")
	}
	if deps.Engine == nil {
		return nil, errors.New("dialog engine is required")
	}
	users := deps.Users
	if users == nil {
		users = deps.Conversations
	}

	d := &Dispatcher{
		conversations:  deps.Conversations,
		users:          users,
		engine:         deps.Engine,
		tokens:         deps.Tokens,
		messages:       deps.Messages,
		metrics:        deps.Metrics,
		connectionName: strings.TrimSpace(cfg.ConnectionName),
		now:            time.Now,
	}

	graphRunner, err := d.compileHandleActivityGraph(context.Background())
	if err != nil {
		return nil, err
	}
	d.graphRunner = graphRunner

	return d, nil
}

// HandleActivity processes exactly one turn. Replies go out through sender as
// they are produced.
func (d *Dispatcher) HandleActivity(ctx context.Context, activity contractx.Activity, sender contractx.Sender) (TurnOutput, error) {
	logger := log.With().
		Str("component", "dispatcher").
		Str("activity_id", activity.ID).
		Str("activity_type", string(activity.Type)).
		Str("conversation_id", activity.Conversation.ID).
		Logger()
	ctx = logger.WithContext(ctx)

	start := time.Now()
	out, err := d.graphRunner.Invoke(ctx, nodex.GraphInput{
		Activity: activity,
		Sender:   sender,
	})
	if err != nil {
		logger.Error().Err(err).Msg("dispatcher: turn failed")
		d.metrics.ObserveTurn(string(activity.Type), "error", time.Since(start))
		return TurnOutput{}, err
	}

	d.metrics.ObserveTurn(string(out.Category), string(out.Status), time.Since(start))
	logger.Debug().
		Str("category", string(out.Category)).
		Str("status", string(out.Status)).
		Dur("took", time.Since(start)).
		Msg("dispatcher: turn handled")
	return out, nil
}
