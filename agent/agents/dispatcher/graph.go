package dispatcher

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/compose"
	nodex "github.com/tanpawarit/Chative-Directory-Lookup-Bot/agent/nodes"
)

func (d *Dispatcher) compileHandleActivityGraph(
	ctx context.Context,
) (compose.Runnable[nodex.GraphInput, nodex.GraphOutput], error) {
	graph := compose.NewGraph[nodex.GraphInput, nodex.GraphOutput]()

	if err := graph.AddLambdaNode("validate_activity",
		compose.InvokableLambda(func(ctx context.Context, in nodex.GraphInput) (*nodex.GraphState, error) {
			return nodex.ValidateActivity(in, d.now)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node validate_activity: %w", err)
	}

	if err := graph.AddLambdaNode("load_state",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.LoadState(ctx, in, d.conversations, d.users, d.metrics)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node load_state: %w", err)
	}

	if err := graph.AddLambdaNode("route_activity",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.RouteActivity(in)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node route_activity: %w", err)
	}

	if err := graph.AddLambdaNode(nodex.NodeRunDialog,
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.RunDialog(ctx, in, d.engine, d.messages, d.metrics)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node run_dialog: %w", err)
	}

	if err := graph.AddLambdaNode(nodex.NodeSignOut,
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.SignOut(ctx, in, d.engine, d.tokens, d.connectionName, d.messages)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node sign_out: %w", err)
	}

	if err := graph.AddLambdaNode(nodex.NodeWelcomeMembers,
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.WelcomeMembers(ctx, in, d.messages.Welcome)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node welcome_members: %w", err)
	}

	if err := graph.AddLambdaNode(nodex.NodeSkipTurn,
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.SkipTurn(in)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node skip_turn: %w", err)
	}

	if err := graph.AddLambdaNode("apply_profile",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.ApplyProfile(in)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node apply_profile: %w", err)
	}

	if err := graph.AddLambdaNode("save_state",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.SaveState(ctx, in, d.conversations, d.users, d.metrics)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node save_state: %w", err)
	}

	if err := graph.AddLambdaNode("finalize_turn",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (nodex.GraphOutput, error) {
			return nodex.FinalizeTurn(in)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node finalize_turn: %w", err)
	}

	branch := compose.NewGraphBranch(
		func(ctx context.Context, in *nodex.GraphState) (string, error) {
			return nodex.NextNode(in)
		},
		map[string]bool{
			nodex.NodeRunDialog:      true,
			nodex.NodeSignOut:        true,
			nodex.NodeWelcomeMembers: true,
			nodex.NodeSkipTurn:       true,
		},
	)
	if err := graph.AddBranch("route_activity", branch); err != nil {
		return nil, fmt.Errorf("add route branch: %w", err)
	}

	edges := [][2]string{
		{compose.START, "validate_activity"},
		{"validate_activity", "load_state"},
		{"load_state", "route_activity"},
		{nodex.NodeRunDialog, "apply_profile"},
		{nodex.NodeSignOut, "apply_profile"},
		{nodex.NodeWelcomeMembers, "apply_profile"},
		{nodex.NodeSkipTurn, "apply_profile"},
		{"apply_profile", "save_state"},
		{"save_state", "finalize_turn"},
		{"finalize_turn", compose.END},
	}

	for _, edge := range edges {
		if err := graph.AddEdge(edge[0], edge[1]); err != nil {
			return nil, fmt.Errorf("add edge %s->%s: %w", edge[0], edge[1], err)
		}
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName("dispatcher.handle_activity"))
	if err != nil {
		return nil, fmt.Errorf("compile dispatcher graph: %w", err)
	}
	return runner, nil
}
