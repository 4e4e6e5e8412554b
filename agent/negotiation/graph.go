package negotiation

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/compose"
	nodex "github.com/tanpawarit/Vendor-Negotiation-Agent/agent/nodes"
)

// compileTurnGraph wires one negotiation turn. The lambdas run while s.mu is
// held by Invoke and read session fields directly.
func (s *Session) compileTurnGraph(
	ctx context.Context,
) (compose.Runnable[nodex.GraphInput, nodex.GraphOutput], error) {
	graph := compose.NewGraph[nodex.GraphInput, nodex.GraphOutput]()

	if err := graph.AddLambdaNode("validate_turn",
		compose.InvokableLambda(func(ctx context.Context, in nodex.GraphInput) (*nodex.GraphState, error) {
			return nodex.ValidateTurn(in, s.tools.Binding(), s.turns, s.deps.Now)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node validate_turn: %w", err)
	}

	if err := graph.AddLambdaNode("compute_leverage",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.ComputeLeverage(ctx, in, s.deps.Leverage)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node compute_leverage: %w", err)
	}

	if err := graph.AddLambdaNode("compose_instructions",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.ComposeTurnInstructions(in, s.instructions)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node compose_instructions: %w", err)
	}

	if err := graph.AddLambdaNode("run_agent",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.RunAgent(ctx, in, s.runtime, s.cfg.MaxSteps)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node run_agent: %w", err)
	}

	if err := graph.AddLambdaNode("save_checkpoint",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.SaveCheckpoint(ctx, in, s.deps.Checkpoints, s.checkpoint, s.deps.Reporter)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node save_checkpoint: %w", err)
	}

	if err := graph.AddLambdaNode("finalize_turn",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (nodex.GraphOutput, error) {
			return nodex.FinalizeTurn(ctx, in, s.phase.Phase(), s.deps.Reporter)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node finalize_turn: %w", err)
	}

	edges := [][2]string{
		{compose.START, "validate_turn"},
		{"validate_turn", "compute_leverage"},
		{"compute_leverage", "compose_instructions"},
		{"compose_instructions", "run_agent"},
		{"run_agent", "save_checkpoint"},
		{"save_checkpoint", "finalize_turn"},
		{"finalize_turn", compose.END},
	}

	for _, edge := range edges {
		if err := graph.AddEdge(edge[0], edge[1]); err != nil {
			return nil, fmt.Errorf("add edge %s->%s: %w", edge[0], edge[1], err)
		}
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName("negotiation.turn"))
	if err != nil {
		return nil, fmt.Errorf("compile negotiation turn graph: %w", err)
	}
	return runner, nil
}
