package workflow

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/compose"

	nodex "github.com/pattarawit/ensemble/agent/nodes"
)

func (s *Service) compileHandleQueryGraph(
	ctx context.Context,
) (compose.Runnable[nodex.GraphInput, nodex.GraphOutput], error) {
	graph := compose.NewGraph[nodex.GraphInput, nodex.GraphOutput]()

	if err := graph.AddLambdaNode("validate_request",
		compose.InvokableLambda(func(ctx context.Context, in nodex.GraphInput) (*nodex.GraphState, error) {
			return nodex.ValidateRequest(in, s.now)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node validate_request: %w", err)
	}

	if err := graph.AddLambdaNode("route",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.Route(ctx, in, s.router)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node route: %w", err)
	}

	if err := graph.AddLambdaNode("run_retrieval",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.RunRetrieval(ctx, in, s.handlers)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node run_retrieval: %w", err)
	}

	if err := graph.AddLambdaNode("run_generation",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.RunGeneration(ctx, in, s.handlers)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node run_generation: %w", err)
	}

	if err := graph.AddLambdaNode("passthrough",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (nodex.GraphOutput, error) {
			return nodex.Passthrough(in)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node passthrough: %w", err)
	}

	if err := graph.AddLambdaNode("synthesize",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (nodex.GraphOutput, error) {
			return nodex.Synthesize(ctx, in, s.synthesizer)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node synthesize: %w", err)
	}

	branch := compose.NewGraphBranch(
		func(ctx context.Context, in *nodex.GraphState) (string, error) {
			if nodex.ShouldPassthrough(in) {
				return "passthrough", nil
			}
			return "synthesize", nil
		},
		map[string]bool{
			"passthrough": true,
			"synthesize":  true,
		},
	)

	if err := graph.AddBranch("run_generation", branch); err != nil {
		return nil, fmt.Errorf("add aggregation branch: %w", err)
	}

	edges := [][2]string{
		{compose.START, "validate_request"},
		{"validate_request", "route"},
		{"route", "run_retrieval"},
		{"run_retrieval", "run_generation"},
		{"passthrough", compose.END},
		{"synthesize", compose.END},
	}

	for _, edge := range edges {
		if err := graph.AddEdge(edge[0], edge[1]); err != nil {
			return nil, fmt.Errorf("add edge %s->%s: %w", edge[0], edge[1], err)
		}
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName("workflow.handle_query"))
	if err != nil {
		return nil, fmt.Errorf("compile workflow graph: %w", err)
	}
	return runner, nil
}
