package workflownode

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	contractx "github.com/pattarawit/ensemble/agent/contract"
)

// RunRetrieval executes the retrieval-phase handlers sequentially in
// selection order. Handler failures are absorbed: the slot stays empty and
// the workflow continues. A handler already in the execution trace is
// skipped, never re-run.
func RunRetrieval(ctx context.Context, in *GraphState, registry contractx.HandlerRegistry) (*GraphState, error) {
	if in == nil || in.Ctx == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	return runHandlers(ctx, in, registry, in.Retrieval)
}

func runHandlers(ctx context.Context, in *GraphState, registry contractx.HandlerRegistry, names []string) (*GraphState, error) {
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if in.Ctx.Executed(name) {
			continue
		}

		handler, ok := registry.Handler(name)
		if !ok {
			log.Warn().Str("handler", name).Msg("selected handler not registered, skipping")
			in.Ctx.MarkExecuted(name)
			continue
		}

		out, err := handler.Run(ctx, in.Ctx)
		in.Ctx.MarkExecuted(name)
		if err != nil {
			log.Warn().Err(err).Str("handler", name).Msg("handler failed, slot left empty")
			continue
		}
		in.Ctx.SetOutput(name, out)
	}
	return in, nil
}
