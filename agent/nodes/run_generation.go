package workflownode

import (
	"context"
	"fmt"

	contractx "github.com/pattarawit/ensemble/agent/contract"
)

// RunGeneration executes the generation-phase handlers after retrieval has
// finished, so every specialist sees the full grounding context. Same
// fail-soft and skip rules as the retrieval phase.
func RunGeneration(ctx context.Context, in *GraphState, registry contractx.HandlerRegistry) (*GraphState, error) {
	if in == nil || in.Ctx == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	return runHandlers(ctx, in, registry, in.Generation)
}
