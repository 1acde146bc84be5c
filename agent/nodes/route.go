package workflownode

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	contractx "github.com/pattarawit/ensemble/agent/contract"
	statex "github.com/pattarawit/ensemble/agent/state"
)

// Route asks the router for an intent and handler selection, then partitions
// the selection into the two execution phases. The router never fails; its
// fallback decision keeps the workflow moving.
func Route(ctx context.Context, in *GraphState, router contractx.Router) (*GraphState, error) {
	if in == nil || in.Ctx == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	decision := router.Route(ctx, in.Ctx.Query)
	in.Ctx.Intent = decision.Intent
	in.Ctx.SelectedHandlers = decision.SelectedHandlers
	in.Retrieval, in.Generation = statex.Partition(decision.SelectedHandlers)

	log.Info().
		Str("intent", decision.Intent).
		Strs("retrieval", in.Retrieval).
		Strs("generation", in.Generation).
		Msg("query routed")

	return in, nil
}
