package workflownode

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	contractx "github.com/pattarawit/ensemble/agent/contract"
)

// Passthrough applies when exactly one specialist produced output and there
// is no retrieval context to weave in. The response is forwarded verbatim.
func Passthrough(in *GraphState) (GraphOutput, error) {
	if in == nil || in.Ctx == nil {
		return GraphOutput{}, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	sections := in.Ctx.GenerationOutputs()
	if len(sections) != 1 {
		return GraphOutput{}, fmt.Errorf("%w: passthrough requires exactly one response, got %d", contractx.ErrValidation, len(sections))
	}

	if err := in.Ctx.SetFinal(sections[0].Body); err != nil {
		return GraphOutput{}, err
	}

	log.Debug().Str("handler", sections[0].Handler).Msg("single response passed through")
	return GraphOutput{Result: in.Ctx}, nil
}

// Synthesize merges everything the handlers produced into one answer. The
// synthesizer also owns the empty case: with nothing to merge it emits the
// apology reply instead of calling the model.
func Synthesize(ctx context.Context, in *GraphState, synth contractx.Synthesizer) (GraphOutput, error) {
	if in == nil || in.Ctx == nil {
		return GraphOutput{}, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	final := synth.Synthesize(ctx, in.Ctx)
	if err := in.Ctx.SetFinal(final); err != nil {
		return GraphOutput{}, err
	}
	return GraphOutput{Result: in.Ctx}, nil
}

// ShouldPassthrough is the aggregation decision: passthrough only when one
// non-empty response exists and retrieval contributed nothing. Any retrieval
// context forces synthesis so grounding is reflected in the final answer.
func ShouldPassthrough(in *GraphState) bool {
	if in == nil || in.Ctx == nil {
		return false
	}
	return len(in.Ctx.GenerationOutputs()) == 1 && len(in.Ctx.RetrievalOutputs()) == 0
}
