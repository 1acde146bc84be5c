package synthesizer

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"

	contractx "github.com/pattarawit/ensemble/agent/contract"
	llmx "github.com/pattarawit/ensemble/agent/llm"
	statex "github.com/pattarawit/ensemble/agent/state"
)

// ApologyReply is the user-visible output when no handler contributed
// anything. The request still completes successfully from the caller's
// perspective.
const ApologyReply = "I apologize, but I wasn't able to generate a response. Please try rephrasing your question."

// Synthesizer merges retrieval context and specialist responses into one
// final answer with a single completion call.
type Synthesizer struct {
	runner compose.Runnable[map[string]any, *schema.Message]
}

func New(ctx context.Context, cfg llmx.Config, systemPrompt string) (*Synthesizer, error) {
	if strings.TrimSpace(systemPrompt) == "" {
		return nil, fmt.Errorf("%w: synthesizer prompt", contractx.ErrPromptMissing)
	}

	modelCfg := cfg.OpenRouterFor(contractx.AgentTypeSynthesizer)
	chatModel, err := modelCfg.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: create synthesizer model: %v", contractx.ErrModelInvoke, err)
	}

	runner, err := llmx.CompileMessageGraph(ctx, chatModel, systemPrompt, "synthesizer.model_graph")
	if err != nil {
		return nil, fmt.Errorf("%w: compile synthesizer graph: %v", contractx.ErrModelInvoke, err)
	}

	return &Synthesizer{runner: runner}, nil
}

// Synthesize produces the final answer from every non-empty output in the
// context. It never fails: a model error degrades to a plain concatenation
// of the collected outputs, and an empty input set yields the apology.
func (s *Synthesizer) Synthesize(ctx context.Context, wctx *statex.Context) string {
	contextParts := wctx.RetrievalOutputs()
	responseParts := wctx.GenerationOutputs()

	if len(contextParts) == 0 && len(responseParts) == 0 {
		return ApologyReply
	}

	combined := combineSections(contextParts, responseParts)

	msg, err := s.runner.Invoke(ctx, map[string]any{
		"input": synthesisInput(wctx.Query, wctx.Intent, combined),
	})
	if err == nil && msg != nil {
		if content := strings.TrimSpace(msg.Content); content != "" {
			return content
		}
	}
	if err != nil {
		log.Warn().Err(err).Msg("synthesis invoke failed, degrading to concatenated outputs")
	} else {
		log.Warn().Msg("synthesis returned empty content, degrading to concatenated outputs")
	}

	return concatenated(contextParts, responseParts)
}

func combineSections(contextParts, responseParts []statex.Section) string {
	var blocks []string
	if len(contextParts) > 0 {
		blocks = append(blocks, "=== CONTEXT ===\n"+joinSections(contextParts, "\n\n---\n\n"))
	}
	if len(responseParts) > 0 {
		blocks = append(blocks, "=== AGENT RESPONSES ===\n"+joinSections(responseParts, "\n\n---\n\n"))
	}
	return strings.Join(blocks, "\n\n==========\n\n")
}

func synthesisInput(query, intent, combined string) string {
	var b strings.Builder
	b.WriteString("Original User Question: ")
	b.WriteString(query)
	b.WriteString("\n\nIntent: ")
	b.WriteString(intent)
	b.WriteString("\n\nContent to Synthesize:\n\n")
	b.WriteString(combined)
	b.WriteString("\n\nCreate a unified, coherent response that answers the user's question.")
	return b.String()
}

// concatenated is the degraded no-model rendering: grounding context first,
// then each response in descriptor order.
func concatenated(contextParts, responseParts []statex.Section) string {
	sections := append(append([]statex.Section{}, contextParts...), responseParts...)
	out := joinSections(sections, "\n\n")
	if strings.TrimSpace(out) == "" {
		return ApologyReply
	}
	return out
}

func joinSections(sections []statex.Section, sep string) string {
	parts := make([]string, 0, len(sections))
	for _, s := range sections {
		parts = append(parts, s.String())
	}
	return strings.Join(parts, sep)
}
