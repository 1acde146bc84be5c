package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	contractx "github.com/pattarawit/ensemble/agent/contract"
	llmx "github.com/pattarawit/ensemble/agent/llm"
	statex "github.com/pattarawit/ensemble/agent/state"
)

// generationHandler is the uniform shape of every LLM-backed handler: a fixed
// system prompt, one completion call, one owned output slot. Retrieval
// outputs already present in the context are appended as grounding.
type generationHandler struct {
	name   string
	runner compose.Runnable[map[string]any, *schema.Message]
}

func newGenerationHandler(
	ctx context.Context,
	agentType contractx.AgentType,
	cfg llmx.Config,
	systemPrompt string,
) (*generationHandler, error) {
	if strings.TrimSpace(systemPrompt) == "" {
		return nil, fmt.Errorf("%w: %s prompt", contractx.ErrPromptMissing, agentType)
	}

	modelCfg := cfg.OpenRouterFor(agentType)
	chatModel, err := modelCfg.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: create %s model: %v", contractx.ErrModelInvoke, agentType, err)
	}

	runner, err := llmx.CompileMessageGraph(ctx, chatModel, systemPrompt, string(agentType)+".model_graph")
	if err != nil {
		return nil, fmt.Errorf("%w: compile %s graph: %v", contractx.ErrModelInvoke, agentType, err)
	}

	return &generationHandler{
		name:   string(agentType),
		runner: runner,
	}, nil
}

func (h *generationHandler) Name() string {
	return h.name
}

func (h *generationHandler) Kind() statex.Kind {
	return statex.KindGeneration
}

func (h *generationHandler) Run(ctx context.Context, wctx *statex.Context) (string, error) {
	msg, err := h.runner.Invoke(ctx, map[string]any{
		"input": groundedInput(wctx),
	})
	if err != nil {
		return "", fmt.Errorf("%w: %s invoke: %v", contractx.ErrModelInvoke, h.name, err)
	}
	if msg == nil {
		return "", fmt.Errorf("%w: %s returned no message", contractx.ErrSchemaViolation, h.name)
	}

	content := strings.TrimSpace(msg.Content)
	if content == "" {
		return "", fmt.Errorf("%w: %s returned empty content", contractx.ErrSchemaViolation, h.name)
	}
	return content, nil
}

// groundedInput folds the retrieval contributions under the question so the
// model can use them without a second round trip.
func groundedInput(wctx *statex.Context) string {
	var b strings.Builder
	b.WriteString("User question: ")
	b.WriteString(wctx.Query)

	for _, section := range wctx.RetrievalOutputs() {
		b.WriteString("\n\n")
		b.WriteString(section.String())
	}
	return b.String()
}
