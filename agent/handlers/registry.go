package handlers

import (
	"context"
	"fmt"

	contractx "github.com/pattarawit/ensemble/agent/contract"
	llmx "github.com/pattarawit/ensemble/agent/llm"
	memoryx "github.com/pattarawit/ensemble/agent/memory"
	promptx "github.com/pattarawit/ensemble/agent/prompt"
	statex "github.com/pattarawit/ensemble/agent/state"
)

type registryImpl struct {
	byName map[string]contractx.Handler
}

func (r *registryImpl) Handler(name string) (contractx.Handler, bool) {
	h, ok := r.byName[name]
	return h, ok
}

// NewRegistry builds every handler named in the descriptor table: the two
// retrieval handlers over the resolved memory driver, and one generation
// handler per model configuration.
func NewRegistry(ctx context.Context, cfg llmx.Config, driver memoryx.Driver) (contractx.HandlerRegistry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if driver == nil {
		return nil, fmt.Errorf("%w: memory driver is required", contractx.ErrValidation)
	}

	prompts := promptx.LoadPromptSet()
	generationPrompts := map[contractx.AgentType]string{
		contractx.AgentTypeGeneral:  prompts.General,
		contractx.AgentTypeResearch: prompts.Research,
		contractx.AgentTypeWriting:  prompts.Writing,
		contractx.AgentTypeCode:     prompts.Code,
	}

	byName := map[string]contractx.Handler{
		"knowledge": newKnowledgeHandler(driver),
		"memory":    newMemoryHandler(driver),
	}

	for agentType, systemPrompt := range generationPrompts {
		h, err := newGenerationHandler(ctx, agentType, cfg, systemPrompt)
		if err != nil {
			return nil, err
		}
		byName[h.Name()] = h
	}

	// Every descriptor entry must resolve, or routing decisions would name
	// handlers that cannot run.
	for _, d := range statex.Descriptors() {
		if _, ok := byName[d.Name]; !ok {
			return nil, fmt.Errorf("%w: no handler built for %q", contractx.ErrValidation, d.Name)
		}
	}

	return &registryImpl{byName: byName}, nil
}
