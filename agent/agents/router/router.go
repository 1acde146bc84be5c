package router

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"

	contractx "github.com/pattarawit/ensemble/agent/contract"
	llmx "github.com/pattarawit/ensemble/agent/llm"
)

const (
	// The deterministic decision used whenever the model's routing payload
	// cannot be parsed. Fixed so the workflow never stalls on a bad response.
	fallbackIntent  = "fallback - parsing error"
	fallbackHandler = "writing"
)

// Router classifies intent and selects handlers. It is generation-handler
// shaped (one completion call) but privileged: its output is the routing
// decision, never an answer.
type Router struct {
	runner compose.Runnable[map[string]any, *schema.Message]
}

func New(ctx context.Context, cfg llmx.Config, systemPrompt string) (*Router, error) {
	if strings.TrimSpace(systemPrompt) == "" {
		return nil, fmt.Errorf("%w: router prompt", contractx.ErrPromptMissing)
	}

	modelCfg := cfg.OpenRouterFor(contractx.AgentTypeRouter)
	chatModel, err := modelCfg.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: create router model: %v", contractx.ErrModelInvoke, err)
	}

	runner, err := llmx.CompileMessageGraph(ctx, chatModel, systemPrompt, "router.model_graph")
	if err != nil {
		return nil, fmt.Errorf("%w: compile router graph: %v", contractx.ErrModelInvoke, err)
	}

	return &Router{runner: runner}, nil
}

// Route returns the routing decision for query. Any model or parse failure
// degrades to the fixed fallback decision; Route never fails.
func (r *Router) Route(ctx context.Context, query string) contractx.RouteDecision {
	msg, err := r.runner.Invoke(ctx, map[string]any{
		"input": "User input: " + query,
	})
	if err != nil {
		log.Warn().Err(err).Msg("router invoke failed, using fallback decision")
		return fallbackDecision()
	}
	if msg == nil {
		log.Warn().Msg("router returned no message, using fallback decision")
		return fallbackDecision()
	}

	decision, err := parseDecision(msg.Content)
	if err != nil {
		log.Warn().Err(err).Str("content", msg.Content).Msg("router response unparsable, using fallback decision")
		return fallbackDecision()
	}
	return decision
}

func fallbackDecision() contractx.RouteDecision {
	return contractx.RouteDecision{
		Intent:           fallbackIntent,
		SelectedHandlers: []string{fallbackHandler},
	}
}

// parseDecision accepts the payload verbatim when it is valid JSON, after
// stripping a markdown code fence when the model wrapped it in one.
func parseDecision(content string) (contractx.RouteDecision, error) {
	payload := stripCodeFence(strings.TrimSpace(content))
	if payload == "" {
		return contractx.RouteDecision{}, fmt.Errorf("%w: empty routing payload", contractx.ErrSchemaViolation)
	}

	var decision contractx.RouteDecision
	if err := json.Unmarshal([]byte(payload), &decision); err != nil {
		return contractx.RouteDecision{}, fmt.Errorf("%w: %v", contractx.ErrSchemaViolation, err)
	}
	if len(decision.SelectedHandlers) == 0 {
		return contractx.RouteDecision{}, fmt.Errorf("%w: no handlers selected", contractx.ErrSchemaViolation)
	}

	decision.Intent = strings.TrimSpace(decision.Intent)
	return decision, nil
}

func stripCodeFence(content string) string {
	start := strings.Index(content, "```")
	if start < 0 {
		return content
	}

	inner := content[start+3:]
	if idx := strings.Index(inner, "\n"); idx >= 0 {
		// Drop the info string ("json", "JSON", ...) on the opening fence.
		inner = inner[idx+1:]
	}
	if idx := strings.LastIndex(inner, "```"); idx >= 0 {
		inner = inner[:idx]
	}
	return strings.TrimSpace(inner)
}
