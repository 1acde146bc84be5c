package handlers

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	memoryx "github.com/pattarawit/ensemble/agent/memory"
	statex "github.com/pattarawit/ensemble/agent/state"
)

const knowledgeTopK = 5

// knowledgeHandler retrieves global company knowledge. Pure retrieval: it
// queries the memory driver and never calls the completion service. Driver
// errors degrade to an empty contribution — retrieved knowledge is advisory
// context, not required for answering.
type knowledgeHandler struct {
	driver memoryx.Driver
}

func newKnowledgeHandler(driver memoryx.Driver) *knowledgeHandler {
	return &knowledgeHandler{driver: driver}
}

func (h *knowledgeHandler) Name() string {
	return "knowledge"
}

func (h *knowledgeHandler) Kind() statex.Kind {
	return statex.KindRetrieval
}

func (h *knowledgeHandler) Run(ctx context.Context, wctx *statex.Context) (string, error) {
	records, err := h.driver.RecallKnowledge(ctx, wctx.Query, knowledgeTopK, "")
	if err != nil {
		log.Warn().Err(err).Str("handler", h.Name()).Msg("knowledge recall degraded to empty")
		return "", nil
	}
	if len(records) == 0 {
		return "", nil
	}

	parts := make([]string, 0, len(records))
	for _, rec := range records {
		if strings.TrimSpace(rec.Content) == "" {
			continue
		}
		header := "[" + rec.Category + "]"
		if rec.ExternalDocID != "" {
			header += " " + rec.ExternalDocID
		}
		if rec.Title != "" {
			header += " - " + rec.Title
		}
		parts = append(parts, header+"\n"+rec.Content)
	}
	return strings.Join(parts, "\n\n"), nil
}
