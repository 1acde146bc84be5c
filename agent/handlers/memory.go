package handlers

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	memoryx "github.com/pattarawit/ensemble/agent/memory"
	statex "github.com/pattarawit/ensemble/agent/state"
)

const (
	recentTopK    = 5
	shortTermTopK = 10
	longTermTopK  = 15
)

// memoryHandler retrieves the user's conversation history in three passes:
// recent chronological messages (tag mode, so unindexed writes still show
// up), semantically relevant memories from the current conversation, and
// semantically relevant memories from past conversations. Each pass degrades
// independently; a dead backend yields an empty contribution, never an abort.
type memoryHandler struct {
	driver memoryx.Driver
}

func newMemoryHandler(driver memoryx.Driver) *memoryHandler {
	return &memoryHandler{driver: driver}
}

func (h *memoryHandler) Name() string {
	return "memory"
}

func (h *memoryHandler) Kind() statex.Kind {
	return statex.KindRetrieval
}

func (h *memoryHandler) Run(ctx context.Context, wctx *statex.Context) (string, error) {
	if strings.TrimSpace(wctx.UserID) == "" {
		return "", nil
	}

	recent := h.recall(ctx, wctx.UserID, "recent", memoryx.RecallOptions{
		ConversationID: wctx.ConversationID,
		TopK:           recentTopK,
		UseSemantic:    false,
	})

	shortTerm := h.recall(ctx, wctx.UserID, "short-term", memoryx.RecallOptions{
		ConversationID: wctx.ConversationID,
		Query:          wctx.Query,
		TopK:           shortTermTopK,
		UseSemantic:    true,
	})
	shortTerm = dropSeen(shortTerm, recent)

	var excludeTags []string
	if wctx.ConversationID != "" {
		excludeTags = []string{"conversation_" + wctx.ConversationID}
	}
	longTerm := h.recall(ctx, wctx.UserID, "long-term", memoryx.RecallOptions{
		Query:       wctx.Query,
		TopK:        longTermTopK,
		UseSemantic: true,
		ExcludeTags: excludeTags,
	})
	longTerm = dropSeen(longTerm, append(recent, shortTerm...))

	if len(recent)+len(shortTerm)+len(longTerm) == 0 {
		return "", nil
	}

	var parts []string
	if len(recent) > 0 {
		parts = append(parts, "=== RECENT CONVERSATION ===")
		for _, rec := range recent {
			if strings.TrimSpace(rec.Content) == "" {
				continue
			}
			parts = append(parts, roleFromTags(rec.Tags)+": "+rec.Content)
		}
	}
	if len(shortTerm) > 0 {
		parts = append(parts, "\n=== RELEVANT FROM THIS CONVERSATION ===")
		for _, rec := range shortTerm {
			if strings.TrimSpace(rec.Content) == "" {
				continue
			}
			parts = append(parts, "• "+rec.Content)
		}
	}
	if len(longTerm) > 0 {
		parts = append(parts, "\n=== RELEVANT FROM PAST CONVERSATIONS ===")
		for _, rec := range longTerm {
			if strings.TrimSpace(rec.Content) == "" {
				continue
			}
			parts = append(parts, "• "+rec.Content)
		}
	}
	return strings.Join(parts, "\n"), nil
}

func (h *memoryHandler) recall(ctx context.Context, userID, phase string, opts memoryx.RecallOptions) []memoryx.Record {
	records, err := h.driver.Recall(ctx, userID, opts)
	if err != nil {
		log.Warn().Err(err).Str("handler", h.Name()).Str("phase", phase).Msg("memory recall phase degraded to empty")
		return nil
	}
	return records
}

func dropSeen(records, seen []memoryx.Record) []memoryx.Record {
	if len(records) == 0 || len(seen) == 0 {
		return records
	}
	seenIDs := make(map[string]struct{}, len(seen))
	for _, rec := range seen {
		seenIDs[rec.ID] = struct{}{}
	}
	out := records[:0]
	for _, rec := range records {
		if _, dup := seenIDs[rec.ID]; dup {
			continue
		}
		out = append(out, rec)
	}
	return out
}

func roleFromTags(tags []string) string {
	for _, tag := range tags {
		if tag == "user" || tag == "assistant" {
			return tag
		}
	}
	return "unknown"
}
