package memory

import (
	"context"
	"errors"
	"time"
)

var (
	ErrUnknownDriver = errors.New("memory driver is not registered")
	ErrDriverInit    = errors.New("memory driver initialization failed")
	ErrNotFound      = errors.New("memory record not found")
)

// Record is one stored user memory.
type Record struct {
	ID             string         `json:"id"`
	UserID         string         `json:"user_id"`
	ConversationID string         `json:"conversation_id,omitempty"`
	Content        string         `json:"content"`
	Tags           []string       `json:"tags,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// KnowledgeRecord is one stored global-knowledge document.
type KnowledgeRecord struct {
	ID            string         `json:"id"`
	Category      string         `json:"category"`
	Title         string         `json:"title,omitempty"`
	ExternalDocID string         `json:"external_doc_id,omitempty"`
	Content       string         `json:"content"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// RecallOptions scope a user-memory recall.
type RecallOptions struct {
	ConversationID string
	Query          string
	TopK           int
	// UseSemantic selects vector search. When false, or when Query is empty,
	// the driver must fall back to pure recency/tag filtering instead of
	// failing — the degraded mode used while a semantic index catches up
	// with recent writes.
	UseSemantic bool
	ExcludeTags []string
}

// StoreOptions accompany a user-memory write.
type StoreOptions struct {
	ConversationID string
	Tags           []string
	Metadata       map[string]any
}

// KnowledgeDoc is the input for a global-knowledge write. Writes with a
// pre-existing ExternalDocID overwrite the earlier document (upsert).
type KnowledgeDoc struct {
	Content       string
	Category      string
	Title         string
	ExternalDocID string
	Metadata      map[string]any
}

// HealthStatus describes a backend's reachability.
type HealthStatus struct {
	Driver  string `json:"driver"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// Driver is the capability contract implemented identically by every backend.
// Implementations must be safe for concurrent use by multiple in-flight
// requests. Methods return real errors; the retrieval handlers are the
// fail-soft boundary that converts them into empty contributions.
type Driver interface {
	Recall(ctx context.Context, userID string, opts RecallOptions) ([]Record, error)
	RecallKnowledge(ctx context.Context, query string, topK int, category string) ([]KnowledgeRecord, error)
	Store(ctx context.Context, userID, content string, opts StoreOptions) (string, error)
	StoreKnowledge(ctx context.Context, doc KnowledgeDoc) (string, error)
	Delete(ctx context.Context, recordID, userID string) (bool, error)
	HealthCheck(ctx context.Context) HealthStatus
}
