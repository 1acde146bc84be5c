package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

// PgvectorConfig configures the PostgreSQL/pgvector backend.
type PgvectorConfig struct {
	DSN     string        `envconfig:"DSN" split_words:"true" required:"true"`
	Timeout time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"10s"`
}

type pgMemoryRow struct {
	bun.BaseModel `bun:"table:memories"`

	ID             string         `bun:"id,pk"`
	UserID         string         `bun:"user_id"`
	ConversationID string         `bun:"conversation_id,nullzero"`
	Content        string         `bun:"content"`
	Tags           []string       `bun:"tags,array"`
	Metadata       map[string]any `bun:"metadata,type:jsonb"`
	CreatedAt      time.Time      `bun:"created_at"`
}

type pgKnowledgeRow struct {
	bun.BaseModel `bun:"table:knowledge_documents"`

	ID            string         `bun:"id,pk"`
	Category      string         `bun:"category"`
	Title         string         `bun:"title,nullzero"`
	ExternalDocID string         `bun:"external_doc_id,nullzero"`
	Content       string         `bun:"content"`
	Metadata      map[string]any `bun:"metadata,type:jsonb"`
	CreatedAt     time.Time      `bun:"created_at"`
}

// PgvectorDriver stores memories and knowledge documents in PostgreSQL and
// searches them by cosine distance over pgvector embeddings. Text is embedded
// client-side through the configured Embedder.
type PgvectorDriver struct {
	db       *bun.DB
	embedder Embedder
}

func NewPgvectorDriver(cfg PgvectorConfig, embedder Embedder) (*PgvectorDriver, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("pgvector dsn is required")
	}
	if embedder == nil {
		return nil, errors.New("pgvector driver requires an embedder")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(
		pgdriver.WithDSN(dsn),
		pgdriver.WithTimeout(timeout),
	))
	db := bun.NewDB(sqldb, pgdialect.New())

	return &PgvectorDriver{
		db:       db,
		embedder: embedder,
	}, nil
}

func (d *PgvectorDriver) Recall(ctx context.Context, userID string, opts RecallOptions) ([]Record, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.New("pgvector recall: user id is required")
	}

	var rows []pgMemoryRow
	q := d.db.NewSelect().
		Model(&rows).
		Where("user_id = ?", userID).
		Limit(normalizeTopK(opts.TopK))

	if conv := strings.TrimSpace(opts.ConversationID); conv != "" {
		q = q.Where("conversation_id = ?", conv)
	}
	if len(opts.ExcludeTags) > 0 {
		q = q.Where("NOT tags && ?", pgdialect.Array(opts.ExcludeTags))
	}

	query := strings.TrimSpace(opts.Query)
	if opts.UseSemantic && query != "" {
		vec, err := d.embedder.Embed(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("pgvector recall: %w", err)
		}
		q = q.OrderExpr("embedding <=> ?::vector", vectorLiteral(vec))
	} else {
		// Tag/recency mode: newest first, no vector involved.
		q = q.OrderExpr("created_at DESC")
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("pgvector recall: %w", err)
	}

	records := make([]Record, 0, len(rows))
	for _, r := range rows {
		records = append(records, Record{
			ID:             r.ID,
			UserID:         r.UserID,
			ConversationID: r.ConversationID,
			Content:        r.Content,
			Tags:           r.Tags,
			Metadata:       r.Metadata,
			CreatedAt:      r.CreatedAt,
		})
	}
	return records, nil
}

func (d *PgvectorDriver) RecallKnowledge(ctx context.Context, query string, topK int, category string) ([]KnowledgeRecord, error) {
	var rows []pgKnowledgeRow
	q := d.db.NewSelect().
		Model(&rows).
		Limit(normalizeTopK(topK))

	if c := strings.TrimSpace(category); c != "" {
		q = q.Where("category = ?", strings.ToLower(c))
	}

	if trimmed := strings.TrimSpace(query); trimmed != "" {
		vec, err := d.embedder.Embed(ctx, trimmed)
		if err != nil {
			return nil, fmt.Errorf("pgvector recall knowledge: %w", err)
		}
		q = q.OrderExpr("embedding <=> ?::vector", vectorLiteral(vec))
	} else {
		q = q.OrderExpr("created_at DESC")
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("pgvector recall knowledge: %w", err)
	}

	records := make([]KnowledgeRecord, 0, len(rows))
	for _, r := range rows {
		records = append(records, KnowledgeRecord{
			ID:            r.ID,
			Category:      strings.ToUpper(r.Category),
			Title:         r.Title,
			ExternalDocID: r.ExternalDocID,
			Content:       r.Content,
			Metadata:      r.Metadata,
			CreatedAt:     r.CreatedAt,
		})
	}
	return records, nil
}

func (d *PgvectorDriver) Store(ctx context.Context, userID, content string, opts StoreOptions) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", errors.New("pgvector store: user id is required")
	}
	if strings.TrimSpace(content) == "" {
		return "", errors.New("pgvector store: content is empty")
	}

	vec, err := d.embedder.Embed(ctx, content)
	if err != nil {
		return "", fmt.Errorf("pgvector store: %w", err)
	}

	row := pgMemoryRow{
		ID:             uuid.NewString(),
		UserID:         userID,
		ConversationID: strings.TrimSpace(opts.ConversationID),
		Content:        content,
		Tags:           opts.Tags,
		Metadata:       opts.Metadata,
		CreatedAt:      time.Now().UTC(),
	}

	_, err = d.db.NewInsert().
		Model(&row).
		Value("embedding", "?::vector", vectorLiteral(vec)).
		Exec(ctx)
	if err != nil {
		return "", fmt.Errorf("pgvector store: %w", err)
	}
	return row.ID, nil
}

func (d *PgvectorDriver) StoreKnowledge(ctx context.Context, doc KnowledgeDoc) (string, error) {
	if strings.TrimSpace(doc.Content) == "" {
		return "", errors.New("pgvector store knowledge: content is empty")
	}
	category := strings.ToLower(strings.TrimSpace(doc.Category))
	if category == "" {
		return "", errors.New("pgvector store knowledge: category is required")
	}

	vec, err := d.embedder.Embed(ctx, doc.Content)
	if err != nil {
		return "", fmt.Errorf("pgvector store knowledge: %w", err)
	}

	row := pgKnowledgeRow{
		ID:            uuid.NewString(),
		Category:      category,
		Title:         strings.TrimSpace(doc.Title),
		ExternalDocID: strings.TrimSpace(doc.ExternalDocID),
		Content:       doc.Content,
		Metadata:      doc.Metadata,
		CreatedAt:     time.Now().UTC(),
	}

	q := d.db.NewInsert().
		Model(&row).
		Value("embedding", "?::vector", vectorLiteral(vec))

	// Re-syncing the same source document must overwrite, not duplicate.
	if row.ExternalDocID != "" {
		q = q.On("CONFLICT (external_doc_id) DO UPDATE").
			Set("content = EXCLUDED.content").
			Set("category = EXCLUDED.category").
			Set("title = EXCLUDED.title").
			Set("metadata = EXCLUDED.metadata").
			Set("embedding = EXCLUDED.embedding")
	}

	if _, err := q.Exec(ctx); err != nil {
		return "", fmt.Errorf("pgvector store knowledge: %w", err)
	}
	return row.ID, nil
}

func (d *PgvectorDriver) Delete(ctx context.Context, recordID, userID string) (bool, error) {
	recordID = strings.TrimSpace(recordID)
	if recordID == "" {
		return false, errors.New("pgvector delete: record id is required")
	}

	q := d.db.NewDelete().
		Model((*pgMemoryRow)(nil)).
		Where("id = ?", recordID)
	if u := strings.TrimSpace(userID); u != "" {
		q = q.Where("user_id = ?", u)
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("pgvector delete: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("pgvector delete: %w", err)
	}
	return affected > 0, nil
}

func (d *PgvectorDriver) HealthCheck(ctx context.Context) HealthStatus {
	status := HealthStatus{Driver: "pgvector"}
	if err := d.db.PingContext(ctx); err != nil {
		status.Detail = err.Error()
		return status
	}
	status.Healthy = true
	return status
}

// vectorLiteral renders []float32 in pgvector's text format, e.g. [0.1,0.2].
func vectorLiteral(vec []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range vec {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%g", v)
	}
	b.WriteByte(']')
	return b.String()
}
