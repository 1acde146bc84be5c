package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

func init() {
	// Auto-register the sqlite-vec extension for every new connection.
	sqlite_vec.Auto()
}

// SqliteVecConfig configures the embedded sqlite-vec backend.
type SqliteVecConfig struct {
	Path string `envconfig:"PATH" split_words:"true" default:"ensemble-memory.db"`
}

// SqliteVecDriver is the zero-infrastructure backend: plain sqlite tables for
// tag/recency recall plus vec0 virtual tables for KNN semantic search.
type SqliteVecDriver struct {
	db       *sql.DB
	embedder Embedder
}

func NewSqliteVecDriver(cfg SqliteVecConfig, embedder Embedder) (*SqliteVecDriver, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlitevec path is required")
	}
	if embedder == nil {
		return nil, errors.New("sqlitevec driver requires an embedder")
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	d := &SqliteVecDriver{
		db:       db,
		embedder: embedder,
	}
	if err := d.initSchema(embedder.Dimension()); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

func (d *SqliteVecDriver) initSchema(dimension int) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS memories (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			user_id TEXT NOT NULL,
			conversation_id TEXT,
			content TEXT NOT NULL,
			tags TEXT NOT NULL DEFAULT '[]',
			metadata TEXT,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS knowledge_documents (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			category TEXT NOT NULL,
			title TEXT,
			external_doc_id TEXT UNIQUE,
			content TEXT NOT NULL,
			metadata TEXT,
			created_at TIMESTAMP NOT NULL
		)`,
		fmt.Sprintf(`CREATE VIRTUAL TABLE IF NOT EXISTS vec_memories USING vec0(embedding float[%d])`, dimension),
		fmt.Sprintf(`CREATE VIRTUAL TABLE IF NOT EXISTS vec_knowledge USING vec0(embedding float[%d])`, dimension),
	}
	for _, stmt := range stmts {
		if _, err := d.db.Exec(stmt); err != nil {
			return fmt.Errorf("initialize sqlite schema: %w", err)
		}
	}
	return nil
}

func (d *SqliteVecDriver) Recall(ctx context.Context, userID string, opts RecallOptions) ([]Record, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.New("sqlitevec recall: user id is required")
	}

	topK := normalizeTopK(opts.TopK)
	query := strings.TrimSpace(opts.Query)
	conv := strings.TrimSpace(opts.ConversationID)

	var (
		rows *sql.Rows
		err  error
	)
	if opts.UseSemantic && query != "" {
		blob, embErr := d.queryEmbedding(ctx, query)
		if embErr != nil {
			return nil, fmt.Errorf("sqlitevec recall: %w", embErr)
		}
		// KNN over the vec0 table, joined back to the base rows. The MATCH
		// constraint cannot be combined with base-table predicates, so
		// over-fetch and post-filter by user/conversation below.
		rows, err = d.db.QueryContext(ctx, `
			SELECT m.id, m.user_id, m.conversation_id, m.content, m.tags, m.metadata, m.created_at
			FROM vec_memories v
			JOIN memories m ON m.seq = v.rowid
			WHERE v.embedding MATCH ? AND k = ?
			ORDER BY v.distance`,
			blob, topK*4)
	} else {
		// Tag/recency mode: newest first, scoped in SQL so another user's
		// recent writes cannot crowd the result window.
		where := "WHERE user_id = ?"
		args := []any{userID}
		if conv != "" {
			where += " AND conversation_id = ?"
			args = append(args, conv)
		}
		limit := topK
		if len(opts.ExcludeTags) > 0 {
			// Tag exclusion still filters in Go; leave headroom for it.
			limit = topK * 4
		}
		args = append(args, limit)
		rows, err = d.db.QueryContext(ctx, `
			SELECT id, user_id, conversation_id, content, tags, metadata, created_at
			FROM memories `+where+`
			ORDER BY created_at DESC
			LIMIT ?`,
			args...)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlitevec recall: %w", err)
	}
	defer rows.Close()
	var records []Record
	for rows.Next() {
		rec, scanErr := scanMemoryRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("sqlitevec recall: %w", scanErr)
		}
		if rec.UserID != userID {
			continue
		}
		if conv != "" && rec.ConversationID != conv {
			continue
		}
		if hasAnyTag(rec.Tags, opts.ExcludeTags) {
			continue
		}
		records = append(records, rec)
		if len(records) >= topK {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlitevec recall: %w", err)
	}
	return records, nil
}

func (d *SqliteVecDriver) RecallKnowledge(ctx context.Context, query string, topK int, category string) ([]KnowledgeRecord, error) {
	topK = normalizeTopK(topK)
	category = strings.ToLower(strings.TrimSpace(category))

	var (
		rows *sql.Rows
		err  error
	)
	if trimmed := strings.TrimSpace(query); trimmed != "" {
		blob, embErr := d.queryEmbedding(ctx, trimmed)
		if embErr != nil {
			return nil, fmt.Errorf("sqlitevec recall knowledge: %w", embErr)
		}
		rows, err = d.db.QueryContext(ctx, `
			SELECT kd.id, kd.category, kd.title, kd.external_doc_id, kd.content, kd.metadata, kd.created_at
			FROM vec_knowledge v
			JOIN knowledge_documents kd ON kd.seq = v.rowid
			WHERE v.embedding MATCH ? AND k = ?
			ORDER BY v.distance`,
			blob, topK*4)
	} else {
		where := ""
		args := []any{}
		if category != "" {
			where = "WHERE category = ? "
			args = append(args, category)
		}
		args = append(args, topK)
		rows, err = d.db.QueryContext(ctx, `
			SELECT id, category, title, external_doc_id, content, metadata, created_at
			FROM knowledge_documents `+where+`
			ORDER BY created_at DESC
			LIMIT ?`,
			args...)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlitevec recall knowledge: %w", err)
	}
	defer rows.Close()

	var records []KnowledgeRecord
	for rows.Next() {
		rec, scanErr := scanKnowledgeRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("sqlitevec recall knowledge: %w", scanErr)
		}
		if category != "" && strings.ToLower(rec.Category) != category {
			continue
		}
		rec.Category = strings.ToUpper(rec.Category)
		records = append(records, rec)
		if len(records) >= topK {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlitevec recall knowledge: %w", err)
	}
	return records, nil
}

func (d *SqliteVecDriver) Store(ctx context.Context, userID, content string, opts StoreOptions) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", errors.New("sqlitevec store: user id is required")
	}
	if strings.TrimSpace(content) == "" {
		return "", errors.New("sqlitevec store: content is empty")
	}

	tags, err := json.Marshal(normalizeTags(opts.Tags))
	if err != nil {
		return "", fmt.Errorf("sqlitevec store: marshal tags: %w", err)
	}
	metadata, err := marshalMetadata(opts.Metadata)
	if err != nil {
		return "", fmt.Errorf("sqlitevec store: %w", err)
	}

	id := uuid.NewString()
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("sqlitevec store: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO memories (id, user_id, conversation_id, content, tags, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, userID, nullableString(opts.ConversationID), content, string(tags), metadata, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("sqlitevec store: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return "", fmt.Errorf("sqlitevec store: %w", err)
	}

	if err := d.insertVector(ctx, tx, "vec_memories", seq, content); err != nil {
		// The embedding is advisory; the memory is still recallable in
		// tag/recency mode, so a failed embed does not lose the write.
		log.Warn().Err(err).Str("driver", "sqlitevec").Msg("memory stored without embedding")
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("sqlitevec store: %w", err)
	}
	return id, nil
}

func (d *SqliteVecDriver) StoreKnowledge(ctx context.Context, doc KnowledgeDoc) (string, error) {
	if strings.TrimSpace(doc.Content) == "" {
		return "", errors.New("sqlitevec store knowledge: content is empty")
	}
	category := strings.ToLower(strings.TrimSpace(doc.Category))
	if category == "" {
		return "", errors.New("sqlitevec store knowledge: category is required")
	}

	metadata, err := marshalMetadata(doc.Metadata)
	if err != nil {
		return "", fmt.Errorf("sqlitevec store knowledge: %w", err)
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("sqlitevec store knowledge: %w", err)
	}
	defer tx.Rollback()

	id := uuid.NewString()
	externalID := strings.TrimSpace(doc.ExternalDocID)

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO knowledge_documents (id, category, title, external_doc_id, content, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(external_doc_id) DO UPDATE SET
			category = excluded.category,
			title = excluded.title,
			content = excluded.content,
			metadata = excluded.metadata`,
		id, category, nullableString(doc.Title), nullableString(externalID), doc.Content, metadata, time.Now().UTC()); err != nil {
		return "", fmt.Errorf("sqlitevec store knowledge: %w", err)
	}

	// The upsert may have kept the original row; read back its seq and id.
	var (
		seq      int64
		storedID string
	)
	var lookup *sql.Row
	if externalID != "" {
		lookup = tx.QueryRowContext(ctx, `SELECT seq, id FROM knowledge_documents WHERE external_doc_id = ?`, externalID)
	} else {
		lookup = tx.QueryRowContext(ctx, `SELECT seq, id FROM knowledge_documents WHERE id = ?`, id)
	}
	if err := lookup.Scan(&seq, &storedID); err != nil {
		return "", fmt.Errorf("sqlitevec store knowledge: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM vec_knowledge WHERE rowid = ?`, seq); err != nil {
		return "", fmt.Errorf("sqlitevec store knowledge: %w", err)
	}
	if err := d.insertVector(ctx, tx, "vec_knowledge", seq, doc.Content); err != nil {
		log.Warn().Err(err).Str("driver", "sqlitevec").Msg("knowledge stored without embedding")
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("sqlitevec store knowledge: %w", err)
	}
	return storedID, nil
}

func (d *SqliteVecDriver) Delete(ctx context.Context, recordID, userID string) (bool, error) {
	recordID = strings.TrimSpace(recordID)
	if recordID == "" {
		return false, errors.New("sqlitevec delete: record id is required")
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("sqlitevec delete: %w", err)
	}
	defer tx.Rollback()

	var (
		seq int64
		row *sql.Row
	)
	if u := strings.TrimSpace(userID); u != "" {
		row = tx.QueryRowContext(ctx, `SELECT seq FROM memories WHERE id = ? AND user_id = ?`, recordID, u)
	} else {
		row = tx.QueryRowContext(ctx, `SELECT seq FROM memories WHERE id = ?`, recordID)
	}
	if err := row.Scan(&seq); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("sqlitevec delete: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM memories WHERE seq = ?`, seq); err != nil {
		return false, fmt.Errorf("sqlitevec delete: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM vec_memories WHERE rowid = ?`, seq); err != nil {
		return false, fmt.Errorf("sqlitevec delete: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("sqlitevec delete: %w", err)
	}
	return true, nil
}

func (d *SqliteVecDriver) HealthCheck(ctx context.Context) HealthStatus {
	status := HealthStatus{Driver: "sqlitevec"}
	if err := d.db.PingContext(ctx); err != nil {
		status.Detail = err.Error()
		return status
	}
	status.Healthy = true
	return status
}

func (d *SqliteVecDriver) Close() error {
	return d.db.Close()
}

func (d *SqliteVecDriver) queryEmbedding(ctx context.Context, text string) ([]byte, error) {
	vec, err := d.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	blob, err := sqlite_vec.SerializeFloat32(vec)
	if err != nil {
		return nil, fmt.Errorf("serialize embedding: %w", err)
	}
	return blob, nil
}

func (d *SqliteVecDriver) insertVector(ctx context.Context, tx *sql.Tx, table string, rowid int64, text string) error {
	blob, err := d.queryEmbedding(ctx, text)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s (rowid, embedding) VALUES (?, ?)`, table), rowid, blob)
	return err
}

func scanMemoryRow(rows *sql.Rows) (Record, error) {
	var (
		rec       Record
		conv      sql.NullString
		rawTags   string
		rawMeta   sql.NullString
		createdAt time.Time
	)
	if err := rows.Scan(&rec.ID, &rec.UserID, &conv, &rec.Content, &rawTags, &rawMeta, &createdAt); err != nil {
		return Record{}, err
	}
	rec.ConversationID = conv.String
	rec.CreatedAt = createdAt
	if rawTags != "" {
		if err := json.Unmarshal([]byte(rawTags), &rec.Tags); err != nil {
			return Record{}, fmt.Errorf("decode tags: %w", err)
		}
	}
	if rawMeta.Valid && rawMeta.String != "" {
		if err := json.Unmarshal([]byte(rawMeta.String), &rec.Metadata); err != nil {
			return Record{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return rec, nil
}

func scanKnowledgeRow(rows *sql.Rows) (KnowledgeRecord, error) {
	var (
		rec       KnowledgeRecord
		title     sql.NullString
		docID     sql.NullString
		rawMeta   sql.NullString
		createdAt time.Time
	)
	if err := rows.Scan(&rec.ID, &rec.Category, &title, &docID, &rec.Content, &rawMeta, &createdAt); err != nil {
		return KnowledgeRecord{}, err
	}
	rec.Title = title.String
	rec.ExternalDocID = docID.String
	rec.CreatedAt = createdAt
	if rawMeta.Valid && rawMeta.String != "" {
		if err := json.Unmarshal([]byte(rawMeta.String), &rec.Metadata); err != nil {
			return KnowledgeRecord{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return rec, nil
}

func normalizeTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

func marshalMetadata(metadata map[string]any) (sql.NullString, error) {
	if len(metadata) == 0 {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal metadata: %w", err)
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

func nullableString(s string) sql.NullString {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func hasAnyTag(tags, exclude []string) bool {
	if len(exclude) == 0 {
		return false
	}
	for _, e := range exclude {
		if containsTag(tags, e) {
			return true
		}
	}
	return false
}
