package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	maxAutomemResponseBytes = 2 << 20

	tagUserPrefix         = "user_"
	tagConversationPrefix = "conversation_"
	tagCategoryPrefix     = "category_"
	tagKnowledge          = "knowledge"
)

// AutomemConfig configures the AutoMem REST backend.
type AutomemConfig struct {
	URL      string        `envconfig:"URL" split_words:"true" default:"http://localhost:8001"`
	APIToken string        `envconfig:"API_TOKEN" split_words:"true"`
	Timeout  time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"10s"`
}

// AutomemDriver talks to an AutoMem service over its HTTP API:
// GET /recall, POST /memory, DELETE /memory/{id}, GET /health.
// Scoping is tag-based (user_<id>, conversation_<id>, category_<name>);
// embedding and semantic indexing happen server-side.
type AutomemDriver struct {
	baseURL    string
	apiToken   string
	httpClient *http.Client
}

// AutomemOption customizes AutomemDriver.
type AutomemOption func(*AutomemDriver)

func WithAutomemHTTPClient(client *http.Client) AutomemOption {
	return func(d *AutomemDriver) {
		if client != nil {
			d.httpClient = client
		}
	}
}

func NewAutomemDriver(cfg AutomemConfig, opts ...AutomemOption) (*AutomemDriver, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if baseURL == "" {
		return nil, errors.New("automem url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid automem url: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	d := &AutomemDriver{
		baseURL:  baseURL,
		apiToken: strings.TrimSpace(cfg.APIToken),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}

	return d, nil
}

type automemRecord struct {
	ID     string `json:"id"`
	Memory struct {
		Content   string         `json:"content"`
		Tags      []string       `json:"tags"`
		Metadata  map[string]any `json:"metadata"`
		CreatedAt time.Time      `json:"created_at"`
	} `json:"memory"`
}

type automemRecallResponse struct {
	Results []automemRecord `json:"results"`
}

type automemStoreResponse struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

func (d *AutomemDriver) Recall(ctx context.Context, userID string, opts RecallOptions) ([]Record, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("automem recall: user id is required")
	}

	params := url.Values{}
	params.Set("limit", strconv.Itoa(normalizeTopK(opts.TopK)))

	// Omitting the query switches the service into tag-only mode, the
	// degraded path for memories whose embeddings are not yet indexed.
	query := strings.TrimSpace(opts.Query)
	if opts.UseSemantic && query != "" {
		params.Set("query", query)
	}

	if conv := strings.TrimSpace(opts.ConversationID); conv != "" {
		params.Set("tags", tagConversationPrefix+conv)
	} else {
		params.Set("tags", tagUserPrefix+strings.TrimSpace(userID))
	}
	if len(opts.ExcludeTags) > 0 {
		params.Set("exclude_tags", strings.Join(opts.ExcludeTags, ","))
	}

	var parsed automemRecallResponse
	if err := d.do(ctx, http.MethodGet, "/recall?"+params.Encode(), nil, &parsed); err != nil {
		return nil, fmt.Errorf("automem recall: %w", err)
	}

	records := make([]Record, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		if strings.TrimSpace(r.Memory.Content) == "" {
			continue
		}
		records = append(records, Record{
			ID:             r.ID,
			UserID:         strings.TrimSpace(userID),
			ConversationID: strings.TrimSpace(opts.ConversationID),
			Content:        r.Memory.Content,
			Tags:           r.Memory.Tags,
			Metadata:       r.Memory.Metadata,
			CreatedAt:      r.Memory.CreatedAt,
		})
	}
	return records, nil
}

func (d *AutomemDriver) RecallKnowledge(ctx context.Context, query string, topK int, category string) ([]KnowledgeRecord, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(normalizeTopK(topK)))
	params.Set("tags", tagKnowledge)
	if q := strings.TrimSpace(query); q != "" {
		params.Set("query", q)
	}

	var parsed automemRecallResponse
	if err := d.do(ctx, http.MethodGet, "/recall?"+params.Encode(), nil, &parsed); err != nil {
		return nil, fmt.Errorf("automem recall knowledge: %w", err)
	}

	categoryTag := ""
	if c := strings.TrimSpace(category); c != "" {
		categoryTag = tagCategoryPrefix + strings.ToLower(c)
	}

	records := make([]KnowledgeRecord, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		if strings.TrimSpace(r.Memory.Content) == "" {
			continue
		}
		if categoryTag != "" && !containsTag(r.Memory.Tags, categoryTag) {
			continue
		}
		records = append(records, KnowledgeRecord{
			ID:            r.ID,
			Category:      categoryFromTags(r.Memory.Tags),
			Title:         stringFromMetadata(r.Memory.Metadata, "title"),
			ExternalDocID: stringFromMetadata(r.Memory.Metadata, "doc_id"),
			Content:       r.Memory.Content,
			Metadata:      r.Memory.Metadata,
			CreatedAt:     r.Memory.CreatedAt,
		})
	}
	return records, nil
}

func (d *AutomemDriver) Store(ctx context.Context, userID, content string, opts StoreOptions) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", fmt.Errorf("automem store: user id is required")
	}
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("automem store: content is empty")
	}

	tags := append([]string{tagUserPrefix + userID}, opts.Tags...)
	if conv := strings.TrimSpace(opts.ConversationID); conv != "" {
		tags = append(tags, tagConversationPrefix+conv)
	}

	payload := map[string]any{
		"content": content,
		"type":    "conversation",
		"tags":    tags,
	}
	if len(opts.Metadata) > 0 {
		payload["metadata"] = opts.Metadata
	}

	var parsed automemStoreResponse
	if err := d.do(ctx, http.MethodPost, "/memory", payload, &parsed); err != nil {
		return "", fmt.Errorf("automem store: %w", err)
	}
	if parsed.Error != "" {
		return "", fmt.Errorf("automem store: %s", parsed.Error)
	}
	return parsed.ID, nil
}

func (d *AutomemDriver) StoreKnowledge(ctx context.Context, doc KnowledgeDoc) (string, error) {
	if strings.TrimSpace(doc.Content) == "" {
		return "", fmt.Errorf("automem store knowledge: content is empty")
	}
	category := strings.ToLower(strings.TrimSpace(doc.Category))
	if category == "" {
		return "", fmt.Errorf("automem store knowledge: category is required")
	}

	metadata := map[string]any{}
	for k, v := range doc.Metadata {
		metadata[k] = v
	}
	if t := strings.TrimSpace(doc.Title); t != "" {
		metadata["title"] = t
	}
	if id := strings.TrimSpace(doc.ExternalDocID); id != "" {
		metadata["doc_id"] = id
	}

	payload := map[string]any{
		"content":  doc.Content,
		"type":     "knowledge",
		"tags":     []string{tagKnowledge, tagCategoryPrefix + category},
		"metadata": metadata,
	}
	// The service upserts on external_id, which keeps repeated syncs of the
	// same source document from duplicating.
	if id := strings.TrimSpace(doc.ExternalDocID); id != "" {
		payload["external_id"] = id
	}

	var parsed automemStoreResponse
	if err := d.do(ctx, http.MethodPost, "/memory", payload, &parsed); err != nil {
		return "", fmt.Errorf("automem store knowledge: %w", err)
	}
	if parsed.Error != "" {
		return "", fmt.Errorf("automem store knowledge: %s", parsed.Error)
	}
	return parsed.ID, nil
}

func (d *AutomemDriver) Delete(ctx context.Context, recordID, userID string) (bool, error) {
	recordID = strings.TrimSpace(recordID)
	if recordID == "" {
		return false, fmt.Errorf("automem delete: record id is required")
	}

	err := d.do(ctx, http.MethodDelete, "/memory/"+url.PathEscape(recordID), nil, nil)
	if errors.Is(err, ErrNotFound) {
		// Deleting an absent record is unsuccessful, not exceptional; this
		// keeps the drivers interchangeable.
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("automem delete: %w", err)
	}
	return true, nil
}

func (d *AutomemDriver) HealthCheck(ctx context.Context) HealthStatus {
	status := HealthStatus{Driver: "automem"}
	if err := d.do(ctx, http.MethodGet, "/health", nil, nil); err != nil {
		status.Detail = err.Error()
		return status
	}
	status.Healthy = true
	return status
}

func (d *AutomemDriver) do(ctx context.Context, method, path string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, d.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if d.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+d.apiToken)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxAutomemResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("http status=%d body=%s", resp.StatusCode, string(raw))
	}

	if out != nil && len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func normalizeTopK(topK int) int {
	if topK <= 0 {
		return 5
	}
	return topK
}

func containsTag(tags []string, want string) bool {
	for _, t := range tags {
		if t == want {
			return true
		}
	}
	return false
}

func categoryFromTags(tags []string) string {
	for _, t := range tags {
		if strings.HasPrefix(t, tagCategoryPrefix) {
			return strings.ToUpper(strings.TrimPrefix(t, tagCategoryPrefix))
		}
	}
	return "GENERAL"
}

func stringFromMetadata(metadata map[string]any, key string) string {
	if metadata == nil {
		return ""
	}
	if v, ok := metadata[key].(string); ok {
		return v
	}
	return ""
}
