package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/harun/agentkit/internal/observability"
)

const (
	DefaultVectorRows    = 3
	DefaultVectorDataset = "e-commerce-products"
	DefaultRRFAlpha      = 0.5
)

// VectorRequest is the hybrid search payload.
type VectorRequest struct {
	Query     string  `json:"query"`
	Rows      int     `json:"rows"`
	DatasetID string  `json:"dataset_id"`
	UseDense  bool    `json:"use_dense"`
	UseSparse bool    `json:"use_sparse"`
	RRFAlpha  float64 `json:"rrf_alpha"`
	UseRerank bool    `json:"use_rerank"`
}

type VectorConfig struct {
	URL        string
	DatasetID  string
	Rows       int
	RRFAlpha   float64
	Timeout    time.Duration
	HTTPClient *http.Client
}

// VectorClient posts queries to a vector-search backend.
type VectorClient struct {
	url     string
	dataset string
	rows    int
	alpha   float64
	http    *http.Client
}

func NewVectorClient(cfg VectorConfig) (*VectorClient, error) {
	if cfg.URL == "" {
		return nil, errors.New("vector search URL is required")
	}
	if cfg.DatasetID == "" {
		cfg.DatasetID = DefaultVectorDataset
	}
	if cfg.Rows <= 0 {
		cfg.Rows = DefaultVectorRows
	}
	if cfg.RRFAlpha <= 0 || cfg.RRFAlpha > 1 {
		cfg.RRFAlpha = DefaultRRFAlpha
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	return &VectorClient{url: cfg.URL, dataset: cfg.DatasetID, rows: cfg.Rows, alpha: cfg.RRFAlpha, http: client}, nil
}

// Query runs one search and returns the raw JSON response.
func (c *VectorClient) Query(ctx context.Context, query string) (map[string]any, error) {
	body, err := json.Marshal(VectorRequest{
		Query:     query,
		Rows:      c.rows,
		DatasetID: c.dataset,
		UseDense:  true,
		UseSparse: true,
		RRFAlpha:  c.alpha,
		UseRerank: true,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		observability.RecordSearch("vector", false)
		return nil, fmt.Errorf("vector search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		observability.RecordSearch("vector", false)
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("vector search returned %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		observability.RecordSearch("vector", false)
		return nil, fmt.Errorf("failed to decode vector search response: %w", err)
	}
	observability.RecordSearch("vector", true)
	return out, nil
}

// FindShoppingItems runs every query in turn and flattens their items.
// The first failing query aborts the batch.
func (c *VectorClient) FindShoppingItems(ctx context.Context, queries []string) ([]any, error) {
	items := []any{}
	for _, q := range queries {
		res, err := c.Query(ctx, q)
		if err != nil {
			return nil, err
		}
		if found, ok := res["items"].([]any); ok {
			items = append(items, found...)
		}
	}
	return items, nil
}
