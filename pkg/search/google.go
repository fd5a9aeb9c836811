package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harun/agentkit/internal/observability"
	"google.golang.org/api/customsearch/v1"
	"google.golang.org/api/option"
)

const (
	// DefaultGoogleEndpoint serves /customsearch/v1.
	DefaultGoogleEndpoint = "https://www.googleapis.com/"

	// NoResultsMessage is returned when a search finds nothing.
	NoResultsMessage = "No recent market growth information found."

	defaultTimeout  = 10 * time.Second
	maxGoogleResult = 3
)

type GoogleConfig struct {
	APIKey   string
	CX       string
	Endpoint string
	Timeout  time.Duration
}

// GoogleClient queries a Programmable Search Engine.
type GoogleClient struct {
	svc     *customsearch.Service
	cx      string
	timeout time.Duration
}

func NewGoogleClient(ctx context.Context, cfg GoogleConfig) (*GoogleClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("google API key is required")
	}
	if cfg.CX == "" {
		return nil, errors.New("google search engine ID is required")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultGoogleEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	svc, err := customsearch.NewService(ctx, option.WithAPIKey(cfg.APIKey), option.WithEndpoint(cfg.Endpoint))
	if err != nil {
		return nil, fmt.Errorf("failed to create custom search client: %w", err)
	}
	return &GoogleClient{svc: svc, cx: cfg.CX, timeout: cfg.Timeout}, nil
}

// Search returns the snippets of the top three results, one per line.
func (c *GoogleClient) Search(ctx context.Context, query string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res, err := c.svc.Cse.List().Cx(c.cx).Q(query).Context(ctx).Do()
	observability.RecordSearch("google", err == nil)
	if err != nil {
		return "", fmt.Errorf("google search failed: %w", err)
	}
	if len(res.Items) == 0 {
		return NoResultsMessage, nil
	}

	items := res.Items
	if len(items) > maxGoogleResult {
		items = items[:maxGoogleResult]
	}
	snippets := make([]string, len(items))
	for i, item := range items {
		snippets[i] = item.Snippet
	}
	return strings.Join(snippets, "\n"), nil
}
