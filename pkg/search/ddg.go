package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/harun/agentkit/internal/observability"
)

const (
	DefaultDDGEndpoint   = "https://api.duckduckgo.com/"
	DefaultDDGMaxResults = 3
)

type DDGConfig struct {
	Endpoint   string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// DDGClient queries the DuckDuckGo instant answer API.
type DDGClient struct {
	endpoint string
	http     *http.Client
}

func NewDDGClient(cfg DDGConfig) *DDGClient {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultDDGEndpoint
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	return &DDGClient{endpoint: cfg.Endpoint, http: client}
}

type ddgTopic struct {
	Text   string     `json:"Text"`
	Topics []ddgTopic `json:"Topics"`
}

type ddgResponse struct {
	AbstractText  string     `json:"AbstractText"`
	RelatedTopics []ddgTopic `json:"RelatedTopics"`
}

// Search never fails: errors come back as a "Search error: ..." text the
// model can act on.
func (c *DDGClient) Search(ctx context.Context, query string, maxResults int) string {
	if maxResults <= 0 {
		maxResults = DefaultDDGMaxResults
	}
	results, err := c.texts(ctx, query, maxResults)
	observability.RecordSearch("duckduckgo", err == nil)
	if err != nil {
		return fmt.Sprintf("Search error: %v. Please try again or use a different query.", err)
	}
	if len(results) == 0 {
		return NoResultsMessage
	}
	return strings.Join(results, "\n\n")
}

func (c *DDGClient) texts(ctx context.Context, query string, maxResults int) ([]string, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("q", query)
	q.Set("format", "json")
	q.Set("no_html", "1")
	q.Set("skip_disambig", "1")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("duckduckgo returned %d", resp.StatusCode)
	}

	var body ddgResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	var out []string
	if body.AbstractText != "" {
		out = append(out, body.AbstractText)
	}
	var walk func([]ddgTopic)
	walk = func(topics []ddgTopic) {
		for _, t := range topics {
			if len(out) >= maxResults {
				return
			}
			if t.Text != "" {
				out = append(out, t.Text)
			}
			walk(t.Topics)
		}
	}
	walk(body.RelatedTopics)
	if len(out) > maxResults {
		out = out[:maxResults]
	}
	return out, nil
}
