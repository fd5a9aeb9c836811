package search

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDDGClient_Search(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "json", q.Get("format"))
		assert.Equal(t, "1", q.Get("no_html"))

		switch q.Get("q") {
		case "empty":
			fmt.Fprint(w, `{"AbstractText":"","RelatedTopics":[]}`)
		case "broken":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			fmt.Fprint(w, `{
				"AbstractText": "Abstract",
				"RelatedTopics": [
					{"Text": "First"},
					{"Name": "Group", "Topics": [{"Text": "Nested"}, {"Text": "Ignored"}]}
				]
			}`)
		}
	}))
	defer srv.Close()

	client := NewDDGClient(DDGConfig{Endpoint: srv.URL})
	ctx := context.Background()

	assert.Equal(t, "Abstract\n\nFirst\n\nNested", client.Search(ctx, "market", 3))
	assert.Equal(t, "Abstract", client.Search(ctx, "market", 1))
	assert.Equal(t, NoResultsMessage, client.Search(ctx, "empty", 0))
	assert.True(t, strings.HasPrefix(client.Search(ctx, "broken", 3), "Search error: duckduckgo returned 500"))
}
