package search

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/harun/agentkit/pkg/toolexecutor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClients_Tools(t *testing.T) {
	assert.Empty(t, Clients{}.Tools())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"items":[{"sku":"a"}], "AbstractText": "web"}`)
	}))
	defer srv.Close()

	vector, err := NewVectorClient(VectorConfig{URL: srv.URL})
	require.NoError(t, err)
	clients := Clients{Vector: vector, DDG: NewDDGClient(DDGConfig{Endpoint: srv.URL})}

	executor := toolexecutor.New()
	require.NoError(t, clients.RegisterTools(executor))
	assert.Equal(t, []string{"find_shopping_items", "search"}, executor.ListTools())

	ctx := context.Background()
	res := executor.Execute(ctx, "find_shopping_items", map[string]any{"queries": []any{"a", "b"}}, nil)
	require.True(t, res.Success, res.Error)
	assert.Len(t, res.Output, 2)

	res = executor.Execute(ctx, "find_shopping_items", map[string]any{"queries": []any{}}, nil)
	assert.False(t, res.Success)

	res = executor.Execute(ctx, "search", map[string]any{"query": "x"}, nil)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "web", res.Output)
}
