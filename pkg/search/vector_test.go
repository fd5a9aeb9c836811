package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewVectorClient_RequiresURL(t *testing.T) {
	_, err := NewVectorClient(VectorConfig{})
	assert.Error(t, err)
}

func TestVectorClient_FindShoppingItems(t *testing.T) {
	var got []VectorRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var req VectorRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		got = append(got, req)

		if req.Query == "empty" {
			fmt.Fprint(w, `{"total": 0}`)
			return
		}
		fmt.Fprintf(w, `{"items":[{"name":"%s-1"},{"name":"%s-2"}]}`, req.Query, req.Query)
	}))
	defer srv.Close()

	client, err := NewVectorClient(VectorConfig{URL: srv.URL})
	require.NoError(t, err)

	items, err := client.FindShoppingItems(context.Background(), []string{"boots", "empty", "tent"})
	require.NoError(t, err)
	require.Len(t, items, 4)
	assert.Equal(t, map[string]any{"name": "tent-2"}, items[3])

	require.Len(t, got, 3)
	assert.Equal(t, VectorRequest{
		Query:     "boots",
		Rows:      3,
		DatasetID: "e-commerce-products",
		UseDense:  true,
		UseSparse: true,
		RRFAlpha:  0.5,
		UseRerank: true,
	}, got[0])
}

func TestVectorClient_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "backend down", http.StatusBadGateway)
	}))
	defer srv.Close()

	client, err := NewVectorClient(VectorConfig{URL: srv.URL})
	require.NoError(t, err)

	_, err = client.Query(context.Background(), "boots")
	assert.ErrorContains(t, err, "502")

	_, err = client.FindShoppingItems(context.Background(), []string{"boots"})
	assert.Error(t, err)
}
