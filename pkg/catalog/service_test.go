package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/harun/agentkit/pkg/toolexecutor"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, store Store) *Service {
	t.Helper()
	nop := zerolog.Nop()
	svc, err := New(Config{
		Store:  store,
		Logger: &nop,
		Now:    func() time.Time { return time.Date(2026, 3, 31, 15, 4, 5, 0, time.UTC) },
	})
	require.NoError(t, err)
	return svc
}

func TestNew_RequiresStore(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestService_OperationAliases(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, openTestStore(t))

	creates := []string{"create", "add", "Create Product", "  ADD product "}
	for i, op := range creates {
		res := svc.ManageProducts(ctx, map[string]any{
			"operation":    op,
			"product_id":   string(rune('a' + i)),
			"product_name": "Widget",
			"category":     "Tools",
		})
		assert.Equal(t, "success", res["status"], op)
		assert.Equal(t, "Product created successfully.", res["message"], op)
	}

	for _, op := range []string{"read", "list", "read products", "list products"} {
		res := svc.ManageProducts(ctx, map[string]any{"operation": op})
		assert.Equal(t, "success", res["status"], op)
		assert.Equal(t, len(creates), res["count"], op)
	}

	res := svc.ManageMarketGrowth(ctx, map[string]any{
		"operation":      "create market growth",
		"report_date":    "2026-03-01",
		"category":       "Tools",
		"growth_percent": 4.0,
		"source":         "survey",
	})
	assert.Equal(t, "Market growth record created successfully.", res["message"])
}

func TestService_OperationErrors(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, openTestStore(t))

	tests := []struct {
		name string
		call func() map[string]any
		want string
	}{
		{
			name: "missing operation",
			call: func() map[string]any { return svc.ManageProducts(ctx, map[string]any{}) },
			want: "'operation' parameter is required. Use: create, read, update, delete",
		},
		{
			name: "unknown operation",
			call: func() map[string]any { return svc.ManageSales(ctx, map[string]any{"operation": "upsert"}) },
			want: "Unknown operation 'upsert'. Supported operations: create, read, update, delete",
		},
		{
			name: "alias for another entity",
			call: func() map[string]any { return svc.ManageSales(ctx, map[string]any{"operation": "add product"}) },
			want: "Unknown operation 'add product'. Supported operations: create, read, update, delete",
		},
		{
			name: "product create missing fields",
			call: func() map[string]any {
				return svc.ManageProducts(ctx, map[string]any{"operation": "create", "product_id": "p1"})
			},
			want: "For create/add, all of product_id, product_name, category are required.",
		},
		{
			name: "product update without id",
			call: func() map[string]any { return svc.ManageProducts(ctx, map[string]any{"operation": "edit"}) },
			want: "product_id is required for update.",
		},
		{
			name: "product update without fields",
			call: func() map[string]any {
				return svc.ManageProducts(ctx, map[string]any{"operation": "update", "product_id": "p1"})
			},
			want: "At least one of product_name or category must be provided for update.",
		},
		{
			name: "product delete without id",
			call: func() map[string]any { return svc.ManageProducts(ctx, map[string]any{"operation": "remove"}) },
			want: "product_id is required for delete.",
		},
		{
			name: "sale create missing fields",
			call: func() map[string]any {
				return svc.ManageSales(ctx, map[string]any{"operation": "add", "sale_id": "s1"})
			},
			want: "For create/add, all of sale_id, product_id, sale_date, revenue are required.",
		},
		{
			name: "sale update without fields",
			call: func() map[string]any {
				return svc.ManageSales(ctx, map[string]any{"operation": "update", "sale_id": "s1"})
			},
			want: "At least one of product_id, sale_date, or revenue must be provided for update.",
		},
		{
			name: "sale bad revenue",
			call: func() map[string]any {
				return svc.ManageSales(ctx, map[string]any{
					"operation": "create", "sale_id": "s1", "product_id": "p1", "sale_date": "2026-01-01", "revenue": "lots",
				})
			},
			want: "Create failed: revenue must be a number",
		},
		{
			name: "sale bad date",
			call: func() map[string]any {
				return svc.ManageSales(ctx, map[string]any{
					"operation": "create", "sale_id": "s1", "product_id": "p1", "sale_date": "01/02/2026", "revenue": 3.0,
				})
			},
			want: `Create failed: sale_date: invalid date "01/02/2026", expected YYYY-MM-DD`,
		},
		{
			name: "growth update without keys",
			call: func() map[string]any {
				return svc.ManageMarketGrowth(ctx, map[string]any{"operation": "update", "category": "x"})
			},
			want: "report_date and category are both required for update.",
		},
		{
			name: "growth update without value",
			call: func() map[string]any {
				return svc.ManageMarketGrowth(ctx, map[string]any{"operation": "update", "category": "x", "report_date": "2026-01-01"})
			},
			want: "growth_percent must be provided for update.",
		},
		{
			name: "growth delete without keys",
			call: func() map[string]any {
				return svc.ManageMarketGrowth(ctx, map[string]any{"operation": "delete", "report_date": "2026-01-01"})
			},
			want: "report_date and category are both required for delete.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := tt.call()
			assert.Equal(t, "error", res["status"])
			assert.Equal(t, tt.want, res["error"])
		})
	}
}

func TestService_CreateThenRead(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, openTestStore(t))

	res := svc.ManageProducts(ctx, map[string]any{
		"operation": "create", "product_id": "p9", "product_name": "Scanner", "category": "Cloud Security",
	})
	require.Equal(t, "success", res["status"])

	res = svc.ManageProducts(ctx, map[string]any{"operation": "read", "category": "Cloud Security"})
	rows := res["rows"].([]Product)
	require.Len(t, rows, 1)
	assert.Equal(t, "Scanner", rows[0].ProductName)
	assert.Equal(t, "Cloud Security", rows[0].Category)
}

func TestService_UpdateSaleRevenue(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	seedCatalog(t, store)
	svc := newTestService(t, store)

	res := svc.ManageSales(ctx, map[string]any{"operation": "update", "sale_id": "s1", "revenue": "250"})
	require.Equal(t, "Sale updated successfully.", res["message"])

	res = svc.ManageSales(ctx, map[string]any{"operation": "list", "product_id": "p1"})
	rows := res["rows"].([]Sale)
	require.Len(t, rows, 1)
	assert.Equal(t, Sale{SaleID: "s1", ProductID: "p1", SaleDate: "2026-02-10", Revenue: 250}, rows[0])

	t.Run("should accept sale_date as the read lower bound", func(t *testing.T) {
		res := svc.ManageSales(ctx, map[string]any{"operation": "read", "sale_date": "2026-03-01"})
		assert.Equal(t, 2, res["count"])
	})
}

func TestService_NotFound(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, openTestStore(t))

	res := svc.ManageProducts(ctx, map[string]any{"operation": "delete", "product_id": "ghost"})
	assert.Equal(t, "error", res["status"])
	assert.Equal(t, "Product not found.", res["error"])

	res = svc.ManageSales(ctx, map[string]any{"operation": "update", "sale_id": "ghost", "revenue": 1.0})
	assert.Equal(t, "Sale not found.", res["error"])

	res = svc.ManageMarketGrowth(ctx, map[string]any{"operation": "delete", "report_date": "2026-01-01", "category": "x"})
	assert.Equal(t, "Market growth record not found.", res["error"])
}

func TestService_BatchCreate(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, openTestStore(t))

	res := svc.BatchCreateProducts(ctx, nil)
	assert.Equal(t, "No products provided for batch creation.", res["error"])

	res = svc.BatchCreateProducts(ctx, []Args{
		{"product_id": "a", "product_name": "A", "category": "c"},
		{"product_id": "b", "product_name": "B", "category": "c"},
	})
	assert.Equal(t, "Successfully created 2 products.", res["message"])

	res = svc.BatchCreateSales(ctx, []Args{{"sale_id": "s", "product_id": "a"}})
	assert.Equal(t, "Sale 1: sale_id, product_id, sale_date and revenue are required.", res["error"])

	res = svc.BatchCreateMarketGrowth(ctx, []Args{
		{"report_date": "2026-01-01", "category": "c", "growth_percent": 1.5, "source": "s"},
	})
	assert.Equal(t, "Successfully created 1 market growth records.", res["message"])
}

type failingStore struct {
	*SQLStore
}

func (failingStore) RevenueWindows(context.Context, string, time.Time, time.Time) (float64, float64, error) {
	return 0, 0, errors.New("boom")
}

func (failingStore) CreateProducts(context.Context, []Product) error {
	return errors.New("disk full")
}

func TestService_StoreErrors(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, failingStore{openTestStore(t)})

	res := svc.ManageProducts(ctx, map[string]any{"operation": "add", "product_id": "p", "product_name": "n", "category": "c"})
	assert.Equal(t, "Create failed: disk full", res["error"])

	res = svc.SalesGrowth(ctx, "", 7)
	assert.Equal(t, "error", res["status"])
	assert.Equal(t, 7, res["days_analyzed"])
	assert.Equal(t, 0.0, res["internal_growth_percent"])
	assert.Equal(t, "2026-03-24", res["period_from"])
}

func TestService_Tools(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	seedCatalog(t, store)
	svc := newTestService(t, store)

	executor := toolexecutor.New()
	require.NoError(t, svc.RegisterTools(executor))

	for _, name := range []string{
		"manage_products", "manage_sales", "manage_market_growth",
		"batch_create_products", "batch_create_sales", "batch_create_market_growth",
		"get_sales_growth", "get_category_performance",
	} {
		assert.NotNil(t, executor.GetTool(name), name)
	}

	result := executor.Execute(ctx, "manage_products", map[string]any{"operation": "list", "category": "Storage"}, nil)
	require.True(t, result.Success, result.Error)
	out := result.Output.(map[string]any)
	assert.Equal(t, 1, out["count"])

	result = executor.Execute(ctx, "get_sales_growth", map[string]any{"days_back": 30.0}, nil)
	require.True(t, result.Success, result.Error)
	assert.Equal(t, 50.0, result.Output.(map[string]any)["internal_growth_percent"])
}
