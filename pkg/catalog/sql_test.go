package catalog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *SQLStore {
	t.Helper()
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedCatalog(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.CreateProducts(ctx, []Product{
		{ProductID: "p1", ProductName: "Firewall", Category: "Cloud Security"},
		{ProductID: "p2", ProductName: "Antivirus", Category: "Cloud Security"},
		{ProductID: "p3", ProductName: "Backup", Category: "Storage"},
	}))
	require.NoError(t, store.CreateSales(ctx, []Sale{
		{SaleID: "s1", ProductID: "p1", SaleDate: "2026-02-10", Revenue: 100},
		{SaleID: "s2", ProductID: "p2", SaleDate: "2026-03-10", Revenue: 150},
		{SaleID: "s3", ProductID: "p3", SaleDate: "2026-03-11", Revenue: 999},
	}))
	require.NoError(t, store.CreateMarketGrowth(ctx, []MarketGrowth{
		{ReportDate: "2026-01-01", Category: "Cloud Security", GrowthPercent: 8.5, Source: "Q4 report"},
		{ReportDate: "2026-03-01", Category: "Cloud Security", GrowthPercent: 12.25, Source: "Q1 report"},
	}))
}

func TestDialect_Rebind(t *testing.T) {
	query := "SELECT * FROM sales WHERE product_id = ? AND sale_date >= ? LIMIT ?"

	assert.Equal(t, query, SQLite.rebind(query))
	assert.Equal(t,
		"SELECT * FROM sales WHERE product_id = $1 AND sale_date >= $2 LIMIT $3",
		Postgres.rebind(query))
}

func TestSQLStore_Products(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	seedCatalog(t, store)

	t.Run("should order by name and filter by category", func(t *testing.T) {
		rows, err := store.ListProducts(ctx, ProductFilter{Category: "Cloud Security"})
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, "Antivirus", rows[0].ProductName)
		assert.Equal(t, "Firewall", rows[1].ProductName)
	})

	t.Run("should honor limit", func(t *testing.T) {
		rows, err := store.ListProducts(ctx, ProductFilter{Limit: 1})
		require.NoError(t, err)
		assert.Len(t, rows, 1)
	})

	t.Run("should update only the given fields", func(t *testing.T) {
		name := "Next-gen Firewall"
		require.NoError(t, store.UpdateProduct(ctx, "p1", ProductUpdate{ProductName: &name}))

		rows, err := store.ListProducts(ctx, ProductFilter{Category: "Cloud Security"})
		require.NoError(t, err)
		assert.Equal(t, Product{ProductID: "p1", ProductName: name, Category: "Cloud Security"}, rows[1])
	})

	t.Run("should report missing rows", func(t *testing.T) {
		name := "x"
		assert.ErrorIs(t, store.UpdateProduct(ctx, "missing", ProductUpdate{ProductName: &name}), ErrNotFound)
		assert.ErrorIs(t, store.DeleteProduct(ctx, "missing"), ErrNotFound)
	})

	t.Run("should reject empty updates", func(t *testing.T) {
		assert.Error(t, store.UpdateProduct(ctx, "p1", ProductUpdate{}))
	})

	t.Run("should reject duplicate IDs", func(t *testing.T) {
		err := store.CreateProducts(ctx, []Product{{ProductID: "p1", ProductName: "Dup", Category: "X"}})
		assert.Error(t, err)
	})
}

func TestSQLStore_Sales(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	seedCatalog(t, store)

	rows, err := store.ListSales(ctx, SaleFilter{})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "s3", rows[0].SaleID, "newest first")
	assert.Equal(t, "2026-03-11", rows[0].SaleDate)

	rows, err = store.ListSales(ctx, SaleFilter{StartDate: "2026-03-01", ProductID: "p2"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 150.0, rows[0].Revenue)

	revenue := 175.5
	require.NoError(t, store.UpdateSale(ctx, "s2", SaleUpdate{Revenue: &revenue}))
	rows, err = store.ListSales(ctx, SaleFilter{ProductID: "p2"})
	require.NoError(t, err)
	assert.Equal(t, Sale{SaleID: "s2", ProductID: "p2", SaleDate: "2026-03-10", Revenue: 175.5}, rows[0])

	require.NoError(t, store.DeleteSale(ctx, "s2"))
	assert.ErrorIs(t, store.DeleteSale(ctx, "s2"), ErrNotFound)
}

func TestSQLStore_MarketGrowth(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	seedCatalog(t, store)

	rows, err := store.ListMarketGrowth(ctx, GrowthFilter{Category: "Cloud Security"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "2026-03-01", rows[0].ReportDate)

	require.NoError(t, store.UpdateMarketGrowth(ctx, "2026-01-01", "Cloud Security", 9))
	assert.ErrorIs(t, store.UpdateMarketGrowth(ctx, "2026-01-02", "Cloud Security", 9), ErrNotFound)

	b, err := store.LatestBenchmark(ctx, "Cloud Security")
	require.NoError(t, err)
	assert.Equal(t, &Benchmark{GrowthPercent: 12.25, ReportDate: "2026-03-01", Source: "Q1 report"}, b)

	_, err = store.LatestBenchmark(ctx, "Storage")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.DeleteMarketGrowth(ctx, "2026-03-01", "Cloud Security"))
	assert.ErrorIs(t, store.DeleteMarketGrowth(ctx, "2026-03-01", "Cloud Security"), ErrNotFound)
}

func TestSQLStore_Revenue(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	seedCatalog(t, store)

	day := func(s string) time.Time {
		d, err := time.Parse(DateLayout, s)
		require.NoError(t, err)
		return d
	}

	current, previous, err := store.RevenueWindows(ctx, "Cloud Security", day("2026-01-30"), day("2026-03-01"))
	require.NoError(t, err)
	assert.Equal(t, 150.0, current)
	assert.Equal(t, 100.0, previous)

	current, previous, err = store.RevenueWindows(ctx, "Nothing", day("2026-01-30"), day("2026-03-01"))
	require.NoError(t, err)
	assert.Zero(t, current)
	assert.Zero(t, previous)

	total, err := store.CategoryRevenue(ctx, "Cloud Security", day("2026-02-01"), day("2026-03-10"))
	require.NoError(t, err)
	assert.Equal(t, 100.0, total, "end bound is exclusive")
}

func TestOpenSQLite_RequiresPath(t *testing.T) {
	_, err := OpenSQLite("")
	assert.Error(t, err)
}
