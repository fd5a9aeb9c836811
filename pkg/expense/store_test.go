package expense

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "expenses.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestValidateAmount(t *testing.T) {
	for _, amount := range []float64{0, -0.01, -1, -1e9, math.Inf(-1), math.NaN()} {
		assert.ErrorIs(t, ValidateAmount(amount), ErrInvalidAmount, "amount=%v", amount)
	}
	for _, amount := range []float64{0.01, 1, 1e9} {
		assert.NoError(t, ValidateAmount(amount), "amount=%v", amount)
	}
	assert.EqualError(t, ErrInvalidAmount, "Amount must be greater than zero")
}

func TestStore_CRUD(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	lunch, err := store.Add(ctx, Expense{Date: "2026-02-01", Amount: 12.5, Category: "Food", Subcategory: "Lunch"})
	require.NoError(t, err)
	assert.NotZero(t, lunch.ID)

	rent, err := store.Add(ctx, Expense{Date: "2026-01-01", Amount: 900, Category: "Housing"})
	require.NoError(t, err)

	_, err = store.Add(ctx, Expense{Date: "2026-01-05", Amount: 0, Category: "Food"})
	assert.ErrorIs(t, err, ErrInvalidAmount)

	rows, err := store.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, rent.ID, rows[0].ID, "ordered by date")
	assert.Equal(t, lunch, rows[1])

	lunch.Amount = 15
	lunch.Note = "with dessert"
	n, err := store.Edit(ctx, lunch)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = store.Edit(ctx, Expense{ID: 999, Date: "2026-01-01", Amount: 1, Category: "x"})
	assert.ErrorIs(t, err, ErrNotFound)

	n, err = store.Delete(ctx, rent.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = store.Delete(ctx, rent.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	rows, err = store.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, []Expense{lunch}, rows)
}

func TestStore_Filters(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	for _, e := range []Expense{
		{Date: "2026-01-10", Amount: 10, Category: "Food"},
		{Date: "2026-01-20", Amount: 20, Category: "Travel"},
		{Date: "2026-01-30", Amount: 30, Category: "Food"},
	} {
		_, err := store.Add(ctx, e)
		require.NoError(t, err)
	}

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"all", Filter{}, 3},
		{"between inclusive", Filter{StartDate: "2026-01-10", EndDate: "2026-01-20"}, 2},
		{"start only", Filter{StartDate: "2026-01-20"}, 2},
		{"end only", Filter{EndDate: "2026-01-10"}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := store.List(ctx, tt.filter)
			require.NoError(t, err)
			assert.Len(t, rows, tt.want)
		})
	}

	summary, grand, err := store.Summarize(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, []CategoryTotal{{Category: "Food", Total: 40}, {Category: "Travel", Total: 20}}, summary)
	assert.Equal(t, 60.0, grand)

	summary, grand, err = store.Summarize(ctx, Filter{StartDate: "2026-02-01"})
	require.NoError(t, err)
	assert.Empty(t, summary)
	assert.Zero(t, grand)
}
