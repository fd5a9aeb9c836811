package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned by updates and deletes that match no row.
var ErrNotFound = errors.New("record not found")

// DateLayout is the wire format for every date column.
const DateLayout = "2006-01-02"

// DefaultReadLimit caps reads that do not set a limit.
const DefaultReadLimit = 1000

type Product struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	Category    string `json:"category"`
}

type Sale struct {
	SaleID    string  `json:"sale_id"`
	ProductID string  `json:"product_id"`
	SaleDate  string  `json:"sale_date"`
	Revenue   float64 `json:"revenue"`
}

// MarketGrowth is an external benchmark keyed by (ReportDate, Category).
type MarketGrowth struct {
	ReportDate    string  `json:"report_date"`
	Category      string  `json:"category"`
	GrowthPercent float64 `json:"growth_percent"`
	Source        string  `json:"source"`
}

type ProductFilter struct {
	Category string
	Limit    int
}

type SaleFilter struct {
	ProductID string
	StartDate string
	Limit     int
}

type GrowthFilter struct {
	Category string
	Limit    int
}

// ProductUpdate changes the non-nil fields.
type ProductUpdate struct {
	ProductName *string
	Category    *string
}

// SaleUpdate changes the non-nil fields.
type SaleUpdate struct {
	ProductID *string
	SaleDate  *string
	Revenue   *float64
}

// Benchmark is the latest market_growth row for a category.
type Benchmark struct {
	GrowthPercent float64 `json:"growth_percent"`
	ReportDate    string  `json:"report_date"`
	Source        string  `json:"source"`
}

// Store is the persistence API shared by the SQL and BigQuery backends.
type Store interface {
	Backend() string

	CreateProducts(ctx context.Context, products []Product) error
	ListProducts(ctx context.Context, f ProductFilter) ([]Product, error)
	UpdateProduct(ctx context.Context, productID string, u ProductUpdate) error
	DeleteProduct(ctx context.Context, productID string) error

	CreateSales(ctx context.Context, sales []Sale) error
	ListSales(ctx context.Context, f SaleFilter) ([]Sale, error)
	UpdateSale(ctx context.Context, saleID string, u SaleUpdate) error
	DeleteSale(ctx context.Context, saleID string) error

	CreateMarketGrowth(ctx context.Context, records []MarketGrowth) error
	ListMarketGrowth(ctx context.Context, f GrowthFilter) ([]MarketGrowth, error)
	UpdateMarketGrowth(ctx context.Context, reportDate, category string, growthPercent float64) error
	DeleteMarketGrowth(ctx context.Context, reportDate, category string) error

	// RevenueWindows sums revenue for category over [curStart, ∞) and
	// [prevStart, curStart).
	RevenueWindows(ctx context.Context, category string, prevStart, curStart time.Time) (current, previous float64, err error)
	// CategoryRevenue sums revenue for category over [start, end).
	CategoryRevenue(ctx context.Context, category string, start, end time.Time) (float64, error)
	// LatestBenchmark returns the newest market_growth row for category, or
	// ErrNotFound.
	LatestBenchmark(ctx context.Context, category string) (*Benchmark, error)

	Close() error
}

// NormalizeDate accepts YYYY-MM-DD or an RFC 3339 timestamp and returns
// YYYY-MM-DD.
func NormalizeDate(s string) (string, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t.Format(DateLayout), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.Format(DateLayout), nil
	}
	return "", fmt.Errorf("invalid date %q, expected YYYY-MM-DD", s)
}

// dateString renders whatever a driver returns for a DATE column.
func dateString(v any) string {
	switch d := v.(type) {
	case nil:
		return ""
	case time.Time:
		return d.Format(DateLayout)
	case string:
		if len(d) >= len(DateLayout) {
			return d[:len(DateLayout)]
		}
		return d
	case []byte:
		return dateString(string(d))
	case fmt.Stringer:
		return d.String()
	default:
		return fmt.Sprint(d)
	}
}

func limitOrDefault(n int) int {
	if n <= 0 {
		return DefaultReadLimit
	}
	return n
}
