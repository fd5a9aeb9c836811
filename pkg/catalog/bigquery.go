package catalog

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// BigQueryConfig configures a BigQueryStore.
type BigQueryConfig struct {
	ProjectID       string
	Dataset         string
	Location        string
	CredentialsFile string
}

// BigQueryStore implements Store over a BigQuery dataset holding the
// products, sales and market_growth tables.
type BigQueryStore struct {
	client   *bigquery.Client
	project  string
	dataset  string
	location string
}

// OpenBigQuery creates a client from cfg. An empty CredentialsFile falls
// back to application default credentials.
func OpenBigQuery(ctx context.Context, cfg BigQueryConfig) (*BigQueryStore, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("bigquery project ID is required")
	}
	if cfg.Dataset == "" {
		return nil, errors.New("bigquery dataset is required")
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := bigquery.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create bigquery client: %w", err)
	}
	return NewBigQueryStore(client, cfg)
}

// NewBigQueryStore wraps an existing client.
func NewBigQueryStore(client *bigquery.Client, cfg BigQueryConfig) (*BigQueryStore, error) {
	if client == nil {
		return nil, errors.New("bigquery client is required")
	}
	if cfg.Dataset == "" {
		return nil, errors.New("bigquery dataset is required")
	}
	project := cfg.ProjectID
	if project == "" {
		project = client.Project()
	}
	return &BigQueryStore{client: client, project: project, dataset: cfg.Dataset, location: cfg.Location}, nil
}

func (s *BigQueryStore) Backend() string { return "bigquery" }

func (s *BigQueryStore) Close() error { return s.client.Close() }

func (s *BigQueryStore) table(name string) string {
	return fmt.Sprintf("`%s.%s.%s`", s.project, s.dataset, name)
}

func (s *BigQueryStore) query(sql string, params ...bigquery.QueryParameter) *bigquery.Query {
	q := s.client.Query(sql)
	q.Parameters = params
	if s.location != "" {
		q.Location = s.location
	}
	return q
}

func param(name string, v any) bigquery.QueryParameter {
	return bigquery.QueryParameter{Name: name, Value: v}
}

// dml runs a DML statement and returns the number of affected rows.
func (s *BigQueryStore) dml(ctx context.Context, sql string, params ...bigquery.QueryParameter) (int64, error) {
	job, err := s.query(sql, params...).Run(ctx)
	if err != nil {
		return 0, err
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return 0, err
	}
	if err := status.Err(); err != nil {
		return 0, err
	}
	if status.Statistics == nil {
		return 0, nil
	}
	if qs, ok := status.Statistics.Details.(*bigquery.QueryStatistics); ok {
		return qs.NumDMLAffectedRows, nil
	}
	return 0, nil
}

func (s *BigQueryStore) dmlOne(ctx context.Context, sql string, params ...bigquery.QueryParameter) error {
	n, err := s.dml(ctx, sql, params...)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// read runs a query and hands every row to fn.
func (s *BigQueryStore) read(ctx context.Context, sql string, params []bigquery.QueryParameter, fn func(map[string]bigquery.Value)) error {
	it, err := s.query(sql, params...).Read(ctx)
	if err != nil {
		return err
	}
	for {
		var row map[string]bigquery.Value
		err := it.Next(&row)
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return err
		}
		fn(row)
	}
}

// valueSaver adapts a plain map to bigquery.ValueSaver for streaming inserts.
type valueSaver map[string]bigquery.Value

func (v valueSaver) Save() (map[string]bigquery.Value, string, error) {
	return v, bigquery.NoDedupeID, nil
}

// insert writes a single row through DML so that it can be updated right
// away, and batches through the streaming inserter.
func (s *BigQueryStore) insert(ctx context.Context, table string, cols []string, casts map[string]string, rows []valueSaver) error {
	if len(rows) == 0 {
		return nil
	}
	if len(rows) > 1 {
		return s.client.Dataset(s.dataset).Table(table).Inserter().Put(ctx, rows)
	}

	placeholders := make([]string, len(cols))
	params := make([]bigquery.QueryParameter, len(cols))
	for i, c := range cols {
		placeholders[i] = "@" + c
		if cast, ok := casts[c]; ok {
			placeholders[i] = fmt.Sprintf("CAST(@%s AS %s)", c, cast)
		}
		params[i] = param(c, rows[0][c])
	}
	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		s.table(table), strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	_, err := s.dml(ctx, sql, params...)
	return err
}

var dateCast = map[string]string{"sale_date": "DATE", "report_date": "DATE"}

func (s *BigQueryStore) CreateProducts(ctx context.Context, products []Product) error {
	rows := make([]valueSaver, len(products))
	for i, p := range products {
		rows[i] = valueSaver{"product_id": p.ProductID, "product_name": p.ProductName, "category": p.Category}
	}
	return s.insert(ctx, "products", []string{"product_id", "product_name", "category"}, nil, rows)
}

func (s *BigQueryStore) ListProducts(ctx context.Context, f ProductFilter) ([]Product, error) {
	sql := "SELECT product_id, product_name, category FROM " + s.table("products")
	var params []bigquery.QueryParameter
	if f.Category != "" {
		sql += " WHERE category = @category"
		params = append(params, param("category", f.Category))
	}
	sql += " ORDER BY product_name LIMIT @limit"
	params = append(params, param("limit", limitOrDefault(f.Limit)))

	out := []Product{}
	err := s.read(ctx, sql, params, func(row map[string]bigquery.Value) {
		out = append(out, Product{
			ProductID:   str(row["product_id"]),
			ProductName: str(row["product_name"]),
			Category:    str(row["category"]),
		})
	})
	return out, err
}

func (s *BigQueryStore) UpdateProduct(ctx context.Context, productID string, u ProductUpdate) error {
	var (
		sets   []string
		params = []bigquery.QueryParameter{param("product_id", productID)}
	)
	if u.ProductName != nil {
		sets = append(sets, "product_name = @product_name")
		params = append(params, param("product_name", *u.ProductName))
	}
	if u.Category != nil {
		sets = append(sets, "category = @category")
		params = append(params, param("category", *u.Category))
	}
	if len(sets) == 0 {
		return errors.New("no fields provided for update")
	}
	return s.dmlOne(ctx, fmt.Sprintf("UPDATE %s SET %s WHERE product_id = @product_id",
		s.table("products"), strings.Join(sets, ", ")), params...)
}

func (s *BigQueryStore) DeleteProduct(ctx context.Context, productID string) error {
	return s.dmlOne(ctx, "DELETE FROM "+s.table("products")+" WHERE product_id = @product_id",
		param("product_id", productID))
}

func (s *BigQueryStore) CreateSales(ctx context.Context, sales []Sale) error {
	rows := make([]valueSaver, len(sales))
	for i, sale := range sales {
		rows[i] = valueSaver{"sale_id": sale.SaleID, "product_id": sale.ProductID, "sale_date": sale.SaleDate, "revenue": sale.Revenue}
	}
	return s.insert(ctx, "sales", []string{"sale_id", "product_id", "sale_date", "revenue"}, dateCast, rows)
}

func (s *BigQueryStore) ListSales(ctx context.Context, f SaleFilter) ([]Sale, error) {
	var (
		conds  []string
		params []bigquery.QueryParameter
	)
	if f.ProductID != "" {
		conds = append(conds, "product_id = @product_id")
		params = append(params, param("product_id", f.ProductID))
	}
	if f.StartDate != "" {
		conds = append(conds, "sale_date >= CAST(@start_date AS DATE)")
		params = append(params, param("start_date", f.StartDate))
	}
	sql := "SELECT sale_id, product_id, sale_date, revenue FROM " + s.table("sales")
	if len(conds) > 0 {
		sql += " WHERE " + strings.Join(conds, " AND ")
	}
	sql += " ORDER BY sale_date DESC LIMIT @limit"
	params = append(params, param("limit", limitOrDefault(f.Limit)))

	out := []Sale{}
	err := s.read(ctx, sql, params, func(row map[string]bigquery.Value) {
		out = append(out, Sale{
			SaleID:    str(row["sale_id"]),
			ProductID: str(row["product_id"]),
			SaleDate:  dateString(row["sale_date"]),
			Revenue:   num(row["revenue"]),
		})
	})
	return out, err
}

func (s *BigQueryStore) UpdateSale(ctx context.Context, saleID string, u SaleUpdate) error {
	var (
		sets   []string
		params = []bigquery.QueryParameter{param("sale_id", saleID)}
	)
	if u.ProductID != nil {
		sets = append(sets, "product_id = @product_id")
		params = append(params, param("product_id", *u.ProductID))
	}
	if u.SaleDate != nil {
		sets = append(sets, "sale_date = CAST(@sale_date AS DATE)")
		params = append(params, param("sale_date", *u.SaleDate))
	}
	if u.Revenue != nil {
		sets = append(sets, "revenue = @revenue")
		params = append(params, param("revenue", *u.Revenue))
	}
	if len(sets) == 0 {
		return errors.New("no fields provided for update")
	}
	return s.dmlOne(ctx, fmt.Sprintf("UPDATE %s SET %s WHERE sale_id = @sale_id",
		s.table("sales"), strings.Join(sets, ", ")), params...)
}

func (s *BigQueryStore) DeleteSale(ctx context.Context, saleID string) error {
	return s.dmlOne(ctx, "DELETE FROM "+s.table("sales")+" WHERE sale_id = @sale_id", param("sale_id", saleID))
}

func (s *BigQueryStore) CreateMarketGrowth(ctx context.Context, records []MarketGrowth) error {
	rows := make([]valueSaver, len(records))
	for i, r := range records {
		rows[i] = valueSaver{"report_date": r.ReportDate, "category": r.Category, "growth_percent": r.GrowthPercent, "source": r.Source}
	}
	return s.insert(ctx, "market_growth", []string{"report_date", "category", "growth_percent", "source"}, dateCast, rows)
}

func (s *BigQueryStore) ListMarketGrowth(ctx context.Context, f GrowthFilter) ([]MarketGrowth, error) {
	sql := "SELECT report_date, category, growth_percent, source FROM " + s.table("market_growth")
	var params []bigquery.QueryParameter
	if f.Category != "" {
		sql += " WHERE category = @category"
		params = append(params, param("category", f.Category))
	}
	sql += " ORDER BY report_date DESC LIMIT @limit"
	params = append(params, param("limit", limitOrDefault(f.Limit)))

	out := []MarketGrowth{}
	err := s.read(ctx, sql, params, func(row map[string]bigquery.Value) {
		out = append(out, MarketGrowth{
			ReportDate:    dateString(row["report_date"]),
			Category:      str(row["category"]),
			GrowthPercent: num(row["growth_percent"]),
			Source:        str(row["source"]),
		})
	})
	return out, err
}

func (s *BigQueryStore) UpdateMarketGrowth(ctx context.Context, reportDate, category string, growthPercent float64) error {
	return s.dmlOne(ctx,
		"UPDATE "+s.table("market_growth")+" SET growth_percent = @growth_percent"+
			" WHERE report_date = CAST(@report_date AS DATE) AND category = @category",
		param("growth_percent", growthPercent), param("report_date", reportDate), param("category", category))
}

func (s *BigQueryStore) DeleteMarketGrowth(ctx context.Context, reportDate, category string) error {
	return s.dmlOne(ctx,
		"DELETE FROM "+s.table("market_growth")+" WHERE report_date = CAST(@report_date AS DATE) AND category = @category",
		param("report_date", reportDate), param("category", category))
}

func (s *BigQueryStore) RevenueWindows(ctx context.Context, category string, prevStart, curStart time.Time) (float64, float64, error) {
	sql := fmt.Sprintf(`
		SELECT
			COALESCE(SUM(CASE WHEN s.sale_date >= CAST(@cur_start AS DATE) THEN s.revenue END), 0) AS current_revenue,
			COALESCE(SUM(CASE WHEN s.sale_date >= CAST(@prev_start AS DATE) AND s.sale_date < CAST(@cur_start AS DATE) THEN s.revenue END), 0) AS previous_revenue
		FROM %s s
		JOIN %s p ON s.product_id = p.product_id
		WHERE p.category = @category AND s.sale_date >= CAST(@prev_start AS DATE)`,
		s.table("sales"), s.table("products"))

	var current, previous float64
	err := s.read(ctx, sql, []bigquery.QueryParameter{
		param("cur_start", curStart.Format(DateLayout)),
		param("prev_start", prevStart.Format(DateLayout)),
		param("category", category),
	}, func(row map[string]bigquery.Value) {
		current = num(row["current_revenue"])
		previous = num(row["previous_revenue"])
	})
	return current, previous, err
}

func (s *BigQueryStore) CategoryRevenue(ctx context.Context, category string, start, end time.Time) (float64, error) {
	sql := fmt.Sprintf(`
		SELECT COALESCE(SUM(s.revenue), 0) AS total_revenue
		FROM %s s
		JOIN %s p ON s.product_id = p.product_id
		WHERE p.category = @category
		  AND s.sale_date >= CAST(@start AS DATE)
		  AND s.sale_date < CAST(@end AS DATE)`,
		s.table("sales"), s.table("products"))

	var total float64
	err := s.read(ctx, sql, []bigquery.QueryParameter{
		param("category", category),
		param("start", start.Format(DateLayout)),
		param("end", end.Format(DateLayout)),
	}, func(row map[string]bigquery.Value) {
		total = num(row["total_revenue"])
	})
	return total, err
}

func (s *BigQueryStore) LatestBenchmark(ctx context.Context, category string) (*Benchmark, error) {
	sql := fmt.Sprintf(`
		SELECT growth_percent, report_date, source
		FROM %s
		WHERE category = @category
		QUALIFY ROW_NUMBER() OVER (PARTITION BY category ORDER BY report_date DESC) = 1`,
		s.table("market_growth"))

	var b *Benchmark
	err := s.read(ctx, sql, []bigquery.QueryParameter{param("category", category)}, func(row map[string]bigquery.Value) {
		b = &Benchmark{
			GrowthPercent: num(row["growth_percent"]),
			ReportDate:    dateString(row["report_date"]),
			Source:        str(row["source"]),
		}
	})
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, ErrNotFound
	}
	return b, nil
}

func str(v bigquery.Value) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// num converts FLOAT64, INT64 and NUMERIC values.
func num(v bigquery.Value) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case *big.Rat:
		f, _ := n.Float64()
		return f
	default:
		return 0
	}
}
