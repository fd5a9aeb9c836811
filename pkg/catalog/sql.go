package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// Dialect captures the differences between the SQL backends.
type Dialect struct {
	Name       string
	driver     string
	dollarArgs bool
	schema     string
}

var (
	SQLite   = Dialect{Name: "sqlite", driver: "sqlite3"}
	Postgres = Dialect{Name: "postgres", driver: "pgx", dollarArgs: true}
)

// rebind rewrites ? placeholders as $1, $2... for Postgres.
func (d Dialect) rebind(query string) string {
	if !d.dollarArgs {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d Dialect) schemaSQL() string {
	dateType, moneyType := "TEXT", "REAL"
	if d.Name == Postgres.Name {
		dateType, moneyType = "DATE", "DOUBLE PRECISION"
	}
	return fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS products (
			product_id TEXT PRIMARY KEY,
			product_name TEXT NOT NULL,
			category TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS sales (
			sale_id TEXT PRIMARY KEY,
			product_id TEXT NOT NULL,
			sale_date %[1]s NOT NULL,
			revenue %[2]s NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_sales_date ON sales(sale_date);
		CREATE TABLE IF NOT EXISTS market_growth (
			report_date %[1]s NOT NULL,
			category TEXT NOT NULL,
			growth_percent %[2]s NOT NULL,
			source TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (report_date, category)
		);
	`, dateType, moneyType)
}

// SQLStore implements Store over database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

// OpenSQLite opens (and creates if needed) a SQLite catalog at path.
func OpenSQLite(path string) (*SQLStore, error) {
	if path == "" {
		return nil, errors.New("database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	db, err := sql.Open(SQLite.driver, path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	return NewSQLStore(db, SQLite)
}

// OpenPostgres connects with a pgx keyword/value or URL DSN. A non-empty
// schema becomes the connection search_path.
func OpenPostgres(dsn, schema string) (*SQLStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres DSN is required")
	}
	if schema != "" {
		if strings.Contains(dsn, "://") {
			sep := "?"
			if strings.Contains(dsn, "?") {
				sep = "&"
			}
			dsn += sep + "search_path=" + schema
		} else {
			dsn += " search_path=" + schema
		}
	}
	db, err := sql.Open(Postgres.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	d := Postgres
	d.schema = schema
	return NewSQLStore(db, d)
}

// NewSQLStore wraps db and creates the tables if they do not exist.
func NewSQLStore(db *sql.DB, dialect Dialect) (*SQLStore, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if _, err := db.Exec(dialect.schemaSQL()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLStore{db: db, dialect: dialect}, nil
}

func (s *SQLStore) Backend() string { return s.dialect.Name }

func (s *SQLStore) Close() error { return s.db.Close() }

// DB exposes the underlying handle.
func (s *SQLStore) DB() *sql.DB { return s.db }

func (s *SQLStore) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLStore) execOne(ctx context.Context, query string, args ...any) error {
	n, err := s.exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// insertAll runs one INSERT per row inside a transaction.
func (s *SQLStore) insertAll(ctx context.Context, query string, rows [][]any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.dialect.rebind(query))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, args := range rows {
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// setClause builds "a = ?, b = ?" from the non-nil columns.
type setClause struct {
	cols []string
	args []any
}

func (c *setClause) add(col string, v any) {
	c.cols = append(c.cols, col+" = ?")
	c.args = append(c.args, v)
}

func (c *setClause) String() string { return strings.Join(c.cols, ", ") }

func (s *SQLStore) CreateProducts(ctx context.Context, products []Product) error {
	rows := make([][]any, len(products))
	for i, p := range products {
		rows[i] = []any{p.ProductID, p.ProductName, p.Category}
	}
	return s.insertAll(ctx, `INSERT INTO products (product_id, product_name, category) VALUES (?, ?, ?)`, rows)
}

func (s *SQLStore) ListProducts(ctx context.Context, f ProductFilter) ([]Product, error) {
	query := `SELECT product_id, product_name, category FROM products`
	var args []any
	if f.Category != "" {
		query += ` WHERE category = ?`
		args = append(args, f.Category)
	}
	query += ` ORDER BY product_name LIMIT ?`
	args = append(args, limitOrDefault(f.Limit))

	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Product{}
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ProductID, &p.ProductName, &p.Category); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLStore) UpdateProduct(ctx context.Context, productID string, u ProductUpdate) error {
	var set setClause
	if u.ProductName != nil {
		set.add("product_name", *u.ProductName)
	}
	if u.Category != nil {
		set.add("category", *u.Category)
	}
	if len(set.cols) == 0 {
		return errors.New("no fields provided for update")
	}
	return s.execOne(ctx, `UPDATE products SET `+set.String()+` WHERE product_id = ?`, append(set.args, productID)...)
}

func (s *SQLStore) DeleteProduct(ctx context.Context, productID string) error {
	return s.execOne(ctx, `DELETE FROM products WHERE product_id = ?`, productID)
}

func (s *SQLStore) CreateSales(ctx context.Context, sales []Sale) error {
	rows := make([][]any, len(sales))
	for i, sale := range sales {
		rows[i] = []any{sale.SaleID, sale.ProductID, sale.SaleDate, sale.Revenue}
	}
	return s.insertAll(ctx, `INSERT INTO sales (sale_id, product_id, sale_date, revenue) VALUES (?, ?, ?, ?)`, rows)
}

func (s *SQLStore) ListSales(ctx context.Context, f SaleFilter) ([]Sale, error) {
	var (
		conds []string
		args  []any
	)
	if f.ProductID != "" {
		conds = append(conds, "product_id = ?")
		args = append(args, f.ProductID)
	}
	if f.StartDate != "" {
		conds = append(conds, "sale_date >= ?")
		args = append(args, f.StartDate)
	}
	query := `SELECT sale_id, product_id, sale_date, revenue FROM sales`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY sale_date DESC LIMIT ?`
	args = append(args, limitOrDefault(f.Limit))

	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Sale{}
	for rows.Next() {
		var (
			sale Sale
			date any
		)
		if err := rows.Scan(&sale.SaleID, &sale.ProductID, &date, &sale.Revenue); err != nil {
			return nil, err
		}
		sale.SaleDate = dateString(date)
		out = append(out, sale)
	}
	return out, rows.Err()
}

func (s *SQLStore) UpdateSale(ctx context.Context, saleID string, u SaleUpdate) error {
	var set setClause
	if u.ProductID != nil {
		set.add("product_id", *u.ProductID)
	}
	if u.SaleDate != nil {
		set.add("sale_date", *u.SaleDate)
	}
	if u.Revenue != nil {
		set.add("revenue", *u.Revenue)
	}
	if len(set.cols) == 0 {
		return errors.New("no fields provided for update")
	}
	return s.execOne(ctx, `UPDATE sales SET `+set.String()+` WHERE sale_id = ?`, append(set.args, saleID)...)
}

func (s *SQLStore) DeleteSale(ctx context.Context, saleID string) error {
	return s.execOne(ctx, `DELETE FROM sales WHERE sale_id = ?`, saleID)
}

func (s *SQLStore) CreateMarketGrowth(ctx context.Context, records []MarketGrowth) error {
	rows := make([][]any, len(records))
	for i, r := range records {
		rows[i] = []any{r.ReportDate, r.Category, r.GrowthPercent, r.Source}
	}
	return s.insertAll(ctx, `INSERT INTO market_growth (report_date, category, growth_percent, source) VALUES (?, ?, ?, ?)`, rows)
}

func (s *SQLStore) ListMarketGrowth(ctx context.Context, f GrowthFilter) ([]MarketGrowth, error) {
	query := `SELECT report_date, category, growth_percent, source FROM market_growth`
	var args []any
	if f.Category != "" {
		query += ` WHERE category = ?`
		args = append(args, f.Category)
	}
	query += ` ORDER BY report_date DESC LIMIT ?`
	args = append(args, limitOrDefault(f.Limit))

	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []MarketGrowth{}
	for rows.Next() {
		var (
			r    MarketGrowth
			date any
		)
		if err := rows.Scan(&date, &r.Category, &r.GrowthPercent, &r.Source); err != nil {
			return nil, err
		}
		r.ReportDate = dateString(date)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLStore) UpdateMarketGrowth(ctx context.Context, reportDate, category string, growthPercent float64) error {
	return s.execOne(ctx,
		`UPDATE market_growth SET growth_percent = ? WHERE report_date = ? AND category = ?`,
		growthPercent, reportDate, category)
}

func (s *SQLStore) DeleteMarketGrowth(ctx context.Context, reportDate, category string) error {
	return s.execOne(ctx, `DELETE FROM market_growth WHERE report_date = ? AND category = ?`, reportDate, category)
}

func (s *SQLStore) RevenueWindows(ctx context.Context, category string, prevStart, curStart time.Time) (float64, float64, error) {
	query := `
		SELECT
			COALESCE(SUM(CASE WHEN s.sale_date >= ? THEN s.revenue END), 0),
			COALESCE(SUM(CASE WHEN s.sale_date >= ? AND s.sale_date < ? THEN s.revenue END), 0)
		FROM sales s
		JOIN products p ON s.product_id = p.product_id
		WHERE p.category = ? AND s.sale_date >= ?`
	cur, prev := curStart.Format(DateLayout), prevStart.Format(DateLayout)

	var current, previous float64
	err := s.db.QueryRowContext(ctx, s.dialect.rebind(query), cur, prev, cur, category, prev).Scan(&current, &previous)
	if err != nil {
		return 0, 0, err
	}
	return current, previous, nil
}

func (s *SQLStore) CategoryRevenue(ctx context.Context, category string, start, end time.Time) (float64, error) {
	query := `
		SELECT COALESCE(SUM(s.revenue), 0)
		FROM sales s
		JOIN products p ON s.product_id = p.product_id
		WHERE p.category = ? AND s.sale_date >= ? AND s.sale_date < ?`

	var total float64
	err := s.db.QueryRowContext(ctx, s.dialect.rebind(query),
		category, start.Format(DateLayout), end.Format(DateLayout)).Scan(&total)
	return total, err
}

func (s *SQLStore) LatestBenchmark(ctx context.Context, category string) (*Benchmark, error) {
	query := `
		SELECT growth_percent, report_date, source FROM market_growth
		WHERE category = ?
		ORDER BY report_date DESC
		LIMIT 1`

	var (
		b    Benchmark
		date any
	)
	err := s.db.QueryRowContext(ctx, s.dialect.rebind(query), category).Scan(&b.GrowthPercent, &date, &b.Source)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	b.ReportDate = dateString(date)
	return &b, nil
}
