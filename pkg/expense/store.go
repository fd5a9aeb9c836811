package expense

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/harun/agentkit/pkg/catalog"
	_ "github.com/mattn/go-sqlite3"
)

var (
	// ErrInvalidAmount rejects zero and negative amounts.
	ErrInvalidAmount = errors.New("Amount must be greater than zero")
	// ErrNotFound is returned by edits and deletes that match no row.
	ErrNotFound = errors.New("Expense ID not found")
)

type Expense struct {
	ID          int64   `json:"id"`
	Date        string  `json:"date"`
	Amount      float64 `json:"amount"`
	Category    string  `json:"category"`
	Subcategory string  `json:"subcategory"`
	Note        string  `json:"note"`
}

// Filter bounds a list or summary by date, inclusive on both ends.
type Filter struct {
	StartDate string
	EndDate   string
}

type CategoryTotal struct {
	Category string  `json:"category"`
	Total    float64 `json:"total"`
}

// ValidateAmount enforces amount > 0.
func ValidateAmount(amount float64) error {
	if !(amount > 0) {
		return ErrInvalidAmount
	}
	return nil
}

func (e Expense) validate() error {
	if err := ValidateAmount(e.Amount); err != nil {
		return err
	}
	if strings.TrimSpace(e.Date) == "" {
		return errors.New("date is required")
	}
	if strings.TrimSpace(e.Category) == "" {
		return errors.New("category is required")
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS expenses (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	date TEXT NOT NULL,
	amount REAL NOT NULL,
	category TEXT NOT NULL,
	subcategory TEXT DEFAULT '',
	note TEXT DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_expenses_date ON expenses(date);
`

// Store persists expenses in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (and creates if needed) the expense database at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Add inserts e and returns it with its new ID.
func (s *Store) Add(ctx context.Context, e Expense) (Expense, error) {
	if err := e.validate(); err != nil {
		return Expense{}, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO expenses (date, amount, category, subcategory, note) VALUES (?, ?, ?, ?, ?)`,
		e.Date, e.Amount, e.Category, e.Subcategory, e.Note)
	if err != nil {
		return Expense{}, fmt.Errorf("failed to insert expense: %w", err)
	}
	e.ID, err = res.LastInsertId()
	if err != nil {
		return Expense{}, err
	}
	return e, nil
}

// Edit replaces every field of the expense with ID e.ID.
func (s *Store) Edit(ctx context.Context, e Expense) (int64, error) {
	if err := e.validate(); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE expenses SET date = ?, amount = ?, category = ?, subcategory = ?, note = ? WHERE id = ?`,
		e.Date, e.Amount, e.Category, e.Subcategory, e.Note, e.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to update expense: %w", err)
	}
	return affected(res)
}

func (s *Store) Delete(ctx context.Context, id int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM expenses WHERE id = ?`, id)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expense: %w", err)
	}
	return affected(res)
}

func affected(res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, ErrNotFound
	}
	return n, nil
}

func (f Filter) where() (string, []any) {
	switch {
	case f.StartDate != "" && f.EndDate != "":
		return " WHERE date BETWEEN ? AND ?", []any{f.StartDate, f.EndDate}
	case f.StartDate != "":
		return " WHERE date >= ?", []any{f.StartDate}
	case f.EndDate != "":
		return " WHERE date <= ?", []any{f.EndDate}
	default:
		return "", nil
	}
}

// List returns expenses in date order.
func (s *Store) List(ctx context.Context, f Filter) ([]Expense, error) {
	where, args := f.where()
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, date, amount, category, COALESCE(subcategory, ''), COALESCE(note, '') FROM expenses`+where+` ORDER BY date ASC, id ASC`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list expenses: %w", err)
	}
	defer rows.Close()

	out := []Expense{}
	for rows.Next() {
		var e Expense
		if err := rows.Scan(&e.ID, &e.Date, &e.Amount, &e.Category, &e.Subcategory, &e.Note); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Summarize totals expenses per category and overall.
func (s *Store) Summarize(ctx context.Context, f Filter) ([]CategoryTotal, float64, error) {
	where, args := f.where()
	rows, err := s.db.QueryContext(ctx,
		`SELECT category, COALESCE(SUM(amount), 0) FROM expenses`+where+` GROUP BY category ORDER BY category`,
		args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to summarize expenses: %w", err)
	}
	defer rows.Close()

	var (
		out   = []CategoryTotal{}
		grand float64
	)
	for rows.Next() {
		var ct CategoryTotal
		if err := rows.Scan(&ct.Category, &ct.Total); err != nil {
			return nil, 0, err
		}
		grand += ct.Total
		out = append(out, ct)
	}
	return out, grand, rows.Err()
}

// normalizeDate accepts the same shapes as the catalog tools.
func normalizeDate(s string) (string, error) {
	if s == "" {
		return "", nil
	}
	return catalog.NormalizeDate(s)
}
