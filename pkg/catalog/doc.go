// Package catalog manages the market-intelligence tables (products, sales
// and market_growth) behind the manage_* agent tools.
//
// A Store hides the backend: SQLStore covers SQLite and Postgres,
// BigQueryStore covers BigQuery. Service sits on top, parses the loosely
// typed arguments the model sends, dispatches by operation name and turns
// every outcome into a result map the model can read. Errors never escape
// a tool call.
//
// Updates and deletes that match no row return ErrNotFound.
package catalog
