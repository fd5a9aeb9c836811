package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidOperation is returned for an operation name no alias matches.
var ErrInvalidOperation = errors.New("invalid operation")

// Operation is a canonical CRUD verb.
type Operation string

const (
	OpCreate Operation = "create"
	OpRead   Operation = "read"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"

	OpBatchCreate Operation = "batch_create"
)

func (o Operation) mutates() bool {
	switch o {
	case OpCreate, OpUpdate, OpDelete, OpBatchCreate:
		return true
	}
	return false
}

var verbs = map[string]Operation{
	"create": OpCreate,
	"add":    OpCreate,
	"read":   OpRead,
	"list":   OpRead,
	"update": OpUpdate,
	"edit":   OpUpdate,
	"delete": OpDelete,
	"remove": OpDelete,
}

// ParseOperation maps an operation name onto its canonical verb. Besides the
// bare verbs it accepts "<verb> <noun>" for each noun given, so "add product"
// and "list products" both resolve when nouns is {"product", "products"}.
func ParseOperation(name string, nouns ...string) (Operation, error) {
	fields := strings.Fields(strings.ToLower(name))
	if len(fields) == 0 {
		return "", fmt.Errorf("%w: operation is required", ErrInvalidOperation)
	}
	op, ok := verbs[fields[0]]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidOperation, name)
	}
	if len(fields) == 1 {
		return op, nil
	}
	rest := strings.Join(fields[1:], " ")
	for _, n := range nouns {
		if rest == n {
			return op, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidOperation, name)
}

// Args is the argument map a tool receives from the model.
type Args map[string]any

// String returns the trimmed string value of key, or "" when absent.
// Numbers are formatted without a trailing ".0".
func (a Args) String(key string) string {
	switch v := a[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// Has reports whether key is present with a non-empty value.
func (a Args) Has(key string) bool {
	v, ok := a[key]
	if !ok || v == nil {
		return false
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) != ""
	}
	return true
}

// Float parses key as a number. ok is false when the key is absent.
func (a Args) Float(key string) (f float64, ok bool, err error) {
	if !a.Has(key) {
		return 0, false, nil
	}
	switch v := a[key].(type) {
	case float64:
		return v, true, nil
	case float32:
		return float64(v), true, nil
	case int:
		return float64(v), true, nil
	case int64:
		return float64(v), true, nil
	case json.Number:
		f, err = v.Float64()
	case string:
		f, err = strconv.ParseFloat(strings.TrimSpace(v), 64)
	default:
		err = fmt.Errorf("unsupported type %T", v)
	}
	if err != nil {
		return 0, true, fmt.Errorf("%s must be a number", key)
	}
	return f, true, nil
}

// Int parses key as an integer, returning def when it is absent or invalid.
func (a Args) Int(key string, def int) int {
	f, ok, err := a.Float(key)
	if !ok || err != nil {
		return def
	}
	return int(f)
}

// Date parses key with NormalizeDate. ok is false when the key is absent.
func (a Args) Date(key string) (string, bool, error) {
	if !a.Has(key) {
		return "", false, nil
	}
	d, err := NormalizeDate(a.String(key))
	if err != nil {
		return "", true, fmt.Errorf("%s: %w", key, err)
	}
	return d, true, nil
}

// Objects returns the list of maps stored under key.
func (a Args) Objects(key string) []Args {
	raw, _ := a[key].([]any)
	out := make([]Args, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]any); ok {
			out = append(out, Args(m))
		}
	}
	return out
}

// ErrorResult is the model-facing shape of a failed call.
func ErrorResult(msg string) map[string]any {
	return map[string]any{"status": "error", "error": msg}
}

// SuccessResult is the model-facing shape of a successful mutation.
func SuccessResult(msg string) map[string]any {
	return map[string]any{"status": "success", "message": msg}
}

// RowsResult is the model-facing shape of a read.
func RowsResult[T any](rows []T) map[string]any {
	if rows == nil {
		rows = []T{}
	}
	return map[string]any{"status": "success", "count": len(rows), "rows": rows}
}
