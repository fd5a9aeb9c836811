package expense

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harun/agentkit/internal/observability"
	"github.com/harun/agentkit/internal/tracing"
	"github.com/harun/agentkit/pkg/catalog"
	"github.com/harun/agentkit/pkg/toolexecutor"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

// Config configures a Tracker.
type Config struct {
	Store      *Store
	Categories *Categories
	Logger     *zerolog.Logger
}

// Tracker exposes the expense store as tool calls.
type Tracker struct {
	store      *Store
	categories *Categories
	logger     zerolog.Logger
}

// NewTracker creates a tracker.
func NewTracker(cfg Config) (*Tracker, error) {
	observability.EnsureRegistered()

	if cfg.Store == nil {
		return nil, fmt.Errorf("expense store is required")
	}
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	return &Tracker{
		store:      cfg.Store,
		categories: cfg.Categories,
		logger:     logger.With().Str("component", "expense").Logger(),
	}, nil
}

func success(tool string, response any) map[string]any {
	return map[string]any{"status": "success", "tool": tool, "response": response}
}

func failure(tool string, err error) map[string]any {
	return map[string]any{"status": "error", "tool": tool, "error": err.Error()}
}

// call wraps a handler with a span, metrics and the audit log.
func (t *Tracker) call(ctx context.Context, tool, op string, args catalog.Args, fn func(context.Context) (any, error)) map[string]any {
	ctx, span := tracing.StartSpan(ctx, "agentkit.expense", "expense."+op, attribute.String("tool", tool))
	defer span.End()

	start := time.Now()
	response, err := fn(ctx)
	observability.RecordDataOp("sqlite", "expenses", op, time.Since(start), err == nil)

	if op != "read" && op != "summarize" {
		status := "success"
		if err != nil {
			status = "error"
		}
		observability.RecordDataAudit(ctx, "expenses", op, status, map[string]any(args))
	}
	if err != nil {
		tracing.Fail(span, err)
		logger := tracing.LoggerFromContext(ctx, t.logger)
		logger.Warn().Err(err).Str("tool", tool).Msg("Expense tool failed")
		return failure(tool, err)
	}
	return success(tool, response)
}

func expenseFromArgs(a catalog.Args) (Expense, error) {
	amount, ok, err := a.Float("amount")
	if err != nil {
		return Expense{}, err
	}
	if !ok {
		return Expense{}, errors.New("amount is required")
	}
	if err := ValidateAmount(amount); err != nil {
		return Expense{}, err
	}
	date, err := normalizeDate(a.String("date"))
	if err != nil {
		return Expense{}, err
	}
	return Expense{
		Date:        date,
		Amount:      amount,
		Category:    a.String("category"),
		Subcategory: a.String("subcategory"),
		Note:        a.String("note"),
	}, nil
}

func filterFromArgs(a catalog.Args) (Filter, error) {
	start, err := normalizeDate(a.String("start_date"))
	if err != nil {
		return Filter{}, err
	}
	end, err := normalizeDate(a.String("end_date"))
	if err != nil {
		return Filter{}, err
	}
	return Filter{StartDate: start, EndDate: end}, nil
}

func expenseID(a catalog.Args) (int64, error) {
	id, ok, err := a.Float("expense_id")
	if !ok && err == nil {
		id, ok, err = a.Float("id")
	}
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, errors.New("expense_id is required")
	}
	return int64(id), nil
}

// AddExpense records a new expense.
func (t *Tracker) AddExpense(ctx context.Context, args map[string]any) map[string]any {
	return t.call(ctx, "add_expense", "create", args, func(ctx context.Context) (any, error) {
		e, err := expenseFromArgs(args)
		if err != nil {
			return nil, err
		}
		return t.store.Add(ctx, e)
	})
}

// EditExpense replaces an existing expense.
func (t *Tracker) EditExpense(ctx context.Context, args map[string]any) map[string]any {
	return t.call(ctx, "edit_expense", "update", args, func(ctx context.Context) (any, error) {
		e, err := expenseFromArgs(args)
		if err != nil {
			return nil, err
		}
		if e.ID, err = expenseID(args); err != nil {
			return nil, err
		}
		n, err := t.store.Edit(ctx, e)
		if err != nil {
			return nil, err
		}
		return map[string]any{"updated": n}, nil
	})
}

func (t *Tracker) DeleteExpense(ctx context.Context, args map[string]any) map[string]any {
	return t.call(ctx, "delete_expense", "delete", args, func(ctx context.Context) (any, error) {
		id, err := expenseID(args)
		if err != nil {
			return nil, err
		}
		n, err := t.store.Delete(ctx, id)
		if err != nil {
			return nil, err
		}
		return map[string]any{"deleted": n}, nil
	})
}

func (t *Tracker) ListExpenses(ctx context.Context, args map[string]any) map[string]any {
	return t.call(ctx, "list_expenses", "read", args, func(ctx context.Context) (any, error) {
		f, err := filterFromArgs(args)
		if err != nil {
			return nil, err
		}
		rows, err := t.store.List(ctx, f)
		if err != nil {
			return nil, err
		}
		return map[string]any{"count": len(rows), "expenses": rows}, nil
	})
}

func (t *Tracker) SummarizeExpenses(ctx context.Context, args map[string]any) map[string]any {
	return t.call(ctx, "summarize_expenses", "summarize", args, func(ctx context.Context) (any, error) {
		f, err := filterFromArgs(args)
		if err != nil {
			return nil, err
		}
		summary, grand, err := t.store.Summarize(ctx, f)
		if err != nil {
			return nil, err
		}
		return map[string]any{"summary": summary, "grand_total": grand}, nil
	})
}

// Dispatch routes an "operation" argument to the matching tool. Besides
// the CRUD aliases it accepts "summarize" and "summary".
func (t *Tracker) Dispatch(ctx context.Context, args map[string]any) map[string]any {
	name := catalog.Args(args).String("operation")
	switch strings.ToLower(name) {
	case "":
		return failure("expense_tool", errors.New("'operation' parameter is required. Use: create, read, update, delete, summarize"))
	case "summarize", "summary", "summarize expenses":
		return t.SummarizeExpenses(ctx, args)
	}
	op, err := catalog.ParseOperation(name, "expense", "expenses")
	if err != nil {
		return failure("expense_tool", fmt.Errorf("Unknown operation '%s'. Supported operations: create, read, update, delete, summarize", name))
	}
	switch op {
	case catalog.OpCreate:
		return t.AddExpense(ctx, args)
	case catalog.OpRead:
		return t.ListExpenses(ctx, args)
	case catalog.OpUpdate:
		return t.EditExpense(ctx, args)
	default:
		return t.DeleteExpense(ctx, args)
	}
}

// CategoriesResource returns the resource payload for CategoriesURI.
func (t *Tracker) CategoriesResource() map[string]any {
	if t.categories == nil {
		return failure("categories", errCategoriesMissing)
	}
	data, err := t.categories.Get()
	if err != nil {
		return failure("categories", err)
	}
	return success("categories", data)
}

var (
	dateParam   = toolexecutor.ToolParameter{Name: "date", Type: "string", Description: "Expense date (YYYY-MM-DD)"}
	amountParam = toolexecutor.ToolParameter{Name: "amount", Type: "number", Description: "Amount spent, greater than zero"}
	catParam    = toolexecutor.ToolParameter{Name: "category", Type: "string", Description: "Expense category"}
	subParam    = toolexecutor.ToolParameter{Name: "subcategory", Type: "string", Description: "Optional subcategory", Default: ""}
	noteParam   = toolexecutor.ToolParameter{Name: "note", Type: "string", Description: "Optional note", Default: ""}
	idParam     = toolexecutor.ToolParameter{Name: "expense_id", Type: "integer", Description: "Expense ID"}
	startParam  = toolexecutor.ToolParameter{Name: "start_date", Type: "string", Description: "Inclusive lower date bound (YYYY-MM-DD)"}
	endParam    = toolexecutor.ToolParameter{Name: "end_date", Type: "string", Description: "Inclusive upper date bound (YYYY-MM-DD)"}
)

func required(p toolexecutor.ToolParameter) toolexecutor.ToolParameter {
	p.Required = true
	return p
}

func handler(fn func(context.Context, map[string]any) map[string]any) toolexecutor.ToolHandler {
	return func(ctx context.Context, params map[string]any) (any, error) {
		return fn(ctx, params), nil
	}
}

// Tools returns the expense tool definitions bound to t.
func (t *Tracker) Tools() []toolexecutor.ToolDefinition {
	return []toolexecutor.ToolDefinition{
		{
			Name:        "add_expense",
			Description: "Record a new expense.",
			Parameters:  []toolexecutor.ToolParameter{required(dateParam), required(amountParam), required(catParam), subParam, noteParam},
			Handler:     handler(t.AddExpense),
		},
		{
			Name:        "edit_expense",
			Description: "Replace every field of an existing expense.",
			Parameters:  []toolexecutor.ToolParameter{required(idParam), required(dateParam), required(amountParam), required(catParam), subParam, noteParam},
			Handler:     handler(t.EditExpense),
		},
		{
			Name:        "delete_expense",
			Description: "Delete an expense by ID.",
			Parameters:  []toolexecutor.ToolParameter{required(idParam)},
			Handler:     handler(t.DeleteExpense),
		},
		{
			Name:        "list_expenses",
			Description: "List expenses in date order, optionally between two dates.",
			Parameters:  []toolexecutor.ToolParameter{startParam, endParam},
			Handler:     handler(t.ListExpenses),
		},
		{
			Name:        "summarize_expenses",
			Description: "Total expenses per category, optionally between two dates.",
			Parameters:  []toolexecutor.ToolParameter{startParam, endParam},
			Handler:     handler(t.SummarizeExpenses),
		},
		{
			Name:        "expense_tool",
			Description: "Manage expenses with one call: create/add, read/list, update/edit, delete/remove or summarize.",
			Parameters: []toolexecutor.ToolParameter{
				{Name: "operation", Type: "string", Description: "Operation to run", Required: true},
				idParam, dateParam, amountParam, catParam, subParam, noteParam, startParam, endParam,
			},
			Handler: handler(t.Dispatch),
		},
	}
}

// RegisterTools registers every expense tool on executor.
func (t *Tracker) RegisterTools(executor *toolexecutor.ToolExecutor) error {
	if executor == nil {
		return errors.New("tool executor is required")
	}
	return executor.RegisterTools(t.Tools()...)
}
