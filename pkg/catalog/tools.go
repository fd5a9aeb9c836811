package catalog

import (
	"context"
	"errors"

	"github.com/harun/agentkit/pkg/toolexecutor"
)

var opParam = toolexecutor.ToolParameter{
	Name:        "operation",
	Type:        "string",
	Description: "One of create/add, read/list, update/edit, delete/remove",
	Required:    true,
}

var limitParam = toolexecutor.ToolParameter{Name: "limit", Type: "integer", Description: "Maximum rows to read (default 1000)"}

func daysParam() toolexecutor.ToolParameter {
	return toolexecutor.ToolParameter{Name: "days_back", Type: "integer", Description: "Look-back window in days (default 30, max 730)"}
}

// Tools returns the catalog tool definitions bound to s.
func (s *Service) Tools() []toolexecutor.ToolDefinition {
	return []toolexecutor.ToolDefinition{
		{
			Name:        "manage_products",
			Description: "Create, read, update or delete products.",
			Parameters: []toolexecutor.ToolParameter{
				opParam,
				{Name: "product_id", Type: "string", Description: "Product identifier"},
				{Name: "product_name", Type: "string", Description: "Product name"},
				{Name: "category", Type: "string", Description: "Product category; filters reads"},
				limitParam,
			},
			Handler: func(ctx context.Context, params map[string]any) (any, error) {
				return s.ManageProducts(ctx, params), nil
			},
		},
		{
			Name:        "manage_sales",
			Description: "Create, read, update or delete sales. Reads filter by product_id and start_date.",
			Parameters: []toolexecutor.ToolParameter{
				opParam,
				{Name: "sale_id", Type: "string", Description: "Sale identifier"},
				{Name: "product_id", Type: "string", Description: "Product sold"},
				{Name: "sale_date", Type: "string", Description: "Sale date (YYYY-MM-DD)"},
				{Name: "start_date", Type: "string", Description: "Read sales on or after this date (YYYY-MM-DD)"},
				{Name: "revenue", Type: "number", Description: "Sale revenue"},
				limitParam,
			},
			Handler: func(ctx context.Context, params map[string]any) (any, error) {
				return s.ManageSales(ctx, params), nil
			},
		},
		{
			Name:        "manage_market_growth",
			Description: "Create, read, update or delete market growth benchmarks keyed by report_date and category.",
			Parameters: []toolexecutor.ToolParameter{
				opParam,
				{Name: "report_date", Type: "string", Description: "Report date (YYYY-MM-DD)"},
				{Name: "category", Type: "string", Description: "Market category"},
				{Name: "growth_percent", Type: "number", Description: "Market growth in percent"},
				{Name: "source", Type: "string", Description: "Where the figure came from"},
				limitParam,
			},
			Handler: func(ctx context.Context, params map[string]any) (any, error) {
				return s.ManageMarketGrowth(ctx, params), nil
			},
		},
		{
			Name:        "batch_create_products",
			Description: "Create several products at once.",
			Parameters: []toolexecutor.ToolParameter{
				{Name: "products", Type: "array", Items: "object", Description: "Objects with product_id, product_name, category", Required: true},
			},
			Handler: func(ctx context.Context, params map[string]any) (any, error) {
				return s.BatchCreateProducts(ctx, Args(params).Objects("products")), nil
			},
		},
		{
			Name:        "batch_create_sales",
			Description: "Create several sales at once.",
			Parameters: []toolexecutor.ToolParameter{
				{Name: "sales", Type: "array", Items: "object", Description: "Objects with sale_id, product_id, sale_date, revenue", Required: true},
			},
			Handler: func(ctx context.Context, params map[string]any) (any, error) {
				return s.BatchCreateSales(ctx, Args(params).Objects("sales")), nil
			},
		},
		{
			Name:        "batch_create_market_growth",
			Description: "Create several market growth benchmarks at once.",
			Parameters: []toolexecutor.ToolParameter{
				{Name: "records", Type: "array", Items: "object", Description: "Objects with report_date, category, growth_percent, source", Required: true},
			},
			Handler: func(ctx context.Context, params map[string]any) (any, error) {
				return s.BatchCreateMarketGrowth(ctx, Args(params).Objects("records")), nil
			},
		},
		{
			Name:        "get_sales_growth",
			Description: "Compare category revenue over the last N days with the N days before.",
			Parameters: []toolexecutor.ToolParameter{
				{Name: "category", Type: "string", Description: "Product category (default " + DefaultCategory + ")"},
				daysParam(),
			},
			Handler: func(ctx context.Context, params map[string]any) (any, error) {
				return s.SalesGrowth(ctx, Args(params).String("category"), params["days_back"]), nil
			},
		},
		{
			Name:        "get_category_performance",
			Description: "Total category revenue over the last N days plus the latest market growth benchmark.",
			Parameters: []toolexecutor.ToolParameter{
				{Name: "category", Type: "string", Description: "Product category (default " + DefaultCategory + ")"},
				daysParam(),
			},
			Handler: func(ctx context.Context, params map[string]any) (any, error) {
				return s.Performance(ctx, Args(params).String("category"), params["days_back"]), nil
			},
		},
	}
}

// RegisterTools registers every catalog tool on executor.
func (s *Service) RegisterTools(executor *toolexecutor.ToolExecutor) error {
	if executor == nil {
		return errors.New("tool executor is required")
	}
	return executor.RegisterTools(s.Tools()...)
}
