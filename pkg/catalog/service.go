package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/harun/agentkit/internal/observability"
	"github.com/harun/agentkit/internal/tracing"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

const supportedOps = "create, read, update, delete"

// Config configures a Service.
type Config struct {
	Store  Store
	Logger *zerolog.Logger
	// Now defaults to time.Now. Analytics windows are computed from it.
	Now func() time.Time
	// DefaultCategory is used by analytics when the caller gives none.
	DefaultCategory string
	// ReadLimit caps reads that pass no limit. Zero means DefaultReadLimit.
	ReadLimit int
}

// Service turns model tool calls into Store operations. Its methods never
// return errors: every failure becomes an ErrorResult the model can read.
type Service struct {
	store           Store
	logger          zerolog.Logger
	now             func() time.Time
	defaultCategory string
	readLimit       int
}

// New creates a catalog service.
func New(cfg Config) (*Service, error) {
	observability.EnsureRegistered()

	if cfg.Store == nil {
		return nil, fmt.Errorf("catalog store is required")
	}
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	category := cfg.DefaultCategory
	if category == "" {
		category = DefaultCategory
	}
	readLimit := cfg.ReadLimit
	if readLimit <= 0 {
		readLimit = DefaultReadLimit
	}
	return &Service{
		store:           cfg.Store,
		logger:          logger.With().Str("component", "catalog").Str("backend", cfg.Store.Backend()).Logger(),
		now:             now,
		defaultCategory: category,
		readLimit:       readLimit,
	}, nil
}

// Store returns the underlying store.
func (s *Service) Store() Store { return s.store }

// observe wraps one dispatch with a span, metrics and, for mutations, an
// audit record.
func (s *Service) observe(ctx context.Context, table string, op Operation, args Args, fn func(context.Context) map[string]any) map[string]any {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := tracing.StartSpan(ctx, "agentkit.catalog", "catalog."+string(op),
		attribute.String("table", table),
		attribute.String("backend", s.store.Backend()),
	)
	defer span.End()

	start := time.Now()
	result := fn(ctx)
	ok := result["status"] == "success"
	observability.RecordDataOp(s.store.Backend(), table, string(op), time.Since(start), ok)

	logger := tracing.LoggerFromContext(ctx, s.logger)
	if !ok {
		msg, _ := result["error"].(string)
		tracing.Fail(span, errors.New(msg))
		logger.Warn().Str("table", table).Str("op", string(op)).Str("error", msg).Msg("Catalog operation failed")
	} else {
		logger.Debug().Str("table", table).Str("op", string(op)).Msg("Catalog operation completed")
	}

	if op.mutates() {
		status := "success"
		if !ok {
			status = "error"
		}
		observability.RecordDataAudit(ctx, table, string(op), status, map[string]any(args))
	}
	return result
}

// dispatch parses the operation and routes it to the matching handler.
func (s *Service) dispatch(ctx context.Context, table string, args Args, nouns []string, handlers map[Operation]func(context.Context, Args) map[string]any) map[string]any {
	name := args.String("operation")
	if name == "" {
		return ErrorResult("'operation' parameter is required. Use: " + supportedOps)
	}
	op, err := ParseOperation(name, nouns...)
	if err != nil {
		return ErrorResult(fmt.Sprintf("Unknown operation '%s'. Supported operations: %s", name, supportedOps))
	}
	return s.observe(ctx, table, op, args, func(ctx context.Context) map[string]any {
		return handlers[op](ctx, args)
	})
}

func failed(verb string, err error) map[string]any {
	return ErrorResult(fmt.Sprintf("%s failed: %v", verb, err))
}

func mutationFailed(verb, entity string, err error) map[string]any {
	if errors.Is(err, ErrNotFound) {
		return ErrorResult(entity + " not found.")
	}
	return failed(verb, err)
}

// ManageProducts creates, reads, updates or deletes products.
func (s *Service) ManageProducts(ctx context.Context, args map[string]any) map[string]any {
	return s.dispatch(ctx, "products", args, []string{"product", "products"}, map[Operation]func(context.Context, Args) map[string]any{
		OpCreate: s.createProduct,
		OpRead:   s.readProducts,
		OpUpdate: s.updateProduct,
		OpDelete: s.deleteProduct,
	})
}

func (s *Service) createProduct(ctx context.Context, a Args) map[string]any {
	if !a.Has("product_id") || !a.Has("product_name") || !a.Has("category") {
		return ErrorResult("For create/add, all of product_id, product_name, category are required.")
	}
	p := Product{ProductID: a.String("product_id"), ProductName: a.String("product_name"), Category: a.String("category")}
	if err := s.store.CreateProducts(ctx, []Product{p}); err != nil {
		return failed("Create", err)
	}
	return SuccessResult("Product created successfully.")
}

func (s *Service) readProducts(ctx context.Context, a Args) map[string]any {
	rows, err := s.store.ListProducts(ctx, ProductFilter{Category: a.String("category"), Limit: a.Int("limit", s.readLimit)})
	if err != nil {
		return failed("Read", err)
	}
	return RowsResult(rows)
}

func (s *Service) updateProduct(ctx context.Context, a Args) map[string]any {
	if !a.Has("product_id") {
		return ErrorResult("product_id is required for update.")
	}
	var u ProductUpdate
	if a.Has("product_name") {
		v := a.String("product_name")
		u.ProductName = &v
	}
	if a.Has("category") {
		v := a.String("category")
		u.Category = &v
	}
	if u.ProductName == nil && u.Category == nil {
		return ErrorResult("At least one of product_name or category must be provided for update.")
	}
	if err := s.store.UpdateProduct(ctx, a.String("product_id"), u); err != nil {
		return mutationFailed("Update", "Product", err)
	}
	return SuccessResult("Product updated successfully.")
}

func (s *Service) deleteProduct(ctx context.Context, a Args) map[string]any {
	if !a.Has("product_id") {
		return ErrorResult("product_id is required for delete.")
	}
	if err := s.store.DeleteProduct(ctx, a.String("product_id")); err != nil {
		return mutationFailed("Delete", "Product", err)
	}
	return SuccessResult("Product deleted successfully.")
}

// ManageSales creates, reads, updates or deletes sales.
func (s *Service) ManageSales(ctx context.Context, args map[string]any) map[string]any {
	return s.dispatch(ctx, "sales", args, []string{"sale", "sales"}, map[Operation]func(context.Context, Args) map[string]any{
		OpCreate: s.createSale,
		OpRead:   s.readSales,
		OpUpdate: s.updateSale,
		OpDelete: s.deleteSale,
	})
}

func (s *Service) createSale(ctx context.Context, a Args) map[string]any {
	if !a.Has("sale_id") || !a.Has("product_id") || !a.Has("sale_date") || !a.Has("revenue") {
		return ErrorResult("For create/add, all of sale_id, product_id, sale_date, revenue are required.")
	}
	date, _, err := a.Date("sale_date")
	if err != nil {
		return failed("Create", err)
	}
	revenue, _, err := a.Float("revenue")
	if err != nil {
		return failed("Create", err)
	}
	sale := Sale{SaleID: a.String("sale_id"), ProductID: a.String("product_id"), SaleDate: date, Revenue: revenue}
	if err := s.store.CreateSales(ctx, []Sale{sale}); err != nil {
		return failed("Create", err)
	}
	return SuccessResult("Sale created successfully.")
}

func (s *Service) readSales(ctx context.Context, a Args) map[string]any {
	key := "start_date"
	if !a.Has(key) {
		key = "sale_date"
	}
	start, _, err := a.Date(key)
	if err != nil {
		return failed("Read", err)
	}
	rows, err := s.store.ListSales(ctx, SaleFilter{
		ProductID: a.String("product_id"),
		StartDate: start,
		Limit:     a.Int("limit", s.readLimit),
	})
	if err != nil {
		return failed("Read", err)
	}
	return RowsResult(rows)
}

func (s *Service) updateSale(ctx context.Context, a Args) map[string]any {
	if !a.Has("sale_id") {
		return ErrorResult("sale_id is required for update.")
	}
	var u SaleUpdate
	if a.Has("product_id") {
		v := a.String("product_id")
		u.ProductID = &v
	}
	if date, ok, err := a.Date("sale_date"); err != nil {
		return failed("Update", err)
	} else if ok {
		u.SaleDate = &date
	}
	if revenue, ok, err := a.Float("revenue"); err != nil {
		return failed("Update", err)
	} else if ok {
		u.Revenue = &revenue
	}
	if u.ProductID == nil && u.SaleDate == nil && u.Revenue == nil {
		return ErrorResult("At least one of product_id, sale_date, or revenue must be provided for update.")
	}
	if err := s.store.UpdateSale(ctx, a.String("sale_id"), u); err != nil {
		return mutationFailed("Update", "Sale", err)
	}
	return SuccessResult("Sale updated successfully.")
}

func (s *Service) deleteSale(ctx context.Context, a Args) map[string]any {
	if !a.Has("sale_id") {
		return ErrorResult("sale_id is required for delete.")
	}
	if err := s.store.DeleteSale(ctx, a.String("sale_id")); err != nil {
		return mutationFailed("Delete", "Sale", err)
	}
	return SuccessResult("Sale deleted successfully.")
}

// ManageMarketGrowth creates, reads, updates or deletes market growth
// benchmarks.
func (s *Service) ManageMarketGrowth(ctx context.Context, args map[string]any) map[string]any {
	return s.dispatch(ctx, "market_growth", args, []string{"market growth", "market_growth", "growth"}, map[Operation]func(context.Context, Args) map[string]any{
		OpCreate: s.createGrowth,
		OpRead:   s.readGrowth,
		OpUpdate: s.updateGrowth,
		OpDelete: s.deleteGrowth,
	})
}

func (s *Service) createGrowth(ctx context.Context, a Args) map[string]any {
	if !a.Has("report_date") || !a.Has("category") || !a.Has("growth_percent") || !a.Has("source") {
		return ErrorResult("For create/add, all of report_date, category, growth_percent, source are required.")
	}
	date, _, err := a.Date("report_date")
	if err != nil {
		return failed("Create", err)
	}
	growth, _, err := a.Float("growth_percent")
	if err != nil {
		return failed("Create", err)
	}
	r := MarketGrowth{ReportDate: date, Category: a.String("category"), GrowthPercent: growth, Source: a.String("source")}
	if err := s.store.CreateMarketGrowth(ctx, []MarketGrowth{r}); err != nil {
		return failed("Create", err)
	}
	return SuccessResult("Market growth record created successfully.")
}

func (s *Service) readGrowth(ctx context.Context, a Args) map[string]any {
	rows, err := s.store.ListMarketGrowth(ctx, GrowthFilter{Category: a.String("category"), Limit: a.Int("limit", s.readLimit)})
	if err != nil {
		return failed("Read", err)
	}
	return RowsResult(rows)
}

func (s *Service) updateGrowth(ctx context.Context, a Args) map[string]any {
	if !a.Has("report_date") || !a.Has("category") {
		return ErrorResult("report_date and category are both required for update.")
	}
	if !a.Has("growth_percent") {
		return ErrorResult("growth_percent must be provided for update.")
	}
	date, _, err := a.Date("report_date")
	if err != nil {
		return failed("Update", err)
	}
	growth, _, err := a.Float("growth_percent")
	if err != nil {
		return failed("Update", err)
	}
	if err := s.store.UpdateMarketGrowth(ctx, date, a.String("category"), growth); err != nil {
		return mutationFailed("Update", "Market growth record", err)
	}
	return SuccessResult("Market growth record updated successfully.")
}

func (s *Service) deleteGrowth(ctx context.Context, a Args) map[string]any {
	if !a.Has("report_date") || !a.Has("category") {
		return ErrorResult("report_date and category are both required for delete.")
	}
	date, _, err := a.Date("report_date")
	if err != nil {
		return failed("Delete", err)
	}
	if err := s.store.DeleteMarketGrowth(ctx, date, a.String("category")); err != nil {
		return mutationFailed("Delete", "Market growth record", err)
	}
	return SuccessResult("Market growth record deleted successfully.")
}
