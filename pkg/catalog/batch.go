package catalog

import (
	"context"
	"fmt"
)

// BatchCreateProducts inserts every product in one call.
func (s *Service) BatchCreateProducts(ctx context.Context, items []Args) map[string]any {
	if len(items) == 0 {
		return ErrorResult("No products provided for batch creation.")
	}
	products := make([]Product, 0, len(items))
	for i, a := range items {
		if !a.Has("product_id") || !a.Has("product_name") || !a.Has("category") {
			return ErrorResult(fmt.Sprintf("Product %d: product_id, product_name and category are required.", i+1))
		}
		products = append(products, Product{ProductID: a.String("product_id"), ProductName: a.String("product_name"), Category: a.String("category")})
	}
	return s.observe(ctx, "products", OpBatchCreate, Args{"count": len(products)}, func(ctx context.Context) map[string]any {
		if err := s.store.CreateProducts(ctx, products); err != nil {
			return failed("Batch create", err)
		}
		return SuccessResult(fmt.Sprintf("Successfully created %d products.", len(products)))
	})
}

// BatchCreateSales inserts every sale in one call.
func (s *Service) BatchCreateSales(ctx context.Context, items []Args) map[string]any {
	if len(items) == 0 {
		return ErrorResult("No sales provided for batch creation.")
	}
	sales := make([]Sale, 0, len(items))
	for i, a := range items {
		if !a.Has("sale_id") || !a.Has("product_id") || !a.Has("sale_date") || !a.Has("revenue") {
			return ErrorResult(fmt.Sprintf("Sale %d: sale_id, product_id, sale_date and revenue are required.", i+1))
		}
		date, _, err := a.Date("sale_date")
		if err != nil {
			return ErrorResult(fmt.Sprintf("Sale %d: %v", i+1, err))
		}
		revenue, _, err := a.Float("revenue")
		if err != nil {
			return ErrorResult(fmt.Sprintf("Sale %d: %v", i+1, err))
		}
		sales = append(sales, Sale{SaleID: a.String("sale_id"), ProductID: a.String("product_id"), SaleDate: date, Revenue: revenue})
	}
	return s.observe(ctx, "sales", OpBatchCreate, Args{"count": len(sales)}, func(ctx context.Context) map[string]any {
		if err := s.store.CreateSales(ctx, sales); err != nil {
			return failed("Batch create", err)
		}
		return SuccessResult(fmt.Sprintf("Successfully created %d sales.", len(sales)))
	})
}

// BatchCreateMarketGrowth inserts every benchmark in one call.
func (s *Service) BatchCreateMarketGrowth(ctx context.Context, items []Args) map[string]any {
	if len(items) == 0 {
		return ErrorResult("No market growth records provided for batch creation.")
	}
	records := make([]MarketGrowth, 0, len(items))
	for i, a := range items {
		if !a.Has("report_date") || !a.Has("category") || !a.Has("growth_percent") || !a.Has("source") {
			return ErrorResult(fmt.Sprintf("Record %d: report_date, category, growth_percent and source are required.", i+1))
		}
		date, _, err := a.Date("report_date")
		if err != nil {
			return ErrorResult(fmt.Sprintf("Record %d: %v", i+1, err))
		}
		growth, _, err := a.Float("growth_percent")
		if err != nil {
			return ErrorResult(fmt.Sprintf("Record %d: %v", i+1, err))
		}
		records = append(records, MarketGrowth{ReportDate: date, Category: a.String("category"), GrowthPercent: growth, Source: a.String("source")})
	}
	return s.observe(ctx, "market_growth", OpBatchCreate, Args{"count": len(records)}, func(ctx context.Context) map[string]any {
		if err := s.store.CreateMarketGrowth(ctx, records); err != nil {
			return failed("Batch create", err)
		}
		return SuccessResult(fmt.Sprintf("Successfully created %d market growth records.", len(records)))
	})
}
