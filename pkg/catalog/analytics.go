package catalog

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// DefaultCategory is the product category analytics report on by default.
const DefaultCategory = "Cloud Security"

const (
	defaultDays = 30
	maxDays     = 730
	clampedDays = 365
)

// ClampDays normalizes a look-back window: non-positive values become 30 and
// anything above two years becomes 365.
func ClampDays(days int) int {
	switch {
	case days < 1:
		return defaultDays
	case days > maxDays:
		return clampedDays
	default:
		return days
	}
}

// parseDays accepts the loose shapes a model sends for days_back.
func parseDays(v any) int {
	switch d := v.(type) {
	case int:
		return d
	case float64:
		return int(d)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(d))
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

// GrowthPercent returns (current-previous)/previous as a percentage rounded
// to two decimals. With no previous revenue it is 100 when there is current
// revenue and 0 otherwise.
func GrowthPercent(current, previous float64) float64 {
	if previous > 0 {
		return math.Round((current-previous)/previous*100*100) / 100
	}
	if current > 0 {
		return 100
	}
	return 0
}

func (s *Service) today() time.Time {
	now := s.now()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
}

func (s *Service) category(c string) string {
	if c = strings.TrimSpace(c); c != "" {
		return c
	}
	return s.defaultCategory
}

// SalesGrowth compares revenue for category over the last daysBack days with
// the daysBack days before that.
func (s *Service) SalesGrowth(ctx context.Context, category string, daysBack any) map[string]any {
	days := ClampDays(parseDays(daysBack))
	category = s.category(category)

	today := s.today()
	curStart := today.AddDate(0, 0, -days)
	prevStart := curStart.AddDate(0, 0, -days)
	periodFrom, periodTo := curStart.Format(DateLayout), today.Format(DateLayout)

	args := Args{"category": category, "days_back": days}
	return s.observe(ctx, "sales", "growth", args, func(ctx context.Context) map[string]any {
		current, previous, err := s.store.RevenueWindows(ctx, category, prevStart, curStart)
		if err != nil {
			return map[string]any{
				"status":                  "error",
				"error":                   fmt.Sprintf("Growth query failed: %v", err),
				"internal_growth_percent": 0.0,
				"current_revenue":         0.0,
				"previous_revenue":        0.0,
				"days_analyzed":           days,
				"period_from":             periodFrom,
				"period_to":               periodTo,
			}
		}

		report := map[string]any{
			"status":                  "success",
			"category":                category,
			"internal_growth_percent": GrowthPercent(current, previous),
			"current_revenue":         current,
			"previous_revenue":        previous,
			"days_analyzed":           days,
			"period_from":             periodFrom,
			"period_to":               periodTo,
		}
		if days != defaultDays {
			report["note"] = fmt.Sprintf("Growth compares last %d days vs previous %d days", days, days)
		}
		return report
	})
}

// Performance reports total revenue for category since daysBack days ago
// together with the latest market growth benchmark.
func (s *Service) Performance(ctx context.Context, category string, daysBack any) map[string]any {
	days := ClampDays(parseDays(daysBack))
	category = s.category(category)

	today := s.today()
	start := today.AddDate(0, 0, -days)

	args := Args{"category": category, "days_back": days}
	return s.observe(ctx, "sales", "performance", args, func(ctx context.Context) map[string]any {
		total, err := s.store.CategoryRevenue(ctx, category, start, today)
		if err != nil {
			return ErrorResult(fmt.Sprintf("Performance query failed: %v", err))
		}
		report := map[string]any{
			"status":        "success",
			"category":      category,
			"total_revenue": total,
			"days_analyzed": days,
			"period_from":   start.Format(DateLayout),
			"period_to":     today.Format(DateLayout),
			"market_growth": nil,
		}

		b, err := s.store.LatestBenchmark(ctx, category)
		switch {
		case err == nil:
			report["market_growth"] = b
		case !errors.Is(err, ErrNotFound):
			return ErrorResult(fmt.Sprintf("Performance query failed: %v", err))
		}
		return report
	})
}
