package cli

import (
	"context"
	"fmt"

	"github.com/harun/agentkit/internal/runtime"
	"github.com/harun/agentkit/pkg/catalog"
	"github.com/spf13/cobra"
)

var marketCmd = &cobra.Command{
	Use:   "market",
	Short: "Manage products, sales and market growth records",
	Long: `Run catalog operations directly against the configured database.

Examples:
  agentkit market product create --product_id=P1 --product_name="Cloud WAF" --category="Cloud Security"
  agentkit market sale read --start_date=2026-01-01 --limit=50
  agentkit market growth update --report_date=2026-03-31 --category="Cloud Security" --growth_percent=12.5
  agentkit market sale batch --items='[{"sale_id":"S1","product_id":"P1","sale_date":"2026-01-02","revenue":100}]'
  agentkit market report --category="Cloud Security" --days_back=90`,
}

// catalogEntity binds one CLI noun to its service calls.
type catalogEntity struct {
	use    string
	short  string
	manage func(s *catalog.Service, ctx context.Context, args map[string]any) map[string]any
	batch  func(s *catalog.Service, ctx context.Context, items []catalog.Args) map[string]any
}

var catalogEntities = []catalogEntity{
	{
		use:    "product",
		short:  "Create, read, update or delete products",
		manage: (*catalog.Service).ManageProducts,
		batch:  (*catalog.Service).BatchCreateProducts,
	},
	{
		use:    "sale",
		short:  "Create, read, update or delete sales",
		manage: (*catalog.Service).ManageSales,
		batch:  (*catalog.Service).BatchCreateSales,
	},
	{
		use:    "growth",
		short:  "Create, read, update or delete market growth records",
		manage: (*catalog.Service).ManageMarketGrowth,
		batch:  (*catalog.Service).BatchCreateMarketGrowth,
	},
}

var marketReportCmd = &cobra.Command{
	Use:                "report",
	Short:              "Print the sales growth and category performance report",
	DisableFlagParsing: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if wantsHelp(args) {
			return cmd.Help()
		}
		_, fields, err := parseFieldArgs(args)
		if err != nil {
			return err
		}
		return withCatalog(cmd, func(ctx context.Context, svc *catalog.Service) error {
			a := catalog.Args(fields)
			category := a.String("category")
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"sales_growth": svc.SalesGrowth(ctx, category, fields["days_back"]),
				"performance":  svc.Performance(ctx, category, fields["days_back"]),
			})
		})
	},
}

func init() {
	for _, entity := range catalogEntities {
		marketCmd.AddCommand(newCatalogCommand(entity))
	}
	marketCmd.AddCommand(marketReportCmd)
	rootCmd.AddCommand(marketCmd)
}

func newCatalogCommand(entity catalogEntity) *cobra.Command {
	return &cobra.Command{
		Use:                entity.use + " <create|read|update|delete|batch> [--field=value...]",
		Short:              entity.short,
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if wantsHelp(args) {
				return cmd.Help()
			}
			positional, fields, err := parseFieldArgs(args)
			if err != nil {
				return err
			}
			if len(positional) != 1 {
				return fmt.Errorf("exactly one operation is required (create, read, update, delete, batch)")
			}

			return withCatalog(cmd, func(ctx context.Context, svc *catalog.Service) error {
				var result map[string]any
				if positional[0] == "batch" {
					result = entity.batch(svc, ctx, catalog.Args(fields).Objects("items"))
				} else {
					fields["operation"] = positional[0]
					result = entity.manage(svc, ctx, fields)
				}
				if err := printJSON(cmd.OutOrStdout(), result); err != nil {
					return err
				}
				if result["status"] == "error" {
					return fmt.Errorf("%v", result["error"])
				}
				return nil
			})
		},
	}
}

func withCatalog(cmd *cobra.Command, fn func(ctx context.Context, svc *catalog.Service) error) error {
	return withRuntime(cmd, runOptions{stderrLogs: true}, func(ctx context.Context, rt *runtime.Runtime) error {
		svc, err := rt.Catalog(ctx)
		if err != nil {
			return err
		}
		return fn(ctx, svc)
	})
}
