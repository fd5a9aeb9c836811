package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/harun/agentkit/internal/runtime"
	"github.com/harun/agentkit/pkg/expense"
	"github.com/spf13/cobra"
)

var (
	expDate        string
	expAmount      float64
	expCategory    string
	expSubcategory string
	expNote        string
	expStart       string
	expEnd         string
)

var expenseCmd = &cobra.Command{
	Use:   "expense",
	Short: "Track expenses",
}

var expenseServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the expense tracker as an MCP server on stdio",
	Long: `Serve the expense tracker over the Model Context Protocol on stdin and
stdout. Logs go to stderr. Point expense.server_command at this command to
give agents the expense tools through MCP.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(cmd, runOptions{stderrLogs: true}, func(ctx context.Context, rt *runtime.Runtime) error {
			tracker, err := rt.Expense()
			if err != nil {
				return err
			}
			server, err := expense.NewServer(tracker, version, rt.Logger())
			if err != nil {
				return err
			}
			return server.Serve(ctx, os.Stdin, os.Stdout)
		})
	},
}

var expenseAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Record an expense",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTracker(cmd, func(ctx context.Context, t *expense.Tracker) map[string]any {
			return t.AddExpense(ctx, map[string]any{
				"date":        expDate,
				"amount":      expAmount,
				"category":    expCategory,
				"subcategory": expSubcategory,
				"note":        expNote,
			})
		})
	},
}

var expenseListCmd = &cobra.Command{
	Use:   "list",
	Short: "List expenses in a date range",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTracker(cmd, func(ctx context.Context, t *expense.Tracker) map[string]any {
			return t.ListExpenses(ctx, rangeArgs())
		})
	},
}

var expenseSummarizeCmd = &cobra.Command{
	Use:   "summarize",
	Short: "Summarize expenses by category",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTracker(cmd, func(ctx context.Context, t *expense.Tracker) map[string]any {
			a := rangeArgs()
			if expCategory != "" {
				a["category"] = expCategory
			}
			return t.SummarizeExpenses(ctx, a)
		})
	},
}

func init() {
	expenseAddCmd.Flags().StringVar(&expDate, "date", "", "expense date (YYYY-MM-DD)")
	expenseAddCmd.Flags().Float64Var(&expAmount, "amount", 0, "amount spent")
	expenseAddCmd.Flags().StringVar(&expCategory, "category", "", "expense category")
	expenseAddCmd.Flags().StringVar(&expSubcategory, "subcategory", "", "optional subcategory")
	expenseAddCmd.Flags().StringVar(&expNote, "note", "", "optional note")
	_ = expenseAddCmd.MarkFlagRequired("date")
	_ = expenseAddCmd.MarkFlagRequired("amount")
	_ = expenseAddCmd.MarkFlagRequired("category")

	for _, c := range []*cobra.Command{expenseListCmd, expenseSummarizeCmd} {
		c.Flags().StringVar(&expStart, "start", "", "inclusive start date (YYYY-MM-DD)")
		c.Flags().StringVar(&expEnd, "end", "", "inclusive end date (YYYY-MM-DD)")
	}
	expenseSummarizeCmd.Flags().StringVar(&expCategory, "category", "", "only summarize this category")

	expenseCmd.AddCommand(expenseServeCmd, expenseAddCmd, expenseListCmd, expenseSummarizeCmd)
	rootCmd.AddCommand(expenseCmd)
}

func rangeArgs() map[string]any {
	a := map[string]any{}
	if expStart != "" {
		a["start_date"] = expStart
	}
	if expEnd != "" {
		a["end_date"] = expEnd
	}
	return a
}

func withTracker(cmd *cobra.Command, fn func(ctx context.Context, t *expense.Tracker) map[string]any) error {
	return withRuntime(cmd, runOptions{stderrLogs: true}, func(ctx context.Context, rt *runtime.Runtime) error {
		tracker, err := rt.Expense()
		if err != nil {
			return err
		}
		result := fn(ctx, tracker)
		if err := printJSON(cmd.OutOrStdout(), result); err != nil {
			return err
		}
		if result["status"] == "error" {
			return fmt.Errorf("%v", result["error"])
		}
		return nil
	})
}
