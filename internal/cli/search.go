package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/harun/agentkit/internal/runtime"
	"github.com/harun/agentkit/pkg/search"
	"github.com/spf13/cobra"
)

var searchMaxResults int

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Query the configured search backends",
}

var searchGoogleCmd = &cobra.Command{
	Use:   "google <query>",
	Short: "Search with Google Custom Search",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSearch(cmd, func(ctx context.Context, c search.Clients) error {
			if c.Google == nil {
				return fmt.Errorf("google search is not configured (search.google_api_key and search.google_cse_id)")
			}
			text, err := c.Google.Search(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		})
	},
}

var searchVectorCmd = &cobra.Command{
	Use:   "vector <query>...",
	Short: "Find shopping items with the vector search backend",
	Long: `Query the vector search backend. Each argument is a separate query and
the matching items of all queries are printed together.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSearch(cmd, func(ctx context.Context, c search.Clients) error {
			if c.Vector == nil {
				return fmt.Errorf("vector search is not configured (search.vector_url)")
			}
			items, err := c.Vector.FindShoppingItems(ctx, args)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), items)
		})
	},
}

var searchDDGCmd = &cobra.Command{
	Use:   "ddg <query>",
	Short: "Search with the DuckDuckGo instant answer API",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSearch(cmd, func(ctx context.Context, c search.Clients) error {
			fmt.Fprintln(cmd.OutOrStdout(), c.DDG.Search(ctx, strings.Join(args, " "), searchMaxResults))
			return nil
		})
	},
}

func init() {
	searchDDGCmd.Flags().IntVar(&searchMaxResults, "max-results", search.DefaultDDGMaxResults, "maximum snippets to print")
	searchCmd.AddCommand(searchGoogleCmd, searchVectorCmd, searchDDGCmd)
	rootCmd.AddCommand(searchCmd)
}

func withSearch(cmd *cobra.Command, fn func(ctx context.Context, c search.Clients) error) error {
	return withRuntime(cmd, runOptions{stderrLogs: true}, func(ctx context.Context, rt *runtime.Runtime) error {
		clients, err := rt.Search(ctx)
		if err != nil {
			return err
		}
		return fn(ctx, clients)
	})
}
