package cli

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/harun/agentkit/internal/config"
	"github.com/harun/agentkit/internal/runtime"
	"github.com/harun/agentkit/pkg/session"
	"github.com/spf13/cobra"
)

var (
	sessionsUser    string
	sessionsBackend string
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect stored conversation sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions, optionally for one user",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSessions(cmd, func(ctx context.Context, svc session.Service) error {
			list, err := svc.List(ctx, sessionsUser)
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No sessions.")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tAPP\tUSER\tEVENTS\tUPDATED")
			for _, s := range list {
				updated := s.UpdatedAt().Format(time.RFC3339)
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", s.ID, s.AppName, s.UserID, len(s.Events), updated)
			}
			return w.Flush()
		})
	},
}

var sessionsGetCmd = &cobra.Command{
	Use:   "get <session_id>",
	Short: "Print a session as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSessions(cmd, func(ctx context.Context, svc session.Service) error {
			sess, err := svc.Get(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), sess)
		})
	},
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session_id>",
	Short: "Delete a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSessions(cmd, func(ctx context.Context, svc session.Service) error {
			if err := svc.Delete(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Session %s deleted\n", args[0])
			return nil
		})
	},
}

func init() {
	sessionsListCmd.Flags().StringVar(&sessionsUser, "user", "", "only list sessions of this user")
	sessionsCmd.PersistentFlags().StringVar(&sessionsBackend, "session-backend", "", "override session backend (redis, sqlite, memory)")

	sessionsCmd.AddCommand(sessionsListCmd, sessionsGetCmd, sessionsDeleteCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func withSessions(cmd *cobra.Command, fn func(ctx context.Context, svc session.Service) error) error {
	opts := runOptions{
		stderrLogs: true,
		mutate: func(cfg *config.Config) {
			if sessionsBackend != "" {
				cfg.Session.Backend = sessionsBackend
			}
		},
	}
	return withRuntime(cmd, opts, func(ctx context.Context, rt *runtime.Runtime) error {
		svc, err := rt.Sessions(ctx)
		if err != nil {
			return err
		}
		return fn(ctx, svc)
	})
}
