package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/harun/agentkit/internal/config"
	"github.com/harun/agentkit/internal/runtime"
	"github.com/harun/agentkit/pkg/whatsapp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	waPhone    string
	waMessages []string
	waDelay    int
	waMax      int
	waSchedule string
	waHeadless bool
)

var whatsappCmd = &cobra.Command{
	Use:   "whatsapp",
	Short: "Send WhatsApp messages through WhatsApp Web",
	Long: `Send WhatsApp messages by driving WhatsApp Web in Chrome. The browser
profile is kept in whatsapp.user_data_dir, so the QR code only has to be
scanned on the first run (use --headless=false for that).`,
}

var whatsappSendCmd = &cobra.Command{
	Use:   "send <message>",
	Short: "Send one message",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSender(cmd, func(ctx context.Context, cfg *config.Config, s *whatsapp.Sender) error {
			if err := s.Send(ctx, phoneOrDefault(cfg), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Message sent")
			return nil
		})
	},
}

var whatsappLoopCmd = &cobra.Command{
	Use:   "loop",
	Short: "Send messages in rotation until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSender(cmd, func(ctx context.Context, cfg *config.Config, s *whatsapp.Sender) error {
			stats, err := s.RunLoop(ctx, phoneOrDefault(cfg), messagesOrDefault(cfg), time.Duration(waDelay)*time.Second)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Attempts: %d, sent: %d, failed: %d\n", stats.Attempts, stats.Sent, stats.Failed)
			return nil
		})
	},
}

var whatsappScheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Send messages in rotation on a cron schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSender(cmd, func(ctx context.Context, cfg *config.Config, s *whatsapp.Sender) error {
			expr := waSchedule
			if expr == "" {
				expr = cfg.WhatsApp.Schedule
			}
			if expr == "" {
				return fmt.Errorf("a cron schedule is required (--cron or whatsapp.schedule)")
			}
			sched, err := whatsapp.NewScheduler(s, expr, phoneOrDefault(cfg), messagesOrDefault(cfg), log.Logger)
			if err != nil {
				return err
			}
			if err := sched.Start(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Scheduled %q, next run at %s\n", expr, sched.Next().Format(time.RFC3339))
			<-ctx.Done()
			sched.Stop()

			stats := sched.Stats()
			fmt.Fprintf(cmd.OutOrStdout(), "Attempts: %d, sent: %d, failed: %d\n", stats.Attempts, stats.Sent, stats.Failed)
			return nil
		})
	},
}

func init() {
	whatsappCmd.PersistentFlags().StringVar(&waPhone, "phone", "", "recipient phone number with country code (default from config)")
	whatsappCmd.PersistentFlags().BoolVar(&waHeadless, "headless", true, "run Chrome without a window")
	for _, c := range []*cobra.Command{whatsappLoopCmd, whatsappScheduleCmd} {
		c.Flags().StringArrayVar(&waMessages, "message", nil, "message to rotate through (repeatable; default from config)")
	}
	whatsappLoopCmd.Flags().IntVar(&waDelay, "delay", 0, "seconds between messages (default from config)")
	whatsappLoopCmd.Flags().IntVar(&waMax, "max", 0, "stop after this many attempts (0 runs until interrupted)")
	whatsappScheduleCmd.Flags().StringVar(&waSchedule, "cron", "", "five-field cron expression (default from config)")

	whatsappCmd.AddCommand(whatsappSendCmd, whatsappLoopCmd, whatsappScheduleCmd)
	rootCmd.AddCommand(whatsappCmd)
}

func phoneOrDefault(cfg *config.Config) string {
	if waPhone != "" {
		return waPhone
	}
	return cfg.WhatsApp.Phone
}

func messagesOrDefault(cfg *config.Config) []string {
	if len(waMessages) > 0 {
		return waMessages
	}
	return cfg.WhatsApp.Messages
}

func withSender(cmd *cobra.Command, fn func(ctx context.Context, cfg *config.Config, s *whatsapp.Sender) error) error {
	return withRuntime(cmd, runOptions{}, func(ctx context.Context, rt *runtime.Runtime) error {
		cfg := rt.Config()
		if cmd.Flags().Changed("headless") {
			cfg.WhatsApp.Headless = waHeadless
		}

		driver, err := whatsapp.NewRodDriver(whatsapp.DriverConfig{
			Headless:    cfg.WhatsApp.Headless,
			UserDataDir: cfg.WhatsApp.UserDataDir,
			ChromePath:  cfg.WhatsApp.ChromePath,
		})
		if err != nil {
			return err
		}
		sender, err := whatsapp.NewSender(driver, whatsapp.Config{
			WaitTimeout: time.Duration(cfg.WhatsApp.WaitSeconds) * time.Second,
			Settle:      time.Duration(cfg.WhatsApp.SettleSeconds) * time.Second,
			Delay:       time.Duration(cfg.WhatsApp.DelaySeconds) * time.Second,
			RetryDelay:  time.Duration(cfg.WhatsApp.RetrySeconds) * time.Second,
			MaxMessages: waMax,
		}, rt.Hooks(), rt.Logger())
		if err != nil {
			_ = driver.Close()
			return err
		}
		defer sender.Close()

		return fn(ctx, cfg, sender)
	})
}
