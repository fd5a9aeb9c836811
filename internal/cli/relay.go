package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/harun/agentkit/internal/config"
	"github.com/harun/agentkit/internal/runtime"
	"github.com/harun/agentkit/pkg/relay"
	"github.com/spf13/cobra"
)

const relayPIDName = "relay"

var (
	relayHost        string
	relayPort        int
	relayAgent       string
	relayStopTimeout int
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Live websocket relay",
}

var relayServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the websocket relay",
	Long: `Serve the live websocket relay on /ws/{session_id}. Each connection
streams text, image and audio frames to an agent and relays its replies.
Prometheus metrics are exposed on /metrics.`,
	RunE: runRelayServe,
}

var relayStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show relay status",
	RunE:  runRelayStatus,
}

var relayStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a running relay",
	Long: `Stop the relay gracefully.
Sends SIGTERM and waits for it to shut down before killing it.`,
	RunE: runRelayStop,
}

func init() {
	relayServeCmd.Flags().StringVar(&relayHost, "host", "", "listen host (default from config)")
	relayServeCmd.Flags().IntVar(&relayPort, "port", 0, "listen port (default from config)")
	relayServeCmd.Flags().StringVar(&relayAgent, "agent", "", "agent ID behind the relay (default from config)")
	relayStopCmd.Flags().IntVar(&relayStopTimeout, "timeout", 30, "timeout in seconds to wait for the relay to stop")

	relayCmd.AddCommand(relayServeCmd, relayStatusCmd, relayStopCmd)
	rootCmd.AddCommand(relayCmd)
}

func runRelayServe(cmd *cobra.Command, args []string) error {
	opts := runOptions{mutate: func(cfg *config.Config) {
		if relayHost != "" {
			cfg.Relay.Host = relayHost
		}
		if relayPort != 0 {
			cfg.Relay.Port = relayPort
		}
		if relayAgent != "" {
			cfg.Relay.AgentID = relayAgent
		}
	}}

	return withRuntime(cmd, opts, func(ctx context.Context, rt *runtime.Runtime) error {
		cfg := rt.Config()
		pidFile := getPIDFilePath(cfg.DataDir, relayPIDName)
		if isRunning(pidFile) {
			return fmt.Errorf("relay is already running (PID file: %s)", pidFile)
		}

		runner, err := rt.Runner(ctx, cfg.Relay.AgentID)
		if err != nil {
			return err
		}
		live, err := relay.NewRunnerLiveAgent(runner, rt.Logger())
		if err != nil {
			return err
		}
		server, err := relay.NewServer(relay.Config{
			Host:       cfg.Relay.Host,
			Port:       cfg.Relay.Port,
			AppName:    cfg.Relay.AppName,
			Voice:      cfg.Relay.Voice,
			Modalities: cfg.Relay.Modalities,
			Agent:      live,
			Hooks:      rt.Hooks(),
			Logger:     rt.Logger(),
		})
		if err != nil {
			return err
		}
		if err := server.Start(); err != nil {
			return err
		}

		if err := writePIDFile(pidFile); err != nil {
			logger := rt.Logger()
			logger.Warn().Err(err).Msg("Failed to write PID file")
		}
		defer os.Remove(pidFile)

		fmt.Fprintf(cmd.OutOrStdout(), "Relay listening on %s (agent %s)\n", server.Addr(), cfg.Relay.AgentID)
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Stop(shutdownCtx)
	})
}

func runRelayStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile, envFiles...)
	if err != nil {
		return err
	}
	pidFile := getPIDFilePath(cfg.DataDir, relayPIDName)
	out := cmd.OutOrStdout()

	if !isRunning(pidFile) {
		fmt.Fprintln(out, "Status: stopped")
		return nil
	}

	pid, err := readPID(pidFile)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "Status: running")
	fmt.Fprintf(out, "PID: %d\n", pid)
	if info, err := os.Stat(pidFile); err == nil {
		fmt.Fprintf(out, "Uptime: %s\n", formatDuration(time.Since(info.ModTime())))
	}
	return nil
}

func runRelayStop(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile, envFiles...)
	if err != nil {
		return err
	}
	pidFile := getPIDFilePath(cfg.DataDir, relayPIDName)
	if !isRunning(pidFile) {
		return fmt.Errorf("relay is not running")
	}

	killed, err := stopProcess(pidFile, time.Duration(relayStopTimeout)*time.Second)
	if err != nil {
		return err
	}
	if killed {
		fmt.Fprintln(cmd.OutOrStdout(), "Timeout reached, relay killed")
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Relay stopped successfully")
	return nil
}
