package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/harun/agentkit/internal/config"
	"github.com/harun/agentkit/internal/logger"
	"github.com/harun/agentkit/internal/runtime"
	"github.com/spf13/cobra"
)

const (
	version         = "0.1.0"
	defaultLogLevel = "info"
)

var (
	cfgFile  string
	logLevel string
	envFiles []string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "agentkit",
	Short: "AgentKit - conversational agents over sessions, data stores and tools",
	Long: `AgentKit runs conversational agents backed by persistent sessions,
SQL and BigQuery data stores, web search, artifact storage and an MCP
expense tracker. It also ships a live websocket relay and a WhatsApp
Web sender.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.agentkit/agentkit.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "env files to load before reading config (default .env when present)")

	// Version template
	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)
}

// GetRootCmd returns the root command for testing
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// GetVersion returns the current version
func GetVersion() string {
	return version
}

// loadConfig reads the config named by the persistent flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile, envFiles...)
	if err != nil {
		return nil, err
	}
	if logLevel != defaultLogLevel || cfg.Logging.Level == "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// runOptions tune how a command's runtime is set up.
type runOptions struct {
	// stderrLogs keeps stdout free for protocol traffic.
	stderrLogs bool
	// mutate adjusts the loaded config before the runtime is built.
	mutate func(cfg *config.Config)
}

// withRuntime loads config, installs the logger and hands a runtime to fn.
// The context is cancelled on SIGINT or SIGTERM.
func withRuntime(cmd *cobra.Command, opts runOptions, fn func(ctx context.Context, rt *runtime.Runtime) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if opts.mutate != nil {
		opts.mutate(cfg)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	lg, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   true,
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
		MaxSize:   cfg.Logging.MaxSize,
		MaxAge:    cfg.Logging.MaxAge,
		Compress:  cfg.Logging.Compress,
		Stderr:    opts.stderrLogs,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer lg.Close()

	rt, err := runtime.New(cfg, runtime.Options{Logger: lg.Zerolog()})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := rt.Close(); cerr != nil {
			logger := lg.Zerolog()
			logger.Warn().Err(cerr).Msg("Runtime closed with errors")
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return fn(ctx, rt)
}
