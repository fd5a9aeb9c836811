package cli

import (
	"fmt"
	"os"

	"github.com/harun/agentkit/internal/config"
	"github.com/spf13/cobra"
)

var (
	configProvider string
	configAPIKey   string
	configForce    bool
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Create and check the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Long: `Write a default configuration file with one AI profile.
Every value can later be overridden with AGENTKIT_* environment variables.`,
	RunE: runConfigInit,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	RunE:  runConfigValidate,
}

func init() {
	configInitCmd.Flags().StringVar(&configProvider, "provider", "gemini", "AI provider (anthropic, openai, gemini, ollama)")
	configInitCmd.Flags().StringVar(&configAPIKey, "api-key", "", "API key for the provider")
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "overwrite an existing file")

	configCmd.AddCommand(configInitCmd, configValidateCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)
	path := loader.GetConfigPath()
	if _, err := os.Stat(path); err == nil && !configForce {
		return fmt.Errorf("config file already exists: %s (use --force to overwrite)", path)
	}

	if err := config.NewValidator().ValidateAPIKey(configAPIKey, configProvider); err != nil {
		return err
	}

	cfg := config.DefaultConfig()
	cfg.AI.Profiles = []config.AIProfile{{
		ID:       configProvider,
		Provider: configProvider,
		APIKey:   configAPIKey,
		Priority: 1,
	}}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := loader.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Configuration saved to: %s\n", path)
	fmt.Fprintln(cmd.OutOrStdout(), "You can now chat with: agentkit chat")
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile, envFiles...)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	problems := config.NewValidator().ValidateConfig(cfg)
	for _, p := range problems {
		fmt.Fprintf(cmd.OutOrStdout(), "warning: %v\n", p)
	}
	if len(problems) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "Configuration OK")
	}
	return nil
}
