package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/logger"
	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/presenter"
)

func init() {
	viper.SetEnvPrefix("AGENTPLUG")
	viper.SetEnvKeyReplacer(envKeyReplacer)
	viper.AutomaticEnv()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("$HOME/.agentplug")
	viper.AddConfigPath(".")

	setDefaults(viper.GetViper())

	// A missing config file is fine; everything has a default.
	_ = viper.ReadInConfig()

	rootCmd.PersistentFlags().StringSlice("plugin-dir", nil, "Plugin directory to load descriptors from (repeatable, highest precedence first)")
	rootCmd.PersistentFlags().StringSlice("allow", nil, "Only load descriptors whose id matches one of these glob patterns")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (panic, fatal, error, warn, info, debug, trace)")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format (text or json)")
	rootCmd.PersistentFlags().String("provider", "", "Invoker provider (echo, anthropic or openai)")
	rootCmd.PersistentFlags().String("model", "", "Model used by the invoker")

	viper.BindPFlag("plugin_dirs", rootCmd.PersistentFlags().Lookup("plugin-dir"))
	viper.BindPFlag("allowed", rootCmd.PersistentFlags().Lookup("allow"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log_format", rootCmd.PersistentFlags().Lookup("log-format"))
	viper.BindPFlag("invoker.provider", rootCmd.PersistentFlags().Lookup("provider"))
	viper.BindPFlag("invoker.model", rootCmd.PersistentFlags().Lookup("model"))

	rootCmd.AddCommand(withTracing(resolveCmd))
	rootCmd.AddCommand(withTracing(runCmd))
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(versionCmd)
}

var rootCmd = &cobra.Command{
	Use:   "agentplug",
	Short: "Match requests to plugin skills, agents and commands and run them",
	Long: `agentplug loads skill, agent and command descriptors from plugin directories,
matches free-text requests against their activation triggers, validates
arguments against each capability's parameter schema and executes the
resulting plan through an LLM invoker.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return logger.Configure(viper.GetString("log_level"), viper.GetString("log_format"))
	},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		presenter.Error(err, "")
		os.Exit(1)
	}
}
