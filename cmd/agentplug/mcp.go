package main

import (
	"context"
	"os"

	"github.com/mark3labs/mcp-go/server"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/logger"
	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/mcpserver"
	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/version"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve capabilities as MCP tools over stdio",
	Long: `Start a Model Context Protocol server on stdin/stdout. Every loaded skill,
agent and command becomes a tool whose input schema is its parameter schema,
and the agentplug_resolve tool matches free-text requests.

Logs are written to stderr so they do not interfere with the protocol.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCPCommand(cmd.Context())
	},
}

func runMCPCommand(ctx context.Context) error {
	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	s, err := mcpserver.New(a.engine, version.Get().Version)
	if err != nil {
		return err
	}

	logger.G(ctx).WithField("capabilities", a.engine.Snapshot().Registry.Len()).Info("serving MCP over stdio")
	if err := server.NewStdioServer(s).Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return errors.Wrap(err, "MCP server failed")
	}
	return nil
}
