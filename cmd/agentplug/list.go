package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/types/capability"
)

// ListConfig holds configuration for the list command
type ListConfig struct {
	Kind string
}

// NewListConfig creates a new ListConfig with default values
func NewListConfig() *ListConfig {
	return &ListConfig{}
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List loaded capabilities",
	Long:  `List every loaded skill, agent and command with its triggers and primary bond.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		config := getListConfigFromFlags(cmd)
		return runListCommand(ctx, cmd.OutOrStdout(), config)
	},
}

func init() {
	defaults := NewListConfig()
	listCmd.Flags().String("kind", defaults.Kind, "Only list capabilities of this kind (skill, agent or command)")
}

// getListConfigFromFlags extracts list configuration from command flags
func getListConfigFromFlags(cmd *cobra.Command) *ListConfig {
	config := NewListConfig()
	if kind, err := cmd.Flags().GetString("kind"); err == nil {
		config.Kind = kind
	}
	return config
}

func runListCommand(ctx context.Context, w io.Writer, config *ListConfig) error {
	var kind capability.Kind
	if config.Kind != "" {
		k, ok := capability.ParseKind(config.Kind)
		if !ok {
			return errors.Errorf("unknown kind '%s'", config.Kind)
		}
		kind = k
	}

	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	snap := a.engine.Snapshot()
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tVERSION\tBONDED TO\tTRIGGERS")
	for _, d := range snap.Registry.All() {
		if kind != "" && d.Kind != kind {
			continue
		}
		primary, _ := snap.Bonds.ResolvePrimary(d.ID)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			d.ID, d.Kind, dash(d.Version), dash(primary), dash(strings.Join(d.ActivationTriggers, ", ")))
	}
	return tw.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
