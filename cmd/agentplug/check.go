package main

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/presenter"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate plugin descriptors",
	Long: `Load every descriptor from the plugin directories and build the registry.
Skipped files are reported as warnings. The command fails when the registry
cannot be built (for example a bond to an unknown agent), or, with --strict,
when any file was skipped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		strict, _ := cmd.Flags().GetBool("strict")
		return runCheckCommand(cmd.Context(), strict)
	},
}

func init() {
	checkCmd.Flags().Bool("strict", false, "Fail when any descriptor file is skipped")
}

func runCheckCommand(ctx context.Context, strict bool) error {
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
	for _, w := range snap.Warnings {
		presenter.Warning(w.Error())
	}

	if strict && len(snap.Warnings) > 0 {
		return errors.Errorf("%d descriptor file(s) skipped", len(snap.Warnings))
	}
	presenter.Success(fmt.Sprintf("%d capabilities loaded from %v", snap.Registry.Len(), a.loader.Roots()))
	return nil
}
