package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aymanbagabas/go-udiff"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/engine"
	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/presenter"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch plugin directories and report reloads",
	Long: `Watch the plugin directories and rebuild the registry whenever a descriptor
file changes. Each reload is reported with a diff of the capability catalog
and any skipped files, so plugin authors get immediate feedback while
editing. A failed reload keeps the previously loaded capabilities.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		debounce, _ := cmd.Flags().GetDuration("debounce")
		return runWatchCommand(cmd.Context(), debounce)
	},
}

func init() {
	watchCmd.Flags().Duration("debounce", engine.DefaultDebounce, "Quiet period before reloading after a change")
}

func runWatchCommand(ctx context.Context, debounce time.Duration) error {
	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	previous := catalog(a.engine.Snapshot())
	report := func(err error) {
		if err != nil {
			presenter.Error(err, "reload failed")
			return
		}
		snap := a.engine.Snapshot()
		for _, w := range snap.Warnings {
			presenter.Warning(w.Error())
		}
		current := catalog(snap)
		if diff := udiff.Unified("before", "after", previous, current); diff != "" {
			fmt.Print(diff)
		}
		previous = current
		presenter.Success(fmt.Sprintf("%d capabilities loaded at %s", snap.Registry.Len(), snap.LoadedAt.Format(time.TimeOnly)))
	}

	presenter.Success(fmt.Sprintf("%d capabilities loaded", a.engine.Snapshot().Registry.Len()))
	return a.engine.Watch(ctx, a.loader.Roots(), debounce, report)
}

// catalog renders one line per capability for diffing between reloads
func catalog(snap *engine.Snapshot) string {
	var b strings.Builder
	for _, d := range snap.Registry.All() {
		fmt.Fprintf(&b, "%s %s", d.Kind, d.ID)
		if d.Version != "" {
			fmt.Fprintf(&b, "@%s", d.Version)
		}
		if targets := snap.Bonds.Targets(d.ID); len(targets) > 0 {
			fmt.Fprintf(&b, " -> %s", strings.Join(targets, ", "))
		}
		if len(d.ActivationTriggers) > 0 {
			fmt.Fprintf(&b, " [%s]", strings.Join(d.ActivationTriggers, ", "))
		}
		b.WriteByte('\n')
	}
	return b.String()
}
