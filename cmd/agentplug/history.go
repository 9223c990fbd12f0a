package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/audit"
	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/presenter"
)

// HistoryConfig holds configuration for the history command
type HistoryConfig struct {
	Limit int
	JSON  bool
}

// NewHistoryConfig creates a new HistoryConfig with default values
func NewHistoryConfig() *HistoryConfig {
	return &HistoryConfig{
		Limit: 20,
		JSON:  false,
	}
}

var historyCmd = &cobra.Command{
	Use:   "history [plan-id]",
	Short: "Show recorded plan executions",
	Long: `List recently executed plans from the audit log, newest first, or show one
execution with its step outputs. Executions are only recorded when
audit.enabled is set.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		config := getHistoryConfigFromFlags(cmd)
		return runHistoryCommand(cmd.Context(), cmd.OutOrStdout(), config, args)
	},
}

func init() {
	defaults := NewHistoryConfig()
	historyCmd.Flags().Int("limit", defaults.Limit, "Maximum number of executions to list")
	historyCmd.Flags().Bool("json", defaults.JSON, "Output as JSON")
}

// getHistoryConfigFromFlags extracts history configuration from command flags
func getHistoryConfigFromFlags(cmd *cobra.Command) *HistoryConfig {
	config := NewHistoryConfig()
	if limit, err := cmd.Flags().GetInt("limit"); err == nil {
		config.Limit = limit
	}
	if asJSON, err := cmd.Flags().GetBool("json"); err == nil {
		config.JSON = asJSON
	}
	return config
}

func runHistoryCommand(ctx context.Context, w io.Writer, config *HistoryConfig, args []string) error {
	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return err
	}
	recorder, err := audit.Open(ctx, cfg.Audit.Path)
	if err != nil {
		return err
	}
	defer recorder.Close()

	if len(args) == 1 {
		execution, err := recorder.Get(ctx, args[0])
		if err != nil {
			return err
		}
		if config.JSON {
			return writeJSON(w, execution)
		}
		printExecution(w, execution)
		presenter.Results(execution.Results)
		return nil
	}

	executions, err := recorder.List(ctx, config.Limit)
	if err != nil {
		return err
	}
	if config.JSON {
		return writeJSON(w, executions)
	}
	if len(executions) == 0 {
		presenter.Info("No executions recorded")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PLAN ID\tFLOW\tSTEPS\tSTATUS\tSTARTED\tCAPABILITIES")
	for _, e := range executions {
		fmt.Fprintf(tw, "%s\t%s\t%d/%d\t%s\t%s\t%s\n",
			e.PlanID, e.Flow, e.CompletedSteps, e.StepCount, status(e),
			e.StartedAt.Local().Format(time.DateTime), strings.Join(e.DescriptorIDs, ", "))
	}
	return tw.Flush()
}

func printExecution(w io.Writer, e *audit.Execution) {
	fmt.Fprintf(w, "Plan:     %s\n", e.PlanID)
	fmt.Fprintf(w, "Flow:     %s\n", e.Flow)
	fmt.Fprintf(w, "Input:    %s\n", e.Input)
	fmt.Fprintf(w, "Status:   %s\n", status(e))
	fmt.Fprintf(w, "Started:  %s\n", e.StartedAt.Local().Format(time.DateTime))
	fmt.Fprintf(w, "Duration: %s\n", e.FinishedAt.Sub(e.StartedAt).Round(time.Millisecond))
	if e.Error != "" {
		fmt.Fprintf(w, "Error:    %s\n", e.Error)
	}
}

func status(e *audit.Execution) string {
	if e.Succeeded() {
		return "ok"
	}
	if e.FailedStep != nil {
		return fmt.Sprintf("failed at step %d", *e.FailedStep)
	}
	return "failed"
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return errors.Wrap(enc.Encode(v), "failed to encode output")
}
