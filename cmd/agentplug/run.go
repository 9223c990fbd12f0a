package main

import (
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/logger"
	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/presenter"
	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/types/capability"
)

var runCmd = &cobra.Command{
	Use:   "run [request...]",
	Short: "Resolve a request and execute its plan",
	Long: `Match a free-text request against the loaded capabilities, validate its
arguments and execute every step of the resulting plan through the configured
invoker. Step outputs are printed in plan order.

Examples:
  agentplug run review this pull request for security issues
  agentplug run --provider anthropic --id architect "design a rate limiter"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		config := getResolveConfigFromFlags(cmd)
		return runRunCommand(ctx, cmd.OutOrStdout(), config, strings.Join(args, " "))
	},
}

func init() {
	addResolveFlags(runCmd)
}

type runOutput struct {
	Plan    *capability.Plan    `json:"plan" yaml:"plan"`
	Results []capability.Result `json:"results" yaml:"results"`
	Error   string              `json:"error,omitempty" yaml:"error,omitempty"`
}

func runRunCommand(ctx context.Context, w io.Writer, config *ResolveConfig, text string) error {
	if err := validateOutput(config.Output); err != nil {
		return err
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

	plan, _, err := resolvePlan(ctx, a.engine, config, text)
	if err != nil {
		return err
	}

	logger.G(ctx).WithFields(map[string]interface{}{
		"plan_id": plan.ID,
		"flow":    plan.Flow,
		"steps":   len(plan.Steps),
	}).Info("executing plan")

	results, execErr := a.engine.Execute(ctx, plan)
	var failure *capability.ExecutionFailure
	if errors.As(execErr, &failure) {
		results = failure.Partial
	}

	switch config.Output {
	case outputJSON, outputYAML:
		out := runOutput{Plan: plan, Results: results}
		if execErr != nil {
			out.Error = execErr.Error()
		}
		if err := writeRunOutput(w, config.Output, out); err != nil {
			return err
		}
	default:
		presenter.Results(results)
		if execErr == nil {
			presenter.Success("executed " + plan.ID)
		}
	}
	return execErr
}

func writeRunOutput(w io.Writer, output string, out runOutput) error {
	if output == outputJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return errors.Wrap(enc.Encode(out), "failed to encode results")
	}
	enc := yaml.NewEncoder(w)
	defer enc.Close()
	return errors.Wrap(enc.Encode(out), "failed to encode results")
}
