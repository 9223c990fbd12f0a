package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/engine"
	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/presenter"
	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/types/capability"
)

// Output formats
const (
	outputText = "text"
	outputYAML = "yaml"
	outputJSON = "json"
)

// ResolveConfig holds configuration shared by the resolve and run commands
type ResolveConfig struct {
	ID     string
	Args   []string
	Output string
}

// NewResolveConfig creates a new ResolveConfig with default values
func NewResolveConfig() *ResolveConfig {
	return &ResolveConfig{
		Output: outputText,
	}
}

var resolveCmd = &cobra.Command{
	Use:   "resolve [request...]",
	Short: "Show the plan a request would execute",
	Long: `Match a free-text request against the loaded capabilities and print the ranked
candidates and the resulting invocation plan without executing it.

Examples:
  agentplug resolve review this pull request for security issues
  agentplug resolve --id security-review -a depth=deep "check the auth module"
  agentplug resolve -o json refactor the payment service`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		config := getResolveConfigFromFlags(cmd)
		return runResolveCommand(ctx, cmd.OutOrStdout(), config, strings.Join(args, " "))
	},
}

func init() {
	addResolveFlags(resolveCmd)
}

func addResolveFlags(cmd *cobra.Command) {
	defaults := NewResolveConfig()
	cmd.Flags().String("id", defaults.ID, "Resolve this capability id directly instead of matching the request")
	cmd.Flags().StringArrayP("arg", "a", defaults.Args, "Capability argument as key=value (repeatable)")
	cmd.Flags().StringP("output", "o", defaults.Output, "Output format (text, yaml or json)")
}

// getResolveConfigFromFlags extracts resolve configuration from command flags
func getResolveConfigFromFlags(cmd *cobra.Command) *ResolveConfig {
	config := NewResolveConfig()

	if id, err := cmd.Flags().GetString("id"); err == nil {
		config.ID = id
	}
	if args, err := cmd.Flags().GetStringArray("arg"); err == nil {
		config.Args = args
	}
	if output, err := cmd.Flags().GetString("output"); err == nil {
		config.Output = output
	}

	return config
}

func validateOutput(output string) error {
	switch output {
	case outputText, outputYAML, outputJSON:
		return nil
	default:
		return errors.Errorf("unsupported output format '%s'", output)
	}
}

func runResolveCommand(ctx context.Context, w io.Writer, config *ResolveConfig, text string) error {
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

	plan, candidates, err := resolvePlan(ctx, a.engine, config, text)
	if err != nil {
		return err
	}

	if config.Output == outputText {
		if len(candidates) > 0 {
			presenter.Section("Candidates")
			presenter.Candidates(candidates)
		}
		presenter.Section("Plan")
	}
	return writePlan(w, config.Output, plan)
}

// resolvePlan builds the plan for text, or for config.ID when set. The
// returned candidates are empty when resolving by id.
func resolvePlan(ctx context.Context, eng *engine.Engine, config *ResolveConfig, text string) (*capability.Plan, []capability.MatchCandidate, error) {
	raw, err := parseArgs(config.Args)
	if err != nil {
		return nil, nil, err
	}

	if config.ID != "" {
		plan, err := eng.ResolveID(ctx, config.ID, text, raw)
		return plan, nil, err
	}

	if strings.TrimSpace(text) == "" {
		return nil, nil, errors.New("a request or --id is required")
	}
	candidates, err := eng.Match(text)
	if err != nil {
		return nil, nil, err
	}
	plan, err := eng.Resolve(ctx, text, raw)
	if err != nil {
		return nil, candidates, err
	}
	return plan, candidates, nil
}

func writePlan(w io.Writer, output string, plan *capability.Plan) error {
	switch output {
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return errors.Wrap(enc.Encode(plan), "failed to encode plan")
	default:
		b, err := yaml.Marshal(plan)
		if err != nil {
			return errors.Wrap(err, "failed to encode plan")
		}
		_, err = fmt.Fprint(w, string(b))
		return err
	}
}
