package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/bonds"
	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/params"
	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/types/capability"
)

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a capability and its parameter schema",
	Long: `Show a capability's descriptor, the bonds it declares, the descriptors bonded
to it, and its parameters as a JSON Schema document (--schema).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		schemaOnly, _ := cmd.Flags().GetBool("schema")
		return runShowCommand(cmd.Context(), cmd.OutOrStdout(), args[0], schemaOnly)
	},
}

func init() {
	showCmd.Flags().Bool("schema", false, "Print only the JSON Schema of the capability's parameters")
}

type showOutput struct {
	capability.Descriptor `yaml:",inline"`
	ResolvedBonds         []bonds.Edge `yaml:"resolved_bonds,omitempty"`
	BondedFrom            []string     `yaml:"bonded_from,omitempty"`
}

func runShowCommand(ctx context.Context, w io.Writer, id string, schemaOnly bool) error {
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
	d, err := snap.Registry.Lookup(id)
	if err != nil {
		return err
	}

	if schemaOnly {
		b, err := json.MarshalIndent(params.JSONSchema(d), "", "  ")
		if err != nil {
			return errors.Wrap(err, "failed to encode schema")
		}
		_, err = fmt.Fprintln(w, string(b))
		return err
	}

	out := showOutput{
		Descriptor:    *d,
		ResolvedBonds: snap.Bonds.ResolveAll(id),
		BondedFrom:    snap.Bonds.ReverseLookup(id),
	}
	b, err := yaml.Marshal(out)
	if err != nil {
		return errors.Wrap(err, "failed to encode capability")
	}
	_, err = fmt.Fprint(w, string(b))
	return err
}
