package source

import (
	"bytes"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/yuin/goldmark"
	meta "github.com/yuin/goldmark-meta"
	"github.com/yuin/goldmark/parser"

	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/types/capability"
)

// frontmatter is the YAML header of a skill, agent or command file
type frontmatter struct {
	Name               string                 `mapstructure:"name"`
	Kind               string                 `mapstructure:"kind"`
	Description        string                 `mapstructure:"description"`
	Version            string                 `mapstructure:"version"`
	ActivationTriggers []string               `mapstructure:"activation_triggers"`
	Triggers           []string               `mapstructure:"triggers"`
	Parameters         []parameterFrontmatter `mapstructure:"parameters"`
	BondedAgent        string                 `mapstructure:"bonded_agent"`
	BondType           string                 `mapstructure:"bond_type"`
	Bonds              []bondFrontmatter      `mapstructure:"bonds"`
	Flow               string                 `mapstructure:"flow"`
}

type parameterFrontmatter struct {
	Name          string      `mapstructure:"name"`
	Type          string      `mapstructure:"type"`
	Required      bool        `mapstructure:"required"`
	Default       interface{} `mapstructure:"default"`
	AllowedValues []string    `mapstructure:"allowed_values"`
	Enum          []string    `mapstructure:"enum"`
	Description   string      `mapstructure:"description"`
}

type bondFrontmatter struct {
	Target string `mapstructure:"target"`
	Type   string `mapstructure:"type"`
}

// ParseDescriptor parses a Markdown file with YAML frontmatter into a
// descriptor. fallbackID is used when the frontmatter has no name.
func ParseDescriptor(kind capability.Kind, fallbackID string, content []byte) (capability.Descriptor, error) {
	content = bytes.TrimPrefix(content, []byte("\xef\xbb\xbf"))
	raw, err := parseFrontmatter(content)
	if err != nil {
		return capability.Descriptor{}, err
	}

	var fm frontmatter
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToSliceHookFunc(","),
		WeaklyTypedInput: true,
		Result:           &fm,
	})
	if err != nil {
		return capability.Descriptor{}, errors.Wrap(err, "failed to create frontmatter decoder")
	}
	if err := decoder.Decode(raw); err != nil {
		return capability.Descriptor{}, errors.Wrap(err, "failed to decode frontmatter")
	}

	d := capability.Descriptor{
		ID:          strings.TrimSpace(fm.Name),
		Kind:        kind,
		Description: strings.TrimSpace(fm.Description),
		Version:     strings.TrimSpace(fm.Version),
		Content:     extractBodyContent(string(content)),
	}
	if d.ID == "" {
		d.ID = fallbackID
	}
	if d.Description == "" {
		return capability.Descriptor{}, errors.New("description is required in frontmatter")
	}

	if fm.Kind != "" {
		k, ok := capability.ParseKind(fm.Kind)
		if !ok {
			return capability.Descriptor{}, errors.Errorf("unknown kind '%s'", fm.Kind)
		}
		d.Kind = k
	}

	flow, ok := capability.ParseFlowKind(fm.Flow)
	if !ok {
		return capability.Descriptor{}, errors.Errorf("unknown flow '%s'", fm.Flow)
	}
	d.Flow = flow

	d.ActivationTriggers = trimAll(append(fm.ActivationTriggers, fm.Triggers...))

	for _, p := range fm.Parameters {
		spec, err := toParameterSpec(p)
		if err != nil {
			return capability.Descriptor{}, err
		}
		d.ParameterSchema = append(d.ParameterSchema, spec)
	}

	if agent := strings.TrimSpace(fm.BondedAgent); agent != "" {
		bt, ok := capability.ParseBondType(fm.BondType)
		if !ok {
			return capability.Descriptor{}, errors.Errorf("unknown bond_type '%s'", fm.BondType)
		}
		if fm.BondType == "" {
			bt = capability.BondPrimary
		}
		d.Bonds = append(d.Bonds, capability.Bond{TargetID: agent, Type: bt})
	}
	for _, b := range fm.Bonds {
		bt, ok := capability.ParseBondType(b.Type)
		if !ok {
			return capability.Descriptor{}, errors.Errorf("unknown bond type '%s' for target '%s'", b.Type, b.Target)
		}
		d.Bonds = append(d.Bonds, capability.Bond{TargetID: strings.TrimSpace(b.Target), Type: bt})
	}

	return d, nil
}

func toParameterSpec(p parameterFrontmatter) (capability.ParameterSpec, error) {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return capability.ParameterSpec{}, errors.New("parameter name is required")
	}
	t, ok := capability.ParseParamType(p.Type)
	if !ok {
		return capability.ParameterSpec{}, errors.Errorf("parameter '%s' has unknown type '%s'", name, p.Type)
	}

	allowed := trimAll(append(p.AllowedValues, p.Enum...))
	if len(allowed) > 0 && t == capability.ParamString {
		t = capability.ParamEnum
	}

	return capability.ParameterSpec{
		Name:          name,
		Type:          t,
		Required:      p.Required,
		Default:       p.Default,
		AllowedValues: allowed,
		Description:   strings.TrimSpace(p.Description),
	}, nil
}

// parseFrontmatter extracts the YAML metadata block using goldmark-meta
func parseFrontmatter(content []byte) (map[string]interface{}, error) {
	if !bytes.HasPrefix(content, []byte("---")) {
		return nil, errors.New("missing frontmatter")
	}

	md := goldmark.New(
		goldmark.WithExtensions(meta.Meta),
	)

	var buf bytes.Buffer
	pctx := parser.NewContext()
	if err := md.Convert(content, &buf, parser.WithContext(pctx)); err != nil {
		return nil, errors.Wrap(err, "failed to parse markdown")
	}

	metaData, err := meta.TryGet(pctx)
	if err != nil {
		return nil, errors.Wrap(err, "malformed frontmatter")
	}
	if len(metaData) == 0 {
		return nil, errors.New("missing frontmatter")
	}
	return metaData, nil
}

// extractBodyContent removes YAML frontmatter and returns the body
func extractBodyContent(content string) string {
	if !strings.HasPrefix(content, "---") {
		return content
	}

	lines := strings.Split(content, "\n")
	frontmatterEnd := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			frontmatterEnd = i
			break
		}
	}
	if frontmatterEnd == -1 {
		return content
	}

	return strings.TrimLeft(strings.Join(lines[frontmatterEnd+1:], "\n"), "\n")
}

func trimAll(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
