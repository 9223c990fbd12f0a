// Package capability defines the types shared by the registry, matcher,
// validator and orchestrator: capability descriptors, their parameter
// schemas and bonds, and the per-request match and plan records.
package capability

import "strings"

// Kind is the variant of a capability descriptor
type Kind string

// Descriptor kinds
const (
	KindSkill   Kind = "skill"
	KindAgent   Kind = "agent"
	KindCommand Kind = "command"
)

// Rank orders kinds for tie-breaking. Lower ranks are preferred.
func (k Kind) Rank() int {
	switch k {
	case KindSkill:
		return 0
	case KindAgent:
		return 1
	case KindCommand:
		return 2
	default:
		return 3
	}
}

// Valid reports whether k is one of the known kinds
func (k Kind) Valid() bool {
	return k.Rank() < 3
}

// ParseKind converts a string to a Kind, case-insensitively
func ParseKind(s string) (Kind, bool) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	return k, k.Valid()
}

// ParamType is the declared type of a parameter
type ParamType string

// Parameter types
const (
	ParamString ParamType = "string"
	ParamEnum   ParamType = "enum"
	ParamBool   ParamType = "bool"
	ParamInt    ParamType = "int"
	ParamList   ParamType = "list"
)

// ParseParamType converts a frontmatter type name to a ParamType. Common
// aliases such as "boolean", "integer" and "array" are accepted.
func ParseParamType(s string) (ParamType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "string", "str", "text":
		return ParamString, true
	case "enum", "choice":
		return ParamEnum, true
	case "bool", "boolean":
		return ParamBool, true
	case "int", "integer", "number":
		return ParamInt, true
	case "list", "array":
		return ParamList, true
	default:
		return "", false
	}
}

// ParameterSpec declares one parameter of a capability
type ParameterSpec struct {
	Name          string    `json:"name" yaml:"name"`
	Type          ParamType `json:"type" yaml:"type"`
	Required      bool      `json:"required" yaml:"required"`
	Default       any       `json:"default,omitempty" yaml:"default,omitempty"` // nil means no default
	AllowedValues []string  `json:"allowed_values,omitempty" yaml:"allowed_values,omitempty"`
	Description   string    `json:"description,omitempty" yaml:"description,omitempty"`
}

// HasDefault reports whether a default value is declared
func (p ParameterSpec) HasDefault() bool {
	return p.Default != nil
}

// Allows reports whether v is permitted by AllowedValues. An empty set allows
// everything.
func (p ParameterSpec) Allows(v string) bool {
	if len(p.AllowedValues) == 0 {
		return true
	}
	for _, allowed := range p.AllowedValues {
		if allowed == v {
			return true
		}
	}
	return false
}

// BondType is the strength of a bond between two descriptors
type BondType string

// Bond types
const (
	BondPrimary   BondType = "primary"
	BondSecondary BondType = "secondary"
)

// ParseBondType accepts both the short names and the PRIMARY_BOND /
// SECONDARY_BOND spelling used in skill frontmatter.
func ParseBondType(s string) (BondType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "primary", "primary_bond":
		return BondPrimary, true
	case "", "secondary", "secondary_bond":
		return BondSecondary, true
	default:
		return "", false
	}
}

// Bond is a directed edge from a descriptor to another descriptor
type Bond struct {
	TargetID string   `json:"target_id" yaml:"target_id"`
	Type     BondType `json:"type" yaml:"type"`
}

// FlowKind selects how a matched capability is expanded into a plan
type FlowKind string

// Flow kinds
const (
	FlowSingle             FlowKind = "single"
	FlowSequential         FlowKind = "sequential"
	FlowOrchestratorWorker FlowKind = "orchestrator_worker"
)

// ParseFlowKind converts a frontmatter flow name to a FlowKind. An empty
// string yields FlowSingle.
func ParseFlowKind(s string) (FlowKind, bool) {
	normalized := strings.ToLower(strings.TrimSpace(s))
	normalized = strings.NewReplacer("-", "_", " ", "_").Replace(normalized)
	switch normalized {
	case "", "single":
		return FlowSingle, true
	case "sequential", "sequential_chain", "chain":
		return FlowSequential, true
	case "orchestrator_worker", "orchestrator":
		return FlowOrchestratorWorker, true
	default:
		return "", false
	}
}

// Descriptor describes one invokable skill, agent or command
type Descriptor struct {
	ID                 string          `json:"id" yaml:"id"`
	Kind               Kind            `json:"kind" yaml:"kind"`
	Description        string          `json:"description" yaml:"description"`
	ActivationTriggers []string        `json:"activation_triggers,omitempty" yaml:"activation_triggers,omitempty"`
	ParameterSchema    []ParameterSpec `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Bonds              []Bond          `json:"bonds,omitempty" yaml:"bonds,omitempty"` // declaration order is significant
	Flow               FlowKind        `json:"flow,omitempty" yaml:"flow,omitempty"`
	Version            string          `json:"version,omitempty" yaml:"version,omitempty"`

	Content string `json:"-" yaml:"-"` // Markdown body, opaque to the engine
	Path    string `json:"path,omitempty" yaml:"path,omitempty"`
}

// PrimaryBond returns the primary bond, if any
func (d *Descriptor) PrimaryBond() (Bond, bool) {
	for _, b := range d.Bonds {
		if b.Type == BondPrimary {
			return b, true
		}
	}
	return Bond{}, false
}

// FlowOrDefault returns the declared flow, falling back to FlowSingle
func (d *Descriptor) FlowOrDefault() FlowKind {
	if d.Flow == "" {
		return FlowSingle
	}
	return d.Flow
}

// Param returns the parameter spec with the given name
func (d *Descriptor) Param(name string) (ParameterSpec, bool) {
	for _, p := range d.ParameterSchema {
		if p.Name == name {
			return p, true
		}
	}
	return ParameterSpec{}, false
}
