// Package bonds answers questions about the bond graph of a built registry:
// which agent a skill is primarily bonded to, every bond it declares, and
// which descriptors bond to a given agent.
package bonds

import (
	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/registry"
	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/types/capability"
)

// Edge is one resolved bond
type Edge struct {
	AgentID  string              `json:"agent_id" yaml:"agent_id"`
	BondType capability.BondType `json:"bond_type" yaml:"bond_type"`
}

// Resolver queries the bond indexes of a registry. Bonds are validated when
// the registry is built, so queries never fail.
type Resolver struct {
	reg *registry.Registry
}

// NewResolver creates a Resolver over reg
func NewResolver(reg *registry.Registry) *Resolver {
	return &Resolver{reg: reg}
}

// ResolvePrimary returns the target of id's primary bond
func (r *Resolver) ResolvePrimary(id string) (string, bool) {
	for _, b := range r.reg.Bonds(id) {
		if b.Type == capability.BondPrimary {
			return b.TargetID, true
		}
	}
	return "", false
}

// ResolveAll returns every bond declared by id in declaration order
func (r *Resolver) ResolveAll(id string) []Edge {
	declared := r.reg.Bonds(id)
	if len(declared) == 0 {
		return nil
	}
	edges := make([]Edge, len(declared))
	for i, b := range declared {
		edges[i] = Edge{AgentID: b.TargetID, BondType: b.Type}
	}
	return edges
}

// ReverseLookup returns the sorted ids of descriptors bonded to agentID
func (r *Resolver) ReverseLookup(agentID string) []string {
	return r.reg.BondedTo(agentID)
}

// Targets returns the ids of every bond target of id in declaration order
func (r *Resolver) Targets(id string) []string {
	declared := r.reg.Bonds(id)
	if len(declared) == 0 {
		return nil
	}
	ids := make([]string, len(declared))
	for i, b := range declared {
		ids[i] = b.TargetID
	}
	return ids
}
