// Package orchestrator turns ranked match candidates into invocation plans
// and executes them step by step through an external Invoker.
//
// Plans are fully validated before any step runs. Execution is strictly
// sequential and stops at the first failing step.
package orchestrator

import (
	"context"

	"github.com/pkg/errors"

	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/types/capability"
)

// WorkersParam is the coordinator parameter that selects a subset of the
// coordinator's bonded descriptors as workers
const WorkersParam = "workers"

// ErrNoCandidates is returned when a plan is requested for an empty
// candidate list
var ErrNoCandidates = errors.New("no candidates to plan")

// Catalog resolves descriptor ids. *registry.Registry satisfies it.
type Catalog interface {
	Lookup(id string) (*capability.Descriptor, error)
}

// BondGraph answers bond queries for plan building and execution.
// *bonds.Resolver satisfies it.
type BondGraph interface {
	// Targets lists the bond targets of id in declaration order
	Targets(id string) []string
	// ResolvePrimary returns the primary bond target of id
	ResolvePrimary(id string) (string, bool)
}

// Invocation is everything an Invoker gets for one plan step
type Invocation struct {
	PlanID      string
	Input       string
	Step        capability.Step
	Descriptor  *capability.Descriptor
	// BondedAgent is the primary bond target of Descriptor, whose persona
	// the step runs with. Nil when the descriptor has no primary bond.
	BondedAgent *capability.Descriptor
	Previous    []capability.Result // results of every earlier step, in order
}

// Invoker runs one plan step, typically by calling an LLM
type Invoker interface {
	Invoke(ctx context.Context, inv Invocation) (capability.Result, error)
}

// InvokerFunc adapts a function to the Invoker interface
type InvokerFunc func(ctx context.Context, inv Invocation) (capability.Result, error)

// Invoke calls f(ctx, inv)
func (f InvokerFunc) Invoke(ctx context.Context, inv Invocation) (capability.Result, error) {
	return f(ctx, inv)
}

// Coordinator builds and executes invocation plans
type Coordinator struct {
	catalog Catalog
	bonds   BondGraph
	invoker Invoker
}

// New creates a Coordinator
func New(catalog Catalog, bonds BondGraph, invoker Invoker) *Coordinator {
	return &Coordinator{
		catalog: catalog,
		bonds:   bonds,
		invoker: invoker,
	}
}
