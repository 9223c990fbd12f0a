package registry

import (
	"sort"
	"strings"

	"github.com/gobwas/glob"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"golang.org/x/mod/semver"

	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/types/capability"
)

// Builder accumulates descriptors and produces an immutable Registry.
// A Builder is not safe for concurrent use.
type Builder struct {
	entries   map[string]*capability.Descriptor
	byTrigger map[string]map[string]struct{}
	reverse   map[string]map[string]struct{}
	allowlist []glob.Glob
}

// Option configures a Builder
type Option func(*Builder) error

// WithAllowlist restricts the built registry to descriptors whose id matches
// one of the glob patterns, plus every descriptor they bond to. An empty
// list keeps everything.
func WithAllowlist(patterns ...string) Option {
	return func(b *Builder) error {
		for _, p := range patterns {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			g, err := glob.Compile(p)
			if err != nil {
				return errors.Wrapf(err, "invalid allowlist pattern '%s'", p)
			}
			b.allowlist = append(b.allowlist, g)
		}
		return nil
	}
}

// NewBuilder creates an empty Builder
func NewBuilder(opts ...Option) (*Builder, error) {
	b := &Builder{
		entries:   make(map[string]*capability.Descriptor),
		byTrigger: make(map[string]map[string]struct{}),
		reverse:   make(map[string]map[string]struct{}),
	}
	for _, opt := range opts {
		if err := opt(b); err != nil {
			return nil, errors.Wrap(err, "failed to apply registry option")
		}
	}
	return b, nil
}

// Register adds d to the builder. Registering an id that already exists
// fails with ErrDuplicateID unless d carries a strictly greater version, in
// which case d replaces the earlier entry and its index rows.
func (b *Builder) Register(d capability.Descriptor) error {
	d = normalize(d)
	if err := checkDescriptor(&d); err != nil {
		return err
	}

	if existing, ok := b.entries[d.ID]; ok {
		if compareVersions(d.Version, existing.Version) <= 0 {
			return errors.Wrapf(capability.ErrDuplicateID,
				"descriptor '%s' version %q does not supersede registered version %q",
				d.ID, d.Version, existing.Version)
		}
		b.unindex(existing)
	}

	entry := clone(d)
	b.entries[entry.ID] = entry
	b.index(entry)
	return nil
}

// Build validates every bond and returns the finished Registry. When any
// bond points at an unknown descriptor no registry is returned.
func (b *Builder) Build() (*Registry, error) {
	included := b.included()

	var result *multierror.Error
	ids := make([]string, 0, len(included))
	for id := range included {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		for _, bond := range b.entries[id].Bonds {
			if _, ok := b.entries[bond.TargetID]; !ok {
				result = multierror.Append(result, errors.Wrapf(capability.ErrInvalidBond,
					"descriptor '%s' bonds to unknown descriptor '%s'", id, bond.TargetID))
			}
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}

	r := &Registry{
		descriptors: make(map[string]*capability.Descriptor, len(ids)),
		ordered:     make([]*capability.Descriptor, 0, len(ids)),
		byTrigger:   make(map[string][]string, len(b.byTrigger)),
		reverse:     make(map[string][]string, len(b.reverse)),
	}
	for _, id := range ids {
		d := clone(*b.entries[id])
		r.descriptors[id] = d
		r.ordered = append(r.ordered, d)
	}
	for trigger, set := range b.byTrigger {
		if kept := filterSet(set, included); len(kept) > 0 {
			r.byTrigger[trigger] = kept
		}
	}
	for target, set := range b.reverse {
		if _, ok := included[target]; !ok {
			continue
		}
		if kept := filterSet(set, included); len(kept) > 0 {
			r.reverse[target] = kept
		}
	}
	return r, nil
}

// included resolves the allowlist, pulling in bond targets transitively
func (b *Builder) included() map[string]struct{} {
	out := make(map[string]struct{}, len(b.entries))
	if len(b.allowlist) == 0 {
		for id := range b.entries {
			out[id] = struct{}{}
		}
		return out
	}

	var queue []string
	for id := range b.entries {
		for _, g := range b.allowlist {
			if g.Match(id) {
				out[id] = struct{}{}
				queue = append(queue, id)
				break
			}
		}
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, bond := range b.entries[id].Bonds {
			if _, known := b.entries[bond.TargetID]; !known {
				continue
			}
			if _, seen := out[bond.TargetID]; !seen {
				out[bond.TargetID] = struct{}{}
				queue = append(queue, bond.TargetID)
			}
		}
	}
	return out
}

func (b *Builder) index(d *capability.Descriptor) {
	for _, t := range d.ActivationTriggers {
		key := normalizeTrigger(t)
		if key == "" {
			continue
		}
		if b.byTrigger[key] == nil {
			b.byTrigger[key] = make(map[string]struct{})
		}
		b.byTrigger[key][d.ID] = struct{}{}
	}
	for _, bond := range d.Bonds {
		if b.reverse[bond.TargetID] == nil {
			b.reverse[bond.TargetID] = make(map[string]struct{})
		}
		b.reverse[bond.TargetID][d.ID] = struct{}{}
	}
}

func (b *Builder) unindex(d *capability.Descriptor) {
	for _, t := range d.ActivationTriggers {
		key := normalizeTrigger(t)
		delete(b.byTrigger[key], d.ID)
		if len(b.byTrigger[key]) == 0 {
			delete(b.byTrigger, key)
		}
	}
	for _, bond := range d.Bonds {
		delete(b.reverse[bond.TargetID], d.ID)
		if len(b.reverse[bond.TargetID]) == 0 {
			delete(b.reverse, bond.TargetID)
		}
	}
}

func normalize(d capability.Descriptor) capability.Descriptor {
	d.ID = strings.TrimSpace(d.ID)
	d.Version = strings.TrimSpace(d.Version)
	if d.Flow == "" {
		d.Flow = capability.FlowSingle
	}
	return d
}

func checkDescriptor(d *capability.Descriptor) error {
	if d.ID == "" {
		return errors.Wrap(capability.ErrInvalidDescriptor, "descriptor id is required")
	}
	if !d.Kind.Valid() {
		return errors.Wrapf(capability.ErrInvalidDescriptor, "descriptor '%s' has unknown kind '%s'", d.ID, d.Kind)
	}
	if _, ok := capability.ParseFlowKind(string(d.Flow)); !ok {
		return errors.Wrapf(capability.ErrInvalidDescriptor, "descriptor '%s' has unknown flow '%s'", d.ID, d.Flow)
	}

	seenParams := make(map[string]struct{}, len(d.ParameterSchema))
	for _, p := range d.ParameterSchema {
		if p.Name == "" {
			return errors.Wrapf(capability.ErrInvalidDescriptor, "descriptor '%s' has a parameter without a name", d.ID)
		}
		if _, dup := seenParams[p.Name]; dup {
			return errors.Wrapf(capability.ErrInvalidDescriptor, "descriptor '%s' declares parameter '%s' twice", d.ID, p.Name)
		}
		seenParams[p.Name] = struct{}{}
		if _, ok := capability.ParseParamType(string(p.Type)); !ok {
			return errors.Wrapf(capability.ErrInvalidDescriptor, "descriptor '%s' parameter '%s' has unknown type '%s'", d.ID, p.Name, p.Type)
		}
		if p.Type == capability.ParamEnum && len(p.AllowedValues) == 0 {
			return errors.Wrapf(capability.ErrInvalidDescriptor, "descriptor '%s' enum parameter '%s' declares no allowed values", d.ID, p.Name)
		}
	}

	primaries := 0
	seenTargets := make(map[string]struct{}, len(d.Bonds))
	for _, bond := range d.Bonds {
		if bond.TargetID == "" {
			return errors.Wrapf(capability.ErrInvalidBond, "descriptor '%s' declares a bond without a target", d.ID)
		}
		if bond.TargetID == d.ID {
			return errors.Wrapf(capability.ErrInvalidBond, "descriptor '%s' bonds to itself", d.ID)
		}
		if _, dup := seenTargets[bond.TargetID]; dup {
			return errors.Wrapf(capability.ErrInvalidBond, "descriptor '%s' bonds to '%s' more than once", d.ID, bond.TargetID)
		}
		seenTargets[bond.TargetID] = struct{}{}
		switch bond.Type {
		case capability.BondPrimary:
			primaries++
		case capability.BondSecondary:
		default:
			return errors.Wrapf(capability.ErrInvalidBond, "descriptor '%s' bond to '%s' has unknown type '%s'", d.ID, bond.TargetID, bond.Type)
		}
	}
	if primaries > 1 {
		return errors.Wrapf(capability.ErrMultiplePrimaryBonds, "descriptor '%s'", d.ID)
	}
	return nil
}

// compareVersions compares two semantic versions. The leading "v" is
// optional; empty or malformed versions sort below every valid one.
func compareVersions(a, b string) int {
	return semver.Compare(canonicalVersion(a), canonicalVersion(b))
}

func canonicalVersion(v string) string {
	if v == "" {
		return ""
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}

func clone(d capability.Descriptor) *capability.Descriptor {
	out := d
	out.ActivationTriggers = cloneStrings(d.ActivationTriggers)
	if d.ParameterSchema != nil {
		out.ParameterSchema = make([]capability.ParameterSpec, len(d.ParameterSchema))
		for i, p := range d.ParameterSchema {
			p.AllowedValues = cloneStrings(p.AllowedValues)
			out.ParameterSchema[i] = p
		}
	}
	if d.Bonds != nil {
		out.Bonds = make([]capability.Bond, len(d.Bonds))
		copy(out.Bonds, d.Bonds)
	}
	return &out
}

func filterSet(set map[string]struct{}, keep map[string]struct{}) []string {
	filtered := make(map[string]struct{}, len(set))
	for id := range set {
		if _, ok := keep[id]; ok {
			filtered[id] = struct{}{}
		}
	}
	if len(filtered) == 0 {
		return nil
	}
	return sortedKeys(filtered)
}

// Build registers every descriptor and builds the registry in one pass.
// All registration errors are reported together; if there are any no
// registry is returned.
func Build(descriptors []capability.Descriptor, opts ...Option) (*Registry, error) {
	b, err := NewBuilder(opts...)
	if err != nil {
		return nil, err
	}

	var result *multierror.Error
	for _, d := range descriptors {
		if err := b.Register(d); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}
	return b.Build()
}
