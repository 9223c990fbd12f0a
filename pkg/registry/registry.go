// Package registry indexes capability descriptors by id, activation trigger
// and bond. A Registry is immutable once built; reloading means building a
// new one from scratch with a Builder.
package registry

import (
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/types/capability"
)

// Registry is a read-only, fully validated set of capability descriptors.
// It is safe for concurrent use.
type Registry struct {
	descriptors map[string]*capability.Descriptor
	ordered     []*capability.Descriptor
	byTrigger   map[string][]string
	reverse     map[string][]string
}

// Lookup returns the descriptor registered under id. The returned value is
// shared and must not be modified.
func (r *Registry) Lookup(id string) (*capability.Descriptor, error) {
	d, ok := r.descriptors[id]
	if !ok {
		return nil, errors.Wrapf(capability.ErrNotFound, "descriptor '%s'", id)
	}
	return d, nil
}

// Has reports whether id is registered
func (r *Registry) Has(id string) bool {
	_, ok := r.descriptors[id]
	return ok
}

// All returns every descriptor sorted by id
func (r *Registry) All() []*capability.Descriptor {
	out := make([]*capability.Descriptor, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Len returns the number of registered descriptors
func (r *Registry) Len() int {
	return len(r.ordered)
}

// LookupByTrigger returns the ids of descriptors declaring keyword as an
// activation trigger, sorted. Matching ignores case and surrounding space.
func (r *Registry) LookupByTrigger(keyword string) []string {
	return cloneStrings(r.byTrigger[normalizeTrigger(keyword)])
}

// Bonds returns the bonds declared by id in declaration order
func (r *Registry) Bonds(id string) []capability.Bond {
	d, ok := r.descriptors[id]
	if !ok || len(d.Bonds) == 0 {
		return nil
	}
	out := make([]capability.Bond, len(d.Bonds))
	copy(out, d.Bonds)
	return out
}

// BondedTo returns the sorted ids of descriptors that declare a bond to id
func (r *Registry) BondedTo(id string) []string {
	return cloneStrings(r.reverse[id])
}

func normalizeTrigger(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func cloneStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
