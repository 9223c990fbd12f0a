package capability

// MatchCandidate is one scored descriptor for a single request
type MatchCandidate struct {
	DescriptorID    string   `json:"descriptor_id" yaml:"descriptor_id"`
	Score           int      `json:"score" yaml:"score"`
	MatchedTriggers []string `json:"matched_triggers,omitempty" yaml:"matched_triggers,omitempty"`
}

// StepRole describes the part a step plays within its plan
type StepRole string

// Step roles
const (
	RoleStep        StepRole = "step"
	RoleCoordinator StepRole = "coordinator"
	RoleWorker      StepRole = "worker"
)

// Step is one entry of an invocation plan
type Step struct {
	Index        int            `json:"index" yaml:"index"`
	DescriptorID string         `json:"descriptor_id" yaml:"descriptor_id"`
	Role         StepRole       `json:"role" yaml:"role"`
	Parameters   map[string]any `json:"parameters" yaml:"parameters"`
}

// Plan is the ordered list of steps to execute for one request. It only
// references descriptors by id. Generation identifies the registry snapshot
// the plan was built from; zero means the plan is not tied to one.
type Plan struct {
	ID         string   `json:"id" yaml:"id"`
	Flow       FlowKind `json:"flow" yaml:"flow"`
	Input      string   `json:"input,omitempty" yaml:"input,omitempty"`
	Generation uint64   `json:"generation,omitempty" yaml:"generation,omitempty"`
	Steps      []Step   `json:"steps" yaml:"steps"`
}

// DescriptorIDs returns the descriptor id of every step in plan order
func (p *Plan) DescriptorIDs() []string {
	ids := make([]string, len(p.Steps))
	for i, s := range p.Steps {
		ids[i] = s.DescriptorID
	}
	return ids
}

// Result is the opaque output of one executed step
type Result struct {
	StepIndex    int            `json:"step_index" yaml:"step_index"`
	DescriptorID string         `json:"descriptor_id" yaml:"descriptor_id"`
	Output       string         `json:"output" yaml:"output"`
	Metadata     map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}
