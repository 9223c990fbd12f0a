package presenter

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/types/capability"
)

func newTestPresenter() (*TerminalPresenter, *bytes.Buffer, *bytes.Buffer) {
	var out, errOut bytes.Buffer
	return NewWithOptions(&out, &errOut, ColorNever), &out, &errOut
}

func TestMessages(t *testing.T) {
	p, out, errOut := newTestPresenter()

	p.Success("loaded 3 capabilities")
	p.Warning("1 descriptor skipped")
	p.Info("plain")
	p.Section("Plan")
	p.Error(errors.New("boom"), "resolve failed")
	p.Error(nil, "ignored")

	assert.Equal(t, "✓ loaded 3 capabilities\n⚠ 1 descriptor skipped\nplain\nPlan\n----\n", out.String())
	assert.Equal(t, "[ERROR] resolve failed: boom\n", errOut.String())
}

func TestQuiet(t *testing.T) {
	p, out, errOut := newTestPresenter()
	p.SetQuiet(true)
	assert.True(t, p.IsQuiet())

	p.Success("hidden")
	p.Info("hidden")
	p.Results([]capability.Result{{StepIndex: 0, DescriptorID: "a", Output: "hidden"}})
	p.Error(errors.New("shown"), "")

	assert.Empty(t, out.String())
	assert.Equal(t, "[ERROR] shown\n", errOut.String())
}

func TestCandidates(t *testing.T) {
	p, out, _ := newTestPresenter()
	p.Candidates([]capability.MatchCandidate{
		{DescriptorID: "rag-systems", Score: 7, MatchedTriggers: []string{"rag", "embeddings"}},
		{DescriptorID: "agent-memory", Score: 1},
	})

	assert.Equal(t,
		" 1. rag-systems  score=7  triggers=rag, embeddings\n 2. agent-memory  score=1\n",
		out.String())
}

func TestResults(t *testing.T) {
	p, out, _ := newTestPresenter()
	p.Results([]capability.Result{
		{StepIndex: 0, DescriptorID: "assess", Output: "score: 80\n"},
		{StepIndex: 1, DescriptorID: "mentor", Output: "next: memory"},
	})

	assert.Equal(t,
		"Step 0: assess\n--------------\nscore: 80\n\nStep 1: mentor\n--------------\nnext: memory\n\n",
		out.String())
}
