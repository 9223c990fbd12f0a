package matcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/types/capability"
)

type staticCatalog []*capability.Descriptor

func (c staticCatalog) All() []*capability.Descriptor { return c }

func TestMatchToolCalling(t *testing.T) {
	m := New(staticCatalog{
		{ID: "tool-calling", Kind: capability.KindSkill, ActivationTriggers: []string{"function calling", "tool use"}},
	})

	got := m.Match("help me add tool use to my agent")
	require.Len(t, got, 1)
	assert.Equal(t, "tool-calling", got[0].DescriptorID)
	assert.GreaterOrEqual(t, got[0].Score, 2)
	assert.Equal(t, []string{"tool use"}, got[0].MatchedTriggers)
}

func TestMatchEmptyInput(t *testing.T) {
	m := New(staticCatalog{
		{ID: "anything", Kind: capability.KindSkill, ActivationTriggers: []string{""}, Description: "matches everything"},
	})

	assert.Empty(t, m.Match(""))
	assert.Empty(t, m.Match("   \t\n"))
}

func TestMatchScoring(t *testing.T) {
	m := New(staticCatalog{
		{
			ID:                 "rag-systems",
			Kind:               capability.KindSkill,
			Description:        "Retrieval augmented generation with vector databases",
			ActivationTriggers: []string{"RAG", "vector database", "embeddings"},
		},
		{
			ID:          "agent-memory",
			Kind:        capability.KindSkill,
			Description: "Short and long term memory for agents",
		},
		{
			ID:                 "llm-integration",
			Kind:               capability.KindSkill,
			Description:        "Calling LLM provider APIs",
			ActivationTriggers: []string{"openai", "anthropic"},
		},
	})

	got := m.Match("Set up a RAG pipeline over my Vector Database, with embeddings")
	require.Len(t, got, 1)
	assert.Equal(t, "rag-systems", got[0].DescriptorID)
	// three triggers plus the description overlap on "vector"
	assert.Equal(t, 7, got[0].Score)
	assert.Equal(t, []string{"RAG", "vector database", "embeddings"}, got[0].MatchedTriggers)

	got = m.Match("which vector store should my agents use?")
	require.Len(t, got, 2)
	assert.Equal(t, "agent-memory", got[0].DescriptorID)
	assert.Equal(t, 1, got[0].Score)
	assert.Empty(t, got[0].MatchedTriggers)
	assert.Equal(t, "rag-systems", got[1].DescriptorID)
}

func TestMatchTieBreak(t *testing.T) {
	m := New(staticCatalog{
		{ID: "b-command", Kind: capability.KindCommand, ActivationTriggers: []string{"roadmap"}},
		{ID: "a-agent", Kind: capability.KindAgent, ActivationTriggers: []string{"roadmap"}},
		{ID: "z-skill", Kind: capability.KindSkill, ActivationTriggers: []string{"roadmap"}},
		{ID: "y-skill", Kind: capability.KindSkill, ActivationTriggers: []string{"roadmap"}},
	})

	got := m.Match("show me the roadmap")
	var ids []string
	for _, c := range got {
		ids = append(ids, c.DescriptorID)
	}
	assert.Equal(t, []string{"y-skill", "z-skill", "a-agent", "b-command"}, ids)

	// stable across calls
	assert.Equal(t, got, m.Match("show me the roadmap"))
}

func TestMatchShortTokensIgnored(t *testing.T) {
	catalog := staticCatalog{
		{ID: "basics", Kind: capability.KindSkill, Description: "an intro to agents"},
	}

	assert.Empty(t, New(catalog, WithMinTokenLength(3)).Match("to an"))
	assert.Len(t, New(catalog).Match("to an"), 1, "every token counts by default")
}

func TestMatchDescriptionRequiresWholeWord(t *testing.T) {
	m := New(staticCatalog{
		{ID: "basics", Kind: capability.KindSkill, Description: "Agentic workflows"},
	})

	assert.Empty(t, m.Match("agent"))
	assert.Len(t, m.Match("agentic"), 1)
}

func TestMatchLimit(t *testing.T) {
	catalog := staticCatalog{
		{ID: "a", Kind: capability.KindSkill, ActivationTriggers: []string{"deploy"}},
		{ID: "b", Kind: capability.KindSkill, ActivationTriggers: []string{"deploy", "kubernetes"}},
		{ID: "c", Kind: capability.KindSkill, ActivationTriggers: []string{"deploy"}},
	}

	got := New(catalog, WithLimit(2)).Match("deploy to kubernetes")
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].DescriptorID)
	assert.Equal(t, "a", got[1].DescriptorID)
}

func TestMatchCache(t *testing.T) {
	catalog := staticCatalog{
		{ID: "k8s-deploy", Kind: capability.KindSkill, ActivationTriggers: []string{"deploy"}},
	}
	m := New(catalog, WithCacheSize(8))

	first := m.Match("  Deploy the app ")
	require.Len(t, first, 1)
	assert.Equal(t, 1, m.cache.Len())

	// Mutating a returned slice must not leak into later results
	first[0].MatchedTriggers[0] = "changed"
	first[0].Score = 100

	second := m.Match("deploy the app")
	require.Len(t, second, 1)
	assert.Equal(t, []string{"deploy"}, second[0].MatchedTriggers)
	assert.Equal(t, 2, second[0].Score)
	assert.Equal(t, 1, m.cache.Len())

	assert.Nil(t, New(catalog, WithCacheSize(0)).cache)
}
